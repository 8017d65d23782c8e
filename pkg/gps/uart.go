// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2026 Kaz Walker, Thermoquad

package gps

import (
	"context"
	"fmt"
	"io"
	"time"

	"go.bug.st/serial"
)

// UART is the receiver's transmit side. go.bug.st/serial ports satisfy it.
type UART interface {
	io.Writer
	SetMode(mode *serial.Mode) error
}

// Receiver configuration sentences
var (
	sentenceConstellations = []byte("$PCAS04,7*1E\r\n")
	sentenceOutputs        = []byte("$PCAS03,1,0,0,0,1,0,0,0,0,0,,,0,0*02\r\n")
	sentenceBaud115200     = []byte("$PCAS01,5*19\r\n")
	sentenceRate5Hz        = []byte("$PCAS02,500*1A\r\n")
	sentenceWarmRestart    = []byte("$PCAS10,1*1D\r\n")
)

// Baud rates used during configuration
const (
	BootBaud = 9600
	RunBaud  = 115200
)

const (
	writeAttempts = 3
	writeBackoff  = 10 * time.Millisecond
	settleDelay   = 1500 * time.Millisecond
	rateRepeats   = 4
	rateInterval  = 100 * time.Millisecond
)

// Configure brings the receiver from its boot defaults to the tracking
// setup: constellations and outputs at 9600 baud, then 115200 baud at 5 Hz.
func (m *Machine) Configure(ctx context.Context) error {
	if err := m.setPower(true); err != nil {
		return err
	}
	m.poweredOn = true
	if err := m.sleep(ctx, powerOnDelay); err != nil {
		return err
	}

	if err := m.uart.SetMode(&serial.Mode{BaudRate: BootBaud}); err != nil {
		return fmt.Errorf("failed to set %d baud: %w", BootBaud, err)
	}
	m.write(ctx, sentenceConstellations)
	m.write(ctx, sentenceOutputs)
	if err := m.sleep(ctx, settleDelay); err != nil {
		return err
	}
	m.write(ctx, sentenceBaud115200)
	if err := m.sleep(ctx, settleDelay); err != nil {
		return err
	}

	if err := m.uart.SetMode(&serial.Mode{BaudRate: RunBaud}); err != nil {
		return fmt.Errorf("failed to set %d baud: %w", RunBaud, err)
	}
	for i := 0; i < rateRepeats; i++ {
		m.write(ctx, sentenceRate5Hz)
		if err := m.sleep(ctx, rateInterval); err != nil {
			return err
		}
	}

	m.parser.RequestReset()
	m.logger.Info("GPS UART configured", "baud", RunBaud)
	return nil
}

// write sends data to the receiver. Write errors are transient: they are
// logged and retried a few times, never returned.
func (m *Machine) write(ctx context.Context, data []byte) {
	failures := 0
	for len(data) > 0 {
		n, err := m.uart.Write(data)
		data = data[n:]
		if n > 0 && err == nil {
			continue
		}
		failures++
		if err != nil {
			m.logger.Warn("GPS UART write error", "error", err, "attempt", failures)
		}
		if failures >= writeAttempts {
			m.logger.Warn("GPS UART write abandoned", "remaining", len(data))
			return
		}
		if m.sleep(ctx, writeBackoff) != nil {
			return
		}
	}
}
