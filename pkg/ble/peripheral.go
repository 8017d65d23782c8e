// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2026 Kaz Walker, Thermoquad

// Package ble hosts the connectable file-transfer peripheral and drives
// the radio for the offline-finding beacons.
package ble

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/Thermoquad/meridian/pkg/advsched"
	"github.com/Thermoquad/meridian/pkg/protocol"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/smallnest/ringbuffer"
)

// Advertising windows and identity
const (
	DeviceName  = "MGT GPS Tracker"
	BootWindow  = 30 * time.Second
	FastWindow  = 5 * time.Second
	RXBufferLen = 4096
)

var (
	connectionsMetric = promauto.NewCounter(prometheus.CounterOpts{
		Name: "ble_connections",
		Help: "Central connections accepted by the file-transfer peripheral",
	})
	rxDroppedMetric = promauto.NewCounter(prometheus.CounterOpts{
		Name: "ble_rx_dropped_bytes",
		Help: "Received bytes dropped because the RX buffer was full",
	})
)

// Connectable starts and stops the connectable advertising set
type Connectable interface {
	StartConnectable() error
	StopConnectable() error
}

// Notifier pushes one notification on the TX characteristic
type Notifier func(chunk []byte) error

// PeripheralConfig wires a Peripheral
type PeripheralConfig struct {
	Scheduler *advsched.Scheduler
	Radio     Connectable
	Notify    Notifier
	Session   protocol.Config
	MTU       int
	Logger    *slog.Logger
}

// Peripheral runs the connectable side: advertising windows under the
// scheduler, and one protocol session per connection
type Peripheral struct {
	sched  *advsched.Scheduler
	radio  Connectable
	notify Notifier
	scfg   protocol.Config
	logger *slog.Logger

	bootWindow time.Duration
	fastWindow time.Duration

	requests chan time.Duration
	events   chan bool
	rxReady  chan struct{}

	mu        sync.Mutex
	rx        *ringbuffer.RingBuffer
	mtu       int
	connected bool
}

// NewPeripheral creates a peripheral with the boot advertising window
// already requested
func NewPeripheral(cfg PeripheralConfig) *Peripheral {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	mtu := cfg.MTU
	if mtu <= 0 {
		mtu = protocol.DefaultATTMTU
	}
	p := &Peripheral{
		sched:      cfg.Scheduler,
		radio:      cfg.Radio,
		notify:     cfg.Notify,
		scfg:       cfg.Session,
		logger:     logger.With("component", "ble"),
		bootWindow: BootWindow,
		fastWindow: FastWindow,
		requests:   make(chan time.Duration, 1),
		events:     make(chan bool, 4),
		rxReady:    make(chan struct{}, 1),
		rx:         ringbuffer.New(RXBufferLen),
		mtu:        mtu,
	}
	// zero selects the boot window once Run starts
	p.requests <- 0
	return p
}

// RequestFastAdvertising asks for a short connectable window, as after
// a motion jump or a button press. It is a no-op while a request is
// already pending.
func (p *Peripheral) RequestFastAdvertising() {
	select {
	case p.requests <- p.fastWindow:
	default:
	}
}

// Connected reports whether a central is connected
func (p *Peripheral) Connected() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.connected
}

// HandleConnect is called by the radio on connection changes
func (p *Peripheral) HandleConnect(connected bool) {
	p.mu.Lock()
	p.connected = connected
	p.mu.Unlock()
	select {
	case p.events <- connected:
	default:
		p.logger.Warn("connection event dropped", "connected", connected)
	}
}

// SetMTU records the negotiated ATT MTU
func (p *Peripheral) SetMTU(mtu int) {
	p.mu.Lock()
	p.mtu = mtu
	p.mu.Unlock()
}

// HandleWrite is called by the radio for each RX characteristic write.
// It never blocks; bytes that do not fit are dropped.
func (p *Peripheral) HandleWrite(data []byte) {
	p.mu.Lock()
	free := p.rx.Free()
	if free < len(data) {
		rxDroppedMetric.Add(float64(len(data) - free))
		p.logger.Warn("RX buffer full, dropping bytes", "dropped", len(data)-free)
		data = data[:free]
	}
	if len(data) > 0 {
		_, _ = p.rx.Write(data)
	}
	p.mu.Unlock()

	select {
	case p.rxReady <- struct{}{}:
	default:
	}
}

// Run serves advertising windows and connections until ctx is cancelled
func (p *Peripheral) Run(ctx context.Context) error {
	for {
		var window time.Duration
		select {
		case <-ctx.Done():
			return ctx.Err()
		case window = <-p.requests:
		}
		if window == 0 {
			window = p.bootWindow
		}
		if err := p.advertise(ctx, window); err != nil {
			return err
		}
	}
}

// advertise holds MainAdv for one window and, if a central connects,
// for the whole connection
func (p *Peripheral) advertise(ctx context.Context, window time.Duration) error {
	guard, err := p.sched.Acquire(ctx, advsched.MainAdv)
	if err != nil {
		return err
	}
	defer guard.Release()

	for {
		p.drainEvents()
		if err := p.radio.StartConnectable(); err != nil {
			p.logger.Warn("connectable advertising failed to start", "error", err)
			return nil
		}
		p.logger.Info("advertising", "window", window)

		connected, err := p.waitConnect(ctx, window)
		if stopErr := p.radio.StopConnectable(); stopErr != nil {
			p.logger.Debug("stop advertising", "error", stopErr)
		}
		if err != nil {
			return err
		}
		if !connected {
			p.logger.Info("advertising window ended")
			return nil
		}

		connectionsMetric.Inc()
		p.logger.Info("central connected")
		if err := p.serve(ctx); err != nil {
			return err
		}
		p.logger.Info("central disconnected")

		// Let the host reconnect without another trigger
		window = p.bootWindow
	}
}

func (p *Peripheral) drainEvents() {
	for {
		select {
		case <-p.events:
		default:
			return
		}
	}
}

func (p *Peripheral) waitConnect(ctx context.Context, window time.Duration) (bool, error) {
	t := time.NewTimer(window)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return false, ctx.Err()
		case <-t.C:
			return false, nil
		case c := <-p.events:
			if c {
				return true, nil
			}
		}
	}
}

// serve runs one protocol session until the central disconnects
func (p *Peripheral) serve(ctx context.Context) error {
	p.mu.Lock()
	p.rx.Reset()
	p.mu.Unlock()
	session := protocol.NewSession(p.scfg)

	buf := make([]byte, 512)
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case c := <-p.events:
			if !c {
				return nil
			}
		case <-p.rxReady:
			for {
				p.mu.Lock()
				n, _ := p.rx.Read(buf)
				mtu := p.mtu
				p.mu.Unlock()
				if n == 0 {
					break
				}
				for _, resp := range session.Feed(buf[:n]) {
					if err := protocol.Send(resp, mtu, p.notify); err != nil {
						p.logger.Warn("notify failed, response truncated", "error", err)
					}
				}
			}
		}
	}
}
