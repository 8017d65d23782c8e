// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2026 Kaz Walker, Thermoquad

package sensors

import (
	"fmt"
	"time"

	"github.com/Thermoquad/meridian/pkg/system"
	"periph.io/x/conn/v3/analog"
)

// Battery divider and filter
const (
	BatteryInterval = time.Second

	adcMillivoltsPerLSB = 0.87890625
	dividerCompensation = 5.0 / 3.0
	emaAlpha            = 0.2
)

// ADC is the battery channel. analog.PinADC satisfies it.
type ADC interface {
	Read() (analog.Sample, error)
}

// Battery smooths the battery voltage into the snapshot
type Battery struct {
	adc      ADC
	sys      *system.System
	filtered float32
	primed   bool
}

// NewBattery creates a battery sampler
func NewBattery(adc ADC, sys *system.System) *Battery {
	return &Battery{adc: adc, sys: sys}
}

// Millivolts converts a raw reading to cell millivolts
func Millivolts(raw int32) float32 {
	if raw < 0 {
		raw = 0
	}
	return float32(raw) * adcMillivoltsPerLSB * dividerCompensation
}

// Sample takes one reading
func (b *Battery) Sample() error {
	s, err := b.adc.Read()
	if err != nil {
		return fmt.Errorf("battery ADC read failed: %w", err)
	}

	mv := Millivolts(s.Raw)
	if mv <= 0 {
		b.sys.Update(func(i *system.Info) { i.SetBattery(-1) })
		return nil
	}
	if !b.primed {
		b.filtered = mv
		b.primed = true
	} else {
		b.filtered = emaAlpha*mv + (1-emaAlpha)*b.filtered
	}
	volts := b.filtered / 1000
	b.sys.Update(func(i *system.Info) { i.SetBattery(volts) })
	return nil
}
