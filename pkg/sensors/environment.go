// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2026 Kaz Walker, Thermoquad

package sensors

import (
	"fmt"
	"time"

	"github.com/Thermoquad/meridian/pkg/system"
	"periph.io/x/conn/v3/i2c"
	"periph.io/x/conn/v3/physic"
	"periph.io/x/devices/v3/bmxx80"
)

// Pressure sensor wiring
const (
	EnvironmentInterval = 50 * time.Millisecond
	BMP280Address       = 0x76
)

// EnvSensor reads temperature and pressure. *bmxx80.Dev satisfies it.
type EnvSensor interface {
	Sense(e *physic.Env) error
}

// OpenBMP280 initializes the pressure sensor on bus
func OpenBMP280(bus i2c.Bus) (*bmxx80.Dev, error) {
	dev, err := bmxx80.NewI2C(bus, BMP280Address, &bmxx80.Opts{
		Temperature: bmxx80.O16x,
		Pressure:    bmxx80.O16x,
	})
	if err != nil {
		return nil, fmt.Errorf("init bmp280: %w", err)
	}
	return dev, nil
}

// Environment copies pressure sensor readings into the snapshot. The
// fields stay NaN until the first successful reading.
type Environment struct {
	dev EnvSensor
	sys *system.System
}

// NewEnvironment creates a pressure sampler
func NewEnvironment(dev EnvSensor, sys *system.System) *Environment {
	return &Environment{dev: dev, sys: sys}
}

// Sample takes one reading
func (e *Environment) Sample() error {
	var env physic.Env
	if err := e.dev.Sense(&env); err != nil {
		return fmt.Errorf("read bmp280: %w", err)
	}
	celsius := float32(float64(env.Temperature-physic.ZeroCelsius) / float64(physic.Kelvin))
	pascal := float32(float64(env.Pressure) / float64(physic.Pascal))
	e.sys.Update(func(i *system.Info) {
		i.Temperature = celsius
		i.Pressure = pascal
	})
	return nil
}
