// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2026 Kaz Walker, Thermoquad

package sensors

import (
	"errors"
	"fmt"
	"math"
	"time"

	"github.com/Thermoquad/meridian/pkg/system"
	"tinygo.org/x/drivers"
	"tinygo.org/x/drivers/lis3dh"
)

// Stillness analysis
const (
	MotionInterval = 50 * time.Millisecond
	HistorySize    = 256

	stillThreshold = 0.1 // g
	jumpThreshold  = 2.0 // g
	freeFall       = 0.2 // g
)

// ErrNoAccelerometer is returned when the LIS3DH does not answer
var ErrNoAccelerometer = errors.New("sensors: LIS3DH not found")

// Accelerometer reads acceleration in micro-g. *lis3dh.Device satisfies it.
type Accelerometer interface {
	ReadAcceleration() (x, y, z int32, err error)
}

// OpenLIS3DH configures the accelerometer at its alternate address in
// the ±2 g range. A periph i2c.Bus satisfies drivers.I2C.
func OpenLIS3DH(bus drivers.I2C) (*lis3dh.Device, error) {
	dev := lis3dh.New(bus)
	dev.Address = lis3dh.Address1
	if !dev.Connected() {
		return nil, ErrNoAccelerometer
	}
	dev.Configure()
	dev.SetRange(lis3dh.RANGE_2_G)
	return &dev, nil
}

// Motion keeps a window of acceleration magnitudes. The device is still
// when the window spans less than 0.1 g; a jump of more than 2 g between
// samples, or near free fall, calls onJump.
type Motion struct {
	acc    Accelerometer
	sys    *system.System
	onJump func()

	history [HistorySize]float32
	n       int
	head    int
}

// NewMotion creates an analyzer. onJump may be nil.
func NewMotion(acc Accelerometer, sys *system.System, onJump func()) *Motion {
	return &Motion{acc: acc, sys: sys, onJump: onJump}
}

// Sample reads the accelerometer and updates the stillness verdict
func (m *Motion) Sample() error {
	x, y, z, err := m.acc.ReadAcceleration()
	if err != nil {
		return fmt.Errorf("read lis3dh: %w", err)
	}
	gx, gy, gz := float64(x)/1e6, float64(y)/1e6, float64(z)/1e6
	m.Add(float32(math.Sqrt(gx*gx + gy*gy + gz*gz)))

	m.sys.SetStationary(m.Still())
	if m.Jump() && m.onJump != nil {
		m.onJump()
	}
	return nil
}

// Add records one magnitude in g
func (m *Motion) Add(g float32) {
	m.history[m.head] = g
	m.head = (m.head + 1) % HistorySize
	if m.n < HistorySize {
		m.n++
	}
}

func (m *Motion) at(back int) float32 {
	return m.history[(m.head+HistorySize-back)%HistorySize]
}

// Still reports whether the window's spread is under the threshold
func (m *Motion) Still() bool {
	if m.n == 0 {
		return false
	}
	lo, hi := m.history[0], m.history[0]
	for _, v := range m.history[1:m.n] {
		lo = min(lo, v)
		hi = max(hi, v)
	}
	return hi-lo < stillThreshold
}

// Jump reports a sudden change or free fall in the latest sample
func (m *Motion) Jump() bool {
	if m.n < 2 {
		return false
	}
	last, prev := m.at(1), m.at(2)
	diff := last - prev
	if diff < 0 {
		diff = -diff
	}
	return diff > jumpThreshold || last < freeFall
}
