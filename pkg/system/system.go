// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2026 Kaz Walker, Thermoquad

// Package system holds the tracker's shared status record. Producers
// (GNSS ingest, samplers, the GPS state machine) write it under one mutex;
// consumers take a point-in-time copy.
package system

import (
	"fmt"
	"math"
	"sync"
	"time"
)

// GPSState is the state of the GPS duty-cycle controller
type GPSState uint8

// GPS states. The numeric values appear in the system-info record.
const (
	StateInitializing GPSState = iota
	StateSearching
	StateIdle
	StateTracking
	StateAnalyzingStillness
	StateAGNSS
)

func (s GPSState) String() string {
	switch s {
	case StateInitializing:
		return "INITIALIZING"
	case StateSearching:
		return "SEARCHING"
	case StateIdle:
		return "IDLE"
	case StateTracking:
		return "TRACKING"
	case StateAnalyzingStillness:
		return "ANALYZING_STILLNESS"
	case StateAGNSS:
		return "AGNSS"
	default:
		return fmt.Sprintf("UNKNOWN(%d)", uint8(s))
	}
}

// Fix-quality constants
const (
	DefaultHDOP   = 99.9
	MaxValidHDOP  = 2.0
	MinSatellites = 4
)

// Info is one copy of the system status
type Info struct {
	Latitude   float64
	Longitude  float64
	Altitude   float32 // metres
	Satellites uint32
	HDOP       float32
	Speed      float32 // km/h, -1 when unknown
	Course     float32 // degrees, -1 when unknown

	Year   uint16
	Month  uint8
	Day    uint8
	Hour   uint8
	Minute uint8
	Second uint8

	LocationValid bool
	DateTimeValid bool

	BatteryVoltage float32 // volts, NaN when unknown
	BatteryPercent uint8

	GPSState           GPSState
	IsStationary       bool
	KeepAliveRemaining uint16 // seconds

	Temperature float32 // °C, NaN when unknown
	Pressure    float32 // Pa, NaN when unknown
}

// NewInfo returns the boot-time record
func NewInfo() Info {
	return Info{
		HDOP:           DefaultHDOP,
		Speed:          -1,
		Course:         -1,
		BatteryVoltage: nan32(),
		Temperature:    nan32(),
		Pressure:       nan32(),
		GPSState:       StateInitializing,
	}
}

// ClearFix resets every receiver-derived field, as after a power-off
func (i *Info) ClearFix() {
	i.LocationValid = false
	i.DateTimeValid = false
	i.Latitude = 0
	i.Longitude = 0
	i.Altitude = 0
	i.Satellites = 0
	i.HDOP = DefaultHDOP
	i.Speed = -1
	i.Course = -1
	i.clearCalendar()
}

func (i *Info) clearCalendar() {
	i.Year, i.Month, i.Day = 0, 0, 0
	i.Hour, i.Minute, i.Second = 0, 0, 0
}

// SetDateTime stores a UTC calendar time and marks it valid
func (i *Info) SetDateTime(t time.Time) {
	t = t.UTC()
	i.Year = uint16(t.Year())
	i.Month = uint8(t.Month())
	i.Day = uint8(t.Day())
	i.Hour = uint8(t.Hour())
	i.Minute = uint8(t.Minute())
	i.Second = uint8(t.Second())
	i.DateTimeValid = true
}

// InvalidateDateTime zeroes the calendar fields
func (i *Info) InvalidateDateTime() {
	i.clearCalendar()
	i.DateTimeValid = false
}

// UnixTime converts the calendar fields to seconds since the Unix epoch.
// ok is false when the date is not valid or does not fit in 32 bits.
func (i Info) UnixTime() (ts uint32, ok bool) {
	if !i.DateTimeValid || i.Year < 1970 || i.Month < 1 || i.Month > 12 || i.Day < 1 {
		return 0, false
	}
	t := time.Date(int(i.Year), time.Month(i.Month), int(i.Day),
		int(i.Hour), int(i.Minute), int(i.Second), 0, time.UTC)
	unix := t.Unix()
	if unix <= 0 || unix > math.MaxUint32 {
		return 0, false
	}
	return uint32(unix), true
}

// System guards the single shared Info record
type System struct {
	mu   sync.Mutex
	info Info
}

// New creates a System holding the boot-time record
func New() *System {
	return &System{info: NewInfo()}
}

// Snapshot returns a copy of the current record
func (s *System) Snapshot() Info {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.info
}

// Update applies fn to the record under the lock. fn must not block.
func (s *System) Update(fn func(*Info)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	fn(&s.info)
}

// SetGPSState records the state machine's current state
func (s *System) SetGPSState(state GPSState) {
	s.Update(func(i *Info) { i.GPSState = state })
	gpsStateMetric.Set(float64(state))
}

// SetStationary records the accelerometer's stillness verdict
func (s *System) SetStationary(still bool) {
	s.Update(func(i *Info) { i.IsStationary = still })
}
