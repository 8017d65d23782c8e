// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2026 Kaz Walker, Thermoquad

// Package gnss turns the receiver's byte stream into snapshot updates.
// Bytes go to the CASIC framer first; while it is idle they also feed an
// NMEA line buffer whose sentences are merged into a running fix.
package gnss

import (
	"time"

	"github.com/Thermoquad/meridian/pkg/system"
	"github.com/adrianmo/go-nmea"
)

const (
	knotsToKmh = 1.852

	// MinValidYear rejects receiver dates from before the firmware existed
	MinValidYear = 2025
)

// Accumulator merges RMC, GGA, GSA and VTG sentences into one fix. A
// field keeps its last reported value until a sentence reports it again.
type Accumulator struct {
	fixValid bool

	lat, lon float64
	hasPos   bool

	alt    float32
	hasAlt bool

	sats    uint32
	hasSats bool

	hdop    float32
	hasHDOP bool

	date nmea.Date
	time nmea.Time

	speedKnots float32
	hasSpeed   bool

	course    float32
	hasCourse bool
}

// Reset forgets every accumulated field
func (a *Accumulator) Reset() {
	*a = Accumulator{}
}

// Apply merges one parsed sentence
func (a *Accumulator) Apply(s nmea.Sentence) {
	switch m := s.(type) {
	case nmea.GGA:
		a.applyGGA(m)
	case nmea.RMC:
		a.applyRMC(m)
	case nmea.GSA:
		if present(m.Fields, 15) {
			a.hdop, a.hasHDOP = float32(m.HDOP), true
		}
	case nmea.VTG:
		if present(m.Fields, 4) {
			a.speedKnots, a.hasSpeed = float32(m.GroundSpeedKnots), true
		} else {
			a.hasSpeed = false
		}
		if present(m.Fields, 0) {
			a.course, a.hasCourse = float32(m.TrueTrack), true
		} else {
			a.hasCourse = false
		}
	}
}

func (a *Accumulator) applyGGA(m nmea.GGA) {
	a.fixValid = m.FixQuality != "" && m.FixQuality != nmea.Invalid
	a.time = m.Time
	a.hasPos = present(m.Fields, 1) && present(m.Fields, 3)
	a.lat, a.lon = m.Latitude, m.Longitude
	a.hasSats = present(m.Fields, 6)
	a.sats = uint32(m.NumSatellites)
	a.hasHDOP = present(m.Fields, 7)
	a.hdop = float32(m.HDOP)
	a.hasAlt = present(m.Fields, 8)
	a.alt = float32(m.Altitude)
}

func (a *Accumulator) applyRMC(m nmea.RMC) {
	a.time = m.Time
	a.date = m.Date
	if present(m.Fields, 2) && present(m.Fields, 4) {
		a.lat, a.lon, a.hasPos = m.Latitude, m.Longitude, true
	}
	a.hasSpeed = present(m.Fields, 6)
	a.speedKnots = float32(m.Speed)
	a.hasCourse = present(m.Fields, 7)
	a.course = float32(m.Course)
}

// DateTime returns the accumulated UTC date and time, if both were
// reported and the year is plausible
func (a *Accumulator) DateTime() (time.Time, bool) {
	if !a.date.Valid || !a.time.Valid {
		return time.Time{}, false
	}
	year := 2000 + a.date.YY
	if year < MinValidYear {
		return time.Time{}, false
	}
	return time.Date(year, time.Month(a.date.MM), a.date.DD,
		a.time.Hour, a.time.Minute, a.time.Second, 0, time.UTC), true
}

// UpdateInfo writes the accumulated fix into info and applies the
// fix-quality gate. Speed samples are offered to avg.
func (a *Accumulator) UpdateInfo(info *system.Info, avg *SpeedAverage) {
	locationValid := a.fixValid && a.hasPos

	dt, dateTimeValid := a.DateTime()
	if dateTimeValid {
		info.SetDateTime(dt)
	} else {
		info.InvalidateDateTime()
	}

	var sats uint32
	if a.hasSats {
		sats = a.sats
	}
	satsValid := sats >= system.MinSatellites
	hdopValid := a.hasHDOP && a.hdop <= system.MaxValidHDOP

	valid := locationValid && dateTimeValid && satsValid
	if !(avg.HighSpeed() && satsValid) {
		valid = valid && hdopValid
	}
	info.LocationValid = valid

	info.Satellites = sats
	if valid {
		info.Latitude, info.Longitude = a.lat, a.lon
		info.Altitude = 0
		if a.hasAlt {
			info.Altitude = a.alt
		}
	} else {
		info.Latitude, info.Longitude, info.Altitude = 0, 0, 0
	}

	info.HDOP = system.DefaultHDOP
	if a.hasHDOP {
		info.HDOP = a.hdop
	}

	if a.hasSpeed {
		kmh := a.speedKnots * knotsToKmh
		info.Speed = kmh
		avg.Add(kmh)
	} else {
		info.Speed = -1
	}

	info.Course = -1
	if a.hasCourse {
		info.Course = a.course
	}
}

func present(fields []string, idx int) bool {
	return idx < len(fields) && fields[idx] != ""
}
