// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2026 Kaz Walker, Thermoquad

package system

import (
	"fmt"
	"math"

	"github.com/fxamacker/cbor/v2"
)

// CBOR map keys for the status export
const (
	KeyLatitude = iota
	KeyLongitude
	KeyAltitude
	KeySatellites
	KeyHDOP
	KeySpeed
	KeyCourse
	KeyUnixTime
	KeyLocationValid
	KeyDateTimeValid
	KeyBatteryVoltage
	KeyBatteryPercent
	KeyGPSState
	KeyStationary
	KeyKeepAlive
	KeyTemperature
	KeyPressure
)

var cborEnc cbor.EncMode

func init() {
	var err error
	cborEnc, err = cbor.CoreDetEncOptions().EncMode()
	if err != nil {
		panic(fmt.Sprintf("cbor encode mode: %v", err))
	}
}

// MarshalCBOR encodes the record as an integer-keyed CBOR map. Unknown
// floats are omitted rather than sent as NaN; the calendar collapses to a
// Unix timestamp.
func (i Info) MarshalCBOR() ([]byte, error) {
	m := map[int]interface{}{
		KeySatellites:     i.Satellites,
		KeyLocationValid:  i.LocationValid,
		KeyDateTimeValid:  i.DateTimeValid,
		KeyBatteryPercent: i.BatteryPercent,
		KeyGPSState:       uint8(i.GPSState),
		KeyStationary:     i.IsStationary,
		KeyKeepAlive:      i.KeepAliveRemaining,
	}
	if i.LocationValid {
		m[KeyLatitude] = i.Latitude
		m[KeyLongitude] = i.Longitude
		m[KeyAltitude] = i.Altitude
	}
	putFloat(m, KeyHDOP, i.HDOP)
	if i.Speed >= 0 {
		m[KeySpeed] = i.Speed
	}
	if i.Course >= 0 {
		m[KeyCourse] = i.Course
	}
	if ts, ok := i.UnixTime(); ok {
		m[KeyUnixTime] = ts
	}
	putFloat(m, KeyBatteryVoltage, i.BatteryVoltage)
	putFloat(m, KeyTemperature, i.Temperature)
	putFloat(m, KeyPressure, i.Pressure)

	data, err := cborEnc.Marshal(m)
	if err != nil {
		return nil, fmt.Errorf("failed to encode system info: %w", err)
	}
	return data, nil
}

func putFloat(m map[int]interface{}, key int, v float32) {
	if math.IsNaN(float64(v)) {
		return
	}
	m[key] = v
}

func nan32() float32 {
	return float32(math.NaN())
}
