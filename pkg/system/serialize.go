// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2026 Kaz Walker, Thermoquad

package system

import (
	"encoding/binary"
	"errors"
	"fmt"
	"math"
)

// Binary record layout
const (
	InfoVersion = 2
	InfoSize    = 63
)

// ErrInfoVersion is returned when decoding a record with an unknown version
var ErrInfoVersion = errors.New("unsupported system info version")

// MarshalBinary encodes the record in the fixed little-endian layout
// served by the file-transfer protocol's system-info command.
func (i Info) MarshalBinary() ([]byte, error) {
	return i.AppendBinary(make([]byte, 0, InfoSize))
}

// AppendBinary appends the encoded record to b
func (i Info) AppendBinary(b []byte) ([]byte, error) {
	le := binary.LittleEndian

	b = append(b, InfoVersion)
	b = le.AppendUint64(b, math.Float64bits(i.Latitude))
	b = le.AppendUint64(b, math.Float64bits(i.Longitude))
	b = le.AppendUint32(b, math.Float32bits(i.Altitude))
	b = le.AppendUint32(b, i.Satellites)
	b = le.AppendUint32(b, math.Float32bits(i.HDOP))
	b = le.AppendUint32(b, math.Float32bits(i.Speed))
	b = le.AppendUint32(b, math.Float32bits(i.Course))
	b = le.AppendUint16(b, i.Year)
	b = append(b, i.Month, i.Day, i.Hour, i.Minute, i.Second)
	b = append(b, boolByte(i.LocationValid), boolByte(i.DateTimeValid))
	b = le.AppendUint32(b, math.Float32bits(i.BatteryVoltage))
	b = append(b, uint8(i.GPSState))
	b = le.AppendUint16(b, i.KeepAliveRemaining)
	b = append(b, i.BatteryPercent, boolByte(i.IsStationary))
	b = le.AppendUint32(b, math.Float32bits(i.Temperature))
	b = le.AppendUint32(b, math.Float32bits(i.Pressure))
	return b, nil
}

// UnmarshalBinary decodes a record produced by MarshalBinary
func (i *Info) UnmarshalBinary(data []byte) error {
	if len(data) < InfoSize {
		return fmt.Errorf("system info too short: %d bytes, need %d", len(data), InfoSize)
	}
	if data[0] != InfoVersion {
		return fmt.Errorf("%w: %d", ErrInfoVersion, data[0])
	}

	le := binary.LittleEndian
	f32 := func(off int) float32 { return math.Float32frombits(le.Uint32(data[off:])) }

	i.Latitude = math.Float64frombits(le.Uint64(data[1:]))
	i.Longitude = math.Float64frombits(le.Uint64(data[9:]))
	i.Altitude = f32(17)
	i.Satellites = le.Uint32(data[21:])
	i.HDOP = f32(25)
	i.Speed = f32(29)
	i.Course = f32(33)
	i.Year = le.Uint16(data[37:])
	i.Month = data[39]
	i.Day = data[40]
	i.Hour = data[41]
	i.Minute = data[42]
	i.Second = data[43]
	i.LocationValid = data[44] != 0
	i.DateTimeValid = data[45] != 0
	i.BatteryVoltage = f32(46)
	i.GPSState = GPSState(data[50])
	i.KeepAliveRemaining = le.Uint16(data[51:])
	i.BatteryPercent = data[53]
	i.IsStationary = data[54] != 0
	i.Temperature = f32(55)
	i.Pressure = f32(59)
	return nil
}

func boolByte(v bool) uint8 {
	if v {
		return 1
	}
	return 0
}
