// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2026 Kaz Walker, Thermoquad

// Package logcodec implements the compressed track format written to the
// SD card. A stream is a sequence of records. A full anchor is
//
//	[0xFE] [ts:4 LE] [lat×1e7:4 LE] [lon×1e7:4 LE] [alt×10:4 LE]
//
// and a delta record is a header byte 0x10|flags followed by one zig-zag
// varint for each field whose flag is set (Δt=0x08, Δlat=0x04, Δlon=0x02,
// Δalt=0x01). Every session starts with an anchor and repeats one every
// AnchorInterval records.
package logcodec

import (
	"math"
	"time"
)

// Record format constants
const (
	MarkerAnchor byte = 0xFE
	MarkerDelta  byte = 0x10

	FlagTime byte = 1 << 3
	FlagLat  byte = 1 << 2
	FlagLon  byte = 1 << 1
	FlagAlt  byte = 1 << 0

	AnchorSize     = 17
	MaxRecordSize  = 64
	AnchorInterval = 64

	CoordScale    = 1e7
	AltitudeScale = 10
)

// Point is one logged fix
type Point struct {
	Time      uint32 // seconds since the Unix epoch
	Latitude  float64
	Longitude float64
	Altitude  float32 // metres
}

// UTC returns the point's timestamp as a time.Time
func (p Point) UTC() time.Time {
	return time.Unix(int64(p.Time), 0).UTC()
}

// fixed is a point in the on-disk integer units
type fixed struct {
	ts  uint32
	lat int32
	lon int32
	alt int32
}

func toFixed(p Point) fixed {
	return fixed{
		ts:  p.Time,
		lat: int32(math.Round(p.Latitude * CoordScale)),
		lon: int32(math.Round(p.Longitude * CoordScale)),
		alt: int32(math.Round(float64(p.Altitude) * AltitudeScale)),
	}
}

func (f fixed) point() Point {
	return Point{
		Time:      f.ts,
		Latitude:  float64(f.lat) / CoordScale,
		Longitude: float64(f.lon) / CoordScale,
		Altitude:  float32(float64(f.alt) / AltitudeScale),
	}
}

func zigzag(v int32) uint32 {
	return uint32(v<<1) ^ uint32(v>>31)
}

func unzigzag(u uint32) int32 {
	return int32(u>>1) ^ -int32(u&1)
}
