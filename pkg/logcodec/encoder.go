// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2026 Kaz Walker, Thermoquad

package logcodec

import "encoding/binary"

// Encoder produces records for one log session
type Encoder struct {
	interval    int
	prev        fixed
	sinceAnchor int
	first       bool
}

// NewEncoder creates an encoder emitting an anchor every AnchorInterval records
func NewEncoder() *Encoder {
	return NewEncoderInterval(AnchorInterval)
}

// NewEncoderInterval creates an encoder with a custom anchor interval.
// Intervals below 1 are treated as 1 (every record an anchor).
func NewEncoderInterval(interval int) *Encoder {
	if interval < 1 {
		interval = 1
	}
	return &Encoder{interval: interval, first: true}
}

// Reset starts a new session; the next record is an anchor
func (e *Encoder) Reset() {
	*e = Encoder{interval: e.interval, first: true}
}

// Append encodes p and appends the record to dst
func (e *Encoder) Append(dst []byte, p Point) []byte {
	cur := toFixed(p)

	if e.first || e.interval == 1 || e.sinceAnchor >= e.interval-1 {
		dst = appendAnchor(dst, cur)
		e.sinceAnchor = 0
		e.first = false
	} else {
		dst = appendDelta(dst, e.prev, cur)
		e.sinceAnchor++
	}

	e.prev = cur
	return dst
}

// Encode returns the record for p in a fresh slice
func (e *Encoder) Encode(p Point) []byte {
	return e.Append(make([]byte, 0, AnchorSize), p)
}

func appendAnchor(dst []byte, f fixed) []byte {
	le := binary.LittleEndian
	dst = append(dst, MarkerAnchor)
	dst = le.AppendUint32(dst, f.ts)
	dst = le.AppendUint32(dst, uint32(f.lat))
	dst = le.AppendUint32(dst, uint32(f.lon))
	dst = le.AppendUint32(dst, uint32(f.alt))
	return dst
}

func appendDelta(dst []byte, prev, cur fixed) []byte {
	deltas := [4]int32{
		int32(cur.ts - prev.ts),
		cur.lat - prev.lat,
		cur.lon - prev.lon,
		cur.alt - prev.alt,
	}
	flags := [4]byte{FlagTime, FlagLat, FlagLon, FlagAlt}

	header := MarkerDelta
	for i, d := range deltas {
		if d != 0 {
			header |= flags[i]
		}
	}

	dst = append(dst, header)
	for _, d := range deltas {
		if d != 0 {
			dst = binary.AppendUvarint(dst, uint64(zigzag(d)))
		}
	}
	return dst
}
