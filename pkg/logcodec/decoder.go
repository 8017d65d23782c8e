// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2026 Kaz Walker, Thermoquad

package logcodec

import (
	"bufio"
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"math"
)

// Decoding errors
var (
	ErrUnknownMarker   = errors.New("logcodec: unknown record marker")
	ErrDeltaBeforeBase = errors.New("logcodec: delta record before first anchor")
	ErrTruncated       = errors.New("logcodec: truncated record")
	ErrVarintOverflow  = errors.New("logcodec: varint exceeds 32 bits")
)

// Decoder reads points from a record stream
type Decoder struct {
	r       *bufio.Reader
	prev    fixed
	hasBase bool
	offset  int64
}

// NewDecoder creates a decoder reading from r
func NewDecoder(r io.Reader) *Decoder {
	return &Decoder{r: bufio.NewReader(r)}
}

// Offset returns the number of bytes consumed so far
func (d *Decoder) Offset() int64 {
	return d.offset
}

// Next returns the next point, or io.EOF at a clean end of stream
func (d *Decoder) Next() (Point, error) {
	marker, err := d.readByte()
	if err != nil {
		return Point{}, err
	}

	switch {
	case marker == MarkerAnchor:
		var raw [AnchorSize - 1]byte
		if _, err := io.ReadFull(d.r, raw[:]); err != nil {
			return Point{}, d.truncated(err)
		}
		d.offset += int64(len(raw))
		le := binary.LittleEndian
		d.prev = fixed{
			ts:  le.Uint32(raw[0:]),
			lat: int32(le.Uint32(raw[4:])),
			lon: int32(le.Uint32(raw[8:])),
			alt: int32(le.Uint32(raw[12:])),
		}
		d.hasBase = true

	case marker&0xF0 == MarkerDelta:
		if !d.hasBase {
			return Point{}, fmt.Errorf("%w at offset %d", ErrDeltaBeforeBase, d.offset-1)
		}
		cur := d.prev
		if marker&FlagTime != 0 {
			v, err := d.readVarint()
			if err != nil {
				return Point{}, err
			}
			cur.ts = uint32(int32(cur.ts) + v)
		}
		for _, field := range []struct {
			flag byte
			dst  *int32
		}{
			{FlagLat, &cur.lat},
			{FlagLon, &cur.lon},
			{FlagAlt, &cur.alt},
		} {
			if marker&field.flag == 0 {
				continue
			}
			v, err := d.readVarint()
			if err != nil {
				return Point{}, err
			}
			*field.dst += v
		}
		d.prev = cur

	default:
		return Point{}, fmt.Errorf("%w 0x%02X at offset %d", ErrUnknownMarker, marker, d.offset-1)
	}

	return d.prev.point(), nil
}

func (d *Decoder) readByte() (byte, error) {
	b, err := d.r.ReadByte()
	if err != nil {
		return 0, err
	}
	d.offset++
	return b, nil
}

func (d *Decoder) readVarint() (int32, error) {
	var u uint64
	for shift := uint(0); ; shift += 7 {
		b, err := d.readByte()
		if err != nil {
			return 0, d.truncated(err)
		}
		u |= uint64(b&0x7F) << shift
		if b < 0x80 {
			break
		}
		if shift >= 28 {
			return 0, ErrVarintOverflow
		}
	}
	if u > math.MaxUint32 {
		return 0, ErrVarintOverflow
	}
	return unzigzag(uint32(u)), nil
}

func (d *Decoder) truncated(err error) error {
	if errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) {
		return fmt.Errorf("%w at offset %d", ErrTruncated, d.offset)
	}
	return err
}

// DecodeAll decodes a complete stream
func DecodeAll(data []byte) ([]Point, error) {
	return ReadAll(bytes.NewReader(data))
}

// ReadAll decodes every point from r
func ReadAll(r io.Reader) ([]Point, error) {
	d := NewDecoder(r)
	var points []Point
	for {
		p, err := d.Next()
		if errors.Is(err, io.EOF) {
			return points, nil
		}
		if err != nil {
			return points, err
		}
		points = append(points, p)
	}
}
