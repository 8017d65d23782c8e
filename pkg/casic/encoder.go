// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2026 Kaz Walker, Thermoquad

package casic

import (
	"encoding/binary"
	"fmt"
)

// Encode builds a complete wire-format CASIC frame.
// The payload length must be a multiple of four and at most MaxPayloadSize.
func Encode(class, id uint8, payload []byte) ([]byte, error) {
	if len(payload) > MaxPayloadSize {
		return nil, fmt.Errorf("%w: %d (max %d)", ErrPayloadTooLarge, len(payload), MaxPayloadSize)
	}
	if len(payload)%4 != 0 {
		return nil, fmt.Errorf("casic: payload length %d is not a multiple of 4", len(payload))
	}

	frame := make([]byte, 0, HeaderSize+len(payload)+ChecksumSize)
	frame = append(frame, Header1, Header2)
	frame = binary.LittleEndian.AppendUint16(frame, uint16(len(payload)))
	frame = append(frame, class, id)
	frame = append(frame, payload...)
	frame = binary.LittleEndian.AppendUint32(frame, CalculateChecksum(class, id, payload))
	return frame, nil
}

// EncodeFrame encodes an existing frame back to wire format
func EncodeFrame(f *Frame) ([]byte, error) {
	return Encode(f.class, f.id, f.payload)
}

// Split walks a buffer of concatenated frames (an AGNSS batch as served
// by an assistance server) and returns each frame's bytes, unmodified.
// Bytes that are not part of a valid frame are skipped.
func Split(data []byte) [][]byte {
	var frames [][]byte
	d := NewDecoder()
	start := -1
	for i, b := range data {
		f, _ := d.DecodeByte(b)
		if d.state == stateSync {
			start = i
		}
		if f != nil && start >= 0 {
			frames = append(frames, data[start:i+1])
			start = -1
		}
	}
	return frames
}
