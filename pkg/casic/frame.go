// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2026 Kaz Walker, Thermoquad

package casic

import "time"

// Frame is a decoded CASIC frame whose checksum matched
type Frame struct {
	class     uint8
	id        uint8
	payload   []byte
	checksum  uint32
	timestamp time.Time
}

// NewFrame creates a frame from its fields. The checksum is computed.
func NewFrame(class, id uint8, payload []byte) *Frame {
	return &Frame{
		class:     class,
		id:        id,
		payload:   payload,
		checksum:  CalculateChecksum(class, id, payload),
		timestamp: time.Now(),
	}
}

// Class returns the message class
func (f *Frame) Class() uint8 {
	return f.class
}

// ID returns the message id within the class
func (f *Frame) ID() uint8 {
	return f.id
}

// Payload returns the raw payload bytes
func (f *Frame) Payload() []byte {
	return f.payload
}

// Checksum returns the checksum carried by the frame
func (f *Frame) Checksum() uint32 {
	return f.checksum
}

// Timestamp returns the time the final checksum byte was decoded
func (f *Frame) Timestamp() time.Time {
	return f.timestamp
}

// IsACK reports whether the frame is ACK-ACK
func (f *Frame) IsACK() bool {
	return f.class == ClassACK && f.id == MsgACK
}

// IsNACK reports whether the frame is ACK-NACK
func (f *Frame) IsNACK() bool {
	return f.class == ClassACK && f.id == MsgNACK
}

// IsEphemeris reports whether the frame carries GPS or BDS ephemeris
func (f *Frame) IsEphemeris() bool {
	return f.class == ClassMSG && (f.id == MsgGPSEPH || f.id == MsgBDSEPH)
}

// AckedMessage returns the class and id an ACK or NACK refers to.
// ok is false for other frames or a short payload.
func (f *Frame) AckedMessage() (class, id uint8, ok bool) {
	if f.class != ClassACK || len(f.payload) < 2 {
		return 0, 0, false
	}
	return f.payload[0], f.payload[1], true
}
