// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2026 Kaz Walker, Thermoquad

// Package casic implements the CASIC binary framing spoken by the tracker's
// GNSS receiver alongside NMEA.
//
// A frame is:
//
//	0xBA 0xCE | len:2 LE | class:1 | id:1 | payload:len | checksum:4 LE
//
// The checksum starts at (id<<24)+(class<<16)+len and adds every 32-bit
// little-endian payload word with wrapping arithmetic.
package casic

import "time"

// Frame sync bytes
const (
	Header1 = 0xBA
	Header2 = 0xCE
)

// Frame size limits
const (
	MaxPayloadSize = 256
	HeaderSize     = 6 // sync(2) + len(2) + class(1) + id(1)
	ChecksumSize   = 4
	MaxFrameSize   = HeaderSize + MaxPayloadSize + ChecksumSize
)

// FrameTimeout is the longest gap between two bytes of one frame. A longer
// gap drops the partial frame.
const FrameTimeout = 30 * time.Second

// Message classes
const (
	ClassNAV = 0x01
	ClassTIM = 0x02
	ClassRXM = 0x03
	ClassACK = 0x05
	ClassCFG = 0x06
	ClassMSG = 0x08
	ClassMON = 0x0A
	ClassAID = 0x0B
)

// Message ids within ClassACK
const (
	MsgNACK = 0x00
	MsgACK  = 0x01
)

// Message ids within ClassMSG (assistance data echoed by the receiver)
const (
	MsgBDSUTC = 0x00
	MsgBDSION = 0x01
	MsgBDSEPH = 0x02
	MsgGPSUTC = 0x05
	MsgGPSION = 0x06
	MsgGPSEPH = 0x07
)

// Message ids within ClassAID
const (
	MsgAIDINI = 0x01
)

// Decoder states (internal)
const (
	stateIdle = iota
	stateSync
	stateLenLow
	stateLenHigh
	stateClass
	stateID
	statePayload
	stateChecksum
)
