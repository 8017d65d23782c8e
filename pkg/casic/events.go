// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2026 Kaz Walker, Thermoquad

package casic

import "sync"

// AckKind is the receiver's answer to the last assistance message
type AckKind int

// Acknowledgement kinds
const (
	AckNone AckKind = iota
	AckOK
	AckRejected
)

func (k AckKind) String() string {
	switch k {
	case AckOK:
		return "ACK"
	case AckRejected:
		return "NACK"
	default:
		return "none"
	}
}

// Events carries decoder flags from the UART reader to the state machine.
// The reader publishes, the state machine consumes. All methods are safe
// for concurrent use.
type Events struct {
	mu        sync.Mutex
	last      *Frame
	newFrame  bool
	ack       bool
	nack      bool
	ephemeris bool
}

// Collect moves pending flags from a decoder into e
func (e *Events) Collect(d *Decoder) {
	if !d.TakeNewFrame() {
		return
	}
	ack, nack, eph := d.TakeACK(), d.TakeNACK(), d.TakeEphemeris()

	e.mu.Lock()
	defer e.mu.Unlock()
	e.last = d.LastFrame()
	e.newFrame = true
	e.ack = e.ack || ack
	e.nack = e.nack || nack
	e.ephemeris = e.ephemeris || eph
}

// TakeAck consumes one acknowledgement, preferring ACK over NACK
func (e *Events) TakeAck() AckKind {
	e.mu.Lock()
	defer e.mu.Unlock()
	switch {
	case e.ack:
		e.ack = false
		e.newFrame = false
		return AckOK
	case e.nack:
		e.nack = false
		e.newFrame = false
		return AckRejected
	}
	return AckNone
}

// Drain clears every pending flag and reports which were set
func (e *Events) Drain() (ack, nack, ephemeris bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	ack, nack, ephemeris = e.ack, e.nack, e.ephemeris
	e.ack, e.nack, e.ephemeris, e.newFrame = false, false, false, false
	return ack, nack, ephemeris
}

// LastFrame returns the most recent valid frame published, or nil
func (e *Events) LastFrame() *Frame {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.last
}
