// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2026 Kaz Walker, Thermoquad

package casic

import (
	"errors"
	"fmt"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// ErrPayloadTooLarge is returned when a frame declares more than MaxPayloadSize bytes
var ErrPayloadTooLarge = errors.New("casic: declared payload too large")

// ErrChecksumMismatch is wrapped by FrameError
var ErrChecksumMismatch = errors.New("casic: checksum mismatch")

// FrameError reports a complete frame whose checksum did not match
type FrameError struct {
	Class    uint8
	ID       uint8
	Expected uint32
	Actual   uint32
}

func (e *FrameError) Error() string {
	return fmt.Sprintf("casic: checksum mismatch on %02X/%02X: computed 0x%08X, frame carries 0x%08X",
		e.Class, e.ID, e.Expected, e.Actual)
}

func (e *FrameError) Unwrap() error {
	return ErrChecksumMismatch
}

var framesMetric = promauto.NewCounterVec(prometheus.CounterOpts{
	Name: "casic_frames",
	Help: "CASIC frames seen on the GNSS UART, by outcome",
}, []string{"result"})

// Decoder implements the CASIC frame decoder state machine.
//
// Besides returning each valid frame, the decoder keeps edge-triggered
// flags for ACK, NACK and ephemeris frames. Each Take method returns true
// at most once per matching frame.
type Decoder struct {
	state      int
	class      uint8
	id         uint8
	length     int
	payload    []byte
	checksum   uint32
	cksumBytes int
	lastByte   time.Time

	last      *Frame
	newFrame  bool
	ack       bool
	nack      bool
	ephemeris bool
}

// NewDecoder creates a new CASIC decoder
func NewDecoder() *Decoder {
	return &Decoder{
		state:   stateIdle,
		payload: make([]byte, 0, MaxPayloadSize),
	}
}

// Reset drops any partial frame, the last frame and all pending flags
func (d *Decoder) Reset() {
	d.resetFrame()
	d.last = nil
	d.newFrame = false
	d.ack = false
	d.nack = false
	d.ephemeris = false
}

func (d *Decoder) resetFrame() {
	d.state = stateIdle
	d.class = 0
	d.id = 0
	d.length = 0
	d.payload = d.payload[:0]
	d.checksum = 0
	d.cksumBytes = 0
}

// Idle reports whether the decoder is between frames. Bytes seen while
// idle belong to the NMEA stream.
func (d *Decoder) Idle() bool {
	return d.state == stateIdle
}

// DecodeByte processes a single byte using the wall clock
func (d *Decoder) DecodeByte(b byte) (*Frame, error) {
	return d.DecodeByteAt(b, time.Now())
}

// DecodeByteAt processes a single byte received at now.
// Returns a completed frame when its checksum matches, or nil if the frame
// is incomplete. Returns an error when a frame is dropped.
func (d *Decoder) DecodeByteAt(b byte, now time.Time) (*Frame, error) {
	if d.state != stateIdle && now.Sub(d.lastByte) > FrameTimeout {
		framesMetric.WithLabelValues("timeout").Inc()
		d.resetFrame()
	}

	switch d.state {
	case stateIdle:
		if b == Header1 {
			d.state = stateSync
			d.lastByte = now
		}
		return nil, nil

	case stateSync:
		switch b {
		case Header2:
			d.state = stateLenLow
		case Header1:
			// Stay synced on a repeated first header byte
		default:
			d.resetFrame()
			return nil, nil
		}
		d.lastByte = now
		return nil, nil

	case stateLenLow:
		d.length = int(b)
		d.state = stateLenHigh
		d.lastByte = now
		return nil, nil

	case stateLenHigh:
		d.length |= int(b) << 8
		if d.length > MaxPayloadSize {
			length := d.length
			framesMetric.WithLabelValues("length").Inc()
			d.resetFrame()
			return nil, fmt.Errorf("%w: %d (max %d)", ErrPayloadTooLarge, length, MaxPayloadSize)
		}
		d.state = stateClass
		d.lastByte = now
		return nil, nil

	case stateClass:
		d.class = b
		d.state = stateID
		d.lastByte = now
		return nil, nil

	case stateID:
		d.id = b
		if d.length == 0 {
			d.state = stateChecksum
		} else {
			d.state = statePayload
		}
		d.lastByte = now
		return nil, nil

	case statePayload:
		d.payload = append(d.payload, b)
		if len(d.payload) >= d.length {
			d.state = stateChecksum
		}
		d.lastByte = now
		return nil, nil

	case stateChecksum:
		d.checksum |= uint32(b) << (8 * d.cksumBytes)
		d.cksumBytes++
		d.lastByte = now
		if d.cksumBytes < ChecksumSize {
			return nil, nil
		}
		return d.complete(now)

	default:
		d.resetFrame()
		return nil, fmt.Errorf("casic: invalid decoder state %d", d.state)
	}
}

func (d *Decoder) complete(now time.Time) (*Frame, error) {
	defer d.resetFrame()

	computed := CalculateChecksum(d.class, d.id, d.payload)
	if computed != d.checksum {
		framesMetric.WithLabelValues("checksum").Inc()
		return nil, &FrameError{Class: d.class, ID: d.id, Expected: computed, Actual: d.checksum}
	}

	payload := make([]byte, len(d.payload))
	copy(payload, d.payload)
	f := &Frame{
		class:     d.class,
		id:        d.id,
		payload:   payload,
		checksum:  d.checksum,
		timestamp: now,
	}

	d.last = f
	d.newFrame = true
	switch {
	case f.IsACK():
		d.ack = true
	case f.IsNACK():
		d.nack = true
	case f.IsEphemeris():
		d.ephemeris = true
	}
	framesMetric.WithLabelValues("valid").Inc()
	return f, nil
}

// LastFrame returns the most recent valid frame, or nil
func (d *Decoder) LastFrame() *Frame {
	return d.last
}

// TakeNewFrame reports and clears the "new valid frame" flag
func (d *Decoder) TakeNewFrame() bool {
	v := d.newFrame
	d.newFrame = false
	return v
}

// TakeACK reports and clears the "ACK arrived" flag
func (d *Decoder) TakeACK() bool {
	v := d.ack
	d.ack = false
	return v
}

// TakeNACK reports and clears the "NACK arrived" flag
func (d *Decoder) TakeNACK() bool {
	v := d.nack
	d.nack = false
	return v
}

// TakeEphemeris reports and clears the "ephemeris arrived" flag
func (d *Decoder) TakeEphemeris() bool {
	v := d.ephemeris
	d.ephemeris = false
	return v
}
