// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2026 Kaz Walker, Thermoquad

package casic

import (
	"bytes"
	"encoding/binary"
	"errors"
	"strings"
	"testing"
	"time"
)

// ============================================================
// Test Helpers
// ============================================================

// feed pushes every byte through the decoder and returns the valid frames
func feed(d *Decoder, data []byte) []*Frame {
	var frames []*Frame
	for _, b := range data {
		f, _ := d.DecodeByte(b)
		if f != nil {
			frames = append(frames, f)
		}
	}
	return frames
}

func mustEncode(t *testing.T, class, id uint8, payload []byte) []byte {
	t.Helper()
	frame, err := Encode(class, id, payload)
	if err != nil {
		t.Fatalf("Encode failed: %v", err)
	}
	return frame
}

// ackFrame is the literal ACK frame from the receiver datasheet example
func ackFrame() []byte {
	payload := []byte{0x01, 0x02, 0x03, 0x04, 0x05, 0x06, 0x07, 0x08}
	cksum := uint32(0x01)<<24 | uint32(0x05)<<16 | 0x0008
	cksum += 0x04030201
	cksum += 0x08070605
	frame := []byte{0xBA, 0xCE, 0x08, 0x00, 0x05, 0x01}
	frame = append(frame, payload...)
	return binary.LittleEndian.AppendUint32(frame, cksum)
}

// ============================================================
// Checksum Tests
// ============================================================

func TestCalculateChecksum_Empty(t *testing.T) {
	got := CalculateChecksum(0x06, 0x02, nil)
	want := uint32(0x02)<<24 | uint32(0x06)<<16
	if got != want {
		t.Errorf("checksum of empty payload: expected 0x%08X, got 0x%08X", want, got)
	}
}

func TestCalculateChecksum_Wraps(t *testing.T) {
	payload := []byte{0xFF, 0xFF, 0xFF, 0xFF, 0xFF, 0xFF, 0xFF, 0xFF}
	got := CalculateChecksum(0xFF, 0xFF, payload)
	want := uint32(0xFF)<<24 + uint32(0xFF)<<16 + 8
	want += 0xFFFFFFFF
	want += 0xFFFFFFFF
	if got != want {
		t.Errorf("expected wrapping sum 0x%08X, got 0x%08X", want, got)
	}
}

func TestCalculateChecksum_IgnoresPartialWord(t *testing.T) {
	full := CalculateChecksum(0x01, 0x02, []byte{1, 2, 3, 4})
	partial := CalculateChecksum(0x01, 0x02, []byte{1, 2, 3, 4, 9, 9})
	if partial-full != 2 {
		t.Errorf("trailing bytes should only change the length term, delta=%d", partial-full)
	}
}

// ============================================================
// Decoder Tests
// ============================================================

func TestDecoder_AckHappyPath(t *testing.T) {
	d := NewDecoder()
	frames := feed(d, ackFrame())

	if len(frames) != 1 {
		t.Fatalf("expected 1 frame, got %d", len(frames))
	}
	if !frames[0].IsACK() {
		t.Errorf("expected ACK frame, got %02X/%02X", frames[0].Class(), frames[0].ID())
	}
	if !d.TakeACK() {
		t.Error("ACK flag should be set after an ACK frame")
	}
	if d.TakeACK() {
		t.Error("ACK flag should clear once consumed")
	}
	if d.TakeNACK() || d.TakeEphemeris() {
		t.Error("only the ACK flag should be raised")
	}
}

func TestDecoder_Flags(t *testing.T) {
	tests := []struct {
		name      string
		class, id uint8
		ack       bool
		nack      bool
		ephemeris bool
	}{
		{"ack", ClassACK, MsgACK, true, false, false},
		{"nack", ClassACK, MsgNACK, false, true, false},
		{"gps ephemeris", ClassMSG, MsgGPSEPH, false, false, true},
		{"bds ephemeris", ClassMSG, MsgBDSEPH, false, false, true},
		{"gps utc", ClassMSG, MsgGPSUTC, false, false, false},
		{"nav", ClassNAV, 0x03, false, false, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			d := NewDecoder()
			frames := feed(d, mustEncode(t, tt.class, tt.id, []byte{0, 0, 0, 0}))
			if len(frames) != 1 {
				t.Fatalf("expected 1 frame, got %d", len(frames))
			}
			if got := d.TakeACK(); got != tt.ack {
				t.Errorf("ACK flag: expected %v, got %v", tt.ack, got)
			}
			if got := d.TakeNACK(); got != tt.nack {
				t.Errorf("NACK flag: expected %v, got %v", tt.nack, got)
			}
			if got := d.TakeEphemeris(); got != tt.ephemeris {
				t.Errorf("ephemeris flag: expected %v, got %v", tt.ephemeris, got)
			}
			if !d.TakeNewFrame() {
				t.Error("new-frame flag should be set")
			}
		})
	}
}

func TestDecoder_ChecksumMismatch(t *testing.T) {
	frame := ackFrame()
	frame[len(frame)-1] ^= 0x01

	d := NewDecoder()
	var lastErr error
	for _, b := range frame {
		f, err := d.DecodeByte(b)
		if f != nil {
			t.Fatal("frame with a bad checksum must not be surfaced")
		}
		if err != nil {
			lastErr = err
		}
	}

	var fe *FrameError
	if !errors.As(lastErr, &fe) {
		t.Fatalf("expected FrameError, got %v", lastErr)
	}
	if !errors.Is(lastErr, ErrChecksumMismatch) {
		t.Error("FrameError should match ErrChecksumMismatch")
	}
	if fe.Class != ClassACK || fe.ID != MsgACK {
		t.Errorf("error should name the frame, got %02X/%02X", fe.Class, fe.ID)
	}
	if d.TakeACK() {
		t.Error("ACK flag must not be raised by an invalid frame")
	}
	if !d.Idle() {
		t.Error("decoder should be idle after a dropped frame")
	}
}

func TestDecoder_LengthTooLarge(t *testing.T) {
	d := NewDecoder()
	var lastErr error
	for _, b := range []byte{0xBA, 0xCE, 0x04, 0x01} { // 260 bytes
		if _, err := d.DecodeByte(b); err != nil {
			lastErr = err
		}
	}
	if !errors.Is(lastErr, ErrPayloadTooLarge) {
		t.Errorf("expected ErrPayloadTooLarge, got %v", lastErr)
	}
	if !d.Idle() {
		t.Error("decoder should return to idle")
	}
}

func TestDecoder_RepeatedHeaderByte(t *testing.T) {
	d := NewDecoder()
	data := append([]byte{0xBA, 0xBA, 0xBA}, ackFrame()[1:]...)
	if frames := feed(d, data); len(frames) != 1 {
		t.Errorf("repeated 0xBA should keep sync, got %d frames", len(frames))
	}
}

func TestDecoder_BadSecondHeaderByte(t *testing.T) {
	d := NewDecoder()
	feed(d, []byte{0xBA, 0x24})
	if !d.Idle() {
		t.Error("decoder should drop back to idle on a bad sync byte")
	}
}

func TestDecoder_ZeroLengthFrame(t *testing.T) {
	d := NewDecoder()
	frames := feed(d, mustEncode(t, ClassAID, MsgAIDINI, nil))
	if len(frames) != 1 {
		t.Fatalf("expected 1 frame, got %d", len(frames))
	}
	if len(frames[0].Payload()) != 0 {
		t.Errorf("expected empty payload, got %d bytes", len(frames[0].Payload()))
	}
}

func TestDecoder_Timeout(t *testing.T) {
	d := NewDecoder()
	frame := ackFrame()
	start := time.Unix(1_700_000_000, 0)

	for _, b := range frame[:6] {
		d.DecodeByteAt(b, start)
	}
	late := start.Add(FrameTimeout + time.Second)
	for _, b := range frame[6:] {
		if f, _ := d.DecodeByteAt(b, late); f != nil {
			t.Fatal("a frame interrupted by a long gap must not be surfaced")
		}
	}

	// The decoder recovers for the next frame
	for _, b := range frame {
		late = late.Add(time.Millisecond)
		if f, _ := d.DecodeByteAt(b, late); f != nil {
			return
		}
	}
	t.Error("decoder did not recover after the timeout")
}

func TestDecoder_GapWithinTimeout(t *testing.T) {
	d := NewDecoder()
	now := time.Unix(1_700_000_000, 0)
	var got *Frame
	for _, b := range ackFrame() {
		now = now.Add(FrameTimeout - time.Second)
		if f, _ := d.DecodeByteAt(b, now); f != nil {
			got = f
		}
	}
	if got == nil {
		t.Error("gaps below the timeout must not drop the frame")
	}
}

func TestDecoder_Reset(t *testing.T) {
	d := NewDecoder()
	feed(d, ackFrame())
	feed(d, []byte{0xBA, 0xCE, 0x04})
	d.Reset()

	if !d.Idle() {
		t.Error("Reset should return to idle")
	}
	if d.TakeACK() || d.TakeNewFrame() {
		t.Error("Reset should clear pending flags")
	}
	if d.LastFrame() != nil {
		t.Error("Reset should clear the last frame")
	}
}

func TestDecoder_InterleavedNMEA(t *testing.T) {
	d := NewDecoder()
	data := []byte("$GNRMC,,V,,,,,,,,,,N*4D\r\n")
	data = append(data, ackFrame()...)
	data = append(data, []byte("$GNGGA,,,,,,0,00,99.99,,,,,,*56\r\n")...)

	frames := feed(d, data)
	if len(frames) != 1 {
		t.Errorf("expected exactly one CASIC frame among NMEA, got %d", len(frames))
	}
}

// ============================================================
// Encoder Tests
// ============================================================

func TestEncode_MatchesLiteralFrame(t *testing.T) {
	got := mustEncode(t, ClassACK, MsgACK, []byte{1, 2, 3, 4, 5, 6, 7, 8})
	if !bytes.Equal(got, ackFrame()) {
		t.Errorf("encoded frame mismatch:\n got % X\nwant % X", got, ackFrame())
	}
}

func TestEncode_Errors(t *testing.T) {
	if _, err := Encode(ClassAID, MsgAIDINI, make([]byte, MaxPayloadSize+4)); !errors.Is(err, ErrPayloadTooLarge) {
		t.Errorf("expected ErrPayloadTooLarge, got %v", err)
	}
	if _, err := Encode(ClassAID, MsgAIDINI, make([]byte, 6)); err == nil {
		t.Error("expected error for a payload that is not word aligned")
	}
}

func TestEncodeFrame_RoundTrip(t *testing.T) {
	f := NewFrame(ClassMSG, MsgGPSEPH, bytes.Repeat([]byte{0xA5}, 72))
	data, err := EncodeFrame(f)
	if err != nil {
		t.Fatalf("EncodeFrame failed: %v", err)
	}
	frames := feed(NewDecoder(), data)
	if len(frames) != 1 {
		t.Fatalf("expected 1 frame, got %d", len(frames))
	}
	if frames[0].Checksum() != f.Checksum() {
		t.Errorf("checksum mismatch: 0x%08X vs 0x%08X", frames[0].Checksum(), f.Checksum())
	}
	if !bytes.Equal(frames[0].Payload(), f.Payload()) {
		t.Error("payload mismatch")
	}
}

func TestSplit(t *testing.T) {
	a := mustEncode(t, ClassMSG, MsgGPSEPH, make([]byte, 72))
	b := mustEncode(t, ClassMSG, MsgBDSEPH, make([]byte, 92))
	c := mustEncode(t, ClassAID, MsgAIDINI, make([]byte, 56))

	var batch []byte
	batch = append(batch, a...)
	batch = append(batch, 0x00, 0xBA, 0x11) // garbage between frames
	batch = append(batch, b...)
	batch = append(batch, c...)

	frames := Split(batch)
	if len(frames) != 3 {
		t.Fatalf("expected 3 frames, got %d", len(frames))
	}
	for i, want := range [][]byte{a, b, c} {
		if !bytes.Equal(frames[i], want) {
			t.Errorf("frame %d not returned unmodified", i)
		}
	}
}

// ============================================================
// Events Tests
// ============================================================

func TestEvents_TakeAckPrefersACK(t *testing.T) {
	d := NewDecoder()
	var e Events

	feed(d, mustEncode(t, ClassACK, MsgNACK, []byte{0x0B, 0x01, 0, 0}))
	e.Collect(d)
	feed(d, ackFrame())
	e.Collect(d)

	if got := e.TakeAck(); got != AckOK {
		t.Errorf("expected ACK first, got %v", got)
	}
	if got := e.TakeAck(); got != AckRejected {
		t.Errorf("expected NACK second, got %v", got)
	}
	if got := e.TakeAck(); got != AckNone {
		t.Errorf("expected no more acknowledgements, got %v", got)
	}
}

func TestEvents_Drain(t *testing.T) {
	d := NewDecoder()
	var e Events

	feed(d, mustEncode(t, ClassMSG, MsgGPSEPH, make([]byte, 8)))
	e.Collect(d)
	feed(d, ackFrame())
	e.Collect(d)

	ack, nack, eph := e.Drain()
	if !ack || nack || !eph {
		t.Errorf("unexpected drain result ack=%v nack=%v eph=%v", ack, nack, eph)
	}
	if e.TakeAck() != AckNone {
		t.Error("drain should consume the ACK")
	}
	if e.LastFrame() == nil || !e.LastFrame().IsACK() {
		t.Error("last frame should be the ACK")
	}
}

func TestEvents_CollectWithoutFrame(t *testing.T) {
	var e Events
	e.Collect(NewDecoder())
	if e.LastFrame() != nil {
		t.Error("collecting from an idle decoder should not publish a frame")
	}
}

// ============================================================
// Formatter Tests
// ============================================================

func TestFormatFrame(t *testing.T) {
	f := NewFrame(ClassACK, MsgACK, []byte{ClassAID, MsgAIDINI, 0, 0})
	out := FormatFrame(f)
	if !strings.Contains(out, "ACK-ACK") {
		t.Errorf("expected message name in output: %q", out)
	}
	if !strings.Contains(out, "AID-INI") {
		t.Errorf("expected acknowledged message in output: %q", out)
	}
}

func TestFormatMessageName(t *testing.T) {
	tests := []struct {
		class, id uint8
		want      string
	}{
		{ClassMSG, MsgGPSEPH, "MSG-GPSEPH"},
		{ClassNAV, 0x03, "NAV-03"},
		{0x7F, 0x00, "UNKNOWN"},
	}
	for _, tt := range tests {
		if got := FormatMessageName(tt.class, tt.id); got != tt.want {
			t.Errorf("FormatMessageName(%02X, %02X) = %q, want %q", tt.class, tt.id, got, tt.want)
		}
	}
}
