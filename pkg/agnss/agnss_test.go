// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2026 Kaz Walker, Thermoquad

package agnss

import (
	"bytes"
	"errors"
	"testing"
	"time"

	"github.com/Thermoquad/meridian/pkg/system"
)

var boot = time.Unix(0, 0)

func msg(b byte, n int) []byte {
	return bytes.Repeat([]byte{b}, n)
}

// ============================================================
// Queue Tests
// ============================================================

func TestSetQueue_Bounds(t *testing.T) {
	tooMany := make([][]byte, MaxMessages+1)
	for i := range tooMany {
		tooMany[i] = msg(1, 4)
	}

	tests := []struct {
		name     string
		msgs     [][]byte
		expected error
		pending  bool
	}{
		{"empty", nil, nil, false},
		{"one message", [][]byte{msg(1, 100)}, nil, true},
		{"max size", [][]byte{msg(1, MaxMessageSize)}, nil, true},
		{"too large", [][]byte{msg(1, 10), msg(1, MaxMessageSize+1)}, ErrMessageTooLarge, false},
		{"too many", tooMany, ErrTooManyMessages, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p := New(boot)
			p.SetQueue([][]byte{msg(9, 4)})

			err := p.SetQueue(tt.msgs)
			if !errors.Is(err, tt.expected) {
				t.Fatalf("SetQueue error = %v, expected %v", err, tt.expected)
			}
			n, pending := p.Len()
			if pending != tt.pending {
				t.Errorf("pending = %v, expected %v", pending, tt.pending)
			}
			if err != nil && n != 0 {
				t.Errorf("failed SetQueue must leave the queue empty, got %d", n)
			}
		})
	}
}

func TestSetQueue_CopiesMessages(t *testing.T) {
	p := New(boot)
	m := msg(1, 8)
	p.SetQueue([][]byte{m})
	m[0] = 0xFF

	first, _ := p.Start(boot.Add(TriggerDelay), system.StateIdle)
	if first[0] != 1 {
		t.Error("queue must not alias the caller's buffer")
	}
}

// ============================================================
// Trigger Tests
// ============================================================

func TestShouldTrigger(t *testing.T) {
	p := New(boot)
	p.SetQueue([][]byte{msg(1, 4)})

	if p.ShouldTrigger(boot.Add(TriggerDelay-time.Millisecond), system.StateIdle) {
		t.Error("must not trigger before the boot delay")
	}
	if !p.ShouldTrigger(boot.Add(TriggerDelay), system.StateIdle) {
		t.Error("should trigger once the boot delay has passed")
	}
	if p.ShouldTrigger(boot.Add(TriggerDelay), system.StateAGNSS) {
		t.Error("must not trigger while already processing")
	}

	p.Start(boot.Add(TriggerDelay), system.StateIdle)
	if p.ShouldTrigger(boot.Add(time.Hour), system.StateIdle) {
		t.Error("starting clears the pending flag")
	}
}

func TestStart_EmptyQueue(t *testing.T) {
	p := New(boot)
	if _, ok := p.Start(boot, system.StateIdle); ok {
		t.Error("Start on an empty queue should report false")
	}
}

// ============================================================
// Transaction Tests
// ============================================================

func TestAckSequence(t *testing.T) {
	p := New(boot)
	p.SetQueue([][]byte{msg(1, 100), msg(2, 100)})
	now := boot.Add(TriggerDelay)

	first, ok := p.Start(now, system.StateTracking)
	if !ok || first[0] != 1 {
		t.Fatal("expected first message")
	}
	p.MarkSent(now)

	second, ok := p.AckNext()
	if !ok || second[0] != 2 {
		t.Fatal("expected second message after ACK")
	}
	if p.MessageTimedOut(now.Add(time.Hour)) {
		t.Error("ACK should stop the message timer")
	}

	if _, ok := p.AckNext(); ok {
		t.Error("batch should be complete after the last ACK")
	}
	if got := p.Finish(); got != system.StateTracking {
		t.Errorf("Finish() = %v, expected TRACKING", got)
	}
	if n, pending := p.Len(); n != 0 || pending {
		t.Errorf("queue should be empty after Finish, got %d pending=%v", n, pending)
	}
}

func TestRetryExhaustionAdvances(t *testing.T) {
	p := New(boot)
	p.SetQueue([][]byte{msg(1, 4), msg(2, 4)})
	p.Start(boot, system.StateIdle)

	writes := 1
	for {
		m, ok := p.RetryOrAdvance()
		if !ok {
			t.Fatal("second message should follow the abandoned first")
		}
		writes++
		if m[0] == 2 {
			break
		}
	}
	if writes != MaxRetries+1 {
		t.Errorf("first message written %d times, expected %d", writes-1, MaxRetries)
	}
	if index, retry := p.Index(); index != 1 || retry != 0 {
		t.Errorf("index/retry = %d/%d, expected 1/0", index, retry)
	}
}

func TestRetryExhaustionLastMessageCompletes(t *testing.T) {
	p := New(boot)
	p.SetQueue([][]byte{msg(1, 4)})
	p.Start(boot, system.StateIdle)

	results := []bool{}
	for i := 0; i < MaxRetries; i++ {
		_, ok := p.RetryOrAdvance()
		results = append(results, ok)
	}

	expected := []bool{true, true, false}
	for i := range expected {
		if results[i] != expected[i] {
			t.Errorf("retry %d: ok = %v, expected %v", i+1, results[i], expected[i])
		}
	}
}

func TestTimeouts(t *testing.T) {
	p := New(boot)
	p.SetQueue([][]byte{msg(1, 4)})

	if p.MessageTimedOut(boot.Add(time.Hour)) || p.TotalTimedOut(boot.Add(time.Hour)) {
		t.Error("timers must be idle before Start")
	}

	start := boot.Add(TriggerDelay)
	p.Start(start, system.StateIdle)
	if p.MessageTimedOut(start.Add(time.Hour)) {
		t.Error("message timer runs only after MarkSent")
	}

	p.MarkSent(start)
	if p.MessageTimedOut(start) {
		t.Error("no time has elapsed")
	}
	if !p.MessageTimedOut(start.Add(MessageTimeout)) {
		t.Error("message timeout should fire")
	}
	if p.TotalTimedOut(start.Add(TotalTimeout - time.Second)) {
		t.Error("total timeout fired early")
	}
	if !p.TotalTimedOut(start.Add(TotalTimeout)) {
		t.Error("total timeout should fire")
	}
}

func TestNoteMotion(t *testing.T) {
	tests := []struct {
		saved    system.GPSState
		expected system.GPSState
	}{
		{system.StateIdle, system.StateTracking},
		{system.StateAnalyzingStillness, system.StateTracking},
		{system.StateSearching, system.StateSearching},
		{system.StateTracking, system.StateTracking},
	}

	for _, tt := range tests {
		t.Run(tt.saved.String(), func(t *testing.T) {
			p := New(boot)
			p.SetQueue([][]byte{msg(1, 4)})
			p.Start(boot, tt.saved)
			p.NoteMotion()
			if got := p.Finish(); got != tt.expected {
				t.Errorf("Finish() = %v, expected %v", got, tt.expected)
			}
		})
	}
}
