// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2026 Kaz Walker, Thermoquad

// Package agnss holds the assisted-GNSS upload queue and the state of an
// upload in progress. The BLE protocol replaces the queue; the GPS state
// machine drives the transaction one message at a time.
package agnss

import (
	"errors"
	"sync"
	"time"

	"github.com/Thermoquad/meridian/pkg/system"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Queue bounds and timing
const (
	MaxMessages    = 70
	MaxMessageSize = 568
	MaxRetries     = 3

	TriggerDelay   = 10 * time.Second
	MessageTimeout = time.Millisecond
	TotalTimeout   = 10 * time.Minute
)

// Queue errors
var (
	ErrTooManyMessages = errors.New("agnss: too many messages")
	ErrMessageTooLarge = errors.New("agnss: message too large")
)

var (
	writesMetric = promauto.NewCounter(prometheus.CounterOpts{
		Name: "agnss_writes",
		Help: "AGNSS messages written to the receiver, including retries",
	})
	retriesMetric = promauto.NewCounter(prometheus.CounterOpts{
		Name: "agnss_retries",
		Help: "AGNSS message retries after a missing acknowledgement",
	})
	abandonedMetric = promauto.NewCounter(prometheus.CounterOpts{
		Name: "agnss_abandoned",
		Help: "AGNSS messages abandoned after exhausting retries",
	})
	batchesMetric = promauto.NewCounter(prometheus.CounterOpts{
		Name: "agnss_batches",
		Help: "AGNSS batches finished",
	})
)

// Pipeline is the AGNSS queue plus transaction state. Safe for concurrent use.
type Pipeline struct {
	mu   sync.Mutex
	boot time.Time

	queue   [][]byte
	pending bool

	index      int
	retry      int
	msgStart   time.Time
	totalStart time.Time
	previous   system.GPSState
}

// New creates an empty pipeline. Nothing is sent until TriggerDelay after boot.
func New(boot time.Time) *Pipeline {
	return &Pipeline{boot: boot, previous: system.StateIdle}
}

// SetQueue replaces the queue and arms it. On error the queue is left
// empty and disarmed.
func (p *Pipeline) SetQueue(msgs [][]byte) error {
	queue := make([][]byte, 0, len(msgs))
	var err error
	if len(msgs) > MaxMessages {
		err = ErrTooManyMessages
	}
	for _, m := range msgs {
		if err != nil {
			break
		}
		if len(m) > MaxMessageSize {
			err = ErrMessageTooLarge
			break
		}
		queue = append(queue, append([]byte(nil), m...))
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	if err != nil {
		p.queue = nil
		p.pending = false
		return err
	}
	p.queue = queue
	p.pending = len(queue) > 0
	return nil
}

// Len returns the number of queued messages and whether they await upload
func (p *Pipeline) Len() (int, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.queue), p.pending
}

// ShouldTrigger reports whether an upload should start now
func (p *Pipeline) ShouldTrigger(now time.Time, state system.GPSState) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return now.Sub(p.boot) >= TriggerDelay &&
		p.pending &&
		len(p.queue) > 0 &&
		state != system.StateAGNSS
}

// Start begins an upload, remembering the state to return to. It returns
// the first message, or false if the queue is empty.
func (p *Pipeline) Start(now time.Time, previous system.GPSState) ([]byte, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if len(p.queue) == 0 {
		return nil, false
	}
	p.previous = previous
	p.pending = false
	p.index = 0
	p.retry = 0
	p.msgStart = time.Time{}
	p.totalStart = now
	return p.queue[0], true
}

// MarkSent starts the acknowledgement timer for the current message
func (p *Pipeline) MarkSent(now time.Time) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.msgStart = now
	writesMetric.Inc()
}

// AckNext advances past an acknowledged message. It returns the next
// message, or false when the batch is done.
func (p *Pipeline) AckNext() ([]byte, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.advance()
}

func (p *Pipeline) advance() ([]byte, bool) {
	p.msgStart = time.Time{}
	p.index++
	p.retry = 0
	if p.index >= len(p.queue) {
		return nil, false
	}
	return p.queue[p.index], true
}

// RetryOrAdvance handles a missing acknowledgement. The current message is
// resent until it has been written MaxRetries times, then abandoned in
// favour of the next one.
func (p *Pipeline) RetryOrAdvance() ([]byte, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.retry++
	if p.retry >= MaxRetries {
		abandonedMetric.Inc()
		return p.advance()
	}
	if p.index >= len(p.queue) {
		return nil, false
	}
	retriesMetric.Inc()
	return p.queue[p.index], true
}

// Index returns the position of the message in flight and its retry count
func (p *Pipeline) Index() (index, retry int) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.index, p.retry
}

// MessageTimedOut reports whether the current message went unacknowledged
func (p *Pipeline) MessageTimedOut(now time.Time) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return !p.msgStart.IsZero() && now.Sub(p.msgStart) >= MessageTimeout
}

// TotalTimedOut reports whether the whole upload has run too long
func (p *Pipeline) TotalTimedOut(now time.Time) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return !p.totalStart.IsZero() && now.Sub(p.totalStart) >= TotalTimeout
}

// NoteMotion upgrades a saved resting state to Tracking so the machine
// resumes logging after the upload
func (p *Pipeline) NoteMotion() {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.previous == system.StateIdle || p.previous == system.StateAnalyzingStillness {
		p.previous = system.StateTracking
	}
}

// Finish ends the upload, empties the queue and returns the saved state
func (p *Pipeline) Finish() system.GPSState {
	p.mu.Lock()
	defer p.mu.Unlock()
	previous := p.previous
	p.queue = nil
	p.pending = false
	p.index = 0
	p.retry = 0
	p.msgStart = time.Time{}
	p.totalStart = time.Time{}
	batchesMetric.Inc()
	return previous
}
