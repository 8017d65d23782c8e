// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2026 Kaz Walker, Thermoquad

// Package timebase provides the wall clock used by the offline-finding
// engines. GPS time is authoritative; between fixes the last GPS
// timestamp is carried forward on the monotonic clock.
package timebase

import (
	"sync"
	"time"

	"github.com/Thermoquad/meridian/pkg/system"
)

// Clock anchors unix time to GPS readings
type Clock struct {
	sys *system.System
	now func() time.Time

	mu       sync.Mutex
	anchored bool
	unix     uint64
	mono     time.Time
}

// New creates a clock reading GPS time from sys. now supplies monotonic
// time and defaults to time.Now.
func New(sys *system.System, now func() time.Time) *Clock {
	if now == nil {
		now = time.Now
	}
	return &Clock{sys: sys, now: now}
}

// Unix returns the current unix time. A valid GPS reading re-anchors the
// clock. Without one the last anchor is extrapolated; false means the
// clock has never been anchored.
func (c *Clock) Unix() (uint64, bool) {
	info := c.sys.Snapshot()
	mono := c.now()

	c.mu.Lock()
	defer c.mu.Unlock()

	if ts, ok := info.UnixTime(); ok {
		c.anchored = true
		c.unix = uint64(ts)
		c.mono = mono
		return c.unix, true
	}
	if !c.anchored {
		return 0, false
	}
	elapsed := mono.Sub(c.mono)
	if elapsed < 0 {
		elapsed = 0
	}
	return c.unix + uint64(elapsed/time.Second), true
}

// Anchored reports whether a GPS timestamp has ever been seen
func (c *Clock) Anchored() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.anchored
}
