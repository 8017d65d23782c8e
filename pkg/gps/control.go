// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2026 Kaz Walker, Thermoquad

package gps

import (
	"math"
	"sync"
	"time"

	"github.com/Thermoquad/meridian/pkg/system"
)

// Control carries the two external requests that steer the state
// machine: a one-shot wakeup and a keep-alive deadline. It is shared
// between the machine and the BLE protocol.
type Control struct {
	mu       sync.Mutex
	sys      *system.System
	now      func() time.Time
	wake     bool
	deadline time.Time
}

// NewControl creates a control block writing through to sys
func NewControl(sys *system.System, now func() time.Time) *Control {
	if now == nil {
		now = time.Now
	}
	return &Control{sys: sys, now: now}
}

// TriggerWakeup raises the one-shot wakeup and marks the device as moving
func (c *Control) TriggerWakeup() {
	c.mu.Lock()
	c.wake = true
	c.mu.Unlock()
	c.sys.SetStationary(false)
}

// SetKeepAlive keeps the receiver on for the given number of minutes.
// Zero cancels; any other value also triggers a wakeup.
func (c *Control) SetKeepAlive(minutes uint16) {
	c.mu.Lock()
	if minutes == 0 {
		c.deadline = time.Time{}
	} else {
		c.deadline = c.now().Add(time.Duration(minutes) * time.Minute)
	}
	c.mu.Unlock()

	if minutes > 0 {
		c.TriggerWakeup()
	}
}

// KeepAliveRemaining returns the whole seconds left on the keep-alive
func (c *Control) KeepAliveRemaining() uint16 {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.deadline.IsZero() {
		return 0
	}
	left := c.deadline.Sub(c.now())
	if left <= 0 {
		return 0
	}
	secs := int64(left / time.Second)
	if secs > math.MaxUint16 {
		return math.MaxUint16
	}
	return uint16(secs)
}

// keepAliveActive reports whether the keep-alive holds at now, clearing
// an expired deadline
func (c *Control) keepAliveActive(now time.Time) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.deadline.IsZero() {
		return false
	}
	if !now.Before(c.deadline) {
		c.deadline = time.Time{}
		return false
	}
	return true
}

func (c *Control) takeWakeup() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	woke := c.wake
	c.wake = false
	return woke
}
