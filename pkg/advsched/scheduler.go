// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2026 Kaz Walker, Thermoquad

// Package advsched arbitrates the single BLE advertising set between the
// connectable advertiser and the offline-finding beacons.
//
// Preemption is cooperative. A holder must watch Guard.Preempted alongside
// its own work and call Release promptly when it fires; a holder that
// ignores it starves every higher-priority user.
package advsched

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Priority orders advertising users. Lower values win.
type Priority int

// Advertising priorities
const (
	MainAdv Priority = iota
	FindMyAdv
	FMDNAdv

	priorityCount = 3
)

// AlternationSlice is how long a background beacon advertises before
// yielding to the other one
const AlternationSlice = 5 * time.Second

func (p Priority) String() string {
	switch p {
	case MainAdv:
		return "main"
	case FindMyAdv:
		return "findmy"
	case FMDNAdv:
		return "fmdn"
	default:
		return fmt.Sprintf("UNKNOWN(%d)", int(p))
	}
}

var (
	grantsMetric = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "advsched_grants",
		Help: "Advertising resource grants by priority",
	}, []string{"priority"})
	preemptionsMetric = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "advsched_preemptions",
		Help: "Preemption signals sent to holders by priority",
	}, []string{"priority"})
)

// Scheduler hands the advertising resource to one holder at a time
type Scheduler struct {
	mu      sync.Mutex
	holder  Priority
	held    bool
	waiting [priorityCount]bool
	granted [priorityCount]bool // handed over by release, not yet claimed
	grant   [priorityCount]chan struct{}
	preempt [priorityCount]chan struct{}
}

// New creates an idle scheduler
func New() *Scheduler {
	s := &Scheduler{}
	for i := range s.grant {
		s.grant[i] = make(chan struct{}, 1)
		s.preempt[i] = make(chan struct{}, 1)
	}
	return s
}

// signal is an idempotent edge: a pending signal absorbs repeats
func signal(ch chan struct{}) {
	select {
	case ch <- struct{}{}:
	default:
	}
}

func drain(ch chan struct{}) {
	select {
	case <-ch:
	default:
	}
}

// Holder reports the current holder, if any
func (s *Scheduler) Holder() (Priority, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.holder, s.held
}

// Acquire blocks until the resource is granted at priority p. A
// lower-priority holder is signalled to yield. If ctx ends first the
// request is withdrawn and ctx's error returned.
func (s *Scheduler) Acquire(ctx context.Context, p Priority) (*Guard, error) {
	if p < 0 || p >= priorityCount {
		return nil, fmt.Errorf("advsched: invalid priority %d", int(p))
	}

	for {
		s.mu.Lock()
		switch {
		case !s.held:
			s.take(p)
			s.mu.Unlock()
			return &Guard{s: s, p: p}, nil
		case s.holder == p && s.granted[p]:
			s.granted[p] = false
			s.mu.Unlock()
			return &Guard{s: s, p: p}, nil
		case p < s.holder:
			signal(s.preempt[s.holder])
			preemptionsMetric.WithLabelValues(s.holder.String()).Inc()
			s.waiting[p] = true
		default:
			s.waiting[p] = true
		}
		s.mu.Unlock()

		select {
		case <-s.grant[p]:
		case <-ctx.Done():
			s.withdraw(p)
			return nil, ctx.Err()
		}
	}
}

// take makes p the holder. Caller holds s.mu.
func (s *Scheduler) take(p Priority) {
	s.holder = p
	s.held = true
	s.waiting[p] = false
	drain(s.preempt[p])
	grantsMetric.WithLabelValues(p.String()).Inc()
}

func (s *Scheduler) withdraw(p Priority) {
	s.mu.Lock()
	granted := s.held && s.holder == p && s.granted[p]
	s.waiting[p] = false
	s.granted[p] = false
	s.mu.Unlock()
	drain(s.grant[p])
	if granted {
		s.release(p)
	}
}

// release frees the resource and grants it to the next waiter. MainAdv
// always goes first; background users alternate. It reports the
// priority that was granted.
func (s *Scheduler) release(p Priority) (Priority, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.held || s.holder != p {
		return 0, false
	}
	s.held = false

	order := [3]Priority{MainAdv, FindMyAdv, FMDNAdv}
	if p == FindMyAdv {
		order = [3]Priority{MainAdv, FMDNAdv, FindMyAdv}
	}
	for _, next := range order {
		if s.waiting[next] {
			s.take(next)
			s.granted[next] = true
			signal(s.grant[next])
			return next, true
		}
	}
	return 0, false
}

func (s *Scheduler) contended(p Priority) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i, w := range s.waiting {
		if w && Priority(i) != p {
			return true
		}
	}
	return false
}
