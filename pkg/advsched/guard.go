// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2026 Kaz Walker, Thermoquad

package advsched

import (
	"context"
	"sync"
)

// Guard is a held advertising grant
type Guard struct {
	s    *Scheduler
	p    Priority
	once sync.Once
	next Priority
	ok   bool
}

// Priority returns the priority the guard was granted at
func (g *Guard) Priority() Priority {
	return g.p
}

// Preempted fires when a higher-priority user wants the resource
func (g *Guard) Preempted() <-chan struct{} {
	return g.s.preempt[g.p]
}

// WaitPreempted blocks until the holder is preempted or ctx ends
func (g *Guard) WaitPreempted(ctx context.Context) error {
	select {
	case <-g.Preempted():
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Contended reports whether another user is waiting for the resource
func (g *Guard) Contended() bool {
	return g.s.contended(g.p)
}

// Release gives the resource up. It reports whether the resource went
// straight to the other background beacon, in which case the caller
// should sit out one AlternationSlice before acquiring again. Extra
// calls are no-ops.
func (g *Guard) Release() bool {
	g.once.Do(func() {
		g.next, g.ok = g.s.release(g.p)
	})
	return g.ok && g.p != MainAdv && g.next != MainAdv && g.next != g.p
}
