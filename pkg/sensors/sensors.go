// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2026 Kaz Walker, Thermoquad

// Package sensors runs the periodic samplers that feed the system
// snapshot: battery voltage, accelerometer stillness, and the pressure
// sensor.
package sensors

import (
	"context"
	"time"

	"golang.org/x/net/trace"
)

// Sampler is one periodic reading
type Sampler interface {
	Sample() error
}

// Run calls s.Sample every interval until ctx is cancelled. Failures are
// recorded on the /debug/events log and retried on the next tick.
func Run(ctx context.Context, name string, interval time.Duration, s Sampler) error {
	l := trace.NewEventLog("sensor", name)
	defer l.Finish()

	t := time.NewTicker(interval)
	defer t.Stop()
	for {
		if err := s.Sample(); err != nil {
			l.Errorf("sample: %v", err)
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-t.C:
		}
	}
}
