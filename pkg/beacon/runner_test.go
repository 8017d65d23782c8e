// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2026 Kaz Walker, Thermoquad

package beacon

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/Thermoquad/meridian/pkg/advsched"
)

// ============================================================
// Fakes
// ============================================================

type fakeAdvertiser struct {
	mu           sync.Mutex
	identity     advsched.Address
	current      advsched.Address
	configured   []advsched.Beacon
	running      bool
	starts       int
	stops        int
	configureErr error
	setErr       error
}

func (a *fakeAdvertiser) Address() (advsched.Address, error) {
	return a.identity, nil
}

func (a *fakeAdvertiser) SetAddress(addr advsched.Address) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.setErr != nil {
		return a.setErr
	}
	a.current = addr
	return nil
}

func (a *fakeAdvertiser) Configure(b advsched.Beacon) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.configureErr != nil {
		return a.configureErr
	}
	a.configured = append(a.configured, b)
	return nil
}

func (a *fakeAdvertiser) Start() error {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.running = true
	a.starts++
	return nil
}

func (a *fakeAdvertiser) Stop() error {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.running = false
	a.stops++
	return nil
}

func (a *fakeAdvertiser) snapshot() (current advsched.Address, running bool, starts, stops int) {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.current, a.running, a.starts, a.stops
}

type fakeSource struct {
	enabled atomic.Bool
	epoch   uint64
	rotated atomic.Int32
}

func (s *fakeSource) Enabled() bool { return s.enabled.Load() }

func (s *fakeSource) Frame(ts uint64) (Frame, bool) {
	if ts < s.epoch {
		return Frame{}, false
	}
	return Frame{
		Beacon: advsched.Beacon{
			Address:  advsched.Address{1, 2, 3, 4, 5, 0xC6},
			Interval: 2 * time.Second,
		},
		Slot:     ts / 900,
		Rotation: time.Hour,
	}, true
}

func (s *fakeSource) Rotated(slot uint64) { s.rotated.Add(1) }

type fakeClock struct {
	ts atomic.Uint64
}

func (c *fakeClock) Unix() (uint64, bool) {
	ts := c.ts.Load()
	return ts, ts != 0
}

type fixture struct {
	r     *Runner
	adv   *fakeAdvertiser
	src   *fakeSource
	clock *fakeClock
	sched *advsched.Scheduler
}

func newFixture() *fixture {
	f := &fixture{
		adv:   &fakeAdvertiser{identity: advsched.Address{0xAA, 0xBB, 0xCC, 0xDD, 0xEE, 0xFF}},
		src:   &fakeSource{},
		clock: &fakeClock{},
		sched: advsched.New(),
	}
	f.src.enabled.Store(true)
	f.r = NewRunner(Config{
		Name:       "test",
		Priority:   advsched.FMDNAdv,
		Source:     f.src,
		Clock:      f.clock,
		Scheduler:  f.sched,
		Advertiser: f.adv,
	})
	f.r.timeRetry = 5 * time.Millisecond
	f.r.failureRetry = 5 * time.Millisecond
	f.r.disabledPoll = 5 * time.Millisecond
	return f
}

func (f *fixture) start(t *testing.T) (cancel func()) {
	t.Helper()
	ctx, stop := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- f.r.Run(ctx) }()
	return func() {
		stop()
		select {
		case err := <-done:
			if !errors.Is(err, context.Canceled) {
				t.Errorf("Run() = %v, want context.Canceled", err)
			}
		case <-time.After(time.Second):
			t.Error("Run did not stop")
		}
	}
}

func eventually(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", what)
}

// ============================================================
// Runner Tests
// ============================================================

func TestRunner_Disabled(t *testing.T) {
	f := newFixture()
	f.src.enabled.Store(false)
	f.clock.ts.Store(1_700_000_000)
	stop := f.start(t)
	defer stop()

	time.Sleep(20 * time.Millisecond)
	if f.r.State() != Disabled {
		t.Errorf("state = %v, want DISABLED", f.r.State())
	}
	if _, ok := f.sched.Holder(); ok {
		t.Error("disabled runner must not take the radio")
	}
}

func TestRunner_WaitsForTime(t *testing.T) {
	f := newFixture()
	stop := f.start(t)
	defer stop()

	eventually(t, "WAITING_GPS_TIME", func() bool { return f.r.State() == WaitingTime })

	f.clock.ts.Store(1_700_000_000)
	f.r.Wake()
	eventually(t, "ADVERTISING", func() bool { return f.r.State() == Advertising })
}

func TestRunner_BeforeEpoch(t *testing.T) {
	f := newFixture()
	f.src.epoch = 2_000_000_000
	f.clock.ts.Store(1_700_000_000)
	stop := f.start(t)
	defer stop()

	eventually(t, "WAITING_GPS_TIME", func() bool { return f.r.State() == WaitingTime })
	if _, _, starts, _ := f.adv.snapshot(); starts != 0 {
		t.Error("advertising started before the epoch")
	}
}

func TestRunner_AdvertisesAndRestores(t *testing.T) {
	f := newFixture()
	f.clock.ts.Store(1_700_000_000)
	stop := f.start(t)

	eventually(t, "ADVERTISING", func() bool { return f.r.State() == Advertising })
	current, running, _, _ := f.adv.snapshot()
	if !running || current != (advsched.Address{1, 2, 3, 4, 5, 0xC6}) {
		t.Errorf("running=%v address=%v", running, current)
	}
	if holder, ok := f.sched.Holder(); !ok || holder != advsched.FMDNAdv {
		t.Error("runner should hold the radio while advertising")
	}
	if f.src.rotated.Load() != 1 {
		t.Errorf("Rotated called %d times, want 1", f.src.rotated.Load())
	}
	if addr, ok := f.r.Address(); !ok || FormatAddress(addr) != "C6:05:04:03:02:01" {
		t.Errorf("Address() = %v/%v", addr, ok)
	}

	stop()
	current, running, _, stops := f.adv.snapshot()
	if running || stops != 1 {
		t.Errorf("advertising not stopped: running=%v stops=%d", running, stops)
	}
	if current != f.adv.identity {
		t.Error("identity address not restored")
	}
	if _, ok := f.sched.Holder(); ok {
		t.Error("radio not released")
	}
}

func TestRunner_ConfigureFailure(t *testing.T) {
	f := newFixture()
	f.adv.configureErr = errors.New("no advertising set")
	f.clock.ts.Store(1_700_000_000)
	stop := f.start(t)
	defer stop()

	eventually(t, "ADV_CONFIGURE_FAILED", func() bool { return f.r.State() == ConfigureFailed })
	if current, _, _, _ := f.adv.snapshot(); current != f.adv.identity {
		t.Error("identity address not restored after a configure failure")
	}
}

func TestRunner_SetAddressFailure(t *testing.T) {
	f := newFixture()
	f.adv.setErr = errors.New("address rejected")
	f.clock.ts.Store(1_700_000_000)
	stop := f.start(t)
	defer stop()

	eventually(t, "SET_ADDR_FAILED", func() bool { return f.r.State() == SetAddressFailed })
	if _, _, starts, _ := f.adv.snapshot(); starts != 0 {
		t.Error("advertising started without an address")
	}
	// the radio is released between retries
	eventually(t, "scheduler released", func() bool {
		_, held := f.sched.Holder()
		return !held
	})
}

func TestRunner_Preempted(t *testing.T) {
	f := newFixture()
	f.clock.ts.Store(1_700_000_000)
	stop := f.start(t)
	defer stop()

	eventually(t, "ADVERTISING", func() bool { return f.r.State() == Advertising })

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	guard, err := f.sched.Acquire(ctx, advsched.MainAdv)
	if err != nil {
		t.Fatalf("MainAdv acquire failed: %v", err)
	}
	if _, running, _, _ := f.adv.snapshot(); running {
		t.Error("beacon still advertising after yielding")
	}
	guard.Release()

	// The runner takes the radio back afterwards.
	eventually(t, "re-advertising", func() bool {
		_, _, starts, _ := f.adv.snapshot()
		return starts >= 2
	})
}

func TestState_String(t *testing.T) {
	if Advertising.String() != "ADVERTISING" || State(42).String() != "UNKNOWN(42)" {
		t.Error("unexpected state names")
	}
}
