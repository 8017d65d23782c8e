// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2026 Kaz Walker, Thermoquad

// Package beacon runs the advertising loop shared by the offline-finding
// engines: wait for wall-clock time, take the radio from the scheduler,
// advertise the current rotation slot, and give the radio back on
// rotation, preemption or contention.
package beacon

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/Thermoquad/meridian/pkg/advsched"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// State is the diagnostic state of an engine
type State int32

// Diagnostic states
const (
	Disabled State = iota
	WaitingTime
	WaitingIdle
	Ready
	Advertising
	SetAddressFailed
	ConfigureFailed
	StartFailed
)

func (s State) String() string {
	switch s {
	case Disabled:
		return "DISABLED"
	case WaitingTime:
		return "WAITING_GPS_TIME"
	case WaitingIdle:
		return "WAITING_BLE_IDLE"
	case Ready:
		return "READY"
	case Advertising:
		return "ADVERTISING"
	case SetAddressFailed:
		return "SET_ADDR_FAILED"
	case ConfigureFailed:
		return "ADV_CONFIGURE_FAILED"
	case StartFailed:
		return "ADV_START_FAILED"
	default:
		return fmt.Sprintf("UNKNOWN(%d)", int32(s))
	}
}

// Default waits
const (
	TimeRetry     = 10 * time.Second
	FailureRetry  = 5 * time.Second
	DisabledPoll  = time.Second
	rotationSlack = time.Second
)

var rotationsMetric = promauto.NewCounterVec(prometheus.CounterOpts{
	Name: "beacon_rotations",
	Help: "Advertised rotation slot changes by engine",
}, []string{"engine"})

// Frame is the advertisement for one rotation slot
type Frame struct {
	Beacon advsched.Beacon
	Slot   uint64

	// Rotation is the time left until the next slot boundary
	Rotation time.Duration
}

// Source builds the frames an engine advertises
type Source interface {
	Enabled() bool

	// Frame returns the advertisement for unix time ts. It returns false
	// when ts precedes the engine's provisioned epoch.
	Frame(ts uint64) (Frame, bool)
}

// Rotator is implemented by sources that persist state on slot changes
type Rotator interface {
	Rotated(slot uint64)
}

// Clock supplies wall-clock unix time. *timebase.Clock satisfies it.
type Clock interface {
	Unix() (uint64, bool)
}

// Config wires a runner
type Config struct {
	Name       string
	Priority   advsched.Priority
	Source     Source
	Clock      Clock
	Scheduler  *advsched.Scheduler
	Advertiser advsched.Advertiser
	Logger     *slog.Logger
}

// Runner is one engine's advertising task
type Runner struct {
	name   string
	prio   advsched.Priority
	src    Source
	clock  Clock
	sched  *advsched.Scheduler
	adv    advsched.Advertiser
	logger *slog.Logger

	timeRetry    time.Duration
	failureRetry time.Duration
	disabledPoll time.Duration
	slice        time.Duration

	state atomic.Int32
	wake  chan struct{}

	mu       sync.Mutex
	address  advsched.Address
	haveAddr bool
	slot     uint64
	haveSlot bool
}

// NewRunner creates a runner in the Disabled state
func NewRunner(cfg Config) *Runner {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Runner{
		name:         cfg.Name,
		prio:         cfg.Priority,
		src:          cfg.Source,
		clock:        cfg.Clock,
		sched:        cfg.Scheduler,
		adv:          cfg.Advertiser,
		logger:       logger.With("component", cfg.Name),
		timeRetry:    TimeRetry,
		failureRetry: FailureRetry,
		disabledPoll: DisabledPoll,
		slice:        advsched.AlternationSlice,
		wake:         make(chan struct{}, 1),
	}
}

// State returns the current diagnostic state
func (r *Runner) State() State {
	return State(r.state.Load())
}

func (r *Runner) setState(s State) {
	if State(r.state.Swap(int32(s))) != s {
		r.logger.Debug("beacon state", "state", s)
	}
}

// Address returns the address of the current slot, if one was derived
func (r *Runner) Address() (advsched.Address, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.address, r.haveAddr
}

// Wake interrupts any wait so the runner re-reads its source. Call it
// after enabling, disabling or re-provisioning.
func (r *Runner) Wake() {
	select {
	case r.wake <- struct{}{}:
	default:
	}
}

func (r *Runner) wait(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return nil
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-r.wake:
	case <-t.C:
	}
	return nil
}

// Run advertises until ctx is cancelled
func (r *Runner) Run(ctx context.Context) error {
	r.logger.Info("beacon task started", "priority", r.prio)
	defer r.setState(Disabled)

	for {
		if err := ctx.Err(); err != nil {
			return err
		}

		if !r.src.Enabled() {
			r.setState(Disabled)
			if err := r.wait(ctx, r.disabledPoll); err != nil {
				return err
			}
			continue
		}

		if _, ok := r.clock.Unix(); !ok {
			r.setState(WaitingTime)
			if err := r.wait(ctx, r.timeRetry); err != nil {
				return err
			}
			continue
		}

		r.setState(WaitingIdle)
		guard, err := r.sched.Acquire(ctx, r.prio)
		if err != nil {
			return err
		}
		pause, err := r.session(ctx, guard)
		if err != nil {
			return err
		}
		if err := r.wait(ctx, pause); err != nil {
			return err
		}
	}
}

// session advertises one slot while holding guard. It always releases
// the guard and returns how long to wait before the next attempt.
func (r *Runner) session(ctx context.Context, guard *advsched.Guard) (time.Duration, error) {
	if !r.src.Enabled() {
		guard.Release()
		return 0, nil
	}

	ts, ok := r.clock.Unix()
	if !ok {
		guard.Release()
		r.setState(WaitingTime)
		return r.timeRetry, nil
	}
	frame, ok := r.src.Frame(ts)
	if !ok {
		guard.Release()
		r.setState(WaitingTime)
		r.logger.Warn("unix time before epoch", "unix", ts)
		return r.timeRetry, nil
	}

	r.noteSlot(frame)
	r.setState(Ready)

	orig, origErr := r.adv.Address()
	restore := func() {
		if origErr != nil {
			return
		}
		if err := r.adv.SetAddress(orig); err != nil {
			r.logger.Warn("failed to restore address", "error", err)
		}
	}

	if err := r.adv.SetAddress(frame.Beacon.Address); err != nil {
		r.logger.Warn("set address failed", "error", err)
		r.setState(SetAddressFailed)
		guard.Release()
		return r.failureRetry, nil
	}
	if err := r.adv.Configure(frame.Beacon); err != nil {
		r.logger.Warn("advertising configure failed", "error", err)
		r.setState(ConfigureFailed)
		restore()
		guard.Release()
		return r.failureRetry, nil
	}
	if err := r.adv.Start(); err != nil {
		r.logger.Warn("advertising start failed", "error", err)
		r.setState(StartFailed)
		restore()
		guard.Release()
		return r.failureRetry, nil
	}

	r.setState(Advertising)
	r.logger.Info("advertising", "slot", frame.Slot, "address", FormatAddress(frame.Beacon.Address))
	holdErr := r.hold(ctx, guard, frame.Rotation+rotationSlack)

	if err := r.adv.Stop(); err != nil {
		r.logger.Warn("advertising stop failed", "error", err)
	}
	restore()
	handedOff := guard.Release()

	if holdErr != nil {
		return 0, holdErr
	}
	if handedOff {
		return r.slice, nil
	}
	return 0, nil
}

// hold keeps advertising until rotation, preemption, a wake request, or
// another background user has waited one alternation slice
func (r *Runner) hold(ctx context.Context, guard *advsched.Guard, rotation time.Duration) error {
	rotate := time.NewTimer(rotation)
	defer rotate.Stop()
	slice := time.NewTicker(r.slice)
	defer slice.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-guard.Preempted():
			r.logger.Info("preempted")
			return nil
		case <-r.wake:
			return nil
		case <-rotate.C:
			return nil
		case <-slice.C:
			if guard.Contended() {
				r.logger.Debug("yielding to waiting advertiser")
				return nil
			}
		}
	}
}

func (r *Runner) noteSlot(frame Frame) {
	r.mu.Lock()
	r.address = frame.Beacon.Address
	r.haveAddr = true
	changed := !r.haveSlot || r.slot != frame.Slot
	previous := r.slot
	r.slot = frame.Slot
	r.haveSlot = true
	r.mu.Unlock()

	if !changed {
		return
	}
	rotationsMetric.WithLabelValues(r.name).Inc()
	r.logger.Info("key rotated", "from", previous, "to", frame.Slot)
	if rot, ok := r.src.(Rotator); ok {
		rot.Rotated(frame.Slot)
	}
}

// FormatAddress renders an LSB-first address in the usual MSB-first form
func FormatAddress(a advsched.Address) string {
	return fmt.Sprintf("%02X:%02X:%02X:%02X:%02X:%02X", a[5], a[4], a[3], a[2], a[1], a[0])
}
