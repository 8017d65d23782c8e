// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2026 Kaz Walker, Thermoquad

// Package gps runs the receiver's duty cycle. A tick-driven state machine
// decides when the receiver is powered, logs fixes while moving, and
// sequences AGNSS uploads.
package gps

import (
	"context"
	"log/slog"
	"time"

	"github.com/Thermoquad/meridian/pkg/agnss"
	"github.com/Thermoquad/meridian/pkg/casic"
	"github.com/Thermoquad/meridian/pkg/system"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"periph.io/x/conn/v3/gpio"
)

// Timing and thresholds
const (
	TickInterval = 200 * time.Millisecond

	ColdStartFixTimeout = 90 * time.Second
	ReacquireFixTimeout = 30 * time.Second
	StillnessConfirm    = 60 * time.Second
	StillnessQuery      = 5 * time.Second
	SampleInterval      = time.Second

	VehicleSpeed   = 5.0 // km/h
	MaxFixFailures = 16
	powerOnDelay   = 100 * time.Millisecond
)

var transitionsMetric = promauto.NewCounterVec(prometheus.CounterOpts{
	Name: "gps_transitions",
	Help: "GPS state machine transitions",
}, []string{"from", "to"})

// PointSink receives logged fixes. *logstore.Store satisfies it.
type PointSink interface {
	AppendPoint(ts uint32, lat, lon float64, alt float32) error
}

// ParserResetter resets the RX parsers. *gnss.Receiver satisfies it.
type ParserResetter interface {
	RequestReset()
}

// Position is the last fix the machine acted on
type Position struct {
	Time      uint32
	Latitude  float64
	Longitude float64
	Altitude  float32
	HDOP      float32
}

// Config collects the machine's collaborators
type Config struct {
	System  *system.System
	Events  *casic.Events
	AGNSS   *agnss.Pipeline
	Control *Control
	UART    UART
	Power   gpio.PinOut
	Sink    PointSink
	Parser  ParserResetter
	Logger  *slog.Logger

	// Sleep overrides the blocking delay used after power-on and between
	// configuration sentences
	Sleep func(ctx context.Context, d time.Duration) error
	Now   func() time.Time
}

// Machine is the GPS duty-cycle controller. Step must be called from a
// single goroutine.
type Machine struct {
	sys    *system.System
	events *casic.Events
	agnss  *agnss.Pipeline
	ctl    *Control
	uart   UART
	power  gpio.PinOut
	sink   PointSink
	parser ParserResetter
	logger *slog.Logger
	sleep  func(ctx context.Context, d time.Duration) error
	now    func() time.Time

	stillnessStart time.Time
	sampleStart    time.Time
	fixStart       time.Time
	queryStart     time.Time

	failures   int
	poweredOn  bool
	firstCycle bool
	last       Position
}

// New creates a machine in the Initializing state
func New(cfg Config) *Machine {
	m := &Machine{
		sys:        cfg.System,
		events:     cfg.Events,
		agnss:      cfg.AGNSS,
		ctl:        cfg.Control,
		uart:       cfg.UART,
		power:      cfg.Power,
		sink:       cfg.Sink,
		parser:     cfg.Parser,
		logger:     cfg.Logger,
		sleep:      cfg.Sleep,
		now:        cfg.Now,
		firstCycle: true,
	}
	if m.logger == nil {
		m.logger = slog.Default()
	}
	m.logger = m.logger.With("component", "gps")
	if m.sleep == nil {
		m.sleep = sleepCtx
	}
	if m.now == nil {
		m.now = time.Now
	}
	if m.ctl == nil {
		m.ctl = NewControl(m.sys, m.now)
	}
	return m
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

// Control returns the wakeup and keep-alive block
func (m *Machine) Control() *Control {
	return m.ctl
}

// LastPosition returns the most recent fix the machine recorded
func (m *Machine) LastPosition() Position {
	return m.last
}

// Run configures the receiver and steps the machine every TickInterval
// until ctx is cancelled
func (m *Machine) Run(ctx context.Context) error {
	m.sys.SetGPSState(system.StateInitializing)
	if err := m.Configure(ctx); err != nil {
		return err
	}
	m.Initialize()

	ticker := time.NewTicker(TickInterval)
	defer ticker.Stop()
	for {
		if err := m.Step(ctx, m.now()); err != nil {
			return err
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
	}
}

// Initialize powers the receiver off and enters Idle
func (m *Machine) Initialize() {
	m.powerOff()
	m.resetTimers()
	m.firstCycle = true
	m.transition(system.StateInitializing, system.StateIdle, "init")
}

func (m *Machine) resetTimers() {
	m.stillnessStart = time.Time{}
	m.sampleStart = time.Time{}
	m.fixStart = time.Time{}
	m.queryStart = time.Time{}
}

func elapsed(start, now time.Time, d time.Duration) bool {
	return !start.IsZero() && now.Sub(start) >= d
}

func (m *Machine) transition(from, to system.GPSState, reason string) {
	m.sys.SetGPSState(to)
	transitionsMetric.WithLabelValues(from.String(), to.String()).Inc()
	m.logger.Info("GPS state transition", "from", from, "to", to, "reason", reason)
}

func (m *Machine) setPower(on bool) error {
	level := gpio.Low
	if on {
		level = gpio.High
	}
	if err := m.power.Out(level); err != nil {
		m.logger.Warn("GPS enable pin write failed", "error", err)
		return err
	}
	return nil
}

func (m *Machine) powerOn(ctx context.Context) error {
	if m.poweredOn {
		return nil
	}
	_ = m.setPower(true)
	m.poweredOn = true
	m.logger.Info("GPS power on")
	return m.sleep(ctx, powerOnDelay)
}

func (m *Machine) powerOff() {
	_ = m.setPower(false)
	if m.poweredOn {
		m.logger.Info("GPS power off")
	}
	m.poweredOn = false
	m.sys.Update(func(info *system.Info) { info.ClearFix() })
	m.parser.RequestReset()
}

// recordPosition copies the current fix out of the snapshot
func (m *Machine) recordPosition() {
	info := m.sys.Snapshot()
	ts, _ := info.UnixTime()
	m.last = Position{
		Time:      ts,
		Latitude:  info.Latitude,
		Longitude: info.Longitude,
		Altitude:  info.Altitude,
		HDOP:      info.HDOP,
	}
}

// Step runs one iteration of the machine at time now. It only returns an
// error when ctx is cancelled during a blocking delay.
func (m *Machine) Step(ctx context.Context, now time.Time) error {
	info := m.sys.Snapshot()
	state := info.GPSState
	locationValid := info.LocationValid
	stationary := info.IsStationary
	if m.ctl.takeWakeup() {
		stationary = false
	}
	keepAlive := m.ctl.keepAliveActive(now)
	remaining := m.ctl.KeepAliveRemaining()
	m.sys.Update(func(i *system.Info) { i.KeepAliveRemaining = remaining })

	if state != system.StateAGNSS {
		if ack, nack, eph := m.events.Drain(); ack || nack || eph {
			m.logger.Debug("CASIC events outside AGNSS", "ack", ack, "nack", nack, "ephemeris", eph)
		}
	}

	switch state {
	case system.StateInitializing:
		m.logger.Warn("GPS initializing in loop, forcing idle")
		m.powerOff()
		m.resetTimers()
		m.firstCycle = true
		m.transition(state, system.StateIdle, "init")
		return nil

	case system.StateSearching:
		return m.stepSearching(ctx, now, state, locationValid, keepAlive)

	case system.StateIdle:
		return m.stepIdle(ctx, now, state, stationary, keepAlive)

	case system.StateTracking:
		return m.stepTracking(ctx, now, state, locationValid, stationary, keepAlive)

	case system.StateAnalyzingStillness:
		return m.stepAnalyzing(ctx, now, state, locationValid, stationary, keepAlive, info.Speed)

	case system.StateAGNSS:
		return m.stepAGNSS(ctx, now, stationary)
	}
	return nil
}

func (m *Machine) stepSearching(ctx context.Context, now time.Time, state system.GPSState, locationValid, keepAlive bool) error {
	if m.fixStart.IsZero() {
		m.fixStart = now
	}
	if err := m.powerOn(ctx); err != nil {
		return err
	}

	if locationValid {
		m.resetTimers()
		m.sampleStart = now
		m.failures = 0
		m.firstCycle = false
		m.recordPosition()
		m.transition(state, system.StateTracking, "fix")
		return nil
	}

	timeout := ReacquireFixTimeout
	if m.firstCycle {
		timeout = ColdStartFixTimeout
	}
	if elapsed(m.fixStart, now, timeout) {
		m.failures++
		if m.failures >= MaxFixFailures {
			m.logger.Info("GPS warm restart after fix failures", "failures", m.failures)
			m.write(ctx, sentenceWarmRestart)
			m.failures = 0
		}
		if keepAlive {
			m.fixStart = now
			m.logger.Info("GPS fix timeout, keep-alive active, retrying")
			return nil
		}
		m.powerOff()
		m.resetTimers()
		m.firstCycle = true
		m.transition(state, system.StateIdle, "timeout")
		return nil
	}

	_, err := m.maybeStartAGNSS(ctx, now, state)
	return err
}

func (m *Machine) stepIdle(ctx context.Context, now time.Time, state system.GPSState, stationary, keepAlive bool) error {
	if m.poweredOn {
		m.powerOff()
	}

	if !stationary || keepAlive {
		if err := m.powerOn(ctx); err != nil {
			return err
		}
		m.resetTimers()
		m.fixStart = now
		reason := "motion"
		if keepAlive {
			reason = "keep-alive"
		}
		m.transition(state, system.StateSearching, reason)
		return nil
	}

	_, err := m.maybeStartAGNSS(ctx, now, state)
	return err
}

func (m *Machine) stepTracking(ctx context.Context, now time.Time, state system.GPSState, locationValid, stationary, keepAlive bool) error {
	if m.sampleStart.IsZero() {
		m.sampleStart = now
	}
	if err := m.powerOn(ctx); err != nil {
		return err
	}

	if !locationValid {
		m.resetTimers()
		m.fixStart = now
		m.transition(state, system.StateSearching, "lost")
		return nil
	}

	if elapsed(m.sampleStart, now, SampleInterval) {
		m.recordPosition()
		if m.sink != nil {
			if err := m.sink.AppendPoint(m.last.Time, m.last.Latitude, m.last.Longitude, m.last.Altitude); err != nil {
				m.logger.Debug("fix not logged", "error", err)
			}
		}
		m.sampleStart = now
	}

	if !stationary || keepAlive {
		m.stillnessStart = time.Time{}
	} else if m.stillnessStart.IsZero() {
		m.stillnessStart = now
	}

	if stationary && !keepAlive && elapsed(m.stillnessStart, now, StillnessConfirm) {
		m.resetTimers()
		m.queryStart = now
		m.transition(state, system.StateAnalyzingStillness, "stillness")
		return nil
	}

	_, err := m.maybeStartAGNSS(ctx, now, state)
	return err
}

func (m *Machine) stepAnalyzing(ctx context.Context, now time.Time, state system.GPSState, locationValid, stationary, keepAlive bool, speed float32) error {
	if m.queryStart.IsZero() {
		m.queryStart = now
	}
	if err := m.powerOn(ctx); err != nil {
		return err
	}

	if !stationary || keepAlive {
		m.resetTimers()
		m.sampleStart = now
		reason := "motion"
		if stationary {
			reason = "keep-alive"
		}
		m.transition(state, system.StateTracking, reason)
		return nil
	}

	timedOut := elapsed(m.queryStart, now, StillnessQuery)
	if timedOut || locationValid {
		if !timedOut && locationValid && speed > VehicleSpeed {
			m.resetTimers()
			m.sampleStart = now
			m.transition(state, system.StateTracking, "speed")
			return nil
		}
		m.powerOff()
		m.resetTimers()
		m.firstCycle = true
		m.transition(state, system.StateIdle, "still")
		return nil
	}

	_, err := m.maybeStartAGNSS(ctx, now, state)
	return err
}

func (m *Machine) stepAGNSS(ctx context.Context, now time.Time, stationary bool) error {
	if err := m.powerOn(ctx); err != nil {
		return err
	}

	var (
		next []byte
		more bool
	)
	switch ack := m.events.TakeAck(); {
	case ack != casic.AckNone:
		index, _ := m.agnss.Index()
		m.logger.Debug("AGNSS message acknowledged", "index", index, "result", ack)
		next, more = m.agnss.AckNext()
	case m.agnss.MessageTimedOut(now):
		next, more = m.agnss.RetryOrAdvance()
	case m.agnss.TotalTimedOut(now):
		m.logger.Warn("AGNSS upload timed out")
		return m.transitionBack(ctx, now)
	default:
		if !stationary {
			m.agnss.NoteMotion()
		}
		return nil
	}

	if !more {
		return m.transitionBack(ctx, now)
	}
	m.write(ctx, next)
	m.agnss.MarkSent(now)
	return nil
}

// maybeStartAGNSS enters the AGNSS state when a queued batch is due
func (m *Machine) maybeStartAGNSS(ctx context.Context, now time.Time, state system.GPSState) (bool, error) {
	if !m.agnss.ShouldTrigger(now, state) {
		return false, nil
	}
	first, ok := m.agnss.Start(now, state)
	if !ok {
		return false, nil
	}
	m.resetTimers()
	if err := m.powerOn(ctx); err != nil {
		return false, err
	}
	count, _ := m.agnss.Len()
	m.logger.Info("AGNSS upload starting", "messages", count, "previous", state)
	m.write(ctx, first)
	m.agnss.MarkSent(now)
	m.transition(state, system.StateAGNSS, "agnss")
	return true, nil
}

// transitionBack ends an upload and restores the state it interrupted
func (m *Machine) transitionBack(ctx context.Context, now time.Time) error {
	previous := m.agnss.Finish()
	m.resetTimers()

	switch previous {
	case system.StateSearching:
		m.fixStart = now
		if err := m.powerOn(ctx); err != nil {
			return err
		}
	case system.StateIdle:
		m.powerOff()
	case system.StateTracking:
		m.sampleStart = now
	case system.StateAnalyzingStillness:
		m.queryStart = now
	default:
		m.powerOff()
		previous = system.StateIdle
	}
	m.transition(system.StateAGNSS, previous, "agnss done")
	return nil
}
