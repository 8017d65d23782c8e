// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2026 Kaz Walker, Thermoquad

package fmdn

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"sync"

	"github.com/Thermoquad/meridian/pkg/advsched"
	"github.com/Thermoquad/meridian/pkg/beacon"
	"github.com/Thermoquad/meridian/pkg/system"
)

// EIKFile holds the 32-byte ephemeral identity key on the SD volume
const EIKFile = "fmdn_eik.bin"

// ErrEIKSize is returned for a key that is not 32 bytes
var ErrEIKSize = errors.New("fmdn: EIK must be 32 bytes")

// StateStore persists the EIK. *logstore.Store satisfies it.
type StateStore interface {
	ReadState(name string, size int) ([]byte, error)
	WriteState(name string, data []byte) error
}

// Config wires an Engine
type Config struct {
	Store      StateStore
	System     *system.System
	Clock      beacon.Clock
	Scheduler  *advsched.Scheduler
	Advertiser advsched.Advertiser
	Logger     *slog.Logger

	Disabled bool

	// UTP advertises the unwanted-tracking-protection frame type
	UTP bool
}

// Engine advertises FMDN ephemeral identifiers
type Engine struct {
	store  StateStore
	sys    *system.System
	logger *slog.Logger
	runner *beacon.Runner

	mu       sync.Mutex
	eik      [EIKSize]byte
	haveEIK  bool
	allowed  bool
	utp      bool
	lastSlot uint64
	lastEID  EID
	haveLast bool
}

// New creates an engine. Call Load to pick up the stored EIK.
func New(cfg Config) *Engine {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	e := &Engine{
		store:   cfg.Store,
		sys:     cfg.System,
		logger:  logger.With("component", "fmdn"),
		allowed: !cfg.Disabled,
		utp:     cfg.UTP,
	}
	e.runner = beacon.NewRunner(beacon.Config{
		Name:       "fmdn",
		Priority:   advsched.FMDNAdv,
		Source:     e,
		Clock:      cfg.Clock,
		Scheduler:  cfg.Scheduler,
		Advertiser: cfg.Advertiser,
		Logger:     logger,
	})
	return e
}

// Load reads the EIK. A missing or short file leaves the engine disabled.
func (e *Engine) Load() error {
	raw, err := e.store.ReadState(EIKFile, EIKSize)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			e.logger.Info("no EIK provisioned")
		} else {
			e.logger.Warn("EIK unreadable, staying disabled", "error", err)
		}
		return nil
	}

	e.mu.Lock()
	copy(e.eik[:], raw)
	e.haveEIK = true
	e.haveLast = false
	e.mu.Unlock()
	e.logger.Info("EIK loaded")
	return nil
}

// Provision stores a new EIK and activates it
func (e *Engine) Provision(eik []byte) error {
	if len(eik) != EIKSize {
		return fmt.Errorf("%w: got %d", ErrEIKSize, len(eik))
	}
	if err := e.store.WriteState(EIKFile, eik); err != nil {
		return err
	}

	e.mu.Lock()
	copy(e.eik[:], eik)
	e.haveEIK = true
	e.haveLast = false
	e.allowed = true
	e.mu.Unlock()

	e.logger.Info("EIK provisioned")
	e.runner.Wake()
	return nil
}

// SetEnabled turns advertising on or off. Advertising also needs an EIK.
func (e *Engine) SetEnabled(on bool) {
	e.mu.Lock()
	e.allowed = on
	e.mu.Unlock()
	e.runner.Wake()
}

// SetUTP switches the unwanted-tracking-protection frame type
func (e *Engine) SetUTP(on bool) {
	e.mu.Lock()
	changed := e.utp != on
	e.utp = on
	e.mu.Unlock()
	if changed {
		e.runner.Wake()
	}
}

// Enabled reports whether the engine has an EIK and is allowed to run
func (e *Engine) Enabled() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.allowed && e.haveEIK
}

// State returns the diagnostic state
func (e *Engine) State() beacon.State {
	return e.runner.State()
}

// Address returns the address of the current slot
func (e *Engine) Address() (advsched.Address, bool) {
	return e.runner.Address()
}

// Run advertises until ctx is cancelled
func (e *Engine) Run(ctx context.Context) error {
	return e.runner.Run(ctx)
}

// Frame derives the advertisement for unix time ts. The EID is computed
// once per slot; the battery flags are refreshed on every call.
func (e *Engine) Frame(ts uint64) (beacon.Frame, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if !e.haveEIK {
		return beacon.Frame{}, false
	}

	slot := Slot(ts)
	if !e.haveLast || e.lastSlot != slot {
		eid, err := ComputeEID(e.eik, ts)
		if err != nil {
			e.logger.Warn("EID derivation failed", "slot", slot, "error", err)
			return beacon.Frame{}, false
		}
		e.lastEID = eid
		e.lastSlot = slot
		e.haveLast = true
	}

	var percent uint8
	if e.sys != nil {
		percent = e.sys.Snapshot().BatteryPercent
	}
	return beacon.Frame{
		Beacon:   Beacon(e.lastEID, percent, e.utp),
		Slot:     slot,
		Rotation: UntilRotation(ts),
	}, true
}
