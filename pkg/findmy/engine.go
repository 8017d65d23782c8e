// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2026 Kaz Walker, Thermoquad

package findmy

import (
	"context"
	"errors"
	"log/slog"
	"os"
	"sync"

	"github.com/Thermoquad/meridian/pkg/advsched"
	"github.com/Thermoquad/meridian/pkg/beacon"
	"github.com/Thermoquad/meridian/pkg/system"
)

// Files on the SD volume
const (
	KeysFile  = "findmy_keys.bin"
	CacheFile = "findmy_sk_cache.bin"
)

// StateStore persists key material. *logstore.Store satisfies it.
type StateStore interface {
	ReadState(name string, size int) ([]byte, error)
	WriteState(name string, data []byte) error
	RemoveState(name string) error
}

// Config wires an Engine
type Config struct {
	Store      StateStore
	System     *system.System
	Clock      beacon.Clock
	Scheduler  *advsched.Scheduler
	Advertiser advsched.Advertiser
	Logger     *slog.Logger

	// Disabled keeps the engine off even when keys are present
	Disabled bool
}

// Engine advertises Find My rolling keys
type Engine struct {
	store  StateStore
	sys    *system.System
	logger *slog.Logger
	runner *beacon.Runner

	mu       sync.Mutex
	keys     Keys
	haveKeys bool
	cache    SKCache
	allowed  bool
}

// New creates an engine. Call Load to pick up stored keys.
func New(cfg Config) *Engine {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	e := &Engine{
		store:   cfg.Store,
		sys:     cfg.System,
		logger:  logger.With("component", "findmy"),
		allowed: !cfg.Disabled,
	}
	e.runner = beacon.NewRunner(beacon.Config{
		Name:       "findmy",
		Priority:   advsched.FindMyAdv,
		Source:     e,
		Clock:      cfg.Clock,
		Scheduler:  cfg.Scheduler,
		Advertiser: cfg.Advertiser,
		Logger:     logger,
	})
	return e
}

// Load reads the provisioned keys and the SK cache. A missing or short
// key file leaves the engine disabled and is not an error.
func (e *Engine) Load() error {
	blob, err := e.store.ReadState(KeysFile, KeysSize)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			e.logger.Info("no keys provisioned")
			return nil
		}
		e.logger.Warn("keys unreadable, staying disabled", "error", err)
		return nil
	}
	keys, err := ParseKeys(blob)
	if err != nil {
		return err
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	e.keys = keys
	e.haveKeys = true
	e.cache = SKCache{}
	if raw, err := e.store.ReadState(CacheFile, CacheSize); err == nil {
		if e.cache.UnmarshalBinary(raw) == nil {
			e.logger.Info("SK cache loaded", "counter", e.cache.Counter)
		}
	}
	e.logger.Info("keys loaded", "epoch", keys.Epoch)
	return nil
}

// Provision stores a new 68-byte key blob and activates it immediately.
// The SK cache of the previous keys is discarded.
func (e *Engine) Provision(blob []byte) error {
	keys, err := ParseKeys(blob)
	if err != nil {
		return err
	}
	if err := e.store.WriteState(KeysFile, blob); err != nil {
		return err
	}
	if err := e.store.RemoveState(CacheFile); err != nil {
		e.logger.Warn("failed to remove stale SK cache", "error", err)
	}

	e.mu.Lock()
	e.keys = keys
	e.haveKeys = true
	e.cache = SKCache{}
	e.allowed = true
	e.mu.Unlock()

	e.logger.Info("keys provisioned", "epoch", keys.Epoch)
	e.runner.Wake()
	return nil
}

// KeysBlob returns the stored key blob
func (e *Engine) KeysBlob() ([]byte, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if !e.haveKeys {
		return nil, false
	}
	b, _ := e.keys.MarshalBinary()
	return b, true
}

// SetEnabled turns advertising on or off. Advertising also needs keys.
func (e *Engine) SetEnabled(on bool) {
	e.mu.Lock()
	e.allowed = on
	e.mu.Unlock()
	e.runner.Wake()
}

// Enabled reports whether the engine has keys and is allowed to run
func (e *Engine) Enabled() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.allowed && e.haveKeys
}

// State returns the diagnostic state
func (e *Engine) State() beacon.State {
	return e.runner.State()
}

// Address returns the address of the current key slot
func (e *Engine) Address() (advsched.Address, bool) {
	return e.runner.Address()
}

// Run advertises until ctx is cancelled
func (e *Engine) Run(ctx context.Context) error {
	return e.runner.Run(ctx)
}

// Frame derives the advertisement for unix time ts
func (e *Engine) Frame(ts uint64) (beacon.Frame, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if !e.haveKeys {
		return beacon.Frame{}, false
	}
	counter, ok := e.keys.Counter(ts)
	if !ok {
		return beacon.Frame{}, false
	}
	x, err := Derive(e.keys, &e.cache, counter)
	if err != nil {
		e.logger.Warn("key derivation failed", "counter", counter, "error", err)
		return beacon.Frame{}, false
	}

	var percent uint8
	if e.sys != nil {
		percent = e.sys.Snapshot().BatteryPercent
	}
	return beacon.Frame{
		Beacon:   Beacon(x, percent),
		Slot:     uint64(counter),
		Rotation: UntilRotation(ts),
	}, true
}

// Rotated persists the SK cache after a slot change
func (e *Engine) Rotated(slot uint64) {
	e.mu.Lock()
	cache := e.cache
	e.mu.Unlock()
	if !cache.Valid {
		return
	}
	raw, _ := cache.MarshalBinary()
	if err := e.store.WriteState(CacheFile, raw); err != nil {
		e.logger.Warn("failed to save SK cache", "error", err)
		return
	}
	e.logger.Debug("SK cache saved", "counter", cache.Counter)
}
