// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2026 Kaz Walker, Thermoquad

// Package bootflag keeps the persistent boot-flag byte and performs the
// hand-off of the log volume to USB mass storage.
package bootflag

import (
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"time"
)

// Boot flag layout
const (
	FlagFile = "bootflag.bin"
	USBMode  = 0x01

	resetDelay = 100 * time.Millisecond
)

// Errors returned by the transition
var (
	ErrNoUSB   = errors.New("bootflag: USB not attached")
	ErrPending = errors.New("bootflag: USB mode transition already pending")
)

// Flag is the one-byte register file. It survives restarts the way the
// retained power register does on the board.
type Flag struct {
	mu   sync.Mutex
	path string
}

// New returns the flag stored in dir
func New(dir string) *Flag {
	return &Flag{path: filepath.Join(dir, FlagFile)}
}

func (f *Flag) read() (byte, error) {
	data, err := os.ReadFile(f.path)
	if errors.Is(err, fs.ErrNotExist) || (err == nil && len(data) == 0) {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("failed to read boot flag: %w", err)
	}
	return data[0], nil
}

func (f *Flag) write(v byte) error {
	if err := os.MkdirAll(filepath.Dir(f.path), 0o755); err != nil {
		return fmt.Errorf("failed to create state dir: %w", err)
	}
	tmp := f.path + ".tmp"
	if err := os.WriteFile(tmp, []byte{v}, 0o644); err != nil {
		return fmt.Errorf("failed to write boot flag: %w", err)
	}
	if err := os.Rename(tmp, f.path); err != nil {
		return fmt.Errorf("failed to commit boot flag: %w", err)
	}
	return nil
}

// Value returns the current byte. A missing file reads as zero.
func (f *Flag) Value() (byte, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.read()
}

// Set ORs bits into the flag
func (f *Flag) Set(bits byte) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	v, err := f.read()
	if err != nil {
		return err
	}
	return f.write(v | bits)
}

// Take reports whether USB mode was requested and clears the request,
// leaving other bits untouched
func (f *Flag) Take() (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	v, err := f.read()
	if err != nil {
		return false, err
	}
	if v&USBMode == 0 {
		return false, nil
	}
	if err := f.write(v &^ USBMode); err != nil {
		return true, err
	}
	return true, nil
}

// Volume is the log store side of the hand-off. *logstore.Store
// satisfies it.
type Volume interface {
	EnterUSBMode() error
	ExitUSBMode() error
}

// TransitionConfig collects the transition's collaborators
type TransitionConfig struct {
	Flag   *Flag
	Volume Volume
	// Attached reports whether a USB host is present. nil means always.
	Attached func() bool
	// Reset restarts the device, normally by exiting the daemon so the
	// supervisor starts it again in USB mode
	Reset  func() error
	Logger *slog.Logger
}

// Transition moves the device into USB mass-storage mode
type Transition struct {
	cfg     TransitionConfig
	logger  *slog.Logger
	pending atomic.Bool
	sleep   func(time.Duration)
}

// NewTransition creates a transition
func NewTransition(cfg TransitionConfig) *Transition {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Transition{
		cfg:    cfg,
		logger: logger.With("component", "bootflag"),
		sleep:  time.Sleep,
	}
}

// Attached reports whether a USB host is present
func (t *Transition) Attached() bool {
	return t.cfg.Attached == nil || t.cfg.Attached()
}

// Enter releases the volume, sets the USB flag and resets. If the volume
// cannot be released the flag is left clear and the volume is taken back.
func (t *Transition) Enter() error {
	if !t.pending.CompareAndSwap(false, true) {
		t.logger.Info("USB mode request already pending")
		return ErrPending
	}
	if !t.Attached() {
		t.pending.Store(false)
		t.logger.Warn("USB mode requested but USB not connected")
		return ErrNoUSB
	}

	if err := t.cfg.Volume.EnterUSBMode(); err != nil {
		t.pending.Store(false)
		t.logger.Warn("USB mode prep failed", "error", err)
		if rerr := t.cfg.Volume.ExitUSBMode(); rerr != nil {
			t.logger.Warn("failed to reclaim volume", "error", rerr)
		}
		return fmt.Errorf("USB mode prep failed: %w", err)
	}

	if err := t.cfg.Flag.Set(USBMode); err != nil {
		t.pending.Store(false)
		if rerr := t.cfg.Volume.ExitUSBMode(); rerr != nil {
			t.logger.Warn("failed to reclaim volume", "error", rerr)
		}
		return err
	}
	t.logger.Info("USB boot flag set, resetting")
	t.sleep(resetDelay)

	if t.cfg.Reset == nil {
		return nil
	}
	return t.cfg.Reset()
}
