// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2026 Kaz Walker, Thermoquad

package bootflag

import "log/slog"

// Display is the screen controller. The renderer lives elsewhere.
type Display interface {
	Toggle()
	ResetTimeout()
}

// FastAdvertiser restarts connectable advertising. *ble.Peripheral
// satisfies it.
type FastAdvertiser interface {
	RequestFastAdvertising()
}

// Flusher writes pending log records. *logstore.Store satisfies it.
type Flusher interface {
	Flush() error
}

// Buttons maps debounced button gestures onto the device. Any
// collaborator may be nil.
type Buttons struct {
	Display    Display
	BLE        FastAdvertiser
	Store      Flusher
	Transition *Transition
	Logger     *slog.Logger
}

func (b *Buttons) logger() *slog.Logger {
	if b.Logger != nil {
		return b.Logger
	}
	return slog.Default()
}

// Short toggles the display
func (b *Buttons) Short() {
	b.logger().Info("button short press")
	if b.Display != nil {
		b.Display.Toggle()
	}
}

// Long makes the device discoverable again and gets the log onto the card
func (b *Buttons) Long() {
	b.logger().Info("button long press")
	if b.BLE != nil {
		b.BLE.RequestFastAdvertising()
	}
	if b.Store != nil {
		if err := b.Store.Flush(); err != nil {
			b.logger().Warn("SD cache flush failed", "error", err)
		} else {
			b.logger().Info("SD cache flushed")
		}
	}
	if b.Display != nil {
		b.Display.ResetTimeout()
	}
}

// VeryLong requests USB mode when a host is attached
func (b *Buttons) VeryLong() error {
	b.logger().Info("button very long press")
	if b.Transition == nil {
		return nil
	}
	if !b.Transition.Attached() {
		b.logger().Warn("USB long press but USB not connected")
		return ErrNoUSB
	}
	return b.Transition.Enter()
}
