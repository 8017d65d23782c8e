// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2026 Kaz Walker, Thermoquad

package cmd

import (
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/Thermoquad/meridian/pkg/system"
	tea "github.com/charmbracelet/bubbletea"
)

type fakeDevice struct {
	info      system.Info
	infoErr   error
	wakeups   int
	keepAlive []uint16
}

func (d *fakeDevice) SystemInfo() (system.Info, error) { return d.info, d.infoErr }

func (d *fakeDevice) Wakeup() error {
	d.wakeups++
	return nil
}

func (d *fakeDevice) KeepAlive(minutes uint16) error {
	d.keepAlive = append(d.keepAlive, minutes)
	return nil
}

func key(s string) tea.KeyMsg {
	return tea.KeyMsg{Type: tea.KeyRunes, Runes: []rune(s)}
}

func update(t *testing.T, m monitorModel, msg tea.Msg) (monitorModel, tea.Cmd) {
	t.Helper()
	next, cmd := m.Update(msg)
	mm, ok := next.(monitorModel)
	if !ok {
		t.Fatalf("Update returned %T", next)
	}
	return mm, cmd
}

// ============================================================
// Formatting Tests
// ============================================================

func TestFormatDuration(t *testing.T) {
	tests := []struct {
		seconds uint16
		want    string
	}{
		{0, "off"},
		{5, "5s"},
		{65, "1m 05s"},
		{3725, "1h 02m 05s"},
	}

	for _, tt := range tests {
		t.Run(tt.want, func(t *testing.T) {
			if got := formatDuration(tt.seconds); got != tt.want {
				t.Errorf("formatDuration(%d) = %q, want %q", tt.seconds, got, tt.want)
			}
		})
	}
}

func TestFormatInfo(t *testing.T) {
	t.Run("boot record", func(t *testing.T) {
		out := formatInfo(system.NewInfo())
		for _, want := range []string{"INITIALIZING", "no fix", "Time:        unknown", "Battery:     --", "--  --"} {
			if !strings.Contains(out, want) {
				t.Errorf("output missing %q:\n%s", want, out)
			}
		}
		if strings.Contains(out, "Speed:") {
			t.Error("unknown speed should be omitted")
		}
	})

	t.Run("fix", func(t *testing.T) {
		i := system.NewInfo()
		i.GPSState = system.StateTracking
		i.LocationValid = true
		i.Latitude, i.Longitude, i.Altitude = 52.5200066, 13.4049540, 34.5
		i.Speed, i.Course = 12.5, 270
		i.SetDateTime(time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC))
		i.KeepAliveRemaining = 90

		out := formatInfo(i)
		for _, want := range []string{
			"TRACKING",
			"52.5200066, 13.4049540",
			"12.5 km/h",
			"2025-06-01T12:00:00Z",
			"Keep-alive:  1m30s",
		} {
			if !strings.Contains(out, want) {
				t.Errorf("output missing %q:\n%s", want, out)
			}
		}
	})
}

// ============================================================
// Monitor Model Tests
// ============================================================

func TestMonitor_Poll(t *testing.T) {
	dev := &fakeDevice{info: system.NewInfo()}
	dev.info.GPSState = system.StateSearching
	m := newMonitorModel(dev, "test", time.Second)

	msg := m.poll()()
	m, cmd := update(t, m, msg)
	if cmd == nil {
		t.Error("a poll result should schedule the next tick")
	}
	if m.info == nil || m.info.GPSState != system.StateSearching {
		t.Fatalf("info = %+v", m.info)
	}
	if m.polls != 1 || m.failures != 0 {
		t.Errorf("polls=%d failures=%d", m.polls, m.failures)
	}
	if !strings.Contains(m.View(), "SEARCHING") {
		t.Error("view does not show the GPS state")
	}
}

func TestMonitor_PollFailure(t *testing.T) {
	dev := &fakeDevice{infoErr: errors.New("timeout")}
	m := newMonitorModel(dev, "test", time.Second)

	m, _ = update(t, m, m.poll()())
	if m.failures != 1 || m.info != nil {
		t.Errorf("failures=%d info=%v", m.failures, m.info)
	}
	if len(m.events) != 1 || !m.events[0].isError {
		t.Errorf("events = %+v", m.events)
	}
	if !strings.Contains(m.View(), "Waiting for the tracker") {
		t.Error("view should wait for the first record")
	}
}

func TestMonitor_NoteChanges(t *testing.T) {
	dev := &fakeDevice{}
	m := newMonitorModel(dev, "test", time.Second)

	first := system.NewInfo()
	m, _ = update(t, m, infoMsg{info: first, at: time.Now()})

	second := first
	second.GPSState = system.StateTracking
	second.LocationValid = true
	second.Satellites = 7
	second.IsStationary = true
	m, _ = update(t, m, infoMsg{info: second, at: time.Now()})

	var messages []string
	for _, e := range m.events {
		messages = append(messages, e.message)
	}
	got := strings.Join(messages, "|")
	for _, want := range []string{"connected, GPS INITIALIZING", "GPS INITIALIZING → TRACKING", "fix acquired (7 sats)", "device at rest"} {
		if !strings.Contains(got, want) {
			t.Errorf("events missing %q: %s", want, got)
		}
	}
}

func TestMonitor_Keys(t *testing.T) {
	dev := &fakeDevice{info: system.NewInfo()}
	dev.info.KeepAliveRemaining = 90
	m := newMonitorModel(dev, "test", time.Second)
	m, _ = update(t, m, m.poll()())

	tests := []struct {
		key  string
		want string
	}{
		{"w", "wakeup sent"},
		{"k", "keep-alive 12 min sent"},
		{"c", "keep-alive cancel sent"},
	}

	for _, tt := range tests {
		t.Run(tt.key, func(t *testing.T) {
			next, cmd := update(t, m, key(tt.key))
			if cmd == nil {
				t.Fatal("no command returned")
			}
			next, _ = update(t, next, cmd())
			last := next.events[len(next.events)-1]
			if last.message != tt.want || last.isError {
				t.Errorf("last event = %+v, want %q", last, tt.want)
			}
		})
	}

	if dev.wakeups != 1 {
		t.Errorf("wakeups = %d", dev.wakeups)
	}
	if len(dev.keepAlive) != 2 || dev.keepAlive[0] != 12 || dev.keepAlive[1] != 0 {
		t.Errorf("keep-alive calls = %v", dev.keepAlive)
	}
}

func TestMonitor_Quit(t *testing.T) {
	m := newMonitorModel(&fakeDevice{}, "test", time.Second)
	m, cmd := update(t, m, key("q"))
	if cmd == nil || !m.quitting {
		t.Fatal("q should quit")
	}
	if m.View() != "Shutting down...\n" {
		t.Errorf("view = %q", m.View())
	}
}
