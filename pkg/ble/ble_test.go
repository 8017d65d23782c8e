// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2026 Kaz Walker, Thermoquad

package ble

import (
	"bytes"
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/Thermoquad/meridian/pkg/advsched"
	"github.com/Thermoquad/meridian/pkg/protocol"
)

// ============================================================
// Fakes
// ============================================================

type fakeRadio struct {
	mu      sync.Mutex
	running bool
	starts  int
}

func (r *fakeRadio) StartConnectable() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.running = true
	r.starts++
	return nil
}

func (r *fakeRadio) StopConnectable() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.running = false
	return nil
}

func (r *fakeRadio) state() (bool, int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.running, r.starts
}

type statusKeys struct{}

func (statusKeys) Provision([]byte) error { return nil }

func (statusKeys) KeysBlob() ([]byte, bool) { return nil, false }

func (statusKeys) Enabled() bool { return true }

type notifications struct {
	mu     sync.Mutex
	chunks [][]byte
	fail   bool
}

func (n *notifications) notify(b []byte) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	if n.fail {
		return errors.New("notify failed")
	}
	n.chunks = append(n.chunks, append([]byte(nil), b...))
	return nil
}

func (n *notifications) joined() []byte {
	n.mu.Lock()
	defer n.mu.Unlock()
	return bytes.Join(n.chunks, nil)
}

type fixture struct {
	p     *Peripheral
	radio *fakeRadio
	sched *advsched.Scheduler
	out   *notifications
}

func newFixture(mtu int) *fixture {
	f := &fixture{radio: &fakeRadio{}, sched: advsched.New(), out: &notifications{}}
	f.p = NewPeripheral(PeripheralConfig{
		Scheduler: f.sched,
		Radio:     f.radio,
		Notify:    f.out.notify,
		Session:   protocol.Config{FindMy: statusKeys{}},
		MTU:       mtu,
	})
	f.p.bootWindow = 200 * time.Millisecond
	f.p.fastWindow = 20 * time.Millisecond
	return f
}

func (f *fixture) start(t *testing.T) func() {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- f.p.Run(ctx) }()
	return func() {
		cancel()
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

func (f *fixture) holdsMain() bool {
	p, ok := f.sched.Holder()
	return ok && p == advsched.MainAdv
}

// ============================================================
// Advertising Window Tests
// ============================================================

func TestPeripheral_BootWindowExpires(t *testing.T) {
	f := newFixture(0)
	stop := f.start(t)
	defer stop()

	eventually(t, "boot advertising", func() bool {
		running, _ := f.radio.state()
		return running && f.holdsMain()
	})
	eventually(t, "window end", func() bool {
		running, _ := f.radio.state()
		_, held := f.sched.Holder()
		return !running && !held
	})
}

func TestPeripheral_FastAdvertising(t *testing.T) {
	f := newFixture(0)
	stop := f.start(t)
	defer stop()

	eventually(t, "boot window end", func() bool {
		_, starts := f.radio.state()
		_, held := f.sched.Holder()
		return starts == 1 && !held
	})

	f.p.RequestFastAdvertising()
	eventually(t, "fast window", func() bool {
		running, starts := f.radio.state()
		return running && starts == 2
	})
	eventually(t, "fast window end", func() bool {
		running, _ := f.radio.state()
		return !running
	})
	time.Sleep(40 * time.Millisecond)
	if _, starts := f.radio.state(); starts != 2 {
		t.Errorf("starts = %d, want 2", starts)
	}
}

func TestPeripheral_RequestsCoalesce(t *testing.T) {
	f := newFixture(0)
	f.p.RequestFastAdvertising()
	f.p.RequestFastAdvertising()
	if n := len(f.p.requests); n != 1 {
		t.Errorf("pending requests = %d, want 1", n)
	}
}

func TestPeripheral_PreemptsBeacon(t *testing.T) {
	f := newFixture(0)
	beacon, err := f.sched.Acquire(context.Background(), advsched.FindMyAdv)
	if err != nil {
		t.Fatal(err)
	}
	stop := f.start(t)
	defer stop()

	select {
	case <-beacon.Preempted():
	case <-time.After(time.Second):
		t.Fatal("beacon holder was not preempted")
	}
	beacon.Release()
	eventually(t, "main advertising", f.holdsMain)
}

// ============================================================
// Connection Tests
// ============================================================

func TestPeripheral_ServesSession(t *testing.T) {
	f := newFixture(4) // one byte per notification
	stop := f.start(t)
	defer stop()

	eventually(t, "advertising", func() bool {
		running, _ := f.radio.state()
		return running
	})
	f.p.HandleConnect(true)
	eventually(t, "connected", func() bool {
		running, _ := f.radio.state()
		return !running && f.p.Connected()
	})

	// Split a command across writes
	frame, _ := protocol.EncodeCommand(protocol.CmdGetFindMyStatus, nil)
	f.p.HandleWrite(frame[:1])
	f.p.HandleWrite(frame[1:])

	eventually(t, "response", func() bool { return len(f.out.joined()) == 3 })
	if got := f.out.joined(); !bytes.Equal(got, []byte{0x01, 0x00, 0x01}) {
		t.Errorf("response = % x", got)
	}
	f.out.mu.Lock()
	chunks := len(f.out.chunks)
	f.out.mu.Unlock()
	if chunks != 3 {
		t.Errorf("chunks = %d, want 3", chunks)
	}

	// The radio stays reserved for the whole connection
	time.Sleep(80 * time.Millisecond)
	if !f.holdsMain() {
		t.Error("MainAdv released during the connection")
	}

	f.p.HandleConnect(false)
	eventually(t, "re-advertising after disconnect", func() bool {
		running, starts := f.radio.state()
		return running && starts == 2
	})
	eventually(t, "release", func() bool {
		_, held := f.sched.Holder()
		return !held
	})
}

func TestPeripheral_NotifyFailureKeepsConnection(t *testing.T) {
	f := newFixture(23)
	f.out.fail = true
	stop := f.start(t)
	defer stop()

	eventually(t, "advertising", func() bool {
		running, _ := f.radio.state()
		return running
	})
	f.p.HandleConnect(true)
	eventually(t, "connected", f.p.Connected)

	frame, _ := protocol.EncodeCommand(protocol.CmdGetFindMyStatus, nil)
	f.p.HandleWrite(frame)
	time.Sleep(20 * time.Millisecond)

	f.out.mu.Lock()
	f.out.fail = false
	f.out.mu.Unlock()
	f.p.HandleWrite(frame)
	eventually(t, "second response", func() bool { return len(f.out.joined()) == 3 })
	if !f.holdsMain() {
		t.Error("connection torn down after a notify failure")
	}
}

func TestPeripheral_RXOverflowDrops(t *testing.T) {
	f := newFixture(0)
	f.p.HandleWrite(make([]byte, RXBufferLen+10))
	f.p.mu.Lock()
	n := f.p.rx.Length()
	f.p.mu.Unlock()
	if n != RXBufferLen {
		t.Errorf("buffered %d bytes, want %d", n, RXBufferLen)
	}
}
