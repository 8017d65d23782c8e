// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2026 Kaz Walker, Thermoquad

package system

import (
	"encoding/binary"
	"errors"
	"math"
	"sync"
	"testing"
	"time"

	"github.com/fxamacker/cbor/v2"
)

// ============================================================
// Defaults and State Tests
// ============================================================

func TestNewInfo_Defaults(t *testing.T) {
	info := NewInfo()

	if info.HDOP != DefaultHDOP {
		t.Errorf("HDOP = %v, expected %v", info.HDOP, DefaultHDOP)
	}
	if info.Speed != -1 || info.Course != -1 {
		t.Errorf("speed/course = %v/%v, expected -1/-1", info.Speed, info.Course)
	}
	if !math.IsNaN(float64(info.BatteryVoltage)) {
		t.Errorf("battery voltage should be NaN, got %v", info.BatteryVoltage)
	}
	if !math.IsNaN(float64(info.Temperature)) || !math.IsNaN(float64(info.Pressure)) {
		t.Error("temperature and pressure should be NaN before the first reading")
	}
	if info.GPSState != StateInitializing {
		t.Errorf("state = %v, expected INITIALIZING", info.GPSState)
	}
}

func TestGPSState_String(t *testing.T) {
	tests := []struct {
		state    GPSState
		expected string
	}{
		{StateInitializing, "INITIALIZING"},
		{StateSearching, "SEARCHING"},
		{StateIdle, "IDLE"},
		{StateTracking, "TRACKING"},
		{StateAnalyzingStillness, "ANALYZING_STILLNESS"},
		{StateAGNSS, "AGNSS"},
		{GPSState(9), "UNKNOWN(9)"},
	}

	for _, tt := range tests {
		t.Run(tt.expected, func(t *testing.T) {
			if got := tt.state.String(); got != tt.expected {
				t.Errorf("String() = %q, expected %q", got, tt.expected)
			}
		})
	}
}

func TestInfo_ClearFix(t *testing.T) {
	info := NewInfo()
	info.LocationValid = true
	info.Latitude = 51.5
	info.Longitude = -0.12
	info.Satellites = 9
	info.HDOP = 0.8
	info.Speed = 12
	info.Course = 270
	info.SetDateTime(time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC))
	info.BatteryPercent = 77

	info.ClearFix()

	if info.LocationValid || info.DateTimeValid {
		t.Error("validity flags should be cleared")
	}
	if info.Latitude != 0 || info.Longitude != 0 || info.Satellites != 0 {
		t.Error("position fields should be cleared")
	}
	if info.HDOP != DefaultHDOP || info.Speed != -1 || info.Course != -1 {
		t.Errorf("quality fields not reset: hdop=%v speed=%v course=%v", info.HDOP, info.Speed, info.Course)
	}
	if info.Year != 0 || info.Month != 0 || info.Second != 0 {
		t.Error("calendar should be zeroed")
	}
	if info.BatteryPercent != 77 {
		t.Error("ClearFix must not touch battery fields")
	}
}

func TestInfo_UnixTime(t *testing.T) {
	tests := []struct {
		name   string
		set    func(*Info)
		want   uint32
		wantOK bool
	}{
		{
			name: "valid",
			set: func(i *Info) {
				i.SetDateTime(time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC))
			},
			want:   1735689600,
			wantOK: true,
		},
		{
			name:   "not valid",
			set:    func(i *Info) {},
			wantOK: false,
		},
		{
			name: "flag set but month zero",
			set: func(i *Info) {
				i.Year, i.Month, i.Day = 2025, 0, 1
				i.DateTimeValid = true
			},
			wantOK: false,
		},
		{
			name: "before 1970",
			set: func(i *Info) {
				i.Year, i.Month, i.Day = 1969, 12, 31
				i.DateTimeValid = true
			},
			wantOK: false,
		},
		{
			name: "past 32-bit range",
			set: func(i *Info) {
				i.Year, i.Month, i.Day = 2107, 1, 1
				i.DateTimeValid = true
			},
			wantOK: false,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			info := NewInfo()
			tt.set(&info)
			got, ok := info.UnixTime()
			if ok != tt.wantOK {
				t.Fatalf("ok = %v, expected %v", ok, tt.wantOK)
			}
			if ok && got != tt.want {
				t.Errorf("UnixTime() = %d, expected %d", got, tt.want)
			}
		})
	}
}

func TestSystem_ConcurrentUpdate(t *testing.T) {
	sys := New()
	var wg sync.WaitGroup

	for n := 0; n < 8; n++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for k := 0; k < 100; k++ {
				sys.Update(func(i *Info) { i.Satellites++ })
			}
		}()
	}
	wg.Wait()

	if got := sys.Snapshot().Satellites; got != 800 {
		t.Errorf("Satellites = %d, expected 800", got)
	}
}

func TestSystem_SnapshotIsCopy(t *testing.T) {
	sys := New()
	snap := sys.Snapshot()
	snap.Satellites = 42

	if sys.Snapshot().Satellites != 0 {
		t.Error("mutating a snapshot must not affect the shared record")
	}
}

func TestSystem_Setters(t *testing.T) {
	sys := New()
	sys.SetGPSState(StateTracking)
	sys.SetStationary(true)

	snap := sys.Snapshot()
	if snap.GPSState != StateTracking {
		t.Errorf("state = %v, expected TRACKING", snap.GPSState)
	}
	if !snap.IsStationary {
		t.Error("IsStationary should be set")
	}
}

// ============================================================
// Battery Tests
// ============================================================

func TestEstimateBatteryPercent(t *testing.T) {
	tests := []struct {
		mv       float32
		expected float32
	}{
		{2500, 0},
		{3000, 0},
		{3150, 2.5},
		{3300, 5},
		{3650, 27.5},
		{3800, 50},
		{4025, 87.5},
		{4200, 100},
		{4500, 100},
	}

	for _, tt := range tests {
		got := EstimateBatteryPercent(tt.mv)
		if math.Abs(float64(got-tt.expected)) > 0.01 {
			t.Errorf("EstimateBatteryPercent(%v) = %v, expected %v", tt.mv, got, tt.expected)
		}
	}
}

func TestInfo_SetBattery(t *testing.T) {
	info := NewInfo()

	info.SetBattery(3.8)
	if info.BatteryPercent != 50 {
		t.Errorf("percent = %d, expected 50", info.BatteryPercent)
	}

	info.SetBattery(0)
	if !math.IsNaN(float64(info.BatteryVoltage)) {
		t.Error("non-positive reading should mark voltage unknown")
	}
	if info.BatteryPercent != 0 {
		t.Errorf("percent = %d, expected 0", info.BatteryPercent)
	}
}

// ============================================================
// Binary Layout Tests
// ============================================================

func sampleInfo() Info {
	info := NewInfo()
	info.Latitude = 37.7749
	info.Longitude = -122.4194
	info.Altitude = 16.5
	info.Satellites = 11
	info.HDOP = 0.9
	info.Speed = 3.7
	info.Course = 181.5
	info.SetDateTime(time.Date(2025, 3, 14, 15, 9, 26, 0, time.UTC))
	info.LocationValid = true
	info.SetBattery(3.95)
	info.GPSState = StateTracking
	info.KeepAliveRemaining = 1800
	info.IsStationary = true
	info.Temperature = 21.25
	info.Pressure = 101325
	return info
}

func TestInfo_MarshalBinary_Layout(t *testing.T) {
	data, err := sampleInfo().MarshalBinary()
	if err != nil {
		t.Fatalf("MarshalBinary failed: %v", err)
	}
	if len(data) != InfoSize {
		t.Fatalf("length = %d, expected %d", len(data), InfoSize)
	}

	le := binary.LittleEndian
	checks := []struct {
		name string
		ok   bool
	}{
		{"version", data[0] == InfoVersion},
		{"latitude", math.Float64frombits(le.Uint64(data[1:])) == 37.7749},
		{"satellites", le.Uint32(data[21:]) == 11},
		{"year", le.Uint16(data[37:]) == 2025},
		{"month..second", data[39] == 3 && data[40] == 14 && data[41] == 15 && data[42] == 9 && data[43] == 26},
		{"validity", data[44] == 1 && data[45] == 1},
		{"battery volts", math.Float32frombits(le.Uint32(data[46:])) == 3.95},
		{"gps state", data[50] == uint8(StateTracking)},
		{"keep-alive", le.Uint16(data[51:]) == 1800},
		{"battery percent", data[53] == 80},
		{"stationary", data[54] == 1},
		{"temperature", math.Float32frombits(le.Uint32(data[55:])) == 21.25},
		{"pressure", math.Float32frombits(le.Uint32(data[59:])) == 101325},
	}
	for _, c := range checks {
		if !c.ok {
			t.Errorf("field %s encoded incorrectly", c.name)
		}
	}
}

func TestInfo_MarshalBinary_UnknownSensorsAreNaN(t *testing.T) {
	data, _ := NewInfo().MarshalBinary()
	le := binary.LittleEndian

	for _, off := range []int{46, 55, 59} {
		v := math.Float32frombits(le.Uint32(data[off:]))
		if !math.IsNaN(float64(v)) {
			t.Errorf("offset %d: expected NaN, got %v", off, v)
		}
	}
}

func TestInfo_UnmarshalBinary(t *testing.T) {
	want := sampleInfo()
	data, _ := want.MarshalBinary()

	var got Info
	if err := got.UnmarshalBinary(data); err != nil {
		t.Fatalf("UnmarshalBinary failed: %v", err)
	}
	if got != want {
		t.Errorf("decoded record differs:\n got  %+v\n want %+v", got, want)
	}
}

func TestInfo_UnmarshalBinary_Errors(t *testing.T) {
	data, _ := sampleInfo().MarshalBinary()

	var info Info
	if err := info.UnmarshalBinary(data[:InfoSize-1]); err == nil {
		t.Error("expected error for short record")
	}

	data[0] = 1
	if err := info.UnmarshalBinary(data); !errors.Is(err, ErrInfoVersion) {
		t.Errorf("expected ErrInfoVersion, got %v", err)
	}
}

// ============================================================
// CBOR Tests
// ============================================================

func TestInfo_MarshalCBOR(t *testing.T) {
	data, err := sampleInfo().MarshalCBOR()
	if err != nil {
		t.Fatalf("MarshalCBOR failed: %v", err)
	}

	var m map[int]interface{}
	if err := cbor.Unmarshal(data, &m); err != nil {
		t.Fatalf("failed to decode CBOR: %v", err)
	}

	if m[KeySatellites] != uint64(11) {
		t.Errorf("satellites = %v", m[KeySatellites])
	}
	if m[KeyUnixTime] != uint64(1741964966) {
		t.Errorf("unix time = %v", m[KeyUnixTime])
	}
	if m[KeyGPSState] != uint64(StateTracking) {
		t.Errorf("gps state = %v", m[KeyGPSState])
	}
	if _, ok := m[KeyLatitude]; !ok {
		t.Error("latitude missing for a valid fix")
	}
}

func TestInfo_MarshalCBOR_OmitsUnknown(t *testing.T) {
	data, err := NewInfo().MarshalCBOR()
	if err != nil {
		t.Fatalf("MarshalCBOR failed: %v", err)
	}

	var m map[int]interface{}
	if err := cbor.Unmarshal(data, &m); err != nil {
		t.Fatalf("failed to decode CBOR: %v", err)
	}

	for _, key := range []int{KeyLatitude, KeySpeed, KeyCourse, KeyUnixTime, KeyBatteryVoltage, KeyTemperature, KeyPressure} {
		if _, ok := m[key]; ok {
			t.Errorf("key %d should be omitted when unknown", key)
		}
	}
}
