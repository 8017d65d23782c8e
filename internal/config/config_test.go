// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2026 Kaz Walker, Thermoquad

package config

import (
	"bytes"
	"encoding/json"
	"log/slog"
	"strings"
	"testing"
)

var allVars = []string{
	"MERIDIAN_GNSS_PORT", "MERIDIAN_GNSS_BAUD", "MERIDIAN_GPS_ENABLE_PIN",
	"MERIDIAN_I2C_BUS", "MERIDIAN_BATTERY_ADC", "MERIDIAN_SD_ROOT",
	"MERIDIAN_STATE_DIR", "MERIDIAN_ATT_MTU", "MERIDIAN_WS_LISTEN",
	"MERIDIAN_METRICS_LISTEN", "MERIDIAN_LOG_LEVEL", "MERIDIAN_LOG_FORMAT",
	"MERIDIAN_FINDMY", "MERIDIAN_FMDN", "MERIDIAN_FMDN_UTP", "MERIDIAN_WS_USERNAME", "MERIDIAN_PASSWORD",
}

func clearEnv(t *testing.T) {
	t.Helper()
	for _, v := range allVars {
		t.Setenv(v, "")
	}
}

// ============================================================
// LoadFromEnv Tests
// ============================================================

func TestLoadFromEnv_Defaults(t *testing.T) {
	clearEnv(t)

	got, err := LoadFromEnv()
	if err != nil {
		t.Fatalf("LoadFromEnv() error = %v, want nil", err)
	}
	if got.GNSSPort != DefaultGNSSPort || got.GNSSBaud != DefaultGNSSBaud {
		t.Errorf("GNSS = %s@%d", got.GNSSPort, got.GNSSBaud)
	}
	if got.SDRoot != DefaultSDRoot || got.StateDir != DefaultStateDir {
		t.Errorf("dirs = %q %q", got.SDRoot, got.StateDir)
	}
	if got.ATTMTU != DefaultATTMTU {
		t.Errorf("ATTMTU = %d", got.ATTMTU)
	}
	if got.LogLevel != slog.LevelInfo || got.LogFormat != "text" {
		t.Errorf("log = %v/%s", got.LogLevel, got.LogFormat)
	}
	if !got.FindMy || !got.FMDN {
		t.Error("offline finding should default on")
	}
	if got.WSListen != "" || got.MetricsListen != "" || got.BatteryADC != "" {
		t.Error("optional listeners should default off")
	}
}

func TestLoadFromEnv_Overrides(t *testing.T) {
	clearEnv(t)
	t.Setenv("MERIDIAN_GNSS_PORT", " /dev/ttyAMA1 ")
	t.Setenv("MERIDIAN_GNSS_BAUD", "9600")
	t.Setenv("MERIDIAN_ATT_MTU", "247")
	t.Setenv("MERIDIAN_LOG_LEVEL", "DEBUG")
	t.Setenv("MERIDIAN_LOG_FORMAT", "json")
	t.Setenv("MERIDIAN_FMDN", "false")
	t.Setenv("MERIDIAN_FMDN_UTP", "true")
	t.Setenv("MERIDIAN_WS_LISTEN", ":8081")

	got, err := LoadFromEnv()
	if err != nil {
		t.Fatalf("LoadFromEnv() error = %v", err)
	}
	if got.GNSSPort != "/dev/ttyAMA1" || got.GNSSBaud != 9600 {
		t.Errorf("GNSS = %q@%d", got.GNSSPort, got.GNSSBaud)
	}
	if got.ATTMTU != 247 || got.LogLevel != slog.LevelDebug || got.LogFormat != "json" {
		t.Errorf("mtu=%d level=%v format=%s", got.ATTMTU, got.LogLevel, got.LogFormat)
	}
	if got.FMDN || !got.FindMy || !got.FMDNUTP {
		t.Errorf("FindMy=%v FMDN=%v UTP=%v", got.FindMy, got.FMDN, got.FMDNUTP)
	}
	if got.WSListen != ":8081" {
		t.Errorf("WSListen = %q", got.WSListen)
	}
}

func TestLoadFromEnv_Invalid(t *testing.T) {
	tests := []struct {
		name  string
		key   string
		value string
	}{
		{"baud not a number", "MERIDIAN_GNSS_BAUD", "fast"},
		{"baud zero", "MERIDIAN_GNSS_BAUD", "0"},
		{"mtu too small", "MERIDIAN_ATT_MTU", "10"},
		{"mtu too large", "MERIDIAN_ATT_MTU", "1024"},
		{"log level", "MERIDIAN_LOG_LEVEL", "verbose"},
		{"log format", "MERIDIAN_LOG_FORMAT", "xml"},
		{"findmy bool", "MERIDIAN_FINDMY", "maybe"},
		{"username without password", "MERIDIAN_WS_USERNAME", "admin"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			clearEnv(t)
			t.Setenv(tt.key, tt.value)
			if _, err := LoadFromEnv(); err == nil {
				t.Errorf("LoadFromEnv() with %s=%q should fail", tt.key, tt.value)
			}
		})
	}
}

func TestParseLogLevel(t *testing.T) {
	tests := []struct {
		in   string
		want slog.Level
	}{
		{"debug", slog.LevelDebug},
		{" Info ", slog.LevelInfo},
		{"warning", slog.LevelWarn},
		{"ERROR", slog.LevelError},
	}
	for _, tt := range tests {
		got, err := ParseLogLevel(tt.in)
		if err != nil || got != tt.want {
			t.Errorf("ParseLogLevel(%q) = %v, %v", tt.in, got, err)
		}
	}
}

// ============================================================
// Logger Tests
// ============================================================

func TestNewLogger_JSON(t *testing.T) {
	var buf bytes.Buffer
	l := NewLogger(&buf, slog.LevelInfo, "json")
	l.Debug("hidden")
	l.Info("hello", "k", 1)

	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	if len(lines) != 1 {
		t.Fatalf("got %d lines, want 1: %q", len(lines), buf.String())
	}
	var rec map[string]any
	if err := json.Unmarshal([]byte(lines[0]), &rec); err != nil {
		t.Fatal(err)
	}
	if rec["msg"] != "hello" || rec["app"] != "meridian" {
		t.Errorf("record = %v", rec)
	}
}

func TestNewLogger_Text(t *testing.T) {
	var buf bytes.Buffer
	NewLogger(&buf, slog.LevelDebug, "text").Debug("tick")
	if !strings.Contains(buf.String(), "tick") {
		t.Errorf("output = %q", buf.String())
	}
}
