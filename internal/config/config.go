// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2026 Kaz Walker, Thermoquad

// Package config loads the daemon configuration from MERIDIAN_*
// environment variables.
package config

import (
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"strings"
)

// Defaults
const (
	DefaultGNSSPort  = "/dev/ttyS0"
	DefaultGNSSBaud  = 115200
	DefaultGPSPin    = "GPIO17"
	DefaultSDRoot    = "/mnt/sd"
	DefaultStateDir  = "/var/lib/meridian"
	DefaultATTMTU    = 23
	DefaultLogFormat = "text"

	maxATTMTU = 517
)

// Config is the daemon configuration
type Config struct {
	GNSSPort   string
	GNSSBaud   int
	GPSPin     string
	I2CBus     string // empty selects the first registered bus
	BatteryADC string // empty disables the battery sampler

	SDRoot   string
	StateDir string

	ATTMTU        int
	WSListen      string
	WSUsername    string // empty disables HTTP Basic auth on the bridge
	WSPassword    string
	MetricsListen string

	LogLevel  slog.Level
	LogFormat string

	FindMy  bool
	FMDN    bool
	FMDNUTP bool // unwanted-tracking-protection frame type
}

func env(name, def string) string {
	v := strings.TrimSpace(os.Getenv(name))
	if v == "" {
		return def
	}
	return v
}

func envInt(name string, def int) (int, error) {
	s := env(name, "")
	if s == "" {
		return def, nil
	}
	v, err := strconv.Atoi(s)
	if err != nil {
		return 0, fmt.Errorf("invalid %s %q: %w", name, s, err)
	}
	return v, nil
}

func envBool(name string, def bool) (bool, error) {
	s := env(name, "")
	if s == "" {
		return def, nil
	}
	v, err := strconv.ParseBool(s)
	if err != nil {
		return false, fmt.Errorf("invalid %s %q: %w", name, s, err)
	}
	return v, nil
}

// LoadFromEnv reads the configuration, applying defaults for unset
// variables. The result is validated.
func LoadFromEnv() (Config, error) {
	cfg := Config{
		GNSSPort:      env("MERIDIAN_GNSS_PORT", DefaultGNSSPort),
		GPSPin:        env("MERIDIAN_GPS_ENABLE_PIN", DefaultGPSPin),
		I2CBus:        env("MERIDIAN_I2C_BUS", ""),
		BatteryADC:    env("MERIDIAN_BATTERY_ADC", ""),
		SDRoot:        env("MERIDIAN_SD_ROOT", DefaultSDRoot),
		StateDir:      env("MERIDIAN_STATE_DIR", DefaultStateDir),
		WSListen:      env("MERIDIAN_WS_LISTEN", ""),
		WSUsername:    env("MERIDIAN_WS_USERNAME", ""),
		WSPassword:    os.Getenv("MERIDIAN_PASSWORD"),
		MetricsListen: env("MERIDIAN_METRICS_LISTEN", ""),
		LogFormat:     strings.ToLower(env("MERIDIAN_LOG_FORMAT", DefaultLogFormat)),
	}

	var err error
	if cfg.GNSSBaud, err = envInt("MERIDIAN_GNSS_BAUD", DefaultGNSSBaud); err != nil {
		return Config{}, err
	}
	if cfg.ATTMTU, err = envInt("MERIDIAN_ATT_MTU", DefaultATTMTU); err != nil {
		return Config{}, err
	}
	if cfg.LogLevel, err = ParseLogLevel(env("MERIDIAN_LOG_LEVEL", "info")); err != nil {
		return Config{}, err
	}
	if cfg.FindMy, err = envBool("MERIDIAN_FINDMY", true); err != nil {
		return Config{}, err
	}
	if cfg.FMDN, err = envBool("MERIDIAN_FMDN", true); err != nil {
		return Config{}, err
	}
	if cfg.FMDNUTP, err = envBool("MERIDIAN_FMDN_UTP", false); err != nil {
		return Config{}, err
	}

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Validate checks value ranges. Flags that override loaded values should
// be validated again.
func (c Config) Validate() error {
	if c.GNSSPort == "" {
		return fmt.Errorf("GNSS port must be set")
	}
	if c.GNSSBaud <= 0 {
		return fmt.Errorf("invalid GNSS baud rate %d", c.GNSSBaud)
	}
	if c.ATTMTU < DefaultATTMTU || c.ATTMTU > maxATTMTU {
		return fmt.Errorf("invalid ATT MTU %d (allowed: %d-%d)", c.ATTMTU, DefaultATTMTU, maxATTMTU)
	}
	if c.SDRoot == "" || c.StateDir == "" {
		return fmt.Errorf("SD root and state dir must be set")
	}
	if c.WSUsername != "" && c.WSPassword == "" {
		return fmt.Errorf("MERIDIAN_PASSWORD must be set with a bridge username")
	}
	switch c.LogFormat {
	case "text", "json":
	default:
		return fmt.Errorf("invalid log format %q (allowed: text, json)", c.LogFormat)
	}
	return nil
}

// ParseLogLevel maps a level name onto slog
func ParseLogLevel(s string) (slog.Level, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "debug":
		return slog.LevelDebug, nil
	case "info":
		return slog.LevelInfo, nil
	case "warn", "warning":
		return slog.LevelWarn, nil
	case "error":
		return slog.LevelError, nil
	default:
		return slog.LevelInfo, fmt.Errorf("invalid log level %q (allowed: debug, info, warn, error)", s)
	}
}
