// SPDX-License-Identifier: GPL-2.0-or-later
// Copyright (c) 2026 Kaz Walker, Thermoquad

package cmd

import (
	"log/slog"
	"os"

	"github.com/Thermoquad/meridian/internal/config"
	"github.com/spf13/cobra"
)

var (
	// Serial connection flags
	portName string
	baudRate int

	// WebSocket connection flags
	wsURL         string
	wsUsername    string
	wsNoSSLVerify bool

	// Logging flags
	logLevel  string
	logFormat string
)

var rootCmd = &cobra.Command{
	Use:   "meridian",
	Short: "GPS tracker daemon and host tools",
	Long: `Meridian - GPS tracker daemon and host tools.

'meridian run' is the tracker itself: it drives the GNSS receiver, logs
compressed tracks to the SD volume, serves the BLE file-transfer service and
advertises offline-finding beacons while idle.

The other commands work with a tracker from a host.

Connection modes:
  Serial:    --port /dev/ttyUSB0 [--baud 115200]
  WebSocket: --url ws://host:8081/ws [--username user]

For WebSocket authentication, the password is read from the MERIDIAN_PASSWORD
environment variable, or prompted interactively if not set. The --password
flag is intentionally not provided to avoid leaking credentials in shell history.`,
	Version:           "0.3.0",
	SilenceUsage:      true,
	PersistentPreRunE: setupLogging,
}

func init() {
	// Serial connection flags
	rootCmd.PersistentFlags().StringVarP(&portName, "port", "p", "", "Serial port device")
	rootCmd.PersistentFlags().IntVarP(&baudRate, "baud", "b", 115200, "Baud rate (serial only)")

	// WebSocket connection flags
	rootCmd.PersistentFlags().StringVarP(&wsURL, "url", "u", "", "WebSocket URL (ws:// or wss://)")
	rootCmd.PersistentFlags().StringVar(&wsUsername, "username", "", "Username for HTTP Basic auth")
	rootCmd.PersistentFlags().BoolVar(&wsNoSSLVerify, "no-ssl-verify", false, "Skip TLS certificate verification (wss:// only)")

	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "", "Log level: debug, info, warn, error (default $MERIDIAN_LOG_LEVEL or info)")
	rootCmd.PersistentFlags().StringVar(&logFormat, "log-format", "", "Log format: text or json (default $MERIDIAN_LOG_FORMAT or text)")
}

// setupLogging installs the default logger. Flags win over the
// environment.
func setupLogging(cmd *cobra.Command, args []string) error {
	lvl := logLevel
	if lvl == "" {
		lvl = os.Getenv("MERIDIAN_LOG_LEVEL")
	}
	if lvl == "" {
		lvl = "info"
	}
	level, err := config.ParseLogLevel(lvl)
	if err != nil {
		return err
	}

	format := logFormat
	if format == "" {
		format = os.Getenv("MERIDIAN_LOG_FORMAT")
	}
	if format == "" {
		format = config.DefaultLogFormat
	}
	slog.SetDefault(config.NewLogger(os.Stderr, level, format))
	return nil
}

// Execute runs the root command
func Execute() error {
	return rootCmd.Execute()
}
