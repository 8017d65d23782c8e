// SPDX-License-Identifier: GPL-2.0-or-later
// Copyright (c) 2026 Kaz Walker, Thermoquad

package cmd

import (
	"encoding/hex"
	"fmt"
	"math"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/Thermoquad/meridian/pkg/agnss"
	"github.com/Thermoquad/meridian/pkg/casic"
	"github.com/Thermoquad/meridian/pkg/system"
	"github.com/spf13/cobra"
)

var infoFormat string

var infoCmd = &cobra.Command{
	Use:   "info",
	Short: "Show the tracker's system status",
	Long: `Fetch the system-info record and print it.

Formats:
  text  human-readable summary (default)
  hex   the raw 63-byte record
  cbor  the integer-keyed CBOR map, written to stdout`,
	Args: cobra.NoArgs,
	RunE: runInfo,
}

var agnssCmd = &cobra.Command{
	Use:   "agnss <file>",
	Short: "Upload assistance data to the tracker",
	Long: `Upload a file of concatenated CASIC AID frames (ephemeris, almanac,
time and position aiding) to the tracker. The receiver is fed the messages on
its next AGNSS cycle, one at a time, waiting for each ACK.`,
	Args: cobra.ExactArgs(1),
	RunE: runAGNSS,
}

var wakeupCmd = &cobra.Command{
	Use:   "wakeup",
	Short: "Power the GPS receiver up for one fix",
	Args:  cobra.NoArgs,
	RunE:  runWakeup,
}

var keepAliveCmd = &cobra.Command{
	Use:   "keepalive <minutes>",
	Short: "Keep the GPS receiver powered for a number of minutes (0 cancels)",
	Args:  cobra.ExactArgs(1),
	RunE:  runKeepAlive,
}

func init() {
	rootCmd.AddCommand(infoCmd, agnssCmd, wakeupCmd, keepAliveCmd)
	infoCmd.Flags().StringVarP(&infoFormat, "format", "f", "text", "Output format: text, hex, cbor")
}

func runInfo(cmd *cobra.Command, args []string) error {
	client, conn, _, err := OpenClient()
	if err != nil {
		return err
	}
	defer conn.Close()

	info, err := client.SystemInfo()
	if err != nil {
		return err
	}

	switch infoFormat {
	case "text":
		fmt.Print(formatInfo(info))
	case "hex":
		b, err := info.MarshalBinary()
		if err != nil {
			return err
		}
		fmt.Println(hex.EncodeToString(b))
	case "cbor":
		b, err := info.MarshalCBOR()
		if err != nil {
			return err
		}
		_, err = os.Stdout.Write(b)
		return err
	default:
		return fmt.Errorf("unknown format %q (allowed: text, hex, cbor)", infoFormat)
	}
	return nil
}

// formatInfo renders a status record for the terminal
func formatInfo(i system.Info) string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "GPS state:   %s\n", i.GPSState)
	if i.LocationValid {
		fmt.Fprintf(&sb, "Position:    %.7f, %.7f  alt %.1f m\n", i.Latitude, i.Longitude, i.Altitude)
	} else {
		sb.WriteString("Position:    no fix\n")
	}
	fmt.Fprintf(&sb, "Satellites:  %d  HDOP %.1f\n", i.Satellites, i.HDOP)
	if i.Speed >= 0 {
		fmt.Fprintf(&sb, "Speed:       %.1f km/h  course %.1f°\n", i.Speed, i.Course)
	}
	if ts, ok := i.UnixTime(); ok {
		fmt.Fprintf(&sb, "Time:        %s\n", time.Unix(int64(ts), 0).UTC().Format(time.RFC3339))
	} else {
		sb.WriteString("Time:        unknown\n")
	}
	fmt.Fprintf(&sb, "Battery:     %s  %d%%\n", formatFloat(i.BatteryVoltage, "%.2f V"), i.BatteryPercent)
	fmt.Fprintf(&sb, "Stationary:  %v\n", i.IsStationary)
	if i.KeepAliveRemaining > 0 {
		fmt.Fprintf(&sb, "Keep-alive:  %s\n", time.Duration(i.KeepAliveRemaining)*time.Second)
	}
	fmt.Fprintf(&sb, "Environment: %s  %s\n", formatFloat(i.Temperature, "%.1f °C"), formatFloat(i.Pressure/100, "%.1f hPa"))
	return sb.String()
}

func formatFloat(v float32, format string) string {
	if math.IsNaN(float64(v)) {
		return "--"
	}
	return fmt.Sprintf(format, v)
}

func runAGNSS(cmd *cobra.Command, args []string) error {
	data, err := os.ReadFile(args[0])
	if err != nil {
		return fmt.Errorf("failed to read %s: %w", args[0], err)
	}
	msgs := casic.Split(data)
	if len(msgs) == 0 {
		return fmt.Errorf("%s contains no CASIC frames", args[0])
	}
	if len(msgs) > agnss.MaxMessages {
		return fmt.Errorf("%w: %d messages", agnss.ErrTooManyMessages, len(msgs))
	}
	for i, m := range msgs {
		if len(m) > agnss.MaxMessageSize {
			return fmt.Errorf("message %d: %w", i, agnss.ErrMessageTooLarge)
		}
	}

	client, conn, _, err := OpenClient()
	if err != nil {
		return err
	}
	defer conn.Close()

	if err := client.UploadAGNSS(msgs); err != nil {
		return err
	}
	fmt.Printf("Uploaded %d AGNSS messages\n", len(msgs))
	return nil
}

func runWakeup(cmd *cobra.Command, args []string) error {
	client, conn, _, err := OpenClient()
	if err != nil {
		return err
	}
	defer conn.Close()

	if err := client.Wakeup(); err != nil {
		return err
	}
	fmt.Println("Wakeup requested")
	return nil
}

func runKeepAlive(cmd *cobra.Command, args []string) error {
	minutes, err := strconv.ParseUint(args[0], 10, 16)
	if err != nil {
		return fmt.Errorf("invalid minutes %q: %w", args[0], err)
	}

	client, conn, _, err := OpenClient()
	if err != nil {
		return err
	}
	defer conn.Close()

	if err := client.KeepAlive(uint16(minutes)); err != nil {
		return err
	}
	if minutes == 0 {
		fmt.Println("Keep-alive cancelled")
	} else {
		fmt.Printf("Keep-alive set for %d minutes\n", minutes)
	}
	return nil
}
