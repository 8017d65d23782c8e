// SPDX-License-Identifier: GPL-2.0-or-later
// Copyright (c) 2026 Kaz Walker, Thermoquad

package cmd

import (
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/Thermoquad/meridian/pkg/logcodec"
	"github.com/spf13/cobra"
)

var (
	decodeFormat string
	decodeOutput string
)

var decodeCmd = &cobra.Command{
	Use:   "decode <file.gpz>",
	Short: "Convert a compressed track log to CSV or GPX",
	Long: `Decode a daily .gpz track log downloaded from the tracker.

A log truncated mid-record (for example by a power loss before a flush) is
decoded up to the last complete record and a warning is printed.`,
	Args: cobra.ExactArgs(1),
	RunE: runDecode,
}

func init() {
	rootCmd.AddCommand(decodeCmd)
	decodeCmd.Flags().StringVarP(&decodeFormat, "format", "f", "csv", "Output format: csv or gpx")
	decodeCmd.Flags().StringVarP(&decodeOutput, "output", "o", "", "Output file (default stdout)")
}

func runDecode(cmd *cobra.Command, args []string) error {
	in, err := os.Open(args[0])
	if err != nil {
		return err
	}
	defer in.Close()

	points, err := logcodec.ReadAll(in)
	if err != nil {
		if len(points) == 0 || !errors.Is(err, logcodec.ErrTruncated) {
			return fmt.Errorf("decode %s: %w", args[0], err)
		}
		fmt.Fprintf(os.Stderr, "warning: %v (kept %d points)\n", err, len(points))
	}

	var w io.Writer = os.Stdout
	if decodeOutput != "" {
		f, err := os.Create(decodeOutput)
		if err != nil {
			return err
		}
		defer f.Close()
		w = f
	}

	switch decodeFormat {
	case "csv":
		return logcodec.WriteCSV(w, points)
	case "gpx":
		name := strings.TrimSuffix(filepath.Base(args[0]), filepath.Ext(args[0]))
		return logcodec.WriteGPX(w, name, points)
	default:
		return fmt.Errorf("unknown format %q (allowed: csv, gpx)", decodeFormat)
	}
}
