// SPDX-License-Identifier: GPL-2.0-or-later
// Copyright (c) 2026 Kaz Walker, Thermoquad

package cmd

import (
	"fmt"
	"os"
	"path"
	"path/filepath"

	"github.com/spf13/cobra"
)

var (
	getOutput string
	getDelete bool
)

var lsCmd = &cobra.Command{
	Use:   "ls [dir]",
	Short: "List files on the tracker's SD card",
	Args:  cobra.MaximumNArgs(1),
	RunE:  runLs,
}

var getCmd = &cobra.Command{
	Use:   "get <file>",
	Short: "Download a file from the tracker",
	Long: `Download a file from the tracker's SD card in read-chunk steps.

The file is written to --output, or to its base name in the current directory.
With --delete the file is removed from the card after a complete download.`,
	Args: cobra.ExactArgs(1),
	RunE: runGet,
}

var rmCmd = &cobra.Command{
	Use:   "rm <file>",
	Short: "Delete a file on the tracker",
	Args:  cobra.ExactArgs(1),
	RunE:  runRm,
}

func init() {
	rootCmd.AddCommand(lsCmd, getCmd, rmCmd)
	getCmd.Flags().StringVarP(&getOutput, "output", "o", "", "Output file")
	getCmd.Flags().BoolVar(&getDelete, "delete", false, "Delete the file on the tracker after downloading")
}

func runLs(cmd *cobra.Command, args []string) error {
	dir := "/"
	if len(args) == 1 {
		dir = args[0]
	}

	client, conn, _, err := OpenClient()
	if err != nil {
		return err
	}
	defer conn.Close()

	entries, err := client.ListDir(dir)
	if err != nil {
		return err
	}
	var total uint64
	for _, e := range entries {
		if e.IsDir {
			fmt.Printf("%10s  %s/\n", "<dir>", e.Name)
			continue
		}
		fmt.Printf("%10d  %s\n", e.Size, e.Name)
		total += uint64(e.Size)
	}
	fmt.Printf("%d entries, %d bytes\n", len(entries), total)
	return nil
}

func runGet(cmd *cobra.Command, args []string) error {
	remote := args[0]
	out := getOutput
	if out == "" {
		out = filepath.Base(path.Clean("/" + remote))
	}

	client, conn, _, err := OpenClient()
	if err != nil {
		return err
	}
	defer conn.Close()

	f, err := os.Create(out)
	if err != nil {
		return fmt.Errorf("failed to create %s: %w", out, err)
	}

	n, err := client.Download(remote, f, func(done, total uint32) {
		if total == 0 {
			return
		}
		fmt.Fprintf(os.Stderr, "\r%s: %d/%d bytes (%.0f%%)", remote, done, total, float64(done)*100/float64(total))
	})
	fmt.Fprintln(os.Stderr)
	if cerr := f.Close(); err == nil {
		err = cerr
	}
	if err != nil {
		return fmt.Errorf("download %s: %w", remote, err)
	}
	fmt.Printf("Saved %s (%d bytes)\n", out, n)

	if getDelete {
		if err := client.Delete(remote); err != nil {
			return err
		}
		fmt.Printf("Deleted %s on tracker\n", remote)
	}
	return nil
}

func runRm(cmd *cobra.Command, args []string) error {
	client, conn, _, err := OpenClient()
	if err != nil {
		return err
	}
	defer conn.Close()

	if err := client.Delete(args[0]); err != nil {
		return err
	}
	fmt.Printf("Deleted %s\n", args[0])
	return nil
}
