// SPDX-License-Identifier: GPL-2.0-or-later
// Copyright (c) 2026 Kaz Walker, Thermoquad

package cmd

import (
	"encoding/binary"
	"encoding/hex"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/Thermoquad/meridian/pkg/findmy"
	"github.com/Thermoquad/meridian/pkg/fmdn"
	"github.com/Thermoquad/meridian/pkg/logstore"
	"github.com/spf13/cobra"
)

var (
	findmyHex    bool
	eikSDRoot    string
	findmyOutput string
)

var findmyCmd = &cobra.Command{
	Use:   "findmy",
	Short: "Manage offline-finding keys",
}

var findmyStatusCmd = &cobra.Command{
	Use:   "status",
	Short: "Report whether the Find My engine is enabled",
	Args:  cobra.NoArgs,
	RunE:  runFindMyStatus,
}

var findmyReadCmd = &cobra.Command{
	Use:   "read",
	Short: "Read the provisioned Find My key blob",
	Args:  cobra.NoArgs,
	RunE:  runFindMyRead,
}

var findmyWriteCmd = &cobra.Command{
	Use:   "write <file|hex>",
	Short: "Provision a 68-byte Find My key blob",
	Long: `Provision Find My keys. The blob is

  [private key:28 | SK0:32 | epoch seconds:8 LE]

read from a file, or parsed as hex with --hex. The tracker starts advertising
the new keys immediately and discards its SK cache.`,
	Args: cobra.ExactArgs(1),
	RunE: runFindMyWrite,
}

var findmyEIKCmd = &cobra.Command{
	Use:   "eik <file|hex>",
	Short: "Write a Google FMDN EIK onto a mounted SD card",
	Long: `Write the 32-byte FMDN ephemeral identity key onto the tracker's SD card.

The file-transfer service has no EIK command, so this works on the card
directly: put the tracker in USB mode (very long button press) and point
--sd-root at the mounted volume. The key is picked up at the next boot.`,
	Args: cobra.ExactArgs(1),
	RunE: runFindMyEIK,
}

func init() {
	rootCmd.AddCommand(findmyCmd)
	findmyCmd.AddCommand(findmyStatusCmd, findmyReadCmd, findmyWriteCmd, findmyEIKCmd)

	findmyCmd.PersistentFlags().BoolVar(&findmyHex, "hex", false, "Argument is hex, not a file name")
	findmyReadCmd.Flags().StringVarP(&findmyOutput, "output", "o", "", "Write the blob to a file instead of printing it")
	findmyEIKCmd.Flags().StringVar(&eikSDRoot, "sd-root", "", "Mounted SD card directory")
	_ = findmyEIKCmd.MarkFlagRequired("sd-root")
}

// readKeyArg loads key material from a file or a hex argument
func readKeyArg(arg string) ([]byte, error) {
	if findmyHex {
		b, err := hex.DecodeString(strings.ReplaceAll(strings.TrimSpace(arg), ":", ""))
		if err != nil {
			return nil, fmt.Errorf("invalid hex: %w", err)
		}
		return b, nil
	}
	b, err := os.ReadFile(arg)
	if err != nil {
		return nil, fmt.Errorf("failed to read %s: %w", arg, err)
	}
	return b, nil
}

func runFindMyStatus(cmd *cobra.Command, args []string) error {
	client, conn, _, err := OpenClient()
	if err != nil {
		return err
	}
	defer conn.Close()

	enabled, err := client.FindMyStatus()
	if err != nil {
		return err
	}
	if enabled {
		fmt.Println("Find My: enabled")
	} else {
		fmt.Println("Find My: disabled")
	}
	return nil
}

func runFindMyRead(cmd *cobra.Command, args []string) error {
	client, conn, _, err := OpenClient()
	if err != nil {
		return err
	}
	defer conn.Close()

	blob, err := client.ReadFindMyKeys()
	if err != nil {
		return err
	}
	if len(blob) == 0 {
		fmt.Println("No keys provisioned")
		return nil
	}
	if findmyOutput != "" {
		if err := os.WriteFile(findmyOutput, blob, 0o600); err != nil {
			return err
		}
		fmt.Printf("Saved %d bytes to %s\n", len(blob), findmyOutput)
		return nil
	}
	if len(blob) == findmy.KeysSize {
		epoch := binary.LittleEndian.Uint64(blob[60:])
		fmt.Printf("Epoch: %s\n", time.Unix(int64(epoch), 0).UTC().Format(time.RFC3339))
	}
	fmt.Println(hex.EncodeToString(blob))
	return nil
}

func runFindMyWrite(cmd *cobra.Command, args []string) error {
	blob, err := readKeyArg(args[0])
	if err != nil {
		return err
	}
	if _, err := findmy.ParseKeys(blob); err != nil {
		return err
	}

	client, conn, _, err := OpenClient()
	if err != nil {
		return err
	}
	defer conn.Close()

	if err := client.WriteFindMyKeys(blob); err != nil {
		return err
	}
	fmt.Println("Keys provisioned")
	return nil
}

func runFindMyEIK(cmd *cobra.Command, args []string) error {
	eik, err := readKeyArg(args[0])
	if err != nil {
		return err
	}
	store, err := logstore.Open(eikSDRoot)
	if err != nil {
		return err
	}
	engine := fmdn.New(fmdn.Config{Store: store})
	if err := engine.Provision(eik); err != nil {
		return err
	}
	fmt.Printf("Wrote %s to %s\n", fmdn.EIKFile, eikSDRoot)
	return nil
}
