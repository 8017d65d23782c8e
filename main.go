// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2026 Kaz Walker, Thermoquad
//
// Meridian - GPS tracker daemon and host tools
//
// 'meridian run' drives the tracker on a Linux SBC; the remaining commands
// talk to a tracker over serial or the WebSocket bridge.

package main

import (
	"os"

	"github.com/Thermoquad/meridian/cmd"
)

func main() {
	if err := cmd.Execute(); err != nil {
		os.Exit(1)
	}
}
