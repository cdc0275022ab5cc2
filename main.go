// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad
//
// Panelsim - Field Panel Fleet Emulator
//
// Emulates a fleet of field control panels that connect to a central server
// and answer the byte-stuffed panel protocol.

package main

import (
	"os"

	"github.com/Thermoquad/panelsim/cmd"
)

func main() {
	if err := cmd.Execute(); err != nil {
		os.Exit(1)
	}
}
