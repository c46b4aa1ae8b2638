// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad
//
// acomms - acoustic and satellite modem driver
//
// Runs a WHOI Micro-Modem, Iridium mobile, Iridium shore or Benthos
// ATM-900 driver and exposes it on the command line, in a terminal UI
// and over HTTP.

package main

import (
	"fmt"
	"os"

	"github.com/Thermoquad/acomms/cmd"
)

func main() {
	if err := cmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}
