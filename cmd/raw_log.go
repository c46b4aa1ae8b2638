// SPDX-License-Identifier: GPL-2.0-or-later
// Copyright (c) 2025 Kaz Walker, Thermoquad

package cmd

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/Thermoquad/acomms/pkg/acomms"
)

var rawLogCmd = &cobra.Command{
	Use:   "raw_log",
	Short: "Display modem traffic in human-readable format",
	Long: `Start the driver and print every line exchanged with the modem as it
happens, followed by the transmissions the driver decodes from them.

Lines sent to the modem are marked '>', lines from the modem '<'.

Supports serial, TCP and WebSocket connections.`,
	RunE: runRawLog,
}

func init() {
	rootCmd.AddCommand(rawLogCmd)
}

func runRawLog(cmd *cobra.Command, args []string) error {
	f, err := loadConfig()
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	fmt.Printf("acomms - Raw Traffic Log\n")
	fmt.Printf("Driver: %s (id %d)\n", f.Driver.Type, f.Driver.ModemID)
	fmt.Printf("Connection: %s\n", describeConnection(f.Driver.Connection))
	fmt.Printf("Press Ctrl+C to exit\n\n")

	s, err := openSession(ctx, f, 0, os.Stderr, func(sig *acomms.Signals) {
		sig.OnRawIncoming(func(line string) { printRaw("<", line) })
		sig.OnRawOutgoing(func(line string) { printRaw(">", line) })
		sig.OnReceive(func(m *acomms.ModemTransmission) {
			fmt.Printf("[%s] \033[1;32mRECEIVE:\033[0m %s\n", timestamp(), m)
		})
	})
	if err != nil {
		return err
	}
	defer s.Close()

	if err := s.loop(ctx, nil); err != nil {
		fmt.Printf("[%s] \033[1;31mDRIVER STOPPED:\033[0m %v\n", timestamp(), err)
		return err
	}
	return nil
}

func timestamp() string {
	return time.Now().Format("15:04:05.000")
}

func printRaw(dir, line string) {
	fmt.Printf("[%s] %s %q\n", timestamp(), dir, strings.TrimRight(line, "\r\n"))
}
