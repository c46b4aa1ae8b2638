// SPDX-License-Identifier: GPL-2.0-or-later
// Copyright (c) 2025 Kaz Walker, Thermoquad

package cmd

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/Thermoquad/acomms/internal/config"
	"github.com/Thermoquad/acomms/pkg/lineio"
)

var linkTestCmd = &cobra.Command{
	Use:   "link_test",
	Short: "Test raw connection stability",
	Long: `Open the configured connection without starting a driver and just
wait, logging every line received and any error. Useful for debugging a
serial cable, TCP bridge or WebSocket serial bridge.

Exit codes:
  0 - Test completed normally
  1 - Test failed
  2 - Connection error`,
	RunE: runLinkTest,
}

var (
	linkTestDuration int
	linkTestDelim    string
)

func init() {
	rootCmd.AddCommand(linkTestCmd)
	linkTestCmd.Flags().IntVar(&linkTestDuration, "duration", 30, "Test duration in seconds")
	linkTestCmd.Flags().StringVar(&linkTestDelim, "delimiter", `\r\n`, "Line delimiter")
}

func runLinkTest(cmd *cobra.Command, args []string) error {
	f, err := loadConfig()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(2)
	}
	t, err := openTransport(context.Background(), f, config.UnescapeDelimiter(linkTestDelim))
	if err != nil {
		fmt.Fprintf(os.Stderr, "Connection error: %v\n", err)
		os.Exit(2)
	}
	defer t.Close()

	fmt.Printf("Connection Stability Test\n")
	fmt.Printf("Connection: %s\n", describeConnection(f.Driver.Connection))
	fmt.Printf("Duration: %d seconds\n\n", linkTestDuration)

	start := time.Now()
	endTime := start.Add(time.Duration(linkTestDuration) * time.Second)
	bytesReceived := 0
	linesReceived := 0
	heartbeat := time.NewTicker(time.Second)
	defer heartbeat.Stop()
	poll := time.NewTicker(10 * time.Millisecond)
	defer poll.Stop()

	fmt.Printf("Listening for data...\n\n")

	for time.Now().Before(endTime) {
		select {
		case <-poll.C:
			for {
				line, ok := t.ReadLine()
				if !ok {
					break
				}
				bytesReceived += len(line)
				linesReceived++
				fmt.Printf("[%s] Received %d bytes: %q\n", timestamp(), len(line), line)
			}
			if !t.Active() {
				fmt.Printf("\n[%s] Connection error: %v\n", timestamp(), linkError(t))
				fmt.Printf("\n--- Test Results ---\n")
				fmt.Printf("Duration: %v\n", time.Since(start).Round(time.Millisecond))
				fmt.Printf("Lines received: %d\n", linesReceived)
				fmt.Printf("Bytes received: %d\n", bytesReceived)
				fmt.Printf("Result: FAILED (connection error)\n")
				t.Close()
				os.Exit(1)
			}

		case <-heartbeat.C:
			remaining := time.Until(endTime).Seconds()
			fmt.Printf("[%s] Still connected... (%.0fs remaining)\n", timestamp(), remaining)
		}
	}

	fmt.Printf("\n--- Test Results ---\n")
	fmt.Printf("Duration: %d seconds\n", linkTestDuration)
	fmt.Printf("Lines received: %d\n", linesReceived)
	fmt.Printf("Bytes received: %d\n", bytesReceived)
	fmt.Printf("Result: PASSED (connection stable)\n")

	return nil
}

func linkError(t lineio.Transport) error {
	if c, ok := t.(interface{ Err() error }); ok && c.Err() != nil {
		return c.Err()
	}
	return lineio.ErrConnectionClosed
}
