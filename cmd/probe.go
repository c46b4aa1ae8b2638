// SPDX-License-Identifier: GPL-2.0-or-later
// Copyright (c) 2025 Kaz Walker, Thermoquad

package cmd

import (
	"context"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/Thermoquad/acomms/pkg/driver/benthos"
	"github.com/Thermoquad/acomms/pkg/driver/iridium"
	"github.com/Thermoquad/acomms/pkg/driver/micromodem"
	"github.com/Thermoquad/acomms/pkg/nmea"
)

var (
	probeTimeout int
	probeLine    string
)

var probeCmd = &cobra.Command{
	Use:   "probe",
	Short: "Test connection by waiting for a reply from the modem",
	Long: `Send one query to the modem and wait for any reply until timeout.

Without --line the query depends on --driver: "$CCCFQ,SRC" for the
Micro-Modem and "AT" for Iridium and Benthos modems.

Exit codes:
  0 - Reply received before timeout
  1 - Timeout reached without a reply
  2 - Connection error

Useful for testing cabling, baud rates and WebSocket serial bridges.`,
	RunE: runProbe,
}

func init() {
	rootCmd.AddCommand(probeCmd)
	probeCmd.Flags().IntVar(&probeTimeout, "timeout", 10, "Timeout in seconds to wait for a reply")
	probeCmd.Flags().StringVar(&probeLine, "line", "", "Query to send (delimiter added)")
}

// probeQuery returns the line and delimiter for driver type t.
func probeQuery(t string) (string, string, error) {
	switch t {
	case micromodem.Name:
		s, err := nmea.New("CCCFQ", "SRC")
		if err != nil {
			return "", "", err
		}
		return s.String(), "\r\n", nil
	case iridium.Name:
		return "AT", "\r", nil
	case benthos.Name, "":
		return "AT", "\r\n", nil
	}
	return "", "", fmt.Errorf("no probe query for driver %q", t)
}

func runProbe(cmd *cobra.Command, args []string) error {
	f, err := loadConfig()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Config error: %v\n", err)
		os.Exit(2)
	}
	query, delim, err := probeQuery(f.Driver.Type)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(2)
	}
	if probeLine != "" {
		query = probeLine
	}

	ctx, cancel := context.WithTimeout(context.Background(), time.Duration(probeTimeout)*time.Second)
	defer cancel()

	t, err := openTransport(ctx, f, delim)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Connection error: %v\n", err)
		os.Exit(2)
	}
	defer t.Close()

	fmt.Printf("acomms - Probe\n")
	fmt.Printf("Connection: %s\n", describeConnection(f.Driver.Connection))
	fmt.Printf("Timeout: %d seconds\n", probeTimeout)
	fmt.Printf("Sending %q, waiting for a reply...\n\n", query)

	if _, err := t.Write([]byte(query + delim)); err != nil {
		fmt.Fprintf(os.Stderr, "Write error: %v\n", err)
		os.Exit(2)
	}

	ticker := time.NewTicker(10 * time.Millisecond)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			fmt.Fprintf(os.Stderr, "TIMEOUT: No reply received within %d seconds\n", probeTimeout)
			os.Exit(1)
		case <-ticker.C:
		}

		for {
			line, ok := t.ReadLine()
			if !ok {
				break
			}
			reply := strings.TrimRight(line, "\r\n")
			if reply == "" || reply == query {
				continue
			}
			fmt.Printf("SUCCESS: Received reply\n")
			fmt.Printf("  Line: %q\n", reply)
			if s, err := nmea.Parse(reply, nmea.Validate); err == nil {
				fmt.Printf("  Sentence: %s with %d fields\n", s.Header(), s.Len())
			}
			t.Close()
			os.Exit(0)
		}
		if !t.Active() {
			fmt.Fprintf(os.Stderr, "Read error: connection closed\n")
			os.Exit(2)
		}
	}
}
