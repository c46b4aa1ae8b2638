// SPDX-License-Identifier: GPL-2.0-or-later
// Copyright (c) 2025 Kaz Walker, Thermoquad

package cmd

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/Thermoquad/acomms/pkg/acomms"
	"github.com/Thermoquad/acomms/pkg/driver"
)

var (
	pingDest    int
	pingTimeout int
	pingCount   int
)

var pingCmd = &cobra.Command{
	Use:   "ping",
	Short: "Range to a remote modem with two-way pings",
	Long: `Send TWO_WAY_PING transmissions to a remote modem and wait for each
range reply. The one-way travel time and the implied range at 1500 m/s
are printed for every reply.

Exit codes:
  0 - All pings answered
  1 - One or more pings timed out
  2 - Driver error`,
	RunE: runPing,
}

func init() {
	rootCmd.AddCommand(pingCmd)
	pingCmd.Flags().IntVar(&pingDest, "dest", 0, "Modem id to ping")
	pingCmd.Flags().IntVar(&pingTimeout, "timeout", 10, "Timeout in seconds for each ping")
	pingCmd.Flags().IntVar(&pingCount, "count", 3, "Number of pings to send")
	pingCmd.MarkFlagRequired("dest")
}

func runPing(cmd *cobra.Command, args []string) error {
	f, err := loadConfig()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(2)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	var reply *acomms.ModemTransmission
	s, err := openSession(ctx, f, 0, os.Stderr, func(sig *acomms.Signals) {
		sig.OnRangeReply(func(r *acomms.ModemTransmission) { reply = r })
	})
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(2)
	}
	defer s.Close()

	fmt.Printf("acomms - Ping\n")
	fmt.Printf("Connection: %s\n", describeConnection(f.Driver.Connection))
	fmt.Printf("Timeout: %d seconds per ping\n", pingTimeout)
	fmt.Printf("Count: %d pings to modem %d\n\n", pingCount, pingDest)

	successCount := 0
	failCount := 0

	for i := 1; i <= pingCount && ctx.Err() == nil; i++ {
		fmt.Printf("Ping %d/%d: ", i, pingCount)

		reply = nil
		m := &acomms.ModemTransmission{Type: acomms.TypeTwoWayPing, Dest: pingDest}
		startTime := time.Now()
		if err := s.modem.HandleInitiateTransmission(m); err != nil {
			fmt.Printf("SEND FAILED: %v\n", err)
			failCount++
			continue
		}

		waitCtx, cancel := context.WithTimeout(ctx, time.Duration(pingTimeout)*time.Second)
		err := s.loop(waitCtx, func(driver.Modem) {
			if reply != nil {
				cancel()
			}
		})
		cancel()
		if err != nil {
			fmt.Printf("DRIVER FAILED: %v\n", err)
			s.Close()
			os.Exit(2)
		}

		if reply == nil {
			fmt.Printf("TIMEOUT (no reply in %ds)\n", pingTimeout)
			failCount++
			continue
		}
		fmt.Printf("reply from %d, %s, elapsed=%v\n", reply.Src, describeRange(reply.Ranging),
			time.Since(startTime).Round(time.Millisecond))
		successCount++
	}

	// Summary
	fmt.Printf("\n--- Ping statistics ---\n")
	fmt.Printf("%d pings sent, %d replies received, %.0f%% loss\n",
		pingCount, successCount, float64(failCount)/float64(pingCount)*100)

	if failCount > 0 {
		s.Close()
		os.Exit(1)
	}
	return nil
}

// describeRange formats the first travel time of r and its range.
func describeRange(r *acomms.RangingReply) string {
	if r == nil || len(r.OneWayTravelTime) == 0 {
		return "no travel time"
	}
	owtt := r.OneWayTravelTime[0]
	return fmt.Sprintf("owtt=%.4fs range=%.1fm", owtt.Seconds(), owtt.Seconds()*soundSpeed)
}

// soundSpeed is the nominal speed of sound in sea water, m/s.
const soundSpeed = 1500.0
