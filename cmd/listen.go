// SPDX-License-Identifier: GPL-2.0-or-later
// Copyright (c) 2025 Kaz Walker, Thermoquad

package cmd

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"sort"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/Thermoquad/acomms/pkg/acomms"
)

var listenTimeout int

var listenCmd = &cobra.Command{
	Use:   "listen",
	Short: "Discover remote modems by listening to traffic",
	Long: `Run the driver for a while and report every remote modem heard.

A modem counts as heard when a transmission from it is received, whatever
its destination. Nothing is transmitted.

Examples:
  # Listen on a Micro-Modem for a minute
  acomms listen --driver micromodem --modem-id 1 --port /dev/ttyUSB0 --timeout 60

Exit codes:
  0 - At least one modem heard
  1 - Nothing heard before the timeout
  2 - Driver error`,
	RunE: runListen,
}

func init() {
	rootCmd.AddCommand(listenCmd)
	listenCmd.Flags().IntVar(&listenTimeout, "timeout", 30, "Seconds to listen")
}

// heardModem summarizes traffic from one remote modem.
type heardModem struct {
	id       int
	count    int
	lastType acomms.TransmissionType
	lastSeen time.Time
}

// heardTable tracks remote modems by id.
type heardTable struct {
	self   int
	modems map[int]*heardModem
}

func newHeardTable(self int) *heardTable {
	return &heardTable{self: self, modems: make(map[int]*heardModem)}
}

// add records m. It reports true the first time a modem is heard.
func (h *heardTable) add(m *acomms.ModemTransmission, at time.Time) bool {
	if m.Src == h.self || m.Src < acomms.BroadcastID {
		return false
	}
	e, ok := h.modems[m.Src]
	if !ok {
		e = &heardModem{id: m.Src}
		h.modems[m.Src] = e
	}
	e.count++
	e.lastType = m.Type
	e.lastSeen = at
	return !ok
}

// sorted returns the heard modems ordered by id.
func (h *heardTable) sorted() []heardModem {
	out := make([]heardModem, 0, len(h.modems))
	for _, e := range h.modems {
		out = append(out, *e)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].id < out[j].id })
	return out
}

func runListen(cmd *cobra.Command, args []string) error {
	f, err := loadConfig()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(2)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	heard := newHeardTable(f.Driver.ModemID)
	s, err := openSession(ctx, f, 0, os.Stderr, func(sig *acomms.Signals) {
		sig.OnReceive(func(m *acomms.ModemTransmission) {
			if heard.add(m, time.Now()) {
				fmt.Printf("[%s] Modem %d heard (%s)\n", timestamp(), m.Src, m.Type)
			}
		})
	})
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(2)
	}
	defer s.Close()

	fmt.Printf("acomms - Listen\n")
	fmt.Printf("Connection: %s\n", describeConnection(f.Driver.Connection))
	fmt.Printf("Timeout: %d seconds\n\n", listenTimeout)

	waitCtx, cancel := context.WithTimeout(ctx, time.Duration(listenTimeout)*time.Second)
	defer cancel()
	if err := s.loop(waitCtx, nil); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		s.Close()
		os.Exit(2)
	}

	// Summary
	modems := heard.sorted()
	fmt.Printf("\n--- Listen summary ---\n")
	fmt.Printf("Modems heard: %d\n", len(modems))
	for _, m := range modems {
		fmt.Printf("  %3d: %d transmissions, last %s at %s\n",
			m.id, m.count, m.lastType, m.lastSeen.Format("15:04:05"))
	}

	if len(modems) == 0 {
		fmt.Printf("Nothing heard. Check the connection and that remote modems are transmitting.\n")
		s.Close()
		os.Exit(1)
	}
	return nil
}
