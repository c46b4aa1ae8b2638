// SPDX-License-Identifier: GPL-2.0-or-later
// Copyright (c) 2025 Kaz Walker, Thermoquad

package cmd

import (
	"context"
	"encoding/hex"
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
	sendDest    int
	sendRate    int
	sendType    string
	sendText    string
	sendHex     string
	sendAck     bool
	sendTimeout int
)

var sendCmd = &cobra.Command{
	Use:   "send",
	Short: "Send one transmission and wait for the result",
	Long: `Start the driver, initiate one transmission and wait until it is
acknowledged (--ack), a range reply arrives (ranging types) or the timeout
expires.

Exit codes:
  0 - Sent (and acknowledged or answered when requested)
  1 - Timeout reached
  2 - Driver or validation error`,
	RunE: runSend,
}

func init() {
	rootCmd.AddCommand(sendCmd)
	sendCmd.Flags().IntVar(&sendDest, "dest", 0, "Destination modem id (0 = broadcast)")
	sendCmd.Flags().IntVar(&sendRate, "rate", 0, "Rate class")
	sendCmd.Flags().StringVar(&sendType, "type", "DATA", "Transmission type")
	sendCmd.Flags().StringVar(&sendText, "text", "", "Frame contents as text")
	sendCmd.Flags().StringVar(&sendHex, "hex", "", "Frame contents as hex")
	sendCmd.Flags().BoolVar(&sendAck, "ack", false, "Request an acknowledgement")
	sendCmd.Flags().IntVar(&sendTimeout, "timeout", 120, "Seconds to wait")
}

func buildSendTransmission() (*acomms.ModemTransmission, error) {
	typ, err := acomms.ParseTransmissionType(sendType)
	if err != nil {
		return nil, err
	}
	m := &acomms.ModemTransmission{Type: typ, Dest: sendDest, Rate: sendRate}
	var frame []byte
	switch {
	case sendHex != "":
		if frame, err = hex.DecodeString(sendHex); err != nil {
			return nil, fmt.Errorf("invalid --hex: %w", err)
		}
	case sendText != "":
		frame = []byte(sendText)
	}
	if frame != nil {
		if err := m.AppendFrame(frame, sendAck); err != nil {
			return nil, err
		}
	}
	m.AckRequested = sendAck
	return m, nil
}

func runSend(cmd *cobra.Command, args []string) error {
	m, err := buildSendTransmission()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(2)
	}
	f, err := loadConfig()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(2)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	done := false
	s, err := openSession(ctx, f, 0, os.Stderr, func(sig *acomms.Signals) {
		sig.OnAck(func(a *acomms.ModemTransmission) {
			fmt.Printf("[%s] ACK from %d for frames %v\n", timestamp(), a.Src, a.AckedFrames)
			done = true
		})
		sig.OnRangeReply(func(r *acomms.ModemTransmission) {
			fmt.Printf("[%s] RANGE REPLY: %s\n", timestamp(), r)
			done = true
		})
	})
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(2)
	}
	defer s.Close()

	if err := s.modem.HandleInitiateTransmission(m); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		s.Close()
		os.Exit(2)
	}
	fmt.Printf("[%s] Initiated: %s\n", timestamp(), m)
	if !sendAck && !m.Type.IsRanging() {
		// Let the driver flush the transmission before shutdown.
		waitCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
		defer cancel()
		return s.loop(waitCtx, nil)
	}

	waitCtx, cancel := context.WithTimeout(ctx, time.Duration(sendTimeout)*time.Second)
	defer cancel()
	err = s.loop(waitCtx, func(driver.Modem) {
		if done {
			cancel()
		}
	})
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		s.Close()
		os.Exit(2)
	}
	if !done {
		fmt.Fprintf(os.Stderr, "TIMEOUT: no reply within %d seconds\n", sendTimeout)
		s.Close()
		os.Exit(1)
	}
	return nil
}
