// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package cmd

import (
	"encoding/hex"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/Thermoquad/acomms/pkg/acomms"
	"github.com/Thermoquad/acomms/pkg/directip"
)

var directipCmd = &cobra.Command{
	Use:   "directip",
	Short: "Inspect Iridium DirectIP SBD messages",
}

var directipDecodeCmd = &cobra.Command{
	Use:   "decode <file|hex|->",
	Short: "Decode a DirectIP message from a file, hex string or stdin",
	Long: `Decode one DirectIP message (MO, MT or MT confirmation) and print its
information elements. Payloads carrying a transmission encoded by the
shore driver are decoded too.`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		msg, err := readDirectIP(args[0])
		if err != nil {
			return err
		}
		return describeDirectIP(os.Stdout, msg)
	},
}

func init() {
	rootCmd.AddCommand(directipCmd)
	directipCmd.AddCommand(directipDecodeCmd)
}

// readDirectIP loads raw message bytes. The argument is tried as a file
// first, then as hex.
func readDirectIP(arg string) ([]byte, error) {
	if arg == "-" {
		return directip.ReadMessage(os.Stdin)
	}
	if data, err := os.ReadFile(arg); err == nil {
		return data, nil
	}
	msg, err := hex.DecodeString(strings.Join(strings.Fields(arg), ""))
	if err != nil {
		return nil, fmt.Errorf("%q is neither a readable file nor hex: %w", arg, err)
	}
	return msg, nil
}

func describeDirectIP(w io.Writer, msg []byte) error {
	ies, err := directip.Decode(msg)
	if err != nil {
		return err
	}
	for _, ie := range ies {
		fmt.Fprintf(w, "IE 0x%02X (%d bytes)\n", ie.ID, len(ie.Body))
	}

	var payload []byte
	switch {
	case hasIE(ies, directip.IEIMOHeader):
		mo, err := directip.ParseMO(msg)
		if err != nil {
			return err
		}
		h := mo.Header
		fmt.Fprintf(w, "Mobile originated\n")
		fmt.Fprintf(w, "  IMEI:           %s\n", h.IMEI)
		fmt.Fprintf(w, "  CDR Reference:  %d\n", h.CDRReference)
		fmt.Fprintf(w, "  Session Status: %d\n", h.SessionStatus)
		fmt.Fprintf(w, "  MOMSN / MTMSN:  %d / %d\n", h.MOMSN, h.MTMSN)
		fmt.Fprintf(w, "  Session Time:   %s\n", h.SessionTime.Format("2006-01-02 15:04:05"))
		payload = mo.Payload
	case hasIE(ies, directip.IEIMTHeader):
		mt, err := directip.ParseMT(msg)
		if err != nil {
			return err
		}
		fmt.Fprintf(w, "Mobile terminated\n")
		fmt.Fprintf(w, "  IMEI:              %s\n", mt.Header.IMEI)
		fmt.Fprintf(w, "  Client Message ID: %d\n", mt.Header.ClientMessageID)
		fmt.Fprintf(w, "  Disposition:       0x%04X\n", mt.Header.DispositionFlags)
		payload = mt.Payload
	case hasIE(ies, directip.IEIMTConfirmation):
		c, err := directip.ParseMTConfirmation(msg)
		if err != nil {
			return err
		}
		fmt.Fprintf(w, "MT confirmation\n")
		fmt.Fprintf(w, "  IMEI:              %s\n", c.IMEI)
		fmt.Fprintf(w, "  Client Message ID: %d\n", c.ClientMessageID)
		fmt.Fprintf(w, "  Auto ID Reference: %d\n", c.AutoIDReference)
		if c.Success() {
			fmt.Fprintf(w, "  Status:            queued at position %d\n", c.Status)
		} else {
			fmt.Fprintf(w, "  Status:            error %d\n", c.Status)
		}
		return nil
	default:
		return fmt.Errorf("%w: no MO, MT or confirmation header", directip.ErrMissingIE)
	}

	if len(payload) == 0 {
		fmt.Fprintf(w, "  Payload:        (none)\n")
		return nil
	}
	fmt.Fprintf(w, "  Payload:        %x\n", payload)
	if m, err := acomms.UnmarshalTransmission(payload); err == nil {
		fmt.Fprintf(w, "  Transmission:   %s\n", m)
	}
	return nil
}

func hasIE(ies []directip.InformationElement, id byte) bool {
	for _, ie := range ies {
		if ie.ID == id {
			return true
		}
	}
	return false
}
