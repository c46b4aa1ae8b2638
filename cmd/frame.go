// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package cmd

import (
	"encoding/hex"
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/Thermoquad/acomms/pkg/acomms"
	"github.com/Thermoquad/acomms/pkg/rudics"
)

var (
	frameSrc  int
	frameDest int
	frameRate int
	frameType string
	frameText string
	frameHex  string
	frameAck  bool
)

var frameCmd = &cobra.Command{
	Use:   "frame",
	Short: "Encode or decode RUDICS framed transmissions",
}

var frameEncodeCmd = &cobra.Command{
	Use:   "encode",
	Short: "Build a transmission and print its RUDICS line as hex",
	RunE: func(cmd *cobra.Command, args []string) error {
		m := &acomms.ModemTransmission{Src: frameSrc, Dest: frameDest, Rate: frameRate}
		typ, err := acomms.ParseTransmissionType(frameType)
		if err != nil {
			return err
		}
		m.Type = typ
		payload, err := framePayload(frameText, frameHex)
		if err != nil {
			return err
		}
		if payload != nil {
			if err := m.AppendFrame(payload, frameAck); err != nil {
				return err
			}
		}
		m.AckRequested = frameAck

		line, err := encodeFrame(m)
		if err != nil {
			return err
		}
		fmt.Println(hex.EncodeToString(line))
		return nil
	},
}

var frameDecodeCmd = &cobra.Command{
	Use:   "decode <hex>",
	Short: "Decode a hex RUDICS line into a transmission",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		m, err := decodeFrame(args[0])
		if err != nil {
			return err
		}
		printTransmission(m)
		return nil
	},
}

func init() {
	rootCmd.AddCommand(frameCmd)
	frameCmd.AddCommand(frameEncodeCmd, frameDecodeCmd)

	frameEncodeCmd.Flags().IntVar(&frameSrc, "src", 1, "Source modem id")
	frameEncodeCmd.Flags().IntVar(&frameDest, "dest", 0, "Destination modem id")
	frameEncodeCmd.Flags().IntVar(&frameRate, "rate", 1, "Rate class")
	frameEncodeCmd.Flags().StringVar(&frameType, "type", "DATA", "Transmission type")
	frameEncodeCmd.Flags().StringVar(&frameText, "text", "", "Frame contents as text")
	frameEncodeCmd.Flags().StringVar(&frameHex, "hex", "", "Frame contents as hex")
	frameEncodeCmd.Flags().BoolVar(&frameAck, "ack", false, "Request an acknowledgement")
}

func framePayload(text, hexData string) ([]byte, error) {
	switch {
	case text != "" && hexData != "":
		return nil, fmt.Errorf("--text and --hex are mutually exclusive")
	case hexData != "":
		b, err := hex.DecodeString(hexData)
		if err != nil {
			return nil, fmt.Errorf("invalid --hex: %w", err)
		}
		return b, nil
	case text != "":
		return []byte(text), nil
	}
	return nil, nil
}

// encodeFrame serializes m the way the Iridium and Benthos drivers put it
// on the wire, trailing "\r" included.
func encodeFrame(m *acomms.ModemTransmission) ([]byte, error) {
	if err := m.Validate(); err != nil {
		return nil, err
	}
	payload, err := acomms.MarshalTransmission(m)
	if err != nil {
		return nil, err
	}
	return rudics.Serialize(payload), nil
}

func decodeFrame(hexLine string) (*acomms.ModemTransmission, error) {
	wire, err := hex.DecodeString(strings.TrimSpace(hexLine))
	if err != nil {
		return nil, fmt.Errorf("invalid hex: %w", err)
	}
	payload, err := rudics.Parse(wire)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", describeFrameError(err), err)
	}
	return acomms.UnmarshalTransmission(payload)
}

func printTransmission(m *acomms.ModemTransmission) {
	fmt.Printf("Type:          %s\n", m.Type)
	fmt.Printf("Source:        %d\n", m.Src)
	fmt.Printf("Destination:   %d\n", m.Dest)
	fmt.Printf("Rate:          %d\n", m.Rate)
	if !m.Time.IsZero() {
		fmt.Printf("Time:          %s\n", m.Time.Format("2006-01-02 15:04:05.000"))
	}
	fmt.Printf("Ack Requested: %t\n", m.AckRequested)
	for i, f := range m.Frames {
		fmt.Printf("Frame %-3d      %x", m.FrameStart+i, f)
		if isText(string(f)) {
			fmt.Printf("  %q", f)
		}
		fmt.Println()
	}
	if len(m.AckedFrames) > 0 {
		fmt.Printf("Acked Frames:  %v\n", m.AckedFrames)
	}
	for k, v := range m.Extra {
		fmt.Printf("%-14s %s\n", k+":", v)
	}
}
