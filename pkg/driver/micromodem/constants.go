// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

// Package micromodem drives a WHOI Micro-Modem over its NMEA-0183 dialect
// ($CC host commands, $CA and $SN modem replies).
package micromodem

import "time"

// Name is the driver type used in configuration.
const Name = "micromodem"

// Frames per packet and bytes per frame, indexed by rate.
var (
	PacketFrameCount = [6]int{1, 3, 3, 2, 2, 8}
	PacketSize       = [6]int{32, 64, 64, 256, 256, 256}
)

// Timing
const (
	// ModemWait is how long a command waits for its acknowledgement.
	ModemWait = 3 * time.Second
	// ClockRetry spaces clock set attempts while the clock is unset.
	ClockRetry = 10 * time.Second
	// HydroidGPSRequestInterval is how often the Hydroid gateway is asked for GPS.
	HydroidGPSRequestInterval = 30 * time.Second
	// MiniDataMask keeps the 13 bits a mini-packet carries.
	MiniDataMask = 0x1FFF
)

const lineDelimiter = "\r\n"

// ackFor maps a host command to the reply that acknowledges it when the
// reply is not the same sentence with a $CA talker.
var ackFor = map[string][]string{
	"CFQ": {"CFG"},
	"PDT": {"PDT", "TTA"},
}
