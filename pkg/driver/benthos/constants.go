// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

// Package benthos drives a Benthos (Teledyne) ATM-900 series acoustic modem
// through its AT command set.
package benthos

import "time"

// Name is the driver type used in configuration.
const Name = "benthos"

const (
	CommandTimeout  = 2 * time.Second
	ConnectTimeout  = 5 * time.Second
	EscapeTimeout   = 5 * time.Second
	RangeTimeout    = 10 * time.Second
	LowPowerTimeout = 5 * time.Second
	ShutdownTimeout = 10 * time.Second

	// AckTimeout is how long a sent frame waits for its acknowledgement.
	AckTimeout = 30 * time.Second

	// GuardTime is the quiet period required before and after "+++".
	GuardTime = time.Second

	// SoundSpeed converts reported ranges to travel time, in m/s.
	SoundSpeed = 1500.0

	// PendingCapacity is the number of packets waiting for the modem.
	PendingCapacity = 5

	lineDelimiter = "\r\n"
)
