// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

// Package iridium drives an Iridium 9523/9602 style modem over its AT
// command set: RUDICS data calls carrying framed packets, and Short Burst
// Data sessions.
package iridium

import "time"

// Name is the driver type used in configuration.
const Name = "iridium"

// Rates select the Iridium service.
const (
	RateSBD    = 0
	RateRUDICS = 1
)

// Command timeouts
const (
	CommandTimeout  = 2 * time.Second
	DialTimeout     = 60 * time.Second
	AnswerTimeout   = 30 * time.Second
	HangupTimeout   = 10 * time.Second
	EscapeTimeout   = 5 * time.Second
	SBDWriteTimeout = 10 * time.Second
	SBDIXTimeout    = 60 * time.Second
)

const (
	// GuardTime is the quiet period required before and after "+++".
	GuardTime = time.Second
	// DTRHold is how long DTR stays low to force a hangup.
	DTRHold = time.Second
	// ShutdownTimeout bounds the hangup at shutdown.
	ShutdownTimeout = 10 * time.Second
	// AckTimeout is how long a sent frame waits for its acknowledgement.
	AckTimeout = 5 * time.Minute
	// DataRequestInterval is the minimum spacing of data requests on a call.
	DataRequestInterval = time.Second

	// DataOutCapacity is the number of packets buffered for a call.
	DataOutCapacity = 5

	// SBDMaxMOBytes is the largest mobile originated SBD message.
	SBDMaxMOBytes = 340
	// SBDMaxFrameBytes leaves room for the transmission header in an SBD message.
	SBDMaxFrameBytes = 300

	// Bye is the line each side sends when it has nothing more to say.
	Bye = "bye\r"

	lineDelimiter = "\r"
)
