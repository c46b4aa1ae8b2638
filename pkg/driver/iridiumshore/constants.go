// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

// Package iridiumshore is the shore end of an Iridium link: it answers
// RUDICS calls placed by mobiles, receives their SBD messages over DirectIP
// and sends SBD messages to them through the DirectIP MT gateway.
package iridiumshore

import "time"

// Name is the driver type used in configuration.
const Name = "iridium_shore"

const (
	// DirectIPTimeout bounds one DirectIP exchange.
	DirectIPTimeout = 30 * time.Second
	// AckTimeout is how long a sent frame waits for its acknowledgement. MT
	// messages wait in the gateway until the mobile opens a session.
	AckTimeout = 15 * time.Minute
	// DataRequestInterval is the minimum spacing of data requests per call.
	DataRequestInterval = time.Second
	// MTMaxFrameBytes leaves room for the transmission header in an MT message.
	MTMaxFrameBytes = 1850
	// CallBufferCapacity is the number of packets buffered per call.
	CallBufferCapacity = 5

	resultQueueSize = 16
	lineDelimiter   = "\r"
)
