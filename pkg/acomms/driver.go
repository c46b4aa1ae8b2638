// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package acomms

import "context"

// Driver is the uniform contract every modem driver implements.
//
// Drivers are single threaded: Startup, Poll, HandleInitiateTransmission
// and Shutdown must be called from one goroutine. Poll never blocks.
type Driver interface {
	// Startup opens the transport and brings the modem up.
	Startup(ctx context.Context) error
	// Shutdown tears the session down and closes the transport. Idempotent.
	Shutdown(ctx context.Context) error
	// Poll pumps retries, reads available lines and fires callbacks.
	// A *ModemError return is fatal.
	Poll() error
	// HandleInitiateTransmission validates m and enqueues the commands to send it.
	HandleInitiateTransmission(m *ModemTransmission) error
	// Signals returns the observer registry.
	Signals() *Signals
}
