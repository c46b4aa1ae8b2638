// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package acomms

import (
	"errors"
	"fmt"
)

// ErrInvalidTransmission is wrapped by every boundary validation failure.
var ErrInvalidTransmission = errors.New("invalid transmission")

// ConfigError reports a missing or invalid startup field.
type ConfigError struct {
	Field  string
	Reason string
}

func (e *ConfigError) Error() string {
	return fmt.Sprintf("config: %s: %s", e.Field, e.Reason)
}

// DriverStatus classifies fatal driver conditions.
type DriverStatus int

const (
	StatusModemNotResponding DriverStatus = iota + 1
	StatusStartupFailed
	StatusConnectionClosed
	StatusShutdown
)

func (s DriverStatus) String() string {
	switch s {
	case StatusModemNotResponding:
		return "MODEM_NOT_RESPONDING"
	case StatusStartupFailed:
		return "STARTUP_FAILED"
	case StatusConnectionClosed:
		return "CONNECTION_CLOSED"
	case StatusShutdown:
		return "SHUTDOWN"
	default:
		return fmt.Sprintf("STATUS(%d)", int(s))
	}
}

// ModemError is a fatal driver error. Once returned from Poll the driver
// has closed its transport.
type ModemError struct {
	Status DriverStatus
	Msg    string
	Err    error
}

func (e *ModemError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Status, e.Msg, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Status, e.Msg)
}

func (e *ModemError) Unwrap() error {
	return e.Err
}

// IsStatus reports whether err is a ModemError with the given status.
func IsStatus(err error, status DriverStatus) bool {
	var me *ModemError
	return errors.As(err, &me) && me.Status == status
}
