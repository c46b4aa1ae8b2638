// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package lineio

import (
	"fmt"

	"go.bug.st/serial"
)

// SerialConn is a Transport over a serial port with DTR control.
type SerialConn struct {
	*Conn
	port serial.Port
	name string
}

// OpenSerial opens portName at 8N1 and the given baud rate.
func OpenSerial(portName string, baudRate int, delim string) (*SerialConn, error) {
	mode := &serial.Mode{
		BaudRate: baudRate,
		DataBits: 8,
		Parity:   serial.NoParity,
		StopBits: serial.OneStopBit,
	}

	port, err := serial.Open(portName, mode)
	if err != nil {
		return nil, fmt.Errorf("failed to open serial port %s: %w", portName, err)
	}

	return &SerialConn{
		Conn: NewConn(port, delim),
		port: port,
		name: portName,
	}, nil
}

// SetDTR raises or drops the DTR line.
func (s *SerialConn) SetDTR(on bool) error {
	if err := s.port.SetDTR(on); err != nil {
		return fmt.Errorf("set DTR on %s: %w", s.name, err)
	}
	return nil
}

func (s *SerialConn) String() string {
	return s.name
}
