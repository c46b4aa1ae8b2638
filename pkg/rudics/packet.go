// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package rudics

import (
	"bytes"
	"fmt"
)

// Codec serializes and parses packets for one reserved byte set.
type Codec struct {
	reserved    []byte
	reducedBase int
}

var defaultCodec = mustCodec(DefaultReserved)

func mustCodec(reserved []byte) *Codec {
	c, err := NewCodec(reserved)
	if err != nil {
		panic(fmt.Sprintf("rudics: %v", err))
	}
	return c
}

// NewCodec validates a reserved byte set and returns a codec for it.
// The set must contain the delimiter, must not repeat a value, and must not
// remap a digit onto another reserved value.
func NewCodec(reserved []byte) (*Codec, error) {
	if len(reserved) == 0 || len(reserved) > 128 {
		return nil, fmt.Errorf("%w: %d reserved bytes", ErrReservedSet, len(reserved))
	}
	if bytes.IndexByte(reserved, Delimiter) < 0 {
		return nil, fmt.Errorf("%w: delimiter 0x%02X is not reserved", ErrReservedSet, Delimiter)
	}

	seen := make(map[byte]bool, len(reserved))
	for _, r := range reserved {
		if seen[r] {
			return nil, fmt.Errorf("%w: 0x%02X listed twice", ErrReservedSet, r)
		}
		seen[r] = true
	}

	reducedBase := 256 - len(reserved)
	for j, r := range reserved {
		if int(r) < reducedBase && seen[byte(reducedBase+j)] {
			return nil, fmt.Errorf("%w: 0x%02X remaps onto reserved 0x%02X", ErrReservedSet, r, reducedBase+j)
		}
	}

	return &Codec{
		reserved:    append([]byte(nil), reserved...),
		reducedBase: reducedBase,
	}, nil
}

// Serialize frames payload for a line transport.
func (c *Codec) Serialize(payload []byte) []byte {
	data := make([]byte, 0, len(payload)+CRCSize)
	data = append(data, payload...)
	data = append(data, Uint32ToBytes(CalculateCRC(payload))...)

	// All digits are < 256 so the conversion cannot fail
	digits, _ := convertBase(data, 256, c.reducedBase)

	for i, d := range digits {
		if j := bytes.IndexByte(c.reserved, d); j >= 0 {
			digits[i] = byte(c.reducedBase + j)
		}
	}

	return append(digits, Delimiter)
}

// Parse validates and unframes a packet produced by Serialize. The trailing
// delimiter must be present.
func (c *Codec) Parse(wire []byte) ([]byte, error) {
	if len(wire) == 0 || wire[len(wire)-1] != Delimiter {
		return nil, fmt.Errorf("%w: missing delimiter", ErrTooShort)
	}

	// Reserved bytes never appear in a valid packet body; drop line noise
	digits := make([]byte, 0, len(wire)-1)
	for _, b := range wire[:len(wire)-1] {
		if bytes.IndexByte(c.reserved, b) >= 0 {
			continue
		}
		if int(b) >= c.reducedBase {
			b = c.reserved[int(b)-c.reducedBase]
		}
		digits = append(digits, b)
	}

	data, err := convertBase(digits, c.reducedBase, 256)
	if err != nil {
		return nil, err
	}

	if len(data) < CRCSize {
		return nil, fmt.Errorf("%w: %d bytes after decoding", ErrTooShort, len(data))
	}

	payload := data[:len(data)-CRCSize]
	expected, _ := BytesToUint32(data[len(data)-CRCSize:])
	if calculated := CalculateCRC(payload); calculated != expected {
		return nil, fmt.Errorf("%w: expected 0x%08X, got 0x%08X", ErrBadChecksum, calculated, expected)
	}

	return payload, nil
}

// Serialize frames payload with the default reserved set.
func Serialize(payload []byte) []byte {
	return defaultCodec.Serialize(payload)
}

// Parse unframes a packet with the default reserved set.
func Parse(wire []byte) ([]byte, error) {
	return defaultCodec.Parse(wire)
}
