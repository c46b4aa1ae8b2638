// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

// Package rudics implements the line-safe packet framing used on Iridium
// RUDICS calls, Iridium SBD payloads, and Benthos data mode.
//
// A packet is the payload followed by its big-endian CRC32, re-expressed in a
// reduced radix (256 minus the number of reserved bytes) so that no reserved
// control byte can appear on the wire, and terminated by a carriage return.
// A line transport can therefore treat "read until CR" as "read one packet".
package rudics

import "errors"

// Delimiter terminates every serialized packet.
const Delimiter = '\r'

// CRCSize is the length of the big-endian CRC32 trailer.
const CRCSize = 4

// DefaultReserved is the canonical reserved byte set: NUL, CR, LF and 0xFF.
var DefaultReserved = []byte{0x00, 0x0D, 0x0A, 0xFF}

// Framing errors. Parse wraps these with detail; compare with errors.Is.
var (
	ErrTooShort     = errors.New("rudics: packet too short")
	ErrBadChecksum  = errors.New("rudics: bad CRC32 checksum")
	ErrReservedSet  = errors.New("rudics: invalid reserved byte set")
	ErrBadDigitBase = errors.New("rudics: digit out of range for base")
)
