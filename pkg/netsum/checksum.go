// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

// Package netsum computes the RFC 1071 Internet checksum used by the IP
// gateway when it rebuilds IPv4, UDP and ICMP headers for compressed
// acoustic traffic.
package netsum

import "encoding/binary"

// IP protocol numbers used in pseudo-headers
const (
	ProtoICMP = 1
	ProtoUDP  = 17
)

// IPv4HeaderChecksumOffset is the byte offset of the checksum in an IPv4 header.
const IPv4HeaderChecksumOffset = 10

// Sum adds data to a running 32-bit one's complement accumulator as
// big-endian 16-bit words. An odd final byte is the high-order half of a
// zero-padded word.
func Sum(acc uint32, data []byte) uint32 {
	n := len(data)
	for i := 0; i+1 < n; i += 2 {
		acc += uint32(binary.BigEndian.Uint16(data[i:]))
	}
	if n%2 == 1 {
		acc += uint32(data[n-1]) << 8
	}
	return acc
}

// Fold folds carries into the low 16 bits and returns the one's complement.
func Fold(acc uint32) uint16 {
	for acc>>16 != 0 {
		acc = (acc & 0xFFFF) + (acc >> 16)
	}
	return ^uint16(acc)
}

// Checksum returns the Internet checksum of data.
func Checksum(data []byte) uint16 {
	return Fold(Sum(0, data))
}

// IPv4HeaderChecksum computes the checksum of an IPv4 header with its
// checksum field treated as zero.
func IPv4HeaderChecksum(header []byte) uint16 {
	if len(header) < IPv4HeaderChecksumOffset+2 {
		return Checksum(header)
	}
	acc := Sum(0, header[:IPv4HeaderChecksumOffset])
	acc = Sum(acc, header[IPv4HeaderChecksumOffset+2:])
	return Fold(acc)
}

// PseudoHeaderChecksum computes a UDP or ICMP-style checksum over an IPv4
// pseudo-header (source, destination, zero, protocol, length) followed by
// segment. The checksum field inside segment must already be zero.
func PseudoHeaderChecksum(src, dst [4]byte, protocol uint8, segment []byte) uint16 {
	pseudo := make([]byte, 12)
	copy(pseudo[0:4], src[:])
	copy(pseudo[4:8], dst[:])
	pseudo[9] = protocol
	binary.BigEndian.PutUint16(pseudo[10:12], uint16(len(segment)))

	acc := Sum(0, pseudo)
	acc = Sum(acc, segment)
	return Fold(acc)
}
