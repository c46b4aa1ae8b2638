// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package rudics

import (
	"encoding/binary"
	"fmt"
	"hash/crc32"
)

// CalculateCRC computes the IEEE CRC32 of data.
func CalculateCRC(data []byte) uint32 {
	return crc32.ChecksumIEEE(data)
}

// Uint32ToBytes returns v as 4 bytes in network byte order.
func Uint32ToBytes(v uint32) []byte {
	b := make([]byte, 4)
	binary.BigEndian.PutUint32(b, v)
	return b
}

// BytesToUint32 reads a network byte order uint32 from the first 4 bytes of b.
func BytesToUint32(b []byte) (uint32, error) {
	if len(b) < 4 {
		return 0, fmt.Errorf("%w: need 4 bytes for uint32, have %d", ErrTooShort, len(b))
	}
	return binary.BigEndian.Uint32(b[:4]), nil
}
