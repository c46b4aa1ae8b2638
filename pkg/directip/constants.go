// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

// Package directip encodes and decodes Iridium DirectIP SBD messages
// exchanged between the shore-side driver and the Iridium gateway.
//
// Every message is a 3-byte pre-header (protocol revision, big-endian
// overall length) followed by Information Elements, each a 1-byte IEI,
// a big-endian 2-byte length, and the element body.
package directip

import "errors"

// ProtocolRevision is the only DirectIP revision in use.
const ProtocolRevision = 1

// Sizes on the wire
const (
	PreHeaderSize = 3
	IEHeaderSize  = 3
	IMEISize      = 15

	moHeaderSize       = 4 + IMEISize + 1 + 2 + 2 + 4
	mtHeaderSize       = 4 + IMEISize + 2
	mtConfirmationSize = 4 + IMEISize + 4 + 2
)

// Information Element identifiers
const (
	IEIMOHeader       = 0x01
	IEIMOPayload      = 0x02
	IEIMOLocation     = 0x03
	IEIMTHeader       = 0x41
	IEIMTPayload      = 0x42
	IEIMTConfirmation = 0x44
	IEIMTPriority     = 0x46
)

// MT disposition flags
const (
	FlagFlushMTQueue   = 0x0001
	FlagSendRingAlert  = 0x0002
	FlagUpdateLocation = 0x0008
	FlagHighPriority   = 0x0010
	FlagAssignMTMSN    = 0x0020
)

// MaxPayloadSize bounds an MT payload accepted by the gateway.
const MaxPayloadSize = 1890

var (
	ErrTruncated   = errors.New("directip: message truncated")
	ErrBadRevision = errors.New("directip: unsupported protocol revision")
	ErrMissingIE   = errors.New("directip: required information element missing")
	ErrBadIMEI     = errors.New("directip: IMEI must be 15 ASCII digits")
	ErrTooLarge    = errors.New("directip: message too large")
)
