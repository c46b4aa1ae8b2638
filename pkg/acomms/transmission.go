// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

// Package acomms defines the vendor-neutral transmission model exchanged
// between an application and a modem driver, the observer registry the
// drivers report through, and the errors they surface.
package acomms

import (
	"fmt"
	"strings"
	"time"
)

// Reserved addresses
const (
	// BroadcastID addresses every modem in range.
	BroadcastID = 0
	// QueryDestinationID asks the data request responder to pick a destination.
	QueryDestinationID = -1
)

// Rate classes run 0 (slowest, most robust) to MaxRate.
const (
	MinRate = 0
	MaxRate = 5
)

// TransmissionType identifies what a ModemTransmission carries.
type TransmissionType int

const (
	TypeUnknown TransmissionType = iota
	TypeData
	TypeAck
	TypeDriverSpecific
	TypeTwoWayPing
	TypeRemusLBLRanging
	TypeMiniData
)

var typeNames = map[TransmissionType]string{
	TypeUnknown:         "UNKNOWN",
	TypeData:            "DATA",
	TypeAck:             "ACK",
	TypeDriverSpecific:  "DRIVER_SPECIFIC",
	TypeTwoWayPing:      "TWO_WAY_PING",
	TypeRemusLBLRanging: "REMUS_LBL_RANGING",
	TypeMiniData:        "MINI_DATA",
}

func (t TransmissionType) String() string {
	if name, ok := typeNames[t]; ok {
		return name
	}
	return fmt.Sprintf("TYPE(%d)", int(t))
}

// ParseTransmissionType is the inverse of String. Matching ignores case.
func ParseTransmissionType(s string) (TransmissionType, error) {
	for t, name := range typeNames {
		if strings.EqualFold(name, s) {
			return t, nil
		}
	}
	return TypeUnknown, fmt.Errorf("%w: unknown transmission type %q", ErrInvalidTransmission, s)
}

// IsRanging reports whether the type produces a range reply.
func (t TransmissionType) IsRanging() bool {
	return t == TypeTwoWayPing || t == TypeRemusLBLRanging
}

// RangingReply carries travel times measured by a ranging transmission.
type RangingReply struct {
	OneWayTravelTime []time.Duration
	// Beacons is set for LBL ranging: which transponders were pinged.
	Beacons []int
}

// ModemTransmission is the unit of work handed to and reported by drivers.
type ModemTransmission struct {
	Time time.Time
	Type TransmissionType

	Src  int
	Dest int
	Rate int

	// Limits filled in by the driver before asking for data.
	MaxNumFrames  int
	MaxFrameBytes int

	FrameStart   int
	Frames       [][]byte
	AckRequested bool

	// AckedFrames lists frame numbers acknowledged by an ACK transmission.
	AckedFrames []int

	Ranging *RangingReply

	// Extra carries driver specific key/value pairs (modem revision, IMEI,
	// receive quality).
	Extra map[string]string
}

// NewData returns a DATA transmission from src to dest.
func NewData(src, dest, rate int) *ModemTransmission {
	return &ModemTransmission{
		Time: time.Now().UTC(),
		Type: TypeData,
		Src:  src,
		Dest: dest,
		Rate: rate,
	}
}

// AppendFrame adds a frame. All frames of one transmission share one
// ack_requested value: the first frame sets it and a later frame that
// disagrees is rejected.
func (m *ModemTransmission) AppendFrame(data []byte, ackRequested bool) error {
	if len(m.Frames) == 0 {
		m.AckRequested = ackRequested
	} else if m.AckRequested != ackRequested {
		return fmt.Errorf("%w: frame %d ack_requested=%t but transmission has %t",
			ErrInvalidTransmission, m.FrameStart+len(m.Frames), ackRequested, m.AckRequested)
	}
	if m.MaxFrameBytes > 0 && len(data) > m.MaxFrameBytes {
		return fmt.Errorf("%w: frame of %d bytes exceeds max_frame_bytes %d",
			ErrInvalidTransmission, len(data), m.MaxFrameBytes)
	}
	if m.MaxNumFrames > 0 && len(m.Frames) >= m.MaxNumFrames {
		return fmt.Errorf("%w: more than %d frames", ErrInvalidTransmission, m.MaxNumFrames)
	}
	m.Frames = append(m.Frames, data)
	return nil
}

// HasData reports whether any non-empty frame is attached.
func (m *ModemTransmission) HasData() bool {
	for _, f := range m.Frames {
		if len(f) > 0 {
			return true
		}
	}
	return false
}

// SetExtra stores a driver specific value.
func (m *ModemTransmission) SetExtra(key, value string) {
	if m.Extra == nil {
		m.Extra = make(map[string]string)
	}
	m.Extra[key] = value
}

// Clone returns a deep copy.
func (m *ModemTransmission) Clone() *ModemTransmission {
	c := *m
	c.Frames = make([][]byte, len(m.Frames))
	for i, f := range m.Frames {
		c.Frames[i] = append([]byte(nil), f...)
	}
	c.AckedFrames = append([]int(nil), m.AckedFrames...)
	if m.Ranging != nil {
		r := *m.Ranging
		r.OneWayTravelTime = append([]time.Duration(nil), m.Ranging.OneWayTravelTime...)
		r.Beacons = append([]int(nil), m.Ranging.Beacons...)
		c.Ranging = &r
	}
	if m.Extra != nil {
		c.Extra = make(map[string]string, len(m.Extra))
		for k, v := range m.Extra {
			c.Extra[k] = v
		}
	}
	return &c
}

// Validate checks the boundary invariants that every driver enforces
// before sending anything.
func (m *ModemTransmission) Validate() error {
	if m.Src < 0 {
		return fmt.Errorf("%w: source address %d", ErrInvalidTransmission, m.Src)
	}
	if m.Dest < QueryDestinationID {
		return fmt.Errorf("%w: destination address %d", ErrInvalidTransmission, m.Dest)
	}
	if m.Rate < MinRate || m.Rate > MaxRate {
		return fmt.Errorf("%w: rate %d outside %d..%d", ErrInvalidTransmission, m.Rate, MinRate, MaxRate)
	}
	if m.FrameStart < 0 {
		return fmt.Errorf("%w: frame_start %d", ErrInvalidTransmission, m.FrameStart)
	}
	if m.MaxNumFrames > 0 && len(m.Frames) > m.MaxNumFrames {
		return fmt.Errorf("%w: %d frames exceeds max %d", ErrInvalidTransmission, len(m.Frames), m.MaxNumFrames)
	}
	if m.MaxFrameBytes > 0 {
		for i, f := range m.Frames {
			if len(f) > m.MaxFrameBytes {
				return fmt.Errorf("%w: frame %d is %d bytes, max %d",
					ErrInvalidTransmission, m.FrameStart+i, len(f), m.MaxFrameBytes)
			}
		}
	}
	if m.Type == TypeAck && len(m.AckedFrames) == 0 {
		return fmt.Errorf("%w: ACK with no acked frames", ErrInvalidTransmission)
	}
	if m.AckRequested && m.Dest == BroadcastID && len(m.Frames) > 0 {
		return fmt.Errorf("%w: ack requested on a broadcast", ErrInvalidTransmission)
	}
	return nil
}

// String formats the transmission for logs.
func (m *ModemTransmission) String() string {
	var b strings.Builder
	fmt.Fprintf(&b, "%s %d->%d rate=%d", m.Type, m.Src, m.Dest, m.Rate)
	if len(m.Frames) > 0 {
		fmt.Fprintf(&b, " frames=%d@%d ack=%t", len(m.Frames), m.FrameStart, m.AckRequested)
		for _, f := range m.Frames {
			fmt.Fprintf(&b, " [%X]", f)
		}
	}
	if len(m.AckedFrames) > 0 {
		fmt.Fprintf(&b, " acked=%v", m.AckedFrames)
	}
	if m.Ranging != nil {
		fmt.Fprintf(&b, " owtt=%v", m.Ranging.OneWayTravelTime)
	}
	return b.String()
}
