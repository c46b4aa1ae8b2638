// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package acomms

import (
	"fmt"

	"github.com/fxamacker/cbor/v2"
)

// wireTransmission is the over-the-air form used by drivers that carry the
// whole transmission (header and frames) inside one modem packet.
type wireTransmission struct {
	Type         int      `cbor:"1,keyasint"`
	Src          int      `cbor:"2,keyasint"`
	Dest         int      `cbor:"3,keyasint"`
	Rate         int      `cbor:"4,keyasint,omitempty"`
	FrameStart   int      `cbor:"5,keyasint,omitempty"`
	AckRequested bool     `cbor:"6,keyasint,omitempty"`
	Frames       [][]byte `cbor:"7,keyasint,omitempty"`
	AckedFrames  []int    `cbor:"8,keyasint,omitempty"`
}

var wireEncMode = func() cbor.EncMode {
	em, err := cbor.CoreDetEncOptions().EncMode()
	if err != nil {
		panic(err)
	}
	return em
}()

// MarshalTransmission encodes the addressing, frames and acks of m as CBOR.
// Time, ranging and Extra stay local.
func MarshalTransmission(m *ModemTransmission) ([]byte, error) {
	w := wireTransmission{
		Type:         int(m.Type),
		Src:          m.Src,
		Dest:         m.Dest,
		Rate:         m.Rate,
		FrameStart:   m.FrameStart,
		AckRequested: m.AckRequested,
		Frames:       m.Frames,
		AckedFrames:  m.AckedFrames,
	}
	data, err := wireEncMode.Marshal(w)
	if err != nil {
		return nil, fmt.Errorf("failed to encode transmission: %w", err)
	}
	return data, nil
}

// UnmarshalTransmission decodes a transmission encoded by MarshalTransmission.
func UnmarshalTransmission(data []byte) (*ModemTransmission, error) {
	if len(data) == 0 {
		return nil, fmt.Errorf("empty CBOR payload")
	}
	var w wireTransmission
	if err := cbor.Unmarshal(data, &w); err != nil {
		return nil, fmt.Errorf("failed to decode transmission: %w", err)
	}
	if _, ok := typeNames[TransmissionType(w.Type)]; !ok {
		return nil, fmt.Errorf("unknown transmission type %d", w.Type)
	}
	return &ModemTransmission{
		Type:         TransmissionType(w.Type),
		Src:          w.Src,
		Dest:         w.Dest,
		Rate:         w.Rate,
		FrameStart:   w.FrameStart,
		AckRequested: w.AckRequested,
		Frames:       w.Frames,
		AckedFrames:  w.AckedFrames,
	}, nil
}
