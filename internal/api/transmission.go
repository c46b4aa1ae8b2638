// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package api

import (
	"time"

	"github.com/Thermoquad/acomms/pkg/acomms"
)

// Transmission is the JSON form of a transmission. Frames are base64 in
// JSON; Text is a convenience for a single UTF-8 frame on /transmit.
type Transmission struct {
	Time         time.Time         `json:"time,omitzero"`
	Type         string            `json:"type"`
	Src          int               `json:"src"`
	Dest         int               `json:"dest"`
	Rate         int               `json:"rate"`
	FrameStart   int               `json:"frame_start"`
	AckRequested bool              `json:"ack_requested"`
	Frames       [][]byte          `json:"frames,omitempty"`
	Text         string            `json:"text,omitempty"`
	AckedFrames  []int             `json:"acked_frames,omitempty"`
	TravelTimes  []float64         `json:"travel_times_s,omitempty"`
	Extra        map[string]string `json:"extra,omitempty"`
}

// FromTransmission converts a driver transmission.
func FromTransmission(m *acomms.ModemTransmission) Transmission {
	t := Transmission{
		Time:         m.Time,
		Type:         m.Type.String(),
		Src:          m.Src,
		Dest:         m.Dest,
		Rate:         m.Rate,
		FrameStart:   m.FrameStart,
		AckRequested: m.AckRequested,
		Frames:       m.Frames,
		AckedFrames:  m.AckedFrames,
		Extra:        m.Extra,
	}
	if m.Ranging != nil {
		for _, d := range m.Ranging.OneWayTravelTime {
			t.TravelTimes = append(t.TravelTimes, d.Seconds())
		}
	}
	return t
}

// ToTransmission builds a transmission to initiate. Src 0 lets the driver
// fill in its own id.
func (t Transmission) ToTransmission() (*acomms.ModemTransmission, error) {
	typ, err := acomms.ParseTransmissionType(t.Type)
	if err != nil {
		return nil, err
	}
	m := &acomms.ModemTransmission{
		Type:       typ,
		Src:        t.Src,
		Dest:       t.Dest,
		Rate:       t.Rate,
		FrameStart: t.FrameStart,
	}
	frames := t.Frames
	if t.Text != "" {
		frames = append(frames, []byte(t.Text))
	}
	for _, f := range frames {
		if err := m.AppendFrame(f, t.AckRequested); err != nil {
			return nil, err
		}
	}
	if len(m.Frames) == 0 {
		m.AckRequested = t.AckRequested
	}
	m.AckedFrames = t.AckedFrames
	return m, nil
}
