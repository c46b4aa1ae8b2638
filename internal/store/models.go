// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package store

import (
	"time"

	"github.com/Thermoquad/acomms/pkg/acomms"
)

// Directions and events
const (
	DirIn  = "in"
	DirOut = "out"

	EventReceive  = "receive"
	EventInitiate = "initiate"
)

// Line is one raw line to or from a modem.
type Line struct {
	ID        uint      `gorm:"primarykey" json:"id"`
	Time      time.Time `gorm:"index" json:"time"`
	Driver    string    `gorm:"size:20" json:"driver"`
	ModemID   int       `json:"modem_id"`
	Direction string    `gorm:"size:3" json:"direction"`
	Text      string    `json:"text"`
}

// TableName specifies the table name for GORM
func (Line) TableName() string {
	return "raw_lines"
}

// Transmission is one transmission reported or initiated through a driver.
type Transmission struct {
	ID           uint      `gorm:"primarykey" json:"id"`
	Time         time.Time `gorm:"index" json:"time"`
	Driver       string    `gorm:"size:20" json:"driver"`
	Event        string    `gorm:"index;size:10" json:"event"`
	Type         string    `gorm:"size:20" json:"type"`
	Src          int       `gorm:"index" json:"src"`
	Dest         int       `json:"dest"`
	Rate         int       `json:"rate"`
	FrameStart   int       `json:"frame_start"`
	FrameCount   int       `json:"frame_count"`
	Bytes        int       `json:"bytes"`
	AckRequested bool      `json:"ack_requested"`
	Summary      string    `json:"summary"`
	// Payload is the CBOR wire form of the transmission.
	Payload []byte `json:"-"`
}

// TableName specifies the table name for GORM
func (Transmission) TableName() string {
	return "transmissions"
}

// NewTransmission builds a record for m.
func NewTransmission(vendor, event string, m *acomms.ModemTransmission) (*Transmission, error) {
	payload, err := acomms.MarshalTransmission(m)
	if err != nil {
		return nil, err
	}
	t := &Transmission{
		Time:         m.Time,
		Driver:       vendor,
		Event:        event,
		Type:         m.Type.String(),
		Src:          m.Src,
		Dest:         m.Dest,
		Rate:         m.Rate,
		FrameStart:   m.FrameStart,
		FrameCount:   len(m.Frames),
		AckRequested: m.AckRequested,
		Summary:      m.String(),
		Payload:      payload,
	}
	for _, f := range m.Frames {
		t.Bytes += len(f)
	}
	if t.Time.IsZero() {
		t.Time = time.Now().UTC()
	}
	return t, nil
}

// Decode rebuilds the transmission from the stored payload.
func (t *Transmission) Decode() (*acomms.ModemTransmission, error) {
	m, err := acomms.UnmarshalTransmission(t.Payload)
	if err != nil {
		return nil, err
	}
	m.Time = t.Time
	return m, nil
}
