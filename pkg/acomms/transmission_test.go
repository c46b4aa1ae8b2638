// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package acomms

import (
	"bytes"
	"errors"
	"testing"
	"time"
)

func TestAppendFrame_UniformAck(t *testing.T) {
	m := NewData(1, 2, 1)
	if err := m.AppendFrame([]byte{1}, true); err != nil {
		t.Fatalf("first frame: %v", err)
	}
	if err := m.AppendFrame([]byte{2}, true); err != nil {
		t.Fatalf("second frame: %v", err)
	}
	if err := m.AppendFrame([]byte{3}, false); !errors.Is(err, ErrInvalidTransmission) {
		t.Fatalf("mixed ack_requested: got %v, want ErrInvalidTransmission", err)
	}
	if len(m.Frames) != 2 || !m.AckRequested {
		t.Errorf("frames=%d ack=%t after rejected append", len(m.Frames), m.AckRequested)
	}
}

func TestAppendFrame_Limits(t *testing.T) {
	m := NewData(1, 2, 0)
	m.MaxFrameBytes = 4
	m.MaxNumFrames = 1

	if err := m.AppendFrame(make([]byte, 5), false); !errors.Is(err, ErrInvalidTransmission) {
		t.Errorf("oversize frame: got %v", err)
	}
	if err := m.AppendFrame(make([]byte, 4), false); err != nil {
		t.Errorf("frame at limit: %v", err)
	}
	if err := m.AppendFrame(make([]byte, 1), false); !errors.Is(err, ErrInvalidTransmission) {
		t.Errorf("too many frames: got %v", err)
	}
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name  string
		build func() *ModemTransmission
		ok    bool
	}{
		{"plain data", func() *ModemTransmission { return NewData(1, 2, 0) }, true},
		{"query destination", func() *ModemTransmission { return NewData(1, QueryDestinationID, 0) }, true},
		{"broadcast no ack", func() *ModemTransmission {
			m := NewData(1, BroadcastID, 0)
			m.Frames = [][]byte{{1}}
			return m
		}, true},
		{"negative source", func() *ModemTransmission { return NewData(-1, 2, 0) }, false},
		{"destination below query", func() *ModemTransmission { return NewData(1, -2, 0) }, false},
		{"rate too high", func() *ModemTransmission { return NewData(1, 2, MaxRate+1) }, false},
		{"rate negative", func() *ModemTransmission { return NewData(1, 2, -1) }, false},
		{"oversize frame", func() *ModemTransmission {
			m := NewData(1, 2, 0)
			m.MaxFrameBytes = 2
			m.Frames = [][]byte{{1, 2, 3}}
			return m
		}, false},
		{"ack without frames", func() *ModemTransmission {
			m := NewData(1, 2, 0)
			m.Type = TypeAck
			return m
		}, false},
		{"ack on broadcast", func() *ModemTransmission {
			m := NewData(1, BroadcastID, 0)
			m.Frames = [][]byte{{1}}
			m.AckRequested = true
			return m
		}, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.build().Validate()
			if tt.ok && err != nil {
				t.Errorf("Validate failed: %v", err)
			}
			if !tt.ok && !errors.Is(err, ErrInvalidTransmission) {
				t.Errorf("Validate = %v, want ErrInvalidTransmission", err)
			}
		})
	}
}

func TestClone_IsDeep(t *testing.T) {
	m := NewData(1, 2, 0)
	m.Frames = [][]byte{{1, 2}}
	m.Ranging = &RangingReply{OneWayTravelTime: []time.Duration{time.Second}}
	m.SetExtra("k", "v")

	c := m.Clone()
	c.Frames[0][0] = 9
	c.Ranging.OneWayTravelTime[0] = 0
	c.Extra["k"] = "x"

	if m.Frames[0][0] != 1 || m.Ranging.OneWayTravelTime[0] != time.Second || m.Extra["k"] != "v" {
		t.Errorf("Clone shares state with original: %+v", m)
	}
}

func TestTransmissionCBOR_RoundTrip(t *testing.T) {
	m := NewData(3, 7, 2)
	m.FrameStart = 4
	m.Frames = [][]byte{{0x00, 0x0D}, {}, []byte("hello")}
	m.AckRequested = true

	data, err := MarshalTransmission(m)
	if err != nil {
		t.Fatalf("MarshalTransmission failed: %v", err)
	}
	back, err := UnmarshalTransmission(data)
	if err != nil {
		t.Fatalf("UnmarshalTransmission failed: %v", err)
	}
	if back.Type != TypeData || back.Src != 3 || back.Dest != 7 || back.Rate != 2 ||
		back.FrameStart != 4 || !back.AckRequested || len(back.Frames) != 3 {
		t.Fatalf("round trip = %v", back)
	}
	for i := range m.Frames {
		if !bytes.Equal(back.Frames[i], m.Frames[i]) {
			t.Errorf("frame %d = % X, want % X", i, back.Frames[i], m.Frames[i])
		}
	}

	ack := &ModemTransmission{Type: TypeAck, Src: 7, Dest: 3, AckedFrames: []int{0, 2}}
	data, err = MarshalTransmission(ack)
	if err != nil {
		t.Fatalf("MarshalTransmission(ack) failed: %v", err)
	}
	back, err = UnmarshalTransmission(data)
	if err != nil {
		t.Fatalf("UnmarshalTransmission(ack) failed: %v", err)
	}
	if back.Type != TypeAck || len(back.AckedFrames) != 2 || back.AckedFrames[1] != 2 {
		t.Errorf("ack round trip = %v", back)
	}
}

func TestUnmarshalTransmission_Rejects(t *testing.T) {
	if _, err := UnmarshalTransmission(nil); err == nil {
		t.Error("empty payload should fail")
	}
	if _, err := UnmarshalTransmission([]byte{0xFF, 0x00}); err == nil {
		t.Error("garbage should fail")
	}
	data, _ := MarshalTransmission(&ModemTransmission{Type: TransmissionType(99)})
	if _, err := UnmarshalTransmission(data); err == nil {
		t.Error("unknown type should fail")
	}
}

func TestSignals_Order(t *testing.T) {
	var s Signals
	var got []string
	s.OnReceive(func(*ModemTransmission) { got = append(got, "receive1") })
	s.OnReceive(func(*ModemTransmission) { got = append(got, "receive2") })
	s.OnAck(func(*ModemTransmission) { got = append(got, "ack") })
	s.OnRangeReply(func(*ModemTransmission) { got = append(got, "range") })

	s.EmitReceive(&ModemTransmission{Type: TypeAck, AckedFrames: []int{1}})
	s.EmitReceive(&ModemTransmission{Type: TypeTwoWayPing, Ranging: &RangingReply{}})
	s.EmitReceive(&ModemTransmission{Type: TypeData})

	want := []string{"receive1", "receive2", "ack", "receive1", "receive2", "range", "receive1", "receive2"}
	if len(got) != len(want) {
		t.Fatalf("got %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("call %d = %s, want %s", i, got[i], want[i])
		}
	}
}

func TestModemError(t *testing.T) {
	base := errors.New("write failed")
	err := error(&ModemError{Status: StatusModemNotResponding, Msg: "no reply", Err: base})
	if !IsStatus(err, StatusModemNotResponding) {
		t.Error("IsStatus should match")
	}
	if IsStatus(err, StatusShutdown) {
		t.Error("IsStatus should not match a different status")
	}
	if !errors.Is(err, base) {
		t.Error("ModemError should unwrap to its cause")
	}
}

func TestParseTransmissionType(t *testing.T) {
	tests := []struct {
		in      string
		want    TransmissionType
		wantErr bool
	}{
		{"DATA", TypeData, false},
		{"two_way_ping", TypeTwoWayPing, false},
		{"Mini_Data", TypeMiniData, false},
		{"BOGUS", TypeUnknown, true},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, err := ParseTransmissionType(tt.in)
			if (err != nil) != tt.wantErr || got != tt.want {
				t.Errorf("ParseTransmissionType(%q) = %v, %v", tt.in, got, err)
			}
		})
	}
}
