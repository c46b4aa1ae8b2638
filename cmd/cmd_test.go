// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package cmd

import (
	"bytes"
	"encoding/hex"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/Thermoquad/acomms/pkg/acomms"
	"github.com/Thermoquad/acomms/pkg/directip"
	"github.com/Thermoquad/acomms/pkg/rudics"
)

func TestEncodeDecodeFrame(t *testing.T) {
	m := &acomms.ModemTransmission{Type: acomms.TypeData, Src: 1, Dest: 2, Rate: 1}
	if err := m.AppendFrame([]byte("hello"), true); err != nil {
		t.Fatal(err)
	}

	line, err := encodeFrame(m)
	if err != nil {
		t.Fatalf("encodeFrame: %v", err)
	}
	if line[len(line)-1] != rudics.Delimiter {
		t.Fatalf("line should end with the delimiter, got 0x%02X", line[len(line)-1])
	}

	got, err := decodeFrame(hex.EncodeToString(line))
	if err != nil {
		t.Fatalf("decodeFrame: %v", err)
	}
	if got.Type != m.Type || got.Src != 1 || got.Dest != 2 || !got.AckRequested {
		t.Errorf("decoded %s, want %s", got, m)
	}
	if len(got.Frames) != 1 || string(got.Frames[0]) != "hello" {
		t.Errorf("frames = %q", got.Frames)
	}
}

func TestEncodeFrame_Invalid(t *testing.T) {
	m := &acomms.ModemTransmission{Type: acomms.TypeAck, Src: 1, Dest: 2, Rate: 1}
	if _, err := encodeFrame(m); !errors.Is(err, acomms.ErrInvalidTransmission) {
		t.Errorf("expected ErrInvalidTransmission, got %v", err)
	}
}

func TestDecodeFrame_Errors(t *testing.T) {
	good := rudics.Serialize([]byte{0x01, 0x02, 0x03})
	corrupt := append([]byte(nil), good...)
	corrupt[len(corrupt)-2] ^= 0x01

	tests := []struct {
		name string
		in   string
		want string
	}{
		{"not hex", "zz", "invalid hex"},
		{"no delimiter", "0102", "FRAME TOO SHORT"},
		{"bad checksum", hex.EncodeToString(corrupt), "CRC ERROR"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := decodeFrame(tt.in)
			if err == nil || !strings.Contains(err.Error(), tt.want) {
				t.Errorf("expected error containing %q, got %v", tt.want, err)
			}
		})
	}
}

func TestFramePayload(t *testing.T) {
	tests := []struct {
		name    string
		text    string
		hex     string
		want    []byte
		wantErr bool
	}{
		{"none", "", "", nil, false},
		{"text", "abc", "", []byte("abc"), false},
		{"hex", "", "0a0b", []byte{0x0A, 0x0B}, false},
		{"both", "abc", "0a", nil, true},
		{"bad hex", "", "0g", nil, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := framePayload(tt.text, tt.hex)
			if (err != nil) != tt.wantErr {
				t.Fatalf("err = %v, wantErr %t", err, tt.wantErr)
			}
			if !bytes.Equal(got, tt.want) {
				t.Errorf("got %x, want %x", got, tt.want)
			}
		})
	}
}

func TestCheckFrame(t *testing.T) {
	m := &acomms.ModemTransmission{Type: acomms.TypeData, Src: 3, Dest: 4, Rate: 1}
	m.AppendFrame([]byte{0xDE, 0xAD}, false)
	line, err := encodeFrame(m)
	if err != nil {
		t.Fatal(err)
	}

	now := time.Now()
	if r := checkFrame(string(line), now); r.err != nil || r.m == nil || r.m.Src != 3 {
		t.Errorf("valid frame: m=%v err=%v", r.m, r.err)
	}
	if r := checkFrame("OK\r", now); r.err == nil || !r.text {
		t.Errorf("text line: text=%t err=%v", r.text, r.err)
	}
}

func TestFrameTracker(t *testing.T) {
	m := &acomms.ModemTransmission{Type: acomms.TypeData, Src: 3, Dest: 4, Rate: 1}
	m.AppendFrame([]byte("x"), false)
	line, _ := encodeFrame(m)
	bad := []byte{0x01, 0x02, 0x03, 0x04, 0x05, 0x06, rudics.Delimiter}

	now := time.Now()
	tr := newFrameTracker()

	// Noise before the first good frame is skipped
	if tr.add(checkFrame(string(bad), now)) {
		t.Error("noise before sync should not be shown")
	}
	if tr.add(checkFrame("RING\r", now)) {
		t.Error("text lines should not be shown")
	}
	if !tr.add(checkFrame(string(line), now)) || !tr.synchronized {
		t.Fatal("good frame should synchronize")
	}
	if !tr.add(checkFrame(string(bad), now)) {
		t.Error("errors after sync should be shown")
	}

	if tr.skipped != 1 {
		t.Errorf("skipped = %d, want 1", tr.skipped)
	}
	if tr.textLines != 1 {
		t.Errorf("textLines = %d, want 1", tr.textLines)
	}
	st := tr.stats
	if st.LinesIn != 4 || st.FramesReceived != 1 {
		t.Errorf("lines=%d frames=%d", st.LinesIn, st.FramesReceived)
	}
	if st.FramingErrors+st.CRCErrors != 1 {
		t.Errorf("decode errors = %d, want 1", st.FramingErrors+st.CRCErrors)
	}
}

func TestHeardTable(t *testing.T) {
	h := newHeardTable(1)
	now := time.Now()

	tests := []struct {
		src     int
		typ     acomms.TransmissionType
		wantNew bool
	}{
		{5, acomms.TypeData, true},
		{5, acomms.TypeAck, false},
		{1, acomms.TypeData, false}, // ourselves
		{2, acomms.TypeTwoWayPing, true},
	}
	for _, tt := range tests {
		got := h.add(&acomms.ModemTransmission{Type: tt.typ, Src: tt.src}, now)
		if got != tt.wantNew {
			t.Errorf("add(src=%d) = %t, want %t", tt.src, got, tt.wantNew)
		}
	}

	modems := h.sorted()
	if len(modems) != 2 || modems[0].id != 2 || modems[1].id != 5 {
		t.Fatalf("sorted = %+v", modems)
	}
	if modems[1].count != 2 || modems[1].lastType != acomms.TypeAck {
		t.Errorf("modem 5 = %+v", modems[1])
	}
}

func TestDescribeDirectIP(t *testing.T) {
	tx := &acomms.ModemTransmission{Type: acomms.TypeData, Src: 7, Dest: 1, Rate: 0}
	tx.AppendFrame([]byte("sbd"), false)
	payload, err := acomms.MarshalTransmission(tx)
	if err != nil {
		t.Fatal(err)
	}
	mo := &directip.MOMessage{
		Header: directip.MOHeader{
			CDRReference: 42,
			IMEI:         "300234010753370",
			MOMSN:        9,
			SessionTime:  time.Unix(1700000000, 0),
		},
		Payload: payload,
	}
	moMsg, err := mo.MarshalBinary()
	if err != nil {
		t.Fatal(err)
	}
	conf := &directip.MTConfirmation{ClientMessageID: 3, IMEI: "300234010753370", Status: -5}
	confMsg, err := conf.MarshalBinary()
	if err != nil {
		t.Fatal(err)
	}

	tests := []struct {
		name string
		msg  []byte
		want []string
	}{
		{"mobile originated", moMsg, []string{"Mobile originated", "300234010753370", "DATA 7->1"}},
		{"confirmation", confMsg, []string{"MT confirmation", "error -5"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var out bytes.Buffer
			if err := describeDirectIP(&out, tt.msg); err != nil {
				t.Fatalf("describeDirectIP: %v", err)
			}
			for _, w := range tt.want {
				if !strings.Contains(out.String(), w) {
					t.Errorf("output missing %q:\n%s", w, out.String())
				}
			}
		})
	}

	if err := describeDirectIP(&bytes.Buffer{}, []byte{0x02, 0x00, 0x00}); !errors.Is(err, directip.ErrBadRevision) {
		t.Errorf("expected ErrBadRevision, got %v", err)
	}
}

func TestReadDirectIP_Hex(t *testing.T) {
	got, err := readDirectIP("01 00 03 44 00 00")
	if err != nil {
		t.Fatal(err)
	}
	if !bytes.Equal(got, []byte{0x01, 0x00, 0x03, 0x44, 0x00, 0x00}) {
		t.Errorf("got %x", got)
	}
}

func TestConsoleBuildTransmission(t *testing.T) {
	tests := []struct {
		name    string
		typeIdx int
		dest    string
		text    string
		ack     bool
		wantErr bool
	}{
		{"data", 0, "4", "hi", true, false},
		{"placeholder dest", 0, "", "hi", false, false},
		{"no text", 0, "4", "", false, true},
		{"bad dest", 0, "x", "hi", false, true},
		{"ping", 1, "4", "", false, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			m := initialConsoleModel(nil, "test", "micromodem", 1)
			m.typeIdx = tt.typeIdx
			m.destInput.SetValue(tt.dest)
			m.textInput.SetValue(tt.text)
			m.ackRequested = tt.ack

			tx, err := m.buildTransmission()
			if (err != nil) != tt.wantErr {
				t.Fatalf("err = %v, wantErr %t", err, tt.wantErr)
			}
			if err != nil {
				return
			}
			if tx.Type != consoleTypes[tt.typeIdx] {
				t.Errorf("type = %s", tx.Type)
			}
			if tx.Type == acomms.TypeData && (string(tx.Frames[0]) != tt.text || tx.AckRequested != tt.ack) {
				t.Errorf("got %s", tx)
			}
		})
	}
}

func TestConsoleProcessEvent(t *testing.T) {
	m := initialConsoleModel(nil, "test", "micromodem", 1)
	m.awaiting[0] = true
	m.awaiting[1] = true

	now := time.Now()
	rx := &acomms.ModemTransmission{Type: acomms.TypeData, Src: 6, Dest: 1, Frames: [][]byte{[]byte("ok")}}
	m.processEvent(consoleEvent{at: now, kind: eventReceive, m: rx})
	m.processEvent(consoleEvent{at: now, kind: eventAck, m: &acomms.ModemTransmission{Type: acomms.TypeAck, Src: 6, AckedFrames: []int{0}}})
	m.processEvent(consoleEvent{at: now, kind: eventStatus, state: "ready"})

	if len(m.modemList.Items()) != 1 {
		t.Errorf("modem list has %d items, want 1", len(m.modemList.Items()))
	}
	if m.lastRx != rx {
		t.Error("last receive not recorded")
	}
	if m.awaiting[0] || !m.awaiting[1] {
		t.Errorf("awaiting = %v, want only frame 1", m.awaiting)
	}
	if m.state != "ready" || !m.hasStats {
		t.Errorf("state = %q hasStats=%t", m.state, m.hasStats)
	}
}
