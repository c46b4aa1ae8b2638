// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package directip

import (
	"bytes"
	"errors"
	"testing"
	"time"
)

const testIMEI = "300234010123456"

func TestMTMessage_WireLayout(t *testing.T) {
	m := &MTMessage{
		Header: MTHeader{
			ClientMessageID:  0x01020304,
			IMEI:             testIMEI,
			DispositionFlags: FlagSendRingAlert,
		},
		Payload: []byte{0xAA, 0xBB},
	}

	wire, err := m.MarshalBinary()
	if err != nil {
		t.Fatalf("MarshalBinary failed: %v", err)
	}

	// pre-header + MT header IE (3+21) + payload IE (3+2)
	wantLen := PreHeaderSize + IEHeaderSize + 21 + IEHeaderSize + 2
	if len(wire) != wantLen {
		t.Fatalf("length = %d, want %d", len(wire), wantLen)
	}
	if wire[0] != ProtocolRevision {
		t.Errorf("revision = %d, want %d", wire[0], ProtocolRevision)
	}
	if overall := int(wire[1])<<8 | int(wire[2]); overall != wantLen-PreHeaderSize {
		t.Errorf("overall length = %d, want %d", overall, wantLen-PreHeaderSize)
	}
	if wire[3] != IEIMTHeader || wire[4] != 0 || wire[5] != 21 {
		t.Errorf("MT header IE = % X, want 41 00 15", wire[3:6])
	}
	if !bytes.Equal(wire[6:10], []byte{1, 2, 3, 4}) {
		t.Errorf("client id = % X", wire[6:10])
	}
	if string(wire[10:25]) != testIMEI {
		t.Errorf("IMEI = %q", wire[10:25])
	}
	if wire[25] != 0 || wire[26] != 2 {
		t.Errorf("disposition = % X, want 00 02", wire[25:27])
	}
	if wire[27] != IEIMTPayload {
		t.Errorf("payload IEI = 0x%02X", wire[27])
	}

	parsed, err := ParseMT(wire)
	if err != nil {
		t.Fatalf("ParseMT failed: %v", err)
	}
	if parsed.Header != m.Header || !bytes.Equal(parsed.Payload, m.Payload) {
		t.Errorf("ParseMT = %+v, want %+v", parsed, m)
	}
}

func TestMOMessage_RoundTrip(t *testing.T) {
	m := &MOMessage{
		Header: MOHeader{
			CDRReference:  123456789,
			IMEI:          testIMEI,
			SessionStatus: 0,
			MOMSN:         42,
			MTMSN:         7,
			SessionTime:   time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC),
		},
		Payload: []byte("mobile originated"),
	}

	wire, err := m.MarshalBinary()
	if err != nil {
		t.Fatalf("MarshalBinary failed: %v", err)
	}

	parsed, err := ParseMO(wire)
	if err != nil {
		t.Fatalf("ParseMO failed: %v", err)
	}
	if parsed.Header != m.Header {
		t.Errorf("header = %+v, want %+v", parsed.Header, m.Header)
	}
	if !bytes.Equal(parsed.Payload, m.Payload) {
		t.Errorf("payload = %q, want %q", parsed.Payload, m.Payload)
	}

	read, err := ReadMessage(bytes.NewReader(append(wire, 0xEE)))
	if err != nil {
		t.Fatalf("ReadMessage failed: %v", err)
	}
	if !bytes.Equal(read, wire) {
		t.Errorf("ReadMessage returned % X, want % X", read, wire)
	}
}

func TestParseMO_SkipsLocationIE(t *testing.T) {
	m := &MOMessage{Header: MOHeader{IMEI: testIMEI, SessionTime: time.Unix(0, 0).UTC()}, Payload: []byte{1}}
	wire, err := m.MarshalBinary()
	if err != nil {
		t.Fatalf("MarshalBinary failed: %v", err)
	}
	ies, err := Decode(wire)
	if err != nil {
		t.Fatalf("Decode failed: %v", err)
	}
	ies = append([]InformationElement{{ID: IEIMOLocation, Body: make([]byte, 11)}}, ies...)
	withLoc, err := Encode(ies...)
	if err != nil {
		t.Fatalf("Encode failed: %v", err)
	}
	parsed, err := ParseMO(withLoc)
	if err != nil {
		t.Fatalf("ParseMO failed: %v", err)
	}
	if !bytes.Equal(parsed.Payload, []byte{1}) {
		t.Errorf("payload = % X", parsed.Payload)
	}
}

func TestMTConfirmation_SignedStatus(t *testing.T) {
	c := &MTConfirmation{ClientMessageID: 9, IMEI: testIMEI, AutoIDReference: 77, Status: -2}
	wire, err := c.MarshalBinary()
	if err != nil {
		t.Fatalf("MarshalBinary failed: %v", err)
	}
	if n := len(wire); n != PreHeaderSize+IEHeaderSize+25 {
		t.Errorf("length = %d", n)
	}
	parsed, err := ParseMTConfirmation(wire)
	if err != nil {
		t.Fatalf("ParseMTConfirmation failed: %v", err)
	}
	if *parsed != *c {
		t.Errorf("got %+v, want %+v", parsed, c)
	}
	if parsed.Success() {
		t.Error("negative status should not be success")
	}
}

func TestDecode_Errors(t *testing.T) {
	tests := []struct {
		name string
		msg  []byte
		want error
	}{
		{"short pre-header", []byte{1, 0}, ErrTruncated},
		{"bad revision", []byte{2, 0, 0}, ErrBadRevision},
		{"overall too long", []byte{1, 0, 10, 0x41}, ErrTruncated},
		{"partial IE", []byte{1, 0, 2, 0x41, 0}, ErrTruncated},
		{"IE body short", []byte{1, 0, 4, 0x42, 0, 5, 1}, ErrTruncated},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := Decode(tt.msg); !errors.Is(err, tt.want) {
				t.Errorf("Decode error = %v, want %v", err, tt.want)
			}
		})
	}
}

func TestParseMT_MissingHeader(t *testing.T) {
	wire, _ := Encode(InformationElement{ID: IEIMTPayload, Body: []byte{1}})
	if _, err := ParseMT(wire); !errors.Is(err, ErrMissingIE) {
		t.Errorf("expected ErrMissingIE, got %v", err)
	}
}

func TestMarshal_BadIMEI(t *testing.T) {
	m := &MTMessage{Header: MTHeader{IMEI: "12345"}}
	if _, err := m.MarshalBinary(); !errors.Is(err, ErrBadIMEI) {
		t.Errorf("expected ErrBadIMEI, got %v", err)
	}
}
