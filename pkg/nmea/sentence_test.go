// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package nmea

import (
	"errors"
	"testing"
)

func TestChecksum_KnownSentence(t *testing.T) {
	// $GPGLL,5057.970,N,00146.110,E,142451,A*27
	if got := Checksum("GPGLL,5057.970,N,00146.110,E,142451,A"); got != 0x27 {
		t.Errorf("Checksum = %02X, want 27", got)
	}
}

func TestParse(t *testing.T) {
	tests := []struct {
		name      string
		line      string
		strategy  ChecksumStrategy
		header    string
		fields    []string
		wantError error
	}{
		{"valid with checksum", "$GPGLL,5057.970,N,00146.110,E,142451,A*27\r\n", Validate, "GPGLL",
			[]string{"5057.970", "N", "00146.110", "E", "142451", "A"}, nil},
		{"no checksum validate", "$CACYC,1,0,3,0,0,1", Validate, "CACYC",
			[]string{"1", "0", "3", "0", "0", "1"}, nil},
		{"no checksum require", "$CACYC,1,0,3,0,0,1", Require, "", nil, ErrNoChecksum},
		{"bad checksum", "$GPGLL,5057.970,N,00146.110,E,142451,A*28", Validate, "", nil, ErrBadChecksum},
		{"bad checksum ignored", "$GPGLL,5057.970,N,00146.110,E,142451,A*28", Ignore, "GPGLL",
			[]string{"5057.970", "N", "00146.110", "E", "142451", "A"}, nil},
		{"missing dollar", "CACYC,1", Validate, "", nil, ErrNoStart},
		{"short header", "$CA,1", Validate, "", nil, ErrShortHeader},
		{"header only", "$CAREV", Validate, "CAREV", []string{}, nil},
		{"empty fields kept", "$CCCFQ,,ALL", Validate, "CCCFQ", []string{"", "ALL"}, nil},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s, err := Parse(tt.line, tt.strategy)
			if tt.wantError != nil {
				if !errors.Is(err, tt.wantError) {
					t.Fatalf("Parse error = %v, want %v", err, tt.wantError)
				}
				return
			}
			if err != nil {
				t.Fatalf("Parse failed: %v", err)
			}
			if s.Header() != tt.header {
				t.Errorf("Header = %q, want %q", s.Header(), tt.header)
			}
			if len(s.Fields) != len(tt.fields) {
				t.Fatalf("fields = %q, want %q", s.Fields, tt.fields)
			}
			for i := range tt.fields {
				if s.Fields[i] != tt.fields[i] {
					t.Errorf("field %d = %q, want %q", i, s.Fields[i], tt.fields[i])
				}
			}
		})
	}
}

func TestString_RoundTrip(t *testing.T) {
	s, err := New("CCCFG", "SRC", "3")
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}
	wire := s.String()
	if wire[:len("$CCCFG,SRC,3*")] != "$CCCFG,SRC,3*" {
		t.Errorf("String = %q", wire)
	}

	back, err := Parse(wire, Require)
	if err != nil {
		t.Fatalf("Parse(%q) failed: %v", wire, err)
	}
	if back.Header() != "CCCFG" || back.Field(0) != "SRC" || back.Field(1) != "3" {
		t.Errorf("round trip = %+v", back)
	}
}

func TestAccessors(t *testing.T) {
	s, err := Parse("$CAMPR,1,3,2.5", Validate)
	if err != nil {
		t.Fatalf("Parse failed: %v", err)
	}
	if v, err := s.Int(1); err != nil || v != 3 {
		t.Errorf("Int(1) = %d, %v", v, err)
	}
	if v, err := s.Float(2); err != nil || v != 2.5 {
		t.Errorf("Float(2) = %v, %v", v, err)
	}
	if _, err := s.Int(5); !errors.Is(err, ErrFieldMissing) {
		t.Errorf("Int(5) error = %v, want ErrFieldMissing", err)
	}
	if _, err := s.Int(2); err == nil {
		t.Error("Int on a float field should fail")
	}
	if s.Field(9) != "" {
		t.Error("Field out of range should be empty")
	}
}

func TestNew_RejectsBadHeader(t *testing.T) {
	if _, err := New("CC"); !errors.Is(err, ErrShortHeader) {
		t.Errorf("expected ErrShortHeader, got %v", err)
	}
	if _, err := New("CC,FG"); !errors.Is(err, ErrInvalidHeader) {
		t.Errorf("expected ErrInvalidHeader, got %v", err)
	}
}
