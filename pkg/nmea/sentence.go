// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

// Package nmea parses and builds NMEA-0183 style sentences of the form
// $TTSSS,field,field*CS where CS is the two hex digit XOR of everything
// between '$' and '*'.
package nmea

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
)

var (
	ErrNoStart       = errors.New("nmea: sentence does not start with '$'")
	ErrShortHeader   = errors.New("nmea: header shorter than talker and sentence id")
	ErrBadChecksum   = errors.New("nmea: checksum mismatch")
	ErrNoChecksum    = errors.New("nmea: checksum required but missing")
	ErrFieldMissing  = errors.New("nmea: field index out of range")
	ErrInvalidHeader = errors.New("nmea: header contains invalid characters")
)

// ChecksumStrategy selects how Parse treats the trailing checksum.
type ChecksumStrategy int

const (
	// Validate checks the checksum when present and accepts sentences without one.
	Validate ChecksumStrategy = iota
	// Require rejects sentences without a valid checksum.
	Require
	// Ignore never checks the checksum.
	Ignore
)

// Sentence is a parsed NMEA sentence. Fields excludes the header.
type Sentence struct {
	Talker string
	ID     string
	Fields []string
}

// New builds a sentence from a five character header such as "CCCFG".
func New(header string, fields ...string) (*Sentence, error) {
	if len(header) < 5 {
		return nil, fmt.Errorf("%w: %q", ErrShortHeader, header)
	}
	for i := 0; i < len(header); i++ {
		c := header[i]
		if c == ',' || c == '*' || c == '$' || c < 0x20 || c > 0x7E {
			return nil, fmt.Errorf("%w: %q", ErrInvalidHeader, header)
		}
	}
	return &Sentence{Talker: header[:2], ID: header[2:], Fields: fields}, nil
}

// Checksum computes the XOR checksum of a sentence body (without '$' and '*').
func Checksum(body string) byte {
	var cs byte
	for i := 0; i < len(body); i++ {
		cs ^= body[i]
	}
	return cs
}

// Parse decodes a single line. Trailing CR/LF and surrounding spaces are ignored.
func Parse(line string, strategy ChecksumStrategy) (*Sentence, error) {
	line = strings.TrimSpace(line)
	if !strings.HasPrefix(line, "$") {
		return nil, fmt.Errorf("%w: %q", ErrNoStart, line)
	}
	body := line[1:]

	if star := strings.LastIndexByte(body, '*'); star >= 0 {
		given := body[star+1:]
		body = body[:star]
		if strategy != Ignore {
			want, err := strconv.ParseUint(given, 16, 8)
			if err != nil || len(given) != 2 {
				return nil, fmt.Errorf("%w: malformed checksum %q", ErrBadChecksum, given)
			}
			if got := Checksum(body); got != byte(want) {
				return nil, fmt.Errorf("%w: computed %02X, sentence has %02X", ErrBadChecksum, got, want)
			}
		}
	} else if strategy == Require {
		return nil, fmt.Errorf("%w: %q", ErrNoChecksum, line)
	}

	parts := strings.Split(body, ",")
	if len(parts[0]) < 5 {
		return nil, fmt.Errorf("%w: %q", ErrShortHeader, parts[0])
	}
	return &Sentence{
		Talker: parts[0][:2],
		ID:     parts[0][2:],
		Fields: parts[1:],
	}, nil
}

// Header returns talker and sentence id, e.g. "CACYC".
func (s *Sentence) Header() string {
	return s.Talker + s.ID
}

// Len returns the number of fields after the header.
func (s *Sentence) Len() int {
	return len(s.Fields)
}

// Field returns field i (0-based, after the header) or "" when absent.
func (s *Sentence) Field(i int) string {
	if i < 0 || i >= len(s.Fields) {
		return ""
	}
	return s.Fields[i]
}

// Int parses field i as a base-10 integer.
func (s *Sentence) Int(i int) (int, error) {
	if i < 0 || i >= len(s.Fields) {
		return 0, fmt.Errorf("%w: %s field %d", ErrFieldMissing, s.Header(), i)
	}
	v, err := strconv.Atoi(strings.TrimSpace(s.Fields[i]))
	if err != nil {
		return 0, fmt.Errorf("%s field %d: %w", s.Header(), i, err)
	}
	return v, nil
}

// Float parses field i as a float.
func (s *Sentence) Float(i int) (float64, error) {
	if i < 0 || i >= len(s.Fields) {
		return 0, fmt.Errorf("%w: %s field %d", ErrFieldMissing, s.Header(), i)
	}
	v, err := strconv.ParseFloat(strings.TrimSpace(s.Fields[i]), 64)
	if err != nil {
		return 0, fmt.Errorf("%s field %d: %w", s.Header(), i, err)
	}
	return v, nil
}

// Append adds fields, formatting each with %v.
func (s *Sentence) Append(values ...any) *Sentence {
	for _, v := range values {
		s.Fields = append(s.Fields, fmt.Sprint(v))
	}
	return s
}

// String serializes the sentence with its checksum and no line terminator.
func (s *Sentence) String() string {
	var b strings.Builder
	b.WriteString(s.Header())
	for _, f := range s.Fields {
		b.WriteByte(',')
		b.WriteString(f)
	}
	body := b.String()
	return fmt.Sprintf("$%s*%02X", body, Checksum(body))
}
