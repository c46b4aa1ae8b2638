// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package driver

import (
	"errors"
	"fmt"
	"time"

	"github.com/Thermoquad/acomms/pkg/rudics"
)

// Statistics tracks modem traffic and error counts
type Statistics struct {
	StartTime      time.Time
	LastUpdateTime time.Time

	// Counters
	LinesIn        uint64
	LinesOut       uint64
	FramingErrors  uint64
	CRCErrors      uint64
	ParseErrors    uint64
	Resends        uint64
	Drops          uint64
	Resets         uint64
	FramesSent     uint64
	FramesReceived uint64
	AcksReceived   uint64
	UnknownAcks    uint64
	AckTimeouts    uint64

	// Rates (calculated)
	LineRate  float64 // lines/sec
	ErrorRate float64 // errors/sec
}

// NewStatistics creates a new statistics tracker
func NewStatistics(now time.Time) *Statistics {
	return &Statistics{
		StartTime:      now,
		LastUpdateTime: now,
	}
}

// RecordDecodeError counts a packet that failed to decode. Checksum
// failures are counted apart from other framing failures.
func (s *Statistics) RecordDecodeError(err error) {
	if errors.Is(err, rudics.ErrBadChecksum) {
		s.CRCErrors++
		return
	}
	s.FramingErrors++
}

// CalculateRates calculates line and error rates
func (s *Statistics) CalculateRates(now time.Time) {
	elapsed := now.Sub(s.StartTime).Seconds()
	if elapsed > 0 {
		s.LineRate = float64(s.LinesIn+s.LinesOut) / elapsed
		s.ErrorRate = float64(s.errorCount()) / elapsed
	}
}

func (s *Statistics) errorCount() uint64 {
	return s.FramingErrors + s.CRCErrors + s.ParseErrors + s.Drops
}

// Snapshot returns a copy with rates filled in.
func (s *Statistics) Snapshot(now time.Time) Statistics {
	c := *s
	c.CalculateRates(now)
	return c
}

// String returns a formatted statistics summary
func (s *Statistics) String() string {
	now := s.LastUpdateTime
	if now.Before(s.StartTime) {
		now = s.StartTime
	}
	s.CalculateRates(now)

	var framingPercent, crcPercent float64
	decoded := s.FramesReceived + s.FramingErrors + s.CRCErrors
	if decoded > 0 {
		framingPercent = float64(s.FramingErrors) * 100.0 / float64(decoded)
		crcPercent = float64(s.CRCErrors) * 100.0 / float64(decoded)
	}

	result := fmt.Sprintf("=== Statistics (%.0f seconds) ===\n", now.Sub(s.StartTime).Seconds())
	result += fmt.Sprintf("Lines In:        %8d\n", s.LinesIn)
	result += fmt.Sprintf("Lines Out:       %8d\n", s.LinesOut)
	result += fmt.Sprintf("Frames Sent:     %8d\n", s.FramesSent)
	result += fmt.Sprintf("Frames Received: %8d\n", s.FramesReceived)
	result += fmt.Sprintf("Acks Received:   %8d\n", s.AcksReceived)

	if s.FramingErrors > 0 {
		result += fmt.Sprintf("Framing Errors:  %8d (%.1f%%)\n", s.FramingErrors, framingPercent)
	}
	if s.CRCErrors > 0 {
		result += fmt.Sprintf("CRC Errors:      %8d (%.1f%%)\n", s.CRCErrors, crcPercent)
	}
	if s.ParseErrors > 0 {
		result += fmt.Sprintf("Parse Errors:    %8d\n", s.ParseErrors)
	}
	if s.UnknownAcks > 0 {
		result += fmt.Sprintf("Unknown Acks:    %8d\n", s.UnknownAcks)
	}
	if s.AckTimeouts > 0 {
		result += fmt.Sprintf("Ack Timeouts:    %8d\n", s.AckTimeouts)
	}
	if s.Resends > 0 || s.Drops > 0 || s.Resets > 0 {
		result += fmt.Sprintf("Resends:         %8d\n", s.Resends)
		result += fmt.Sprintf("  Dropped:          %5d\n", s.Drops)
		result += fmt.Sprintf("  Resets:           %5d\n", s.Resets)
	}

	result += fmt.Sprintf("Line Rate:       %8.1f lines/sec\n", s.LineRate)
	result += fmt.Sprintf("Error Rate:      %8.1f errors/sec\n", s.ErrorRate)
	result += "================================\n"

	return result
}

// Reset resets all statistics counters
func (s *Statistics) Reset(now time.Time) {
	*s = Statistics{StartTime: now, LastUpdateTime: now}
}
