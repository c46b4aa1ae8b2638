// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package driver

import (
	"sort"
	"time"

	"github.com/Thermoquad/acomms/pkg/acomms"
)

// FrameAckSet holds frames sent with ack requested that have not been
// acknowledged yet.
type FrameAckSet struct {
	pending map[int]time.Time
}

// Add marks frame as awaiting an acknowledgement.
func (s *FrameAckSet) Add(frame int, now time.Time) {
	if s.pending == nil {
		s.pending = make(map[int]time.Time)
	}
	s.pending[frame] = now
}

// AddTransmission marks every frame of m when it requests acks.
func (s *FrameAckSet) AddTransmission(m *acomms.ModemTransmission, now time.Time) {
	if !m.AckRequested {
		return
	}
	for i := range m.Frames {
		s.Add(m.FrameStart+i, now)
	}
}

// Ack removes frame. It returns false for frames not awaiting an ack.
func (s *FrameAckSet) Ack(frame int) bool {
	if _, ok := s.pending[frame]; !ok {
		return false
	}
	delete(s.pending, frame)
	return true
}

// Contains reports whether frame is awaiting an ack.
func (s *FrameAckSet) Contains(frame int) bool {
	_, ok := s.pending[frame]
	return ok
}

func (s *FrameAckSet) Len() int {
	return len(s.pending)
}

// Frames returns the pending frame numbers in order.
func (s *FrameAckSet) Frames() []int {
	out := make([]int, 0, len(s.pending))
	for f := range s.pending {
		out = append(out, f)
	}
	sort.Ints(out)
	return out
}

// Expire removes frames waiting longer than maxAge and returns them.
func (s *FrameAckSet) Expire(now time.Time, maxAge time.Duration) []int {
	var expired []int
	for f, sent := range s.pending {
		if now.Sub(sent) > maxAge {
			expired = append(expired, f)
			delete(s.pending, f)
		}
	}
	sort.Ints(expired)
	return expired
}

// Clear forgets every pending frame.
func (s *FrameAckSet) Clear() {
	s.pending = nil
}

// OutgoingCache holds the frames fetched by one data request so they can be
// handed to the modem one per data request poll.
type OutgoingCache struct {
	msg  *acomms.ModemTransmission
	next int
}

// Rebuild replaces the cache with m and returns how many frames of the
// previous transmission were never drained.
func (c *OutgoingCache) Rebuild(m *acomms.ModemTransmission) int {
	discarded := c.Pending()
	c.msg = m
	c.next = 0
	return discarded
}

// Next returns the next frame and its frame number.
func (c *OutgoingCache) Next() ([]byte, int, bool) {
	if c.msg == nil || c.next >= len(c.msg.Frames) {
		return nil, 0, false
	}
	f := c.msg.Frames[c.next]
	n := c.msg.FrameStart + c.next
	c.next++
	return f, n, true
}

// Pending returns the number of frames not yet drained.
func (c *OutgoingCache) Pending() int {
	if c.msg == nil {
		return 0
	}
	return len(c.msg.Frames) - c.next
}

func (c *OutgoingCache) Clear() {
	c.msg = nil
	c.next = 0
}

// PacketBuffer is a bounded oldest-first packet buffer. When full, the oldest
// packet is dropped.
type PacketBuffer struct {
	buf  [][]byte
	size int
}

// NewPacketBuffer returns a buffer holding at most size packets.
func NewPacketBuffer(size int) *PacketBuffer {
	return &PacketBuffer{size: size}
}

// Push appends p and reports whether an old packet was dropped to fit it.
func (b *PacketBuffer) Push(p []byte) bool {
	dropped := false
	if len(b.buf) >= b.size {
		b.buf[0] = nil
		b.buf = b.buf[1:]
		dropped = true
	}
	b.buf = append(b.buf, p)
	return dropped
}

// Pop removes the oldest packet.
func (b *PacketBuffer) Pop() ([]byte, bool) {
	if len(b.buf) == 0 {
		return nil, false
	}
	p := b.buf[0]
	b.buf[0] = nil
	b.buf = b.buf[1:]
	return p, true
}

func (b *PacketBuffer) Len() int {
	return len(b.buf)
}

func (b *PacketBuffer) Clear() {
	b.buf = nil
}
