// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package driver

import (
	"testing"
	"time"

	"github.com/Thermoquad/acomms/pkg/acomms"
)

func TestFrameAckSet(t *testing.T) {
	var s FrameAckSet
	now := time.Unix(0, 0)

	m := acomms.NewData(1, 2, 1)
	m.Frames = [][]byte{{0}, {1}, {2}}
	m.AckRequested = true
	s.AddTransmission(m, now)

	if got := s.Frames(); len(got) != 3 || got[0] != 0 || got[2] != 2 {
		t.Fatalf("Frames = %v, want [0 1 2]", got)
	}
	if !s.Ack(1) {
		t.Error("ack for frame 1 should match")
	}
	if s.Ack(7) {
		t.Error("ack for unknown frame 7 should not match")
	}
	if got := s.Frames(); len(got) != 2 || got[0] != 0 || got[1] != 2 {
		t.Errorf("Frames after acks = %v, want [0 2]", got)
	}

	expired := s.Expire(now.Add(time.Minute), 30*time.Second)
	if len(expired) != 2 || s.Len() != 0 {
		t.Errorf("Expire = %v, remaining %d", expired, s.Len())
	}
}

func TestFrameAckSet_NoAckRequested(t *testing.T) {
	var s FrameAckSet
	m := acomms.NewData(1, 2, 1)
	m.Frames = [][]byte{{0}}
	s.AddTransmission(m, time.Now())
	if s.Len() != 0 {
		t.Error("frames without ack requested should not be tracked")
	}
}

func TestOutgoingCache(t *testing.T) {
	var c OutgoingCache
	if _, _, ok := c.Next(); ok {
		t.Fatal("empty cache returned a frame")
	}

	m := acomms.NewData(1, 2, 1)
	m.FrameStart = 3
	m.Frames = [][]byte{{0xA}, {0xB}}
	if n := c.Rebuild(m); n != 0 {
		t.Errorf("Rebuild of empty cache discarded %d", n)
	}

	f, n, ok := c.Next()
	if !ok || n != 3 || f[0] != 0xA {
		t.Errorf("Next = %X %d %t", f, n, ok)
	}
	if c.Pending() != 1 {
		t.Errorf("Pending = %d, want 1", c.Pending())
	}

	next := acomms.NewData(1, 2, 1)
	next.Frames = [][]byte{{0xC}}
	if n := c.Rebuild(next); n != 1 {
		t.Errorf("Rebuild discarded %d, want 1", n)
	}
	if f, n, _ := c.Next(); n != 0 || f[0] != 0xC {
		t.Errorf("Next after rebuild = %X %d", f, n)
	}
}

func TestPacketBuffer_DropsOldest(t *testing.T) {
	o := NewPacketBuffer(2)
	o.Push([]byte("a"))
	o.Push([]byte("b"))
	if !o.Push([]byte("c")) {
		t.Error("Push into full buffer did not report a drop")
	}
	for _, want := range []string{"b", "c"} {
		p, ok := o.Pop()
		if !ok || string(p) != want {
			t.Errorf("Pop = %q, %v; want %q", p, ok, want)
		}
	}
	if _, ok := o.Pop(); ok {
		t.Error("Pop on empty buffer succeeded")
	}
}
