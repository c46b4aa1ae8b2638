// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package store

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/Thermoquad/acomms/pkg/acomms"
)

func openTest(t *testing.T) *DB {
	t.Helper()
	db, err := Open(Config{Path: filepath.Join(t.TempDir(), "traffic.db")}, nil)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	return db
}

func TestTransmissions(t *testing.T) {
	db := openTest(t)
	if err := db.Health(); err != nil {
		t.Fatalf("Health: %v", err)
	}

	m := acomms.NewData(3, 1, 1)
	m.AppendFrame([]byte("hello"), true)
	if err := db.AddTransmission("iridium", EventReceive, m); err != nil {
		t.Fatal(err)
	}
	out := acomms.NewData(1, 3, 1)
	out.AppendFrame([]byte("world!"), false)
	if err := db.AddTransmission("iridium", EventInitiate, out); err != nil {
		t.Fatal(err)
	}

	all, err := db.Transmissions("", 10)
	if err != nil {
		t.Fatal(err)
	}
	if len(all) != 2 || all[0].Event != EventInitiate {
		t.Fatalf("Transmissions = %+v, want 2 newest first", all)
	}

	rx, err := db.Transmissions(EventReceive, 10)
	if err != nil {
		t.Fatal(err)
	}
	if len(rx) != 1 {
		t.Fatalf("received = %d records, want 1", len(rx))
	}
	r := rx[0]
	if r.Src != 3 || r.Type != "DATA" || r.Bytes != 5 || !r.AckRequested {
		t.Errorf("record = %+v", r)
	}
	back, err := r.Decode()
	if err != nil {
		t.Fatal(err)
	}
	if string(back.Frames[0]) != "hello" || back.Dest != 1 {
		t.Errorf("decoded = %v", back)
	}
}

func TestAttach(t *testing.T) {
	db := openTest(t)
	var sig acomms.Signals
	db.Attach("benthos", 2, &sig)

	sig.EmitRawOutgoing("ATO\r\n")
	sig.EmitRawIncoming("CONNECT\r\n")
	ack := &acomms.ModemTransmission{Type: acomms.TypeAck, Src: 4, Dest: 2, AckedFrames: []int{7}}
	sig.EmitReceive(ack)

	lines, err := db.Lines(10)
	if err != nil {
		t.Fatal(err)
	}
	if len(lines) != 2 || lines[0].Text != "CONNECT" || lines[0].Direction != DirIn || lines[1].Direction != DirOut {
		t.Errorf("lines = %+v", lines)
	}
	rx, err := db.Transmissions(EventReceive, 10)
	if err != nil || len(rx) != 1 || rx[0].Type != "ACK" {
		t.Errorf("transmissions = %+v, %v", rx, err)
	}
}

func TestPrune(t *testing.T) {
	db := openTest(t)
	now := time.Now().UTC()
	db.AddLine("micromodem", 1, DirIn, "old", now.Add(-2*time.Hour))
	db.AddLine("micromodem", 1, DirIn, "new", now)

	n, err := db.Prune(now.Add(-time.Hour))
	if err != nil {
		t.Fatal(err)
	}
	if n != 1 {
		t.Errorf("pruned %d, want 1", n)
	}
	lines, _ := db.Lines(10)
	if len(lines) != 1 || lines[0].Text != "new" {
		t.Errorf("lines = %+v", lines)
	}
}
