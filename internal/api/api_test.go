// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"
	"time"

	"github.com/Thermoquad/acomms/internal/store"
	"github.com/Thermoquad/acomms/pkg/acomms"
	"github.com/Thermoquad/acomms/pkg/driver"
)

type fakeModem struct {
	signals acomms.Signals
	sent    []*acomms.ModemTransmission
	reject  error
}

func (f *fakeModem) Startup(context.Context) error  { return nil }
func (f *fakeModem) Shutdown(context.Context) error { return nil }
func (f *fakeModem) Poll() error                    { return nil }
func (f *fakeModem) Signals() *acomms.Signals       { return &f.signals }
func (f *fakeModem) Vendor() string                 { return "fake" }
func (f *fakeModem) ID() int                        { return 1 }
func (f *fakeModem) State() string                  { return "ready" }
func (f *fakeModem) Stats() driver.Statistics {
	return driver.Statistics{FramesSent: uint64(len(f.sent))}
}

func (f *fakeModem) HandleInitiateTransmission(m *acomms.ModemTransmission) error {
	if f.reject != nil {
		return f.reject
	}
	if m.Src == acomms.BroadcastID {
		m.Src = 1
	}
	f.sent = append(f.sent, m)
	return nil
}

// pollLoop stands in for the driver loop until the test ends.
func pollLoop(t *testing.T, s *Server, m driver.Modem) {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		tick := time.NewTicker(time.Millisecond)
		defer tick.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-tick.C:
				s.Service(m)
			}
		}
	}()
	t.Cleanup(func() {
		cancel()
		<-done
	})
}

func do(t *testing.T, h http.Handler, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			t.Fatal(err)
		}
	}
	req := httptest.NewRequest(method, path, &buf)
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func TestHealth(t *testing.T) {
	rec := do(t, New(nil, nil).Handler(), http.MethodGet, "/health", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("status %d", rec.Code)
	}
	var body map[string]any
	json.NewDecoder(rec.Body).Decode(&body)
	if body["status"] != "ok" {
		t.Errorf("body = %v", body)
	}
}

func TestStatus(t *testing.T) {
	s := New(nil, nil)
	m := &fakeModem{}
	pollLoop(t, s, m)

	rec := do(t, s.Handler(), http.MethodGet, "/status", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("status %d: %s", rec.Code, rec.Body)
	}
	var st Status
	if err := json.NewDecoder(rec.Body).Decode(&st); err != nil {
		t.Fatal(err)
	}
	if st.Driver != "fake" || st.ModemID != 1 || st.State != "ready" {
		t.Errorf("status = %+v", st)
	}
}

func TestTransmit(t *testing.T) {
	tests := []struct {
		name   string
		body   any
		reject error
		want   int
	}{
		{"text frame", Transmission{Type: "DATA", Dest: 3, Rate: 1, Text: "hello", AckRequested: true}, nil, http.StatusAccepted},
		{"binary frames", Transmission{Type: "data", Dest: 3, Frames: [][]byte{{1, 2}, {3}}}, nil, http.StatusAccepted},
		{"unknown type", Transmission{Type: "SMOKE_SIGNAL", Dest: 3}, nil, http.StatusBadRequest},
		{"driver rejects", Transmission{Type: "TWO_WAY_PING", Dest: 3}, fmt.Errorf("%w: no", acomms.ErrInvalidTransmission), http.StatusBadRequest},
		{"bad json", "not an object", nil, http.StatusBadRequest},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := New(nil, nil)
			m := &fakeModem{reject: tt.reject}
			pollLoop(t, s, m)

			rec := do(t, s.Handler(), http.MethodPost, "/transmit", tt.body)
			if rec.Code != tt.want {
				t.Fatalf("status %d, want %d: %s", rec.Code, tt.want, rec.Body)
			}
			if tt.want != http.StatusAccepted {
				return
			}
			if len(m.sent) != 1 || m.sent[0].Src != 1 || m.sent[0].Dest != 3 {
				t.Errorf("sent = %v", m.sent)
			}
		})
	}
}

func TestTransmit_TextFrame(t *testing.T) {
	s := New(nil, nil)
	m := &fakeModem{}
	pollLoop(t, s, m)

	do(t, s.Handler(), http.MethodPost, "/transmit", Transmission{Type: "DATA", Dest: 3, Text: "hello", AckRequested: true})
	if len(m.sent) != 1 {
		t.Fatalf("sent %d", len(m.sent))
	}
	got := m.sent[0]
	if string(got.Frames[0]) != "hello" || !got.AckRequested {
		t.Errorf("sent %v", got)
	}
}

func TestStatus_NoPollLoop(t *testing.T) {
	s := New(nil, nil)
	req := httptest.NewRequest(http.MethodGet, "/status", nil)
	ctx, cancel := context.WithTimeout(req.Context(), 20*time.Millisecond)
	defer cancel()
	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, req.WithContext(ctx))
	if rec.Code != http.StatusServiceUnavailable {
		t.Errorf("status %d, want 503", rec.Code)
	}
}

func TestReceived_Memory(t *testing.T) {
	s := New(nil, nil)
	var sig acomms.Signals
	s.Attach(&sig)
	for i := range 3 {
		m := acomms.NewData(2+i, 1, 0)
		m.AppendFrame([]byte{byte(i)}, false)
		sig.EmitReceive(m)
	}

	rec := do(t, s.Handler(), http.MethodGet, "/received?limit=2", nil)
	var got []Transmission
	if err := json.NewDecoder(rec.Body).Decode(&got); err != nil {
		t.Fatal(err)
	}
	if len(got) != 2 || got[0].Src != 4 || got[1].Src != 3 {
		t.Errorf("received = %+v, want newest two", got)
	}

	if rec := do(t, s.Handler(), http.MethodGet, "/received?limit=x", nil); rec.Code != http.StatusBadRequest {
		t.Errorf("bad limit status %d", rec.Code)
	}
}

func TestReceived_Store(t *testing.T) {
	db, err := store.Open(store.Config{Path: filepath.Join(t.TempDir(), "api.db")}, nil)
	if err != nil {
		t.Fatal(err)
	}
	defer db.Close()

	m := acomms.NewData(5, 1, 1)
	m.AppendFrame([]byte("logged"), false)
	if err := db.AddTransmission("fake", store.EventReceive, m); err != nil {
		t.Fatal(err)
	}

	rec := do(t, New(db, nil).Handler(), http.MethodGet, "/received", nil)
	var got []Transmission
	if err := json.NewDecoder(rec.Body).Decode(&got); err != nil {
		t.Fatal(err)
	}
	if len(got) != 1 || got[0].Src != 5 || string(got[0].Frames[0]) != "logged" {
		t.Errorf("received = %+v", got)
	}
}

func TestLines(t *testing.T) {
	if rec := do(t, New(nil, nil).Handler(), http.MethodGet, "/lines", nil); rec.Code != http.StatusNotFound {
		t.Errorf("without a store: status = %d, want 404", rec.Code)
	}

	db, err := store.Open(store.Config{Path: filepath.Join(t.TempDir(), "lines.db")}, nil)
	if err != nil {
		t.Fatal(err)
	}
	defer db.Close()
	db.AddLine("fake", 1, store.DirOut, "AT\r", time.Now())
	db.AddLine("fake", 1, store.DirIn, "OK\r\n", time.Now())

	h := New(db, nil).Handler()
	rec := do(t, h, http.MethodGet, "/lines?limit=1", nil)
	var got []Line
	if err := json.NewDecoder(rec.Body).Decode(&got); err != nil {
		t.Fatal(err)
	}
	if len(got) != 1 || got[0].Direction != store.DirIn || got[0].Text != "OK" {
		t.Errorf("lines = %+v", got)
	}

	if rec := do(t, h, http.MethodGet, "/lines?limit=0", nil); rec.Code != http.StatusBadRequest {
		t.Errorf("limit=0: status = %d, want 400", rec.Code)
	}
}

func TestToTransmission(t *testing.T) {
	_, err := Transmission{Type: "DATA", Frames: [][]byte{{1}}, AckedFrames: []int{1}}.ToTransmission()
	if err != nil {
		t.Fatal(err)
	}
	_, err = Transmission{Type: "BOGUS"}.ToTransmission()
	if !errors.Is(err, acomms.ErrInvalidTransmission) {
		t.Errorf("err = %v", err)
	}
}
