// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package driver

import (
	"context"
	"errors"
	"testing"

	"github.com/Thermoquad/acomms/pkg/acomms"
	"github.com/Thermoquad/acomms/pkg/lineio"
)

type stubModem struct {
	*Base
}

func (s *stubModem) Startup(context.Context) error                              { return nil }
func (s *stubModem) Shutdown(context.Context) error                             { return nil }
func (s *stubModem) Poll() error                                                { return nil }
func (s *stubModem) HandleInitiateTransmission(*acomms.ModemTransmission) error { return nil }
func (s *stubModem) State() string                                              { return "stub" }

func TestBase_RawSignals(t *testing.T) {
	lb := lineio.NewLoopback()
	b := NewBase("stub", NewConfig(), WithTransport(lb))
	if err := b.Open(context.Background(), "\r\n"); err != nil {
		t.Fatalf("Open with injected transport: %v", err)
	}

	var in, out []string
	b.Signals().OnRawIncoming(func(s string) { in = append(in, s) })
	b.Signals().OnRawOutgoing(func(s string) { out = append(out, s) })

	if err := b.Write("AT\r"); err != nil {
		t.Fatalf("Write: %v", err)
	}
	lb.Inject("OK\r\n")
	if line, ok := b.ReadLine(); !ok || line != "OK\r\n" {
		t.Fatalf("ReadLine = %q %t", line, ok)
	}

	if len(in) != 1 || len(out) != 1 || out[0] != "AT\r" {
		t.Errorf("raw in=%q out=%q", in, out)
	}
	st := b.Stats()
	if st.LinesIn != 1 || st.LinesOut != 1 {
		t.Errorf("stats in=%d out=%d", st.LinesIn, st.LinesOut)
	}

	if err := b.NotResponding(); !acomms.IsStatus(err, acomms.StatusModemNotResponding) {
		t.Errorf("NotResponding = %v", err)
	}
	if err := b.Write("AT\r"); !errors.Is(err, lineio.ErrConnectionClosed) {
		t.Errorf("Write after close = %v", err)
	}
}

func TestBase_OpenValidates(t *testing.T) {
	b := NewBase("stub", NewConfig())
	err := b.Open(context.Background(), "\r\n")
	var ce *acomms.ConfigError
	if !errors.As(err, &ce) || ce.Field != "serial_port" {
		t.Errorf("Open without a port = %v, want ConfigError(serial_port)", err)
	}
}

func TestRegistry(t *testing.T) {
	Register("stub_for_test", func(cfg Config, opts ...Option) Modem {
		return &stubModem{Base: NewBase("stub_for_test", cfg, opts...)}
	})

	cfg := NewConfig()
	cfg.Type = "stub_for_test"
	m, err := New(cfg)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if m.Vendor() != "stub_for_test" || m.State() != "stub" {
		t.Errorf("got %s/%s", m.Vendor(), m.State())
	}

	cfg.Type = "nope"
	var ce *acomms.ConfigError
	if _, err := New(cfg); !errors.As(err, &ce) {
		t.Errorf("unknown driver = %v, want ConfigError", err)
	}
}
