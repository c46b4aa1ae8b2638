// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

// Package driver holds the pieces shared by every modem driver: transport
// ownership, the command retry queue, frame acknowledgement tracking, the
// outgoing data cache, statistics and the driver registry.
package driver

import (
	"context"
	"fmt"
	"log/slog"
	"net"
	"strconv"
	"strings"
	"time"

	"github.com/Thermoquad/acomms/pkg/acomms"
	"github.com/Thermoquad/acomms/pkg/lineio"
)

// Option customizes a driver at construction.
type Option func(*options)

type options struct {
	transport lineio.Transport
	now       func() time.Time
	sleep     func(context.Context, time.Duration) error
	logger    *slog.Logger
	instance  int
}

// WithTransport makes the driver use t instead of opening one from config.
func WithTransport(t lineio.Transport) Option {
	return func(o *options) { o.transport = t }
}

// WithClock replaces time.Now.
func WithClock(now func() time.Time) Option {
	return func(o *options) { o.now = now }
}

// WithSleep replaces the startup sleep.
func WithSleep(sleep func(context.Context, time.Duration) error) Option {
	return func(o *options) { o.sleep = sleep }
}

// WithLogger sets the parent logger.
func WithLogger(l *slog.Logger) Option {
	return func(o *options) { o.logger = l }
}

// WithInstance sets the instance number used in log attributes.
func WithInstance(n int) Option {
	return func(o *options) { o.instance = n }
}

func sleepContext(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

// Base owns a driver's transport and the bookkeeping every vendor shares.
// It is embedded by vendor drivers.
type Base struct {
	Cfg      Config
	Log      *slog.Logger
	Counters *Statistics

	vendor    string
	transport lineio.Transport
	injected  bool
	now       func() time.Time
	sleep     func(context.Context, time.Duration) error
	signals   acomms.Signals
	closed    bool
}

// NewBase builds the shared part of a vendor driver.
func NewBase(vendor string, cfg Config, opts ...Option) *Base {
	o := options{now: time.Now, sleep: sleepContext, logger: slog.Default()}
	for _, opt := range opts {
		opt(&o)
	}

	b := &Base{
		Cfg:       cfg,
		vendor:    vendor,
		transport: o.transport,
		injected:  o.transport != nil,
		now:       o.now,
		sleep:     o.sleep,
	}
	b.Log = o.logger.With("driver", vendor, "modem_id", cfg.ModemID, "instance", o.instance)
	b.Counters = NewStatistics(b.now())
	return b
}

// Vendor returns the driver type name.
func (b *Base) Vendor() string {
	return b.vendor
}

// ID returns the local modem id.
func (b *Base) ID() int {
	return b.Cfg.ModemID
}

func (b *Base) Now() time.Time {
	return b.now()
}

// Sleep blocks for d. Only used during startup handshakes.
func (b *Base) Sleep(ctx context.Context, d time.Duration) error {
	return b.sleep(ctx, d)
}

func (b *Base) Signals() *acomms.Signals {
	return &b.signals
}

// Stats returns a snapshot of the traffic counters.
func (b *Base) Stats() Statistics {
	return b.Counters.Snapshot(b.now())
}

// Transport returns the open transport, or nil.
func (b *Base) Transport() lineio.Transport {
	return b.transport
}

// Open validates the connection settings and opens the transport, unless
// one was injected.
func (b *Base) Open(ctx context.Context, defaultDelim string) error {
	b.closed = false
	if b.injected {
		return nil
	}
	if err := b.Cfg.ValidateConnection(); err != nil {
		return err
	}

	c := b.Cfg.Connection
	delim := c.LineDelimiter
	if delim == "" {
		delim = defaultDelim
	}

	var (
		t   lineio.Transport
		err error
	)
	switch c.Type {
	case ConnSerial:
		t, err = lineio.OpenSerial(c.SerialPort, c.SerialBaud, delim)
	case ConnTCPClient:
		t, err = lineio.DialTCP(ctx, net.JoinHostPort(c.TCPServer, strconv.Itoa(c.TCPPort)), delim)
	case ConnTCPServer:
		t, err = lineio.ListenServer(":"+strconv.Itoa(c.TCPPort), delim)
	case ConnWebSocket:
		t, err = lineio.DialWebSocket(ctx, c.WSURL, c.WSUsername, c.WSPassword, c.WSSkipVerify, delim)
	}
	if err != nil {
		return &acomms.ModemError{Status: acomms.StatusStartupFailed, Msg: "failed to open connection", Err: err}
	}

	b.transport = t
	b.Log.Info("connection opened", "type", c.Type)
	return nil
}

// Write sends raw text to the modem and reports it to raw observers.
func (b *Base) Write(line string) error {
	if b.transport == nil || b.closed {
		return lineio.ErrConnectionClosed
	}
	if _, err := b.transport.Write([]byte(line)); err != nil {
		return fmt.Errorf("write to modem: %w", err)
	}
	b.Counters.LinesOut++
	b.Counters.LastUpdateTime = b.now()
	b.Log.Debug("tx", "line", strings.TrimRight(line, "\r\n"))
	b.signals.EmitRawOutgoing(line)
	return nil
}

// ReadLine returns the next line from the modem and reports it to raw
// observers.
func (b *Base) ReadLine() (string, bool) {
	if b.transport == nil || b.closed {
		return "", false
	}
	line, ok := b.transport.ReadLine()
	if !ok {
		return "", false
	}
	b.Counters.LinesIn++
	b.Counters.LastUpdateTime = b.now()
	b.Log.Debug("rx", "line", strings.TrimRight(line, "\r\n"))
	b.signals.EmitRawIncoming(line)
	return line, true
}

// Active reports whether the transport is open and its link is up.
func (b *Base) Active() bool {
	return b.transport != nil && !b.closed && b.transport.Active()
}

// Waiting reports whether the transport is open but has no link yet.
func (b *Base) Waiting() bool {
	if b.transport == nil || b.closed {
		return false
	}
	w, ok := b.transport.(lineio.Waiter)
	return ok && w.Waiting()
}

// LinkLost reports whether an established link went down without Close.
func (b *Base) LinkLost() bool {
	return !b.closed && !b.Waiting() && !b.Active()
}

// Closed reports whether Close was called.
func (b *Base) Closed() bool {
	return b.closed
}

// SetDTR drives the DTR line when the transport has one.
func (b *Base) SetDTR(on bool) error {
	d, ok := b.transport.(lineio.DTRSetter)
	if !ok {
		return fmt.Errorf("transport has no DTR line")
	}
	return d.SetDTR(on)
}

// Close closes the transport. Further writes fail.
func (b *Base) Close() error {
	if b.closed {
		return nil
	}
	b.closed = true
	if b.transport == nil {
		return nil
	}
	return b.transport.Close()
}

// NotResponding closes the transport and builds the fatal error Poll returns
// when the modem stopped answering.
func (b *Base) NotResponding() error {
	b.Close()
	b.Log.Error("modem appears to not be responding")
	return &acomms.ModemError{Status: acomms.StatusModemNotResponding, Msg: "modem appears to not be responding"}
}

// ExpireAcks gives up on frames in s that waited longer than timeout for an
// acknowledgement.
func (b *Base) ExpireAcks(s *FrameAckSet, timeout time.Duration) {
	if expired := s.Expire(b.now(), timeout); len(expired) > 0 {
		b.Counters.AckTimeouts += uint64(len(expired))
		b.Log.Warn("no ack received, giving up on frames", "frames", expired, "timeout", timeout)
	}
}

// DataRequest asks the data request observers to fill m. It returns false
// when nothing was supplied.
func (b *Base) DataRequest(m *acomms.ModemTransmission) bool {
	b.signals.EmitDataRequest(m)
	return m.HasData()
}
