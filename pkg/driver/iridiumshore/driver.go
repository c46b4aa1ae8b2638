// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package iridiumshore

import (
	"context"
	"fmt"
	"net"
	"strconv"
	"sync"

	"github.com/Thermoquad/acomms/pkg/acomms"
	"github.com/Thermoquad/acomms/pkg/directip"
	"github.com/Thermoquad/acomms/pkg/driver"
	"github.com/Thermoquad/acomms/pkg/driver/iridium"
	"github.com/Thermoquad/acomms/pkg/lineio"
)

func init() {
	driver.Register(Name, func(cfg driver.Config, opts ...driver.Option) driver.Modem {
		return New(cfg, opts...)
	})
}

// Driver serves any number of mobiles.
type Driver struct {
	*driver.Base

	rudics *lineio.Listener
	mo     net.Listener
	calls  []*call

	// imei maps modem ids to IMEIs, seeded from configuration and
	// extended from MO traffic.
	imei map[int]string

	waitingAck driver.FrameAckSet
	nextFrame  int
	mtID       uint32
	mtQueued   int

	moResults chan moResult
	mtResults chan mtResult
	ctx       context.Context
	cancel    context.CancelFunc
	wg        sync.WaitGroup

	started bool
}

// New builds a shore driver. Nothing listens until Startup.
func New(cfg driver.Config, opts ...driver.Option) *Driver {
	return &Driver{
		Base: driver.NewBase(Name, cfg, opts...),
		imei: make(map[int]string),
	}
}

func (d *Driver) State() string {
	if !d.started {
		return "stopped"
	}
	return fmt.Sprintf("listening (%d calls)", len(d.calls))
}

// Calls returns the modem ids of open calls; 0 marks a call not yet identified.
func (d *Driver) Calls() []int {
	ids := make([]int, 0, len(d.calls))
	for _, c := range d.calls {
		ids = append(ids, c.modemID)
	}
	return ids
}

// RUDICSAddr is the bound RUDICS listener address.
func (d *Driver) RUDICSAddr() string {
	if d.rudics == nil {
		return ""
	}
	return d.rudics.Addr().String()
}

// MOAddr is the bound DirectIP MO listener address.
func (d *Driver) MOAddr() string {
	if d.mo == nil {
		return ""
	}
	return d.mo.Addr().String()
}

// WaitingForAck returns the frames sent with ack requested and not yet acked.
func (d *Driver) WaitingForAck() []int {
	return d.waitingAck.Frames()
}

func (d *Driver) validateConfig() error {
	if err := d.Cfg.ValidateModemID(); err != nil {
		return err
	}
	sc := d.Cfg.IridiumShore
	switch {
	case sc.RUDICSServerPort < 0 || sc.RUDICSServerPort > 65535:
		return &acomms.ConfigError{Field: "rudics_server_port", Reason: "out of range"}
	case sc.MOSBDServerPort < 0 || sc.MOSBDServerPort > 65535:
		return &acomms.ConfigError{Field: "mo_sbd_server_port", Reason: "out of range"}
	case sc.MTSBDServerAddress != "" && (sc.MTSBDServerPort <= 0 || sc.MTSBDServerPort > 65535):
		return &acomms.ConfigError{Field: "mt_sbd_server_port", Reason: "out of range"}
	case sc.MaxFrameSize <= 0:
		return &acomms.ConfigError{Field: "max_frame_size", Reason: "must be positive"}
	}
	return nil
}

// Startup opens the RUDICS and DirectIP MO listeners. Port 0 picks a free port.
func (d *Driver) Startup(ctx context.Context) error {
	if err := d.validateConfig(); err != nil {
		return err
	}
	sc := d.Cfg.IridiumShore

	rl, err := lineio.Listen(":"+strconv.Itoa(sc.RUDICSServerPort), lineDelimiter)
	if err != nil {
		return &acomms.ModemError{Status: acomms.StatusStartupFailed, Msg: "RUDICS listener", Err: err}
	}
	var lc net.ListenConfig
	ml, err := lc.Listen(ctx, "tcp", ":"+strconv.Itoa(sc.MOSBDServerPort))
	if err != nil {
		rl.Close()
		return &acomms.ModemError{Status: acomms.StatusStartupFailed, Msg: "DirectIP MO listener", Err: err}
	}

	for id, imei := range sc.ModemIMEI {
		d.imei[id] = imei
	}
	d.rudics = rl
	d.mo = ml
	d.moResults = make(chan moResult, resultQueueSize)
	d.mtResults = make(chan mtResult, resultQueueSize)
	d.ctx, d.cancel = context.WithCancel(context.Background())
	d.started = true

	d.wg.Add(1)
	go d.serveMO(d.ctx, ml)

	d.Log.Info("listening", "rudics", d.RUDICSAddr(), "mo_sbd", d.MOAddr())
	return nil
}

// Shutdown hangs up every call, stops the listeners and waits for
// DirectIP exchanges in flight.
func (d *Driver) Shutdown(ctx context.Context) error {
	if !d.started {
		return nil
	}
	d.started = false
	for _, c := range d.calls {
		c.conn.Close()
	}
	d.calls = nil
	d.cancel()
	d.rudics.Close()
	d.mo.Close()
	d.wg.Wait()
	d.waitingAck.Clear()
	d.Log.Info("shutdown")
	return nil
}

// Poll accepts calls, reads and services each call and handles finished
// DirectIP exchanges.
func (d *Driver) Poll() error {
	if !d.started {
		return &acomms.ModemError{Status: acomms.StatusShutdown, Msg: "driver not started"}
	}
	now := d.Now()

	d.acceptCalls(now)
	for _, c := range d.calls {
		d.readCall(c, now)
	}
	d.drainSBD()
	d.ExpireAcks(&d.waitingAck, AckTimeout)
	for _, c := range d.calls {
		if !c.ended {
			d.serviceCall(c, now)
		}
	}
	d.pruneCalls()
	return nil
}

func (d *Driver) requestCallData(c *call) {
	if !d.Signals().HasDataRequest() {
		return
	}
	m := &acomms.ModemTransmission{
		Type:          acomms.TypeData,
		Src:           d.ID(),
		Dest:          c.modemID,
		Rate:          iridium.RateRUDICS,
		Time:          d.Now().UTC(),
		MaxNumFrames:  1,
		MaxFrameBytes: d.Cfg.IridiumShore.MaxFrameSize,
	}
	if !d.DataRequest(m) {
		return
	}
	if err := d.send(m); err != nil {
		d.Log.Warn("dropping requested data", "modem", c.modemID, "error", err)
	}
}

// HandleInitiateTransmission sends to an on-call mobile over RUDICS, or
// otherwise as an MT SBD message.
func (d *Driver) HandleInitiateTransmission(m *acomms.ModemTransmission) error {
	if !d.started {
		return &acomms.ModemError{Status: acomms.StatusShutdown, Msg: "driver not running"}
	}

	d.Signals().EmitModifyTransmission(m)
	if m.Src == acomms.BroadcastID {
		m.Src = d.ID()
	}
	if m.Time.IsZero() {
		m.Time = d.Now().UTC()
	}

	switch m.Type {
	case acomms.TypeData:
		m.MaxNumFrames = 1
		m.MaxFrameBytes = d.Cfg.IridiumShore.MaxFrameSize
		if m.Rate == iridium.RateSBD {
			m.MaxFrameBytes = min(m.MaxFrameBytes, MTMaxFrameBytes)
		}
		if err := m.Validate(); err != nil {
			return err
		}
		if !m.HasData() && !d.DataRequest(m) {
			return nil
		}
		if m.Dest <= acomms.BroadcastID {
			return fmt.Errorf("%w: shore transmissions need a modem destination", acomms.ErrInvalidTransmission)
		}
	case acomms.TypeAck:
	default:
		return fmt.Errorf("%w: %s not supported by %s", acomms.ErrInvalidTransmission, m.Type, Name)
	}
	if err := m.Validate(); err != nil {
		return err
	}
	return d.send(m)
}

func (d *Driver) send(m *acomms.ModemTransmission) error {
	if m.Type == acomms.TypeData {
		m.FrameStart = d.nextFrame
		d.nextFrame += len(m.Frames)
	}

	if c := d.callFor(m.Dest); c != nil {
		p, err := iridium.EncodeRUDICS(m)
		if err != nil {
			return err
		}
		d.track(m)
		if c.out.Push(p) {
			d.Log.Warn("call buffer full, dropped oldest packet", "modem", c.modemID)
		}
		return nil
	}

	imei, ok := d.imei[m.Dest]
	if !ok {
		return fmt.Errorf("%w: modem %d is not on a call and has no IMEI", acomms.ErrInvalidTransmission, m.Dest)
	}
	sc := d.Cfg.IridiumShore
	if sc.MTSBDServerAddress == "" {
		return fmt.Errorf("%w: modem %d is not on a call and no MT gateway is configured", acomms.ErrInvalidTransmission, m.Dest)
	}
	payload, err := acomms.MarshalTransmission(m)
	if err != nil {
		return err
	}
	if len(payload) > directip.MaxPayloadSize {
		return fmt.Errorf("%w: %d bytes exceeds the MT limit of %d", acomms.ErrInvalidTransmission, len(payload), directip.MaxPayloadSize)
	}

	d.mtID++
	msg := &directip.MTMessage{
		Header:  directip.MTHeader{ClientMessageID: d.mtID, IMEI: imei},
		Payload: payload,
	}
	d.track(m)
	d.wg.Add(1)
	go d.sendMT(d.ctx, net.JoinHostPort(sc.MTSBDServerAddress, strconv.Itoa(sc.MTSBDServerPort)), msg)
	return nil
}

func (d *Driver) track(m *acomms.ModemTransmission) {
	if m.Type != acomms.TypeData {
		return
	}
	d.Counters.FramesSent += uint64(len(m.Frames))
	if m.AckRequested {
		d.waitingAck.AddTransmission(m, d.Now())
	}
}

// handleReceived correlates ACKs, reports the transmission and answers
// ack requests addressed to us.
func (d *Driver) handleReceived(m *acomms.ModemTransmission) {
	if m.Time.IsZero() {
		m.Time = d.Now().UTC()
	}

	if m.Type == acomms.TypeAck {
		if m.Dest != d.ID() {
			return
		}
		var matched []int
		for _, f := range m.AckedFrames {
			if d.waitingAck.Ack(f) {
				matched = append(matched, f)
				continue
			}
			d.Counters.UnknownAcks++
			d.Log.Warn("ack for frame we were not waiting on", "frame", f, "src", m.Src)
		}
		if len(matched) == 0 {
			return
		}
		d.Counters.AcksReceived += uint64(len(matched))
		m.AckedFrames = matched
		d.Signals().EmitReceive(m)
		return
	}

	d.Counters.FramesReceived += uint64(len(m.Frames))
	d.Signals().EmitReceive(m)

	if m.Type == acomms.TypeData && m.AckRequested && m.Dest == d.ID() {
		ack := &acomms.ModemTransmission{
			Type: acomms.TypeAck,
			Src:  d.ID(),
			Dest: m.Src,
			Rate: m.Rate,
			Time: d.Now().UTC(),
		}
		for i := range m.Frames {
			ack.AckedFrames = append(ack.AckedFrames, m.FrameStart+i)
		}
		if err := d.send(ack); err != nil {
			d.Log.Warn("failed to send ack", "modem", m.Src, "error", err)
		}
	}
}

var _ driver.Modem = (*Driver)(nil)
