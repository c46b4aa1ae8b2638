// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package iridium

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/Thermoquad/acomms/pkg/acomms"
	"github.com/Thermoquad/acomms/pkg/driver"
	"github.com/Thermoquad/acomms/pkg/lineio"
)

func init() {
	driver.Register(Name, func(cfg driver.Config, opts ...driver.Option) driver.Modem {
		return New(cfg, opts...)
	})
}

// Driver is the mobile side of an Iridium link.
type Driver struct {
	*driver.Base

	at         driver.CommandQueue
	waitingAck driver.FrameAckSet
	dataOut    *driver.PacketBuffer
	nextFrame  int

	started bool
	fatal   error

	cmd    cmdState
	onCall *OnCall

	dialAttempts int
	dialPending  bool

	sbdQueue   [][]byte
	sbdCurrent []byte
	sbdAnswer  bool
	sbdWriteOK bool
	sbdResult  *SBDIXResult
	sbdRx      []byte
	sbdRxDone  bool

	lastWrite  time.Time
	dtrRaiseAt time.Time
}

// New builds an Iridium driver. Nothing is opened until Startup.
func New(cfg driver.Config, opts ...driver.Option) *Driver {
	d := &Driver{
		Base:    driver.NewBase(Name, cfg, opts...),
		dataOut: driver.NewPacketBuffer(DataOutCapacity),
	}
	d.at.ResetOnExhaust = true
	return d
}

func (d *Driver) State() string {
	switch {
	case d.fatal != nil:
		return "dead"
	case !d.started:
		return "stopped"
	}
	call := "not_on_call"
	if d.onCall != nil {
		call = "on_call"
	}
	return d.cmd.String() + "/" + call
}

// OnCall reports whether a data call is connected.
func (d *Driver) OnCall() bool {
	return d.onCall != nil
}

// Pending returns the queued AT commands, front first.
func (d *Driver) Pending() []string {
	return d.at.Texts()
}

// WaitingForAck returns the frames sent with ack requested and not yet acked.
func (d *Driver) WaitingForAck() []int {
	return d.waitingAck.Frames()
}

func (d *Driver) validateConfig() error {
	if err := d.Cfg.ValidateModemID(); err != nil {
		return err
	}
	ic := d.Cfg.Iridium
	switch {
	case ic.DialAttempts < 1:
		return &acomms.ConfigError{Field: "dial_attempts", Reason: "must be at least 1"}
	case ic.TargetBitRate <= 0:
		return &acomms.ConfigError{Field: "target_bit_rate", Reason: "must be positive"}
	case ic.MaxFrameSize <= 0:
		return &acomms.ConfigError{Field: "max_frame_size", Reason: "must be positive"}
	}
	return nil
}

// Startup opens the connection and runs the configuration sequence until
// the modem is ready or the start timeout passes.
func (d *Driver) Startup(ctx context.Context) error {
	if err := d.validateConfig(); err != nil {
		return err
	}
	if err := d.Open(ctx, lineDelimiter); err != nil {
		return err
	}

	d.started = true
	d.fatal = nil
	d.onCall = nil
	d.dataOut.Clear()
	if d.Cfg.Iridium.UseDTR {
		if err := d.SetDTR(true); err != nil {
			d.Log.Warn("failed to raise DTR", "error", err)
		}
	}
	d.enter(stConfigure)

	deadline := d.Now().Add(d.Cfg.Iridium.StartTimeout)
	for d.cmd == stConfigure {
		if err := d.Poll(); err != nil {
			return err
		}
		if d.Now().After(deadline) {
			d.started = false
			d.Close()
			return &acomms.ModemError{Status: acomms.StatusStartupFailed, Msg: "modem did not complete configuration"}
		}
		if err := d.Sleep(ctx, 10*time.Millisecond); err != nil {
			return err
		}
	}
	return nil
}

// Shutdown hangs up any call and closes the connection.
func (d *Driver) Shutdown(ctx context.Context) error {
	if !d.started {
		return nil
	}
	if d.onCall != nil && d.fatal == nil {
		d.process(evHangup)
		deadline := d.Now().Add(ShutdownTimeout)
		for d.onCall != nil && d.Now().Before(deadline) {
			if err := d.Poll(); err != nil {
				break
			}
			if err := d.Sleep(ctx, 10*time.Millisecond); err != nil {
				break
			}
		}
	}
	d.started = false
	d.at.Clear()
	d.dataOut.Clear()
	d.sbdQueue = nil
	d.waitingAck.Clear()
	d.onCall = nil
	d.Log.Info("shutdown")
	return d.Close()
}

// Poll sends due commands, processes every available line and services
// the call.
func (d *Driver) Poll() error {
	if d.fatal != nil {
		return d.fatal
	}
	if !d.started {
		return &acomms.ModemError{Status: acomms.StatusShutdown, Msg: "driver not started"}
	}

	now := d.Now()
	if !d.dtrRaiseAt.IsZero() && !now.Before(d.dtrRaiseAt) {
		d.dtrRaiseAt = time.Time{}
		if err := d.SetDTR(true); err != nil {
			d.Log.Warn("failed to raise DTR", "error", err)
		}
	}

	if err := d.trySend(); err != nil {
		return err
	}

	for d.fatal == nil {
		line, ok := d.ReadLine()
		if !ok {
			break
		}
		d.at.ResetGlobalFails()
		d.processLine(line)
	}
	d.ExpireAcks(&d.waitingAck, AckTimeout)

	if d.LinkLost() {
		d.fatal = &acomms.ModemError{Status: acomms.StatusConnectionClosed, Msg: "modem connection lost"}
		d.Close()
		return d.fatal
	}

	if d.onCall != nil && d.cmd == stOnline {
		d.serviceCall(d.Now())
	}

	return d.trySend()
}

// trySend applies the retry policy to the front AT command. Nothing is
// sent while the modem is in data mode.
func (d *Driver) trySend() error {
	if d.fatal != nil || d.cmd == stOnline || d.Waiting() {
		return nil
	}
	now := d.Now()
	if front, ok := d.at.Front(); ok && front.Text == "+++" && now.Sub(d.lastWrite) < GuardTime {
		return nil
	}

	switch action := d.at.Check(now); action {
	case driver.RetryWait:
	case driver.RetryResend:
		d.Counters.Resends++
		front, _ := d.at.Front()
		d.Log.Warn("resending command", "command", front.Text, "try", front.Tries+1)
		fallthrough
	case driver.RetrySend:
		front, _ := d.at.Front()
		line := front.Text
		if line != "+++" {
			line += lineDelimiter
		}
		if err := d.write(line); err != nil {
			if errors.Is(err, lineio.ErrConnectionClosed) {
				return nil
			}
			d.Log.Warn("write failed", "error", err)
		}
		d.at.MarkSent(now)
	case driver.RetryDrop, driver.RetryReset:
		d.Counters.Drops++
		d.process(evReset)
	case driver.RetryDead:
		d.fatal = d.NotResponding()
		return d.fatal
	}
	return nil
}

func (d *Driver) write(s string) error {
	d.lastWrite = d.Now()
	return d.Write(s)
}

// serviceCall throttles buffered packets to the target bit rate and runs
// the bye handshake.
func (d *Driver) serviceCall(now time.Time) {
	c := d.onCall
	ic := d.Cfg.Iridium
	ready := c.ReadyToSend(now, ic.TargetBitRate)

	if ready && d.dataOut.Len() == 0 && !c.ByeSent &&
		now.Sub(c.LastDataRequest) >= max(DataRequestInterval, c.SendWait(ic.TargetBitRate)) {
		c.LastDataRequest = now
		d.requestCallData()
	}

	if ready {
		if p, ok := d.dataOut.Pop(); ok {
			if err := d.write(string(p)); err != nil {
				d.Log.Warn("write failed", "error", err)
			}
			c.Sent(now, len(p))
		}
	}

	if d.dataOut.Len() == 0 && c.ShouldSendBye(now, time.Duration(ic.HandshakeHangupSeconds)*time.Second) {
		d.Log.Debug("sending bye")
		if err := d.write(Bye); err != nil {
			d.Log.Warn("write failed", "error", err)
		}
		c.ByeSent = true
	}

	if c.ShouldHangup(now, time.Duration(ic.HangupSecondsAfterEmpty)*time.Second) {
		d.Log.Info("hanging up", "bye_sent", c.ByeSent, "bye_received", c.ByeReceived)
		d.process(evHangup)
	}
}

// requestCallData asks the application for more to send on the open call.
func (d *Driver) requestCallData() {
	if !d.Signals().HasDataRequest() {
		return
	}
	m := &acomms.ModemTransmission{
		Type:          acomms.TypeData,
		Src:           d.ID(),
		Dest:          acomms.QueryDestinationID,
		Rate:          RateRUDICS,
		Time:          d.Now().UTC(),
		MaxNumFrames:  1,
		MaxFrameBytes: d.Cfg.Iridium.MaxFrameSize,
	}
	if !d.DataRequest(m) {
		return
	}
	if err := d.send(m); err != nil {
		d.Log.Warn("dropping requested data", "error", err)
	}
}

func (d *Driver) frameLimit(rate int) int {
	if rate == RateSBD {
		return min(d.Cfg.Iridium.MaxFrameSize, SBDMaxFrameBytes)
	}
	return d.Cfg.Iridium.MaxFrameSize
}

// HandleInitiateTransmission sends DATA over an open call, a new call or
// SBD depending on the rate, and relays application ACKs.
func (d *Driver) HandleInitiateTransmission(m *acomms.ModemTransmission) error {
	if !d.started || d.fatal != nil {
		return &acomms.ModemError{Status: acomms.StatusShutdown, Msg: "driver not running"}
	}

	d.Signals().EmitModifyTransmission(m)
	if m.Src == acomms.BroadcastID {
		m.Src = d.ID()
	}
	if m.Time.IsZero() {
		m.Time = d.Now().UTC()
	}
	if m.Rate != RateSBD && m.Rate != RateRUDICS {
		return fmt.Errorf("%w: rate %d is not SBD (%d) or RUDICS (%d)", acomms.ErrInvalidTransmission, m.Rate, RateSBD, RateRUDICS)
	}

	switch m.Type {
	case acomms.TypeData:
		m.MaxNumFrames = 1
		m.MaxFrameBytes = d.frameLimit(m.Rate)
		if err := m.Validate(); err != nil {
			return err
		}
		if !m.HasData() && !d.DataRequest(m) {
			d.Log.Debug("no data to send", "dest", m.Dest)
			return nil
		}
		if m.Dest == acomms.QueryDestinationID {
			return fmt.Errorf("%w: destination was not set", acomms.ErrInvalidTransmission)
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

// send serializes m and routes it to the call buffer or an SBD session.
func (d *Driver) send(m *acomms.ModemTransmission) error {
	if m.Type == acomms.TypeData {
		m.FrameStart = d.nextFrame
		d.nextFrame += len(m.Frames)
	}

	if d.onCall != nil || m.Rate == RateRUDICS {
		if d.onCall == nil && d.Cfg.Iridium.RemoteNumber == "" {
			return fmt.Errorf("%w: no remote_number configured for RUDICS", acomms.ErrInvalidTransmission)
		}
		p, err := EncodeRUDICS(m)
		if err != nil {
			return err
		}
		d.track(m)
		if d.dataOut.Push(p) {
			d.Log.Warn("data out buffer full, dropped oldest packet", "capacity", DataOutCapacity)
		}
		if d.onCall == nil {
			d.process(evDial)
		}
		return nil
	}

	payload, err := acomms.MarshalTransmission(m)
	if err != nil {
		return err
	}
	if len(payload) > SBDMaxMOBytes {
		return fmt.Errorf("%w: %d bytes exceeds the SBD limit of %d", acomms.ErrInvalidTransmission, len(payload), SBDMaxMOBytes)
	}
	d.track(m)
	d.sbdQueue = append(d.sbdQueue, payload)
	d.process(evSBDBegin)
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
			d.Log.Debug("ignoring ack for another modem", "dest", m.Dest)
			return
		}
		var matched []int
		for _, f := range m.AckedFrames {
			if d.waitingAck.Ack(f) {
				matched = append(matched, f)
				continue
			}
			d.Counters.UnknownAcks++
			d.Log.Warn("ack for frame we were not waiting on", "frame", f)
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
			d.Log.Warn("failed to send ack", "error", err)
		}
	}
}

var _ driver.Modem = (*Driver)(nil)
