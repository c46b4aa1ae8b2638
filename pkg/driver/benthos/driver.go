// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package benthos

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/Thermoquad/acomms/pkg/acomms"
	"github.com/Thermoquad/acomms/pkg/driver"
	"github.com/Thermoquad/acomms/pkg/lineio"
	"github.com/Thermoquad/acomms/pkg/rudics"
)

func init() {
	driver.Register(Name, func(cfg driver.Config, opts ...driver.Option) driver.Modem {
		return New(cfg, opts...)
	})
}

type outgoing struct {
	dest   int
	packet []byte
}

// Driver is a Benthos ATM-900 driver.
type Driver struct {
	*driver.Base

	at         driver.CommandQueue
	waitingAck driver.FrameAckSet
	pending    []outgoing
	nextFrame  int

	started bool
	fatal   error

	cmd cmdState
	sub onlineState
	rx  *rxBlock

	lastWrite time.Time
}

// New builds a Benthos driver. Nothing is opened until Startup.
func New(cfg driver.Config, opts ...driver.Option) *Driver {
	d := &Driver{Base: driver.NewBase(Name, cfg, opts...)}
	d.at.ResetOnExhaust = true
	return d
}

func (d *Driver) State() string {
	switch {
	case d.fatal != nil:
		return "dead"
	case !d.started:
		return "stopped"
	case d.cmd == stOnline:
		return d.cmd.String() + "/" + d.sub.String()
	}
	return d.cmd.String()
}

// Pending returns the queued AT commands, front first.
func (d *Driver) Pending() []string {
	return d.at.Texts()
}

// WaitingForAck returns the frames sent with ack requested and not yet acked.
func (d *Driver) WaitingForAck() []int {
	return d.waitingAck.Frames()
}

// Startup opens the connection and configures the modem.
func (d *Driver) Startup(ctx context.Context) error {
	if err := d.Cfg.ValidateModemID(); err != nil {
		return err
	}
	if d.Cfg.Benthos.MaxFrameSize <= 0 {
		return &acomms.ConfigError{Field: "max_frame_size", Reason: "must be positive"}
	}
	if err := d.Open(ctx, lineDelimiter); err != nil {
		return err
	}

	d.started = true
	d.fatal = nil
	d.rx = nil
	d.enter(stConfigure)

	deadline := d.Now().Add(d.Cfg.Benthos.StartTimeout)
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

// Shutdown puts the modem into low power and closes the connection.
func (d *Driver) Shutdown(ctx context.Context) error {
	if !d.started {
		return nil
	}
	if d.fatal == nil {
		d.pending = nil
		if d.cmd == stOnline {
			d.at.Clear()
			d.at.Push("+++", EscapeTimeout)
		}
		d.at.Push("ATL", LowPowerTimeout)
		deadline := d.Now().Add(ShutdownTimeout)
		for d.cmd != stLowPower && d.Now().Before(deadline) {
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
	d.pending = nil
	d.waitingAck.Clear()
	d.Log.Info("shutdown", "low_power", d.cmd == stLowPower)
	return d.Close()
}

// Poll sends due commands and processes every available line.
func (d *Driver) Poll() error {
	if d.fatal != nil {
		return d.fatal
	}
	if !d.started {
		return &acomms.ModemError{Status: acomms.StatusShutdown, Msg: "driver not started"}
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

	return d.trySend()
}

// trySend applies the retry policy to the front command. Online, only the
// escape sequence may be sent.
func (d *Driver) trySend() error {
	if d.fatal != nil || d.cmd == stLowPower || d.Waiting() {
		return nil
	}
	front, ok := d.at.Front()
	if !ok {
		return nil
	}
	if d.cmd == stOnline && front.Text != "+++" {
		return nil
	}
	now := d.Now()
	if front.Text == "+++" && now.Sub(d.lastWrite) < GuardTime {
		return nil
	}

	switch action := d.at.Check(now); action {
	case driver.RetryWait:
	case driver.RetryResend:
		d.Counters.Resends++
		d.Log.Warn("resending command", "command", front.Text, "try", front.Tries+1)
		fallthrough
	case driver.RetrySend:
		line := front.Text
		if line != "+++" {
			line += "\r"
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

// transmitPending writes the next packet while in data mode.
func (d *Driver) transmitPending() {
	if len(d.pending) == 0 {
		return
	}
	p := d.pending[0]
	d.pending = d.pending[1:]
	if err := d.write(string(p.packet)); err != nil {
		d.Log.Warn("write failed", "error", err)
	}
}

// HandleInitiateTransmission sends DATA or ACK packets and starts ranging.
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

	switch m.Type {
	case acomms.TypeData:
		m.MaxNumFrames = 1
		m.MaxFrameBytes = d.Cfg.Benthos.MaxFrameSize
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
	case acomms.TypeTwoWayPing:
		if m.Dest <= acomms.BroadcastID {
			return fmt.Errorf("%w: ranging needs a destination", acomms.ErrInvalidTransmission)
		}
		d.at.Push(fmt.Sprintf("ATR%d", m.Dest), RangeTimeout)
		return nil
	default:
		return fmt.Errorf("%w: %s not supported by %s", acomms.ErrInvalidTransmission, m.Type, Name)
	}
	if err := m.Validate(); err != nil {
		return err
	}
	return d.send(m)
}

// send encodes m and queues it for the next data mode session.
func (d *Driver) send(m *acomms.ModemTransmission) error {
	if m.Type == acomms.TypeData {
		m.FrameStart = d.nextFrame
		d.nextFrame += len(m.Frames)
	}
	payload, err := acomms.MarshalTransmission(m)
	if err != nil {
		return err
	}

	if m.Type == acomms.TypeData {
		d.Counters.FramesSent += uint64(len(m.Frames))
		if m.AckRequested {
			d.waitingAck.AddTransmission(m, d.Now())
		}
	}
	if len(d.pending) >= PendingCapacity {
		d.Log.Warn("send queue full, dropped oldest packet", "capacity", PendingCapacity)
		d.pending = d.pending[1:]
	}
	d.pending = append(d.pending, outgoing{dest: m.Dest, packet: rudics.Serialize(payload)})
	d.process(evTransmit)
	return nil
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
