// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package iridiumshore

import (
	"strings"
	"time"

	"github.com/Thermoquad/acomms/pkg/driver"
	"github.com/Thermoquad/acomms/pkg/driver/iridium"
	"github.com/Thermoquad/acomms/pkg/lineio"
)

// call is one RUDICS connection from a mobile. The modem id is unknown
// until the first packet is decoded.
type call struct {
	conn    *lineio.Conn
	remote  string
	modemID int
	state   *iridium.OnCall
	out     *driver.PacketBuffer
	ended   bool
}

func (d *Driver) acceptCalls(now time.Time) {
	for {
		conn, ok := d.rudics.Accept()
		if !ok {
			return
		}
		c := &call{
			conn:   conn,
			remote: conn.RemoteAddr(),
			state:  iridium.NewOnCall(now),
			out:    driver.NewPacketBuffer(CallBufferCapacity),
		}
		d.calls = append(d.calls, c)
		d.Log.Info("call connected", "remote", c.remote)
	}
}

// callFor returns the newest open call from modem id.
func (d *Driver) callFor(id int) *call {
	for i := len(d.calls) - 1; i >= 0; i-- {
		if c := d.calls[i]; !c.ended && c.modemID == id && id > 0 {
			return c
		}
	}
	return nil
}

func (d *Driver) readCall(c *call, now time.Time) {
	for {
		line, ok := c.conn.ReadLine()
		if !ok {
			return
		}
		d.Counters.LinesIn++
		d.Counters.LastUpdateTime = now
		d.Signals().EmitRawIncoming(line)
		c.state.Received(now)

		if strings.TrimSpace(line) == strings.TrimSpace(iridium.Bye) {
			d.Log.Debug("bye received", "modem", c.modemID)
			c.state.ByeReceived = true
			continue
		}

		m, err := iridium.DecodeRUDICS([]byte(line))
		if err != nil {
			d.Counters.RecordDecodeError(err)
			d.Log.Debug("dropping undecodable line", "remote", c.remote, "error", err)
			continue
		}
		if c.modemID == 0 && m.Src > 0 {
			c.modemID = m.Src
			d.Log.Info("call identified", "modem", c.modemID, "remote", c.remote)
		}
		d.handleReceived(m)
	}
}

func (d *Driver) writeCall(c *call, s string, now time.Time) {
	if _, err := c.conn.Write([]byte(s)); err != nil {
		d.Log.Warn("write to call failed", "modem", c.modemID, "error", err)
		return
	}
	d.Counters.LinesOut++
	d.Counters.LastUpdateTime = now
	d.Signals().EmitRawOutgoing(s)
}

// serviceCall throttles buffered packets to the target bit rate and runs
// the bye handshake.
func (d *Driver) serviceCall(c *call, now time.Time) {
	if !c.conn.Active() {
		d.Log.Info("call ended by mobile", "modem", c.modemID)
		c.ended = true
		return
	}

	ic := d.Cfg.Iridium
	ready := c.state.ReadyToSend(now, ic.TargetBitRate)
	if ready && c.out.Len() == 0 && c.modemID > 0 && !c.state.ByeSent &&
		now.Sub(c.state.LastDataRequest) >= max(DataRequestInterval, c.state.SendWait(ic.TargetBitRate)) {
		c.state.LastDataRequest = now
		d.requestCallData(c)
	}

	if ready {
		if p, ok := c.out.Pop(); ok {
			d.writeCall(c, string(p), now)
			c.state.Sent(now, len(p))
		}
	}

	if c.out.Len() == 0 && c.state.ShouldSendBye(now, time.Duration(ic.HandshakeHangupSeconds)*time.Second) {
		d.writeCall(c, iridium.Bye, now)
		c.state.ByeSent = true
	}

	if c.state.ShouldHangup(now, time.Duration(ic.HangupSecondsAfterEmpty)*time.Second) {
		d.Log.Info("hanging up", "modem", c.modemID, "bye_sent", c.state.ByeSent, "bye_received", c.state.ByeReceived)
		c.conn.Close()
		c.ended = true
	}
}

func (d *Driver) pruneCalls() {
	open := d.calls[:0]
	for _, c := range d.calls {
		if !c.ended {
			open = append(open, c)
		}
	}
	for i := len(open); i < len(d.calls); i++ {
		d.calls[i] = nil
	}
	d.calls = open
}
