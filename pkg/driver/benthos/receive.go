// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package benthos

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/Thermoquad/acomms/pkg/acomms"
	"github.com/Thermoquad/acomms/pkg/rudics"
)

// rxBlock is a received packet reported over several lines:
//
//	Source:002  Destination:001
//	DATA(0042):<packet>
//	CRC:Pass
type rxBlock struct {
	src, dest int
	data      []byte
	haveData  bool
}

func (d *Driver) processLine(raw string) {
	line := strings.TrimSpace(raw)
	if line == "" || isPrompt(line) {
		return
	}

	switch {
	case strings.HasPrefix(line, "Source:"):
		d.rxSource(line)
		return
	case strings.HasPrefix(line, "DATA("):
		d.rxData(strings.TrimRight(raw, "\r\n"))
		return
	case strings.HasPrefix(line, "CRC:"):
		d.rxCRC(line)
		return
	}

	if front, ok := d.at.Front(); ok && front.Tries > 0 && line == front.Text {
		d.Log.Warn("modem echo is on, disabling", "echo", line)
		d.at.Push("AT@P1EchoChar=Dis", CommandTimeout)
		return
	}

	switch {
	case line == "OK":
		d.onOK()
	case strings.HasPrefix(line, "CONNECT"):
		if front, ok := d.at.Front(); ok && front.Text == "ATO" {
			d.at.Pop()
		}
		d.process(evConnect)
	case strings.HasPrefix(line, "Range to"):
		d.rangeReply(line)
	case strings.EqualFold(line, "ERROR"):
		front, _ := d.at.Pop()
		cmd := ""
		if front != nil {
			cmd = front.Text
		}
		d.Log.Warn("modem reported error", "command", cmd)
		if d.cmd == stConnecting {
			if next, ok := d.at.Front(); ok && next.Text == "ATO" {
				d.at.Pop()
			}
			if len(d.pending) > 0 {
				d.Log.Warn("dropping packet after failed connect", "dest", d.pending[0].dest)
				d.pending = d.pending[1:]
			}
			d.enter(stReady)
		}
		if d.cmd == stConfigure && d.at.Empty() {
			d.Log.Warn("configuration finished without the rejected command", "command", cmd)
			d.process(evAtEmpty)
		}
		d.idle()
	default:
		d.Log.Debug("unhandled line", "line", line)
	}
}

// isPrompt matches the "user:N>" prompt printed with @Prompt=7.
func isPrompt(line string) bool {
	return line == ">" || (strings.HasPrefix(line, "user:") && strings.HasSuffix(line, ">"))
}

func (d *Driver) onOK() {
	front, ok := d.at.Front()
	if !ok {
		d.Log.Debug("OK with no command outstanding")
		return
	}
	if q, ok := quirkFor(front.Text, "OK"); ok && q.hold {
		d.Log.Debug("result quirk", "command", front.Text, "note", q.note)
		return
	}
	d.at.Pop()

	switch front.Text {
	case "+++":
		d.process(evEscaped)
	case "ATL":
		d.process(evLowPower)
	}
	if d.cmd == stConfigure && d.at.Empty() {
		d.process(evAtEmpty)
	}
	d.idle()
}

// idle starts the next transmission once the command queue drains.
func (d *Driver) idle() {
	if d.cmd == stReady && d.at.Empty() {
		d.process(evTransmit)
	}
}

func (d *Driver) rangeReply(line string) {
	if front, ok := d.at.Front(); ok && strings.HasPrefix(front.Text, "ATR") {
		d.at.Pop()
	}
	defer d.idle()

	var (
		addr   int
		meters float64
	)
	if _, err := fmt.Sscanf(line, "Range to %d : %f m", &addr, &meters); err != nil {
		d.Log.Warn("no range", "reply", line)
		return
	}
	m := &acomms.ModemTransmission{
		Type: acomms.TypeTwoWayPing,
		Time: d.Now().UTC(),
		Src:  addr,
		Dest: d.ID(),
		Ranging: &acomms.RangingReply{
			OneWayTravelTime: []time.Duration{time.Duration(meters / SoundSpeed * float64(time.Second))},
		},
	}
	m.SetExtra("range_m", strconv.FormatFloat(meters, 'f', -1, 64))
	d.Signals().EmitReceive(m)
}

// abandon drops a partial receive.
func (d *Driver) abandon(reason string, args ...any) {
	d.Counters.ParseErrors++
	d.Log.Warn("abandoning receive: "+reason, args...)
	d.rx = nil
	if d.cmd == stOnline {
		d.sub = subListen
	}
}

func (d *Driver) rxSource(line string) {
	var src, dest int
	if _, err := fmt.Sscanf(strings.Join(strings.Fields(line), " "), "Source:%d Destination:%d", &src, &dest); err != nil {
		d.abandon("bad source line", "line", line)
		return
	}
	d.rx = &rxBlock{src: src, dest: dest}
	if d.cmd == stOnline {
		d.sub = subReceiveData
	}
}

func (d *Driver) rxData(line string) {
	if d.rx == nil {
		d.abandon("data without source")
		return
	}
	head, data, ok := strings.Cut(line, "):")
	if !ok {
		d.abandon("bad data line", "line", line)
		return
	}
	n, err := strconv.Atoi(strings.TrimPrefix(head, "DATA("))
	if err != nil || n != len(data) {
		d.abandon("data length mismatch", "declared", head, "got", len(data))
		return
	}
	d.rx.data = []byte(data)
	d.rx.haveData = true
}

func (d *Driver) rxCRC(line string) {
	rx := d.rx
	d.rx = nil
	if d.cmd == stOnline {
		d.sub = subListen
	}
	if rx == nil || !rx.haveData {
		d.Log.Debug("CRC line without data", "line", line)
		return
	}
	if line != "CRC:Pass" {
		d.Counters.CRCErrors++
		d.Log.Warn("acoustic CRC failed", "src", rx.src)
		return
	}

	payload, err := rudics.Parse(append(rx.data, rudics.Delimiter))
	if err != nil {
		d.Counters.RecordDecodeError(err)
		d.Log.Warn("bad packet", "src", rx.src, "error", err)
		return
	}
	m, err := acomms.UnmarshalTransmission(payload)
	if err != nil {
		d.Counters.ParseErrors++
		d.Log.Warn("bad packet", "src", rx.src, "error", err)
		return
	}
	d.handleReceived(m)
}
