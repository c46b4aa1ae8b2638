// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package iridium

import (
	"strings"

	"github.com/Thermoquad/acomms/pkg/acomms"
)

// processLine classifies one line from the modem.
func (d *Driver) processLine(raw string) {
	if d.cmd == stSBDReceive && !d.sbdRxDone {
		d.sbdAccumulate(raw)
		return
	}
	line := strings.TrimSpace(raw)
	if d.cmd == stOnline {
		d.onlineLine(raw, line)
		return
	}
	if line == "" {
		return
	}

	switch {
	case strings.HasPrefix(line, "AT"):
		d.echoDetected(line)
	case line == "OK":
		d.onOK()
	case line == "ERROR":
		front, _ := d.at.Pop()
		cmd := ""
		if front != nil {
			cmd = front.Text
		}
		d.Log.Warn("modem reported error", "command", cmd)
		d.process(evReset)
	case strings.HasPrefix(line, "CONNECT"):
		d.popDialCommand()
		d.process(evConnect)
	case line == "NO CARRIER", line == "BUSY", line == "NO DIALTONE", line == "NO ANSWER":
		d.popDialCommand()
		if line != "NO CARRIER" {
			d.Log.Warn("call failed", "result", line)
		}
		d.process(evNoCarrier)
	case line == "RING":
		d.process(evRing)
	case line == "SBDRING":
		d.process(evSBDRing)
	case line == "READY":
		d.sbdWriteReady()
	case strings.HasPrefix(line, "+SBDIX:"), strings.HasPrefix(line, "+SBDI:"):
		r, err := ParseSBDIX(line)
		if err != nil {
			d.Counters.ParseErrors++
			d.Log.Warn("bad SBD session reply", "error", err)
			return
		}
		d.sbdResult = &r
	case strings.HasPrefix(line, "+CEER"):
		d.Log.Info("disconnect cause", "report", strings.TrimSpace(strings.TrimPrefix(line, "+CEER:")))
	case d.cmd == stSBDWrite && len(line) == 1 && line[0] >= '0' && line[0] <= '3':
		d.sbdWriteResult(line)
	default:
		d.Log.Debug("unhandled line", "line", line)
	}
}

// echoDetected turns echo back off when the modem repeats our commands.
func (d *Driver) echoDetected(line string) {
	for _, t := range d.at.Texts() {
		if t == "ATE0" {
			return
		}
	}
	d.Log.Warn("modem echo is on, disabling", "echo", line)
	d.push("ATE0", CommandTimeout)
}

// popDialCommand removes an in-flight ATD or ATA answered by a call result.
func (d *Driver) popDialCommand() {
	if front, ok := d.at.Front(); ok && (strings.HasPrefix(front.Text, "ATD") || front.Text == "ATA") {
		d.at.Pop()
	}
}

func (d *Driver) onOK() {
	front, ok := d.at.Pop()
	if !ok {
		d.Log.Debug("OK with no command outstanding")
		return
	}
	cmd := front.Text

	if q, ok := quirkFor(cmd, "OK"); ok {
		d.Log.Debug("result quirk", "command", cmd, "note", q.note)
		d.process(q.raise)
	}

	switch {
	case strings.HasPrefix(cmd, "AT+SBDD"):
		if d.cmd == stSBDClearBuffers {
			if d.sbdCurrent == nil {
				d.enter(stSBDTransmit)
			} else {
				d.enter(stSBDWrite)
			}
		}
	case strings.HasPrefix(cmd, "AT+SBDWB"):
		if d.cmd == stSBDWrite {
			if d.sbdWriteOK {
				d.enter(stSBDTransmit)
			} else {
				d.Log.Warn("SBD write failed, dropping message")
				d.sbdCurrent = nil
				d.enter(stReady)
			}
		}
	case strings.HasPrefix(cmd, "AT+SBDIX"):
		if d.cmd == stSBDTransmit {
			d.sbdSessionDone()
		}
	case cmd == "AT+SBDRB":
		if d.cmd == stSBDReceive {
			d.enter(stReady)
			d.checkMTQueued()
		}
	case cmd == "AT+CEER":
		if d.cmd == stPostDisconnected {
			d.enter(stReady)
		}
	}

	if d.cmd == stConfigure && d.at.Empty() {
		d.process(evAtEmpty)
	}
}

// onlineLine handles a line while the modem is in data mode.
func (d *Driver) onlineLine(raw, line string) {
	if d.onCall != nil {
		d.onCall.Received(d.Now())
	}
	switch line {
	case "":
		return
	case "NO CARRIER":
		d.process(evNoCarrier)
		return
	case strings.TrimSpace(Bye):
		d.Log.Debug("bye received")
		if d.onCall != nil {
			d.onCall.ByeReceived = true
		}
		return
	}

	m, err := DecodeRUDICS([]byte(raw))
	if err != nil {
		d.Counters.RecordDecodeError(err)
		d.Log.Debug("dropping undecodable line", "error", err)
		return
	}
	d.handleReceived(m)
}

func (d *Driver) receivePayload(payload []byte) {
	m, err := acomms.UnmarshalTransmission(payload)
	if err != nil {
		d.Counters.ParseErrors++
		d.Log.Warn("bad SBD message", "error", err)
		return
	}
	d.handleReceived(m)
}
