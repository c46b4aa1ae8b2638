// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package iridium

import (
	"fmt"
	"strings"
	"time"
)

// cmdState is the command region of the modem state machine. The call
// region is tracked separately by Driver.onCall.
type cmdState int

const (
	stConfigure cmdState = iota
	stReady
	stDial
	stAnswer
	stHangingUp
	stPostDisconnected
	stSBDClearBuffers
	stSBDWrite
	stSBDTransmit
	stSBDReceive
	stOnline
)

var cmdStateNames = [...]string{
	stConfigure:        "configure",
	stReady:            "ready",
	stDial:             "dial",
	stAnswer:           "answer",
	stHangingUp:        "hanging_up",
	stPostDisconnected: "post_disconnected",
	stSBDClearBuffers:  "sbd_clear_buffers",
	stSBDWrite:         "sbd_write",
	stSBDTransmit:      "sbd_transmit",
	stSBDReceive:       "sbd_receive",
	stOnline:           "online",
}

func (s cmdState) String() string {
	if int(s) < len(cmdStateNames) {
		return cmdStateNames[s]
	}
	return fmt.Sprintf("state(%d)", int(s))
}

type event int

const (
	evReset event = iota
	evAtEmpty
	evConfigured
	evDial
	evRing
	evConnect
	evNoCarrier
	evHangup
	evSBDBegin
	evSBDRing
)

var eventNames = [...]string{
	evReset:      "reset",
	evAtEmpty:    "at_empty",
	evConfigured: "configured",
	evDial:       "dial",
	evRing:       "ring",
	evConnect:    "connect",
	evNoCarrier:  "no_carrier",
	evHangup:     "hangup",
	evSBDBegin:   "sbd_begin",
	evSBDRing:    "sbd_ring",
}

func (e event) String() string {
	if int(e) < len(eventNames) {
		return eventNames[e]
	}
	return fmt.Sprintf("event(%d)", int(e))
}

// quirk is a result code that means something other than its face value
// after a particular command.
type quirk struct {
	command string
	result  string
	raise   event
	note    string
}

var quirks = []quirk{
	{command: "ATH", result: "OK", raise: evNoCarrier, note: "hangup confirmed"},
	{command: "ATD", result: "OK", raise: evNoCarrier, note: "dial returned OK without CONNECT"},
}

func quirkFor(command, result string) (quirk, bool) {
	for _, q := range quirks {
		if strings.HasPrefix(command, q.command) && q.result == result {
			return q, true
		}
	}
	return quirk{}, false
}

// process runs one event through both regions.
func (d *Driver) process(ev event) {
	d.Log.Debug("event", "event", ev, "state", d.cmd, "on_call", d.onCall != nil)

	switch ev {
	case evReset:
		d.Counters.Resets++
		d.Log.Warn("resetting modem state", "state", d.cmd)
		d.onCall = nil
		d.sbdCurrent = nil
		d.sbdAnswer = false
		d.enter(stConfigure)

	case evAtEmpty:
		if d.cmd == stConfigure {
			d.process(evConfigured)
		}

	case evConfigured:
		d.Log.Info("modem configured")
		d.enter(stReady)

	case evDial:
		switch {
		case d.onCall != nil, d.cmd == stDial:
		case d.cmd == stReady:
			d.dialAttempts = 0
			d.enter(stDial)
		default:
			d.dialPending = true
		}

	case evRing:
		if d.cmd == stReady && d.onCall == nil {
			d.enter(stAnswer)
		}

	case evConnect:
		if d.cmd == stDial || d.cmd == stAnswer {
			d.onCall = NewOnCall(d.Now())
			d.dialPending = false
			d.Log.Info("call connected", "answered", d.cmd == stAnswer)
			d.enter(stOnline)
		}

	case evNoCarrier:
		switch d.cmd {
		case stDial:
			if d.dialAttempts < d.Cfg.Iridium.DialAttempts {
				d.Log.Warn("dial failed, redialing", "attempt", d.dialAttempts, "max", d.Cfg.Iridium.DialAttempts)
				d.dial()
				return
			}
			d.Log.Warn("dial failed, giving up", "attempts", d.dialAttempts)
			d.enter(stReady)
		case stAnswer:
			d.enter(stReady)
		default:
			if d.onCall != nil {
				d.Log.Info("call ended", "bytes_sent", d.onCall.TotalBytesSent)
				d.onCall = nil
				d.enter(stPostDisconnected)
			}
		}

	case evHangup:
		if d.onCall != nil && d.cmd == stOnline {
			d.enter(stHangingUp)
		}

	case evSBDBegin:
		if d.cmd == stReady && d.onCall == nil && len(d.sbdQueue) > 0 {
			d.sbdCurrent = d.sbdQueue[0]
			d.sbdQueue = d.sbdQueue[1:]
			d.sbdAnswer = false
			d.enter(stSBDClearBuffers)
		}

	case evSBDRing:
		if d.cmd == stReady && d.onCall == nil {
			d.sbdCurrent = nil
			d.sbdAnswer = true
			d.enter(stSBDClearBuffers)
		}
	}
}

// enter switches the command region to s and runs its entry action.
func (d *Driver) enter(s cmdState) {
	if s != d.cmd {
		d.Log.Debug("state change", "from", d.cmd, "to", s)
	}
	d.cmd = s

	switch s {
	case stConfigure:
		d.at.Clear()
		d.push("AT", CommandTimeout)
		d.push("ATE0", CommandTimeout)
		if d.Cfg.Iridium.UseDTR {
			d.push("AT&D2", CommandTimeout)
		}
		for _, c := range d.Cfg.Iridium.Config {
			d.push(atCommand(c), CommandTimeout)
		}

	case stReady:
		switch {
		case d.dialPending:
			d.dialPending = false
			d.process(evDial)
		case len(d.sbdQueue) > 0:
			d.process(evSBDBegin)
		}

	case stDial:
		d.dial()

	case stAnswer:
		d.push("ATA", AnswerTimeout)

	case stHangingUp:
		if d.Cfg.Iridium.UseDTR {
			if err := d.SetDTR(false); err != nil {
				d.Log.Warn("failed to drop DTR", "error", err)
			}
			d.dtrRaiseAt = d.Now().Add(DTRHold)
		} else {
			d.push("+++", EscapeTimeout)
		}
		d.push("ATH", HangupTimeout)

	case stPostDisconnected:
		d.push("AT+CEER", CommandTimeout)

	case stSBDClearBuffers:
		d.push("AT+SBDD2", CommandTimeout)

	case stSBDWrite:
		d.sbdWriteOK = false
		d.push(fmt.Sprintf("AT+SBDWB=%d", len(d.sbdCurrent)), SBDWriteTimeout)

	case stSBDTransmit:
		d.sbdResult = nil
		if d.sbdAnswer {
			d.push("AT+SBDIXA", SBDIXTimeout)
		} else {
			d.push("AT+SBDIX", SBDIXTimeout)
		}

	case stSBDReceive:
		d.sbdRx = nil
		d.sbdRxDone = false
		d.push("AT+SBDRB", CommandTimeout)

	case stOnline:
	}
}

func (d *Driver) dial() {
	d.dialAttempts++
	d.push("ATD"+d.Cfg.Iridium.RemoteNumber, DialTimeout)
}

func (d *Driver) push(command string, timeout time.Duration) {
	d.at.Push(command, timeout)
}

// atCommand prefixes user configuration with "AT" when missing.
func atCommand(c string) string {
	c = strings.TrimSpace(c)
	if strings.HasPrefix(strings.ToUpper(c), "AT") {
		return c
	}
	return "AT" + c
}
