// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package benthos

import (
	"fmt"
	"strings"
)

type cmdState int

const (
	stConfigure cmdState = iota
	stReady
	stConnecting
	stOnline
	stLowPower
)

var cmdStateNames = [...]string{
	stConfigure:  "configure",
	stReady:      "ready",
	stConnecting: "connecting",
	stOnline:     "online",
	stLowPower:   "low_power",
}

func (s cmdState) String() string {
	if int(s) < len(cmdStateNames) {
		return cmdStateNames[s]
	}
	return fmt.Sprintf("state(%d)", int(s))
}

// onlineState is the sub-state of stOnline.
type onlineState int

const (
	subListen onlineState = iota
	subTransmitData
	subReceiveData
)

func (s onlineState) String() string {
	switch s {
	case subTransmitData:
		return "transmit_data"
	case subReceiveData:
		return "receive_data"
	default:
		return "listen"
	}
}

type event int

const (
	evReset event = iota
	evAtEmpty
	evTransmit
	evConnect
	evEscaped
	evLowPower
)

// quirk overrides the usual meaning of a result code after a command.
type quirk struct {
	command string
	result  string
	// hold keeps the command outstanding instead of popping it.
	hold bool
	note string
}

var quirks = []quirk{
	{command: "ATR", result: "OK", hold: true, note: "range arrives after OK"},
}

func quirkFor(command, result string) (quirk, bool) {
	for _, q := range quirks {
		if strings.HasPrefix(command, q.command) && q.result == result {
			return q, true
		}
	}
	return quirk{}, false
}

func (d *Driver) process(ev event) {
	switch ev {
	case evReset:
		d.Counters.Resets++
		d.Log.Warn("resetting modem state", "state", d.cmd)
		d.rx = nil
		d.enter(stConfigure)

	case evAtEmpty:
		if d.cmd == stConfigure {
			d.Log.Info("modem configured")
			d.enter(stReady)
		}

	case evTransmit:
		if d.cmd == stReady && len(d.pending) > 0 && d.at.Empty() {
			d.enter(stConnecting)
		}

	case evConnect:
		if d.cmd == stConnecting {
			d.enter(stOnline)
		}

	case evEscaped:
		if d.cmd == stOnline {
			d.enter(stReady)
		}

	case evLowPower:
		d.enter(stLowPower)
	}
}

func (d *Driver) enter(s cmdState) {
	if s != d.cmd {
		d.Log.Debug("state change", "from", d.cmd, "to", s)
	}
	d.cmd = s

	switch s {
	case stConfigure:
		d.at.Clear()
		bc := d.Cfg.Benthos
		if bc.FactoryReset {
			d.at.Push("AT&F", CommandTimeout)
		}
		d.at.Push("AT@P1EchoChar=Dis", CommandTimeout)
		d.at.Push("AT@Prompt=7", CommandTimeout)
		d.at.Push("AT@Verbose=3", CommandTimeout)
		d.at.Push(fmt.Sprintf("AT@LocalAddr=%d", d.ID()), CommandTimeout)
		for _, c := range bc.Config {
			d.at.Push(atCommand(c), CommandTimeout)
		}

	case stReady:
		d.process(evTransmit)

	case stConnecting:
		d.at.Push(fmt.Sprintf("AT@RemoteAddr=%d", d.pending[0].dest), CommandTimeout)
		d.at.Push("ATO", ConnectTimeout)

	case stOnline:
		d.sub = subTransmitData
		d.transmitPending()
		d.sub = subListen
		d.at.PushFront("+++", EscapeTimeout)

	case stLowPower:
		d.at.Clear()
	}
}

// atCommand prefixes user configuration with "AT" when missing.
func atCommand(c string) string {
	c = strings.TrimSpace(c)
	if strings.HasPrefix(strings.ToUpper(c), "AT") {
		return c
	}
	return "AT" + c
}
