// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package iridium

import "strings"

// sbdWriteReady writes the message and checksum after +SBDWB's READY.
func (d *Driver) sbdWriteReady() {
	if d.cmd != stSBDWrite || d.sbdCurrent == nil {
		d.Log.Debug("unexpected READY", "state", d.cmd)
		return
	}
	if err := d.write(string(AppendSBDChecksum(d.sbdCurrent))); err != nil {
		d.Log.Warn("write failed", "error", err)
	}
}

var sbdWriteResults = map[string]string{
	"0": "ok",
	"1": "timeout",
	"2": "checksum mismatch",
	"3": "bad size",
}

func (d *Driver) sbdWriteResult(code string) {
	d.sbdWriteOK = code == "0"
	if !d.sbdWriteOK {
		d.Log.Warn("SBD write rejected", "result", sbdWriteResults[code])
	}
}

// sbdSessionDone runs after the OK that follows +SBDIX.
func (d *Driver) sbdSessionDone() {
	r := d.sbdResult
	d.sbdAnswer = false
	if r == nil {
		d.Log.Warn("SBD session ended without a result")
		d.sbdCurrent = nil
		d.enter(stReady)
		return
	}

	if d.sbdCurrent != nil {
		if r.MOSuccess() {
			d.Log.Info("SBD message sent", "momsn", r.MOMSN, "bytes", len(d.sbdCurrent))
		} else {
			d.Log.Warn("SBD message not sent", "mo_status", r.MOStatus)
		}
		d.sbdCurrent = nil
	}

	switch r.MTStatus {
	case 1:
		d.enter(stSBDReceive)
	case 2:
		d.Log.Warn("error checking mailbox", "mt_status", r.MTStatus)
		d.enter(stReady)
	default:
		d.enter(stReady)
		d.checkMTQueued()
	}
}

// checkMTQueued starts another session while the gateway holds messages.
func (d *Driver) checkMTQueued() {
	if d.sbdResult != nil && d.sbdResult.MTQueued > 0 {
		d.Log.Debug("more SBD messages queued", "queued", d.sbdResult.MTQueued)
		d.sbdResult = nil
		d.process(evSBDRing)
	}
}

// sbdAccumulate collects the binary +SBDRB reply, which may span several
// lines.
func (d *Driver) sbdAccumulate(raw string) {
	d.sbdRx = append(d.sbdRx, raw...)
	msg, n, ok, err := ParseSBDRB(d.sbdRx)
	if !ok {
		return
	}
	rest := string(d.sbdRx[n:])
	d.sbdRxDone = true
	d.sbdRx = nil

	if err != nil {
		d.Counters.CRCErrors++
		d.Log.Warn("bad SBD message", "error", err)
	} else if len(msg) > 0 {
		d.receivePayload(msg)
	}

	if strings.TrimSpace(rest) == "OK" {
		d.onOK()
	}
}
