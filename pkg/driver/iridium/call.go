// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package iridium

import (
	"encoding/binary"
	"fmt"
	"time"

	"github.com/Thermoquad/acomms/pkg/acomms"
	"github.com/Thermoquad/acomms/pkg/rudics"
)

// OnCall is the bookkeeping for one connected data call.
type OnCall struct {
	Start           time.Time
	LastTxTime      time.Time
	LastRxTime      time.Time
	LastRxTxTime    time.Time
	LastDataRequest time.Time

	ByeSent     bool
	ByeReceived bool

	LastBytesSent  int
	TotalBytesSent int
}

// NewOnCall starts call bookkeeping at now.
func NewOnCall(now time.Time) *OnCall {
	return &OnCall{Start: now, LastRxTxTime: now}
}

// SendWait is how long the last packet occupies a link of targetBitRate.
func (c *OnCall) SendWait(targetBitRate int) time.Duration {
	if targetBitRate <= 0 || c.LastBytesSent == 0 {
		return 0
	}
	return time.Duration(c.LastBytesSent) * 8 * time.Second / time.Duration(targetBitRate)
}

// ReadyToSend reports whether the previous packet's send wait has elapsed.
func (c *OnCall) ReadyToSend(now time.Time, targetBitRate int) bool {
	return !now.Before(c.LastTxTime.Add(c.SendWait(targetBitRate)))
}

// Sent records n bytes written at now.
func (c *OnCall) Sent(now time.Time, n int) {
	c.LastTxTime = now
	c.LastRxTxTime = now
	c.LastBytesSent = n
	c.TotalBytesSent += n
}

// Received records traffic from the far side.
func (c *OnCall) Received(now time.Time) {
	c.LastRxTime = now
	c.LastRxTxTime = now
}

// ShouldSendBye reports whether the link has been idle for the handshake period.
func (c *OnCall) ShouldSendBye(now time.Time, handshake time.Duration) bool {
	return !c.ByeSent && now.Sub(c.LastRxTxTime) > handshake
}

// ShouldHangup reports whether both sides said bye or the call has been
// idle past afterEmpty.
func (c *OnCall) ShouldHangup(now time.Time, afterEmpty time.Duration) bool {
	return (c.ByeSent && c.ByeReceived) || now.Sub(c.LastRxTxTime) > afterEmpty
}

// EncodeRUDICS serializes m for a RUDICS call: CBOR, then packet framing.
func EncodeRUDICS(m *acomms.ModemTransmission) ([]byte, error) {
	payload, err := acomms.MarshalTransmission(m)
	if err != nil {
		return nil, err
	}
	return rudics.Serialize(payload), nil
}

// DecodeRUDICS reverses EncodeRUDICS for one received line.
func DecodeRUDICS(line []byte) (*acomms.ModemTransmission, error) {
	payload, err := rudics.Parse(line)
	if err != nil {
		return nil, err
	}
	return acomms.UnmarshalTransmission(payload)
}

// SBDChecksum is the two byte sum appended to +SBDWB data and +SBDRB replies.
func SBDChecksum(data []byte) uint16 {
	var sum uint16
	for _, b := range data {
		sum += uint16(b)
	}
	return sum
}

// AppendSBDChecksum returns data followed by its big-endian checksum.
func AppendSBDChecksum(data []byte) []byte {
	out := make([]byte, len(data), len(data)+2)
	copy(out, data)
	return binary.BigEndian.AppendUint16(out, SBDChecksum(data))
}

// ParseSBDRB splits a +SBDRB reply (length, message, checksum) and reports
// how many bytes it consumed. ok is false while more bytes are needed.
func ParseSBDRB(buf []byte) (msg []byte, consumed int, ok bool, err error) {
	if len(buf) < 2 {
		return nil, 0, false, nil
	}
	n := int(binary.BigEndian.Uint16(buf[0:2]))
	if len(buf) < n+4 {
		return nil, 0, false, nil
	}
	msg = buf[2 : 2+n]
	if got, want := binary.BigEndian.Uint16(buf[2+n:4+n]), SBDChecksum(msg); got != want {
		return nil, n + 4, true, fmt.Errorf("SBD checksum mismatch: got 0x%04X, want 0x%04X", got, want)
	}
	return msg, n + 4, true, nil
}

// SBDIXResult is the reply to +SBDIX / +SBDIXA.
type SBDIXResult struct {
	MOStatus int
	MOMSN    int
	MTStatus int
	MTMSN    int
	MTLength int
	MTQueued int
}

// MOSuccess reports whether the mobile originated message was delivered.
func (r SBDIXResult) MOSuccess() bool {
	return r.MOStatus >= 0 && r.MOStatus <= 4
}

// ParseSBDIX parses "+SBDIX: mo, momsn, mt, mtmsn, mtlen, queued".
func ParseSBDIX(line string) (SBDIXResult, error) {
	var r SBDIXResult
	_, rest, ok := cutPrefixAny(line, "+SBDIX:", "+SBDI:")
	if !ok {
		return r, fmt.Errorf("not an SBDIX reply: %q", line)
	}
	n, err := fmt.Sscanf(rest, " %d, %d, %d, %d, %d, %d",
		&r.MOStatus, &r.MOMSN, &r.MTStatus, &r.MTMSN, &r.MTLength, &r.MTQueued)
	if err != nil || n != 6 {
		return r, fmt.Errorf("malformed SBDIX reply %q: %v", line, err)
	}
	return r, nil
}

func cutPrefixAny(s string, prefixes ...string) (string, string, bool) {
	for _, p := range prefixes {
		if len(s) >= len(p) && s[:len(p)] == p {
			return p, s[len(p):], true
		}
	}
	return "", s, false
}
