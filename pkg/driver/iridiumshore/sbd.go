// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package iridiumshore

import (
	"context"
	"errors"
	"fmt"
	"net"
	"time"

	"github.com/Thermoquad/acomms/pkg/acomms"
	"github.com/Thermoquad/acomms/pkg/directip"
)

type moResult struct {
	msg *directip.MOMessage
	err error
}

type mtResult struct {
	imei string
	id   uint32
	conf *directip.MTConfirmation
	err  error
}

// serveMO accepts DirectIP MO connections from the gateway. Each carries
// one message.
func (d *Driver) serveMO(ctx context.Context, ln net.Listener) {
	defer d.wg.Done()
	for {
		conn, err := ln.Accept()
		if err != nil {
			if !errors.Is(err, net.ErrClosed) {
				d.Log.Warn("MO listener stopped", "error", err)
			}
			return
		}
		d.wg.Add(1)
		go d.readMO(ctx, conn)
	}
}

func (d *Driver) readMO(ctx context.Context, conn net.Conn) {
	defer d.wg.Done()
	defer conn.Close()
	stop := context.AfterFunc(ctx, func() { conn.Close() })
	defer stop()
	conn.SetDeadline(time.Now().Add(DirectIPTimeout))

	var r moResult
	raw, err := directip.ReadMessage(conn)
	if err != nil {
		r.err = err
	} else {
		r.msg, r.err = directip.ParseMO(raw)
	}
	select {
	case d.moResults <- r:
	case <-ctx.Done():
	}
}

// sendMT delivers one MT message to the gateway and reports the confirmation.
func (d *Driver) sendMT(ctx context.Context, addr string, msg *directip.MTMessage) {
	defer d.wg.Done()
	r := mtResult{imei: msg.Header.IMEI, id: msg.Header.ClientMessageID}
	r.conf, r.err = exchangeMT(ctx, addr, msg)
	select {
	case d.mtResults <- r:
	case <-ctx.Done():
	}
}

func exchangeMT(ctx context.Context, addr string, msg *directip.MTMessage) (*directip.MTConfirmation, error) {
	b, err := msg.MarshalBinary()
	if err != nil {
		return nil, err
	}
	dialer := net.Dialer{Timeout: DirectIPTimeout}
	conn, err := dialer.DialContext(ctx, "tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to MT gateway %s: %w", addr, err)
	}
	defer conn.Close()
	stop := context.AfterFunc(ctx, func() { conn.Close() })
	defer stop()
	conn.SetDeadline(time.Now().Add(DirectIPTimeout))

	if _, err := conn.Write(b); err != nil {
		return nil, fmt.Errorf("send MT message: %w", err)
	}
	reply, err := directip.ReadMessage(conn)
	if err != nil {
		return nil, fmt.Errorf("read MT confirmation: %w", err)
	}
	return directip.ParseMTConfirmation(reply)
}

// drainSBD handles finished DirectIP exchanges without blocking.
func (d *Driver) drainSBD() {
	for {
		select {
		case r := <-d.moResults:
			d.handleMO(r)
		case r := <-d.mtResults:
			d.handleMT(r)
		default:
			return
		}
	}
}

func (d *Driver) handleMO(r moResult) {
	if r.err != nil {
		d.Counters.ParseErrors++
		d.Log.Warn("bad DirectIP MO message", "error", r.err)
		return
	}
	h := r.msg.Header
	if len(r.msg.Payload) == 0 {
		d.Log.Debug("MO session without payload", "imei", h.IMEI, "momsn", h.MOMSN)
		return
	}
	m, err := acomms.UnmarshalTransmission(r.msg.Payload)
	if err != nil {
		d.Counters.ParseErrors++
		d.Log.Warn("bad SBD payload", "imei", h.IMEI, "error", err)
		return
	}
	if _, ok := d.imei[m.Src]; !ok && m.Src > 0 {
		d.imei[m.Src] = h.IMEI
		d.Log.Info("learned IMEI", "modem", m.Src, "imei", h.IMEI)
	}
	d.Log.Debug("MO SBD received", "imei", h.IMEI, "momsn", h.MOMSN, "src", m.Src)
	d.handleReceived(m)
}

func (d *Driver) handleMT(r mtResult) {
	switch {
	case r.err != nil:
		d.Counters.Drops++
		d.Log.Warn("MT SBD failed", "imei", r.imei, "id", r.id, "error", r.err)
	case !r.conf.Success():
		d.Counters.Drops++
		d.Log.Warn("gateway rejected MT SBD", "imei", r.imei, "id", r.id, "status", r.conf.Status)
	default:
		d.mtQueued++
		d.Log.Info("MT SBD queued", "imei", r.imei, "id", r.id, "position", r.conf.Status)
	}
}
