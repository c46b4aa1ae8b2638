// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package micromodem

import (
	"encoding/hex"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/Thermoquad/acomms/pkg/acomms"
	"github.com/Thermoquad/acomms/pkg/driver"
	"github.com/Thermoquad/acomms/pkg/nmea"
)

func (d *Driver) processLine(line string) {
	raw := strings.TrimSpace(line)
	if raw == "" {
		return
	}

	if d.hydroid() && strings.HasPrefix(raw, "#") {
		i := strings.IndexByte(raw, '$')
		if i < 0 {
			d.Log.Debug("gateway line without sentence", "line", raw)
			return
		}
		raw = raw[i:]
	}
	if strings.HasPrefix(raw, "$GP") {
		d.Log.Debug("gateway GPS", "sentence", raw)
		return
	}

	s, err := nmea.Parse(raw, nmea.Validate)
	if err != nil {
		d.Counters.ParseErrors++
		d.Log.Warn("dropping unparseable line", "line", raw, "error", err)
		return
	}

	d.checkAck(s)

	var handleErr error
	switch s.ID {
	case "REV":
		handleErr = d.rev(s)
	case "CLK":
		handleErr = d.clk(s)
	case "CFG":
		if key := s.Field(0); key != "" {
			d.nvram[key] = s.Field(1)
		}
	case "CYC":
		handleErr = d.cyc(s)
	case "DRQ":
		handleErr = d.drq(s)
	case "RXD":
		handleErr = d.rxd(s)
	case "ACK":
		handleErr = d.ack(s)
	case "MPR":
		handleErr = d.mpr(s)
	case "TTA":
		handleErr = d.tta(s)
	case "MUA":
		handleErr = d.mua(s)
	case "ERR":
		d.Log.Warn("modem error", "module", s.Field(1), "number", s.Field(2), "message", s.Field(3))
	case "MSG":
		d.Log.Info("modem message", "message", strings.Join(s.Fields, ","))
	default:
		d.Log.Debug("unhandled sentence", "header", s.Header())
	}
	if handleErr != nil {
		d.Counters.ParseErrors++
		d.Log.Warn("malformed sentence", "line", raw, "error", handleErr)
	}
}

// checkAck pops the front command when s acknowledges it.
func (d *Driver) checkAck(s *nmea.Sentence) {
	if s.Talker != "CA" && s.Talker != "SN" {
		return
	}
	front, ok := d.out.Front()
	if !ok || len(front.Text) < 6 {
		return
	}
	id := front.Text[3:6]

	matched := s.ID == id
	for _, alt := range ackFor[id] {
		matched = matched || s.ID == alt
	}
	if !matched {
		return
	}

	d.out.Pop()
	if id == "CFQ" && !d.configured {
		d.configured = true
		d.Log.Info("modem configured")
	}
}

// rev handles $CAREV,hhmmss,AUV|INIT,revision.
func (d *Driver) rev(s *nmea.Sentence) error {
	switch s.Field(1) {
	case "INIT":
		d.Log.Warn("modem reboot detected, reinitializing")
		d.Counters.Resets++
		nvram, _ := parseNVRAM(d.Cfg.MicroModem.NVRAMConfig)
		d.initialize(nvram)
		d.cache.Clear()
		d.waitingAck.Clear()
	case "AUV":
		reported, err := timeOfDay(s.Field(0), d.Now())
		if err != nil {
			return err
		}
		d.checkSkew(reported, "REV")
	}
	if rev := s.Field(2); rev != "" {
		d.nvram["REV"] = rev
	}
	return nil
}

type cycleFields struct {
	src, dest, rate int
	ack             bool
	frames          int
}

// cyc handles $CACYC,CMD,ADR1,ADR2,rate,ack,nframes.
func (d *Driver) cyc(s *nmea.Sentence) error {
	var c cycleFields
	var err error
	if c.src, err = s.Int(1); err != nil {
		return err
	}
	if c.dest, err = s.Int(2); err != nil {
		return err
	}
	if c.rate, err = s.Int(3); err != nil {
		return err
	}
	if c.rate < acomms.MinRate || c.rate > acomms.MaxRate {
		return fmt.Errorf("rate %d out of range", c.rate)
	}
	c.ack = s.Field(4) == "1"
	if c.frames, err = s.Int(5); err != nil {
		return err
	}

	if c.src != d.ID() {
		d.Log.Debug("cycle for another modem", "src", c.src, "dest", c.dest, "rate", c.rate)
		return nil
	}
	if d.ownCycle {
		d.ownCycle = false
		return nil
	}

	// A remote modem polled us for data.
	m := &acomms.ModemTransmission{
		Time:          d.Now().UTC(),
		Type:          acomms.TypeData,
		Src:           c.src,
		Dest:          c.dest,
		Rate:          c.rate,
		MaxFrameBytes: PacketSize[c.rate],
		MaxNumFrames:  min(c.frames, PacketFrameCount[c.rate]),
	}
	if !d.DataRequest(m) {
		d.Log.Debug("polled for data but none available")
	}
	d.cacheData(m)
	return nil
}

// drq handles $CADRQ,hhmmss,SRC,DEST,ACK,NBYTES,FRAME.
func (d *Driver) drq(s *nmea.Sentence) error {
	src, err := s.Int(1)
	if err != nil {
		return err
	}
	dest, err := s.Int(2)
	if err != nil {
		return err
	}
	ack := s.Field(3) == "1"
	nbytes, err := s.Int(4)
	if err != nil {
		return err
	}
	frame, err := s.Int(5)
	if err != nil {
		return err
	}

	data, _, ok := d.cache.Next()
	if !ok {
		data = d.requestFrame(src, dest, ack, nbytes)
		if len(data) == 0 {
			d.Log.Warn("data request with nothing cached, sending blank frame", "frame", frame)
		}
	}
	if len(data) > nbytes {
		d.Log.Warn("cached frame larger than requested, truncating", "have", len(data), "want", nbytes)
		data = data[:nbytes]
	}

	txd, _ := nmea.New("CCTXD", strconv.Itoa(src), strconv.Itoa(dest), boolField(ack), strings.ToUpper(hex.EncodeToString(data)))
	d.out.PushFront(txd.String(), ModemWait)
	if len(data) == 0 {
		return nil
	}
	if ack && frame > 0 {
		d.waitingAck.Add(frame-1, d.Now())
	}
	d.Counters.FramesSent++
	return nil
}

// requestFrame asks the data request observers for one frame of at most
// nbytes when a $CADRQ arrives with nothing cached.
func (d *Driver) requestFrame(src, dest int, ack bool, nbytes int) []byte {
	m := &acomms.ModemTransmission{
		Time:          d.Now().UTC(),
		Type:          acomms.TypeData,
		Src:           src,
		Dest:          dest,
		AckRequested:  ack,
		MaxFrameBytes: nbytes,
		MaxNumFrames:  1,
	}
	if !d.DataRequest(m) {
		return nil
	}
	for _, f := range m.Frames {
		if len(f) > 0 {
			return f
		}
	}
	return nil
}

// rxd handles $CARXD,SRC,DEST,ACK,FRAME,HEX.
func (d *Driver) rxd(s *nmea.Sentence) error {
	src, err := s.Int(0)
	if err != nil {
		return err
	}
	dest, err := s.Int(1)
	if err != nil {
		return err
	}
	frame, err := s.Int(3)
	if err != nil {
		return err
	}
	data, err := hex.DecodeString(s.Field(4))
	if err != nil {
		return fmt.Errorf("frame data: %w", err)
	}

	m := &acomms.ModemTransmission{
		Time:         d.Now().UTC(),
		Type:         acomms.TypeData,
		Src:          src,
		Dest:         dest,
		AckRequested: s.Field(2) == "1",
		FrameStart:   max(frame-1, 0),
		Frames:       [][]byte{data},
	}
	d.Counters.FramesReceived++
	d.Signals().EmitReceive(m)
	return nil
}

// ack handles $CAACK,SRC,DEST,FRAME,... Frame numbers are 1-based on the wire.
func (d *Driver) ack(s *nmea.Sentence) error {
	src, err := s.Int(0)
	if err != nil {
		return err
	}
	dest, err := s.Int(1)
	if err != nil {
		return err
	}
	frame, err := s.Int(2)
	if err != nil {
		return err
	}
	frame--

	if !d.waitingAck.Ack(frame) {
		d.Counters.UnknownAcks++
		d.Log.Warn("ack for a frame not awaiting one", "frame", frame, "src", src)
		return nil
	}

	d.Counters.AcksReceived++
	d.Signals().EmitReceive(&acomms.ModemTransmission{
		Time:        d.Now().UTC(),
		Type:        acomms.TypeAck,
		Src:         src,
		Dest:        dest,
		AckedFrames: []int{frame},
	})
	return nil
}

// mpr handles $CAMPR,SRC,DEST,TRAVELTIME (one way, seconds).
func (d *Driver) mpr(s *nmea.Sentence) error {
	src, err := s.Int(0)
	if err != nil {
		return err
	}
	dest, err := s.Int(1)
	if err != nil {
		return err
	}
	tt, err := s.Float(2)
	if err != nil {
		return err
	}

	d.Signals().EmitReceive(&acomms.ModemTransmission{
		Time:    d.Now().UTC(),
		Type:    acomms.TypeTwoWayPing,
		Src:     src,
		Dest:    dest,
		Ranging: &acomms.RangingReply{OneWayTravelTime: []time.Duration{seconds(tt)}},
	})
	return nil
}

// tta handles $SNTTA,TA,TB,TC,TD,hhmmss.ss. Empty fields are beacons that
// did not reply.
func (d *Driver) tta(s *nmea.Sentence) error {
	reply := &acomms.RangingReply{}
	for i := 0; i < 4; i++ {
		if strings.TrimSpace(s.Field(i)) == "" {
			continue
		}
		tt, err := s.Float(i)
		if err != nil {
			return err
		}
		reply.OneWayTravelTime = append(reply.OneWayTravelTime, seconds(tt))
		reply.Beacons = append(reply.Beacons, i)
	}

	d.Signals().EmitReceive(&acomms.ModemTransmission{
		Time:    d.Now().UTC(),
		Type:    acomms.TypeRemusLBLRanging,
		Src:     d.ID(),
		Dest:    acomms.BroadcastID,
		Ranging: reply,
	})
	return nil
}

// mua handles $CAMUA,SRC,DEST,HHHH.
func (d *Driver) mua(s *nmea.Sentence) error {
	src, err := s.Int(0)
	if err != nil {
		return err
	}
	dest, err := s.Int(1)
	if err != nil {
		return err
	}
	v, err := strconv.ParseUint(s.Field(2), 16, 16)
	if err != nil {
		return fmt.Errorf("mini data: %w", err)
	}
	v &= MiniDataMask

	d.Counters.FramesReceived++
	d.Signals().EmitReceive(&acomms.ModemTransmission{
		Time:   d.Now().UTC(),
		Type:   acomms.TypeMiniData,
		Src:    src,
		Dest:   dest,
		Frames: [][]byte{{byte(v >> 8), byte(v)}},
	})
	return nil
}

func seconds(s float64) time.Duration {
	return time.Duration(s * float64(time.Second))
}

var _ driver.Modem = (*Driver)(nil)
