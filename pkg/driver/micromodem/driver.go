// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package micromodem

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/Thermoquad/acomms/pkg/acomms"
	"github.com/Thermoquad/acomms/pkg/driver"
	"github.com/Thermoquad/acomms/pkg/lineio"
	"github.com/Thermoquad/acomms/pkg/nmea"
)

func init() {
	driver.Register(Name, func(cfg driver.Config, opts ...driver.Option) driver.Modem {
		return New(cfg, opts...)
	})
}

// Driver is a WHOI Micro-Modem driver.
type Driver struct {
	*driver.Base

	out        driver.CommandQueue
	waitingAck driver.FrameAckSet
	cache      driver.OutgoingCache

	started    bool
	configured bool
	fatal      error

	clockSet       bool
	lastClockSet   time.Time
	lastGPSRequest time.Time

	// ownCycle is set while the cache holds data for a cycle we initiated
	// and the modem has not echoed its $CACYC yet.
	ownCycle bool

	nvram map[string]string
}

// New builds a Micro-Modem driver. Nothing is opened until Startup.
func New(cfg driver.Config, opts ...driver.Option) *Driver {
	return &Driver{
		Base:  driver.NewBase(Name, cfg, opts...),
		nvram: make(map[string]string),
	}
}

// ClockSet reports whether the modem clock is known to be within the
// allowed skew.
func (d *Driver) ClockSet() bool {
	return d.clockSet
}

// NVRAM returns the configuration values reported by $CACFG.
func (d *Driver) NVRAM() map[string]string {
	out := make(map[string]string, len(d.nvram))
	for k, v := range d.nvram {
		out[k] = v
	}
	return out
}

// WaitingForAck returns the frames sent with ack requested and not yet acked.
func (d *Driver) WaitingForAck() []int {
	return d.waitingAck.Frames()
}

// Pending returns the queued command sentences, front first.
func (d *Driver) Pending() []string {
	return d.out.Texts()
}

func (d *Driver) State() string {
	switch {
	case d.fatal != nil:
		return "dead"
	case !d.started:
		return "stopped"
	case !d.configured:
		return "configuring"
	case !d.clockSet:
		return "ready (clock unset)"
	default:
		return "ready"
	}
}

func (d *Driver) hydroid() bool {
	return d.Cfg.MicroModem.HydroidGatewayID > 0
}

// Startup opens the connection, sets the clock and pushes the
// configuration.
func (d *Driver) Startup(ctx context.Context) error {
	if err := d.Cfg.ValidateModemID(); err != nil {
		return err
	}
	nvram, err := parseNVRAM(d.Cfg.MicroModem.NVRAMConfig)
	if err != nil {
		return err
	}
	if err := d.Open(ctx, lineDelimiter); err != nil {
		return err
	}

	d.started = true
	d.fatal = nil
	d.initialize(nvram)
	if err := d.alignClock(ctx); err != nil {
		return err
	}
	return d.trySend()
}

func parseNVRAM(entries []string) ([][2]string, error) {
	var out [][2]string
	for _, e := range entries {
		key, value, ok := strings.Cut(e, "=")
		key, value = strings.TrimSpace(key), strings.TrimSpace(value)
		if !ok || key == "" || value == "" {
			return nil, &acomms.ConfigError{Field: "nvram_cfg", Reason: fmt.Sprintf("expected KEY=VALUE, got %q", e)}
		}
		out = append(out, [2]string{key, value})
	}
	return out, nil
}

// initialize queues the clock and configuration sequence. It runs at
// startup and again after the modem reports a reboot.
func (d *Driver) initialize(nvram [][2]string) {
	d.configured = false
	d.clockSet = false
	d.out.Clear()
	d.ownCycle = false
	d.setClock()

	if d.Cfg.MicroModem.ResetNVRAM {
		d.queue(ModemWait, "CCCFG", "ALL", "0")
	}
	d.queue(ModemWait, "CCCFG", "SRC", strconv.Itoa(d.ID()))
	for _, kv := range nvram {
		d.queue(ModemWait, "CCCFG", kv[0], kv[1])
	}
	d.queue(ModemWait, "CCCFQ", "ALL")
}

// Shutdown closes the connection. The Micro-Modem has no session to tear down.
func (d *Driver) Shutdown(ctx context.Context) error {
	if !d.started {
		return nil
	}
	d.started = false
	d.out.Clear()
	d.cache.Clear()
	d.waitingAck.Clear()
	d.Log.Info("shutdown")
	return d.Close()
}

// Poll sends due commands, processes every available line and runs
// housekeeping.
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
		d.out.ResetGlobalFails()
		d.processLine(line)
	}

	if d.LinkLost() {
		d.fatal = &acomms.ModemError{Status: acomms.StatusConnectionClosed, Msg: "modem connection lost"}
		d.Close()
		return d.fatal
	}

	if err := d.trySend(); err != nil {
		return err
	}

	now := d.Now()
	if !d.clockSet && d.configured && !d.clockQueued() && now.Sub(d.lastClockSet) > ClockRetry {
		d.setClock()
	}
	if d.hydroid() && !d.Waiting() && now.Sub(d.lastGPSRequest) >= HydroidGPSRequestInterval {
		d.lastGPSRequest = now
		if err := d.Write(fmt.Sprintf("#G%dGPS%s", d.Cfg.MicroModem.HydroidGatewayID, lineDelimiter)); err != nil {
			d.Log.Warn("GPS request failed", "error", err)
		}
	}
	return nil
}

// trySend applies the retry policy to the front command.
func (d *Driver) trySend() error {
	if d.Waiting() {
		return nil
	}
	now := d.Now()
	switch action := d.out.Check(now); action {
	case driver.RetryWait:
		return nil
	case driver.RetryResend:
		d.Counters.Resends++
		front, _ := d.out.Front()
		d.Log.Warn("resending command", "command", front.Text, "try", front.Tries+1)
		fallthrough
	case driver.RetrySend:
		front, _ := d.out.Front()
		if err := d.writeSentence(front.Text); err != nil {
			if errors.Is(err, lineio.ErrConnectionClosed) {
				return nil
			}
			d.Log.Warn("write failed", "error", err)
		}
		d.out.MarkSent(now)
	case driver.RetryDrop, driver.RetryReset:
		d.Counters.Drops++
		d.Log.Warn("giving up on command after retries", "retries", driver.Retries)
	case driver.RetryDead:
		d.fatal = d.NotResponding()
		return d.fatal
	}
	return nil
}

func (d *Driver) writeSentence(sentence string) error {
	line := sentence + lineDelimiter
	if d.hydroid() {
		line = fmt.Sprintf("#M%d%s", d.Cfg.MicroModem.HydroidGatewayID, line)
	}
	return d.Write(line)
}

// queue builds a sentence and appends it to the command queue.
func (d *Driver) queue(timeout time.Duration, header string, fields ...string) {
	s, err := nmea.New(header, fields...)
	if err != nil {
		d.Log.Error("bad sentence", "header", header, "error", err)
		return
	}
	d.out.Push(s.String(), timeout)
}

func (d *Driver) clockQueued() bool {
	for _, t := range d.out.Texts() {
		if strings.HasPrefix(t, "$CCCLK") {
			return true
		}
	}
	return false
}

// HandleInitiateTransmission validates m and queues the commands that
// start it.
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
	if err := m.Validate(); err != nil {
		return err
	}

	switch m.Type {
	case acomms.TypeData:
		return d.initiateCycle(m)
	case acomms.TypeTwoWayPing:
		if m.Dest <= acomms.BroadcastID {
			return fmt.Errorf("%w: ping needs a destination", acomms.ErrInvalidTransmission)
		}
		d.queue(ModemWait, "CCMPC", strconv.Itoa(m.Src), strconv.Itoa(m.Dest))
	case acomms.TypeRemusLBLRanging:
		d.queueRemusLBL()
	case acomms.TypeMiniData:
		if len(m.Frames) != 1 || len(m.Frames[0]) == 0 || len(m.Frames[0]) > 2 {
			return fmt.Errorf("%w: mini data takes one frame of 1-2 bytes", acomms.ErrInvalidTransmission)
		}
		var v int
		for _, b := range m.Frames[0] {
			v = v<<8 | int(b)
		}
		if v&^MiniDataMask != 0 {
			return fmt.Errorf("%w: mini data 0x%04X exceeds 13 bits", acomms.ErrInvalidTransmission, v)
		}
		d.queue(ModemWait, "CCMUC", strconv.Itoa(m.Src), strconv.Itoa(m.Dest), fmt.Sprintf("%04X", v))
	default:
		return fmt.Errorf("%w: %s not supported by %s", acomms.ErrInvalidTransmission, m.Type, Name)
	}
	return nil
}

// initiateCycle queues $CCCYC. When we are the source the data is fetched
// now and cached for the modem's $CADRQ polls.
func (d *Driver) initiateCycle(m *acomms.ModemTransmission) error {
	m.MaxFrameBytes = PacketSize[m.Rate]
	m.MaxNumFrames = PacketFrameCount[m.Rate]
	if err := m.Validate(); err != nil {
		return err
	}

	frames := m.MaxNumFrames
	if m.Src == d.ID() {
		if !m.HasData() && !d.DataRequest(m) {
			d.Log.Debug("no data for cycle", "dest", m.Dest)
			return nil
		}
		if err := m.Validate(); err != nil {
			return err
		}
		if m.Dest == acomms.QueryDestinationID {
			return fmt.Errorf("%w: data request left destination unset", acomms.ErrInvalidTransmission)
		}
		d.cacheData(m.Clone())
		d.ownCycle = true
		frames = len(m.Frames)
	} else if m.Dest == acomms.QueryDestinationID {
		return fmt.Errorf("%w: third party cycle needs a destination", acomms.ErrInvalidTransmission)
	}

	d.queue(ModemWait, "CCCYC",
		"0",
		strconv.Itoa(m.Src),
		strconv.Itoa(m.Dest),
		strconv.Itoa(m.Rate),
		boolField(m.AckRequested),
		strconv.Itoa(frames),
	)
	return nil
}

func (d *Driver) cacheData(m *acomms.ModemTransmission) {
	m.FrameStart = 0
	if n := d.cache.Rebuild(m); n > 0 {
		d.Log.Warn("new cycle before outgoing data was sent, flushing old frames", "discarded", n)
	}
	d.waitingAck.Clear()
}

func (d *Driver) queueRemusLBL() {
	cfg := d.Cfg.MicroModem
	// Round trip at 1500 m/s plus turnaround, in milliseconds.
	timeout := time.Duration(2*cfg.RemusLBLMaxRange)*time.Second/1500 + cfg.RemusLBLTurnaround
	fields := []string{"1", "1", "0", "0", strconv.FormatInt(timeout.Milliseconds(), 10)}
	for i := 0; i < 4; i++ {
		fields = append(fields, boolField(cfg.RemusLBLBeacons&(1<<i) != 0))
	}
	d.queue(ModemWait+timeout, "CCPDT", fields...)
}

func boolField(b bool) string {
	if b {
		return "1"
	}
	return "0"
}
