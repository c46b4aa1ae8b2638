// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package benthos

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"testing"
	"time"

	"github.com/Thermoquad/acomms/pkg/acomms"
	"github.com/Thermoquad/acomms/pkg/driver"
	"github.com/Thermoquad/acomms/pkg/lineio"
	"github.com/Thermoquad/acomms/pkg/rudics"
)

type fakeClock struct{ t time.Time }

func (c *fakeClock) now() time.Time          { return c.t }
func (c *fakeClock) advance(d time.Duration) { c.t = c.t.Add(d) }

// fakeModem answers commands written by the driver. AT commands without a
// scripted reply get "OK".
type fakeModem struct {
	lb      *lineio.Loopback
	replies map[string][]string
	silent  bool
}

func (m *fakeModem) respond(line string) {
	if m.silent {
		return
	}
	cmd := strings.TrimSuffix(line, "\r")
	if r, ok := m.replies[cmd]; ok {
		m.lb.Inject(r...)
		return
	}
	if strings.HasPrefix(cmd, "AT") && strings.HasSuffix(line, "\r") {
		m.lb.Inject("OK\r\n", "user:2>\r\n")
	}
}

func newTestDriver(t *testing.T, mutate func(*driver.Config)) (*Driver, *fakeModem, *fakeClock) {
	t.Helper()
	cfg := driver.NewConfig()
	cfg.Type = Name
	cfg.ModemID = 1
	if mutate != nil {
		mutate(&cfg)
	}
	lb := lineio.NewLoopback()
	clock := &fakeClock{t: time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)}
	d := New(cfg,
		driver.WithTransport(lb),
		driver.WithClock(clock.now),
		driver.WithSleep(func(_ context.Context, dt time.Duration) error {
			clock.advance(dt)
			return nil
		}),
	)
	m := &fakeModem{lb: lb, replies: map[string][]string{
		"ATO": {"CONNECT\r\n"},
		"+++": {"OK\r\n"},
	}}
	d.Signals().OnRawOutgoing(m.respond)
	return d, m, clock
}

func startDriver(t *testing.T, d *Driver, m *fakeModem) {
	t.Helper()
	if err := d.Startup(context.Background()); err != nil {
		t.Fatalf("Startup failed: %v", err)
	}
	if d.State() != "ready" {
		t.Fatalf("state after startup = %q", d.State())
	}
	m.lb.Take()
}

func pollN(t *testing.T, d *Driver, n int) {
	t.Helper()
	for i := 0; i < n; i++ {
		if err := d.Poll(); err != nil {
			t.Fatalf("Poll: %v", err)
		}
	}
}

// block formats a transmission the way the modem reports a reception.
func block(t *testing.T, src, dest int, m *acomms.ModemTransmission) []string {
	t.Helper()
	payload, err := acomms.MarshalTransmission(m)
	if err != nil {
		t.Fatal(err)
	}
	wire := rudics.Serialize(payload)
	body := string(wire[:len(wire)-1])
	return []string{
		fmt.Sprintf("Source:%03d  Destination:%03d\r\n", src, dest),
		fmt.Sprintf("DATA(%04d):%s\r\n", len(body), body),
		"CRC:Pass\r\n",
	}
}

func decodePacket(t *testing.T, w string) *acomms.ModemTransmission {
	t.Helper()
	payload, err := rudics.Parse([]byte(w))
	if err != nil {
		t.Fatalf("driver wrote undecodable packet %q: %v", w, err)
	}
	m, err := acomms.UnmarshalTransmission(payload)
	if err != nil {
		t.Fatal(err)
	}
	return m
}

func TestStartup_Configures(t *testing.T) {
	d, m, _ := newTestDriver(t, func(c *driver.Config) {
		c.Benthos.FactoryReset = true
		c.Benthos.Config = []string{"@TxPower=8"}
	})
	if err := d.Startup(context.Background()); err != nil {
		t.Fatalf("Startup: %v", err)
	}
	want := []string{"AT&F\r", "AT@P1EchoChar=Dis\r", "AT@Prompt=7\r", "AT@Verbose=3\r", "AT@LocalAddr=1\r", "AT@TxPower=8\r"}
	if got := m.lb.Written(); strings.Join(got, "|") != strings.Join(want, "|") {
		t.Errorf("configuration = %q, want %q", got, want)
	}
	if d.State() != "ready" {
		t.Errorf("State = %q", d.State())
	}
}

func TestStartup_RejectedLastConfigCommand(t *testing.T) {
	d, m, _ := newTestDriver(t, func(c *driver.Config) {
		c.Benthos.Config = []string{"@Bogus=1"}
		c.Benthos.StartTimeout = 3 * time.Second
	})
	m.replies["AT@Bogus=1"] = []string{"ERROR\r\n"}
	if err := d.Startup(context.Background()); err != nil {
		t.Fatalf("Startup: %v", err)
	}
	if d.State() != "ready" {
		t.Errorf("State = %q, want ready", d.State())
	}
}

func TestStartup_Errors(t *testing.T) {
	t.Run("modem id", func(t *testing.T) {
		d, _, _ := newTestDriver(t, func(c *driver.Config) { c.ModemID = 0 })
		var ce *acomms.ConfigError
		if err := d.Startup(context.Background()); !errors.As(err, &ce) || ce.Field != "modem_id" {
			t.Errorf("Startup = %v, want ConfigError(modem_id)", err)
		}
	})
	t.Run("timeout", func(t *testing.T) {
		d, m, _ := newTestDriver(t, func(c *driver.Config) { c.Benthos.StartTimeout = 3 * time.Second })
		m.silent = true
		if err := d.Startup(context.Background()); !acomms.IsStatus(err, acomms.StatusStartupFailed) {
			t.Errorf("Startup = %v, want StartupFailed", err)
		}
	})
}

func TestTransmit_OnlineAndEscape(t *testing.T) {
	d, m, clock := newTestDriver(t, nil)
	startDriver(t, d, m)

	tx := acomms.NewData(1, 3, 2)
	tx.AppendFrame([]byte("telemetry"), false)
	if err := d.HandleInitiateTransmission(tx); err != nil {
		t.Fatalf("HandleInitiateTransmission: %v", err)
	}
	if d.State() != "connecting" {
		t.Fatalf("State = %q, want connecting", d.State())
	}

	pollN(t, d, 2)
	if d.State() != "online/listen" {
		t.Fatalf("State = %q, want online/listen", d.State())
	}

	clock.advance(GuardTime)
	pollN(t, d, 2)
	if d.State() != "ready" {
		t.Errorf("State = %q, want ready after escape", d.State())
	}

	w := m.lb.Written()
	if len(w) != 4 || w[0] != "AT@RemoteAddr=3\r" || w[1] != "ATO\r" || w[3] != "+++" {
		t.Fatalf("writes = %q", w)
	}
	if got := decodePacket(t, w[2]); string(got.Frames[0]) != "telemetry" || got.Dest != 3 {
		t.Errorf("packet = %v", got)
	}
}

func TestReceive_BlockAndAutoAck(t *testing.T) {
	d, m, _ := newTestDriver(t, nil)
	startDriver(t, d, m)

	var got []*acomms.ModemTransmission
	d.Signals().OnReceive(func(tx *acomms.ModemTransmission) { got = append(got, tx) })

	in := acomms.NewData(2, 1, 1)
	in.FrameStart = 7
	in.AppendFrame([]byte("hello\r\nworld"), true)
	m.lb.Inject(block(t, 2, 1, in)...)
	pollN(t, d, 1)

	if len(got) != 1 || string(got[0].Frames[0]) != "hello\r\nworld" {
		t.Fatalf("received %v", got)
	}
	if w := m.lb.Written(); len(w) == 0 || w[0] != "AT@RemoteAddr=2\r" {
		t.Errorf("ack not started, writes %q", w)
	}
	pollN(t, d, 2)
	w := m.lb.Written()
	ack := decodePacket(t, w[len(w)-1])
	if ack.Type != acomms.TypeAck || len(ack.AckedFrames) != 1 || ack.AckedFrames[0] != 7 {
		t.Errorf("ack = %v", ack)
	}
}

func TestReceive_Failures(t *testing.T) {
	d, m, _ := newTestDriver(t, nil)
	startDriver(t, d, m)

	var got int
	d.Signals().OnReceive(func(*acomms.ModemTransmission) { got++ })

	in := acomms.NewData(2, 1, 1)
	in.AppendFrame([]byte("x"), false)
	good := block(t, 2, 1, in)

	m.lb.Inject(
		"Source:002  Destination:001\r\n",
		"DATA(0009):short\r\n",
		"CRC:Pass\r\n",
		good[0], good[1], "CRC:Fail\r\n",
		"DATA(0001):x\r\n",
	)
	pollN(t, d, 1)

	if got != 0 {
		t.Errorf("received %d transmissions, want 0", got)
	}
	if d.Counters.CRCErrors != 1 {
		t.Errorf("CRCErrors = %d, want 1", d.Counters.CRCErrors)
	}
	if d.Counters.ParseErrors != 2 {
		t.Errorf("ParseErrors = %d, want 2", d.Counters.ParseErrors)
	}

	m.lb.Inject(good...)
	pollN(t, d, 1)
	if got != 1 {
		t.Errorf("receive after failures = %d, want 1", got)
	}
}

func TestAckCorrelation(t *testing.T) {
	d, m, clock := newTestDriver(t, nil)
	startDriver(t, d, m)

	tx := acomms.NewData(1, 2, 1)
	tx.AppendFrame([]byte("needs ack"), true)
	if err := d.HandleInitiateTransmission(tx); err != nil {
		t.Fatal(err)
	}
	pollN(t, d, 2)
	clock.advance(GuardTime)
	pollN(t, d, 2)

	var acked []int
	d.Signals().OnAck(func(tx *acomms.ModemTransmission) { acked = append(acked, tx.AckedFrames...) })
	ack := &acomms.ModemTransmission{Type: acomms.TypeAck, Src: 2, Dest: 1, AckedFrames: []int{0}}
	m.lb.Inject(block(t, 2, 1, ack)...)
	pollN(t, d, 1)

	if len(acked) != 1 || acked[0] != 0 || len(d.WaitingForAck()) != 0 {
		t.Errorf("acked = %v, waiting = %v", acked, d.WaitingForAck())
	}
}

func TestAckTimeoutExpires(t *testing.T) {
	d, m, clock := newTestDriver(t, nil)
	startDriver(t, d, m)

	tx := acomms.NewData(1, 2, 1)
	tx.AppendFrame([]byte("needs ack"), true)
	if err := d.HandleInitiateTransmission(tx); err != nil {
		t.Fatal(err)
	}
	pollN(t, d, 2)
	clock.advance(GuardTime)
	pollN(t, d, 2)
	if w := d.WaitingForAck(); len(w) != 1 {
		t.Fatalf("WaitingForAck = %v, want one frame", w)
	}

	clock.advance(AckTimeout + time.Second)
	pollN(t, d, 1)
	if w := d.WaitingForAck(); len(w) != 0 {
		t.Errorf("WaitingForAck = %v, want empty after timeout", w)
	}
	if d.Counters.AckTimeouts != 1 {
		t.Errorf("AckTimeouts = %d, want 1", d.Counters.AckTimeouts)
	}
}

func TestRanging(t *testing.T) {
	d, m, _ := newTestDriver(t, nil)
	startDriver(t, d, m)
	m.replies["ATR2"] = []string{"OK\r\n", "Range to 2 : 1500.0 m\r\n"}

	var ranges []*acomms.ModemTransmission
	d.Signals().OnRangeReply(func(tx *acomms.ModemTransmission) { ranges = append(ranges, tx) })

	if err := d.HandleInitiateTransmission(&acomms.ModemTransmission{Type: acomms.TypeTwoWayPing, Dest: 2}); err != nil {
		t.Fatal(err)
	}
	pollN(t, d, 2)

	if len(ranges) != 1 {
		t.Fatalf("range replies = %d, want 1", len(ranges))
	}
	r := ranges[0]
	if r.Src != 2 || r.Ranging.OneWayTravelTime[0] != time.Second || r.Extra["range_m"] != "1500" {
		t.Errorf("range reply = %v", r)
	}
	if len(d.Pending()) != 0 {
		t.Errorf("Pending = %q, want empty", d.Pending())
	}
}

func TestShutdown_LowPower(t *testing.T) {
	d, m, _ := newTestDriver(t, nil)
	startDriver(t, d, m)
	if err := d.Shutdown(context.Background()); err != nil {
		t.Fatalf("Shutdown: %v", err)
	}
	if w := m.lb.Written(); len(w) != 1 || w[0] != "ATL\r" {
		t.Errorf("writes = %q, want ATL", w)
	}
	if d.State() != "stopped" || d.Active() {
		t.Errorf("State = %q, active %v", d.State(), d.Active())
	}
	if err := d.Shutdown(context.Background()); err != nil {
		t.Errorf("second Shutdown: %v", err)
	}
}

func TestHandleInitiateTransmission_Rejects(t *testing.T) {
	tests := []struct {
		name string
		tx   *acomms.ModemTransmission
	}{
		{"query destination", &acomms.ModemTransmission{Type: acomms.TypeData, Dest: acomms.QueryDestinationID, Frames: [][]byte{{1}}}},
		{"frame too large", &acomms.ModemTransmission{Type: acomms.TypeData, Dest: 2, Frames: [][]byte{make([]byte, 129)}}},
		{"mini data", &acomms.ModemTransmission{Type: acomms.TypeMiniData, Dest: 2, Frames: [][]byte{{1}}}},
		{"ranging broadcast", &acomms.ModemTransmission{Type: acomms.TypeTwoWayPing}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			d, m, _ := newTestDriver(t, nil)
			startDriver(t, d, m)
			if err := d.HandleInitiateTransmission(tt.tx); !errors.Is(err, acomms.ErrInvalidTransmission) {
				t.Errorf("HandleInitiateTransmission = %v, want ErrInvalidTransmission", err)
			}
		})
	}
}
