// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package micromodem

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/Thermoquad/acomms/pkg/nmea"
)

// alignClock waits for the next whole second so the $CCCLK queued by
// setClock is accurate, then rewrites it with that second.
func (d *Driver) alignClock(ctx context.Context) error {
	now := d.Now()
	wait := now.Truncate(time.Second).Add(time.Second).Sub(now)
	if err := d.Sleep(ctx, wait); err != nil {
		return err
	}
	if front, ok := d.out.Front(); ok && strings.HasPrefix(front.Text, "$CCCLK") {
		d.out.Pop()
		d.out.PushFront(clockSentence(d.Now()), ModemWait)
	}
	return nil
}

func clockSentence(t time.Time) string {
	t = t.UTC()
	s, _ := nmea.New("CCCLK",
		strconv.Itoa(t.Year()),
		fmt.Sprintf("%02d", int(t.Month())),
		fmt.Sprintf("%02d", t.Day()),
		fmt.Sprintf("%02d", t.Hour()),
		fmt.Sprintf("%02d", t.Minute()),
		fmt.Sprintf("%02d", t.Second()),
	)
	return s.String()
}

// setClock queues $CCCLK with the current UTC time.
func (d *Driver) setClock() {
	d.lastClockSet = d.Now()
	d.out.Push(clockSentence(d.lastClockSet), ModemWait)
}

// clk handles $CACLK,YYYY,MM,DD,hh,mm,ss.
func (d *Driver) clk(s *nmea.Sentence) error {
	var f [6]int
	for i := range f {
		v, err := s.Int(i)
		if err != nil {
			return err
		}
		f[i] = v
	}
	reported := time.Date(f[0], time.Month(f[1]), f[2], f[3], f[4], f[5], 0, time.UTC)
	d.checkSkew(reported, "CLK")
	return nil
}

// checkSkew sets or clears the clock flag from a modem reported time.
func (d *Driver) checkSkew(reported time.Time, source string) {
	skew := d.Now().Sub(reported)
	if skew < 0 {
		skew = -skew
	}
	if skew <= d.Cfg.MicroModem.AllowedSkew {
		if !d.clockSet {
			d.Log.Info("modem clock set", "source", source, "skew", skew)
		}
		d.clockSet = true
		return
	}
	if d.clockSet {
		d.Log.Warn("modem clock skew too large", "source", source, "skew", skew)
	}
	d.clockSet = false
}

// timeOfDay resolves an hhmmss[.ss] field to the instant closest to now.
func timeOfDay(field string, now time.Time) (time.Time, error) {
	whole, frac, _ := strings.Cut(field, ".")
	if len(whole) != 6 {
		return time.Time{}, fmt.Errorf("time of day %q: want hhmmss", field)
	}
	hh, err1 := strconv.Atoi(whole[0:2])
	mm, err2 := strconv.Atoi(whole[2:4])
	ss, err3 := strconv.Atoi(whole[4:6])
	if err1 != nil || err2 != nil || err3 != nil || hh > 23 || mm > 59 || ss > 60 {
		return time.Time{}, fmt.Errorf("time of day %q: bad digits", field)
	}
	var nanos int
	if frac != "" {
		f, err := strconv.ParseFloat("0."+frac, 64)
		if err != nil {
			return time.Time{}, fmt.Errorf("time of day %q: %w", field, err)
		}
		nanos = int(f * 1e9)
	}

	now = now.UTC()
	best := time.Date(now.Year(), now.Month(), now.Day(), hh, mm, ss, nanos, time.UTC)
	for _, days := range []int{-1, 1} {
		c := best.AddDate(0, 0, days)
		if absDuration(c.Sub(now)) < absDuration(best.Sub(now)) {
			best = c
		}
	}
	return best, nil
}

func absDuration(d time.Duration) time.Duration {
	if d < 0 {
		return -d
	}
	return d
}
