// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package cmd

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/spf13/cobra"

	"github.com/Thermoquad/acomms/pkg/acomms"
	"github.com/Thermoquad/acomms/pkg/driver"
	"github.com/Thermoquad/acomms/pkg/lineio"
	"github.com/Thermoquad/acomms/pkg/rudics"
)

var (
	showAll       bool
	statsInterval int
	useTUI        bool
)

var frameCheckCmd = &cobra.Command{
	Use:   "frame_check",
	Short: "Detect and analyze malformed RUDICS frames",
	Long: `Read a RUDICS data stream (an Iridium call, a Benthos data link or a
capture replayed over TCP) and check every line as a packet.

This command detects:
  - Framing errors (bad base conversion, frames too short)
  - CRC errors
  - Payloads that are not valid transmissions
  - Statistics and trends (line rate, error rate)

Plain text lines (AT responses, "bye") are counted but not treated as errors.
Errors before the first valid frame are counted as sync noise.

By default, only errors are displayed. Use --show-all to display valid frames too.`,
	RunE: runFrameCheck,
}

func init() {
	rootCmd.AddCommand(frameCheckCmd)
	frameCheckCmd.Flags().BoolVar(&showAll, "show-all", false, "Show all frames (not just errors)")
	frameCheckCmd.Flags().IntVar(&statsInterval, "stats-interval", 10, "Statistics update interval (seconds)")
	frameCheckCmd.Flags().BoolVar(&useTUI, "tui", true, "Use terminal UI (false for text mode)")
}

// frameResult is the outcome of checking one line.
type frameResult struct {
	at   time.Time
	line string
	m    *acomms.ModemTransmission
	err  error
	// text marks printable lines that are not frames.
	text bool
}

func checkFrame(line string, at time.Time) frameResult {
	r := frameResult{at: at, line: line}
	payload, err := rudics.Parse([]byte(line))
	if err != nil {
		r.err = err
		r.text = isText(line)
		return r
	}
	r.m, r.err = acomms.UnmarshalTransmission(payload)
	return r
}

// isText reports whether line is printable ASCII. Encoded frames use
// the whole byte range and are almost never printable.
func isText(line string) bool {
	s := strings.TrimRight(line, "\r\n")
	for i := 0; i < len(s); i++ {
		if s[i] < 0x20 || s[i] > 0x7E {
			return false
		}
	}
	return true
}

// frameTracker folds results into statistics and the sync state.
type frameTracker struct {
	stats        *driver.Statistics
	synchronized bool
	skipped      int
	textLines    uint64
}

func newFrameTracker() *frameTracker {
	return &frameTracker{stats: driver.NewStatistics(time.Now())}
}

// add records r. It returns false for results that should not be shown
// (noise before sync, text lines).
func (t *frameTracker) add(r frameResult) bool {
	t.stats.LinesIn++
	t.stats.LastUpdateTime = r.at
	switch {
	case r.text:
		t.textLines++
		return false
	case r.err != nil && !t.synchronized:
		t.skipped++
		return false
	case r.m == nil:
		t.stats.RecordDecodeError(r.err)
	case r.err != nil:
		t.stats.ParseErrors++
	default:
		t.synchronized = true
		t.stats.FramesReceived += uint64(len(r.m.Frames))
		if r.m.Type == acomms.TypeAck {
			t.stats.AcksReceived++
		}
	}
	return true
}

func runFrameCheck(cmd *cobra.Command, args []string) error {
	f, err := loadConfig()
	if err != nil {
		return err
	}
	t, err := openTransport(context.Background(), f, "\r")
	if err != nil {
		return err
	}
	defer t.Close()

	if useTUI {
		return runTUIMode(t, describeConnection(f.Driver.Connection))
	}
	return runTextMode(t, describeConnection(f.Driver.Connection))
}

// readFrames polls t and hands each checked line to emit until the
// connection closes.
func readFrames(t lineio.Transport, emit func(frameResult)) error {
	for {
		for {
			line, ok := t.ReadLine()
			if !ok {
				break
			}
			emit(checkFrame(line, time.Now()))
		}
		if !t.Active() {
			return lineio.ErrConnectionClosed
		}
		time.Sleep(10 * time.Millisecond)
	}
}

func describeFrameError(err error) string {
	switch {
	case errors.Is(err, rudics.ErrBadChecksum):
		return "CRC ERROR"
	case errors.Is(err, rudics.ErrTooShort):
		return "FRAME TOO SHORT"
	case errors.Is(err, acomms.ErrInvalidTransmission):
		return "INVALID TRANSMISSION"
	}
	return "DECODE ERROR"
}

// runTUIMode runs frame checking in TUI mode
func runTUIMode(t lineio.Transport, connInfo string) error {
	m := initialModel(connInfo, statsInterval, showAll)
	p := tea.NewProgram(m)

	go func() {
		err := readFrames(t, func(r frameResult) { p.Send(frameMsg(r)) })
		p.Send(connClosedMsg{err: err})
	}()

	if _, err := p.Run(); err != nil {
		return fmt.Errorf("TUI error: %v", err)
	}
	return nil
}

// runTextMode runs frame checking in text mode
func runTextMode(t lineio.Transport, connInfo string) error {
	fmt.Printf("acomms - Frame Check\n")
	fmt.Printf("Connection: %s\n", connInfo)
	fmt.Printf("Statistics interval: %d seconds\n", statsInterval)
	if showAll {
		fmt.Printf("Mode: All frames\n")
	} else {
		fmt.Printf("Mode: Errors only\n")
	}
	fmt.Printf("Press Ctrl+C to exit\n\n")

	tracker := newFrameTracker()
	results := make(chan frameResult, 64)
	closed := make(chan error, 1)
	go func() { closed <- readFrames(t, func(r frameResult) { results <- r }) }()

	statsTicker := time.NewTicker(time.Duration(statsInterval) * time.Second)
	defer statsTicker.Stop()

	for {
		select {
		case r := <-results:
			wasSynced := tracker.synchronized
			if !tracker.add(r) {
				continue
			}
			if !wasSynced && tracker.synchronized {
				fmt.Printf("[SYNC] Synchronized after skipping %d lines\n\n", tracker.skipped)
			}
			ts := r.at.Format("15:04:05.000")
			if r.err != nil {
				fmt.Printf("[%s] \033[1;31m%s:\033[0m %v\n", ts, describeFrameError(r.err), r.err)
				fmt.Printf("  Line: %q\n  >>> FRAME REJECTED <<<\n\n", strings.TrimRight(r.line, "\r\n"))
			} else if showAll {
				fmt.Printf("[%s] %s\n", ts, r.m)
			}

		case <-statsTicker.C:
			fmt.Println()
			fmt.Print(tracker.stats.String())
			fmt.Printf("Text Lines:      %8d\n\n", tracker.textLines)

		case err := <-closed:
			fmt.Printf("\nConnection closed: %v\n\n", err)
			fmt.Print(tracker.stats.String())
			return nil
		}
	}
}
