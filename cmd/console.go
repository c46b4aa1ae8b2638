// SPDX-License-Identifier: GPL-2.0-or-later
// Copyright (c) 2025 Kaz Walker, Thermoquad

package cmd

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"sync"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/spf13/cobra"

	"github.com/Thermoquad/acomms/internal/config"
	"github.com/Thermoquad/acomms/internal/store"
	"github.com/Thermoquad/acomms/pkg/acomms"
	"github.com/Thermoquad/acomms/pkg/driver"
)

var (
	consoleLogFile string
	consoleRate    int
)

var consoleCmd = &cobra.Command{
	Use:   "console",
	Short: "Interactive TUI for sending and receiving transmissions",
	Long: `Run a modem driver behind an interactive terminal UI.

Features:
  - Remote modems heard on the link, with their last transmission
  - Sending DATA (text) and TWO_WAY_PING transmissions
  - Acknowledgement and range reply tracking
  - Driver state and statistics
  - Event logging
  - Automatic driver restart when the modem connection is lost

Tab moves between the modem list, the destination, the message and the send
button. Enter on a listed modem copies its id into the destination.`,
	RunE: runConsole,
}

func init() {
	rootCmd.AddCommand(consoleCmd)
	consoleCmd.Flags().StringVar(&consoleLogFile, "log-file", "", "Write driver logs to this file (discarded by default)")
	consoleCmd.Flags().IntVar(&consoleRate, "rate", 1, "Rate class for transmissions sent from the console")
}

// driverManager runs the driver poll loop behind the TUI and restarts the
// driver when it fails.
type driverManager struct {
	file   *config.File
	logOut io.Writer

	mu       sync.RWMutex
	session  *session
	restarts int
	p        *tea.Program

	events  chan consoleEvent
	done    chan struct{}
	stopped chan struct{}
}

func (dm *driverManager) getSession() *session {
	dm.mu.RLock()
	defer dm.mu.RUnlock()
	return dm.session
}

func (dm *driverManager) setSession(s *session) {
	dm.mu.Lock()
	defer dm.mu.Unlock()
	dm.session = s
}

func runConsole(cmd *cobra.Command, args []string) error {
	f, err := loadConfig()
	if err != nil {
		return err
	}

	var logOut io.Writer = io.Discard
	if consoleLogFile != "" {
		lf, err := os.OpenFile(consoleLogFile, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
		if err != nil {
			return fmt.Errorf("failed to open log file: %w", err)
		}
		defer lf.Close()
		logOut = lf
	}

	dm := &driverManager{
		file:    f,
		logOut:  logOut,
		events:  make(chan consoleEvent, 256),
		done:    make(chan struct{}),
		stopped: make(chan struct{}),
	}

	// Start the driver before the TUI so configuration errors are printed
	// on a normal terminal.
	s, err := dm.open(context.Background())
	if err != nil {
		return err
	}
	dm.setSession(s)

	m := initialConsoleModel(dm, describeConnection(f.Driver.Connection), f.Driver.Type, f.Driver.ModemID)
	p := tea.NewProgram(m, tea.WithAltScreen(), tea.WithMouseCellMotion())
	dm.p = p

	go dm.driverLoop()
	go dm.batchLoop()

	_, err = p.Run()
	close(dm.done)
	<-dm.stopped
	if s := dm.getSession(); s != nil {
		s.Close()
	}
	if err != nil {
		return fmt.Errorf("TUI error: %v", err)
	}
	return nil
}

// open starts a session whose observers feed the event channel.
func (dm *driverManager) open(ctx context.Context) (*session, error) {
	return openSession(ctx, dm.file, dm.restarts, dm.logOut, func(sig *acomms.Signals) {
		sig.OnReceive(func(m *acomms.ModemTransmission) {
			dm.post(consoleEvent{at: time.Now(), kind: eventReceive, m: m.Clone()})
		})
		sig.OnAck(func(m *acomms.ModemTransmission) {
			dm.post(consoleEvent{at: time.Now(), kind: eventAck, m: m.Clone()})
		})
		sig.OnRangeReply(func(m *acomms.ModemTransmission) {
			dm.post(consoleEvent{at: time.Now(), kind: eventRange, m: m.Clone()})
		})
	})
}

// post queues an event for the TUI. Events are dropped when the TUI falls
// behind so the poll loop never blocks.
func (dm *driverManager) post(e consoleEvent) {
	select {
	case dm.events <- e:
	default:
	}
}

// driverLoop polls the driver, publishing its status once a second, and
// restarts it after a failure.
func (dm *driverManager) driverLoop() {
	defer close(dm.stopped)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() {
		<-dm.done
		cancel()
	}()

	for {
		s := dm.getSession()
		var lastStatus time.Time
		err := s.loop(ctx, func(m driver.Modem) {
			if now := time.Now(); now.Sub(lastStatus) >= time.Second {
				lastStatus = now
				dm.post(consoleEvent{at: now, kind: eventStatus, state: m.State(), stats: m.Stats()})
			}
		})
		if err == nil {
			return // Shutdown requested
		}

		dm.p.Send(driverLostMsg{err: err})
		s.Close()
		dm.setSession(nil)
		if !dm.restart(ctx) {
			return
		}
	}
}

// restart reopens the driver with exponential backoff. It returns false
// if shutdown was requested first.
func (dm *driverManager) restart(ctx context.Context) bool {
	backoff := 1 * time.Second
	maxBackoff := 30 * time.Second

	for {
		select {
		case <-ctx.Done():
			return false
		case <-time.After(backoff):
		}

		dm.restarts++
		s, err := dm.open(ctx)
		if err == nil {
			dm.setSession(s)
			dm.p.Send(driverRestartedMsg{})
			return true
		}
		if errors.Is(err, context.Canceled) {
			return false
		}

		// Exponential backoff
		backoff *= 2
		if backoff > maxBackoff {
			backoff = maxBackoff
		}
	}
}

// batchLoop forwards queued events to the TUI at a fixed rate.
func (dm *driverManager) batchLoop() {
	ticker := time.NewTicker(50 * time.Millisecond)
	defer ticker.Stop()

	for {
		select {
		case <-dm.done:
			return
		case <-ticker.C:
			var batch consoleBatchMsg

		drainLoop:
			for {
				select {
				case e := <-dm.events:
					batch.events = append(batch.events, e)
				default:
					break drainLoop
				}
			}

			if len(batch.events) > 0 {
				dm.p.Send(batch)
			}
		}
	}
}

// send hands m to the driver on its poll goroutine and records it.
func (dm *driverManager) send(m *acomms.ModemTransmission) error {
	s := dm.getSession()
	if s == nil {
		return errors.New("driver not running")
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	var sendErr error
	if err := s.api.Do(ctx, func(d driver.Modem) {
		sendErr = d.HandleInitiateTransmission(m)
	}); err != nil {
		return fmt.Errorf("driver busy: %w", err)
	}
	if sendErr != nil {
		return sendErr
	}
	if s.db != nil {
		if err := s.db.AddTransmission(s.modem.Vendor(), store.EventInitiate, m); err != nil {
			s.log.Warn("failed to store transmission", "error", err)
		}
	}
	return nil
}
