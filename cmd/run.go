// SPDX-License-Identifier: GPL-2.0-or-later
// Copyright (c) 2025 Kaz Walker, Thermoquad

package cmd

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/coreos/go-systemd/v22/daemon"
	"github.com/spf13/cobra"

	"github.com/Thermoquad/acomms/pkg/driver"
)

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Run a modem driver as a service",
	Long: `Start the configured driver and poll it until interrupted.

When [app] http_listen is set the control API is served:
  GET  /health    liveness and database health
  GET  /status    driver state and statistics
  GET  /received  recent received transmissions (?limit=N)
  GET  /lines     recent raw modem lines from the traffic log (?limit=N)
  POST /transmit  initiate a transmission (JSON)

With [app] db_retention set, traffic log records older than the retention
are pruned hourly.

Under systemd (Type=notify) readiness, watchdog and stopping are reported
with sd_notify.`,
	RunE: runRun,
}

// pruneInterval is how often old traffic log records are deleted.
const pruneInterval = time.Hour

func init() {
	rootCmd.AddCommand(runCmd)
}

func runRun(cmd *cobra.Command, args []string) error {
	f, err := loadConfig()
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	s, err := openSession(ctx, f, 0, os.Stderr)
	if err != nil {
		return err
	}
	defer s.Close()
	s.log.Info("driver started", "driver", s.modem.Vendor(), "modem_id", s.modem.ID(), "connection", describeConnection(f.Driver.Connection))

	var srv *http.Server
	if f.App.HTTPListen != "" {
		srv = &http.Server{
			Addr:         f.App.HTTPListen,
			Handler:      s.api.Handler(),
			ReadTimeout:  15 * time.Second,
			WriteTimeout: 30 * time.Second,
			IdleTimeout:  60 * time.Second,
		}
		go func() {
			s.log.Info("API listening", "addr", f.App.HTTPListen)
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				s.log.Error("API server failed", "error", err)
				stop()
			}
		}()
	}

	if _, err := daemon.SdNotify(false, daemon.SdNotifyReady); err != nil {
		s.log.Warn("sd_notify failed", "error", err)
	}
	watchdog, _ := daemon.SdWatchdogEnabled(false)
	var lastPet, lastPrune time.Time

	err = s.loop(ctx, func(driver.Modem) {
		now := time.Now()
		if watchdog > 0 && now.Sub(lastPet) >= watchdog/2 {
			lastPet = now
			daemon.SdNotify(false, daemon.SdNotifyWatchdog)
		}
		if s.db != nil && f.App.DBRetention > 0 && now.Sub(lastPrune) >= pruneInterval {
			lastPrune = now
			if n, err := s.db.Prune(now.Add(-f.App.DBRetention)); err != nil {
				s.log.Warn("traffic log prune failed", "error", err)
			} else if n > 0 {
				s.log.Info("traffic log pruned", "records", n)
			}
		}
	})

	daemon.SdNotify(false, daemon.SdNotifyStopping)
	if srv != nil {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if serr := srv.Shutdown(shutdownCtx); serr != nil {
			s.log.Warn("API shutdown failed", "error", serr)
		}
	}
	if err != nil {
		return fmt.Errorf("driver stopped: %w", err)
	}
	s.log.Info("stopped")
	return nil
}
