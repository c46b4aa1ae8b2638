// SPDX-License-Identifier: GPL-2.0-or-later
// Copyright (c) 2025 Kaz Walker, Thermoquad

package cmd

import (
	"fmt"
	"io"
	"log/slog"
	"strings"

	"github.com/spf13/cobra"
)

var (
	configPath string
	driverType string
	modemID    int
	logLevel   string

	// Serial connection flags
	portName string
	baudRate int

	// TCP connection flags
	tcpAddr    string
	listenPort int

	// WebSocket connection flags
	wsURL         string
	wsUsername    string
	wsNoSSLVerify bool
)

var rootCmd = &cobra.Command{
	Use:   "acomms",
	Short: "Acoustic and satellite modem driver toolkit",
	Long: `acomms - drive WHOI Micro-Modem, Iridium (RUDICS/SBD) and Benthos ATM-900
modems, inspect their traffic and serve a control API.

Settings come from an INI file (--config); connection and driver flags
override it.

Connection modes:
  Serial:     --port /dev/ttyUSB0 [--baud 19200]
  TCP client: --tcp host:port
  TCP server: --listen port
  WebSocket:  --url ws://host/path [--username user]

For WebSocket authentication, the password is read from the ACOMMS_PASSWORD
environment variable, or prompted interactively if not set. The --password
flag is intentionally not provided to avoid leaking credentials in shell history.`,
	Version:      "0.4.0",
	SilenceUsage: true,
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "", "INI configuration file")
	rootCmd.PersistentFlags().StringVarP(&driverType, "driver", "d", "", "Driver type (micromodem, iridium, iridium_shore, benthos)")
	rootCmd.PersistentFlags().IntVarP(&modemID, "modem-id", "i", 0, "Local modem id")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "info", "Log level (debug, info, warn, error)")

	// Serial connection flags
	rootCmd.PersistentFlags().StringVarP(&portName, "port", "p", "", "Serial port device")
	rootCmd.PersistentFlags().IntVarP(&baudRate, "baud", "b", 0, "Baud rate (serial only)")

	// TCP connection flags
	rootCmd.PersistentFlags().StringVar(&tcpAddr, "tcp", "", "Connect to the modem at host:port")
	rootCmd.PersistentFlags().IntVar(&listenPort, "listen", 0, "Wait for the modem to connect on this TCP port")

	// WebSocket connection flags
	rootCmd.PersistentFlags().StringVarP(&wsURL, "url", "u", "", "WebSocket URL (ws:// or wss://)")
	rootCmd.PersistentFlags().StringVar(&wsUsername, "username", "", "Username for HTTP Basic auth")
	rootCmd.PersistentFlags().BoolVar(&wsNoSSLVerify, "no-ssl-verify", false, "Skip TLS certificate verification (wss:// only)")
}

// Execute runs the root command
func Execute() error {
	return rootCmd.Execute()
}

// newLogger builds a text logger at the --log-level level.
func newLogger(w io.Writer) (*slog.Logger, error) {
	var level slog.Level
	switch strings.ToLower(logLevel) {
	case "debug":
		level = slog.LevelDebug
	case "info", "":
		level = slog.LevelInfo
	case "warn", "warning":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	default:
		return nil, fmt.Errorf("unknown log level %q", logLevel)
	}
	return slog.New(slog.NewTextHandler(w, &slog.HandlerOptions{Level: level})), nil
}
