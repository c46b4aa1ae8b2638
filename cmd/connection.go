// SPDX-License-Identifier: GPL-2.0-or-later
// Copyright (c) 2025 Kaz Walker, Thermoquad

package cmd

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"log/slog"
	"net"
	"os"
	"strconv"
	"strings"
	"syscall"
	"time"

	"golang.org/x/term"

	"github.com/Thermoquad/acomms/internal/api"
	"github.com/Thermoquad/acomms/internal/config"
	"github.com/Thermoquad/acomms/internal/store"
	"github.com/Thermoquad/acomms/pkg/acomms"
	"github.com/Thermoquad/acomms/pkg/driver"
	"github.com/Thermoquad/acomms/pkg/lineio"
)

// GetPassword retrieves password from environment or prompts user
func GetPassword() (string, error) {
	if pw := os.Getenv("ACOMMS_PASSWORD"); pw != "" {
		return pw, nil
	}

	fmt.Fprint(os.Stderr, "Password: ")

	passwordBytes, err := term.ReadPassword(int(syscall.Stdin))
	if err != nil {
		// Fallback to regular input if terminal functions fail
		reader := bufio.NewReader(os.Stdin)
		password, err := reader.ReadString('\n')
		if err != nil {
			return "", fmt.Errorf("failed to read password: %v", err)
		}
		fmt.Fprintln(os.Stderr)
		return strings.TrimSpace(password), nil
	}

	fmt.Fprintln(os.Stderr)
	return string(passwordBytes), nil
}

// loadConfig reads --config (or the defaults) and applies the command
// line overrides.
func loadConfig() (*config.File, error) {
	f := config.Default()
	if configPath != "" {
		var err error
		if f, err = config.Load(configPath); err != nil {
			return nil, err
		}
	}

	d := &f.Driver
	if driverType != "" {
		d.Type = driverType
	}
	if modemID != 0 {
		d.ModemID = modemID
	}

	c := &d.Connection
	switch {
	case wsURL != "":
		c.Type = driver.ConnWebSocket
		c.WSURL = wsURL
		c.WSUsername = wsUsername
		c.WSSkipVerify = wsNoSSLVerify
	case tcpAddr != "":
		host, port, err := net.SplitHostPort(tcpAddr)
		if err != nil {
			return nil, fmt.Errorf("invalid --tcp address: %w", err)
		}
		c.Type = driver.ConnTCPClient
		c.TCPServer = host
		if c.TCPPort, err = strconv.Atoi(port); err != nil {
			return nil, fmt.Errorf("invalid --tcp port: %w", err)
		}
	case listenPort != 0:
		c.Type = driver.ConnTCPServer
		c.TCPPort = listenPort
	case portName != "":
		c.Type = driver.ConnSerial
		c.SerialPort = portName
	}
	if baudRate != 0 {
		c.SerialBaud = baudRate
	}

	if c.Type == driver.ConnWebSocket && c.WSUsername != "" && c.WSPassword == "" {
		pw, err := GetPassword()
		if err != nil {
			return nil, err
		}
		c.WSPassword = pw
	}
	return f, nil
}

// describeConnection names the link for banners.
func describeConnection(c driver.ConnectionConfig) string {
	switch c.Type {
	case driver.ConnSerial:
		return fmt.Sprintf("Serial: %s @ %d baud", c.SerialPort, c.SerialBaud)
	case driver.ConnTCPClient:
		return "TCP: " + net.JoinHostPort(c.TCPServer, strconv.Itoa(c.TCPPort))
	case driver.ConnTCPServer:
		return fmt.Sprintf("TCP server: port %d", c.TCPPort)
	case driver.ConnWebSocket:
		return "WebSocket: " + c.WSURL
	}
	return c.Type
}

// openTransport opens only the line transport described by f, for
// commands that talk to the modem without a driver.
func openTransport(ctx context.Context, f *config.File, delim string) (lineio.Transport, error) {
	b := driver.NewBase("transport", f.Driver)
	if err := b.Open(ctx, delim); err != nil {
		return nil, err
	}
	return b.Transport(), nil
}

// session is a started driver with the traffic log and API attached.
// Only the goroutine running loop may touch the driver.
type session struct {
	file  *config.File
	modem driver.Modem
	api   *api.Server
	db    *store.DB
	raw   *os.File
	log   *slog.Logger
}

// openSession builds the driver from f and starts it. Observers are
// registered before startup so its traffic is seen too. instance tells
// restarted drivers apart in the logs.
func openSession(ctx context.Context, f *config.File, instance int, logOut io.Writer, observers ...func(*acomms.Signals)) (*session, error) {
	if err := f.Validate(); err != nil {
		return nil, err
	}
	log, err := newLogger(logOut)
	if err != nil {
		return nil, err
	}

	m, err := driver.New(f.Driver, driver.WithLogger(log), driver.WithInstance(instance))
	if err != nil {
		return nil, err
	}
	s := &session{file: f, modem: m, log: log}

	if f.App.DBPath != "" {
		if s.db, err = store.Open(store.Config{Path: f.App.DBPath}, log); err != nil {
			return nil, err
		}
		s.db.Attach(m.Vendor(), m.ID(), m.Signals())
	}
	if f.App.RawLog != "" {
		if s.raw, err = os.OpenFile(f.App.RawLog, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644); err != nil {
			s.closeStores()
			return nil, fmt.Errorf("failed to open raw log: %w", err)
		}
		m.Signals().OnRawIncoming(func(line string) { s.writeRaw("<", line) })
		m.Signals().OnRawOutgoing(func(line string) { s.writeRaw(">", line) })
	}
	s.api = api.New(s.db, log)
	s.api.Attach(m.Signals())
	for _, o := range observers {
		o(m.Signals())
	}

	if err := m.Startup(ctx); err != nil {
		s.closeStores()
		return nil, err
	}
	return s, nil
}

func (s *session) writeRaw(dir, line string) {
	fmt.Fprintf(s.raw, "%s %s %q\n", time.Now().UTC().Format(time.RFC3339Nano), dir, strings.TrimRight(line, "\r\n"))
}

// loop polls the driver until ctx is done or the driver fails. each runs
// after every poll.
func (s *session) loop(ctx context.Context, each func(driver.Modem)) error {
	ticker := time.NewTicker(s.file.App.PollInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
		}
		if err := s.modem.Poll(); err != nil {
			return err
		}
		s.api.Service(s.modem)
		if each != nil {
			each(s.modem)
		}
	}
}

// Close shuts the driver down and closes the logs.
func (s *session) Close() error {
	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	err := s.modem.Shutdown(ctx)
	s.closeStores()
	return err
}

func (s *session) closeStores() {
	if s.db != nil {
		s.db.Close()
	}
	if s.raw != nil {
		s.raw.Close()
	}
}
