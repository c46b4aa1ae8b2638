// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

// Package config loads the INI file that describes a modem and the
// application around it.
package config

import (
	"errors"
	"fmt"
	"slices"
	"strconv"
	"strings"
	"time"

	"gopkg.in/ini.v1"

	"github.com/Thermoquad/acomms/pkg/acomms"
	"github.com/Thermoquad/acomms/pkg/driver"
	"github.com/Thermoquad/acomms/pkg/driver/benthos"
	"github.com/Thermoquad/acomms/pkg/driver/iridium"
	"github.com/Thermoquad/acomms/pkg/driver/iridiumshore"
	"github.com/Thermoquad/acomms/pkg/driver/micromodem"
)

// DriverTypes lists the accepted [driver] type values.
var DriverTypes = []string{micromodem.Name, iridium.Name, iridiumshore.Name, benthos.Name}

// App holds settings for the process hosting the driver.
type App struct {
	// HTTPListen is the control API address. Empty disables the API.
	HTTPListen string
	// DBPath is the traffic log database. Empty disables the log.
	DBPath string
	// RawLog is a file receiving every raw line. Empty disables it.
	RawLog       string
	PollInterval time.Duration
	// DBRetention is how long traffic log records are kept. Zero keeps
	// them forever.
	DBRetention time.Duration
}

// File is a loaded configuration.
type File struct {
	Driver driver.Config
	App    App
}

// Default returns the configuration used when no file is given.
func Default() *File {
	return &File{
		Driver: driver.NewConfig(),
		App:    App{PollInterval: 10 * time.Millisecond},
	}
}

// Load reads the INI file at path over the defaults.
func Load(path string) (*File, error) {
	f, err := ini.Load(path)
	if err != nil {
		return nil, fmt.Errorf("failed to load config %s: %w", path, err)
	}
	return fromINI(f)
}

// Parse reads INI text over the defaults.
func Parse(data []byte) (*File, error) {
	f, err := ini.Load(data)
	if err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}
	return fromINI(f)
}

func fromINI(f *ini.File) (*File, error) {
	out := Default()
	r := &reader{}
	d := &out.Driver

	sec := f.Section("driver")
	r.str(sec, "type", &d.Type)
	r.int(sec, "modem_id", &d.ModemID)

	sec = f.Section("connection")
	r.str(sec, "type", &d.Connection.Type)
	r.str(sec, "serial_port", &d.Connection.SerialPort)
	r.int(sec, "serial_baud", &d.Connection.SerialBaud)
	r.str(sec, "tcp_server", &d.Connection.TCPServer)
	r.int(sec, "tcp_port", &d.Connection.TCPPort)
	r.str(sec, "ws_url", &d.Connection.WSURL)
	r.str(sec, "ws_username", &d.Connection.WSUsername)
	r.bool(sec, "ws_skip_verify", &d.Connection.WSSkipVerify)
	r.delimiter(sec, "line_delimiter", &d.Connection.LineDelimiter)
	r.str(sec, "raw_log", &out.App.RawLog)

	sec = f.Section("micromodem")
	r.bool(sec, "reset_nvram", &d.MicroModem.ResetNVRAM)
	r.list(sec, "nvram_cfg", &d.MicroModem.NVRAMConfig)
	r.int(sec, "hydroid_gateway_id", &d.MicroModem.HydroidGatewayID)
	r.seconds(sec, "allowed_skew", &d.MicroModem.AllowedSkew)

	sec = f.Section("iridium")
	r.str(sec, "remote_number", &d.Iridium.RemoteNumber)
	r.int(sec, "dial_attempts", &d.Iridium.DialAttempts)
	r.int(sec, "target_bit_rate", &d.Iridium.TargetBitRate)
	r.int(sec, "handshake_hangup_seconds", &d.Iridium.HandshakeHangupSeconds)
	r.int(sec, "hangup_seconds_after_empty", &d.Iridium.HangupSecondsAfterEmpty)
	r.seconds(sec, "start_timeout", &d.Iridium.StartTimeout)
	r.bool(sec, "use_dtr", &d.Iridium.UseDTR)
	r.list(sec, "config", &d.Iridium.Config)
	r.int(sec, "max_frame_size", &d.Iridium.MaxFrameSize)

	sec = f.Section("iridium_shore")
	r.int(sec, "rudics_server_port", &d.IridiumShore.RUDICSServerPort)
	r.int(sec, "mo_sbd_server_port", &d.IridiumShore.MOSBDServerPort)
	r.str(sec, "mt_sbd_server_address", &d.IridiumShore.MTSBDServerAddress)
	r.int(sec, "mt_sbd_server_port", &d.IridiumShore.MTSBDServerPort)
	r.imeis(sec, "modem_imei", d.IridiumShore.ModemIMEI)
	r.int(sec, "max_frame_size", &d.IridiumShore.MaxFrameSize)

	sec = f.Section("benthos")
	r.bool(sec, "factory_reset", &d.Benthos.FactoryReset)
	r.list(sec, "config", &d.Benthos.Config)
	r.seconds(sec, "start_timeout", &d.Benthos.StartTimeout)
	r.int(sec, "max_frame_size", &d.Benthos.MaxFrameSize)

	sec = f.Section("app")
	r.str(sec, "http_listen", &out.App.HTTPListen)
	r.str(sec, "db_path", &out.App.DBPath)
	r.seconds(sec, "db_retention", &out.App.DBRetention)
	if sec.HasKey("poll_interval_ms") {
		var ms int
		r.int(sec, "poll_interval_ms", &ms)
		out.App.PollInterval = time.Duration(ms) * time.Millisecond
	}

	if err := errors.Join(r.errs...); err != nil {
		return nil, err
	}
	return out, nil
}

// Validate checks the settings every driver needs. Connection fields are
// checked for drivers that talk to a local modem. All problems are
// reported together.
func (f *File) Validate() error {
	var errs []error
	d := &f.Driver
	if !slices.Contains(DriverTypes, d.Type) {
		errs = append(errs, &acomms.ConfigError{
			Field:  "driver.type",
			Reason: fmt.Sprintf("is %q, must be one of %v", d.Type, DriverTypes),
		})
	}
	errs = append(errs, d.ValidateModemID())
	if d.Type != iridiumshore.Name {
		errs = append(errs, d.ValidateConnection())
	}
	if f.App.PollInterval <= 0 {
		errs = append(errs, &acomms.ConfigError{Field: "app.poll_interval_ms", Reason: "must be positive"})
	}
	if f.App.DBRetention < 0 {
		errs = append(errs, &acomms.ConfigError{Field: "app.db_retention", Reason: "must not be negative"})
	}
	return errors.Join(errs...)
}

// reader pulls typed keys from sections and collects conversion errors.
// Absent keys leave the destination untouched.
type reader struct {
	errs []error
}

func (r *reader) fail(sec *ini.Section, name string, err error) {
	r.errs = append(r.errs, &acomms.ConfigError{Field: sec.Name() + "." + name, Reason: err.Error()})
}

func (r *reader) str(sec *ini.Section, name string, dst *string) {
	if sec.HasKey(name) {
		*dst = sec.Key(name).String()
	}
}

func (r *reader) int(sec *ini.Section, name string, dst *int) {
	if !sec.HasKey(name) {
		return
	}
	v, err := sec.Key(name).Int()
	if err != nil {
		r.fail(sec, name, err)
		return
	}
	*dst = v
}

func (r *reader) bool(sec *ini.Section, name string, dst *bool) {
	if !sec.HasKey(name) {
		return
	}
	v, err := sec.Key(name).Bool()
	if err != nil {
		r.fail(sec, name, err)
		return
	}
	*dst = v
}

// seconds accepts a plain number of seconds or a Go duration ("500ms").
func (r *reader) seconds(sec *ini.Section, name string, dst *time.Duration) {
	if !sec.HasKey(name) {
		return
	}
	s := sec.Key(name).String()
	if n, err := strconv.ParseFloat(s, 64); err == nil {
		*dst = time.Duration(n * float64(time.Second))
		return
	}
	v, err := time.ParseDuration(s)
	if err != nil {
		r.fail(sec, name, fmt.Errorf("%q is neither seconds nor a duration", s))
		return
	}
	*dst = v
}

func (r *reader) list(sec *ini.Section, name string, dst *[]string) {
	if !sec.HasKey(name) {
		return
	}
	var out []string
	for _, s := range sec.Key(name).Strings(",") {
		if s != "" {
			out = append(out, s)
		}
	}
	*dst = out
}

// UnescapeDelimiter turns the escapes \r and \n into control characters so
// delimiters can be written in files and on the command line.
func UnescapeDelimiter(s string) string {
	return strings.NewReplacer(`\r`, "\r", `\n`, "\n").Replace(s)
}

func (r *reader) delimiter(sec *ini.Section, name string, dst *string) {
	if sec.HasKey(name) {
		*dst = UnescapeDelimiter(sec.Key(name).String())
	}
}

// imeis reads "id:imei" pairs.
func (r *reader) imeis(sec *ini.Section, name string, dst map[int]string) {
	if !sec.HasKey(name) {
		return
	}
	for _, pair := range sec.Key(name).Strings(",") {
		idText, imei, ok := strings.Cut(pair, ":")
		id, err := strconv.Atoi(strings.TrimSpace(idText))
		imei = strings.TrimSpace(imei)
		if !ok || err != nil || id <= acomms.BroadcastID || len(imei) != 15 {
			r.fail(sec, name, fmt.Errorf("expected id:imei with a 15 digit IMEI, got %q", pair))
			continue
		}
		dst[id] = imei
	}
}
