// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package config

import (
	"errors"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"testing"
	"time"

	"github.com/Thermoquad/acomms/pkg/acomms"
	"github.com/Thermoquad/acomms/pkg/driver"
)

const sample = `
[driver]
type = iridium
modem_id = 3

[connection]
type = serial
serial_port = /dev/ttyUSB0
serial_baud = 19200
line_delimiter = \r

[iridium]
remote_number = 0088160000500
dial_attempts = 5
use_dtr = true
config = +SBDMTA=1, +CIER=1
start_timeout = 45

[iridium_shore]
modem_imei = 3:300234010753370, 4:300234010753371

[micromodem]
nvram_cfg = DTO=5,SRC=3
allowed_skew = 500ms

[app]
http_listen = :8080
db_path = /var/lib/acomms/traffic.db
db_retention = 72h
poll_interval_ms = 25
`

func TestParse(t *testing.T) {
	f, err := Parse([]byte(sample))
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	if err := f.Validate(); err != nil {
		t.Fatalf("Validate: %v", err)
	}

	d := f.Driver
	tests := []struct {
		name string
		got  any
		want any
	}{
		{"type", d.Type, "iridium"},
		{"modem id", d.ModemID, 3},
		{"serial port", d.Connection.SerialPort, "/dev/ttyUSB0"},
		{"delimiter", d.Connection.LineDelimiter, "\r"},
		{"remote number", d.Iridium.RemoteNumber, "0088160000500"},
		{"dial attempts", d.Iridium.DialAttempts, 5},
		{"use dtr", d.Iridium.UseDTR, true},
		{"start timeout", d.Iridium.StartTimeout, 45 * time.Second},
		{"target bit rate default", d.Iridium.TargetBitRate, 2400},
		{"imei", d.IridiumShore.ModemIMEI[4], "300234010753371"},
		{"allowed skew", d.MicroModem.AllowedSkew, 500 * time.Millisecond},
		{"http", f.App.HTTPListen, ":8080"},
		{"db", f.App.DBPath, "/var/lib/acomms/traffic.db"},
		{"db retention", f.App.DBRetention, 72 * time.Hour},
		{"poll interval", f.App.PollInterval, 25 * time.Millisecond},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if tt.got != tt.want {
				t.Errorf("got %v, want %v", tt.got, tt.want)
			}
		})
	}

	if !slices.Equal(d.Iridium.Config, []string{"+SBDMTA=1", "+CIER=1"}) {
		t.Errorf("iridium config = %q", d.Iridium.Config)
	}
	if !slices.Equal(d.MicroModem.NVRAMConfig, []string{"DTO=5", "SRC=3"}) {
		t.Errorf("nvram_cfg = %q", d.MicroModem.NVRAMConfig)
	}
}

func TestLoad(t *testing.T) {
	path := filepath.Join(t.TempDir(), "acomms.ini")
	if err := os.WriteFile(path, []byte(sample), 0o644); err != nil {
		t.Fatal(err)
	}
	f, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if f.Driver.ModemID != 3 {
		t.Errorf("modem id = %d", f.Driver.ModemID)
	}

	if _, err := Load(filepath.Join(t.TempDir(), "missing.ini")); err == nil {
		t.Error("Load of a missing file succeeded")
	}
}

func TestParse_ReportsEveryBadValue(t *testing.T) {
	_, err := Parse([]byte(`
[driver]
modem_id = three
[iridium]
use_dtr = maybe
[iridium_shore]
modem_imei = 3:123
`))
	if err == nil {
		t.Fatal("Parse succeeded")
	}
	for _, field := range []string{"driver.modem_id", "iridium.use_dtr", "iridium_shore.modem_imei"} {
		if !strings.Contains(err.Error(), field) {
			t.Errorf("error %q does not mention %s", err, field)
		}
	}
	var ce *acomms.ConfigError
	if !errors.As(err, &ce) {
		t.Errorf("error %v is not a ConfigError", err)
	}
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*File)
		fields []string
	}{
		{"defaults lack type and id", func(*File) {}, []string{"driver.type", "modem_id"}},
		{"shore skips connection", func(f *File) {
			f.Driver.Type = "iridium_shore"
			f.Driver.ModemID = 1
		}, nil},
		{"serial needs port", func(f *File) {
			f.Driver.Type = "benthos"
			f.Driver.ModemID = 1
		}, []string{"serial_port"}},
		{"poll interval", func(f *File) {
			f.Driver.Type = "iridium_shore"
			f.Driver.ModemID = 1
			f.App.PollInterval = 0
		}, []string{"poll_interval_ms"}},
		{"websocket", func(f *File) {
			f.Driver.Type = "micromodem"
			f.Driver.ModemID = 2
			f.Driver.Connection.Type = driver.ConnWebSocket
			f.Driver.Connection.WSURL = "wss://bridge.local/serial"
		}, nil},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := Default()
			tt.mutate(f)
			err := f.Validate()
			if len(tt.fields) == 0 {
				if err != nil {
					t.Errorf("Validate = %v", err)
				}
				return
			}
			if err == nil {
				t.Fatal("Validate succeeded")
			}
			for _, field := range tt.fields {
				if !strings.Contains(err.Error(), field) {
					t.Errorf("error %q does not mention %s", err, field)
				}
			}
		})
	}
}
