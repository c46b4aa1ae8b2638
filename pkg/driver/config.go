// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package driver

import (
	"errors"
	"fmt"
	"time"

	"github.com/Thermoquad/acomms/pkg/acomms"
)

// Connection types
const (
	ConnSerial    = "serial"
	ConnTCPClient = "tcp_client"
	ConnTCPServer = "tcp_server"
	ConnWebSocket = "websocket"
)

// ConnectionConfig describes how to reach the modem.
type ConnectionConfig struct {
	Type          string
	SerialPort    string
	SerialBaud    int
	TCPServer     string
	TCPPort       int
	WSURL         string
	WSUsername    string
	WSPassword    string
	WSSkipVerify  bool
	LineDelimiter string
}

// MicroModemConfig holds WHOI Micro-Modem settings.
type MicroModemConfig struct {
	ResetNVRAM bool
	// NVRAMConfig entries are KEY=VALUE pairs pushed with $CCCFG.
	NVRAMConfig []string
	// HydroidGatewayID selects the Hydroid buoy gateway dialect when > 0.
	HydroidGatewayID int
	// AllowedSkew is the clock error accepted from $CACLK and $CAREV.
	AllowedSkew time.Duration

	// REMUS LBL ranging: beacons A-D enabled as a bit mask (A = 1),
	// maximum range in meters and transponder turnaround.
	RemusLBLBeacons    int
	RemusLBLMaxRange   int
	RemusLBLTurnaround time.Duration
}

// IridiumConfig holds Iridium mobile (9523/9602) settings.
type IridiumConfig struct {
	RemoteNumber            string
	DialAttempts            int
	TargetBitRate           int
	HandshakeHangupSeconds  int
	HangupSecondsAfterEmpty int
	StartTimeout            time.Duration
	UseDTR                  bool
	// Config entries are extra AT commands sent during configuration
	// ("+SBDMTA=1"), without the AT prefix.
	Config       []string
	MaxFrameSize int
}

// IridiumShoreConfig holds shore-side RUDICS and DirectIP SBD settings.
type IridiumShoreConfig struct {
	RUDICSServerPort   int
	MOSBDServerPort    int
	MTSBDServerAddress string
	MTSBDServerPort    int
	// ModemIMEI maps modem ids to the IMEI used for MT SBD.
	ModemIMEI    map[int]string
	MaxFrameSize int
}

// BenthosConfig holds Benthos ATM-900 settings.
type BenthosConfig struct {
	FactoryReset bool
	// Config entries are extra settings ("@TxPower=8") sent at startup.
	Config       []string
	StartTimeout time.Duration
	MaxFrameSize int
}

// Config is everything a driver needs at startup.
type Config struct {
	Type       string
	ModemID    int
	Connection ConnectionConfig

	MicroModem   MicroModemConfig
	Iridium      IridiumConfig
	IridiumShore IridiumShoreConfig
	Benthos      BenthosConfig
}

// NewConfig returns a Config with defaults applied.
func NewConfig() Config {
	return Config{
		Connection: ConnectionConfig{
			Type:       ConnSerial,
			SerialBaud: 19200,
		},
		MicroModem: MicroModemConfig{
			AllowedSkew:        2 * time.Second,
			RemusLBLBeacons:    0xF,
			RemusLBLMaxRange:   1000,
			RemusLBLTurnaround: 50 * time.Millisecond,
		},
		Iridium: IridiumConfig{
			DialAttempts:            3,
			TargetBitRate:           2400,
			HandshakeHangupSeconds:  2,
			HangupSecondsAfterEmpty: 30,
			StartTimeout:            20 * time.Second,
			MaxFrameSize:            1500,
		},
		IridiumShore: IridiumShoreConfig{
			MTSBDServerPort: 10800,
			ModemIMEI:       map[int]string{},
			MaxFrameSize:    1500,
		},
		Benthos: BenthosConfig{
			StartTimeout: 20 * time.Second,
			MaxFrameSize: 128,
		},
	}
}

// ValidateConnection checks the fields the selected connection type needs.
// Problems are joined so all of them are reported at once.
func (c *Config) ValidateConnection() error {
	var errs []error
	switch c.Connection.Type {
	case ConnSerial:
		if c.Connection.SerialPort == "" {
			errs = append(errs, &acomms.ConfigError{Field: "serial_port", Reason: "required for serial connection"})
		}
		if c.Connection.SerialBaud <= 0 {
			errs = append(errs, &acomms.ConfigError{Field: "serial_baud", Reason: "required for serial connection"})
		}
	case ConnTCPClient:
		if c.Connection.TCPServer == "" {
			errs = append(errs, &acomms.ConfigError{Field: "tcp_server", Reason: "required for tcp_client connection"})
		}
		if c.Connection.TCPPort <= 0 || c.Connection.TCPPort > 65535 {
			errs = append(errs, &acomms.ConfigError{Field: "tcp_port", Reason: "required for tcp_client connection"})
		}
	case ConnTCPServer:
		if c.Connection.TCPPort <= 0 || c.Connection.TCPPort > 65535 {
			errs = append(errs, &acomms.ConfigError{Field: "tcp_port", Reason: "required for tcp_server connection"})
		}
	case ConnWebSocket:
		if c.Connection.WSURL == "" {
			errs = append(errs, &acomms.ConfigError{Field: "ws_url", Reason: "required for websocket connection"})
		}
	default:
		errs = append(errs, &acomms.ConfigError{
			Field:  "connection.type",
			Reason: fmt.Sprintf("unknown connection type %q", c.Connection.Type),
		})
	}
	return errors.Join(errs...)
}

// ValidateModemID rejects ids that collide with reserved addresses.
func (c *Config) ValidateModemID() error {
	if c.ModemID <= acomms.BroadcastID {
		return &acomms.ConfigError{Field: "modem_id", Reason: fmt.Sprintf("must be > %d, got %d", acomms.BroadcastID, c.ModemID)}
	}
	return nil
}
