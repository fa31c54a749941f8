// Package config loads and validates canview process configuration.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/danmuck/canview/internal/canbus"
	"github.com/danmuck/canview/internal/monitor"
)

const (
	TransportSocketCAN = "socketcan"
	TransportSLCAN     = "slcan"
	TransportReplay    = "replay"
)

type fileConfig struct {
	Transport           string   `toml:"transport"`
	Channel             string   `toml:"channel"`
	Bitrate             int      `toml:"bitrate"`
	Database            string   `toml:"database"`
	Select              []string `toml:"select"`
	SelectAll           bool     `toml:"select_all"`
	Autostart           bool     `toml:"autostart"`
	RefreshInterval     string   `toml:"refresh_interval"`
	ReceiveTimeout      string   `toml:"receive_timeout"`
	StopGrace           string   `toml:"stop_grace"`
	DecodeFailurePolicy string   `toml:"decode_failure_policy"`
	ResetOnDisconnect   bool     `toml:"reset_on_disconnect"`
	HTTPAddr            string   `toml:"http_addr"`
	CORSOrigins         []string `toml:"cors_origins"`
	Print               bool     `toml:"print"`
	ReplayRate          float64  `toml:"replay_rate"`
	ReplayLoop          bool     `toml:"replay_loop"`
	SerialBaud          int      `toml:"serial_baud"`
	ControlToken        string   `toml:"control_token"`
	ConfigureLink       bool     `toml:"configure_link"`
	TLSCert             string   `toml:"tls_cert"`
	TLSKey              string   `toml:"tls_key"`
}

// App is the resolved process configuration.
type App struct {
	Transport   string
	Channel     string
	Bitrate     int
	Database    string
	Select      []uint32
	SelectAll   bool
	Autostart   bool
	HTTPAddr    string
	CORSOrigins []string
	Print       bool
	ReplayRate  float64
	ReplayLoop  bool
	SerialBaud  int
	// ConfigureLink sets the socketcan bitrate with ip(8) on connect.
	ConfigureLink bool
	// ControlToken, when set, is required as a bearer token on mutating
	// HTTP routes.
	ControlToken string
	TLSCert      string
	TLSKey       string
	Monitor      monitor.Config
}

func Default() App {
	return App{
		Transport:  TransportSocketCAN,
		Channel:    "can0",
		Bitrate:    250000,
		Autostart:  true,
		HTTPAddr:   "127.0.0.1:8080",
		ReplayRate: 1,
		SerialBaud: 115200,
		Monitor:    monitor.DefaultConfig(),
	}
}

// Load reads a TOML file on top of Default. Only keys present in the file
// override defaults.
func Load(path string) (App, error) {
	cfg := Default()

	var raw fileConfig
	meta, err := toml.DecodeFile(path, &raw)
	if err != nil {
		return App{}, fmt.Errorf("load canview config: %w", err)
	}

	if meta.IsDefined("transport") {
		cfg.Transport = strings.ToLower(strings.TrimSpace(raw.Transport))
	}
	if meta.IsDefined("channel") {
		cfg.Channel = strings.TrimSpace(raw.Channel)
	}
	if meta.IsDefined("bitrate") {
		cfg.Bitrate = raw.Bitrate
	}
	if meta.IsDefined("database") {
		cfg.Database = strings.TrimSpace(raw.Database)
	}
	if meta.IsDefined("select") {
		ids, err := ParseIDs(raw.Select)
		if err != nil {
			return App{}, fmt.Errorf("parse select: %w", err)
		}
		cfg.Select = ids
	}
	if meta.IsDefined("select_all") {
		cfg.SelectAll = raw.SelectAll
	}
	if meta.IsDefined("autostart") {
		cfg.Autostart = raw.Autostart
	}
	if meta.IsDefined("refresh_interval") {
		d, err := time.ParseDuration(strings.TrimSpace(raw.RefreshInterval))
		if err != nil {
			return App{}, fmt.Errorf("parse refresh_interval: %w", err)
		}
		cfg.Monitor.RefreshInterval = d
	}
	if meta.IsDefined("receive_timeout") {
		d, err := time.ParseDuration(strings.TrimSpace(raw.ReceiveTimeout))
		if err != nil {
			return App{}, fmt.Errorf("parse receive_timeout: %w", err)
		}
		cfg.Monitor.ReceiveTimeout = d
	}
	if meta.IsDefined("stop_grace") {
		d, err := time.ParseDuration(strings.TrimSpace(raw.StopGrace))
		if err != nil {
			return App{}, fmt.Errorf("parse stop_grace: %w", err)
		}
		cfg.Monitor.StopGrace = d
	}
	if meta.IsDefined("decode_failure_policy") {
		cfg.Monitor.DecodeFailure = monitor.DecodeFailurePolicy(strings.TrimSpace(raw.DecodeFailurePolicy))
	}
	if meta.IsDefined("reset_on_disconnect") {
		cfg.Monitor.ResetOnDisconnect = raw.ResetOnDisconnect
	}
	if meta.IsDefined("http_addr") {
		cfg.HTTPAddr = strings.TrimSpace(raw.HTTPAddr)
	}
	if meta.IsDefined("cors_origins") {
		cfg.CORSOrigins = normalizeOrigins(raw.CORSOrigins)
	}
	if meta.IsDefined("print") {
		cfg.Print = raw.Print
	}
	if meta.IsDefined("replay_rate") {
		cfg.ReplayRate = raw.ReplayRate
	}
	if meta.IsDefined("replay_loop") {
		cfg.ReplayLoop = raw.ReplayLoop
	}
	if meta.IsDefined("serial_baud") {
		cfg.SerialBaud = raw.SerialBaud
	}
	if meta.IsDefined("configure_link") {
		cfg.ConfigureLink = raw.ConfigureLink
	}
	if meta.IsDefined("tls_cert") {
		cfg.TLSCert = strings.TrimSpace(raw.TLSCert)
	}
	if meta.IsDefined("tls_key") {
		cfg.TLSKey = strings.TrimSpace(raw.TLSKey)
	}
	if meta.IsDefined("control_token") {
		cfg.ControlToken = strings.TrimSpace(raw.ControlToken)
	}

	return cfg, nil
}

func (c App) Validate() error {
	switch c.Transport {
	case TransportSocketCAN, TransportSLCAN, TransportReplay:
	default:
		return fmt.Errorf("unknown transport %q", c.Transport)
	}
	if c.Channel == "" {
		return fmt.Errorf("channel is required")
	}
	if c.SelectAll && c.Database == "" {
		return fmt.Errorf("select_all needs a database")
	}
	if c.HTTPAddr == "" && !c.Print {
		return fmt.Errorf("nothing to show: set http_addr or print")
	}
	if (c.TLSCert == "") != (c.TLSKey == "") {
		return fmt.Errorf("tls_cert and tls_key must be set together")
	}
	return c.Monitor.WithDefaults().Validate()
}

func ParseIDs(in []string) ([]uint32, error) {
	out := make([]uint32, 0, len(in))
	for _, raw := range in {
		if strings.TrimSpace(raw) == "" {
			continue
		}
		id, err := canbus.ParseID(raw)
		if err != nil {
			return nil, err
		}
		out = append(out, id)
	}
	return out, nil
}

func normalizeOrigins(in []string) []string {
	out := make([]string, 0, len(in))
	for _, origin := range in {
		v := strings.TrimSpace(origin)
		if v == "" {
			continue
		}
		out = append(out, v)
	}
	return out
}
