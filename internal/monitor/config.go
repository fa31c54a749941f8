package monitor

import (
	"fmt"
	"time"
)

// DecodeFailurePolicy decides what a frame that fails to decode does to its
// cache entry. Latest fields are never replaced by a failed decode.
type DecodeFailurePolicy string

const (
	// DecodeFailureCount bumps count and last_seen: count means frames observed.
	DecodeFailureCount DecodeFailurePolicy = "count"
	// DecodeFailureSkip leaves the entry untouched: count means frames decoded.
	DecodeFailureSkip DecodeFailurePolicy = "skip"
)

// Config defines reader, snapshot and session timing.
type Config struct {
	ReceiveTimeout    time.Duration
	// ReceiveErrorPause backs off after a transient receive error. Negative
	// disables the pause; zero takes the default.
	ReceiveErrorPause time.Duration
	RefreshInterval   time.Duration
	StopGrace         time.Duration
	DecodeFailure     DecodeFailurePolicy
	ResetOnDisconnect bool
	DiagnosticsDepth  int
}

func DefaultConfig() Config {
	return Config{
		ReceiveTimeout:    100 * time.Millisecond,
		ReceiveErrorPause: 10 * time.Millisecond,
		RefreshInterval:   100 * time.Millisecond,
		StopGrace:         2 * time.Second,
		DecodeFailure:     DecodeFailureCount,
		ResetOnDisconnect: false,
		DiagnosticsDepth:  32,
	}
}

// WithDefaults fills zero values from DefaultConfig.
func (c Config) WithDefaults() Config {
	def := DefaultConfig()
	if c.ReceiveTimeout == 0 {
		c.ReceiveTimeout = def.ReceiveTimeout
	}
	if c.ReceiveErrorPause == 0 {
		c.ReceiveErrorPause = def.ReceiveErrorPause
	}
	if c.RefreshInterval == 0 {
		c.RefreshInterval = def.RefreshInterval
	}
	if c.StopGrace == 0 {
		c.StopGrace = def.StopGrace
	}
	if c.DecodeFailure == "" {
		c.DecodeFailure = def.DecodeFailure
	}
	if c.DiagnosticsDepth == 0 {
		c.DiagnosticsDepth = def.DiagnosticsDepth
	}
	return c
}

func (c Config) Validate() error {
	if c.ReceiveTimeout <= 0 {
		return fmt.Errorf("%w: receive timeout must be positive", ErrInvalidConfig)
	}
	if c.RefreshInterval <= 0 {
		return fmt.Errorf("%w: refresh interval must be positive", ErrInvalidConfig)
	}
	if c.StopGrace <= 0 {
		return fmt.Errorf("%w: stop grace must be positive", ErrInvalidConfig)
	}
	switch c.DecodeFailure {
	case DecodeFailureCount, DecodeFailureSkip:
	default:
		return fmt.Errorf("%w: decode failure policy %q", ErrInvalidConfig, c.DecodeFailure)
	}
	if c.DiagnosticsDepth < 0 {
		return fmt.Errorf("%w: diagnostics depth must not be negative", ErrInvalidConfig)
	}
	return nil
}
