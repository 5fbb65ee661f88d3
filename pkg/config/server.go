package config

import (
	"fmt"
	"time"
)

// Server contains configuration specific to server mode.
type Server struct {
	MaxClients       int
	ReceiveTimeout   time.Duration
	StuckSendTimeout time.Duration
	EpochInterval    time.Duration
	PollTimeout      time.Duration
	// MetricsAddr, if set, serves Prometheus metrics on this address.
	MetricsAddr string
}

// Validate checks the server configuration.
func (cfg *Server) Validate() []error {
	var errors []error

	if cfg.MaxClients < 0 || cfg.MaxClients > 65535 {
		errors = append(errors, fmt.Errorf("'--max-clients' must be in [0, 65535], got %d", cfg.MaxClients))
	}
	if cfg.ReceiveTimeout < 0 {
		errors = append(errors, fmt.Errorf("'--receive-timeout' must not be negative"))
	}
	if cfg.EpochInterval < 0 {
		errors = append(errors, fmt.Errorf("'--epoch-interval' must not be negative"))
	}

	return errors
}

// GetMaxClients returns the session capacity.
func (cfg *Server) GetMaxClients() int {
	if cfg.MaxClients > 0 {
		return cfg.MaxClients
	}
	return DefaultMaxClients
}

// GetReceiveTimeout returns how long a session may stay silent.
func (cfg *Server) GetReceiveTimeout() time.Duration {
	return orDefault(cfg.ReceiveTimeout, DefaultReceiveTimeout)
}

// GetStuckSendTimeout returns how long a blocked send is tolerated.
func (cfg *Server) GetStuckSendTimeout() time.Duration {
	return orDefault(cfg.StuckSendTimeout, DefaultStuckSendTimeout)
}

// GetEpochInterval returns the epoch broadcast interval.
func (cfg *Server) GetEpochInterval() time.Duration {
	return orDefault(cfg.EpochInterval, DefaultEpochInterval)
}

// GetPollTimeout returns the bound of a single poll call.
func (cfg *Server) GetPollTimeout() time.Duration {
	return orDefault(cfg.PollTimeout, DefaultPollTimeout)
}

func orDefault(d, def time.Duration) time.Duration {
	if d > 0 {
		return d
	}
	return def
}
