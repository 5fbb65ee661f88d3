package config

import (
	"fmt"
	"time"
)

// Client contains configuration specific to client mode.
type Client struct {
	PingInterval     time.Duration
	ReconnectDelay   time.Duration
	NoReconnect      bool
	StuckSendTimeout time.Duration
	PollTimeout      time.Duration
}

// Validate checks the client configuration.
func (cfg *Client) Validate() []error {
	var errors []error

	if cfg.PingInterval < 0 {
		errors = append(errors, fmt.Errorf("'--ping' must not be negative"))
	}
	if cfg.ReconnectDelay < 0 {
		errors = append(errors, fmt.Errorf("'--reconnect-delay' must not be negative"))
	}

	return errors
}

// GetPingInterval returns the keepalive interval.
func (cfg *Client) GetPingInterval() time.Duration {
	return orDefault(cfg.PingInterval, DefaultPingInterval)
}

// GetReconnectDelay returns the pause before a reconnect attempt.
func (cfg *Client) GetReconnectDelay() time.Duration {
	return orDefault(cfg.ReconnectDelay, DefaultReconnectDelay)
}

// GetStuckSendTimeout returns how long a blocked send is tolerated.
func (cfg *Client) GetStuckSendTimeout() time.Duration {
	return orDefault(cfg.StuckSendTimeout, DefaultStuckSendTimeout)
}

// GetPollTimeout returns the bound of a single poll call.
func (cfg *Client) GetPollTimeout() time.Duration {
	return orDefault(cfg.PollTimeout, DefaultPollTimeout)
}
