package config

import (
	"fmt"
	"time"
)

// GatewayConfig configures the websocket client gateway.
type GatewayConfig struct {
	// Listen address for the websocket endpoint.
	Addr string `yaml:"addr"`

	// Bearer token expected in the handshake. Empty disables auth (tests).
	AuthToken string `yaml:"auth_token"`

	// Sessions with zero attached clients are destroyed after this.
	IdleTimeout time.Duration `yaml:"idle_timeout"`

	// Per-client outbound buffer depth before coalescing kicks in.
	ClientBuffer int `yaml:"client_buffer"`

	// Websocket write deadline.
	WriteTimeout time.Duration `yaml:"write_timeout"`
}

// DefaultGatewayConfig returns gateway defaults.
func DefaultGatewayConfig() GatewayConfig {
	return GatewayConfig{
		Addr:         ":7079",
		IdleTimeout:  5 * time.Minute,
		ClientBuffer: 256,
		WriteTimeout: 10 * time.Second,
	}
}

// GetAddr returns the listen address with its fallback.
func (c GatewayConfig) GetAddr() string {
	if c.Addr == "" {
		return ":7079"
	}
	return c.Addr
}

// GetIdleTimeout returns the idle timeout with its fallback.
func (c GatewayConfig) GetIdleTimeout() time.Duration {
	if c.IdleTimeout <= 0 {
		return 5 * time.Minute
	}
	return c.IdleTimeout
}

// GetClientBuffer returns the client buffer depth with its fallback.
func (c GatewayConfig) GetClientBuffer() int {
	if c.ClientBuffer <= 0 {
		return 256
	}
	return c.ClientBuffer
}

// GetWriteTimeout returns the write deadline with its fallback.
func (c GatewayConfig) GetWriteTimeout() time.Duration {
	if c.WriteTimeout <= 0 {
		return 10 * time.Second
	}
	return c.WriteTimeout
}

// Validate checks the gateway configuration.
func (c GatewayConfig) Validate() error {
	if c.Addr == "" {
		return fmt.Errorf("gateway addr must not be empty")
	}
	return nil
}
