package config

import (
	"fmt"
	"time"
)

// StreamConfig configures the adaptive screenshot streamer.
type StreamConfig struct {
	// BaseRate is the idle capture frequency in frames per second.
	BaseRate float64 `yaml:"base_rate"`

	// BurstRate applies for BurstWindow after an action or navigation.
	BurstRate   float64       `yaml:"burst_rate"`
	BurstWindow time.Duration `yaml:"burst_window"`

	// Quality is the starting JPEG quality (1-100).
	Quality int `yaml:"quality"`
}

// DefaultStreamConfig returns streamer defaults.
func DefaultStreamConfig() StreamConfig {
	return StreamConfig{
		BaseRate:    2,
		BurstRate:   10,
		BurstWindow: 2 * time.Second,
		Quality:     80,
	}
}

// GetBaseRate returns the idle rate with its fallback.
func (c StreamConfig) GetBaseRate() float64 {
	if c.BaseRate <= 0 {
		return 2
	}
	return c.BaseRate
}

// GetBurstRate returns the burst rate with its fallback.
func (c StreamConfig) GetBurstRate() float64 {
	if c.BurstRate <= 0 {
		return 10
	}
	return c.BurstRate
}

// GetBurstWindow returns the burst window with its fallback.
func (c StreamConfig) GetBurstWindow() time.Duration {
	if c.BurstWindow <= 0 {
		return 2 * time.Second
	}
	return c.BurstWindow
}

// GetQuality returns the starting quality with its fallback.
func (c StreamConfig) GetQuality() int {
	if c.Quality <= 0 || c.Quality > 100 {
		return 80
	}
	return c.Quality
}

// Validate checks the streamer configuration.
func (c StreamConfig) Validate() error {
	if c.Quality < 0 || c.Quality > 100 {
		return fmt.Errorf("stream quality must be within 1-100")
	}
	return nil
}
