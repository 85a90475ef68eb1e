// Package config holds all browsernerd configuration. Each concern lives in
// its own file; everything loads from a single YAML document with environment
// overrides applied on top.
package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the root configuration document.
type Config struct {
	Gateway   GatewayConfig   `yaml:"gateway"`
	Browser   BrowserConfig   `yaml:"browser"`
	Execution ExecutionConfig `yaml:"execution"`
	Planner   PlannerConfig   `yaml:"planner"`
	Storage   StorageConfig   `yaml:"storage"`
	Stream    StreamConfig    `yaml:"stream"`
}

// DefaultConfig returns the configuration used when no file is present.
func DefaultConfig() Config {
	return Config{
		Gateway:   DefaultGatewayConfig(),
		Browser:   DefaultBrowserConfig(),
		Execution: DefaultExecutionConfig(),
		Planner:   DefaultPlannerConfig(),
		Storage:   DefaultStorageConfig(),
		Stream:    DefaultStreamConfig(),
	}
}

// Load reads path (optional) and applies environment overrides.
func Load(path string) (Config, error) {
	cfg := DefaultConfig()
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return cfg, fmt.Errorf("read config: %w", err)
		}
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return cfg, fmt.Errorf("parse config: %w", err)
		}
	}
	cfg.applyEnv()
	return cfg, nil
}

// applyEnv overrides selected fields from BROWSERNERD_* variables.
func (c *Config) applyEnv() {
	if v := os.Getenv("BROWSERNERD_ADDR"); v != "" {
		c.Gateway.Addr = v
	}
	if v := os.Getenv("BROWSERNERD_AUTH_TOKEN"); v != "" {
		c.Gateway.AuthToken = v
	}
	if v := os.Getenv("BROWSERNERD_STORAGE_ROOT"); v != "" {
		c.Storage.Root = v
	}
	if v := os.Getenv("BROWSERNERD_PLANNER_API_KEY"); v != "" {
		c.Planner.APIKey = v
	}
	if v := os.Getenv("BROWSERNERD_PLANNER_MODEL"); v != "" {
		c.Planner.Model = v
	}
	if v := os.Getenv("BROWSERNERD_HEADLESS"); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			c.Browser.Headless = b
		}
	}
	if v := os.Getenv("BROWSERNERD_IDLE_TIMEOUT"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			c.Gateway.IdleTimeout = d
		}
	}
}

// Validate checks cross-field invariants. A failure here is a configuration
// error (process exit code 1).
func (c *Config) Validate() error {
	if err := c.Gateway.Validate(); err != nil {
		return err
	}
	if err := c.Execution.Validate(); err != nil {
		return err
	}
	if err := c.Stream.Validate(); err != nil {
		return err
	}
	if c.Storage.Root == "" {
		return fmt.Errorf("storage root must not be empty")
	}
	return nil
}
