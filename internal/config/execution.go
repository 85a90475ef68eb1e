package config

import (
	"fmt"
	"time"
)

// ExecutionConfig configures script replay.
type ExecutionConfig struct {
	// MaxConcurrent bounds RUNNING executions per session.
	MaxConcurrent int `yaml:"max_concurrent"`

	// ActionTimeout is the per-step deadline.
	ActionTimeout time.Duration `yaml:"action_timeout"`

	// HistorySize bounds the in-memory terminal execution history.
	HistorySize int `yaml:"history_size"`

	// RetryBase is the backoff base for retryable step failures.
	RetryBase time.Duration `yaml:"retry_base"`

	// MaxRetries is the number of extra attempts for retryable failures.
	MaxRetries int `yaml:"max_retries"`
}

// DefaultExecutionConfig returns execution defaults.
func DefaultExecutionConfig() ExecutionConfig {
	return ExecutionConfig{
		MaxConcurrent: 5,
		ActionTimeout: 30 * time.Second,
		HistorySize:   50,
		RetryBase:     250 * time.Millisecond,
		MaxRetries:    2,
	}
}

// GetMaxConcurrent returns the concurrency cap with its fallback.
func (c ExecutionConfig) GetMaxConcurrent() int {
	if c.MaxConcurrent <= 0 {
		return 5
	}
	return c.MaxConcurrent
}

// GetActionTimeout returns the per-step deadline with its fallback.
func (c ExecutionConfig) GetActionTimeout() time.Duration {
	if c.ActionTimeout <= 0 {
		return 30 * time.Second
	}
	return c.ActionTimeout
}

// GetHistorySize returns the history capacity with its fallback.
func (c ExecutionConfig) GetHistorySize() int {
	if c.HistorySize <= 0 {
		return 50
	}
	return c.HistorySize
}

// GetRetryBase returns the backoff base with its fallback.
func (c ExecutionConfig) GetRetryBase() time.Duration {
	if c.RetryBase <= 0 {
		return 250 * time.Millisecond
	}
	return c.RetryBase
}

// GetMaxRetries returns the retry count with its fallback.
func (c ExecutionConfig) GetMaxRetries() int {
	if c.MaxRetries < 0 {
		return 2
	}
	if c.MaxRetries == 0 {
		return 2
	}
	return c.MaxRetries
}

// Validate checks the execution configuration.
func (c ExecutionConfig) Validate() error {
	if c.MaxConcurrent < 0 {
		return fmt.Errorf("max_concurrent must not be negative")
	}
	return nil
}
