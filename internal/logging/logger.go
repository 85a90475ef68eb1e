// Package logging provides category-scoped structured logging for
// browsernerd, backed by zap. Each subsystem logs through its own named
// logger so operators can raise verbosity per category.
package logging

import (
	"sync"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Category names a logging subsystem.
type Category string

const (
	CategoryBoot        Category = "boot"
	CategoryGateway     Category = "gateway"
	CategorySession     Category = "session"
	CategoryBrowser     Category = "browser"
	CategoryInterpreter Category = "interpreter"
	CategoryExecution   Category = "execution"
	CategoryRecording   Category = "recording"
	CategoryStore       Category = "store"
	CategoryPlanner     Category = "planner"
	CategoryStream      Category = "stream"
)

var (
	mu      sync.RWMutex
	root    = zap.NewNop()
	loggers = make(map[Category]*zap.Logger)
)

// Initialize installs the process-wide root logger. Called once at startup;
// before that, all categories are no-ops.
func Initialize(verbose bool) (*zap.Logger, error) {
	cfg := zap.NewProductionConfig()
	if verbose {
		cfg.Level = zap.NewAtomicLevelAt(zapcore.DebugLevel)
		cfg.Development = true
	}
	l, err := cfg.Build()
	if err != nil {
		return nil, err
	}
	SetRoot(l)
	return l, nil
}

// SetRoot replaces the root logger. Tests use this to install observers.
func SetRoot(l *zap.Logger) {
	mu.Lock()
	defer mu.Unlock()
	root = l
	loggers = make(map[Category]*zap.Logger)
}

// Get returns the named logger for a category.
func Get(c Category) *zap.Logger {
	mu.RLock()
	if l, ok := loggers[c]; ok {
		mu.RUnlock()
		return l
	}
	mu.RUnlock()

	mu.Lock()
	defer mu.Unlock()
	if l, ok := loggers[c]; ok {
		return l
	}
	l := root.Named(string(c))
	loggers[c] = l
	return l
}

// Sync flushes the root logger. Call at shutdown.
func Sync() {
	mu.RLock()
	defer mu.RUnlock()
	_ = root.Sync()
}
