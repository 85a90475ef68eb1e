package config

import "time"

// PlannerConfig configures the tier-3 LLM planner.
type PlannerConfig struct {
	// APIKey for the GenAI backend. Empty disables the planner; the
	// interpreter then degrades to its heuristic tiers with a warning.
	APIKey string `yaml:"api_key"`

	Model string `yaml:"model"`

	// Timeout bounds one planning call.
	Timeout time.Duration `yaml:"timeout"`
}

// DefaultPlannerConfig returns planner defaults.
func DefaultPlannerConfig() PlannerConfig {
	return PlannerConfig{
		Model:   "gemini-2.0-flash",
		Timeout: 20 * time.Second,
	}
}

// Enabled reports whether a planner can be constructed.
func (c PlannerConfig) Enabled() bool { return c.APIKey != "" }

// GetModel returns the model with its fallback.
func (c PlannerConfig) GetModel() string {
	if c.Model == "" {
		return "gemini-2.0-flash"
	}
	return c.Model
}

// GetTimeout returns the planning deadline with its fallback.
func (c PlannerConfig) GetTimeout() time.Duration {
	if c.Timeout <= 0 {
		return 20 * time.Second
	}
	return c.Timeout
}
