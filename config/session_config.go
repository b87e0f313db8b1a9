package config

import (
	"fmt"
	"strings"
)

// Providers accepted for a session. The agent layer decides what to do with
// the value.
var validProviders = []string{"anthropic", "openai", "local"}

// SessionConfig holds the model configuration for a single session.
// Temperature is a pointer so that "unset" and "0" are distinguishable when
// merging.
type SessionConfig struct {
	Provider    string   `json:"provider" yaml:"provider"`
	Model       string   `json:"model" yaml:"model"`
	Temperature *float64 `json:"temperature,omitempty" yaml:"temperature,omitempty"`
	MaxTokens   int      `json:"max_tokens,omitempty" yaml:"max_tokens,omitempty"`
}

// DefaultSessionConfig returns the configuration applied to new sessions
// when the user provides nothing.
func DefaultSessionConfig() SessionConfig {
	return SessionConfig{
		Provider:  "anthropic",
		Model:     "claude-sonnet-4-5",
		MaxTokens: 8192,
	}
}

// Validate checks the configuration independently of any session.
func (c SessionConfig) Validate() error {
	if c.Provider == "" {
		return fmt.Errorf("provider must not be empty")
	}
	valid := false
	for _, p := range validProviders {
		if c.Provider == p {
			valid = true
			break
		}
	}
	if !valid {
		return fmt.Errorf("unknown provider %q (valid: %s)", c.Provider, strings.Join(validProviders, ", "))
	}
	if c.Model == "" {
		return fmt.Errorf("model must not be empty")
	}
	if c.Temperature != nil && (*c.Temperature < 0 || *c.Temperature > 2) {
		return fmt.Errorf("temperature must be between 0 and 2, got %v", *c.Temperature)
	}
	if c.MaxTokens < 0 {
		return fmt.Errorf("max_tokens must not be negative, got %d", c.MaxTokens)
	}
	return nil
}

// Merge returns a copy of c with every non-zero field of override applied.
// Fields left at their zero value in override keep c's value.
func (c SessionConfig) Merge(override SessionConfig) SessionConfig {
	merged := c
	if override.Provider != "" {
		merged.Provider = override.Provider
	}
	if override.Model != "" {
		merged.Model = override.Model
	}
	if override.Temperature != nil {
		t := *override.Temperature
		merged.Temperature = &t
	}
	if override.MaxTokens != 0 {
		merged.MaxTokens = override.MaxTokens
	}
	return merged
}
