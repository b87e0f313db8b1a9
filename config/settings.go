// Package config holds coterm's startup settings and per-session model
// configuration.
package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/coterm/coterm-core/logger"
	"github.com/coterm/coterm-core/paths"
)

// Default values for all tunable limits. Every field of Settings is
// independently overridable from settings.yaml.
const (
	// DefaultMaxSessions is the ceiling for concurrently active sessions.
	DefaultMaxSessions = 10
	// DefaultMaxTotalSessions is the ceiling for active + persisted sessions
	// combined, enforced at save time.
	DefaultMaxTotalSessions = 100
	// DefaultMaxRecordBytes is the maximum size of a persisted session file.
	DefaultMaxRecordBytes = 10 << 20 // 10 MiB
	// DefaultCleanupAgeDays is how old a closed record must be before the
	// sweeper deletes it.
	DefaultCleanupAgeDays = 30
	// DefaultSweepInterval is how often the cleanup sweeper runs.
	DefaultSweepInterval = 6 * time.Hour
	// DefaultAgentStartupTimeout bounds how long an agent process may take
	// to start before the attempt is abandoned.
	DefaultAgentStartupTimeout = 30 * time.Second
)

// Default rate-limit thresholds for session resume attempts.
const (
	DefaultResumeLimit       = 5  // per session id
	DefaultResumeGlobalLimit = 20 // across all sessions
	DefaultResumeWindowSecs  = 60
)

// RateSetting describes one rate-limit window.
type RateSetting struct {
	Limit      int `yaml:"limit"`
	WindowSecs int `yaml:"window_secs"`
}

// Window returns the window as a duration.
func (r RateSetting) Window() time.Duration {
	return time.Duration(r.WindowSecs) * time.Second
}

// Settings holds the startup-time configuration. All fields have defaults
// and are independently overridable from settings.yaml; absent keys keep
// their default value.
type Settings struct {
	MaxSessions      int   `yaml:"max_sessions"`
	MaxTotalSessions int   `yaml:"max_total_sessions"`
	MaxRecordBytes   int64 `yaml:"max_record_bytes"`
	CleanupAgeDays   int   `yaml:"cleanup_age_days"`

	SweepIntervalSecs       int `yaml:"sweep_interval_secs"`
	AgentStartupTimeoutSecs int `yaml:"agent_startup_timeout_secs"`

	ResumeRate       RateSetting `yaml:"resume_rate"`
	ResumeGlobalRate RateSetting `yaml:"resume_global_rate"`
}

// DefaultSettings returns a Settings populated with all default values.
func DefaultSettings() Settings {
	return Settings{
		MaxSessions:             DefaultMaxSessions,
		MaxTotalSessions:        DefaultMaxTotalSessions,
		MaxRecordBytes:          DefaultMaxRecordBytes,
		CleanupAgeDays:          DefaultCleanupAgeDays,
		SweepIntervalSecs:       int(DefaultSweepInterval / time.Second),
		AgentStartupTimeoutSecs: int(DefaultAgentStartupTimeout / time.Second),
		ResumeRate:              RateSetting{Limit: DefaultResumeLimit, WindowSecs: DefaultResumeWindowSecs},
		ResumeGlobalRate:        RateSetting{Limit: DefaultResumeGlobalLimit, WindowSecs: DefaultResumeWindowSecs},
	}
}

// LoadSettings reads settings.yaml from the config directory (or the path in
// COTERM_SETTINGS when set) and overlays it on the defaults. A missing file
// is not an error; defaults apply.
func LoadSettings() (Settings, error) {
	log := logger.WithComponent("config")

	path := os.Getenv("COTERM_SETTINGS")
	if path == "" {
		var err error
		path, err = paths.SettingsFilePath()
		if err != nil {
			return Settings{}, fmt.Errorf("failed to resolve settings path: %w", err)
		}
	}

	settings := DefaultSettings()

	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		log.Debug("no settings file, using defaults", "path", path)
		return settings, nil
	}
	if err != nil {
		return Settings{}, fmt.Errorf("failed to read settings file %s: %w", path, err)
	}

	// Unmarshal over the defaults: only keys present in the file are replaced.
	if err := yaml.Unmarshal(data, &settings); err != nil {
		return Settings{}, fmt.Errorf("failed to parse settings file %s: %w", path, err)
	}

	if err := settings.Validate(); err != nil {
		return Settings{}, fmt.Errorf("invalid settings in %s: %w", path, err)
	}

	log.Info("settings loaded", "path", path)
	return settings, nil
}

// Validate checks all limits for sane ranges.
func (s Settings) Validate() error {
	if s.MaxSessions < 1 {
		return fmt.Errorf("max_sessions must be at least 1, got %d", s.MaxSessions)
	}
	if s.MaxTotalSessions < s.MaxSessions {
		return fmt.Errorf("max_total_sessions (%d) must be at least max_sessions (%d)", s.MaxTotalSessions, s.MaxSessions)
	}
	if s.MaxRecordBytes < 1024 {
		return fmt.Errorf("max_record_bytes must be at least 1024, got %d", s.MaxRecordBytes)
	}
	if s.CleanupAgeDays < 1 {
		return fmt.Errorf("cleanup_age_days must be at least 1, got %d", s.CleanupAgeDays)
	}
	if s.SweepIntervalSecs < 1 {
		return fmt.Errorf("sweep_interval_secs must be at least 1, got %d", s.SweepIntervalSecs)
	}
	if s.AgentStartupTimeoutSecs < 1 {
		return fmt.Errorf("agent_startup_timeout_secs must be at least 1, got %d", s.AgentStartupTimeoutSecs)
	}
	for _, r := range []struct {
		name string
		rate RateSetting
	}{
		{"resume_rate", s.ResumeRate},
		{"resume_global_rate", s.ResumeGlobalRate},
	} {
		if r.rate.Limit < 1 {
			return fmt.Errorf("%s.limit must be at least 1, got %d", r.name, r.rate.Limit)
		}
		if r.rate.WindowSecs < 1 {
			return fmt.Errorf("%s.window_secs must be at least 1, got %d", r.name, r.rate.WindowSecs)
		}
	}
	return nil
}

// SweepInterval returns the sweep interval as a duration.
func (s Settings) SweepInterval() time.Duration {
	return time.Duration(s.SweepIntervalSecs) * time.Second
}

// AgentStartupTimeout returns the agent startup timeout as a duration.
func (s Settings) AgentStartupTimeout() time.Duration {
	return time.Duration(s.AgentStartupTimeoutSecs) * time.Second
}
