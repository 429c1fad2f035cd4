// Package config loads and validates forge configuration.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/BurntSushi/toml"

	forgeerr "github.com/skill-forge/forge/internal/errors"
)

// LogLevel specifies the logging verbosity.
type LogLevel string

const (
	LogLevelDebug LogLevel = "debug"
	LogLevelInfo  LogLevel = "info"
	LogLevelWarn  LogLevel = "warn"
	LogLevelError LogLevel = "error"
)

// LogFormat specifies the log output format.
type LogFormat string

const (
	LogFormatJSON LogFormat = "json"
	LogFormatText LogFormat = "text"
)

// PathsConfig holds path configuration, all relative to the project base dir.
type PathsConfig struct {
	SkillsDir string `toml:"skills_dir"` // Per-skill artifact trees
	StateDir  string `toml:"state_dir"`  // Persisted workflow state
	LocksDir  string `toml:"locks_dir"`  // Per-skill lock files
	AuditFile string `toml:"audit_file"` // Decision audit log (JSONL)
	DistDir   string `toml:"dist_dir"`   // Packaged skill output
	LogsDir   string `toml:"logs_dir"`
}

// ModelsConfig selects which model each kind of run uses.
type ModelsConfig struct {
	Step  string `toml:"step"`  // Workflow agent/reasoning steps
	Gate  string `toml:"gate"`  // Fast checklist evaluator
	Judge string `toml:"judge"` // A/B comparison judge
}

// OrchestratorConfig holds engine timing settings.
type OrchestratorConfig struct {
	PersistDebounce time.Duration `toml:"persist_debounce"` // Coalescing window for state writes
	FlushInterval   time.Duration `toml:"flush_interval"`   // Registry event batch cadence
	PollInterval    time.Duration `toml:"poll_interval"`    // Terminal-status poll cadence
}

// AgentConfig holds settings for the external agent runner.
type AgentConfig struct {
	Command string   `toml:"command"` // Executable that runs a prompt to completion
	Args    []string `toml:"args"`
}

// LoggingConfig holds logging settings.
type LoggingConfig struct {
	Level  LogLevel  `toml:"level"`
	Format LogFormat `toml:"format"`
	File   string    `toml:"file"`
}

// Config is the main configuration struct for forge.
type Config struct {
	Version      string             `toml:"version"`
	Paths        PathsConfig        `toml:"paths"`
	Models       ModelsConfig       `toml:"models"`
	Orchestrator OrchestratorConfig `toml:"orchestrator"`
	Agent        AgentConfig        `toml:"agent"`
	Logging      LoggingConfig      `toml:"logging"`
}

// Default returns a Config with sensible defaults.
func Default() *Config {
	return &Config{
		Version: "1",
		Paths: PathsConfig{
			SkillsDir: ".forge/skills",
			StateDir:  ".forge/state",
			LocksDir:  ".forge/locks",
			AuditFile: ".forge/decisions.jsonl",
			DistDir:   ".forge/dist",
			LogsDir:   ".forge/logs",
		},
		Models: ModelsConfig{
			Step:  "default",
			Gate:  "fast",
			Judge: "default",
		},
		Orchestrator: OrchestratorConfig{
			PersistDebounce: 300 * time.Millisecond,
			FlushInterval:   50 * time.Millisecond,
			PollInterval:    200 * time.Millisecond,
		},
		Agent: AgentConfig{
			Command: "claude",
		},
		Logging: LoggingConfig{
			Level:  LogLevelInfo,
			Format: LogFormatText,
		},
	}
}

// Load reads config from the given base directory, merging over defaults.
// A missing config file is not an error: defaults apply.
func Load(baseDir string) (*Config, error) {
	cfg := Default()

	path := filepath.Join(baseDir, ".forge", "config.toml")
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return cfg, nil
		}
		return nil, fmt.Errorf("reading config: %w", err)
	}

	if err := toml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parsing config %s: %w", path, err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks the config for invalid values.
func (c *Config) Validate() error {
	if c.Agent.Command == "" {
		return forgeerr.ConfigMissingField("agent.command")
	}
	if c.Orchestrator.PersistDebounce <= 0 {
		return forgeerr.ConfigInvalidValue("orchestrator.persist_debounce",
			c.Orchestrator.PersistDebounce, "must be positive")
	}
	if c.Orchestrator.FlushInterval <= 0 {
		return forgeerr.ConfigInvalidValue("orchestrator.flush_interval",
			c.Orchestrator.FlushInterval, "must be positive")
	}
	if c.Orchestrator.PollInterval <= 0 {
		return forgeerr.ConfigInvalidValue("orchestrator.poll_interval",
			c.Orchestrator.PollInterval, "must be positive")
	}
	switch c.Logging.Level {
	case LogLevelDebug, LogLevelInfo, LogLevelWarn, LogLevelError, "":
	default:
		return forgeerr.ConfigInvalidValue("logging.level", c.Logging.Level, "unknown level")
	}
	switch c.Logging.Format {
	case LogFormatJSON, LogFormatText, "":
	default:
		return forgeerr.ConfigInvalidValue("logging.format", c.Logging.Format, "unknown format")
	}
	return nil
}

// SkillDir returns the artifact directory for a skill.
func (c *Config) SkillDir(baseDir, skillID string) string {
	return filepath.Join(baseDir, c.Paths.SkillsDir, skillID)
}

// StateDir returns the workflow state directory.
func (c *Config) StateDir(baseDir string) string {
	return filepath.Join(baseDir, c.Paths.StateDir)
}

// LocksDir returns the lock file directory.
func (c *Config) LocksDir(baseDir string) string {
	return filepath.Join(baseDir, c.Paths.LocksDir)
}

// AuditFile returns the decision log path.
func (c *Config) AuditFile(baseDir string) string {
	return filepath.Join(baseDir, c.Paths.AuditFile)
}

// LogFile returns the log file path, or empty if file logging is disabled.
func (c *Config) LogFile(baseDir string) string {
	if c.Logging.File == "" {
		return ""
	}
	return filepath.Join(baseDir, c.Paths.LogsDir, c.Logging.File)
}
