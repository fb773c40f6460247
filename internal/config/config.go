// Package config provides configuration loading and validation for the
// logs2eca daemon. Values are layered: compiled-in defaults first, then an
// optional YAML file, then LOGS2ECA_* environment variables, and finally any
// command line flags the caller applies on top before Validate.
package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Environment variable names recognized by ApplyEnv. EnvConfig is read by the
// command line frontend to locate the YAML file itself.
const (
	EnvConfig         = "LOGS2ECA_CONFIG"
	EnvLogFile        = "LOGS2ECA_LOG_FILE"
	EnvEventPattern   = "LOGS2ECA_EVENT_PATTERN"
	EnvCommand        = "LOGS2ECA_COMMAND"
	EnvWait           = "LOGS2ECA_WAIT"
	EnvArbitraryMatch = "LOGS2ECA_ARBITRARY_MATCH"
	EnvLogLevel       = "LOGS2ECA_LOG_LEVEL"
	EnvHealthAddr     = "LOGS2ECA_HEALTH_ADDR"
	EnvHistoryDB      = "LOGS2ECA_HISTORY_DB"
)

// Config is the top-level configuration structure for the logs2eca daemon.
type Config struct {
	// LogFile is the path of the log file to watch (e.g. "/var/log/app.log").
	// The file does not need to exist yet. Required.
	LogFile string `yaml:"log_file"`

	// Pattern is the event pattern matched against new log lines. A pattern
	// wrapped in one of the delimiters '/', '|' or '%' is compiled as a
	// regular expression; anything else is matched literally. Required.
	Pattern string `yaml:"pattern"`

	// Command is the shell command executed when a line matches. Required.
	Command string `yaml:"command"`

	// WaitSeconds is the quiescence period after each command invocation
	// during which no further commands are started. Defaults to 3.
	WaitSeconds int `yaml:"wait_seconds"`

	// ArbitrarySubstringMatch relaxes literal patterns to match anywhere in
	// a line instead of only on whole words. Defaults to false.
	ArbitrarySubstringMatch bool `yaml:"arbitrary_substring_match"`

	// LogLevel sets the minimum log severity: "debug", "info", "warn", or
	// "error". Defaults to "info" when omitted.
	LogLevel string `yaml:"log_level"`

	// HealthAddr is the listen address for the local status HTTP server
	// (e.g. "127.0.0.1:9600"). Empty disables the server.
	HealthAddr string `yaml:"health_addr"`

	// HistoryDB is the path of the SQLite database recording executed
	// triggers. Empty disables trigger history.
	HistoryDB string `yaml:"history_db"`
}

// validLogLevels is the set of accepted log level strings.
var validLogLevels = map[string]bool{
	"debug": true,
	"info":  true,
	"warn":  true,
	"error": true,
}

// Default returns a Config populated with the compiled-in defaults.
func Default() *Config {
	return &Config{
		WaitSeconds: 3,
		LogLevel:    "info",
	}
}

// Load reads the YAML file at path and unmarshals it over the defaults. It
// does not validate: callers overlay environment variables and flags first
// and call Validate on the final result.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("config: cannot read %q: %w", path, err)
	}

	cfg := Default()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("config: cannot parse %q: %w", path, err)
	}

	return cfg, nil
}

// ApplyEnv overlays any LOGS2ECA_* environment variables onto c. Variables
// that are unset or empty leave the current value in place. Numeric and
// boolean variables that are set but malformed return an error rather than
// being ignored.
func (c *Config) ApplyEnv() error {
	if v := os.Getenv(EnvLogFile); v != "" {
		c.LogFile = v
	}
	if v := os.Getenv(EnvEventPattern); v != "" {
		c.Pattern = v
	}
	if v := os.Getenv(EnvCommand); v != "" {
		c.Command = v
	}
	if v := os.Getenv(EnvWait); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("config: %s: %q is not an integer", EnvWait, v)
		}
		c.WaitSeconds = n
	}
	if v := os.Getenv(EnvArbitraryMatch); v != "" {
		b, err := strconv.ParseBool(v)
		if err != nil {
			return fmt.Errorf("config: %s: %q is not a boolean", EnvArbitraryMatch, v)
		}
		c.ArbitrarySubstringMatch = b
	}
	if v := os.Getenv(EnvLogLevel); v != "" {
		c.LogLevel = v
	}
	if v := os.Getenv(EnvHealthAddr); v != "" {
		c.HealthAddr = v
	}
	if v := os.Getenv(EnvHistoryDB); v != "" {
		c.HistoryDB = v
	}
	return nil
}

// Wait returns the quiescence period as a duration.
func (c *Config) Wait() time.Duration {
	return time.Duration(c.WaitSeconds) * time.Second
}

// Validate trims the core string fields and checks that all required fields
// are populated and that enumerated fields contain only valid values. All
// failures are reported together in a single joined error.
func (c *Config) Validate() error {
	c.LogFile = strings.TrimSpace(c.LogFile)
	c.Pattern = strings.TrimSpace(c.Pattern)
	c.Command = strings.TrimSpace(c.Command)

	var errs []error

	if c.LogFile == "" {
		errs = append(errs, errors.New("log_file is required"))
	}
	if c.Pattern == "" {
		errs = append(errs, errors.New("pattern is required"))
	}
	if c.Command == "" {
		errs = append(errs, errors.New("command is required"))
	}
	if c.WaitSeconds < 0 {
		errs = append(errs, fmt.Errorf("wait_seconds must not be negative, got %d", c.WaitSeconds))
	}
	if !validLogLevels[c.LogLevel] {
		errs = append(errs, fmt.Errorf("log_level %q must be one of: debug, info, warn, error", c.LogLevel))
	}

	if len(errs) > 0 {
		return fmt.Errorf("config: invalid configuration: %w", errors.Join(errs...))
	}
	return nil
}
