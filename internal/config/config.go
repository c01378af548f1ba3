// Copyright 2025 Tom Barlow
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Package config loads daemon configuration from YAML and the environment.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/tombee/daemonkit/internal/log"
	daemonerrors "github.com/tombee/daemonkit/pkg/errors"
)

var (
	// ErrInvalidConfig is returned when configuration validation fails.
	ErrInvalidConfig = errors.New("config: invalid configuration")
)

// DefaultName is the daemon name used when none is configured.
const DefaultName = "daemonkit"

// Config represents the complete daemon configuration.
type Config struct {
	Daemon  DaemonConfig  `yaml:"daemon"`
	Log     LogConfig     `yaml:"log"`
	Stop    StopConfig    `yaml:"stop"`
	Metrics MetricsConfig `yaml:"metrics,omitempty"`
}

// DaemonConfig configures detachment and instance tracking.
type DaemonConfig struct {
	// Name identifies the daemon in the log sink and names default paths.
	Name string `yaml:"name"`

	// PIDFile is the path of the pid file.
	// Default: $XDG_RUNTIME_DIR/daemonkit/<name>.pid
	PIDFile string `yaml:"pid_file"`

	// WorkDir is the working directory of the detached process.
	// Default: /
	WorkDir string `yaml:"work_dir"`

	// Umask is the file mode creation mask of the detached process.
	// Default: 0
	Umask int `yaml:"umask"`

	// Stdin, Stdout and Stderr are the redirect targets for the standard
	// descriptors of the detached process.
	// Default: /dev/null
	Stdin  string `yaml:"stdin"`
	Stdout string `yaml:"stdout"`
	Stderr string `yaml:"stderr"`

	// StartWait bounds how long start waits for the daemon's pid file.
	// Zero disables waiting.
	// Default: 5s
	StartWait time.Duration `yaml:"start_wait"`

	// ShutdownGrace bounds how long a terminating daemon lets its
	// payload unwind.
	// Default: 5s
	ShutdownGrace time.Duration `yaml:"shutdown_grace"`

	// Journal is the JSON-lines lifecycle journal path. Empty disables it.
	Journal string `yaml:"journal,omitempty"`
}

// LogConfig configures the operational log sink.
type LogConfig struct {
	// Sink is syslog, stderr, stdout, discard, or a file path.
	// Default: syslog
	Sink string `yaml:"sink"`

	// Level is the minimum severity (trace, debug, info, warn, error).
	// Default: info
	Level string `yaml:"level"`

	// Format is json or text. Ignored by the syslog sink.
	// Default: json
	Format string `yaml:"format"`

	// AddSource adds source file and line to each record.
	AddSource bool `yaml:"add_source,omitempty"`
}

// StopConfig configures the stop escalation loop.
type StopConfig struct {
	// Interval is the delay between termination requests.
	// Default: 100ms
	Interval time.Duration `yaml:"interval"`

	// Attempts is the number of termination requests sent before the
	// process is killed.
	// Default: 50
	Attempts int `yaml:"attempts"`

	// KillWait bounds how long stop waits for the process to disappear
	// after it was killed.
	// Default: 5s
	KillWait time.Duration `yaml:"kill_wait"`
}

// MetricsConfig configures the Prometheus endpoint of the example CLI.
type MetricsConfig struct {
	// Addr is the listen address for /metrics. Empty disables it.
	Addr string `yaml:"addr,omitempty"`
}

// Default returns a Config with sensible defaults.
// PIDFile is left empty and derived from the name by Load.
func Default() *Config {
	return &Config{
		Daemon: DaemonConfig{
			Name:          DefaultName,
			WorkDir:       "/",
			Umask:         0,
			Stdin:         os.DevNull,
			Stdout:        os.DevNull,
			Stderr:        os.DevNull,
			StartWait:     5 * time.Second,
			ShutdownGrace: 5 * time.Second,
		},
		Log: LogConfig{
			Sink:   log.SinkSyslog,
			Level:  "info",
			Format: "json",
		},
		Stop: StopConfig{
			Interval: 100 * time.Millisecond,
			Attempts: 50,
			KillWait: 5 * time.Second,
		},
	}
}

// Load loads configuration from the given YAML file (optional), applies
// environment overrides and validates the result.
func Load(configPath string) (*Config, error) {
	cfg := Default()

	if configPath != "" {
		if err := cfg.loadFromFile(configPath); err != nil {
			return nil, &daemonerrors.ConfigError{
				Key:    "config_file",
				Reason: fmt.Sprintf("failed to load from %s", configPath),
				Cause:  err,
			}
		}
	}

	cfg.loadFromEnv()

	// Apply defaults to any zero values (handles minimal configs)
	cfg.applyDefaults()

	if err := cfg.Validate(); err != nil {
		return nil, &daemonerrors.ConfigError{
			Key:    "validation",
			Reason: "configuration validation failed",
			Cause:  err,
		}
	}

	return cfg, nil
}

// applyDefaults fills zero values left by a partial file.
func (c *Config) applyDefaults() {
	d := Default()

	if c.Daemon.Name == "" {
		c.Daemon.Name = d.Daemon.Name
	}
	if c.Daemon.PIDFile == "" {
		c.Daemon.PIDFile = filepath.Join(RuntimeDir(), c.Daemon.Name+".pid")
	}
	if c.Daemon.WorkDir == "" {
		c.Daemon.WorkDir = d.Daemon.WorkDir
	}
	if c.Daemon.Stdin == "" {
		c.Daemon.Stdin = d.Daemon.Stdin
	}
	if c.Daemon.Stdout == "" {
		c.Daemon.Stdout = d.Daemon.Stdout
	}
	if c.Daemon.Stderr == "" {
		c.Daemon.Stderr = d.Daemon.Stderr
	}
	if c.Log.Sink == "" {
		c.Log.Sink = d.Log.Sink
	}
	if c.Log.Level == "" {
		c.Log.Level = d.Log.Level
	}
	if c.Log.Format == "" {
		c.Log.Format = d.Log.Format
	}
	if c.Stop.Interval == 0 {
		c.Stop.Interval = d.Stop.Interval
	}
	if c.Stop.Attempts == 0 {
		c.Stop.Attempts = d.Stop.Attempts
	}
	if c.Stop.KillWait == 0 {
		c.Stop.KillWait = d.Stop.KillWait
	}
}

// loadFromFile loads configuration from a YAML file.
func (c *Config) loadFromFile(path string) error {
	// Expand home directory if present
	if strings.HasPrefix(path, "~/") {
		home, err := os.UserHomeDir()
		if err != nil {
			return fmt.Errorf("failed to get home directory: %w", err)
		}
		path = filepath.Join(home, path[2:])
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("failed to read config file: %w", err)
	}

	if err := yaml.Unmarshal(data, c); err != nil {
		return fmt.Errorf("failed to parse YAML: %w", err)
	}

	return nil
}

// loadFromEnv loads configuration from environment variables.
// Values that fail to parse are ignored.
func (c *Config) loadFromEnv() {
	if val := os.Getenv("DAEMONKIT_LOG_NAME"); val != "" {
		c.Daemon.Name = val
	}
	if val := os.Getenv("DAEMONKIT_PID_FILE"); val != "" {
		c.Daemon.PIDFile = val
	}
	if val := os.Getenv("DAEMONKIT_JOURNAL"); val != "" {
		c.Daemon.Journal = val
	}

	if val := os.Getenv("DAEMONKIT_LOG_SINK"); val != "" {
		c.Log.Sink = val
	}
	if val := os.Getenv("DAEMONKIT_LOG_LEVEL"); val != "" {
		c.Log.Level = strings.ToLower(val)
	}
	if val := os.Getenv("LOG_FORMAT"); val != "" {
		c.Log.Format = strings.ToLower(val)
	}
	if val := os.Getenv("LOG_SOURCE"); val != "" {
		c.Log.AddSource = val == "1" || strings.ToLower(val) == "true"
	}
	if val := os.Getenv("DAEMONKIT_DEBUG"); val == "1" || strings.ToLower(val) == "true" {
		c.Log.Level = "debug"
		c.Log.AddSource = true
	}

	if val := os.Getenv("DAEMONKIT_STOP_INTERVAL"); val != "" {
		if duration, err := time.ParseDuration(val); err == nil {
			c.Stop.Interval = duration
		}
	}
	if val := os.Getenv("DAEMONKIT_STOP_ATTEMPTS"); val != "" {
		if attempts, err := strconv.Atoi(val); err == nil {
			c.Stop.Attempts = attempts
		}
	}
	if val := os.Getenv("DAEMONKIT_KILL_WAIT"); val != "" {
		if duration, err := time.ParseDuration(val); err == nil {
			c.Stop.KillWait = duration
		}
	}
}

// Validate checks that the configuration is valid.
func (c *Config) Validate() error {
	var errs []string

	if c.Daemon.Name == "" {
		errs = append(errs, "daemon.name is required")
	}
	if c.Daemon.PIDFile == "" {
		errs = append(errs, "daemon.pid_file is required")
	}
	if c.Daemon.Umask < 0 || c.Daemon.Umask > 0777 {
		errs = append(errs, fmt.Sprintf("daemon.umask must be between 0 and 0777, got %#o", c.Daemon.Umask))
	}
	if c.Daemon.StartWait < 0 {
		errs = append(errs, fmt.Sprintf("daemon.start_wait must be non-negative, got %v", c.Daemon.StartWait))
	}
	if c.Daemon.ShutdownGrace < 0 {
		errs = append(errs, fmt.Sprintf("daemon.shutdown_grace must be non-negative, got %v", c.Daemon.ShutdownGrace))
	}

	if !log.ValidLevel(c.Log.Level) {
		errs = append(errs, fmt.Sprintf("log.level must be one of [trace, debug, info, warn, error], got %q", c.Log.Level))
	}
	validFormats := map[string]bool{"json": true, "text": true}
	if !validFormats[c.Log.Format] {
		errs = append(errs, fmt.Sprintf("log.format must be one of [json, text], got %q", c.Log.Format))
	}

	if c.Stop.Interval <= 0 {
		errs = append(errs, fmt.Sprintf("stop.interval must be positive, got %v", c.Stop.Interval))
	}
	if c.Stop.Attempts < 1 {
		errs = append(errs, fmt.Sprintf("stop.attempts must be at least 1, got %d", c.Stop.Attempts))
	}
	if c.Stop.KillWait < 0 {
		errs = append(errs, fmt.Sprintf("stop.kill_wait must be non-negative, got %v", c.Stop.KillWait))
	}

	if len(errs) > 0 {
		return fmt.Errorf("%w:\n  - %s", ErrInvalidConfig, strings.Join(errs, "\n  - "))
	}

	return nil
}
