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

package daemon

import (
	"os"
	"path/filepath"
	"time"

	"github.com/tombee/daemonkit/internal/log"
	daemonerrors "github.com/tombee/daemonkit/pkg/errors"
)

// Defaults applied by New to zero-valued fields.
const (
	DefaultStopInterval  = 100 * time.Millisecond
	DefaultStopAttempts  = 50
	DefaultKillWait      = 5 * time.Second
	DefaultShutdownGrace = 5 * time.Second
	DefaultStartWait     = 5 * time.Second
	DefaultWorkDir       = "/"
	DefaultRedirect      = os.DevNull
)

// Config configures a Controller. It is copied by New and never
// mutated afterwards.
type Config struct {
	// PIDFile is the path of the pid file. Required.
	PIDFile string

	// LogName identifies the daemon: it is the syslog tag and the
	// "daemon" attribute on every log record. Required.
	LogName string

	// LogSink is syslog, stderr, stdout, discard, or a file path.
	// Default: syslog
	LogSink string

	// LogLevel is the minimum severity written to the sink.
	// Default: info
	LogLevel string

	// LogFormat is json or text. Ignored by the syslog sink.
	// Default: json
	LogFormat string

	// Stdin, Stdout and Stderr are the redirect targets for the standard
	// descriptors of the detached process.
	// Default: /dev/null
	Stdin  string
	Stdout string
	Stderr string

	// StopInterval is the delay between SIGTERMs sent by Stop.
	// Default: 100ms
	StopInterval time.Duration

	// StopAttempts is the number of SIGTERMs sent before SIGKILL.
	// Default: 50
	StopAttempts int

	// KillWait bounds how long Stop waits for the process to vanish
	// after SIGKILL.
	// Default: 5s
	KillWait time.Duration

	// ShutdownGrace bounds how long the termination handler lets the
	// payload unwind before the process exits.
	// Default: 5s
	ShutdownGrace time.Duration

	// StartWait bounds how long the invoking process waits for the
	// daemon's pid file. Zero disables waiting; DefaultConfig sets
	// DefaultStartWait.
	StartWait time.Duration

	// JournalPath is a JSON-lines lifecycle journal. Empty disables it.
	JournalPath string

	// WorkDir is the working directory of the detached process.
	// Default: /
	WorkDir string

	// Umask is the file mode creation mask of the detached process.
	Umask int
}

// DefaultConfig returns a Config with every default filled in.
func DefaultConfig(pidFile, logName string) Config {
	cfg := Config{
		PIDFile:   pidFile,
		LogName:   logName,
		StartWait: DefaultStartWait,
	}
	cfg.applyDefaults()
	return cfg
}

func (c *Config) applyDefaults() {
	if c.LogSink == "" {
		c.LogSink = log.SinkSyslog
	}
	if c.LogLevel == "" {
		c.LogLevel = "info"
	}
	if c.LogFormat == "" {
		c.LogFormat = string(log.FormatJSON)
	}
	if c.Stdin == "" {
		c.Stdin = DefaultRedirect
	}
	if c.Stdout == "" {
		c.Stdout = DefaultRedirect
	}
	if c.Stderr == "" {
		c.Stderr = DefaultRedirect
	}
	if c.StopInterval == 0 {
		c.StopInterval = DefaultStopInterval
	}
	if c.StopAttempts == 0 {
		c.StopAttempts = DefaultStopAttempts
	}
	if c.KillWait == 0 {
		c.KillWait = DefaultKillWait
	}
	if c.ShutdownGrace == 0 {
		c.ShutdownGrace = DefaultShutdownGrace
	}
	if c.WorkDir == "" {
		c.WorkDir = DefaultWorkDir
	}
}

// validate checks the configuration and makes every path absolute, since
// the detached process runs from WorkDir.
func (c *Config) validate() error {
	if c.PIDFile == "" {
		return &daemonerrors.ConfigError{Key: "pid_file", Reason: "is required"}
	}
	if c.LogName == "" {
		return &daemonerrors.ConfigError{Key: "log_name", Reason: "is required"}
	}
	if !log.ValidLevel(c.LogLevel) {
		return &daemonerrors.ConfigError{Key: "log_level", Reason: "must be trace, debug, info, warn, or error"}
	}
	if c.LogFormat != string(log.FormatJSON) && c.LogFormat != string(log.FormatText) {
		return &daemonerrors.ConfigError{Key: "log_format", Reason: "must be json or text"}
	}
	if c.StopInterval < 0 {
		return &daemonerrors.ConfigError{Key: "stop_interval", Reason: "must not be negative"}
	}
	if c.StopAttempts < 1 {
		return &daemonerrors.ConfigError{Key: "stop_attempts", Reason: "must be at least 1"}
	}
	if c.KillWait < 0 || c.ShutdownGrace < 0 || c.StartWait < 0 {
		return &daemonerrors.ConfigError{Key: "timeouts", Reason: "must not be negative"}
	}
	if c.Umask < 0 || c.Umask > 0777 {
		return &daemonerrors.ConfigError{Key: "umask", Reason: "must be between 0 and 0777"}
	}

	paths := []pathField{
		{"pid_file", &c.PIDFile},
		{"stdin", &c.Stdin},
		{"stdout", &c.Stdout},
		{"stderr", &c.Stderr},
		{"work_dir", &c.WorkDir},
	}
	if c.JournalPath != "" {
		paths = append(paths, pathField{"journal", &c.JournalPath})
	}
	if !log.IsBuiltinSink(c.LogSink) {
		paths = append(paths, pathField{"log_sink", &c.LogSink})
	}
	for _, entry := range paths {
		abs, err := filepath.Abs(*entry.p)
		if err != nil {
			return &daemonerrors.ConfigError{Key: entry.key, Reason: "cannot be made absolute", Cause: err}
		}
		*entry.p = abs
	}
	return nil
}

type pathField struct {
	key string
	p   *string
}
