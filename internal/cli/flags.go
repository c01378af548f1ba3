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

package cli

import (
	"fmt"
	"path/filepath"
	"time"

	"github.com/spf13/pflag"

	"github.com/tombee/daemonkit/internal/config"
	"github.com/tombee/daemonkit/internal/log"
)

// Global flag values - set by root command
var (
	verboseFlag bool
	quietFlag   bool
	jsonFlag    bool
	configFlag  string

	// Build-time version information
	version   = "dev"
	commit    = "unknown"
	buildDate = "unknown"
)

// RegisterFlagPointers returns pointers to flag variables for binding.
// Called by root command to register flags.
func RegisterFlagPointers() (*bool, *bool, *bool, *string) {
	return &verboseFlag, &quietFlag, &jsonFlag, &configFlag
}

// SetVersion sets the version information (called from main)
func SetVersion(v, c, b string) {
	version = v
	commit = c
	buildDate = b
}

// GetVersion returns version information
func GetVersion() (string, string, string) {
	return version, commit, buildDate
}

// GetVerbose returns the verbose flag value
func GetVerbose() bool {
	return verboseFlag
}

// GetQuiet returns the quiet flag value
func GetQuiet() bool {
	return quietFlag
}

// GetJSON returns the JSON output flag value
func GetJSON() bool {
	return jsonFlag
}

// GetConfigPath returns the config file path
func GetConfigPath() string {
	return configFlag
}

// SetConfigPathForTest sets the config path for testing purposes
func SetConfigPathForTest(path string) {
	configFlag = path
}

// Overrides holds per-invocation flags that replace configuration values.
type Overrides struct {
	fs *pflag.FlagSet

	pidFile      string
	logSink      string
	logLevel     string
	journal      string
	stopInterval time.Duration
	stopAttempts int
	startWait    time.Duration
	metricsAddr  string
}

// NewOverrides registers the override flags on a fresh flag set.
func NewOverrides() *Overrides {
	o := &Overrides{fs: pflag.NewFlagSet("overrides", pflag.ContinueOnError)}
	o.fs.StringVar(&o.pidFile, "pid-file", "", "Path of the pid file")
	o.fs.StringVar(&o.logSink, "log-sink", "", "Log sink: syslog, stderr, stdout, discard or a file path")
	o.fs.StringVar(&o.logLevel, "log-level", "", "Log level (trace, debug, info, warn, error)")
	o.fs.StringVar(&o.journal, "journal", "", "Path of the lifecycle journal")
	o.fs.DurationVar(&o.stopInterval, "stop-interval", 0, "Delay between termination requests")
	o.fs.IntVar(&o.stopAttempts, "stop-attempts", 0, "Termination requests sent before the daemon is killed")
	o.fs.DurationVar(&o.startWait, "start-wait", 0, "How long start waits for the pid file (0 disables waiting)")
	o.fs.StringVar(&o.metricsAddr, "metrics-addr", "", "Listen address for /metrics and /healthz")
	return o
}

// FlagSet returns the flag set to add to a command.
func (o *Overrides) FlagSet() *pflag.FlagSet {
	return o.fs
}

// changed reports whether the named flag was set on the command line.
// Flags added to a cobra command are parsed through the command's own
// set, so the Changed bit is read instead of visiting o.fs.
func (o *Overrides) changed(name string) bool {
	f := o.fs.Lookup(name)
	return f != nil && f.Changed
}

// Apply copies every flag that was set onto cfg.
func (o *Overrides) Apply(cfg *config.Config) {
	if o.changed("pid-file") {
		cfg.Daemon.PIDFile = o.pidFile
	}
	if o.changed("log-sink") {
		cfg.Log.Sink = o.logSink
	}
	if o.changed("log-level") {
		cfg.Log.Level = o.logLevel
	}
	if o.changed("journal") {
		cfg.Daemon.Journal = o.journal
	}
	if o.changed("stop-interval") {
		cfg.Stop.Interval = o.stopInterval
	}
	if o.changed("stop-attempts") {
		cfg.Stop.Attempts = o.stopAttempts
	}
	if o.changed("start-wait") {
		cfg.Daemon.StartWait = o.startWait
	}
	if o.changed("metrics-addr") {
		cfg.Metrics.Addr = o.metricsAddr
	}
}

// StageArgs builds the arguments the detached stages are launched with.
// The stages run from the root directory, so the config file and every
// path valued setting of cfg are passed as absolute paths.
func (o *Overrides) StageArgs(command, configPath string, cfg *config.Config) ([]string, error) {
	args := []string{command}

	if configPath != "" {
		abs, err := filepath.Abs(configPath)
		if err != nil {
			return nil, fmt.Errorf("resolving config path: %w", err)
		}
		args = append(args, "--config", abs)
	}

	o.fs.VisitAll(func(f *pflag.Flag) {
		if !f.Changed {
			return
		}
		switch f.Name {
		case "pid-file", "journal", "log-sink":
			// Resolved below from cfg.
		default:
			args = append(args, "--"+f.Name, f.Value.String())
		}
	})

	pidFile, err := filepath.Abs(cfg.Daemon.PIDFile)
	if err != nil {
		return nil, fmt.Errorf("resolving pid file: %w", err)
	}
	args = append(args, "--pid-file", pidFile)

	if cfg.Daemon.Journal != "" {
		journal, err := filepath.Abs(cfg.Daemon.Journal)
		if err != nil {
			return nil, fmt.Errorf("resolving journal: %w", err)
		}
		args = append(args, "--journal", journal)
	}

	sink := cfg.Log.Sink
	if !log.IsBuiltinSink(sink) {
		if sink, err = filepath.Abs(sink); err != nil {
			return nil, fmt.Errorf("resolving log sink: %w", err)
		}
	}
	args = append(args, "--log-sink", sink)

	return args, nil
}
