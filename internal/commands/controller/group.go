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

// Package controller implements the daemonctl commands that drive a
// daemon.Controller and read its lifecycle journal.
package controller

import (
	"context"
	"os"

	"github.com/spf13/cobra"

	"github.com/tombee/daemonkit/internal/cli"
	"github.com/tombee/daemonkit/internal/config"
	"github.com/tombee/daemonkit/internal/metrics"
	"github.com/tombee/daemonkit/pkg/daemon"
	pkgerrors "github.com/tombee/daemonkit/pkg/errors"
)

// osExit ends the process once a controller is done with it.
var osExit = os.Exit

// NewCommands creates the daemon control commands.
func NewCommands() []*cobra.Command {
	return []*cobra.Command{
		NewStartCommand(),
		NewStopCommand(),
		NewRestartCommand(),
		NewStatusCommand(),
		NewJournalCommand(),
	}
}

// withOverrides attaches a fresh set of override flags to cmd.
func withOverrides(cmd *cobra.Command) *cli.Overrides {
	o := cli.NewOverrides()
	cmd.Flags().AddFlagSet(o.FlagSet())
	return o
}

// loadConfig reads the config file, applies the environment and the
// command line overrides, and validates the result.
func loadConfig(o *cli.Overrides) (*config.Config, error) {
	path := cli.GetConfigPath()
	if path == "" {
		if p, err := config.ConfigPath(); err == nil {
			if _, statErr := os.Stat(p); statErr == nil {
				path = p
			}
		}
	}

	cfg, err := config.Load(path)
	if err != nil {
		return nil, err
	}
	if cfg.Daemon.Journal == "" {
		cfg.Daemon.Journal = config.DefaultJournalPath()
	}

	o.Apply(cfg)
	if err := cfg.Validate(); err != nil {
		return nil, cli.NewConfigError("invalid command line overrides", err)
	}
	return cfg, nil
}

// session bundles a controller with the metrics pipeline it reports to.
type session struct {
	cfg      *config.Config
	ctrl     *daemon.Controller
	provider *metrics.Provider
}

// newSession builds the controller for command. runner may be nil for
// commands that never start a payload. onExit runs in the invoking
// process just before a successful start terminates it.
func newSession(command string, o *cli.Overrides, runner daemon.Runner, onExit func(s *session)) (*session, error) {
	cfg, err := loadConfig(o)
	if err != nil {
		return nil, err
	}

	args, err := o.StageArgs(command, cli.GetConfigPath(), cfg)
	if err != nil {
		return nil, cli.NewConfigError("cannot build detach arguments", err)
	}

	v, _, _ := cli.GetVersion()
	provider, err := metrics.NewPrometheusProvider(cfg.Daemon.Name, v)
	if err != nil {
		return nil, pkgerrors.Wrap(err, "failed to create metrics provider")
	}

	if runner == nil {
		runner = daemon.RunFunc(func(ctx context.Context) error {
			<-ctx.Done()
			return nil
		})
	}

	s := &session{cfg: cfg, provider: provider}
	exit := func(code int) {
		if code == 0 && onExit != nil && s.ctrl.Stage() == 0 {
			onExit(s)
		}
		s.provider.Shutdown(context.Background())
		osExit(code)
	}

	s.ctrl, err = daemon.New(cfg.DaemonConfig(), runner,
		daemon.WithMeterProvider(provider.MeterProvider()),
		daemon.WithArgs(args),
		daemon.WithExit(exit),
	)
	if err != nil {
		provider.Shutdown(context.Background())
		return nil, err
	}
	return s, nil
}

// Close releases the controller and the metrics pipeline.
func (s *session) Close() {
	s.ctrl.Close()
	s.provider.Shutdown(context.Background())
}

// healthURL is the probe endpoint of the payload, or "" when the
// metrics listener is disabled.
func (s *session) healthURL() string {
	if s.cfg.Metrics.Addr == "" {
		return ""
	}
	return "http://" + s.cfg.Metrics.Addr + healthPath
}
