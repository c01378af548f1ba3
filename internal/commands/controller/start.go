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

package controller

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"time"

	"github.com/spf13/cobra"

	"github.com/tombee/daemonkit/internal/cli"
	"github.com/tombee/daemonkit/internal/lifecycle"
	"github.com/tombee/daemonkit/pkg/daemon"
)

// NewStartCommand creates the start command.
func NewStartCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "start",
		Short: "Start the daemon",
		Long: `Start the heartbeat daemon in the background.

The daemon detaches from the terminal, records its PID in the pid file and
logs a heartbeat until it is stopped. Start refuses to run a second
instance while the pid file names a live process; a stale pid file is
removed.

With --start-wait 0 the command returns as soon as the daemon detached,
without waiting for the pid file.`,
		Example: `  # Start with the configured settings
  daemonctl start

  # Start with a custom pid file and a file log sink
  daemonctl start --pid-file ./run/daemonctl.pid --log-sink ./daemonctl.log

  # Start and expose /metrics and /healthz
  daemonctl start --metrics-addr 127.0.0.1:9464`,
	}
	o := withOverrides(cmd)
	cmd.RunE = func(cmd *cobra.Command, args []string) error {
		return runStart(cmd.Context(), cmd.OutOrStdout(), "start", o)
	}
	return cmd
}

// NewRestartCommand creates the restart command.
func NewRestartCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "restart",
		Short: "Stop the daemon and start it again",
		Long: `Stop the running daemon, if any, and start a new instance.

The stop follows the same escalation as 'daemonctl stop'. If the old
process survives it, no new instance is started.`,
	}
	o := withOverrides(cmd)
	cmd.RunE = func(cmd *cobra.Command, args []string) error {
		return runStart(cmd.Context(), cmd.OutOrStdout(), "restart", o)
	}
	return cmd
}

// runStart drives start and restart. On success the controller
// terminates the process after printing the status.
func runStart(ctx context.Context, out io.Writer, command string, o *cli.Overrides) error {
	hb := &heartbeat{interval: heartbeatInterval}

	s, err := newSession(command, o, hb, func(s *session) {
		reportStarted(ctx, out, command, s)
	})
	if err != nil {
		return err
	}
	defer s.Close()

	hb.addr = s.cfg.Metrics.Addr
	hb.metrics = s.provider.Handler()
	hb.logger = func() *slog.Logger { return s.ctrl.Logger() }

	if command == "restart" {
		err = s.ctrl.Restart(ctx)
	} else {
		err = s.ctrl.Start(ctx)
	}
	return err
}

// Probe cadence while waiting for a freshly started daemon.
const (
	healthInitialBackoff = 50 * time.Millisecond
	healthMaxBackoff     = time.Second
)

type startResponse struct {
	cli.JSONResponse
	PID     int    `json:"pid,omitempty"`
	PIDFile string `json:"pid_file"`
	Healthy *bool  `json:"healthy,omitempty"`
}

// reportStarted prints the outcome of a successful start or restart.
func reportStarted(ctx context.Context, out io.Writer, command string, s *session) {
	st := s.ctrl.Status()
	resp := startResponse{
		JSONResponse: cli.NewJSONResponse(command, nil),
		PID:          st.PID,
		PIDFile:      st.PIDFile,
	}

	var healthErr error
	if url := s.healthURL(); url != "" && st.State == daemon.StateRunning {
		wait := s.cfg.Daemon.StartWait
		if wait == 0 {
			wait = daemon.DefaultStartWait
		}
		healthErr = lifecycle.NewHealthChecker(url).
			WithBackoff(healthInitialBackoff, healthMaxBackoff, 2).
			WaitUntilHealthy(ctx, wait, nil)
		healthy := healthErr == nil
		resp.Healthy = &healthy
	}

	if cli.GetJSON() {
		cli.EmitJSON(out, resp)
		return
	}
	if cli.GetQuiet() {
		return
	}

	switch {
	case st.State != daemon.StateRunning:
		fmt.Fprintln(out, cli.RenderOK("Daemon detached"))
	default:
		fmt.Fprintln(out, cli.RenderOK(fmt.Sprintf("Daemon started (PID %d)", st.PID)))
	}
	if cli.GetVerbose() {
		fmt.Fprintf(out, "  %s %s\n", cli.RenderLabel("pid file:"), st.PIDFile)
	}
	if healthErr != nil {
		fmt.Fprintln(out, cli.RenderWarn(fmt.Sprintf("Health check failed: %v", healthErr)))
	}
}
