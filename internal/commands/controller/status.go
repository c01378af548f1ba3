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
	"time"

	"github.com/spf13/cobra"

	"github.com/tombee/daemonkit/internal/cli"
	"github.com/tombee/daemonkit/internal/lifecycle"
	"github.com/tombee/daemonkit/pkg/daemon"
)

// NewStatusCommand creates the status command.
func NewStatusCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "status",
		Short: "Show whether the daemon is running",
		Long: `Report the daemon recorded in the pid file.

When the metrics listener is configured, the /healthz endpoint of a
running daemon is probed as well.`,
	}
	o := withOverrides(cmd)
	cmd.RunE = func(cmd *cobra.Command, args []string) error {
		return runStatus(cmd.Context(), cmd.OutOrStdout(), o)
	}
	return cmd
}

type statusResponse struct {
	cli.JSONResponse
	State   string `json:"state"`
	PID     int    `json:"pid,omitempty"`
	PIDFile string `json:"pid_file"`
	Stale   bool   `json:"stale,omitempty"`
	Process string `json:"process,omitempty"`
	Healthy *bool  `json:"healthy,omitempty"`
}

func runStatus(ctx context.Context, out io.Writer, o *cli.Overrides) error {
	s, err := newSession("status", o, nil, nil)
	if err != nil {
		return err
	}
	defer s.Close()

	st := s.ctrl.Status()
	resp := statusResponse{
		JSONResponse: cli.NewJSONResponse("status", nil),
		State:        st.State.String(),
		PID:          st.PID,
		PIDFile:      st.PIDFile,
		Stale:        st.Stale,
	}

	var probe *lifecycle.HealthCheckResult
	if st.State == daemon.StateRunning {
		if info, err := lifecycle.GetProcessInfo(st.PID); err == nil {
			resp.Process = info.Command
		}
		if url := s.healthURL(); url != "" {
			probe = lifecycle.NewHealthChecker(url).Check(ctx)
			resp.Healthy = &probe.Success
		}
	}

	if cli.GetJSON() {
		return cli.EmitJSON(out, resp)
	}

	fmt.Fprintf(out, "%s %s\n", cli.RenderBold("daemon"), cli.RenderStatus(st.State == daemon.StateRunning, resp.State))
	fmt.Fprintf(out, "  %s %s\n", cli.RenderLabel("pid file:"), st.PIDFile)
	if st.PID > 0 {
		fmt.Fprintf(out, "  %s %d\n", cli.RenderLabel("pid:"), st.PID)
	}
	if st.Stale {
		fmt.Fprintln(out, "  "+cli.RenderWarn("pid file is stale, the recorded process is gone"))
	}
	if resp.Process != "" && cli.GetVerbose() {
		fmt.Fprintf(out, "  %s %s\n", cli.RenderLabel("process:"), resp.Process)
	}
	if probe != nil {
		if probe.Success {
			fmt.Fprintf(out, "  %s %s (%s)\n", cli.RenderLabel("health:"), cli.RenderOK("ok"), probe.ResponseTime.Round(time.Millisecond))
		} else {
			fmt.Fprintf(out, "  %s %s\n", cli.RenderLabel("health:"), cli.RenderError(probeFailure(probe)))
		}
	}
	return nil
}

func probeFailure(r *lifecycle.HealthCheckResult) string {
	if r.Error != nil {
		return r.Error.Error()
	}
	return fmt.Sprintf("HTTP %d", r.StatusCode)
}
