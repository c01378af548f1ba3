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

	"github.com/spf13/cobra"

	"github.com/tombee/daemonkit/internal/cli"
	"github.com/tombee/daemonkit/pkg/daemon"
)

// NewStopCommand creates the stop command.
func NewStopCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "stop",
		Short: "Stop the daemon",
		Long: `Stop the daemon recorded in the pid file.

SIGTERM is sent every --stop-interval. After --stop-attempts deliveries
the daemon is sent SIGKILL. Stopping a daemon that is not running is not
an error; a stale pid file is removed.`,
		Example: `  # Stop the daemon
  daemonctl stop

  # Give the daemon one second before killing it
  daemonctl stop --stop-interval 100ms --stop-attempts 10`,
	}
	o := withOverrides(cmd)
	cmd.RunE = func(cmd *cobra.Command, args []string) error {
		return runStop(cmd.Context(), cmd.OutOrStdout(), o)
	}
	return cmd
}

type stopResponse struct {
	cli.JSONResponse
	WasRunning bool `json:"was_running"`
	PID        int  `json:"pid,omitempty"`
	Attempts   int  `json:"attempts"`
	Forced     bool `json:"forced"`
}

func runStop(ctx context.Context, out io.Writer, o *cli.Overrides) error {
	s, err := newSession("stop", o, nil, nil)
	if err != nil {
		return err
	}
	defer s.Close()

	res, err := s.ctrl.Stop(ctx)

	if cli.GetJSON() {
		resp := stopResponse{
			JSONResponse: cli.NewJSONResponse("stop", err),
			WasRunning:   res.WasRunning,
			PID:          res.PID,
			Attempts:     res.Attempts,
			Forced:       res.Forced,
		}
		if emitErr := cli.EmitJSON(out, resp); emitErr != nil {
			return emitErr
		}
	}
	if err != nil {
		return cli.NewFailureError("stop failed", err)
	}
	if cli.GetJSON() || cli.GetQuiet() {
		return nil
	}

	printStopResult(out, res)
	return nil
}

func printStopResult(out io.Writer, res daemon.StopResult) {
	switch {
	case !res.WasRunning:
		fmt.Fprintln(out, cli.RenderWarn("Daemon was not running"))
	case res.Forced:
		fmt.Fprintln(out, cli.RenderWarn(fmt.Sprintf("Daemon killed after %d termination requests (PID %d)", res.Attempts, res.PID)))
	default:
		fmt.Fprintln(out, cli.RenderOK(fmt.Sprintf("Daemon stopped (PID %d)", res.PID)))
	}
}
