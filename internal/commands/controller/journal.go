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
	"errors"
	"fmt"
	"io"
	"io/fs"
	"time"

	"github.com/spf13/cobra"

	"github.com/tombee/daemonkit/internal/cli"
	"github.com/tombee/daemonkit/internal/lifecycle"
)

// NewJournalCommand creates the journal command.
func NewJournalCommand() *cobra.Command {
	var limit int
	cmd := &cobra.Command{
		Use:   "journal",
		Short: "Show recent lifecycle events",
		Long: `Show the lifecycle journal: starts, stops, signals and payload failures
recorded by every invocation, oldest first.`,
		Example: `  # Show the last 20 events
  daemonctl journal

  # Show everything as JSON
  daemonctl journal --limit 0 --json`,
	}
	o := withOverrides(cmd)
	cmd.Flags().IntVarP(&limit, "limit", "n", 20, "Number of most recent events to show (0 shows all)")
	cmd.RunE = func(cmd *cobra.Command, args []string) error {
		return runJournal(cmd.OutOrStdout(), o, limit)
	}
	return cmd
}

type journalResponse struct {
	cli.JSONResponse
	Path   string                     `json:"path"`
	Events []lifecycle.LifecycleEvent `json:"events"`
}

func runJournal(out io.Writer, o *cli.Overrides, limit int) error {
	cfg, err := loadConfig(o)
	if err != nil {
		return err
	}
	path := cfg.Daemon.Journal
	if path == "" {
		return cli.NewConfigError("the lifecycle journal is disabled", nil)
	}

	events, err := lifecycle.ReadJournal(path)
	if err != nil && !errors.Is(err, fs.ErrNotExist) {
		return cli.NewFailureError("reading lifecycle journal", err)
	}
	if limit > 0 && len(events) > limit {
		events = events[len(events)-limit:]
	}

	if cli.GetJSON() {
		if events == nil {
			events = []lifecycle.LifecycleEvent{}
		}
		return cli.EmitJSON(out, journalResponse{
			JSONResponse: cli.NewJSONResponse("journal", nil),
			Path:         path,
			Events:       events,
		})
	}

	if len(events) == 0 {
		fmt.Fprintln(out, cli.RenderWarn("No lifecycle events recorded"))
		return nil
	}
	for _, ev := range events {
		printEvent(out, ev)
	}
	return nil
}

func printEvent(out io.Writer, ev lifecycle.LifecycleEvent) {
	line := fmt.Sprintf("%s  %-20s", ev.Timestamp.Local().Format(time.DateTime), ev.Event)
	if ev.PID > 0 {
		line += fmt.Sprintf(" pid=%d", ev.PID)
	}
	if ev.Message != "" {
		line += " " + ev.Message
	}
	if ev.Error != "" {
		fmt.Fprintln(out, line+" "+cli.RenderError(ev.Error))
		return
	}
	fmt.Fprintln(out, line)
}
