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

package config

import (
	"errors"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/tombee/daemonkit/internal/cli"
	"github.com/tombee/daemonkit/internal/config"
	"github.com/tombee/daemonkit/internal/log"
)

// longStopBudget is the stop escalation length past which validate warns.
const longStopBudget = 30 * time.Second

// ValidationResult represents the result of config validation.
type ValidationResult struct {
	Valid    bool     `json:"valid"`
	Errors   []string `json:"errors,omitempty"`
	Warnings []string `json:"warnings,omitempty"`
}

// NewValidateCommand creates the 'config validate' subcommand.
func NewValidateCommand() *cobra.Command {
	var strict bool

	cmd := &cobra.Command{
		Use:   "validate",
		Short: "Validate configuration file",
		Long: `Validate the configuration file.

Checks performed:
  - YAML syntax and structure
  - Required settings and value ranges
  - Settings that work but are likely mistakes

With --strict, warnings are treated as errors.`,
		Example: `  # Validate configuration
  daemonctl config validate

  # Get validation result as JSON
  daemonctl config validate --json`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runValidate(cmd.OutOrStdout(), strict)
		},
	}

	cmd.Flags().BoolVar(&strict, "strict", false, "Treat warnings as errors")

	return cmd
}

// runValidate performs configuration validation.
func runValidate(out io.Writer, strict bool) error {
	cfgPath, err := configPath()
	if err != nil {
		return err
	}

	if _, err := os.Stat(cfgPath); errors.Is(err, os.ErrNotExist) {
		result := ValidationResult{
			Valid:  false,
			Errors: []string{fmt.Sprintf("No config file found at %s. Run 'daemonctl config init' to create one.", cfgPath)},
		}
		return outputValidationResult(out, result, strict)
	}

	cfg, err := config.Load(cfgPath)
	if err != nil {
		result := ValidationResult{
			Valid:  false,
			Errors: []string{err.Error()},
		}
		return outputValidationResult(out, result, strict)
	}

	return outputValidationResult(out, validateConfig(cfg), strict)
}

// validateConfig collects warnings for a config that loaded successfully.
func validateConfig(cfg *config.Config) ValidationResult {
	var warnings []string

	if cfg.Daemon.StartWait == 0 {
		warnings = append(warnings, "daemon.start_wait is 0: start returns before the daemon records its pid")
	}
	if budget := cfg.Stop.Interval * time.Duration(cfg.Stop.Attempts); budget > longStopBudget {
		warnings = append(warnings, fmt.Sprintf("stop escalates to SIGKILL only after %v (stop.interval x stop.attempts)", budget))
	}
	if cfg.Daemon.WorkDir != "/" {
		warnings = append(warnings, fmt.Sprintf("daemon.work_dir %s keeps that file system busy while the daemon runs", cfg.Daemon.WorkDir))
	}
	if cfg.Log.Sink == log.SinkStdout || cfg.Log.Sink == log.SinkStderr {
		warnings = append(warnings, fmt.Sprintf("log.sink %s is redirected by the detached daemon; use syslog or a file", cfg.Log.Sink))
	}

	return ValidationResult{
		Valid:    true,
		Warnings: warnings,
	}
}

// outputValidationResult outputs the validation result and returns appropriate exit code.
func outputValidationResult(out io.Writer, result ValidationResult, strict bool) error {
	if cli.GetJSON() {
		if err := cli.EmitJSON(out, result); err != nil {
			return fmt.Errorf("failed to encode JSON: %w", err)
		}
	} else {
		if result.Valid {
			fmt.Fprintln(out, cli.RenderOK("Configuration is valid"))
		} else {
			fmt.Fprintln(out, cli.RenderError("Configuration validation failed"))
		}

		for _, e := range result.Errors {
			fmt.Fprintf(out, "  %s\n", cli.RenderError(e))
		}
		for _, w := range result.Warnings {
			fmt.Fprintf(out, "  %s\n", cli.RenderWarn(w))
		}
	}

	if !result.Valid {
		return &cli.ExitError{Code: cli.ExitConfigError, Message: "configuration is invalid"}
	}
	if strict && len(result.Warnings) > 0 {
		return &cli.ExitError{Code: cli.ExitConfigError, Message: "configuration has warnings (--strict)"}
	}
	return nil
}
