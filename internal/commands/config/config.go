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
	"strings"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/tombee/daemonkit/internal/cli"
	"github.com/tombee/daemonkit/internal/config"
)

// NewConfigCommand creates the config command with subcommands
func NewConfigCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "config",
		Short: "View and manage configuration",
		Long: `View and manage daemonctl configuration.

Subcommands:
  show     - Display the effective configuration
  path     - Show config file location
  init     - Write a config file with the defaults
  validate - Check the config file`,
	}

	cmd.AddCommand(newConfigShowCommand())
	cmd.AddCommand(newConfigPathCommand())
	cmd.AddCommand(newConfigInitCommand())
	cmd.AddCommand(NewValidateCommand())

	// If no subcommand provided, default to 'show'
	cmd.RunE = func(cmd *cobra.Command, args []string) error {
		return runConfigShow(cmd, args)
	}

	return cmd
}

// newConfigShowCommand creates the 'config show' subcommand
func newConfigShowCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "show",
		Short: "Display the effective configuration",
		Long: `Display the configuration daemonctl would use: the config file, if
any, with environment overrides and defaults applied.
Use --json for machine-readable output.`,
		RunE: runConfigShow,
	}
}

// newConfigPathCommand creates the 'config path' subcommand
func newConfigPathCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "path",
		Short: "Show config file location",
		Long:  `Display the path to the configuration file.`,
		RunE:  runConfigPath,
	}
}

// newConfigInitCommand creates the 'config init' subcommand
func newConfigInitCommand() *cobra.Command {
	var force bool

	cmd := &cobra.Command{
		Use:   "init",
		Short: "Write a config file with the defaults",
		Long: `Write the default configuration to the config file.

An existing file is kept unless --force is given.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runConfigInit(cmd.OutOrStdout(), force)
		},
	}
	cmd.Flags().BoolVar(&force, "force", false, "Overwrite an existing config file")

	return cmd
}

// configPath resolves --config or the default location.
func configPath() (string, error) {
	if p := cli.GetConfigPath(); p != "" {
		return p, nil
	}
	p, err := config.ConfigPath()
	if err != nil {
		return "", fmt.Errorf("failed to determine config path: %w", err)
	}
	return p, nil
}

// runConfigShow displays the effective configuration
func runConfigShow(cmd *cobra.Command, args []string) error {
	cfgPath, err := configPath()
	if err != nil {
		return err
	}

	loadPath := cfgPath
	if _, err := os.Stat(cfgPath); errors.Is(err, os.ErrNotExist) {
		loadPath = ""
	}

	cfg, err := config.Load(loadPath)
	if err != nil {
		return err
	}

	out := cmd.OutOrStdout()
	if cli.GetJSON() {
		return cli.EmitJSON(out, cfg)
	}
	if loadPath == "" {
		return outputConfigYAML(out, "defaults (no file at "+cfgPath+")", cfg)
	}
	return outputConfigYAML(out, cfgPath, cfg)
}

// runConfigPath displays the config file path
func runConfigPath(cmd *cobra.Command, args []string) error {
	cfgPath, err := configPath()
	if err != nil {
		return err
	}

	fmt.Fprintln(cmd.OutOrStdout(), cfgPath)
	return nil
}

func runConfigInit(out io.Writer, force bool) error {
	cfgPath, err := configPath()
	if err != nil {
		return err
	}

	if _, err := os.Stat(cfgPath); err == nil && !force {
		return &cli.ExitError{
			Code:    cli.ExitFailure,
			Message: fmt.Sprintf("config file %s already exists (use --force to overwrite)", cfgPath),
		}
	}

	cfg := config.Default()
	if err := config.Save(cfgPath, cfg); err != nil {
		return cli.NewFailureError("failed to write config", err)
	}

	if !cli.GetQuiet() {
		fmt.Fprintln(out, cli.RenderOK("Wrote "+cfgPath))
	}
	return nil
}

// outputConfigYAML outputs config in YAML format
func outputConfigYAML(out io.Writer, source string, cfg *config.Config) error {
	fmt.Fprintf(out, "Configuration: %s\n", source)
	fmt.Fprintln(out, strings.Repeat("=", 50))
	fmt.Fprintln(out)

	encoder := yaml.NewEncoder(out)
	encoder.SetIndent(2)

	if err := encoder.Encode(cfg); err != nil {
		return fmt.Errorf("failed to encode config: %w", err)
	}

	return encoder.Close()
}
