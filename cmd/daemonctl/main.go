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

// Command daemonctl runs a heartbeat payload as a UNIX daemon and
// controls it through a pid file.
package main

import (
	"os"

	"github.com/tombee/daemonkit/internal/cli"
	"github.com/tombee/daemonkit/internal/commands/config"
	"github.com/tombee/daemonkit/internal/commands/controller"
	versioncmd "github.com/tombee/daemonkit/internal/commands/version"
)

// Version information (injected via ldflags at build time)
var (
	version   = "dev"
	commit    = "unknown"
	buildDate = "unknown"
)

func main() {
	cli.SetVersion(version, commit, buildDate)
	cli.ConfigureOutput(os.Stdout)

	rootCmd := cli.NewRootCommand()

	// Daemon control
	for _, cmd := range controller.NewCommands() {
		rootCmd.AddCommand(cmd)
	}

	// Configuration
	rootCmd.AddCommand(config.NewConfigCommand())

	// Version
	rootCmd.AddCommand(versioncmd.NewVersionCommand())

	if err := rootCmd.Execute(); err != nil {
		cli.HandleExitError(err)
	}
}
