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

/*
Package cli provides the root command and shared plumbing for daemonctl.

It owns the persistent flags, version information, exit code mapping,
terminal styles and the JSON envelope used by every subcommand.

# Usage

From main.go:

	cli.SetVersion(version, commit, date)
	rootCmd := cli.NewRootCommand()
	// ... add commands ...
	if err := rootCmd.Execute(); err != nil {
	    cli.HandleExitError(err)
	}

# Global Flags

All commands inherit these flags:

	--verbose, -v    Enable verbose output
	--quiet, -q      Suppress non-error output
	--json           Output in JSON format
	--config         Path to config file

# Overrides

Overrides carries the flags that replace configuration values for a
single invocation. The detached stages of a daemon re-run the binary from
the root directory, so StageArgs rebuilds the command line with every
path made absolute.

# Exit Codes

	0  success
	1  operation failed
	3  daemon already running
	4  invalid configuration
*/
package cli
