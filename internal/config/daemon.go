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
	"github.com/tombee/daemonkit/pkg/daemon"
)

// DaemonConfig returns the controller configuration described by c.
func (c *Config) DaemonConfig() daemon.Config {
	return daemon.Config{
		PIDFile:       c.Daemon.PIDFile,
		LogName:       c.Daemon.Name,
		LogSink:       c.Log.Sink,
		LogLevel:      c.Log.Level,
		LogFormat:     c.Log.Format,
		Stdin:         c.Daemon.Stdin,
		Stdout:        c.Daemon.Stdout,
		Stderr:        c.Daemon.Stderr,
		StopInterval:  c.Stop.Interval,
		StopAttempts:  c.Stop.Attempts,
		KillWait:      c.Stop.KillWait,
		ShutdownGrace: c.Daemon.ShutdownGrace,
		StartWait:     c.Daemon.StartWait,
		JournalPath:   c.Daemon.Journal,
		WorkDir:       c.Daemon.WorkDir,
		Umask:         c.Daemon.Umask,
	}
}
