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
Package lifecycle provides the process-level building blocks of the daemon
controller: pid file management, liveness probing and signalling, the
re-exec spawner used for detachment, pid file watching and the lifecycle
journal.

# PID Files

The pid file holds the daemon's decimal pid and a newline. It is written
by the detached process itself and never through a symlink:

	pf := lifecycle.NewPIDFileManager("/run/spooler.pid")
	if err := pf.Write(os.Getpid()); err != nil {
	    // Handle error
	}
	defer pf.Remove()

Concurrent starts on one host are serialised with an advisory lock next
to the pid file:

	lock := lifecycle.NewAdmissionLock(pf.Path())
	if err := lock.Acquire(ctx, 5*time.Second); err != nil {
	    // Another start is in progress
	}
	defer lock.Release()

# Process Operations

Liveness is a signal 0 probe. Stopping escalates from SIGTERM to SIGKILL:

	if lifecycle.IsProcessRunning(pid) {
	    res, err := lifecycle.GracefulShutdown(pid, lifecycle.EscalationPolicy{
	        Interval: 100 * time.Millisecond,
	        Attempts: 50,
	        KillWait: 5 * time.Second,
	    })
	}

# Waiting for Startup

	pid, err := lifecycle.WaitForPIDFile(ctx, "/run/spooler.pid", 5*time.Second)

# Lifecycle Journal

Lifecycle events are appended to a JSON-lines journal for audit purposes:

	journal := lifecycle.NewLifecycleLogger("/var/lib/spooler/lifecycle.log", instanceID)
	journal.LogStart(os.Args[1:])
	journal.LogStopSuccess(pid, elapsed, nil)
*/
package lifecycle
