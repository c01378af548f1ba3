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
Package daemon turns a long-running task into a well-behaved UNIX
background process.

A Controller owns one pid file. Start detaches the current program from
its terminal with a double fork, records the daemon's pid and runs the
payload; Stop asks the recorded process to terminate and kills it if it
does not; Restart does both.

Go cannot fork a multi-threaded runtime, so each fork is a re-execution
of the current binary with a stage marker in the environment. The
program must therefore call Start at the same point on every execution,
with the same configuration and arguments:

	func main() {
		ctrl, err := daemon.New(daemon.Config{
			PIDFile: "/run/heartbeat.pid",
			LogName: "heartbeat",
		}, daemon.RunFunc(beat))
		if err != nil {
			log.Fatal(err)
		}
		if err := ctrl.Start(context.Background()); err != nil {
			fmt.Fprintln(os.Stderr, err)
			os.Exit(1)
		}
	}

Stage 0, the invoking process, checks the pid file, re-executes itself
and exits. Stage 1 changes directory, starts a new session, clears the
umask, re-executes itself again and exits. Stage 2, which is not a
session leader and so can never reacquire a terminal, redirects its
standard descriptors, installs SIGTERM and SIGINT handling, writes the
pid file and runs the payload. Start only returns in stage 0, or in any
stage when an exit hook installed with WithExit returns.

# Payload

The payload is a Runner. Cancellation of the context passed to Run is
the stop request. Returning nil, context.Canceled or ErrStopRequested is
a normal exit. Any other error, or a panic, is logged frame by frame to
the log sink and the process exits with status 1. Payloads can attach
their own call stack to returned errors with errors.WithStack from
github.com/tombee/daemonkit/pkg/errors.

# Log sink

Every lifecycle transition is logged to the sink named by
Config.LogSink, which defaults to syslog with facility LOG_DAEMON and
the tag Config.LogName.
*/
package daemon
