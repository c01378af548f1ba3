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

package lifecycle

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"syscall"
	"time"

	"golang.org/x/sys/unix"
)

var (
	// ErrShutdownTimeout is returned when the process doesn't exit within the timeout.
	ErrShutdownTimeout = errors.New("shutdown timeout exceeded")
)

// ProcessInfo contains information about a running process.
type ProcessInfo struct {
	PID     int
	Running bool
	Command string
}

// IsProcessRunning reports whether a signal can be delivered to pid.
// It sends signal 0: no error means alive. ESRCH and EPERM are both
// treated as not running, as is any non-positive pid.
func IsProcessRunning(pid int) bool {
	if pid <= 0 {
		return false
	}
	return unix.Kill(pid, 0) == nil
}

// SendSignal sends a signal to the given process.
// The returned error wraps the errno, so errors.Is(err, unix.ESRCH)
// identifies a process that has already gone.
func SendSignal(pid int, sig syscall.Signal) error {
	if pid <= 0 {
		return fmt.Errorf("refusing to signal PID %d: %w", pid, unix.ESRCH)
	}
	if err := unix.Kill(pid, sig); err != nil {
		return fmt.Errorf("failed to send %s to process %d: %w", SignalName(sig), pid, err)
	}
	return nil
}

// SignalName returns the symbolic name of the termination signals the
// daemon deals with (SIGTERM, SIGINT, SIGKILL) and the decimal signal
// number for anything else.
func SignalName(sig os.Signal) string {
	s, ok := sig.(syscall.Signal)
	if !ok {
		return sig.String()
	}
	switch s {
	case syscall.SIGTERM:
		return "SIGTERM"
	case syscall.SIGINT:
		return "SIGINT"
	case syscall.SIGKILL:
		return "SIGKILL"
	}
	return strconv.Itoa(int(s))
}

// WaitForExit waits for the process to exit, checking every interval.
// Returns ErrShutdownTimeout if the process is still running after timeout.
func WaitForExit(pid int, timeout, interval time.Duration) error {
	deadline := time.Now().Add(timeout)

	for {
		if !IsProcessRunning(pid) {
			return nil
		}
		if !time.Now().Before(deadline) {
			return ErrShutdownTimeout
		}
		time.Sleep(interval)
	}
}

// EscalationPolicy controls GracefulShutdown.
type EscalationPolicy struct {
	// Interval is the delay between SIGTERM deliveries.
	Interval time.Duration

	// Attempts is the number of SIGTERMs sent before SIGKILL.
	Attempts int

	// KillWait bounds how long to wait for the process to vanish after SIGKILL.
	KillWait time.Duration

	// OnSignal, if set, is called after each successful delivery.
	OnSignal func(sig syscall.Signal, attempt int)
}

// EscalationResult describes how a GracefulShutdown ended.
type EscalationResult struct {
	// Attempts is the number of SIGTERMs delivered.
	Attempts int

	// Forced is true when SIGKILL was delivered.
	Forced bool
}

// GracefulShutdown asks pid to terminate by sending SIGTERM every
// Interval. When Attempts deliveries have been made without the process
// exiting, SIGKILL is sent once. The loop ends as soon as a delivery
// fails, which means the process is gone.
//
// Signal delivery failures are never errors. The only error is
// ErrShutdownTimeout, returned when the process survives SIGKILL for
// KillWait.
func GracefulShutdown(pid int, p EscalationPolicy) (EscalationResult, error) {
	var res EscalationResult

	for {
		if err := SendSignal(pid, syscall.SIGTERM); err != nil {
			return res, nil
		}
		res.Attempts++
		if p.OnSignal != nil {
			p.OnSignal(syscall.SIGTERM, res.Attempts)
		}

		time.Sleep(p.Interval)

		if res.Attempts >= p.Attempts {
			break
		}
	}

	if err := SendSignal(pid, syscall.SIGKILL); err != nil {
		return res, nil
	}
	res.Forced = true
	if p.OnSignal != nil {
		p.OnSignal(syscall.SIGKILL, res.Attempts)
	}

	if err := WaitForExit(pid, p.KillWait, p.Interval); err != nil {
		return res, err
	}
	return res, nil
}

// GetProcessInfo returns information about the process with the given PID.
func GetProcessInfo(pid int) (*ProcessInfo, error) {
	info := &ProcessInfo{
		PID:     pid,
		Running: IsProcessRunning(pid),
	}

	if info.Running {
		cmd, err := getProcessCommand(pid)
		if err != nil {
			// Process exists but we can't read command - that's ok
			info.Command = "<unknown>"
		} else {
			info.Command = cmd
		}
	}

	return info, nil
}
