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

package errors

import (
	"fmt"
	"time"
)

// ConfigError represents configuration problems.
// Use this for configuration file errors, missing settings, or invalid config values.
type ConfigError struct {
	// Key is the configuration key that has the problem (e.g., "pid_file", "stop.interval")
	Key string

	// Reason explains what's wrong with the configuration
	Reason string

	// Cause is the underlying error (e.g., file read error, parse error)
	Cause error
}

// Error implements the error interface.
func (e *ConfigError) Error() string {
	msg := fmt.Sprintf("config error: %s", e.Reason)
	if e.Key != "" {
		msg = fmt.Sprintf("config error at %s: %s", e.Key, e.Reason)
	}
	if e.Cause != nil {
		msg = fmt.Sprintf("%s: %v", msg, e.Cause)
	}
	return msg
}

// Unwrap returns the underlying cause for errors.Is/As support.
func (e *ConfigError) Unwrap() error {
	return e.Cause
}

// TimeoutError represents operation timeouts.
// Use this when an operation exceeds its configured bound.
type TimeoutError struct {
	// Operation describes what timed out (e.g., "stop", "pid file wait")
	Operation string

	// Duration is how long the operation ran before timing out
	Duration time.Duration

	// Cause is the underlying error (if any)
	Cause error
}

// Error implements the error interface.
func (e *TimeoutError) Error() string {
	return fmt.Sprintf("%s operation timed out after %v", e.Operation, e.Duration)
}

// Unwrap returns the underlying cause for errors.Is/As support.
func (e *TimeoutError) Unwrap() error {
	return e.Cause
}

// DetachError represents a failure in the detach sequence.
// Any DetachError is fatal: no pid file has been written when it is returned.
type DetachError struct {
	// Stage is the detach stage that failed (0 = invoking process,
	// 1 = session leader, 2 = final daemon process)
	Stage int

	// Step names the failing operation (e.g., "fork", "setsid", "redirect", "write pid file")
	Step string

	// Cause is the underlying system error
	Cause error
}

// Error implements the error interface.
func (e *DetachError) Error() string {
	return fmt.Sprintf("detach stage %d: %s failed: %v", e.Stage, e.Step, e.Cause)
}

// Unwrap returns the underlying cause for errors.Is/As support.
func (e *DetachError) Unwrap() error {
	return e.Cause
}

// AlreadyRunningError is returned when start finds a live process recorded
// in the pid file. No state has been changed when it is returned.
type AlreadyRunningError struct {
	// PID is the live process recorded in the pid file
	PID int

	// PIDFile is the path of the pid file
	PIDFile string
}

// Error implements the error interface.
func (e *AlreadyRunningError) Error() string {
	return fmt.Sprintf("pid file %s exists and daemon process %d is already running", e.PIDFile, e.PID)
}

// IsUserVisible implements UserVisibleError.
func (e *AlreadyRunningError) IsUserVisible() bool {
	return true
}

// UserMessage implements UserVisibleError.
func (e *AlreadyRunningError) UserMessage() string {
	return fmt.Sprintf("Daemon is already running (PID %d)", e.PID)
}

// Suggestion implements UserVisibleError.
func (e *AlreadyRunningError) Suggestion() string {
	return "Stop the running instance first, or use restart"
}

// PayloadError represents an abnormal exit of the daemon payload.
type PayloadError struct {
	// Cause is the error returned by the payload, or the recovered panic value
	Cause error

	// Panicked is true when the payload panicked rather than returning
	Panicked bool

	// Frames is the call stack at the point of failure, innermost first.
	// Empty when the payload returned an error without a recorded stack.
	Frames []Frame
}

// Error implements the error interface.
func (e *PayloadError) Error() string {
	if e.Panicked {
		return fmt.Sprintf("payload panicked: %v", e.Cause)
	}
	return fmt.Sprintf("payload failed: %v", e.Cause)
}

// Unwrap returns the underlying cause for errors.Is/As support.
func (e *PayloadError) Unwrap() error {
	return e.Cause
}
