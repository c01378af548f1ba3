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

package cli

import (
	"errors"
	"fmt"
	"io"
	"os"

	pkgerrors "github.com/tombee/daemonkit/pkg/errors"
)

// Exit codes for daemonctl commands
const (
	ExitSuccess        = 0
	ExitFailure        = 1
	ExitAlreadyRunning = 3
	ExitConfigError    = 4
)

// ExitError is an error that carries an exit code
type ExitError struct {
	Code    int
	Message string
	Cause   error
}

func (e *ExitError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Cause)
	}
	return e.Message
}

func (e *ExitError) Unwrap() error {
	return e.Cause
}

// NewFailureError creates an error for failed daemon operations
func NewFailureError(msg string, cause error) *ExitError {
	return &ExitError{
		Code:    ExitFailure,
		Message: msg,
		Cause:   cause,
	}
}

// NewConfigError creates an error for configuration that cannot be used
func NewConfigError(msg string, cause error) *ExitError {
	return &ExitError{
		Code:    ExitConfigError,
		Message: msg,
		Cause:   cause,
	}
}

// ExitCode maps err to the process exit status.
func ExitCode(err error) int {
	if err == nil {
		return ExitSuccess
	}

	var exitErr *ExitError
	if errors.As(err, &exitErr) {
		return exitErr.Code
	}

	var running *pkgerrors.AlreadyRunningError
	if errors.As(err, &running) {
		return ExitAlreadyRunning
	}

	var cfgErr *pkgerrors.ConfigError
	if errors.As(err, &cfgErr) {
		return ExitConfigError
	}

	return ExitFailure
}

// PrintError writes err and any user visible suggestion to w.
func PrintError(w io.Writer, err error) {
	if err == nil {
		return
	}

	msg := err.Error()
	if userErr, ok := userVisible(err); ok && userErr.UserMessage() != "" {
		msg = userErr.UserMessage()
	}
	if len(msg) > 0 {
		fmt.Fprintln(w, "Error:", msg)
	}

	printUserVisibleSuggestion(w, err)
}

// HandleExitError prints err and exits with the code it maps to
func HandleExitError(err error) {
	if err == nil {
		return
	}

	PrintError(os.Stderr, err)
	os.Exit(ExitCode(err))
}

// userVisible finds the first UserVisibleError in the chain that wants to
// be shown.
func userVisible(err error) (pkgerrors.UserVisibleError, bool) {
	for err != nil {
		if userErr, ok := err.(pkgerrors.UserVisibleError); ok {
			return userErr, userErr.IsUserVisible()
		}
		err = errors.Unwrap(err)
	}
	return nil, false
}

// printUserVisibleSuggestion checks if an error implements UserVisibleError
// and prints the suggestion if available.
func printUserVisibleSuggestion(w io.Writer, err error) {
	userErr, ok := userVisible(err)
	if !ok {
		return
	}
	if suggestion := userErr.Suggestion(); suggestion != "" {
		fmt.Fprintf(w, "\nSuggestion: %s\n", suggestion)
	}
}
