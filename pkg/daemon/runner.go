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

package daemon

import (
	"context"
	"errors"
	"fmt"

	daemonerrors "github.com/tombee/daemonkit/pkg/errors"
)

// ErrStopRequested may be returned by a payload to end the daemon
// normally.
var ErrStopRequested = errors.New("daemon: stop requested")

// Runner is the work performed once the process has detached.
// Run should return when ctx is cancelled.
type Runner interface {
	Run(ctx context.Context) error
}

// RunFunc adapts an ordinary function to the Runner interface.
type RunFunc func(ctx context.Context) error

// Run calls f(ctx).
func (f RunFunc) Run(ctx context.Context) error {
	return f(ctx)
}

// isNormalExit reports whether a payload result is a requested or clean
// shutdown rather than a failure.
func isNormalExit(err error) bool {
	return err == nil ||
		errors.Is(err, context.Canceled) ||
		errors.Is(err, ErrStopRequested)
}

// runPayload runs r and returns nil on a normal exit. Abnormal errors and
// recovered panics are returned as *errors.PayloadError carrying the
// stack of the failure.
func runPayload(ctx context.Context, r Runner) (err error) {
	defer func() {
		v := recover()
		if v == nil {
			return
		}
		pcs := daemonerrors.Callers(1)
		cause, ok := v.(error)
		if !ok {
			cause = fmt.Errorf("%v", v)
		}
		err = &daemonerrors.PayloadError{
			Cause:    cause,
			Panicked: true,
			Frames:   daemonerrors.FramesFromPCs(pcs),
		}
	}()

	err = r.Run(ctx)
	if isNormalExit(err) {
		return nil
	}
	return &daemonerrors.PayloadError{
		Cause:  err,
		Frames: daemonerrors.StackOf(err),
	}
}
