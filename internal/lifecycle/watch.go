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
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"
)

var (
	// ErrPIDFileTimeout is returned when no valid pid file appears in time.
	ErrPIDFileTimeout = errors.New("timed out waiting for PID file")
)

// WaitForPIDFile blocks until path holds a valid pid and returns it.
//
// The parent directory is watched with fsnotify so a new file is noticed
// promptly. Polling with exponential backoff (50ms to 1s) runs alongside,
// and alone when the directory cannot be watched. Returns an error
// wrapping ErrPIDFileTimeout when timeout elapses first.
func WaitForPIDFile(ctx context.Context, path string, timeout time.Duration) (int, error) {
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	m := NewPIDFileManager(path)

	var (
		events <-chan fsnotify.Event
		errs   <-chan error
	)
	if w, err := fsnotify.NewWatcher(); err == nil {
		defer w.Close()
		if err := w.Add(filepath.Dir(path)); err == nil {
			events, errs = w.Events, w.Errors
		}
	}

	backoff := NewBackoff()
	for {
		if pid, err := m.Read(); err == nil {
			return pid, nil
		}

		timer := time.NewTimer(backoff.Next())
		select {
		case <-ctx.Done():
			timer.Stop()
			if errors.Is(ctx.Err(), context.DeadlineExceeded) {
				return 0, fmt.Errorf("%w: %s after %v", ErrPIDFileTimeout, path, timeout)
			}
			return 0, ctx.Err()
		case _, ok := <-events:
			if !ok {
				events = nil
			}
		case _, ok := <-errs:
			if !ok {
				errs = nil
			}
		case <-timer.C:
		}
		timer.Stop()
	}
}
