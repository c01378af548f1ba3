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
	"os"
	"path/filepath"
	"time"

	"github.com/gofrs/flock"
)

var (
	// ErrAdmissionLocked is returned when another start holds the
	// admission lock for the same pid file.
	ErrAdmissionLocked = errors.New("another start is in progress for this PID file")
)

// admissionRetry is the delay between admission lock attempts.
const admissionRetry = 50 * time.Millisecond

// AdmissionLock serialises start attempts on one host for a pid file.
// It is an advisory flock on "<pidfile>.lock" and is held only by the
// launching process, never by the daemon itself.
type AdmissionLock struct {
	lock *flock.Flock
}

// NewAdmissionLock creates the admission lock guarding pidPath.
func NewAdmissionLock(pidPath string) *AdmissionLock {
	return &AdmissionLock{lock: flock.New(pidPath + ".lock")}
}

// Path returns the lock file path.
func (a *AdmissionLock) Path() string {
	return a.lock.Path()
}

// Acquire takes the lock, waiting up to timeout for a concurrent holder.
// Returns ErrAdmissionLocked if the lock is still held when timeout elapses.
func (a *AdmissionLock) Acquire(ctx context.Context, timeout time.Duration) error {
	if err := os.MkdirAll(filepath.Dir(a.lock.Path()), 0755); err != nil {
		return fmt.Errorf("failed to create lock directory: %w", err)
	}

	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	locked, err := a.lock.TryLockContext(ctx, admissionRetry)
	if err != nil && !errors.Is(err, context.DeadlineExceeded) {
		return fmt.Errorf("failed to acquire admission lock: %w", err)
	}
	if !locked {
		return ErrAdmissionLocked
	}
	return nil
}

// Release drops the lock. The lock file itself is left in place.
func (a *AdmissionLock) Release() error {
	return a.lock.Unlock()
}
