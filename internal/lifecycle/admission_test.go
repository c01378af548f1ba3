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
	"path/filepath"
	"testing"
	"time"
)

func TestAdmissionLock(t *testing.T) {
	pidPath := filepath.Join(t.TempDir(), "run", "d.pid")

	first := NewAdmissionLock(pidPath)
	if got, want := first.Path(), pidPath+".lock"; got != want {
		t.Errorf("Path() = %q, want %q", got, want)
	}
	if err := first.Acquire(context.Background(), time.Second); err != nil {
		t.Fatalf("first Acquire() error = %v", err)
	}

	second := NewAdmissionLock(pidPath)
	start := time.Now()
	err := second.Acquire(context.Background(), 150*time.Millisecond)
	if !errors.Is(err, ErrAdmissionLocked) {
		t.Fatalf("second Acquire() error = %v, want ErrAdmissionLocked", err)
	}
	if elapsed := time.Since(start); elapsed < 100*time.Millisecond {
		t.Errorf("second Acquire() gave up after %v, want it to wait", elapsed)
	}

	if err := first.Release(); err != nil {
		t.Fatalf("Release() error = %v", err)
	}
	if err := second.Acquire(context.Background(), time.Second); err != nil {
		t.Fatalf("Acquire() after release error = %v", err)
	}
	second.Release()
}
