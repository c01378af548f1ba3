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
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestWaitForPIDFile(t *testing.T) {
	t.Run("returns existing pid at once", func(t *testing.T) {
		path := filepath.Join(t.TempDir(), "d.pid")
		if err := NewPIDFileManager(path).Write(321); err != nil {
			t.Fatal(err)
		}

		pid, err := WaitForPIDFile(context.Background(), path, time.Second)
		if err != nil {
			t.Fatalf("WaitForPIDFile() error = %v", err)
		}
		if pid != 321 {
			t.Errorf("pid = %d, want 321", pid)
		}
	})

	t.Run("notices a file written later", func(t *testing.T) {
		path := filepath.Join(t.TempDir(), "d.pid")
		go func() {
			time.Sleep(150 * time.Millisecond)
			// An empty file is not a valid pid yet.
			os.WriteFile(path, nil, 0644)
			time.Sleep(50 * time.Millisecond)
			NewPIDFileManager(path).Write(654)
		}()

		pid, err := WaitForPIDFile(context.Background(), path, 5*time.Second)
		if err != nil {
			t.Fatalf("WaitForPIDFile() error = %v", err)
		}
		if pid != 654 {
			t.Errorf("pid = %d, want 654", pid)
		}
	})

	t.Run("polls when the directory does not exist yet", func(t *testing.T) {
		path := filepath.Join(t.TempDir(), "later", "d.pid")
		go func() {
			time.Sleep(100 * time.Millisecond)
			NewPIDFileManager(path).Write(987)
		}()

		pid, err := WaitForPIDFile(context.Background(), path, 5*time.Second)
		if err != nil {
			t.Fatalf("WaitForPIDFile() error = %v", err)
		}
		if pid != 987 {
			t.Errorf("pid = %d, want 987", pid)
		}
	})

	t.Run("times out", func(t *testing.T) {
		path := filepath.Join(t.TempDir(), "never.pid")

		_, err := WaitForPIDFile(context.Background(), path, 200*time.Millisecond)
		if !errors.Is(err, ErrPIDFileTimeout) {
			t.Errorf("WaitForPIDFile() error = %v, want ErrPIDFileTimeout", err)
		}
	})

	t.Run("honours cancellation", func(t *testing.T) {
		ctx, cancel := context.WithCancel(context.Background())
		cancel()

		_, err := WaitForPIDFile(ctx, filepath.Join(t.TempDir(), "x.pid"), time.Minute)
		if !errors.Is(err, context.Canceled) {
			t.Errorf("WaitForPIDFile() error = %v, want context.Canceled", err)
		}
	})
}
