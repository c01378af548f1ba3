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
	"os"
	"path/filepath"
	"testing"
)

func TestPIDFileManager_Write(t *testing.T) {
	tmpDir := t.TempDir()

	t.Run("writes pid and newline", func(t *testing.T) {
		pidPath := filepath.Join(tmpDir, "test.pid")
		m := NewPIDFileManager(pidPath)

		if err := m.Write(1234); err != nil {
			t.Fatalf("Write() error = %v", err)
		}

		data, err := os.ReadFile(pidPath)
		if err != nil {
			t.Fatalf("ReadFile() error = %v", err)
		}
		if string(data) != "1234\n" {
			t.Errorf("file content = %q, want %q", data, "1234\n")
		}

		info, err := os.Stat(pidPath)
		if err != nil {
			t.Fatalf("Stat() error = %v", err)
		}
		if !info.Mode().IsRegular() {
			t.Errorf("PID file mode = %v, want regular file", info.Mode())
		}
	})

	t.Run("truncates existing file", func(t *testing.T) {
		pidPath := filepath.Join(tmpDir, "stale.pid")
		if err := os.WriteFile(pidPath, []byte("99999999\n"), 0644); err != nil {
			t.Fatal(err)
		}

		m := NewPIDFileManager(pidPath)
		if err := m.Write(7); err != nil {
			t.Fatalf("Write() error = %v", err)
		}

		data, _ := os.ReadFile(pidPath)
		if string(data) != "7\n" {
			t.Errorf("file content = %q, want %q", data, "7\n")
		}
	})

	t.Run("creates parent directory if missing", func(t *testing.T) {
		deepPath := filepath.Join(tmpDir, "nested", "dir", "test.pid")
		m := NewPIDFileManager(deepPath)

		if err := m.Write(1234); err != nil {
			t.Fatalf("Write() error = %v", err)
		}
		if !m.Exists() {
			t.Error("PID file does not exist after Write()")
		}
	})

	t.Run("refuses to follow a symlink", func(t *testing.T) {
		target := filepath.Join(tmpDir, "victim")
		if err := os.WriteFile(target, []byte("keep"), 0644); err != nil {
			t.Fatal(err)
		}
		link := filepath.Join(tmpDir, "link.pid")
		if err := os.Symlink(target, link); err != nil {
			t.Fatal(err)
		}

		if err := NewPIDFileManager(link).Write(1234); err == nil {
			t.Fatal("Write() through symlink succeeded, want error")
		}

		data, _ := os.ReadFile(target)
		if string(data) != "keep" {
			t.Errorf("symlink target modified: %q", data)
		}
	})

	t.Run("rejects non-positive pid", func(t *testing.T) {
		err := NewPIDFileManager(filepath.Join(tmpDir, "zero.pid")).Write(0)
		if !errors.Is(err, ErrInvalidPID) {
			t.Errorf("Write(0) error = %v, want ErrInvalidPID", err)
		}
	})
}

func TestPIDFileManager_Read(t *testing.T) {
	tmpDir := t.TempDir()

	t.Run("round trips written pid", func(t *testing.T) {
		m := NewPIDFileManager(filepath.Join(tmpDir, "valid.pid"))
		for _, pid := range []int{1, 4242, 4194304} {
			if err := m.Write(pid); err != nil {
				t.Fatalf("Write(%d) error = %v", pid, err)
			}
			got, err := m.Read()
			if err != nil {
				t.Fatalf("Read() error = %v", err)
			}
			if got != pid {
				t.Errorf("Read() = %d, want %d", got, pid)
			}
		}
	})

	t.Run("returns error for non-existent file", func(t *testing.T) {
		m := NewPIDFileManager(filepath.Join(tmpDir, "nonexistent.pid"))

		_, err := m.Read()
		if !os.IsNotExist(err) {
			t.Errorf("Read() error = %v, want os.IsNotExist", err)
		}
		if m.Recorded() != 0 {
			t.Errorf("Recorded() = %d, want 0", m.Recorded())
		}
	})

	t.Run("returns error for invalid PID", func(t *testing.T) {
		tests := []struct {
			name    string
			content string
		}{
			{"non-numeric", "not-a-number\n"},
			{"negative", "-123\n"},
			{"zero", "0\n"},
			{"float", "123.45\n"},
			{"empty", ""},
		}

		for _, tt := range tests {
			t.Run(tt.name, func(t *testing.T) {
				pidPath := filepath.Join(tmpDir, tt.name+".pid")
				if err := os.WriteFile(pidPath, []byte(tt.content), 0600); err != nil {
					t.Fatalf("Failed to create test file: %v", err)
				}

				m := NewPIDFileManager(pidPath)
				if _, err := m.Read(); !errors.Is(err, ErrInvalidPID) {
					t.Errorf("Read() error = %v, want ErrInvalidPID", err)
				}
				if m.Recorded() != 0 {
					t.Errorf("Recorded() = %d, want 0", m.Recorded())
				}
			})
		}
	})

	t.Run("handles whitespace", func(t *testing.T) {
		pidPath := filepath.Join(tmpDir, "whitespace.pid")
		if err := os.WriteFile(pidPath, []byte("  1234  \n"), 0600); err != nil {
			t.Fatalf("Failed to create test file: %v", err)
		}

		if pid := NewPIDFileManager(pidPath).Recorded(); pid != 1234 {
			t.Errorf("Recorded() = %d, want 1234", pid)
		}
	})
}

func TestPIDFileManager_Remove(t *testing.T) {
	tmpDir := t.TempDir()

	t.Run("removes PID file", func(t *testing.T) {
		m := NewPIDFileManager(filepath.Join(tmpDir, "remove.pid"))
		if err := m.Write(1234); err != nil {
			t.Fatalf("Write() error = %v", err)
		}

		if err := m.Remove(); err != nil {
			t.Fatalf("Remove() error = %v", err)
		}
		if m.Exists() {
			t.Error("PID file still exists after Remove()")
		}
	})

	t.Run("succeeds if file already removed", func(t *testing.T) {
		m := NewPIDFileManager(filepath.Join(tmpDir, "already-removed.pid"))
		if err := m.Remove(); err != nil {
			t.Errorf("Remove() error = %v, want nil", err)
		}
	})
}
