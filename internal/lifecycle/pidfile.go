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
	"path/filepath"
	"strconv"
	"strings"

	"golang.org/x/sys/unix"
)

var (
	// ErrInvalidPID is returned when the PID file contains invalid data.
	ErrInvalidPID = errors.New("invalid PID in file")
)

// PIDFileManager reads and writes a daemon's pid file.
//
// The file holds the decimal pid followed by a newline. It is written
// with O_NOFOLLOW so a symlink planted at the path is never followed.
type PIDFileManager struct {
	path string
}

// NewPIDFileManager creates a new PID file manager for the given path.
func NewPIDFileManager(path string) *PIDFileManager {
	return &PIDFileManager{
		path: path,
	}
}

// Path returns the managed pid file path.
func (m *PIDFileManager) Path() string {
	return m.path
}

// Write records pid in the file, creating it or truncating an existing
// one. The parent directory is created if needed.
func (m *PIDFileManager) Write(pid int) error {
	if pid <= 0 {
		return fmt.Errorf("%w: PID must be positive, got %d", ErrInvalidPID, pid)
	}

	if err := os.MkdirAll(filepath.Dir(m.path), 0755); err != nil {
		return fmt.Errorf("failed to create PID file directory: %w", err)
	}

	f, err := os.OpenFile(m.path, os.O_WRONLY|os.O_CREATE|os.O_TRUNC|unix.O_NOFOLLOW, 0644)
	if err != nil {
		return fmt.Errorf("failed to open PID file: %w", err)
	}

	if _, err := f.WriteString(strconv.Itoa(pid) + "\n"); err != nil {
		f.Close()
		return fmt.Errorf("failed to write PID: %w", err)
	}

	if err := f.Sync(); err != nil {
		f.Close()
		return fmt.Errorf("failed to sync PID file: %w", err)
	}

	return f.Close()
}

// Read reads the PID from the file.
// Returns an error satisfying os.IsNotExist when there is no file and
// ErrInvalidPID if the file does not hold a positive integer.
func (m *PIDFileManager) Read() (int, error) {
	data, err := os.ReadFile(m.path)
	if err != nil {
		if os.IsNotExist(err) {
			return 0, err
		}
		return 0, fmt.Errorf("failed to read PID file: %w", err)
	}

	// Parse PID (trim whitespace and newlines)
	pidStr := strings.TrimSpace(string(data))
	pid, err := strconv.Atoi(pidStr)
	if err != nil {
		return 0, fmt.Errorf("%w: %q", ErrInvalidPID, pidStr)
	}

	if pid <= 0 {
		return 0, fmt.Errorf("%w: PID must be positive, got %d", ErrInvalidPID, pid)
	}

	return pid, nil
}

// Recorded returns the recorded pid, or 0 when the file is missing,
// unreadable or unparsable.
func (m *PIDFileManager) Recorded() int {
	pid, err := m.Read()
	if err != nil {
		return 0
	}
	return pid
}

// Remove deletes the PID file. A missing file is not an error.
func (m *PIDFileManager) Remove() error {
	if err := os.Remove(m.path); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("failed to remove PID file: %w", err)
	}
	return nil
}

// Exists returns true if the PID file exists.
func (m *PIDFileManager) Exists() bool {
	_, err := os.Lstat(m.path)
	return err == nil
}
