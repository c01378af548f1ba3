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
	"fmt"
	"os"
	"os/exec"
	"strings"
)

// Spawner starts a child process and lets it run on its own.
// The daemon controller uses it to re-execute the current binary for each
// detach stage.
type Spawner struct {
	// Env is the complete environment of the child process
	Env []string

	// Stdin, Stdout and Stderr become the child's descriptors 0, 1 and 2.
	// A nil file connects the descriptor to the null device.
	Stdin, Stdout, Stderr *os.File
}

// NewSpawner creates a spawner that passes the current environment and
// standard descriptors through to the child.
func NewSpawner() *Spawner {
	return &Spawner{
		Env:    os.Environ(),
		Stdin:  os.Stdin,
		Stdout: os.Stdout,
		Stderr: os.Stderr,
	}
}

// WithEnv sets the environment for the spawned process.
func (s *Spawner) WithEnv(env []string) *Spawner {
	s.Env = env
	return s
}

// Spawn starts binary with args and returns the child's PID without
// waiting for it. The child is released, so the caller may exit at once.
func (s *Spawner) Spawn(binary string, args []string) (int, error) {
	cmd := exec.Command(binary, args...)
	cmd.Env = s.Env

	// exec.Cmd treats a nil interface as "null device"; a typed nil
	// *os.File would not be.
	if s.Stdin != nil {
		cmd.Stdin = s.Stdin
	}
	if s.Stdout != nil {
		cmd.Stdout = s.Stdout
	}
	if s.Stderr != nil {
		cmd.Stderr = s.Stderr
	}

	if err := cmd.Start(); err != nil {
		return 0, fmt.Errorf("failed to start process: %w", err)
	}

	pid := cmd.Process.Pid

	// Release the process (don't wait for it)
	if err := cmd.Process.Release(); err != nil {
		return pid, fmt.Errorf("process started but failed to release: %w", err)
	}

	return pid, nil
}

// SetEnv returns env with key set to value, replacing any previous value.
func SetEnv(env []string, key, value string) []string {
	return append(UnsetEnv(env, key), key+"="+value)
}

// UnsetEnv returns a copy of env without key.
func UnsetEnv(env []string, key string) []string {
	prefix := key + "="
	out := make([]string, 0, len(env)+1)
	for _, kv := range env {
		if !strings.HasPrefix(kv, prefix) {
			out = append(out, kv)
		}
	}
	return out
}
