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
	"bufio"
	"errors"
	"os"
	"runtime"
	"strings"
	"sync"
)

// maxStackDepth bounds the number of program counters recorded per stack.
const maxStackDepth = 64

// Frame is a single resolved call-stack entry.
type Frame struct {
	// File is the absolute source file path
	File string

	// Line is the line number within File
	Line int

	// Function is the fully qualified function name
	Function string

	// Statement is the trimmed source text at File:Line, or empty when
	// the source is not available on this machine
	Statement string
}

// StackTracer is implemented by errors that carry a recorded call stack.
type StackTracer interface {
	StackFrames() []Frame
}

type stackError struct {
	err error
	pcs []uintptr
}

func (e *stackError) Error() string { return e.err.Error() }

func (e *stackError) Unwrap() error { return e.err }

func (e *stackError) StackFrames() []Frame { return FramesFromPCs(e.pcs) }

// WithStack annotates err with the call stack of its caller.
// If err is nil, returns nil. If err already carries a stack, it is
// returned unchanged so the innermost stack wins.
func WithStack(err error) error {
	if err == nil {
		return nil
	}
	var st StackTracer
	if errors.As(err, &st) {
		return err
	}
	return &stackError{err: err, pcs: Callers(1)}
}

// StackOf returns the frames recorded anywhere in err's chain, or nil.
func StackOf(err error) []Frame {
	var st StackTracer
	if errors.As(err, &st) {
		return st.StackFrames()
	}
	return nil
}

// Callers records the program counters of the calling goroutine.
// skip=0 starts at the caller of Callers.
func Callers(skip int) []uintptr {
	pcs := make([]uintptr, maxStackDepth)
	n := runtime.Callers(skip+2, pcs)
	return pcs[:n]
}

// FramesFromPCs resolves program counters into frames, dropping Go
// runtime internals such as runtime.gopanic.
func FramesFromPCs(pcs []uintptr) []Frame {
	if len(pcs) == 0 {
		return nil
	}

	var out []Frame
	frames := runtime.CallersFrames(pcs)
	for {
		f, more := frames.Next()
		if f.Function != "" && !strings.HasPrefix(f.Function, "runtime.") {
			out = append(out, Frame{
				File:      f.File,
				Line:      f.Line,
				Function:  f.Function,
				Statement: sources.line(f.File, f.Line),
			})
		}
		if !more {
			break
		}
	}
	return out
}

// sourceCache memoizes source files read for statement lookup.
// Files that cannot be read are cached as nil.
type sourceCache struct {
	mu    sync.Mutex
	files map[string][]string
}

var sources = &sourceCache{files: make(map[string][]string)}

func (c *sourceCache) line(file string, line int) string {
	if file == "" || line <= 0 {
		return ""
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	lines, ok := c.files[file]
	if !ok {
		lines = readLines(file)
		c.files[file] = lines
	}
	if line > len(lines) {
		return ""
	}
	return strings.TrimSpace(lines[line-1])
}

func readLines(path string) []string {
	f, err := os.Open(path)
	if err != nil {
		return nil
	}
	defer f.Close()

	var lines []string
	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for scanner.Scan() {
		lines = append(lines, scanner.Text())
	}
	return lines
}
