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

package log

import (
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
)

// Sink names understood by OpenSink. Any other value is treated as a
// file path that records are appended to.
const (
	SinkSyslog  = "syslog"
	SinkStderr  = "stderr"
	SinkStdout  = "stdout"
	SinkDiscard = "discard"
)

// IsBuiltinSink reports whether sink names a builtin sink rather than a
// file path.
func IsBuiltinSink(sink string) bool {
	switch sink {
	case SinkSyslog, SinkStderr, SinkStdout, SinkDiscard:
		return true
	}
	return false
}

type nopCloser struct{}

func (nopCloser) Close() error { return nil }

// OpenSink opens the named operational log sink and returns a logger
// writing to it. tag identifies the daemon (the syslog tag for the syslog
// sink). The returned Closer releases the sink and must be called when
// the logger is no longer used.
//
// An empty sink selects syslog.
func OpenSink(sink, tag string, cfg *Config) (*slog.Logger, io.Closer, error) {
	if cfg == nil {
		cfg = DefaultConfig()
	}

	switch sink {
	case "", SinkSyslog:
		h, closer, err := openSyslog(tag, cfg)
		if err != nil {
			return nil, nil, fmt.Errorf("opening syslog sink %q: %w", tag, err)
		}
		return slog.New(h), closer, nil
	case SinkStderr:
		return slog.New(newHandler(cfg, os.Stderr)), nopCloser{}, nil
	case SinkStdout:
		return slog.New(newHandler(cfg, os.Stdout)), nopCloser{}, nil
	case SinkDiscard:
		return slog.New(newHandler(cfg, io.Discard)), nopCloser{}, nil
	}

	if err := os.MkdirAll(filepath.Dir(sink), 0755); err != nil {
		return nil, nil, fmt.Errorf("creating log directory for %s: %w", sink, err)
	}
	f, err := os.OpenFile(sink, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
	if err != nil {
		return nil, nil, fmt.Errorf("opening log file %s: %w", sink, err)
	}
	return slog.New(newHandler(cfg, f)), f, nil
}
