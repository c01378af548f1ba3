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

//go:build !windows && !plan9

package log

import (
	"bytes"
	"context"
	"io"
	"log/slog"
	"log/syslog"
	"strings"
	"sync"
)

// syslogWriter is the subset of *syslog.Writer the handler needs.
type syslogWriter interface {
	Debug(m string) error
	Info(m string) error
	Warning(m string) error
	Err(m string) error
	Close() error
}

// SyslogHandler is a slog.Handler that forwards records to the system
// logger under facility LOG_DAEMON. Record levels map to syslog
// priorities: error to LOG_ERR, warn to LOG_WARNING, info to LOG_INFO and
// anything lower to LOG_DEBUG.
type SyslogHandler struct {
	mu    *sync.Mutex
	w     syslogWriter
	buf   *bytes.Buffer
	attrs slog.Handler
	level slog.Leveler
}

func openSyslog(tag string, cfg *Config) (slog.Handler, io.Closer, error) {
	w, err := syslog.New(syslog.LOG_DAEMON|syslog.LOG_INFO, tag)
	if err != nil {
		return nil, nil, err
	}
	return newSyslogHandler(w, parseLevel(cfg.Level)), w, nil
}

func newSyslogHandler(w syslogWriter, level slog.Leveler) *SyslogHandler {
	buf := &bytes.Buffer{}
	// syslog stamps time and priority itself; the message is written
	// bare and only the attributes go through the text encoder.
	attrs := slog.NewTextHandler(buf, &slog.HandlerOptions{
		Level: LevelTrace,
		ReplaceAttr: func(groups []string, a slog.Attr) slog.Attr {
			if len(groups) == 0 {
				switch a.Key {
				case slog.TimeKey, slog.LevelKey, slog.MessageKey:
					return slog.Attr{}
				}
			}
			return a
		},
	})
	return &SyslogHandler{mu: &sync.Mutex{}, w: w, buf: buf, attrs: attrs, level: level}
}

// Enabled implements slog.Handler.
func (h *SyslogHandler) Enabled(_ context.Context, level slog.Level) bool {
	return level >= h.level.Level()
}

// Handle implements slog.Handler.
func (h *SyslogHandler) Handle(ctx context.Context, r slog.Record) error {
	h.mu.Lock()
	defer h.mu.Unlock()

	h.buf.Reset()
	if err := h.attrs.Handle(ctx, r); err != nil {
		return err
	}

	line := r.Message
	if rest := strings.TrimSpace(h.buf.String()); rest != "" {
		line += " " + rest
	}

	switch {
	case r.Level >= slog.LevelError:
		return h.w.Err(line)
	case r.Level >= slog.LevelWarn:
		return h.w.Warning(line)
	case r.Level >= slog.LevelInfo:
		return h.w.Info(line)
	default:
		return h.w.Debug(line)
	}
}

// WithAttrs implements slog.Handler.
func (h *SyslogHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	return &SyslogHandler{mu: h.mu, w: h.w, buf: h.buf, attrs: h.attrs.WithAttrs(attrs), level: h.level}
}

// WithGroup implements slog.Handler.
func (h *SyslogHandler) WithGroup(name string) slog.Handler {
	return &SyslogHandler{mu: h.mu, w: h.w, buf: h.buf, attrs: h.attrs.WithGroup(name), level: h.level}
}
