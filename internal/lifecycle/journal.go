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
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"
)

// Journal event names.
const (
	EventStart          = "start"
	EventStartSuccess   = "start_success"
	EventStartFailure   = "start_failure"
	EventAlreadyRunning = "already_running"
	EventStalePID       = "stale_pid_detected"
	EventStop           = "stop"
	EventStopEscalated  = "stop_escalated"
	EventStopSuccess    = "stop_success"
	EventNotRunning     = "not_running"
	EventSignalReceived = "signal_received"
	EventPayloadFailure = "payload_failure"
)

// LifecycleEvent represents a lifecycle event (start, stop, etc.).
type LifecycleEvent struct {
	Timestamp  time.Time         `json:"timestamp"`
	Event      string            `json:"event"`
	PID        int               `json:"pid,omitempty"`
	InstanceID string            `json:"instance_id,omitempty"`
	Success    bool              `json:"success"`
	Message    string            `json:"message,omitempty"`
	Flags      map[string]string `json:"flags,omitempty"`
	Error      string            `json:"error,omitempty"`
}

// LifecycleLogger appends lifecycle events to a JSON-lines journal.
// A logger with an empty path discards every event.
type LifecycleLogger struct {
	logPath    string
	instanceID string
	mu         sync.Mutex
}

// NewLifecycleLogger creates a new lifecycle logger. Events carry
// instanceID so records of one start invocation can be correlated.
func NewLifecycleLogger(logPath, instanceID string) *LifecycleLogger {
	return &LifecycleLogger{
		logPath:    logPath,
		instanceID: instanceID,
	}
}

// Enabled reports whether events are written anywhere.
func (l *LifecycleLogger) Enabled() bool {
	return l != nil && l.logPath != ""
}

// LogStart logs a start request.
func (l *LifecycleLogger) LogStart(args []string) error {
	return l.writeEvent(LifecycleEvent{
		Event:   EventStart,
		Success: true,
		Message: "Daemon start initiated",
		Flags:   parseFlags(args),
	})
}

// LogStartSuccess logs that the daemon is detached and recorded its pid.
// pid is 0 when the launcher did not wait for the pid file.
func (l *LifecycleLogger) LogStartSuccess(pid int, duration time.Duration) error {
	return l.writeEvent(LifecycleEvent{
		Event:   EventStartSuccess,
		PID:     pid,
		Success: true,
		Message: fmt.Sprintf("Daemon started (duration: %v)", duration),
	})
}

// LogStartFailure logs a failed start.
func (l *LifecycleLogger) LogStartFailure(err error) error {
	return l.writeEvent(LifecycleEvent{
		Event:   EventStartFailure,
		Success: false,
		Message: "Daemon failed to start",
		Error:   err.Error(),
	})
}

// LogAlreadyRunning logs a start refused because pid is alive.
func (l *LifecycleLogger) LogAlreadyRunning(pid int) error {
	return l.writeEvent(LifecycleEvent{
		Event:   EventAlreadyRunning,
		PID:     pid,
		Success: false,
		Message: "Daemon already running",
	})
}

// LogStalePID logs detection of a stale PID file.
func (l *LifecycleLogger) LogStalePID(pid int, reason string) error {
	return l.writeEvent(LifecycleEvent{
		Event:   EventStalePID,
		PID:     pid,
		Success: true,
		Message: fmt.Sprintf("Stale PID file detected: %s", reason),
	})
}

// LogStop logs the beginning of a stop.
func (l *LifecycleLogger) LogStop(pid int) error {
	return l.writeEvent(LifecycleEvent{
		Event:   EventStop,
		PID:     pid,
		Success: true,
		Message: "Daemon stop initiated",
	})
}

// LogStopEscalated logs that SIGKILL was sent after attempts SIGTERMs.
func (l *LifecycleLogger) LogStopEscalated(pid, attempts int) error {
	return l.writeEvent(LifecycleEvent{
		Event:   EventStopEscalated,
		PID:     pid,
		Success: true,
		Message: fmt.Sprintf("Daemon ignored %d termination requests, killed", attempts),
	})
}

// LogStopSuccess logs a completed stop.
func (l *LifecycleLogger) LogStopSuccess(pid int, duration time.Duration, err error) error {
	event := LifecycleEvent{
		Event:   EventStopSuccess,
		PID:     pid,
		Success: err == nil,
		Message: fmt.Sprintf("Daemon stopped (duration: %v)", duration),
	}
	if err != nil {
		event.Message = fmt.Sprintf("Daemon survived stop (duration: %v)", duration)
		event.Error = err.Error()
	}
	return l.writeEvent(event)
}

// LogNotRunning logs a stop with no recorded instance.
func (l *LifecycleLogger) LogNotRunning() error {
	return l.writeEvent(LifecycleEvent{
		Event:   EventNotRunning,
		Success: true,
		Message: "No PID recorded, daemon not running",
	})
}

// LogSignalReceived logs a termination signal delivered to the daemon.
func (l *LifecycleLogger) LogSignalReceived(pid int, signal string) error {
	return l.writeEvent(LifecycleEvent{
		Event:   EventSignalReceived,
		PID:     pid,
		Success: true,
		Message: "signal " + signal,
	})
}

// LogPayloadFailure logs an abnormal payload exit.
func (l *LifecycleLogger) LogPayloadFailure(pid int, err error) error {
	return l.writeEvent(LifecycleEvent{
		Event:   EventPayloadFailure,
		PID:     pid,
		Success: false,
		Message: "Payload exited abnormally",
		Error:   err.Error(),
	})
}

// writeEvent appends a lifecycle event to the journal.
func (l *LifecycleLogger) writeEvent(event LifecycleEvent) error {
	if !l.Enabled() {
		return nil
	}

	event.Timestamp = time.Now()
	event.InstanceID = l.instanceID

	data, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("failed to marshal event: %w", err)
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	if err := os.MkdirAll(filepath.Dir(l.logPath), 0700); err != nil {
		return fmt.Errorf("failed to create journal directory: %w", err)
	}

	f, err := os.OpenFile(l.logPath, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0600)
	if err != nil {
		return fmt.Errorf("failed to open lifecycle journal: %w", err)
	}
	defer f.Close()

	if _, err := f.Write(append(data, '\n')); err != nil {
		return fmt.Errorf("failed to write event: %w", err)
	}

	return nil
}

// ReadJournal returns every event recorded at path, oldest first.
func ReadJournal(path string) ([]LifecycleEvent, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	var events []LifecycleEvent
	for _, line := range strings.Split(string(data), "\n") {
		if strings.TrimSpace(line) == "" {
			continue
		}
		var ev LifecycleEvent
		if err := json.Unmarshal([]byte(line), &ev); err != nil {
			return nil, fmt.Errorf("failed to parse journal line: %w", err)
		}
		events = append(events, ev)
	}
	return events, nil
}

// parseFlags converts command-line arguments to a map of flags.
// This is a simple parser for logging purposes.
func parseFlags(args []string) map[string]string {
	flags := make(map[string]string)

	for i := 0; i < len(args); i++ {
		arg := args[i]
		if !strings.HasPrefix(arg, "-") {
			continue
		}

		key := strings.TrimLeft(arg, "-")
		if k, v, ok := strings.Cut(key, "="); ok {
			flags[k] = v
			continue
		}

		// Check if next arg is the value (not another flag)
		if i+1 < len(args) && !strings.HasPrefix(args[i+1], "-") {
			flags[key] = args[i+1]
			i++
		} else {
			flags[key] = "true"
		}
	}

	if len(flags) == 0 {
		return nil
	}
	return flags
}
