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

package daemon

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"syscall"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"

	"github.com/tombee/daemonkit/internal/lifecycle"
	daemonerrors "github.com/tombee/daemonkit/pkg/errors"
)

func TestNew_Errors(t *testing.T) {
	t.Run("nil runner", func(t *testing.T) {
		_, err := New(testConfig(t), nil)
		var cerr *daemonerrors.ConfigError
		require.ErrorAs(t, err, &cerr)
		assert.Equal(t, "runner", cerr.Key)
	})

	t.Run("invalid config", func(t *testing.T) {
		_, err := New(Config{LogName: "x"}, RunFunc(func(context.Context) error { return nil }))
		var cerr *daemonerrors.ConfigError
		require.ErrorAs(t, err, &cerr)
		assert.Equal(t, "pid_file", cerr.Key)
	})

	t.Run("sink cannot be opened", func(t *testing.T) {
		dir := t.TempDir()
		blocker := filepath.Join(dir, "file")
		require.NoError(t, os.WriteFile(blocker, nil, 0644))

		cfg := testConfig(t)
		cfg.LogSink = filepath.Join(blocker, "daemon.log")

		_, err := New(cfg, RunFunc(func(context.Context) error { return nil }))
		var cerr *daemonerrors.ConfigError
		require.ErrorAs(t, err, &cerr)
		assert.Equal(t, "log_sink", cerr.Key)
	})
}

func TestNew_FileSink(t *testing.T) {
	cfg := testConfig(t)
	cfg.LogSink = filepath.Join(t.TempDir(), "logs", "daemon.log")

	c, err := New(cfg, RunFunc(func(context.Context) error { return nil }))
	require.NoError(t, err)
	defer c.Close()

	_, err = c.Stop(context.Background())
	require.NoError(t, err)
	require.NoError(t, c.Close())
	require.NoError(t, c.Close(), "Close is idempotent")

	data, err := os.ReadFile(cfg.LogSink)
	require.NoError(t, err)
	assert.Contains(t, string(data), "pid file not found")
	assert.Contains(t, string(data), `"daemon":"daemonkit-test"`)
}

func TestController_IsAlive(t *testing.T) {
	c, _ := newTestController(t, testConfig(t), nil)

	assert.True(t, c.IsAlive(os.Getpid()))
	assert.False(t, c.IsAlive(0))
	assert.False(t, c.IsAlive(-1))
	assert.False(t, c.IsAlive(deadPID(t)))
}

func TestController_Status(t *testing.T) {
	cfg := testConfig(t)
	c, _ := newTestController(t, cfg, nil)

	st := c.Status()
	assert.Equal(t, StateStopped, st.State)
	assert.Zero(t, st.PID)
	assert.False(t, st.Stale)
	assert.Equal(t, cfg.PIDFile, st.PIDFile)

	writePID(t, cfg.PIDFile, deadPID(t))
	st = c.Status()
	assert.Equal(t, StateStopped, st.State)
	assert.True(t, st.Stale)

	writePID(t, cfg.PIDFile, os.Getpid())
	st = c.Status()
	assert.Equal(t, StateRunning, st.State)
	assert.Equal(t, os.Getpid(), st.PID)
	assert.False(t, st.Stale)

	require.NoError(t, os.WriteFile(cfg.PIDFile, []byte("garbage\n"), 0644))
	st = c.Status()
	assert.Equal(t, StateStopped, st.State)
	assert.Zero(t, st.PID)
}

func TestState_String(t *testing.T) {
	assert.Equal(t, "stopped", StateStopped.String())
	assert.Equal(t, "starting", StateStarting.String())
	assert.Equal(t, "running", StateRunning.String())
	assert.Equal(t, "stopping", StateStopping.String())
	assert.Equal(t, "unknown(9)", State(9).String())
}

func TestStop_NotRunningIsIdempotent(t *testing.T) {
	c, h := newTestController(t, testConfig(t), nil)

	for i := 0; i < 2; i++ {
		res, err := c.Stop(context.Background())
		require.NoError(t, err)
		assert.False(t, res.WasRunning)
		assert.Zero(t, res.PID)
	}

	warnings := h.find(t, "pid file not found, daemon not running?")
	require.Len(t, warnings, 2)
	assert.Equal(t, "WARN", warnings[0]["level"])

	assert.Equal(t, int64(2), h.counter(t, "daemonkit_stops_total", "result", "not_running"))
	assert.Empty(t, h.exitCodes())
	assert.Equal(t, StateStopped, c.State())

	span := h.span(t, "daemon.stop")
	assert.Contains(t, span.Attributes(), attribute.Bool("daemon.was_running", false))
}

func TestStop_StalePIDFile(t *testing.T) {
	cfg := testConfig(t)
	c, _ := newTestController(t, cfg, nil)

	stale := deadPID(t)
	writePID(t, cfg.PIDFile, stale)

	res, err := c.Stop(context.Background())
	require.NoError(t, err, "signal delivery failure is success")
	assert.False(t, res.WasRunning)
	assert.Equal(t, stale, res.PID)
	assert.Zero(t, res.Attempts)
	assert.NoFileExists(t, cfg.PIDFile)
}

func TestStop_Graceful(t *testing.T) {
	cfg := testConfig(t)
	c, h := newTestController(t, cfg, nil)

	child := startChild(t, "sleep", "30")
	pid := child.Process.Pid
	writePID(t, cfg.PIDFile, pid)

	res, err := c.Stop(context.Background())
	require.NoError(t, err)
	assert.True(t, res.WasRunning)
	assert.Equal(t, pid, res.PID)
	assert.GreaterOrEqual(t, res.Attempts, 1)
	assert.False(t, res.Forced)
	assert.NoFileExists(t, cfg.PIDFile)
	assert.False(t, c.IsAlive(pid))

	assert.NotEmpty(t, h.find(t, "daemon stopped"))
	assert.NotEmpty(t, h.find(t, "pid file removed"))
	assert.GreaterOrEqual(t, h.counter(t, "daemonkit_signals_sent_total", "signal", "SIGTERM"), int64(1))
	assert.Equal(t, int64(1), h.counter(t, "daemonkit_stops_total", "result", "graceful"))

	events, err := lifecycle.ReadJournal(cfg.JournalPath)
	require.NoError(t, err)
	require.Len(t, events, 2)
	assert.Equal(t, lifecycle.EventStop, events[0].Event)
	assert.Equal(t, lifecycle.EventStopSuccess, events[1].Event)
	assert.True(t, events[1].Success)
}

func TestStop_EscalatesToKill(t *testing.T) {
	cfg := testConfig(t)
	cfg.StopInterval = 20 * time.Millisecond
	cfg.StopAttempts = 3
	c, h := newTestController(t, cfg, nil)

	child := startChild(t, "sh", "-c", `trap "" TERM; while :; do sleep 0.05; done`)
	pid := child.Process.Pid
	writePID(t, cfg.PIDFile, pid)

	// Give the shell time to install its trap.
	time.Sleep(200 * time.Millisecond)

	start := time.Now()
	res, err := c.Stop(context.Background())
	elapsed := time.Since(start)

	require.NoError(t, err)
	assert.True(t, res.Forced)
	assert.Equal(t, 3, res.Attempts)
	assert.Less(t, elapsed, cfg.StopInterval*time.Duration(cfg.StopAttempts)+cfg.KillWait)
	assert.False(t, c.IsAlive(pid))
	assert.NoFileExists(t, cfg.PIDFile)

	assert.NotEmpty(t, h.find(t, "daemon ignored SIGTERM, sending SIGKILL"))
	assert.Equal(t, int64(3), h.counter(t, "daemonkit_signals_sent_total", "signal", "SIGTERM"))
	assert.Equal(t, int64(1), h.counter(t, "daemonkit_signals_sent_total", "signal", "SIGKILL"))
	assert.Equal(t, int64(1), h.counter(t, "daemonkit_stops_total", "result", "forced"))

	events, err := lifecycle.ReadJournal(cfg.JournalPath)
	require.NoError(t, err)
	var escalated bool
	for _, e := range events {
		if e.Event == lifecycle.EventStopEscalated {
			escalated = true
		}
	}
	assert.True(t, escalated)
}

func TestStart_AlreadyRunning(t *testing.T) {
	cfg := testConfig(t)
	c, h := newTestController(t, cfg, nil)

	writePID(t, cfg.PIDFile, os.Getpid())
	before, err := os.ReadFile(cfg.PIDFile)
	require.NoError(t, err)

	err = c.Start(context.Background())

	var are *daemonerrors.AlreadyRunningError
	require.ErrorAs(t, err, &are)
	assert.Equal(t, os.Getpid(), are.PID)
	assert.Equal(t, cfg.PIDFile, are.PIDFile)

	after, err := os.ReadFile(cfg.PIDFile)
	require.NoError(t, err)
	assert.Equal(t, before, after, "pid file must not be touched")

	assert.Empty(t, h.exitCodes())
	assert.Equal(t, StateStopped, c.State())
	assert.NotEmpty(t, h.find(t, "pid file exists and the daemon is running"))
	assert.Equal(t, int64(1), h.counter(t, "daemonkit_starts_total", "result", "already_running"))

	span := h.span(t, "daemon.start")
	assert.Equal(t, codes.Error, span.Status().Code)

	events, err := lifecycle.ReadJournal(cfg.JournalPath)
	require.NoError(t, err)
	require.Len(t, events, 2)
	assert.Equal(t, lifecycle.EventStart, events[0].Event)
	assert.Equal(t, lifecycle.EventAlreadyRunning, events[1].Event)
}

func TestOnTerminationSignal(t *testing.T) {
	cfg := testConfig(t)
	c, h := newTestController(t, cfg, nil)
	writePID(t, cfg.PIDFile, os.Getpid())

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		<-ctx.Done()
		close(done)
	}()
	c.cancel, c.done = cancel, done

	c.onTerminationSignal(syscall.SIGTERM)
	c.onTerminationSignal(syscall.SIGINT)

	assert.NoFileExists(t, cfg.PIDFile)
	assert.Error(t, ctx.Err(), "payload context is cancelled")
	assert.Empty(t, h.exitCodes(), "a payload that returns in time exits through the normal path")
	assert.Equal(t, StateStopping, c.State())

	recs := h.find(t, "terminating on signal SIGTERM")
	require.Len(t, recs, 1)
	assert.Equal(t, "SIGTERM", recs[0]["signal"])
	assert.Empty(t, h.find(t, "terminating on signal SIGINT"), "second invocation is a no-op")
	assert.Len(t, h.find(t, "pid file removed"), 1)

	events, err := lifecycle.ReadJournal(cfg.JournalPath)
	require.NoError(t, err)
	require.Len(t, events, 1)
	assert.Equal(t, lifecycle.EventSignalReceived, events[0].Event)
}

func TestOnTerminationSignal_GraceElapses(t *testing.T) {
	cfg := testConfig(t)
	cfg.ShutdownGrace = 50 * time.Millisecond
	c, h := newTestController(t, cfg, nil)

	c.cancel, c.done = func() {}, make(chan struct{})

	start := time.Now()
	c.onTerminationSignal(syscall.SIGINT)

	assert.GreaterOrEqual(t, time.Since(start), cfg.ShutdownGrace)
	assert.Equal(t, []int{0}, h.exitCodes())
	assert.NotEmpty(t, h.find(t, "payload did not stop within shutdown grace"))
}

func TestFinish(t *testing.T) {
	t.Run("normal exit", func(t *testing.T) {
		cfg := testConfig(t)
		c, h := newTestController(t, cfg, nil)
		writePID(t, cfg.PIDFile, os.Getpid())

		code := c.finish(context.Background(), os.Getpid(), nil)

		assert.Equal(t, 0, code)
		assert.NoFileExists(t, cfg.PIDFile)
		recs := h.find(t, "shutting down")
		require.Len(t, recs, 1)
		assert.Equal(t, "INFO", recs[0]["level"])
	})

	t.Run("payload failure", func(t *testing.T) {
		cfg := testConfig(t)
		c, h := newTestController(t, cfg, nil)
		writePID(t, cfg.PIDFile, os.Getpid())

		err := runPayload(context.Background(), RunFunc(func(context.Context) error {
			return daemonerrors.WithStack(errors.New("disk full"))
		}))
		code := c.finish(context.Background(), os.Getpid(), err)

		assert.Equal(t, 1, code)
		assert.NoFileExists(t, cfg.PIDFile)

		header := h.find(t, "payload failed, traceback follows")
		require.Len(t, header, 1)
		assert.Equal(t, "ERROR", header[0]["level"])
		assert.Equal(t, false, header[0]["panicked"])

		frames := h.find(t, "stack frame")
		require.NotEmpty(t, frames)
		assert.Equal(t, "ERROR", frames[0]["level"])
		assert.Contains(t, frames[0]["function"], "TestFinish")
		assert.Contains(t, frames[0]["statement"], "WithStack")
		assert.NotEmpty(t, frames[0]["file"])
		assert.NotZero(t, frames[0]["line"])

		final := h.find(t, "payload error")
		require.Len(t, final, 1)
		assert.Equal(t, "payload failed: disk full", final[0]["error"])

		assert.Equal(t, int64(1), h.counter(t, "daemonkit_payload_failures_total", "", ""))
		events, err := lifecycle.ReadJournal(cfg.JournalPath)
		require.NoError(t, err)
		require.Len(t, events, 1)
		assert.Equal(t, lifecycle.EventPayloadFailure, events[0].Event)
	})
}

func TestDaemonize_StepFailure(t *testing.T) {
	c, h := newTestController(t, testConfig(t), nil)

	var ran []string
	boom := errors.New("boom")
	err := c.daemonize(context.Background(), stageSession,
		detachStep{"first", func() error { ran = append(ran, "first"); return nil }},
		detachStep{"second", func() error { ran = append(ran, "second"); return boom }},
		detachStep{"third", func() error { ran = append(ran, "third"); return nil }},
	)

	var derr *daemonerrors.DetachError
	require.ErrorAs(t, err, &derr)
	assert.Equal(t, stageSession, derr.Stage)
	assert.Equal(t, "second", derr.Step)
	assert.ErrorIs(t, err, boom)
	assert.Equal(t, []string{"first", "second"}, ran)

	recs := h.find(t, "detach failed")
	require.Len(t, recs, 1)
	assert.Equal(t, "ERROR", recs[0]["level"])
	assert.Equal(t, "second", recs[0]["step"])

	span := h.span(t, "daemon.daemonize")
	assert.Equal(t, codes.Error, span.Status().Code)
}

func TestCurrentStage(t *testing.T) {
	t.Setenv(stageEnv, "")
	assert.Equal(t, stageLaunch, currentStage())
	t.Setenv(stageEnv, "1")
	assert.Equal(t, stageSession, currentStage())
	t.Setenv(stageEnv, "2")
	assert.Equal(t, stageDaemon, currentStage())
	t.Setenv(stageEnv, "7")
	assert.Equal(t, stageLaunch, currentStage())

	t.Setenv(stageEnv, "")
	c, _ := newTestController(t, testConfig(t), nil)
	assert.Equal(t, stageLaunch, c.Stage())
}
