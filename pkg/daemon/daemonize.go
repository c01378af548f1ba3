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
	"fmt"
	"os"
	"os/signal"
	"strconv"
	"time"

	"github.com/tombee/daemonkit/internal/lifecycle"
	"github.com/tombee/daemonkit/internal/log"
	"github.com/tombee/daemonkit/internal/metrics"
	daemonerrors "github.com/tombee/daemonkit/pkg/errors"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sys/unix"
	"golang.org/x/term"
)

// admissionSlack is added to StartWait when waiting for a concurrent
// start to release the admission lock.
const admissionSlack = 2 * time.Second

// Start starts the daemon.
//
// In the invoking process it refuses with *errors.AlreadyRunningError
// when the pid file names a live process, removes a stale pid file,
// re-executes the binary to begin detaching, optionally waits for the
// daemon's pid file, and then terminates the process with status 0.
// Errors are returned before anything is detached, or when the daemon
// does not record its pid within StartWait.
//
// In the re-executed stages Start continues the detach sequence and, in
// the final stage, runs the payload; the process exits when it is done.
func (c *Controller) Start(ctx context.Context) error {
	switch c.stage {
	case stageSession:
		return c.runSessionStage(ctx)
	case stageDaemon:
		return c.runDaemonStage(ctx)
	}

	if err := c.ops.Run(c.operation("start"), func() error { return c.start(ctx) }); err != nil {
		return err
	}
	c.terminate(0)
	return nil
}

func (c *Controller) start(ctx context.Context) error {
	ctx, span := c.tracer.Start(ctx, "daemon.start",
		trace.WithAttributes(attribute.String("daemon.pid_file", c.cfg.PIDFile)))
	defer span.End()

	err := c.launch(ctx)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	return err
}

// launch is stage 0: admission, liveness check, first fork.
func (c *Controller) launch(ctx context.Context) error {
	begin := time.Now()
	c.setState(StateStarting)
	c.logger.Info("initializing daemon", log.String(log.PIDFileKey, c.cfg.PIDFile))
	c.journalWrite(c.journal.LogStart(c.args))

	fail := func(err error) error {
		c.setState(StateStopped)
		c.journalWrite(c.journal.LogStartFailure(err))
		c.metrics.RecordStart(ctx, metrics.StartFailure)
		return err
	}

	lock := lifecycle.NewAdmissionLock(c.cfg.PIDFile)
	if err := lock.Acquire(ctx, c.cfg.StartWait+admissionSlack); err != nil {
		c.logger.Error("failed to acquire admission lock",
			log.String("lock_file", lock.Path()), log.Error(err))
		return fail(err)
	}
	defer func() {
		if err := lock.Release(); err != nil {
			c.logger.Warn("failed to release admission lock", log.Error(err))
		}
	}()

	if pid := c.pidFile.Recorded(); pid > 0 {
		if c.IsAlive(pid) {
			c.logger.Info("pid file exists and the daemon is running",
				log.Int(log.PIDKey, pid), log.String(log.PIDFileKey, c.cfg.PIDFile))
			c.setState(StateStopped)
			c.journalWrite(c.journal.LogAlreadyRunning(pid))
			c.metrics.RecordStart(ctx, metrics.StartAlreadyRunning)
			return &daemonerrors.AlreadyRunningError{PID: pid, PIDFile: c.cfg.PIDFile}
		}
		c.logger.Warn("removing stale pid file", log.Int(log.PIDKey, pid))
		c.journalWrite(c.journal.LogStalePID(pid, "process not running"))
		if err := c.pidFile.Remove(); err != nil {
			c.logger.Warn("failed to remove stale pid file", log.Error(err))
		}
	}

	err := c.daemonize(ctx, stageLaunch, detachStep{"fork", func() error {
		_, err := c.spawnStage(stageSession)
		return err
	}})
	if err != nil {
		return fail(err)
	}

	if c.cfg.StartWait == 0 {
		c.logger.Info("daemon detached")
		c.journalWrite(c.journal.LogStartSuccess(0, time.Since(begin)))
		c.metrics.RecordStart(ctx, metrics.StartSuccess)
		c.setState(StateRunning)
		return nil
	}

	pid, err := lifecycle.WaitForPIDFile(ctx, c.cfg.PIDFile, c.cfg.StartWait)
	if err != nil {
		terr := &daemonerrors.TimeoutError{Operation: "start", Duration: c.cfg.StartWait, Cause: err}
		c.logger.Error("daemon did not record its pid", log.Error(terr))
		return fail(terr)
	}

	elapsed := time.Since(begin)
	c.logger.Info("daemon started",
		log.Int(log.PIDKey, pid), log.Duration(log.DurationKey, elapsed.Milliseconds()))
	c.journalWrite(c.journal.LogStartSuccess(pid, elapsed))
	c.metrics.RecordStart(ctx, metrics.StartSuccess)
	c.setState(StateRunning)
	return nil
}

// runSessionStage is stage 1: new working directory, new session,
// cleared umask, second fork.
func (c *Controller) runSessionStage(ctx context.Context) error {
	err := c.daemonize(ctx, stageSession,
		detachStep{"chdir", func() error { return unix.Chdir(c.cfg.WorkDir) }},
		detachStep{"setsid", func() error {
			_, err := unix.Setsid()
			return err
		}},
		detachStep{"umask", func() error {
			unix.Umask(c.cfg.Umask)
			return nil
		}},
		detachStep{"fork", func() error {
			_, err := c.spawnStage(stageDaemon)
			return err
		}},
	)
	if err != nil {
		c.terminate(1)
		return err
	}
	c.terminate(0)
	return nil
}

// runDaemonStage is stage 2: the daemon itself.
func (c *Controller) runDaemonStage(ctx context.Context) error {
	os.Unsetenv(stageEnv)
	os.Unsetenv(instanceEnv)

	pid := os.Getpid()
	sigs := make(chan os.Signal, 1)

	err := c.daemonize(ctx, stageDaemon,
		detachStep{"redirect", c.redirectStdio},
		detachStep{"terminal", checkDetached},
		detachStep{"signals", func() error {
			signal.Notify(sigs, unix.SIGTERM, unix.SIGINT)
			return nil
		}},
		detachStep{"pid_file", func() error { return c.pidFile.Write(pid) }},
	)
	if err != nil {
		signal.Stop(sigs)
		c.terminate(1)
		return err
	}

	c.setState(StateRunning)
	c.logger.Info("daemon running",
		log.Int(log.PIDKey, pid), log.String(log.PIDFileKey, c.cfg.PIDFile))

	runCtx, cancel := context.WithCancel(ctx)
	done := make(chan struct{})
	c.mu.Lock()
	c.cancel = cancel
	c.done = done
	c.mu.Unlock()

	go func() {
		for {
			select {
			case sig := <-sigs:
				c.onTerminationSignal(sig)
			case <-done:
				return
			}
		}
	}()

	err = runPayload(runCtx, c.runner)
	cancel()
	close(done)
	signal.Stop(sigs)

	c.terminate(c.finish(ctx, pid, err))
	return err
}

// finish reports how the payload ended, removes the pid file and
// returns the exit status.
func (c *Controller) finish(ctx context.Context, pid int, err error) int {
	defer c.setState(StateStopped)

	if err == nil {
		c.logger.Info("shutting down")
		c.removePIDFile()
		return 0
	}

	c.logPayloadFailure(err)
	c.journalWrite(c.journal.LogPayloadFailure(pid, err))
	c.metrics.RecordPayloadFailure(ctx)
	c.removePIDFile()
	return 1
}

// logPayloadFailure writes the failure header, one record per stack
// frame, and the error itself at error severity.
func (c *Controller) logPayloadFailure(err error) {
	frames := daemonerrors.StackOf(err)
	panicked := false
	var perr *daemonerrors.PayloadError
	if errors.As(err, &perr) {
		frames = perr.Frames
		panicked = perr.Panicked
	}

	c.logger.Error("payload failed, traceback follows",
		log.Bool("panicked", panicked), log.Int("frames", len(frames)))
	for i, f := range frames {
		attrs := []any{
			"frame", i,
			"file", f.File,
			"line", f.Line,
			"function", f.Function,
		}
		if f.Statement != "" {
			attrs = append(attrs, "statement", f.Statement)
		}
		c.logger.Error("stack frame", attrs...)
	}
	c.logger.Error("payload error", log.Error(err))
}

// onTerminationSignal handles SIGTERM and SIGINT in the daemon: it logs
// the signal, removes the pid file, cancels the payload and terminates
// the process once the payload returns or ShutdownGrace elapses. Only
// the first call has any effect.
func (c *Controller) onTerminationSignal(sig os.Signal) {
	c.termOnce.Do(func() {
		name := lifecycle.SignalName(sig)
		c.logger.Info("terminating on signal "+name, log.String(log.SignalKey, name))
		c.journalWrite(c.journal.LogSignalReceived(os.Getpid(), name))
		c.setState(StateStopping)
		c.removePIDFile()

		c.mu.Lock()
		cancel, done := c.cancel, c.done
		c.mu.Unlock()

		if cancel == nil {
			c.terminate(0)
			return
		}
		cancel()

		timer := time.NewTimer(c.cfg.ShutdownGrace)
		defer timer.Stop()
		select {
		case <-done:
		case <-timer.C:
			c.logger.Warn("payload did not stop within shutdown grace",
				log.Duration(log.DurationKey, c.cfg.ShutdownGrace.Milliseconds()))
			c.terminate(0)
		}
	})
}

type detachStep struct {
	name string
	run  func() error
}

// daemonize runs the steps of one detach stage in order. The first
// failure is logged at error severity and returned as *errors.DetachError.
func (c *Controller) daemonize(ctx context.Context, stage int, steps ...detachStep) error {
	_, span := c.tracer.Start(ctx, "daemon.daemonize",
		trace.WithAttributes(attribute.Int("daemon.stage", stage)))
	defer span.End()

	for _, step := range steps {
		if err := step.run(); err != nil {
			derr := &daemonerrors.DetachError{Stage: stage, Step: step.name, Cause: err}
			c.logger.Error("detach failed",
				log.Int(log.StageKey, stage), log.String("step", step.name), log.Error(err))
			if stage != stageLaunch {
				c.journalWrite(c.journal.LogStartFailure(derr))
			}
			span.RecordError(derr)
			span.SetStatus(codes.Error, derr.Error())
			return derr
		}
		log.Trace(c.logger, "detach step complete",
			log.Int(log.StageKey, stage), log.String("step", step.name))
	}
	return nil
}

// spawnStage re-executes the current binary as the given stage.
func (c *Controller) spawnStage(stage int) (int, error) {
	exe, err := os.Executable()
	if err != nil {
		return 0, fmt.Errorf("failed to locate executable: %w", err)
	}

	env := lifecycle.SetEnv(os.Environ(), stageEnv, strconv.Itoa(stage))
	env = lifecycle.SetEnv(env, instanceEnv, c.instanceID)

	return lifecycle.NewSpawner().WithEnv(env).Spawn(exe, c.args)
}

// redirectStdio points descriptors 0, 1 and 2 at the configured targets.
func (c *Controller) redirectStdio() error {
	targets := []struct {
		fd   int
		path string
		flag int
	}{
		{0, c.cfg.Stdin, unix.O_RDONLY},
		{1, c.cfg.Stdout, unix.O_WRONLY | unix.O_CREAT | unix.O_APPEND},
		{2, c.cfg.Stderr, unix.O_WRONLY | unix.O_CREAT | unix.O_APPEND},
	}

	for _, t := range targets {
		fd, err := unix.Open(t.path, t.flag|unix.O_CLOEXEC, 0644)
		if err != nil {
			return fmt.Errorf("failed to open %s: %w", t.path, err)
		}
		if fd == t.fd {
			// Landed in place; it only needs to survive exec.
			if _, err := unix.FcntlInt(uintptr(fd), unix.F_SETFD, 0); err != nil {
				return fmt.Errorf("failed to clear close-on-exec on fd %d: %w", fd, err)
			}
			continue
		}
		err = dupFD(fd, t.fd)
		unix.Close(fd)
		if err != nil {
			return fmt.Errorf("failed to redirect fd %d to %s: %w", t.fd, t.path, err)
		}
	}
	return nil
}

// checkDetached fails if any standard descriptor is still a terminal.
func checkDetached() error {
	for fd := 0; fd <= 2; fd++ {
		if term.IsTerminal(fd) {
			return fmt.Errorf("descriptor %d is still attached to a terminal", fd)
		}
	}
	return nil
}
