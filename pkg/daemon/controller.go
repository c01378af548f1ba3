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
	"fmt"
	"io"
	"log/slog"
	"os"
	"strconv"
	"sync"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/tombee/daemonkit/internal/lifecycle"
	"github.com/tombee/daemonkit/internal/log"
	"github.com/tombee/daemonkit/internal/metrics"
	daemonerrors "github.com/tombee/daemonkit/pkg/errors"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/time/rate"
)

// Environment variables carrying state across re-executed stages.
const (
	stageEnv    = "_DAEMONKIT_STAGE"
	instanceEnv = "_DAEMONKIT_INSTANCE"
)

// Detach stages. Each stage is a separate execution of the binary.
const (
	stageLaunch  = 0
	stageSession = 1
	stageDaemon  = 2
)

// State is the lifecycle state of a Controller.
type State int

const (
	StateStopped State = iota
	StateStarting
	StateRunning
	StateStopping
)

// String returns the lower-case state name.
func (s State) String() string {
	switch s {
	case StateStopped:
		return "stopped"
	case StateStarting:
		return "starting"
	case StateRunning:
		return "running"
	case StateStopping:
		return "stopping"
	}
	return "unknown(" + strconv.Itoa(int(s)) + ")"
}

// Status describes the daemon recorded in the pid file.
type Status struct {
	// State is StateRunning when the recorded process is alive and
	// StateStopped otherwise.
	State State

	// PID is the recorded process id, 0 when none is recorded.
	PID int

	// PIDFile is the absolute pid file path.
	PIDFile string

	// Stale is true when a pid is recorded but its process is gone.
	Stale bool
}

// StopResult describes the outcome of Stop.
type StopResult struct {
	// WasRunning is true when the recorded process received at least
	// one signal.
	WasRunning bool

	// PID is the recorded process id, 0 when none was recorded.
	PID int

	// Attempts is the number of SIGTERMs delivered.
	Attempts int

	// Forced is true when SIGKILL was delivered.
	Forced bool
}

// Controller manages one daemon identified by its pid file.
type Controller struct {
	cfg        Config
	runner     Runner
	logger     *slog.Logger
	closer     io.Closer
	pidFile    *lifecycle.PIDFileManager
	journal    *lifecycle.LifecycleLogger
	metrics    *metrics.Collector
	tracer     trace.Tracer
	ops        *log.OperationMiddleware
	exit       func(int)
	args       []string
	stage      int
	instanceID string

	mu     sync.Mutex
	state  State
	cancel context.CancelFunc
	done   chan struct{}

	termOnce sync.Once
}

// New creates a controller for runner. The configuration is copied,
// defaulted and validated, and the log sink is opened unless WithLogger
// is given. A sink that cannot be opened is an error.
func New(cfg Config, runner Runner, opts ...Option) (*Controller, error) {
	if runner == nil {
		return nil, &daemonerrors.ConfigError{Key: "runner", Reason: "is required"}
	}

	cfg.applyDefaults()
	if err := cfg.validate(); err != nil {
		return nil, err
	}

	o := defaultOptions()
	for _, opt := range opts {
		opt(&o)
	}

	stage := currentStage()
	instanceID := os.Getenv(instanceEnv)
	if stage == stageLaunch || instanceID == "" {
		instanceID = uuid.NewString()
	}

	logger, closer := o.logger, io.Closer(nil)
	if logger == nil {
		var err error
		logger, closer, err = log.OpenSink(cfg.LogSink, cfg.LogName, &log.Config{
			Level:  cfg.LogLevel,
			Format: log.Format(cfg.LogFormat),
			Output: os.Stderr,
		})
		if err != nil {
			return nil, &daemonerrors.ConfigError{Key: "log_sink", Reason: "cannot be opened", Cause: err}
		}
	}
	logger = log.WithDaemon(logger, cfg.LogName, instanceID)
	if stage != stageLaunch {
		logger = logger.With(log.StageKey, stage)
	}

	collector, err := metrics.NewCollector(o.meterProvider)
	if err != nil {
		if closer != nil {
			closer.Close()
		}
		return nil, fmt.Errorf("failed to create lifecycle metrics: %w", err)
	}

	tp := o.tracerProvider
	if tp == nil {
		tp = otel.GetTracerProvider()
	}

	return &Controller{
		cfg:        cfg,
		runner:     runner,
		logger:     logger,
		closer:     closer,
		pidFile:    lifecycle.NewPIDFileManager(cfg.PIDFile),
		journal:    lifecycle.NewLifecycleLogger(cfg.JournalPath, instanceID),
		metrics:    collector,
		tracer:     tp.Tracer(metrics.ScopeName),
		ops:        log.NewOperationMiddleware(logger),
		exit:       o.exit,
		args:       o.args,
		stage:      stage,
		instanceID: instanceID,
	}, nil
}

func currentStage() int {
	switch os.Getenv(stageEnv) {
	case "1":
		return stageSession
	case "2":
		return stageDaemon
	}
	return stageLaunch
}

// Config returns the controller's configuration with defaults applied.
func (c *Controller) Config() Config {
	return c.cfg
}

// Logger returns the logger writing to the log sink, for payloads that
// log alongside the controller.
func (c *Controller) Logger() *slog.Logger {
	return c.logger
}

// Stage reports the detach stage of the current process: 0 for the
// invoking process, 1 for the session leader, 2 for the daemon.
func (c *Controller) Stage() int {
	return c.stage
}

// InstanceID identifies this start invocation across its detach stages.
func (c *Controller) InstanceID() string {
	return c.instanceID
}

// IsAlive reports whether pid names a live process. It sends signal 0:
// no error means alive; a missing process or a refused permission means
// dead, as does any non-positive pid.
func (c *Controller) IsAlive(pid int) bool {
	return lifecycle.IsProcessRunning(pid)
}

// State returns the controller's own lifecycle state.
func (c *Controller) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

func (c *Controller) setState(s State) {
	c.mu.Lock()
	c.state = s
	c.mu.Unlock()
}

// Status reports on the daemon recorded in the pid file.
func (c *Controller) Status() Status {
	st := Status{State: StateStopped, PIDFile: c.cfg.PIDFile}
	st.PID = c.pidFile.Recorded()
	if st.PID == 0 {
		return st
	}
	if c.IsAlive(st.PID) {
		st.State = StateRunning
	} else {
		st.Stale = true
	}
	return st
}

// Stop terminates the recorded daemon. SIGTERM is sent every
// StopInterval; after StopAttempts deliveries SIGKILL is sent once. A
// failed delivery means the process is gone and ends the loop. A daemon
// that is not running is not an error.
//
// The only error is a *errors.TimeoutError, returned when the process
// is still alive KillWait after SIGKILL; the pid file is then kept. The
// context is used for tracing only: a started stop is not cancellable.
func (c *Controller) Stop(ctx context.Context) (StopResult, error) {
	ctx, span := c.tracer.Start(ctx, "daemon.stop",
		trace.WithAttributes(attribute.String("daemon.pid_file", c.cfg.PIDFile)))
	defer span.End()

	var res StopResult
	err := c.ops.Run(c.operation("stop"), func() error {
		var err error
		res, err = c.stop(ctx)
		return err
	})

	span.SetAttributes(
		attribute.Int("daemon.pid", res.PID),
		attribute.Bool("daemon.was_running", res.WasRunning),
		attribute.Int("daemon.stop.attempts", res.Attempts),
		attribute.Bool("daemon.stop.forced", res.Forced),
	)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	return res, err
}

func (c *Controller) stop(ctx context.Context) (StopResult, error) {
	pid := c.pidFile.Recorded()
	if pid == 0 {
		c.logger.Warn("pid file not found, daemon not running?",
			log.String(log.PIDFileKey, c.cfg.PIDFile))
		c.journalWrite(c.journal.LogNotRunning())
		c.metrics.RecordStop(ctx, metrics.StopNotRunning, 0)
		return StopResult{}, nil
	}

	c.setState(StateStopping)
	defer c.setState(StateStopped)

	c.logger.Info("stopping daemon", log.Int(log.PIDKey, pid))
	c.journalWrite(c.journal.LogStop(pid))

	progress := rate.Sometimes{First: 1, Interval: time.Second}
	start := time.Now()

	esc, err := lifecycle.GracefulShutdown(pid, lifecycle.EscalationPolicy{
		Interval: c.cfg.StopInterval,
		Attempts: c.cfg.StopAttempts,
		KillWait: c.cfg.KillWait,
		OnSignal: func(sig syscall.Signal, attempt int) {
			name := lifecycle.SignalName(sig)
			c.metrics.RecordSignal(ctx, name)
			log.Trace(c.logger, "signal delivered",
				log.Int(log.PIDKey, pid), log.String(log.SignalKey, name), log.Int("attempt", attempt))

			if sig == syscall.SIGKILL {
				c.logger.Warn("daemon ignored SIGTERM, sending SIGKILL",
					log.Int(log.PIDKey, pid), log.Int("attempts", attempt))
				c.journalWrite(c.journal.LogStopEscalated(pid, attempt))
				return
			}
			progress.Do(func() {
				c.logger.Info("waiting for daemon to exit",
					log.Int(log.PIDKey, pid), log.Int("attempt", attempt))
			})
		},
	})
	elapsed := time.Since(start)

	res := StopResult{
		WasRunning: esc.Attempts > 0,
		PID:        pid,
		Attempts:   esc.Attempts,
		Forced:     esc.Forced,
	}

	if err != nil {
		terr := &daemonerrors.TimeoutError{Operation: "stop", Duration: elapsed, Cause: err}
		c.logger.Error("daemon still running after SIGKILL",
			log.Int(log.PIDKey, pid), log.Duration(log.DurationKey, elapsed.Milliseconds()))
		c.journalWrite(c.journal.LogStopSuccess(pid, elapsed, terr))
		c.metrics.RecordStop(ctx, metrics.StopTimeout, elapsed)
		return res, terr
	}

	if !res.WasRunning {
		c.logger.Info("daemon was not running, clearing stale pid file", log.Int(log.PIDKey, pid))
	}
	c.removePIDFile()

	c.logger.Info("daemon stopped",
		log.Int(log.PIDKey, pid),
		log.Int("attempts", res.Attempts),
		log.Bool("forced", res.Forced),
		log.Duration(log.DurationKey, elapsed.Milliseconds()))
	c.journalWrite(c.journal.LogStopSuccess(pid, elapsed, nil))

	result := metrics.StopGraceful
	if res.Forced {
		result = metrics.StopForced
	}
	c.metrics.RecordStop(ctx, result, elapsed)
	return res, nil
}

// Restart stops the recorded daemon and starts a new one. In a detach
// stage it only continues the start.
func (c *Controller) Restart(ctx context.Context) error {
	if c.stage != stageLaunch {
		return c.Start(ctx)
	}

	ctx, span := c.tracer.Start(ctx, "daemon.restart",
		trace.WithAttributes(attribute.String("daemon.pid_file", c.cfg.PIDFile)))

	err := c.ops.Run(c.operation("restart"), func() error {
		if _, err := c.Stop(ctx); err != nil {
			return err
		}
		return c.start(ctx)
	})
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		span.End()
		return err
	}
	span.End()

	c.terminate(0)
	return nil
}

// Close releases the log sink. It is called before the controller
// terminates the process.
func (c *Controller) Close() error {
	c.mu.Lock()
	closer := c.closer
	c.closer = nil
	c.mu.Unlock()

	if closer == nil {
		return nil
	}
	return closer.Close()
}

// terminate ends the current process through the exit hook.
func (c *Controller) terminate(code int) {
	c.Close()
	c.exit(code)
}

// removePIDFile deletes the pid file if present.
func (c *Controller) removePIDFile() {
	if !c.pidFile.Exists() {
		return
	}
	if err := c.pidFile.Remove(); err != nil {
		c.logger.Warn("failed to remove pid file",
			log.String(log.PIDFileKey, c.cfg.PIDFile), log.Error(err))
		return
	}
	c.logger.Info("pid file removed", log.String(log.PIDFileKey, c.cfg.PIDFile))
}

// journalWrite logs a journal failure; it never aborts the operation.
func (c *Controller) journalWrite(err error) {
	if err != nil {
		c.logger.Warn("failed to write lifecycle journal", log.Error(err))
	}
}

func (c *Controller) operation(name string) *log.Operation {
	return &log.Operation{
		Name:       name,
		PIDFile:    c.cfg.PIDFile,
		InstanceID: c.instanceID,
	}
}
