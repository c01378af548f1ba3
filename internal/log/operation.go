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
	"context"
	"log/slog"
	"time"
)

// Operation describes a lifecycle operation for logging purposes.
type Operation struct {
	// Name is the operation (e.g., "start", "stop", "restart").
	Name string

	// PIDFile is the pid file the operation acts on.
	PIDFile string

	// InstanceID identifies the controller invocation.
	InstanceID string
}

// LogOperationStart logs the beginning of a lifecycle operation.
func LogOperationStart(logger *slog.Logger, op *Operation) {
	logger.Debug("lifecycle operation started", op.attrs("operation_start")...)
}

// LogOperationEnd logs the outcome of a lifecycle operation.
func LogOperationEnd(logger *slog.Logger, op *Operation, err error, elapsed time.Duration) {
	attrs := append(op.attrs("operation_end"),
		DurationKey, elapsed.Milliseconds(),
		"success", err == nil,
	)

	level := slog.LevelDebug
	message := "lifecycle operation completed"
	if err != nil {
		attrs = append(attrs, "error", err.Error())
		level = slog.LevelWarn
		message = "lifecycle operation failed"
	}

	logger.Log(context.Background(), level, message, attrs...)
}

func (op *Operation) attrs(event string) []any {
	attrs := []any{
		EventKey, event,
		"operation", op.Name,
	}
	if op.PIDFile != "" {
		attrs = append(attrs, PIDFileKey, op.PIDFile)
	}
	if op.InstanceID != "" {
		attrs = append(attrs, InstanceIDKey, op.InstanceID)
	}
	return attrs
}

// OperationMiddleware wraps lifecycle operations with start/end logging.
type OperationMiddleware struct {
	logger *slog.Logger
}

// NewOperationMiddleware creates a new lifecycle operation logging middleware.
func NewOperationMiddleware(logger *slog.Logger) *OperationMiddleware {
	return &OperationMiddleware{
		logger: logger,
	}
}

// Run executes fn, logging when it begins and how it ended.
func (m *OperationMiddleware) Run(op *Operation, fn func() error) error {
	start := time.Now()

	LogOperationStart(m.logger, op)
	err := fn()
	LogOperationEnd(m.logger, op, err, time.Since(start))

	return err
}
