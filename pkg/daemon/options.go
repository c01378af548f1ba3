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
	"log/slog"
	"os"

	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"
)

// Option configures a Controller.
type Option func(*options)

type options struct {
	logger         *slog.Logger
	meterProvider  metric.MeterProvider
	tracerProvider trace.TracerProvider
	exit           func(int)
	args           []string
}

func defaultOptions() options {
	return options{
		exit: os.Exit,
		args: os.Args[1:],
	}
}

// WithLogger sets the logger used instead of opening Config.LogSink.
func WithLogger(logger *slog.Logger) Option {
	return func(o *options) {
		o.logger = logger
	}
}

// WithMeterProvider sets the meter provider for lifecycle metrics.
// Default: the global provider.
func WithMeterProvider(mp metric.MeterProvider) Option {
	return func(o *options) {
		o.meterProvider = mp
	}
}

// WithTracerProvider sets the tracer provider for lifecycle spans.
// Default: the global provider.
func WithTracerProvider(tp trace.TracerProvider) Option {
	return func(o *options) {
		o.tracerProvider = tp
	}
}

// WithExit replaces os.Exit as the process termination hook. The
// controller calls it when a detach stage finishes and when the daemon
// terminates; if it returns, Start returns.
func WithExit(exit func(code int)) Option {
	return func(o *options) {
		o.exit = exit
	}
}

// WithArgs sets the arguments passed to each re-executed stage.
// Default: os.Args[1:]
func WithArgs(args []string) Option {
	return func(o *options) {
		o.args = args
	}
}
