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

// Package metrics defines the OpenTelemetry instruments recorded by the
// daemon controller and the Prometheus pipeline that exposes them.
package metrics

import (
	"context"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// ScopeName is the instrumentation scope for all lifecycle instruments.
const ScopeName = "github.com/tombee/daemonkit"

// Start results.
const (
	StartSuccess        = "success"
	StartAlreadyRunning = "already_running"
	StartFailure        = "failure"
)

// Stop results.
const (
	StopGraceful   = "graceful"
	StopForced     = "forced"
	StopNotRunning = "not_running"
	StopTimeout    = "timeout"
)

// Collector records lifecycle metrics. A nil *Collector is valid and
// records nothing.
type Collector struct {
	// Counters
	startsTotal          metric.Int64Counter
	stopsTotal           metric.Int64Counter
	signalsSentTotal     metric.Int64Counter
	payloadFailuresTotal metric.Int64Counter

	// Histograms
	stopDuration metric.Float64Histogram
}

// NewCollector creates the lifecycle instruments on the given meter
// provider. A nil provider falls back to the global one.
func NewCollector(meterProvider metric.MeterProvider) (*Collector, error) {
	if meterProvider == nil {
		meterProvider = otel.GetMeterProvider()
	}
	meter := meterProvider.Meter(ScopeName)

	c := &Collector{}
	var err error

	c.startsTotal, err = meter.Int64Counter(
		"daemonkit_starts_total",
		metric.WithDescription("Total number of daemon start attempts by result"),
		metric.WithUnit("{start}"),
	)
	if err != nil {
		return nil, err
	}

	c.stopsTotal, err = meter.Int64Counter(
		"daemonkit_stops_total",
		metric.WithDescription("Total number of daemon stop requests by result"),
		metric.WithUnit("{stop}"),
	)
	if err != nil {
		return nil, err
	}

	c.signalsSentTotal, err = meter.Int64Counter(
		"daemonkit_signals_sent_total",
		metric.WithDescription("Total number of signals delivered to a running daemon"),
		metric.WithUnit("{signal}"),
	)
	if err != nil {
		return nil, err
	}

	c.payloadFailuresTotal, err = meter.Int64Counter(
		"daemonkit_payload_failures_total",
		metric.WithDescription("Total number of abnormal payload exits"),
		metric.WithUnit("{failure}"),
	)
	if err != nil {
		return nil, err
	}

	c.stopDuration, err = meter.Float64Histogram(
		"daemonkit_stop_duration_seconds",
		metric.WithDescription("Time from the first stop signal until the daemon is gone"),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10),
	)
	if err != nil {
		return nil, err
	}

	return c, nil
}

// RecordStart counts a start attempt.
func (c *Collector) RecordStart(ctx context.Context, result string) {
	if c == nil {
		return
	}
	c.startsTotal.Add(ctx, 1, metric.WithAttributes(attribute.String("result", result)))
}

// RecordStop counts a stop request and, unless the daemon was not
// running, records how long it took.
func (c *Collector) RecordStop(ctx context.Context, result string, duration time.Duration) {
	if c == nil {
		return
	}
	attrs := metric.WithAttributes(attribute.String("result", result))
	c.stopsTotal.Add(ctx, 1, attrs)
	if result != StopNotRunning {
		c.stopDuration.Record(ctx, duration.Seconds(), attrs)
	}
}

// RecordSignal counts one delivered signal.
func (c *Collector) RecordSignal(ctx context.Context, signal string) {
	if c == nil {
		return
	}
	c.signalsSentTotal.Add(ctx, 1, metric.WithAttributes(attribute.String("signal", signal)))
}

// RecordPayloadFailure counts an abnormal payload exit.
func (c *Collector) RecordPayloadFailure(ctx context.Context) {
	if c == nil {
		return
	}
	c.payloadFailuresTotal.Add(ctx, 1)
}
