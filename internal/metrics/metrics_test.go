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

package metrics

import (
	"context"
	"testing"
	"time"

	"go.opentelemetry.io/otel/attribute"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"
)

func newTestCollector(t *testing.T) (*Collector, *sdkmetric.ManualReader) {
	t.Helper()
	reader := sdkmetric.NewManualReader()
	provider := sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader))
	t.Cleanup(func() { provider.Shutdown(context.Background()) })

	c, err := NewCollector(provider)
	if err != nil {
		t.Fatalf("Failed to create collector: %v", err)
	}
	return c, reader
}

func collect(t *testing.T, reader *sdkmetric.ManualReader) map[string]metricdata.Metrics {
	t.Helper()
	var rm metricdata.ResourceMetrics
	if err := reader.Collect(context.Background(), &rm); err != nil {
		t.Fatalf("Collect failed: %v", err)
	}
	out := make(map[string]metricdata.Metrics)
	for _, sm := range rm.ScopeMetrics {
		for _, m := range sm.Metrics {
			out[m.Name] = m
		}
	}
	return out
}

// sumFor returns the counter value for the data point carrying key=value,
// or the only data point when key is empty.
func sumFor(t *testing.T, m metricdata.Metrics, key, value string) int64 {
	t.Helper()
	sum, ok := m.Data.(metricdata.Sum[int64])
	if !ok {
		t.Fatalf("%s: expected Sum[int64], got %T", m.Name, m.Data)
	}
	for _, dp := range sum.DataPoints {
		if key == "" {
			return dp.Value
		}
		if v, ok := dp.Attributes.Value(attribute.Key(key)); ok && v.AsString() == value {
			return dp.Value
		}
	}
	return 0
}

func TestCollector_RecordStart(t *testing.T) {
	c, reader := newTestCollector(t)
	ctx := context.Background()

	c.RecordStart(ctx, StartSuccess)
	c.RecordStart(ctx, StartSuccess)
	c.RecordStart(ctx, StartAlreadyRunning)

	got := collect(t, reader)
	m, ok := got["daemonkit_starts_total"]
	if !ok {
		t.Fatal("daemonkit_starts_total not collected")
	}
	if v := sumFor(t, m, "result", StartSuccess); v != 2 {
		t.Errorf("success starts = %d, want 2", v)
	}
	if v := sumFor(t, m, "result", StartAlreadyRunning); v != 1 {
		t.Errorf("already_running starts = %d, want 1", v)
	}
}

func TestCollector_RecordStop(t *testing.T) {
	c, reader := newTestCollector(t)
	ctx := context.Background()

	c.RecordStop(ctx, StopGraceful, 300*time.Millisecond)
	c.RecordStop(ctx, StopForced, 5*time.Second)
	c.RecordStop(ctx, StopNotRunning, 0)

	got := collect(t, reader)
	stops := got["daemonkit_stops_total"]
	for _, result := range []string{StopGraceful, StopForced, StopNotRunning} {
		if v := sumFor(t, stops, "result", result); v != 1 {
			t.Errorf("%s stops = %d, want 1", result, v)
		}
	}

	hist, ok := got["daemonkit_stop_duration_seconds"].Data.(metricdata.Histogram[float64])
	if !ok {
		t.Fatalf("expected Histogram[float64], got %T", got["daemonkit_stop_duration_seconds"].Data)
	}
	var count uint64
	for _, dp := range hist.DataPoints {
		count += dp.Count
	}
	if count != 2 {
		t.Errorf("stop duration observations = %d, want 2 (not_running is not timed)", count)
	}
}

func TestCollector_RecordSignalAndFailure(t *testing.T) {
	c, reader := newTestCollector(t)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		c.RecordSignal(ctx, "SIGTERM")
	}
	c.RecordSignal(ctx, "SIGKILL")
	c.RecordPayloadFailure(ctx)

	got := collect(t, reader)
	signals := got["daemonkit_signals_sent_total"]
	if v := sumFor(t, signals, "signal", "SIGTERM"); v != 3 {
		t.Errorf("SIGTERM = %d, want 3", v)
	}
	if v := sumFor(t, signals, "signal", "SIGKILL"); v != 1 {
		t.Errorf("SIGKILL = %d, want 1", v)
	}
	if v := sumFor(t, got["daemonkit_payload_failures_total"], "", ""); v != 1 {
		t.Errorf("payload failures = %d, want 1", v)
	}
}

func TestCollector_Nil(t *testing.T) {
	var c *Collector
	ctx := context.Background()

	// Should not panic
	c.RecordStart(ctx, StartFailure)
	c.RecordStop(ctx, StopTimeout, time.Second)
	c.RecordSignal(ctx, "SIGTERM")
	c.RecordPayloadFailure(ctx)
}

func TestNewCollector_GlobalProvider(t *testing.T) {
	c, err := NewCollector(nil)
	if err != nil {
		t.Fatalf("NewCollector(nil) failed: %v", err)
	}
	if c == nil {
		t.Fatal("Expected non-nil collector")
	}
	c.RecordStart(context.Background(), StartSuccess)
}
