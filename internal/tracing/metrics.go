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

package tracing

import (
	"context"
	"sync/atomic"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// MetricsCollector records tool call and query server RPC metrics.
type MetricsCollector struct {
	toolCalls    metric.Int64Counter
	toolDuration metric.Float64Histogram
	rpcCalls     metric.Int64Counter
	rpcDuration  metric.Float64Histogram

	toolsInFlight atomic.Int64
}

// NewMetricsCollector creates a collector using the given meter provider.
func NewMetricsCollector(meterProvider metric.MeterProvider) (*MetricsCollector, error) {
	meter := meterProvider.Meter("codeql-mcp")
	mc := &MetricsCollector{}

	var err error
	mc.toolCalls, err = meter.Int64Counter(
		"codeql_mcp_tool_calls_total",
		metric.WithDescription("Total number of MCP tool calls"),
		metric.WithUnit("{call}"),
	)
	if err != nil {
		return nil, err
	}

	mc.toolDuration, err = meter.Float64Histogram(
		"codeql_mcp_tool_duration_seconds",
		metric.WithDescription("MCP tool call duration in seconds"),
		metric.WithUnit("s"),
	)
	if err != nil {
		return nil, err
	}

	mc.rpcCalls, err = meter.Int64Counter(
		"codeql_mcp_rpc_calls_total",
		metric.WithDescription("Total number of query server requests"),
		metric.WithUnit("{request}"),
	)
	if err != nil {
		return nil, err
	}

	mc.rpcDuration, err = meter.Float64Histogram(
		"codeql_mcp_rpc_duration_seconds",
		metric.WithDescription("Query server request latency in seconds"),
		metric.WithUnit("s"),
	)
	if err != nil {
		return nil, err
	}

	_, err = meter.Int64ObservableGauge(
		"codeql_mcp_tool_calls_in_flight",
		metric.WithDescription("Number of tool calls currently running"),
		metric.WithUnit("{call}"),
		metric.WithInt64Callback(func(_ context.Context, observer metric.Int64Observer) error {
			observer.Observe(mc.toolsInFlight.Load())
			return nil
		}),
	)
	if err != nil {
		return nil, err
	}

	return mc, nil
}

// ToolStarted counts a tool call as in flight.
func (mc *MetricsCollector) ToolStarted() {
	mc.toolsInFlight.Add(1)
}

// RecordToolCall records a finished tool call. kind is the error kind,
// or "ok".
func (mc *MetricsCollector) RecordToolCall(ctx context.Context, tool, kind string, duration time.Duration) {
	mc.toolsInFlight.Add(-1)

	attrs := metric.WithAttributes(
		attribute.String("tool", tool),
		attribute.String("status", kind),
	)
	mc.toolCalls.Add(ctx, 1, attrs)
	mc.toolDuration.Record(ctx, duration.Seconds(), attrs)
}

// RecordRPC records a finished query server request.
func (mc *MetricsCollector) RecordRPC(method string, elapsed time.Duration, err error) {
	status := "ok"
	if err != nil {
		status = "error"
	}
	attrs := metric.WithAttributes(
		attribute.String("method", method),
		attribute.String("status", status),
	)
	mc.rpcCalls.Add(context.Background(), 1, attrs)
	mc.rpcDuration.Record(context.Background(), elapsed.Seconds(), attrs)
}

// InFlight returns the number of tool calls currently running.
func (mc *MetricsCollector) InFlight() int64 {
	return mc.toolsInFlight.Load()
}
