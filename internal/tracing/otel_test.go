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
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	promclient "github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel/codes"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"
	"go.opentelemetry.io/otel/trace"
)

func newTestProvider(t *testing.T, cfg Config) (*Provider, *tracetest.InMemoryExporter) {
	t.Helper()
	exporter := tracetest.NewInMemoryExporter()
	reg := promclient.NewRegistry()

	p, err := NewProvider(context.Background(), cfg, ProviderOptions{
		Registerer:     reg,
		Gatherer:       reg,
		SpanProcessors: []sdktrace.SpanProcessor{sdktrace.NewSimpleSpanProcessor(exporter)},
	})
	require.NoError(t, err)
	t.Cleanup(func() { _ = p.Shutdown(context.Background()) })
	return p, exporter
}

func enabledConfig() Config {
	cfg := DefaultConfig()
	cfg.Enabled = true
	cfg.ServiceVersion = "test"
	return cfg
}

func TestToolSpan_Success(t *testing.T) {
	p, exporter := newTestProvider(t, enabledConfig())

	_, span := StartToolSpan(context.Background(), p.Tracer("test"), "decode_bqrs", "req-1")
	EndToolSpan(span, "", nil)

	spans := exporter.GetSpans()
	require.Len(t, spans, 1)
	assert.Equal(t, "tool decode_bqrs", spans[0].Name)
	assert.Equal(t, trace.SpanKindServer, spans[0].SpanKind)
	assert.Equal(t, codes.Ok, spans[0].Status.Code)

	attrs := map[string]string{}
	for _, a := range spans[0].Attributes {
		attrs[string(a.Key)] = a.Value.Emit()
	}
	assert.Equal(t, "decode_bqrs", attrs["mcp.tool"])
	assert.Equal(t, "req-1", attrs["mcp.request_id"])
	assert.Equal(t, "ok", attrs[StatusAttribute])
}

func TestToolSpan_Failure(t *testing.T) {
	p, exporter := newTestProvider(t, enabledConfig())

	_, span := StartToolSpan(context.Background(), p.Tracer("test"), "evaluate_query", "req-2")
	EndToolSpan(span, "timeout", errors.New("evaluation timed out"))

	spans := exporter.GetSpans()
	require.Len(t, spans, 1)
	assert.Equal(t, codes.Error, spans[0].Status.Code)
	assert.Equal(t, "evaluation timed out", spans[0].Status.Description)
	require.Len(t, spans[0].Events, 1)
	assert.Equal(t, "exception", spans[0].Events[0].Name)
}

func TestProvider_DisabledRecordsNothing(t *testing.T) {
	p, exporter := newTestProvider(t, DefaultConfig())

	_, span := StartToolSpan(context.Background(), p.Tracer("test"), "list_query_packs", "req-3")
	EndToolSpan(span, "", nil)

	assert.Empty(t, exporter.GetSpans())
}

func TestProvider_MetricsHandler(t *testing.T) {
	p, _ := newTestProvider(t, enabledConfig())
	ctx := context.Background()

	p.Metrics().ToolStarted()
	p.Metrics().RecordToolCall(ctx, "run_security_scan", "ok", 1500*time.Millisecond)
	p.Metrics().RecordRPC("evaluation/runQuery", 2*time.Second, nil)
	p.Metrics().RecordRPC("evaluation/runQuery", time.Second, errors.New("boom"))
	assert.Zero(t, p.Metrics().InFlight())

	srv := httptest.NewServer(p.MetricsHandler())
	defer srv.Close()

	resp, err := http.Get(srv.URL)
	require.NoError(t, err)
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)

	text := string(body)
	assert.Contains(t, text, "codeql_mcp_tool_calls_total")
	assert.Contains(t, text, `tool="run_security_scan"`)
	assert.Contains(t, text, "codeql_mcp_rpc_calls_total")
	assert.Contains(t, text, `status="error"`)
}
