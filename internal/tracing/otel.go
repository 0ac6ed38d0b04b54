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
	"fmt"
	"log/slog"
	"net/http"

	promclient "github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/exporters/prometheus"
	"go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.26.0"
	"go.opentelemetry.io/otel/trace"

	"github.com/tombee/codeql-mcp/internal/log"
)

// ProviderOptions are the non-config inputs of NewProvider.
type ProviderOptions struct {
	Logger *slog.Logger

	// Registerer receives the OTel metrics. Defaults to the global
	// Prometheus registry, which also holds the subprocess metrics.
	Registerer promclient.Registerer

	// Gatherer serves /metrics. Defaults to the global registry.
	Gatherer promclient.Gatherer

	// SpanProcessors are added after the configured exporters.
	SpanProcessors []sdktrace.SpanProcessor
}

// Provider owns the tracer and meter providers.
type Provider struct {
	tp       *sdktrace.TracerProvider
	mp       *metric.MeterProvider
	metrics  *MetricsCollector
	gatherer promclient.Gatherer
}

// NewProvider creates tracer and meter providers from cfg. Exporters
// that fail to start are logged and skipped. With tracing disabled no
// span is sampled, but metrics are still collected.
func NewProvider(ctx context.Context, cfg Config, opts ProviderOptions) (*Provider, error) {
	if opts.Logger == nil {
		opts.Logger = log.Discard()
	}
	if opts.Registerer == nil {
		opts.Registerer = promclient.DefaultRegisterer
	}
	if opts.Gatherer == nil {
		opts.Gatherer = promclient.DefaultGatherer
	}

	// An empty schema URL avoids conflicts when merging with the default resource.
	res, err := resource.Merge(
		resource.Default(),
		resource.NewWithAttributes(
			"",
			semconv.ServiceName(cfg.ServiceName),
			semconv.ServiceVersion(cfg.ServiceVersion),
		),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create resource: %w", err)
	}

	tpOpts := []sdktrace.TracerProviderOption{sdktrace.WithResource(res)}
	if cfg.Enabled {
		tpOpts = append(tpOpts, sdktrace.WithSampler(NewSampler(cfg.Sampling)))
		for _, p := range CreateExportersFromConfig(ctx, cfg, opts.Logger) {
			tpOpts = append(tpOpts, sdktrace.WithSpanProcessor(p))
		}
		for _, p := range opts.SpanProcessors {
			tpOpts = append(tpOpts, sdktrace.WithSpanProcessor(p))
		}
	} else {
		tpOpts = append(tpOpts, sdktrace.WithSampler(sdktrace.NeverSample()))
	}
	tp := sdktrace.NewTracerProvider(tpOpts...)

	otel.SetTracerProvider(tp)
	otel.SetTextMapPropagator(W3CPropagator())

	promExporter, err := prometheus.New(prometheus.WithRegisterer(opts.Registerer))
	if err != nil {
		_ = tp.Shutdown(ctx)
		return nil, fmt.Errorf("failed to create prometheus exporter: %w", err)
	}
	mp := metric.NewMeterProvider(
		metric.WithResource(res),
		metric.WithReader(promExporter),
	)

	metrics, err := NewMetricsCollector(mp)
	if err != nil {
		_ = tp.Shutdown(ctx)
		_ = mp.Shutdown(ctx)
		return nil, fmt.Errorf("failed to create metrics collector: %w", err)
	}

	return &Provider{tp: tp, mp: mp, metrics: metrics, gatherer: opts.Gatherer}, nil
}

// Tracer returns a tracer for the given instrumentation scope.
func (p *Provider) Tracer(name string) trace.Tracer {
	return p.tp.Tracer(name)
}

// Metrics returns the tool and RPC metrics collector.
func (p *Provider) Metrics() *MetricsCollector {
	return p.metrics
}

// MetricsHandler serves the Prometheus exposition format.
func (p *Provider) MetricsHandler() http.Handler {
	return promhttp.HandlerFor(p.gatherer, promhttp.HandlerOpts{})
}

// ForceFlush exports all pending spans synchronously.
func (p *Provider) ForceFlush(ctx context.Context) error {
	return errors.Join(p.tp.ForceFlush(ctx), p.mp.ForceFlush(ctx))
}

// Shutdown flushes pending spans and releases resources.
func (p *Provider) Shutdown(ctx context.Context) error {
	return errors.Join(p.tp.Shutdown(ctx), p.mp.Shutdown(ctx))
}

// StartToolSpan starts the server span of one tool call.
func StartToolSpan(ctx context.Context, tracer trace.Tracer, tool, requestID string) (context.Context, trace.Span) {
	return tracer.Start(ctx, "tool "+tool,
		trace.WithSpanKind(trace.SpanKindServer),
		trace.WithAttributes(
			attribute.String("mcp.tool", tool),
			attribute.String("mcp.request_id", requestID),
		),
	)
}

// EndToolSpan records the outcome of a tool call and ends its span.
func EndToolSpan(span trace.Span, kind string, err error) {
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		span.SetAttributes(
			attribute.String(StatusAttribute, "error"),
			attribute.String("error.kind", kind),
		)
	} else {
		span.SetStatus(codes.Ok, "")
		span.SetAttributes(attribute.String(StatusAttribute, "ok"))
	}
	span.End()
}
