// Package otelexport forwards finished run traces to an OTLP collector.
package otelexport

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"time"
	"unicode/utf8"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracehttp"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.26.0"
	"go.opentelemetry.io/otel/trace"

	"github.com/manthysbr/techscout/internal/core/domain"
)

const previewLimit = 500

// Config configures the OTLP/HTTP exporter.
type Config struct {
	Endpoint    string // host:port, e.g. "localhost:4318"
	Insecure    bool
	ServiceName string
}

// Exporter replays finished traces as OTel spans with their recorded timestamps.
type Exporter struct {
	provider *sdktrace.TracerProvider
	tracer   trace.Tracer
}

// New creates an OTLP/HTTP exporter with a batching span processor.
func New(ctx context.Context, cfg Config) (*Exporter, error) {
	if cfg.Endpoint == "" {
		return nil, errors.New("OTLP endpoint is required")
	}

	opts := []otlptracehttp.Option{otlptracehttp.WithEndpoint(cfg.Endpoint)}
	if cfg.Insecure {
		opts = append(opts, otlptracehttp.WithInsecure())
	}
	exp, err := otlptracehttp.New(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("otel exporter: %w", err)
	}

	res, err := newResource(ctx, cfg.ServiceName)
	if err != nil {
		return nil, err
	}
	tp := sdktrace.NewTracerProvider(
		sdktrace.WithBatcher(exp,
			sdktrace.WithMaxExportBatchSize(100),
			sdktrace.WithBatchTimeout(5*time.Second),
		),
		sdktrace.WithResource(res),
	)
	return &Exporter{provider: tp, tracer: tp.Tracer("techscout")}, nil
}

// NewWithProvider wraps an existing tracer provider.
func NewWithProvider(tp *sdktrace.TracerProvider) *Exporter {
	return &Exporter{provider: tp, tracer: tp.Tracer("techscout")}
}

func newResource(ctx context.Context, serviceName string) (*resource.Resource, error) {
	if serviceName == "" {
		serviceName = "techscout"
	}
	res, err := resource.New(ctx,
		resource.WithAttributes(
			semconv.ServiceName(serviceName),
			semconv.ServiceVersion("1.0.0"),
		),
	)
	if err != nil {
		return nil, fmt.Errorf("otel resource: %w", err)
	}
	return res, nil
}

// ExportTrace emits every span of t, parents before children, so the OTel tree
// mirrors the recorded one.
func (e *Exporter) ExportTrace(ctx context.Context, t *domain.Trace) error {
	if e == nil || t == nil || len(t.Spans) == 0 {
		return nil
	}

	spans := append([]domain.Span(nil), t.Spans...)
	sort.SliceStable(spans, func(i, j int) bool { return spans[i].StartTime.Before(spans[j].StartTime) })

	started := make(map[domain.SpanID]context.Context, len(spans))
	for _, s := range spans {
		parent := ctx
		if pc, ok := started[s.ParentID]; ok && s.ParentID != "" {
			parent = pc
		}
		started[s.ID] = e.exportSpan(parent, t, s)
	}
	return nil
}

func (e *Exporter) exportSpan(parent context.Context, t *domain.Trace, s domain.Span) context.Context {
	attrs := []attribute.KeyValue{
		attribute.String("techscout.span_kind", string(s.Kind)),
		attribute.String("techscout.trace_id", string(t.ID)),
		attribute.String("techscout.span_id", string(s.ID)),
	}
	if t.RunID != "" {
		attrs = append(attrs, attribute.String("techscout.run_id", string(t.RunID)))
	}
	if s.Model != "" {
		attrs = append(attrs, attribute.String("gen_ai.request.model", s.Model))
	}
	if s.Kind == domain.SpanKindTool {
		attrs = append(attrs, attribute.String("techscout.tool.name", s.Attributes["tool"]))
	}
	for k, v := range s.Attributes {
		attrs = append(attrs, attribute.String("techscout.attr."+k, v))
	}
	if s.Input != "" {
		attrs = append(attrs, attribute.String("techscout.input_preview", preview(s.Input)))
	}
	if s.Output != "" {
		attrs = append(attrs, attribute.String("techscout.output_preview", preview(s.Output)))
	}

	kind := trace.SpanKindInternal
	if s.Kind == domain.SpanKindLLM {
		kind = trace.SpanKindClient
	}

	ctx, span := e.tracer.Start(parent, s.Name,
		trace.WithTimestamp(s.StartTime),
		trace.WithSpanKind(kind),
		trace.WithAttributes(attrs...),
	)

	switch s.Status {
	case domain.SpanStatusOK:
		span.SetStatus(codes.Ok, "")
	case domain.SpanStatusError, domain.SpanStatusCancelled:
		span.SetStatus(codes.Error, s.Error)
		if s.Error != "" {
			span.RecordError(errors.New(s.Error))
		}
	}

	end := s.StartTime.Add(time.Duration(s.DurationMs) * time.Millisecond)
	if s.EndTime != nil {
		end = *s.EndTime
	}
	span.End(trace.WithTimestamp(end))
	return ctx
}

// Shutdown flushes pending spans.
func (e *Exporter) Shutdown(ctx context.Context) error {
	if e == nil {
		return nil
	}
	slog.Info("otel exporter shutting down")
	return e.provider.Shutdown(ctx)
}

func preview(s string) string {
	s = strings.ToValidUTF8(s, "\uFFFD")
	if len(s) <= previewLimit {
		return s
	}
	n := previewLimit
	for n > 0 && !utf8.RuneStart(s[n]) {
		n--
	}
	return s[:n] + "..."
}
