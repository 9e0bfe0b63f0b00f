package services

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"
	"github.com/manthysbr/techscout/internal/core/domain"
)

const (
	maxTraces      = 500  // ring buffer size
	maxInputOutput = 2000 // truncate input/output at 2KB
)

// TraceRepository persists completed traces and reads back older ones.
type TraceRepository interface {
	SaveTrace(ctx context.Context, trace *domain.Trace) error
	GetTrace(ctx context.Context, id domain.TraceID) (*domain.Trace, error)
	ListTraces(ctx context.Context, limit int) ([]domain.TraceSummary, error)
}

// TraceExporter ships completed traces to an external backend (OTLP).
type TraceExporter interface {
	ExportTrace(ctx context.Context, trace *domain.Trace) error
}

// TraceCollector gathers, stores, and exposes traces and spans.
// Thread-safe. Operates as a ring buffer of recent traces.
type TraceCollector struct {
	mu       sync.RWMutex
	logger   *slog.Logger
	eventBus *EventBus
	repo     TraceRepository // optional
	exporter TraceExporter   // optional

	traces     map[domain.TraceID]*domain.Trace
	spans      map[domain.SpanID]*domain.Span
	traceOrder []domain.TraceID // for eviction

	pending sync.WaitGroup
}

// NewTraceCollector creates a collector. eventBus, repo and exporter may be nil.
func NewTraceCollector(logger *slog.Logger, eventBus *EventBus, repo TraceRepository, exporter TraceExporter) *TraceCollector {
	return &TraceCollector{
		logger:   logger,
		eventBus: eventBus,
		repo:     repo,
		exporter: exporter,
		traces:   make(map[domain.TraceID]*domain.Trace, maxTraces),
		spans:    make(map[domain.SpanID]*domain.Span, maxTraces*10),
	}
}

// --- Context propagation ---

type traceCtxKey struct{}
type spanCtxKey struct{}

// ContextWithTrace stores trace and span IDs in context for propagation.
func ContextWithTrace(ctx context.Context, traceID domain.TraceID, spanID domain.SpanID) context.Context {
	ctx = context.WithValue(ctx, traceCtxKey{}, traceID)
	ctx = context.WithValue(ctx, spanCtxKey{}, spanID)
	return ctx
}

// TraceFromContext extracts trace and current span ID from context.
func TraceFromContext(ctx context.Context) (domain.TraceID, domain.SpanID, bool) {
	traceID, ok1 := ctx.Value(traceCtxKey{}).(domain.TraceID)
	spanID, ok2 := ctx.Value(spanCtxKey{}).(domain.SpanID)
	return traceID, spanID, ok1 && ok2
}

// --- Trace lifecycle ---

// StartTrace begins the trace of one run. Returns updated context with trace/span.
func (tc *TraceCollector) StartTrace(ctx context.Context, runID domain.RunID, name string, attrs map[string]string) (context.Context, domain.TraceID) {
	if tc == nil {
		return ctx, ""
	}
	traceID := domain.TraceID(uuid.New().String())
	rootSpanID := domain.SpanID(uuid.New().String())
	now := time.Now()
	name = strings.ToValidUTF8(name, "\uFFFD")

	rootSpan := &domain.Span{
		ID:         rootSpanID,
		TraceID:    traceID,
		Name:       name,
		Kind:       domain.SpanKindRun,
		Status:     domain.SpanStatusRunning,
		Attributes: attrs,
		StartTime:  now,
	}

	trace := &domain.Trace{
		ID:         traceID,
		RootSpanID: rootSpanID,
		RunID:      runID,
		Name:       name,
		Status:     domain.SpanStatusRunning,
		StartTime:  now,
		SpanCount:  1,
	}

	tc.mu.Lock()
	tc.evictIfNeeded()
	tc.traces[traceID] = trace
	tc.spans[rootSpanID] = rootSpan
	tc.traceOrder = append(tc.traceOrder, traceID)
	tc.mu.Unlock()

	tc.publishEvent(traceID, "start", map[string]any{
		"trace_id": traceID,
		"run_id":   runID,
		"name":     name,
	})

	tc.logger.Debug("trace started", "trace_id", string(traceID), "run_id", string(runID))

	return ContextWithTrace(ctx, traceID, rootSpanID), traceID
}

// EndTrace finalizes a trace, then persists and exports it in the background.
func (tc *TraceCollector) EndTrace(traceID domain.TraceID, status domain.SpanStatus, errMsg string) {
	if tc == nil || traceID == "" {
		return
	}
	tc.mu.Lock()

	trace, ok := tc.traces[traceID]
	if !ok {
		tc.mu.Unlock()
		return
	}

	now := time.Now()
	trace.Status = status
	trace.EndTime = &now
	trace.DurationMs = now.Sub(trace.StartTime).Milliseconds()

	if root, ok := tc.spans[trace.RootSpanID]; ok {
		root.Status = status
		root.EndTime = &now
		root.DurationMs = now.Sub(root.StartTime).Milliseconds()
		if errMsg != "" {
			root.Error = truncate(errMsg, maxInputOutput)
		}
	}
	dur := trace.DurationMs

	var snapshot *domain.Trace
	if tc.repo != nil || tc.exporter != nil {
		snapshot = tc.snapshotLocked(trace)
	}
	tc.mu.Unlock()

	tc.publishEvent(traceID, "end", map[string]any{
		"trace_id":    traceID,
		"status":      status,
		"duration_ms": dur,
	})

	if snapshot == nil {
		return
	}
	tc.pending.Add(1)
	go func() {
		defer tc.pending.Done()
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if tc.repo != nil {
			if err := tc.repo.SaveTrace(ctx, snapshot); err != nil {
				tc.logger.Warn("failed to persist trace", "trace_id", string(traceID), "error", err)
			}
		}
		if tc.exporter != nil {
			if err := tc.exporter.ExportTrace(ctx, snapshot); err != nil {
				tc.logger.Warn("failed to export trace", "trace_id", string(traceID), "error", err)
			}
		}
	}()
}

// Flush waits for background persistence of ended traces.
func (tc *TraceCollector) Flush() {
	if tc == nil {
		return
	}
	tc.pending.Wait()
}

// --- Span lifecycle ---

// StartSpan creates a child span under the current context's span.
func (tc *TraceCollector) StartSpan(ctx context.Context, name string, kind domain.SpanKind, attrs map[string]string) (context.Context, domain.SpanID) {
	if tc == nil {
		return ctx, ""
	}
	traceID, parentSpanID, ok := TraceFromContext(ctx)
	if !ok {
		return ctx, ""
	}

	spanID := domain.SpanID(uuid.New().String())
	name = strings.ToValidUTF8(name, "\uFFFD")
	span := &domain.Span{
		ID:         spanID,
		ParentID:   parentSpanID,
		TraceID:    traceID,
		Name:       name,
		Kind:       kind,
		Status:     domain.SpanStatusRunning,
		Attributes: attrs,
		StartTime:  time.Now(),
	}

	tc.mu.Lock()
	tc.spans[spanID] = span
	if parent, ok := tc.spans[parentSpanID]; ok {
		parent.Children = append(parent.Children, spanID)
	}
	if trace, ok := tc.traces[traceID]; ok {
		trace.SpanCount++
	}
	tc.mu.Unlock()

	tc.publishEvent(traceID, "span_start", map[string]any{
		"span_id":   spanID,
		"parent_id": parentSpanID,
		"name":      name,
		"kind":      kind,
	})

	return ContextWithTrace(ctx, traceID, spanID), spanID
}

// EndSpan finalizes a span with output and status.
func (tc *TraceCollector) EndSpan(spanID domain.SpanID, status domain.SpanStatus, output string, errMsg string) {
	if tc == nil || spanID == "" {
		return
	}

	tc.mu.Lock()
	span, ok := tc.spans[spanID]
	if !ok {
		tc.mu.Unlock()
		return
	}
	now := time.Now()
	span.Status = status
	span.Output = truncate(output, maxInputOutput)
	span.EndTime = &now
	span.DurationMs = now.Sub(span.StartTime).Milliseconds()
	if errMsg != "" {
		span.Error = truncate(errMsg, maxInputOutput)
	}
	traceID := span.TraceID
	name, kind, dur := span.Name, span.Kind, span.DurationMs
	tc.mu.Unlock()

	tc.publishEvent(traceID, "span_end", map[string]any{
		"span_id":     spanID,
		"name":        name,
		"kind":        kind,
		"status":      status,
		"duration_ms": dur,
	})
}

// SetSpanInput sets the input for a span.
func (tc *TraceCollector) SetSpanInput(spanID domain.SpanID, input string) {
	if tc == nil || spanID == "" {
		return
	}
	tc.mu.Lock()
	defer tc.mu.Unlock()
	if span, ok := tc.spans[spanID]; ok {
		span.Input = truncate(input, maxInputOutput)
	}
}

// SetSpanModel sets the model ID for an LLM span.
func (tc *TraceCollector) SetSpanModel(spanID domain.SpanID, model string) {
	if tc == nil || spanID == "" {
		return
	}
	tc.mu.Lock()
	defer tc.mu.Unlock()
	if span, ok := tc.spans[spanID]; ok {
		span.Model = model
	}
}

// --- Query ---

// ListTraces returns summaries of recent traces (newest first).
// When nothing is buffered in memory, it falls back to the repository.
func (tc *TraceCollector) ListTraces(ctx context.Context, limit int) ([]domain.TraceSummary, error) {
	tc.mu.RLock()
	n := len(tc.traceOrder)
	if limit <= 0 || limit > n {
		limit = n
	}
	result := make([]domain.TraceSummary, 0, limit)
	for i := n - 1; i >= 0 && len(result) < limit; i-- {
		if trace, ok := tc.traces[tc.traceOrder[i]]; ok {
			result = append(result, domain.TraceSummary{
				ID:         trace.ID,
				RunID:      trace.RunID,
				Name:       trace.Name,
				Status:     trace.Status,
				StartTime:  trace.StartTime,
				DurationMs: trace.DurationMs,
				SpanCount:  trace.SpanCount,
			})
		}
	}
	tc.mu.RUnlock()

	if n == 0 && tc.repo != nil {
		return tc.repo.ListTraces(ctx, limit)
	}
	return result, nil
}

// GetTrace returns a full trace with all spans, from memory or the repository.
func (tc *TraceCollector) GetTrace(ctx context.Context, traceID domain.TraceID) (*domain.Trace, error) {
	tc.mu.RLock()
	trace, ok := tc.traces[traceID]
	var result *domain.Trace
	if ok {
		result = tc.snapshotLocked(trace)
	}
	tc.mu.RUnlock()

	if result != nil {
		return result, nil
	}
	if tc.repo != nil {
		return tc.repo.GetTrace(ctx, traceID)
	}
	return nil, fmt.Errorf("%w: %s", domain.ErrTraceNotFound, traceID)
}

// --- Internal helpers ---

func (tc *TraceCollector) snapshotLocked(trace *domain.Trace) *domain.Trace {
	cp := *trace
	cp.Spans = nil
	for _, span := range tc.spans {
		if span.TraceID == trace.ID {
			s := *span
			s.Children = append([]domain.SpanID(nil), span.Children...)
			cp.Spans = append(cp.Spans, s)
		}
	}
	return &cp
}

func (tc *TraceCollector) evictIfNeeded() {
	for len(tc.traceOrder) >= maxTraces {
		oldID := tc.traceOrder[0]
		tc.traceOrder = tc.traceOrder[1:]

		if _, ok := tc.traces[oldID]; ok {
			for sid, span := range tc.spans {
				if span.TraceID == oldID {
					delete(tc.spans, sid)
				}
			}
			delete(tc.traces, oldID)
		}
	}
}

func (tc *TraceCollector) publishEvent(traceID domain.TraceID, eventType string, data map[string]any) {
	if tc.eventBus == nil {
		return
	}

	payload, _ := json.Marshal(data)
	tc.eventBus.Publish(Event{
		Key:       "trace:" + string(traceID),
		Type:      EventType("trace_" + eventType),
		Data:      string(payload),
		Timestamp: time.Now().UnixMilli(),
	})
}

// truncate caps s at maxLen bytes without splitting a rune. Invalid UTF-8 is
// replaced because the store rejects it.
func truncate(s string, maxLen int) string {
	s = strings.ToValidUTF8(s, "\uFFFD")
	if len(s) <= maxLen {
		return s
	}
	return clipBytes(s, maxLen) + "...[truncated]"
}

// clipBytes returns the longest prefix of s of at most n bytes that ends on a
// rune boundary.
func clipBytes(s string, n int) string {
	if len(s) <= n {
		return s
	}
	for n > 0 && !utf8.RuneStart(s[n]) {
		n--
	}
	return s[:n]
}

// tailBytes returns the shortest suffix of s of at most n bytes that starts on
// a rune boundary.
func tailBytes(s string, n int) string {
	if len(s) <= n {
		return s
	}
	i := len(s) - n
	for i < len(s) && !utf8.RuneStart(s[i]) {
		i++
	}
	return s[i:]
}
