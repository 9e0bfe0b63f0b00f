package domain

import "time"

// TraceID uniquely identifies a trace (one per run).
type TraceID string

// SpanID uniquely identifies a span within a trace.
type SpanID string

// SpanKind classifies the type of operation a span represents.
type SpanKind string

const (
	SpanKindRun     SpanKind = "run"     // Top-level reasoning run
	SpanKindLLM     SpanKind = "llm"     // One oracle query
	SpanKindTool    SpanKind = "tool"    // Tool invocation
	SpanKindHandoff SpanKind = "handoff" // Role turn in the hand-off workflow
)

// SpanStatus indicates completion state of a span.
type SpanStatus string

const (
	SpanStatusRunning   SpanStatus = "running"
	SpanStatusOK        SpanStatus = "ok"
	SpanStatusError     SpanStatus = "error"
	SpanStatusCancelled SpanStatus = "cancelled"
)

// Span represents a single unit of work within a trace.
// Spans form a tree: a run span contains llm and tool child spans.
type Span struct {
	ID         SpanID            `json:"id"`
	ParentID   SpanID            `json:"parent_id,omitempty"` // empty = root
	TraceID    TraceID           `json:"trace_id"`
	Name       string            `json:"name"` // e.g. "llm.query", "tool.search_author"
	Kind       SpanKind          `json:"kind"`
	Status     SpanStatus        `json:"status"`
	Input      string            `json:"input,omitempty"`  // truncated input
	Output     string            `json:"output,omitempty"` // truncated output
	Error      string            `json:"error,omitempty"`
	Model      string            `json:"model,omitempty"`
	Attributes map[string]string `json:"attributes,omitempty"`
	StartTime  time.Time         `json:"start_time"`
	EndTime    *time.Time        `json:"end_time,omitempty"`
	DurationMs int64             `json:"duration_ms,omitempty"`
	Children   []SpanID          `json:"children,omitempty"`
}

// Trace groups all spans of a single run.
type Trace struct {
	ID         TraceID    `json:"id"`
	RootSpanID SpanID     `json:"root_span_id"`
	RunID      RunID      `json:"run_id,omitempty"`
	Name       string     `json:"name"` // e.g. "run: who wrote attention is all you need"
	Status     SpanStatus `json:"status"`
	StartTime  time.Time  `json:"start_time"`
	EndTime    *time.Time `json:"end_time,omitempty"`
	DurationMs int64      `json:"duration_ms,omitempty"`
	SpanCount  int        `json:"span_count"`
	Spans      []Span     `json:"spans,omitempty"` // populated only on detail view
}

// TraceSummary is a lightweight view for listing traces.
type TraceSummary struct {
	ID         TraceID    `json:"id"`
	RunID      RunID      `json:"run_id,omitempty"`
	Name       string     `json:"name"`
	Status     SpanStatus `json:"status"`
	StartTime  time.Time  `json:"start_time"`
	DurationMs int64      `json:"duration_ms"`
	SpanCount  int        `json:"span_count"`
}
