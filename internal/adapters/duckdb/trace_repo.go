package duckdb

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/manthysbr/techscout/internal/core/domain"
)

const (
	traceColumns = `id, name, status, run_id, root_span_id,
	start_time, end_time, duration_ms, span_count`

	spanColumns = `id, trace_id, parent_id, name, kind, status,
	input, output, error, model, attributes, start_time, end_time, duration_ms`
)

// SaveTrace writes a finished trace and its spans in one transaction.
// Saving the same trace twice updates the mutable columns only.
func (r *Repository) SaveTrace(ctx context.Context, trace *domain.Trace) error {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck

	_, err = tx.ExecContext(ctx, `
	INSERT INTO traces (`+traceColumns+`)
	VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
	ON CONFLICT (id) DO UPDATE SET
		status = excluded.status,
		end_time = excluded.end_time,
		duration_ms = excluded.duration_ms,
		span_count = excluded.span_count;
	`,
		string(trace.ID), trace.Name, string(trace.Status), string(trace.RunID), string(trace.RootSpanID),
		trace.StartTime, nullable(trace.EndTime), trace.DurationMs, trace.SpanCount,
	)
	if err != nil {
		return fmt.Errorf("save trace %s: %w", trace.ID, err)
	}

	if len(trace.Spans) == 0 {
		return tx.Commit()
	}

	stmt, err := tx.PrepareContext(ctx, `
	INSERT INTO spans (`+spanColumns+`)
	VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	ON CONFLICT (id) DO UPDATE SET
		status = excluded.status,
		output = excluded.output,
		error = excluded.error,
		end_time = excluded.end_time,
		duration_ms = excluded.duration_ms;
	`)
	if err != nil {
		return fmt.Errorf("prepare span insert: %w", err)
	}
	defer stmt.Close()

	for i := range trace.Spans {
		s := &trace.Spans[i]
		attrs := ""
		if len(s.Attributes) > 0 {
			b, err := json.Marshal(s.Attributes)
			if err != nil {
				return fmt.Errorf("marshal attributes of span %s: %w", s.ID, err)
			}
			attrs = string(b)
		}
		if _, err := stmt.ExecContext(ctx,
			string(s.ID), string(s.TraceID), string(s.ParentID), s.Name, string(s.Kind), string(s.Status),
			s.Input, s.Output, s.Error, s.Model, attrs, s.StartTime, nullable(s.EndTime), s.DurationMs,
		); err != nil {
			return fmt.Errorf("save span %s: %w", s.ID, err)
		}
	}
	return tx.Commit()
}

// ListTraces returns summaries newest first.
func (r *Repository) ListTraces(ctx context.Context, limit int) ([]domain.TraceSummary, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := r.db.QueryContext(ctx, `SELECT `+traceColumns+` FROM traces ORDER BY start_time DESC LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("list traces: %w", err)
	}
	defer rows.Close()

	out := []domain.TraceSummary{}
	for rows.Next() {
		t, err := scanTrace(rows)
		if err != nil {
			return nil, fmt.Errorf("scan trace: %w", err)
		}
		out = append(out, domain.TraceSummary{
			ID:         t.ID,
			RunID:      t.RunID,
			Name:       t.Name,
			Status:     t.Status,
			StartTime:  t.StartTime,
			DurationMs: t.DurationMs,
			SpanCount:  t.SpanCount,
		})
	}
	return out, rows.Err()
}

// GetTrace loads a trace with its spans ordered by start time.
// Children of every span are rebuilt from the parent links.
func (r *Repository) GetTrace(ctx context.Context, id domain.TraceID) (*domain.Trace, error) {
	row := r.db.QueryRowContext(ctx, `SELECT `+traceColumns+` FROM traces WHERE id = ?`, string(id))
	t, err := scanTrace(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: %s", domain.ErrTraceNotFound, id)
	}
	if err != nil {
		return nil, fmt.Errorf("get trace: %w", err)
	}

	rows, err := r.db.QueryContext(ctx, `SELECT `+spanColumns+` FROM spans WHERE trace_id = ? ORDER BY start_time ASC`, string(id))
	if err != nil {
		return nil, fmt.Errorf("load spans: %w", err)
	}
	defer rows.Close()

	index := make(map[domain.SpanID]int)
	for rows.Next() {
		s, err := scanSpan(rows)
		if err != nil {
			return nil, fmt.Errorf("scan span: %w", err)
		}
		index[s.ID] = len(t.Spans)
		t.Spans = append(t.Spans, s)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	for _, s := range t.Spans {
		if i, ok := index[s.ParentID]; ok && s.ParentID != "" {
			t.Spans[i].Children = append(t.Spans[i].Children, s.ID)
		}
	}
	return &t, nil
}

func scanTrace(row rowScanner) (domain.Trace, error) {
	var (
		t                       domain.Trace
		status, runID, rootSpan sql.NullString
		endTime                 sql.NullTime
		durationMs              sql.NullInt64
		spanCount               sql.NullInt64
	)
	if err := row.Scan(&t.ID, &t.Name, &status, &runID, &rootSpan,
		&t.StartTime, &endTime, &durationMs, &spanCount); err != nil {
		return domain.Trace{}, err
	}
	t.Status = domain.SpanStatus(status.String)
	t.RunID = domain.RunID(runID.String)
	t.RootSpanID = domain.SpanID(rootSpan.String)
	if endTime.Valid {
		t.EndTime = &endTime.Time
	}
	t.DurationMs = durationMs.Int64
	t.SpanCount = int(spanCount.Int64)
	return t, nil
}

func scanSpan(row rowScanner) (domain.Span, error) {
	var (
		s                                           domain.Span
		parent, input, output, errText, model, attr sql.NullString
		kind, status                                sql.NullString
		endTime                                     sql.NullTime
		durationMs                                  sql.NullInt64
	)
	if err := row.Scan(&s.ID, &s.TraceID, &parent, &s.Name, &kind, &status,
		&input, &output, &errText, &model, &attr, &s.StartTime, &endTime, &durationMs); err != nil {
		return domain.Span{}, err
	}
	s.ParentID = domain.SpanID(parent.String)
	s.Kind = domain.SpanKind(kind.String)
	s.Status = domain.SpanStatus(status.String)
	s.Input = input.String
	s.Output = output.String
	s.Error = errText.String
	s.Model = model.String
	if endTime.Valid {
		s.EndTime = &endTime.Time
	}
	s.DurationMs = durationMs.Int64
	if attr.String != "" {
		if err := json.Unmarshal([]byte(attr.String), &s.Attributes); err != nil {
			return domain.Span{}, fmt.Errorf("decode attributes of span %s: %w", s.ID, err)
		}
	}
	return s, nil
}
