package duckdb

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/manthysbr/techscout/internal/core/domain"
)

const runColumns = `id, mode, task, conversation_id, status, final_text, steps,
	sources, trace, error, started_at, finished_at`

// SaveRun inserts or updates a run record.
func (r *Repository) SaveRun(ctx context.Context, run domain.RunRecord) error {
	sourcesJSON, err := json.Marshal(run.Sources)
	if err != nil {
		return fmt.Errorf("failed to marshal sources: %w", err)
	}
	traceJSON, err := json.Marshal(run.Trace)
	if err != nil {
		return fmt.Errorf("failed to marshal trace: %w", err)
	}

	query := `
	INSERT INTO runs (` + runColumns + `)
	VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	ON CONFLICT (id) DO UPDATE SET
		status = excluded.status,
		final_text = excluded.final_text,
		steps = excluded.steps,
		sources = excluded.sources,
		trace = excluded.trace,
		error = excluded.error,
		finished_at = excluded.finished_at;
	`
	_, err = r.db.ExecContext(ctx, query,
		string(run.ID), string(run.Mode), run.Task, string(run.ConversationID),
		string(run.Status), run.FinalText, run.Steps,
		string(sourcesJSON), string(traceJSON), run.Error,
		run.StartedAt, nullable(run.FinishedAt),
	)
	if err != nil {
		return fmt.Errorf("save run %s: %w", run.ID, err)
	}
	return nil
}

// GetRun loads one run by ID.
func (r *Repository) GetRun(ctx context.Context, id domain.RunID) (domain.RunRecord, error) {
	row := r.db.QueryRowContext(ctx, `SELECT `+runColumns+` FROM runs WHERE id = ?`, string(id))
	run, err := scanRun(row)
	if errors.Is(err, sql.ErrNoRows) {
		return domain.RunRecord{}, fmt.Errorf("%w: %s", domain.ErrRunNotFound, id)
	}
	if err != nil {
		return domain.RunRecord{}, fmt.Errorf("get run: %w", err)
	}
	return run, nil
}

// ListRuns returns the most recent runs, newest first.
func (r *Repository) ListRuns(ctx context.Context, limit int) ([]domain.RunRecord, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := r.db.QueryContext(ctx, `SELECT `+runColumns+` FROM runs ORDER BY started_at DESC LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("list runs: %w", err)
	}
	defer rows.Close()

	out := []domain.RunRecord{}
	for rows.Next() {
		run, err := scanRun(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, run)
	}
	return out, rows.Err()
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanRun(row rowScanner) (domain.RunRecord, error) {
	var run domain.RunRecord
	var id, mode, status string
	var convID, finalText, sourcesJSON, traceJSON, errStr sql.NullString
	var steps sql.NullInt64

	if err := row.Scan(&id, &mode, &run.Task, &convID, &status, &finalText, &steps,
		&sourcesJSON, &traceJSON, &errStr, &run.StartedAt, &run.FinishedAt); err != nil {
		return domain.RunRecord{}, err
	}

	run.ID = domain.RunID(id)
	run.Mode = domain.RunMode(mode)
	run.Status = domain.RunStatus(status)
	run.ConversationID = domain.ConversationID(convID.String)
	run.FinalText = finalText.String
	run.Steps = int(steps.Int64)
	run.Error = errStr.String

	if sourcesJSON.Valid && sourcesJSON.String != "" {
		if err := json.Unmarshal([]byte(sourcesJSON.String), &run.Sources); err != nil {
			return domain.RunRecord{}, fmt.Errorf("failed to unmarshal sources: %w", err)
		}
	}
	if traceJSON.Valid && traceJSON.String != "" {
		if err := json.Unmarshal([]byte(traceJSON.String), &run.Trace); err != nil {
			return domain.RunRecord{}, fmt.Errorf("failed to unmarshal trace: %w", err)
		}
	}
	return run, nil
}
