package duckdb

import (
	"database/sql"
	"fmt"

	_ "github.com/marcboeker/go-duckdb"

	"github.com/manthysbr/techscout/internal/core/ports"
	"github.com/manthysbr/techscout/internal/core/services"
)

// Repository is the DuckDB-backed store for runs, traces, conversation
// memory and settings. Influencers live in a separate InfluencerCatalog.
type Repository struct {
	db *sql.DB
}

// NewRepository opens (or creates) the DuckDB file at path and creates the schema.
// An empty path opens an in-memory database.
func NewRepository(path string) (*Repository, error) {
	db, err := sql.Open("duckdb", path)
	if err != nil {
		return nil, fmt.Errorf("open duckdb: %w", err)
	}
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping duckdb: %w", err)
	}

	r := &Repository{db: db}
	if err := r.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrate: %w", err)
	}
	return r, nil
}

var (
	_ ports.RunRepository          = (*Repository)(nil)
	_ ports.ConversationRepository = (*Repository)(nil)
	_ ports.SettingsRepository     = (*Repository)(nil)
	_ services.TraceRepository     = (*Repository)(nil)
)

func (r *Repository) migrate() error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS runs (
			id VARCHAR PRIMARY KEY,
			mode VARCHAR NOT NULL,
			task VARCHAR NOT NULL,
			conversation_id VARCHAR,
			status VARCHAR NOT NULL,
			final_text VARCHAR,
			steps INTEGER,
			sources VARCHAR,
			trace VARCHAR,
			error VARCHAR,
			started_at TIMESTAMP NOT NULL,
			finished_at TIMESTAMP
		)`,
		`CREATE TABLE IF NOT EXISTS traces (
			id VARCHAR PRIMARY KEY,
			name VARCHAR,
			status VARCHAR,
			run_id VARCHAR,
			root_span_id VARCHAR,
			start_time TIMESTAMP,
			end_time TIMESTAMP,
			duration_ms BIGINT,
			span_count INTEGER
		)`,
		`CREATE TABLE IF NOT EXISTS spans (
			id VARCHAR PRIMARY KEY,
			trace_id VARCHAR NOT NULL,
			parent_id VARCHAR,
			name VARCHAR,
			kind VARCHAR,
			status VARCHAR,
			input VARCHAR,
			output VARCHAR,
			error VARCHAR,
			model VARCHAR,
			attributes VARCHAR,
			start_time TIMESTAMP,
			end_time TIMESTAMP,
			duration_ms BIGINT
		)`,
		`CREATE TABLE IF NOT EXISTS conversations (
			id VARCHAR PRIMARY KEY,
			memory VARCHAR NOT NULL,
			updated_at TIMESTAMP NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS settings (
			key VARCHAR PRIMARY KEY,
			value VARCHAR NOT NULL
		)`,
	}

	for _, stmt := range stmts {
		if _, err := r.db.Exec(stmt); err != nil {
			return fmt.Errorf("exec %q: %w", stmt[:min(len(stmt), 60)], err)
		}
	}
	return nil
}

// nullable unwraps optional columns so the driver sees a plain value or NULL.
func nullable[T any](v *T) any {
	if v == nil {
		return nil
	}
	return *v
}

// Close releases the underlying database.
func (r *Repository) Close() error {
	return r.db.Close()
}
