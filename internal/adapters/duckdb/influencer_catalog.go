package duckdb

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strings"

	"github.com/manthysbr/techscout/internal/core/domain"
	"github.com/manthysbr/techscout/internal/core/ports"
)

// linkSep joins links into one bound parameter; it never appears in a URL.
const linkSep = "\x1f"

const influencersDDL = `CREATE TABLE IF NOT EXISTS influencers (
	id INTEGER PRIMARY KEY,
	rank INTEGER,
	name VARCHAR NOT NULL,
	bio VARCHAR,
	twitter_username VARCHAR,
	nb_twitter_followers BIGINT,
	type VARCHAR,
	gender VARCHAR,
	links VARCHAR[]
)`

// readOnlyOptions are applied when the database is opened, before any query
// can run. lock_configuration keeps a query from turning them back off.
const readOnlyOptions = "?access_mode=READ_ONLY&enable_external_access=false&lock_configuration=true"

// InfluencerCatalog serves select_from_db. It lives in its own DuckDB file,
// apart from runs, conversations and settings, and is opened read-only with
// file and network access disabled.
type InfluencerCatalog struct {
	db *sql.DB
}

var _ ports.InfluencerStore = (*InfluencerCatalog)(nil)

// OpenInfluencerCatalog opens the catalog at path, creating an empty one first
// if the file does not exist.
func OpenInfluencerCatalog(path string) (*InfluencerCatalog, error) {
	if path == "" {
		return nil, errors.New("influencer catalog needs a file path")
	}
	if _, err := os.Stat(path); errors.Is(err, fs.ErrNotExist) {
		if err := ImportInfluencers(context.Background(), path, nil); err != nil {
			return nil, fmt.Errorf("create influencer catalog: %w", err)
		}
	}

	db, err := sql.Open("duckdb", path+readOnlyOptions)
	if err != nil {
		return nil, fmt.Errorf("open influencer catalog: %w", err)
	}
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping influencer catalog: %w", err)
	}

	var external, locked bool
	err = db.QueryRow(`SELECT current_setting('enable_external_access'), current_setting('lock_configuration')`).
		Scan(&external, &locked)
	if err == nil && (external || !locked) {
		err = errors.New("sandbox options were not applied")
	}
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("influencer catalog: %w", err)
	}
	return &InfluencerCatalog{db: db}, nil
}

// Close releases the catalog.
func (c *InfluencerCatalog) Close() error {
	return c.db.Close()
}

// ImportInfluencers swaps the whole influencers table at path for rows in one
// transaction. The file must not be held open by a running catalog.
func ImportInfluencers(ctx context.Context, path string, rows []domain.Influencer) error {
	db, err := sql.Open("duckdb", path)
	if err != nil {
		return fmt.Errorf("open %s: %w", path, err)
	}
	defer db.Close()

	if _, err := db.ExecContext(ctx, influencersDDL); err != nil {
		return fmt.Errorf("create influencers table: %w", err)
	}

	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck

	if _, err := tx.ExecContext(ctx, `DELETE FROM influencers`); err != nil {
		return fmt.Errorf("clear influencers: %w", err)
	}

	stmt, err := tx.PrepareContext(ctx, `
		INSERT INTO influencers (id, rank, name, bio, twitter_username, nb_twitter_followers, type, gender, links)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, string_split(?, chr(31)))`)
	if err != nil {
		return fmt.Errorf("prepare insert: %w", err)
	}
	defer stmt.Close()

	for _, inf := range rows {
		var links any
		if len(inf.Links) > 0 {
			links = strings.Join(inf.Links, linkSep)
		}
		_, err := stmt.ExecContext(ctx,
			inf.ID, nullable(inf.Rank), inf.Name, inf.Bio, nullable(inf.TwitterUsername),
			inf.NbTwitterFollowers, nullable(inf.Type), nullable(inf.Gender), links,
		)
		if err != nil {
			return fmt.Errorf("insert influencer %d: %w", inf.ID, err)
		}
	}

	return tx.Commit()
}

// SelectInfluencers runs query and returns at most limit rows. Truncated is set
// when the query produced more.
func (c *InfluencerCatalog) SelectInfluencers(ctx context.Context, query string, limit int) (domain.QueryResult, error) {
	if limit <= 0 {
		limit = 50
	}
	query = strings.TrimRight(strings.TrimSpace(query), "; \n\t")

	rows, err := c.db.QueryContext(ctx, fmt.Sprintf("SELECT * FROM (\n%s\n) AS q LIMIT %d", query, limit+1))
	if err != nil {
		return domain.QueryResult{}, fmt.Errorf("query influencers: %w", err)
	}
	defer rows.Close()

	cols, err := rows.Columns()
	if err != nil {
		return domain.QueryResult{}, fmt.Errorf("columns: %w", err)
	}

	res := domain.QueryResult{Columns: cols, Rows: []map[string]any{}}
	for rows.Next() {
		if len(res.Rows) == limit {
			res.Truncated = true
			break
		}
		vals := make([]any, len(cols))
		ptrs := make([]any, len(cols))
		for i := range vals {
			ptrs[i] = &vals[i]
		}
		if err := rows.Scan(ptrs...); err != nil {
			return domain.QueryResult{}, fmt.Errorf("scan row: %w", err)
		}
		row := make(map[string]any, len(cols))
		for i, col := range cols {
			if b, ok := vals[i].([]byte); ok {
				row[col] = string(b)
				continue
			}
			row[col] = vals[i]
		}
		res.Rows = append(res.Rows, row)
	}
	return res, rows.Err()
}
