package duckdb

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/manthysbr/techscout/internal/core/domain"
)

// LoadConversation returns the stored memory of a conversation, or nil when it has none yet.
func (r *Repository) LoadConversation(ctx context.Context, id domain.ConversationID) (domain.ConversationMemory, error) {
	var memJSON string
	err := r.db.QueryRowContext(ctx, `SELECT memory FROM conversations WHERE id = ?`, string(id)).Scan(&memJSON)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("load conversation: %w", err)
	}

	var mem domain.ConversationMemory
	if err := json.Unmarshal([]byte(memJSON), &mem); err != nil {
		return nil, fmt.Errorf("failed to unmarshal memory: %w", err)
	}
	return mem, nil
}

// SaveConversation replaces the stored memory of a conversation.
func (r *Repository) SaveConversation(ctx context.Context, id domain.ConversationID, mem domain.ConversationMemory) error {
	memJSON, err := json.Marshal(mem)
	if err != nil {
		return fmt.Errorf("failed to marshal memory: %w", err)
	}
	_, err = r.db.ExecContext(ctx, `
		INSERT INTO conversations (id, memory, updated_at) VALUES (?, ?, ?)
		ON CONFLICT (id) DO UPDATE SET memory = excluded.memory, updated_at = excluded.updated_at`,
		string(id), string(memJSON), time.Now().UTC(),
	)
	if err != nil {
		return fmt.Errorf("save conversation: %w", err)
	}
	return nil
}
