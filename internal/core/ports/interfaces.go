package ports

import (
	"context"

	"github.com/manthysbr/techscout/internal/core/domain"
)

// Oracle abstracts the language model: one prompt in, one assistant message out.
type Oracle interface {
	Complete(ctx context.Context, prompt domain.ModelPrompt) (domain.Message, error)
}

// PapersAPI abstracts the papers metadata service
type PapersAPI interface {
	SearchAuthors(ctx context.Context, name string) (domain.Page[domain.Author], error)
	AuthorPapers(ctx context.Context, authorID string) (domain.Page[domain.Paper], error)
}

// InfluencerStore abstracts the read-only influencers catalog (DuckDB)
type InfluencerStore interface {
	// SelectInfluencers runs a query, returning at most limit rows.
	SelectInfluencers(ctx context.Context, query string, limit int) (domain.QueryResult, error)
}

// RunRepository persists finished runs
type RunRepository interface {
	SaveRun(ctx context.Context, run domain.RunRecord) error
	GetRun(ctx context.Context, id domain.RunID) (domain.RunRecord, error)
	ListRuns(ctx context.Context, limit int) ([]domain.RunRecord, error)
}

// ConversationRepository persists conversation memory between runs
type ConversationRepository interface {
	LoadConversation(ctx context.Context, id domain.ConversationID) (domain.ConversationMemory, error)
	SaveConversation(ctx context.Context, id domain.ConversationID, mem domain.ConversationMemory) error
}

// SettingsRepository is the key/value store behind the settings store
type SettingsRepository interface {
	GetSetting(ctx context.Context, key string) (string, error)
	SaveSetting(ctx context.Context, key string, value string) error
}
