package services

import (
	"context"
	"fmt"
	"sync"

	lru "github.com/hashicorp/golang-lru/v2"
	"github.com/manthysbr/techscout/internal/core/domain"
	"github.com/manthysbr/techscout/internal/core/ports"
)

// ConversationStore keeps conversation memory in an LRU cache backed by DuckDB.
// Hot conversations stay in memory; cold ones are loaded on demand.
type ConversationStore struct {
	mu    sync.Mutex
	repo  ports.ConversationRepository // optional
	cache *lru.Cache[domain.ConversationID, domain.ConversationMemory]
}

// NewConversationStore creates a store with the given cache capacity.
func NewConversationStore(repo ports.ConversationRepository, maxCache int) (*ConversationStore, error) {
	if maxCache <= 0 {
		maxCache = 64
	}
	cache, err := lru.New[domain.ConversationID, domain.ConversationMemory](maxCache)
	if err != nil {
		return nil, fmt.Errorf("conversation cache: %w", err)
	}
	return &ConversationStore{repo: repo, cache: cache}, nil
}

// Load returns a copy of the memory of id. An unknown conversation has empty memory.
func (s *ConversationStore) Load(ctx context.Context, id domain.ConversationID) (domain.ConversationMemory, error) {
	if id == "" {
		return nil, nil
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	if mem, ok := s.cache.Get(id); ok {
		return mem.Clone(), nil
	}
	if s.repo == nil {
		return nil, nil
	}
	mem, err := s.repo.LoadConversation(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("load conversation %s: %w", id, err)
	}
	s.cache.Add(id, mem)
	return mem.Clone(), nil
}

// Save stores mem as the current memory of id, write-through to the repository.
func (s *ConversationStore) Save(ctx context.Context, id domain.ConversationID, mem domain.ConversationMemory) error {
	if id == "" {
		return nil
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.repo != nil {
		if err := s.repo.SaveConversation(ctx, id, mem); err != nil {
			return fmt.Errorf("save conversation %s: %w", id, err)
		}
	}
	s.cache.Add(id, mem.Clone())
	return nil
}

// BuildContextWindow returns at most the last maxMessages entries of the memory.
func BuildContextWindow(mem domain.ConversationMemory, maxMessages int) domain.ConversationMemory {
	if maxMessages <= 0 || len(mem) <= maxMessages {
		return mem.Clone()
	}
	return mem[len(mem)-maxMessages:].Clone()
}
