package services

import (
	"context"
	"errors"
	"testing"

	"github.com/manthysbr/techscout/internal/core/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

type mockConversationRepo struct {
	mock.Mock
}

func (m *mockConversationRepo) LoadConversation(ctx context.Context, id domain.ConversationID) (domain.ConversationMemory, error) {
	args := m.Called(ctx, id)
	mem, _ := args.Get(0).(domain.ConversationMemory)
	return mem, args.Error(1)
}

func (m *mockConversationRepo) SaveConversation(ctx context.Context, id domain.ConversationID, mem domain.ConversationMemory) error {
	args := m.Called(ctx, id, mem)
	return args.Error(0)
}

func TestConversationStore_LoadCachesRepository(t *testing.T) {
	repo := new(mockConversationRepo)
	var stored domain.ConversationMemory
	stored = stored.Append(domain.RoleUser, "hi")
	repo.On("LoadConversation", mock.Anything, domain.ConversationID("c1")).Return(stored, nil).Once()

	store, err := NewConversationStore(repo, 2)
	require.NoError(t, err)

	first, err := store.Load(context.Background(), "c1")
	require.NoError(t, err)
	second, err := store.Load(context.Background(), "c1")
	require.NoError(t, err)

	assert.Equal(t, first, second)
	repo.AssertExpectations(t)

	// callers get copies
	first[0].Content = "changed"
	third, _ := store.Load(context.Background(), "c1")
	assert.Equal(t, "hi", third[0].Content)
}

func TestConversationStore_SaveWritesThrough(t *testing.T) {
	repo := new(mockConversationRepo)
	var mem domain.ConversationMemory
	mem = mem.Append(domain.RoleUser, "q").Append(domain.RoleAssistant, "a")
	repo.On("SaveConversation", mock.Anything, domain.ConversationID("c2"), mem).Return(nil)

	store, err := NewConversationStore(repo, 0)
	require.NoError(t, err)
	require.NoError(t, store.Save(context.Background(), "c2", mem))

	got, err := store.Load(context.Background(), "c2")
	require.NoError(t, err)
	assert.Equal(t, mem, got)
	repo.AssertNotCalled(t, "LoadConversation", mock.Anything, mock.Anything)
}

func TestConversationStore_SaveError(t *testing.T) {
	repo := new(mockConversationRepo)
	repo.On("SaveConversation", mock.Anything, mock.Anything, mock.Anything).Return(errors.New("disk full"))

	store, err := NewConversationStore(repo, 4)
	require.NoError(t, err)
	err = store.Save(context.Background(), "c3", domain.ConversationMemory{})
	assert.ErrorContains(t, err, "disk full")
}

func TestConversationStore_EmptyID(t *testing.T) {
	store, err := NewConversationStore(nil, 4)
	require.NoError(t, err)
	mem, err := store.Load(context.Background(), "")
	require.NoError(t, err)
	assert.Nil(t, mem)
	assert.NoError(t, store.Save(context.Background(), "", nil))
}

func TestBuildContextWindow(t *testing.T) {
	var mem domain.ConversationMemory
	for _, c := range []string{"1", "2", "3", "4"} {
		mem = mem.Append(domain.RoleUser, c)
	}
	win := BuildContextWindow(mem, 2)
	require.Len(t, win, 2)
	assert.Equal(t, "3", win[0].Content)
	assert.Len(t, BuildContextWindow(mem, 0), 4)
}
