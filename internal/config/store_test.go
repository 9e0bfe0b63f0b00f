package config

import (
	"context"
	"io"
	"log/slog"
	"strings"
	"sync"
	"testing"

	"github.com/manthysbr/techscout/internal/core/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type memSettings struct {
	mu   sync.Mutex
	vals map[string]string
}

func (m *memSettings) GetSetting(_ context.Context, key string) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.vals[key], nil
}

func (m *memSettings) SaveSetting(_ context.Context, key, value string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.vals[key] = value
	return nil
}

func newTestStore(t *testing.T, repo *memSettings, base *domain.AppConfig) *SettingsStore {
	t.Helper()
	t.Setenv(secretKeyEnv, "settings-test-key")
	sk, err := NewSecretKey("")
	require.NoError(t, err)
	store, err := NewSettingsStore(slog.New(slog.NewTextHandler(io.Discard, nil)), repo, sk, base)
	require.NoError(t, err)
	return store
}

func TestSettingsStore_SeedsFromBase(t *testing.T) {
	repo := &memSettings{vals: map[string]string{}}
	base := domain.DefaultConfig()
	base.Providers.LLM.APIKey = "sk-from-env-1234"

	store := newTestStore(t, repo, base)
	assert.Equal(t, base.Agent, store.GetConfig().Agent)

	raw := repo.vals[settingsKey]
	require.NotEmpty(t, raw)
	assert.NotContains(t, raw, "sk-from-env-1234")
	assert.Contains(t, raw, encPrefix)

	masked := store.GetMaskedConfig()
	assert.Equal(t, "****1234", masked.Providers.LLM.APIKey)
	assert.Equal(t, "sk-from-env-1234", store.GetConfig().Providers.LLM.APIKey)
}

func TestSettingsStore_UpdatePersistsAndNotifies(t *testing.T) {
	repo := &memSettings{vals: map[string]string{}}
	store := newTestStore(t, repo, domain.DefaultConfig())

	var got *domain.AppConfig
	store.OnChange(func(cfg *domain.AppConfig) {
		// reading back from a callback must not deadlock
		_ = store.GetConfig()
		got = cfg
	})

	update := store.GetConfig()
	update.Agent.MaxSteps = 7
	update.Providers.LLM.Mode = "remote"
	update.Providers.LLM.APIKey = "sk-remote-9876"
	update.Providers.LLM.DefaultModel = "gpt-4o"
	require.NoError(t, store.UpdateConfig(context.Background(), update))

	require.NotNil(t, got)
	assert.Equal(t, 7, got.Agent.MaxSteps)
	assert.Equal(t, "gpt-4o", got.Providers.LLM.DefaultModel)

	// a masked key in a later update keeps the stored one
	again := store.GetMaskedConfig()
	again.Agent.TimeoutSeconds = 30
	require.NoError(t, store.UpdateConfig(context.Background(), again))
	assert.Equal(t, "sk-remote-9876", store.GetConfig().Providers.LLM.APIKey)

	// a fresh store over the same table sees the saved values
	reopened := newTestStore(t, repo, domain.DefaultConfig())
	cfg := reopened.GetConfig()
	assert.Equal(t, 7, cfg.Agent.MaxSteps)
	assert.Equal(t, 30, cfg.Agent.TimeoutSeconds)
	assert.Equal(t, "remote", cfg.Providers.LLM.Mode)
	assert.Equal(t, "sk-remote-9876", cfg.Providers.LLM.APIKey)
}

func TestSettingsStore_RejectsInvalidUpdates(t *testing.T) {
	repo := &memSettings{vals: map[string]string{}}
	store := newTestStore(t, repo, domain.DefaultConfig())
	before := repo.vals[settingsKey]

	remote := store.GetConfig()
	remote.Providers.LLM.Mode = "remote"
	err := store.UpdateConfig(context.Background(), remote)
	assert.ErrorContains(t, err, "api_key is required")

	bad := store.GetConfig()
	bad.Agent.MaxSteps = 0
	err = store.UpdateConfig(context.Background(), bad)
	assert.ErrorContains(t, err, "max_steps")

	unknown := store.GetConfig()
	unknown.Providers.LLM.Mode = "carrier-pigeon"
	err = store.UpdateConfig(context.Background(), unknown)
	require.Error(t, err)
	assert.True(t, strings.Contains(err.Error(), "unknown LLM mode"))

	assert.Equal(t, before, repo.vals[settingsKey])
	assert.Equal(t, "local", store.GetConfig().Providers.LLM.Mode)
}
