package config

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"

	"github.com/manthysbr/techscout/internal/core/domain"
	"github.com/manthysbr/techscout/internal/core/ports"
)

const settingsKey = "app_config"

// OnChangeFunc is called when settings are updated.
type OnChangeFunc func(cfg *domain.AppConfig)

// SettingsStore holds the runtime-mutable part of the config (agent limits and
// the LLM provider). It is stored as JSON in the settings table, with the API key
// encrypted at rest and masked on read.
type SettingsStore struct {
	mu       sync.RWMutex
	logger   *slog.Logger
	secret   *SecretKey
	repo     ports.SettingsRepository
	config   *domain.AppConfig
	onChange []OnChangeFunc
}

// NewSettingsStore overlays saved settings on base. When nothing is saved yet,
// base is written as the initial settings.
func NewSettingsStore(logger *slog.Logger, repo ports.SettingsRepository, secret *SecretKey, base *domain.AppConfig) (*SettingsStore, error) {
	store := &SettingsStore{
		logger: logger,
		secret: secret,
		repo:   repo,
	}

	ctx := context.Background()
	cfg := *base
	found, err := store.loadFromDB(ctx, &cfg)
	if err != nil {
		logger.Warn("saved settings unreadable, using config file values", "error", err)
	}
	if !found || err != nil {
		cfg = *base
		if err := store.saveToDB(ctx, &cfg); err != nil {
			return nil, fmt.Errorf("failed to save initial settings: %w", err)
		}
	}

	store.config = &cfg
	return store, nil
}

// OnChange registers a callback for when settings are updated.
// The server uses it to hot-swap the oracle and the agent limits.
func (s *SettingsStore) OnChange(fn OnChangeFunc) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.onChange = append(s.onChange, fn)
}

// GetConfig returns a copy of the current config, secrets included.
func (s *SettingsStore) GetConfig() *domain.AppConfig {
	s.mu.RLock()
	defer s.mu.RUnlock()
	cp := *s.config
	return &cp
}

// GetMaskedConfig returns a copy safe for API responses.
func (s *SettingsStore) GetMaskedConfig() *domain.AppConfig {
	cp := s.GetConfig()
	cp.Providers.LLM.APIKey = MaskSecret(cp.Providers.LLM.APIKey)
	return cp
}

// UpdateConfig applies the agent and provider sections of update, persists them
// and notifies the OnChange callbacks. An empty or masked API key keeps the current one.
func (s *SettingsStore) UpdateConfig(ctx context.Context, update *domain.AppConfig) error {
	s.mu.Lock()

	next := *s.config
	next.Agent = update.Agent
	next.Providers.LLM = update.Providers.LLM
	llm := &next.Providers.LLM

	if llm.APIKey == "" || isMasked(llm.APIKey) {
		llm.APIKey = s.config.Providers.LLM.APIKey
	}
	if llm.Mode == "" {
		llm.Mode = "local"
	}
	if llm.Mode == "remote" && llm.APIKey == "" {
		s.mu.Unlock()
		return fmt.Errorf("LLM api_key is required when mode=remote")
	}
	if err := Validate(&next); err != nil {
		s.mu.Unlock()
		return err
	}

	if err := s.saveToDB(ctx, &next); err != nil {
		s.mu.Unlock()
		return err
	}
	s.config = &next
	callbacks := append([]OnChangeFunc(nil), s.onChange...)
	s.mu.Unlock()

	s.logger.Info("settings updated",
		"llm_mode", llm.Mode,
		"model", llm.DefaultModel,
		"max_steps", next.Agent.MaxSteps,
		"timeout_seconds", next.Agent.TimeoutSeconds,
	)

	for _, fn := range callbacks {
		cp := next
		fn(&cp)
	}
	return nil
}

// loadFromDB overlays the saved sections on cfg. It reports false when nothing was saved.
func (s *SettingsStore) loadFromDB(ctx context.Context, cfg *domain.AppConfig) (bool, error) {
	raw, err := s.repo.GetSetting(ctx, settingsKey)
	if err != nil {
		return false, err
	}
	if raw == "" {
		return false, nil
	}

	var stored storedConfig
	if err := json.Unmarshal([]byte(raw), &stored); err != nil {
		return false, fmt.Errorf("unmarshal settings: %w", err)
	}

	cfg.Agent = stored.Agent
	envKey := cfg.Providers.LLM.APIKey
	cfg.Providers.LLM = domain.LLMProviderConfig{
		Mode:          stored.LLM.Mode,
		LocalURL:      stored.LLM.LocalURL,
		RemoteURL:     stored.LLM.RemoteURL,
		DefaultModel:  stored.LLM.DefaultModel,
		GollmProvider: stored.LLM.GollmProvider,
		APIKey:        envKey,
	}

	if stored.LLM.EncryptedAPIKey != "" {
		key, err := s.secret.Decrypt(stored.LLM.EncryptedAPIKey)
		if err != nil {
			s.logger.Warn("failed to decrypt LLM API key", "error", err)
		} else {
			cfg.Providers.LLM.APIKey = key
		}
	}
	return true, nil
}

func (s *SettingsStore) saveToDB(ctx context.Context, cfg *domain.AppConfig) error {
	llm := cfg.Providers.LLM
	stored := storedConfig{
		Agent: cfg.Agent,
		LLM: storedProviderConfig{
			Mode:          llm.Mode,
			LocalURL:      llm.LocalURL,
			RemoteURL:     llm.RemoteURL,
			DefaultModel:  llm.DefaultModel,
			GollmProvider: llm.GollmProvider,
		},
	}

	if llm.APIKey != "" {
		enc, err := s.secret.Encrypt(llm.APIKey)
		if err != nil {
			return fmt.Errorf("encrypt LLM API key: %w", err)
		}
		stored.LLM.EncryptedAPIKey = enc
	}

	raw, err := json.Marshal(stored)
	if err != nil {
		return fmt.Errorf("marshal settings: %w", err)
	}
	return s.repo.SaveSetting(ctx, settingsKey, string(raw))
}

// storedConfig is the DB representation with encrypted fields
type storedConfig struct {
	Agent domain.AgentConfig   `json:"agent"`
	LLM   storedProviderConfig `json:"llm"`
}

type storedProviderConfig struct {
	Mode            string `json:"mode"`
	LocalURL        string `json:"local_url"`
	RemoteURL       string `json:"remote_url"`
	EncryptedAPIKey string `json:"encrypted_api_key,omitempty"`
	DefaultModel    string `json:"default_model"`
	GollmProvider   string `json:"gollm_provider,omitempty"`
}
