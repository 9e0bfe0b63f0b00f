package config

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/manthysbr/techscout/internal/core/domain"
)

// Load builds the application config: defaults, then the YAML file at path
// (skipped when path is empty), then environment overrides.
func Load(path string) (*domain.AppConfig, error) {
	cfg := domain.DefaultConfig()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("read config %s: %w", path, err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parse config %s: %w", path, err)
		}
	}

	if err := applyEnv(cfg); err != nil {
		return nil, err
	}
	if err := Validate(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

func applyEnv(cfg *domain.AppConfig) error {
	llm := &cfg.Providers.LLM

	if v := os.Getenv("SCOUT_DB_PATH"); v != "" {
		cfg.Storage.DBPath = v
	}
	if v := os.Getenv("SCOUT_INFLUENCERS_PATH"); v != "" {
		cfg.Storage.InfluencersPath = v
	}
	if v := os.Getenv("SCOUT_LLM_MODE"); v != "" {
		llm.Mode = v
	}
	if v := os.Getenv("OLLAMA_HOST"); v != "" {
		if !strings.HasPrefix(v, "http") {
			v = "http://" + v
		}
		llm.LocalURL = v
	}
	if v := os.Getenv("SCOUT_LLM_URL"); v != "" {
		if llm.Mode == "local" {
			llm.LocalURL = v
		} else {
			llm.RemoteURL = v
		}
	}
	if v := os.Getenv("SCOUT_LLM_MODEL"); v != "" {
		llm.DefaultModel = v
	}
	if v := os.Getenv("OPENAI_API_KEY"); v != "" {
		llm.APIKey = v
	}
	if v := os.Getenv("SCOUT_ADDR"); v != "" {
		cfg.Server.Addr = v
	}
	if v := os.Getenv("SCOUT_LOG_LEVEL"); v != "" {
		cfg.LogLevel = v
	}
	if v := os.Getenv("SCOUT_OTLP_ENDPOINT"); v != "" {
		cfg.Telemetry.Enabled = true
		cfg.Telemetry.Endpoint = v
	}

	for env, dst := range map[string]*int{
		"SCOUT_MAX_STEPS":       &cfg.Agent.MaxSteps,
		"SCOUT_TIMEOUT_SECONDS": &cfg.Agent.TimeoutSeconds,
	} {
		v := os.Getenv(env)
		if v == "" {
			continue
		}
		n, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("%s: %w", env, err)
		}
		*dst = n
	}
	return nil
}

// Validate checks the sections every command relies on.
func Validate(cfg *domain.AppConfig) error {
	var errs []error
	if cfg.Agent.MaxSteps < 1 {
		errs = append(errs, fmt.Errorf("agent.max_steps must be >= 1, got %d", cfg.Agent.MaxSteps))
	}
	if cfg.Agent.TimeoutSeconds < 1 {
		errs = append(errs, fmt.Errorf("agent.timeout_seconds must be >= 1, got %d", cfg.Agent.TimeoutSeconds))
	}
	if cfg.Agent.MaxConcurrentRuns < 0 {
		errs = append(errs, errors.New("agent.max_concurrent_runs cannot be negative"))
	}
	if err := validateLLM(cfg.Providers.LLM); err != nil {
		errs = append(errs, err)
	}
	if cfg.Storage.DBPath == "" {
		errs = append(errs, errors.New("storage.db_path is required"))
	}
	if cfg.Storage.InfluencersPath == "" {
		errs = append(errs, errors.New("storage.influencers_path is required"))
	} else if cfg.Storage.InfluencersPath == cfg.Storage.DBPath {
		errs = append(errs, errors.New("storage.influencers_path must differ from storage.db_path"))
	}
	if cfg.Telemetry.Enabled && cfg.Telemetry.Endpoint == "" {
		errs = append(errs, errors.New("telemetry.endpoint is required when telemetry is enabled"))
	}
	if _, err := ParseLevel(cfg.LogLevel); err != nil {
		errs = append(errs, err)
	}
	return errors.Join(errs...)
}

func validateLLM(llm domain.LLMProviderConfig) error {
	switch llm.Mode {
	case "local":
		if llm.LocalURL == "" {
			return errors.New("LLM local_url is required when mode=local")
		}
	case "remote":
		if llm.RemoteURL == "" {
			return errors.New("LLM remote_url is required when mode=remote")
		}
	case "gollm":
		if llm.GollmProvider == "" {
			return errors.New("LLM gollm_provider is required when mode=gollm")
		}
	default:
		return fmt.Errorf("unknown LLM mode %q (want local, remote or gollm)", llm.Mode)
	}
	return nil
}

// ParseLevel maps a config log level onto slog.
func ParseLevel(s string) (slog.Level, error) {
	var lvl slog.Level
	if s == "" {
		return slog.LevelInfo, nil
	}
	if err := lvl.UnmarshalText([]byte(s)); err != nil {
		return slog.LevelInfo, fmt.Errorf("log_level: %w", err)
	}
	return lvl, nil
}
