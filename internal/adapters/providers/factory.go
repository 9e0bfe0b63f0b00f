package providers

import (
	"fmt"
	"strings"

	"github.com/manthysbr/techscout/internal/adapters/llm"
	"github.com/manthysbr/techscout/internal/core/domain"
	"github.com/manthysbr/techscout/internal/core/ports"
)

// Build creates the oracle selected by the LLM provider config.
// It hides local/remote/gollm selection from callers.
func Build(config *domain.AppConfig) (ports.Oracle, error) {
	if config == nil {
		config = domain.DefaultConfig()
	}
	cfg := config.Providers.LLM

	mode := strings.ToLower(strings.TrimSpace(cfg.Mode))
	switch mode {
	case "", "local":
		return llm.NewOllamaProvider(
			normalizeOllamaBaseURL(cfg.LocalURL),
			strings.TrimSpace(cfg.DefaultModel),
		), nil
	case "remote":
		if strings.TrimSpace(cfg.RemoteURL) == "" {
			return nil, fmt.Errorf("llm remote_url is required when mode=remote")
		}
		return llm.NewOpenAIProvider(
			strings.TrimSpace(cfg.RemoteURL),
			strings.TrimSpace(cfg.APIKey),
			strings.TrimSpace(cfg.DefaultModel),
		), nil
	case "gollm":
		return llm.NewGollmProvider(
			strings.TrimSpace(cfg.GollmProvider),
			strings.TrimSpace(cfg.APIKey),
			strings.TrimSpace(cfg.DefaultModel),
		)
	default:
		return nil, fmt.Errorf("unsupported llm provider mode: %s", cfg.Mode)
	}
}

func normalizeOllamaBaseURL(baseURL string) string {
	trimmed := strings.TrimRight(strings.TrimSpace(baseURL), "/")
	return strings.TrimSuffix(trimmed, "/v1")
}
