package llm

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/teilomillet/gollm"

	"github.com/manthysbr/techscout/internal/core/domain"
)

// GollmProvider is an oracle backed by gollm, which covers OpenAI, Anthropic,
// Groq, Mistral and the other providers gollm knows.
type GollmProvider struct {
	provider string
	model    string
	llm      gollm.LLM
}

// NewGollmProvider creates the gollm client. An empty apiKey lets gollm read
// the provider's usual environment variable.
func NewGollmProvider(provider, apiKey, model string) (*GollmProvider, error) {
	if provider == "" {
		provider = "openai"
	}
	if model == "" {
		switch provider {
		case "anthropic":
			model = "claude-sonnet-4-5-20250514"
		default:
			model = "gpt-4o-mini"
		}
	}

	opts := []gollm.ConfigOption{
		gollm.SetProvider(provider),
		gollm.SetModel(model),
		gollm.SetMaxTokens(4096),
		gollm.SetTemperature(0),
		gollm.SetMaxRetries(0),
		gollm.SetLogLevel(gollm.LogLevelWarn),
	}
	if apiKey != "" {
		opts = append(opts, gollm.SetAPIKey(apiKey))
	}

	client, err := gollm.NewLLM(opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to create gollm LLM for provider %s: %w", provider, err)
	}
	return &GollmProvider{provider: provider, model: model, llm: client}, nil
}

// Model returns the configured model.
func (p *GollmProvider) Model() string { return p.model }

// Complete flattens the chat into a single gollm prompt and generates one reply.
func (p *GollmProvider) Complete(ctx context.Context, prompt domain.ModelPrompt) (domain.Message, error) {
	system, text := flattenPrompt(prompt)

	var popts []gollm.PromptOption
	if system != "" {
		popts = append(popts, gollm.WithSystemPrompt(system, gollm.CacheTypeEphemeral))
	}

	out, err := p.llm.Generate(ctx, gollm.NewPrompt(text, popts...))
	if err != nil {
		return domain.Message{}, classifyMessage(p.provider, err)
	}
	return domain.Message{
		Role:      domain.RoleAssistant,
		Content:   out,
		CreatedAt: time.Now().UTC(),
	}, nil
}

// flattenPrompt splits system messages from the chat turns; gollm takes one
// system prompt and one text body.
func flattenPrompt(prompt domain.ModelPrompt) (string, string) {
	var system []string
	var turns []string
	for _, m := range prompt.Messages {
		switch m.Role {
		case domain.RoleSystem:
			system = append(system, m.Content)
		case domain.RoleAssistant:
			if m.Content != "" {
				turns = append(turns, "[Assistant]: "+m.Content)
			}
		default:
			turns = append(turns, m.Content)
		}
	}
	text := strings.Join(turns, "\n\n")
	if text == "" {
		text = "Hello"
	}
	return strings.TrimSpace(strings.Join(system, "\n")), text
}
