package llm

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/manthysbr/techscout/internal/core/domain"
)

const providerOpenAI = "openai"

// OpenAIProvider is an oracle backed by an OpenAI-compatible chat completions API.
// Works with OpenAI, Azure OpenAI, Together AI, Ollama's /v1 and similar.
type OpenAIProvider struct {
	client  *http.Client
	baseURL string
	apiKey  string
	model   string
}

// NewOpenAIProvider creates a new OpenAI-compatible provider
func NewOpenAIProvider(baseURL, apiKey, model string) *OpenAIProvider {
	if model == "" {
		model = "gpt-4o"
	}
	return &OpenAIProvider{
		client:  &http.Client{Timeout: 120 * time.Second},
		baseURL: strings.TrimRight(baseURL, "/"),
		apiKey:  apiKey,
		model:   model,
	}
}

// Model returns the model every request is sent to.
func (p *OpenAIProvider) Model() string { return p.model }

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

func toChatMessages(prompt domain.ModelPrompt) []chatMessage {
	out := make([]chatMessage, 0, len(prompt.Messages))
	for _, m := range prompt.Messages {
		out = append(out, chatMessage{Role: string(m.Role), Content: m.Content})
	}
	return out
}

// Complete sends the whole prompt as one chat completion request.
func (p *OpenAIProvider) Complete(ctx context.Context, prompt domain.ModelPrompt) (domain.Message, error) {
	payload, err := json.Marshal(map[string]any{
		"model":       p.model,
		"messages":    toChatMessages(prompt),
		"temperature": 0,
	})
	if err != nil {
		return domain.Message{}, fmt.Errorf("failed to marshal payload: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.baseURL+"/chat/completions", bytes.NewReader(payload))
	if err != nil {
		return domain.Message{}, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if p.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+p.apiKey)
	}

	resp, err := p.client.Do(req)
	if err != nil {
		return domain.Message{}, transportError(providerOpenAI, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return domain.Message{}, fromResponse(providerOpenAI, resp)
	}

	var result struct {
		Choices []struct {
			Message chatMessage `json:"message"`
		} `json:"choices"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return domain.Message{}, &ProviderError{Provider: providerOpenAI, StatusCode: resp.StatusCode, Message: "failed to decode response", Cause: err}
	}
	if len(result.Choices) == 0 {
		return domain.Message{}, &ProviderError{Provider: providerOpenAI, StatusCode: resp.StatusCode, Message: "no choices in response"}
	}

	return domain.Message{
		Role:      domain.RoleAssistant,
		Content:   result.Choices[0].Message.Content,
		CreatedAt: time.Now().UTC(),
	}, nil
}
