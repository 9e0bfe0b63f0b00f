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

const providerOllama = "ollama"

// OllamaProvider is an oracle backed by a local Ollama instance.
type OllamaProvider struct {
	baseURL string
	model   string
	client  *http.Client
}

func NewOllamaProvider(baseURL, model string) *OllamaProvider {
	if baseURL == "" {
		baseURL = "http://localhost:11434"
	}
	if model == "" {
		model = "qwen2.5:7b"
	}
	return &OllamaProvider{
		baseURL: strings.TrimRight(baseURL, "/"),
		model:   model,
		client:  &http.Client{Timeout: 300 * time.Second},
	}
}

// Model returns the model every request is sent to.
func (p *OllamaProvider) Model() string { return p.model }

type ollamaChatRequest struct {
	Model    string         `json:"model"`
	Messages []chatMessage  `json:"messages"`
	Stream   bool           `json:"stream"`
	Options  map[string]any `json:"options,omitempty"`
}

type ollamaChatResponse struct {
	Message chatMessage `json:"message"`
	Done    bool        `json:"done"`
	Error   string      `json:"error,omitempty"`
}

// Complete calls /api/chat without streaming.
func (p *OllamaProvider) Complete(ctx context.Context, prompt domain.ModelPrompt) (domain.Message, error) {
	body, err := json.Marshal(ollamaChatRequest{
		Model:    p.model,
		Messages: toChatMessages(prompt),
		Stream:   false,
		Options:  map[string]any{"temperature": 0},
	})
	if err != nil {
		return domain.Message{}, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.baseURL+"/api/chat", bytes.NewReader(body))
	if err != nil {
		return domain.Message{}, err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := p.client.Do(req)
	if err != nil {
		return domain.Message{}, transportError(providerOllama, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return domain.Message{}, fromResponse(providerOllama, resp)
	}

	var chat ollamaChatResponse
	if err := json.NewDecoder(resp.Body).Decode(&chat); err != nil {
		return domain.Message{}, &ProviderError{Provider: providerOllama, StatusCode: resp.StatusCode, Message: fmt.Sprintf("failed to decode response: %v", err), Cause: err}
	}
	if chat.Error != "" {
		return domain.Message{}, &ProviderError{Provider: providerOllama, StatusCode: resp.StatusCode, Message: chat.Error}
	}

	return domain.Message{
		Role:      domain.RoleAssistant,
		Content:   chat.Message.Content,
		CreatedAt: time.Now().UTC(),
	}, nil
}
