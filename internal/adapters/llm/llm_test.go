package llm

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/manthysbr/techscout/internal/core/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testPrompt() domain.ModelPrompt {
	return domain.ModelPrompt{Messages: []domain.Message{
		{Role: domain.RoleSystem, Content: "You are a technology scout."},
		{Role: domain.RoleUser, Content: "Who is Yann LeCun?"},
	}}
}

func TestOpenAIProvider_Complete(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v1/chat/completions", r.URL.Path)
		assert.Equal(t, "Bearer sk-test", r.Header.Get("Authorization"))

		var body struct {
			Model    string        `json:"model"`
			Messages []chatMessage `json:"messages"`
		}
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		assert.Equal(t, "gpt-4o", body.Model)
		require.Len(t, body.Messages, 2)
		assert.Equal(t, "system", body.Messages[0].Role)

		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"choices":[{"message":{"role":"assistant","content":"Final Answer: a researcher"}}]}`))
	}))
	defer srv.Close()

	p := NewOpenAIProvider(srv.URL+"/v1/", "sk-test", "gpt-4o")
	msg, err := p.Complete(context.Background(), testPrompt())
	require.NoError(t, err)
	assert.Equal(t, domain.RoleAssistant, msg.Role)
	assert.Equal(t, "Final Answer: a researcher", msg.Content)
	assert.Equal(t, "gpt-4o", p.Model())
}

func TestOpenAIProvider_StatusErrors(t *testing.T) {
	tests := []struct {
		status    int
		retryable bool
	}{
		{http.StatusUnauthorized, false},
		{http.StatusTooManyRequests, true},
		{http.StatusBadGateway, true},
		{http.StatusBadRequest, false},
	}
	for _, tt := range tests {
		t.Run(http.StatusText(tt.status), func(t *testing.T) {
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				http.Error(w, "nope", tt.status)
			}))
			defer srv.Close()

			_, err := NewOpenAIProvider(srv.URL, "", "").Complete(context.Background(), testPrompt())
			var pe *ProviderError
			require.True(t, errors.As(err, &pe))
			assert.Equal(t, "openai", pe.Provider)
			assert.Equal(t, tt.status, pe.StatusCode)
			assert.Equal(t, tt.retryable, pe.Retryable)
			assert.Equal(t, "nope", pe.Message)
		})
	}
}

func TestOpenAIProvider_NoChoices(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"choices":[]}`))
	}))
	defer srv.Close()

	_, err := NewOpenAIProvider(srv.URL, "", "").Complete(context.Background(), testPrompt())
	assert.ErrorContains(t, err, "no choices")
}

func TestOllamaProvider_Complete(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/api/chat", r.URL.Path)
		var body ollamaChatRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		assert.Equal(t, "qwen2.5:7b", body.Model)
		assert.False(t, body.Stream)
		assert.Len(t, body.Messages, 2)
		_, _ = w.Write([]byte(`{"message":{"role":"assistant","content":"Thought: easy\nFinal Answer: Paris"},"done":true}`))
	}))
	defer srv.Close()

	p := NewOllamaProvider(srv.URL, "")
	msg, err := p.Complete(context.Background(), testPrompt())
	require.NoError(t, err)
	assert.Equal(t, "Thought: easy\nFinal Answer: Paris", msg.Content)
	assert.Equal(t, "qwen2.5:7b", p.Model())
}

func TestOllamaProvider_Errors(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"error":"model \"missing\" not found"}`))
	}))
	defer srv.Close()

	_, err := NewOllamaProvider(srv.URL, "missing").Complete(context.Background(), testPrompt())
	assert.ErrorContains(t, err, "not found")

	srv.Close()
	_, err = NewOllamaProvider(srv.URL, "").Complete(context.Background(), testPrompt())
	var pe *ProviderError
	require.True(t, errors.As(err, &pe))
	assert.Zero(t, pe.StatusCode)
	assert.True(t, pe.Retryable)
	assert.NotNil(t, errors.Unwrap(pe))
}

func TestClassifyMessage(t *testing.T) {
	tests := []struct {
		msg       string
		status    int
		retryable bool
	}{
		{"401 Unauthorized", http.StatusUnauthorized, false},
		{"invalid api key", http.StatusUnauthorized, false},
		{"403 Forbidden", http.StatusForbidden, false},
		{"model not found", http.StatusNotFound, false},
		{"429 rate limit exceeded", http.StatusTooManyRequests, true},
		{"500 internal server error", http.StatusInternalServerError, true},
		{"timeout waiting for response", http.StatusRequestTimeout, true},
		{"something unknown", 0, true},
	}
	for _, tt := range tests {
		pe := classifyMessage("anthropic", errors.New(tt.msg))
		assert.Equal(t, tt.status, pe.StatusCode, tt.msg)
		assert.Equal(t, tt.retryable, pe.Retryable, tt.msg)
		assert.Contains(t, pe.Error(), "[anthropic]")
	}
}

func TestFlattenPrompt(t *testing.T) {
	system, text := flattenPrompt(domain.ModelPrompt{Messages: []domain.Message{
		{Role: domain.RoleSystem, Content: "scout"},
		{Role: domain.RoleUser, Content: "q1"},
		{Role: domain.RoleAssistant, Content: "a1"},
		{Role: domain.RoleUser, Content: "q2"},
	}})
	assert.Equal(t, "scout", system)
	assert.Equal(t, "q1\n\n[Assistant]: a1\n\nq2", text)

	_, text = flattenPrompt(domain.ModelPrompt{})
	assert.Equal(t, "Hello", text)
}
