package llm

import (
	"fmt"
	"io"
	"net/http"
	"strings"
)

// ProviderError is the single error type the oracle adapters return.
type ProviderError struct {
	Provider   string
	StatusCode int // 0 when no HTTP response was received
	Message    string
	Retryable  bool
	Cause      error
}

func (e *ProviderError) Error() string {
	if e.StatusCode == 0 {
		return fmt.Sprintf("[%s] %s", e.Provider, e.Message)
	}
	return fmt.Sprintf("[%s] %s (status=%d, retryable=%v)", e.Provider, e.Message, e.StatusCode, e.Retryable)
}

func (e *ProviderError) Unwrap() error {
	return e.Cause
}

// fromResponse builds a ProviderError from a non-2xx HTTP response.
func fromResponse(provider string, resp *http.Response) *ProviderError {
	body, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
	msg := strings.TrimSpace(string(body))
	if msg == "" {
		msg = http.StatusText(resp.StatusCode)
	}
	return &ProviderError{
		Provider:   provider,
		StatusCode: resp.StatusCode,
		Message:    msg,
		Retryable:  retryableStatus(resp.StatusCode),
	}
}

// transportError wraps a failure that happened before any response arrived.
func transportError(provider string, err error) *ProviderError {
	return &ProviderError{
		Provider:  provider,
		Message:   "request failed: " + err.Error(),
		Retryable: true,
		Cause:     err,
	}
}

func retryableStatus(code int) bool {
	switch code {
	case http.StatusRequestTimeout, http.StatusTooManyRequests,
		http.StatusInternalServerError, http.StatusBadGateway,
		http.StatusServiceUnavailable, http.StatusGatewayTimeout:
		return true
	}
	return false
}

// classifyMessage maps SDK error text onto a status code, for clients that
// do not expose the HTTP response.
func classifyMessage(provider string, err error) *ProviderError {
	msg := err.Error()
	lower := strings.ToLower(msg)
	pe := &ProviderError{Provider: provider, Message: msg, Cause: err}

	switch {
	case strings.Contains(lower, "401") || strings.Contains(lower, "unauthorized") || strings.Contains(lower, "invalid api key"):
		pe.StatusCode = http.StatusUnauthorized
	case strings.Contains(lower, "403") || strings.Contains(lower, "forbidden"):
		pe.StatusCode = http.StatusForbidden
	case strings.Contains(lower, "404") || strings.Contains(lower, "not found"):
		pe.StatusCode = http.StatusNotFound
	case strings.Contains(lower, "429") || strings.Contains(lower, "rate limit"):
		pe.StatusCode = http.StatusTooManyRequests
	case strings.Contains(lower, "500") || strings.Contains(lower, "internal server"):
		pe.StatusCode = http.StatusInternalServerError
	case strings.Contains(lower, "timeout"):
		pe.StatusCode = http.StatusRequestTimeout
	default:
		// unknown failures are worth another try
		pe.Retryable = true
		return pe
	}
	pe.Retryable = retryableStatus(pe.StatusCode)
	return pe
}
