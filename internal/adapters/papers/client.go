// Package papers is the Papers With Code metadata API client.
package papers

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"golang.org/x/time/rate"

	"github.com/manthysbr/techscout/internal/core/domain"
	"github.com/manthysbr/techscout/internal/core/ports"
)

// ErrNotFound is returned for 404 responses. It wraps domain.ErrResourceNotFound
// so the reasoning loop gives the oracle the not-found hint.
var ErrNotFound = fmt.Errorf("papers api: %w", domain.ErrResourceNotFound)

// Client calls the papers API with client-side throttling (token bucket).
type Client struct {
	baseURL string
	http    *http.Client
	limiter *rate.Limiter
	logger  *slog.Logger
}

var _ ports.PapersAPI = (*Client)(nil)

// NewClient builds a client from config. A non-positive rate disables throttling.
func NewClient(logger *slog.Logger, cfg domain.PapersConfig) *Client {
	limit := rate.Inf
	if cfg.RequestsPerSecond > 0 {
		limit = rate.Limit(cfg.RequestsPerSecond)
	}
	timeout := time.Duration(cfg.TimeoutSeconds) * time.Second
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &Client{
		baseURL: strings.TrimRight(cfg.BaseURL, "/"),
		http:    &http.Client{Timeout: timeout},
		limiter: rate.NewLimiter(limit, 1),
		logger:  logger,
	}
}

// SearchAuthors looks authors up by (partial) full name.
func (c *Client) SearchAuthors(ctx context.Context, name string) (domain.Page[domain.Author], error) {
	var page domain.Page[domain.Author]
	q := url.Values{"search": {name}}
	err := c.get(ctx, "/authors/?"+q.Encode(), &page)
	return page, err
}

// AuthorPapers lists the papers of one author by API id.
func (c *Client) AuthorPapers(ctx context.Context, authorID string) (domain.Page[domain.Paper], error) {
	var page domain.Page[domain.Paper]
	err := c.get(ctx, "/authors/"+url.PathEscape(authorID)+"/papers/", &page)
	return page, err
}

func (c *Client) get(ctx context.Context, path string, out any) error {
	if err := c.limiter.Wait(ctx); err != nil {
		return fmt.Errorf("papers api: rate limiter: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+path, nil)
	if err != nil {
		return fmt.Errorf("papers api: build request: %w", err)
	}
	req.Header.Set("Accept", "application/json")

	start := time.Now()
	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("papers api: %w", err)
	}
	defer resp.Body.Close()
	c.logger.Debug("papers api call", "path", path, "status", resp.StatusCode, "duration_ms", time.Since(start).Milliseconds())

	switch {
	case resp.StatusCode == http.StatusNotFound:
		return fmt.Errorf("%w: %s", ErrNotFound, path)
	case resp.StatusCode != http.StatusOK:
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return fmt.Errorf("papers api: status %d: %s", resp.StatusCode, strings.TrimSpace(string(body)))
	}

	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("papers api: decode response: %w", err)
	}
	return nil
}
