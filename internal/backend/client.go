// Package backend calls the query backend the bot relays to.
package backend

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"relaybot/internal/domain"
)

const maxResponseBytes = 10 << 20

// ErrNoResponse is returned for a success body without a "response" field.
var ErrNoResponse = errors.New("backend answer has no response field")

// StatusError reports a non-success HTTP status from the backend.
type StatusError struct {
	StatusCode int
	Body       string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("backend returned HTTP %d: %s", e.StatusCode, e.Body)
}

type Config struct {
	URL        string // full endpoint, e.g. http://127.0.0.1:8000/query
	HTTPClient *http.Client
	Logger     *slog.Logger
}

// Client implements domain.QueryBackend over HTTP. It never retries.
type Client struct {
	url    string
	client *http.Client
	logger *slog.Logger
}

var _ domain.QueryBackend = (*Client)(nil)

func New(cfg Config) *Client {
	if cfg.HTTPClient == nil {
		cfg.HTTPClient = http.DefaultClient
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	return &Client{url: cfg.URL, client: cfg.HTTPClient, logger: cfg.Logger}
}

// Query POSTs {"query": ...} and decodes {"response": ...}.
func (c *Client) Query(ctx context.Context, q domain.OutboundQuery) (*domain.BackendResponse, error) {
	body, err := json.Marshal(q)
	if err != nil {
		return nil, fmt.Errorf("marshal query: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.url, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")

	start := time.Now()
	resp, err := c.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("backend request: %w", err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return nil, fmt.Errorf("read backend response: %w", err)
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, &StatusError{StatusCode: resp.StatusCode, Body: truncate(strings.TrimSpace(string(data)), 512)}
	}

	var raw struct {
		Response *string `json:"response"`
	}
	if err := json.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("decode backend response: %w", err)
	}
	if raw.Response == nil {
		return nil, ErrNoResponse
	}
	out := domain.BackendResponse{Response: *raw.Response}

	c.logger.Debug("backend answered",
		"status", resp.StatusCode,
		"query_len", len(q.Query),
		"response_len", len(out.Response),
		"latency_ms", time.Since(start).Milliseconds(),
	)
	return &out, nil
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
