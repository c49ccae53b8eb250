// Package extract is the client for the external NLP extraction service.
// The service is a black box behind POST /extract; this package only shapes
// requests, retries transient failures and decodes the response.
package extract

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/eventflow/eventflow/internal/core"
	"github.com/eventflow/eventflow/internal/logging"
)

// Request is the extraction request body
type Request struct {
	Text       string           `json:"text"`
	Source     core.Source      `json:"source"`
	SourceMeta *core.SourceMeta `json:"source_meta,omitempty"`
	Locale     string           `json:"locale,omitempty"`
	Timezone   string           `json:"timezone"`
}

// Result is the structured extraction the service returns. Absent fields stay
// nil/empty; a missing title or start is data, not an error.
type Result struct {
	Title          string           `json:"title"`
	Start          *time.Time       `json:"start"`
	End            *time.Time       `json:"end"`
	Timezone       string           `json:"timezone"`
	Location       string           `json:"location"`
	Attendees      []string         `json:"attendees"`
	Description    string           `json:"description"`
	Reminders      []int            `json:"reminders"`
	Recurrence     string           `json:"recurrence"`
	Confidence     float64          `json:"confidence"`
	RawTextSnippet string           `json:"raw_text_snippet"`
	Source         core.Source      `json:"source"`
	SourceMeta     *core.SourceMeta `json:"source_meta"`
}

// Config for the extraction client
type Config struct {
	URL     string
	APIKey  string
	Timeout time.Duration

	// Retry policy: MaxAttempts tries with exponential backoff starting at
	// BackoffBase and doubling each attempt.
	MaxAttempts int
	BackoffBase time.Duration
}

// DefaultConfig returns the standard retry policy
func DefaultConfig(url, apiKey string) Config {
	return Config{
		URL:         url,
		APIKey:      apiKey,
		Timeout:     15 * time.Second,
		MaxAttempts: 3,
		BackoffBase: time.Second,
	}
}

// Client calls the extraction service
type Client struct {
	cfg        Config
	httpClient *http.Client
}

// NewClient creates an extraction client
func NewClient(cfg Config) *Client {
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = 3
	}
	if cfg.BackoffBase <= 0 {
		cfg.BackoffBase = time.Second
	}

	return &Client{
		cfg:        cfg,
		httpClient: &http.Client{Timeout: cfg.Timeout},
	}
}

// Extract calls POST /extract with retries. Each non-2xx response or network
// failure counts as one attempt; after the last attempt the error wraps
// core.ErrExtraction.
func (c *Client) Extract(ctx context.Context, req Request) (*Result, error) {
	body, err := json.Marshal(req)
	if err != nil {
		return nil, fmt.Errorf("marshal extract request: %w", err)
	}

	var lastErr error
	for attempt := 1; attempt <= c.cfg.MaxAttempts; attempt++ {
		result, err := c.doExtract(ctx, body)
		if err == nil {
			return result, nil
		}
		lastErr = err

		logging.WithFields(map[string]interface{}{
			"attempt": attempt,
			"max":     c.cfg.MaxAttempts,
		}).Warn("extraction attempt failed: %v", err)

		if attempt < c.cfg.MaxAttempts {
			// 1s, 2s, 4s, ...
			backoff := c.cfg.BackoffBase << (attempt - 1)
			select {
			case <-ctx.Done():
				return nil, ctx.Err()
			case <-time.After(backoff):
			}
		}
	}

	return nil, fmt.Errorf("%w after %d attempts: %v", core.ErrExtraction, c.cfg.MaxAttempts, lastErr)
}

func (c *Client) doExtract(ctx context.Context, body []byte) (*Result, error) {
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.cfg.URL+"/extract", bytes.NewReader(body))
	if err != nil {
		return nil, err
	}

	httpReq.Header.Set("Content-Type", "application/json")
	if c.cfg.APIKey != "" {
		httpReq.Header.Set("Authorization", "Bearer "+c.cfg.APIKey)
	}

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		errBody, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return nil, fmt.Errorf("extraction service returned %d: %s", resp.StatusCode, errBody)
	}

	result := &Result{}
	if err := json.NewDecoder(resp.Body).Decode(result); err != nil {
		return nil, fmt.Errorf("decode extraction response: %w", err)
	}

	return result, nil
}
