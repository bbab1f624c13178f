// Package upstream talks to the county property search API: a paged
// POST endpoint guarded by a short-lived bearer token, with a habit of
// truncating large responses.
package upstream

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/ternarybob/arbor"
	"golang.org/x/time/rate"
)

const (
	// DefaultTimeout is the default HTTP timeout per page request.
	DefaultTimeout = 30 * time.Second

	// defaultPageRate paces page requests at one per second.
	defaultPageRate = 1
)

// Client is the property search API client.
type Client struct {
	baseURL    string
	httpClient *http.Client
	logger     arbor.ILogger
	limiter    *rate.Limiter
}

// ClientOption configures the Client.
type ClientOption func(*Client)

// WithHTTPClient sets a custom HTTP client.
func WithHTTPClient(httpClient *http.Client) ClientOption {
	return func(c *Client) {
		c.httpClient = httpClient
	}
}

// WithLogger sets a logger.
func WithLogger(logger arbor.ILogger) ClientOption {
	return func(c *Client) {
		c.logger = logger
	}
}

// WithPageRate overrides the inter-page pacing (requests per second).
func WithPageRate(requestsPerSecond float64) ClientOption {
	return func(c *Client) {
		c.limiter = rate.NewLimiter(rate.Limit(requestsPerSecond), 1)
	}
}

// NewClient creates a new search API client.
func NewClient(baseURL string, opts ...ClientOption) *Client {
	c := &Client{
		baseURL: baseURL,
		httpClient: &http.Client{
			Timeout: DefaultTimeout,
		},
		limiter: rate.NewLimiter(rate.Limit(defaultPageRate), 1),
	}

	for _, opt := range opts {
		opt(c)
	}

	return c
}

// searchBody is the upstream query payload.
type searchBody struct {
	PYear          searchClause `json:"pYear"`
	FullTextSearch searchClause `json:"fullTextSearch"`
}

type searchClause struct {
	Operator string `json:"operator"`
	Value    string `json:"value"`
}

// fetchPage performs one paged search request and returns the decoded
// page. Truncated bodies and decode failures come back as TruncatedError
// and ParseError so the caller can downshift the page size.
func (c *Client) fetchPage(ctx context.Context, token, term string, year, page, pageSize int) (*searchResponse, error) {
	body, err := json.Marshal(searchBody{
		PYear:          searchClause{Operator: "=", Value: fmt.Sprintf("%d", year)},
		FullTextSearch: searchClause{Operator: "match", Value: term},
	})
	if err != nil {
		return nil, fmt.Errorf("failed to marshal search body: %w", err)
	}

	reqURL := fmt.Sprintf("%s?page=%d&pageSize=%d", c.baseURL, page, pageSize)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, reqURL, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")
	req.Header.Set("Authorization", token)

	if c.logger != nil {
		c.logger.Debug().
			Str("search_term", term).
			Int("page", page).
			Int("page_size", pageSize).
			Msg("Upstream search request")
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to execute request: %w", err)
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusUnauthorized:
		return nil, ErrTokenExpired
	case resp.StatusCode < 200 || resp.StatusCode > 299:
		raw, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return nil, &StatusError{Status: resp.StatusCode, Body: string(raw)}
	}

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read response body: %w", err)
	}

	if isTruncated(raw) {
		return nil, &TruncatedError{PageSize: pageSize, Page: page}
	}

	var parsed searchResponse
	if err := json.Unmarshal(raw, &parsed); err != nil {
		return nil, &ParseError{Page: page, Err: err}
	}

	return &parsed, nil
}

// isTruncated reports whether the body was cut off mid-stream: a
// complete JSON document ends with '}' or ']'.
func isTruncated(body []byte) bool {
	for i := len(body) - 1; i >= 0; i-- {
		switch body[i] {
		case ' ', '\t', '\r', '\n':
			continue
		case '}', ']':
			return false
		default:
			return true
		}
	}
	return true // Empty body
}
