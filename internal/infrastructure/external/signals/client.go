// Package signals implements the client for the external signal feed.
// Weekly goal outcomes and peer-help facts are produced by the grading
// platform, not by the engine; this package fetches them over HTTP and
// maps them onto the domain signal types. The engine never derives these
// signals from its own ledger.
package signals

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/spool-edu/progress-core/internal/domain/gamification"
	"github.com/spool-edu/progress-core/pkg/circuitbreaker"
	"github.com/spool-edu/progress-core/pkg/logger"
	"github.com/spool-edu/progress-core/pkg/retry"
)

// ══════════════════════════════════════════════════════════════════════════════
// CONFIGURATION
// ══════════════════════════════════════════════════════════════════════════════

// ClientConfig contains configuration for the signal feed client.
type ClientConfig struct {
	// BaseURL is the feed's base URL.
	BaseURL string

	// APIKey is the bearer token for authentication.
	APIKey string

	// Timeout is the per-request HTTP timeout.
	Timeout time.Duration

	// PageSize is how many records to request per page.
	PageSize int

	// RateLimiter controls the outgoing request rate.
	RateLimiter RateLimiterConfig

	// Retry controls backoff for transient failures.
	Retry retry.Policy

	// Logger for structured logging.
	Logger *logger.Logger
}

// DefaultClientConfig returns sensible defaults.
func DefaultClientConfig(baseURL string) ClientConfig {
	return ClientConfig{
		BaseURL:     strings.TrimRight(baseURL, "/"),
		Timeout:     30 * time.Second,
		PageSize:    100,
		RateLimiter: DefaultRateLimiterConfig(),
		Retry:       retry.DefaultPolicy(),
	}
}

// ══════════════════════════════════════════════════════════════════════════════
// CLIENT
// ══════════════════════════════════════════════════════════════════════════════

// Client talks to the signal feed. It satisfies the scheduler jobs'
// signal source contracts.
type Client struct {
	config     ClientConfig
	httpClient *http.Client
	log        *logger.Logger
	limiter    *RateLimiter
	breaker    *circuitbreaker.Breaker

	// subjects caches subject -> concept count.
	subjects sync.Map
}

// NewClient creates a new signal feed client.
func NewClient(config ClientConfig) *Client {
	if config.Logger == nil {
		config.Logger = logger.Default()
	}
	if config.PageSize <= 0 {
		config.PageSize = 100
	}

	log := config.Logger.With(logger.Component("signal_feed"))

	breaker := circuitbreaker.New(circuitbreaker.Config{
		Name:             "signal_feed",
		FailureThreshold: 5,
		SuccessThreshold: 2,
		CoolDown:         30 * time.Second,
		// Rejections and client errors say nothing about feed health.
		IsFailure: func(err error) bool {
			var rateLimitErr *RateLimitError
			if errors.As(err, &rateLimitErr) {
				return false
			}
			var apiErr *APIError
			if errors.As(err, &apiErr) {
				return apiErr.Code == "SERVER_ERROR" || apiErr.Code == "TEMPORARILY_UNAVAILABLE"
			}
			return true
		},
		OnStateChange: func(name string, from, to circuitbreaker.State) {
			log.Warn("circuit state changed",
				logger.String("breaker", name),
				logger.String("from", from.String()),
				logger.String("to", to.String()),
			)
		},
	})

	return &Client{
		config:     config,
		httpClient: &http.Client{Timeout: config.Timeout},
		log:        log,
		limiter:    NewRateLimiter(config.RateLimiter),
		breaker:    breaker,
	}
}

// ══════════════════════════════════════════════════════════════════════════════
// SIGNAL OPERATIONS
// ══════════════════════════════════════════════════════════════════════════════

// WeeklySignals fetches all end-of-week signals for the given ISO week,
// following pagination to the end.
func (c *Client) WeeklySignals(ctx context.Context, weekKey string) ([]gamification.WeeklySignal, error) {
	var all []gamification.WeeklySignal
	page := 1

	for {
		params := url.Values{}
		params.Set("week", weekKey)
		params.Set("page", strconv.Itoa(page))
		params.Set("per_page", strconv.Itoa(c.config.PageSize))

		var response APIResponse[[]WeeklySignalDTO]
		if err := c.doRequest(ctx, http.MethodGet, "/api/v1/signals/weekly?"+params.Encode(), nil, &response); err != nil {
			return nil, fmt.Errorf("weekly signals page %d: %w", page, err)
		}
		if !response.Success {
			return nil, fmt.Errorf("weekly signals: api error: %s", response.Error)
		}

		for _, dto := range response.Data {
			all = append(all, dto.ToDomain())
		}

		if lastPage(len(response.Data), response.Meta, page, c.config.PageSize) {
			break
		}
		page++
	}

	c.log.Debug("fetched weekly signals",
		logger.String("week_key", weekKey),
		logger.Int("count", len(all)),
	)
	return all, nil
}

// PeerHelpSignals fetches peer-help signals recorded since the given
// time, following pagination to the end. A zero time fetches everything
// the feed retains.
func (c *Client) PeerHelpSignals(ctx context.Context, since time.Time) ([]gamification.PeerHelpSignal, error) {
	var all []gamification.PeerHelpSignal
	page := 1

	for {
		params := url.Values{}
		if !since.IsZero() {
			params.Set("since", since.UTC().Format(time.RFC3339))
		}
		params.Set("page", strconv.Itoa(page))
		params.Set("per_page", strconv.Itoa(c.config.PageSize))

		var response APIResponse[[]PeerHelpSignalDTO]
		if err := c.doRequest(ctx, http.MethodGet, "/api/v1/signals/peer-help?"+params.Encode(), nil, &response); err != nil {
			return nil, fmt.Errorf("peer-help signals page %d: %w", page, err)
		}
		if !response.Success {
			return nil, fmt.Errorf("peer-help signals: api error: %s", response.Error)
		}

		for _, dto := range response.Data {
			all = append(all, dto.ToDomain())
		}

		if lastPage(len(response.Data), response.Meta, page, c.config.PageSize) {
			break
		}
		page++
	}

	return all, nil
}

// lastPage reports whether the current page is the final one. Meta is
// authoritative when the server sends it: the feed may page by its own
// size, smaller than per_page, so a short page alone does not mean the
// end. The short-page heuristic applies only without Meta. An empty
// page always terminates.
func lastPage(got int, meta *Meta, page, pageSize int) bool {
	if got == 0 {
		return true
	}
	if meta != nil && meta.TotalPages > 0 {
		return page >= meta.TotalPages
	}
	return got < pageSize
}

// ConceptCount returns the number of concepts in a subject, satisfying
// the engine's subject catalog contract. Results are cached: catalog
// composition changes rarely and the subject-mastery check runs on the
// hot event path. Unknown subjects report zero.
func (c *Client) ConceptCount(ctx context.Context, subjectID string) (int, error) {
	if cached, ok := c.subjects.Load(subjectID); ok {
		return cached.(int), nil
	}

	var response APIResponse[SubjectDTO]
	err := c.doRequest(ctx, http.MethodGet, "/api/v1/subjects/"+url.PathEscape(subjectID), nil, &response)
	if err != nil {
		var apiErr *APIError
		if errors.As(err, &apiErr) && apiErr.Code == "NOT_FOUND" {
			c.subjects.Store(subjectID, 0)
			return 0, nil
		}
		return 0, fmt.Errorf("subject %s: %w", subjectID, err)
	}
	if !response.Success {
		return 0, fmt.Errorf("subject %s: api error: %s", subjectID, response.Error)
	}

	c.subjects.Store(subjectID, response.Data.ConceptCount)
	return response.Data.ConceptCount, nil
}

// InvalidateCatalog drops the cached concept counts.
func (c *Client) InvalidateCatalog() {
	c.subjects.Range(func(key, _ any) bool {
		c.subjects.Delete(key)
		return true
	})
}

// IsHealthy checks if the feed is reachable.
func (c *Client) IsHealthy(ctx context.Context) bool {
	var response APIResponse[map[string]any]
	err := c.doSingleRequest(ctx, http.MethodGet, "/health", nil, &response)
	return err == nil && response.Success
}

var _ gamification.SubjectCatalog = (*Client)(nil)

// ══════════════════════════════════════════════════════════════════════════════
// HTTP REQUEST HELPERS
// ══════════════════════════════════════════════════════════════════════════════

// doRequest performs an HTTP request with rate limiting, circuit
// breaking, and retries for transient failures.
func (c *Client) doRequest(ctx context.Context, method, path string, body any, result any) error {
	policy := c.config.Retry
	policy.RetryIf = isRetryable
	policy.OnRetry = func(attempt int, err error, delay time.Duration) {
		c.log.Warn("retrying feed request",
			logger.String("path", path),
			logger.Int("attempt", attempt),
			logger.Duration("delay", delay),
			logger.Err(err),
		)
	}

	return policy.Do(ctx, func(ctx context.Context) error {
		if err := c.limiter.Allow(ctx); err != nil {
			return fmt.Errorf("rate limiter: %w", err)
		}

		err := c.breaker.Execute(ctx, func(ctx context.Context) error {
			return c.doSingleRequest(ctx, method, path, body, result)
		})

		var rateLimitErr *RateLimitError
		if errors.As(err, &rateLimitErr) {
			c.limiter.RecordRateLimitHit(rateLimitErr.RetryAfter)
		}
		return err
	})
}

// doSingleRequest performs a single HTTP request.
func (c *Client) doSingleRequest(ctx context.Context, method, path string, body any, result any) error {
	fullURL := c.config.BaseURL + path

	var bodyReader io.Reader
	if body != nil {
		jsonBody, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("marshal body: %w", err)
		}
		bodyReader = bytes.NewReader(jsonBody)
	}

	req, err := http.NewRequestWithContext(ctx, method, fullURL, bodyReader)
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}

	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")
	if c.config.APIKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.config.APIKey)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("http request: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("read response: %w", err)
	}

	if resp.StatusCode == http.StatusTooManyRequests {
		retryAfter := 60 * time.Second
		if ra := resp.Header.Get("Retry-After"); ra != "" {
			if seconds, err := strconv.Atoi(ra); err == nil {
				retryAfter = time.Duration(seconds) * time.Second
			}
		}
		return &RateLimitError{
			RetryAfter: retryAfter,
			Message:    "rate limit exceeded",
		}
	}

	if resp.StatusCode >= 400 {
		var apiErr APIError
		if err := json.Unmarshal(respBody, &apiErr); err == nil && apiErr.Message != "" {
			return &apiErr
		}
		return fmt.Errorf("api error: status %d", resp.StatusCode)
	}

	if result != nil && len(respBody) > 0 {
		if err := json.Unmarshal(respBody, result); err != nil {
			return fmt.Errorf("unmarshal response: %w", err)
		}
	}

	return nil
}

// isRetryable decides whether a failed attempt is worth repeating.
func isRetryable(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, circuitbreaker.ErrCircuitOpen) {
		return false
	}

	var rateLimitErr *RateLimitError
	if errors.As(err, &rateLimitErr) {
		return true
	}

	var apiErr *APIError
	if errors.As(err, &apiErr) {
		return apiErr.Code == "SERVER_ERROR" || apiErr.Code == "TEMPORARILY_UNAVAILABLE"
	}

	errStr := err.Error()
	for _, marker := range []string{"timeout", "connection refused", "temporary", "reset", "EOF"} {
		if strings.Contains(errStr, marker) {
			return true
		}
	}
	return false
}
