// Package provider is the HTTP client for the third-party statistics
// provider. It knows the provider's two endpoints (per-platform top lists
// and per-creator statistics) and nothing else: no caching, no retries.
// Retry policy belongs to the refresh orchestrator.
package provider

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"github.com/creator-leaderboard/internal/config"
	"github.com/creator-leaderboard/internal/domain"
	"github.com/creator-leaderboard/internal/metrics"
)

// PageSize is the fixed number of rows the provider returns per page.
const PageSize = 100

// ErrMissingCredentials indicates the provider client id or token is not
// configured. This is fatal and raised before any network call.
var ErrMissingCredentials = errors.New("provider credentials not configured")

// UpstreamError is a non-2xx response from the statistics provider.
type UpstreamError struct {
	StatusCode int
	Snippet    string
}

func (e *UpstreamError) Error() string {
	return fmt.Sprintf("upstream status %d: %s", e.StatusCode, e.Snippet)
}

// Retryable reports whether the failure is transient (rate limiting or a
// provider-side error) and worth one retry within a refresh attempt.
func (e *UpstreamError) Retryable() bool {
	return e.StatusCode == http.StatusTooManyRequests || e.StatusCode >= 500
}

// Client issues authenticated requests to the statistics provider.
type Client struct {
	baseURL string
	cfg     *config.ProviderConfig
	http    *http.Client
	limiter *rate.Limiter
	logger  *slog.Logger
}

// New creates a provider client. Missing credentials are a configuration
// error, not something to discover mid-refresh.
func New(cfg *config.ProviderConfig, logger *slog.Logger) (*Client, error) {
	if cfg.ClientID == "" || cfg.Token == "" {
		return nil, ErrMissingCredentials
	}
	if cfg.BaseURL == "" {
		return nil, errors.New("provider base URL not configured")
	}
	return &Client{
		baseURL: strings.TrimRight(cfg.BaseURL, "/"),
		cfg:     cfg,
		http:    &http.Client{Timeout: cfg.RequestTimeout},
		limiter: rate.NewLimiter(rate.Limit(cfg.RequestsPerSecond), cfg.Burst),
		logger:  logger,
	}, nil
}

// FetchTopPage fetches one page (at most PageSize rows) of a platform's
// top list, ranked by the platform's metric.
func (c *Client) FetchTopPage(ctx context.Context, platform domain.Platform, page int) ([]domain.RawItem, error) {
	endpoint := fmt.Sprintf("%s/%s/top?query=%s&page=%d",
		c.baseURL, platform, platform.MetricName(), page)

	body, err := c.get(ctx, platform, "top", endpoint)
	if err != nil {
		return nil, err
	}

	rows, err := decodeRows(body)
	if err != nil {
		return nil, fmt.Errorf("decoding top page %d for %s: %w", page, platform, err)
	}
	return rows, nil
}

// FetchTop satisfies a top-N request. Requests above one page issue pages
// 1 and 2 in parallel and concatenate before truncating; anything else is
// a single page-1 call.
func (c *Client) FetchTop(ctx context.Context, platform domain.Platform, limit int) ([]domain.RawItem, error) {
	if limit <= 0 {
		limit = PageSize
	}

	if limit <= PageSize {
		rows, err := c.FetchTopPage(ctx, platform, 1)
		if err != nil {
			return nil, err
		}
		return truncate(rows, limit), nil
	}

	var (
		wg    sync.WaitGroup
		pages [2][]domain.RawItem
		errs  [2]error
	)
	for i := 0; i < 2; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			pages[i], errs[i] = c.FetchTopPage(ctx, platform, i+1)
		}(i)
	}
	wg.Wait()

	for _, err := range errs {
		if err != nil {
			return nil, err
		}
	}

	merged := append(pages[0], pages[1]...)
	return truncate(merged, limit), nil
}

// FetchStatistics fetches the raw statistics object for one creator.
// query may be a username, handle or provider-specific ID.
func (c *Client) FetchStatistics(ctx context.Context, platform domain.Platform, query string) (domain.RawItem, error) {
	endpoint := fmt.Sprintf("%s/%s/statistics?query=%s",
		c.baseURL, platform, url.QueryEscape(query))

	body, err := c.get(ctx, platform, "statistics", endpoint)
	if err != nil {
		return nil, err
	}

	var row domain.RawItem
	if err := json.Unmarshal(body, &row); err != nil {
		return nil, fmt.Errorf("decoding statistics for %s: %w", platform, err)
	}
	return row, nil
}

func (c *Client) get(ctx context.Context, platform domain.Platform, endpoint, fullURL string) ([]byte, error) {
	if err := c.limiter.Wait(ctx); err != nil {
		return nil, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, fullURL, nil)
	if err != nil {
		return nil, fmt.Errorf("building provider request: %w", err)
	}
	req.Header.Set("clientid", c.cfg.ClientID)
	req.Header.Set("token", c.cfg.Token)

	start := time.Now()
	resp, err := c.http.Do(req)
	if err != nil {
		metrics.UpstreamRequests.WithLabelValues(string(platform), "network_error").Inc()
		return nil, fmt.Errorf("calling provider: %w", err)
	}
	defer resp.Body.Close()

	metrics.UpstreamRequests.WithLabelValues(string(platform), strconv.Itoa(resp.StatusCode)).Inc()
	metrics.UpstreamDuration.WithLabelValues(string(platform), endpoint).Observe(time.Since(start).Seconds())

	body, err := io.ReadAll(io.LimitReader(resp.Body, 8<<20))
	if err != nil {
		return nil, fmt.Errorf("reading provider response: %w", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		c.logger.Warn("provider request failed",
			"platform", platform,
			"endpoint", endpoint,
			"status", resp.StatusCode,
		)
		return nil, &UpstreamError{StatusCode: resp.StatusCode, Snippet: snippet(body)}
	}

	return body, nil
}

// decodeRows tolerates the two envelope shapes the provider has shipped:
// a bare JSON array, or an object wrapping the array under a well-known
// key. As a last resort any array-of-objects value in the envelope is
// accepted.
func decodeRows(body []byte) ([]domain.RawItem, error) {
	var rows []domain.RawItem
	if err := json.Unmarshal(body, &rows); err == nil {
		return rows, nil
	}

	var envelope map[string]interface{}
	if err := json.Unmarshal(body, &envelope); err != nil {
		return nil, fmt.Errorf("unexpected response shape: %w", err)
	}

	for _, key := range []string{"data", "list", "items", "results"} {
		if rows, ok := rowsFromValue(envelope[key]); ok {
			return rows, nil
		}
	}
	for _, v := range envelope {
		if rows, ok := rowsFromValue(v); ok {
			return rows, nil
		}
	}
	return nil, errors.New("no row array found in response")
}

func rowsFromValue(v interface{}) ([]domain.RawItem, bool) {
	arr, ok := v.([]interface{})
	if !ok {
		return nil, false
	}
	rows := make([]domain.RawItem, 0, len(arr))
	for _, el := range arr {
		m, ok := el.(map[string]interface{})
		if !ok {
			return nil, false
		}
		rows = append(rows, domain.RawItem(m))
	}
	return rows, true
}

func truncate(rows []domain.RawItem, limit int) []domain.RawItem {
	if len(rows) > limit {
		return rows[:limit]
	}
	return rows
}

func snippet(body []byte) string {
	const max = 200
	s := string(body)
	if len(s) > max {
		s = s[:max]
	}
	return s
}
