// Package polygon wraps the market-data provider: typed REST fetches with
// retry, rate limiting, TTL response caching and in-flight deduplication,
// plus the minute-aggregate WebSocket stream.
package polygon

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"time"

	"golang.org/x/time/rate"

	"gap-scanner/config"
	"gap-scanner/internal/model"
)

const defaultBaseURL = "https://api.polygon.io"

// retryBaseDelay is doubled per attempt: 1s, 2s, 4s, ...
const retryBaseDelay = 1 * time.Second

// Client is the typed REST client. Safe for concurrent use.
type Client struct {
	baseURL string
	apiKey  string
	api     config.APIConfig

	httpc   *http.Client
	cache   *responseCache
	limiter *rate.Limiter
	log     *slog.Logger

	// OnRetry is an optional metrics hook invoked per retry attempt.
	OnRetry func()
}

// ClientOption customizes a Client.
type ClientOption func(*Client)

// WithBaseURL points the client at a different host (tests use httptest).
func WithBaseURL(u string) ClientOption {
	return func(c *Client) { c.baseURL = u }
}

// WithRateLimit caps outbound requests per second.
func WithRateLimit(rps float64, burst int) ClientOption {
	return func(c *Client) { c.limiter = rate.NewLimiter(rate.Limit(rps), burst) }
}

// NewClient creates a REST client. The response cache TTL equals the overall
// request timeout, matching the refresh cadence of the pull scans.
func NewClient(apiKey string, api config.APIConfig, opts ...ClientOption) (*Client, error) {
	if apiKey == "" {
		return nil, ErrMissingAPIKey
	}
	c := &Client{
		baseURL: defaultBaseURL,
		apiKey:  apiKey,
		api:     api,
		httpc: &http.Client{
			Timeout: time.Duration(api.HTTPTimeoutMs) * time.Millisecond,
		},
		cache:   newResponseCache(time.Duration(api.RequestTimeoutMs) * time.Millisecond),
		limiter: rate.NewLimiter(rate.Limit(90), 30),
		log:     slog.Default().With("component", "polygon"),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c, nil
}

// ClearCache drops all cached responses (updateConfig path).
func (c *Client) ClearCache() { c.cache.clear() }

// CacheStats returns cumulative cache hit/miss counts.
func (c *Client) CacheStats() (hits, misses uint64) { return c.cache.stats() }

// GetGainersSnapshot fetches the live gainers snapshot.
func (c *Client) GetGainersSnapshot(ctx context.Context) ([]SnapshotTicker, error) {
	u := c.endpoint("/v2/snapshot/locale/us/markets/stocks/gainers", nil)
	var resp gainersResponse
	if err := c.getJSON(ctx, "gainers", u, &resp); err != nil {
		return nil, err
	}
	return resp.Tickers, nil
}

// GetGrouped fetches all symbols' daily bars for an ET calendar date ("2006-01-02").
func (c *Client) GetGrouped(ctx context.Context, date string) ([]GroupedBar, error) {
	u := c.endpoint("/v2/aggs/grouped/locale/us/market/stocks/"+date, url.Values{
		"adjusted": {"true"},
	})
	var resp groupedResponse
	if err := c.getJSON(ctx, "grouped", u, &resp); err != nil {
		return nil, err
	}
	return resp.Results, nil
}

// GetMinuteAggs fetches a full day of 1-minute bars including extended hours.
func (c *Client) GetMinuteAggs(ctx context.Context, symbol, date string) ([]model.Candle, error) {
	return c.getAggs(ctx, symbol, 1, date, date)
}

// Get5MinAggs fetches 5-minute bars for [from, to] (ET dates or epoch-ms strings),
// including extended hours.
func (c *Client) Get5MinAggs(ctx context.Context, symbol, from, to string) ([]model.Candle, error) {
	return c.getAggs(ctx, symbol, 5, from, to)
}

func (c *Client) getAggs(ctx context.Context, symbol string, minutes int, from, to string) ([]model.Candle, error) {
	path := fmt.Sprintf("/v2/aggs/ticker/%s/range/%d/minute/%s/%s", symbol, minutes, from, to)
	u := c.endpoint(path, url.Values{
		"adjusted":               {"true"},
		"sort":                   {"asc"},
		"limit":                  {fmt.Sprint(c.api.AggregatesLimit)},
		"include_extended_hours": {"true"},
	})
	var resp aggsResponse
	if err := c.getJSON(ctx, "aggs", u, &resp); err != nil {
		return nil, err
	}
	out := make([]model.Candle, 0, len(resp.Results))
	for _, b := range resp.Results {
		out = append(out, model.Candle{
			Symbol: symbol,
			TS:     time.UnixMilli(b.T).UTC(),
			Open:   b.Open,
			High:   b.High,
			Low:    b.Low,
			Close:  b.Close,
			Volume: int64(b.Volume),
		})
	}
	return out, nil
}

// GetTickerType fetches the reference type code for a symbol ("CS" = common stock).
func (c *Client) GetTickerType(ctx context.Context, symbol, date string) (string, error) {
	u := c.endpoint("/v3/reference/tickers/"+symbol, url.Values{"date": {date}})
	var resp tickerDetailsResponse
	if err := c.getJSON(ctx, "ticker", u, &resp); err != nil {
		return "", err
	}
	return resp.Results.Type, nil
}

// GetEMA fetches the latest daily EMA value for the given window. The second
// return is false when the provider has no value for that date.
func (c *Client) GetEMA(ctx context.Context, symbol, date string, window int) (float64, bool, error) {
	u := c.endpoint("/v1/indicators/ema/"+symbol, url.Values{
		"timestamp":   {date},
		"timespan":    {"day"},
		"window":      {fmt.Sprint(window)},
		"series_type": {"close"},
	})
	var resp emaResponse
	if err := c.getJSON(ctx, "ema", u, &resp); err != nil {
		return 0, false, err
	}
	if len(resp.Results.Values) == 0 {
		return 0, false, nil
	}
	return resp.Results.Values[0].Value, true, nil
}

// GetDayOpen fetches the official session open for a past date.
func (c *Client) GetDayOpen(ctx context.Context, symbol, date string) (float64, error) {
	u := c.endpoint(fmt.Sprintf("/v1/open-close/%s/%s", symbol, date), nil)
	var resp openCloseResponse
	if err := c.getJSON(ctx, "open-close", u, &resp); err != nil {
		return 0, err
	}
	return resp.Open, nil
}

func (c *Client) endpoint(path string, q url.Values) string {
	if q == nil {
		q = url.Values{}
	}
	q.Set("apiKey", c.apiKey)
	return c.baseURL + path + "?" + q.Encode()
}

// getJSON fetches a URL with caching, in-flight dedup, and retry, then decodes
// into out. The overall deadline is api.requestTimeoutMs; each attempt is
// additionally bounded by the HTTP client timeout.
func (c *Client) getJSON(ctx context.Context, op, u string, out any) error {
	ctx, cancel := context.WithTimeout(ctx, time.Duration(c.api.RequestTimeoutMs)*time.Millisecond)
	defer cancel()

	if body, ok := c.cache.get(u, time.Now()); ok {
		return json.Unmarshal(body, out)
	}

	call, leader := c.cache.begin(u)
	if !leader {
		body, err := call.wait(ctx)
		if err != nil {
			return err
		}
		return json.Unmarshal(body, out)
	}

	body, err := c.fetchWithRetry(ctx, op, u)
	c.cache.finish(u, call, body, err, time.Now())
	if err != nil {
		return err
	}
	return json.Unmarshal(body, out)
}

func (c *Client) fetchWithRetry(ctx context.Context, op, u string) ([]byte, error) {
	var lastErr error
	for attempt := 0; attempt <= c.api.MaxRetries; attempt++ {
		if attempt > 0 {
			if c.OnRetry != nil {
				c.OnRetry()
			}
			delay := retryBaseDelay << (attempt - 1)
			select {
			case <-ctx.Done():
				return nil, &ProviderError{Op: op, Retryable: true, Err: ctx.Err()}
			case <-time.After(delay):
			}
		}

		body, err := c.fetchOnce(ctx, op, u)
		if err == nil {
			return body, nil
		}
		lastErr = err
		if !IsRetryable(err) {
			return nil, err
		}
		c.log.Warn("retryable provider error", "op", op, "attempt", attempt+1, "err", err)
	}
	return nil, lastErr
}

func (c *Client) fetchOnce(ctx context.Context, op, u string) ([]byte, error) {
	if err := c.limiter.Wait(ctx); err != nil {
		return nil, &ProviderError{Op: op, Retryable: true, Err: err}
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return nil, &ProviderError{Op: op, Err: err}
	}

	resp, err := c.httpc.Do(req)
	if err != nil {
		return nil, &ProviderError{Op: op, Retryable: true, Err: err}
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, &ProviderError{Op: op, Retryable: true, Err: err}
	}

	switch {
	case resp.StatusCode >= 500:
		return nil, &ProviderError{Op: op, Status: resp.StatusCode, Retryable: true,
			Err: fmt.Errorf("server error")}
	case resp.StatusCode >= 400:
		// Auth failures are fatal for the whole scanner; other 4xx mean
		// "skip this symbol" to callers. Neither is retried.
		return nil, &ProviderError{Op: op, Status: resp.StatusCode,
			Err: fmt.Errorf("client error")}
	}

	if !json.Valid(body) {
		return nil, &ProviderError{Op: op, Status: resp.StatusCode, Retryable: true,
			Err: fmt.Errorf("malformed response body")}
	}
	return body, nil
}
