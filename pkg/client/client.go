// Package client provides the HTTP client shared by the resolver and the
// downloader: a fixed browser-like header set, a client-level timeout,
// optional Redis caching of JSON lookups and optional throttle gating.
//
// The client performs exactly one attempt per call. Retrying is the
// caller's business.
package client

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/rs/zerolog"

	"github.com/Sternrassler/bicat/pkg/cache"
	"github.com/Sternrassler/bicat/pkg/logging"
	"github.com/Sternrassler/bicat/pkg/ratelimit"
)

// Request kinds used as metric labels.
const (
	kindAPI    = "api"
	kindStream = "stream"
)

var (
	requestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "bicat_requests_total",
		Help: "Total HTTP requests by kind and status",
	}, []string{"kind", "status"})

	requestDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "bicat_request_duration_seconds",
		Help:    "HTTP request duration in seconds by kind",
		Buckets: []float64{0.1, 0.25, 0.5, 1, 2, 5, 10, 30},
	}, []string{"kind"})

	requestErrorsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "bicat_request_errors_total",
		Help: "Total HTTP request errors by class",
	}, []string{"class"})
)

// Default header values. The API rejects requests that do not look like
// they come from a browser on the main site.
const (
	DefaultBaseURL        = "https://api.bilibili.com"
	DefaultReferer        = "https://www.bilibili.com"
	DefaultUserAgent      = "Mozilla/5.0 (X11; Linux x86_64; rv:109.0) Gecko/20100101 Firefox/115.0"
	DefaultAccept         = "text/html, application/xhtml+xml, */*"
	DefaultAcceptLanguage = "en-US,en;q=0.8,zh-Hans-CN;q=0.5,zh-Hans;q=0.3"
	DefaultTimeout        = 30 * time.Second
)

// Config holds the client configuration.
type Config struct {
	// BaseURL is the API root used by GetJSON.
	BaseURL string

	// UserAgent and Referer are sent with every request.
	UserAgent string
	Referer   string

	// Timeout bounds every request, including reading the body.
	Timeout time.Duration

	// Cache, when set, stores GetJSON bodies in Redis.
	Cache *cache.Manager

	// Throttle, when set, delays requests until a cool-down window ends
	// and records 412/429 responses.
	Throttle *ratelimit.Tracker

	// HTTPClient overrides the underlying client (tests).
	HTTPClient *http.Client
}

// DefaultConfig returns the configuration used against the live API.
func DefaultConfig() Config {
	return Config{
		BaseURL:   DefaultBaseURL,
		UserAgent: DefaultUserAgent,
		Referer:   DefaultReferer,
		Timeout:   DefaultTimeout,
	}
}

// Client is the HTTP client.
type Client struct {
	httpClient *http.Client
	baseURL    *url.URL
	headers    http.Header
	cache      *cache.Manager
	throttle   *ratelimit.Tracker
	logger     zerolog.Logger
}

// New creates a client.
func New(cfg Config) (*Client, error) {
	if cfg.BaseURL == "" {
		return nil, fmt.Errorf("base url is required")
	}
	base, err := url.Parse(cfg.BaseURL)
	if err != nil {
		return nil, fmt.Errorf("parse base url: %w", err)
	}
	if base.Scheme == "" || base.Host == "" {
		return nil, fmt.Errorf("base url must be absolute (got %q)", cfg.BaseURL)
	}

	if cfg.UserAgent == "" {
		return nil, fmt.Errorf("user-agent is required")
	}
	if cfg.Referer == "" {
		cfg.Referer = DefaultReferer
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultTimeout
	}

	httpClient := cfg.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{Timeout: cfg.Timeout}
	}

	return &Client{
		httpClient: httpClient,
		baseURL:    base,
		headers:    buildHeaders(cfg),
		cache:      cfg.Cache,
		throttle:   cfg.Throttle,
		logger:     logging.NewLogger("client"),
	}, nil
}

func buildHeaders(cfg Config) http.Header {
	h := make(http.Header)
	h.Set("Accept", DefaultAccept)
	h.Set("Accept-Language", DefaultAcceptLanguage)
	h.Set("Referer", cfg.Referer)
	h.Set("User-Agent", cfg.UserAgent)
	h.Set("Connection", "keep-alive")
	return h
}

// Headers returns a copy of the header set attached to every request.
func (c *Client) Headers() http.Header {
	return c.headers.Clone()
}

// Do sends req once with the fixed headers attached. Non-2xx responses are
// returned as *RequestError with the body closed.
func (c *Client) Do(req *http.Request) (*http.Response, error) {
	return c.do(req, kindAPI)
}

func (c *Client) do(req *http.Request, kind string) (*http.Response, error) {
	ctx := req.Context()
	target := req.URL.String()

	if err := c.waitForCooldown(ctx); err != nil {
		requestsTotal.WithLabelValues(kind, "throttled").Inc()
		requestErrorsTotal.WithLabelValues(string(ErrorClassThrottled)).Inc()
		return nil, &RequestError{Class: ErrorClassThrottled, URL: target, Err: err}
	}

	for key, values := range c.headers {
		req.Header[key] = append([]string(nil), values...)
	}

	start := time.Now()
	resp, err := c.httpClient.Do(req)
	requestDuration.WithLabelValues(kind).Observe(time.Since(start).Seconds())
	if err != nil {
		requestsTotal.WithLabelValues(kind, "network_error").Inc()
		requestErrorsTotal.WithLabelValues(string(ErrorClassNetwork)).Inc()
		c.logger.Debug().Err(err).Str("url", target).Msg("HTTP request failed")
		return nil, &RequestError{Class: ErrorClassNetwork, URL: target, Err: err}
	}

	requestsTotal.WithLabelValues(kind, strconv.Itoa(resp.StatusCode)).Inc()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		io.Copy(io.Discard, io.LimitReader(resp.Body, 4096))
		resp.Body.Close()

		class := ErrorClassStatus
		if ratelimit.IsThrottleStatus(resp.StatusCode) {
			class = ErrorClassThrottled
			if c.throttle != nil {
				if err := c.throttle.RecordThrottle(ctx, resp.Header); err != nil {
					c.logger.Warn().Err(err).Msg("Failed to record throttling state")
				}
			}
		}
		requestErrorsTotal.WithLabelValues(string(class)).Inc()

		return nil, &RequestError{
			Class:      class,
			StatusCode: resp.StatusCode,
			URL:        target,
			Err:        errors.New(resp.Status),
		}
	}

	return resp, nil
}

// waitForCooldown blocks while a throttle cool-down is active. The window
// is re-read after each wait since another request may have extended it.
// It fails only when ctx is done first; the error matches ErrThrottled and
// the context error.
func (c *Client) waitForCooldown(ctx context.Context) error {
	if c.throttle == nil {
		return nil
	}

	for {
		wait, err := c.throttle.CooldownRemaining(ctx)
		if err != nil {
			c.logger.Warn().Err(err).Msg("Throttle check failed - sending request anyway")
			return nil
		}
		if wait <= 0 {
			return nil
		}

		timer := time.NewTimer(wait)
		select {
		case <-ctx.Done():
			timer.Stop()
			return fmt.Errorf("%w: %w", ErrThrottled, ctx.Err())
		case <-timer.C:
		}
	}
}

// Fetch downloads rawURL once and returns the full body.
func (c *Client) Fetch(ctx context.Context, rawURL string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}

	resp, err := c.do(req, kindStream)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		requestErrorsTotal.WithLabelValues(string(ErrorClassBody)).Inc()
		return nil, &RequestError{Class: ErrorClassBody, StatusCode: resp.StatusCode, URL: rawURL, Err: err}
	}

	return body, nil
}

// GetJSON performs a lookup against the API and decodes the body into out.
// When a cache is configured and ttl > 0 the raw body is cached for ttl.
func (c *Client) GetJSON(ctx context.Context, endpoint string, query url.Values, ttl time.Duration, out any) error {
	u := c.endpointURL(endpoint, query)

	body, err := c.lookup(ctx, u, ttl)
	if err != nil {
		return err
	}

	if err := json.Unmarshal(body, out); err != nil {
		return fmt.Errorf("%w from %s: %v", ErrDecode, u.Path, err)
	}
	return nil
}

func (c *Client) lookup(ctx context.Context, u *url.URL, ttl time.Duration) ([]byte, error) {
	useCache := c.cache != nil && ttl > 0
	key := cache.KeyFromURL(u)

	if useCache {
		entry, err := c.cache.Get(ctx, key)
		switch {
		case err == nil:
			c.logger.Debug().Str("key", key.String()).Msg("Cache hit")
			return entry.Body, nil
		case !errors.Is(err, cache.ErrCacheMiss):
			c.logger.Warn().Err(err).Str("key", key.String()).Msg("Cache get error")
		}
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u.String(), nil)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}

	resp, err := c.do(req, kindAPI)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		requestErrorsTotal.WithLabelValues(string(ErrorClassBody)).Inc()
		return nil, &RequestError{Class: ErrorClassBody, StatusCode: resp.StatusCode, URL: u.String(), Err: err}
	}

	if useCache && json.Valid(body) {
		if err := c.cache.Set(ctx, key, cache.NewEntry(body, ttl)); err != nil {
			c.logger.Warn().Err(err).Str("key", key.String()).Msg("Failed to cache response")
		}
	}

	return body, nil
}

// Invalidate drops a cached lookup. It is a no-op without a cache.
func (c *Client) Invalidate(ctx context.Context, endpoint string, query url.Values) error {
	if c.cache == nil {
		return nil
	}
	u := c.endpointURL(endpoint, query)
	return c.cache.Delete(ctx, cache.KeyFromURL(u))
}

// endpointURL joins endpoint onto the base URL path, so lookups and
// invalidations derive the same cache key.
func (c *Client) endpointURL(endpoint string, query url.Values) *url.URL {
	return c.baseURL.ResolveReference(&url.URL{
		Path:     strings.TrimSuffix(c.baseURL.Path, "/") + endpoint,
		RawQuery: query.Encode(),
	})
}
