package provider

import (
	"context"
	goerrors "errors"
	"fmt"
	"io"
	"math/rand"
	"net/http"
	"net/url"
	"time"

	"github.com/vitalsync/vitalsync/internal/breaker"
	"github.com/vitalsync/vitalsync/internal/config"
	"github.com/vitalsync/vitalsync/internal/errors"
	"github.com/vitalsync/vitalsync/internal/limiter"
	"github.com/vitalsync/vitalsync/internal/logging"
	"github.com/vitalsync/vitalsync/internal/metrics"
	"github.com/vitalsync/vitalsync/pkg/headers"
)

// breakerTarget names the single upstream the breaker guards. The provider
// is one logical service, so all resources share one circuit.
const breakerTarget = "provider"

// TokenSource supplies bearer tokens for provider calls. Implemented by
// token.Manager.
type TokenSource interface {
	ValidAccessToken(ctx context.Context, principalID string) (string, error)
	ForceRefresh(ctx context.Context, principalID string) (string, error)
	InvalidateForAuthError(principalID string)
}

// Client executes authenticated GET requests against the provider API with
// the full protection stack: circuit breaker, token lifecycle, sliding-window
// rate limiting, and status-dependent retries.
//
// Order per attempt is fixed: the breaker is consulted first so an open
// circuit costs nothing, then a token is obtained, then a rate-limit slot,
// and only then does the request go on the wire.
type Client struct {
	cfg      config.Config
	tokens   TokenSource
	limiter  *limiter.Limiter
	breaker  *breaker.Breaker
	http     *http.Client
	metrics  *metrics.Metrics
	logger   *logging.Logger
	sleep    func(ctx context.Context, d time.Duration) error
	jitterFn func(max time.Duration) time.Duration
}

// Option configures a Client.
type Option func(*Client)

// WithMetrics attaches metrics recording.
func WithMetrics(m *metrics.Metrics) Option {
	return func(c *Client) {
		c.metrics = m
	}
}

// WithHTTPClient overrides the underlying HTTP client. Used by tests.
func WithHTTPClient(h *http.Client) Option {
	return func(c *Client) {
		c.http = h
	}
}

// WithSleep overrides how the client waits between retries. Used by tests.
func WithSleep(fn func(ctx context.Context, d time.Duration) error) Option {
	return func(c *Client) {
		c.sleep = fn
	}
}

// NewClient creates a provider API client.
func NewClient(cfg config.Config, tokens TokenSource, lim *limiter.Limiter, brk *breaker.Breaker, logger *logging.Logger, opts ...Option) *Client {
	c := &Client{
		cfg:     cfg,
		tokens:  tokens,
		limiter: lim,
		breaker: brk,
		http:    &http.Client{Timeout: cfg.Provider.Timeout},
		logger:  logger,
		sleep:   sleepCtx,
		jitterFn: func(max time.Duration) time.Duration {
			if max <= 0 {
				return 0
			}
			return time.Duration(rand.Int63n(int64(max)))
		},
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Response is the outcome of a provider call. Header is retained so retry
// decisions can inspect Retry-After and quota counters.
type Response struct {
	Status int
	Body   []byte
	Header http.Header
	Quota  headers.QuotaSnapshot
}

// Get performs an authenticated GET against path (relative to the provider
// base URL) on behalf of the principal, applying the retry policy:
//
//	401: one forced refresh then a single retry; a second 401 deactivates
//	     the credential and returns ErrReauthRequired.
//	429: sleep for Retry-After (bounded retries), then ErrRateLimited.
//	5xx and transport errors: exponential backoff with jitter, then
//	     ErrProviderUnavailable; these also count against the breaker.
//	other 4xx: no retry, ErrProviderCall.
func (c *Client) Get(ctx context.Context, principalID, path string, query url.Values) (*Response, error) {
	var (
		authRetried  bool
		rateRetries  int
		transientTry int
	)

	for {
		if err := c.breaker.Allow(breakerTarget); err != nil {
			return nil, err
		}

		tok, err := c.tokens.ValidAccessToken(ctx, principalID)
		if err != nil {
			return nil, err
		}

		if err := c.limiter.Acquire(ctx, "provider"); err != nil {
			return nil, err
		}

		resp, err := c.do(ctx, tok, path, query)
		if err != nil {
			// Transport failure: retriable and breaker-relevant.
			c.breaker.RecordFailure(breakerTarget)
			c.record(path, "transport_error")
			transientTry++
			if transientTry >= c.cfg.Retry.MaxAttempts {
				return nil, &errors.ErrProviderUnavailable{Err: err}
			}
			if err := c.sleep(ctx, c.backoff(transientTry)); err != nil {
				return nil, err
			}
			continue
		}

		switch {
		case resp.Status >= 200 && resp.Status < 300:
			c.breaker.RecordSuccess(breakerTarget)
			c.record(path, "success")
			c.publishQuota(resp.Quota)
			return resp, nil

		case resp.Status == http.StatusUnauthorized:
			c.record(path, "unauthorized")
			if authRetried {
				// A token fresh off a forced refresh was rejected: the
				// grant is dead, not just the access token.
				c.tokens.InvalidateForAuthError(principalID)
				return nil, &errors.ErrReauthRequired{PrincipalID: principalID, Reason: "provider rejected refreshed token"}
			}
			authRetried = true
			if _, err := c.tokens.ForceRefresh(ctx, principalID); err != nil {
				return nil, err
			}
			continue

		case resp.Status == http.StatusTooManyRequests:
			c.record(path, "rate_limited")
			wait := headers.RetryAfter(resp.Header, c.cfg.Retry.DefaultRetryAfter)
			if rateRetries >= c.cfg.Retry.RateLimitRetries {
				return nil, &errors.ErrRateLimited{RetryAfter: wait}
			}
			rateRetries++
			c.logger.WarnWithContext(ctx, "provider rate limited, backing off",
				"principal_id", principalID, "path", path, "retry_after", wait.String())
			if err := c.sleep(ctx, wait); err != nil {
				return nil, err
			}
			continue

		case resp.Status >= 500:
			c.breaker.RecordFailure(breakerTarget)
			c.record(path, "server_error")
			transientTry++
			if transientTry >= c.cfg.Retry.MaxAttempts {
				return nil, &errors.ErrProviderUnavailable{Err: fmt.Errorf("provider status %d", resp.Status)}
			}
			if err := c.sleep(ctx, c.backoff(transientTry)); err != nil {
				return nil, err
			}
			continue

		default:
			// Remaining 4xx are caller errors; retrying cannot help.
			c.record(path, "client_error")
			return nil, &errors.ErrProviderCall{Status: resp.Status, Reason: truncate(resp.Body, 256)}
		}
	}
}

func (c *Client) do(ctx context.Context, tok, path string, query url.Values) (*Response, error) {
	u := c.cfg.Provider.BaseURL + path
	if len(query) > 0 {
		u += "?" + query.Encode()
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Authorization", "Bearer "+tok)
	req.Header.Set("Accept", "application/json")

	start := time.Now()
	resp, err := c.http.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, err
	}

	if c.metrics != nil {
		c.metrics.ProviderLatency.WithLabelValues(path).Observe(time.Since(start).Seconds())
	}

	return &Response{
		Status: resp.StatusCode,
		Body:   body,
		Header: resp.Header,
		Quota:  headers.ParseQuota(resp.Header),
	}, nil
}

// backoff computes the wait before transient retry n (1-based), doubling
// from the base with up to 25% jitter, capped at MaxBackoff.
func (c *Client) backoff(attempt int) time.Duration {
	d := c.cfg.Retry.BaseBackoff
	for i := 1; i < attempt; i++ {
		d *= 2
		if d >= c.cfg.Retry.MaxBackoff {
			d = c.cfg.Retry.MaxBackoff
			break
		}
	}
	return d + c.jitterFn(d/4)
}

func (c *Client) record(path, outcome string) {
	if c.metrics != nil {
		c.metrics.ProviderRequests.WithLabelValues(path, outcome).Inc()
	}
}

func (c *Client) publishQuota(q headers.QuotaSnapshot) {
	if c.metrics == nil || !q.HasQuota() {
		return
	}
	if q.RemainingMinute >= 0 {
		c.metrics.SetQuotaRemaining("minute", q.RemainingMinute)
	}
	if q.RemainingDay >= 0 {
		c.metrics.SetQuotaRemaining("day", q.RemainingDay)
	}
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return nil
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

func truncate(b []byte, n int) string {
	if len(b) <= n {
		return string(b)
	}
	return string(b[:n]) + "..."
}

// IsRetryable reports whether an error from Get could succeed on a later
// attempt once conditions change.
func IsRetryable(err error) bool {
	var unavailable *errors.ErrProviderUnavailable
	var rateLimited *errors.ErrRateLimited
	var circuitOpen *errors.ErrCircuitOpen
	return goerrors.As(err, &unavailable) || goerrors.As(err, &rateLimited) || goerrors.As(err, &circuitOpen)
}
