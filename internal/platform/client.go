package platform

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"math/rand"
	"net/http"
	"net/url"
	"path"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

var (
	// ErrSendFailure is returned when a request fails at the transport level, before any response is received.
	ErrSendFailure = errors.New("request send failed")
	// ErrRetriesExhausted is returned when a retryable request reached its retry limit without success.
	ErrRetriesExhausted = errors.New("retry limit reached")
)

// StatusError is a terminal application error: a response code the request
// type did not opt in to retrying.
type StatusError struct {
	StatusCode int
	Body       []byte
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("unexpected status code: %d", e.StatusCode)
}

// Response is the successful outcome of one logical request.
type Response struct {
	StatusCode int
	Body       []byte
	Usage      Usage
}

// Config holds the configuration for the platform API client.
type Config struct {
	BaseURL     string
	AccessToken string
}

// Client is the JSON/HTTP client for the remote commerce platform.
//
// Every call goes through the same reliability layer: bounded retries with
// per-request-type policies, idempotency keys on mutating calls, rate-limit
// pacing, and usage accounting parsed from response headers.
type Client struct {
	baseURL *url.URL
	token   string

	http    *http.Client
	limiter *rate.Limiter

	initialRetryPeriod time.Duration
	maxRetryPeriod     time.Duration

	mu        sync.Mutex
	lastUsage Usage
}

type clientOptions struct {
	requestsPerSecond  float64
	responseTimeout    time.Duration
	initialRetryPeriod time.Duration
	maxRetryPeriod     time.Duration
}

// ClientOptions represents an optional function to override Client default values.
type ClientOptions func(*clientOptions)

// New returns a client for the platform API at cfg.BaseURL.
func New(cfg Config, args ...ClientOptions) (*Client, error) {
	if cfg.BaseURL == "" {
		return nil, errors.New("base URL cannot be an empty string")
	}
	u, err := url.Parse(cfg.BaseURL)
	if err != nil {
		return nil, fmt.Errorf("failed to parse base URL %s: %v", cfg.BaseURL, err)
	}

	opts := clientOptions{
		requestsPerSecond:  10,
		responseTimeout:    10 * time.Second,
		initialRetryPeriod: time.Second,
		maxRetryPeriod:     2 * time.Minute,
	}
	for _, opt := range args {
		opt(&opts)
	}

	return &Client{
		baseURL:            u,
		token:              cfg.AccessToken,
		http:               &http.Client{Timeout: opts.responseTimeout},
		limiter:            rate.NewLimiter(rate.Limit(opts.requestsPerSecond), 1),
		initialRetryPeriod: opts.initialRetryPeriod,
		maxRetryPeriod:     opts.maxRetryPeriod,
	}, nil
}

// LastUsage returns the rate-limit usage parsed from the most recent response.
func (c *Client) LastUsage() Usage {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.lastUsage
}

// Do performs one logical request, retrying per the request's policy.
//
// Transport-level failures are unconditionally retryable up to the retry
// limit. Application errors are retried only when the request type opted in
// to their code; otherwise they surface immediately as a *StatusError. When
// the platform reports an estimated time to regain access, the next attempt
// is deferred by that long instead of the backoff period.
func (c *Client) Do(ctx context.Context, req Request) (*Response, error) {
	tracker := retryTracker(req)

	var terminal error
	for {
		if err := c.limiter.Wait(ctx); err != nil {
			return nil, err
		}

		resp, err := c.attempt(ctx, req)
		if err == nil {
			return resp, nil
		}

		var statusErr *StatusError
		switch {
		case errors.As(err, &statusErr):
			if !tracker.RetryableCode(statusErr.StatusCode) {
				return nil, err
			}
		case errors.Is(err, ErrSendFailure):
			// Transport errors are always retryable below the limit.
		default:
			return nil, err
		}
		terminal = err

		if tracker.RetryCount() >= tracker.RetryLimit() {
			return nil, errors.Join(ErrRetriesExhausted, terminal)
		}
		tracker.MarkRetry()

		wait := c.backoff(tracker.RetryCount())
		if seconds, ok := c.LastUsage().EstimatedTimeToRegainAccess(); ok {
			wait = time.Duration(seconds) * time.Second
		}
		slog.Warn("Retrying platform request after backoff period", "method", req.Method(), "endpoint", req.Endpoint(), "attempt", tracker.RetryCount(), "wait", wait, "error", err)

		select {
		case <-time.After(wait):
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
}

// attempt performs a single HTTP exchange.
func (c *Client) attempt(ctx context.Context, req Request) (*Response, error) {
	body, contentType, err := req.Payload()
	if err != nil {
		return nil, fmt.Errorf("failed to build request payload: %v", err)
	}

	u := *c.baseURL
	u.Path = path.Join(u.Path, req.Endpoint())

	var reader io.Reader
	if body != nil {
		reader = bytes.NewReader(body)
	}
	httpReq, err := http.NewRequestWithContext(ctx, req.Method(), u.String(), reader)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %v", err)
	}
	if contentType != "" {
		httpReq.Header.Set("Content-Type", contentType)
	}
	if c.token != "" {
		httpReq.Header.Set("Authorization", "Bearer "+c.token)
	}
	if ir, ok := req.(Idempotent); ok && req.Method() != http.MethodGet {
		httpReq.Header.Set("X-Idempotency-Key", ir.IdempotencyKey())
	}

	httpResp, err := c.http.Do(httpReq)
	if err != nil {
		return nil, errors.Join(ErrSendFailure, fmt.Errorf("failed to send HTTP request: %v", err))
	}
	defer httpResp.Body.Close()

	usage := ParseUsage(httpResp.Header)
	c.mu.Lock()
	c.lastUsage = usage
	c.mu.Unlock()

	respBody, err := io.ReadAll(httpResp.Body)
	if err != nil {
		return nil, errors.Join(ErrSendFailure, fmt.Errorf("failed to read response body: %v", err))
	}

	if httpResp.StatusCode >= http.StatusBadRequest {
		return nil, &StatusError{StatusCode: httpResp.StatusCode, Body: respBody}
	}

	return &Response{StatusCode: httpResp.StatusCode, Body: respBody, Usage: usage}, nil
}

// backoff returns the jittered exponential backoff period for the given attempt.
func (c *Client) backoff(attempt int) time.Duration {
	wait := c.initialRetryPeriod << (attempt - 1)
	if wait > c.maxRetryPeriod || wait <= 0 {
		wait = c.maxRetryPeriod
	}
	// #nosec:G404 We don't need cryptographic randomness.
	return wait/2 + time.Duration(rand.Int63n(int64(wait/2)+1))
}

// retryTracker returns the request's retry bookkeeping, or a private default
// tracker for request types without the capability.
func retryTracker(req Request) Retryable {
	if t, ok := req.(Retryable); ok {
		return t
	}
	return &RetryTracker{}
}
