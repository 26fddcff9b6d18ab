// Package session provides the shared HTTP client used by one crawl+sync
// pass: fixed credentials, a per-request timeout, and transparent retries
// of connection failures and retryable statuses with exponential backoff.
package session

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/cenkalti/backoff/v4"
)

// ErrRetriesExhausted marks a request that still failed after the
// session's transport-level retry budget.
var ErrRetriesExhausted = errors.New("retries exhausted")

const (
	DefaultTimeout        = 30 * time.Second
	DefaultMaxRetries     = 3
	DefaultInitialBackoff = 500 * time.Millisecond
	DefaultUserAgent      = "websync/1.0 (HTTP listing mirror)"
)

// Config holds session settings. The zero value gets sensible defaults.
type Config struct {
	Timeout        time.Duration
	MaxRetries     uint64
	InitialBackoff time.Duration
	UserAgent      string
	// Fixed credentials, passed through on every request when set.
	Username string
	Password string
	// Statuses retried transparently. Defaults to 429, 502, 503, 504.
	RetryStatuses []int
}

// Session is a reusable HTTP client shared by all requests within one
// crawl+sync pass. It is safe for concurrent use by discovery and by all
// transfer workers.
type Session struct {
	client        *http.Client
	cfg           Config
	retryStatuses map[int]bool
}

// New creates a session, filling in defaults for unset config fields.
func New(cfg Config) *Session {
	if cfg.Timeout == 0 {
		cfg.Timeout = DefaultTimeout
	}
	if cfg.MaxRetries == 0 {
		cfg.MaxRetries = DefaultMaxRetries
	}
	if cfg.InitialBackoff == 0 {
		cfg.InitialBackoff = DefaultInitialBackoff
	}
	if cfg.UserAgent == "" {
		cfg.UserAgent = DefaultUserAgent
	}
	statuses := cfg.RetryStatuses
	if statuses == nil {
		statuses = []int{
			http.StatusTooManyRequests,
			http.StatusBadGateway,
			http.StatusServiceUnavailable,
			http.StatusGatewayTimeout,
		}
	}

	retry := make(map[int]bool, len(statuses))
	for _, code := range statuses {
		retry[code] = true
	}

	return &Session{
		client:        &http.Client{Timeout: cfg.Timeout},
		cfg:           cfg,
		retryStatuses: retry,
	}
}

// Get issues a GET request. The caller owns the response body.
func (s *Session) Get(ctx context.Context, url string) (*http.Response, error) {
	return s.do(ctx, http.MethodGet, url)
}

// Head issues a HEAD request.
func (s *Session) Head(ctx context.Context, url string) (*http.Response, error) {
	return s.do(ctx, http.MethodHead, url)
}

// do performs the request, retrying connection failures and retryable
// statuses. Non-retryable statuses (404 and friends) are returned as
// responses for the caller to classify.
func (s *Session) do(ctx context.Context, method, url string) (*http.Response, error) {
	operation := func() (*http.Response, error) {
		req, err := http.NewRequestWithContext(ctx, method, url, nil)
		if err != nil {
			return nil, backoff.Permanent(err)
		}
		req.Header.Set("User-Agent", s.cfg.UserAgent)
		if s.cfg.Username != "" {
			req.SetBasicAuth(s.cfg.Username, s.cfg.Password)
		}

		resp, err := s.client.Do(req)
		if err != nil {
			return nil, err
		}
		if s.retryStatuses[resp.StatusCode] {
			resp.Body.Close()
			return nil, fmt.Errorf("retryable status %d", resp.StatusCode)
		}
		return resp, nil
	}

	policy := backoff.NewExponentialBackOff()
	policy.InitialInterval = s.cfg.InitialBackoff

	resp, err := backoff.RetryWithData(operation,
		backoff.WithContext(backoff.WithMaxRetries(policy, s.cfg.MaxRetries), ctx))
	if err != nil {
		return nil, fmt.Errorf("%s %s: %w: %w", method, url, ErrRetriesExhausted, err)
	}
	return resp, nil
}
