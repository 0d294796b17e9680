// Package httpds is the HTTP session used to pull table snapshots from the
// upstream API: a cookie-jar client that logs in once with a form POST and
// then issues GETs relative to a base URL, retrying transient failures with
// exponential backoff.
package httpds

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/http/cookiejar"
	"net/url"
	"strings"
	"time"
)

// ErrLoginFailed is returned by Login when the server rejects the
// credentials.
var ErrLoginFailed = errors.New("httpds: login failed")

// StatusError reports a final non-2xx response.
type StatusError struct {
	Method string
	URL    string
	Code   int
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("httpds: %s %s: status %d", e.Method, e.URL, e.Code)
}

// Config configures a session. Zero values get defaults:
// Timeout 60s, InitialBackoff 500ms, MaxBackoff 10s. MaxRetries 0 means a
// single attempt.
type Config struct {
	// BaseURL prefixes every path passed to Login and Get.
	BaseURL string

	Timeout        time.Duration
	MaxRetries     int
	InitialBackoff time.Duration
	MaxBackoff     time.Duration

	// Headers are added to every request.
	Headers http.Header

	// Transport replaces http.DefaultTransport, mostly for tests.
	Transport http.RoundTripper
}

// Client is a logged-in (or anonymous) session. It is safe for concurrent
// use once Login has returned.
type Client struct {
	hc             *http.Client
	base           string
	maxRetries     int
	initialBackoff time.Duration
	maxBackoff     time.Duration
	headers        http.Header

	// sleep waits between attempts; tests replace it.
	sleep func(ctx context.Context, d time.Duration) error
}

// NewClient builds a session with an empty cookie jar.
func NewClient(cfg Config) (*Client, error) {
	if _, err := url.Parse(cfg.BaseURL); err != nil {
		return nil, fmt.Errorf("httpds: base url: %w", err)
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 60 * time.Second
	}
	if cfg.MaxRetries < 0 {
		cfg.MaxRetries = 0
	}
	if cfg.InitialBackoff <= 0 {
		cfg.InitialBackoff = 500 * time.Millisecond
	}
	if cfg.MaxBackoff <= 0 {
		cfg.MaxBackoff = 10 * time.Second
	}
	jar, err := cookiejar.New(nil)
	if err != nil {
		return nil, fmt.Errorf("httpds: cookie jar: %w", err)
	}
	transport := cfg.Transport
	if transport == nil {
		transport = http.DefaultTransport
	}
	return &Client{
		hc:             &http.Client{Timeout: cfg.Timeout, Transport: transport, Jar: jar},
		base:           strings.TrimRight(cfg.BaseURL, "/"),
		maxRetries:     cfg.MaxRetries,
		initialBackoff: cfg.InitialBackoff,
		maxBackoff:     cfg.MaxBackoff,
		headers:        cfg.Headers.Clone(),
		sleep:          sleepContext,
	}, nil
}

// URL resolves path against the base URL. Absolute URLs pass through.
func (c *Client) URL(path string) string {
	if strings.HasPrefix(path, "http://") || strings.HasPrefix(path, "https://") {
		return path
	}
	return c.base + "/" + strings.TrimLeft(path, "/")
}

// Login posts identity and password as a form to path. The session cookie
// lands in the jar and is sent with every later request.
func (c *Client) Login(ctx context.Context, path, identity, password string) error {
	form := url.Values{"identity": {identity}, "password": {password}}
	hdr := http.Header{"Content-Type": {"application/x-www-form-urlencoded"}}
	resp, err := c.do(ctx, http.MethodPost, c.URL(path), []byte(form.Encode()), hdr)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	body, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("%w: status %d", ErrLoginFailed, resp.StatusCode)
	}
	// Some APIs answer 200 with a JSON verdict.
	if bytes.Contains(bytes.ToLower(body), []byte(`"failed"`)) {
		return fmt.Errorf("%w: %s", ErrLoginFailed, bytes.TrimSpace(body))
	}
	return nil
}

// Get fetches path and returns the body decoded to UTF-8 according to the
// response's declared charset. Non-2xx responses are a *StatusError.
func (c *Client) Get(ctx context.Context, path string) ([]byte, error) {
	u := c.URL(path)
	resp, err := c.do(ctx, http.MethodGet, u, nil, http.Header{"Accept": {"application/json"}})
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		_, _ = io.Copy(io.Discard, resp.Body)
		return nil, &StatusError{Method: http.MethodGet, URL: u, Code: resp.StatusCode}
	}
	r, err := decodeBody(resp.Body, resp.Header.Get("Content-Type"))
	if err != nil {
		return nil, fmt.Errorf("httpds: GET %s: %w", u, err)
	}
	body, err := io.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("httpds: GET %s: read body: %w", u, err)
	}
	return body, nil
}

// do sends one logical request, retrying network errors, 429 and 5xx.
func (c *Client) do(ctx context.Context, method, u string, body []byte, hdr http.Header) (*http.Response, error) {
	var lastErr error
	for attempt := 0; attempt <= c.maxRetries; attempt++ {
		if attempt > 0 {
			if err := c.sleep(ctx, backoff(c.initialBackoff, attempt-1, c.maxBackoff)); err != nil {
				return nil, err
			}
		}
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		req, err := http.NewRequestWithContext(ctx, method, u, bytes.NewReader(body))
		if err != nil {
			return nil, fmt.Errorf("httpds: build request: %w", err)
		}
		for k, vs := range c.headers {
			req.Header[k] = append([]string(nil), vs...)
		}
		for k, vs := range hdr {
			req.Header[k] = append([]string(nil), vs...)
		}

		resp, err := c.hc.Do(req)
		switch {
		case err != nil:
			lastErr = fmt.Errorf("httpds: %s %s: %w", method, u, err)
		case retryable(resp.StatusCode):
			_ = resp.Body.Close()
			lastErr = &StatusError{Method: method, URL: u, Code: resp.StatusCode}
		default:
			return resp, nil
		}
	}
	return nil, lastErr
}

func retryable(code int) bool {
	return code == http.StatusTooManyRequests || (code >= 500 && code <= 599)
}

// backoff returns initial*2^retry clamped to max.
func backoff(initial time.Duration, retry int, max time.Duration) time.Duration {
	if retry > 30 {
		return max
	}
	if d := initial << retry; d > 0 && d < max {
		return d
	}
	return max
}

func sleepContext(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
