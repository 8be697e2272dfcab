// Package rtdb is a small client for the Firebase Realtime Database REST API:
// JSON reads and writes plus streaming listeners over server-sent events.
package rtdb

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v4"
)

// Option configures a Client.
type Option func(*Client)

// WithHTTPTimeout bounds single request/response calls (not streams).
func WithHTTPTimeout(d time.Duration) Option {
	return func(c *Client) {
		if d > 0 {
			h := *c.http
			h.Timeout = d
			c.http = &h
		}
	}
}

// WithHTTPClient uses h for request/response calls and a copy of it without
// Timeout for streams, sharing its transport. h itself is never modified.
func WithHTTPClient(h *http.Client) Option {
	return func(c *Client) {
		if h != nil {
			c.http = h
			s := *h
			s.Timeout = 0
			c.stream = &s
		}
	}
}

// WithReconnect sets how long a listener keeps retrying a dropped stream
// before giving up. Zero retries forever.
func WithReconnect(maxElapsed time.Duration) Option {
	return func(c *Client) {
		c.newBackOff = func() backoff.BackOff {
			bo := backoff.NewExponentialBackOff()
			bo.InitialInterval = 500 * time.Millisecond
			bo.MaxInterval = 30 * time.Second
			bo.MaxElapsedTime = maxElapsed
			return bo
		}
	}
}

// WithBackOff installs a custom reconnect policy factory.
func WithBackOff(fn func() backoff.BackOff) Option {
	return func(c *Client) {
		if fn != nil {
			c.newBackOff = fn
		}
	}
}

// WithReconnectNotify is called every time a listener stream drops and a
// reconnect is scheduled.
func WithReconnectNotify(fn func(path string, err error, next time.Duration)) Option {
	return func(c *Client) { c.notify = fn }
}

// Client talks to one database.
type Client struct {
	base       *url.URL
	http       *http.Client
	stream     *http.Client
	newBackOff func() backoff.BackOff
	notify     func(path string, err error, next time.Duration)
}

// NewClient builds a client for databaseURL, e.g.
// https://<db>.firebasedatabase.app
func NewClient(databaseURL string, opts ...Option) (*Client, error) {
	u, err := url.Parse(strings.TrimRight(strings.TrimSpace(databaseURL), "/"))
	if err != nil {
		return nil, fmt.Errorf("rtdb: parse database url: %w", err)
	}
	if u.Scheme != "https" && u.Scheme != "http" {
		return nil, fmt.Errorf("rtdb: unsupported scheme %q", u.Scheme)
	}
	if u.Host == "" {
		return nil, fmt.Errorf("rtdb: missing host in %q", databaseURL)
	}
	c := &Client{
		base:   u,
		http:   &http.Client{Timeout: 10 * time.Second},
		stream: &http.Client{},
	}
	WithReconnect(0)(c)
	for _, opt := range opts {
		opt(c)
	}
	return c, nil
}

// URL returns the REST endpoint for path.
func (c *Client) URL(path string) string {
	u := *c.base
	p := strings.Trim(path, "/")
	if p == "" {
		u.Path = "/.json"
	} else {
		u.Path = "/" + p + ".json"
	}
	return u.String()
}

// Get decodes the value at path into out.
func (c *Client) Get(ctx context.Context, path string, out any) error {
	return c.do(ctx, http.MethodGet, path, nil, out)
}

// Set replaces the value at path (REST PUT).
func (c *Client) Set(ctx context.Context, path string, value any) error {
	return c.do(ctx, http.MethodPut, path, value, nil)
}

// Update merges children into the value at path (REST PATCH).
func (c *Client) Update(ctx context.Context, path string, children map[string]any) error {
	return c.do(ctx, http.MethodPatch, path, children, nil)
}

// Delete removes the value at path.
func (c *Client) Delete(ctx context.Context, path string) error {
	return c.do(ctx, http.MethodDelete, path, nil, nil)
}

func (c *Client) do(ctx context.Context, method, path string, body any, out any) error {
	var rd io.Reader
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("rtdb: encode %s %s: %w", method, path, err)
		}
		rd = bytes.NewReader(b)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.URL(path), rd)
	if err != nil {
		return fmt.Errorf("rtdb: build request: %w", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	// avoids echoing the written value back
	if method == http.MethodPut || method == http.MethodPatch {
		q := req.URL.Query()
		q.Set("print", "silent")
		req.URL.RawQuery = q.Encode()
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("rtdb: %s %s: %w", method, path, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return statusError(method, path, resp)
	}
	if out == nil {
		_, _ = io.Copy(io.Discard, resp.Body)
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("rtdb: decode %s: %w", path, err)
	}
	return nil
}

// StatusError is returned for non-2xx responses.
type StatusError struct {
	Method string
	Path   string
	Code   int
	Msg    string
}

func (e *StatusError) Error() string {
	if e.Msg != "" {
		return fmt.Sprintf("rtdb: %s %s -> %d: %s", e.Method, e.Path, e.Code, e.Msg)
	}
	return fmt.Sprintf("rtdb: %s %s -> %d", e.Method, e.Path, e.Code)
}

func statusError(method, path string, resp *http.Response) error {
	var body struct {
		Error string `json:"error"`
	}
	b, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
	if json.Unmarshal(b, &body) != nil || body.Error == "" {
		body.Error = strings.TrimSpace(string(b))
	}
	return &StatusError{Method: method, Path: path, Code: resp.StatusCode, Msg: body.Error}
}
