// Package client provides the HTTP plumbing shared by the PyPI API client and
// the wheel downloader: retries with exponential backoff, typed HTTP errors, a
// DNS-caching transport and URL builders.
package client

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"
)

// DefaultUserAgent identifies requests made by this module.
const DefaultUserAgent = "wheelodex (+https://github.com/git-pkgs/wheelodex)"

// maxErrorBody bounds how much of an error response is kept.
const maxErrorBody = 1024

// Client is an HTTP client with retry logic for the PyPI APIs.
type Client struct {
	HTTPClient *http.Client
	UserAgent  string
	Retry      RetryPolicy
}

// Option configures a Client.
type Option func(*Client)

// WithTimeout sets the per-request timeout.
func WithTimeout(d time.Duration) Option {
	return func(c *Client) {
		c.HTTPClient.Timeout = d
	}
}

// WithMaxRetries caps the number of retries. Zero leaves only the elapsed
// time limit in place.
func WithMaxRetries(n int) Option {
	return func(c *Client) {
		c.Retry.MaxRetries = n
	}
}

// WithRetryPolicy replaces the retry policy.
func WithRetryPolicy(p RetryPolicy) Option {
	return func(c *Client) {
		c.Retry = p
	}
}

// WithHTTPClient sets a custom HTTP client.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) {
		c.HTTPClient = hc
	}
}

// WithUserAgentOption sets the User-Agent header.
func WithUserAgentOption(ua string) Option {
	return func(c *Client) {
		c.UserAgent = ua
	}
}

// NewClient creates a Client with the given options applied over the defaults.
func NewClient(opts ...Option) *Client {
	c := &Client{
		HTTPClient: &http.Client{
			Timeout:   30 * time.Second,
			Transport: NewTransport(),
		},
		UserAgent: DefaultUserAgent,
		Retry:     DefaultRetryPolicy(),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// DefaultClient returns a client with sensible defaults:
// - 30s timeout
// - exponential backoff from 1s to 10s for up to 5 minutes
// - retry on 5xx responses and transport errors
func DefaultClient() *Client {
	return NewClient()
}

// WithUserAgent returns a copy of the client using the given User-Agent.
func (c *Client) WithUserAgent(ua string) *Client {
	clone := *c
	clone.UserAgent = ua
	return &clone
}

// Request describes a single HTTP call.
type Request struct {
	Method      string
	URL         string
	Accept      string
	ContentType string
	Body        []byte
}

// Do performs the request with retries and returns the response body.
// Non-2xx responses are returned as *HTTPError.
func (c *Client) Do(ctx context.Context, r Request) ([]byte, error) {
	var body []byte
	err := Retry(ctx, c.Retry, nil, func() error {
		var err error
		body, err = c.doOnce(ctx, r)
		return err
	})
	if err != nil {
		return nil, err
	}
	return body, nil
}

func (c *Client) doOnce(ctx context.Context, r Request) ([]byte, error) {
	method := r.Method
	if method == "" {
		method = http.MethodGet
	}
	var reqBody io.Reader
	if r.Body != nil {
		reqBody = bytes.NewReader(r.Body)
	}
	req, err := http.NewRequestWithContext(ctx, method, r.URL, reqBody)
	if err != nil {
		return nil, fmt.Errorf("creating request: %w", err)
	}
	req.Header.Set("User-Agent", c.UserAgent)
	if r.Accept != "" {
		req.Header.Set("Accept", r.Accept)
	}
	if r.ContentType != "" {
		req.Header.Set("Content-Type", r.ContentType)
	}

	resp, err := c.HTTPClient.Do(req)
	if err != nil {
		return nil, &TransportError{URL: r.URL, Err: err}
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
		return nil, &HTTPError{StatusCode: resp.StatusCode, URL: r.URL, Body: string(snippet)}
	}

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, &TransportError{URL: r.URL, Err: fmt.Errorf("reading body: %w", err)}
	}
	return data, nil
}

// GetBody fetches a URL and returns the response body.
func (c *Client) GetBody(ctx context.Context, url string) ([]byte, error) {
	return c.Do(ctx, Request{URL: url})
}

// GetJSON fetches a URL and decodes the JSON response into v.
func (c *Client) GetJSON(ctx context.Context, url string, v any) error {
	return c.GetJSONAccept(ctx, url, "application/json", v)
}

// GetJSONAccept is GetJSON with a custom Accept header.
func (c *Client) GetJSONAccept(ctx context.Context, url, accept string, v any) error {
	body, err := c.Do(ctx, Request{URL: url, Accept: accept})
	if err != nil {
		return err
	}
	if err := json.Unmarshal(body, v); err != nil {
		return fmt.Errorf("decoding %s: %w", url, err)
	}
	return nil
}

// Post sends body to url and returns the response body.
func (c *Client) Post(ctx context.Context, url, contentType string, body []byte) ([]byte, error) {
	return c.Do(ctx, Request{Method: http.MethodPost, URL: url, ContentType: contentType, Body: body})
}

// Head issues a HEAD request and returns the status code. It is not retried.
func (c *Client) Head(ctx context.Context, url string) (int, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodHead, url, nil)
	if err != nil {
		return 0, fmt.Errorf("creating request: %w", err)
	}
	req.Header.Set("User-Agent", c.UserAgent)
	resp, err := c.HTTPClient.Do(req)
	if err != nil {
		return 0, &TransportError{URL: url, Err: err}
	}
	_ = resp.Body.Close()
	return resp.StatusCode, nil
}
