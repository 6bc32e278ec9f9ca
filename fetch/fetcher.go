// Package fetch downloads wheel files from PyPI's file hosting with retry
// and per-host circuit breaking.
package fetch

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"strconv"
	"time"

	"github.com/git-pkgs/wheelodex/client"
)

var (
	ErrNotFound     = errors.New("file not found")
	ErrRateLimited  = errors.New("rate limited by upstream")
	ErrUpstreamDown = errors.New("upstream file host unavailable")
	ErrTooLarge     = errors.New("file exceeds size limit")
)

// Artifact contains the response from fetching a file.
type Artifact struct {
	Body        io.ReadCloser
	Size        int64 // -1 if unknown
	ContentType string
	ETag        string
}

// Downloader is implemented by Fetcher and CircuitBreakerFetcher.
type Downloader interface {
	Fetch(ctx context.Context, url string) (*Artifact, error)
	Head(ctx context.Context, url string) (size int64, contentType string, err error)
}

// Fetcher downloads files over HTTP.
type Fetcher struct {
	client    *http.Client
	userAgent string
	retry     client.RetryPolicy
}

// Option configures a Fetcher.
type Option func(*Fetcher)

// WithHTTPClient sets a custom HTTP client.
func WithHTTPClient(c *http.Client) Option {
	return func(f *Fetcher) {
		f.client = c
	}
}

// WithUserAgent sets the User-Agent header.
func WithUserAgent(ua string) Option {
	return func(f *Fetcher) {
		f.userAgent = ua
	}
}

// WithMaxRetries sets the maximum retry attempts.
func WithMaxRetries(n int) Option {
	return func(f *Fetcher) {
		f.retry.MaxRetries = n
	}
}

// WithBaseDelay sets the initial delay for exponential backoff.
func WithBaseDelay(d time.Duration) Option {
	return func(f *Fetcher) {
		f.retry.InitialInterval = d
	}
}

// WithRetryPolicy replaces the retry policy.
func WithRetryPolicy(p client.RetryPolicy) Option {
	return func(f *Fetcher) {
		f.retry = p
	}
}

// NewFetcher creates a new Fetcher with the given options.
func NewFetcher(opts ...Option) *Fetcher {
	f := &Fetcher{
		client: &http.Client{
			Timeout:   5 * time.Minute, // Wheels can be large
			Transport: client.NewTransport(),
		},
		userAgent: client.DefaultUserAgent,
		retry: client.RetryPolicy{
			InitialInterval: 500 * time.Millisecond,
			MaxInterval:     10 * time.Second,
			MaxElapsedTime:  2 * time.Minute,
			MaxRetries:      3,
		},
	}
	for _, opt := range opts {
		opt(f)
	}
	return f
}

// retryable reports whether a download failure is worth another attempt.
func retryable(err error) bool {
	return errors.Is(err, ErrRateLimited) || errors.Is(err, ErrUpstreamDown) || client.IsRetryable(err)
}

// Fetch opens a download of the given URL.
// The caller must close the returned Artifact.Body when done.
func (f *Fetcher) Fetch(ctx context.Context, url string) (*Artifact, error) {
	var artifact *Artifact
	err := client.Retry(ctx, f.retry, retryable, func() error {
		var err error
		artifact, err = f.doFetch(ctx, url)
		return err
	})
	if err != nil {
		return nil, err
	}
	return artifact, nil
}

func (f *Fetcher) doFetch(ctx context.Context, url string) (*Artifact, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, fmt.Errorf("creating request: %w", err)
	}

	req.Header.Set("User-Agent", f.userAgent)
	req.Header.Set("Accept", "*/*")

	resp, err := f.client.Do(req)
	if err != nil {
		return nil, &client.TransportError{URL: url, Err: err}
	}

	switch {
	case resp.StatusCode == http.StatusOK:
		return &Artifact{
			Body:        resp.Body,
			Size:        contentLength(resp),
			ContentType: resp.Header.Get("Content-Type"),
			ETag:        resp.Header.Get("ETag"),
		}, nil

	case resp.StatusCode == http.StatusNotFound:
		_ = resp.Body.Close()
		return nil, ErrNotFound

	case resp.StatusCode == http.StatusTooManyRequests:
		_ = resp.Body.Close()
		return nil, ErrRateLimited

	case resp.StatusCode >= 500:
		_ = resp.Body.Close()
		return nil, fmt.Errorf("%w: HTTP %d", ErrUpstreamDown, resp.StatusCode)

	default:
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
		_ = resp.Body.Close()
		return nil, &client.HTTPError{StatusCode: resp.StatusCode, URL: url, Body: string(body)}
	}
}

func contentLength(resp *http.Response) int64 {
	if cl := resp.Header.Get("Content-Length"); cl != "" {
		if n, err := strconv.ParseInt(cl, 10, 64); err == nil {
			return n
		}
	}
	return -1
}

// Head checks if a file exists and returns its metadata without downloading.
func (f *Fetcher) Head(ctx context.Context, url string) (size int64, contentType string, err error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodHead, url, nil)
	if err != nil {
		return 0, "", fmt.Errorf("creating request: %w", err)
	}

	req.Header.Set("User-Agent", f.userAgent)

	resp, err := f.client.Do(req)
	if err != nil {
		return 0, "", fmt.Errorf("head request: %w", err)
	}
	_ = resp.Body.Close()

	if resp.StatusCode == http.StatusNotFound {
		return 0, "", ErrNotFound
	}
	if resp.StatusCode != http.StatusOK {
		return 0, "", fmt.Errorf("unexpected status %d", resp.StatusCode)
	}

	return contentLength(resp), resp.Header.Get("Content-Type"), nil
}

// DownloadFile fetches url into path. When maxSize is positive, downloads
// larger than maxSize bytes fail with ErrTooLarge and the partial file is
// removed. It returns the number of bytes written.
func DownloadFile(ctx context.Context, d Downloader, url, path string, maxSize int64) (int64, error) {
	artifact, err := d.Fetch(ctx, url)
	if err != nil {
		return 0, err
	}
	defer func() { _ = artifact.Body.Close() }()

	if maxSize > 0 && artifact.Size > maxSize {
		return 0, fmt.Errorf("%w: %d > %d bytes", ErrTooLarge, artifact.Size, maxSize)
	}

	out, err := os.Create(path)
	if err != nil {
		return 0, fmt.Errorf("creating %s: %w", path, err)
	}

	var src io.Reader = artifact.Body
	if maxSize > 0 {
		src = io.LimitReader(artifact.Body, maxSize+1)
	}
	n, copyErr := io.Copy(out, src)
	closeErr := out.Close()

	switch {
	case copyErr != nil:
		err = fmt.Errorf("downloading %s: %w", url, copyErr)
	case closeErr != nil:
		err = fmt.Errorf("writing %s: %w", path, closeErr)
	case maxSize > 0 && n > maxSize:
		err = fmt.Errorf("%w: more than %d bytes", ErrTooLarge, maxSize)
	}
	if err != nil {
		_ = os.Remove(path)
		return 0, err
	}
	return n, nil
}
