package fetch

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/git-pkgs/wheelodex/client"
)

func TestCircuitBreakerFetch_Success(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/plain")
		_, _ = w.Write([]byte("test content"))
	}))
	defer server.Close()

	fetcher := NewFetcher()
	cbFetcher := NewCircuitBreakerFetcher(fetcher, 0)

	ctx := context.Background()
	artifact, err := cbFetcher.Fetch(ctx, server.URL+"/foo-1.0-py3-none-any.whl")
	if err != nil {
		t.Fatalf("expected no error, got %v", err)
	}

	if artifact == nil {
		t.Fatal("expected artifact, got nil")
	}

	defer func() { _ = artifact.Body.Close() }()

	body, _ := io.ReadAll(artifact.Body)
	if string(body) != "test content" {
		t.Errorf("expected 'test content', got %q", string(body))
	}
}

func TestCircuitBreakerHead_Success(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodHead {
			t.Errorf("expected HEAD request, got %s", r.Method)
		}
		w.Header().Set("Content-Length", "1234")
		w.Header().Set("Content-Type", "application/octet-stream")
	}))
	defer server.Close()

	fetcher := NewFetcher()
	cbFetcher := NewCircuitBreakerFetcher(fetcher, 0)

	ctx := context.Background()
	size, contentType, err := cbFetcher.Head(ctx, server.URL+"/foo-1.0-py3-none-any.whl")
	if err != nil {
		t.Fatalf("expected no error, got %v", err)
	}

	if size != 1234 {
		t.Errorf("expected size 1234, got %d", size)
	}

	if contentType != "application/octet-stream" {
		t.Errorf("expected content type application/octet-stream, got %s", contentType)
	}
}

func TestHostOf(t *testing.T) {
	tests := []struct {
		name     string
		url      string
		expected string
	}{
		{
			name:     "pypi files",
			url:      "https://files.pythonhosted.org/packages/ab/cd/foo-1.0-py3-none-any.whl",
			expected: "files.pythonhosted.org",
		},
		{
			name:     "invalid URL",
			url:      "not-a-valid-url",
			expected: "not-a-valid-url",
		},
		{
			name:     "long URL",
			url:      "https://very-long-hostname.example.com/path",
			expected: "very-long-hostname.example.com",
		},
		{
			name:     "with port",
			url:      "https://example.com:8080/path",
			expected: "example.com:8080",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := hostOf(tt.url)
			if got != tt.expected {
				t.Errorf("hostOf(%q) = %q, want %q", tt.url, got, tt.expected)
			}
		})
	}
}

func TestBreakerStates(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte("ok"))
	}))
	defer server.Close()

	fetcher := NewFetcher()
	cbFetcher := NewCircuitBreakerFetcher(fetcher, 0)

	// Initially empty
	states := cbFetcher.States()
	if len(states) != 0 {
		t.Errorf("expected empty states, got %d entries", len(states))
	}

	// After a fetch, should have state
	ctx := context.Background()
	_, _ = cbFetcher.Fetch(ctx, server.URL+"/test")

	states = cbFetcher.States()
	if len(states) == 0 {
		t.Error("expected at least one breaker state after fetch")
	}

	// Should be in closed state (working)
	for _, state := range states {
		if state != "closed" {
			t.Errorf("expected closed state, got %s", state)
		}
	}
}

func TestCircuitBreakerMultipleHosts(t *testing.T) {
	server1 := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte("server1"))
	}))
	defer server1.Close()

	server2 := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte("server2"))
	}))
	defer server2.Close()

	fetcher := NewFetcher()
	cbFetcher := NewCircuitBreakerFetcher(fetcher, 0)

	ctx := context.Background()

	// Fetch from both servers
	art1, err1 := cbFetcher.Fetch(ctx, server1.URL+"/test")
	if err1 != nil {
		t.Fatalf("fetch 1 failed: %v", err1)
	}
	_ = art1.Body.Close()

	art2, err2 := cbFetcher.Fetch(ctx, server2.URL+"/test")
	if err2 != nil {
		t.Fatalf("fetch 2 failed: %v", err2)
	}
	_ = art2.Body.Close()

	// Should have separate breaker states for each host
	states := cbFetcher.States()
	if len(states) != 2 {
		t.Errorf("expected 2 breaker states, got %d", len(states))
	}
}

func TestCircuitBreakerOpensOnFailures(t *testing.T) {
	failCount := 0
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		failCount++
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer server.Close()

	fetcher := NewFetcher(WithRetryPolicy(client.NoRetry()))
	cbFetcher := NewCircuitBreakerFetcher(fetcher, 3)

	ctx := context.Background()
	for range 10 {
		_, _ = cbFetcher.Fetch(ctx, server.URL+"/test")
	}

	if failCount != 3 {
		t.Errorf("failCount = %d, want 3 requests before the breaker opened", failCount)
	}
	for host, state := range cbFetcher.States() {
		if state != "open" {
			t.Errorf("state[%s] = %s, want open", host, state)
		}
	}

	_, err := cbFetcher.Fetch(ctx, server.URL+"/test")
	if !errors.Is(err, ErrUpstreamDown) {
		t.Errorf("Fetch = %v, want ErrUpstreamDown", err)
	}
}

func TestCircuitBreakerIgnoresNotFound(t *testing.T) {
	requests := 0
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		requests++
		w.WriteHeader(http.StatusNotFound)
	}))
	defer server.Close()

	cbFetcher := NewCircuitBreakerFetcher(NewFetcher(WithRetryPolicy(client.NoRetry())), 2)
	for range 5 {
		_, err := cbFetcher.Fetch(context.Background(), server.URL+"/gone.whl")
		if !errors.Is(err, ErrNotFound) {
			t.Fatalf("Fetch = %v, want ErrNotFound", err)
		}
	}
	if requests != 5 {
		t.Errorf("requests = %d, want 5", requests)
	}
}
