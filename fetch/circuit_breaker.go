package fetch

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"sync"
	"time"

	"github.com/cenk/backoff"
	circuit "github.com/rubyist/circuitbreaker"
)

// DefaultTripThreshold is the number of consecutive failures that opens a
// host's breaker.
const DefaultTripThreshold = 5

// CircuitBreakerFetcher wraps a Downloader with one circuit breaker per host.
type CircuitBreakerFetcher struct {
	downloader Downloader
	threshold  int64
	breakers   map[string]*circuit.Breaker
	mu         sync.RWMutex
}

// NewCircuitBreakerFetcher wraps d. A non-positive threshold selects
// DefaultTripThreshold.
func NewCircuitBreakerFetcher(d Downloader, threshold int) *CircuitBreakerFetcher {
	if threshold <= 0 {
		threshold = DefaultTripThreshold
	}
	return &CircuitBreakerFetcher{
		downloader: d,
		threshold:  int64(threshold),
		breakers:   make(map[string]*circuit.Breaker),
	}
}

// breaker returns or creates the circuit breaker for host.
func (cbf *CircuitBreakerFetcher) breaker(host string) *circuit.Breaker {
	cbf.mu.RLock()
	b, exists := cbf.breakers[host]
	cbf.mu.RUnlock()
	if exists {
		return b
	}

	cbf.mu.Lock()
	defer cbf.mu.Unlock()

	if b, exists := cbf.breakers[host]; exists {
		return b
	}

	// An open breaker is retried after 30s, backing off to 5m.
	expBackoff := backoff.NewExponentialBackOff()
	expBackoff.InitialInterval = 30 * time.Second
	expBackoff.MaxInterval = 5 * time.Minute
	expBackoff.Multiplier = 2.0
	expBackoff.Reset()

	b = circuit.NewBreakerWithOptions(&circuit.Options{
		BackOff:    expBackoff,
		ShouldTrip: circuit.ThresholdTripFunc(cbf.threshold),
	})
	cbf.breakers[host] = b
	return b
}

// Fetch wraps the underlying Fetch with circuit breaker logic.
// A missing file does not count as a host failure.
func (cbf *CircuitBreakerFetcher) Fetch(ctx context.Context, fetchURL string) (*Artifact, error) {
	host := hostOf(fetchURL)
	b := cbf.breaker(host)

	if !b.Ready() {
		return nil, fmt.Errorf("circuit breaker open for %s: %w", host, ErrUpstreamDown)
	}

	var (
		artifact *Artifact
		notFound error
	)
	err := b.Call(func() error {
		var fetchErr error
		artifact, fetchErr = cbf.downloader.Fetch(ctx, fetchURL)
		if errors.Is(fetchErr, ErrNotFound) {
			notFound = fetchErr
			return nil
		}
		return fetchErr
	}, 0)
	if err != nil {
		return nil, err
	}
	if notFound != nil {
		return nil, notFound
	}
	return artifact, nil
}

// Head wraps the underlying Head with circuit breaker logic.
func (cbf *CircuitBreakerFetcher) Head(ctx context.Context, headURL string) (size int64, contentType string, err error) {
	host := hostOf(headURL)
	b := cbf.breaker(host)

	if !b.Ready() {
		return 0, "", fmt.Errorf("circuit breaker open for %s: %w", host, ErrUpstreamDown)
	}

	err = b.Call(func() error {
		var headErr error
		size, contentType, headErr = cbf.downloader.Head(ctx, headURL)
		return headErr
	}, 0)

	return size, contentType, err
}

// hostOf groups URLs by host for breaker selection.
func hostOf(rawURL string) string {
	parsed, err := url.Parse(rawURL)
	if err != nil || parsed.Host == "" {
		if len(rawURL) > 50 {
			return rawURL[:50]
		}
		return rawURL
	}
	return parsed.Host
}

// States reports "open" or "closed" for every host seen so far.
func (cbf *CircuitBreakerFetcher) States() map[string]string {
	cbf.mu.RLock()
	defer cbf.mu.RUnlock()

	states := make(map[string]string, len(cbf.breakers))
	for host, b := range cbf.breakers {
		if b.Tripped() {
			states[host] = "open"
		} else {
			states[host] = "closed"
		}
	}
	return states
}
