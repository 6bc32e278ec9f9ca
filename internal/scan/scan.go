// Package scan keeps the inventory in sync with PyPI.
//
// Scanner registers the wheels of the latest version of every project.
// Applier replays the changelog feed from a serial onward. Resolver retries
// orphan wheels against the JSON API. Scanner and Applier must not run at
// the same time against one inventory: a scan can bring back entities that
// a not yet replayed removal event would delete.
package scan

import (
	"context"
	"iter"

	"github.com/rs/zerolog"

	"github.com/git-pkgs/wheelodex/internal/changelog"
	"github.com/git-pkgs/wheelodex/internal/inventory"
	"github.com/git-pkgs/wheelodex/internal/pypi"
)

// Index is the remote package index. *pypi.Client implements it.
type Index interface {
	LastSerial(ctx context.Context) (int64, error)
	EventsSince(ctx context.Context, serial int64) iter.Seq2[changelog.Event, error]
	ProjectNames(ctx context.Context) ([]string, error)
	ProjectDetail(ctx context.Context, name string) (*pypi.ProjectSnapshot, error)
	AssetDetail(ctx context.Context, project, version, filename string) (*pypi.Asset, error)
}

var _ Index = (*pypi.Client)(nil)

type settings struct {
	log             zerolog.Logger
	concurrency     int
	continueOnError bool
}

func newSettings(opts []Option) settings {
	s := settings{
		log:             zerolog.Nop(),
		concurrency:     1,
		continueOnError: true,
	}
	for _, opt := range opts {
		opt(&s)
	}
	if s.concurrency < 1 {
		s.concurrency = 1
	}
	return s
}

// Option configures a Scanner, Applier or Resolver.
type Option func(*settings)

// WithLogger sets the logger.
func WithLogger(l zerolog.Logger) Option {
	return func(s *settings) {
		s.log = l
	}
}

// WithConcurrency sets how many project snapshots a Scanner fetches at once.
func WithConcurrency(n int) Option {
	return func(s *settings) {
		s.concurrency = n
	}
}

// WithContinueOnError controls whether a Scanner logs and skips a project
// it fails to register (the default) or aborts the scan.
func WithContinueOnError(v bool) Option {
	return func(s *settings) {
		s.continueOnError = v
	}
}

func wheelAttrs(a *pypi.Asset) inventory.WheelAttrs {
	return inventory.WheelAttrs{
		Filename: a.Filename,
		URL:      a.URL,
		Size:     a.Size,
		MD5:      a.MD5,
		SHA256:   a.SHA256,
		Uploaded: a.Uploaded,
	}
}
