// Package process downloads queued wheels, inspects them and stores the
// results in the inventory.
package process

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/rs/zerolog"

	"github.com/git-pkgs/wheelodex/fetch"
	"github.com/git-pkgs/wheelodex/internal/inspect"
	"github.com/git-pkgs/wheelodex/internal/inventory"
)

// ErrVerification is wrapped by errors for wheels whose inspected size or
// digests differ from what PyPI reported.
var ErrVerification = errors.New("wheel verification failed")

// Stats summarises a processing run.
type Stats struct {
	Start  time.Time `json:"start"`
	End    time.Time `json:"end"`
	Wheels int       `json:"wheels"`
	Bytes  int64     `json:"bytes"`
	Errors int       `json:"errors"`
}

// Processor works through the processing queue.
type Processor struct {
	inv       *inventory.Inventory
	dl        fetch.Downloader
	inspector inspect.Inspector
	log       zerolog.Logger
	tmpDir    string
}

// Option configures a Processor.
type Option func(*Processor)

// WithLogger sets the logger.
func WithLogger(l zerolog.Logger) Option {
	return func(p *Processor) {
		p.log = l
	}
}

// WithTempDir sets the parent directory for downloads. The default is the
// system temporary directory.
func WithTempDir(dir string) Option {
	return func(p *Processor) {
		p.tmpDir = dir
	}
}

// New creates a Processor.
func New(inv *inventory.Inventory, dl fetch.Downloader, inspector inspect.Inspector, opts ...Option) *Processor {
	p := &Processor{
		inv:       inv,
		dl:        dl,
		inspector: inspector,
		log:       zerolog.Nop(),
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// ProcessQueue processes every queued wheel of at most maxSize bytes
// (unlimited when maxSize is not positive). A wheel that fails to download,
// inspect or verify gets a processing error and leaves the queue; only
// storage failures and cancellation stop the run.
func (p *Processor) ProcessQueue(ctx context.Context, maxSize int64) (stats Stats, err error) {
	stats.Start = time.Now().UTC()
	defer func() { stats.End = time.Now().UTC() }()

	queue, err := p.inv.ToProcess(ctx, maxSize)
	if err != nil {
		return stats, err
	}
	p.log.Info().Int("wheels", len(queue)).Msg("processing queue")

	dir, err := os.MkdirTemp(p.tmpDir, "wheelodex-")
	if err != nil {
		return stats, fmt.Errorf("creating download directory: %w", err)
	}
	defer func() { _ = os.RemoveAll(dir) }()

	version := p.inspector.Version()
	for i := range queue {
		if err := ctx.Err(); err != nil {
			return stats, err
		}
		w := &queue[i]
		log := p.log.With().Str("filename", w.Filename).Logger()

		m, err := p.processWheel(ctx, w, dir, maxSize)
		if err == nil {
			err = p.inv.SetData(ctx, w, m, version)
		}
		if err != nil {
			if ctx.Err() != nil {
				return stats, ctx.Err()
			}
			log.Error().Err(err).Msg("error processing wheel")
			if aerr := p.inv.AddError(ctx, w, err.Error(), version); aerr != nil {
				return stats, fmt.Errorf("recording error for %s: %w", w.Filename, aerr)
			}
			stats.Errors++
		} else {
			log.Info().Msg("wheel processed")
		}
		stats.Wheels++
		stats.Bytes += w.Size
	}

	p.log.Info().
		Int("wheels", stats.Wheels).
		Int64("bytes", stats.Bytes).
		Int("errors", stats.Errors).
		Msg("queue processed")
	return stats, nil
}

// processWheel downloads w into dir, inspects it and checks the result
// against the size and digests PyPI reported. The download is removed
// afterwards.
func (p *Processor) processWheel(ctx context.Context, w *inventory.Wheel, dir string, maxSize int64) (*inspect.Metadata, error) {
	path := filepath.Join(dir, filepath.Base(w.Filename))
	defer func() { _ = os.Remove(path) }()

	p.log.Debug().Str("filename", w.Filename).Str("url", w.URL).Msg("downloading wheel")
	if _, err := fetch.DownloadFile(ctx, p.dl, w.URL, path, maxSize); err != nil {
		return nil, fmt.Errorf("downloading %s: %w", w.Filename, err)
	}

	m, err := p.inspector.Inspect(ctx, path)
	if err != nil {
		return nil, err
	}
	if err := verify(w, m); err != nil {
		return nil, err
	}
	return m, nil
}

func verify(w *inventory.Wheel, m *inspect.Metadata) error {
	if m.File.Size != w.Size {
		return fmt.Errorf("%w: size mismatch: PyPI reports %d, got %d", ErrVerification, w.Size, m.File.Size)
	}
	for _, d := range []struct {
		alg      string
		expected *string
		got      string
	}{
		{"md5", w.MD5, m.File.Digests.MD5},
		{"sha256", w.SHA256, m.File.Digests.SHA256},
	} {
		if d.expected != nil && *d.expected != d.got {
			return fmt.Errorf("%w: %s hash mismatch: PyPI reports %s, got %s", ErrVerification, d.alg, *d.expected, d.got)
		}
	}
	return nil
}
