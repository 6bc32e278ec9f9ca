package scan

import (
	"context"
	"fmt"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/git-pkgs/wheelodex/internal/inventory"
	"github.com/git-pkgs/wheelodex/internal/pep440"
)

// ScanStats summarises a full scan.
type ScanStats struct {
	Start       time.Time `json:"start"`
	End         time.Time `json:"end"`
	Serial      int64     `json:"serial"`
	Projects    int       `json:"projects"`
	Versions    int       `json:"versions"`
	WheelsAdded int       `json:"wheels_added"`
	NoReleases  int       `json:"no_releases"`
	Failed      int       `json:"failed"`
}

// Scanner registers the wheels of the latest version of every project.
type Scanner struct {
	index Index
	inv   *inventory.Inventory
	settings
}

// NewScanner creates a Scanner.
func NewScanner(index Index, inv *inventory.Inventory, opts ...Option) *Scanner {
	return &Scanner{index: index, inv: inv, settings: newSettings(opts)}
}

type projectResult struct {
	versions int
	wheels   int
	empty    bool
}

// Scan stores the index's current serial and then registers every project.
// Every project is committed on its own, so an aborted scan keeps the
// projects finished so far.
func (s *Scanner) Scan(ctx context.Context) (stats ScanStats, err error) {
	stats.Start = time.Now().UTC()
	defer func() { stats.End = time.Now().UTC() }()

	serial, err := s.index.LastSerial(ctx)
	if err != nil {
		return stats, fmt.Errorf("fetching last serial: %w", err)
	}
	s.log.Info().Int64("serial", serial).Msg("starting full scan")
	if err := s.inv.SetSerial(ctx, serial); err != nil {
		return stats, fmt.Errorf("storing serial %d: %w", serial, err)
	}
	stats.Serial = serial

	names, err := s.index.ProjectNames(ctx)
	if err != nil {
		return stats, fmt.Errorf("listing projects: %w", err)
	}

	var mu sync.Mutex
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(s.concurrency)
	for _, name := range names {
		if gctx.Err() != nil {
			break
		}
		g.Go(func() error {
			res, err := s.scanProject(gctx, name)

			mu.Lock()
			defer mu.Unlock()
			if err != nil {
				if gctx.Err() != nil {
					return gctx.Err()
				}
				stats.Failed++
				if !s.continueOnError {
					return fmt.Errorf("scanning project %s: %w", name, err)
				}
				s.log.Error().Err(err).Str("project", name).Msg("failed to scan project")
				return nil
			}
			stats.Projects++
			stats.Versions += res.versions
			stats.WheelsAdded += res.wheels
			if res.empty {
				stats.NoReleases++
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return stats, err
	}
	if err := ctx.Err(); err != nil {
		return stats, err
	}

	s.log.Info().
		Int("projects", stats.Projects).
		Int("wheels", stats.WheelsAdded).
		Int("failed", stats.Failed).
		Msg("full scan finished")
	return stats, nil
}

func (s *Scanner) scanProject(ctx context.Context, name string) (projectResult, error) {
	var res projectResult

	// Every listed name is recorded even when its detail lookup fails.
	p, err := s.inv.EnsureProject(ctx, name)
	if err != nil {
		return res, err
	}
	snap, err := s.index.ProjectDetail(ctx, name)
	if err != nil {
		return res, err
	}

	err = s.inv.Transaction(ctx, func(tx *inventory.Inventory) error {
		res = projectResult{}
		if snap == nil || len(snap.Releases) == 0 {
			s.log.Debug().Str("project", name).Msg("project has no releases")
			res.empty = true
			return nil
		}

		versions := snap.VersionStrings()
		for _, v := range versions {
			if _, err := pep440.Parse(v); err != nil {
				s.log.Debug().Str("project", name).Str("version", v).Msg("skipping unparseable version")
			}
		}
		latest, ok := pep440.Latest(versions)
		if !ok {
			s.log.Info().Str("project", name).Msg("no valid versions")
			res.empty = true
			return nil
		}

		v, err := tx.EnsureVersion(ctx, p, latest)
		if err != nil {
			return err
		}
		res.versions = 1
		for _, a := range snap.Wheels(latest) {
			if _, err := tx.EnsureWheel(ctx, v, wheelAttrs(&a)); err != nil {
				return err
			}
			res.wheels++
		}
		s.log.Info().Str("project", name).Str("version", latest).Int("wheels", res.wheels).Msg("project scanned")
		return nil
	})
	return res, err
}
