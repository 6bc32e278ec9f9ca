package scan

import (
	"context"
	"fmt"
	"time"

	"github.com/git-pkgs/wheelodex/internal/inventory"
)

// OrphanStats summarises an orphan resolution run.
type OrphanStats struct {
	Start      time.Time `json:"start"`
	End        time.Time `json:"end"`
	Unorphaned int       `json:"unorphaned"`
	Expired    int64     `json:"expired"`
	Remaining  int64     `json:"remain"`
}

// Resolver promotes orphan wheels that have become visible in the JSON API
// and expires the ones that never do.
type Resolver struct {
	index Index
	inv   *inventory.Inventory
	settings
}

// NewResolver creates a Resolver.
func NewResolver(index Index, inv *inventory.Inventory, opts ...Option) *Resolver {
	return &Resolver{index: index, inv: inv, settings: newSettings(opts)}
}

// ResolveAll looks up every orphan wheel, promotes those found, and then
// deletes orphans uploaded more than maxAge ago.
func (r *Resolver) ResolveAll(ctx context.Context, maxAge time.Duration) (stats OrphanStats, err error) {
	stats.Start = time.Now().UTC()
	defer func() { stats.End = time.Now().UTC() }()

	orphans, err := r.inv.Orphans(ctx)
	if err != nil {
		return stats, err
	}

	var remaining int64
	for _, o := range orphans {
		if err := ctx.Err(); err != nil {
			return stats, err
		}
		p := o.Project()
		if p == nil {
			continue
		}
		asset, err := r.index.AssetDetail(ctx, p.Name, o.Version.DisplayName, o.Filename)
		if err != nil {
			return stats, fmt.Errorf("looking up orphan %s: %w", o.Filename, err)
		}
		if asset == nil {
			r.log.Info().Str("filename", o.Filename).Msg("orphan data not found")
			remaining++
			continue
		}

		r.log.Info().Str("filename", o.Filename).Msg("orphan data found")
		if _, err := r.inv.PromoteOrphan(ctx, o.Filename, wheelAttrs(asset)); err != nil {
			if inventory.IsNotFound(err) {
				// Removed or promoted since the list was read.
				continue
			}
			return stats, fmt.Errorf("promoting orphan %s: %w", o.Filename, err)
		}
		stats.Unorphaned++
	}

	expired, err := r.inv.ExpireOrphansOlderThan(ctx, maxAge)
	if err != nil {
		return stats, err
	}
	stats.Expired = expired
	stats.Remaining = max(remaining-expired, 0)
	r.log.Info().
		Int("unorphaned", stats.Unorphaned).
		Int64("expired", stats.Expired).
		Int64("remaining", stats.Remaining).
		Msg("orphan wheels processed")
	return stats, nil
}
