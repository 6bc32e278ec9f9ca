package scan

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"github.com/git-pkgs/wheelodex/internal/changelog"
	"github.com/git-pkgs/wheelodex/internal/inventory"
	"github.com/git-pkgs/wheelodex/internal/pypi"
)

// ErrNoSerial is returned by CatchUp when the inventory has never been
// synchronised.
var ErrNoSerial = errors.New("no saved serial to catch up from")

// EventError reports the changelog event an apply run stopped at.
type EventError struct {
	Event changelog.Event
	Err   error
}

func (e *EventError) Error() string {
	return fmt.Sprintf("applying event %d (project %s, action %q): %v",
		e.Event.Serial, e.Event.Project, e.Event.Action, e.Err)
}

func (e *EventError) Unwrap() error {
	return e.Err
}

// ApplyStats summarises a changelog run.
type ApplyStats struct {
	Start           time.Time `json:"start"`
	End             time.Time `json:"end"`
	Since           int64     `json:"since"`
	Serial          int64     `json:"serial"`
	Events          int       `json:"events"`
	WheelsAdded     int       `json:"wheels_added"`
	OrphansAdded    int       `json:"orphans_added"`
	WheelsRemoved   int       `json:"wheels_removed"`
	ProjectsAdded   int       `json:"projects_added"`
	ProjectsRemoved int       `json:"projects_removed"`
	VersionsAdded   int       `json:"versions_added"`
	VersionsRemoved int       `json:"versions_removed"`
}

func (s *ApplyStats) add(o ApplyStats) {
	s.WheelsAdded += o.WheelsAdded
	s.OrphansAdded += o.OrphansAdded
	s.WheelsRemoved += o.WheelsRemoved
	s.ProjectsAdded += o.ProjectsAdded
	s.ProjectsRemoved += o.ProjectsRemoved
	s.VersionsAdded += o.VersionsAdded
	s.VersionsRemoved += o.VersionsRemoved
}

// Applier replays changelog events into the inventory.
type Applier struct {
	index Index
	inv   *inventory.Inventory
	settings
}

// NewApplier creates an Applier.
func NewApplier(index Index, inv *inventory.Inventory, opts ...Option) *Applier {
	return &Applier{index: index, inv: inv, settings: newSettings(opts)}
}

// CatchUp applies every event after the stored serial.
func (a *Applier) CatchUp(ctx context.Context) (ApplyStats, error) {
	serial, ok, err := a.inv.GetSerial(ctx)
	if err != nil {
		return ApplyStats{}, err
	}
	if !ok {
		return ApplyStats{}, ErrNoSerial
	}
	return a.ApplySince(ctx, serial)
}

// ApplySince applies the events after serial in feed order. Each event is
// one transaction that ends by raising the stored serial to the event's, so
// a failed run resumes at the first event it did not commit.
func (a *Applier) ApplySince(ctx context.Context, serial int64) (stats ApplyStats, err error) {
	stats.Start = time.Now().UTC()
	stats.Since = serial
	stats.Serial = serial
	defer func() { stats.End = time.Now().UTC() }()

	a.log.Info().Int64("serial", serial).Msg("applying changelog")
	for ev, err := range a.index.EventsSince(ctx, serial) {
		if err != nil {
			return stats, fmt.Errorf("reading changelog since %d: %w", serial, err)
		}
		if err := ctx.Err(); err != nil {
			return stats, err
		}
		delta, err := a.apply(ctx, ev)
		if err != nil {
			return stats, &EventError{Event: ev, Err: err}
		}
		stats.add(delta)
		stats.Events++
		stats.Serial = max(stats.Serial, ev.Serial)
	}

	a.log.Info().
		Int64("serial", stats.Serial).
		Int("events", stats.Events).
		Int("wheels_added", stats.WheelsAdded).
		Int("orphans_added", stats.OrphansAdded).
		Msg("changelog applied")
	return stats, nil
}

func (a *Applier) apply(ctx context.Context, ev changelog.Event) (ApplyStats, error) {
	log := a.log.With().Int64("serial", ev.Serial).Str("project", ev.Project).Str("action", ev.Action).Logger()

	var asset *pypi.Asset
	if ev.Kind == changelog.FileCreated && ev.IsWheel() {
		var err error
		asset, err = a.index.AssetDetail(ctx, ev.Project, ev.Version, ev.Filename)
		if err != nil {
			return ApplyStats{}, fmt.Errorf("looking up %s: %w", ev.Filename, err)
		}
	}

	var delta ApplyStats
	err := a.inv.Transaction(ctx, func(tx *inventory.Inventory) error {
		delta = ApplyStats{}
		if err := applyEvent(ctx, tx, ev, asset, &delta, log); err != nil {
			return err
		}
		return tx.SetSerial(ctx, ev.Serial)
	})
	return delta, err
}

// applyEvent performs the inventory changes for one event inside tx.
func applyEvent(ctx context.Context, tx *inventory.Inventory, ev changelog.Event, asset *pypi.Asset, delta *ApplyStats, log zerolog.Logger) error {
	switch ev.Kind {
	case changelog.FileCreated:
		if !ev.IsWheel() {
			break
		}
		p, err := tx.EnsureProject(ctx, ev.Project)
		if err != nil {
			return err
		}
		v, err := tx.EnsureVersion(ctx, p, ev.Version)
		if err != nil {
			return err
		}
		if asset != nil {
			log.Info().Str("filename", ev.Filename).Msg("wheel added")
			if _, err := tx.EnsureWheel(ctx, v, wheelAttrs(asset)); err != nil {
				return err
			}
			delta.WheelsAdded++
		} else {
			log.Info().Str("filename", ev.Filename).Msg("wheel not in JSON API yet; registering orphan")
			if err := tx.RegisterOrphan(ctx, v, ev.Filename, ev.Time()); err != nil {
				return err
			}
			delta.OrphansAdded++
		}

	case changelog.FileRemoved:
		if !ev.IsWheel() {
			break
		}
		log.Info().Str("filename", ev.Filename).Msg("wheel removed")
		if err := tx.RemoveWheel(ctx, ev.Filename); err != nil {
			return err
		}
		delta.WheelsRemoved++

	case changelog.ProjectCreated:
		log.Info().Msg("project created")
		if _, err := tx.EnsureProject(ctx, ev.Project); err != nil {
			return err
		}
		delta.ProjectsAdded++

	case changelog.ProjectRemoved:
		p, err := tx.GetProject(ctx, ev.Project)
		if err != nil || p == nil {
			return err
		}
		log.Info().Msg("project removed")
		if err := tx.RemoveProject(ctx, p); err != nil {
			return err
		}
		delta.ProjectsRemoved++

	case changelog.VersionCreated:
		log.Info().Str("version", ev.Version).Msg("version created")
		p, err := tx.EnsureProject(ctx, ev.Project)
		if err != nil {
			return err
		}
		if _, err := tx.EnsureVersion(ctx, p, ev.Version); err != nil {
			return err
		}
		delta.VersionsAdded++

	case changelog.VersionRemoved:
		p, err := tx.GetProject(ctx, ev.Project)
		if err != nil || p == nil {
			return err
		}
		log.Info().Str("version", ev.Version).Msg("version removed")
		if err := tx.RemoveVersion(ctx, p, ev.Version); err != nil {
			return err
		}
		delta.VersionsRemoved++

	default:
		log.Debug().Msg("ignoring event")
	}
	return nil
}
