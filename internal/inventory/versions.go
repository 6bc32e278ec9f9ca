package inventory

import (
	"context"
	"errors"
	"fmt"
	"slices"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/git-pkgs/wheelodex/internal/pep440"
)

// EnsureVersion returns the version of p with the given version string
// (modulo canonicalization), creating it if needed. Creating a version
// rewrites the ordering of all of the project's versions.
func (inv *Inventory) EnsureVersion(ctx context.Context, p *Project, version string) (*Version, error) {
	var v *Version
	err := inv.unit(ctx, func(tx *gorm.DB) error {
		var err error
		v, err = ensureVersion(tx, p, version)
		return err
	})
	if err != nil {
		return nil, err
	}
	return v, nil
}

func ensureVersion(tx *gorm.DB, p *Project, version string) (*Version, error) {
	if p == nil || p.ID == 0 {
		return nil, &BadInputError{Reason: "version without a stored project"}
	}
	if version == "" {
		return nil, &BadInputError{Reason: "empty version for project " + p.Name}
	}
	canon := pep440.Canonicalize(version)

	v, err := findVersion(tx, p.ID, canon)
	if err != nil || v != nil {
		return v, err
	}

	v = &Version{ProjectID: p.ID, Name: canon, DisplayName: version}
	res := tx.Omit(clause.Associations).Clauses(clause.OnConflict{DoNothing: true}).Create(v)
	if res.Error != nil {
		return nil, wrapErrorWithDetails(res.Error, "ensure version", fmt.Sprintf("project=%s, version=%s", p.Name, version))
	}
	if res.RowsAffected == 0 {
		v, err = findVersion(tx, p.ID, canon)
		if err != nil {
			return nil, err
		}
		if v == nil {
			return nil, &ConflictError{Conflict: fmt.Sprintf("ensure version (project=%s, version=%s)", p.Name, version)}
		}
		return v, nil
	}

	if err := reorderVersions(tx, p.ID); err != nil {
		return nil, err
	}
	// Re-read to pick up the assigned ordering.
	return findVersion(tx, p.ID, canon)
}

func findVersion(tx *gorm.DB, projectID uint, canon string) (*Version, error) {
	v, err := gorm.G[Version](tx).Where("project_id = ? AND name = ?", projectID, canon).First(tx.Statement.Context)
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, wrapErrorWithDetails(err, "get version", fmt.Sprintf("project_id=%d, version=%s", projectID, canon))
	}
	return &v, nil
}

// GetVersion looks up a version of p. It returns nil and no error when there
// is no such version.
func (inv *Inventory) GetVersion(ctx context.Context, p *Project, version string) (*Version, error) {
	return findVersion(inv.db.WithContext(ctx), p.ID, pep440.Canonicalize(version))
}

// Versions returns the versions of p in ascending ordering.
func (inv *Inventory) Versions(ctx context.Context, p *Project) ([]Version, error) {
	versions, err := gorm.G[Version](inv.db).Where("project_id = ?", p.ID).Order("ordering").Find(ctx)
	if err != nil {
		return nil, wrapErrorWithDetails(err, "list versions", "project="+p.Name)
	}
	return versions, nil
}

// RemoveVersion deletes a version of p together with its wheels and orphan
// wheels. Removing a version that does not exist is a no-op.
func (inv *Inventory) RemoveVersion(ctx context.Context, p *Project, version string) error {
	return inv.unit(ctx, func(tx *gorm.DB) error {
		v, err := findVersion(tx, p.ID, pep440.Canonicalize(version))
		if err != nil || v == nil {
			return err
		}
		if err := deleteVersions(tx, []uint{v.ID}); err != nil {
			return err
		}
		if err := reorderVersions(tx, p.ID); err != nil {
			return err
		}
		return updateHasWheels(tx, p.ID)
	})
}

// reorderVersions rewrites versions.ordering for a project to the dense rank
// 0..n-1 of its versions.
func reorderVersions(tx *gorm.DB, projectID uint) error {
	var versions []Version
	if err := tx.Where("project_id = ?", projectID).Find(&versions).Error; err != nil {
		return wrapErrorWithDetails(err, "reorder versions", fmt.Sprintf("project_id=%d", projectID))
	}
	slices.SortStableFunc(versions, func(a, b Version) int {
		return pep440.Compare(a.Name, b.Name)
	})
	for i, v := range versions {
		if v.Ordering == i {
			continue
		}
		err := tx.Model(&Version{}).Where("id = ?", v.ID).Update("ordering", i).Error
		if err != nil {
			return wrapErrorWithDetails(err, "reorder versions", fmt.Sprintf("version_id=%d", v.ID))
		}
	}
	return nil
}

// deleteVersions removes versions and everything hanging off them.
func deleteVersions(tx *gorm.DB, ids []uint) error {
	if len(ids) == 0 {
		return nil
	}
	var wheelIDs []uint
	if err := tx.Model(&Wheel{}).Where("version_id IN ?", ids).Pluck("id", &wheelIDs).Error; err != nil {
		return wrapErrorWithDetails(err, "delete versions", "collect wheels")
	}
	if err := deleteWheels(tx, wheelIDs); err != nil {
		return err
	}
	if err := tx.Where("version_id IN ?", ids).Delete(&OrphanWheel{}).Error; err != nil {
		return wrapErrorWithDetails(err, "delete versions", "orphan wheels")
	}
	if err := tx.Where("id IN ?", ids).Delete(&Version{}).Error; err != nil {
		return wrapErrorWithDetails(err, "delete versions", "versions")
	}
	return nil
}
