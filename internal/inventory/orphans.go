package inventory

import (
	"context"
	"errors"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// RegisterOrphan records a wheel reported by the changelog but not yet
// visible in the JSON API. Registering a known orphan only refreshes its
// upload time. It does nothing if the wheel is already registered.
func (inv *Inventory) RegisterOrphan(ctx context.Context, v *Version, filename string, uploaded time.Time) error {
	if v == nil || v.ID == 0 {
		return &BadInputError{Reason: "orphan wheel without a stored version"}
	}
	if filename == "" {
		return &BadInputError{Reason: "empty orphan filename"}
	}
	return inv.unit(ctx, func(tx *gorm.DB) error {
		w, err := findWheel(tx, filename)
		if err != nil || w != nil {
			return err
		}
		orphan := &OrphanWheel{VersionID: v.ID, Filename: filename, Uploaded: uploaded.UTC()}
		err = tx.Omit(clause.Associations).Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "filename"}},
			DoUpdates: clause.AssignmentColumns([]string{"uploaded"}),
		}).Create(orphan).Error
		return wrapErrorWithDetails(err, "register orphan", "filename="+filename)
	})
}

// GetOrphan looks up an orphan wheel by filename. It returns nil and no
// error when there is none.
func (inv *Inventory) GetOrphan(ctx context.Context, filename string) (*OrphanWheel, error) {
	var o OrphanWheel
	err := inv.db.WithContext(ctx).Preload("Version.Project").Where("filename = ?", filename).First(&o).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, wrapErrorWithDetails(err, "get orphan", "filename="+filename)
	}
	return &o, nil
}

// Orphans returns every orphan wheel with its version and project loaded.
func (inv *Inventory) Orphans(ctx context.Context) ([]OrphanWheel, error) {
	var orphans []OrphanWheel
	err := inv.db.WithContext(ctx).Preload("Version.Project").Order("id").Find(&orphans).Error
	if err != nil {
		return nil, wrapErrorWithDetails(err, "list orphans", "")
	}
	return orphans, nil
}

// PromoteOrphan registers the orphan wheel with the given filename as a
// real wheel of its version and deletes the orphan, atomically.
func (inv *Inventory) PromoteOrphan(ctx context.Context, filename string, attrs WheelAttrs) (*Wheel, error) {
	var w *Wheel
	err := inv.unit(ctx, func(tx *gorm.DB) error {
		var orphan OrphanWheel
		err := tx.Preload("Version").Where("filename = ?", filename).First(&orphan).Error
		if err != nil {
			return wrapErrorWithDetails(err, "promote orphan", "filename="+filename)
		}
		if attrs.Filename == "" {
			attrs.Filename = filename
		}
		w, err = ensureWheel(tx, orphan.Version, attrs)
		if err != nil {
			return err
		}
		err = tx.Delete(&OrphanWheel{}, orphan.ID).Error
		return wrapErrorWithDetails(err, "promote orphan", "filename="+filename)
	})
	if err != nil {
		return nil, err
	}
	return w, nil
}

// ExpireOrphansOlderThan deletes orphan wheels uploaded more than maxAge ago
// and returns how many were deleted.
func (inv *Inventory) ExpireOrphansOlderThan(ctx context.Context, maxAge time.Duration) (int64, error) {
	cutoff := inv.now().UTC().Add(-maxAge)
	res := inv.db.WithContext(ctx).Where("uploaded < ?", cutoff).Delete(&OrphanWheel{})
	if res.Error != nil {
		return 0, wrapErrorWithDetails(res.Error, "expire orphans", "cutoff="+cutoff.Format(time.RFC3339))
	}
	return res.RowsAffected, nil
}
