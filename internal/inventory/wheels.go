package inventory

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/git-pkgs/wheelodex/internal/wheelname"
)

// WheelAttrs are the index-reported attributes of a wheel file.
type WheelAttrs struct {
	Filename string
	URL      string
	Size     int64
	MD5      string
	SHA256   string
	Uploaded time.Time
}

func optional(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}

// EnsureWheel registers a wheel for v and returns it. If a wheel with the
// same filename already exists it is returned unchanged. Registering a new
// wheel rewrites the ordering of the version's wheels, marks the project as
// having wheels and deletes any orphan wheel of the same filename.
func (inv *Inventory) EnsureWheel(ctx context.Context, v *Version, attrs WheelAttrs) (*Wheel, error) {
	var w *Wheel
	err := inv.unit(ctx, func(tx *gorm.DB) error {
		var err error
		w, err = ensureWheel(tx, v, attrs)
		return err
	})
	if err != nil {
		return nil, err
	}
	return w, nil
}

func ensureWheel(tx *gorm.DB, v *Version, attrs WheelAttrs) (*Wheel, error) {
	if v == nil || v.ID == 0 {
		return nil, &BadInputError{Reason: "wheel without a stored version"}
	}
	if attrs.Filename == "" {
		return nil, &BadInputError{Reason: "empty wheel filename"}
	}

	w, err := findWheel(tx, attrs.Filename)
	if err != nil || w != nil {
		return w, err
	}

	w = &Wheel{
		Filename:  attrs.Filename,
		URL:       attrs.URL,
		VersionID: v.ID,
		Size:      attrs.Size,
		MD5:       optional(attrs.MD5),
		SHA256:    optional(attrs.SHA256),
		Uploaded:  attrs.Uploaded.UTC(),
	}
	res := tx.Omit(clause.Associations).Clauses(clause.OnConflict{DoNothing: true}).Create(w)
	if res.Error != nil {
		return nil, wrapErrorWithDetails(res.Error, "ensure wheel", "filename="+attrs.Filename)
	}
	if res.RowsAffected == 0 {
		w, err = findWheel(tx, attrs.Filename)
		if err != nil {
			return nil, err
		}
		if w == nil {
			return nil, &ConflictError{Conflict: "ensure wheel (filename=" + attrs.Filename + ")"}
		}
		return w, nil
	}

	if err := tx.Where("filename = ?", attrs.Filename).Delete(&OrphanWheel{}).Error; err != nil {
		return nil, wrapErrorWithDetails(err, "ensure wheel", "delete orphan "+attrs.Filename)
	}
	if err := reorderWheels(tx, v.ID); err != nil {
		return nil, err
	}
	err = tx.Model(&Project{}).Where("id = ?", v.ProjectID).Update("has_wheels", true).Error
	if err != nil {
		return nil, wrapErrorWithDetails(err, "ensure wheel", fmt.Sprintf("set has_wheels project_id=%d", v.ProjectID))
	}
	return findWheel(tx, attrs.Filename)
}

func findWheel(tx *gorm.DB, filename string) (*Wheel, error) {
	w, err := gorm.G[Wheel](tx).Where("filename = ?", filename).First(tx.Statement.Context)
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, wrapErrorWithDetails(err, "get wheel", "filename="+filename)
	}
	return &w, nil
}

// GetWheel looks up a wheel by filename with its version, project and data
// loaded. It returns nil and no error when there is no such wheel.
func (inv *Inventory) GetWheel(ctx context.Context, filename string) (*Wheel, error) {
	var w Wheel
	err := inv.db.WithContext(ctx).
		Preload("Version.Project").
		Preload("Data").
		Preload("Errors").
		Where("filename = ?", filename).
		First(&w).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, wrapErrorWithDetails(err, "get wheel", "filename="+filename)
	}
	return &w, nil
}

// Wheels returns the wheels of v in ascending ordering.
func (inv *Inventory) Wheels(ctx context.Context, v *Version) ([]Wheel, error) {
	wheels, err := gorm.G[Wheel](inv.db).Where("version_id = ?", v.ID).Order("ordering").Find(ctx)
	if err != nil {
		return nil, wrapErrorWithDetails(err, "list wheels", fmt.Sprintf("version_id=%d", v.ID))
	}
	return wheels, nil
}

// RemoveWheel deletes the wheel and any orphan wheel with the given filename
// and recomputes the owning project's HasWheels flag.
func (inv *Inventory) RemoveWheel(ctx context.Context, filename string) error {
	return inv.unit(ctx, func(tx *gorm.DB) error {
		touched := map[uint]bool{}

		var wheels []Wheel
		if err := tx.Preload("Version").Where("filename = ?", filename).Find(&wheels).Error; err != nil {
			return wrapErrorWithDetails(err, "remove wheel", "filename="+filename)
		}
		var orphans []OrphanWheel
		if err := tx.Preload("Version").Where("filename = ?", filename).Find(&orphans).Error; err != nil {
			return wrapErrorWithDetails(err, "remove wheel", "filename="+filename)
		}

		ids := make([]uint, 0, len(wheels))
		versionIDs := make([]uint, 0, len(wheels))
		for _, w := range wheels {
			ids = append(ids, w.ID)
			versionIDs = append(versionIDs, w.VersionID)
			if w.Version != nil {
				touched[w.Version.ProjectID] = true
			}
		}
		for _, o := range orphans {
			if o.Version != nil {
				touched[o.Version.ProjectID] = true
			}
		}

		if err := deleteWheels(tx, ids); err != nil {
			return err
		}
		if err := tx.Where("filename = ?", filename).Delete(&OrphanWheel{}).Error; err != nil {
			return wrapErrorWithDetails(err, "remove wheel", "orphan "+filename)
		}
		for _, vid := range versionIDs {
			if err := reorderWheels(tx, vid); err != nil {
				return err
			}
		}
		for pid := range touched {
			if err := updateHasWheels(tx, pid); err != nil {
				return err
			}
		}
		return nil
	})
}

// reorderWheels rewrites wheels.ordering for a version to the dense rank
// 0..n-1 of its wheels.
func reorderWheels(tx *gorm.DB, versionID uint) error {
	var wheels []Wheel
	if err := tx.Where("version_id = ?", versionID).Find(&wheels).Error; err != nil {
		return wrapErrorWithDetails(err, "reorder wheels", fmt.Sprintf("version_id=%d", versionID))
	}
	slices.SortStableFunc(wheels, func(a, b Wheel) int {
		return wheelname.Compare(a.Filename, b.Filename)
	})
	for i, w := range wheels {
		if w.Ordering == i {
			continue
		}
		err := tx.Model(&Wheel{}).Where("id = ?", w.ID).Update("ordering", i).Error
		if err != nil {
			return wrapErrorWithDetails(err, "reorder wheels", fmt.Sprintf("wheel_id=%d", w.ID))
		}
	}
	return nil
}

// deleteWheels removes wheels with their data and processing errors.
func deleteWheels(tx *gorm.DB, ids []uint) error {
	if len(ids) == 0 {
		return nil
	}
	var dataIDs []uint
	if err := tx.Model(&WheelData{}).Where("wheel_id IN ?", ids).Pluck("id", &dataIDs).Error; err != nil {
		return wrapErrorWithDetails(err, "delete wheels", "collect wheel data")
	}
	if err := deleteWheelData(tx, dataIDs); err != nil {
		return err
	}
	if err := tx.Where("wheel_id IN ?", ids).Delete(&ProcessingError{}).Error; err != nil {
		return wrapErrorWithDetails(err, "delete wheels", "processing errors")
	}
	if err := tx.Where("id IN ?", ids).Delete(&Wheel{}).Error; err != nil {
		return wrapErrorWithDetails(err, "delete wheels", "wheels")
	}
	return nil
}

// deleteWheelData removes wheel data rows and their derived collections.
func deleteWheelData(tx *gorm.DB, ids []uint) error {
	if len(ids) == 0 {
		return nil
	}
	for _, model := range []any{&DependencyRelation{}, &EntryPoint{}, &File{}, &Module{}, &Keyword{}} {
		if err := tx.Where("wheel_data_id IN ?", ids).Delete(model).Error; err != nil {
			return wrapErrorWithDetails(err, "delete wheel data", fmt.Sprintf("%T", model))
		}
	}
	if err := tx.Where("id IN ?", ids).Delete(&WheelData{}).Error; err != nil {
		return wrapErrorWithDetails(err, "delete wheel data", "wheel_data")
	}
	return nil
}
