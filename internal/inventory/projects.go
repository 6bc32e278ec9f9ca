package inventory

import (
	"context"
	"errors"
	"fmt"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/git-pkgs/wheelodex/internal/pep440"
)

// EnsureProject returns the project with the given name (modulo
// normalization), creating it if needed. The display name of an existing
// project is left alone.
func (inv *Inventory) EnsureProject(ctx context.Context, name string) (*Project, error) {
	var p *Project
	err := inv.unit(ctx, func(tx *gorm.DB) error {
		var err error
		p, err = ensureProject(tx, name)
		return err
	})
	if err != nil {
		return nil, err
	}
	return p, nil
}

func ensureProject(tx *gorm.DB, name string) (*Project, error) {
	if name == "" {
		return nil, &BadInputError{Reason: "empty project name"}
	}
	norm := pep440.NormalizeName(name)

	p, err := findProject(tx, norm)
	if err != nil || p != nil {
		return p, err
	}

	p = &Project{Name: norm, DisplayName: name}
	res := tx.Clauses(clause.OnConflict{DoNothing: true}).Create(p)
	if res.Error != nil {
		return nil, wrapErrorWithDetails(res.Error, "ensure project", "name="+name)
	}
	if res.RowsAffected == 0 {
		// Lost a race with another writer; use its row.
		p, err = findProject(tx, norm)
		if err != nil {
			return nil, err
		}
		if p == nil {
			return nil, &ConflictError{Conflict: "ensure project (name=" + name + ")"}
		}
	}
	return p, nil
}

func findProject(tx *gorm.DB, norm string) (*Project, error) {
	p, err := gorm.G[Project](tx).Where("name = ?", norm).First(tx.Statement.Context)
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, wrapErrorWithDetails(err, "get project", "name="+norm)
	}
	return &p, nil
}

// GetProject looks a project up by name (modulo normalization). It returns
// nil and no error when there is no such project.
func (inv *Inventory) GetProject(ctx context.Context, name string) (*Project, error) {
	return findProject(inv.db.WithContext(ctx), pep440.NormalizeName(name))
}

// Projects returns every project ordered by name.
func (inv *Inventory) Projects(ctx context.Context) ([]Project, error) {
	projects, err := gorm.G[Project](inv.db).Order("name").Find(ctx)
	if err != nil {
		return nil, wrapErrorWithDetails(err, "list projects", "")
	}
	return projects, nil
}

// RemoveProject deletes every version of p, with their wheels and orphans.
// The project row is kept, with HasWheels false, because other projects may
// still depend on it.
func (inv *Inventory) RemoveProject(ctx context.Context, p *Project) error {
	return inv.unit(ctx, func(tx *gorm.DB) error {
		var ids []uint
		if err := tx.Model(&Version{}).Where("project_id = ?", p.ID).Pluck("id", &ids).Error; err != nil {
			return wrapErrorWithDetails(err, "remove project", "name="+p.Name)
		}
		if err := deleteVersions(tx, ids); err != nil {
			return err
		}
		err := tx.Model(&Project{}).Where("id = ?", p.ID).Update("has_wheels", false).Error
		if err != nil {
			return wrapErrorWithDetails(err, "remove project", "name="+p.Name)
		}
		p.HasWheels = false
		return nil
	})
}

// updateHasWheels recomputes projects.has_wheels for the given project.
func updateHasWheels(tx *gorm.DB, projectID uint) error {
	var count int64
	err := tx.Model(&Wheel{}).
		Joins("JOIN versions ON versions.id = wheels.version_id").
		Where("versions.project_id = ?", projectID).
		Count(&count).Error
	if err != nil {
		return wrapErrorWithDetails(err, "update has_wheels", fmt.Sprintf("project_id=%d", projectID))
	}
	err = tx.Model(&Project{}).Where("id = ?", projectID).Update("has_wheels", count > 0).Error
	return wrapErrorWithDetails(err, "update has_wheels", fmt.Sprintf("project_id=%d", projectID))
}

// LatestVersion returns the version of p with the highest ordering, or nil.
func (inv *Inventory) LatestVersion(ctx context.Context, p *Project) (*Version, error) {
	v, err := gorm.G[Version](inv.db).Where("project_id = ?", p.ID).Order("ordering DESC").First(ctx)
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, wrapErrorWithDetails(err, "latest version", "project="+p.Name)
	}
	return &v, nil
}

// PreferredWheel returns the highest-ordered wheel with data of the
// highest-ordered version that has any, or nil.
func (inv *Inventory) PreferredWheel(ctx context.Context, p *Project) (*Wheel, error) {
	var w Wheel
	err := inv.db.WithContext(ctx).
		Joins("JOIN versions ON versions.id = wheels.version_id").
		Joins("JOIN wheel_data ON wheel_data.wheel_id = wheels.id").
		Where("versions.project_id = ?", p.ID).
		Order("versions.ordering DESC").
		Order("wheels.ordering DESC").
		First(&w).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, wrapErrorWithDetails(err, "preferred wheel", "project="+p.Name)
	}
	return &w, nil
}

// BestWheel returns the preferred wheel if there is one, otherwise the
// highest-ordered wheel of the highest-ordered version, or nil.
func (inv *Inventory) BestWheel(ctx context.Context, p *Project) (*Wheel, error) {
	var w Wheel
	err := inv.db.WithContext(ctx).
		Joins("JOIN versions ON versions.id = wheels.version_id").
		Joins("LEFT JOIN wheel_data ON wheel_data.wheel_id = wheels.id").
		Where("versions.project_id = ?", p.ID).
		Order("CASE WHEN wheel_data.id IS NULL THEN 0 ELSE 1 END DESC").
		Order("versions.ordering DESC").
		Order("wheels.ordering DESC").
		First(&w).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, wrapErrorWithDetails(err, "best wheel", "project="+p.Name)
	}
	return &w, nil
}

// ReverseDependencyCount returns the number of projects depending on p.
func (inv *Inventory) ReverseDependencyCount(ctx context.Context, p *Project) (int64, error) {
	var n int64
	err := inv.db.WithContext(ctx).Model(&DependencyRelation{}).
		Where("project_id = ?", p.ID).
		Distinct("source_project_id").
		Count(&n).Error
	if err != nil {
		return 0, wrapErrorWithDetails(err, "reverse dependency count", "project="+p.Name)
	}
	return n, nil
}

// ReverseDependencies returns the projects depending on p, ordered by name.
func (inv *Inventory) ReverseDependencies(ctx context.Context, p *Project) ([]Project, error) {
	db := inv.db.WithContext(ctx)
	sources := db.Model(&DependencyRelation{}).Select("source_project_id").Where("project_id = ?", p.ID)
	var projects []Project
	err := db.Where("id IN (?)", sources).Order("name").Find(&projects).Error
	if err != nil {
		return nil, wrapErrorWithDetails(err, "reverse dependencies", "project="+p.Name)
	}
	return projects, nil
}
