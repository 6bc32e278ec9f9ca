package inventory

import (
	"context"
	"fmt"

	"gorm.io/gorm"
)

type versionUsage struct {
	ID          uint
	DisplayName string
	Wheels      int64
	Data        int64
	Orphans     int64
}

const versionUsageSQL = `SELECT versions.id, versions.display_name,
	(SELECT COUNT(*) FROM wheels WHERE wheels.version_id = versions.id) AS wheels,
	(SELECT COUNT(*) FROM wheels JOIN wheel_data ON wheel_data.wheel_id = wheels.id
		WHERE wheels.version_id = versions.id) AS data,
	(SELECT COUNT(*) FROM orphan_wheels WHERE orphan_wheels.version_id = versions.id) AS orphans
FROM versions
WHERE versions.project_id = ?
ORDER BY versions.ordering DESC`

// PurgeOldVersions deletes, for every project with more than one version,
// each version that is not one of: the latest version, the latest version
// with wheels, or the latest version with wheel data. Each project is purged
// in its own transaction. It returns the number of versions deleted.
func (inv *Inventory) PurgeOldVersions(ctx context.Context) (int, error) {
	var projectIDs []uint
	err := inv.db.WithContext(ctx).Model(&Version{}).
		Group("project_id").
		Having("COUNT(*) > 1").
		Pluck("project_id", &projectIDs).Error
	if err != nil {
		return 0, wrapErrorWithDetails(err, "purge old versions", "select projects")
	}

	purged := 0
	for _, pid := range projectIDs {
		if err := ctx.Err(); err != nil {
			return purged, err
		}
		n, err := inv.purgeProject(ctx, pid)
		if err != nil {
			return purged, err
		}
		purged += n
	}
	return purged, nil
}

func (inv *Inventory) purgeProject(ctx context.Context, projectID uint) (int, error) {
	var deleted []uint
	err := inv.unit(ctx, func(tx *gorm.DB) error {
		deleted = nil
		var usage []versionUsage
		if err := tx.Raw(versionUsageSQL, projectID).Scan(&usage).Error; err != nil {
			return wrapErrorWithDetails(err, "purge old versions", fmt.Sprintf("project_id=%d", projectID))
		}

		seenWheels, seenData := false, false
		for i, v := range usage {
			keep := i == 0
			if keep && v.Orphans > 0 {
				inv.log.Debug().Str("version", v.DisplayName).Uint("project_id", projectID).
					Msg("keeping latest version with orphan wheels")
			}
			if v.Wheels > 0 && !seenWheels {
				seenWheels = true
				keep = true
			}
			if v.Data > 0 && !seenData {
				seenData = true
				keep = true
			}
			if !keep {
				inv.log.Info().Str("version", v.DisplayName).Uint("project_id", projectID).
					Msg("deleting version")
				deleted = append(deleted, v.ID)
			}
		}
		if len(deleted) == 0 {
			return nil
		}
		if err := deleteVersions(tx, deleted); err != nil {
			return err
		}
		if err := reorderVersions(tx, projectID); err != nil {
			return err
		}
		return updateHasWheels(tx, projectID)
	})
	if err != nil {
		return 0, err
	}
	return len(deleted), nil
}
