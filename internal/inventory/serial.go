package inventory

import (
	"context"
	"errors"
	"strconv"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// GetSerial returns the stored changelog serial. ok is false when none has
// been stored yet.
func (inv *Inventory) GetSerial(ctx context.Context) (serial int64, ok bool, err error) {
	s, err := gorm.G[Serial](inv.db).Order("id").First(ctx)
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return 0, false, nil
	}
	if err != nil {
		return 0, false, wrapErrorWithDetails(err, "get serial", "")
	}
	return s.Serial, true, nil
}

// serialRowID is the primary key of the single pypi_serial row.
const serialRowID = 1

// SetSerial raises the stored serial to value. A value lower than the
// stored one is ignored.
func (inv *Inventory) SetSerial(ctx context.Context, value int64) error {
	return inv.unit(ctx, func(tx *gorm.DB) error {
		err := tx.Clauses(clause.OnConflict{DoNothing: true}).
			Create(&Serial{ID: serialRowID, Serial: value}).Error
		if err == nil {
			err = tx.Model(&Serial{}).
				Where("id = ? AND serial < ?", serialRowID, value).
				Update("serial", value).Error
		}
		return wrapErrorWithDetails(err, "set serial", strconv.FormatInt(value, 10))
	})
}
