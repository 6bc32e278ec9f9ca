package inventory

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"time"

	"gorm.io/datatypes"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/git-pkgs/wheelodex/internal/inspect"
)

const (
	maxSummaryLen = 2048
	maxErrmsgLen  = 65535
)

// SetData stores the inspected metadata of w, replacing any earlier data,
// and copies the summary to the owning project.
func (inv *Inventory) SetData(ctx context.Context, w *Wheel, m *inspect.Metadata, inspectorVersion string) error {
	return inv.unit(ctx, func(tx *gorm.DB) error {
		return setData(tx, w, m, inspectorVersion, inv.now().UTC())
	})
}

func setData(tx *gorm.DB, w *Wheel, m *inspect.Metadata, inspectorVersion string, processed time.Time) error {
	if w == nil || w.ID == 0 {
		return &BadInputError{Reason: "wheel data without a stored wheel"}
	}
	if m == nil {
		return &BadInputError{Reason: "nil metadata for " + w.Filename}
	}
	details := "filename=" + w.Filename

	var version Version
	if err := tx.First(&version, w.VersionID).Error; err != nil {
		return wrapErrorWithDetails(err, "set data", details)
	}

	var oldIDs []uint
	if err := tx.Model(&WheelData{}).Where("wheel_id = ?", w.ID).Pluck("id", &oldIDs).Error; err != nil {
		return wrapErrorWithDetails(err, "set data", details)
	}
	if err := deleteWheelData(tx, oldIDs); err != nil {
		return err
	}

	data := &WheelData{
		WheelID:             w.ID,
		RawData:             datatypes.JSON(m.Raw),
		Processed:           processed,
		WheelInspectVersion: truncateTail(inspectorVersion, 32),
		Valid:               m.Valid,
	}
	if err := tx.Omit(clause.Associations).Create(data).Error; err != nil {
		return wrapErrorWithDetails(err, "set data", details)
	}

	deps := make([]DependencyRelation, 0, len(m.Dependencies))
	seenDeps := map[uint]bool{}
	for _, name := range m.Dependencies {
		p, err := ensureProject(tx, name)
		if err != nil {
			return err
		}
		if seenDeps[p.ID] {
			continue
		}
		seenDeps[p.ID] = true
		deps = append(deps, DependencyRelation{
			WheelDataID:     data.ID,
			ProjectID:       p.ID,
			SourceProjectID: version.ProjectID,
		})
	}
	if err := createAll(tx, deps); err != nil {
		return wrapErrorWithDetails(err, "set data dependencies", details)
	}

	groups := make([]string, 0, len(m.EntryPoints))
	for g := range m.EntryPoints {
		groups = append(groups, g)
	}
	slices.Sort(groups)
	var eps []EntryPoint
	for _, g := range groups {
		group, err := ensureEntryPointGroup(tx, g)
		if err != nil {
			return err
		}
		for _, name := range m.EntryPoints[g] {
			eps = append(eps, EntryPoint{WheelDataID: data.ID, GroupID: group.ID, Name: name})
		}
	}
	if err := createAll(tx, eps); err != nil {
		return wrapErrorWithDetails(err, "set data entry points", details)
	}

	var files []File
	for _, path := range unique(m.Files) {
		files = append(files, File{WheelDataID: data.ID, Path: path})
	}
	if err := createAll(tx, files); err != nil {
		return wrapErrorWithDetails(err, "set data files", details)
	}

	var modules []Module
	for _, name := range unique(m.Modules) {
		modules = append(modules, Module{WheelDataID: data.ID, Name: name})
	}
	if err := createAll(tx, modules); err != nil {
		return wrapErrorWithDetails(err, "set data modules", details)
	}

	var keywords []Keyword
	for _, name := range unique(m.Keywords) {
		keywords = append(keywords, Keyword{WheelDataID: data.ID, Name: name})
	}
	if err := createAll(tx, keywords); err != nil {
		return wrapErrorWithDetails(err, "set data keywords", details)
	}

	var summary *string
	if m.Summary != nil {
		s := truncateHead(*m.Summary, maxSummaryLen)
		summary = &s
	}
	err := tx.Model(&Project{}).Where("id = ?", version.ProjectID).Update("summary", summary).Error
	return wrapErrorWithDetails(err, "set data summary", details)
}

func createAll[T any](tx *gorm.DB, rows []T) error {
	if len(rows) == 0 {
		return nil
	}
	return tx.Omit(clause.Associations).CreateInBatches(rows, 500).Error
}

// unique drops empty and repeated entries, keeping first occurrences.
func unique(items []string) []string {
	seen := make(map[string]bool, len(items))
	out := make([]string, 0, len(items))
	for _, s := range items {
		if s == "" || seen[s] {
			continue
		}
		seen[s] = true
		out = append(out, s)
	}
	return out
}

// truncateHead keeps the first n characters of s.
func truncateHead(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n])
}

// truncateTail keeps the last n characters of s.
func truncateTail(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[len(r)-n:])
}

// AddError records a failed processing attempt for w. Only the last 65535
// characters of msg are kept. A wheel with errors leaves the queue.
func (inv *Inventory) AddError(ctx context.Context, w *Wheel, msg, inspectorVersion string) error {
	if w == nil || w.ID == 0 {
		return &BadInputError{Reason: "processing error without a stored wheel"}
	}
	pe := &ProcessingError{
		WheelID:             w.ID,
		Errmsg:              truncateTail(msg, maxErrmsgLen),
		Timestamp:           inv.now().UTC(),
		WheelodexVersion:    truncateTail(inv.version, 32),
		WheelInspectVersion: optional(truncateTail(inspectorVersion, 32)),
	}
	err := inv.db.WithContext(ctx).Create(pe).Error
	return wrapErrorWithDetails(err, "add error", "filename="+w.Filename)
}

// ToProcess returns the processing queue: wheels with neither data nor
// errors that belong to the highest-ordered version with wheels of each
// project. When maxSize is positive only wheels of at most maxSize bytes are
// returned.
func (inv *Inventory) ToProcess(ctx context.Context, maxSize int64) ([]Wheel, error) {
	db := inv.db.WithContext(ctx)
	latest := db.Model(&Version{}).
		Select("versions.project_id AS project_id, MAX(versions.ordering) AS max_order").
		Joins("JOIN wheels ON wheels.version_id = versions.id").
		Group("versions.project_id")

	q := db.Model(&Wheel{}).
		Preload("Version.Project").
		Joins("JOIN versions ON versions.id = wheels.version_id").
		Joins("JOIN (?) AS latest ON latest.project_id = versions.project_id AND latest.max_order = versions.ordering", latest).
		Where("NOT EXISTS (?)", db.Model(&WheelData{}).Select("1").Where("wheel_data.wheel_id = wheels.id")).
		Where("NOT EXISTS (?)", db.Model(&ProcessingError{}).Select("1").Where("processing_errors.wheel_id = wheels.id"))
	if maxSize > 0 {
		q = q.Where("wheels.size <= ?", maxSize)
	}

	var wheels []Wheel
	if err := q.Order("wheels.id").Find(&wheels).Error; err != nil {
		return nil, wrapErrorWithDetails(err, "to process", fmt.Sprintf("max_size=%d", maxSize))
	}
	return wheels, nil
}

// WheelData returns the data of w with its derived collections loaded, or
// nil if w has not been processed.
func (inv *Inventory) WheelData(ctx context.Context, w *Wheel) (*WheelData, error) {
	var data WheelData
	err := inv.db.WithContext(ctx).
		Preload("Dependencies.Project").
		Preload("EntryPoints.Group").
		Preload("Files").
		Preload("Modules").
		Preload("Keywords").
		Where("wheel_id = ?", w.ID).
		First(&data).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, wrapErrorWithDetails(err, "get wheel data", "filename="+w.Filename)
	}
	return &data, nil
}
