package inventory

import (
	"context"
	"errors"
	"fmt"
	"io"
	"slices"

	"gopkg.in/yaml.v3"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

const maxDescriptionLen = 65535

// GroupDescription documents an entry point group. Both fields are Markdown.
type GroupDescription struct {
	Summary     *string `yaml:"summary"`
	Description *string `yaml:"description"`
}

// ParseEntryPointGroups reads a YAML mapping of group name to description:
//
//	console_scripts:
//	  summary: Commands installed on PATH
//	  description: |
//	    Longer text...
func ParseEntryPointGroups(r io.Reader) (map[string]GroupDescription, error) {
	groups := map[string]GroupDescription{}
	if err := yaml.NewDecoder(r).Decode(&groups); err != nil && !errors.Is(err, io.EOF) {
		return nil, &BadInputError{Reason: fmt.Sprintf("entry point groups: %v", err)}
	}
	return groups, nil
}

func ensureEntryPointGroup(tx *gorm.DB, name string) (*EntryPointGroup, error) {
	var g EntryPointGroup
	err := tx.Where("name = ?", name).First(&g).Error
	if err == nil {
		return &g, nil
	}
	if !errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, wrapErrorWithDetails(err, "ensure entry point group", "name="+name)
	}
	g = EntryPointGroup{Name: name}
	res := tx.Clauses(clause.OnConflict{DoNothing: true}).Create(&g)
	if res.Error != nil {
		return nil, wrapErrorWithDetails(res.Error, "ensure entry point group", "name="+name)
	}
	if res.RowsAffected == 0 {
		if err := tx.Where("name = ?", name).First(&g).Error; err != nil {
			return nil, wrapErrorWithDetails(err, "ensure entry point group", "name="+name)
		}
	}
	return &g, nil
}

// LoadEntryPointGroups creates the named groups if needed and sets the
// summary and description given for each. Fields left nil are not touched.
func (inv *Inventory) LoadEntryPointGroups(ctx context.Context, groups map[string]GroupDescription) error {
	names := make([]string, 0, len(groups))
	for name := range groups {
		names = append(names, name)
	}
	slices.Sort(names)

	return inv.unit(ctx, func(tx *gorm.DB) error {
		for _, name := range names {
			g, err := ensureEntryPointGroup(tx, name)
			if err != nil {
				return err
			}
			desc := groups[name]
			updates := map[string]any{}
			if desc.Summary != nil {
				updates["summary"] = truncateHead(*desc.Summary, maxSummaryLen)
			}
			if desc.Description != nil {
				updates["description"] = truncateHead(*desc.Description, maxDescriptionLen)
			}
			if len(updates) == 0 {
				continue
			}
			if err := tx.Model(&EntryPointGroup{}).Where("id = ?", g.ID).Updates(updates).Error; err != nil {
				return wrapErrorWithDetails(err, "load entry point groups", "name="+name)
			}
		}
		return nil
	})
}

// EntryPointGroup looks up a group by name. It returns nil and no error when
// there is no such group.
func (inv *Inventory) EntryPointGroup(ctx context.Context, name string) (*EntryPointGroup, error) {
	g, err := gorm.G[EntryPointGroup](inv.db).Where("name = ?", name).First(ctx)
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, wrapErrorWithDetails(err, "get entry point group", "name="+name)
	}
	return &g, nil
}
