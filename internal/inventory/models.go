package inventory

import (
	"time"

	"gorm.io/datatypes"
)

// Serial stores the changelog serial the inventory is synchronised through.
// The table holds at most one row.
type Serial struct {
	ID     uint  `gorm:"primaryKey"`
	Serial int64 `gorm:"not null"`
}

func (Serial) TableName() string { return "pypi_serial" }

// Project is a PyPI project. Name is the normalized name; DisplayName keeps
// the spelling it was first seen with. Projects are never deleted because
// other projects may depend on them.
type Project struct {
	ID          uint    `gorm:"primaryKey"`
	Name        string  `gorm:"size:2048;not null;uniqueIndex"`
	DisplayName string  `gorm:"size:2048;not null"`
	Summary     *string `gorm:"size:2048"`
	HasWheels   bool    `gorm:"not null"`

	Versions []Version `gorm:"constraint:OnDelete:CASCADE"`
}

func (Project) TableName() string { return "projects" }

// Version is a release of a Project. Name is the canonical version string.
// Ordering is the version's rank among the project's versions; the highest
// value is the latest.
type Version struct {
	ID          uint `gorm:"primaryKey"`
	ProjectID   uint `gorm:"not null;uniqueIndex:idx_versions_project_name"`
	Project     *Project
	Name        string `gorm:"size:2048;not null;uniqueIndex:idx_versions_project_name"`
	DisplayName string `gorm:"size:2048;not null"`
	Ordering    int    `gorm:"not null"`

	Wheels []Wheel `gorm:"constraint:OnDelete:CASCADE"`
}

func (Version) TableName() string { return "versions" }

// Wheel is a wheel file of a Version. Ordering is the wheel's rank among the
// version's wheels.
type Wheel struct {
	ID        uint   `gorm:"primaryKey"`
	Filename  string `gorm:"size:2048;not null;uniqueIndex"`
	URL       string `gorm:"size:2048;not null"`
	VersionID uint   `gorm:"not null;index"`
	Version   *Version
	Size      int64     `gorm:"not null"`
	MD5       *string   `gorm:"size:32"`
	SHA256    *string   `gorm:"size:64"`
	Uploaded  time.Time `gorm:"not null"`
	Ordering  int       `gorm:"not null"`

	Data   *WheelData        `gorm:"constraint:OnDelete:CASCADE"`
	Errors []ProcessingError `gorm:"constraint:OnDelete:CASCADE"`
}

func (Wheel) TableName() string { return "wheels" }

// Project returns the owning project when Version.Project has been loaded.
func (w *Wheel) Project() *Project {
	if w.Version == nil {
		return nil
	}
	return w.Version.Project
}

// ProcessingError records a failed attempt to inspect a wheel.
type ProcessingError struct {
	ID                  uint      `gorm:"primaryKey"`
	WheelID             uint      `gorm:"not null;index"`
	Errmsg              string    `gorm:"size:65535;not null"`
	Timestamp           time.Time `gorm:"not null"`
	WheelodexVersion    string    `gorm:"size:32;not null"`
	WheelInspectVersion *string   `gorm:"size:32"`
}

func (ProcessingError) TableName() string { return "processing_errors" }

// WheelData is the inspected metadata of a wheel.
type WheelData struct {
	ID                  uint           `gorm:"primaryKey"`
	WheelID             uint           `gorm:"not null;uniqueIndex"`
	RawData             datatypes.JSON `gorm:"not null"`
	Processed           time.Time      `gorm:"not null;index:wheel_data_processed_idx,sort:desc"`
	WheelInspectVersion string         `gorm:"size:32;not null"`
	Valid               bool           `gorm:"not null"`

	Dependencies []DependencyRelation `gorm:"constraint:OnDelete:CASCADE"`
	EntryPoints  []EntryPoint         `gorm:"constraint:OnDelete:CASCADE"`
	Files        []File               `gorm:"constraint:OnDelete:CASCADE"`
	Modules      []Module             `gorm:"constraint:OnDelete:CASCADE"`
	Keywords     []Keyword            `gorm:"constraint:OnDelete:CASCADE"`
}

func (WheelData) TableName() string { return "wheel_data" }

// DependencyRelation links a wheel's data to a project it requires.
// SourceProjectID duplicates the id of the project owning the wheel so
// reverse-dependency queries avoid three joins; it is set from
// Wheel.Version.ProjectID when the row is written.
type DependencyRelation struct {
	WheelDataID     uint     `gorm:"primaryKey"`
	ProjectID       uint     `gorm:"primaryKey"`
	Project         *Project `gorm:"constraint:OnDelete:RESTRICT"`
	SourceProjectID uint     `gorm:"not null;index"`
}

func (DependencyRelation) TableName() string { return "dependency_tbl" }

// EntryPointGroup is a named entry point group with optional Markdown docs.
type EntryPointGroup struct {
	ID          uint    `gorm:"primaryKey"`
	Name        string  `gorm:"size:2048;not null;uniqueIndex"`
	Summary     *string `gorm:"size:2048"`
	Description *string `gorm:"size:65535"`
}

func (EntryPointGroup) TableName() string { return "entry_point_groups" }

// EntryPoint is an entry point registered by a wheel.
type EntryPoint struct {
	ID          uint             `gorm:"primaryKey"`
	WheelDataID uint             `gorm:"not null;index"`
	GroupID     uint             `gorm:"not null;index"`
	Group       *EntryPointGroup `gorm:"constraint:OnDelete:RESTRICT"`
	Name        string           `gorm:"size:2048;not null"`
}

func (EntryPoint) TableName() string { return "entry_points" }

// File is a path listed in a wheel's RECORD.
type File struct {
	ID          uint   `gorm:"primaryKey"`
	WheelDataID uint   `gorm:"not null;uniqueIndex:idx_files_wheel_data_path"`
	Path        string `gorm:"size:2048;not null;uniqueIndex:idx_files_wheel_data_path"`
}

func (File) TableName() string { return "files" }

// Module is a top-level Python module shipped in a wheel.
type Module struct {
	ID          uint   `gorm:"primaryKey"`
	WheelDataID uint   `gorm:"not null;uniqueIndex:idx_modules_wheel_data_name"`
	Name        string `gorm:"size:2048;not null;uniqueIndex:idx_modules_wheel_data_name"`
}

func (Module) TableName() string { return "modules" }

// Keyword is a keyword declared in a wheel's metadata.
type Keyword struct {
	ID          uint   `gorm:"primaryKey"`
	WheelDataID uint   `gorm:"not null;uniqueIndex:idx_keywords_wheel_data_name"`
	Name        string `gorm:"size:2048;not null;uniqueIndex:idx_keywords_wheel_data_name"`
}

func (Keyword) TableName() string { return "keywords" }

// OrphanWheel is a wheel the changelog reported but the JSON API did not
// show yet.
type OrphanWheel struct {
	ID        uint      `gorm:"primaryKey"`
	VersionID uint      `gorm:"not null;index"`
	Version   *Version  `gorm:"constraint:OnDelete:CASCADE"`
	Filename  string    `gorm:"size:2048;not null;uniqueIndex"`
	Uploaded  time.Time `gorm:"not null"`
}

func (OrphanWheel) TableName() string { return "orphan_wheels" }

// Project returns the owning project when Version.Project has been loaded.
func (o *OrphanWheel) Project() *Project {
	if o.Version == nil {
		return nil
	}
	return o.Version.Project
}

func allModels() []any {
	return []any{
		&Serial{},
		&Project{},
		&Version{},
		&Wheel{},
		&ProcessingError{},
		&WheelData{},
		&EntryPointGroup{},
		&DependencyRelation{},
		&EntryPoint{},
		&File{},
		&Module{},
		&Keyword{},
		&OrphanWheel{},
	}
}
