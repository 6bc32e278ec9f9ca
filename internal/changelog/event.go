// Package changelog classifies PyPI changelog journal entries.
package changelog

import (
	"fmt"
	"strings"
	"time"
)

// Kind is the classified type of a changelog action.
type Kind int

const (
	Other Kind = iota
	FileCreated
	FileRemoved
	ProjectCreated
	ProjectRemoved
	VersionCreated
	VersionRemoved
)

var kindNames = [...]string{
	Other:          "other",
	FileCreated:    "file_created",
	FileRemoved:    "file_removed",
	ProjectCreated: "project_created",
	ProjectRemoved: "project_removed",
	VersionCreated: "version_created",
	VersionRemoved: "version_removed",
}

func (k Kind) String() string {
	if int(k) < len(kindNames) {
		return kindNames[k]
	}
	return fmt.Sprintf("Kind(%d)", int(k))
}

// Event is one entry of the changelog feed.
type Event struct {
	Project   string
	Version   string // empty when the entry has no release
	Timestamp int64
	Action    string
	Serial    int64

	Kind          Kind
	PythonVersion string // FileCreated only
	Filename      string // FileCreated and FileRemoved only
}

// New builds an event and classifies its action string.
//
// The action grammar follows the journal entries written by Warehouse:
//
//	add {python_version} file {filename}
//	remove file {filename}
//	create
//	remove project
//	new release
//	remove release
//
// Role changes, ownership invites, yanks, "docdestroy", "nuke user" and any
// string not listed above are classified as Other.
func New(project, version string, timestamp int64, action string, serial int64) Event {
	e := Event{
		Project:   project,
		Version:   version,
		Timestamp: timestamp,
		Action:    action,
		Serial:    serial,
	}
	words := strings.Fields(action)
	switch {
	case len(words) == 4 && words[0] == "add" && words[2] == "file":
		e.Kind, e.PythonVersion, e.Filename = FileCreated, words[1], words[3]
	case len(words) == 3 && words[0] == "remove" && words[1] == "file":
		e.Kind, e.Filename = FileRemoved, words[2]
	case len(words) == 1 && words[0] == "create":
		e.Kind = ProjectCreated
	case len(words) == 2 && words[0] == "remove" && words[1] == "project":
		e.Kind = ProjectRemoved
	case len(words) == 2 && words[0] == "new" && words[1] == "release":
		e.Kind = VersionCreated
	case len(words) == 2 && words[0] == "remove" && words[1] == "release":
		e.Kind = VersionRemoved
	default:
		e.Kind = Other
	}
	return e
}

// Parse builds an event from the five positional fields returned by the
// changelog_since_serial call: project, version (or nil), timestamp, action
// and serial.
func Parse(fields []any) (Event, error) {
	if len(fields) != 5 {
		return Event{}, fmt.Errorf("expected 5 fields in changelog event, got %d", len(fields))
	}
	project, ok := fields[0].(string)
	if !ok {
		return Event{}, fmt.Errorf("changelog event project: unexpected type %T", fields[0])
	}
	var version string
	switch v := fields[1].(type) {
	case nil:
	case string:
		version = v
	default:
		return Event{}, fmt.Errorf("changelog event version: unexpected type %T", fields[1])
	}
	timestamp, err := toInt64(fields[2])
	if err != nil {
		return Event{}, fmt.Errorf("changelog event timestamp: %w", err)
	}
	action, ok := fields[3].(string)
	if !ok {
		return Event{}, fmt.Errorf("changelog event action: unexpected type %T", fields[3])
	}
	serial, err := toInt64(fields[4])
	if err != nil {
		return Event{}, fmt.Errorf("changelog event serial: %w", err)
	}
	return New(project, version, timestamp, action, serial), nil
}

func toInt64(v any) (int64, error) {
	switch n := v.(type) {
	case int:
		return int64(n), nil
	case int32:
		return int64(n), nil
	case int64:
		return n, nil
	default:
		return 0, fmt.Errorf("unexpected type %T", v)
	}
}

// IsWheel reports whether a file event refers to a wheel.
func (e Event) IsWheel() bool {
	if e.Kind != FileCreated && e.Kind != FileRemoved {
		return false
	}
	return strings.HasSuffix(strings.ToLower(e.Filename), ".whl")
}

// Time returns the event timestamp in UTC.
func (e Event) Time() time.Time {
	return time.Unix(e.Timestamp, 0).UTC()
}

// ID identifies the event in log output.
func (e Event) ID() string {
	return fmt.Sprintf("%d @ %s", e.Serial, e.Time().Format(time.RFC3339))
}
