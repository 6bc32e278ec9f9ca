// Package wheelname parses wheel filenames and ranks wheels of the same
// project release by how generally useful they are.
package wheelname

import (
	"errors"
	"fmt"
	"regexp"
	"strings"
)

// ErrInvalidFilename is returned for names that do not follow the wheel
// filename convention.
var ErrInvalidFilename = errors.New("invalid wheel filename")

// InvalidFilenameError wraps ErrInvalidFilename with context.
type InvalidFilenameError struct {
	Filename string
	Reason   string
}

func (e *InvalidFilenameError) Error() string {
	if e.Reason != "" {
		return fmt.Sprintf("invalid wheel filename %q: %s", e.Filename, e.Reason)
	}
	return fmt.Sprintf("invalid wheel filename %q", e.Filename)
}

func (e *InvalidFilenameError) Unwrap() error {
	return ErrInvalidFilename
}

var filenameRegex = regexp.MustCompile(`^` +
	`(?P<project>[A-Za-z0-9](?:[A-Za-z0-9._]*[A-Za-z0-9])?)` +
	`-(?P<version>[A-Za-z0-9_.!+]+)` +
	`(?:-(?P<build>[0-9]\w*))?` +
	`-(?P<python>\w+(?:\.\w+)*)` +
	`-(?P<abi>\w+(?:\.\w+)*)` +
	`-(?P<platform>\w+(?:\.\w+)*)` +
	`\.[Ww][Hh][Ll]$`)

// Name is a parsed wheel filename.
type Name struct {
	Filename     string
	Project      string
	Version      string
	Build        string // empty when the filename has no build tag
	PythonTags   []string
	ABITags      []string
	PlatformTags []string
}

// Parse splits a wheel filename into its components.
func Parse(filename string) (*Name, error) {
	m := filenameRegex.FindStringSubmatch(filename)
	if m == nil {
		return nil, &InvalidFilenameError{Filename: filename}
	}
	group := func(name string) string {
		return m[filenameRegex.SubexpIndex(name)]
	}
	return &Name{
		Filename:     filename,
		Project:      group("project"),
		Version:      group("version"),
		Build:        group("build"),
		PythonTags:   strings.Split(group("python"), "."),
		ABITags:      strings.Split(group("abi"), "."),
		PlatformTags: strings.Split(group("platform"), "."),
	}, nil
}

// TagTriple returns the "python-abi-platform" portion of the filename.
func (n *Name) TagTriple() string {
	return strings.Join(n.PythonTags, ".") + "-" +
		strings.Join(n.ABITags, ".") + "-" +
		strings.Join(n.PlatformTags, ".")
}

// IsWheel reports whether a filename carries the wheel extension.
func IsWheel(filename string) bool {
	return strings.HasSuffix(strings.ToLower(filename), ".whl")
}
