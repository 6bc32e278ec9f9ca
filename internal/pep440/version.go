// Package pep440 parses and orders Python package versions following PEP 440.
package pep440

import (
	"errors"
	"fmt"
	"regexp"
	"strings"

	pyver "github.com/aquasecurity/go-pep440-version"
)

// ErrInvalidVersion is returned when a string is not a PEP 440 version.
var ErrInvalidVersion = errors.New("invalid version")

// InvalidVersionError wraps ErrInvalidVersion with the offending string.
type InvalidVersionError struct {
	Version string
	Err     error
}

func (e *InvalidVersionError) Error() string {
	return fmt.Sprintf("invalid version: %q", e.Version)
}

func (e *InvalidVersionError) Unwrap() []error {
	if e.Err == nil {
		return []error{ErrInvalidVersion}
	}
	return []error{ErrInvalidVersion, e.Err}
}

// Version is a parsed PEP 440 version.
type Version struct {
	v   pyver.Version
	raw string
}

// Parse parses a version string.
func Parse(s string) (Version, error) {
	v, err := pyver.Parse(s)
	if err != nil {
		return Version{}, &InvalidVersionError{Version: s, Err: err}
	}
	return Version{v: v, raw: s}, nil
}

// MustParse is like Parse but panics on invalid input. Intended for tests and constants.
func MustParse(s string) Version {
	v, err := Parse(s)
	if err != nil {
		panic(err)
	}
	return v
}

// Original returns the string the version was parsed from.
func (v Version) Original() string {
	return v.raw
}

// String returns the normalized form of the version.
func (v Version) String() string {
	return strings.ToLower(v.v.String())
}

// Compare orders two versions by PEP 440 precedence.
func (v Version) Compare(o Version) int {
	return v.v.Compare(o.v)
}

// normalized splits the normalized string into epoch, release, the
// pre/post/dev suffix and the local label.
var normalized = regexp.MustCompile(`^(?:([0-9]+)!)?([0-9]+(?:\.[0-9]+)*)([^+]*)(?:\+(.*))?$`)

var localSeparators = regexp.MustCompile(`[-_.]`)

type parts struct {
	epoch, release, suffix, local string
}

func (v Version) parts() parts {
	m := normalized.FindStringSubmatch(v.String())
	if m == nil {
		return parts{release: v.String()}
	}
	return parts{epoch: m[1], release: m[2], suffix: m[3], local: m[4]}
}

// IsPrerelease reports whether the version is a pre-release or development release.
func (v Version) IsPrerelease() bool {
	s := v.parts().suffix
	return strings.HasPrefix(s, "a") || strings.HasPrefix(s, "b") ||
		strings.HasPrefix(s, "rc") || strings.Contains(s, ".dev")
}

// Canonicalize returns the canonical form of a version string with trailing
// zero release segments removed, so "1.0.0" and "1" map to the same value.
// Strings that are not valid versions are returned unchanged.
func Canonicalize(s string) string {
	v, err := Parse(s)
	if err != nil {
		return s
	}
	p := v.parts()

	var b strings.Builder
	if strings.TrimLeft(p.epoch, "0") != "" {
		b.WriteString(strings.TrimLeft(p.epoch, "0"))
		b.WriteByte('!')
	}
	release := strings.Split(p.release, ".")
	for len(release) > 1 && strings.Trim(release[len(release)-1], "0") == "" {
		release = release[:len(release)-1]
	}
	for i, seg := range release {
		if i > 0 {
			b.WriteByte('.')
		}
		if seg = strings.TrimLeft(seg, "0"); seg == "" {
			seg = "0"
		}
		b.WriteString(seg)
	}
	b.WriteString(p.suffix)
	if p.local != "" {
		b.WriteByte('+')
		b.WriteString(normalizeLocal(p.local))
	}
	return b.String()
}

// normalizeLocal joins local segments with dots and drops leading zeros
// from numeric ones.
func normalizeLocal(local string) string {
	segs := localSeparators.Split(local, -1)
	for i, seg := range segs {
		if !isDigits(seg) {
			continue
		}
		if segs[i] = strings.TrimLeft(seg, "0"); segs[i] == "" {
			segs[i] = "0"
		}
	}
	return strings.Join(segs, ".")
}

func isDigits(s string) bool {
	for _, r := range s {
		if r < '0' || r > '9' {
			return false
		}
	}
	return s != ""
}
