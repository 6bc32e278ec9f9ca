package pep440

import (
	"regexp"
	"slices"
	"strings"
)

// Compare orders version strings for display and "latest" selection.
// Final releases rank above every pre-release or development release, with
// PEP 440 precedence breaking ties inside each group. Strings that do not
// parse rank below all valid versions and are ordered among themselves by
// plain string comparison, which keeps the order total.
func Compare(a, b string) int {
	va, errA := Parse(a)
	vb, errB := Parse(b)
	switch {
	case errA != nil && errB != nil:
		return strings.Compare(a, b)
	case errA != nil:
		return -1
	case errB != nil:
		return 1
	}
	return CompareParsed(va, vb)
}

// CompareParsed is Compare for already parsed versions.
func CompareParsed(a, b Version) int {
	if a.IsPrerelease() != b.IsPrerelease() {
		if a.IsPrerelease() {
			return -1
		}
		return 1
	}
	return a.Compare(b)
}

// Sort sorts version strings in ascending rank order.
func Sort(versions []string) {
	slices.SortStableFunc(versions, Compare)
}

// Latest returns the highest ranked valid version. Invalid strings are
// skipped. The boolean is false when no valid version is present.
func Latest(versions []string) (string, bool) {
	var (
		best    string
		bestVer Version
		found   bool
	)
	for _, s := range versions {
		v, err := Parse(s)
		if err != nil {
			continue
		}
		if !found || CompareParsed(v, bestVer) > 0 {
			best, bestVer, found = s, v, true
		}
	}
	return best, found
}

var nameSeparators = regexp.MustCompile(`[-_.]+`)

// NormalizeName returns the PEP 503 normalized form of a project name.
func NormalizeName(name string) string {
	return strings.ToLower(nameSeparators.ReplaceAllString(name, "-"))
}
