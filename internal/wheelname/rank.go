package wheelname

import (
	"cmp"
	"regexp"
	"slices"
	"strconv"
	"strings"
)

var pythonPreferences = map[string]int{
	"py": 4,
	"cp": 3,
	"pp": 2,
	"jy": 1,
	"ip": 0,
}

var archPreferences = map[string]int{
	"universal": 7,
	"fat":       6,
	"intel":     5,
	"x86_64":    4,
	"i686":      3,
	"i386":      2,
	"armv7l":    1,
	"armv6l":    0,
}

func preference(table map[string]int, key string) int {
	if n, ok := table[key]; ok {
		return n
	}
	return -1
}

var (
	buildRegex  = regexp.MustCompile(`^(\d+)([^-]*)$`)
	pythonRegex = regexp.MustCompile(`^(\w+?)(\d[\d_]*)$`)
	abiRegex    = regexp.MustCompile(`^(\wp)(\d+)(\w*)$`)
)

// Platform patterns from least to most preferred. Index is the rank.
var platformPatterns = []*regexp.Regexp{
	regexp.MustCompile(`^macosx_10_(?P<version>\d+)_(?P<arch>\w+)$`),
	regexp.MustCompile(`^macosx$`),
	regexp.MustCompile(`^win32$`),
	regexp.MustCompile(`^win64$`),
	regexp.MustCompile(`^win_amd64$`),
	regexp.MustCompile(`^linux_(?P<arch>\w+)$`),
	regexp.MustCompile(`^manylinux(?P<version>\d+)_(?P<arch>\w+)$`),
	regexp.MustCompile(`^any$`),
}

// nodot is a "py_version_nodot" value such as 35 or 3_10. A value that is a
// prefix of another is more general and ranks above it.
type nodot []int

func parseNodot(s string) (nodot, bool) {
	var parts []string
	if strings.Contains(s, "_") {
		parts = strings.Split(s, "_")
	} else {
		parts = strings.Split(s, "")
	}
	v := make(nodot, 0, len(parts))
	for _, p := range parts {
		n, err := strconv.Atoi(p)
		if err != nil {
			return nil, false
		}
		v = append(v, n)
	}
	return v, true
}

func (v nodot) compare(o nodot) int {
	n := min(len(v), len(o))
	if slices.Equal(v[:n], o[:n]) {
		return cmp.Compare(len(o), len(v))
	}
	return slices.Compare(v, o)
}

type pythonRank struct {
	impl    int
	version nodot
}

func (r pythonRank) compare(o pythonRank) int {
	if c := cmp.Compare(r.impl, o.impl); c != 0 {
		return c
	}
	return r.version.compare(o.version)
}

type platformRank struct {
	pattern int
	version int
	arch    int
}

func (r platformRank) compare(o platformRank) int {
	if c := cmp.Compare(r.pattern, o.pattern); c != 0 {
		return c
	}
	if c := cmp.Compare(r.version, o.version); c != 0 {
		return c
	}
	return cmp.Compare(r.arch, o.arch)
}

const (
	abiUnparseable = -1
	abiBinary      = 0
	abiNone        = 1
)

type abiRank struct {
	kind    int
	impl    int
	version nodot
	flags   string
}

func (r abiRank) compare(o abiRank) int {
	if c := cmp.Compare(r.kind, o.kind); c != 0 || r.kind != abiBinary {
		return c
	}
	if c := cmp.Compare(r.impl, o.impl); c != 0 {
		return c
	}
	if c := r.version.compare(o.version); c != 0 {
		return c
	}
	return strings.Compare(r.flags, o.flags)
}

type parsedKey struct {
	python      []pythonRank
	platforms   []platformRank
	abi         abiRank
	tiebreaker  string
	buildNumber int
	buildTag    string
}

// SortKey orders wheels of a single project version by preference.
// Higher keys are preferred.
type SortKey struct {
	filename string
	parsed   *parsedKey
}

// Parsed reports whether the filename could be interpreted for ranking.
func (k SortKey) Parsed() bool {
	return k.parsed != nil
}

// Key computes the sort key for a filename. Filenames that cannot be parsed
// still get a key; they rank below every parsed filename.
func Key(filename string) SortKey {
	unparsed := SortKey{filename: filename}

	name, err := Parse(filename)
	if err != nil {
		return unparsed
	}

	k := &parsedKey{buildNumber: -1, tiebreaker: name.TagTriple()}
	if name.Build != "" {
		m := buildRegex.FindStringSubmatch(name.Build)
		if m == nil {
			return unparsed
		}
		if k.buildNumber, err = strconv.Atoi(m[1]); err != nil {
			return unparsed
		}
		k.buildTag = m[2]
	}

	for _, tag := range name.PythonTags {
		m := pythonRegex.FindStringSubmatch(tag)
		if m == nil {
			return unparsed
		}
		v, ok := parseNodot(m[2])
		if !ok {
			return unparsed
		}
		k.python = append(k.python, pythonRank{impl: preference(pythonPreferences, m[1]), version: v})
	}
	slices.SortFunc(k.python, func(a, b pythonRank) int { return b.compare(a) })

	// Only the first ABI tag takes part in ranking.
	abi := name.ABITags[0]
	switch m := abiRegex.FindStringSubmatch(abi); {
	case abi == "none":
		k.abi = abiRank{kind: abiNone}
	case m != nil:
		v, ok := parseNodot(m[2])
		if !ok {
			k.abi = abiRank{kind: abiUnparseable}
			break
		}
		k.abi = abiRank{kind: abiBinary, impl: preference(pythonPreferences, m[1]), version: v, flags: m[3]}
	default:
		k.abi = abiRank{kind: abiUnparseable}
	}

	for _, tag := range name.PlatformTags {
		if r, ok := rankPlatform(tag); ok {
			k.platforms = append(k.platforms, r)
		}
	}
	slices.SortFunc(k.platforms, func(a, b platformRank) int { return b.compare(a) })

	return SortKey{filename: filename, parsed: k}
}

// rankPlatform classifies a platform tag. Unrecognised tags are skipped.
// Only patterns carrying an OS version contribute version and arch.
func rankPlatform(tag string) (platformRank, bool) {
	for i, re := range platformPatterns {
		m := re.FindStringSubmatch(tag)
		if m == nil {
			continue
		}
		r := platformRank{pattern: i, version: -1, arch: -1}
		if vi := re.SubexpIndex("version"); vi >= 0 {
			n, err := strconv.Atoi(m[vi])
			if err != nil {
				return platformRank{}, false
			}
			r.version = n
			r.arch = preference(archPreferences, m[re.SubexpIndex("arch")])
		}
		return r, true
	}
	return platformRank{}, false
}

// Compare orders two sort keys. It returns a negative number when k is less
// preferred than o.
func (k SortKey) Compare(o SortKey) int {
	switch {
	case k.parsed == nil && o.parsed == nil:
		return strings.Compare(k.filename, o.filename)
	case k.parsed == nil:
		return -1
	case o.parsed == nil:
		return 1
	}
	a, b := k.parsed, o.parsed
	if c := slices.CompareFunc(a.python, b.python, pythonRank.compare); c != 0 {
		return c
	}
	if c := slices.CompareFunc(a.platforms, b.platforms, platformRank.compare); c != 0 {
		return c
	}
	if c := a.abi.compare(b.abi); c != 0 {
		return c
	}
	if c := strings.Compare(a.tiebreaker, b.tiebreaker); c != 0 {
		return c
	}
	if c := cmp.Compare(a.buildNumber, b.buildNumber); c != 0 {
		return c
	}
	return strings.Compare(a.buildTag, b.buildTag)
}

// Compare orders two wheel filenames of the same project version.
func Compare(a, b string) int {
	return Key(a).Compare(Key(b))
}

// Sort orders filenames from least to most preferred.
func Sort(filenames []string) {
	keys := make(map[string]SortKey, len(filenames))
	for _, f := range filenames {
		keys[f] = Key(f)
	}
	slices.SortStableFunc(filenames, func(a, b string) int {
		return keys[a].Compare(keys[b])
	})
}

// Best returns the most preferred filename, or "" for an empty slice.
func Best(filenames []string) string {
	var (
		best    string
		bestKey SortKey
	)
	for i, f := range filenames {
		k := Key(f)
		if i == 0 || k.Compare(bestKey) > 0 {
			best, bestKey = f, k
		}
	}
	return best
}
