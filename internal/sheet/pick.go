package sheet

import (
	"regexp"
	"strconv"
	"strings"
)

// PickLatest selects the highest-versioned sheet for a base name.
//
// Equipment software clones the data sheet on save, appending a
// parenthesized counter: "Data", "Data (2)", "Data (3)". A name with no
// suffix counts as version 0. Ties keep the first candidate seen, so a
// workbook with duplicate names behaves deterministically.
func PickLatest(names []string, base string) (string, bool) {
	re := regexp.MustCompile(`^` + regexp.QuoteMeta(strings.TrimSpace(base)) +
		`(?:\s*\(([0-9]+)\))?$`)

	best := ""
	bestVersion := -1
	for _, name := range names {
		m := re.FindStringSubmatch(strings.TrimSpace(name))
		if m == nil {
			continue
		}
		version := 0
		if m[1] != "" {
			v, err := strconv.Atoi(m[1])
			if err != nil {
				continue
			}
			version = v
		}
		if version > bestVersion {
			bestVersion = version
			best = name
		}
	}
	return best, bestVersion >= 0
}

// resolveExact finds a sheet by name, falling back to a case- and
// whitespace-insensitive match, then to a containment match. Exports
// rename sheets in subtle ways ("DATA " for "Data") and operators expect
// the feeder to cope.
func resolveExact(names []string, want string) (string, bool) {
	for _, name := range names {
		if name == want {
			return name, true
		}
	}

	fold := func(s string) string {
		return strings.ToLower(strings.Join(strings.Fields(s), ""))
	}
	wantFolded := fold(want)
	for _, name := range names {
		if fold(name) == wantFolded {
			return name, true
		}
	}
	for _, name := range names {
		if strings.Contains(fold(name), wantFolded) {
			return name, true
		}
	}
	return "", false
}
