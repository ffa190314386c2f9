package schema

// normalize.go provides the named cell normalizers a job can apply to a
// field before type coercion. Equipment exports carry full-width digits,
// embedded newlines, compound serials ("A123/B456") and decorated point
// names; each normalizer fixes one of those in isolation so jobs compose
// only what their source needs.

import (
	"fmt"
	"regexp"
	"sort"
	"strings"

	"golang.org/x/text/width"
)

// NormalizeFunc transforms a raw cell value before coercion.
type NormalizeFunc func(string) string

var (
	nonAlphaRe = regexp.MustCompile(`[^a-zA-Z]+`)
	nonAlnumRe = regexp.MustCompile(`[^a-zA-Z0-9]+`)
	crlfRe     = regexp.MustCompile(`[\r\n]+`)
)

var normalizers = map[string]NormalizeFunc{
	"trim":  strings.TrimSpace,
	"upper": strings.ToUpper,
	"lower": strings.ToLower,

	// Full-width ASCII (０-９Ａ-Ｚ) to plain ASCII. Equipment software on
	// Japanese locales emits point names in full-width forms.
	"fold_width": func(s string) string {
		return width.Narrow.String(s)
	},

	"alpha_only": func(s string) string {
		return nonAlphaRe.ReplaceAllString(s, "")
	},

	"alnum_only": func(s string) string {
		return nonAlnumRe.ReplaceAllString(s, "")
	},

	// Embedded line breaks inside a single logical cell.
	"strip_crlf": func(s string) string {
		return strings.TrimSpace(crlfRe.ReplaceAllString(s, " "))
	},

	// Compound serials like "A123/B456": the first segment is the real one.
	"first_slash_part": func(s string) string {
		part, _, _ := strings.Cut(s, "/")
		return strings.TrimSpace(part)
	},

	// Trailing annotations like "SN001(retest)".
	"strip_paren": func(s string) string {
		part, _, _ := strings.Cut(s, "(")
		return strings.TrimSpace(part)
	},
}

// Normalizer returns the named normalizer.
func Normalizer(name string) (NormalizeFunc, bool) {
	fn, ok := normalizers[strings.ToLower(strings.TrimSpace(name))]
	return fn, ok
}

// NormalizerNames lists the available normalizer names, sorted.
func NormalizerNames() []string {
	names := make([]string, 0, len(normalizers))
	for name := range normalizers {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Chain resolves a list of normalizer names into one composed function.
// Unknown names are reported; the caller treats that as a configuration
// problem.
func Chain(names []string) (NormalizeFunc, error) {
	if len(names) == 0 {
		return nil, nil
	}
	fns := make([]NormalizeFunc, 0, len(names))
	for _, name := range names {
		fn, ok := Normalizer(name)
		if !ok {
			return nil, &UnknownNormalizerError{Name: name}
		}
		fns = append(fns, fn)
	}
	return func(s string) string {
		for _, fn := range fns {
			s = fn(s)
		}
		return s
	}, nil
}

// UnknownNormalizerError names a normalizer that does not exist.
type UnknownNormalizerError struct {
	Name string
}

func (e *UnknownNormalizerError) Error() string {
	return fmt.Sprintf("unknown normalizer %q (available: %s)",
		e.Name, strings.Join(NormalizerNames(), ", "))
}
