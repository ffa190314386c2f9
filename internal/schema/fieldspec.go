// Package schema defines the declarative field mapping for equipment
// spreadsheet exports. A job's field list is a set of name:locator:type
// entries describing where each logical field lives in the workbook and
// what type it must coerce to. This package has no I/O dependencies and
// can be used by any stage of the pipeline.
package schema

import (
	"errors"
	"fmt"
	"log/slog"
	"regexp"
	"strconv"
	"strings"
)

// ErrNoFields is returned when a field list parses to zero usable entries.
// The caller must treat this as a configuration failure and stop before
// opening any data file.
var ErrNoFields = errors.New("no usable field specs")

// FieldType represents the declared type of a logical field.
type FieldType int

const (
	FieldStr FieldType = iota
	FieldInt
	FieldFloat
	FieldBool
	FieldDateTime
)

// ParseFieldType maps the textual type names used in field lists.
func ParseFieldType(s string) (FieldType, bool) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "str", "string":
		return FieldStr, true
	case "int":
		return FieldInt, true
	case "float":
		return FieldFloat, true
	case "bool":
		return FieldBool, true
	case "datetime":
		return FieldDateTime, true
	default:
		return FieldStr, false
	}
}

func (t FieldType) String() string {
	switch t {
	case FieldInt:
		return "int"
	case FieldFloat:
		return "float"
	case FieldBool:
		return "bool"
	case FieldDateTime:
		return "datetime"
	default:
		return "str"
	}
}

// LocatorKind says which physical surface a locator addresses.
type LocatorKind int

const (
	// LocatorColumn is a zero-based column index into the primary sheet.
	LocatorColumn LocatorKind = iota
	// LocatorSecondary is an xy_<row>_<col> cell of the secondary sheet,
	// both indices zero-based. Its value is broadcast to every row.
	LocatorSecondary
	// LocatorCell is an absolute cell address ("F20") in the primary
	// sheet, also broadcast to every row.
	LocatorCell
)

// Locator is the physical source of one logical field.
type Locator struct {
	Kind   LocatorKind
	Column int    // LocatorColumn
	Row    int    // LocatorSecondary
	Col    int    // LocatorSecondary
	Cell   string // LocatorCell, normalized upper-case
}

func (l Locator) String() string {
	switch l.Kind {
	case LocatorSecondary:
		return fmt.Sprintf("xy_%d_%d", l.Row, l.Col)
	case LocatorCell:
		return l.Cell
	default:
		return strconv.Itoa(l.Column)
	}
}

// FieldSpec maps one logical field name to its physical locator and
// declared type. Immutable once parsed; one set per job.
type FieldSpec struct {
	Name    string
	Locator Locator
	Type    FieldType
}

var cellAddrRe = regexp.MustCompile(`^[A-Za-z]{1,3}[1-9][0-9]*$`)

// ParseLocator parses the locator part of a field entry.
func ParseLocator(s string) (Locator, error) {
	s = strings.TrimSpace(s)

	if rest, ok := strings.CutPrefix(s, "xy_"); ok {
		rowStr, colStr, ok := strings.Cut(rest, "_")
		if !ok {
			return Locator{}, fmt.Errorf("bad secondary locator %q", s)
		}
		row, err := strconv.Atoi(rowStr)
		if err != nil || row < 0 {
			return Locator{}, fmt.Errorf("bad secondary row in %q", s)
		}
		col, err := strconv.Atoi(colStr)
		if err != nil || col < 0 {
			return Locator{}, fmt.Errorf("bad secondary col in %q", s)
		}
		return Locator{Kind: LocatorSecondary, Row: row, Col: col}, nil
	}

	if idx, err := strconv.Atoi(s); err == nil {
		if idx < 0 {
			return Locator{}, fmt.Errorf("negative column index %q", s)
		}
		return Locator{Kind: LocatorColumn, Column: idx}, nil
	}

	if cellAddrRe.MatchString(s) {
		return Locator{Kind: LocatorCell, Cell: strings.ToUpper(s)}, nil
	}

	return Locator{}, fmt.Errorf("unrecognized locator %q", s)
}

// Parse converts name:locator:type entries into FieldSpecs.
//
// Malformed entries and entries with an unsupported type are skipped with
// a warning; they never fail the whole list. An empty result is an error:
// a job without fields must stop before touching data.
func Parse(lines []string) (FieldSpecs, error) {
	specs := make([]FieldSpec, 0, len(lines))

	for i, line := range lines {
		line = strings.TrimSpace(line)
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}

		parts := strings.Split(line, ":")
		if len(parts) != 3 {
			slog.Warn("skipping malformed field entry", "line", i+1, "entry", line)
			continue
		}

		name := strings.TrimSpace(parts[0])
		if name == "" {
			slog.Warn("skipping field entry with empty name", "line", i+1, "entry", line)
			continue
		}

		loc, err := ParseLocator(parts[1])
		if err != nil {
			slog.Warn("skipping field entry", "line", i+1, "field", name, "error", err)
			continue
		}

		ftype, ok := ParseFieldType(parts[2])
		if !ok {
			slog.Warn("skipping field with unsupported type",
				"line", i+1, "field", name, "type", strings.TrimSpace(parts[2]))
			continue
		}

		specs = append(specs, FieldSpec{Name: name, Locator: loc, Type: ftype})
	}

	if len(specs) == 0 {
		return nil, ErrNoFields
	}
	return specs, nil
}

// FieldSpecs is a parsed field list with lookup helpers.
type FieldSpecs []FieldSpec

// ByName returns the spec for a logical field name.
func (fs FieldSpecs) ByName(name string) (FieldSpec, bool) {
	for _, s := range fs {
		if s.Name == name {
			return s, true
		}
	}
	return FieldSpec{}, false
}

// Names returns the field names in declaration order.
func (fs FieldSpecs) Names() []string {
	names := make([]string, len(fs))
	for i, s := range fs {
		names[i] = s.Name
	}
	return names
}

// CellAddrs returns the distinct absolute cell addresses referenced by
// the list, in declaration order. The sheet reader pre-fetches these.
func (fs FieldSpecs) CellAddrs() []string {
	seen := make(map[string]bool)
	var addrs []string
	for _, s := range fs {
		if s.Locator.Kind == LocatorCell && !seen[s.Locator.Cell] {
			seen[s.Locator.Cell] = true
			addrs = append(addrs, s.Locator.Cell)
		}
	}
	return addrs
}

// HasSecondary reports whether any field reads the secondary sheet.
func (fs FieldSpecs) HasSecondary() bool {
	for _, s := range fs {
		if s.Locator.Kind == LocatorSecondary {
			return true
		}
	}
	return false
}

// MaxColumn returns the highest primary-sheet column index referenced,
// or -1 when no field reads a primary column.
func (fs FieldSpecs) MaxColumn() int {
	max := -1
	for _, s := range fs {
		if s.Locator.Kind == LocatorColumn && s.Locator.Column > max {
			max = s.Locator.Column
		}
	}
	return max
}
