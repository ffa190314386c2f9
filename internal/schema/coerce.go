package schema

// coerce.go converts raw spreadsheet cells into the native value for a
// field's declared type.
//
// These functions handle the messy reality of equipment exports:
//   - Dates as strings in several layouts or as spreadsheet serial numbers
//   - Numbers with thousands separators
//   - Integers that arrive as "3.0" because the sheet stores floats
//   - Various boolean spellings (true/false, yes/no, 1/0)
//
// A nil result with a nil error means the cell was empty: the value is a
// null, which row validation later treats as grounds for dropping the row
// on typed fields.

import (
	"fmt"
	"math"
	"regexp"
	"strconv"
	"strings"
	"time"
)

// DateTimeLayout is the canonical timestamp representation used in every
// output artifact.
const DateTimeLayout = "2006/01/02 15:04:05"

// CursorLayout is the timestamp representation used by watermark files.
const CursorLayout = "2006-01-02 15:04:05"

// excelEpoch is day zero of the 1900 date system used by spreadsheet
// serial date numbers.
var excelEpoch = time.Date(1899, 12, 30, 0, 0, 0, 0, time.Local)

// maxExcelDays keeps implausible numbers (plain measurements) from being
// taken for serial dates. 219146 days past the epoch is the year 2499.
const maxExcelDays = 219146

var numericRegex = regexp.MustCompile(`^[+-]?(\d+(\.\d*)?|\.\d+)([eE][+-]?\d+)?$`)

var dateTimeLayouts = []string{
	"2006/01/02 15:04:05",
	"2006-01-02 15:04:05",
	"2006/01/02 15:04",
	"2006-01-02 15:04",
	"2006/01/02",
	"2006-01-02",
	"2006-01-02T15:04:05",
	"1/2/2006 15:04:05",
	"1/2/2006 15:04",
	"1/2/2006",
	"2006.01.02 15:04:05",
	"20060102150405",
	"20060102",
}

// Coerce converts a raw cell into the native value for t.
//
// Returns (nil, nil) for an empty cell on non-str fields. A non-nil error
// means the cell held something that cannot be read as t; callers drop
// the whole row in that case.
func Coerce(raw string, t FieldType) (any, error) {
	s := strings.TrimSpace(raw)

	if t == FieldStr {
		return s, nil
	}
	if s == "" {
		return nil, nil
	}

	switch t {
	case FieldInt:
		return CoerceInt(s)
	case FieldFloat:
		return CoerceFloat(s)
	case FieldBool:
		return CoerceBool(s)
	case FieldDateTime:
		return ParseDateTime(s)
	default:
		return s, nil
	}
}

// CoerceInt parses an integer, accepting integral floats ("3.0" -> 3)
// because spreadsheets store all numbers as floats.
func CoerceInt(s string) (int64, error) {
	s = cleanNumber(s)
	if i, err := strconv.ParseInt(s, 10, 64); err == nil {
		return i, nil
	}
	f, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return 0, fmt.Errorf("not an integer: %q", s)
	}
	if f != math.Trunc(f) {
		return 0, fmt.Errorf("not an integer: %q", s)
	}
	return int64(f), nil
}

// CoerceFloat parses a float after stripping thousands separators.
func CoerceFloat(s string) (float64, error) {
	s = cleanNumber(s)
	if !numericRegex.MatchString(s) {
		return 0, fmt.Errorf("not a number: %q", s)
	}
	f, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return 0, fmt.Errorf("not a number: %q", s)
	}
	return f, nil
}

// CoerceBool accepts true/false, t/f, yes/no, y/n, 1/0, case-insensitive.
func CoerceBool(s string) (bool, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "true", "t", "yes", "y", "1":
		return true, nil
	case "false", "f", "no", "n", "0":
		return false, nil
	default:
		return false, fmt.Errorf("not a boolean: %q", s)
	}
}

// ParseDateTime parses a timestamp from any of the accepted layouts, or
// from a spreadsheet serial day number. Timestamps are naive equipment
// local time throughout.
func ParseDateTime(s string) (time.Time, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return time.Time{}, fmt.Errorf("empty timestamp")
	}

	for _, layout := range dateTimeLayouts {
		if t, err := time.ParseInLocation(layout, s, time.Local); err == nil {
			return t, nil
		}
	}

	// Serial day number, possibly fractional (time of day).
	if days, err := strconv.ParseFloat(s, 64); err == nil {
		if days > 0 && days < maxExcelDays {
			return FromExcelDays(days), nil
		}
	}

	return time.Time{}, fmt.Errorf("unparseable timestamp: %q", s)
}

// FormatDateTime renders a timestamp in the canonical output layout.
func FormatDateTime(t time.Time) string {
	return t.Format(DateTimeLayout)
}

// ExcelDays converts a timestamp to a spreadsheet serial day number.
func ExcelDays(t time.Time) float64 {
	return t.Sub(excelEpoch).Hours() / 24
}

// FromExcelDays converts a spreadsheet serial day number to a timestamp,
// rounded to the nearest second.
func FromExcelDays(days float64) time.Time {
	secs := days * 24 * 3600
	return excelEpoch.Add(time.Duration(math.Round(secs)) * time.Second)
}

// cleanNumber strips separators that sneak into exported numerics.
func cleanNumber(s string) string {
	s = strings.TrimSpace(s)
	s = strings.ReplaceAll(s, ",", "")
	return s
}

// Stringify renders a coerced value for an output artifact. Timestamps
// use the canonical layout; floats drop the exponent for spreadsheet
// friendliness; nil renders empty.
func Stringify(v any) string {
	switch x := v.(type) {
	case nil:
		return ""
	case string:
		return x
	case time.Time:
		return FormatDateTime(x)
	case float64:
		return strconv.FormatFloat(x, 'f', -1, 64)
	case int64:
		return strconv.FormatInt(x, 10)
	case bool:
		return strconv.FormatBool(x)
	default:
		return fmt.Sprint(x)
	}
}
