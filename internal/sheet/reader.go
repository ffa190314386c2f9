package sheet

import (
	"fmt"
	"log/slog"
	"strings"

	"github.com/xuri/excelize/v2"
)

// Table is the rectangular slice of a sheet after skip rows, column
// selection, and structural filtering have been applied. Rows may still
// be ragged when no column subset was requested; use Cell for
// bounds-safe access.
type Table struct {
	Sheet string
	Rows  [][]string
	// Offset is the number of sheet rows above the first data row, kept
	// so callers can report original row numbers.
	Offset          int
	StructuralDrops int
}

// Cell returns the trimmed value at (row, col), or "" when the
// coordinate falls outside the table.
func (t *Table) Cell(row, col int) string {
	if row < 0 || row >= len(t.Rows) {
		return ""
	}
	r := t.Rows[row]
	if col < 0 || col >= len(r) {
		return ""
	}
	return strings.TrimSpace(r[col])
}

// Empty reports whether the table holds no data rows.
func (t *Table) Empty() bool { return len(t.Rows) == 0 }

// NumRows returns the number of data rows.
func (t *Table) NumRows() int { return len(t.Rows) }

// ReadOptions controls how a sheet is turned into a Table.
type ReadOptions struct {
	// Sheet is the sheet name, or the base name when PickLatest is set.
	Sheet string
	// PickLatest selects the highest "(N)" clone of Sheet.
	PickLatest bool
	// SkipRows drops that many leading rows before the data starts.
	SkipRows int
	// DetectHeader, when non-empty, scans the leading rows for one
	// containing at least MinHeaderHits of these labels and starts the
	// data immediately after it, overriding SkipRows.
	DetectHeader  []string
	MinHeaderHits int
	// Columns restricts the table to these zero-based source columns,
	// in order. Nil keeps every column.
	Columns []int
	// KeyColumn names the column, indexed after the subset is applied,
	// whose emptiness marks a row as structural padding. -1 disables
	// the check.
	KeyColumn int
}

// Workbook wraps an open xlsx file.
type Workbook struct {
	path string
	f    *excelize.File
}

// Open opens the workbook at path. The caller owns the returned handle
// and must Close it.
func Open(path string) (*Workbook, error) {
	f, err := excelize.OpenFile(path)
	if err != nil {
		return nil, fmt.Errorf("open workbook %s: %w", path, err)
	}
	return &Workbook{path: path, f: f}, nil
}

func (w *Workbook) Close() error {
	if w.f == nil {
		return nil
	}
	err := w.f.Close()
	w.f = nil
	return err
}

// SheetNames lists the sheets in workbook order.
func (w *Workbook) SheetNames() []string {
	return w.f.GetSheetList()
}

// ResolveSheet maps the requested sheet to an actual sheet name. The
// second return is false when nothing in the workbook matches.
func (w *Workbook) ResolveSheet(opts ReadOptions) (string, bool) {
	names := w.SheetNames()
	if opts.PickLatest {
		return PickLatest(names, opts.Sheet)
	}
	return resolveExact(names, opts.Sheet)
}

// Table reads the requested sheet into a Table. A missing or empty
// sheet is not an error: the condition is logged and an empty Table
// comes back, letting the caller skip the file.
func (w *Workbook) Table(opts ReadOptions) (*Table, error) {
	name, ok := w.ResolveSheet(opts)
	if !ok {
		slog.Warn("sheet not found in workbook",
			"path", w.path, "sheet", opts.Sheet)
		return &Table{}, nil
	}

	rows, err := w.f.GetRows(name)
	if err != nil {
		return nil, fmt.Errorf("read sheet %s: %w", name, err)
	}

	start := opts.SkipRows
	if len(opts.DetectHeader) > 0 {
		if idx := findHeaderRow(rows, opts.DetectHeader, opts.MinHeaderHits); idx >= 0 {
			start = idx + 1
		}
	}
	if start < 0 {
		start = 0
	}
	if start > len(rows) {
		start = len(rows)
	}

	tbl := &Table{Sheet: name, Offset: start}
	for _, row := range rows[start:] {
		out := row
		if opts.Columns != nil {
			out = make([]string, len(opts.Columns))
			for i, col := range opts.Columns {
				if col >= 0 && col < len(row) {
					out[i] = row[col]
				}
			}
		}
		if opts.KeyColumn >= 0 && cellAt(out, opts.KeyColumn) == "" {
			tbl.StructuralDrops++
			continue
		}
		tbl.Rows = append(tbl.Rows, out)
	}

	if tbl.Empty() {
		slog.Warn("sheet contains no data rows",
			"path", w.path, "sheet", name, "structural_drops", tbl.StructuralDrops)
	}
	return tbl, nil
}

// Cells fetches individual cells by A1-style address from the named
// sheet. Addresses outside the used range come back as "".
func (w *Workbook) Cells(sheetName string, addrs []string) (map[string]string, error) {
	out := make(map[string]string, len(addrs))
	for _, addr := range addrs {
		v, err := w.f.GetCellValue(sheetName, addr)
		if err != nil {
			return nil, fmt.Errorf("read cell %s!%s: %w", sheetName, addr, err)
		}
		out[addr] = strings.TrimSpace(v)
	}
	return out, nil
}

// ParseColumnRange converts a spreadsheet letter range like "A:U" into
// zero-based column indices. A single letter selects one column.
func ParseColumnRange(s string) ([]int, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return nil, nil
	}
	first, last, found := strings.Cut(s, ":")
	if !found {
		last = first
	}
	lo, err := excelize.ColumnNameToNumber(strings.TrimSpace(first))
	if err != nil {
		return nil, fmt.Errorf("column range %q: %w", s, err)
	}
	hi, err := excelize.ColumnNameToNumber(strings.TrimSpace(last))
	if err != nil {
		return nil, fmt.Errorf("column range %q: %w", s, err)
	}
	if hi < lo {
		return nil, fmt.Errorf("column range %q: end before start", s)
	}
	cols := make([]int, 0, hi-lo+1)
	for c := lo; c <= hi; c++ {
		cols = append(cols, c-1)
	}
	return cols, nil
}

// findHeaderRow scans the first rows for one that contains at least
// minHits of the expected labels, compared case-insensitively after
// trimming. Returns -1 when no row qualifies.
func findHeaderRow(rows [][]string, labels []string, minHits int) int {
	if minHits <= 0 {
		minHits = 1
	}
	want := make(map[string]struct{}, len(labels))
	for _, l := range labels {
		want[strings.ToLower(strings.TrimSpace(l))] = struct{}{}
	}

	limit := len(rows)
	if limit > 30 {
		limit = 30
	}
	for i := 0; i < limit; i++ {
		hits := 0
		for _, cell := range rows[i] {
			if _, ok := want[strings.ToLower(strings.TrimSpace(cell))]; ok {
				hits++
			}
		}
		if hits >= minHits {
			return i
		}
	}
	return -1
}

func cellAt(row []string, col int) string {
	if col < 0 || col >= len(row) {
		return ""
	}
	return strings.TrimSpace(row[col])
}
