package pipeline

import (
	"log/slog"
	"sort"
	"time"

	"edcfeed/internal/schema"
)

// Generated sort key columns, consumed by the sinks.
const (
	SortTimeColumn = "Starttime_Sorted"
	SortSeqColumn  = "Sortnumber"
)

const serialTimeLayout = "20060102150405"

// transformValues applies the value-level rewrites that must happen
// before validation: cell normalizers, value maps, and serial number
// construction. Fields keep their logical names here.
func (p *Pipeline) transformValues(b *Batch, log *slog.Logger) {
	for field, chain := range p.Transform.Normalize {
		fn, err := schema.Chain(chain)
		if err != nil {
			log.Warn("skipping normalizer chain", "field", field, "error", err)
			continue
		}
		for _, row := range b.Records {
			if s, ok := row.Values[field].(string); ok {
				row.Values[field] = fn(s)
			}
		}
	}

	for field, vm := range p.Transform.ValueMaps {
		for _, row := range b.Records {
			s, ok := row.Values[field].(string)
			if !ok {
				continue
			}
			if mapped, hit := vm[s]; hit {
				row.Values[field] = mapped
			}
		}
	}

	p.excludeRows(b)
	p.buildSerial(b)
}

// excludeRows drops rows whose field holds a configured throwaway
// value, calibration runs or operator test entries typically. The drop
// is recorded as a reject so run summaries account for every row.
func (p *Pipeline) excludeRows(b *Batch) {
	if len(p.Transform.ExcludeValues) == 0 {
		return
	}
	fields := make([]string, 0, len(p.Transform.ExcludeValues))
	for f := range p.Transform.ExcludeValues {
		fields = append(fields, f)
	}
	sort.Strings(fields)

	kept := b.Records[:0]
	for _, row := range b.Records {
		excluded := false
		for _, field := range fields {
			s := schema.Stringify(row.Values[field])
			for _, v := range p.Transform.ExcludeValues[field] {
				if s == v {
					b.reject(row.Line, field, "excluded value", s)
					excluded = true
					break
				}
			}
			if excluded {
				break
			}
		}
		if !excluded {
			kept = append(kept, row)
		}
	}
	b.Records = kept
}

// buildSerial assembles the serial number field from a source column or
// the row timestamp, wrapped in the configured prefix and suffix.
func (p *Pipeline) buildSerial(b *Batch) {
	s := p.Transform.Serial
	if s.Field == "" {
		return
	}
	b.addColumn(s.Field)

	for _, row := range b.Records {
		base := ""
		switch {
		case s.FromTimestamp:
			if ts, ok := p.rowTime(row.Values, p.Timestamp); ok {
				base = ts.Format(serialTimeLayout)
			}
		case s.Source != "":
			base = schema.Stringify(row.Values[s.Source])
		default:
			base = schema.Stringify(row.Values[s.Field])
		}
		row.Values[s.Field] = s.Prefix + base + s.Suffix
	}
}

// transformShape applies the output-shape rewrites after validation and
// resampling: renames, constant columns, and dropped columns. From here
// on records carry output names.
func (p *Pipeline) transformShape(b *Batch) {
	for from, to := range p.Transform.Rename {
		b.renameColumn(from, to)
		for _, row := range b.Records {
			if v, ok := row.Values[from]; ok {
				row.Values[to] = v
				delete(row.Values, from)
			}
		}
	}

	constants := make([]string, 0, len(p.Transform.Constants))
	for name := range p.Transform.Constants {
		constants = append(constants, name)
	}
	sort.Strings(constants)
	for _, name := range constants {
		b.addColumn(name)
		v := p.Transform.Constants[name]
		for _, row := range b.Records {
			row.Values[name] = v
		}
	}

	for _, name := range p.Transform.DropColumns {
		b.dropColumn(name)
		for _, row := range b.Records {
			delete(row.Values, name)
		}
	}
}

// addSortKeys orders the records by start time and appends the
// spreadsheet-sortable keys: a fractional serial-day timestamp made
// strictly increasing by the row position, and the plain 1-based
// sequence number.
func (p *Pipeline) addSortKeys(b *Batch) {
	tsName := p.Timestamp
	if to, ok := p.Transform.Rename[tsName]; ok {
		tsName = to
	}
	b.addColumn(SortTimeColumn)
	b.addColumn(SortSeqColumn)

	sort.SliceStable(b.Records, func(i, j int) bool {
		ti, _ := p.rowTime(b.Records[i].Values, tsName)
		tj, _ := p.rowTime(b.Records[j].Values, tsName)
		return ti.Before(tj)
	})

	for i, row := range b.Records {
		if ts, ok := p.rowTime(row.Values, tsName); ok {
			row.Values[SortTimeColumn] = schema.ExcelDays(ts) + float64(i)/1e6
		} else {
			row.Values[SortTimeColumn] = nil
		}
		row.Values[SortSeqColumn] = int64(i + 1)
	}
}

// rowTime reads a timestamp value that may still be a raw string.
func (p *Pipeline) rowTime(values Record, field string) (time.Time, bool) {
	switch v := values[field].(type) {
	case time.Time:
		return v, true
	case string:
		if ts, err := schema.ParseDateTime(v); err == nil {
			return ts, true
		}
	}
	return time.Time{}, false
}
