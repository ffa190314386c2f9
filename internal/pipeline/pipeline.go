// Package pipeline turns one spreadsheet's rows into finished output
// records. Stages run in a fixed order over an explicit Batch; nothing
// is shared between runs, so independent files can be processed
// concurrently by the caller.
package pipeline

import (
	"context"
	"log/slog"
	"time"

	"edcfeed/internal/lookup"
	"edcfeed/internal/schema"
	"edcfeed/internal/sheet"
)

// Record maps logical field names to values. Values start out as raw
// cell strings and become typed during validation; nil marks a value
// that is absent.
type Record map[string]any

// Row couples a Record with the 1-based line of the source sheet it
// came from, carried through every stage for reject reporting.
type Row struct {
	Line   int
	Values Record
}

// Reject describes one dropped row with enough context to diagnose it
// without re-reading the source file.
type Reject struct {
	File   string
	Line   int
	Field  string
	Reason string
	Data   string
}

// Batch is the unit of work for one source file. Stages rewrite
// Records in place and append to Rejects. MaxSeen carries the largest
// parseable timestamp observed before date filtering, so the cursor
// can advance past rows that never reach the sink.
type Batch struct {
	File    string
	Columns []string
	Records []Row
	Rejects []Reject
	MaxSeen time.Time
	// FilteredOld counts rows dropped only for sitting below the
	// watermark. Those are routine, not rejects.
	FilteredOld int
}

func (b *Batch) reject(line int, field, reason, data string) {
	b.Rejects = append(b.Rejects, Reject{
		File:   b.File,
		Line:   line,
		Field:  field,
		Reason: reason,
		Data:   data,
	})
}

// addColumn registers an output column once, keeping first-seen order.
func (b *Batch) addColumn(name string) {
	for _, c := range b.Columns {
		if c == name {
			return
		}
	}
	b.Columns = append(b.Columns, name)
}

func (b *Batch) renameColumn(from, to string) {
	for i, c := range b.Columns {
		if c == from {
			b.Columns[i] = to
			return
		}
	}
}

func (b *Batch) dropColumn(name string) {
	for i, c := range b.Columns {
		if c == name {
			b.Columns = append(b.Columns[:i], b.Columns[i+1:]...)
			return
		}
	}
}

// MergeOptions configures the broadcast of fixed measurement points
// from the secondary sheet onto every row.
type MergeOptions struct {
	Enabled    bool
	PointCount int
	XColumn    int
	YColumn    int
	// XPrefix/YPrefix name the generated columns: X1..Xn, Y1..Yn by
	// default.
	XPrefix string
	YPrefix string
	// Required only changes the log level when the secondary sheet is
	// missing; the batch always proceeds.
	Required bool
}

// SerialOptions builds or rewrites the serial number field.
type SerialOptions struct {
	Field         string
	Source        string
	Prefix        string
	Suffix        string
	FromTimestamp bool
}

// TransformOptions cover the value- and shape-level rewrites applied
// around validation. Normalize, ValueMaps and ExcludeValues run before
// validation on raw strings; Rename, Constants and DropColumns run
// after resampling, so every earlier stage keeps addressing fields by
// their logical names.
type TransformOptions struct {
	Normalize map[string][]string
	ValueMaps map[string]map[string]string
	// ExcludeValues drops rows whose field holds any listed value. The
	// match runs after normalizers and value maps.
	ExcludeValues map[string][]string
	Serial        SerialOptions
	Rename        map[string]string
	Constants     map[string]string
	DropColumns   []string
}

// ResampleOptions reduce each (group, time bucket) to one row. Zero
// IntervalMinutes disables the stage.
type ResampleOptions struct {
	IntervalMinutes int
	GroupKey        string
	TieBreak        string
}

// Pipeline holds everything one job needs to process a file. It is
// safe for concurrent Run calls as long as the lookup Client is.
type Pipeline struct {
	Specs     schema.FieldSpecs
	Timestamp string
	KeyField  string
	Client    lookup.Client
	Attrs     []string
	Merge     MergeOptions
	Transform TransformOptions
	Resample  ResampleOptions
	SortKeys  bool
	Log       *slog.Logger
}

// Input is one file's worth of raw material. RowOffset is the number of
// sheet rows skipped before the table started, used to report original
// line numbers.
type Input struct {
	File      string
	RowOffset int
	Primary   *sheet.Table
	Cells     map[string]string
	Secondary *sheet.Table
	Watermark time.Time
}

// Run executes the stages in order: map, date filter, enrichment,
// point merge, value transforms, validation, resampling, shape
// transforms, sort keys. A non-nil error means the whole file must be
// abandoned; per-row problems land in Batch.Rejects instead.
func (p *Pipeline) Run(ctx context.Context, in Input) (*Batch, error) {
	log := p.Log
	if log == nil {
		log = slog.Default()
	}

	b, err := p.mapRows(ctx, in)
	if err != nil {
		return nil, err
	}

	p.filterByDate(b, in.Watermark, log)

	if err := p.enrich(ctx, b, log); err != nil {
		return nil, err
	}

	p.mergePoints(b, in.Secondary, log)
	p.transformValues(b, log)

	if err := p.validate(ctx, b); err != nil {
		return nil, err
	}

	p.resample(b, log)
	p.transformShape(b)

	if p.SortKeys {
		p.addSortKeys(b)
	}
	return b, nil
}

func checkCtx(ctx context.Context, i int) error {
	if i%256 != 0 {
		return nil
	}
	select {
	case <-ctx.Done():
		return ctx.Err()
	default:
		return nil
	}
}
