package pipeline

import (
	"fmt"
	"log/slog"

	"edcfeed/internal/schema"
	"edcfeed/internal/sheet"
)

// mergePoints broadcasts the fixed measurement points of the secondary
// sheet onto every row. Point i (1-based) reads row i-1 of the
// secondary table; the merge is not keyed. A missing or short secondary
// sheet never aborts the batch: the affected points stay nil, logged
// once at a level chosen by the Required flag.
func (p *Pipeline) mergePoints(b *Batch, sec *sheet.Table, log *slog.Logger) {
	if !p.Merge.Enabled || p.Merge.PointCount <= 0 {
		return
	}

	xPrefix := p.Merge.XPrefix
	if xPrefix == "" {
		xPrefix = "X"
	}
	yPrefix := p.Merge.YPrefix
	if yPrefix == "" {
		yPrefix = "Y"
	}

	available := 0
	if sec != nil {
		available = sec.NumRows()
	}
	if available < p.Merge.PointCount {
		msg := "secondary sheet short or missing, points left empty"
		if p.Merge.Required {
			log.Error(msg, "file", b.File,
				"want", p.Merge.PointCount, "have", available)
		} else {
			log.Warn(msg, "file", b.File,
				"want", p.Merge.PointCount, "have", available)
		}
	}

	for i := 1; i <= p.Merge.PointCount; i++ {
		xName := fmt.Sprintf("%s%d", xPrefix, i)
		yName := fmt.Sprintf("%s%d", yPrefix, i)
		b.addColumn(xName)
		b.addColumn(yName)

		var xVal, yVal any
		if i <= available {
			xVal = pointValue(sec.Cell(i-1, p.Merge.XColumn))
			yVal = pointValue(sec.Cell(i-1, p.Merge.YColumn))
		}
		for _, row := range b.Records {
			row.Values[xName] = xVal
			row.Values[yName] = yVal
		}
	}
}

// pointValue coerces a coordinate to float when it parses as one,
// otherwise keeps the raw text. Empty cells stay nil.
func pointValue(raw string) any {
	if raw == "" {
		return nil
	}
	if f, err := schema.CoerceFloat(raw); err == nil {
		return f
	}
	return raw
}
