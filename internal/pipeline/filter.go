package pipeline

import (
	"log/slog"
	"time"

	"edcfeed/internal/schema"
)

// filterByDate drops rows whose timestamp falls strictly below the
// watermark; rows exactly at the watermark stay in, since a later
// export can carry new rows inside the same second as the last emitted
// one. It records the maximum parseable timestamp over the whole
// column, not just the survivors, so the cursor keeps moving even when
// every row is old or broken.
//
// Rows with an unparseable timestamp are rejected; rows that are merely
// old are counted in FilteredOld. Successfully parsed timestamps are
// written back typed so later stages do not parse twice. When the
// designated field is absent from the specs the stage is skipped with a
// warning and every row passes.
func (p *Pipeline) filterByDate(b *Batch, watermark time.Time, log *slog.Logger) {
	if p.Timestamp == "" {
		return
	}
	if _, ok := p.Specs.ByName(p.Timestamp); !ok {
		log.Warn("timestamp field not in field specs, date filter skipped",
			"field", p.Timestamp)
		return
	}

	kept := b.Records[:0]
	for _, row := range b.Records {
		raw, _ := row.Values[p.Timestamp].(string)
		ts, err := schema.ParseDateTime(raw)
		if err != nil {
			b.reject(row.Line, p.Timestamp, "invalid timestamp", raw)
			continue
		}
		if ts.After(b.MaxSeen) {
			b.MaxSeen = ts
		}
		if ts.Before(watermark) {
			b.FilteredOld++
			continue
		}
		row.Values[p.Timestamp] = ts
		kept = append(kept, row)
	}
	b.Records = kept
}
