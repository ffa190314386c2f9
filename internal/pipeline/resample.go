package pipeline

import (
	"log/slog"
	"math"
	"time"

	"edcfeed/internal/schema"
)

// resample reduces each (group, time bucket) pair to one row: the one
// maximizing the tie-break field, or the earliest in the bucket when no
// tie-break is configured. Survivors keep their input order. Rows
// without a usable timestamp pass through untouched.
func (p *Pipeline) resample(b *Batch, log *slog.Logger) {
	r := p.Resample
	if r.IntervalMinutes <= 0 || len(b.Records) == 0 {
		return
	}
	if p.Timestamp == "" {
		log.Warn("resampling needs a timestamp field, stage skipped", "file", b.File)
		return
	}

	type bucketKey struct {
		group  string
		bucket int64
	}
	type winner struct {
		idx   int
		score float64
		ts    time.Time
	}

	interval := int64(r.IntervalMinutes) * 60
	times := make([]time.Time, len(b.Records))
	valid := make([]bool, len(b.Records))
	best := make(map[bucketKey]winner)

	for i, row := range b.Records {
		ts, ok := p.rowTime(row.Values, p.Timestamp)
		if !ok {
			continue
		}
		times[i], valid[i] = ts, true

		key := bucketKey{
			group:  schema.Stringify(row.Values[r.GroupKey]),
			bucket: ts.Unix() / interval,
		}
		if r.TieBreak != "" {
			score := math.Inf(-1)
			if s, ok := toScore(row.Values[r.TieBreak]); ok {
				score = s
			}
			if w, seen := best[key]; !seen || score > w.score {
				best[key] = winner{idx: i, score: score}
			}
		} else {
			if w, seen := best[key]; !seen || ts.Before(w.ts) {
				best[key] = winner{idx: i, ts: ts}
			}
		}
	}

	keep := make(map[int]bool, len(best))
	for _, w := range best {
		keep[w.idx] = true
	}

	dropped := 0
	kept := b.Records[:0]
	for i, row := range b.Records {
		if !valid[i] || keep[i] {
			kept = append(kept, row)
			continue
		}
		dropped++
	}
	b.Records = kept

	if dropped > 0 {
		log.Info("resampled batch", "file", b.File,
			"interval_minutes", r.IntervalMinutes, "buckets", len(best), "dropped", dropped)
	}
}

// toScore turns a tie-break value into a comparable number.
func toScore(v any) (float64, bool) {
	switch x := v.(type) {
	case float64:
		return x, true
	case int64:
		return float64(x), true
	case bool:
		if x {
			return 1, true
		}
		return 0, true
	case time.Time:
		return schema.ExcelDays(x), true
	case string:
		if f, err := schema.CoerceFloat(x); err == nil {
			return f, true
		}
	}
	return 0, false
}
