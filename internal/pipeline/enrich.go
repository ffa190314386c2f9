package pipeline

import (
	"context"
	"fmt"
	"log/slog"

	"edcfeed/internal/schema"
)

// enrich attaches external attributes to every row by its natural key.
// Keys are deduplicated so each distinct key costs one round-trip. A
// miss or partial match drops the row with reason "key not found"; a
// service failure aborts the whole batch so the file can be retried on
// a later run.
func (p *Pipeline) enrich(ctx context.Context, b *Batch, log *slog.Logger) error {
	if p.Client == nil || p.KeyField == "" {
		return nil
	}
	for _, name := range p.Attrs {
		b.addColumn(name)
	}

	cache := make(map[string]map[string]string)
	for _, row := range b.Records {
		key := schema.Stringify(row.Values[p.KeyField])
		if _, seen := cache[key]; seen {
			continue
		}
		attrs, err := p.Client.Lookup(ctx, key)
		if err != nil {
			return fmt.Errorf("enrich %s: %w", b.File, err)
		}
		cache[key] = attrs
	}

	misses := 0
	kept := b.Records[:0]
	for _, row := range b.Records {
		key := schema.Stringify(row.Values[p.KeyField])
		attrs := cache[key]
		if attrs == nil {
			b.reject(row.Line, p.KeyField, "key not found", key)
			misses++
			continue
		}
		for name, v := range attrs {
			row.Values[name] = v
		}
		kept = append(kept, row)
	}
	b.Records = kept

	if misses > 0 {
		log.Warn("rows dropped by enrichment", "file", b.File,
			"misses", misses, "distinct_keys", len(cache))
	}
	return nil
}
