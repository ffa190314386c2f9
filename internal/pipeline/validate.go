package pipeline

import (
	"context"

	"edcfeed/internal/schema"
)

// validate coerces every declared field to its type. One bad cell
// invalidates the whole row, and removals happen in a single pass at
// the end of the loop rather than mid-iteration. Values already typed
// by an earlier stage pass through untouched.
func (p *Pipeline) validate(ctx context.Context, b *Batch) error {
	bad := make(map[int]bool)

	for i, row := range b.Records {
		if err := checkCtx(ctx, i); err != nil {
			return err
		}
		for _, spec := range p.Specs {
			v, ok := row.Values[spec.Name]
			if !ok || v == nil {
				b.reject(row.Line, spec.Name, "empty value", "")
				bad[i] = true
				break
			}
			s, isStr := v.(string)
			if !isStr {
				continue
			}
			coerced, err := schema.Coerce(s, spec.Type)
			if err != nil {
				b.reject(row.Line, spec.Name, err.Error(), s)
				bad[i] = true
				break
			}
			if coerced == nil {
				b.reject(row.Line, spec.Name, "empty value", s)
				bad[i] = true
				break
			}
			row.Values[spec.Name] = coerced
		}
	}

	if len(bad) == 0 {
		return nil
	}
	kept := b.Records[:0]
	for i, row := range b.Records {
		if !bad[i] {
			kept = append(kept, row)
		}
	}
	b.Records = kept
	return nil
}
