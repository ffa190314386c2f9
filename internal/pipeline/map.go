package pipeline

import (
	"context"

	"edcfeed/internal/schema"
)

// mapRows applies the field specs to the primary table, producing one
// Record per row. Column locators read the row itself; cell and
// secondary locators resolve once and broadcast to every row. Values
// stay raw strings here; typing happens at validation.
func (p *Pipeline) mapRows(ctx context.Context, in Input) (*Batch, error) {
	b := &Batch{File: in.File}
	for _, spec := range p.Specs {
		b.addColumn(spec.Name)
	}

	broadcast := make(map[string]string)
	for _, spec := range p.Specs {
		switch spec.Locator.Kind {
		case schema.LocatorCell:
			broadcast[spec.Name] = in.Cells[spec.Locator.Cell]
		case schema.LocatorSecondary:
			if in.Secondary != nil {
				broadcast[spec.Name] = in.Secondary.Cell(spec.Locator.Row, spec.Locator.Col)
			}
		}
	}

	if in.Primary == nil {
		return b, nil
	}

	for i := 0; i < in.Primary.NumRows(); i++ {
		if err := checkCtx(ctx, i); err != nil {
			return nil, err
		}
		values := make(Record, len(p.Specs))
		for _, spec := range p.Specs {
			if spec.Locator.Kind == schema.LocatorColumn {
				values[spec.Name] = in.Primary.Cell(i, spec.Locator.Column)
			} else {
				values[spec.Name] = broadcast[spec.Name]
			}
		}
		b.Records = append(b.Records, Row{Line: in.RowOffset + i + 1, Values: values})
	}
	return b, nil
}
