package sink

import (
	"context"
	"path/filepath"

	"edcfeed/internal/pipeline"
	"edcfeed/internal/schema"
)

func init() { Register(recordWriter{}) }

// recordWriter emits one full XML result per row, carrying every data
// column as a typed element plus a SORTED_DATA step with the keys a
// spreadsheet viewer sorts by. Used by feeds whose importer ingests
// rows directly instead of via a CSV table.
type recordWriter struct{}

func (recordWriter) Name() string { return "record_xml" }

func (recordWriter) Write(ctx context.Context, req *Request) ([]string, error) {
	paths := make([]string, 0, len(req.Records))

	for i, rec := range req.Records {
		if i%64 == 0 {
			select {
			case <-ctx.Done():
				return paths, ctx.Err()
			default:
			}
		}

		start, ok := fieldTime(rec.Values, req.Meta.TimeField)
		if !ok {
			start = req.Timestamp
		}
		serial := fieldOf(rec.Values, req.Meta.SerialField)
		lot := fieldOf(rec.Values, req.Meta.LotField)

		doc := resultsDoc{
			XSI: xsiNamespace,
			XSD: xsdNamespace,
			Result: resultElem{
				StartDateTime: start.Format(isoLayout),
				EndDateTime:   req.Timestamp.Format(isoLayout),
				Result:        "Passed",
				Header: headerElem{
					SerialNumber: serial,
					PartNumber:   fieldOf(rec.Values, req.Meta.PartField),
					Operation:    req.Meta.Operation,
					TestStation:  req.Meta.TestStation,
					Operator:     req.Meta.Operator,
					StartTime:    schema.FormatDateTime(start),
					Site:         req.Meta.Site,
					LotNumber:    lot,
				},
				HeaderMisc: miscItems(rec.Values, req.MiscFields),
				TestSteps: []testStep{
					{
						Name:   req.Meta.Operation,
						Status: "Passed",
						Data:   dataItems(rec.Values, req.Columns, req.Units),
					},
					{
						Name:   "SORTED_DATA",
						Status: "Passed",
						Data:   sortedItems(rec.Values, lot),
					},
				},
			},
		}

		path := filepath.Join(req.OutDir, artifactName(req.Meta,
			fieldOf(rec.Values, req.Meta.PartField), serial, start))
		if err := writeXML(path, doc); err != nil {
			return paths, err
		}
		paths = append(paths, path)
	}
	return paths, nil
}

// dataItems renders the measurement columns, skipping the generated
// sort keys which get their own step.
func dataItems(rec pipeline.Record, columns []string, units map[string]string) []dataElem {
	items := make([]dataElem, 0, len(columns))
	for _, col := range columns {
		if col == pipeline.SortTimeColumn || col == pipeline.SortSeqColumn {
			continue
		}
		items = append(items, dataElem{
			DataType: dataTypeOf(rec[col]),
			Name:     col,
			Units:    units[col],
			Value:    schema.Stringify(rec[col]),
		})
	}
	return items
}

// sortedItems renders the SORTED_DATA step: the fractional start-time
// key, the sequence number, and the lot echo the importer logs.
func sortedItems(rec pipeline.Record, lot string) []dataElem {
	return []dataElem{
		{
			DataType:      "Numeric",
			Name:          "STARTTIME_SORTED",
			Value:         schema.Stringify(rec[pipeline.SortTimeColumn]),
			CompOperation: "LOG",
		},
		{
			DataType:      "Numeric",
			Name:          "SORTNUMBER",
			Value:         schema.Stringify(rec[pipeline.SortSeqColumn]),
			CompOperation: "LOG",
		},
		{
			DataType:      "String",
			Name:          "LotNumber",
			Value:         lot,
			CompOperation: "LOG",
		},
	}
}

func miscItems(rec pipeline.Record, fields []string) *miscBlock {
	if len(fields) == 0 {
		return nil
	}
	block := &miscBlock{Items: make([]miscItem, 0, len(fields))}
	for _, f := range fields {
		block.Items = append(block.Items, miscItem{
			Name:  f,
			Value: schema.Stringify(rec[f]),
		})
	}
	return block
}

func dataTypeOf(v any) string {
	switch v.(type) {
	case float64, int64:
		return "Numeric"
	default:
		return "String"
	}
}
