package pipeline

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"edcfeed/internal/lookup"
	"edcfeed/internal/schema"
	"edcfeed/internal/sheet"
)

func mustSpecs(t *testing.T, lines ...string) schema.FieldSpecs {
	t.Helper()
	specs, err := schema.Parse(lines)
	require.NoError(t, err)
	return specs
}

func localDate(y int, mo time.Month, d, h, mi int) time.Time {
	return time.Date(y, mo, d, h, mi, 0, 0, time.Local)
}

func TestRunKeepsRowsPastWatermark(t *testing.T) {
	p := &Pipeline{
		Specs:     mustSpecs(t, "id:0:str", "ts:1:datetime", "val:2:float"),
		Timestamp: "ts",
	}
	in := Input{
		File: "export.xlsx",
		Primary: &sheet.Table{Rows: [][]string{
			{"A", "2024/01/02 10:00:00", "3.5"},
			{"B", "2023/12/31 09:00:00", "1.1"},
		}},
		Watermark: localDate(2024, 1, 1, 0, 0),
	}

	b, err := p.Run(context.Background(), in)
	require.NoError(t, err)

	require.Len(t, b.Records, 1)
	rec := b.Records[0].Values
	assert.Equal(t, "A", rec["id"])
	assert.Equal(t, 3.5, rec["val"])
	assert.Equal(t, localDate(2024, 1, 2, 10, 0), rec["ts"])
	assert.Equal(t, 1, b.FilteredOld)
	assert.Empty(t, b.Rejects)
	assert.Equal(t, localDate(2024, 1, 2, 10, 0), b.MaxSeen)
}

func TestRunDropsWholeRowOnBadCell(t *testing.T) {
	p := &Pipeline{
		Specs:     mustSpecs(t, "id:0:str", "ts:1:datetime", "val:2:float"),
		Timestamp: "ts",
	}
	in := Input{
		File: "export.xlsx",
		Primary: &sheet.Table{Rows: [][]string{
			{"A", "2024/01/02 10:00:00", "N/A"},
		}},
		Watermark: localDate(2024, 1, 1, 0, 0),
	}

	b, err := p.Run(context.Background(), in)
	require.NoError(t, err)

	assert.Empty(t, b.Records)
	require.Len(t, b.Rejects, 1)
	assert.Equal(t, "val", b.Rejects[0].Field)
	assert.Contains(t, b.Rejects[0].Reason, "not a number")
	// a dropped row still advances the watermark
	assert.Equal(t, localDate(2024, 1, 2, 10, 0), b.MaxSeen)
}

func TestRunResamplesToBucketMaximum(t *testing.T) {
	p := &Pipeline{
		Specs:     mustSpecs(t, "pt:0:str", "ts:1:datetime", "val:2:float"),
		Timestamp: "ts",
		Resample: ResampleOptions{
			IntervalMinutes: 120,
			GroupKey:        "pt",
			TieBreak:        "val",
		},
	}
	in := Input{
		File: "export.xlsx",
		Primary: &sheet.Table{Rows: [][]string{
			{"X1", "2024/03/01 10:05:00", "5"},
			{"X1", "2024/03/01 10:40:00", "9"},
		}},
	}

	b, err := p.Run(context.Background(), in)
	require.NoError(t, err)

	require.Len(t, b.Records, 1)
	assert.Equal(t, 9.0, b.Records[0].Values["val"])
}

func TestRunEnrichmentDropsMisses(t *testing.T) {
	p := &Pipeline{
		Specs:     mustSpecs(t, "serial:0:str", "ts:1:datetime"),
		Timestamp: "ts",
		KeyField:  "serial",
		Attrs:     []string{"part_number", "lot_number"},
		Client: lookup.Static{
			"S2": {"part_number": "PN123", "lot_number": "LOT9"},
		},
	}
	in := Input{
		File: "export.xlsx",
		Primary: &sheet.Table{Rows: [][]string{
			{"S1", "2024/01/02 10:00:00"},
			{"S2", "2024/01/02 11:00:00"},
		}},
		Watermark: localDate(2024, 1, 1, 0, 0),
	}

	b, err := p.Run(context.Background(), in)
	require.NoError(t, err)

	require.Len(t, b.Records, 1)
	rec := b.Records[0].Values
	assert.Equal(t, "S2", rec["serial"])
	assert.Equal(t, "PN123", rec["part_number"])
	assert.Equal(t, "LOT9", rec["lot_number"])

	require.Len(t, b.Rejects, 1)
	assert.Equal(t, "key not found", b.Rejects[0].Reason)
	assert.Equal(t, "S1", b.Rejects[0].Data)
	assert.Contains(t, b.Columns, "part_number")
}

type countingClient struct {
	data  lookup.Static
	calls map[string]int
}

func (c *countingClient) Lookup(ctx context.Context, key string) (map[string]string, error) {
	c.calls[key]++
	return c.data.Lookup(ctx, key)
}

func (c *countingClient) Close() error { return nil }

func TestRunEnrichmentDeduplicatesKeys(t *testing.T) {
	client := &countingClient{
		data:  lookup.Static{"S1": {"part_number": "PN1"}},
		calls: map[string]int{},
	}
	p := &Pipeline{
		Specs:    mustSpecs(t, "serial:0:str", "val:1:float"),
		KeyField: "serial",
		Attrs:    []string{"part_number"},
		Client:   client,
	}
	in := Input{
		File: "export.xlsx",
		Primary: &sheet.Table{Rows: [][]string{
			{"S1", "1"}, {"S1", "2"}, {"S1", "3"},
		}},
	}

	b, err := p.Run(context.Background(), in)
	require.NoError(t, err)

	assert.Len(t, b.Records, 3)
	assert.Equal(t, 1, client.calls["S1"])
}

type failingClient struct{}

func (failingClient) Lookup(context.Context, string) (map[string]string, error) {
	return nil, lookup.ErrUnavailable
}

func (failingClient) Close() error { return nil }

func TestRunAbortsBatchWhenServiceDown(t *testing.T) {
	p := &Pipeline{
		Specs:    mustSpecs(t, "serial:0:str"),
		KeyField: "serial",
		Client:   failingClient{},
	}
	in := Input{
		File:    "export.xlsx",
		Primary: &sheet.Table{Rows: [][]string{{"S1"}}},
	}

	_, err := p.Run(context.Background(), in)
	assert.ErrorIs(t, err, lookup.ErrUnavailable)
}

func TestRunSkipsDateFilterWhenFieldUnknown(t *testing.T) {
	p := &Pipeline{
		Specs:     mustSpecs(t, "id:0:str", "val:1:float"),
		Timestamp: "Start Time",
	}
	in := Input{
		File: "export.xlsx",
		Primary: &sheet.Table{Rows: [][]string{
			{"A", "1.0"},
			{"B", "2.0"},
		}},
		Watermark: localDate(2099, 1, 1, 0, 0),
	}

	b, err := p.Run(context.Background(), in)
	require.NoError(t, err)

	assert.Len(t, b.Records, 2, "missing timestamp field must not filter anything")
	assert.True(t, b.MaxSeen.IsZero())
}

func TestRunRejectsUnparseableTimestamps(t *testing.T) {
	p := &Pipeline{
		Specs:     mustSpecs(t, "id:0:str", "ts:1:datetime"),
		Timestamp: "ts",
	}
	in := Input{
		File: "export.xlsx",
		Primary: &sheet.Table{Rows: [][]string{
			{"A", "not a date"},
			{"B", "2024/01/02 10:00:00"},
		}},
		Watermark: localDate(2024, 1, 1, 0, 0),
	}

	b, err := p.Run(context.Background(), in)
	require.NoError(t, err)

	require.Len(t, b.Records, 1)
	assert.Equal(t, "B", b.Records[0].Values["id"])
	require.Len(t, b.Rejects, 1)
	assert.Equal(t, "invalid timestamp", b.Rejects[0].Reason)
	assert.Equal(t, 1, b.Rejects[0].Line)
}

func TestRunBroadcastLocators(t *testing.T) {
	p := &Pipeline{
		Specs: mustSpecs(t,
			"id:0:str",
			"lot:B1:str",
			"stage_x:xy_0_1:float",
		),
	}
	in := Input{
		File: "export.xlsx",
		Primary: &sheet.Table{Rows: [][]string{
			{"A"}, {"B"},
		}},
		Cells: map[string]string{"B1": "LOT-7"},
		Secondary: &sheet.Table{Rows: [][]string{
			{"p1", "12.5"},
		}},
	}

	b, err := p.Run(context.Background(), in)
	require.NoError(t, err)

	require.Len(t, b.Records, 2)
	for _, row := range b.Records {
		assert.Equal(t, "LOT-7", row.Values["lot"])
		assert.Equal(t, 12.5, row.Values["stage_x"])
	}
}

func TestRunTransformsShapeAndSortKeys(t *testing.T) {
	p := &Pipeline{
		Specs:     mustSpecs(t, "id:0:str", "ts:1:datetime", "judge:2:str"),
		Timestamp: "ts",
		Transform: TransformOptions{
			Normalize: map[string][]string{"id": {"trim", "upper"}},
			ValueMaps: map[string]map[string]string{
				"judge": {"OK": "Passed", "NG": "Failed"},
			},
			Rename:      map[string]string{"ts": "StartTime"},
			Constants:   map[string]string{"Site": "FAB2", "Operation": "PT-SPUT"},
			DropColumns: []string{"judge"},
		},
		SortKeys: true,
	}
	in := Input{
		File: "export.xlsx",
		Primary: &sheet.Table{Rows: [][]string{
			{" sn001 ", "2024/01/02 10:00:00", "OK"},
			{"sn002", "2024/01/02 11:00:00", "NG"},
		}},
		Watermark: localDate(2024, 1, 1, 0, 0),
	}

	b, err := p.Run(context.Background(), in)
	require.NoError(t, err)
	require.Len(t, b.Records, 2)

	first := b.Records[0].Values
	assert.Equal(t, "SN001", first["id"])
	assert.Equal(t, localDate(2024, 1, 2, 10, 0), first["StartTime"])
	assert.Equal(t, "FAB2", first["Site"])
	assert.Equal(t, "PT-SPUT", first["Operation"])
	assert.NotContains(t, first, "ts")
	assert.NotContains(t, first, "judge")

	assert.Equal(t, int64(1), first[SortSeqColumn])
	assert.Equal(t, int64(2), b.Records[1].Values[SortSeqColumn])
	t1 := first[SortTimeColumn].(float64)
	t2 := b.Records[1].Values[SortTimeColumn].(float64)
	assert.Less(t, t1, t2)

	assert.Equal(t,
		[]string{"id", "StartTime", "Operation", "Site", SortTimeColumn, SortSeqColumn},
		b.Columns)
}

func TestRunExcludesConfiguredValues(t *testing.T) {
	p := &Pipeline{
		Specs: mustSpecs(t, "id:0:str", "judge:1:str"),
		Transform: TransformOptions{
			ValueMaps: map[string]map[string]string{
				"judge": {"C": "CAL"},
			},
			ExcludeValues: map[string][]string{
				"judge": {"CAL", "SKIP"},
			},
		},
	}
	in := Input{
		File: "export.xlsx",
		Primary: &sheet.Table{Rows: [][]string{
			{"sn001", "OK"},
			{"sn002", "C"},
			{"sn003", "SKIP"},
			{"sn004", "OK"},
		}},
	}

	b, err := p.Run(context.Background(), in)
	require.NoError(t, err)

	// the value map runs first, so the mapped "C" row is excluded too
	require.Len(t, b.Records, 2)
	assert.Equal(t, "sn001", b.Records[0].Values["id"])
	assert.Equal(t, "sn004", b.Records[1].Values["id"])

	require.Len(t, b.Rejects, 2)
	assert.Equal(t, "judge", b.Rejects[0].Field)
	assert.Equal(t, "excluded value", b.Rejects[0].Reason)
	assert.Equal(t, "CAL", b.Rejects[0].Data)
	assert.Equal(t, "SKIP", b.Rejects[1].Data)
}

func TestRunBuildsSerialFromTimestamp(t *testing.T) {
	p := &Pipeline{
		Specs:     mustSpecs(t, "id:0:str", "ts:1:datetime"),
		Timestamp: "ts",
		Transform: TransformOptions{
			Serial: SerialOptions{
				Field:         "Serialnumber",
				Prefix:        "LD1-",
				FromTimestamp: true,
			},
		},
	}
	in := Input{
		File: "export.xlsx",
		Primary: &sheet.Table{Rows: [][]string{
			{"A", "2024/01/02 10:30:45"},
		}},
		Watermark: localDate(2024, 1, 1, 0, 0),
	}

	b, err := p.Run(context.Background(), in)
	require.NoError(t, err)

	require.Len(t, b.Records, 1)
	assert.Equal(t, "LD1-20240102103045", b.Records[0].Values["Serialnumber"])
}

func TestRunCancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	p := &Pipeline{Specs: mustSpecs(t, "id:0:str")}
	_, err := p.Run(ctx, Input{
		File:    "export.xlsx",
		Primary: &sheet.Table{Rows: [][]string{{"A"}}},
	})
	assert.ErrorIs(t, err, context.Canceled)
}
