package sink

import (
	"context"
	"encoding/xml"
	"os"
	"path/filepath"
	"testing"

	"github.com/sebdah/goldie/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"edcfeed/internal/pipeline"
)

func pointerMeta() Meta {
	return Meta{
		Operation:     "PT-SPUT",
		Site:          "FAB2",
		ProductFamily: "TiN",
		TestStation:   "PT01",
		Operator:      "auto",
		SerialField:   "Serial",
		PartField:     "Part",
		LotField:      "Lot",
		TimeField:     "StartTime",
	}
}

func TestPointerXML(t *testing.T) {
	dir := t.TempDir()
	req := &Request{
		Meta:    pointerMeta(),
		Columns: []string{"Serial", "Part", "Lot", "StartTime", "Val"},
		Records: []pipeline.Row{
			{Line: 1, Values: pipeline.Record{
				"Serial": "S1", "Part": "PN123", "Lot": "LOT9",
				"StartTime": localTime(2024, 1, 2, 10, 0), "Val": 3.5,
			}},
			{Line: 2, Values: pipeline.Record{
				"Serial": "S2", "Part": "PN123", "Lot": "LOT9",
				"StartTime": localTime(2024, 1, 2, 11, 0), "Val": 4.0,
			}},
		},
		OutDir:    dir,
		CSVPath:   "out/feed_202401050830.csv",
		Timestamp: localTime(2024, 1, 5, 8, 30),
	}

	w, ok := Get("pointer_xml")
	require.True(t, ok)
	paths, err := w.Write(context.Background(), req)
	require.NoError(t, err)
	require.Len(t, paths, 1)

	assert.Equal(t,
		"Site=FAB2,ProductFamily=TiN,Operation=PT-SPUT,Partnumber=PN123,"+
			"Serialnumber=S1,Testdate=2024-01-05T08.30.00.xml",
		filepath.Base(paths[0]))

	data, err := os.ReadFile(paths[0])
	require.NoError(t, err)

	g := goldie.New(t,
		goldie.WithFixtureDir("testdata/golden"),
		goldie.WithNameSuffix(".golden"))
	g.Assert(t, "pointer", data)
}

func TestPointerXMLEmptyBatch(t *testing.T) {
	w, _ := Get("pointer_xml")
	paths, err := w.Write(context.Background(), &Request{Meta: pointerMeta()})
	require.NoError(t, err)
	assert.Empty(t, paths)
}

func TestRecordXML(t *testing.T) {
	dir := t.TempDir()
	req := &Request{
		Meta: Meta{
			Operation:     "LD-SPUT",
			Site:          "FAB2",
			ProductFamily: "TiN",
			TestStation:   "LD01",
			Operator:      "auto",
			SerialField:   "Serialnumber",
			PartField:     "Partnumber",
			LotField:      "Lotnumber",
			TimeField:     "StartTime",
		},
		Columns: []string{
			"Serialnumber", "Partnumber", "Lotnumber", "StartTime",
			"Thickness", "Judge", pipeline.SortTimeColumn, pipeline.SortSeqColumn,
		},
		Records: []pipeline.Row{
			{Line: 1, Values: pipeline.Record{
				"Serialnumber":           "LD1-20240102100000",
				"Partnumber":             "PN123",
				"Lotnumber":              "LOT9",
				"StartTime":              localTime(2024, 1, 2, 10, 0),
				"Thickness":              123.45,
				"Judge":                  "Passed",
				pipeline.SortTimeColumn:  45293.416667,
				pipeline.SortSeqColumn:   int64(1),
			}},
		},
		OutDir:     dir,
		Units:      map[string]string{"Thickness": "nm"},
		MiscFields: []string{"Lotnumber"},
		Timestamp:  localTime(2024, 1, 5, 8, 30),
	}

	w, ok := Get("record_xml")
	require.True(t, ok)
	paths, err := w.Write(context.Background(), req)
	require.NoError(t, err)
	require.Len(t, paths, 1)

	assert.Equal(t,
		"Site=FAB2,ProductFamily=TiN,Operation=LD-SPUT,Partnumber=PN123,"+
			"Serialnumber=LD1-20240102100000,Testdate=2024-01-02T10.00.00.xml",
		filepath.Base(paths[0]))

	data, err := os.ReadFile(paths[0])
	require.NoError(t, err)

	g := goldie.New(t,
		goldie.WithFixtureDir("testdata/golden"),
		goldie.WithNameSuffix(".golden"))
	g.Assert(t, "record", data)
}

func TestRecordXMLOneFilePerRow(t *testing.T) {
	dir := t.TempDir()
	req := &Request{
		Meta: Meta{
			Operation: "LD-SPUT", Site: "FAB2", ProductFamily: "TiN",
			SerialField: "Serial", TimeField: "StartTime",
		},
		Columns: []string{"Serial", "StartTime"},
		Records: []pipeline.Row{
			{Line: 1, Values: pipeline.Record{
				"Serial": "A1", "StartTime": localTime(2024, 1, 2, 10, 0),
			}},
			{Line: 2, Values: pipeline.Record{
				"Serial": "A2", "StartTime": localTime(2024, 1, 2, 11, 0),
			}},
		},
		OutDir:    dir,
		Timestamp: localTime(2024, 1, 5, 8, 30),
	}

	w, _ := Get("record_xml")
	paths, err := w.Write(context.Background(), req)
	require.NoError(t, err)
	require.Len(t, paths, 2)

	var doc resultsDoc
	data, err := os.ReadFile(paths[1])
	require.NoError(t, err)
	require.NoError(t, xml.Unmarshal(data, &doc))
	assert.Equal(t, "A2", doc.Result.Header.SerialNumber)
	assert.Equal(t, "2024-01-02T11:00:00", doc.Result.StartDateTime)
	require.Len(t, doc.Result.TestSteps, 2)
	assert.Equal(t, "SORTED_DATA", doc.Result.TestSteps[1].Name)
}

func TestSanitizeComponent(t *testing.T) {
	assert.Equal(t, "10.30.00", sanitizeComponent("10:30:00"))
	assert.Equal(t, "a-b_c", sanitizeComponent("a/b,c"))
}
