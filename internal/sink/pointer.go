package sink

import (
	"context"
	"encoding/xml"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"edcfeed/internal/pipeline"
	"edcfeed/internal/schema"
)

// Document shapes shared by the XML writers. Attribute order follows
// field order, which the downstream importer relies on.

type resultsDoc struct {
	XMLName xml.Name   `xml:"Results"`
	XSI     string     `xml:"xmlns:xsi,attr"`
	XSD     string     `xml:"xmlns:xsd,attr"`
	Result  resultElem `xml:"Result"`
}

type resultElem struct {
	StartDateTime string      `xml:"startDateTime,attr"`
	EndDateTime   string      `xml:"endDateTime,attr"`
	Result        string      `xml:"Result,attr"`
	Header        headerElem  `xml:"Header"`
	HeaderMisc    *miscBlock  `xml:"HeaderMisc,omitempty"`
	TestSteps     []testStep  `xml:"TestStep"`
}

type headerElem struct {
	SerialNumber string `xml:"SerialNumber,attr"`
	PartNumber   string `xml:"PartNumber,attr"`
	Operation    string `xml:"Operation,attr"`
	TestStation  string `xml:"TestStation,attr"`
	Operator     string `xml:"Operator,attr"`
	StartTime    string `xml:"StartTime,attr"`
	Site         string `xml:"Site,attr"`
	LotNumber    string `xml:"LotNumber,attr"`
}

type miscBlock struct {
	Items []miscItem `xml:"Item"`
}

type miscItem struct {
	Name  string `xml:"Name,attr"`
	Value string `xml:",chardata"`
}

type testStep struct {
	Name   string     `xml:"Name,attr"`
	Status string     `xml:"Status,attr"`
	Data   []dataElem `xml:"Data"`
}

type dataElem struct {
	DataType      string `xml:"DataType,attr"`
	Name          string `xml:"Name,attr"`
	Units         string `xml:"Units,attr,omitempty"`
	Value         string `xml:"Value,attr"`
	CompOperation string `xml:"CompOperation,attr,omitempty"`
}

const (
	xsiNamespace = "http://www.w3.org/2001/XMLSchema-instance"
	xsdNamespace = "http://www.w3.org/2001/XMLSchema"

	isoLayout = "2006-01-02T15:04:05"
)

func init() { Register(pointerWriter{}) }

// pointerWriter emits one small XML file per batch whose single Table
// data element points the importer at the CSV artifact.
type pointerWriter struct{}

func (pointerWriter) Name() string { return "pointer_xml" }

func (pointerWriter) Write(ctx context.Context, req *Request) ([]string, error) {
	if len(req.Records) == 0 {
		return nil, nil
	}
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	default:
	}

	first := req.Records[0].Values
	start := batchStart(req)

	doc := resultsDoc{
		XSI: xsiNamespace,
		XSD: xsdNamespace,
		Result: resultElem{
			StartDateTime: start.Format(isoLayout),
			EndDateTime:   req.Timestamp.Format(isoLayout),
			Result:        "Passed",
			Header: headerElem{
				SerialNumber: fieldOf(first, req.Meta.SerialField),
				PartNumber:   fieldOf(first, req.Meta.PartField),
				Operation:    req.Meta.Operation,
				TestStation:  req.Meta.TestStation,
				Operator:     req.Meta.Operator,
				StartTime:    schema.FormatDateTime(start),
				Site:         req.Meta.Site,
				LotNumber:    fieldOf(first, req.Meta.LotField),
			},
			TestSteps: []testStep{{
				Name:   req.Meta.Operation,
				Status: "Passed",
				Data: []dataElem{{
					DataType:      "Table",
					Name:          "tbl_" + req.Meta.Operation,
					Value:         req.CSVPath,
					CompOperation: "LOG",
				}},
			}},
		},
	}

	path := filepath.Join(req.OutDir, artifactName(req.Meta,
		fieldOf(first, req.Meta.PartField),
		fieldOf(first, req.Meta.SerialField), req.Timestamp))
	if err := writeXML(path, doc); err != nil {
		return nil, err
	}
	return []string{path}, nil
}

// batchStart finds the earliest start time in the batch, falling back
// to the run timestamp when no time column is configured.
func batchStart(req *Request) time.Time {
	start := time.Time{}
	for _, rec := range req.Records {
		if ts, ok := fieldTime(rec.Values, req.Meta.TimeField); ok {
			if start.IsZero() || ts.Before(start) {
				start = ts
			}
		}
	}
	if start.IsZero() {
		return req.Timestamp
	}
	return start
}

func fieldTime(rec pipeline.Record, field string) (time.Time, bool) {
	switch v := rec[field].(type) {
	case time.Time:
		return v, true
	case string:
		if ts, err := schema.ParseDateTime(v); err == nil {
			return ts, true
		}
	}
	return time.Time{}, false
}

// artifactName builds the importer's key=value filename. Colons never
// survive into filenames, so the timestamp uses dotted separators.
func artifactName(m Meta, part, serial string, ts time.Time) string {
	return fmt.Sprintf(
		"Site=%s,ProductFamily=%s,Operation=%s,Partnumber=%s,Serialnumber=%s,Testdate=%s.xml",
		m.Site, m.ProductFamily, m.Operation, sanitizeComponent(part),
		sanitizeComponent(serial), ts.Format("2006-01-02T15.04.05"))
}

func sanitizeComponent(s string) string {
	r := strings.NewReplacer(":", ".", "/", "-", "\\", "-", ",", "_")
	return r.Replace(s)
}

func writeXML(path string, doc any) error {
	body, err := xml.MarshalIndent(doc, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal xml %s: %w", path, err)
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("create output dir: %w", err)
	}
	out := append([]byte(xml.Header), body...)
	out = append(out, '\n')
	if err := os.WriteFile(path, out, 0o644); err != nil {
		return fmt.Errorf("write xml %s: %w", path, err)
	}
	return nil
}
