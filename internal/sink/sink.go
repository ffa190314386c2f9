// Package sink writes finished batches to their output artifacts: the
// CSV table the downstream loader ingests, and the XML result files
// that point the test-data system at it. Writers are looked up by name
// from a package registry so jobs can pick any combination.
package sink

import (
	"context"
	"fmt"
	"math/rand/v2"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"edcfeed/internal/pipeline"
	"edcfeed/internal/schema"
)

// Meta carries the identity a job stamps onto its artifacts. The
// *Field entries name output columns; the rest are literals.
type Meta struct {
	Operation     string
	Site          string
	ProductFamily string
	TestStation   string
	Operator      string

	SerialField string
	PartField   string
	LotField    string
	TimeField   string
}

// Request is one batch ready for writing. CSVPath is resolved before
// any writer runs because the pointer XML must reference it.
type Request struct {
	Meta       Meta
	Columns    []string
	Records    []pipeline.Row
	OutDir     string
	CSVPath    string
	Units      map[string]string
	MiscFields []string
	Timestamp  time.Time
}

// Writer produces one artifact kind for a batch and reports the paths
// it wrote.
type Writer interface {
	Name() string
	Write(ctx context.Context, req *Request) ([]string, error)
}

var (
	regMu   sync.RWMutex
	writers = make(map[string]Writer)
)

// Register adds a writer under its name. Registering the same name
// twice is a programming error and panics.
func Register(w Writer) {
	regMu.Lock()
	defer regMu.Unlock()
	if _, dup := writers[w.Name()]; dup {
		panic(fmt.Sprintf("sink: writer %q registered twice", w.Name()))
	}
	writers[w.Name()] = w
}

// Get returns the writer registered under name.
func Get(name string) (Writer, bool) {
	regMu.RLock()
	defer regMu.RUnlock()
	w, ok := writers[name]
	return w, ok
}

// Names lists the registered writer names, sorted.
func Names() []string {
	regMu.RLock()
	defer regMu.RUnlock()
	names := make([]string, 0, len(writers))
	for name := range writers {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// For resolves a job's format list into writers, keeping the requested
// order so the CSV lands before anything that references it.
func For(formats []string) ([]Writer, error) {
	out := make([]Writer, 0, len(formats))
	for _, name := range formats {
		w, ok := Get(name)
		if !ok {
			return nil, fmt.Errorf("unknown output format %q (have %s)",
				name, strings.Join(Names(), ", "))
		}
		out = append(out, w)
	}
	return out, nil
}

// ResolveCSVPath picks the CSV artifact path: the fixed name when one
// is configured, otherwise prefix_YYYYMMDDHHMMrr.csv where rr is a
// two-digit random suffix keeping concurrent runs apart.
func ResolveCSVPath(dir, fixed, prefix string, ts time.Time) string {
	if fixed != "" {
		return filepath.Join(dir, fixed)
	}
	name := fmt.Sprintf("%s_%s%02d.csv", prefix, ts.Format("200601021504"), rand.IntN(100))
	return filepath.Join(dir, name)
}

// fieldOf reads a named column from a record as a display string.
func fieldOf(rec pipeline.Record, field string) string {
	if field == "" {
		return ""
	}
	return schema.Stringify(rec[field])
}
