package sink

import (
	"context"
	"encoding/csv"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"edcfeed/internal/schema"
)

// utf8BOM keeps desktop spreadsheet tools from misreading the file as
// the local ANSI code page.
const utf8BOM = "\xef\xbb\xbf"

func init() { Register(csvWriter{}) }

// Concurrent jobs may share one accumulating CSV. The existence check
// and the append must happen under the same per-path lock or both
// writers would emit a header.
var (
	pathMu    sync.Mutex
	pathLocks = make(map[string]*sync.Mutex)
)

func lockPath(path string) *sync.Mutex {
	pathMu.Lock()
	defer pathMu.Unlock()
	m, ok := pathLocks[path]
	if !ok {
		m = &sync.Mutex{}
		pathLocks[path] = m
	}
	return m
}

// csvWriter appends batches to a single CSV artifact. The BOM and the
// header row are written only when the file does not exist yet, so a
// feed accumulates across runs.
type csvWriter struct{}

func (csvWriter) Name() string { return "csv" }

func (csvWriter) Write(ctx context.Context, req *Request) ([]string, error) {
	if len(req.Records) == 0 {
		return nil, nil
	}
	if err := os.MkdirAll(filepath.Dir(req.CSVPath), 0o755); err != nil {
		return nil, fmt.Errorf("create output dir: %w", err)
	}

	mu := lockPath(filepath.Clean(req.CSVPath))
	mu.Lock()
	defer mu.Unlock()

	_, statErr := os.Stat(req.CSVPath)
	fresh := os.IsNotExist(statErr)

	f, err := os.OpenFile(req.CSVPath, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return nil, fmt.Errorf("open csv %s: %w", req.CSVPath, err)
	}
	defer f.Close()

	if fresh {
		if _, err := f.WriteString(utf8BOM); err != nil {
			return nil, fmt.Errorf("write csv %s: %w", req.CSVPath, err)
		}
	}

	w := csv.NewWriter(f)
	if fresh {
		if err := w.Write(req.Columns); err != nil {
			return nil, fmt.Errorf("write csv header %s: %w", req.CSVPath, err)
		}
	}

	line := make([]string, len(req.Columns))
	for i, rec := range req.Records {
		if i%256 == 0 {
			select {
			case <-ctx.Done():
				return nil, ctx.Err()
			default:
			}
		}
		for j, col := range req.Columns {
			line[j] = schema.Stringify(rec.Values[col])
		}
		if err := w.Write(line); err != nil {
			return nil, fmt.Errorf("write csv row %s: %w", req.CSVPath, err)
		}
	}

	w.Flush()
	if err := w.Error(); err != nil {
		return nil, fmt.Errorf("flush csv %s: %w", req.CSVPath, err)
	}
	if err := f.Close(); err != nil {
		return nil, fmt.Errorf("close csv %s: %w", req.CSVPath, err)
	}
	return []string{req.CSVPath}, nil
}
