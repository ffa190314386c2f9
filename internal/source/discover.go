// Package source finds the spreadsheet files a job should process.
// Exports land on shared directories with lock files and months of
// history, so discovery filters early: glob, drop editor droppings,
// optionally keep only date-prefixed files inside a recent window.
package source

import (
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"
)

const datePrefixLayout = "20060102"

// Options control one job's discovery pass.
type Options struct {
	// Patterns are glob patterns, evaluated in order.
	Patterns []string
	// RecentDays keeps only files whose name starts with a YYYYMMDD
	// date inside the last N days. Zero disables the filter.
	RecentDays int
	// NewestOnly reduces the result to the single most recently
	// modified file.
	NewestOnly bool
	// Now is a test seam; nil means time.Now.
	Now func() time.Time
}

// Discover returns the matching files sorted by modification time,
// oldest first, so cursor advancement follows the export order.
func Discover(opts Options) ([]string, error) {
	now := time.Now
	if opts.Now != nil {
		now = opts.Now
	}

	type candidate struct {
		path  string
		mtime time.Time
	}

	seen := make(map[string]bool)
	var found []candidate

	for _, pattern := range opts.Patterns {
		matches, err := filepath.Glob(pattern)
		if err != nil {
			return nil, fmt.Errorf("bad input pattern %q: %w", pattern, err)
		}
		for _, path := range matches {
			if seen[path] {
				continue
			}
			seen[path] = true

			base := filepath.Base(path)
			if strings.HasPrefix(base, "~$") || strings.HasPrefix(base, ".") {
				continue
			}
			if opts.RecentDays > 0 && !withinRecentDays(base, opts.RecentDays, now()) {
				continue
			}

			info, err := os.Stat(path)
			if err != nil {
				slog.Warn("skipping unreadable input file", "path", path, "error", err)
				continue
			}
			if info.IsDir() {
				continue
			}
			found = append(found, candidate{path: path, mtime: info.ModTime()})
		}
	}

	sort.Slice(found, func(i, j int) bool {
		if found[i].mtime.Equal(found[j].mtime) {
			return found[i].path < found[j].path
		}
		return found[i].mtime.Before(found[j].mtime)
	})

	if opts.NewestOnly && len(found) > 1 {
		found = found[len(found)-1:]
	}

	paths := make([]string, len(found))
	for i, c := range found {
		paths[i] = c.path
	}
	return paths, nil
}

// withinRecentDays checks the YYYYMMDD prefix convention used by the
// equipment exporters. Files without a parseable date prefix are
// excluded when the window filter is on.
func withinRecentDays(base string, days int, now time.Time) bool {
	if len(base) < len(datePrefixLayout) {
		return false
	}
	d, err := time.ParseInLocation(datePrefixLayout, base[:len(datePrefixLayout)], time.Local)
	if err != nil {
		return false
	}
	earliest := now.AddDate(0, 0, -days)
	return !d.Before(earliest.Truncate(24*time.Hour)) && !d.After(now)
}

// CopyToWork copies a source file into the working directory and
// returns the copy's path. Exports live on network shares that the
// equipment keeps half-locked; reading a local copy avoids tripping
// over the writer.
func CopyToWork(path, workDir string) (string, error) {
	if err := os.MkdirAll(workDir, 0o755); err != nil {
		return "", fmt.Errorf("create work dir: %w", err)
	}
	dst := filepath.Join(workDir, filepath.Base(path))

	in, err := os.Open(path)
	if err != nil {
		return "", fmt.Errorf("open source %s: %w", path, err)
	}
	defer in.Close()

	out, err := os.Create(dst)
	if err != nil {
		return "", fmt.Errorf("create work copy %s: %w", dst, err)
	}
	if _, err := io.Copy(out, in); err != nil {
		out.Close()
		return "", fmt.Errorf("copy %s: %w", path, err)
	}
	if err := out.Close(); err != nil {
		return "", fmt.Errorf("close work copy %s: %w", dst, err)
	}
	return dst, nil
}
