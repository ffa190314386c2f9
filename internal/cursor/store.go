// Package cursor persists the per-source high-water mark between runs.
//
// Each source owns one plain-text file holding a single timestamp in
// "2006-01-02 15:04:05" form. The watermark only moves forward: a run
// that saw nothing newer leaves the file untouched, so reprocessing after
// a crash is bounded by the last successful advance.
package cursor

import (
	"bytes"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"edcfeed/internal/schema"
)

// DefaultLookbackDays bounds the initial window when a source has no
// recorded watermark yet.
const DefaultLookbackDays = 30

// Store reads and advances watermark files under one directory.
type Store struct {
	dir string

	// Now is a test seam; production code leaves it nil.
	Now func() time.Time

	mu    sync.Mutex
	locks map[string]*sync.Mutex
}

// NewStore creates a store rooted at dir. The directory is created on
// first write, not here.
func NewStore(dir string) *Store {
	return &Store{dir: dir, locks: make(map[string]*sync.Mutex)}
}

func (s *Store) now() time.Time {
	if s.Now != nil {
		return s.Now()
	}
	return time.Now()
}

// sourceLock serializes writes per source id.
func (s *Store) sourceLock(sourceID string) *sync.Mutex {
	s.mu.Lock()
	defer s.mu.Unlock()
	l, ok := s.locks[sourceID]
	if !ok {
		l = &sync.Mutex{}
		s.locks[sourceID] = l
	}
	return l
}

// Path returns the watermark file for a source.
func (s *Store) Path(sourceID string) string {
	return filepath.Join(s.dir, sanitize(sourceID)+".cursor")
}

// Read returns the watermark for a source.
//
// A missing file yields now minus the lookback and leaves an empty
// placeholder behind, so the next run distinguishes "never ran" from
// "file vanished". An empty file is a fresh placeholder and yields the
// same default quietly. Unparseable contents are logged and also fall
// back to the default; a bad watermark must never stop a run.
func (s *Store) Read(sourceID string, lookbackDays int) (time.Time, error) {
	if lookbackDays <= 0 {
		lookbackDays = DefaultLookbackDays
	}
	fallback := s.now().AddDate(0, 0, -lookbackDays)

	lock := s.sourceLock(sourceID)
	lock.Lock()
	defer lock.Unlock()

	path := s.Path(sourceID)
	data, err := os.ReadFile(path)
	if err != nil {
		if !os.IsNotExist(err) {
			return time.Time{}, fmt.Errorf("read cursor %s: %w", path, err)
		}
		if err := os.MkdirAll(s.dir, 0o755); err != nil {
			return time.Time{}, fmt.Errorf("create cursor dir: %w", err)
		}
		if err := os.WriteFile(path, nil, 0o644); err != nil {
			return time.Time{}, fmt.Errorf("create cursor placeholder: %w", err)
		}
		slog.Info("no cursor yet, using lookback",
			"source", sourceID, "lookback_days", lookbackDays)
		return fallback, nil
	}

	raw := strings.TrimSpace(string(data))
	if raw == "" {
		return fallback, nil
	}

	ts, err := time.ParseInLocation(schema.CursorLayout, raw, time.Local)
	if err != nil {
		slog.Error("corrupt cursor, using lookback",
			"source", sourceID, "value", raw, "lookback_days", lookbackDays)
		return fallback, nil
	}
	return ts, nil
}

// Advance writes a new watermark if it is strictly greater than the
// stored one. Returns whether a write happened.
//
// The previous value is mirrored to a .bak sibling and the new value
// lands via temp-file-then-rename, so a crash mid-write can never leave
// a half-written watermark in place.
func (s *Store) Advance(sourceID string, ts time.Time) (bool, error) {
	if ts.IsZero() {
		return false, nil
	}

	lock := s.sourceLock(sourceID)
	lock.Lock()
	defer lock.Unlock()

	path := s.Path(sourceID)

	prev, err := os.ReadFile(path)
	if err == nil {
		if cur, perr := time.ParseInLocation(schema.CursorLayout,
			strings.TrimSpace(string(prev)), time.Local); perr == nil && !ts.After(cur) {
			return false, nil
		}
	} else if !os.IsNotExist(err) {
		return false, fmt.Errorf("read cursor %s: %w", path, err)
	}

	if err := os.MkdirAll(s.dir, 0o755); err != nil {
		return false, fmt.Errorf("create cursor dir: %w", err)
	}

	if len(bytes.TrimSpace(prev)) > 0 {
		if err := os.WriteFile(path+".bak", prev, 0o644); err != nil {
			slog.Warn("cursor backup failed", "source", sourceID, "error", err)
		}
	}

	tmp := path + ".tmp"
	value := ts.Format(schema.CursorLayout) + "\n"
	if err := os.WriteFile(tmp, []byte(value), 0o644); err != nil {
		return false, fmt.Errorf("write cursor temp %s: %w", tmp, err)
	}
	if err := os.Rename(tmp, path); err != nil {
		os.Remove(tmp)
		return false, fmt.Errorf("replace cursor %s: %w", path, err)
	}

	return true, nil
}

// Set overwrites the watermark unconditionally. Operator tooling only;
// normal runs go through Advance.
func (s *Store) Set(sourceID string, ts time.Time) error {
	lock := s.sourceLock(sourceID)
	lock.Lock()
	defer lock.Unlock()

	if err := os.MkdirAll(s.dir, 0o755); err != nil {
		return fmt.Errorf("create cursor dir: %w", err)
	}
	path := s.Path(sourceID)
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, []byte(ts.Format(schema.CursorLayout)+"\n"), 0o644); err != nil {
		return fmt.Errorf("write cursor temp %s: %w", tmp, err)
	}
	if err := os.Rename(tmp, path); err != nil {
		os.Remove(tmp)
		return fmt.Errorf("replace cursor %s: %w", path, err)
	}
	return nil
}

// Clear removes the watermark and its backup so the next run starts from
// the lookback window.
func (s *Store) Clear(sourceID string) error {
	lock := s.sourceLock(sourceID)
	lock.Lock()
	defer lock.Unlock()

	path := s.Path(sourceID)
	if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("remove cursor %s: %w", path, err)
	}
	os.Remove(path + ".bak")
	return nil
}

// Current returns the stored watermark without defaults. ok is false when
// no parseable watermark exists. Used by status reporting.
func (s *Store) Current(sourceID string) (time.Time, bool) {
	data, err := os.ReadFile(s.Path(sourceID))
	if err != nil {
		return time.Time{}, false
	}
	ts, err := time.ParseInLocation(schema.CursorLayout,
		strings.TrimSpace(string(data)), time.Local)
	if err != nil {
		return time.Time{}, false
	}
	return ts, true
}

// sanitize keeps source ids safe as file names.
func sanitize(s string) string {
	return strings.Map(func(r rune) rune {
		switch r {
		case '/', '\\', ':', '*', '?', '"', '<', '>', '|', ' ':
			return '_'
		}
		return r
	}, s)
}
