package history

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func openStore(t *testing.T) (*Store, string) {
	t.Helper()
	path := filepath.Join(t.TempDir(), "state", "history.db")
	s, err := Open(path)
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s, path
}

func sampleRun(job string, started time.Time) *Run {
	return &Run{
		Job:          job,
		File:         "/in/20240601_export.xlsx",
		Status:       StatusOK,
		StartedAt:    started,
		FinishedAt:   started.Add(3 * time.Second),
		RowsRead:     120,
		RowsKept:     100,
		RowsRejected: 5,
		FilteredOld:  15,
		Artifacts:    []string{"/out/feed.csv", "/out/result.xml"},
		Watermark:    "2024-06-01 11:59:40",
	}
}

func TestRecordAndListByJob(t *testing.T) {
	s, _ := openStore(t)
	ctx := context.Background()
	base := time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC)

	require.NoError(t, s.Record(ctx, sampleRun("pt-sput", base)))
	require.NoError(t, s.Record(ctx, sampleRun("pt-sput", base.Add(time.Hour))))
	require.NoError(t, s.Record(ctx, sampleRun("ld-sput", base.Add(2*time.Hour))))

	runs, err := s.ListByJob(ctx, "pt-sput", 10)
	require.NoError(t, err)
	require.Len(t, runs, 2)
	assert.True(t, runs[0].StartedAt.After(runs[1].StartedAt), "newest first")
	assert.Equal(t, 100, runs[0].RowsKept)
	assert.Equal(t, []string{"/out/feed.csv", "/out/result.xml"}, runs[0].Artifacts)
	assert.Equal(t, "2024-06-01 11:59:40", runs[0].Watermark)
}

func TestRecordAssignsID(t *testing.T) {
	s, _ := openStore(t)
	run := sampleRun("pt-sput", time.Now())

	require.NoError(t, s.Record(context.Background(), run))
	assert.NotEmpty(t, run.ID)
}

func TestRecent(t *testing.T) {
	s, _ := openStore(t)
	ctx := context.Background()
	base := time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC)

	for i := 0; i < 5; i++ {
		require.NoError(t, s.Record(ctx, sampleRun("job", base.Add(time.Duration(i)*time.Minute))))
	}

	runs, err := s.Recent(ctx, 3)
	require.NoError(t, err)
	require.Len(t, runs, 3)
	assert.Equal(t, base.Add(4*time.Minute).Unix(), runs[0].StartedAt.Unix())
}

func TestLastRun(t *testing.T) {
	s, _ := openStore(t)
	ctx := context.Background()

	_, found, err := s.LastRun(ctx, "never-ran")
	require.NoError(t, err)
	assert.False(t, found)

	failed := sampleRun("pt-sput", time.Now())
	failed.Status = StatusFailed
	failed.Error = "enrichment service unavailable"
	require.NoError(t, s.Record(ctx, failed))

	last, found, err := s.LastRun(ctx, "pt-sput")
	require.NoError(t, err)
	require.True(t, found)
	assert.Equal(t, StatusFailed, last.Status)
	assert.Equal(t, "enrichment service unavailable", last.Error)
}

func TestReopenKeepsRows(t *testing.T) {
	path := filepath.Join(t.TempDir(), "history.db")
	ctx := context.Background()

	s, err := Open(path)
	require.NoError(t, err)
	require.NoError(t, s.Record(ctx, sampleRun("pt-sput", time.Now())))
	require.NoError(t, s.Close())

	s, err = Open(path)
	require.NoError(t, err)
	defer s.Close()

	runs, err := s.ListByJob(ctx, "pt-sput", 10)
	require.NoError(t, err)
	assert.Len(t, runs, 1)
}

func TestOpenAppliesWAL(t *testing.T) {
	s, _ := openStore(t)

	var mode string
	require.NoError(t, s.DB().QueryRow("PRAGMA journal_mode").Scan(&mode))
	assert.Equal(t, "wal", mode)
}
