package cli

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"edcfeed/internal/cursor"
	"edcfeed/internal/history"
)

func TestJobsListing(t *testing.T) {
	jobsDir, stateDir := testEnv(t)
	writeJobFile(t, jobsDir, "oven_log.toml", ovenJob(t.TempDir(), t.TempDir()))

	mark := time.Date(2024, 1, 10, 11, 0, 0, 0, time.Local)
	require.NoError(t, cursor.NewStore(filepath.Join(stateDir, "cursors")).Set("oven_log", mark))

	runs, err := history.Open(filepath.Join(stateDir, "history.db"))
	require.NoError(t, err)
	require.NoError(t, runs.Record(context.Background(), &history.Run{
		Job:       "oven_log",
		File:      "export.xlsx",
		Status:    history.StatusOK,
		StartedAt: time.Date(2024, 1, 10, 12, 0, 0, 0, time.UTC),
	}))
	require.NoError(t, runs.Close())

	stdout, _, err := execute(t, "jobs")
	require.NoError(t, err)

	assert.Contains(t, stdout, "JOB")
	assert.Contains(t, stdout, "oven_log")
	assert.Contains(t, stdout, "manual")
	assert.Contains(t, stdout, "2024-01-10 11:00:00")
	assert.Contains(t, stdout, history.StatusOK)
}

func TestJobsNeverRun(t *testing.T) {
	jobsDir, _ := testEnv(t)
	writeJobFile(t, jobsDir, "oven_log.toml", ovenJob(t.TempDir(), t.TempDir()))

	stdout, _, err := execute(t, "jobs")
	require.NoError(t, err)

	assert.Contains(t, stdout, "oven_log")
	assert.Contains(t, stdout, "never")
}

func TestJobsReportsBrokenFiles(t *testing.T) {
	jobsDir, _ := testEnv(t)
	writeJobFile(t, jobsDir, "broken.toml", "[job]\nname = \"\"\n")

	_, stderr, err := execute(t, "jobs")
	require.NoError(t, err)
	assert.Contains(t, stderr, "broken job file broken.toml")
}
