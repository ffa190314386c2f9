package cli

import (
	"context"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"edcfeed/internal/history"
)

func seedRuns(t *testing.T, stateDir string, entries []history.Run) {
	t.Helper()
	runs, err := history.Open(filepath.Join(stateDir, "history.db"))
	require.NoError(t, err)
	for i := range entries {
		require.NoError(t, runs.Record(context.Background(), &entries[i]))
	}
	require.NoError(t, runs.Close())
}

func TestRunsListing(t *testing.T) {
	_, stateDir := testEnv(t)
	base := time.Date(2024, 1, 10, 12, 0, 0, 0, time.UTC)
	seedRuns(t, stateDir, []history.Run{
		{Job: "oven_log", File: "a.xlsx", Status: history.StatusOK, StartedAt: base, RowsRead: 10, RowsKept: 8},
		{Job: "probe_cal", File: "b.xlsx", Status: history.StatusFailed, StartedAt: base.Add(time.Minute), Error: "read failed"},
	})

	stdout, _, err := execute(t, "runs")
	require.NoError(t, err)

	assert.Contains(t, stdout, "STARTED")
	assert.Contains(t, stdout, "oven_log")
	assert.Contains(t, stdout, "probe_cal")
	assert.Contains(t, stdout, "a.xlsx")
	assert.Contains(t, stdout, "read failed")

	// Newest first.
	probeIdx := strings.Index(stdout, "probe_cal")
	ovenIdx := strings.Index(stdout, "oven_log")
	assert.Less(t, probeIdx, ovenIdx)
}

func TestRunsFilterByJob(t *testing.T) {
	_, stateDir := testEnv(t)
	base := time.Date(2024, 1, 10, 12, 0, 0, 0, time.UTC)
	seedRuns(t, stateDir, []history.Run{
		{Job: "oven_log", Status: history.StatusOK, StartedAt: base},
		{Job: "probe_cal", Status: history.StatusOK, StartedAt: base.Add(time.Minute)},
	})

	stdout, _, err := execute(t, "runs", "oven_log")
	require.NoError(t, err)

	assert.Contains(t, stdout, "oven_log")
	assert.NotContains(t, stdout, "probe_cal")
}

func TestRunsLimit(t *testing.T) {
	_, stateDir := testEnv(t)
	base := time.Date(2024, 1, 10, 12, 0, 0, 0, time.UTC)
	var entries []history.Run
	for i := 0; i < 5; i++ {
		entries = append(entries, history.Run{
			Job:       "oven_log",
			File:      "export.xlsx",
			Status:    history.StatusOK,
			StartedAt: base.Add(time.Duration(i) * time.Minute),
		})
	}
	seedRuns(t, stateDir, entries)

	stdout, _, err := execute(t, "runs", "--limit", "2")
	require.NoError(t, err)

	// Header plus two rows.
	lines := strings.Split(strings.TrimSpace(stdout), "\n")
	assert.Len(t, lines, 3)
}

func TestRunsEmptyHistory(t *testing.T) {
	testEnv(t)

	stdout, _, err := execute(t, "runs")
	require.NoError(t, err)
	assert.Contains(t, stdout, "no runs recorded")
}

func TestRunsRejectsBadLimit(t *testing.T) {
	testEnv(t)

	_, _, err := execute(t, "runs", "--limit", "0")
	require.Error(t, err)
	assert.Equal(t, ExitCommandError, GetExitCode(err))
	assert.Contains(t, err.Error(), "--limit must be positive")
}
