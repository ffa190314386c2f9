package cli

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"edcfeed/internal/cursor"
)

func TestPreviewPrintsRecordsAndRejects(t *testing.T) {
	jobsDir, stateDir := testEnv(t)
	inputDir := t.TempDir()
	outDir := filepath.Join(t.TempDir(), "out")
	writeJobFile(t, jobsDir, "oven_log.toml", ovenJob(inputDir, outDir))

	base := time.Now().Add(-2 * time.Hour).Truncate(time.Second)
	writeExport(t, inputDir, "export.xlsx", [][]any{
		{"SN001", base.Format("2006/01/02 15:04:05"), 1.5},
		{"SN002", "not a time", 2.5},
	})

	stdout, _, err := execute(t, "preview", "--job", "oven_log")
	require.NoError(t, err)

	assert.Contains(t, stdout, "export.xlsx")
	assert.Contains(t, stdout, "2 read, 1 kept, 1 rejected")
	assert.Contains(t, stdout, "serial")
	assert.Contains(t, stdout, "SN001")
	assert.Contains(t, stdout, "rejects (1):")
	assert.Contains(t, stdout, "ts: invalid timestamp x1")

	// A preview leaves no trace: no artifact, no cursor.
	_, err = os.Stat(outDir)
	assert.True(t, os.IsNotExist(err))
	_, ok := cursor.NewStore(filepath.Join(stateDir, "cursors")).Current("oven_log")
	assert.False(t, ok)
}

func TestPreviewLimitsRows(t *testing.T) {
	jobsDir, _ := testEnv(t)
	inputDir := t.TempDir()
	writeJobFile(t, jobsDir, "oven_log.toml", ovenJob(inputDir, filepath.Join(t.TempDir(), "out")))

	base := time.Now().Add(-3 * time.Hour).Truncate(time.Second)
	writeExport(t, inputDir, "export.xlsx", [][]any{
		{"SN001", base.Format("2006/01/02 15:04:05"), 1.0},
		{"SN002", base.Add(time.Hour).Format("2006/01/02 15:04:05"), 2.0},
		{"SN003", base.Add(2 * time.Hour).Format("2006/01/02 15:04:05"), 3.0},
	})

	stdout, _, err := execute(t, "preview", "--job", "oven_log", "--rows", "1")
	require.NoError(t, err)

	assert.Contains(t, stdout, "SN001")
	assert.NotContains(t, stdout, "SN003")
	assert.Contains(t, stdout, "... and 2 more")
}

func TestPreviewUnknownJob(t *testing.T) {
	testEnv(t)

	_, _, err := execute(t, "preview", "--job", "ghost")
	require.Error(t, err)
	assert.Equal(t, ExitCommandError, GetExitCode(err))
}

func TestPreviewNoMatchingFiles(t *testing.T) {
	jobsDir, _ := testEnv(t)
	writeJobFile(t, jobsDir, "oven_log.toml", ovenJob(t.TempDir(), filepath.Join(t.TempDir(), "out")))

	_, _, err := execute(t, "preview", "--job", "oven_log")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "no input files match")
}
