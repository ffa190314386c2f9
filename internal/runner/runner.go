// Package runner executes jobs end to end: it discovers eligible
// spreadsheets, drives the pipeline over each one, writes the
// artifacts, advances the cursor, and records every attempt in the run
// log. Per-file problems never take down a job and per-job problems
// never take down the process.
package runner

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/google/uuid"

	"edcfeed/internal/config"
	"edcfeed/internal/cursor"
	"edcfeed/internal/history"
	"edcfeed/internal/logging"
	"edcfeed/internal/lookup"
	"edcfeed/internal/pipeline"
	"edcfeed/internal/schema"
	"edcfeed/internal/sheet"
	"edcfeed/internal/sink"
	"edcfeed/internal/source"
)

// Runner owns the shared state every job run needs: the cursor store,
// the run log, and the guard that keeps each job to one run at a time.
// One Runner serves the whole process; RunJob is safe to call
// concurrently for different jobs.
type Runner struct {
	cfg     *config.Config
	cursors *cursor.Store
	runs    *history.Store
	guard   runGuard

	// OpenLookup is swapped in tests to avoid a live enrichment store.
	OpenLookup func(ctx context.Context, cfg lookup.Config) (lookup.Client, error)
	// Now is a test seam for run and artifact timestamps.
	Now func() time.Time
}

// New builds a Runner on the process configuration and an open run log.
func New(cfg *config.Config, runs *history.Store) *Runner {
	return &Runner{
		cfg:     cfg,
		cursors: cursor.NewStore(filepath.Join(cfg.Paths.StateDir, "cursors")),
		runs:    runs,
		OpenLookup: func(ctx context.Context, lc lookup.Config) (lookup.Client, error) {
			return lookup.OpenSQL(ctx, lc)
		},
		Now: time.Now,
	}
}

// Cursors exposes the cursor store for operator tooling.
func (r *Runner) Cursors() *cursor.Store { return r.cursors }

// History exposes the run log for the status API.
func (r *Runner) History() *history.Store { return r.runs }

// RunningJobs lists the jobs currently mid-run.
func (r *Runner) RunningJobs() []string { return r.guard.Running() }

// Wait blocks until every running job finishes or ctx is cancelled.
func (r *Runner) Wait(ctx context.Context) { r.guard.WaitAll(ctx) }

// Result summarises one job run across all discovered files.
type Result struct {
	Job       string
	Files     int
	Processed int
	Skipped   int
	Failed    int
	Artifacts []string
	Watermark time.Time
	Err       error
}

// RunJob processes every eligible file for one job, oldest first.
// Per-file problems land in the run log and the Result counters; a
// non-nil error means the run as a whole could not proceed or was cut
// short.
func (r *Runner) RunJob(ctx context.Context, job *config.JobConfig) (*Result, error) {
	name := job.Job.Name
	if !r.guard.TryLock(name) {
		return nil, fmt.Errorf("%w: %s", ErrAlreadyRunning, name)
	}
	defer r.guard.Unlock(name)

	runID := uuid.NewString()
	log := logging.ForJob(ctx, name, runID)

	specs, err := job.FieldSpecs()
	if err != nil {
		return nil, &ConfigError{Job: name, Err: err}
	}
	columns, err := job.ColumnIndexes()
	if err != nil {
		return nil, &ConfigError{Job: name, Err: err}
	}
	writers, err := sink.For(job.Output.Formats)
	if err != nil {
		return nil, &ConfigError{Job: name, Err: err}
	}

	var client lookup.Client
	if job.Lookup.Enabled {
		client, err = r.OpenLookup(ctx, lookup.Config{
			Driver:         job.Lookup.Driver,
			DSN:            job.ExpandedDSN(),
			Query:          job.Lookup.Query,
			Attrs:          job.Lookup.Attrs,
			Timeout:        job.Lookup.Timeout.Duration,
			ConnectRetries: job.Lookup.Retries,
			RetryBackoff:   job.Lookup.RetryBackoff.Duration,
		})
		if err != nil {
			r.recordJobProblem(ctx, name, err, log)
			return nil, err
		}
		defer client.Close()
	}

	watermark, err := r.cursors.Read(name, job.Cursor.LookbackDays)
	if err != nil {
		return nil, &IOError{Path: r.cursors.Path(name), Err: err}
	}

	files, err := source.Discover(source.Options{
		Patterns:   job.GlobPatterns(),
		RecentDays: job.Input.RecentDays,
		NewestOnly: job.Input.NewestOnly,
		Now:        r.Now,
	})
	if err != nil {
		return nil, &ConfigError{Job: name, Err: err}
	}
	log.Info("discovery complete",
		"files", len(files), "watermark", watermark.Format(schema.CursorLayout))

	pl := buildPipeline(job, specs, client, log)
	res := &Result{Job: name, Files: len(files), Watermark: watermark}

	for _, path := range files {
		if ctx.Err() != nil {
			res.Err = ctx.Err()
			break
		}

		fctx := ctx
		var cancel context.CancelFunc = func() {}
		if r.cfg.Runner.FileTimeout > 0 {
			fctx, cancel = context.WithTimeout(ctx, r.cfg.Runner.FileTimeout)
		}
		run, next, perr := r.processFile(fctx, job, pl, columns, writers, path, watermark, log)
		cancel()
		watermark = next

		run.Status = statusOf(perr)
		run.FinishedAt = r.Now()
		if perr != nil {
			run.Error = perr.Error()
		}
		if rerr := r.runs.Record(ctx, run); rerr != nil {
			log.Error("run log write failed", "file", path, "error", rerr)
		}

		switch run.Status {
		case history.StatusOK:
			res.Processed++
			res.Artifacts = append(res.Artifacts, run.Artifacts...)
		case history.StatusSkipped:
			res.Skipped++
			log.Warn("file skipped", "file", path, "reason", perr.Error())
		default:
			res.Failed++
			log.Error("file failed", "file", path, "error", perr)
		}

		if perr != nil && fatal(perr) {
			res.Err = perr
			break
		}
	}

	res.Watermark = watermark
	log.Info("job finished",
		"files", res.Files, "processed", res.Processed,
		"skipped", res.Skipped, "failed", res.Failed)
	return res, res.Err
}

// RunAll executes the given jobs concurrently, a bounded number at a
// time. Each job's outcome lands in the matching Result slot.
func (r *Runner) RunAll(ctx context.Context, jobs []*config.JobConfig) []*Result {
	workers := r.cfg.Runner.Workers
	if workers <= 0 {
		workers = 1
	}
	sem := make(chan struct{}, workers)
	results := make([]*Result, len(jobs))

	var wg sync.WaitGroup
	for i, job := range jobs {
		wg.Add(1)
		go func() {
			defer wg.Done()
			select {
			case sem <- struct{}{}:
			case <-ctx.Done():
				results[i] = &Result{Job: job.Job.Name, Err: ctx.Err()}
				return
			}
			defer func() { <-sem }()

			res, err := r.RunJob(ctx, job)
			if res == nil {
				res = &Result{Job: job.Job.Name}
			}
			res.Err = err
			results[i] = res
		}()
	}
	wg.Wait()
	return results
}

// processFile runs one source file through the pipeline and the sinks,
// advancing the cursor afterwards. It returns the run-log entry, the
// watermark for the next file, and the classification error if the
// file could not be finished.
func (r *Runner) processFile(
	ctx context.Context,
	job *config.JobConfig,
	pl *pipeline.Pipeline,
	columns []int,
	writers []sink.Writer,
	path string,
	watermark time.Time,
	log *slog.Logger,
) (*history.Run, time.Time, error) {
	started := r.Now()
	run := &history.Run{
		ID:        uuid.NewString(),
		Job:       job.Job.Name,
		File:      path,
		StartedAt: started,
	}
	next := watermark

	srcPath := path
	if job.Input.CopyToWorkdir {
		workDir := filepath.Join(r.cfg.Paths.WorkDir, job.Job.Name)
		copied, err := source.CopyToWork(path, workDir)
		if err != nil {
			return run, next, &ReadError{File: path, Err: err}
		}
		defer os.Remove(copied)
		srcPath = copied
	}

	wb, err := sheet.Open(srcPath)
	if err != nil {
		return run, next, &ReadError{File: path, Err: err}
	}
	defer wb.Close()

	in, err := loadInput(wb, job, pl, columns, path, watermark)
	if err != nil {
		return run, next, err
	}
	run.RowsRead = in.Primary.NumRows()

	b, err := pl.Run(ctx, *in)
	if err != nil {
		return run, next, err
	}

	run.RowsKept = len(b.Records)
	run.RowsRejected = len(b.Rejects)
	run.FilteredOld = b.FilteredOld
	logRejects(b, log)

	req := &sink.Request{
		Meta:       metaOf(job),
		Columns:    orderColumns(b.Columns, job.Output.ColumnOrder),
		Records:    b.Records,
		OutDir:     job.Output.Dir,
		CSVPath:    sink.ResolveCSVPath(job.Output.Dir, job.Output.CSVFile, job.Output.CSVPrefix, started),
		Units:      job.Output.Units,
		MiscFields: job.Output.MiscFields,
		Timestamp:  started,
	}
	for _, w := range writers {
		paths, werr := w.Write(ctx, req)
		if werr != nil {
			return run, next, &IOError{Path: job.Output.Dir, Err: werr}
		}
		run.Artifacts = append(run.Artifacts, paths...)
	}

	advanced, err := r.cursors.Advance(job.Job.Name, b.MaxSeen)
	if err != nil {
		return run, next, &IOError{Path: r.cursors.Path(job.Job.Name), Err: err}
	}
	if b.MaxSeen.After(next) {
		next = b.MaxSeen
	}
	if !next.IsZero() {
		run.Watermark = next.Format(schema.CursorLayout)
	}
	if advanced {
		log.Info("cursor advanced", "watermark", run.Watermark)
	}

	log.Info("file processed",
		"file", filepath.Base(path),
		"rows_read", run.RowsRead,
		"rows_kept", run.RowsKept,
		"rows_rejected", run.RowsRejected,
		"filtered_old", run.FilteredOld,
		"artifacts", len(run.Artifacts))
	return run, next, nil
}

// loadInput reads the primary table, any cell-addressed fields, and the
// secondary sheet, assembling the pipeline input for one file.
func loadInput(wb *sheet.Workbook, job *config.JobConfig, pl *pipeline.Pipeline, columns []int, path string, watermark time.Time) (*pipeline.Input, error) {
	tbl, err := wb.Table(sheet.ReadOptions{
		Sheet:         job.Input.Sheet,
		PickLatest:    job.Input.SheetPickLatest,
		SkipRows:      job.Input.SkipRows,
		DetectHeader:  job.Input.HeaderLabels,
		MinHeaderHits: job.Input.HeaderMinHits,
		Columns:       columns,
		KeyColumn:     job.Input.KeyColumn,
	})
	if err != nil {
		return nil, &ReadError{File: path, Err: err}
	}
	if tbl.Empty() {
		return nil, &ReadError{File: path, Err: fmt.Errorf("no data rows")}
	}

	var cells map[string]string
	if addrs := pl.Specs.CellAddrs(); len(addrs) > 0 {
		if cells, err = wb.Cells(tbl.Sheet, addrs); err != nil {
			return nil, &ReadError{File: path, Err: err}
		}
	}

	var secondary *sheet.Table
	if job.Secondary.Sheet != "" {
		secondary, err = wb.Table(sheet.ReadOptions{
			Sheet:      job.Secondary.Sheet,
			PickLatest: job.Secondary.PickLatest,
			SkipRows:   job.Secondary.SkipRows,
			KeyColumn:  -1,
		})
		if err != nil {
			return nil, &ReadError{File: path, Err: err}
		}
	}

	return &pipeline.Input{
		File:      filepath.Base(path),
		RowOffset: tbl.Offset,
		Primary:   tbl,
		Cells:     cells,
		Secondary: secondary,
		Watermark: watermark,
	}, nil
}

// recordJobProblem writes a run-log entry for a failure that happened
// before any file was touched, a dead enrichment store for instance.
func (r *Runner) recordJobProblem(ctx context.Context, job string, err error, log *slog.Logger) {
	now := r.Now()
	run := &history.Run{
		ID:         uuid.NewString(),
		Job:        job,
		Status:     statusOf(err),
		StartedAt:  now,
		FinishedAt: now,
		Error:      err.Error(),
	}
	if rerr := r.runs.Record(ctx, run); rerr != nil {
		log.Error("run log write failed", "error", rerr)
	}
}

func logRejects(b *pipeline.Batch, log *slog.Logger) {
	if len(b.Rejects) == 0 {
		return
	}
	for _, rej := range b.Rejects {
		log.Debug("row rejected", "file", rej.File, "line", rej.Line,
			"field", rej.Field, "reason", rej.Reason, "data", rej.Data)
	}
	log.Warn("rows rejected", "file", b.File, "count", len(b.Rejects))
}

// buildPipeline maps the job configuration onto pipeline options.
func buildPipeline(job *config.JobConfig, specs schema.FieldSpecs, client lookup.Client, log *slog.Logger) *pipeline.Pipeline {
	return &pipeline.Pipeline{
		Specs:     specs,
		Timestamp: job.Fields.TimestampField,
		KeyField:  job.Lookup.KeyField,
		Client:    client,
		Attrs:     job.Lookup.Attrs,
		Merge: pipeline.MergeOptions{
			Enabled:    job.Secondary.PointCount > 0,
			PointCount: job.Secondary.PointCount,
			XColumn:    job.Secondary.XColumn,
			YColumn:    job.Secondary.YColumn,
			XPrefix:    job.Secondary.XPrefix,
			YPrefix:    job.Secondary.YPrefix,
			Required:   job.Secondary.Required,
		},
		Transform: pipeline.TransformOptions{
			Normalize:     job.Transform.Normalize,
			ValueMaps:     job.Transform.ValueMap,
			ExcludeValues: job.Transform.Exclude,
			Serial: pipeline.SerialOptions{
				Field:         job.Transform.SerialField,
				Source:        job.Transform.SerialSource,
				Prefix:        job.Transform.SerialPrefix,
				Suffix:        job.Transform.SerialSuffix,
				FromTimestamp: job.Transform.SerialFromTimestamp,
			},
			Rename:      job.Transform.Rename,
			Constants:   job.Transform.Constants,
			DropColumns: job.Transform.DropColumns,
		},
		Resample: pipeline.ResampleOptions{
			IntervalMinutes: job.Resample.IntervalMinutes,
			GroupKey:        job.Resample.GroupKey,
			TieBreak:        job.Resample.TieBreakField,
		},
		SortKeys: job.Output.SortKeys,
		Log:      log,
	}
}

func metaOf(job *config.JobConfig) sink.Meta {
	return sink.Meta{
		Operation:     job.Job.Operation,
		Site:          job.Job.Site,
		ProductFamily: job.Job.ProductFamily,
		TestStation:   job.Job.TestStation,
		Operator:      job.Job.Operator,
		SerialField:   job.Output.SerialField,
		PartField:     job.Output.PartField,
		LotField:      job.Output.LotField,
		TimeField:     job.Output.TimeField,
	}
}

// orderColumns applies the configured output column order. An empty
// order keeps the pipeline's column order.
func orderColumns(got, want []string) []string {
	if len(want) == 0 {
		return got
	}
	return want
}
