package runner

import (
	"context"
	"fmt"
	"strings"
	"time"

	"edcfeed/internal/config"
	"edcfeed/internal/lookup"
	"edcfeed/internal/pipeline"
	"edcfeed/internal/sheet"
	"edcfeed/internal/source"
)

// PreviewResult is the dry-run outcome for one file: the finished batch
// with nothing written anywhere.
type PreviewResult struct {
	Job       string
	File      string
	Watermark time.Time
	RowsRead  int
	Batch     *pipeline.Batch
}

// Preview runs the newest eligible file through the full pipeline but
// writes no artifact, advances no cursor, and records no run. The
// per-job guard applies, so a preview never interleaves with a real run
// of the same job.
func (r *Runner) Preview(ctx context.Context, job *config.JobConfig) (*PreviewResult, error) {
	name := job.Job.Name
	if !r.guard.TryLock(name) {
		return nil, fmt.Errorf("%w: %s", ErrAlreadyRunning, name)
	}
	defer r.guard.Unlock(name)

	specs, err := job.FieldSpecs()
	if err != nil {
		return nil, &ConfigError{Job: name, Err: err}
	}
	columns, err := job.ColumnIndexes()
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
	if len(files) == 0 {
		return nil, fmt.Errorf("no input files match %s",
			strings.Join(job.GlobPatterns(), ", "))
	}
	path := files[len(files)-1]

	pl := buildPipeline(job, specs, client, nil)

	wb, err := sheet.Open(path)
	if err != nil {
		return nil, &ReadError{File: path, Err: err}
	}
	defer wb.Close()

	in, err := loadInput(wb, job, pl, columns, path, watermark)
	if err != nil {
		return nil, err
	}

	b, err := pl.Run(ctx, *in)
	if err != nil {
		return nil, err
	}

	return &PreviewResult{
		Job:       name,
		File:      path,
		Watermark: watermark,
		RowsRead:  in.Primary.NumRows(),
		Batch:     b,
	}, nil
}
