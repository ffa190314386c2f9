package runner

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/robfig/cron/v3"

	"edcfeed/internal/config"
)

// Daemon keeps jobs running unattended. Schedule triggers fire through
// cron; file_watch triggers fire once a watched input directory has
// settled. Manual jobs are left alone.
type Daemon struct {
	runner *Runner
	cfg    *config.Config
	log    *slog.Logger

	cron    *cron.Cron
	watcher *fsnotify.Watcher
	cancel  context.CancelFunc

	// runCtx outlives the trigger context so runs started before a
	// shutdown can drain instead of aborting mid-file.
	runCtx context.Context

	tmu    sync.Mutex
	timers map[string]*time.Timer
}

// NewDaemon builds a Daemon around an existing Runner.
func NewDaemon(r *Runner, cfg *config.Config) *Daemon {
	return &Daemon{
		runner: r,
		cfg:    cfg,
		log:    slog.Default().With("component", "daemon"),
		timers: make(map[string]*time.Timer),
	}
}

// cronLogger adapts slog to the cron package's logging interface. The
// scheduler's routine chatter stays at debug.
type cronLogger struct {
	l *slog.Logger
}

func (c cronLogger) Info(msg string, kv ...any) { c.l.Debug(msg, kv...) }
func (c cronLogger) Error(err error, msg string, kv ...any) {
	c.l.Error(msg, append(kv, "error", err)...)
}

// Start loads the jobs directory and brings up the scheduler and the
// file watcher. Broken job files are logged and skipped; they do not
// keep the daemon from starting.
func (d *Daemon) Start(ctx context.Context) error {
	jobs, problems, err := config.LoadJobs(d.cfg.Paths.JobsDir)
	if err != nil {
		return err
	}
	for path, perr := range problems {
		d.log.Error("job file rejected", "path", path, "error", perr)
	}
	if len(jobs) == 0 {
		d.log.Warn("no runnable jobs", "dir", d.cfg.Paths.JobsDir)
	}

	wctx, cancel := context.WithCancel(ctx)
	d.cancel = cancel
	d.runCtx = context.WithoutCancel(ctx)

	clog := cronLogger{d.log}
	d.cron = cron.New(
		cron.WithSeconds(),
		cron.WithChain(cron.SkipIfStillRunning(clog), cron.Recover(clog)),
	)

	scheduled, watched := 0, 0
	for _, job := range jobs {
		switch job.Trigger.Type {
		case config.TriggerSchedule:
			if err := d.schedule(job); err != nil {
				d.log.Error("schedule rejected",
					"job", job.Job.Name, "cron", job.Trigger.Cron, "error", err)
				continue
			}
			scheduled++
		case config.TriggerWatch:
			watched++
		}
	}
	d.cron.Start()

	if watched > 0 {
		if err := d.watch(wctx, jobs); err != nil {
			d.log.Error("file watching disabled", "error", err)
		}
	}

	d.log.Info("daemon started",
		"jobs", len(jobs), "scheduled", scheduled, "watched", watched)
	return nil
}

// Stop halts triggering, then waits for running jobs to drain until
// ctx expires.
func (d *Daemon) Stop(ctx context.Context) {
	if d.cancel != nil {
		d.cancel()
	}
	if d.cron != nil {
		d.cron.Stop()
	}
	if d.watcher != nil {
		d.watcher.Close()
	}

	d.tmu.Lock()
	for job, timer := range d.timers {
		timer.Stop()
		delete(d.timers, job)
	}
	d.tmu.Unlock()

	d.runner.Wait(ctx)
	d.log.Info("daemon stopped")
}

func (d *Daemon) schedule(job *config.JobConfig) error {
	name, path := job.Job.Name, job.Path
	_, err := d.cron.AddFunc(job.Trigger.Cron, func() {
		d.fire(name, path, "schedule")
	})
	return err
}

// fire re-loads the job file before running so edits take effect
// without a daemon restart.
func (d *Daemon) fire(name, path, trigger string) {
	job, err := config.LoadJob(path)
	if err != nil {
		d.log.Error("job file no longer loads",
			"job", name, "path", path, "error", err)
		return
	}

	d.log.Info("run triggered", "job", name, "trigger", trigger)
	if _, err := d.runner.RunJob(d.runCtx, job); err != nil {
		if errors.Is(err, ErrAlreadyRunning) {
			d.log.Warn("run still in progress, trigger dropped", "job", name)
			return
		}
		d.log.Error("run failed", "job", name, "error", err)
	}
}

// watchTarget is one (directory, pattern) a file_watch job listens on.
type watchTarget struct {
	job      string
	path     string
	dir      string
	pattern  string
	debounce time.Duration
}

func (d *Daemon) watch(ctx context.Context, jobs []*config.JobConfig) error {
	var targets []watchTarget
	for _, job := range jobs {
		if job.Trigger.Type != config.TriggerWatch {
			continue
		}
		debounce := job.Trigger.Debounce.Duration
		if debounce <= 0 {
			debounce = d.cfg.Runner.WatchDebounce
		}
		for _, g := range job.GlobPatterns() {
			targets = append(targets, watchTarget{
				job:      job.Job.Name,
				path:     job.Path,
				dir:      filepath.Clean(filepath.Dir(g)),
				pattern:  filepath.Base(g),
				debounce: debounce,
			})
		}
	}
	if len(targets) == 0 {
		return nil
	}

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("create watcher: %w", err)
	}
	d.watcher = watcher

	dirs := make(map[string]bool)
	for _, t := range targets {
		if dirs[t.dir] {
			continue
		}
		if err := watcher.Add(t.dir); err != nil {
			d.log.Error("cannot watch directory", "dir", t.dir, "error", err)
			continue
		}
		dirs[t.dir] = true
	}

	go d.watchLoop(ctx, watcher, targets)
	return nil
}

func (d *Daemon) watchLoop(ctx context.Context, watcher *fsnotify.Watcher, targets []watchTarget) {
	for {
		select {
		case <-ctx.Done():
			return
		case event, ok := <-watcher.Events:
			if !ok {
				return
			}
			if !event.Has(fsnotify.Create) && !event.Has(fsnotify.Write) && !event.Has(fsnotify.Rename) {
				continue
			}
			d.dispatch(event.Name, targets)
		case err, ok := <-watcher.Errors:
			if !ok {
				return
			}
			d.log.Error("watcher error", "error", err)
		}
	}
}

// dispatch matches a changed file against the watch targets and arms
// the debounce timer for every job it feeds.
func (d *Daemon) dispatch(file string, targets []watchTarget) {
	base := filepath.Base(file)
	// Spreadsheet applications drop lock files next to the export.
	if strings.HasPrefix(base, "~$") || strings.HasPrefix(base, ".") {
		return
	}
	dir := filepath.Clean(filepath.Dir(file))

	seen := make(map[string]bool)
	for _, t := range targets {
		if seen[t.job] || t.dir != dir {
			continue
		}
		if ok, _ := filepath.Match(t.pattern, base); !ok {
			continue
		}
		seen[t.job] = true
		d.debounce(t)
	}
}

// debounce delays the run until the input directory has been quiet for
// the target's window. Equipment writes exports in bursts and each
// burst should come out as one run.
func (d *Daemon) debounce(t watchTarget) {
	d.tmu.Lock()
	defer d.tmu.Unlock()
	if timer, ok := d.timers[t.job]; ok {
		timer.Stop()
	}
	d.timers[t.job] = time.AfterFunc(t.debounce, func() {
		d.tmu.Lock()
		delete(d.timers, t.job)
		d.tmu.Unlock()
		d.fire(t.job, t.path, "file_watch")
	})
}
