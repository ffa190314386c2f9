package web

import (
	"fmt"
	"net/http"
	"path/filepath"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	"edcfeed/internal/config"
	"edcfeed/internal/history"
)

// jobView is one entry in the jobs listing. Problem is set for job
// files that failed to load; such entries carry no other detail.
type jobView struct {
	Name      string   `json:"name"`
	Site      string   `json:"site,omitempty"`
	Operation string   `json:"operation,omitempty"`
	Trigger   string   `json:"trigger"`
	Running   bool     `json:"running"`
	Watermark string   `json:"watermark,omitempty"`
	LastRun   *runView `json:"last_run,omitempty"`
	Problem   string   `json:"problem,omitempty"`
}

// runView is the JSON shape of one recorded run.
type runView struct {
	ID           string    `json:"id"`
	Job          string    `json:"job"`
	File         string    `json:"file,omitempty"`
	Status       string    `json:"status"`
	StartedAt    time.Time `json:"started_at"`
	FinishedAt   time.Time `json:"finished_at"`
	RowsRead     int       `json:"rows_read"`
	RowsKept     int       `json:"rows_kept"`
	RowsRejected int       `json:"rows_rejected"`
	FilteredOld  int       `json:"filtered_old"`
	Artifacts    []string  `json:"artifacts,omitempty"`
	Watermark    string    `json:"watermark,omitempty"`
	Error        string    `json:"error,omitempty"`
}

func runViewOf(run history.Run) runView {
	return runView{
		ID:           run.ID,
		Job:          run.Job,
		File:         run.File,
		Status:       run.Status,
		StartedAt:    run.StartedAt,
		FinishedAt:   run.FinishedAt,
		RowsRead:     run.RowsRead,
		RowsKept:     run.RowsKept,
		RowsRejected: run.RowsRejected,
		FilteredOld:  run.FilteredOld,
		Artifacts:    run.Artifacts,
		Watermark:    run.Watermark,
		Error:        run.Error,
	}
}

func runViewsOf(runs []history.Run) []runView {
	views := make([]runView, 0, len(runs))
	for _, run := range runs {
		views = append(views, runViewOf(run))
	}
	return views
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, map[string]string{
		"status": "ok",
		"time":   time.Now().Format(time.RFC3339),
	})
}

// handleListJobs reports every job file in the jobs directory, loadable
// or not, with its cursor position and most recent run.
func (s *Server) handleListJobs(w http.ResponseWriter, r *http.Request) {
	jobs, problems, err := config.LoadJobs(s.cfg.Paths.JobsDir)
	if err != nil {
		writeError(w, r, http.StatusInternalServerError, err)
		return
	}

	running := make(map[string]bool)
	for _, name := range s.runner.RunningJobs() {
		running[name] = true
	}

	views := make([]jobView, 0, len(jobs)+len(problems))
	for _, job := range jobs {
		view := jobView{
			Name:      job.Job.Name,
			Site:      job.Job.Site,
			Operation: job.Job.Operation,
			Trigger:   job.Trigger.Type,
			Running:   running[job.Job.Name],
		}
		if cur, ok := s.runner.Cursors().Current(job.Job.Name); ok {
			view.Watermark = cur.Format(time.RFC3339)
		}
		last, ok, err := s.runner.History().LastRun(r.Context(), job.Job.Name)
		if err != nil {
			writeError(w, r, http.StatusInternalServerError, err)
			return
		}
		if ok {
			lv := runViewOf(last)
			view.LastRun = &lv
		}
		views = append(views, view)
	}
	for path, perr := range problems {
		views = append(views, jobView{
			Name:    filepath.Base(path),
			Problem: perr.Error(),
		})
	}

	writeJSON(w, views)
}

// handleJobRuns returns the run history for one job, newest first.
func (s *Server) handleJobRuns(w http.ResponseWriter, r *http.Request) {
	name := chi.URLParam(r, "job")

	job, err := config.FindJob(s.cfg.Paths.JobsDir, name)
	if err != nil {
		writeError(w, r, http.StatusInternalServerError, err)
		return
	}
	if job == nil {
		writeError(w, r, http.StatusNotFound, fmt.Errorf("unknown job %q", name))
		return
	}

	limit := queryLimit(r, 20, 200)
	runs, err := s.runner.History().ListByJob(r.Context(), name, limit)
	if err != nil {
		writeError(w, r, http.StatusInternalServerError, err)
		return
	}

	writeJSON(w, runViewsOf(runs))
}

// handleRecentRuns returns the newest runs across all jobs.
func (s *Server) handleRecentRuns(w http.ResponseWriter, r *http.Request) {
	limit := queryLimit(r, 50, 500)
	runs, err := s.runner.History().Recent(r.Context(), limit)
	if err != nil {
		writeError(w, r, http.StatusInternalServerError, err)
		return
	}

	writeJSON(w, runViewsOf(runs))
}

// queryLimit reads the limit query parameter, clamped to max.
func queryLimit(r *http.Request, def, max int) int {
	raw := r.URL.Query().Get("limit")
	if raw == "" {
		return def
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n < 1 {
		return def
	}
	if n > max {
		return max
	}
	return n
}
