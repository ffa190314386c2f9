package runner

import (
	"context"
	"errors"
	"fmt"

	"edcfeed/internal/history"
	"edcfeed/internal/lookup"
)

// ConfigError marks a problem in the job definition or its wiring, a
// missing sink format for instance. Nothing about the run can proceed
// until an operator fixes the file.
type ConfigError struct {
	Job string
	Err error
}

func (e *ConfigError) Error() string { return fmt.Sprintf("job %s: %v", e.Job, e.Err) }
func (e *ConfigError) Unwrap() error { return e.Err }

// ReadError marks a source file the reader could not make sense of: an
// unreadable workbook, a missing sheet, no data rows. The file is
// skipped, the cursor stays put, and a later pass retries it.
type ReadError struct {
	File string
	Err  error
}

func (e *ReadError) Error() string { return fmt.Sprintf("read %s: %v", e.File, e.Err) }
func (e *ReadError) Unwrap() error { return e.Err }

// IOError marks a failure writing artifacts or state. The next file
// would hit the same broken disk or share, so the whole run stops.
type IOError struct {
	Path string
	Err  error
}

func (e *IOError) Error() string { return fmt.Sprintf("write %s: %v", e.Path, e.Err) }
func (e *IOError) Unwrap() error { return e.Err }

// ErrAlreadyRunning reports a run request for a job that has not
// finished its previous run.
var ErrAlreadyRunning = errors.New("job is already running")

// statusOf maps a file-processing error to its run-log status. Skips
// are routine: the file stays eligible and a later pass picks it up.
func statusOf(err error) string {
	var re *ReadError
	switch {
	case err == nil:
		return history.StatusOK
	case errors.Is(err, lookup.ErrUnavailable):
		return history.StatusSkipped
	case errors.As(err, &re):
		return history.StatusSkipped
	default:
		return history.StatusFailed
	}
}

// fatal reports whether the error poisons the rest of the run.
func fatal(err error) bool {
	var ioe *IOError
	if errors.As(err, &ioe) {
		return true
	}
	return errors.Is(err, context.Canceled)
}
