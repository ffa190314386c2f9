package cli

import (
	"context"
	"path/filepath"

	"github.com/spf13/cobra"

	"edcfeed/internal/config"
	"edcfeed/internal/history"
	"edcfeed/internal/logging"
	"edcfeed/internal/runner"
)

// loadConfig reads the process configuration and initialises logging
// with the persistent flag overrides applied.
func loadConfig(opts *RootOptions) (*config.Config, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, WrapExitError(ExitCommandError, "configuration", err)
	}

	level := cfg.Logging.Level
	if opts.Verbose {
		level = "debug"
	}
	format := cfg.Logging.Format
	if opts.LogFormat != "" {
		format = opts.LogFormat
	}
	logging.Setup(level, format)
	return cfg, nil
}

// openRunner opens the run log and builds a Runner over it. The caller
// must call the returned close function when done.
func openRunner(cfg *config.Config) (*runner.Runner, func(), error) {
	runs, err := history.Open(filepath.Join(cfg.Paths.StateDir, "history.db"))
	if err != nil {
		return nil, nil, WrapExitError(ExitCommandError, "open run history", err)
	}
	return runner.New(cfg, runs), func() { runs.Close() }, nil
}

// findJob resolves one job by name or fails with a command error.
func findJob(cfg *config.Config, name string) (*config.JobConfig, error) {
	job, err := config.FindJob(cfg.Paths.JobsDir, name)
	if err != nil {
		return nil, WrapExitError(ExitCommandError, "load jobs", err)
	}
	if job == nil {
		return nil, NewExitError(ExitCommandError, "unknown job \""+name+"\"")
	}
	return job, nil
}

// baseContext returns the command context, falling back to Background.
func baseContext(cmd *cobra.Command) context.Context {
	if ctx := cmd.Context(); ctx != nil {
		return ctx
	}
	return context.Background()
}
