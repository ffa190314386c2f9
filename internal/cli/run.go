package cli

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"sort"
	"syscall"

	"github.com/spf13/cobra"

	"edcfeed/internal/config"
	"edcfeed/internal/runner"
)

// RunOptions holds flags for the run command.
type RunOptions struct {
	*RootOptions
	All bool
}

// NewRunCommand creates the run command.
func NewRunCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &RunOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "run [job]",
		Short: "Run one job now, or every job with --all",
		Long: `Run processes a job's pending spreadsheet files end to end:
discovery, pipeline, sinks, cursor advance, run log. With --all every
job in the jobs directory runs, a bounded number in parallel.

Example:
  edcfeed run oven_log
  edcfeed run --all`,
		Args:          cobra.MaximumNArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runJobs(opts, cmd, args)
		},
	}

	cmd.Flags().BoolVar(&opts.All, "all", false, "run every job in the jobs directory")

	return cmd
}

func runJobs(opts *RunOptions, cmd *cobra.Command, args []string) error {
	if opts.All && len(args) > 0 {
		return NewExitError(ExitCommandError, "--all takes no job argument")
	}
	if !opts.All && len(args) == 0 {
		return NewExitError(ExitCommandError, "name a job or pass --all")
	}

	cfg, err := loadConfig(opts.RootOptions)
	if err != nil {
		return err
	}
	r, closeRunner, err := openRunner(cfg)
	if err != nil {
		return err
	}
	defer closeRunner()

	ctx, cancel := signal.NotifyContext(baseContext(cmd), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	if opts.All {
		return runAllJobs(ctx, cfg, r, cmd)
	}

	job, err := findJob(cfg, args[0])
	if err != nil {
		return err
	}

	res, err := r.RunJob(ctx, job)
	if res != nil {
		printResult(cmd, res)
	}
	if err != nil {
		var cfgErr *runner.ConfigError
		if errors.As(err, &cfgErr) {
			return WrapExitError(ExitCommandError, "job configuration", err)
		}
		return WrapExitError(ExitFailure, "run failed", err)
	}
	if res.Failed > 0 {
		return NewExitError(ExitFailure,
			fmt.Sprintf("%d of %d files failed", res.Failed, res.Files))
	}
	return nil
}

func runAllJobs(ctx context.Context, cfg *config.Config, r *runner.Runner, cmd *cobra.Command) error {
	jobs, problems, err := config.LoadJobs(cfg.Paths.JobsDir)
	if err != nil {
		return WrapExitError(ExitCommandError, "load jobs", err)
	}
	for _, path := range sortedKeys(problems) {
		fmt.Fprintf(cmd.ErrOrStderr(), "skipping %s: %v\n",
			filepath.Base(path), problems[path])
	}
	if len(jobs) == 0 {
		return NewExitError(ExitCommandError, "no runnable jobs in "+cfg.Paths.JobsDir)
	}

	results := r.RunAll(ctx, jobs)
	failed := len(problems)
	for _, res := range results {
		printResult(cmd, res)
		if res.Err != nil || res.Failed > 0 {
			failed++
		}
	}
	if failed > 0 {
		return NewExitError(ExitFailure,
			fmt.Sprintf("%d of %d jobs had failures", failed, len(jobs)+len(problems)))
	}
	return nil
}

func sortedKeys(m map[string]error) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// printResult writes a one-job summary to stdout.
func printResult(cmd *cobra.Command, res *runner.Result) {
	w := cmd.OutOrStdout()
	fmt.Fprintf(w, "%s: %d files, %d processed, %d skipped, %d failed\n",
		res.Job, res.Files, res.Processed, res.Skipped, res.Failed)
	for _, a := range res.Artifacts {
		fmt.Fprintf(w, "  wrote %s\n", a)
	}
	if res.Err != nil {
		fmt.Fprintf(w, "  error: %v\n", res.Err)
	}
}
