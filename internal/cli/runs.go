package cli

import (
	"fmt"
	"path/filepath"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"edcfeed/internal/history"
)

// RunsOptions holds flags for the runs command.
type RunsOptions struct {
	*RootOptions
	Limit int
}

// NewRunsCommand creates the runs command.
func NewRunsCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &RunsOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "runs [job]",
		Short: "Show recent runs, newest first",
		Long: `Runs lists entries from the run log: one row per processed file with
its counts and outcome. Without a job argument the newest runs across
all jobs are shown.`,
		Args:          cobra.MaximumNArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return listRuns(opts, cmd, args)
		},
	}

	cmd.Flags().IntVar(&opts.Limit, "limit", 20, "maximum runs to show")

	return cmd
}

func listRuns(opts *RunsOptions, cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig(opts.RootOptions)
	if err != nil {
		return err
	}
	if opts.Limit < 1 {
		return NewExitError(ExitCommandError, "--limit must be positive")
	}

	runs, err := history.Open(filepath.Join(cfg.Paths.StateDir, "history.db"))
	if err != nil {
		return WrapExitError(ExitCommandError, "open run history", err)
	}
	defer runs.Close()

	ctx := baseContext(cmd)
	var rows []history.Run
	if len(args) == 1 {
		rows, err = runs.ListByJob(ctx, args[0], opts.Limit)
	} else {
		rows, err = runs.Recent(ctx, opts.Limit)
	}
	if err != nil {
		return WrapExitError(ExitCommandError, "query run history", err)
	}

	if len(rows) == 0 {
		fmt.Fprintln(cmd.OutOrStdout(), "no runs recorded")
		return nil
	}

	w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 8, 2, ' ', 0)
	fmt.Fprintln(w, "STARTED\tJOB\tFILE\tSTATUS\tREAD\tKEPT\tREJ\tOLD\tWATERMARK")
	var failures []history.Run
	for _, run := range rows {
		file := "-"
		if run.File != "" {
			file = filepath.Base(run.File)
		}
		mark := run.Watermark
		if mark == "" {
			mark = "-"
		}
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%d\t%d\t%d\t%d\t%s\n",
			run.StartedAt.Format("2006-01-02 15:04:05"), run.Job, file,
			run.Status, run.RowsRead, run.RowsKept, run.RowsRejected,
			run.FilteredOld, mark)
		if run.Error != "" {
			failures = append(failures, run)
		}
	}
	if err := w.Flush(); err != nil {
		return err
	}

	for _, run := range failures {
		fmt.Fprintf(cmd.OutOrStdout(), "%s %s: %s\n",
			run.StartedAt.Format("2006-01-02 15:04:05"), run.Job, run.Error)
	}
	return nil
}
