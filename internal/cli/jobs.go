package cli

import (
	"fmt"
	"path/filepath"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"edcfeed/internal/config"
	"edcfeed/internal/cursor"
	"edcfeed/internal/history"
	"edcfeed/internal/schema"
)

// NewJobsCommand creates the jobs command.
func NewJobsCommand(rootOpts *RootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:           "jobs",
		Short:         "List configured jobs with cursor and last-run state",
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return listJobs(rootOpts, cmd)
		},
	}
	return cmd
}

func listJobs(opts *RootOptions, cmd *cobra.Command) error {
	cfg, err := loadConfig(opts)
	if err != nil {
		return err
	}

	jobs, problems, err := config.LoadJobs(cfg.Paths.JobsDir)
	if err != nil {
		return WrapExitError(ExitCommandError, "load jobs", err)
	}

	cursors := cursor.NewStore(filepath.Join(cfg.Paths.StateDir, "cursors"))
	runs, err := history.Open(filepath.Join(cfg.Paths.StateDir, "history.db"))
	if err != nil {
		return WrapExitError(ExitCommandError, "open run history", err)
	}
	defer runs.Close()

	ctx := baseContext(cmd)
	w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 8, 2, ' ', 0)
	fmt.Fprintln(w, "JOB\tTRIGGER\tWATERMARK\tLAST RUN\tSTATUS")
	for _, job := range jobs {
		name := job.Job.Name

		mark := "-"
		if ts, ok := cursors.Current(name); ok {
			mark = ts.Format(schema.CursorLayout)
		}

		lastAt, status := "-", "never"
		if last, ok, err := runs.LastRun(ctx, name); err == nil && ok {
			lastAt = last.StartedAt.Format("2006-01-02 15:04")
			status = last.Status
		}

		trigger := job.Trigger.Type
		if job.Trigger.Type == config.TriggerSchedule {
			trigger = fmt.Sprintf("%s (%s)", trigger, job.Trigger.Cron)
		}

		fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\n", name, trigger, mark, lastAt, status)
	}
	if err := w.Flush(); err != nil {
		return err
	}

	for _, path := range sortedKeys(problems) {
		fmt.Fprintf(cmd.ErrOrStderr(), "broken job file %s: %v\n",
			filepath.Base(path), problems[path])
	}
	return nil
}
