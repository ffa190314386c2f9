package cli

import (
	"fmt"
	"path/filepath"

	"github.com/spf13/cobra"

	"edcfeed/internal/config"
	"edcfeed/internal/cursor"
	"edcfeed/internal/schema"
)

// NewCursorCommand creates the cursor command group.
func NewCursorCommand(rootOpts *RootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "cursor",
		Short: "Inspect or adjust a job's watermark",
		Long: `Cursor reads and writes the per-job watermark. Setting it back
re-emits rows; clearing it restarts the job from its lookback window.`,
	}

	cmd.AddCommand(newCursorShowCommand(rootOpts))
	cmd.AddCommand(newCursorSetCommand(rootOpts))
	cmd.AddCommand(newCursorClearCommand(rootOpts))

	return cmd
}

func newCursorShowCommand(rootOpts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:           "show <job>",
		Short:         "Print the stored watermark",
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(rootOpts)
			if err != nil {
				return err
			}
			if _, err := findJob(cfg, args[0]); err != nil {
				return err
			}

			cursors := cursorStore(cfg)
			ts, ok := cursors.Current(args[0])
			if !ok {
				fmt.Fprintf(cmd.OutOrStdout(), "%s: no watermark\n", args[0])
				return nil
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%s: %s\n", args[0], ts.Format(schema.CursorLayout))
			return nil
		},
	}
}

func newCursorSetCommand(rootOpts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "set <job> <timestamp>",
		Short: "Overwrite the watermark",
		Long: `Set overwrites the watermark unconditionally. The timestamp accepts
the same layouts as spreadsheet cells, "2006/01/02 15:04:05" and its
dash variant among them.`,
		Args:          cobra.ExactArgs(2),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(rootOpts)
			if err != nil {
				return err
			}
			if _, err := findJob(cfg, args[0]); err != nil {
				return err
			}

			ts, err := schema.ParseDateTime(args[1])
			if err != nil {
				return WrapExitError(ExitCommandError, "parse timestamp", err)
			}
			if err := cursorStore(cfg).Set(args[0], ts); err != nil {
				return WrapExitError(ExitFailure, "write cursor", err)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%s: %s\n", args[0], ts.Format(schema.CursorLayout))
			return nil
		},
	}
}

func newCursorClearCommand(rootOpts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "clear <job>",
		Short: "Remove the watermark",
		Long: `Clear removes the watermark and its backup; the next run starts from
the lookback window. Works for jobs whose configuration is already
gone.`,
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(rootOpts)
			if err != nil {
				return err
			}
			if job, err := config.FindJob(cfg.Paths.JobsDir, args[0]); err == nil && job == nil {
				fmt.Fprintf(cmd.ErrOrStderr(), "note: no job named %q in %s\n",
					args[0], cfg.Paths.JobsDir)
			}

			if err := cursorStore(cfg).Clear(args[0]); err != nil {
				return WrapExitError(ExitFailure, "clear cursor", err)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%s: cleared\n", args[0])
			return nil
		},
	}
}

func cursorStore(cfg *config.Config) *cursor.Store {
	return cursor.NewStore(filepath.Join(cfg.Paths.StateDir, "cursors"))
}
