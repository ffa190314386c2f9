// Package cli implements the edcfeed command tree.
package cli

import (
	"fmt"

	"github.com/spf13/cobra"
)

// RootOptions holds global flags shared by all commands.
type RootOptions struct {
	Verbose   bool
	LogFormat string
}

// ValidLogFormats defines the allowed --log-format values.
var ValidLogFormats = []string{"text", "json"}

// NewRootCommand creates the root command for the edcfeed CLI.
func NewRootCommand() *cobra.Command {
	opts := &RootOptions{}

	cmd := &cobra.Command{
		Use:   "edcfeed",
		Short: "Incremental feeder from equipment spreadsheet exports",
		Long: `edcfeed tails the spreadsheet exports that fab equipment keeps
appending to, extracts the rows written since the last run, and emits
them as CSV and XML artifacts for the data-collection loaders. Each
feed is one TOML file in the jobs directory.`,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			if opts.LogFormat != "" && !isValidLogFormat(opts.LogFormat) {
				return fmt.Errorf("invalid log format %q: must be one of %v",
					opts.LogFormat, ValidLogFormats)
			}
			return nil
		},
	}

	cmd.PersistentFlags().BoolVarP(&opts.Verbose, "verbose", "v", false, "debug-level logging")
	cmd.PersistentFlags().StringVar(&opts.LogFormat, "log-format", "", "log format (text|json), overrides LOG_FORMAT")

	cmd.AddCommand(NewRunCommand(opts))
	cmd.AddCommand(NewDaemonCommand(opts))
	cmd.AddCommand(NewJobsCommand(opts))
	cmd.AddCommand(NewRunsCommand(opts))
	cmd.AddCommand(NewCursorCommand(opts))
	cmd.AddCommand(NewPreviewCommand(opts))

	return cmd
}

// isValidLogFormat checks if the format is one of the allowed values.
func isValidLogFormat(format string) bool {
	for _, f := range ValidLogFormats {
		if f == format {
			return true
		}
	}
	return false
}
