package cli

import (
	"fmt"
	"io"
	"sort"
	"strings"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"edcfeed/internal/pipeline"
	"edcfeed/internal/schema"
)

// PreviewOptions holds flags for the preview command.
type PreviewOptions struct {
	*RootOptions
	Job  string
	Rows int
}

// NewPreviewCommand creates the preview command.
func NewPreviewCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &PreviewOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "preview",
		Short: "Dry-run the newest file of a job",
		Long: `Preview pushes the newest eligible spreadsheet through the full
pipeline but writes no artifact and moves no cursor, showing what the
next real run would emit.

Example:
  edcfeed preview --job oven_log --rows 5`,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runPreview(opts, cmd)
		},
	}

	cmd.Flags().StringVar(&opts.Job, "job", "", "job to preview (required)")
	_ = cmd.MarkFlagRequired("job")
	cmd.Flags().IntVar(&opts.Rows, "rows", 10, "output records to print")

	return cmd
}

func runPreview(opts *PreviewOptions, cmd *cobra.Command) error {
	cfg, err := loadConfig(opts.RootOptions)
	if err != nil {
		return err
	}
	job, err := findJob(cfg, opts.Job)
	if err != nil {
		return err
	}
	r, closeRunner, err := openRunner(cfg)
	if err != nil {
		return err
	}
	defer closeRunner()

	res, err := r.Preview(baseContext(cmd), job)
	if err != nil {
		return WrapExitError(ExitFailure, "preview", err)
	}

	out := cmd.OutOrStdout()
	b := res.Batch
	fmt.Fprintf(out, "file:      %s\n", res.File)
	fmt.Fprintf(out, "watermark: %s\n", res.Watermark.Format(schema.CursorLayout))
	fmt.Fprintf(out, "rows:      %d read, %d kept, %d rejected, %d below watermark\n",
		res.RowsRead, len(b.Records), len(b.Rejects), b.FilteredOld)
	if !b.MaxSeen.IsZero() {
		fmt.Fprintf(out, "max seen:  %s\n", b.MaxSeen.Format(schema.CursorLayout))
	}
	fmt.Fprintln(out)

	printRecords(out, b, opts.Rows)
	printRejectSummary(out, b)
	return nil
}

func printRecords(out io.Writer, b *pipeline.Batch, limit int) {
	if len(b.Records) == 0 {
		fmt.Fprintln(out, "no output records")
		return
	}
	if limit < 1 {
		limit = 1
	}
	if limit > len(b.Records) {
		limit = len(b.Records)
	}

	w := tabwriter.NewWriter(out, 0, 8, 2, ' ', 0)
	fmt.Fprintln(w, strings.Join(b.Columns, "\t"))
	for _, row := range b.Records[:limit] {
		values := make([]string, len(b.Columns))
		for i, col := range b.Columns {
			values[i] = schema.Stringify(row.Values[col])
		}
		fmt.Fprintln(w, strings.Join(values, "\t"))
	}
	w.Flush()
	if limit < len(b.Records) {
		fmt.Fprintf(out, "... and %d more\n", len(b.Records)-limit)
	}
}

func printRejectSummary(out io.Writer, b *pipeline.Batch) {
	if len(b.Rejects) == 0 {
		return
	}

	counts := make(map[string]int)
	for _, rej := range b.Rejects {
		counts[rej.Field+": "+rej.Reason]++
	}
	keys := make([]string, 0, len(counts))
	for k := range counts {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	fmt.Fprintf(out, "\nrejects (%d):\n", len(b.Rejects))
	for _, k := range keys {
		fmt.Fprintf(out, "  %s x%d\n", k, counts[k])
	}
}
