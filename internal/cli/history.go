package cli

import (
	"fmt"
	"io"
	"time"

	"github.com/spf13/cobra"

	"github.com/bjjwwang/wheelhouse/internal/journal"
)

// HistoryOptions holds flags for the history command.
type HistoryOptions struct {
	*RootOptions
	Manifest string
	Limit    int
}

// RunDetail is the history command's per-run output when a run ID is
// given.
type RunDetail struct {
	Run          journal.RunSummary       `json:"run"`
	Cells        []journal.CellRow        `json:"cells"`
	Publications []journal.PublicationRow `json:"publications"`
}

// NewHistoryCommand creates the history command.
func NewHistoryCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &HistoryOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "history [run-id]",
		Short: "List recorded release runs",
		Long: `List the journal's release runs, newest first, or show one run in
detail: its gate verdict, per-cell build outcomes, and publication
ledger entries.

Examples:
  wheelhouse history
  wheelhouse history --limit 5
  wheelhouse history 0195b2f3-87a1-7c3e-9f3a-1c2d3e4f5a6b
  wheelhouse history --format json`,
		Args:          cobra.MaximumNArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			if len(args) == 1 {
				return runHistoryDetail(opts, args[0], cmd)
			}
			return runHistoryList(opts, cmd)
		},
	}

	cmd.Flags().StringVarP(&opts.Manifest, "manifest", "m", DefaultManifest, "path to the release manifest")
	cmd.Flags().IntVar(&opts.Limit, "limit", 20, "maximum runs to list")

	return cmd
}

// openJournal opens the manifest's journal for read-only commands.
func openJournal(manifestPath string) (*journal.Journal, error) {
	m, err := loadManifest(manifestPath)
	if err != nil {
		return nil, err
	}
	j, err := journal.Open(m.Journal)
	if err != nil {
		return nil, WrapExitError(ExitCommandError, "opening run journal", err)
	}
	return j, nil
}

func runHistoryList(opts *HistoryOptions, cmd *cobra.Command) error {
	j, err := openJournal(opts.Manifest)
	if err != nil {
		return err
	}
	defer j.Close()

	runs, err := j.History(cmd.Context(), opts.Limit)
	if err != nil {
		return WrapExitError(ExitCommandError, "reading run history", err)
	}

	formatter := &OutputFormatter{Format: opts.Format, Writer: cmd.OutOrStdout(), Verbose: opts.Verbose}
	if formatter.JSON() {
		return formatter.Success(runs)
	}

	w := cmd.OutOrStdout()
	if len(runs) == 0 {
		fmt.Fprintln(w, "No recorded runs.")
		return nil
	}
	for _, run := range runs {
		renderRunLine(w, run)
	}
	return nil
}

func runHistoryDetail(opts *HistoryOptions, runID string, cmd *cobra.Command) error {
	j, err := openJournal(opts.Manifest)
	if err != nil {
		return err
	}
	defer j.Close()

	ctx := cmd.Context()
	run, err := j.GetRun(ctx, runID)
	if err != nil {
		return WrapExitError(ExitCommandError, "reading run", err)
	}
	if run == nil {
		return NewExitError(ExitCommandError, fmt.Sprintf("run %s not found", runID))
	}

	cells, err := j.RunCells(ctx, runID)
	if err != nil {
		return WrapExitError(ExitCommandError, "reading run cells", err)
	}
	pubs, err := j.RunPublications(ctx, runID)
	if err != nil {
		return WrapExitError(ExitCommandError, "reading run publications", err)
	}

	detail := RunDetail{Run: *run, Cells: cells, Publications: pubs}
	formatter := &OutputFormatter{Format: opts.Format, Writer: cmd.OutOrStdout(), Verbose: opts.Verbose}
	if formatter.JSON() {
		return formatter.Success(detail)
	}

	w := cmd.OutOrStdout()
	renderRunLine(w, *run)
	if run.FailureCode != "" {
		fmt.Fprintf(w, "Reason:   %s: %s\n", run.FailureCode, run.FailureReason)
	}
	if len(cells) > 0 {
		fmt.Fprintf(w, "\nCells:\n")
		for _, cell := range cells {
			if cell.Status == journal.CellBuilt {
				fmt.Fprintf(w, "  ✓ %-24s %s\n", cell.Cell, cell.CanonicalName)
			} else {
				fmt.Fprintf(w, "  ✗ %-24s %s\n", cell.Cell, cell.Reason)
			}
		}
	}
	if len(pubs) > 0 {
		fmt.Fprintf(w, "\nPublications:\n")
		for _, pub := range pubs {
			fmt.Fprintf(w, "  %-12s %-44s %s\n", pub.Endpoint, pub.CanonicalName, pub.Action)
		}
	}
	return nil
}

// renderRunLine writes one run's summary line.
func renderRunLine(w io.Writer, run journal.RunSummary) {
	gate := "-"
	if run.GatePassed != nil {
		if *run.GatePassed {
			gate = "pass"
		} else {
			gate = "fail"
		}
	}
	fmt.Fprintf(w, "%s  %-8s %-9s gate=%-4s cells=%d/%d pubs=%d  %s\n",
		run.ID,
		run.Version,
		run.State,
		gate,
		run.CellsBuilt,
		run.CellsBuilt+run.CellsFailed,
		run.Publications,
		run.StartedAt.Format(time.RFC3339),
	)
}
