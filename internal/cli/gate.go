package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/bjjwwang/wheelhouse/internal/release"
)

// GateOptions holds flags for the gate command.
type GateOptions struct {
	*RootOptions
	Manifest string
}

// NewGateCommand creates the gate command.
func NewGateCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &GateOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "gate",
		Short: "Run only the interface gate",
		Long: `Build the reference artifact and verify its public interface against
the declared contract, without building the matrix or publishing
anything. The build output is discarded; only the verdict remains.

Useful as a cheap pre-merge check: a rejection here is exactly what
would halt a full release before any matrix cost is spent.

Exit codes:
  0 - Contract matches
  1 - Contract rejected, or the check could not run
  2 - Command error (bad manifest, missing dependencies)

Examples:
  wheelhouse gate
  wheelhouse gate -m release/wheelhouse.yaml --format json`,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runGate(opts, cmd)
		},
	}

	cmd.Flags().StringVarP(&opts.Manifest, "manifest", "m", DefaultManifest, "path to the release manifest")

	return cmd
}

func runGate(opts *GateOptions, cmd *cobra.Command) error {
	h, err := openPipeline(opts.Manifest)
	if err != nil {
		return err
	}
	defer h.Close()

	ctx, cancel := signalContext(cmd)
	defer cancel()

	report, gateErr := h.Pipeline.Gate(ctx)
	formatter := &OutputFormatter{Format: opts.Format, Writer: cmd.OutOrStdout(), Verbose: opts.Verbose}

	if gateErr != nil && report == nil {
		// The check itself could not run.
		if formatter.JSON() {
			_ = formatter.Error("GATE_ERROR", gateErr.Error(), nil)
		}
		return WrapExitError(ExitFailure, "interface gate could not run", gateErr)
	}

	if formatter.JSON() {
		if gateErr != nil {
			_ = formatter.Error(string(release.CodeGateFailed), gateErr.Error(), report)
		} else if err := formatter.Success(report); err != nil {
			return err
		}
	} else {
		renderGate(cmd, report)
	}

	if gateErr != nil {
		return WrapExitError(ExitFailure, "interface gate rejected the release", gateErr)
	}
	return nil
}

func renderGate(cmd *cobra.Command, report *release.GateReport) {
	w := cmd.OutOrStdout()
	verdict := "passed"
	if !report.Passed {
		verdict = "failed"
	}
	fmt.Fprintf(w, "Gate:     %s  [%s]\n", verdict, report.Cell)
	for _, d := range report.Diagnostics {
		fmt.Fprintf(w, "  %s\n", d)
	}
}
