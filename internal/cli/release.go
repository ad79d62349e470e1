package cli

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/bjjwwang/wheelhouse/internal/release"
)

// ReleaseOptions holds flags for the release command.
type ReleaseOptions struct {
	*RootOptions
	Manifest    string
	TriggeredBy string
	Revision    string
}

// NewReleaseCommand creates the release command.
func NewReleaseCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &ReleaseOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "release",
		Short: "Run the full release pipeline",
		Long: `Run one complete release: interface gate, matrix build, collection,
publish, version advancement.

The version the release carries is the version file's NEXT_VERSION. On
success the file advances; on any failure it is left untouched so the
same version can be retried. At most one release runs at a time; a held
run lock refuses the run (see "wheelhouse unlock" for crash recovery).

Exit codes:
  0 - Release succeeded
  1 - Release failed (gate, build, publish, or version write)
  2 - Command error (bad manifest, missing dependencies)

Examples:
  wheelhouse release
  wheelhouse release -m release/wheelhouse.yaml --triggered-by nightly
  wheelhouse release --revision "$(git rev-parse HEAD)" --format json`,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runRelease(opts, cmd)
		},
	}

	cmd.Flags().StringVarP(&opts.Manifest, "manifest", "m", DefaultManifest, "path to the release manifest")
	cmd.Flags().StringVar(&opts.TriggeredBy, "triggered-by", "manual", "provenance label recorded with the run")
	cmd.Flags().StringVar(&opts.Revision, "revision", "", "source revision being released")

	return cmd
}

func runRelease(opts *ReleaseOptions, cmd *cobra.Command) error {
	h, err := openPipeline(opts.Manifest)
	if err != nil {
		return err
	}
	defer h.Close()

	ctx, cancel := signalContext(cmd)
	defer cancel()

	report, runErr := h.Pipeline.Run(ctx, release.RunOptions{
		TriggeredBy: opts.TriggeredBy,
		Revision:    opts.Revision,
	})

	formatter := &OutputFormatter{Format: opts.Format, Writer: cmd.OutOrStdout(), Verbose: opts.Verbose}
	if runErr == nil {
		if formatter.JSON() {
			return formatter.Success(report)
		}
		return report.Render(cmd.OutOrStdout())
	}

	code := string(release.CodeOf(runErr))
	if code == "" {
		code = "RUN_ERROR"
	}
	if formatter.JSON() {
		_ = formatter.Error(code, runErr.Error(), report)
	} else if report != nil {
		_ = report.Render(cmd.OutOrStdout())
	}
	return WrapExitError(ExitFailure, "release failed", runErr)
}

// signalContext derives the command's context and cancels it on SIGINT
// or SIGTERM, so an aborted run stops before the version can advance.
func signalContext(cmd *cobra.Command) (context.Context, context.CancelFunc) {
	parent := cmd.Context()
	if parent == nil {
		parent = context.Background()
	}
	ctx, cancel := context.WithCancel(parent)

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)

	go func() {
		select {
		case sig := <-sigChan:
			slog.Info("received signal, aborting run", "signal", sig)
			cancel()
		case <-ctx.Done():
		}
		signal.Stop(sigChan)
	}()

	return ctx, cancel
}
