package cli

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"
)

// UnlockOptions holds flags for the unlock command.
type UnlockOptions struct {
	*RootOptions
	Manifest string
	Reason   string
}

// NewUnlockCommand creates the unlock command.
func NewUnlockCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &UnlockOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "unlock",
		Short: "Break a stale run lock",
		Long: `Force-close any run the journal still records as in progress.

Only needed after a crash: a release that died without closing its
journal row keeps holding the run lock and every later release is
refused. Never run this while a release is actually executing — the
lock is what prevents two runs from racing for the same version.

Examples:
  wheelhouse unlock
  wheelhouse unlock --reason "runner killed by OOM"`,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runUnlock(opts, cmd)
		},
	}

	cmd.Flags().StringVarP(&opts.Manifest, "manifest", "m", DefaultManifest, "path to the release manifest")
	cmd.Flags().StringVar(&opts.Reason, "reason", "lock broken manually", "failure reason recorded on the abandoned run")

	return cmd
}

func runUnlock(opts *UnlockOptions, cmd *cobra.Command) error {
	j, err := openJournal(opts.Manifest)
	if err != nil {
		return err
	}
	defer j.Close()

	closed, err := j.BreakLock(cmd.Context(), opts.Reason, time.Now())
	if err != nil {
		return WrapExitError(ExitCommandError, "breaking run lock", err)
	}

	formatter := &OutputFormatter{Format: opts.Format, Writer: cmd.OutOrStdout(), Verbose: opts.Verbose}
	if formatter.JSON() {
		return formatter.Success(map[string]int64{"closed": closed})
	}

	if closed == 0 {
		fmt.Fprintln(cmd.OutOrStdout(), "No run lock held.")
	} else {
		fmt.Fprintf(cmd.OutOrStdout(), "Closed %d abandoned run(s).\n", closed)
	}
	return nil
}
