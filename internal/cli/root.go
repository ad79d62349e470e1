// Package cli implements the wheelhouse command tree.
package cli

import (
	"fmt"
	"log/slog"
	"os"

	"github.com/spf13/cobra"
)

// RootOptions holds global flags shared by all commands.
type RootOptions struct {
	Verbose bool
	Format  string // "json" | "text"
}

// ValidFormats defines the allowed output formats.
var ValidFormats = []string{"text", "json"}

// DefaultManifest is the manifest path commands use when --manifest is
// not given.
const DefaultManifest = "wheelhouse.yaml"

// NewRootCommand creates the root command for the wheelhouse CLI.
func NewRootCommand() *cobra.Command {
	opts := &RootOptions{}

	cmd := &cobra.Command{
		Use:   "wheelhouse",
		Short: "Release orchestration for multi-platform native-extension packages",
		Long: `wheelhouse drives gated binary releases: verify the public interface
against its declared contract, build one artifact per platform and
interpreter, publish the complete set, and advance the version state.

Every stage is a hard gate. A failed interface check builds nothing, an
incomplete matrix publishes nothing, and a failed publish leaves the
version file untouched so the same version can be retried.`,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			if !isValidFormat(opts.Format) {
				return fmt.Errorf("invalid format %q: must be one of %v", opts.Format, ValidFormats)
			}
			configureLogging(opts.Verbose)
			return nil
		},
	}

	cmd.PersistentFlags().BoolVarP(&opts.Verbose, "verbose", "v", false, "verbose output")
	cmd.PersistentFlags().StringVar(&opts.Format, "format", "text", "output format (json|text)")

	cmd.AddCommand(NewReleaseCommand(opts))
	cmd.AddCommand(NewPlanCommand(opts))
	cmd.AddCommand(NewGateCommand(opts))
	cmd.AddCommand(NewVersionCommand(opts))
	cmd.AddCommand(NewHistoryCommand(opts))
	cmd.AddCommand(NewRehearseCommand(opts))
	cmd.AddCommand(NewUnlockCommand(opts))

	return cmd
}

// configureLogging routes slog to stderr at the level the verbose flag
// selects. Stdout stays reserved for command output.
func configureLogging(verbose bool) {
	level := slog.LevelInfo
	if verbose {
		level = slog.LevelDebug
	}
	handler := slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level})
	slog.SetDefault(slog.New(handler))
}

// isValidFormat checks if the format is one of the allowed values.
func isValidFormat(format string) bool {
	for _, f := range ValidFormats {
		if f == format {
			return true
		}
	}
	return false
}
