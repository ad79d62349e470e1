package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/bjjwwang/wheelhouse/internal/version"
)

// VersionOptions holds flags for the version command.
type VersionOptions struct {
	*RootOptions
	Manifest string
}

// VersionState is the version command's output.
type VersionState struct {
	Current string `json:"current"`
	Next    string `json:"next"`
	File    string `json:"file"`
}

// NewVersionCommand creates the version command.
func NewVersionCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &VersionOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "version",
		Short: "Show the release version state",
		Long: `Read and validate the version file: the last released version and the
version the next release will carry.

Examples:
  wheelhouse version
  wheelhouse version --format json`,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runVersion(opts, cmd)
		},
	}

	cmd.Flags().StringVarP(&opts.Manifest, "manifest", "m", DefaultManifest, "path to the release manifest")

	return cmd
}

func runVersion(opts *VersionOptions, cmd *cobra.Command) error {
	m, err := loadManifest(opts.Manifest)
	if err != nil {
		return err
	}

	rec, err := version.NewStore(m.VersionFile).Read()
	if err != nil {
		return WrapExitError(ExitCommandError, "reading version file", err)
	}

	state := VersionState{
		Current: rec.Current.String(),
		Next:    rec.Next.String(),
		File:    m.VersionFile,
	}

	formatter := &OutputFormatter{Format: opts.Format, Writer: cmd.OutOrStdout(), Verbose: opts.Verbose}
	if formatter.JSON() {
		return formatter.Success(state)
	}

	w := cmd.OutOrStdout()
	fmt.Fprintf(w, "Current:  %s\n", state.Current)
	fmt.Fprintf(w, "Next:     %s\n", state.Next)
	if opts.Verbose {
		fmt.Fprintf(w, "File:     %s\n", state.File)
	}
	return nil
}
