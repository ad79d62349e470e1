package cli

import (
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"github.com/bjjwwang/wheelhouse/internal/release"
	"github.com/bjjwwang/wheelhouse/internal/version"
)

// PlanOptions holds flags for the plan command.
type PlanOptions struct {
	*RootOptions
	Manifest string
}

// Plan is the enumerated release plan: every cell the matrix produces
// and the canonical name its artifact will carry.
type Plan struct {
	Package   string         `json:"package"`
	Version   string         `json:"version"`
	GateCell  string         `json:"gate_cell"`
	Cells     []PlanCell     `json:"cells"`
	Endpoints []PlanEndpoint `json:"endpoints"`
}

// PlanCell is one row of the plan.
type PlanCell struct {
	Cell          string `json:"cell"`
	CanonicalName string `json:"canonical_name"`
}

// PlanEndpoint describes one configured publish target.
type PlanEndpoint struct {
	Name       string `json:"name"`
	Kind       string `json:"kind"`
	Required   bool   `json:"required"`
	OnConflict string `json:"on_conflict"`
}

// NewPlanCommand creates the plan command.
func NewPlanCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &PlanOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "plan",
		Short: "Show what the next release would build",
		Long: `Enumerate the build matrix for the upcoming version without building
anything: every cell, the canonical artifact name it will produce, the
gate's reference cell, and the configured endpoints.

Validates the manifest and the version file, so plan doubles as a
pre-flight configuration check.

Examples:
  wheelhouse plan
  wheelhouse plan -m release/wheelhouse.yaml --format json`,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runPlan(opts, cmd)
		},
	}

	cmd.Flags().StringVarP(&opts.Manifest, "manifest", "m", DefaultManifest, "path to the release manifest")

	return cmd
}

func runPlan(opts *PlanOptions, cmd *cobra.Command) error {
	m, err := loadManifest(opts.Manifest)
	if err != nil {
		return err
	}

	rec, err := version.NewStore(m.VersionFile).Read()
	if err != nil {
		return WrapExitError(ExitCommandError, "reading version file", err)
	}

	matrix := m.ReleaseMatrix()
	cells := matrix.Cells()

	gateCell := cells[0]
	if override := m.GateCell(); override != nil {
		gateCell = *override
	}

	plan := Plan{
		Package:  m.Package,
		Version:  rec.Next.String(),
		GateCell: gateCell.String(),
	}
	for _, cell := range cells {
		plan.Cells = append(plan.Cells, PlanCell{
			Cell:          cell.String(),
			CanonicalName: release.CanonicalName(m.Package, rec.Next, cell),
		})
	}
	for _, ep := range m.Publish.Endpoints {
		plan.Endpoints = append(plan.Endpoints, PlanEndpoint{
			Name:       ep.Name,
			Kind:       ep.Kind,
			Required:   ep.Required,
			OnConflict: ep.OnConflict,
		})
	}

	formatter := &OutputFormatter{Format: opts.Format, Writer: cmd.OutOrStdout(), Verbose: opts.Verbose}
	if formatter.JSON() {
		return formatter.Success(plan)
	}
	return renderPlan(cmd.OutOrStdout(), plan)
}

// renderPlan writes the human-readable plan.
func renderPlan(w io.Writer, plan Plan) error {
	fmt.Fprintf(w, "Package:  %s %s\n", plan.Package, plan.Version)
	fmt.Fprintf(w, "Gate:     %s\n", plan.GateCell)
	fmt.Fprintf(w, "\nCells:    %d\n", len(plan.Cells))
	for _, cell := range plan.Cells {
		fmt.Fprintf(w, "  %-24s %s\n", cell.Cell, cell.CanonicalName)
	}
	fmt.Fprintf(w, "\nEndpoints:\n")
	for _, ep := range plan.Endpoints {
		required := "optional"
		if ep.Required {
			required = "required"
		}
		fmt.Fprintf(w, "  %-12s %s, %s, on conflict %s\n", ep.Name, ep.Kind, required, ep.OnConflict)
	}
	return nil
}
