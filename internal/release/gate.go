package release

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
)

// Gate runs the interface gate alone: read the version state, build the
// reference artifact, verify it against the contract, and discard the
// build output. Nothing is journaled and no run lock is taken; this is
// the pre-flight check made separately invocable.
//
// On a rejection the returned report carries the diagnostics and the
// error is a *RunError with CodeGateFailed.
func (p *Pipeline) Gate(ctx context.Context) (*GateReport, error) {
	rec, err := p.versions.Read()
	if err != nil {
		return nil, err
	}
	if err := p.cfg.Coordinates.Validate(); err != nil {
		return nil, fmt.Errorf("invalid coordinates: %w", err)
	}

	scratch, cleanup, err := p.scratchRoot("gate-" + p.runIDs.Generate())
	if err != nil {
		return nil, fmt.Errorf("creating scratch workspace: %w", err)
	}
	defer cleanup()

	spec := BuildSpec{
		Package:     p.cfg.Package,
		Version:     rec.Next,
		SourceDir:   p.cfg.SourceDir,
		Coordinates: p.cfg.Coordinates,
	}
	cell := p.gateCell(p.cfg.Matrix.Cells())

	res, err := p.runGate(ctx, spec, cell, scratch)
	if err != nil {
		return nil, fmt.Errorf("interface gate could not run: %w", err)
	}

	report := &GateReport{
		Cell:        cell.String(),
		Passed:      res.Passed,
		Diagnostics: res.Diagnostics,
	}
	if !res.Passed {
		return report, NewGateError(res.Diagnostics)
	}
	return report, nil
}

// runGate executes the interface gate: build one representative artifact
// and verify it against the declared contract.
//
// A reference build failure is a gate failure, not an infrastructure
// error: if the representative cell cannot even build, nothing may
// proceed. The returned error is reserved for the verification itself
// being impossible to run.
//
// The gate's artifact is built in a throwaway workspace and discarded:
// only the verdict survives.
func (p *Pipeline) runGate(ctx context.Context, spec BuildSpec, cell BuildCell, scratch string) (GateResult, error) {
	dir := filepath.Join(scratch, "gate")
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return GateResult{}, fmt.Errorf("creating gate workspace: %w", err)
	}
	defer os.RemoveAll(dir)

	buildCtx := ctx
	if p.cfg.CellTimeout > 0 {
		var cancel context.CancelFunc
		buildCtx, cancel = context.WithTimeout(ctx, p.cfg.CellTimeout)
		defer cancel()
	}

	artifactPath, err := p.builder.Build(buildCtx, spec, cell, dir)
	if err != nil {
		return GateResult{
			Passed:      false,
			Diagnostics: []string{fmt.Sprintf("reference build for %s failed: %v", cell, err)},
		}, nil
	}
	if err := validateBlob(artifactPath); err != nil {
		return GateResult{
			Passed:      false,
			Diagnostics: []string{fmt.Sprintf("reference build for %s: %v", cell, err)},
		}, nil
	}

	return p.checker.Check(ctx, artifactPath, p.cfg.Contract)
}

// validateBlob rejects artifacts the builder claims to have produced but
// that are unusable: missing, unreadable, or empty.
func validateBlob(path string) error {
	info, err := os.Stat(path)
	if err != nil {
		return fmt.Errorf("produced artifact is unreadable: %w", err)
	}
	if info.IsDir() {
		return fmt.Errorf("produced artifact %s is a directory", path)
	}
	if info.Size() == 0 {
		return fmt.Errorf("produced artifact %s is empty", path)
	}
	return nil
}
