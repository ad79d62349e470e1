package release

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/bjjwwang/wheelhouse/internal/journal"
)

// CellResult is the outcome of one cell's build: exactly one of Artifact
// or Failure is set.
type CellResult struct {
	Cell     BuildCell
	Artifact *Artifact
	Failure  *BuildFailure
	Duration time.Duration
}

// Built reports whether the cell produced a usable artifact.
func (r CellResult) Built() bool {
	return r.Failure == nil
}

// report converts the result into its report row.
func (r CellResult) report() CellReport {
	rep := CellReport{
		Cell:       r.Cell.String(),
		DurationMS: r.Duration.Milliseconds(),
	}
	if r.Built() {
		rep.Status = journal.CellBuilt
		rep.CanonicalName = r.Artifact.CanonicalName
		rep.Digest = r.Artifact.Digest
	} else {
		rep.Status = journal.CellFailed
		rep.Reason = r.Failure.Reason
	}
	return rep
}

// journalRow converts the result into its journal row.
func (r CellResult) journalRow(runID string) journal.CellRow {
	row := journal.CellRow{
		RunID:      runID,
		Cell:       r.Cell.String(),
		DurationMS: r.Duration.Milliseconds(),
	}
	if r.Built() {
		row.Status = journal.CellBuilt
		row.CanonicalName = r.Artifact.CanonicalName
		row.Digest = r.Artifact.Digest
	} else {
		row.Status = journal.CellFailed
		row.Reason = r.Failure.Reason
	}
	return row
}

// buildMatrix fans the build out across all cells and waits for every one
// of them.
//
// Failures are isolated: a failing cell records its BuildFailure in its
// result slot and never stops the others. Each goroutine owns exactly one
// slot of the results slice, so no locking is needed, and the slice keeps
// the deterministic cell enumeration order. The errgroup is used purely
// as a bounded-concurrency barrier; goroutines always return nil.
func (p *Pipeline) buildMatrix(ctx context.Context, spec BuildSpec, cells []BuildCell, scratch string, logger *slog.Logger) []CellResult {
	results := make([]CellResult, len(cells))

	g := new(errgroup.Group)
	g.SetLimit(p.workerCount(len(cells)))
	for i, cell := range cells {
		g.Go(func() error {
			results[i] = p.buildCell(ctx, spec, cell, scratch, logger)
			return nil
		})
	}
	g.Wait()

	return results
}

// buildCell builds one cell in its own workspace and assembles the
// artifact: validation, digest, canonical name.
func (p *Pipeline) buildCell(ctx context.Context, spec BuildSpec, cell BuildCell, scratch string, logger *slog.Logger) CellResult {
	start := p.now()
	fail := func(reason string) CellResult {
		logger.Warn("cell build failed", "cell", cell.String(), "reason", reason)
		return CellResult{
			Cell:     cell,
			Failure:  &BuildFailure{Cell: cell, Reason: reason},
			Duration: p.now().Sub(start),
		}
	}

	outDir := filepath.Join(scratch, cell.DirName())
	if err := os.MkdirAll(outDir, 0o755); err != nil {
		return fail(fmt.Sprintf("creating cell workspace: %v", err))
	}

	buildCtx := ctx
	if p.cfg.CellTimeout > 0 {
		var cancel context.CancelFunc
		buildCtx, cancel = context.WithTimeout(ctx, p.cfg.CellTimeout)
		defer cancel()
	}

	logger.Debug("cell build started", "cell", cell.String())
	artifactPath, err := p.builder.Build(buildCtx, spec, cell, outDir)
	if err != nil {
		switch {
		case errors.Is(buildCtx.Err(), context.DeadlineExceeded) && ctx.Err() == nil:
			return fail(fmt.Sprintf("build timed out after %s", p.cfg.CellTimeout))
		case ctx.Err() != nil:
			return fail("build cancelled")
		default:
			return fail(err.Error())
		}
	}
	if err := validateBlob(artifactPath); err != nil {
		return fail(err.Error())
	}

	digest, size, err := FileDigest(artifactPath)
	if err != nil {
		return fail(fmt.Sprintf("digesting artifact: %v", err))
	}

	artifact := &Artifact{
		Cell:          cell,
		Version:       spec.Version,
		CanonicalName: CanonicalName(spec.Package, spec.Version, cell),
		Path:          artifactPath,
		Digest:        digest,
		Size:          size,
	}
	logger.Debug("cell build finished",
		"cell", cell.String(),
		"artifact", artifact.CanonicalName,
		"size", size,
	)
	return CellResult{
		Cell:     cell,
		Artifact: artifact,
		Duration: p.now().Sub(start),
	}
}
