package release

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"runtime"
	"time"

	"github.com/bjjwwang/wheelhouse/internal/journal"
	"github.com/bjjwwang/wheelhouse/internal/version"
)

// Config holds the static configuration of a pipeline, typically derived
// from the release manifest.
type Config struct {
	// Package is the distribution name artifacts are released under.
	Package string

	// SourceDir is the library checkout builds run in.
	SourceDir string

	// Coordinates locate the native dependencies.
	Coordinates Coordinates

	// Matrix declares the build cells.
	Matrix Matrix

	// Contract is the path to the declared interface contract the gate
	// verifies against.
	Contract string

	// GateCell selects the representative cell the gate builds. Nil picks
	// the first enumerated cell.
	GateCell *BuildCell

	// Workers bounds build concurrency. Zero means one worker per
	// available CPU, capped at the cell count.
	Workers int

	// CellTimeout bounds each cell's build. Zero means no timeout.
	CellTimeout time.Duration

	// Scratch is the root for per-run build workspaces. Empty uses the
	// system temp directory.
	Scratch string

	// Strict makes optional endpoint failures fail the run.
	Strict bool
}

// Deps are the pipeline's collaborators.
type Deps struct {
	Builder   Builder
	Checker   Checker
	Endpoints []Endpoint
	Versions  *version.Store
	Journal   *journal.Journal

	// RunIDs defaults to UUIDv7Generator.
	RunIDs RunIDGenerator

	// Logger defaults to slog.Default().
	Logger *slog.Logger

	// Now defaults to time.Now. Injected for deterministic reports.
	Now func() time.Time
}

// Pipeline executes release runs: gate, build fan-out, collection,
// publication, version advancement. Construct with New; a Pipeline is
// immutable and safe to reuse across runs, though runs themselves are
// serialized by the journal's run lock.
type Pipeline struct {
	cfg       Config
	builder   Builder
	checker   Checker
	endpoints []Endpoint
	versions  *version.Store
	journal   *journal.Journal
	runIDs    RunIDGenerator
	logger    *slog.Logger
	now       func() time.Time
}

// New validates the configuration and assembles a pipeline.
func New(cfg Config, deps Deps) (*Pipeline, error) {
	if cfg.Package == "" {
		return nil, fmt.Errorf("pipeline: package name is required")
	}
	if cfg.Contract == "" {
		return nil, fmt.Errorf("pipeline: interface contract path is required")
	}
	if len(cfg.Matrix.Cells()) == 0 {
		return nil, fmt.Errorf("pipeline: build matrix enumerates no cells")
	}
	if deps.Builder == nil {
		return nil, fmt.Errorf("pipeline: builder is required")
	}
	if deps.Checker == nil {
		return nil, fmt.Errorf("pipeline: checker is required")
	}
	if deps.Versions == nil {
		return nil, fmt.Errorf("pipeline: version store is required")
	}
	if deps.Journal == nil {
		return nil, fmt.Errorf("pipeline: journal is required")
	}

	p := &Pipeline{
		cfg:       cfg,
		builder:   deps.Builder,
		checker:   deps.Checker,
		endpoints: deps.Endpoints,
		versions:  deps.Versions,
		journal:   deps.Journal,
		runIDs:    deps.RunIDs,
		logger:    deps.Logger,
		now:       deps.Now,
	}
	if p.runIDs == nil {
		p.runIDs = UUIDv7Generator{}
	}
	if p.logger == nil {
		p.logger = slog.Default()
	}
	if p.now == nil {
		p.now = time.Now
	}
	return p, nil
}

// RunOptions carries per-run inputs.
type RunOptions struct {
	// TriggeredBy names what started the run ("push", "manual", a CI job).
	TriggeredBy string

	// Revision is the source revision being released, when known.
	Revision string
}

// Run executes one complete release attempt.
//
// The returned Report is non-nil whenever a run was opened, including
// failed runs; the error then carries the failure as a *RunError. Errors
// before the run opens (unreadable version state, invalid coordinates,
// a held run lock) return a nil report.
//
// The version state file advances only if every stage succeeded. Any
// failure leaves it untouched so the same version can be retried.
func (p *Pipeline) Run(ctx context.Context, opts RunOptions) (*Report, error) {
	rec, err := p.versions.Read()
	if err != nil {
		return nil, err
	}
	if err := p.cfg.Coordinates.Validate(); err != nil {
		return nil, fmt.Errorf("invalid coordinates: %w", err)
	}

	cells := p.cfg.Matrix.Cells()
	v := rec.Next
	runID := p.runIDs.Generate()
	logger := p.logger.With("run_id", runID, "version", v.String())

	startedAt := p.now()
	inserted, holder, err := p.journal.BeginRun(ctx, journal.RunStart{
		ID:          runID,
		Package:     p.cfg.Package,
		Version:     v.String(),
		Revision:    opts.Revision,
		TriggeredBy: opts.TriggeredBy,
		StartedAt:   startedAt,
	})
	if err != nil {
		return nil, fmt.Errorf("opening run journal: %w", err)
	}
	if !inserted {
		return nil, NewRunInProgressError(holder)
	}

	logger.Info("release run started",
		"package", p.cfg.Package,
		"cells", len(cells),
		"triggered_by", opts.TriggeredBy,
	)

	report := &Report{
		RunID:       runID,
		Package:     p.cfg.Package,
		Version:     v.String(),
		TriggeredBy: opts.TriggeredBy,
		Revision:    opts.Revision,
		StartedAt:   startedAt,
	}

	spec := BuildSpec{
		Package:     p.cfg.Package,
		Version:     v,
		Revision:    opts.Revision,
		SourceDir:   p.cfg.SourceDir,
		Coordinates: p.cfg.Coordinates,
	}

	runErr := p.execute(ctx, spec, cells, rec, report, logger)
	report.FinishedAt = p.now()

	outcome := journal.RunOutcome{State: journal.StateSucceeded, FinishedAt: report.FinishedAt}
	if runErr != nil {
		report.fail(runErr)
		outcome.State = journal.StateFailed
		outcome.FailureCode = report.FailureCode
		outcome.FailureReason = report.FailureReason
		logger.Error("release run failed", "code", report.FailureCode, "reason", report.FailureReason)
	} else {
		logger.Info("release run succeeded",
			"published", len(report.Publications),
			"next_version", report.NextVersion,
		)
	}

	// The lock must be released even when ctx was cancelled mid-run.
	if err := p.journal.FinishRun(context.WithoutCancel(ctx), runID, outcome); err != nil {
		logger.Error("failed to close run journal", "error", err)
		report.Warnings = append(report.Warnings,
			fmt.Sprintf("run journal was not closed: %v; run `wheelhouse unlock` before the next release", err))
	}
	return report, runErr
}

// execute drives the five stages in order, filling the report as it goes.
// Returns nil only when every stage succeeded and the version advanced.
func (p *Pipeline) execute(ctx context.Context, spec BuildSpec, cells []BuildCell, rec version.Record, report *Report, logger *slog.Logger) error {
	scratch, cleanup, err := p.scratchRoot(report.RunID)
	if err != nil {
		return fmt.Errorf("creating scratch workspace: %w", err)
	}
	defer cleanup()

	// Stage 1: interface gate.
	gateCell := p.gateCell(cells)
	gres, err := p.runGate(ctx, spec, gateCell, scratch)
	if err != nil {
		return fmt.Errorf("interface gate could not run: %w", err)
	}
	report.Gate = &GateReport{
		Cell:        gateCell.String(),
		Passed:      gres.Passed,
		Diagnostics: gres.Diagnostics,
	}
	if err := p.journal.RecordGate(ctx, report.RunID, gateCell.String(), gres.Passed, gres.Diagnostics); err != nil {
		return fmt.Errorf("recording gate verdict: %w", err)
	}
	if !gres.Passed {
		logger.Warn("interface gate rejected the release", "cell", gateCell.String(), "diagnostics", len(gres.Diagnostics))
		return NewGateError(gres.Diagnostics)
	}
	logger.Info("interface gate passed", "cell", gateCell.String())

	// Stage 2: build fan-out.
	results := p.buildMatrix(ctx, spec, cells, scratch, logger)
	for _, res := range results {
		report.Cells = append(report.Cells, res.report())
		if err := p.journal.RecordCell(ctx, res.journalRow(report.RunID)); err != nil {
			return fmt.Errorf("recording cell outcome: %w", err)
		}
	}

	// Stage 3: all-or-nothing collection.
	set, err := Collect(results)
	if err != nil {
		return err
	}
	logger.Info("artifact set complete", "artifacts", set.Len())

	if err := ctx.Err(); err != nil {
		return fmt.Errorf("run cancelled before publishing: %w", err)
	}

	// Stage 4: publication.
	pubs, warnings, err := p.publish(ctx, set, spec.Version, report.RunID, logger)
	report.Publications = pubs
	report.Warnings = append(report.Warnings, warnings...)
	if err != nil {
		return err
	}

	// Stage 5: version advancement. Only reached when everything above
	// succeeded.
	advanced := rec.Advance()
	if err := p.versions.Write(advanced); err != nil {
		return NewVersionWriteError(err)
	}
	report.VersionAdvanced = true
	report.CurrentVersion = advanced.Current.String()
	report.NextVersion = advanced.Next.String()
	report.Outcome = OutcomeSucceeded
	return nil
}

// gateCell picks the representative cell for the interface gate.
func (p *Pipeline) gateCell(cells []BuildCell) BuildCell {
	if p.cfg.GateCell != nil {
		return *p.cfg.GateCell
	}
	return cells[0]
}

// workerCount resolves the build concurrency for n cells.
func (p *Pipeline) workerCount(n int) int {
	workers := p.cfg.Workers
	if workers <= 0 {
		workers = runtime.GOMAXPROCS(0)
	}
	if workers > n {
		workers = n
	}
	return workers
}

// scratchRoot creates the per-run workspace root and returns its cleanup.
func (p *Pipeline) scratchRoot(runID string) (string, func(), error) {
	if p.cfg.Scratch != "" {
		dir := filepath.Join(p.cfg.Scratch, runID)
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return "", nil, err
		}
		return dir, func() { os.RemoveAll(dir) }, nil
	}
	dir, err := os.MkdirTemp("", "wheelhouse-"+runID+"-")
	if err != nil {
		return "", nil, err
	}
	return dir, func() { os.RemoveAll(dir) }, nil
}
