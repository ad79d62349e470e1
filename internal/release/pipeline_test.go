package release

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/bjjwwang/wheelhouse/internal/journal"
	"github.com/bjjwwang/wheelhouse/internal/version"
)

var fixedNow = time.Date(2026, 3, 14, 9, 30, 0, 0, time.UTC)

// fakeBuilder writes a small artifact file per cell, with scripted
// failures, empty outputs, hangs, and an optional hook invoked on every
// build call.
type fakeBuilder struct {
	mu          sync.Mutex
	calls       []string
	inFlight    int
	maxInFlight int

	failCells  map[string]string
	emptyCells map[string]bool
	hangCells  map[string]bool
	delay      time.Duration
	hook       func(cell BuildCell)
}

func newFakeBuilder() *fakeBuilder {
	return &fakeBuilder{
		failCells:  map[string]string{},
		emptyCells: map[string]bool{},
		hangCells:  map[string]bool{},
	}
}

func (b *fakeBuilder) Build(ctx context.Context, spec BuildSpec, cell BuildCell, outDir string) (string, error) {
	b.mu.Lock()
	b.calls = append(b.calls, cell.String())
	b.inFlight++
	if b.inFlight > b.maxInFlight {
		b.maxInFlight = b.inFlight
	}
	hook := b.hook
	b.mu.Unlock()
	defer func() {
		b.mu.Lock()
		b.inFlight--
		b.mu.Unlock()
	}()

	if hook != nil {
		hook(cell)
	}
	if b.delay > 0 {
		time.Sleep(b.delay)
	}
	if b.hangCells[cell.String()] {
		<-ctx.Done()
		return "", ctx.Err()
	}
	if reason, ok := b.failCells[cell.String()]; ok {
		return "", errors.New(reason)
	}

	path := filepath.Join(outDir, "artifact.whl")
	content := []byte("wheel " + cell.String() + " " + spec.Version.String())
	if b.emptyCells[cell.String()] {
		content = nil
	}
	if err := os.WriteFile(path, content, 0o644); err != nil {
		return "", err
	}
	return path, nil
}

func (b *fakeBuilder) callCount() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.calls)
}

// fakeChecker returns a scripted gate verdict.
type fakeChecker struct {
	mu           sync.Mutex
	result       GateResult
	err          error
	calls        int
	artifactPath string
	contractPath string
}

func (c *fakeChecker) Check(_ context.Context, artifactPath, contractPath string) (GateResult, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.calls++
	c.artifactPath = artifactPath
	c.contractPath = contractPath
	return c.result, c.err
}

// fakeEndpoint stores artifacts in memory, keyed by name@version.
type fakeEndpoint struct {
	mu        sync.Mutex
	name      string
	required  bool
	policy    ConflictPolicy
	stored    map[string]string
	failWith  string
	probeErr  error
	publishes int
}

func newFakeEndpoint(name string, required bool, policy ConflictPolicy) *fakeEndpoint {
	return &fakeEndpoint{name: name, required: required, policy: policy, stored: map[string]string{}}
}

func (e *fakeEndpoint) Name() string              { return e.name }
func (e *fakeEndpoint) Required() bool            { return e.required }
func (e *fakeEndpoint) OnConflict() ConflictPolicy { return e.policy }

func (e *fakeEndpoint) Has(_ context.Context, canonicalName string, v version.Version) (bool, error) {
	if e.probeErr != nil {
		return false, e.probeErr
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	_, ok := e.stored[canonicalName+"@"+v.String()]
	return ok, nil
}

func (e *fakeEndpoint) Publish(_ context.Context, a Artifact, replace bool) error {
	if e.failWith != "" {
		return errors.New(e.failWith)
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	key := a.CanonicalName + "@" + a.Version.String()
	if _, ok := e.stored[key]; ok && !replace {
		return fmt.Errorf("artifact %s already exists", a.CanonicalName)
	}
	e.publishes++
	e.stored[key] = a.Digest
	return nil
}

func (e *fakeEndpoint) seed(canonicalName, ver, digest string) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.stored[canonicalName+"@"+ver] = digest
}

func (e *fakeEndpoint) count() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return len(e.stored)
}

// fixture wires a pipeline against fakes, a real version file, and an
// in-memory journal. The default matrix is 2 platforms x 2 interpreters.
type fixture struct {
	dir     string
	builder *fakeBuilder
	checker *fakeChecker
	staging *fakeEndpoint
	store   *version.Store
	journal *journal.Journal
	cfg     Config
	deps    Deps
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	dir := t.TempDir()

	mkdir := func(name string) string {
		path := filepath.Join(dir, name)
		require.NoError(t, os.Mkdir(path, 0o755))
		return path
	}
	coords := Coordinates{
		NativeLib: mkdir("svf"),
		Toolchain: mkdir("llvm"),
		Solver:    mkdir("z3"),
	}

	contract := filepath.Join(dir, "api.pyi")
	require.NoError(t, os.WriteFile(contract, []byte("def analyze(module: str) -> Graph: ...\n"), 0o644))

	store := version.NewStore(filepath.Join(dir, "VERSION"))
	require.NoError(t, store.Write(version.Record{
		Current: version.MustParse("1.2.3"),
		Next:    version.MustParse("1.2.4"),
	}))

	j, err := journal.Open(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { j.Close() })

	builder := newFakeBuilder()
	checker := &fakeChecker{result: GateResult{Passed: true}}
	staging := newFakeEndpoint("staging", true, ConflictSkip)

	cfg := Config{
		Package:     "pysvf",
		SourceDir:   dir,
		Coordinates: coords,
		Matrix: Matrix{
			Platforms: []Platform{
				{OS: "linux", Arch: "x86_64"},
				{OS: "darwin", Arch: "arm64"},
			},
			Interpreters: []string{"3.10", "3.11"},
		},
		Contract: contract,
		Scratch:  filepath.Join(dir, "scratch"),
	}
	deps := Deps{
		Builder:   builder,
		Checker:   checker,
		Endpoints: []Endpoint{staging},
		Versions:  store,
		Journal:   j,
		RunIDs:    NewFixedGenerator("run-0001", "run-0002", "run-0003"),
		Logger:    slog.New(slog.NewTextHandler(io.Discard, nil)),
		Now:       func() time.Time { return fixedNow },
	}

	return &fixture{
		dir: dir, builder: builder, checker: checker, staging: staging,
		store: store, journal: j, cfg: cfg, deps: deps,
	}
}

func (f *fixture) run(t *testing.T) (*Report, error) {
	t.Helper()
	p, err := New(f.cfg, f.deps)
	require.NoError(t, err)
	return p.Run(context.Background(), RunOptions{TriggeredBy: "test", Revision: "4f2a91c"})
}

func (f *fixture) versionRecord(t *testing.T) version.Record {
	t.Helper()
	rec, err := f.store.Read()
	require.NoError(t, err)
	return rec
}

func TestRunSucceeds(t *testing.T) {
	f := newFixture(t)

	report, err := f.run(t)
	require.NoError(t, err)
	require.NotNil(t, report)

	assert.Equal(t, OutcomeSucceeded, report.Outcome)
	assert.Equal(t, "run-0001", report.RunID)
	assert.Equal(t, "1.2.4", report.Version)
	assert.True(t, report.VersionAdvanced)
	assert.Equal(t, "1.2.4", report.CurrentVersion)
	assert.Equal(t, "1.2.5", report.NextVersion)

	// Version file advanced on disk.
	rec := f.versionRecord(t)
	assert.Equal(t, "1.2.4", rec.Current.String())
	assert.Equal(t, "1.2.5", rec.Next.String())

	// Gate built one reference artifact, matrix built four cells.
	require.NotNil(t, report.Gate)
	assert.True(t, report.Gate.Passed)
	assert.Equal(t, "linux/x86_64/3.10", report.Gate.Cell)
	assert.Equal(t, 5, f.builder.callCount())
	assert.Equal(t, 1, f.checker.calls)
	assert.Equal(t, f.cfg.Contract, f.checker.contractPath)

	// Cells reported in matrix enumeration order.
	require.Len(t, report.Cells, 4)
	assert.Equal(t, "linux/x86_64/3.10", report.Cells[0].Cell)
	assert.Equal(t, "pysvf-1.2.4-cp310-linux_x86_64", report.Cells[0].CanonicalName)
	assert.Equal(t, "darwin/arm64/3.11", report.Cells[3].Cell)
	assert.Equal(t, 4, report.BuiltCells())

	// Every artifact reached the endpoint.
	assert.Equal(t, 4, f.staging.count())
	require.Len(t, report.Publications, 4)
	for _, pub := range report.Publications {
		assert.Equal(t, ActionPublished, pub.Action)
		assert.Equal(t, "staging", pub.Endpoint)
	}

	// Journal closed the run and holds the full record.
	ctx := context.Background()
	run, err := f.journal.GetRun(ctx, "run-0001")
	require.NoError(t, err)
	require.NotNil(t, run)
	assert.Equal(t, journal.StateSucceeded, run.State)
	assert.Equal(t, 4, run.CellsBuilt)
	assert.Equal(t, 0, run.CellsFailed)
	assert.Equal(t, 4, run.Publications)
	require.NotNil(t, run.GatePassed)
	assert.True(t, *run.GatePassed)
}

func TestRunGateRejection(t *testing.T) {
	f := newFixture(t)
	f.checker.result = GateResult{
		Passed:      false,
		Diagnostics: []string{"missing symbol: svf_get_call_graph"},
	}

	report, err := f.run(t)
	require.Error(t, err)
	assert.True(t, IsGateFailure(err))
	require.NotNil(t, report)
	assert.Equal(t, OutcomeFailed, report.Outcome)
	assert.Equal(t, string(CodeGateFailed), report.FailureCode)
	require.NotNil(t, report.Gate)
	assert.False(t, report.Gate.Passed)
	assert.Equal(t, []string{"missing symbol: svf_get_call_graph"}, report.Gate.Diagnostics)

	// Only the gate's reference build ran; nothing was published and the
	// version state is untouched.
	assert.Equal(t, 1, f.builder.callCount())
	assert.Empty(t, report.Cells)
	assert.Zero(t, f.staging.count())
	assert.Equal(t, "1.2.3", f.versionRecord(t).Current.String())

	run, jerr := f.journal.GetRun(context.Background(), "run-0001")
	require.NoError(t, jerr)
	require.NotNil(t, run)
	assert.Equal(t, journal.StateFailed, run.State)
	assert.Equal(t, string(CodeGateFailed), run.FailureCode)
}

func TestRunGateReferenceBuildFailure(t *testing.T) {
	f := newFixture(t)
	f.builder.failCells["linux/x86_64/3.10"] = "cmake configure failed"

	report, err := f.run(t)
	require.Error(t, err)
	assert.True(t, IsGateFailure(err))
	require.NotNil(t, report.Gate)
	require.Len(t, report.Gate.Diagnostics, 1)
	assert.Contains(t, report.Gate.Diagnostics[0], "reference build for linux/x86_64/3.10 failed")
	assert.Contains(t, report.Gate.Diagnostics[0], "cmake configure failed")

	// The checker never ran and the matrix never started.
	assert.Zero(t, f.checker.calls)
	assert.Equal(t, 1, f.builder.callCount())
}

func TestRunCellFailureIsIsolated(t *testing.T) {
	f := newFixture(t)
	f.builder.failCells["darwin/arm64/3.10"] = "compiler exited with status 2"

	report, err := f.run(t)
	require.Error(t, err)
	assert.True(t, IsCollectionIncomplete(err))
	assert.Equal(t, CodeCollectionIncomplete, CodeOf(err))

	// Every cell was attempted despite the failure.
	require.Len(t, report.Cells, 4)
	assert.Equal(t, 3, report.BuiltCells())
	var failed *CellReport
	for i := range report.Cells {
		if report.Cells[i].Status == journal.CellFailed {
			failed = &report.Cells[i]
		}
	}
	require.NotNil(t, failed)
	assert.Equal(t, "darwin/arm64/3.10", failed.Cell)
	assert.Equal(t, "compiler exited with status 2", failed.Reason)

	// Nothing was published, the version state is untouched.
	assert.Zero(t, f.staging.count())
	assert.Empty(t, report.Publications)
	assert.Equal(t, "1.2.3", f.versionRecord(t).Current.String())
	assert.Equal(t, "1.2.4", f.versionRecord(t).Next.String())

	// The journal kept both outcomes.
	cells, jerr := f.journal.RunCells(context.Background(), "run-0001")
	require.NoError(t, jerr)
	require.Len(t, cells, 4)
}

func TestRunEmptyArtifactIsCellFailure(t *testing.T) {
	f := newFixture(t)
	f.builder.emptyCells["linux/x86_64/3.11"] = true

	report, err := f.run(t)
	require.Error(t, err)
	assert.Equal(t, CodeCollectionIncomplete, CodeOf(err))

	var reason string
	for _, c := range report.Cells {
		if c.Cell == "linux/x86_64/3.11" {
			reason = c.Reason
		}
	}
	assert.Contains(t, reason, "is empty")
}

func TestRunCellTimeout(t *testing.T) {
	f := newFixture(t)
	f.cfg.CellTimeout = 50 * time.Millisecond
	f.builder.hangCells["darwin/arm64/3.11"] = true

	report, err := f.run(t)
	require.Error(t, err)
	assert.Equal(t, CodeCollectionIncomplete, CodeOf(err))

	var reason string
	for _, c := range report.Cells {
		if c.Cell == "darwin/arm64/3.11" {
			reason = c.Reason
		}
	}
	assert.Equal(t, "build timed out after 50ms", reason)
	assert.Equal(t, "1.2.3", f.versionRecord(t).Current.String())
}

func TestRunNameCollision(t *testing.T) {
	f := newFixture(t)
	// Distinct interpreter series that flatten to the same tag: both
	// "3.1.0" and "31.0" become cp310.
	f.cfg.Matrix = Matrix{
		Platforms:    []Platform{{OS: "linux", Arch: "x86_64"}},
		Interpreters: []string{"3.1.0", "31.0"},
	}

	report, err := f.run(t)
	require.Error(t, err)
	assert.Equal(t, CodeNameCollision, CodeOf(err))
	assert.Zero(t, f.staging.count())
	require.NotNil(t, report)
	assert.Equal(t, string(CodeNameCollision), report.FailureCode)
}

func TestRunRequiredEndpointFailure(t *testing.T) {
	f := newFixture(t)
	f.staging.failWith = "connection refused"

	report, err := f.run(t)
	require.Error(t, err)
	assert.True(t, IsPublishFailure(err))
	assert.Equal(t, CodePublishFailed, CodeOf(err))

	// First upload failed, the rest were skipped, version untouched.
	require.Len(t, report.Publications, 4)
	assert.Equal(t, ActionFailed, report.Publications[0].Action)
	assert.Equal(t, ActionSkipped, report.Publications[1].Action)
	assert.Equal(t, "endpoint aborted after earlier failure", report.Publications[1].Reason)
	assert.Equal(t, "1.2.3", f.versionRecord(t).Current.String())
}

func TestRunOptionalEndpointFailure(t *testing.T) {
	f := newFixture(t)
	index := newFakeEndpoint("index", false, ConflictSkip)
	index.failWith = "upload rejected"
	f.deps.Endpoints = []Endpoint{f.staging, index}

	report, err := f.run(t)
	require.NoError(t, err)
	assert.Equal(t, OutcomeSucceeded, report.Outcome)
	assert.True(t, report.VersionAdvanced)
	require.Len(t, report.Warnings, 1)
	assert.Contains(t, report.Warnings[0], "optional endpoint index failed")

	// The required endpoint still got everything.
	assert.Equal(t, 4, f.staging.count())
}

func TestRunStrictModeFailsOnOptionalEndpoint(t *testing.T) {
	f := newFixture(t)
	f.cfg.Strict = true
	index := newFakeEndpoint("index", false, ConflictSkip)
	index.failWith = "upload rejected"
	f.deps.Endpoints = []Endpoint{f.staging, index}

	_, err := f.run(t)
	require.Error(t, err)
	assert.Equal(t, CodePublishFailed, CodeOf(err))
	assert.Equal(t, "1.2.3", f.versionRecord(t).Current.String())
}

func TestRunProbeFailureFailsRequiredEndpoint(t *testing.T) {
	f := newFixture(t)
	f.staging.probeErr = errors.New("endpoint unreachable")

	_, err := f.run(t)
	require.Error(t, err)
	assert.Equal(t, CodePublishFailed, CodeOf(err))
	assert.Equal(t, "1.2.3", f.versionRecord(t).Current.String())
}

func TestRunConflictPolicies(t *testing.T) {
	t.Run("fail", func(t *testing.T) {
		f := newFixture(t)
		f.staging.policy = ConflictFail
		f.staging.seed("pysvf-1.2.4-cp310-linux_x86_64", "1.2.4", "stale")

		_, err := f.run(t)
		require.Error(t, err)
		assert.Equal(t, CodePublishFailed, CodeOf(err))
		assert.Contains(t, err.Error(), "staging")
	})

	t.Run("replace", func(t *testing.T) {
		f := newFixture(t)
		f.staging.policy = ConflictReplace
		f.staging.seed("pysvf-1.2.4-cp310-linux_x86_64", "1.2.4", "stale")

		report, err := f.run(t)
		require.NoError(t, err)

		var replaced int
		for _, pub := range report.Publications {
			if pub.Action == ActionReplaced {
				replaced++
			}
		}
		assert.Equal(t, 1, replaced)

		// The stale blob was overwritten with the fresh digest.
		f.staging.mu.Lock()
		assert.NotEqual(t, "stale", f.staging.stored["pysvf-1.2.4-cp310-linux_x86_64@1.2.4"])
		f.staging.mu.Unlock()
	})
}

func TestRunVersionWriteFailureAndRetry(t *testing.T) {
	f := newFixture(t)

	// Simulate the version file becoming unwritable mid-run: a directory
	// appears where the file was. Read already happened at run start, so
	// every stage up to and including publish succeeds.
	var sabotage sync.Once
	f.builder.hook = func(BuildCell) {
		sabotage.Do(func() {
			path := f.store.Path()
			if err := os.Remove(path); err == nil {
				os.Mkdir(path, 0o755)
			}
		})
	}

	report, err := f.run(t)
	require.Error(t, err)
	assert.True(t, IsVersionWriteFailure(err))
	assert.Equal(t, string(CodeVersionWriteFailed), report.FailureCode)

	// Artifacts were published before the failure.
	assert.Equal(t, 4, f.staging.count())
	assert.Equal(t, 4, f.staging.publishes)
	assert.False(t, report.VersionAdvanced)

	// Operator repairs the version file and retries. The endpoint already
	// holds every artifact, so the retry skips the uploads and finally
	// advances the version.
	f.builder.hook = nil
	require.NoError(t, os.Remove(f.store.Path()))
	require.NoError(t, f.store.Write(version.Record{
		Current: version.MustParse("1.2.3"),
		Next:    version.MustParse("1.2.4"),
	}))

	retry, err := f.run(t)
	require.NoError(t, err)
	assert.Equal(t, OutcomeSucceeded, retry.Outcome)
	assert.Equal(t, "run-0002", retry.RunID)
	for _, pub := range retry.Publications {
		assert.Equal(t, ActionSkipped, pub.Action)
		assert.Contains(t, pub.Reason, "delivered by run run-0001")
	}
	// No re-uploads happened.
	assert.Equal(t, 4, f.staging.publishes)

	rec := f.versionRecord(t)
	assert.Equal(t, "1.2.4", rec.Current.String())
	assert.Equal(t, "1.2.5", rec.Next.String())
}

func TestRunLockRefusesSecondRun(t *testing.T) {
	f := newFixture(t)

	inserted, _, err := f.journal.BeginRun(context.Background(), journal.RunStart{
		ID: "manual-hold", Package: "pysvf", Version: "1.2.4", StartedAt: fixedNow,
	})
	require.NoError(t, err)
	require.True(t, inserted)

	report, err := f.run(t)
	require.Error(t, err)
	assert.True(t, IsRunInProgress(err))
	assert.Contains(t, err.Error(), "manual-hold")
	assert.Nil(t, report)

	// No builds were attempted.
	assert.Zero(t, f.builder.callCount())
}

func TestRunNoEndpoints(t *testing.T) {
	f := newFixture(t)
	f.deps.Endpoints = nil

	_, err := f.run(t)
	require.Error(t, err)
	assert.Equal(t, CodePublishFailed, CodeOf(err))
	assert.Contains(t, err.Error(), "no endpoints")
	assert.Equal(t, "1.2.3", f.versionRecord(t).Current.String())
}

func TestRunWorkerLimit(t *testing.T) {
	f := newFixture(t)
	f.cfg.Workers = 2
	f.builder.delay = 10 * time.Millisecond

	_, err := f.run(t)
	require.NoError(t, err)

	// The gate build runs alone; the matrix fan-out is capped at two.
	assert.LessOrEqual(t, f.builder.maxInFlight, 2)
}

func TestRunCorruptVersionFileRefusesToStart(t *testing.T) {
	f := newFixture(t)
	require.NoError(t, os.WriteFile(f.store.Path(), []byte("CURRENT_VERSION:1.2.3\nNEXT_VERSION:1.2.3\n"), 0o644))

	report, err := f.run(t)
	require.Error(t, err)
	assert.Nil(t, report)
	assert.Contains(t, err.Error(), "not greater than current")
	assert.Zero(t, f.builder.callCount())
}

func TestRunInvalidCoordinatesRefusesToStart(t *testing.T) {
	f := newFixture(t)
	f.cfg.Coordinates.Solver = filepath.Join(f.dir, "nope")

	report, err := f.run(t)
	require.Error(t, err)
	assert.Nil(t, report)
	assert.Contains(t, err.Error(), "solver")
	assert.Zero(t, f.builder.callCount())
}

func TestRunGateCellOverride(t *testing.T) {
	f := newFixture(t)
	gateCell := BuildCell{Platform: Platform{OS: "darwin", Arch: "arm64"}, Interpreter: "3.11"}
	f.cfg.GateCell = &gateCell

	report, err := f.run(t)
	require.NoError(t, err)
	assert.Equal(t, "darwin/arm64/3.11", report.Gate.Cell)
	f.builder.mu.Lock()
	assert.Equal(t, "darwin/arm64/3.11", f.builder.calls[0])
	f.builder.mu.Unlock()
}

func TestNewValidation(t *testing.T) {
	f := newFixture(t)

	tests := []struct {
		name    string
		mutate  func(cfg *Config, deps *Deps)
		wantErr string
	}{
		{
			name:    "missing package",
			mutate:  func(cfg *Config, _ *Deps) { cfg.Package = "" },
			wantErr: "package name is required",
		},
		{
			name:    "missing contract",
			mutate:  func(cfg *Config, _ *Deps) { cfg.Contract = "" },
			wantErr: "contract path is required",
		},
		{
			name:    "empty matrix",
			mutate:  func(cfg *Config, _ *Deps) { cfg.Matrix = Matrix{} },
			wantErr: "no cells",
		},
		{
			name:    "missing builder",
			mutate:  func(_ *Config, deps *Deps) { deps.Builder = nil },
			wantErr: "builder is required",
		},
		{
			name:    "missing checker",
			mutate:  func(_ *Config, deps *Deps) { deps.Checker = nil },
			wantErr: "checker is required",
		},
		{
			name:    "missing version store",
			mutate:  func(_ *Config, deps *Deps) { deps.Versions = nil },
			wantErr: "version store is required",
		},
		{
			name:    "missing journal",
			mutate:  func(_ *Config, deps *Deps) { deps.Journal = nil },
			wantErr: "journal is required",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := f.cfg
			deps := f.deps
			tt.mutate(&cfg, &deps)
			_, err := New(cfg, deps)
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}
