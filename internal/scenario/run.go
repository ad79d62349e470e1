package scenario

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/bjjwwang/wheelhouse/internal/journal"
	"github.com/bjjwwang/wheelhouse/internal/release"
	"github.com/bjjwwang/wheelhouse/internal/version"
)

// Every rehearsal runs under the same identity and clock so that two
// executions of the same scenario produce byte-identical reports.
var rehearsalStart = time.Date(2026, 1, 15, 10, 0, 0, 0, time.UTC)

const rehearsalRunID = "rehearsal-0001"

// Result is the outcome of executing a scenario.
type Result struct {
	// Report is the pipeline's run report. Nil only if the run could
	// not open at all.
	Report *release.Report

	// Err is the run's failure, nil on success.
	Err error

	// Final is the version file content after the run.
	Final version.Record
}

// Run executes the scenario against scripted collaborators in a
// throwaway workspace. The returned error covers harness problems only;
// a scripted pipeline failure lands in Result.Err.
func Run(ctx context.Context, s *Scenario) (*Result, error) {
	if err := s.Validate(); err != nil {
		return nil, err
	}

	dir, err := os.MkdirTemp("", "rehearse-")
	if err != nil {
		return nil, fmt.Errorf("creating rehearsal workspace: %w", err)
	}
	defer os.RemoveAll(dir)

	coords := release.Coordinates{
		NativeLib: filepath.Join(dir, "native"),
		Toolchain: filepath.Join(dir, "toolchain"),
		Solver:    filepath.Join(dir, "solver"),
	}
	for _, p := range []string{coords.NativeLib, coords.Toolchain, coords.Solver} {
		if err := os.Mkdir(p, 0o755); err != nil {
			return nil, fmt.Errorf("creating rehearsal workspace: %w", err)
		}
	}
	contract := filepath.Join(dir, "contract.pyi")
	if err := os.WriteFile(contract, []byte("# rehearsal contract\n"), 0o644); err != nil {
		return nil, fmt.Errorf("creating rehearsal workspace: %w", err)
	}

	store := version.NewStore(filepath.Join(dir, "VERSION"))
	if err := store.Write(version.Record{
		Current: version.MustParse(s.Versions.Current),
		Next:    version.MustParse(s.Versions.Next),
	}); err != nil {
		return nil, fmt.Errorf("seeding version file: %w", err)
	}

	j, err := journal.Open(":memory:")
	if err != nil {
		return nil, fmt.Errorf("opening rehearsal journal: %w", err)
	}
	defer j.Close()

	cfg := release.Config{
		Package:     s.pkg(),
		SourceDir:   dir,
		Coordinates: coords,
		Matrix:      s.releaseMatrix(),
		Contract:    contract,
		Scratch:     filepath.Join(dir, "scratch"),
		Strict:      s.Strict,
	}
	deps := release.Deps{
		Builder:   newScriptedBuilder(s),
		Checker:   newScriptedChecker(s),
		Endpoints: scriptedEndpoints(s),
		Versions:  store,
		Journal:   j,
		RunIDs:    release.NewFixedGenerator(rehearsalRunID),
		Logger:    slog.New(slog.NewTextHandler(io.Discard, nil)),
		Now:       func() time.Time { return rehearsalStart },
	}

	p, err := release.New(cfg, deps)
	if err != nil {
		return nil, err
	}

	report, runErr := p.Run(ctx, release.RunOptions{TriggeredBy: "rehearsal"})

	final, err := store.Read()
	if err != nil {
		return nil, fmt.Errorf("reading version file after run: %w", err)
	}
	return &Result{Report: report, Err: runErr, Final: final}, nil
}

// Check compares a result against the scenario's expectations and
// returns one message per mismatch. Empty means the rehearsal matched.
func Check(s *Scenario, res *Result) []string {
	problems := []string{}
	report := res.Report
	if report == nil {
		return append(problems, fmt.Sprintf("run did not open: %v", res.Err))
	}

	if string(report.Outcome) != s.Expect.Outcome {
		problems = append(problems, fmt.Sprintf("outcome: want %s, got %s", s.Expect.Outcome, report.Outcome))
	}
	if s.Expect.FailureCode != "" && report.FailureCode != s.Expect.FailureCode {
		problems = append(problems, fmt.Sprintf("failure_code: want %s, got %q", s.Expect.FailureCode, report.FailureCode))
	}

	wantAdvanced := s.Expect.Outcome == string(release.OutcomeSucceeded)
	if s.Expect.VersionAdvanced != nil {
		wantAdvanced = *s.Expect.VersionAdvanced
	}
	if report.VersionAdvanced != wantAdvanced {
		problems = append(problems, fmt.Sprintf("version_advanced: want %t, got %t", wantAdvanced, report.VersionAdvanced))
	}

	if s.Expect.CurrentVersion != "" && res.Final.Current.String() != s.Expect.CurrentVersion {
		problems = append(problems, fmt.Sprintf("current_version: want %s, got %s", s.Expect.CurrentVersion, res.Final.Current))
	}
	if s.Expect.NextVersion != "" && res.Final.Next.String() != s.Expect.NextVersion {
		problems = append(problems, fmt.Sprintf("next_version: want %s, got %s", s.Expect.NextVersion, res.Final.Next))
	}

	if s.Expect.Published != nil {
		published := 0
		for _, pub := range report.Publications {
			if pub.Action == release.ActionPublished {
				published++
			}
		}
		if published != *s.Expect.Published {
			problems = append(problems, fmt.Sprintf("published: want %d, got %d", *s.Expect.Published, published))
		}
	}
	if s.Expect.Warnings != nil && len(report.Warnings) != *s.Expect.Warnings {
		problems = append(problems, fmt.Sprintf("warnings: want %d, got %d", *s.Expect.Warnings, len(report.Warnings)))
	}
	return problems
}

// scriptedBuilder writes a deterministic artifact per cell, or fails the
// cells the scenario scripts as failing.
type scriptedBuilder struct {
	failures map[string]string
}

func newScriptedBuilder(s *Scenario) *scriptedBuilder {
	failures := map[string]string{}
	for _, bf := range s.BuildFailures {
		failures[bf.Cell] = bf.Reason
	}
	return &scriptedBuilder{failures: failures}
}

func (b *scriptedBuilder) Build(_ context.Context, spec release.BuildSpec, cell release.BuildCell, outDir string) (string, error) {
	if reason, ok := b.failures[cell.String()]; ok {
		return "", errors.New(reason)
	}
	path := filepath.Join(outDir, cell.DirName()+".whl")
	content := fmt.Sprintf("%s %s %s\n", spec.Package, cell, spec.Version)
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		return "", err
	}
	return path, nil
}

// scriptedChecker returns the scenario's gate verdict.
type scriptedChecker struct {
	result release.GateResult
	err    error
}

func newScriptedChecker(s *Scenario) *scriptedChecker {
	if s.Gate == nil {
		return &scriptedChecker{result: release.GateResult{Passed: true}}
	}
	c := &scriptedChecker{
		result: release.GateResult{Passed: s.Gate.Pass, Diagnostics: s.Gate.Diagnostics},
	}
	if s.Gate.Error != "" {
		c.err = errors.New(s.Gate.Error)
	}
	return c
}

func (c *scriptedChecker) Check(context.Context, string, string) (release.GateResult, error) {
	return c.result, c.err
}

// scriptedEndpoint holds artifacts in memory.
type scriptedEndpoint struct {
	mu       sync.Mutex
	name     string
	required bool
	policy   release.ConflictPolicy
	failWith string
	stored   map[string]bool
}

func scriptedEndpoints(s *Scenario) []release.Endpoint {
	scripts := s.Endpoints
	if len(scripts) == 0 {
		scripts = []Endpoint{{Name: "staging", Required: true}}
	}

	endpoints := make([]release.Endpoint, 0, len(scripts))
	for _, script := range scripts {
		policy := release.ConflictPolicy(script.OnConflict)
		if policy == "" {
			policy = release.ConflictSkip
		}
		ep := &scriptedEndpoint{
			name:     script.Name,
			required: script.Required,
			policy:   policy,
			failWith: script.Fail,
			stored:   map[string]bool{},
		}
		for _, name := range script.Holds {
			ep.stored[name+"@"+s.Versions.Next] = true
		}
		endpoints = append(endpoints, ep)
	}
	return endpoints
}

func (e *scriptedEndpoint) Name() string                       { return e.name }
func (e *scriptedEndpoint) Required() bool                     { return e.required }
func (e *scriptedEndpoint) OnConflict() release.ConflictPolicy { return e.policy }

func (e *scriptedEndpoint) Has(_ context.Context, canonicalName string, v version.Version) (bool, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.stored[canonicalName+"@"+v.String()], nil
}

func (e *scriptedEndpoint) Publish(_ context.Context, a release.Artifact, replace bool) error {
	if e.failWith != "" {
		return errors.New(e.failWith)
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	key := a.CanonicalName + "@" + a.Version.String()
	if e.stored[key] && !replace {
		return fmt.Errorf("artifact %s already present", a.CanonicalName)
	}
	e.stored[key] = true
	return nil
}
