// Package scenario runs the release pipeline against scripted
// collaborator outcomes.
//
// A scenario file declares what the gate, each build cell, and each
// endpoint will do, plus the expected final state of the run. Executing
// it drives the real pipeline — real gating, collection, conflict
// policies, version advancement — against fakes, with an in-memory
// journal and a throwaway version file, so a rehearsal touches nothing.
//
// Scenarios back the `rehearse` command and the package's golden tests.
package scenario

import (
	"bytes"
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/bjjwwang/wheelhouse/internal/release"
	"github.com/bjjwwang/wheelhouse/internal/version"
)

// Scenario is one scripted release run.
type Scenario struct {
	// Name identifies the scenario in output and golden files.
	Name string `yaml:"name"`

	// Description explains what the scenario demonstrates.
	Description string `yaml:"description,omitempty"`

	// Package is the distribution name. Defaults to "pkg".
	Package string `yaml:"package,omitempty"`

	// Versions is the starting version state.
	Versions Versions `yaml:"versions"`

	// Matrix declares the build axes.
	Matrix Matrix `yaml:"matrix"`

	// Gate scripts the interface gate verdict. Omitted means pass.
	Gate *Gate `yaml:"gate,omitempty"`

	// BuildFailures scripts per-cell build failures. Unlisted cells
	// build successfully. A scripted cell fails wherever it is built,
	// including as the gate's reference cell.
	BuildFailures []BuildFailure `yaml:"build_failures,omitempty"`

	// Strict escalates optional-endpoint failures to run failures.
	Strict bool `yaml:"strict,omitempty"`

	// Endpoints scripts the publish targets. Omitted means one required
	// endpoint named "staging" that accepts everything.
	Endpoints []Endpoint `yaml:"endpoints,omitempty"`

	// Expect is the asserted final state.
	Expect Expect `yaml:"expect"`
}

// Versions is the scripted starting content of the version file.
type Versions struct {
	Current string `yaml:"current"`
	Next    string `yaml:"next"`
}

// Matrix declares the scenario's build axes.
type Matrix struct {
	Platforms    []Platform `yaml:"platforms"`
	Interpreters []string   `yaml:"interpreters"`
	Exclude      []Cell     `yaml:"exclude,omitempty"`
}

// Platform is one os/arch pair.
type Platform struct {
	OS   string `yaml:"os"`
	Arch string `yaml:"arch"`
}

// Cell names one matrix cell.
type Cell struct {
	OS          string `yaml:"os"`
	Arch        string `yaml:"arch"`
	Interpreter string `yaml:"interpreter"`
}

// Gate scripts the interface gate.
type Gate struct {
	// Pass is the scripted verdict.
	Pass bool `yaml:"pass"`

	// Diagnostics is the scripted checker output.
	Diagnostics []string `yaml:"diagnostics,omitempty"`

	// Error, when set, makes the checker fail to run at all instead of
	// returning a verdict.
	Error string `yaml:"error,omitempty"`
}

// BuildFailure scripts one cell's build failing.
type BuildFailure struct {
	// Cell is the cell key, e.g. "linux/x86_64/3.10".
	Cell string `yaml:"cell"`

	// Reason is the scripted build diagnostic.
	Reason string `yaml:"reason"`
}

// Endpoint scripts one publish target.
type Endpoint struct {
	Name       string `yaml:"name"`
	Required   bool   `yaml:"required,omitempty"`
	OnConflict string `yaml:"on_conflict,omitempty"`

	// Fail, when set, makes every upload to this endpoint fail with
	// this reason.
	Fail string `yaml:"fail,omitempty"`

	// Holds lists canonical names the endpoint already has at the
	// scenario's next version, for exercising conflict policies.
	Holds []string `yaml:"holds,omitempty"`
}

// Expect is the asserted final state of the run.
type Expect struct {
	// Outcome is "succeeded" or "failed".
	Outcome string `yaml:"outcome"`

	// FailureCode is the expected RunError code for failed outcomes.
	FailureCode string `yaml:"failure_code,omitempty"`

	// VersionAdvanced asserts whether the version file moved. Omitted
	// means derived from Outcome.
	VersionAdvanced *bool `yaml:"version_advanced,omitempty"`

	// CurrentVersion and NextVersion assert the final version file
	// content when set.
	CurrentVersion string `yaml:"current_version,omitempty"`
	NextVersion    string `yaml:"next_version,omitempty"`

	// Published asserts the number of fresh uploads across all
	// endpoints when set.
	Published *int `yaml:"published,omitempty"`

	// Warnings asserts the number of run warnings when set.
	Warnings *int `yaml:"warnings,omitempty"`
}

// Load reads and validates a scenario file. Unknown fields are rejected.
func Load(path string) (*Scenario, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading scenario: %w", err)
	}

	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	var s Scenario
	if err := dec.Decode(&s); err != nil {
		return nil, fmt.Errorf("decoding scenario %s: %w", path, err)
	}

	if err := s.Validate(); err != nil {
		return nil, fmt.Errorf("scenario %s: %w", path, err)
	}
	return &s, nil
}

// Validate checks the scenario for internal consistency.
func (s *Scenario) Validate() error {
	if s.Name == "" {
		return fmt.Errorf("name is required")
	}

	current, err := version.Parse(s.Versions.Current)
	if err != nil {
		return fmt.Errorf("versions.current: %w", err)
	}
	next, err := version.Parse(s.Versions.Next)
	if err != nil {
		return fmt.Errorf("versions.next: %w", err)
	}
	if next.Compare(current) <= 0 {
		return fmt.Errorf("versions: next %s is not greater than current %s", next, current)
	}

	if len(s.Matrix.Platforms) == 0 {
		return fmt.Errorf("matrix: at least one platform is required")
	}
	if len(s.Matrix.Interpreters) == 0 {
		return fmt.Errorf("matrix: at least one interpreter is required")
	}

	cells := map[string]bool{}
	for _, c := range s.releaseMatrix().Cells() {
		cells[c.String()] = true
	}
	if len(cells) == 0 {
		return fmt.Errorf("matrix: exclusions leave no cells")
	}
	for _, bf := range s.BuildFailures {
		if !cells[bf.Cell] {
			return fmt.Errorf("build_failures: cell %q is not in the matrix", bf.Cell)
		}
	}

	names := map[string]bool{}
	for i, ep := range s.Endpoints {
		if ep.Name == "" {
			return fmt.Errorf("endpoints[%d]: name is required", i)
		}
		if names[ep.Name] {
			return fmt.Errorf("endpoints: %q scripted twice", ep.Name)
		}
		names[ep.Name] = true
		switch ep.OnConflict {
		case "", string(release.ConflictSkip), string(release.ConflictReplace), string(release.ConflictFail):
		default:
			return fmt.Errorf("endpoints[%d]: unknown conflict policy %q", i, ep.OnConflict)
		}
	}

	switch s.Expect.Outcome {
	case string(release.OutcomeSucceeded), string(release.OutcomeFailed):
	default:
		return fmt.Errorf("expect.outcome must be %q or %q, got %q",
			release.OutcomeSucceeded, release.OutcomeFailed, s.Expect.Outcome)
	}
	if s.Expect.FailureCode != "" && s.Expect.Outcome != string(release.OutcomeFailed) {
		return fmt.Errorf("expect.failure_code is only valid with outcome %q", release.OutcomeFailed)
	}
	return nil
}

// releaseMatrix converts the scenario axes into the pipeline's matrix.
func (s *Scenario) releaseMatrix() release.Matrix {
	m := release.Matrix{Interpreters: s.Matrix.Interpreters}
	for _, p := range s.Matrix.Platforms {
		m.Platforms = append(m.Platforms, release.Platform{OS: p.OS, Arch: p.Arch})
	}
	for _, e := range s.Matrix.Exclude {
		m.Exclusions = append(m.Exclusions, release.BuildCell{
			Platform:    release.Platform{OS: e.OS, Arch: e.Arch},
			Interpreter: e.Interpreter,
		})
	}
	return m
}

// pkg returns the scenario's package name with its default applied.
func (s *Scenario) pkg() string {
	if s.Package != "" {
		return s.Package
	}
	return "pkg"
}
