package release

import (
	"context"

	"github.com/bjjwwang/wheelhouse/internal/version"
)

// BuildSpec carries everything a collaborator needs to build one release:
// what to build, which version it carries, and where its native
// dependencies live. The spec is identical for every cell of a run.
type BuildSpec struct {
	// Package is the distribution name, e.g. "pysvf".
	Package string

	// Version is the version this release will carry.
	Version version.Version

	// Revision is the source revision being released, when known.
	Revision string

	// SourceDir is the library checkout the build runs in.
	SourceDir string

	// Coordinates locate the native dependencies.
	Coordinates Coordinates
}

// Builder produces one binary artifact for one cell.
//
// Build writes the artifact into outDir and returns its path. The pipeline
// owns naming, digesting, and validation of the result; a Builder only has
// to run the toolchain. Build must honor ctx cancellation: when the
// per-cell timeout fires, the build is abandoned.
type Builder interface {
	Build(ctx context.Context, spec BuildSpec, cell BuildCell, outDir string) (string, error)
}

// GateResult is the verdict of the interface gate.
type GateResult struct {
	// Passed is true when the contract matches the built library.
	Passed bool

	// Diagnostics lists the mismatches when Passed is false. May carry
	// informational output on success.
	Diagnostics []string
}

// Checker verifies a built artifact against the declared interface
// contract.
//
// A false verdict is a normal result, not an error; Check returns a
// non-nil error only when the verification itself could not run.
type Checker interface {
	Check(ctx context.Context, artifactPath, contractPath string) (GateResult, error)
}

// ConflictPolicy decides what Publisher does when an endpoint already
// holds an artifact under the same canonical name and version.
type ConflictPolicy string

const (
	// ConflictSkip leaves the existing artifact in place. The default:
	// re-running a release after a late failure must not re-upload.
	ConflictSkip ConflictPolicy = "skip"

	// ConflictReplace overwrites the existing artifact.
	ConflictReplace ConflictPolicy = "replace"

	// ConflictFail treats the conflict as a publish failure.
	ConflictFail ConflictPolicy = "fail"
)

// Endpoint is one publication target.
//
// Implementations must make Publish idempotent per (canonical name,
// version): the pipeline may retry a run whose artifacts partially
// reached the endpoint.
type Endpoint interface {
	// Name identifies the endpoint in reports and the journal.
	Name() string

	// Required reports whether a publish failure here fails the run.
	Required() bool

	// OnConflict returns the endpoint's conflict policy.
	OnConflict() ConflictPolicy

	// Has reports whether the endpoint already holds an artifact under
	// the given canonical name and version. Endpoints that cannot probe
	// return (false, nil).
	Has(ctx context.Context, canonicalName string, v version.Version) (bool, error)

	// Publish uploads the artifact. With replace set, an existing artifact
	// under the same name is overwritten; without it, the upload must not
	// clobber existing content.
	Publish(ctx context.Context, a Artifact, replace bool) error
}
