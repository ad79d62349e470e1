package driver

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"

	"github.com/bjjwwang/wheelhouse/internal/release"
	"github.com/bjjwwang/wheelhouse/internal/version"
)

// Environment passed to endpoint commands, in addition to the inherited
// environment.
const (
	EnvCanonicalName  = "CANONICAL_NAME"
	EnvArtifactDigest = "ARTIFACT_DIGEST"
	EnvReplace        = "REPLACE"
)

// CommandEndpoint delegates delivery to an external command: an index
// uploader, an object-store CLI, anything scriptable.
//
// The upload command receives the artifact path as its final argument and
// the artifact's identity in the environment (CANONICAL_NAME,
// RELEASE_VERSION, ARTIFACT_DIGEST, REPLACE). The optional probe command
// receives the canonical name and version as arguments; exit 0 means the
// artifact is present, exit 1 means absent, anything else is an error.
// Without a probe the endpoint reports every artifact as absent and
// relies on the upload command's own idempotency.
type CommandEndpoint struct {
	name       string
	upload     []string
	probe      []string
	required   bool
	onConflict release.ConflictPolicy
}

// NewCommandEndpoint creates a command endpoint. probe may be nil.
func NewCommandEndpoint(name string, upload, probe []string, required bool, policy release.ConflictPolicy) *CommandEndpoint {
	return &CommandEndpoint{name: name, upload: upload, probe: probe, required: required, onConflict: policy}
}

// Name implements release.Endpoint.
func (e *CommandEndpoint) Name() string { return e.name }

// Required implements release.Endpoint.
func (e *CommandEndpoint) Required() bool { return e.required }

// OnConflict implements release.Endpoint.
func (e *CommandEndpoint) OnConflict() release.ConflictPolicy { return e.onConflict }

// Has implements release.Endpoint.
func (e *CommandEndpoint) Has(ctx context.Context, canonicalName string, v version.Version) (bool, error) {
	if len(e.probe) == 0 {
		return false, nil
	}

	argv := append(append([]string{}, e.probe...), canonicalName, v.String())
	cmd := exec.CommandContext(ctx, argv[0], argv[1:]...)

	output, err := cmd.CombinedOutput()
	if err == nil {
		return true, nil
	}

	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) && exitErr.ExitCode() == 1 {
		return false, nil
	}
	return false, fmt.Errorf("probe command failed: %v%s", err, outputTail(output))
}

// Publish implements release.Endpoint.
func (e *CommandEndpoint) Publish(ctx context.Context, a release.Artifact, replace bool) error {
	if len(e.upload) == 0 {
		return fmt.Errorf("no upload command configured")
	}

	argv := append(append([]string{}, e.upload...), a.Path)
	cmd := exec.CommandContext(ctx, argv[0], argv[1:]...)

	replaceFlag := "0"
	if replace {
		replaceFlag = "1"
	}
	cmd.Env = append(os.Environ(),
		EnvCanonicalName+"="+a.CanonicalName,
		EnvVersion+"="+a.Version.String(),
		EnvArtifactDigest+"="+a.Digest,
		EnvReplace+"="+replaceFlag,
	)

	output, err := cmd.CombinedOutput()
	if err != nil {
		return fmt.Errorf("upload command failed: %v%s", err, outputTail(output))
	}
	return nil
}
