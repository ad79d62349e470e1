// Package driver provides the production collaborators of the release
// pipeline: a builder and checker that shell out to the project's build
// tooling, and endpoints that deliver artifacts to directories or
// external commands.
//
// All subprocesses honor context cancellation; a cancelled or timed-out
// build is killed rather than abandoned.
package driver

import (
	"context"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strings"

	"github.com/bjjwwang/wheelhouse/internal/release"
)

// Environment passed to build commands. The command decides how to use
// the toolchain; the pipeline only pins down where everything is.
const (
	EnvNativeLib   = "NATIVE_LIB_DIR"
	EnvToolchain   = "TOOLCHAIN_DIR"
	EnvSolver      = "SOLVER_DIR"
	EnvVersion     = "RELEASE_VERSION"
	EnvTargetOS    = "TARGET_OS"
	EnvTargetArch  = "TARGET_ARCH"
	EnvInterpreter = "TARGET_INTERPRETER"
	EnvOutputDir   = "OUTPUT_DIR"
)

// ExecBuilder runs the configured build command once per cell.
//
// The command runs in the source checkout with the cell's parameters in
// the environment (see the Env* constants) and must leave exactly one
// file in OUTPUT_DIR. Anything else is a build failure for that cell.
type ExecBuilder struct {
	// Command is the argv of the build command.
	Command []string

	// Env holds extra KEY=VALUE pairs appended to the inherited
	// environment.
	Env []string
}

// Build implements release.Builder.
func (b *ExecBuilder) Build(ctx context.Context, spec release.BuildSpec, cell release.BuildCell, outDir string) (string, error) {
	if len(b.Command) == 0 {
		return "", fmt.Errorf("no build command configured")
	}

	cmd := exec.CommandContext(ctx, b.Command[0], b.Command[1:]...)
	cmd.Dir = spec.SourceDir
	cmd.Env = append(os.Environ(),
		EnvNativeLib+"="+spec.Coordinates.NativeLib,
		EnvToolchain+"="+spec.Coordinates.Toolchain,
		EnvSolver+"="+spec.Coordinates.Solver,
		EnvVersion+"="+spec.Version.String(),
		EnvTargetOS+"="+cell.Platform.OS,
		EnvTargetArch+"="+cell.Platform.Arch,
		EnvInterpreter+"="+cell.Interpreter,
		EnvOutputDir+"="+outDir,
	)
	cmd.Env = append(cmd.Env, b.Env...)

	output, err := cmd.CombinedOutput()
	if err != nil {
		return "", fmt.Errorf("build command failed: %v%s", err, outputTail(output))
	}

	return singleArtifact(outDir)
}

// singleArtifact resolves the one file the build must have produced.
func singleArtifact(outDir string) (string, error) {
	entries, err := os.ReadDir(outDir)
	if err != nil {
		return "", fmt.Errorf("reading build output dir: %w", err)
	}

	files := []string{}
	for _, entry := range entries {
		if !entry.IsDir() {
			files = append(files, entry.Name())
		}
	}

	switch len(files) {
	case 0:
		return "", fmt.Errorf("build command produced no artifact in %s", outDir)
	case 1:
		return filepath.Join(outDir, files[0]), nil
	default:
		return "", fmt.Errorf("build command produced %d files in %s, expected exactly one: %s",
			len(files), outDir, strings.Join(files, ", "))
	}
}

// outputTail keeps the last lines of command output for error messages.
// Build logs can run to megabytes; the tail is where compilers put the
// actual error.
func outputTail(output []byte) string {
	text := strings.TrimRight(string(output), "\n")
	if text == "" {
		return ""
	}
	lines := strings.Split(text, "\n")
	const keep = 10
	if len(lines) > keep {
		lines = lines[len(lines)-keep:]
	}
	return "\n" + strings.Join(lines, "\n")
}
