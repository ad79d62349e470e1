package driver

import (
	"context"
	"errors"
	"fmt"
	"os/exec"
	"strings"

	"github.com/bjjwwang/wheelhouse/internal/release"
)

// ExecChecker verifies a built artifact against the interface contract by
// running an external checker command.
//
// The artifact path and contract path are appended to the configured
// argv. Exit status 0 means the contract matches; any other exit status
// is a gate rejection whose diagnostics are the command's output. Only a
// command that cannot run at all is reported as an error.
type ExecChecker struct {
	// Command is the argv of the checker command.
	Command []string
}

// Check implements release.Checker.
func (c *ExecChecker) Check(ctx context.Context, artifactPath, contractPath string) (release.GateResult, error) {
	if len(c.Command) == 0 {
		return release.GateResult{}, fmt.Errorf("no checker command configured")
	}

	argv := append(append([]string{}, c.Command...), artifactPath, contractPath)
	cmd := exec.CommandContext(ctx, argv[0], argv[1:]...)

	output, err := cmd.CombinedOutput()
	if err == nil {
		return release.GateResult{Passed: true}, nil
	}

	var exitErr *exec.ExitError
	if !errors.As(err, &exitErr) {
		return release.GateResult{}, fmt.Errorf("checker command failed to run: %w", err)
	}

	diagnostics := outputLines(output)
	if len(diagnostics) == 0 {
		diagnostics = []string{fmt.Sprintf("checker exited with status %d", exitErr.ExitCode())}
	}
	return release.GateResult{Passed: false, Diagnostics: diagnostics}, nil
}

// outputLines splits command output into non-empty lines.
func outputLines(output []byte) []string {
	lines := []string{}
	for _, line := range strings.Split(string(output), "\n") {
		if trimmed := strings.TrimRight(line, "\r"); trimmed != "" {
			lines = append(lines, trimmed)
		}
	}
	return lines
}
