package cli

import (
	"bytes"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const passingScenario = `name: gate-drift
description: A drifted contract halts the run before any matrix build.
versions:
  current: "1.2.3"
  next: "1.2.4"
matrix:
  platforms:
    - os: linux
      arch: x86_64
  interpreters: ["3.10"]
gate:
  pass: false
  diagnostics:
    - "analyze: return type changed"
expect:
  outcome: failed
  failure_code: GATE_FAILED
  version_advanced: false
  current_version: "1.2.3"
  next_version: "1.2.4"
`

const mismatchedScenario = `name: wishful-thinking
description: Expects success from a run the gate rejects.
versions:
  current: "1.2.3"
  next: "1.2.4"
matrix:
  platforms:
    - os: linux
      arch: x86_64
  interpreters: ["3.10"]
gate:
  pass: false
expect:
  outcome: succeeded
`

func writeScenario(t *testing.T, dir, name, content string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func TestRehearsePassingScenario(t *testing.T) {
	path := writeScenario(t, t.TempDir(), "gate-drift.yaml", passingScenario)

	buf := &bytes.Buffer{}
	cmd := NewRehearseCommand(&RootOptions{Format: "text"})
	cmd.SetOut(buf)
	cmd.SetErr(buf)
	cmd.SetArgs([]string{path})

	require.NoError(t, cmd.Execute())

	out := buf.String()
	assert.Contains(t, out, "✓ gate-drift")
	assert.Contains(t, out, "1 passed, 0 failed, 1 total")
}

func TestRehearseMismatch(t *testing.T) {
	path := writeScenario(t, t.TempDir(), "wishful.yaml", mismatchedScenario)

	buf := &bytes.Buffer{}
	cmd := NewRehearseCommand(&RootOptions{Format: "text"})
	cmd.SetOut(buf)
	cmd.SetErr(buf)
	cmd.SetArgs([]string{path})

	err := cmd.Execute()
	require.Error(t, err)
	assert.Equal(t, ExitFailure, GetExitCode(err))

	out := buf.String()
	assert.Contains(t, out, "✗ wishful-thinking")
	assert.Contains(t, out, "0 passed, 1 failed, 1 total")
}

func TestRehearseDirectory(t *testing.T) {
	dir := t.TempDir()
	writeScenario(t, dir, "a-drift.yaml", passingScenario)
	writeScenario(t, dir, "b-drift.yml", passingScenario)
	writeScenario(t, dir, "notes.txt", "not a scenario")

	buf := &bytes.Buffer{}
	cmd := NewRehearseCommand(&RootOptions{Format: "text"})
	cmd.SetOut(buf)
	cmd.SetErr(buf)
	cmd.SetArgs([]string{dir})

	require.NoError(t, cmd.Execute())
	assert.Contains(t, buf.String(), "2 passed, 0 failed, 2 total")
}

func TestRehearseJSON(t *testing.T) {
	path := writeScenario(t, t.TempDir(), "gate-drift.yaml", passingScenario)

	buf := &bytes.Buffer{}
	cmd := NewRehearseCommand(&RootOptions{Format: "json"})
	cmd.SetOut(buf)
	cmd.SetErr(buf)
	cmd.SetArgs([]string{path})

	require.NoError(t, cmd.Execute())

	var resp CLIResponse
	require.NoError(t, json.Unmarshal(buf.Bytes(), &resp))
	assert.Equal(t, "ok", resp.Status)

	data, ok := resp.Data.(map[string]any)
	require.True(t, ok)
	assert.Equal(t, float64(1), data["passed"])
	assert.Equal(t, float64(0), data["failed"])
}

func TestRehearseMissingFile(t *testing.T) {
	cmd := NewRehearseCommand(&RootOptions{Format: "text"})
	cmd.SetOut(&bytes.Buffer{})
	cmd.SetErr(&bytes.Buffer{})
	cmd.SetArgs([]string{filepath.Join(t.TempDir(), "absent.yaml")})

	err := cmd.Execute()
	require.Error(t, err)
	assert.Equal(t, ExitCommandError, GetExitCode(err))
}

func TestRehearseUnparseableScenarioFails(t *testing.T) {
	path := writeScenario(t, t.TempDir(), "broken.yaml", "name: [\n")

	buf := &bytes.Buffer{}
	cmd := NewRehearseCommand(&RootOptions{Format: "text"})
	cmd.SetOut(buf)
	cmd.SetErr(buf)
	cmd.SetArgs([]string{path})

	err := cmd.Execute()
	require.Error(t, err)
	assert.Equal(t, ExitFailure, GetExitCode(err))
	assert.Contains(t, buf.String(), "0 passed, 1 failed, 1 total")
}
