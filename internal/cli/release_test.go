package cli

import (
	"bytes"
	"context"
	"encoding/json"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/bjjwwang/wheelhouse/internal/journal"
	"github.com/bjjwwang/wheelhouse/internal/release"
	"github.com/bjjwwang/wheelhouse/internal/version"
)

func TestReleaseSuccess(t *testing.T) {
	ws := newWorkspace(t)

	buf := &bytes.Buffer{}
	rootOpts := &RootOptions{Format: "text"}
	cmd := NewReleaseCommand(rootOpts)
	cmd.SetOut(buf)
	cmd.SetErr(buf)
	cmd.SetArgs([]string{"-m", ws.manifest, "--triggered-by", "test", "--revision", "abc123"})

	require.NoError(t, cmd.Execute())

	out := buf.String()
	assert.Contains(t, out, "Package:  pysvf 1.2.4")
	assert.Contains(t, out, "Trigger:  test (revision abc123)")
	assert.Contains(t, out, "Gate:     passed")
	assert.Contains(t, out, "2/2 built")
	assert.Contains(t, out, "1.2.4 is now current, next release is 1.2.5")
	assert.Contains(t, out, "Outcome:  succeeded")

	// Artifacts landed under their canonical names.
	assert.FileExists(t, filepath.Join(ws.staging, "pysvf-1.2.4-cp310-linux_x86_64.whl"))
	assert.FileExists(t, filepath.Join(ws.staging, "pysvf-1.2.4-cp311-linux_x86_64.whl"))

	// The version file advanced.
	rec, err := version.NewStore(ws.version).Read()
	require.NoError(t, err)
	assert.Equal(t, "1.2.4", rec.Current.String())
	assert.Equal(t, "1.2.5", rec.Next.String())
}

func TestReleaseGateRejection(t *testing.T) {
	ws := newWorkspace(t, func(c *workspaceConfig) {
		c.checker = `echo "analyze: return type drift"; exit 1`
	})

	buf := &bytes.Buffer{}
	rootOpts := &RootOptions{Format: "text"}
	cmd := NewReleaseCommand(rootOpts)
	cmd.SetOut(buf)
	cmd.SetErr(buf)
	cmd.SetArgs([]string{"-m", ws.manifest})

	err := cmd.Execute()
	require.Error(t, err)
	assert.Equal(t, ExitFailure, GetExitCode(err))
	assert.Equal(t, release.CodeGateFailed, release.CodeOf(err))

	out := buf.String()
	assert.Contains(t, out, "Gate:     failed")
	assert.Contains(t, out, "analyze: return type drift")
	assert.Contains(t, out, "Outcome:  failed (GATE_FAILED)")

	// Nothing observable changed.
	assert.NoDirExists(t, ws.staging)
	rec, rerr := version.NewStore(ws.version).Read()
	require.NoError(t, rerr)
	assert.Equal(t, "1.2.3", rec.Current.String())
	assert.Equal(t, "1.2.4", rec.Next.String())
}

func TestReleaseIncompleteMatrix(t *testing.T) {
	ws := newWorkspace(t, func(c *workspaceConfig) {
		c.builder = `if [ "$TARGET_INTERPRETER" = "3.11" ]; then
  echo "fatal error: svf/svf.h not found" >&2
  exit 1
fi
printf "wheel" > "$OUTPUT_DIR/pysvf.whl"`
	})

	buf := &bytes.Buffer{}
	rootOpts := &RootOptions{Format: "text"}
	cmd := NewReleaseCommand(rootOpts)
	cmd.SetOut(buf)
	cmd.SetErr(buf)
	cmd.SetArgs([]string{"-m", ws.manifest})

	err := cmd.Execute()
	require.Error(t, err)
	assert.Equal(t, ExitFailure, GetExitCode(err))
	assert.Equal(t, release.CodeCollectionIncomplete, release.CodeOf(err))

	out := buf.String()
	assert.Contains(t, out, "1/2 built")
	assert.Contains(t, out, "Outcome:  failed (COLLECTION_INCOMPLETE)")

	// All-or-nothing: the successful cell was not published either.
	assert.NoDirExists(t, ws.staging)
	rec, rerr := version.NewStore(ws.version).Read()
	require.NoError(t, rerr)
	assert.Equal(t, "1.2.3", rec.Current.String())
}

func TestReleaseJSONOutput(t *testing.T) {
	ws := newWorkspace(t)

	buf := &bytes.Buffer{}
	rootOpts := &RootOptions{Format: "json"}
	cmd := NewReleaseCommand(rootOpts)
	cmd.SetOut(buf)
	cmd.SetErr(buf)
	cmd.SetArgs([]string{"-m", ws.manifest})

	require.NoError(t, cmd.Execute())

	var resp CLIResponse
	require.NoError(t, json.Unmarshal(buf.Bytes(), &resp))
	assert.Equal(t, "ok", resp.Status)

	data, ok := resp.Data.(map[string]any)
	require.True(t, ok)
	assert.Equal(t, "succeeded", data["outcome"])
	assert.Equal(t, "1.2.4", data["version"])
	assert.Equal(t, true, data["version_advanced"])
}

func TestReleaseRefusedWhileLocked(t *testing.T) {
	ws := newWorkspace(t)

	// Simulate a crashed run that still holds the lock.
	j, err := journal.Open(ws.journal)
	require.NoError(t, err)
	inserted, _, err := j.BeginRun(context.Background(), journal.RunStart{
		ID:          "run-crashed",
		Package:     "pysvf",
		Version:     "1.2.4",
		TriggeredBy: "test",
		StartedAt:   time.Now(),
	})
	require.NoError(t, err)
	require.True(t, inserted)
	require.NoError(t, j.Close())

	buf := &bytes.Buffer{}
	rootOpts := &RootOptions{Format: "text"}
	cmd := NewReleaseCommand(rootOpts)
	cmd.SetOut(buf)
	cmd.SetErr(buf)
	cmd.SetArgs([]string{"-m", ws.manifest})

	err = cmd.Execute()
	require.Error(t, err)
	assert.Equal(t, ExitFailure, GetExitCode(err))
	assert.Equal(t, release.CodeRunInProgress, release.CodeOf(err))

	// The refused run left the version file alone.
	rec, rerr := version.NewStore(ws.version).Read()
	require.NoError(t, rerr)
	assert.Equal(t, "1.2.3", rec.Current.String())
}
