// Package testutil provides small on-disk fixtures shared by command
// tests: executable helper scripts and version state files.
package testutil

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

// Script writes an executable shell script under dir and returns its
// path. The body runs under /bin/sh.
func Script(t *testing.T, dir, name, body string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	require.NoError(t, os.WriteFile(path, []byte("#!/bin/sh\n"+body+"\n"), 0o755))
	return path
}

// VersionFile writes a version state file named VERSION under dir and
// returns its path.
func VersionFile(t *testing.T, dir, current, next string) string {
	t.Helper()
	path := filepath.Join(dir, "VERSION")
	content := "CURRENT_VERSION:" + current + "\nNEXT_VERSION:" + next + "\n"
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}
