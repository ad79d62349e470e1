package release

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMatrixCells(t *testing.T) {
	m := Matrix{
		Platforms: []Platform{
			{OS: "linux", Arch: "x86_64"},
			{OS: "darwin", Arch: "arm64"},
		},
		Interpreters: []string{"3.10", "3.11"},
	}

	cells := m.Cells()
	require.Len(t, cells, 4)

	// Platforms outer, interpreters inner, declaration order.
	keys := make([]string, len(cells))
	for i, c := range cells {
		keys[i] = c.String()
	}
	assert.Equal(t, []string{
		"linux/x86_64/3.10",
		"linux/x86_64/3.11",
		"darwin/arm64/3.10",
		"darwin/arm64/3.11",
	}, keys)
}

func TestMatrixCellsExclusions(t *testing.T) {
	m := Matrix{
		Platforms: []Platform{
			{OS: "linux", Arch: "x86_64"},
			{OS: "darwin", Arch: "arm64"},
		},
		Interpreters: []string{"3.9", "3.10"},
		Exclusions: []BuildCell{
			{Platform: Platform{OS: "darwin", Arch: "arm64"}, Interpreter: "3.9"},
		},
	}

	cells := m.Cells()
	require.Len(t, cells, 3)
	for _, c := range cells {
		assert.NotEqual(t, "darwin/arm64/3.9", c.String())
	}
}

func TestMatrixCellsDeterministic(t *testing.T) {
	m := Matrix{
		Platforms:    []Platform{{OS: "linux", Arch: "x86_64"}, {OS: "linux", Arch: "aarch64"}},
		Interpreters: []string{"3.9", "3.10", "3.11"},
	}

	first := m.Cells()
	for range 10 {
		assert.Equal(t, first, m.Cells())
	}
}

func TestMatrixCellsEmpty(t *testing.T) {
	assert.Empty(t, Matrix{}.Cells())

	// Excluding everything leaves nothing.
	m := Matrix{
		Platforms:    []Platform{{OS: "linux", Arch: "x86_64"}},
		Interpreters: []string{"3.10"},
		Exclusions: []BuildCell{
			{Platform: Platform{OS: "linux", Arch: "x86_64"}, Interpreter: "3.10"},
		},
	}
	assert.Empty(t, m.Cells())
}

func TestBuildCellDirName(t *testing.T) {
	cell := BuildCell{Platform: Platform{OS: "linux", Arch: "x86_64"}, Interpreter: "3.10"}
	assert.Equal(t, "linux-x86_64-3.10", cell.DirName())
	assert.NotContains(t, cell.DirName(), "/")
}

func TestCoordinatesValidate(t *testing.T) {
	dir := t.TempDir()
	lib := filepath.Join(dir, "svf")
	toolchain := filepath.Join(dir, "llvm")
	solver := filepath.Join(dir, "z3")
	for _, d := range []string{lib, toolchain, solver} {
		require.NoError(t, os.Mkdir(d, 0o755))
	}

	valid := Coordinates{NativeLib: lib, Toolchain: toolchain, Solver: solver}
	assert.NoError(t, valid.Validate())

	t.Run("missing directory", func(t *testing.T) {
		c := valid
		c.Solver = filepath.Join(dir, "missing")
		err := c.Validate()
		require.Error(t, err)
		assert.Contains(t, err.Error(), "solver")
	})

	t.Run("unset coordinate", func(t *testing.T) {
		c := valid
		c.Toolchain = ""
		err := c.Validate()
		require.Error(t, err)
		assert.Contains(t, err.Error(), "toolchain is not set")
	})

	t.Run("file instead of directory", func(t *testing.T) {
		file := filepath.Join(dir, "libsvf.a")
		require.NoError(t, os.WriteFile(file, []byte("x"), 0o644))
		c := valid
		c.NativeLib = file
		err := c.Validate()
		require.Error(t, err)
		assert.Contains(t, err.Error(), "not a directory")
	})
}
