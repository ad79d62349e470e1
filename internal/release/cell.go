// Package release implements the staged release pipeline: interface gate,
// matrix build fan-out, artifact collection, publishing, and version
// advancement.
//
// The pipeline is strictly gated. Each stage runs only if every prior stage
// fully succeeded, and the version state file is advanced only after all
// artifacts are published. A failed run leaves the version state untouched
// so the same version number can be retried.
package release

import (
	"fmt"
	"os"
	"strings"
)

// Platform is one operating-system/architecture pair of the build matrix.
type Platform struct {
	OS   string
	Arch string
}

// String renders the platform as "os/arch", e.g. "linux/x86_64".
func (p Platform) String() string {
	return p.OS + "/" + p.Arch
}

// BuildCell is a single unit of build work: one platform combined with one
// interpreter series. Every artifact the pipeline produces belongs to
// exactly one cell.
type BuildCell struct {
	Platform    Platform
	Interpreter string
}

// String renders the cell as "os/arch/interpreter", e.g. "linux/x86_64/3.10".
// This form is used as the cell key in logs, reports, and the run journal.
func (c BuildCell) String() string {
	return c.Platform.String() + "/" + c.Interpreter
}

// DirName returns a filesystem-safe name for the cell's scratch directory,
// e.g. "linux-x86_64-3.10".
func (c BuildCell) DirName() string {
	return strings.NewReplacer("/", "-", " ", "_").Replace(
		c.Platform.OS + "-" + c.Platform.Arch + "-" + c.Interpreter)
}

// Matrix declares the build axes and the cells excluded from their product.
type Matrix struct {
	Platforms    []Platform
	Interpreters []string
	Exclusions   []BuildCell
}

// Cells enumerates the full cartesian product of platforms and interpreters,
// minus exact-match exclusions, in deterministic order: platforms in
// declaration order (outer), interpreters in declaration order (inner).
//
// The same matrix always yields the same cell sequence, which fixes the
// ordering of build reports and journal rows.
func (m Matrix) Cells() []BuildCell {
	excluded := make(map[BuildCell]bool, len(m.Exclusions))
	for _, e := range m.Exclusions {
		excluded[e] = true
	}

	cells := make([]BuildCell, 0, len(m.Platforms)*len(m.Interpreters))
	for _, p := range m.Platforms {
		for _, interp := range m.Interpreters {
			cell := BuildCell{Platform: p, Interpreter: interp}
			if excluded[cell] {
				continue
			}
			cells = append(cells, cell)
		}
	}
	return cells
}

// Coordinates locates the native dependencies a build compiles against:
// the native library install tree, the compiler toolchain, and the
// constraint solver. All three are directories on the build host.
type Coordinates struct {
	NativeLib string
	Toolchain string
	Solver    string
}

// Validate checks that every coordinate points at an existing directory.
// A release must refuse to start against missing dependencies rather than
// fail one cell at a time.
func (c Coordinates) Validate() error {
	for _, dep := range []struct {
		label string
		path  string
	}{
		{"native_lib", c.NativeLib},
		{"toolchain", c.Toolchain},
		{"solver", c.Solver},
	} {
		if dep.path == "" {
			return fmt.Errorf("coordinate %s is not set", dep.label)
		}
		info, err := os.Stat(dep.path)
		if err != nil {
			return fmt.Errorf("coordinate %s: %w", dep.label, err)
		}
		if !info.IsDir() {
			return fmt.Errorf("coordinate %s: %s is not a directory", dep.label, dep.path)
		}
	}
	return nil
}
