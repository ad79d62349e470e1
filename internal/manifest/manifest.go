// Package manifest loads and validates the release manifest.
//
// The manifest is a YAML file that declares everything a release needs:
// the package name, where the native dependencies live, the build matrix,
// the interface gate, build settings, and the publish endpoints. Loading
// happens in three passes: the raw YAML is checked against an embedded
// CUE schema (structure, required fields, enumerations), decoded strictly
// into Go types (unknown fields rejected), and then validated semantically
// (durations parse, exclusions refer to declared axes, the matrix is
// non-empty).
//
// Relative paths in the manifest are resolved against the manifest file's
// directory, so a checked-in manifest works from any working directory.
package manifest

import (
	"bytes"
	_ "embed"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"cuelang.org/go/cue"
	"cuelang.org/go/cue/cuecontext"
	cueerrors "cuelang.org/go/cue/errors"
	cueyaml "cuelang.org/go/encoding/yaml"
	"gopkg.in/yaml.v3"

	"github.com/bjjwwang/wheelhouse/internal/release"
)

//go:embed schema.cue
var schemaCUE string

// Defaults applied when the manifest omits optional fields.
const (
	DefaultVersionFile = "VERSION"
	DefaultJournal     = "wheelhouse.db"
)

// Manifest is the parsed and validated release manifest.
type Manifest struct {
	// Package is the distribution name artifacts are released under.
	Package string `yaml:"package"`

	// SourceDir is the library checkout builds run in. Defaults to the
	// manifest's directory.
	SourceDir string `yaml:"source_dir"`

	// VersionFile is the version state file path. Defaults to "VERSION"
	// next to the manifest.
	VersionFile string `yaml:"version_file"`

	// Journal is the run journal database path. Defaults to
	// "wheelhouse.db" next to the manifest.
	Journal string `yaml:"journal"`

	Coordinates Coordinates `yaml:"coordinates"`
	Matrix      Axes        `yaml:"matrix"`
	Gate        Gate        `yaml:"gate"`
	Build       Build       `yaml:"build"`
	Publish     Publish     `yaml:"publish"`
}

// Coordinates locates the native dependencies of the build.
type Coordinates struct {
	NativeLib string `yaml:"native_lib"`
	Toolchain string `yaml:"toolchain"`
	Solver    string `yaml:"solver"`
}

// Platform is one os/arch pair of the build matrix.
type Platform struct {
	OS   string `yaml:"os"`
	Arch string `yaml:"arch"`
}

// Exclusion names one cell removed from the matrix product.
type Exclusion struct {
	OS          string `yaml:"os"`
	Arch        string `yaml:"arch"`
	Interpreter string `yaml:"interpreter"`
}

// Axes declares the build matrix: the cartesian product of platforms and
// interpreter series, minus exclusions.
type Axes struct {
	Platforms    []Platform  `yaml:"platforms"`
	Interpreters []string    `yaml:"interpreters"`
	Exclude      []Exclusion `yaml:"exclude"`
}

// Gate configures the interface gate: the contract file, the checker
// command, and optionally which cell builds the reference artifact.
type Gate struct {
	Contract    string    `yaml:"contract"`
	Checker     []string  `yaml:"checker"`
	Platform    *Platform `yaml:"platform"`
	Interpreter string    `yaml:"interpreter"`
}

// Build configures how cells are built.
type Build struct {
	// Command is the argv of the per-cell build command.
	Command []string `yaml:"command"`

	// Timeout bounds each cell's build, in time.ParseDuration syntax.
	// Empty means no timeout.
	Timeout string `yaml:"timeout"`

	// Workers bounds build concurrency. Zero picks one worker per CPU.
	Workers int `yaml:"workers"`

	// Scratch is the root for per-run build workspaces. Empty uses the
	// system temp directory.
	Scratch string `yaml:"scratch"`

	// Env holds extra KEY=VALUE pairs for the build command.
	Env []string `yaml:"env"`

	timeout time.Duration
}

// Endpoint configures one publish target.
type Endpoint struct {
	Name       string `yaml:"name"`
	Kind       string `yaml:"kind"` // "dir" or "command"
	Required   bool   `yaml:"required"`
	OnConflict string `yaml:"on_conflict"` // "skip", "replace", or "fail"

	// Path is the target directory for kind "dir".
	Path string `yaml:"path"`

	// Upload and Probe are the commands for kind "command".
	Upload []string `yaml:"upload"`
	Probe  []string `yaml:"probe"`
}

// Publish configures the publication stage.
type Publish struct {
	// Strict escalates optional-endpoint failures to run failures.
	Strict bool `yaml:"strict"`

	Endpoints []Endpoint `yaml:"endpoints"`
}

// Endpoint kinds.
const (
	KindDir     = "dir"
	KindCommand = "command"
)

// Load reads, schema-checks, decodes, and validates the manifest at path.
func Load(path string) (*Manifest, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading manifest: %w", err)
	}

	if err := validateSchema(path, data); err != nil {
		return nil, err
	}

	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	var m Manifest
	if err := dec.Decode(&m); err != nil {
		return nil, fmt.Errorf("decoding manifest %s: %w", path, err)
	}

	m.applyDefaults()
	if err := m.validate(); err != nil {
		return nil, fmt.Errorf("manifest %s: %w", path, err)
	}

	dir, err := filepath.Abs(filepath.Dir(path))
	if err != nil {
		return nil, fmt.Errorf("resolving manifest directory: %w", err)
	}
	m.resolvePaths(dir)
	return &m, nil
}

// validateSchema checks the raw YAML against the embedded CUE schema.
// Runs before decoding so schema diagnostics refer to the file the user
// wrote, not to half-populated Go structs.
func validateSchema(path string, data []byte) error {
	ctx := cuecontext.New()

	schema := ctx.CompileString(schemaCUE, cue.Filename("schema.cue"))
	if err := schema.Err(); err != nil {
		return fmt.Errorf("internal: manifest schema does not compile: %w", err)
	}
	def := schema.LookupPath(cue.ParsePath("#Manifest"))
	if !def.Exists() {
		return fmt.Errorf("internal: manifest schema has no #Manifest definition")
	}

	file, err := cueyaml.Extract(path, data)
	if err != nil {
		return fmt.Errorf("parsing manifest %s: %w", path, err)
	}
	val := ctx.BuildFile(file)
	if err := val.Err(); err != nil {
		return fmt.Errorf("parsing manifest %s: %w", path, err)
	}

	if err := def.Unify(val).Validate(cue.Concrete(true)); err != nil {
		return fmt.Errorf("manifest %s does not match schema:\n%s", path, cueerrors.Details(err, nil))
	}
	return nil
}

// applyDefaults fills the optional fields the schema leaves open.
func (m *Manifest) applyDefaults() {
	if m.VersionFile == "" {
		m.VersionFile = DefaultVersionFile
	}
	if m.Journal == "" {
		m.Journal = DefaultJournal
	}
	for i := range m.Publish.Endpoints {
		if m.Publish.Endpoints[i].OnConflict == "" {
			m.Publish.Endpoints[i].OnConflict = string(release.ConflictSkip)
		}
	}
}

// validate applies the semantic checks the schema cannot express.
func (m *Manifest) validate() error {
	seen := map[Platform]bool{}
	for _, p := range m.Matrix.Platforms {
		if seen[p] {
			return fmt.Errorf("matrix: platform %s/%s declared twice", p.OS, p.Arch)
		}
		seen[p] = true
	}
	seenInterp := map[string]bool{}
	for _, s := range m.Matrix.Interpreters {
		if seenInterp[s] {
			return fmt.Errorf("matrix: interpreter %s declared twice", s)
		}
		seenInterp[s] = true
	}

	// An exclusion naming a cell that is not in the product is a typo,
	// and typos in exclusions silently widen the matrix.
	for _, e := range m.Matrix.Exclude {
		if !seen[Platform{OS: e.OS, Arch: e.Arch}] || !seenInterp[e.Interpreter] {
			return fmt.Errorf("matrix: exclusion %s/%s/%s does not match any declared cell", e.OS, e.Arch, e.Interpreter)
		}
	}

	if len(m.ReleaseMatrix().Cells()) == 0 {
		return fmt.Errorf("matrix: exclusions leave no cells to build")
	}

	if m.Gate.Platform != nil && m.Gate.Interpreter == "" {
		return fmt.Errorf("gate: platform is set but interpreter is not")
	}
	if m.Gate.Platform == nil && m.Gate.Interpreter != "" {
		return fmt.Errorf("gate: interpreter is set but platform is not")
	}

	if m.Build.Timeout != "" {
		d, err := time.ParseDuration(m.Build.Timeout)
		if err != nil {
			return fmt.Errorf("build: invalid timeout: %w", err)
		}
		if d <= 0 {
			return fmt.Errorf("build: timeout must be positive, got %s", d)
		}
		m.Build.timeout = d
	}

	names := map[string]bool{}
	for _, ep := range m.Publish.Endpoints {
		if names[ep.Name] {
			return fmt.Errorf("publish: endpoint %q declared twice", ep.Name)
		}
		names[ep.Name] = true
	}
	return nil
}

// resolvePaths anchors relative paths at the manifest's directory.
func (m *Manifest) resolvePaths(dir string) {
	resolve := func(p *string) {
		if *p != "" && !filepath.IsAbs(*p) {
			*p = filepath.Join(dir, *p)
		}
	}
	if m.SourceDir == "" {
		m.SourceDir = dir
	}
	resolve(&m.SourceDir)
	resolve(&m.VersionFile)
	resolve(&m.Journal)
	resolve(&m.Coordinates.NativeLib)
	resolve(&m.Coordinates.Toolchain)
	resolve(&m.Coordinates.Solver)
	resolve(&m.Gate.Contract)
	resolve(&m.Build.Scratch)
	for i := range m.Publish.Endpoints {
		if m.Publish.Endpoints[i].Kind == KindDir {
			resolve(&m.Publish.Endpoints[i].Path)
		}
	}
}

// ReleaseMatrix converts the declared axes into the pipeline's matrix.
func (m *Manifest) ReleaseMatrix() release.Matrix {
	matrix := release.Matrix{
		Interpreters: m.Matrix.Interpreters,
	}
	for _, p := range m.Matrix.Platforms {
		matrix.Platforms = append(matrix.Platforms, release.Platform{OS: p.OS, Arch: p.Arch})
	}
	for _, e := range m.Matrix.Exclude {
		matrix.Exclusions = append(matrix.Exclusions, release.BuildCell{
			Platform:    release.Platform{OS: e.OS, Arch: e.Arch},
			Interpreter: e.Interpreter,
		})
	}
	return matrix
}

// GateCell returns the configured reference cell for the gate, or nil
// when the manifest leaves the choice to the pipeline.
func (m *Manifest) GateCell() *release.BuildCell {
	if m.Gate.Platform == nil {
		return nil
	}
	return &release.BuildCell{
		Platform:    release.Platform{OS: m.Gate.Platform.OS, Arch: m.Gate.Platform.Arch},
		Interpreter: m.Gate.Interpreter,
	}
}

// CellTimeout returns the parsed per-cell build timeout, zero when unset.
func (m *Manifest) CellTimeout() time.Duration {
	return m.Build.timeout
}
