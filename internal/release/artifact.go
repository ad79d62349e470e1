package release

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"
	"os"
	"sort"
	"strings"

	"golang.org/x/text/unicode/norm"

	"github.com/bjjwwang/wheelhouse/internal/version"
)

// Artifact is one built binary package, tied to the cell that produced it.
type Artifact struct {
	Cell    BuildCell
	Version version.Version

	// CanonicalName uniquely identifies the artifact within a release.
	// See CanonicalName for the format.
	CanonicalName string

	// Path is the artifact blob on the local filesystem.
	Path string

	// Digest is the lowercase hex SHA-256 of the blob.
	Digest string

	// Size is the blob length in bytes. Always > 0 for a valid artifact.
	Size int64
}

// CanonicalName derives the deterministic artifact name for a cell:
//
//	<package>-<version>-<interpreter tag>-<os>_<arch>
//
// e.g. "pysvf-1.2.4-cp310-linux_x86_64". The package name is normalized to
// Unicode NFC and dashes become underscores so the dash-separated fields
// stay parseable. The interpreter tag is "cp" plus the series digits
// ("3.10" -> "cp310").
//
// The same (package, version, cell) always yields the same name, and two
// distinct cells of one release never share a name unless their axes are
// duplicated in the matrix.
func CanonicalName(pkg string, v version.Version, cell BuildCell) string {
	return fmt.Sprintf("%s-%s-%s-%s_%s",
		normalizeName(pkg),
		v.String(),
		InterpreterTag(cell.Interpreter),
		normalizeName(cell.Platform.OS),
		normalizeName(cell.Platform.Arch),
	)
}

// InterpreterTag converts an interpreter series like "3.10" into the
// compact tag "cp310" used in canonical artifact names.
func InterpreterTag(series string) string {
	var b strings.Builder
	b.WriteString("cp")
	for _, r := range series {
		if r >= '0' && r <= '9' {
			b.WriteRune(r)
		}
	}
	return b.String()
}

// normalizeName applies Unicode NFC and replaces separators that would
// collide with the canonical name's field structure.
func normalizeName(s string) string {
	s = norm.NFC.String(s)
	s = strings.ReplaceAll(s, "-", "_")
	return strings.ReplaceAll(s, "/", "_")
}

// FileDigest computes the SHA-256 of the file at path, streaming rather
// than loading the blob into memory. Returns the lowercase hex digest and
// the file size.
func FileDigest(path string) (string, int64, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", 0, err
	}
	defer f.Close()

	h := sha256.New()
	n, err := io.Copy(h, f)
	if err != nil {
		return "", 0, err
	}
	return hex.EncodeToString(h.Sum(nil)), n, nil
}

// ArtifactSet is the complete collection of a release's artifacts, keyed
// by canonical name.
//
// Add rejects duplicate names, which is how cross-cell name collisions are
// caught before anything reaches an endpoint. Iteration order is sorted by
// canonical name so publish order and reports are deterministic.
type ArtifactSet struct {
	byName map[string]Artifact
}

// NewArtifactSet creates an empty set.
func NewArtifactSet() *ArtifactSet {
	return &ArtifactSet{byName: map[string]Artifact{}}
}

// Add inserts an artifact, failing if the canonical name is already taken
// by a different cell.
func (s *ArtifactSet) Add(a Artifact) error {
	if existing, ok := s.byName[a.CanonicalName]; ok {
		return fmt.Errorf("canonical name %q produced by both %s and %s",
			a.CanonicalName, existing.Cell, a.Cell)
	}
	s.byName[a.CanonicalName] = a
	return nil
}

// Len returns the number of artifacts in the set.
func (s *ArtifactSet) Len() int {
	return len(s.byName)
}

// Get looks up an artifact by canonical name.
func (s *ArtifactSet) Get(name string) (Artifact, bool) {
	a, ok := s.byName[name]
	return a, ok
}

// Names returns all canonical names in sorted order.
func (s *ArtifactSet) Names() []string {
	names := make([]string, 0, len(s.byName))
	for name := range s.byName {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Artifacts returns all artifacts sorted by canonical name.
func (s *ArtifactSet) Artifacts() []Artifact {
	artifacts := make([]Artifact, 0, len(s.byName))
	for _, name := range s.Names() {
		artifacts = append(artifacts, s.byName[name])
	}
	return artifacts
}
