package version

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// File format keys. The state file is exactly two lines, one per key,
// with no whitespace around the colon:
//
//	CURRENT_VERSION:1.2.3
//	NEXT_VERSION:1.2.4
const (
	keyCurrent = "CURRENT_VERSION"
	keyNext    = "NEXT_VERSION"
)

// Record is the pair of versions tracked between releases.
//
// Current is the version of the last successful release. Next is the
// version the next release will carry. Next must always be strictly
// greater than Current.
type Record struct {
	Current Version
	Next    Version
}

// Validate checks the structural invariant: both versions present and
// Next strictly greater than Current.
func (r Record) Validate() error {
	if len(r.Current) == 0 {
		return fmt.Errorf("version record: missing current version")
	}
	if len(r.Next) == 0 {
		return fmt.Errorf("version record: missing next version")
	}
	if r.Next.Compare(r.Current) <= 0 {
		return fmt.Errorf("version record: next version %s is not greater than current version %s", r.Next, r.Current)
	}
	return nil
}

// Advance returns the record as it should look after a successful release
// of r.Next: the released version becomes current, and next is derived by
// incrementing its last component.
func (r Record) Advance() Record {
	return Record{
		Current: r.Next,
		Next:    r.Next.Increment(),
	}
}

// Store reads and writes the version state file.
//
// The file is the single source of truth for release numbering and lives
// in the repository alongside the code it versions. Writes are atomic:
// the new content lands in a temp file in the same directory and is
// renamed over the original, so a crash mid-write never leaves a
// half-updated file.
type Store struct {
	path string
}

// NewStore creates a store for the state file at path. The file is not
// touched until Read or Write is called.
func NewStore(path string) *Store {
	return &Store{path: path}
}

// Path returns the location of the state file.
func (s *Store) Path() string {
	return s.path
}

// Read parses and validates the state file.
//
// Both keys must be present exactly once, in any order. Unknown keys,
// duplicate keys, malformed versions, and a next version that does not
// exceed the current one are all errors: a corrupt state file must stop
// a release before anything is built.
func (s *Store) Read() (Record, error) {
	data, err := os.ReadFile(s.path)
	if err != nil {
		return Record{}, fmt.Errorf("reading version file %s: %w", s.path, err)
	}

	var rec Record
	seen := map[string]bool{}
	for i, line := range strings.Split(strings.TrimRight(string(data), "\n"), "\n") {
		key, value, ok := strings.Cut(line, ":")
		if !ok {
			return Record{}, fmt.Errorf("version file %s line %d: expected KEY:value, got %q", s.path, i+1, line)
		}
		if seen[key] {
			return Record{}, fmt.Errorf("version file %s line %d: duplicate key %q", s.path, i+1, key)
		}
		seen[key] = true

		v, err := Parse(strings.TrimSpace(value))
		if err != nil {
			return Record{}, fmt.Errorf("version file %s line %d: %w", s.path, i+1, err)
		}
		switch key {
		case keyCurrent:
			rec.Current = v
		case keyNext:
			rec.Next = v
		default:
			return Record{}, fmt.Errorf("version file %s line %d: unknown key %q", s.path, i+1, key)
		}
	}

	if err := rec.Validate(); err != nil {
		return Record{}, fmt.Errorf("version file %s: %w", s.path, err)
	}
	return rec, nil
}

// Write validates rec and atomically replaces the state file.
//
// The temp file is created in the target directory so the final rename
// stays on one filesystem. Content is synced before the rename.
func (s *Store) Write(rec Record) error {
	if err := rec.Validate(); err != nil {
		return err
	}

	dir := filepath.Dir(s.path)
	tmp, err := os.CreateTemp(dir, filepath.Base(s.path)+".tmp-*")
	if err != nil {
		return fmt.Errorf("writing version file %s: %w", s.path, err)
	}
	defer os.Remove(tmp.Name())

	content := fmt.Sprintf("%s:%s\n%s:%s\n", keyCurrent, rec.Current, keyNext, rec.Next)
	if _, err := tmp.WriteString(content); err != nil {
		tmp.Close()
		return fmt.Errorf("writing version file %s: %w", s.path, err)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return fmt.Errorf("syncing version file %s: %w", s.path, err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("closing version file %s: %w", s.path, err)
	}
	if err := os.Rename(tmp.Name(), s.path); err != nil {
		return fmt.Errorf("replacing version file %s: %w", s.path, err)
	}
	return nil
}
