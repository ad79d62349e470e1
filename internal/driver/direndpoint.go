package driver

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/bjjwwang/wheelhouse/internal/release"
	"github.com/bjjwwang/wheelhouse/internal/version"
)

// DirEndpoint delivers artifacts into a directory: a staging area, an NFS
// share, a directory served as a package index.
//
// Each artifact lands as <canonical name><ext> next to a
// <canonical name><ext>.sha256 checksum sidecar in sha256sum format.
// Uploads are atomic: content goes to a temp file in the target directory
// first and is renamed into place.
type DirEndpoint struct {
	name       string
	root       string
	required   bool
	onConflict release.ConflictPolicy
}

// NewDirEndpoint creates a directory endpoint. The directory is created
// on first publish if it does not exist.
func NewDirEndpoint(name, root string, required bool, policy release.ConflictPolicy) *DirEndpoint {
	return &DirEndpoint{name: name, root: root, required: required, onConflict: policy}
}

// Name implements release.Endpoint.
func (e *DirEndpoint) Name() string { return e.name }

// Required implements release.Endpoint.
func (e *DirEndpoint) Required() bool { return e.required }

// OnConflict implements release.Endpoint.
func (e *DirEndpoint) OnConflict() release.ConflictPolicy { return e.onConflict }

// Has reports whether a file named after the artifact already exists,
// regardless of extension. Checksum sidecars are not artifacts.
func (e *DirEndpoint) Has(_ context.Context, canonicalName string, _ version.Version) (bool, error) {
	entries, err := os.ReadDir(e.root)
	if os.IsNotExist(err) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("reading endpoint dir %s: %w", e.root, err)
	}

	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		name := entry.Name()
		if strings.HasSuffix(name, ".sha256") {
			continue
		}
		if strings.TrimSuffix(name, filepath.Ext(name)) == canonicalName {
			return true, nil
		}
	}
	return false, nil
}

// Publish implements release.Endpoint.
func (e *DirEndpoint) Publish(_ context.Context, a release.Artifact, replace bool) error {
	if err := os.MkdirAll(e.root, 0o755); err != nil {
		return fmt.Errorf("creating endpoint dir %s: %w", e.root, err)
	}

	dest := filepath.Join(e.root, a.CanonicalName+filepath.Ext(a.Path))
	if !replace {
		if _, err := os.Stat(dest); err == nil {
			return fmt.Errorf("artifact %s already exists at %s", a.CanonicalName, e.root)
		}
	}

	if err := copyAtomic(a.Path, dest); err != nil {
		return fmt.Errorf("uploading %s: %w", a.CanonicalName, err)
	}

	sidecar := fmt.Sprintf("%s  %s\n", a.Digest, filepath.Base(dest))
	if err := os.WriteFile(dest+".sha256", []byte(sidecar), 0o644); err != nil {
		return fmt.Errorf("writing checksum for %s: %w", a.CanonicalName, err)
	}
	return nil
}

// copyAtomic copies src into dest's directory under a temp name and
// renames it into place.
func copyAtomic(src, dest string) error {
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()

	tmp, err := os.CreateTemp(filepath.Dir(dest), ".upload-*")
	if err != nil {
		return err
	}
	defer os.Remove(tmp.Name())

	if _, err := io.Copy(tmp, in); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	if err := os.Chmod(tmp.Name(), 0o644); err != nil {
		return err
	}
	return os.Rename(tmp.Name(), dest)
}
