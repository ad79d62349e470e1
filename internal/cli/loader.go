package cli

import (
	"fmt"

	"github.com/bjjwwang/wheelhouse/internal/driver"
	"github.com/bjjwwang/wheelhouse/internal/journal"
	"github.com/bjjwwang/wheelhouse/internal/manifest"
	"github.com/bjjwwang/wheelhouse/internal/release"
	"github.com/bjjwwang/wheelhouse/internal/version"
)

// loadManifest loads the manifest, mapping failures to command errors.
func loadManifest(path string) (*manifest.Manifest, error) {
	m, err := manifest.Load(path)
	if err != nil {
		return nil, WrapExitError(ExitCommandError, "loading manifest", err)
	}
	return m, nil
}

// pipelineHandle bundles an assembled pipeline with the resources it
// holds open.
type pipelineHandle struct {
	Manifest *manifest.Manifest
	Pipeline *release.Pipeline
	Versions *version.Store
	Journal  *journal.Journal
}

// Close releases the handle's journal.
func (h *pipelineHandle) Close() error {
	return h.Journal.Close()
}

// openPipeline loads the manifest and assembles the release pipeline
// with the production collaborators: exec builder and checker, directory
// and command endpoints, the file-backed version store, and the SQLite
// journal.
func openPipeline(manifestPath string) (*pipelineHandle, error) {
	m, err := loadManifest(manifestPath)
	if err != nil {
		return nil, err
	}

	endpoints, err := buildEndpoints(m)
	if err != nil {
		return nil, WrapExitError(ExitCommandError, "configuring endpoints", err)
	}

	j, err := journal.Open(m.Journal)
	if err != nil {
		return nil, WrapExitError(ExitCommandError, "opening run journal", err)
	}

	store := version.NewStore(m.VersionFile)
	cfg := release.Config{
		Package:   m.Package,
		SourceDir: m.SourceDir,
		Coordinates: release.Coordinates{
			NativeLib: m.Coordinates.NativeLib,
			Toolchain: m.Coordinates.Toolchain,
			Solver:    m.Coordinates.Solver,
		},
		Matrix:      m.ReleaseMatrix(),
		Contract:    m.Gate.Contract,
		GateCell:    m.GateCell(),
		Workers:     m.Build.Workers,
		CellTimeout: m.CellTimeout(),
		Scratch:     m.Build.Scratch,
		Strict:      m.Publish.Strict,
	}
	deps := release.Deps{
		Builder:   &driver.ExecBuilder{Command: m.Build.Command, Env: m.Build.Env},
		Checker:   &driver.ExecChecker{Command: m.Gate.Checker},
		Endpoints: endpoints,
		Versions:  store,
		Journal:   j,
	}

	p, err := release.New(cfg, deps)
	if err != nil {
		j.Close()
		return nil, WrapExitError(ExitCommandError, "assembling pipeline", err)
	}

	return &pipelineHandle{Manifest: m, Pipeline: p, Versions: store, Journal: j}, nil
}

// buildEndpoints converts the manifest's endpoint declarations into
// their driver implementations.
func buildEndpoints(m *manifest.Manifest) ([]release.Endpoint, error) {
	endpoints := make([]release.Endpoint, 0, len(m.Publish.Endpoints))
	for _, ep := range m.Publish.Endpoints {
		policy := release.ConflictPolicy(ep.OnConflict)
		switch ep.Kind {
		case manifest.KindDir:
			endpoints = append(endpoints, driver.NewDirEndpoint(ep.Name, ep.Path, ep.Required, policy))
		case manifest.KindCommand:
			endpoints = append(endpoints, driver.NewCommandEndpoint(ep.Name, ep.Upload, ep.Probe, ep.Required, policy))
		default:
			return nil, fmt.Errorf("endpoint %s: unknown kind %q", ep.Name, ep.Kind)
		}
	}
	return endpoints, nil
}
