package release

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/bjjwwang/wheelhouse/internal/journal"
	"github.com/bjjwwang/wheelhouse/internal/version"
)

// publish delivers the complete artifact set to every configured endpoint.
//
// Endpoints are attempted independently: a failure at one never stops the
// others. Within an endpoint, the first failed upload aborts that
// endpoint's remaining uploads. The run fails if any required endpoint
// failed, or, in strict mode, if any endpoint failed at all; optional
// endpoint failures otherwise become warnings.
//
// Publishing is idempotent per (canonical name, version): artifacts the
// endpoint already holds are skipped, replaced, or treated as failures
// according to the endpoint's conflict policy. Every delivered artifact
// is recorded in the journal's publication ledger.
func (p *Pipeline) publish(ctx context.Context, set *ArtifactSet, v version.Version, runID string, logger *slog.Logger) ([]Publication, []string, error) {
	if set.Len() == 0 {
		return nil, nil, &RunError{
			Code:    CodeNothingToPublish,
			Message: "refusing to publish an empty artifact set",
		}
	}
	if len(p.endpoints) == 0 {
		return nil, nil, &RunError{
			Code:    CodePublishFailed,
			Message: "no endpoints are configured",
		}
	}

	pubs := []Publication{}
	warnings := []string{}
	failedEndpoints := []string{}
	var firstCause error

	for _, ep := range p.endpoints {
		epPubs, err := p.publishToEndpoint(ctx, ep, set, v, runID, logger)
		pubs = append(pubs, epPubs...)
		if err == nil {
			continue
		}
		if ep.Required() || p.cfg.Strict {
			failedEndpoints = append(failedEndpoints, ep.Name())
			if firstCause == nil {
				firstCause = err
			}
		} else {
			logger.Warn("optional endpoint failed", "endpoint", ep.Name(), "error", err)
			warnings = append(warnings, fmt.Sprintf("optional endpoint %s failed: %v", ep.Name(), err))
		}
	}

	if len(failedEndpoints) > 0 {
		return pubs, warnings, NewPublishError(failedEndpoints, firstCause)
	}
	return pubs, warnings, nil
}

// publishToEndpoint delivers the set to one endpoint, recording a
// Publication per artifact. Returns the first upload error; artifacts
// after a failure are reported as skipped.
func (p *Pipeline) publishToEndpoint(ctx context.Context, ep Endpoint, set *ArtifactSet, v version.Version, runID string, logger *slog.Logger) ([]Publication, error) {
	pubs := []Publication{}
	var firstErr error

	for _, artifact := range set.Artifacts() {
		if firstErr != nil {
			pubs = append(pubs, Publication{
				Endpoint: ep.Name(),
				Artifact: artifact.CanonicalName,
				Action:   ActionSkipped,
				Reason:   "endpoint aborted after earlier failure",
			})
			continue
		}

		pub, err := p.publishArtifact(ctx, ep, artifact, v, runID)
		if err != nil {
			firstErr = err
			logger.Warn("publish failed",
				"endpoint", ep.Name(),
				"artifact", artifact.CanonicalName,
				"error", err,
			)
			pubs = append(pubs, Publication{
				Endpoint: ep.Name(),
				Artifact: artifact.CanonicalName,
				Action:   ActionFailed,
				Reason:   err.Error(),
			})
			continue
		}
		logger.Debug("artifact delivered",
			"endpoint", ep.Name(),
			"artifact", artifact.CanonicalName,
			"action", string(pub.Action),
		)
		pubs = append(pubs, pub)
	}

	return pubs, firstErr
}

// publishArtifact delivers one artifact to one endpoint, applying the
// endpoint's conflict policy and writing the ledger entry.
func (p *Pipeline) publishArtifact(ctx context.Context, ep Endpoint, artifact Artifact, v version.Version, runID string) (Publication, error) {
	pub := Publication{Endpoint: ep.Name(), Artifact: artifact.CanonicalName}

	has, err := ep.Has(ctx, artifact.CanonicalName, v)
	if err != nil {
		return pub, fmt.Errorf("probing endpoint: %w", err)
	}

	action := journal.ActionPublished
	switch {
	case has && ep.OnConflict() == ConflictSkip:
		pub.Action = ActionSkipped
		pub.Reason = "already present"
		// Enrich the skip with provenance when the ledger knows the
		// delivering run.
		if prior, err := p.journal.FindPublication(ctx, ep.Name(), artifact.CanonicalName, v.String()); err == nil && prior != nil {
			pub.Reason = fmt.Sprintf("already present (delivered by run %s)", prior.RunID)
		}
		action = journal.ActionSkipped
	case has && ep.OnConflict() == ConflictFail:
		return pub, fmt.Errorf("artifact %s already present and conflict policy is %q", artifact.CanonicalName, ConflictFail)
	case has: // ConflictReplace
		if err := ep.Publish(ctx, artifact, true); err != nil {
			return pub, err
		}
		pub.Action = ActionReplaced
		action = journal.ActionReplaced
	default:
		if err := ep.Publish(ctx, artifact, false); err != nil {
			return pub, err
		}
		pub.Action = ActionPublished
	}

	if _, err := p.journal.RecordPublication(ctx, journal.PublicationRow{
		Endpoint:      ep.Name(),
		CanonicalName: artifact.CanonicalName,
		Version:       v.String(),
		RunID:         runID,
		Digest:        artifact.Digest,
		Action:        action,
		PublishedAt:   p.now(),
	}); err != nil {
		return pub, fmt.Errorf("recording publication: %w", err)
	}
	return pub, nil
}
