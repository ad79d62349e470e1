package journal

import (
	"context"
	"database/sql"
	"fmt"
	"time"
)

// RunSummary is one run as listed by History.
type RunSummary struct {
	ID            string
	Package       string
	Version       string
	Revision      string
	TriggeredBy   string
	State         string
	FailureCode   string
	FailureReason string

	// GatePassed is nil when the run ended before the gate verdict.
	GatePassed *bool
	GateCell   string

	StartedAt time.Time
	// FinishedAt is nil while the run is still open.
	FinishedAt *time.Time

	CellsBuilt   int
	CellsFailed  int
	Publications int
}

const runSummaryColumns = `
	r.id, r.package, r.version, r.revision, r.triggered_by, r.state,
	r.failure_code, r.failure_reason, r.gate_passed, r.gate_cell,
	r.started_at, r.finished_at,
	(SELECT COUNT(*) FROM cells c WHERE c.run_id = r.id AND c.status = 'built'),
	(SELECT COUNT(*) FROM cells c WHERE c.run_id = r.id AND c.status = 'failed'),
	(SELECT COUNT(*) FROM publications p WHERE p.run_id = r.id)`

// History returns the most recent runs, newest first.
// A limit <= 0 returns the 20 most recent. Always returns a non-nil slice.
func (j *Journal) History(ctx context.Context, limit int) ([]RunSummary, error) {
	if limit <= 0 {
		limit = 20
	}

	rows, err := j.db.QueryContext(ctx, `
		SELECT`+runSummaryColumns+`
		FROM runs r
		ORDER BY r.started_at DESC, r.id DESC
		LIMIT ?
	`, limit)
	if err != nil {
		return nil, fmt.Errorf("history: %w", err)
	}
	defer rows.Close()

	runs := []RunSummary{}
	for rows.Next() {
		summary, err := scanRunSummary(rows)
		if err != nil {
			return nil, fmt.Errorf("history: %w", err)
		}
		runs = append(runs, summary)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("history: %w", err)
	}
	return runs, nil
}

// GetRun returns one run by ID, or nil if it does not exist.
func (j *Journal) GetRun(ctx context.Context, runID string) (*RunSummary, error) {
	rows, err := j.db.QueryContext(ctx, `
		SELECT`+runSummaryColumns+`
		FROM runs r
		WHERE r.id = ?
	`, runID)
	if err != nil {
		return nil, fmt.Errorf("get run: %w", err)
	}
	defer rows.Close()

	if !rows.Next() {
		if err := rows.Err(); err != nil {
			return nil, fmt.Errorf("get run: %w", err)
		}
		return nil, nil
	}
	summary, err := scanRunSummary(rows)
	if err != nil {
		return nil, fmt.Errorf("get run: %w", err)
	}
	return &summary, nil
}

// ActiveRun returns the run currently holding the lock, or nil.
func (j *Journal) ActiveRun(ctx context.Context) (*RunSummary, error) {
	rows, err := j.db.QueryContext(ctx, `
		SELECT`+runSummaryColumns+`
		FROM runs r
		WHERE r.state = ?
		LIMIT 1
	`, StateRunning)
	if err != nil {
		return nil, fmt.Errorf("active run: %w", err)
	}
	defer rows.Close()

	if !rows.Next() {
		if err := rows.Err(); err != nil {
			return nil, fmt.Errorf("active run: %w", err)
		}
		return nil, nil
	}
	summary, err := scanRunSummary(rows)
	if err != nil {
		return nil, fmt.Errorf("active run: %w", err)
	}
	return &summary, nil
}

// RunCells returns a run's cell outcomes ordered by cell key.
// Always returns a non-nil slice.
func (j *Journal) RunCells(ctx context.Context, runID string) ([]CellRow, error) {
	rows, err := j.db.QueryContext(ctx, `
		SELECT run_id, cell, status, canonical_name, digest, reason, duration_ms
		FROM cells
		WHERE run_id = ?
		ORDER BY cell
	`, runID)
	if err != nil {
		return nil, fmt.Errorf("run cells: %w", err)
	}
	defer rows.Close()

	cells := []CellRow{}
	for rows.Next() {
		var row CellRow
		if err := rows.Scan(
			&row.RunID, &row.Cell, &row.Status,
			&row.CanonicalName, &row.Digest, &row.Reason, &row.DurationMS,
		); err != nil {
			return nil, fmt.Errorf("run cells: %w", err)
		}
		cells = append(cells, row)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("run cells: %w", err)
	}
	return cells, nil
}

// RunPublications returns a run's ledger entries ordered by endpoint then
// artifact name. Always returns a non-nil slice.
func (j *Journal) RunPublications(ctx context.Context, runID string) ([]PublicationRow, error) {
	rows, err := j.db.QueryContext(ctx, `
		SELECT endpoint, canonical_name, version, run_id, digest, action, published_at
		FROM publications
		WHERE run_id = ?
		ORDER BY endpoint, canonical_name
	`, runID)
	if err != nil {
		return nil, fmt.Errorf("run publications: %w", err)
	}
	defer rows.Close()

	return scanPublications(rows)
}

// FindPublication looks up one ledger entry, or nil if the endpoint has
// never been recorded as holding this artifact at this version.
func (j *Journal) FindPublication(ctx context.Context, endpoint, canonicalName, version string) (*PublicationRow, error) {
	rows, err := j.db.QueryContext(ctx, `
		SELECT endpoint, canonical_name, version, run_id, digest, action, published_at
		FROM publications
		WHERE endpoint = ? AND canonical_name = ? AND version = ?
	`, endpoint, canonicalName, version)
	if err != nil {
		return nil, fmt.Errorf("find publication: %w", err)
	}
	defer rows.Close()

	pubs, err := scanPublications(rows)
	if err != nil {
		return nil, fmt.Errorf("find publication: %w", err)
	}
	if len(pubs) == 0 {
		return nil, nil
	}
	return &pubs[0], nil
}

func scanPublications(rows *sql.Rows) ([]PublicationRow, error) {
	pubs := []PublicationRow{}
	for rows.Next() {
		var row PublicationRow
		var publishedAt string
		if err := rows.Scan(
			&row.Endpoint, &row.CanonicalName, &row.Version,
			&row.RunID, &row.Digest, &row.Action, &publishedAt,
		); err != nil {
			return nil, fmt.Errorf("scan publication: %w", err)
		}
		t, err := parseTime(publishedAt)
		if err != nil {
			return nil, fmt.Errorf("scan publication: published_at: %w", err)
		}
		row.PublishedAt = t
		pubs = append(pubs, row)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return pubs, nil
}

func scanRunSummary(rows *sql.Rows) (RunSummary, error) {
	var (
		summary    RunSummary
		gatePassed sql.NullInt64
		startedAt  string
		finishedAt sql.NullString
	)
	if err := rows.Scan(
		&summary.ID, &summary.Package, &summary.Version, &summary.Revision,
		&summary.TriggeredBy, &summary.State,
		&summary.FailureCode, &summary.FailureReason,
		&gatePassed, &summary.GateCell,
		&startedAt, &finishedAt,
		&summary.CellsBuilt, &summary.CellsFailed, &summary.Publications,
	); err != nil {
		return RunSummary{}, err
	}

	if gatePassed.Valid {
		passed := gatePassed.Int64 != 0
		summary.GatePassed = &passed
	}

	t, err := parseTime(startedAt)
	if err != nil {
		return RunSummary{}, fmt.Errorf("started_at: %w", err)
	}
	summary.StartedAt = t

	if finishedAt.Valid {
		t, err := parseTime(finishedAt.String)
		if err != nil {
			return RunSummary{}, fmt.Errorf("finished_at: %w", err)
		}
		summary.FinishedAt = &t
	}

	return summary, nil
}
