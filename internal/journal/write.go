package journal

import (
	"context"
	"fmt"
	"strings"
	"time"
)

// Run states.
const (
	StateRunning   = "running"
	StateSucceeded = "succeeded"
	StateFailed    = "failed"
)

// Cell statuses.
const (
	CellBuilt  = "built"
	CellFailed = "failed"
)

// Publication actions.
const (
	ActionPublished = "published"
	ActionReplaced  = "replaced"
	ActionSkipped   = "skipped"
)

// RunStart describes a run being opened in the journal.
type RunStart struct {
	ID          string
	Package     string
	Version     string
	Revision    string
	TriggeredBy string
	StartedAt   time.Time
}

// BeginRun opens a run row in state 'running' and thereby takes the run lock.
//
// Returns inserted=false with the holding run's ID when another run is
// already in progress: the partial unique index on state='running' admits
// at most one open row, and ON CONFLICT DO NOTHING turns the violation
// into a no-op.
func (j *Journal) BeginRun(ctx context.Context, start RunStart) (inserted bool, holder string, err error) {
	tx, err := j.db.BeginTx(ctx, nil)
	if err != nil {
		return false, "", fmt.Errorf("begin run: begin tx: %w", err)
	}
	defer tx.Rollback() // No-op if committed

	result, err := tx.ExecContext(ctx, `
		INSERT INTO runs
		(id, package, version, revision, triggered_by, state, started_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT DO NOTHING
	`,
		start.ID,
		start.Package,
		start.Version,
		start.Revision,
		start.TriggeredBy,
		StateRunning,
		formatTime(start.StartedAt),
	)
	if err != nil {
		return false, "", fmt.Errorf("begin run: %w", err)
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return false, "", fmt.Errorf("begin run: rows affected: %w", err)
	}

	if rows == 0 {
		// Lock is held; report who holds it.
		err = tx.QueryRowContext(ctx,
			`SELECT id FROM runs WHERE state = ? LIMIT 1`, StateRunning,
		).Scan(&holder)
		if err != nil {
			return false, "", fmt.Errorf("begin run: find holder: %w", err)
		}
		if err := tx.Commit(); err != nil {
			return false, "", fmt.Errorf("begin run: commit: %w", err)
		}
		return false, holder, nil
	}

	if err := tx.Commit(); err != nil {
		return false, "", fmt.Errorf("begin run: commit: %w", err)
	}
	return true, "", nil
}

// RunOutcome describes how a run ended.
type RunOutcome struct {
	State         string // StateSucceeded or StateFailed
	FailureCode   string
	FailureReason string
	FinishedAt    time.Time
}

// FinishRun closes a run row and releases the run lock.
//
// Errors if the run does not exist. Idempotent for the same outcome: a
// second call just rewrites the same terminal state.
func (j *Journal) FinishRun(ctx context.Context, runID string, outcome RunOutcome) error {
	if outcome.State != StateSucceeded && outcome.State != StateFailed {
		return fmt.Errorf("finish run: invalid terminal state %q", outcome.State)
	}

	result, err := j.db.ExecContext(ctx, `
		UPDATE runs
		SET state = ?, failure_code = ?, failure_reason = ?, finished_at = ?
		WHERE id = ?
	`,
		outcome.State,
		outcome.FailureCode,
		outcome.FailureReason,
		formatTime(outcome.FinishedAt),
		runID,
	)
	if err != nil {
		return fmt.Errorf("finish run: %w", err)
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("finish run: rows affected: %w", err)
	}
	if rows == 0 {
		return fmt.Errorf("finish run: run %s not found", runID)
	}
	return nil
}

// RecordGate stores the interface gate verdict on the run row.
// Diagnostics are newline-joined.
func (j *Journal) RecordGate(ctx context.Context, runID, cell string, passed bool, diagnostics []string) error {
	gatePassed := 0
	if passed {
		gatePassed = 1
	}

	result, err := j.db.ExecContext(ctx, `
		UPDATE runs
		SET gate_passed = ?, gate_cell = ?, gate_output = ?
		WHERE id = ?
	`,
		gatePassed,
		cell,
		strings.Join(diagnostics, "\n"),
		runID,
	)
	if err != nil {
		return fmt.Errorf("record gate: %w", err)
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("record gate: rows affected: %w", err)
	}
	if rows == 0 {
		return fmt.Errorf("record gate: run %s not found", runID)
	}
	return nil
}

// CellRow is one cell's build outcome within a run.
type CellRow struct {
	RunID         string
	Cell          string
	Status        string // CellBuilt or CellFailed
	CanonicalName string
	Digest        string
	Reason        string
	DurationMS    int64
}

// RecordCell inserts a cell outcome.
// Uses ON CONFLICT(run_id, cell) DO NOTHING for idempotency - each cell is
// recorded at most once per run.
func (j *Journal) RecordCell(ctx context.Context, row CellRow) error {
	_, err := j.db.ExecContext(ctx, `
		INSERT INTO cells
		(run_id, cell, status, canonical_name, digest, reason, duration_ms)
		VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(run_id, cell) DO NOTHING
	`,
		row.RunID,
		row.Cell,
		row.Status,
		row.CanonicalName,
		row.Digest,
		row.Reason,
		row.DurationMS,
	)
	if err != nil {
		return fmt.Errorf("record cell: %w", err)
	}
	return nil
}

// PublicationRow is one ledger entry: this endpoint holds this artifact at
// this version.
type PublicationRow struct {
	Endpoint      string
	CanonicalName string
	Version       string
	RunID         string
	Digest        string
	Action        string // ActionPublished, ActionReplaced, or ActionSkipped
	PublishedAt   time.Time
}

// RecordPublication inserts a ledger entry and reports whether it was new.
//
// Uses ON CONFLICT(endpoint, canonical_name, version) DO NOTHING: the first
// run to deliver an artifact owns the ledger row, retried runs see
// inserted=false and leave it untouched.
func (j *Journal) RecordPublication(ctx context.Context, row PublicationRow) (inserted bool, err error) {
	result, err := j.db.ExecContext(ctx, `
		INSERT INTO publications
		(endpoint, canonical_name, version, run_id, digest, action, published_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(endpoint, canonical_name, version) DO NOTHING
	`,
		row.Endpoint,
		row.CanonicalName,
		row.Version,
		row.RunID,
		row.Digest,
		row.Action,
		formatTime(row.PublishedAt),
	)
	if err != nil {
		return false, fmt.Errorf("record publication: %w", err)
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("record publication: rows affected: %w", err)
	}
	return rows > 0, nil
}

// BreakLock force-fails every run still in state 'running' and returns how
// many rows were closed. Recovery path for a run that crashed without
// releasing the lock.
func (j *Journal) BreakLock(ctx context.Context, reason string, at time.Time) (int64, error) {
	result, err := j.db.ExecContext(ctx, `
		UPDATE runs
		SET state = ?, failure_code = 'ABANDONED', failure_reason = ?, finished_at = ?
		WHERE state = ?
	`,
		StateFailed,
		reason,
		formatTime(at),
		StateRunning,
	)
	if err != nil {
		return 0, fmt.Errorf("break lock: %w", err)
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("break lock: rows affected: %w", err)
	}
	return rows, nil
}

// formatTime renders a timestamp as RFC 3339 UTC with millisecond
// precision. Lexicographic order on the stored strings matches
// chronological order.
func formatTime(t time.Time) string {
	return t.UTC().Format("2006-01-02T15:04:05.000Z07:00")
}

// parseTime reverses formatTime.
func parseTime(s string) (time.Time, error) {
	return time.Parse(time.RFC3339, s)
}
