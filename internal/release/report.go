package release

import (
	"errors"
	"fmt"
	"io"
	"time"
)

// Outcome is the terminal state of a release run.
type Outcome string

const (
	// OutcomeSucceeded means every stage completed and the version advanced.
	OutcomeSucceeded Outcome = "succeeded"

	// OutcomeFailed means the run stopped at one of its gates.
	OutcomeFailed Outcome = "failed"
)

// PublicationAction describes what the publisher did for one artifact at
// one endpoint.
type PublicationAction string

const (
	// ActionPublished means the artifact was uploaded fresh.
	ActionPublished PublicationAction = "published"

	// ActionReplaced means an existing artifact was overwritten.
	ActionReplaced PublicationAction = "replaced"

	// ActionSkipped means the artifact was already present and left alone.
	ActionSkipped PublicationAction = "skipped"

	// ActionFailed means the upload did not complete.
	ActionFailed PublicationAction = "failed"
)

// GateReport records the interface gate verdict for a run.
type GateReport struct {
	Cell        string   `json:"cell"`
	Passed      bool     `json:"passed"`
	Diagnostics []string `json:"diagnostics,omitempty"`
}

// CellReport records one cell's build outcome for a run.
type CellReport struct {
	Cell          string `json:"cell"`
	Status        string `json:"status"`
	CanonicalName string `json:"canonical_name,omitempty"`
	Digest        string `json:"digest,omitempty"`
	Reason        string `json:"reason,omitempty"`
	DurationMS    int64  `json:"duration_ms"`
}

// Publication records one publisher decision.
type Publication struct {
	Endpoint string            `json:"endpoint"`
	Artifact string            `json:"artifact"`
	Action   PublicationAction `json:"action"`
	Reason   string            `json:"reason,omitempty"`
}

// Report is the complete account of one release run, suitable for both
// human-readable rendering and JSON output.
type Report struct {
	RunID       string    `json:"run_id"`
	Package     string    `json:"package"`
	Version     string    `json:"version"`
	TriggeredBy string    `json:"triggered_by,omitempty"`
	Revision    string    `json:"revision,omitempty"`
	StartedAt   time.Time `json:"started_at"`
	FinishedAt  time.Time `json:"finished_at"`

	Gate         *GateReport   `json:"gate,omitempty"`
	Cells        []CellReport  `json:"cells,omitempty"`
	Publications []Publication `json:"publications,omitempty"`
	Warnings     []string      `json:"warnings,omitempty"`

	Outcome       Outcome `json:"outcome"`
	FailureCode   string  `json:"failure_code,omitempty"`
	FailureReason string  `json:"failure_reason,omitempty"`

	// VersionAdvanced is true once the state file records the released
	// version as current. CurrentVersion and NextVersion reflect the state
	// file after the run.
	VersionAdvanced bool   `json:"version_advanced"`
	CurrentVersion  string `json:"current_version,omitempty"`
	NextVersion     string `json:"next_version,omitempty"`
}

// fail marks the report as failed, extracting the failure code when the
// error is a RunError.
func (r *Report) fail(err error) {
	r.Outcome = OutcomeFailed
	var re *RunError
	if errors.As(err, &re) {
		r.FailureCode = string(re.Code)
		r.FailureReason = re.Message
		return
	}
	r.FailureReason = err.Error()
}

// BuiltCells counts the cells that produced an artifact.
func (r *Report) BuiltCells() int {
	n := 0
	for _, c := range r.Cells {
		if c.Status == "built" {
			n++
		}
	}
	return n
}

// Render writes the human-readable account of the run.
func (r *Report) Render(w io.Writer) error {
	fmt.Fprintf(w, "Run:      %s\n", r.RunID)
	fmt.Fprintf(w, "Package:  %s %s\n", r.Package, r.Version)
	if r.TriggeredBy != "" || r.Revision != "" {
		trigger := r.TriggeredBy
		if trigger == "" {
			trigger = "unknown"
		}
		if r.Revision != "" {
			fmt.Fprintf(w, "Trigger:  %s (revision %s)\n", trigger, r.Revision)
		} else {
			fmt.Fprintf(w, "Trigger:  %s\n", trigger)
		}
	}

	if r.Gate != nil {
		verdict := "passed"
		if !r.Gate.Passed {
			verdict = "failed"
		}
		fmt.Fprintf(w, "\nGate:     %s  [%s]\n", verdict, r.Gate.Cell)
		for _, d := range r.Gate.Diagnostics {
			fmt.Fprintf(w, "  %s\n", d)
		}
	}

	if len(r.Cells) > 0 {
		fmt.Fprintf(w, "\nCells:    %d/%d built\n", r.BuiltCells(), len(r.Cells))
		for _, c := range r.Cells {
			if c.Status == "built" {
				fmt.Fprintf(w, "  ✓ %-24s %s  (sha256:%s)\n", c.Cell, c.CanonicalName, shortDigest(c.Digest))
			} else {
				fmt.Fprintf(w, "  ✗ %-24s %s\n", c.Cell, c.Reason)
			}
		}
	}

	if len(r.Publications) > 0 {
		fmt.Fprintf(w, "\nPublications:\n")
		for _, p := range r.Publications {
			mark := "✓"
			if p.Action == ActionFailed {
				mark = "✗"
			} else if p.Action == ActionSkipped {
				mark = "-"
			}
			line := fmt.Sprintf("  %s %-10s %-44s %s", mark, p.Endpoint, p.Artifact, p.Action)
			if p.Reason != "" {
				line += ": " + p.Reason
			}
			fmt.Fprintln(w, line)
		}
	}

	for _, warning := range r.Warnings {
		fmt.Fprintf(w, "\nWarning:  %s\n", warning)
	}

	if r.VersionAdvanced {
		fmt.Fprintf(w, "\nVersion:  %s is now current, next release is %s\n", r.CurrentVersion, r.NextVersion)
	}

	fmt.Fprintf(w, "\nOutcome:  %s", r.Outcome)
	if r.FailureCode != "" {
		fmt.Fprintf(w, " (%s)", r.FailureCode)
	}
	fmt.Fprintln(w)
	if r.FailureReason != "" {
		fmt.Fprintf(w, "Reason:   %s\n", r.FailureReason)
	}
	return nil
}

// shortDigest abbreviates a hex digest for display.
func shortDigest(digest string) string {
	if len(digest) > 12 {
		return digest[:12]
	}
	return digest
}
