package release

import (
	"errors"
	"fmt"
	"strings"
)

// RunError represents a release run stopping at one of its gates.
//
// Every way a run can fail maps to exactly one code:
//   - Gate failure: the interface contract no longer matches the library
//   - Collection incomplete: one or more cells failed to build
//   - Name collision: two cells produced the same canonical name
//   - Publish failure: a required endpoint rejected an upload
//   - Version write failure: artifacts are out but state could not advance
//   - Run in progress: another release holds the run lock
//
// RunError carries structured fields so callers can report which cells or
// endpoints were involved without parsing the message.
type RunError struct {
	// Code identifies the failure category.
	Code FailureCode

	// Message is a human-readable description.
	Message string

	// Cells lists affected cell keys (for build failures).
	Cells []string

	// Endpoints lists affected endpoint names (for publish failures).
	Endpoints []string

	// Diagnostics holds checker or build output relevant to the failure.
	Diagnostics []string

	// Err is the underlying cause, if any.
	Err error
}

// FailureCode categorizes run failures.
type FailureCode string

const (
	// CodeGateFailed indicates the interface gate rejected the release.
	CodeGateFailed FailureCode = "GATE_FAILED"

	// CodeCollectionIncomplete indicates at least one cell failed to build,
	// so no complete artifact set exists.
	CodeCollectionIncomplete FailureCode = "COLLECTION_INCOMPLETE"

	// CodeNameCollision indicates two cells produced the same canonical name.
	CodeNameCollision FailureCode = "NAME_COLLISION"

	// CodeNothingToPublish indicates the publisher was handed an empty set.
	CodeNothingToPublish FailureCode = "NOTHING_TO_PUBLISH"

	// CodePublishFailed indicates a required endpoint could not be published to.
	CodePublishFailed FailureCode = "PUBLISH_FAILED"

	// CodeVersionWriteFailed indicates artifacts were published but the
	// version state file could not be advanced. Requires operator attention:
	// the next run would otherwise reuse the released version.
	CodeVersionWriteFailed FailureCode = "VERSION_WRITE_FAILED"

	// CodeRunInProgress indicates another release run holds the lock.
	CodeRunInProgress FailureCode = "RUN_IN_PROGRESS"
)

// Error implements the error interface.
func (e *RunError) Error() string {
	switch {
	case len(e.Cells) > 0:
		return fmt.Sprintf("%s: %s (cells: %s)", e.Code, e.Message, strings.Join(e.Cells, ", "))
	case len(e.Endpoints) > 0:
		return fmt.Sprintf("%s: %s (endpoints: %s)", e.Code, e.Message, strings.Join(e.Endpoints, ", "))
	default:
		return fmt.Sprintf("%s: %s", e.Code, e.Message)
	}
}

// Unwrap returns the underlying cause for errors.Is/As chains.
func (e *RunError) Unwrap() error {
	return e.Err
}

// CodeOf extracts the failure code from err, or "" if err is not a RunError.
// Uses errors.As to handle wrapped errors.
func CodeOf(err error) FailureCode {
	var re *RunError
	if errors.As(err, &re) {
		return re.Code
	}
	return ""
}

// IsGateFailure returns true if the error is an interface gate rejection.
func IsGateFailure(err error) bool {
	return CodeOf(err) == CodeGateFailed
}

// IsCollectionIncomplete returns true if the error is a failed or
// colliding artifact collection.
func IsCollectionIncomplete(err error) bool {
	code := CodeOf(err)
	return code == CodeCollectionIncomplete || code == CodeNameCollision
}

// IsPublishFailure returns true if the error is a publish stage failure.
func IsPublishFailure(err error) bool {
	code := CodeOf(err)
	return code == CodePublishFailed || code == CodeNothingToPublish
}

// IsVersionWriteFailure returns true if the error is a failed version
// state advancement after a successful publish.
func IsVersionWriteFailure(err error) bool {
	return CodeOf(err) == CodeVersionWriteFailed
}

// IsRunInProgress returns true if the error is a run lock conflict.
func IsRunInProgress(err error) bool {
	return CodeOf(err) == CodeRunInProgress
}

// NewGateError creates a RunError for an interface gate rejection.
func NewGateError(diagnostics []string) *RunError {
	return &RunError{
		Code:        CodeGateFailed,
		Message:     "interface contract does not match the library",
		Diagnostics: diagnostics,
	}
}

// NewCollectionError creates a RunError for an incomplete artifact set.
func NewCollectionError(built, expected int, failedCells []string) *RunError {
	return &RunError{
		Code:    CodeCollectionIncomplete,
		Message: fmt.Sprintf("only %d of %d cells built an artifact", built, expected),
		Cells:   failedCells,
	}
}

// NewCollisionError creates a RunError for a canonical name collision.
func NewCollisionError(cause error) *RunError {
	return &RunError{
		Code:    CodeNameCollision,
		Message: cause.Error(),
		Err:     cause,
	}
}

// NewPublishError creates a RunError for failed endpoint publication.
func NewPublishError(endpoints []string, cause error) *RunError {
	return &RunError{
		Code:      CodePublishFailed,
		Message:   "publishing to one or more endpoints failed",
		Endpoints: endpoints,
		Err:       cause,
	}
}

// NewVersionWriteError creates a RunError for a failed version state write.
func NewVersionWriteError(cause error) *RunError {
	return &RunError{
		Code:    CodeVersionWriteFailed,
		Message: "artifacts are published but the version file could not be advanced; fix the file before the next run",
		Err:     cause,
	}
}

// NewRunInProgressError creates a RunError for a run lock conflict.
func NewRunInProgressError(holder string) *RunError {
	msg := "another release run is in progress"
	if holder != "" {
		msg = fmt.Sprintf("release run %s is already in progress", holder)
	}
	return &RunError{
		Code:    CodeRunInProgress,
		Message: msg,
	}
}

// BuildFailure is the typed per-cell outcome when a cell's build does not
// produce a usable artifact. Cell failures are isolated: one cell failing
// never stops the others, but any failure makes the collection incomplete.
type BuildFailure struct {
	Cell   BuildCell
	Reason string
}

// Error implements the error interface.
func (e *BuildFailure) Error() string {
	return fmt.Sprintf("cell %s: %s", e.Cell, e.Reason)
}
