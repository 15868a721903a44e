package core

import (
	"errors"
	"fmt"
	"net/http"
)

// Error kinds. Each one classifies to exactly one HTTP status at the web
// boundary; see StatusFor in this file. Pipeline code raises these directly
// rather than scraping driver error text, since the service controls every
// error site itself.
var (
	// ErrValidation marks a malformed request: bad column, bad country
	// code, bad tier, non-numeric min_ltv, multi-character delimiter or
	// quote, or delimiter == quote.
	ErrValidation = errors.New("validation error")

	// ErrNotFound marks an unknown job id or an artifact missing despite
	// a completed job record.
	ErrNotFound = errors.New("not found")

	// ErrState marks cancelling a job that is already terminal.
	ErrState = errors.New("invalid state")

	// ErrNotReady marks a download request for a job that exists but has
	// not reached completed.
	ErrNotReady = errors.New("not ready")

	// ErrRange marks an unsatisfiable byte range on a download request.
	ErrRange = errors.New("unsatisfiable range")

	// ErrTransient marks a storage or database failure encountered by a
	// running pipeline. Transient errors fail the job; they are never
	// retried automatically.
	ErrTransient = errors.New("transient failure")

	// ErrCancellation marks a job cancelled by request. It is not
	// surfaced as an HTTP error; DELETE requests succeed with 204 once
	// the state transition has happened.
	ErrCancellation = errors.New("cancelled")

	// ErrProgrammer marks a state machine violation or other defect that
	// should never happen in correct code. Its message is never returned
	// to a client.
	ErrProgrammer = errors.New("internal error")
)

// StatusFor maps an error produced anywhere in this package to the HTTP
// status code its web handler should return. Unrecognized errors map to
// 500, the same as ErrProgrammer, so a defect never accidentally leaks a
// 200 or a client-retriable code.
func StatusFor(err error) int {
	switch {
	case err == nil:
		return http.StatusOK
	case errors.Is(err, ErrValidation):
		return http.StatusBadRequest
	case errors.Is(err, ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, ErrState):
		return http.StatusBadRequest
	case errors.Is(err, ErrNotReady):
		return http.StatusTooEarly
	case errors.Is(err, ErrRange):
		return http.StatusRequestedRangeNotSatisfiable
	default:
		return http.StatusInternalServerError
	}
}

// Message returns the text safe to put on the wire for err. Programmer
// errors are replaced with a generic message so internals never leak to
// a client; every other kind returns its own text, since those are all
// raised deliberately by request-facing code.
func Message(err error) string {
	if err == nil {
		return ""
	}
	if errors.Is(err, ErrProgrammer) {
		return "internal error"
	}
	return err.Error()
}

// NotCompleted reports the 425-with-state-name response for a download
// request on a job that exists but has not reached completed.
func NotCompleted(status Status) error {
	return fmt.Errorf("Export is %s. It is not yet available for download: %w", status, ErrNotReady)
}
