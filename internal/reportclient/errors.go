package reportclient

import (
	"errors"
	"fmt"
	"time"

	"github.com/iago/fleet-reports/internal/reportapi"
)

// Sentinels for errors.Is. Every error returned by a Session matches exactly
// one of them.
var (
	ErrSubmission       = errors.New("report submission failed")
	ErrStatus           = errors.New("report status check failed")
	ErrGenerationFailed = errors.New("report generation failed")
	ErrPollingTimeout   = errors.New("report polling timed out")
	ErrRetrieval        = errors.New("report retrieval failed")
	ErrCancelled        = errors.New("report generation cancelled")
)

var errEmptyReportKind = errors.New("report kind is required")

// SubmissionError means the job was never created; nothing was polled.
type SubmissionError struct {
	ReportKind string
	StatusCode int
	Err        error
}

func (e *SubmissionError) Error() string {
	return fmt.Sprintf("submit %q report: %v", e.ReportKind, e.Err)
}

func (e *SubmissionError) Unwrap() []error {
	return []error{ErrSubmission, e.Err}
}

// StatusError means a status request failed while polling.
type StatusError struct {
	JobID      string
	Poll       int
	StatusCode int
	Err        error
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("check status of job %s (poll %d): %v", e.JobID, e.Poll, e.Err)
}

func (e *StatusError) Unwrap() []error {
	return []error{ErrStatus, e.Err}
}

// GenerationFailedError carries the last message the backend reported for a
// FAILED job.
type GenerationFailedError struct {
	JobID    string
	Progress int
	Message  string
}

func (e *GenerationFailedError) Error() string {
	if e.Message == "" {
		return fmt.Sprintf("job %s failed", e.JobID)
	}
	return fmt.Sprintf("job %s failed: %s", e.JobID, e.Message)
}

func (e *GenerationFailedError) Unwrap() error {
	return ErrGenerationFailed
}

// PollingTimeoutError means the client gave up; the job may still finish on
// the backend.
type PollingTimeoutError struct {
	JobID     string
	Attempts  int
	Elapsed   time.Duration
	LastState reportapi.Status
}

func (e *PollingTimeoutError) Error() string {
	return fmt.Sprintf(
		"job %s not finished after %d polls in %s (last state %s)",
		e.JobID,
		e.Attempts,
		e.Elapsed.Round(time.Millisecond),
		e.LastState,
	)
}

func (e *PollingTimeoutError) Unwrap() error {
	return ErrPollingTimeout
}

// RetrievalError means the report exists but could not be fetched or opened.
type RetrievalError struct {
	JobID      string
	Mode       Mode
	StatusCode int
	Err        error
}

func (e *RetrievalError) Error() string {
	return fmt.Sprintf("retrieve artifact of job %s (%s): %v", e.JobID, e.Mode, e.Err)
}

func (e *RetrievalError) Unwrap() []error {
	return []error{ErrRetrieval, e.Err}
}

// Describe renders err as a sentence for end users. Each error kind gets its
// own wording so callers never have to collapse them.
func Describe(err error) string {
	var failed *GenerationFailedError
	switch {
	case err == nil:
		return ""
	case errors.Is(err, ErrCancelled):
		return "Report generation was cancelled."
	case errors.Is(err, ErrSubmission):
		return "Could not start report generation. Please try again."
	case errors.As(err, &failed):
		if failed.Message != "" {
			return "Report generation failed: " + failed.Message
		}
		return "Report generation failed."
	case errors.Is(err, ErrPollingTimeout):
		return "The report is taking longer than expected. It may still become available later."
	case errors.Is(err, ErrStatus):
		return "Lost contact with the report service while the report was being generated."
	case errors.Is(err, ErrRetrieval):
		return "The report is ready but could not be downloaded."
	default:
		return "Unexpected error while generating the report: " + err.Error()
	}
}

type httpStatusCoder interface {
	HTTPStatus() int
}

func statusCodeOf(err error) int {
	var coder httpStatusCoder
	if errors.As(err, &coder) {
		return coder.HTTPStatus()
	}
	return 0
}
