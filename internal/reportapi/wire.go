// Package reportapi holds the HTTP contract shared by the report backend and
// its clients.
package reportapi

import (
	"net/url"
	"strings"
	"time"
)

const (
	PathReports   = "/v1/reports"
	PathJobs      = "/v1/jobs/"
	PathDownloads = "/v1/downloads/"
	PathHealth    = "/healthz"

	HeaderIdempotencyKey = "Idempotency-Key"
	HeaderRequestID      = "X-Request-Id"
)

// Status is the job state reported by the status endpoint. Values outside the
// known set are kept verbatim and treated as non-terminal.
type Status string

const (
	StatusStarting   Status = "STARTING"
	StatusProcessing Status = "PROCESSING"
	StatusCompleted  Status = "COMPLETED"
	StatusFailed     Status = "FAILED"
)

// Terminal reports whether no further transitions are expected.
func (s Status) Terminal() bool {
	return s == StatusCompleted || s == StatusFailed
}

// Known reports whether s is one of the four documented states.
func (s Status) Known() bool {
	switch s {
	case StatusStarting, StatusProcessing, StatusCompleted, StatusFailed:
		return true
	default:
		return false
	}
}

type SubmitRequest struct {
	ReportKind string            `json:"report_kind"`
	Scope      map[string]string `json:"scope,omitempty"`
}

type SubmitResponse struct {
	JobID      string    `json:"job_id"`
	Status     Status    `json:"status"`
	StatusURL  string    `json:"status_url"`
	AcceptedAt time.Time `json:"accepted_at"`
}

type ArtifactInfo struct {
	ContentType string `json:"content_type"`
	Filename    string `json:"filename"`
	SizeBytes   int64  `json:"size_bytes"`
}

type StatusResponse struct {
	JobID      string        `json:"job_id"`
	ReportKind string        `json:"report_kind,omitempty"`
	Status     Status        `json:"status"`
	Progress   int           `json:"progress"`
	Message    string        `json:"message,omitempty"`
	UpdatedAt  time.Time     `json:"updated_at"`
	Artifact   *ArtifactInfo `json:"artifact,omitempty"`
}

// JobList is the body of GET /v1/reports.
type JobList struct {
	Items    []StatusResponse `json:"items"`
	Total    int              `json:"total"`
	Page     int              `json:"page"`
	PageSize int              `json:"page_size"`
}

type ArtifactURLResponse struct {
	URL       string    `json:"url"`
	ExpiresAt time.Time `json:"expires_at"`
}

// Download is an artifact body fetched through the authenticated endpoint.
type Download struct {
	Data        []byte
	ContentType string
	Filename    string
}

type ErrorBody struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// ErrorEnvelope is the body of every non-2xx JSON response.
type ErrorEnvelope struct {
	Error     ErrorBody `json:"error"`
	RequestID string    `json:"request_id"`
}

const (
	CodeInvalidRequest      = "invalid_request"
	CodeUnknownReportKind   = "unknown_report_kind"
	CodeIdempotencyConflict = "idempotency_conflict"
	CodeNotFound            = "not_found"
	CodeNotReady            = "not_ready"
	CodeUnauthorized        = "unauthorized"
	CodeRateLimited         = "rate_limited"
	CodeMethodNotAllowed    = "method_not_allowed"
	CodeInternal            = "internal_error"
)

func JobStatusPath(jobID string) string {
	return PathJobs + url.PathEscape(jobID)
}

func ArtifactPath(jobID string) string {
	return JobStatusPath(jobID) + "/artifact"
}

func ArtifactURLPath(jobID string) string {
	return JobStatusPath(jobID) + "/artifact-url"
}

// JobEventsPath is the websocket endpoint that pushes a StatusResponse on
// every job transition.
func JobEventsPath(jobID string) string {
	return JobStatusPath(jobID) + "/events"
}

func DownloadPath(token string) string {
	return PathDownloads + url.PathEscape(token)
}

// SplitJobPath parses "/v1/jobs/{id}[/{action}]" into its parts.
func SplitJobPath(path string) (jobID, action string, ok bool) {
	rest := strings.TrimPrefix(path, PathJobs)
	if rest == path {
		return "", "", false
	}
	rest = strings.Trim(rest, "/")
	if rest == "" {
		return "", "", false
	}
	jobID, action, _ = strings.Cut(rest, "/")
	unescaped, err := url.PathUnescape(jobID)
	if err != nil || strings.TrimSpace(unescaped) == "" {
		return "", "", false
	}
	return unescaped, action, true
}
