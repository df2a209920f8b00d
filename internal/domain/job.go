package domain

import (
	"time"
)

type JobStatus string

const (
	JobStatusStarting   JobStatus = "STARTING"
	JobStatusProcessing JobStatus = "PROCESSING"
	JobStatusCompleted  JobStatus = "COMPLETED"
	JobStatusFailed     JobStatus = "FAILED"
)

func (s JobStatus) Terminal() bool {
	return s == JobStatusCompleted || s == JobStatusFailed
}

// ReportJob is the server-side record of one report generation. Scope is
// fixed at submission; status, progress and message change only in the worker.
type ReportJob struct {
	ID         string
	ReportKind string
	Scope      map[string]string
	Status     JobStatus
	Progress   int
	Message    string
	Attempts   int

	ArtifactKey         string
	ArtifactContentType string
	ArtifactFilename    string
	ArtifactSize        int64

	CreatedAt time.Time
	UpdatedAt time.Time
}

func (j *ReportJob) HasArtifact() bool {
	return j.Status == JobStatusCompleted && j.ArtifactKey != ""
}

// QueueMessage is the transport format sent to queue backends.
type QueueMessage struct {
	JobID       string            `json:"job_id"`
	ReportKind  string            `json:"report_kind"`
	Scope       map[string]string `json:"scope,omitempty"`
	Attempt     int               `json:"attempt"`
	RequestedAt time.Time         `json:"requested_at"`
}

type JobListFilter struct {
	ReportKind string
	Status     JobStatus
	Page       int
	PageSize   int
	From       *time.Time
	To         *time.Time
}
