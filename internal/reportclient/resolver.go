package reportclient

import (
	"context"
	"time"

	"github.com/iago/fleet-reports/internal/reportapi"
)

// Mode selects how a completed report is handed to the caller.
type Mode string

const (
	// ModeDownload fetches the artifact body through the authenticated endpoint.
	ModeDownload Mode = "download"
	// ModeURL asks for a pre-authorized link the platform can open itself.
	ModeURL Mode = "url"
)

type ArtifactKind string

const (
	ArtifactData ArtifactKind = "data"
	ArtifactURL  ArtifactKind = "url"
)

// Artifact is the outcome of a successful report run. Data is set for
// ArtifactData, URL and ExpiresAt for ArtifactURL.
type Artifact struct {
	JobID       string
	ReportKind  string
	Kind        ArtifactKind
	Data        []byte
	ContentType string
	Filename    string
	URL         string
	ExpiresAt   time.Time
}

// ArtifactFetcher retrieves finished artifacts.
type ArtifactFetcher interface {
	DownloadArtifact(ctx context.Context, jobID string) (reportapi.Download, error)
	ArtifactURL(ctx context.Context, jobID string) (reportapi.ArtifactURLResponse, error)
}

// Opener hands a download link to the platform (browser tab, external viewer).
type Opener interface {
	Open(ctx context.Context, url string) error
}

type OpenerFunc func(ctx context.Context, url string) error

func (f OpenerFunc) Open(ctx context.Context, url string) error {
	return f(ctx, url)
}

// Resolver turns a COMPLETED job into an Artifact.
type Resolver struct {
	fetcher ArtifactFetcher
	mode    Mode
	opener  Opener
}

func NewResolver(fetcher ArtifactFetcher, mode Mode, opener Opener) *Resolver {
	if mode == "" {
		mode = ModeDownload
	}
	return &Resolver{fetcher: fetcher, mode: mode, opener: opener}
}

func (r *Resolver) Resolve(ctx context.Context, jobID, reportKind string) (Artifact, error) {
	switch r.mode {
	case ModeURL:
		return r.resolveURL(ctx, jobID, reportKind)
	default:
		return r.resolveDownload(ctx, jobID, reportKind)
	}
}

func (r *Resolver) resolveDownload(ctx context.Context, jobID, reportKind string) (Artifact, error) {
	download, err := r.fetcher.DownloadArtifact(ctx, jobID)
	if err != nil {
		return Artifact{}, r.retrievalError(jobID, err)
	}
	return Artifact{
		JobID:       jobID,
		ReportKind:  reportKind,
		Kind:        ArtifactData,
		Data:        download.Data,
		ContentType: download.ContentType,
		Filename:    download.Filename,
	}, nil
}

func (r *Resolver) resolveURL(ctx context.Context, jobID, reportKind string) (Artifact, error) {
	grant, err := r.fetcher.ArtifactURL(ctx, jobID)
	if err != nil {
		return Artifact{}, r.retrievalError(jobID, err)
	}
	if r.opener != nil {
		if err := r.opener.Open(ctx, grant.URL); err != nil {
			return Artifact{}, r.retrievalError(jobID, err)
		}
	}
	return Artifact{
		JobID:      jobID,
		ReportKind: reportKind,
		Kind:       ArtifactURL,
		URL:        grant.URL,
		ExpiresAt:  grant.ExpiresAt,
	}, nil
}

func (r *Resolver) retrievalError(jobID string, err error) error {
	return &RetrievalError{
		JobID:      jobID,
		Mode:       r.mode,
		StatusCode: statusCodeOf(err),
		Err:        err,
	}
}
