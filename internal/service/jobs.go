package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"path"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/iago/fleet-reports/internal/blob"
	"github.com/iago/fleet-reports/internal/domain"
	"github.com/iago/fleet-reports/internal/linksign"
	"github.com/iago/fleet-reports/internal/queue"
	"github.com/iago/fleet-reports/internal/reportapi"
	"github.com/iago/fleet-reports/internal/repository"
)

var (
	ErrUnknownReportKind = errors.New("unknown report kind")
	ErrNotReady          = errors.New("report artifact is not ready")
	ErrLinkUnavailable   = errors.New("artifact links are not configured")
)

// Catalog reports which kinds the worker can render.
type Catalog interface {
	Supports(kind string) bool
	Kinds() []string
}

type Artifact struct {
	JobID       string
	Data        []byte
	ContentType string
	Filename    string
}

type Dependencies struct {
	Repo     repository.JobsRepository
	Producer queue.Producer
	Catalog  Catalog
	Blobs    blob.Store
	Links    *linksign.Signer
	Logger   *slog.Logger
}

type JobsService struct {
	repo     repository.JobsRepository
	producer queue.Producer
	catalog  Catalog
	blobs    blob.Store
	links    *linksign.Signer
	logger   *slog.Logger
	now      func() time.Time
}

func NewJobsService(deps Dependencies) *JobsService {
	logger := deps.Logger
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	return &JobsService{
		repo:     deps.Repo,
		producer: deps.Producer,
		catalog:  deps.Catalog,
		blobs:    deps.Blobs,
		links:    deps.Links,
		logger:   logger,
		now:      func() time.Time { return time.Now().UTC() },
	}
}

func (s *JobsService) Kinds() []string {
	return s.catalog.Kinds()
}

// Submit records a new job in STARTING and hands it to the queue. Scope is
// not interpreted here; a bad scope fails the job during rendering.
func (s *JobsService) Submit(ctx context.Context, kind string, scope map[string]string) (*domain.ReportJob, error) {
	kind = strings.TrimSpace(kind)
	if !s.catalog.Supports(kind) {
		return nil, fmt.Errorf("%w %q", ErrUnknownReportKind, kind)
	}

	now := s.now()
	job := &domain.ReportJob{
		ID:         uuid.NewString(),
		ReportKind: kind,
		Scope:      scope,
		Status:     domain.JobStatusStarting,
		CreatedAt:  now,
		UpdatedAt:  now,
	}
	if err := s.repo.CreateJob(ctx, job); err != nil {
		return nil, fmt.Errorf("create job: %w", err)
	}

	message := domain.QueueMessage{
		JobID:       job.ID,
		ReportKind:  job.ReportKind,
		Scope:       job.Scope,
		RequestedAt: now,
	}
	if err := s.producer.Enqueue(ctx, message); err != nil {
		job.Status = domain.JobStatusFailed
		job.Message = "could not queue report: " + err.Error()
		job.UpdatedAt = s.now()
		if updateErr := s.repo.UpdateJob(context.WithoutCancel(ctx), job); updateErr != nil {
			s.logger.Error("mark unqueued job failed", "job_id", job.ID, "error", updateErr)
		}
		return nil, fmt.Errorf("enqueue job: %w", err)
	}

	s.logger.Info("report job accepted", "job_id", job.ID, "report_kind", kind)
	return job, nil
}

func (s *JobsService) GetJob(ctx context.Context, jobID string) (*domain.ReportJob, error) {
	return s.repo.GetJob(ctx, jobID)
}

func (s *JobsService) ListJobs(ctx context.Context, filter domain.JobListFilter) ([]domain.ReportJob, int, error) {
	return s.repo.ListJobs(ctx, filter)
}

// OpenArtifact returns the rendered document of a completed job.
func (s *JobsService) OpenArtifact(ctx context.Context, jobID string) (Artifact, error) {
	job, err := s.completedJob(ctx, jobID)
	if err != nil {
		return Artifact{}, err
	}
	return s.load(ctx, job.ID, job.ArtifactKey, job.ArtifactFilename)
}

// ArtifactURL hands out a URL the caller can fetch without credentials:
// a presigned store URL when the store supports it, otherwise a signed
// link under baseURL.
func (s *JobsService) ArtifactURL(ctx context.Context, jobID, baseURL string) (reportapi.ArtifactURLResponse, error) {
	job, err := s.completedJob(ctx, jobID)
	if err != nil {
		return reportapi.ArtifactURLResponse{}, err
	}

	ttl := linksign.DefaultTTL
	if s.links != nil {
		ttl = s.links.TTL()
	}

	if presigner, ok := s.blobs.(blob.Presigner); ok {
		url, err := presigner.PresignGet(ctx, job.ArtifactKey, ttl)
		if err != nil {
			return reportapi.ArtifactURLResponse{}, fmt.Errorf("presign artifact: %w", err)
		}
		return reportapi.ArtifactURLResponse{URL: url, ExpiresAt: s.now().Add(ttl).Truncate(time.Second)}, nil
	}

	if s.links == nil {
		return reportapi.ArtifactURLResponse{}, ErrLinkUnavailable
	}
	token, expiresAt, err := s.links.Sign(job.ID, job.ArtifactKey)
	if err != nil {
		return reportapi.ArtifactURLResponse{}, err
	}
	return reportapi.ArtifactURLResponse{
		URL:       strings.TrimRight(baseURL, "/") + reportapi.DownloadPath(token),
		ExpiresAt: expiresAt,
	}, nil
}

// OpenDownload resolves a signed link back to the artifact it grants.
func (s *JobsService) OpenDownload(ctx context.Context, token string) (Artifact, error) {
	if s.links == nil {
		return Artifact{}, ErrLinkUnavailable
	}
	grant, err := s.links.Verify(token)
	if err != nil {
		return Artifact{}, err
	}
	return s.load(ctx, grant.JobID, grant.ArtifactKey, path.Base(grant.ArtifactKey))
}

func (s *JobsService) completedJob(ctx context.Context, jobID string) (*domain.ReportJob, error) {
	job, err := s.repo.GetJob(ctx, jobID)
	if err != nil {
		return nil, err
	}
	if !job.HasArtifact() {
		return nil, fmt.Errorf("%w: job %s is %s", ErrNotReady, job.ID, job.Status)
	}
	return job, nil
}

func (s *JobsService) load(ctx context.Context, jobID, key, filename string) (Artifact, error) {
	object, err := s.blobs.Get(ctx, key)
	if err != nil {
		return Artifact{}, fmt.Errorf("load artifact %s: %w", key, err)
	}
	return Artifact{
		JobID:       jobID,
		Data:        object.Data,
		ContentType: object.ContentType,
		Filename:    filename,
	}, nil
}

// ArtifactKey is where the worker stores a job's document.
func ArtifactKey(jobID, filename string) string {
	return "reports/" + jobID + "/" + filename
}
