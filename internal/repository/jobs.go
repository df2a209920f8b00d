package repository

import (
	"context"
	"errors"
	"sort"
	"sync"

	"github.com/iago/fleet-reports/internal/domain"
)

var ErrNotFound = errors.New("resource not found")

// JobsRepository abstracts report job persistence and query operations.
type JobsRepository interface {
	CreateJob(ctx context.Context, job *domain.ReportJob) error
	UpdateJob(ctx context.Context, job *domain.ReportJob) error
	GetJob(ctx context.Context, jobID string) (*domain.ReportJob, error)
	ListJobs(ctx context.Context, filter domain.JobListFilter) ([]domain.ReportJob, int, error)
}

// MemoryJobsRepository stores jobs in memory for local development.
type MemoryJobsRepository struct {
	mu   sync.RWMutex
	jobs map[string]*domain.ReportJob
}

func NewMemoryJobsRepository() *MemoryJobsRepository {
	return &MemoryJobsRepository{
		jobs: make(map[string]*domain.ReportJob),
	}
}

func (r *MemoryJobsRepository) CreateJob(_ context.Context, job *domain.ReportJob) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.jobs[job.ID] = cloneJob(job)
	return nil
}

func (r *MemoryJobsRepository) UpdateJob(_ context.Context, job *domain.ReportJob) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.jobs[job.ID]; !ok {
		return ErrNotFound
	}
	r.jobs[job.ID] = cloneJob(job)
	return nil
}

func (r *MemoryJobsRepository) GetJob(_ context.Context, jobID string) (*domain.ReportJob, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	job, ok := r.jobs[jobID]
	if !ok {
		return nil, ErrNotFound
	}
	return cloneJob(job), nil
}

func (r *MemoryJobsRepository) ListJobs(
	_ context.Context,
	filter domain.JobListFilter,
) ([]domain.ReportJob, int, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	filter = normalizeFilter(filter)

	items := make([]domain.ReportJob, 0)
	for _, job := range r.jobs {
		if filter.ReportKind != "" && job.ReportKind != filter.ReportKind {
			continue
		}
		if filter.Status != "" && job.Status != filter.Status {
			continue
		}
		if filter.From != nil && job.CreatedAt.Before(*filter.From) {
			continue
		}
		if filter.To != nil && job.CreatedAt.After(*filter.To) {
			continue
		}
		items = append(items, *cloneJob(job))
	}

	sort.Slice(items, func(i, j int) bool {
		return items[i].CreatedAt.After(items[j].CreatedAt)
	})

	total := len(items)
	start := (filter.Page - 1) * filter.PageSize
	if start >= total {
		return []domain.ReportJob{}, total, nil
	}
	end := start + filter.PageSize
	if end > total {
		end = total
	}

	return items[start:end], total, nil
}

func normalizeFilter(filter domain.JobListFilter) domain.JobListFilter {
	if filter.Page <= 0 {
		filter.Page = 1
	}
	if filter.PageSize <= 0 {
		filter.PageSize = 20
	}
	return filter
}

func cloneJob(job *domain.ReportJob) *domain.ReportJob {
	if job == nil {
		return nil
	}
	clone := *job
	if job.Scope != nil {
		clone.Scope = make(map[string]string, len(job.Scope))
		for key, value := range job.Scope {
			clone.Scope[key] = value
		}
	}
	return &clone
}
