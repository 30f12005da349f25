package repository

import (
	"context"
	"errors"
	"sort"
	"sync"

	"github.com/caio/repoinsight-back/internal/domain"
)

var ErrNotFound = errors.New("resource not found")

// JobsRepository abstracts job persistence and query operations.
type JobsRepository interface {
	// CreateJob inserts the job unless an active job already holds its
	// (tenant, idempotency key). It returns the stored job and whether
	// the insert happened; on a key collision the existing holder comes
	// back instead. Check and insert are one atomic step, so concurrent
	// submissions of the same key yield exactly one job.
	CreateJob(ctx context.Context, job *domain.Job) (*domain.Job, bool, error)
	UpdateJob(ctx context.Context, job *domain.Job) error
	GetJob(ctx context.Context, jobID string) (*domain.Job, error)
	// FindActiveJob returns the pending, running or retrying job holding
	// the idempotency key, or ErrNotFound when the key is free.
	FindActiveJob(ctx context.Context, tenantID, idempotencyKey string) (*domain.Job, error)
	ListJobs(ctx context.Context, filter domain.JobListFilter) ([]domain.Job, int, error)
}

// MemoryJobsRepository stores jobs in memory for local development.
type MemoryJobsRepository struct {
	mu   sync.RWMutex
	jobs map[string]*domain.Job
}

func NewMemoryJobsRepository() *MemoryJobsRepository {
	return &MemoryJobsRepository{
		jobs: make(map[string]*domain.Job),
	}
}

func (r *MemoryJobsRepository) CreateJob(_ context.Context, job *domain.Job) (*domain.Job, bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if job.IdempotencyKey != "" {
		for _, existing := range r.jobs {
			if existing.TenantID == job.TenantID &&
				existing.IdempotencyKey == job.IdempotencyKey &&
				existing.Status.Active() {
				return cloneJob(existing), false, nil
			}
		}
	}
	r.jobs[job.ID] = cloneJob(job)
	return cloneJob(job), true, nil
}

func (r *MemoryJobsRepository) UpdateJob(_ context.Context, job *domain.Job) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.jobs[job.ID]; !ok {
		return ErrNotFound
	}
	r.jobs[job.ID] = cloneJob(job)
	return nil
}

func (r *MemoryJobsRepository) GetJob(_ context.Context, jobID string) (*domain.Job, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	job, ok := r.jobs[jobID]
	if !ok {
		return nil, ErrNotFound
	}
	return cloneJob(job), nil
}

func (r *MemoryJobsRepository) FindActiveJob(_ context.Context, tenantID, idempotencyKey string) (*domain.Job, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	for _, job := range r.jobs {
		if job.TenantID != tenantID || job.IdempotencyKey != idempotencyKey {
			continue
		}
		if job.Status.Active() {
			return cloneJob(job), nil
		}
	}
	return nil, ErrNotFound
}

func (r *MemoryJobsRepository) ListJobs(
	_ context.Context,
	filter domain.JobListFilter,
) ([]domain.Job, int, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	if filter.Page <= 0 {
		filter.Page = 1
	}
	if filter.PageSize <= 0 {
		filter.PageSize = 20
	}

	items := make([]domain.Job, 0)
	for _, job := range r.jobs {
		if filter.TenantID != "" && job.TenantID != filter.TenantID {
			continue
		}
		if filter.Kind != "" && job.Kind != filter.Kind {
			continue
		}
		if filter.Status != "" && job.Status != filter.Status {
			continue
		}
		if filter.From != nil && job.EnqueuedAt.Before(*filter.From) {
			continue
		}
		if filter.To != nil && job.EnqueuedAt.After(*filter.To) {
			continue
		}
		items = append(items, *cloneJob(job))
	}

	sort.Slice(items, func(i, j int) bool {
		return items[i].EnqueuedAt.After(items[j].EnqueuedAt)
	})

	total := len(items)
	start := (filter.Page - 1) * filter.PageSize
	if start >= total {
		return []domain.Job{}, total, nil
	}
	end := start + filter.PageSize
	if end > total {
		end = total
	}
	return items[start:end], total, nil
}

func cloneJob(job *domain.Job) *domain.Job {
	if job == nil {
		return nil
	}
	clone := *job
	clone.Payload = append([]byte(nil), job.Payload...)
	return &clone
}
