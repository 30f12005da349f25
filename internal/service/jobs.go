// Package service wires repositories and queue producers into the
// operations the router and scheduler call.
package service

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/caio/repoinsight-back/internal/domain"
	"github.com/caio/repoinsight-back/internal/queue"
	"github.com/caio/repoinsight-back/internal/repository"
	"github.com/google/uuid"
)

type JobsService struct {
	repo     repository.JobsRepository
	producer queue.Producer
}

func NewJobsService(repo repository.JobsRepository, producer queue.Producer) *JobsService {
	return &JobsService{repo: repo, producer: producer}
}

// EnqueueIngest enqueues a delta sync for one repository. The
// idempotency key collapses concurrent duplicates: while an ingest for
// the same tenant and repo is active, the existing job is returned.
func (s *JobsService) EnqueueIngest(
	ctx context.Context,
	tenantID string,
	payload domain.IngestPayload,
) (*domain.Job, error) {
	encoded, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("encode ingest payload: %w", err)
	}
	key := ingestKey(tenantID, payload.Repo)
	return s.enqueue(ctx, domain.JobKindIngest, tenantID, key, encoded)
}

// EnqueueReport enqueues a report job. The key covers the repo and
// window, so retrying a submission never yields two reports for the
// same window.
func (s *JobsService) EnqueueReport(
	ctx context.Context,
	tenantID string,
	payload domain.ReportPayload,
) (*domain.Job, error) {
	encoded, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("encode report payload: %w", err)
	}
	key := reportKey(tenantID, payload)
	return s.enqueue(ctx, domain.JobKindReport, tenantID, key, encoded)
}

func (s *JobsService) GetJob(ctx context.Context, jobID string) (*domain.Job, error) {
	return s.repo.GetJob(ctx, jobID)
}

func (s *JobsService) ListJobs(
	ctx context.Context,
	filter domain.JobListFilter,
) ([]domain.Job, int, error) {
	return s.repo.ListJobs(ctx, filter)
}

func (s *JobsService) enqueue(
	ctx context.Context,
	kind domain.JobKind,
	tenantID string,
	idempotencyKey string,
	payload json.RawMessage,
) (*domain.Job, error) {
	now := time.Now().UTC()
	job := &domain.Job{
		ID:             uuid.NewString(),
		Kind:           kind,
		TenantID:       tenantID,
		IdempotencyKey: idempotencyKey,
		Payload:        payload,
		Status:         domain.JobStatusPending,
		Attempts:       0,
		EnqueuedAt:     now,
		UpdatedAt:      now,
	}

	stored, inserted, err := s.repo.CreateJob(ctx, job)
	if err != nil {
		return nil, fmt.Errorf("create job: %w", err)
	}
	if !inserted {
		// An active job already holds the key; no new queue message.
		return stored, nil
	}
	job = stored

	message := domain.QueueMessage{
		JobID:          job.ID,
		Kind:           job.Kind,
		TenantID:       tenantID,
		IdempotencyKey: idempotencyKey,
		Payload:        payload,
		Attempt:        0,
		RequestedAt:    now,
	}

	if err := s.producer.Enqueue(ctx, message); err != nil {
		job.Status = domain.JobStatusFailed
		job.LastError = err.Error()
		job.UpdatedAt = time.Now().UTC()
		_ = s.repo.UpdateJob(ctx, job)
		return nil, fmt.Errorf("enqueue job: %w", err)
	}

	return job, nil
}

func ingestKey(tenantID, repo string) string {
	return fmt.Sprintf("ingest|%s|%s", tenantID, repo)
}

func reportKey(tenantID string, payload domain.ReportPayload) string {
	return fmt.Sprintf("report|%s|%s|%d|%d",
		tenantID,
		payload.Repo,
		payload.WindowStart.UTC().Unix(),
		payload.WindowEnd.UTC().Unix(),
	)
}
