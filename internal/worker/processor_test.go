package worker

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/caio/repoinsight-back/internal/domain"
	"github.com/caio/repoinsight-back/internal/ingest"
	"github.com/caio/repoinsight-back/internal/report"
	"github.com/caio/repoinsight-back/internal/repository"
)

type stubIngester struct {
	calls int
	err   error
}

func (s *stubIngester) Sync(_ context.Context, _ string, repo string, _ bool) (ingest.SyncResult, error) {
	s.calls++
	return ingest.SyncResult{Repo: repo}, s.err
}

type stubReporter struct {
	calls int
	err   error
}

func (s *stubReporter) Run(_ context.Context, _ string, payload domain.ReportPayload) (report.Document, error) {
	s.calls++
	return report.Document{Repo: payload.Repo, Title: "weekly"}, s.err
}

func seedJob(t *testing.T, repo *repository.MemoryJobsRepository, kind domain.JobKind) *domain.Job {
	t.Helper()
	payload, _ := json.Marshal(domain.IngestPayload{Repo: "acme/widgets"})
	if kind == domain.JobKindReport {
		payload, _ = json.Marshal(domain.ReportPayload{
			Repo:        "acme/widgets",
			WindowStart: time.Now().UTC().Add(-24 * time.Hour),
			WindowEnd:   time.Now().UTC(),
		})
	}
	job := &domain.Job{
		ID:             "job-" + string(kind),
		Kind:           kind,
		TenantID:       "tenant-a",
		IdempotencyKey: string(kind) + "|tenant-a|acme/widgets",
		Payload:        payload,
		Status:         domain.JobStatusPending,
		EnqueuedAt:     time.Now().UTC(),
	}
	if _, _, err := repo.CreateJob(context.Background(), job); err != nil {
		t.Fatalf("seed job: %v", err)
	}
	return job
}

func messageFor(job *domain.Job, attempt int) domain.QueueMessage {
	return domain.QueueMessage{
		JobID:          job.ID,
		Kind:           job.Kind,
		TenantID:       job.TenantID,
		IdempotencyKey: job.IdempotencyKey,
		Payload:        job.Payload,
		Attempt:        attempt,
	}
}

func TestProcessMessageMarksIngestSucceeded(t *testing.T) {
	repo := repository.NewMemoryJobsRepository()
	ingester := &stubIngester{}
	processor := NewProcessor(nil, repo, ingester, &stubReporter{}, 3, nil)
	job := seedJob(t, repo, domain.JobKindIngest)

	if err := processor.ProcessMessage(context.Background(), messageFor(job, 0)); err != nil {
		t.Fatalf("process: %v", err)
	}

	stored, err := repo.GetJob(context.Background(), job.ID)
	if err != nil {
		t.Fatalf("get job: %v", err)
	}
	if stored.Status != domain.JobStatusSucceeded {
		t.Fatalf("expected succeeded, got %q", stored.Status)
	}
	if stored.Attempts != 1 {
		t.Fatalf("expected 1 attempt recorded, got %d", stored.Attempts)
	}
	if ingester.calls != 1 {
		t.Fatalf("expected one sync call, got %d", ingester.calls)
	}
}

func TestProcessMessageFailureSetsRetryingThenDeadLetters(t *testing.T) {
	repo := repository.NewMemoryJobsRepository()
	reporter := &stubReporter{err: errors.New("upstream unavailable")}
	processor := NewProcessor(nil, repo, &stubIngester{}, reporter, 3, nil)
	job := seedJob(t, repo, domain.JobKindReport)

	if err := processor.ProcessMessage(context.Background(), messageFor(job, 0)); err == nil {
		t.Fatalf("expected error returned for redelivery")
	}
	stored, _ := repo.GetJob(context.Background(), job.ID)
	if stored.Status != domain.JobStatusRetrying {
		t.Fatalf("expected retrying after first failure, got %q", stored.Status)
	}
	if stored.LastError == "" {
		t.Fatalf("expected last error recorded")
	}

	if err := processor.ProcessMessage(context.Background(), messageFor(job, 1)); err == nil {
		t.Fatalf("expected error on second failure")
	}
	if err := processor.ProcessMessage(context.Background(), messageFor(job, 2)); err == nil {
		t.Fatalf("expected error on final failure")
	}

	stored, _ = repo.GetJob(context.Background(), job.ID)
	if stored.Status != domain.JobStatusDeadLettered {
		t.Fatalf("expected dead_lettered after exhausting attempts, got %q", stored.Status)
	}
	if stored.Attempts != 3 {
		t.Fatalf("expected 3 attempts, got %d", stored.Attempts)
	}
}

func TestProcessMessageSkipsTerminalJob(t *testing.T) {
	repo := repository.NewMemoryJobsRepository()
	ingester := &stubIngester{}
	processor := NewProcessor(nil, repo, ingester, &stubReporter{}, 3, nil)
	job := seedJob(t, repo, domain.JobKindIngest)

	job.Status = domain.JobStatusSucceeded
	if err := repo.UpdateJob(context.Background(), job); err != nil {
		t.Fatalf("update job: %v", err)
	}

	if err := processor.ProcessMessage(context.Background(), messageFor(job, 1)); err != nil {
		t.Fatalf("redelivery of terminal job must be dropped quietly: %v", err)
	}
	if ingester.calls != 0 {
		t.Fatalf("expected no sync for terminal job, got %d calls", ingester.calls)
	}
}

func TestProcessMessageRejectsUnknownKind(t *testing.T) {
	repo := repository.NewMemoryJobsRepository()
	processor := NewProcessor(nil, repo, &stubIngester{}, &stubReporter{}, 1, nil)
	job := seedJob(t, repo, domain.JobKindIngest)
	job.Kind = "export"
	if err := repo.UpdateJob(context.Background(), job); err != nil {
		t.Fatalf("update job: %v", err)
	}

	message := messageFor(job, 0)
	message.Kind = "export"
	if err := processor.ProcessMessage(context.Background(), message); err == nil {
		t.Fatalf("expected unsupported kind error")
	}
	stored, _ := repo.GetJob(context.Background(), job.ID)
	if stored.Status != domain.JobStatusDeadLettered {
		t.Fatalf("expected unknown kind dead-lettered at max attempts, got %q", stored.Status)
	}
}
