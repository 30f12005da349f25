package service

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/caio/repoinsight-back/internal/domain"
	"github.com/caio/repoinsight-back/internal/repository"
)

type countingProducer struct {
	mu       sync.Mutex
	messages []domain.QueueMessage
}

func (p *countingProducer) Enqueue(_ context.Context, message domain.QueueMessage) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.messages = append(p.messages, message)
	return nil
}

func TestEnqueueIngestDedupesActiveJobs(t *testing.T) {
	repo := repository.NewMemoryJobsRepository()
	producer := &countingProducer{}
	jobs := NewJobsService(repo, producer)
	ctx := context.Background()

	first, err := jobs.EnqueueIngest(ctx, "tenant-a", domain.IngestPayload{Repo: "acme/widgets"})
	if err != nil {
		t.Fatalf("first enqueue: %v", err)
	}
	second, err := jobs.EnqueueIngest(ctx, "tenant-a", domain.IngestPayload{Repo: "acme/widgets"})
	if err != nil {
		t.Fatalf("second enqueue: %v", err)
	}
	if second.ID != first.ID {
		t.Fatalf("expected the active job back, got %s and %s", first.ID, second.ID)
	}
	if len(producer.messages) != 1 {
		t.Fatalf("duplicate enqueue reached the queue: %d messages", len(producer.messages))
	}

	// A different repo is independent work.
	other, err := jobs.EnqueueIngest(ctx, "tenant-a", domain.IngestPayload{Repo: "acme/gadgets"})
	if err != nil {
		t.Fatalf("other repo enqueue: %v", err)
	}
	if other.ID == first.ID {
		t.Fatalf("distinct repos must not share jobs")
	}
}

func TestEnqueueIngestConcurrentSubmissionsCreateOneJob(t *testing.T) {
	repo := repository.NewMemoryJobsRepository()
	producer := &countingProducer{}
	jobs := NewJobsService(repo, producer)
	ctx := context.Background()

	const submitters = 16
	start := make(chan struct{})
	ids := make(chan string, submitters)
	var wg sync.WaitGroup
	for i := 0; i < submitters; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			<-start
			job, err := jobs.EnqueueIngest(ctx, "tenant-a", domain.IngestPayload{Repo: "acme/widgets"})
			if err != nil {
				t.Errorf("enqueue: %v", err)
				return
			}
			ids <- job.ID
		}()
	}
	close(start)
	wg.Wait()
	close(ids)

	seen := make(map[string]struct{})
	for id := range ids {
		seen[id] = struct{}{}
	}
	if len(seen) != 1 {
		t.Fatalf("concurrent submissions created %d distinct jobs", len(seen))
	}
	_, total, err := repo.ListJobs(ctx, domain.JobListFilter{TenantID: "tenant-a"})
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if total != 1 {
		t.Fatalf("expected exactly one stored job, got %d", total)
	}
	if len(producer.messages) != 1 {
		t.Fatalf("expected one queue message, got %d", len(producer.messages))
	}
}

func TestEnqueueIngestAfterCompletionCreatesNewJob(t *testing.T) {
	repo := repository.NewMemoryJobsRepository()
	producer := &countingProducer{}
	jobs := NewJobsService(repo, producer)
	ctx := context.Background()

	first, err := jobs.EnqueueIngest(ctx, "tenant-a", domain.IngestPayload{Repo: "acme/widgets"})
	if err != nil {
		t.Fatalf("enqueue: %v", err)
	}

	first.Status = domain.JobStatusSucceeded
	first.UpdatedAt = time.Now().UTC()
	if err := repo.UpdateJob(ctx, first); err != nil {
		t.Fatalf("complete job: %v", err)
	}

	next, err := jobs.EnqueueIngest(ctx, "tenant-a", domain.IngestPayload{Repo: "acme/widgets"})
	if err != nil {
		t.Fatalf("re-enqueue: %v", err)
	}
	if next.ID == first.ID {
		t.Fatalf("terminal job must release its idempotency key")
	}
}

func TestEnqueueReportKeyCoversWindow(t *testing.T) {
	repo := repository.NewMemoryJobsRepository()
	producer := &countingProducer{}
	jobs := NewJobsService(repo, producer)
	ctx := context.Background()

	start := time.Date(2026, 8, 1, 0, 0, 0, 0, time.UTC)
	end := start.AddDate(0, 0, 7)

	first, err := jobs.EnqueueReport(ctx, "tenant-a", domain.ReportPayload{
		Repo: "acme/widgets", WindowStart: start, WindowEnd: end,
	})
	if err != nil {
		t.Fatalf("enqueue: %v", err)
	}
	same, err := jobs.EnqueueReport(ctx, "tenant-a", domain.ReportPayload{
		Repo: "acme/widgets", WindowStart: start, WindowEnd: end,
	})
	if err != nil {
		t.Fatalf("enqueue same window: %v", err)
	}
	if same.ID != first.ID {
		t.Fatalf("same window must dedupe")
	}

	shifted, err := jobs.EnqueueReport(ctx, "tenant-a", domain.ReportPayload{
		Repo: "acme/widgets", WindowStart: start.AddDate(0, 0, 7), WindowEnd: end.AddDate(0, 0, 7),
	})
	if err != nil {
		t.Fatalf("enqueue shifted window: %v", err)
	}
	if shifted.ID == first.ID {
		t.Fatalf("different windows must not dedupe")
	}
}
