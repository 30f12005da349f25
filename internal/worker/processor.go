// Package worker consumes queue jobs and persists their status
// transitions. The queue backend owns redelivery and dead-letter
// movement; the processor mirrors those decisions into the jobs table
// so callers can observe pending, running, retrying and dead_lettered
// states.
package worker

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"time"

	"github.com/caio/repoinsight-back/internal/domain"
	"github.com/caio/repoinsight-back/internal/ingest"
	"github.com/caio/repoinsight-back/internal/queue"
	"github.com/caio/repoinsight-back/internal/report"
	"github.com/caio/repoinsight-back/internal/repository"
)

// IngestRunner executes one repository sync.
type IngestRunner interface {
	Sync(ctx context.Context, tenantID, repo string, fullResync bool) (ingest.SyncResult, error)
}

// ReportRunner assembles and delivers one report.
type ReportRunner interface {
	Run(ctx context.Context, tenantID string, payload domain.ReportPayload) (report.Document, error)
}

type Processor struct {
	consumer    queue.Consumer
	repo        repository.JobsRepository
	ingester    IngestRunner
	reporter    ReportRunner
	maxAttempts int
	logger      *log.Logger
}

func NewProcessor(
	consumer queue.Consumer,
	repo repository.JobsRepository,
	ingester IngestRunner,
	reporter ReportRunner,
	maxAttempts int,
	logger *log.Logger,
) *Processor {
	if maxAttempts <= 0 {
		maxAttempts = 3
	}
	return &Processor{
		consumer:    consumer,
		repo:        repo,
		ingester:    ingester,
		reporter:    reporter,
		maxAttempts: maxAttempts,
		logger:      logger,
	}
}

func (p *Processor) Start(ctx context.Context) {
	for {
		if ctx.Err() != nil {
			return
		}

		err := p.consumer.Consume(ctx, p.ProcessMessage)
		if err == nil || ctx.Err() != nil {
			return
		}
		p.logf("worker consume loop error: %v", err)

		timer := time.NewTimer(2 * time.Second)
		select {
		case <-ctx.Done():
			timer.Stop()
			return
		case <-timer.C:
		}
	}
}

// ProcessMessage handles one delivery. Returning an error tells the
// queue backend to redeliver or dead-letter the message; the matching
// job status is persisted here first so the two never disagree for
// long.
func (p *Processor) ProcessMessage(ctx context.Context, message domain.QueueMessage) error {
	job, err := p.repo.GetJob(ctx, message.JobID)
	if err != nil {
		return fmt.Errorf("load job %s: %w", message.JobID, err)
	}
	if job.Status.Terminal() {
		p.logf("skipping redelivery of terminal job job_id=%s status=%s", job.ID, job.Status)
		return nil
	}

	job.Status = domain.JobStatusRunning
	job.Attempts = message.Attempt + 1
	job.UpdatedAt = time.Now().UTC()
	if err := p.repo.UpdateJob(ctx, job); err != nil {
		return fmt.Errorf("mark running: %w", err)
	}

	processErr := p.runJob(ctx, job.Kind, message)
	if processErr != nil {
		job.LastError = processErr.Error()
		job.UpdatedAt = time.Now().UTC()
		if message.Attempt+1 >= p.maxAttempts {
			job.Status = domain.JobStatusDeadLettered
			p.logf("job dead lettered kind=%s job_id=%s attempts=%d err=%v",
				job.Kind, job.ID, job.Attempts, processErr)
		} else {
			job.Status = domain.JobStatusRetrying
		}
		if err := p.repo.UpdateJob(ctx, job); err != nil {
			p.logf("persist failure status job_id=%s: %v", job.ID, err)
		}
		return processErr
	}

	job.Status = domain.JobStatusSucceeded
	job.LastError = ""
	job.UpdatedAt = time.Now().UTC()
	if err := p.repo.UpdateJob(ctx, job); err != nil {
		return fmt.Errorf("mark succeeded: %w", err)
	}

	p.logf("job processed kind=%s job_id=%s attempts=%d", job.Kind, job.ID, job.Attempts)
	return nil
}

func (p *Processor) runJob(ctx context.Context, kind domain.JobKind, message domain.QueueMessage) error {
	switch kind {
	case domain.JobKindIngest:
		var payload domain.IngestPayload
		if err := json.Unmarshal(message.Payload, &payload); err != nil {
			return fmt.Errorf("decode ingest payload: %w", err)
		}
		result, err := p.ingester.Sync(ctx, message.TenantID, payload.Repo, payload.FullResync)
		if err != nil {
			return fmt.Errorf("sync %s: %w", payload.Repo, err)
		}
		p.logf("ingest finished repo=%s chunks=%d updated=%d deleted=%d",
			result.Repo, result.ChunksWritten, result.FilesUpdated, result.FilesDeleted)
		return nil
	case domain.JobKindReport:
		var payload domain.ReportPayload
		if err := json.Unmarshal(message.Payload, &payload); err != nil {
			return fmt.Errorf("decode report payload: %w", err)
		}
		document, err := p.reporter.Run(ctx, message.TenantID, payload)
		if err != nil {
			return fmt.Errorf("assemble report for %s: %w", payload.Repo, err)
		}
		p.logf("report finished repo=%s sections=%d", payload.Repo, len(document.Sections))
		return nil
	default:
		return fmt.Errorf("unsupported job kind: %s", kind)
	}
}

func (p *Processor) logf(format string, args ...any) {
	if p.logger != nil {
		p.logger.Printf(format, args...)
	}
}
