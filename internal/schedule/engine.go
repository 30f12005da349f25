// Package schedule fires recurring report jobs. Engines are stateless
// and safe to run on several instances at once: each due window is
// claimed with an atomic advance of next_fire_at, so exactly one
// instance enqueues the job for a window no matter how many race on it.
package schedule

import (
	"context"
	"errors"
	"fmt"
	"log"
	"strings"
	"time"

	"github.com/caio/repoinsight-back/internal/domain"
	"github.com/caio/repoinsight-back/internal/repository"
	"github.com/google/uuid"
)

// CatchUpPolicy controls what happens to windows that passed while no
// engine was running.
type CatchUpPolicy string

const (
	// CatchUpOne fires one job for the most recent missed window and
	// then resumes the normal cadence.
	CatchUpOne CatchUpPolicy = "one"
	// CatchUpNone skips missed windows entirely.
	CatchUpNone CatchUpPolicy = "none"
)

// Enqueuer is the slice of the jobs service the engine needs. The
// ingest enqueue runs before each report so the report sees a fresh
// index; its idempotency key makes the extra call safe.
type Enqueuer interface {
	EnqueueIngest(ctx context.Context, tenantID string, payload domain.IngestPayload) (*domain.Job, error)
	EnqueueReport(ctx context.Context, tenantID string, payload domain.ReportPayload) (*domain.Job, error)
}

type EngineConfig struct {
	TickInterval time.Duration
	CatchUp      CatchUpPolicy
	// PreSync enqueues a delta sync for the repository ahead of each
	// scheduled report.
	PreSync bool
}

type Engine struct {
	repo   repository.SchedulesRepository
	jobs   Enqueuer
	config EngineConfig
	logger *log.Logger
}

func NewEngine(
	repo repository.SchedulesRepository,
	jobs Enqueuer,
	config EngineConfig,
	logger *log.Logger,
) *Engine {
	if config.TickInterval <= 0 {
		config.TickInterval = 30 * time.Second
	}
	if config.CatchUp == "" {
		config.CatchUp = CatchUpOne
	}
	return &Engine{
		repo:   repo,
		jobs:   jobs,
		config: config,
		logger: logger,
	}
}

// Create validates and registers a schedule. Invalid frequency, fire
// time or timezone yield a ValidationError and nothing is persisted.
func (e *Engine) Create(ctx context.Context, request domain.ScheduleRequest) (*domain.Schedule, error) {
	if err := ValidateFrequency(request.Frequency); err != nil {
		return nil, domain.NewValidationError(domain.IntentSchedule, "frequency", err.Error())
	}
	location, err := time.LoadLocation(strings.TrimSpace(request.Timezone))
	if err != nil {
		return nil, domain.NewValidationError(domain.IntentSchedule, "timezone", "is not a known IANA zone")
	}

	now := time.Now().UTC()
	firstFire, err := FirstOccurrence(request.FireAt, location, now)
	if err != nil {
		return nil, domain.NewValidationError(domain.IntentSchedule, "fire_at", err.Error())
	}

	schedule := &domain.Schedule{
		ID:         uuid.NewString(),
		TenantID:   request.TenantID,
		Repo:       request.Repo,
		Prompt:     request.Prompt,
		Frequency:  request.Frequency,
		Timezone:   location.String(),
		Active:     true,
		NextFireAt: firstFire,
		CreatedAt:  now,
		UpdatedAt:  now,
	}
	if err := e.repo.CreateSchedule(ctx, schedule); err != nil {
		return nil, fmt.Errorf("persist schedule: %w", err)
	}

	e.logf("schedule created id=%s repo=%s frequency=%s first_fire=%s",
		schedule.ID, schedule.Repo, schedule.Frequency, firstFire.Format(time.RFC3339))
	return schedule, nil
}

// Run ticks until ctx is cancelled.
func (e *Engine) Run(ctx context.Context) {
	ticker := time.NewTicker(e.config.TickInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := e.Tick(ctx, time.Now().UTC()); err != nil {
				e.logf("schedule tick error: %v", err)
			}
		}
	}
}

// Tick fires every due schedule once. Windows another instance claims
// between listing and claiming are skipped silently.
func (e *Engine) Tick(ctx context.Context, now time.Time) error {
	due, err := e.repo.DueSchedules(ctx, now)
	if err != nil {
		return fmt.Errorf("list due schedules: %w", err)
	}

	for _, schedule := range due {
		if err := ctx.Err(); err != nil {
			return err
		}
		if err := e.fire(ctx, schedule, now); err != nil {
			e.logf("fire schedule id=%s: %v", schedule.ID, err)
		}
	}
	return nil
}

func (e *Engine) fire(ctx context.Context, schedule domain.Schedule, now time.Time) error {
	if !schedule.WindowEnd.IsZero() && now.After(schedule.WindowEnd) {
		e.logf("schedule id=%s completed its validity window, deactivating", schedule.ID)
		return e.repo.DeactivateSchedule(ctx, schedule.ID)
	}

	location, err := time.LoadLocation(schedule.Timezone)
	if err != nil {
		location = time.UTC
	}

	fireAt := schedule.NextFireAt
	next := time.Time{}
	deactivate := schedule.Frequency == domain.FrequencyOnce
	missed := 0

	if !deactivate {
		next, err = NextOccurrence(schedule.Frequency, fireAt, location)
		if err != nil {
			// Unparseable frequency on a stored row. Deactivate instead
			// of failing every tick forever.
			e.logf("deactivating schedule id=%s with bad frequency %q", schedule.ID, schedule.Frequency)
			return e.repo.DeactivateSchedule(ctx, schedule.ID)
		}
		for !next.After(now) {
			fireAt = next
			next, err = NextOccurrence(schedule.Frequency, fireAt, location)
			if err != nil {
				return fmt.Errorf("advance past missed windows: %w", err)
			}
			missed++
		}
	}

	if err := e.repo.ClaimAndAdvance(ctx, schedule.ID, schedule.NextFireAt, next, deactivate); err != nil {
		if errors.Is(err, domain.ErrScheduleConflict) {
			return nil
		}
		return err
	}

	if missed > 0 && e.config.CatchUp == CatchUpNone {
		e.logf("skipped %d missed windows for schedule id=%s", missed, schedule.ID)
		return nil
	}
	if missed > 0 {
		e.logf("catching up most recent of %d missed windows for schedule id=%s", missed, schedule.ID)
	}

	windowStart, windowEnd := e.reportWindow(schedule, fireAt, next)

	if e.config.PreSync {
		if _, err := e.jobs.EnqueueIngest(ctx, schedule.TenantID, domain.IngestPayload{Repo: schedule.Repo}); err != nil {
			e.logf("pre-report sync enqueue failed for %s: %v", schedule.Repo, err)
		}
	}

	job, err := e.jobs.EnqueueReport(ctx, schedule.TenantID, domain.ReportPayload{
		Repo:        schedule.Repo,
		Prompt:      schedule.Prompt,
		WindowStart: windowStart,
		WindowEnd:   windowEnd,
		ScheduleID:  schedule.ID,
	})
	if err != nil {
		return fmt.Errorf("enqueue scheduled report: %w", err)
	}

	e.logf("schedule fired id=%s job_id=%s window=%s..%s",
		schedule.ID, job.ID,
		windowStart.Format(time.RFC3339), windowEnd.Format(time.RFC3339))
	return nil
}

// reportWindow derives the covered period from the fired occurrence:
// one cadence step back from the fire time. Once schedules have no
// cadence and default to the trailing week.
func (e *Engine) reportWindow(
	schedule domain.Schedule,
	fireAt, next time.Time,
) (time.Time, time.Time) {
	if schedule.Frequency == domain.FrequencyOnce || next.IsZero() {
		return fireAt.AddDate(0, 0, -7), fireAt
	}
	period := next.Sub(fireAt)
	return fireAt.Add(-period), fireAt
}

func (e *Engine) logf(format string, args ...any) {
	if e.logger != nil {
		e.logger.Printf(format, args...)
	}
}
