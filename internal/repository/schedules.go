package repository

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/caio/repoinsight-back/internal/domain"
)

// SchedulesRepository abstracts schedule persistence. ClaimAndAdvance is
// the concurrency primitive behind exactly-once firing: it moves
// NextFireAt from its expected value to the next one atomically, so of
// any number of engines racing on a due window only one wins.
type SchedulesRepository interface {
	CreateSchedule(ctx context.Context, schedule *domain.Schedule) error
	GetSchedule(ctx context.Context, scheduleID string) (*domain.Schedule, error)
	ListSchedules(ctx context.Context, tenantID string) ([]domain.Schedule, error)
	// DueSchedules returns active schedules whose NextFireAt is at or
	// before now.
	DueSchedules(ctx context.Context, now time.Time) ([]domain.Schedule, error)
	// ClaimAndAdvance moves the schedule from expectedFireAt to
	// nextFireAt, deactivating it when deactivate is set. It returns
	// domain.ErrScheduleConflict when NextFireAt no longer equals
	// expectedFireAt, meaning another instance claimed the window.
	ClaimAndAdvance(ctx context.Context, scheduleID string, expectedFireAt, nextFireAt time.Time, deactivate bool) error
	DeactivateSchedule(ctx context.Context, scheduleID string) error
}

// MemorySchedulesRepository stores schedules in memory for local
// development and tests.
type MemorySchedulesRepository struct {
	mu        sync.Mutex
	schedules map[string]*domain.Schedule
}

func NewMemorySchedulesRepository() *MemorySchedulesRepository {
	return &MemorySchedulesRepository{
		schedules: make(map[string]*domain.Schedule),
	}
}

func (r *MemorySchedulesRepository) CreateSchedule(_ context.Context, schedule *domain.Schedule) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.schedules[schedule.ID] = cloneSchedule(schedule)
	return nil
}

func (r *MemorySchedulesRepository) GetSchedule(_ context.Context, scheduleID string) (*domain.Schedule, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	schedule, ok := r.schedules[scheduleID]
	if !ok {
		return nil, ErrNotFound
	}
	return cloneSchedule(schedule), nil
}

func (r *MemorySchedulesRepository) ListSchedules(_ context.Context, tenantID string) ([]domain.Schedule, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	items := make([]domain.Schedule, 0)
	for _, schedule := range r.schedules {
		if tenantID != "" && schedule.TenantID != tenantID {
			continue
		}
		items = append(items, *cloneSchedule(schedule))
	}
	sort.Slice(items, func(i, j int) bool {
		return items[i].CreatedAt.Before(items[j].CreatedAt)
	})
	return items, nil
}

func (r *MemorySchedulesRepository) DueSchedules(_ context.Context, now time.Time) ([]domain.Schedule, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	due := make([]domain.Schedule, 0)
	for _, schedule := range r.schedules {
		if !schedule.Active {
			continue
		}
		if schedule.NextFireAt.After(now) {
			continue
		}
		due = append(due, *cloneSchedule(schedule))
	}
	sort.Slice(due, func(i, j int) bool {
		return due[i].NextFireAt.Before(due[j].NextFireAt)
	})
	return due, nil
}

func (r *MemorySchedulesRepository) ClaimAndAdvance(
	_ context.Context,
	scheduleID string,
	expectedFireAt, nextFireAt time.Time,
	deactivate bool,
) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	schedule, ok := r.schedules[scheduleID]
	if !ok {
		return ErrNotFound
	}
	if !schedule.Active || !schedule.NextFireAt.Equal(expectedFireAt) {
		return domain.ErrScheduleConflict
	}
	schedule.NextFireAt = nextFireAt
	if deactivate {
		schedule.Active = false
	}
	schedule.UpdatedAt = time.Now().UTC()
	return nil
}

func (r *MemorySchedulesRepository) DeactivateSchedule(_ context.Context, scheduleID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	schedule, ok := r.schedules[scheduleID]
	if !ok {
		return ErrNotFound
	}
	schedule.Active = false
	schedule.UpdatedAt = time.Now().UTC()
	return nil
}

func cloneSchedule(schedule *domain.Schedule) *domain.Schedule {
	if schedule == nil {
		return nil
	}
	clone := *schedule
	return &clone
}
