package repository

import (
	"context"
	"fmt"
	"time"

	"github.com/caio/repoinsight-back/internal/domain"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// PostgresSchedulesRepository persists schedules in the schedules
// table. The claim in ClaimAndAdvance is a conditional UPDATE on
// next_fire_at, so concurrent engine instances serialize on the row
// without advisory locks.
type PostgresSchedulesRepository struct {
	pool *pgxpool.Pool
}

func NewPostgresSchedulesRepository(ctx context.Context, databaseURL string) (*PostgresSchedulesRepository, error) {
	pool, err := pgxpool.New(ctx, databaseURL)
	if err != nil {
		return nil, fmt.Errorf("create pg pool: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping pg: %w", err)
	}
	return &PostgresSchedulesRepository{pool: pool}, nil
}

func (r *PostgresSchedulesRepository) Close() {
	r.pool.Close()
}

func (r *PostgresSchedulesRepository) CreateSchedule(ctx context.Context, schedule *domain.Schedule) error {
	_, err := r.pool.Exec(ctx, `
		INSERT INTO schedules (
			id,
			tenant_id,
			repo,
			prompt,
			frequency,
			window_start,
			window_end,
			timezone,
			active,
			next_fire_at,
			created_at,
			updated_at
		) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12)
	`,
		schedule.ID,
		schedule.TenantID,
		schedule.Repo,
		schedule.Prompt,
		string(schedule.Frequency),
		schedule.WindowStart,
		schedule.WindowEnd,
		schedule.Timezone,
		schedule.Active,
		schedule.NextFireAt,
		schedule.CreatedAt,
		schedule.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("insert schedule: %w", err)
	}
	return nil
}

func (r *PostgresSchedulesRepository) GetSchedule(ctx context.Context, scheduleID string) (*domain.Schedule, error) {
	row := r.pool.QueryRow(ctx, selectScheduleColumns+` WHERE id = $1`, scheduleID)
	return scanSchedule(row)
}

func (r *PostgresSchedulesRepository) ListSchedules(ctx context.Context, tenantID string) ([]domain.Schedule, error) {
	rows, err := r.pool.Query(ctx, selectScheduleColumns+`
		WHERE ($1 = '' OR tenant_id = $1)
		ORDER BY created_at
	`, tenantID)
	if err != nil {
		return nil, fmt.Errorf("list schedules: %w", err)
	}
	defer rows.Close()
	return collectSchedules(rows)
}

func (r *PostgresSchedulesRepository) DueSchedules(ctx context.Context, now time.Time) ([]domain.Schedule, error) {
	rows, err := r.pool.Query(ctx, selectScheduleColumns+`
		WHERE active AND next_fire_at <= $1
		ORDER BY next_fire_at
	`, now)
	if err != nil {
		return nil, fmt.Errorf("due schedules: %w", err)
	}
	defer rows.Close()
	return collectSchedules(rows)
}

func (r *PostgresSchedulesRepository) ClaimAndAdvance(
	ctx context.Context,
	scheduleID string,
	expectedFireAt, nextFireAt time.Time,
	deactivate bool,
) error {
	command, err := r.pool.Exec(ctx, `
		UPDATE schedules
		SET next_fire_at = $3,
			active = active AND NOT $4,
			updated_at = now()
		WHERE id = $1
		  AND active
		  AND next_fire_at = $2
	`, scheduleID, expectedFireAt, nextFireAt, deactivate)
	if err != nil {
		return fmt.Errorf("claim schedule: %w", err)
	}
	if command.RowsAffected() == 0 {
		return domain.ErrScheduleConflict
	}
	return nil
}

func (r *PostgresSchedulesRepository) DeactivateSchedule(ctx context.Context, scheduleID string) error {
	command, err := r.pool.Exec(ctx, `
		UPDATE schedules SET active = false, updated_at = now() WHERE id = $1
	`, scheduleID)
	if err != nil {
		return fmt.Errorf("deactivate schedule: %w", err)
	}
	if command.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

const selectScheduleColumns = `
	SELECT id, tenant_id, repo, prompt, frequency, window_start, window_end,
		timezone, active, next_fire_at, created_at, updated_at
	FROM schedules`

func scanSchedule(row pgx.Row) (*domain.Schedule, error) {
	var (
		schedule  domain.Schedule
		frequency string
	)
	err := row.Scan(
		&schedule.ID,
		&schedule.TenantID,
		&schedule.Repo,
		&schedule.Prompt,
		&frequency,
		&schedule.WindowStart,
		&schedule.WindowEnd,
		&schedule.Timezone,
		&schedule.Active,
		&schedule.NextFireAt,
		&schedule.CreatedAt,
		&schedule.UpdatedAt,
	)
	if err != nil {
		if err == pgx.ErrNoRows {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("query schedule: %w", err)
	}
	schedule.Frequency = domain.Frequency(frequency)
	return &schedule, nil
}

func collectSchedules(rows pgx.Rows) ([]domain.Schedule, error) {
	items := make([]domain.Schedule, 0)
	for rows.Next() {
		schedule, err := scanSchedule(rows)
		if err != nil {
			return nil, fmt.Errorf("scan schedule: %w", err)
		}
		items = append(items, *schedule)
	}
	if rows.Err() != nil {
		return nil, fmt.Errorf("iterate schedules: %w", rows.Err())
	}
	return items, nil
}
