package repository

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/caio/repoinsight-back/internal/domain"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

type PostgresJobsRepository struct {
	pool *pgxpool.Pool
}

func NewPostgresJobsRepository(ctx context.Context, databaseURL string) (*PostgresJobsRepository, error) {
	pool, err := pgxpool.New(ctx, databaseURL)
	if err != nil {
		return nil, fmt.Errorf("create pg pool: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping pg: %w", err)
	}
	return &PostgresJobsRepository{pool: pool}, nil
}

func (r *PostgresJobsRepository) Close() {
	r.pool.Close()
}

// CreateJob relies on the partial unique index
// jobs_active_idempotency_key on (tenant_id, idempotency_key) WHERE
// status IN ('pending','running','retrying') to make the dedup check a
// single conditional insert.
func (r *PostgresJobsRepository) CreateJob(ctx context.Context, job *domain.Job) (*domain.Job, bool, error) {
	for attempt := 0; attempt < 3; attempt++ {
		command, err := r.pool.Exec(ctx, `
			INSERT INTO jobs (
				id,
				kind,
				tenant_id,
				idempotency_key,
				payload,
				status,
				last_error,
				attempts,
				enqueued_at,
				updated_at
			) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10)
			ON CONFLICT (tenant_id, idempotency_key)
				WHERE status IN ('pending', 'running', 'retrying')
				DO NOTHING
		`,
			job.ID,
			string(job.Kind),
			job.TenantID,
			job.IdempotencyKey,
			job.Payload,
			string(job.Status),
			job.LastError,
			job.Attempts,
			job.EnqueuedAt,
			job.UpdatedAt,
		)
		if err != nil {
			return nil, false, fmt.Errorf("insert job: %w", err)
		}
		if command.RowsAffected() > 0 {
			return cloneJobRow(job), true, nil
		}

		existing, err := r.FindActiveJob(ctx, job.TenantID, job.IdempotencyKey)
		if err == nil {
			return existing, false, nil
		}
		if !errors.Is(err, ErrNotFound) {
			return nil, false, err
		}
		// The conflicting holder finished between the insert and the
		// lookup; the key is free again, so try the insert once more.
	}
	return nil, false, fmt.Errorf("insert job: idempotency key %q kept flapping", job.IdempotencyKey)
}

func cloneJobRow(job *domain.Job) *domain.Job {
	clone := *job
	clone.Payload = append([]byte(nil), job.Payload...)
	return &clone
}

func (r *PostgresJobsRepository) UpdateJob(ctx context.Context, job *domain.Job) error {
	command, err := r.pool.Exec(ctx, `
		UPDATE jobs
		SET status = $2,
			last_error = $3,
			attempts = $4,
			updated_at = $5
		WHERE id = $1
	`, job.ID, string(job.Status), job.LastError, job.Attempts, job.UpdatedAt)
	if err != nil {
		return fmt.Errorf("update job: %w", err)
	}
	if command.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (r *PostgresJobsRepository) GetJob(ctx context.Context, jobID string) (*domain.Job, error) {
	row := r.pool.QueryRow(ctx, selectJobColumns+` WHERE id = $1`, jobID)
	return scanJob(row)
}

func (r *PostgresJobsRepository) FindActiveJob(ctx context.Context, tenantID, idempotencyKey string) (*domain.Job, error) {
	row := r.pool.QueryRow(ctx, selectJobColumns+`
		WHERE tenant_id = $1
		  AND idempotency_key = $2
		  AND status IN ('pending', 'running', 'retrying')
		ORDER BY enqueued_at DESC
		LIMIT 1
	`, tenantID, idempotencyKey)
	return scanJob(row)
}

func (r *PostgresJobsRepository) ListJobs(
	ctx context.Context,
	filter domain.JobListFilter,
) ([]domain.Job, int, error) {
	if filter.Page <= 0 {
		filter.Page = 1
	}
	if filter.PageSize <= 0 {
		filter.PageSize = 20
	}

	baseQuery, args := buildJobFilters(filter)

	var total int
	if err := r.pool.QueryRow(ctx, "SELECT COUNT(*) "+baseQuery, args...).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("count jobs: %w", err)
	}

	listQuery := fmt.Sprintf(
		`SELECT id, kind, tenant_id, idempotency_key, payload, status, last_error, attempts, enqueued_at, updated_at
		%s
		ORDER BY enqueued_at DESC
		LIMIT $%d OFFSET $%d`,
		baseQuery,
		len(args)+1,
		len(args)+2,
	)
	listArgs := append(args, filter.PageSize, (filter.Page-1)*filter.PageSize)
	rows, err := r.pool.Query(ctx, listQuery, listArgs...)
	if err != nil {
		return nil, 0, fmt.Errorf("list jobs: %w", err)
	}
	defer rows.Close()

	items := make([]domain.Job, 0)
	for rows.Next() {
		job, err := scanJob(rows)
		if err != nil {
			return nil, 0, fmt.Errorf("scan job: %w", err)
		}
		items = append(items, *job)
	}
	if rows.Err() != nil {
		return nil, 0, fmt.Errorf("iterate jobs: %w", rows.Err())
	}
	return items, total, nil
}

const selectJobColumns = `
	SELECT id, kind, tenant_id, idempotency_key, payload, status, last_error, attempts, enqueued_at, updated_at
	FROM jobs`

func scanJob(row pgx.Row) (*domain.Job, error) {
	var (
		job        domain.Job
		kind       string
		status     string
		payload    []byte
		enqueuedAt time.Time
		updatedAt  time.Time
	)
	err := row.Scan(
		&job.ID,
		&kind,
		&job.TenantID,
		&job.IdempotencyKey,
		&payload,
		&status,
		&job.LastError,
		&job.Attempts,
		&enqueuedAt,
		&updatedAt,
	)
	if err != nil {
		if err == pgx.ErrNoRows {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("query job: %w", err)
	}

	job.Kind = domain.JobKind(kind)
	job.Status = domain.JobStatus(status)
	job.Payload = json.RawMessage(payload)
	job.EnqueuedAt = enqueuedAt
	job.UpdatedAt = updatedAt
	return &job, nil
}

func buildJobFilters(filter domain.JobListFilter) (string, []any) {
	query := strings.Builder{}
	query.WriteString("FROM jobs WHERE 1=1")

	args := make([]any, 0, 5)
	argIndex := 1

	if tenantID := strings.TrimSpace(filter.TenantID); tenantID != "" {
		query.WriteString(fmt.Sprintf(" AND tenant_id = $%d", argIndex))
		args = append(args, tenantID)
		argIndex++
	}

	if filter.Kind != "" {
		query.WriteString(fmt.Sprintf(" AND kind = $%d", argIndex))
		args = append(args, string(filter.Kind))
		argIndex++
	}

	if filter.Status != "" {
		query.WriteString(fmt.Sprintf(" AND status = $%d", argIndex))
		args = append(args, string(filter.Status))
		argIndex++
	}

	if filter.From != nil {
		query.WriteString(fmt.Sprintf(" AND enqueued_at >= $%d", argIndex))
		args = append(args, *filter.From)
		argIndex++
	}

	if filter.To != nil {
		query.WriteString(fmt.Sprintf(" AND enqueued_at <= $%d", argIndex))
		args = append(args, *filter.To)
		argIndex++
	}

	return query.String(), args
}
