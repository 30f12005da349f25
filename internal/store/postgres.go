package store

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/caio/repoinsight-back/internal/domain"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	pgvector "github.com/pgvector/pgvector-go"
	pgvectorpgx "github.com/pgvector/pgvector-go/pgx"
)

// PostgresStore persists chunks in a pgvector-enabled Postgres.
//
// Expected layout:
//
//	document_chunks(id, tenant_id, repo, path, kind, content,
//	    content_hash, embedding vector, source_ref, created_at,
//	    UNIQUE (tenant_id, repo, path, content_hash))
//	ingest_checkpoints(tenant_id, repo, ref, synced_at,
//	    PRIMARY KEY (tenant_id, repo))
type PostgresStore struct {
	pool *pgxpool.Pool
}

func NewPostgresStore(ctx context.Context, databaseURL string) (*PostgresStore, error) {
	config, err := pgxpool.ParseConfig(databaseURL)
	if err != nil {
		return nil, fmt.Errorf("parse database url: %w", err)
	}
	config.AfterConnect = func(ctx context.Context, conn *pgx.Conn) error {
		return pgvectorpgx.RegisterTypes(ctx, conn)
	}

	pool, err := pgxpool.NewWithConfig(ctx, config)
	if err != nil {
		return nil, fmt.Errorf("create pg pool: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping pg: %w", err)
	}
	return &PostgresStore{pool: pool}, nil
}

func (s *PostgresStore) Close() {
	s.pool.Close()
}

func (s *PostgresStore) UpsertChunk(ctx context.Context, chunk domain.DocumentChunk) (bool, error) {
	command, err := s.pool.Exec(ctx, `
		INSERT INTO document_chunks (
			id, tenant_id, repo, path, kind, content, content_hash, embedding, source_ref, created_at
		) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10)
		ON CONFLICT (tenant_id, repo, path, content_hash) DO NOTHING
	`,
		chunk.ID,
		chunk.TenantID,
		chunk.Repo,
		chunk.Path,
		string(chunk.Kind),
		chunk.Content,
		chunk.ContentHash,
		pgvector.NewVector(chunk.Embedding),
		chunk.SourceRef,
		chunk.CreatedAt,
	)
	if err != nil {
		return false, fmt.Errorf("upsert chunk: %w", err)
	}
	return command.RowsAffected() > 0, nil
}

func (s *PostgresStore) Search(ctx context.Context, vector []float32, filter SearchFilter) ([]ScoredChunk, error) {
	if filter.TenantID == "" {
		return nil, fmt.Errorf("search requires a tenant id")
	}
	if filter.K <= 0 {
		filter.K = 10
	}

	conditions := []string{"tenant_id = $2"}
	args := []any{pgvector.NewVector(vector), filter.TenantID}
	if filter.Repo != "" {
		args = append(args, filter.Repo)
		conditions = append(conditions, fmt.Sprintf("repo = $%d", len(args)))
	}
	if filter.PathPrefix != "" {
		args = append(args, filter.PathPrefix+"%")
		conditions = append(conditions, fmt.Sprintf("path LIKE $%d", len(args)))
	}
	if !filter.Since.IsZero() {
		args = append(args, filter.Since)
		conditions = append(conditions, fmt.Sprintf("created_at >= $%d", len(args)))
	}
	if !filter.Until.IsZero() {
		args = append(args, filter.Until)
		conditions = append(conditions, fmt.Sprintf("created_at <= $%d", len(args)))
	}
	args = append(args, filter.K)

	query := fmt.Sprintf(`
		SELECT id, tenant_id, repo, path, kind, content, content_hash, source_ref, created_at,
			1 - (embedding <=> $1) AS score
		FROM document_chunks
		WHERE %s
		ORDER BY embedding <=> $1 ASC, created_at DESC
		LIMIT $%d
	`, strings.Join(conditions, " AND "), len(args))

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("search chunks: %w", err)
	}
	defer rows.Close()

	results := make([]ScoredChunk, 0, filter.K)
	for rows.Next() {
		var (
			chunk domain.DocumentChunk
			kind  string
			score float64
		)
		err := rows.Scan(
			&chunk.ID,
			&chunk.TenantID,
			&chunk.Repo,
			&chunk.Path,
			&kind,
			&chunk.Content,
			&chunk.ContentHash,
			&chunk.SourceRef,
			&chunk.CreatedAt,
			&score,
		)
		if err != nil {
			return nil, fmt.Errorf("scan chunk: %w", err)
		}
		chunk.Kind = domain.ArtifactKind(kind)
		results = append(results, ScoredChunk{Chunk: chunk, Score: score})
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate chunks: %w", err)
	}
	return results, nil
}

func (s *PostgresStore) DeleteByPaths(ctx context.Context, tenantID, repo string, paths []string) error {
	if len(paths) == 0 {
		return nil
	}
	_, err := s.pool.Exec(ctx, `
		DELETE FROM document_chunks
		WHERE tenant_id = $1 AND repo = $2 AND path = ANY($3)
	`, tenantID, repo, paths)
	if err != nil {
		return fmt.Errorf("delete chunks by path: %w", err)
	}
	return nil
}

func (s *PostgresStore) ExistingFileHashes(ctx context.Context, tenantID, repo string) (map[string]string, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT DISTINCT path, source_ref
		FROM document_chunks
		WHERE tenant_id = $1 AND repo = $2 AND kind = $3
	`, tenantID, repo, string(domain.ArtifactFile))
	if err != nil {
		return nil, fmt.Errorf("query file hashes: %w", err)
	}
	defer rows.Close()

	hashes := make(map[string]string)
	for rows.Next() {
		var path, ref string
		if err := rows.Scan(&path, &ref); err != nil {
			return nil, fmt.Errorf("scan file hash: %w", err)
		}
		hashes[path] = ref
	}
	return hashes, rows.Err()
}

func (s *PostgresStore) ExistingContentHashes(ctx context.Context, tenantID, repo string) (map[string]struct{}, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT path, content_hash
		FROM document_chunks
		WHERE tenant_id = $1 AND repo = $2
	`, tenantID, repo)
	if err != nil {
		return nil, fmt.Errorf("query content hashes: %w", err)
	}
	defer rows.Close()

	hashes := make(map[string]struct{})
	for rows.Next() {
		var path, hash string
		if err := rows.Scan(&path, &hash); err != nil {
			return nil, fmt.Errorf("scan content hash: %w", err)
		}
		hashes[path+"|"+hash] = struct{}{}
	}
	return hashes, rows.Err()
}

func (s *PostgresStore) Checkpoint(ctx context.Context, tenantID, repo string) (domain.IngestCheckpoint, error) {
	checkpoint := domain.IngestCheckpoint{TenantID: tenantID, Repo: repo}
	var syncedAt time.Time

	err := s.pool.QueryRow(ctx, `
		SELECT ref, synced_at
		FROM ingest_checkpoints
		WHERE tenant_id = $1 AND repo = $2
	`, tenantID, repo).Scan(&checkpoint.Ref, &syncedAt)
	if err != nil {
		if err == pgx.ErrNoRows {
			return checkpoint, nil
		}
		return domain.IngestCheckpoint{}, fmt.Errorf("query checkpoint: %w", err)
	}
	checkpoint.SyncedAt = syncedAt.UTC()
	return checkpoint, nil
}

func (s *PostgresStore) AdvanceCheckpoint(ctx context.Context, checkpoint domain.IngestCheckpoint) error {
	// The WHERE clause on the update arm keeps the advancement
	// monotonic even with concurrent writers.
	command, err := s.pool.Exec(ctx, `
		INSERT INTO ingest_checkpoints (tenant_id, repo, ref, synced_at)
		VALUES ($1,$2,$3,$4)
		ON CONFLICT (tenant_id, repo) DO UPDATE
		SET ref = EXCLUDED.ref, synced_at = EXCLUDED.synced_at
		WHERE ingest_checkpoints.synced_at <= EXCLUDED.synced_at
	`, checkpoint.TenantID, checkpoint.Repo, checkpoint.Ref, checkpoint.SyncedAt)
	if err != nil {
		return fmt.Errorf("advance checkpoint: %w", err)
	}
	if command.RowsAffected() == 0 {
		return fmt.Errorf("%w: checkpoint for %s would move backwards",
			domain.ErrConsistencyViolation, checkpoint.Repo)
	}
	return nil
}
