// Package store persists document chunks, their embeddings and ingestion
// checkpoints. All cross-process coordination (idempotent upserts,
// checkpoint advancement) is expressed as conditional writes so that
// workers on separate machines stay consistent.
package store

import (
	"context"
	"errors"
	"time"

	"github.com/caio/repoinsight-back/internal/domain"
)

var ErrNotFound = errors.New("resource not found")

// SearchFilter scopes a nearest-neighbor search. TenantID is mandatory;
// every query is tenant-isolated.
type SearchFilter struct {
	TenantID   string
	Repo       string
	PathPrefix string
	Since      time.Time
	Until      time.Time
	K          int
}

// ScoredChunk is a search candidate with its similarity score in [0,1].
type ScoredChunk struct {
	Chunk domain.DocumentChunk
	Score float64
}

// VectorStore is the persistence boundary of the ingestion and
// retrieval engines.
type VectorStore interface {
	// UpsertChunk writes a chunk keyed by (tenant, repo, path,
	// content-hash). Writing a chunk whose key already exists is a
	// no-op; inserted reports whether a new row was created.
	UpsertChunk(ctx context.Context, chunk domain.DocumentChunk) (inserted bool, err error)

	// Search returns the K nearest chunks for the query vector, scoped
	// by the filter, ordered by similarity descending with recency as
	// the tie-break.
	Search(ctx context.Context, vector []float32, filter SearchFilter) ([]ScoredChunk, error)

	// DeleteByPaths removes all chunks stored under the given paths.
	DeleteByPaths(ctx context.Context, tenantID, repo string, paths []string) error

	// ExistingFileHashes returns path -> source ref (file blob hash)
	// for every file chunk of the repository. Drives the delta diff.
	ExistingFileHashes(ctx context.Context, tenantID, repo string) (map[string]string, error)

	// ExistingContentHashes returns the set of "path|content-hash" keys
	// already stored. Embeddings are only computed for keys not present.
	ExistingContentHashes(ctx context.Context, tenantID, repo string) (map[string]struct{}, error)

	// Checkpoint loads the ingestion checkpoint, or a zero checkpoint
	// when the repository was never synced.
	Checkpoint(ctx context.Context, tenantID, repo string) (domain.IngestCheckpoint, error)

	// AdvanceCheckpoint moves the checkpoint forward. Moving it
	// backwards is a consistency violation and must be refused.
	AdvanceCheckpoint(ctx context.Context, checkpoint domain.IngestCheckpoint) error
}
