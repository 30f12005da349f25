package domain

import "time"

// ChunkKey uniquely identifies a document chunk. Re-ingesting identical
// content maps to the same key, which makes upserts idempotent.
type ChunkKey struct {
	TenantID    string
	Repo        string
	Path        string
	ContentHash string
}

// DocumentChunk is an embedded slice of repository content. Chunks are
// never mutated in place; a path whose content changes gets new chunks
// and the stale ones are deleted.
type DocumentChunk struct {
	ID          string
	TenantID    string
	Repo        string
	Path        string
	Kind        ArtifactKind
	Content     string
	ContentHash string
	Embedding   []float32
	SourceRef   string
	CreatedAt   time.Time
}

// Key returns the uniqueness key for the chunk.
func (c DocumentChunk) Key() ChunkKey {
	return ChunkKey{
		TenantID:    c.TenantID,
		Repo:        c.Repo,
		Path:        c.Path,
		ContentHash: c.ContentHash,
	}
}

type ArtifactKind string

const (
	ArtifactFile        ArtifactKind = "file"
	ArtifactCommit      ArtifactKind = "commit"
	ArtifactIssue       ArtifactKind = "issue"
	ArtifactPullRequest ArtifactKind = "pull_request"
)

// IngestCheckpoint marks durable ingestion progress for one tenant
// repository. It advances only after the chunks for the synced range are
// persisted, and never moves backwards.
type IngestCheckpoint struct {
	TenantID string
	Repo     string
	Ref      string
	SyncedAt time.Time
}

// Zero reports whether no sync has completed yet for the repository.
func (c IngestCheckpoint) Zero() bool {
	return c.Ref == "" && c.SyncedAt.IsZero()
}
