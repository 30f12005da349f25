package store

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/caio/repoinsight-back/internal/domain"
)

func testChunk(tenant, repo, path, hash string, embedding []float32, createdAt time.Time) domain.DocumentChunk {
	return domain.DocumentChunk{
		ID:          tenant + "-" + path + "-" + hash,
		TenantID:    tenant,
		Repo:        repo,
		Path:        path,
		Kind:        domain.ArtifactFile,
		Content:     "content of " + path,
		ContentHash: hash,
		Embedding:   embedding,
		SourceRef:   hash,
		CreatedAt:   createdAt,
	}
}

func TestMemoryStoreUpsertIsIdempotent(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()
	chunk := testChunk("tenant-a", "acme/widgets", "main.go", "h1", []float32{1, 0}, time.Now())

	inserted, err := s.UpsertChunk(ctx, chunk)
	if err != nil || !inserted {
		t.Fatalf("first upsert: inserted=%v err=%v", inserted, err)
	}
	inserted, err = s.UpsertChunk(ctx, chunk)
	if err != nil {
		t.Fatalf("second upsert: %v", err)
	}
	if inserted {
		t.Fatalf("second upsert of identical content must be a no-op")
	}
	if s.ChunkCount() != 1 {
		t.Fatalf("expected 1 chunk, got %d", s.ChunkCount())
	}
}

func TestMemoryStoreSearchScopesTenantAndOrders(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()
	now := time.Now()

	chunks := []domain.DocumentChunk{
		testChunk("tenant-a", "acme/widgets", "a.go", "h1", []float32{1, 0}, now.Add(-2*time.Hour)),
		testChunk("tenant-a", "acme/widgets", "b.go", "h2", []float32{0.9, 0.1}, now.Add(-time.Hour)),
		testChunk("tenant-a", "acme/widgets", "c.go", "h3", []float32{0, 1}, now),
		testChunk("tenant-b", "acme/widgets", "d.go", "h4", []float32{1, 0}, now),
	}
	for _, chunk := range chunks {
		if _, err := s.UpsertChunk(ctx, chunk); err != nil {
			t.Fatalf("upsert: %v", err)
		}
	}

	results, err := s.Search(ctx, []float32{1, 0}, SearchFilter{TenantID: "tenant-a", K: 3})
	if err != nil {
		t.Fatalf("search: %v", err)
	}
	if len(results) != 3 {
		t.Fatalf("expected 3 results, got %d", len(results))
	}
	if results[0].Chunk.Path != "a.go" || results[1].Chunk.Path != "b.go" {
		t.Fatalf("unexpected ordering: %s, %s", results[0].Chunk.Path, results[1].Chunk.Path)
	}
	for _, result := range results {
		if result.Chunk.TenantID != "tenant-a" {
			t.Fatalf("tenant isolation broken: got chunk of %s", result.Chunk.TenantID)
		}
	}
}

func TestMemoryStoreRecencyBreaksScoreTies(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()
	now := time.Now()

	older := testChunk("tenant-a", "acme/widgets", "old.go", "h1", []float32{1, 0}, now.Add(-time.Hour))
	newer := testChunk("tenant-a", "acme/widgets", "new.go", "h2", []float32{1, 0}, now)
	for _, chunk := range []domain.DocumentChunk{older, newer} {
		if _, err := s.UpsertChunk(ctx, chunk); err != nil {
			t.Fatalf("upsert: %v", err)
		}
	}

	results, err := s.Search(ctx, []float32{1, 0}, SearchFilter{TenantID: "tenant-a", K: 2})
	if err != nil {
		t.Fatalf("search: %v", err)
	}
	if results[0].Chunk.Path != "new.go" {
		t.Fatalf("expected newer chunk first on tie, got %s", results[0].Chunk.Path)
	}
}

func TestMemoryStoreCheckpointAdvancesMonotonically(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()
	base := time.Date(2026, 5, 1, 12, 0, 0, 0, time.UTC)

	first := domain.IngestCheckpoint{TenantID: "tenant-a", Repo: "acme/widgets", Ref: "sha1", SyncedAt: base}
	if err := s.AdvanceCheckpoint(ctx, first); err != nil {
		t.Fatalf("first advance: %v", err)
	}

	second := first
	second.Ref = "sha2"
	second.SyncedAt = base.Add(time.Hour)
	if err := s.AdvanceCheckpoint(ctx, second); err != nil {
		t.Fatalf("forward advance: %v", err)
	}

	backwards := first
	backwards.SyncedAt = base.Add(-time.Hour)
	err := s.AdvanceCheckpoint(ctx, backwards)
	if !errors.Is(err, domain.ErrConsistencyViolation) {
		t.Fatalf("expected ErrConsistencyViolation, got %v", err)
	}

	current, err := s.Checkpoint(ctx, "tenant-a", "acme/widgets")
	if err != nil {
		t.Fatalf("checkpoint: %v", err)
	}
	if current.Ref != "sha2" {
		t.Fatalf("checkpoint regressed: ref=%s", current.Ref)
	}
}

func TestMemoryStoreDeleteByPaths(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()
	now := time.Now()

	for _, chunk := range []domain.DocumentChunk{
		testChunk("tenant-a", "acme/widgets", "keep.go", "h1", []float32{1, 0}, now),
		testChunk("tenant-a", "acme/widgets", "drop.go", "h2", []float32{0, 1}, now),
		testChunk("tenant-a", "acme/widgets", "drop.go", "h3", []float32{0, 1}, now),
	} {
		if _, err := s.UpsertChunk(ctx, chunk); err != nil {
			t.Fatalf("upsert: %v", err)
		}
	}

	if err := s.DeleteByPaths(ctx, "tenant-a", "acme/widgets", []string{"drop.go"}); err != nil {
		t.Fatalf("delete: %v", err)
	}
	if s.ChunkCount() != 1 {
		t.Fatalf("expected only the kept chunk, got %d", s.ChunkCount())
	}
}
