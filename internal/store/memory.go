package store

import (
	"context"
	"fmt"
	"math"
	"sort"
	"strings"
	"sync"

	"github.com/caio/repoinsight-back/internal/domain"
)

// MemoryStore keeps chunks and checkpoints in memory. Used for local
// development and tests; the conditional-write semantics match the
// Postgres implementation.
type MemoryStore struct {
	mu          sync.RWMutex
	chunks      map[domain.ChunkKey]domain.DocumentChunk
	checkpoints map[string]domain.IngestCheckpoint
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		chunks:      make(map[domain.ChunkKey]domain.DocumentChunk),
		checkpoints: make(map[string]domain.IngestCheckpoint),
	}
}

func (s *MemoryStore) UpsertChunk(_ context.Context, chunk domain.DocumentChunk) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	key := chunk.Key()
	if _, exists := s.chunks[key]; exists {
		return false, nil
	}
	chunk.Embedding = append([]float32(nil), chunk.Embedding...)
	s.chunks[key] = chunk
	return true, nil
}

func (s *MemoryStore) Search(_ context.Context, vector []float32, filter SearchFilter) ([]ScoredChunk, error) {
	if filter.TenantID == "" {
		return nil, fmt.Errorf("search requires a tenant id")
	}
	if filter.K <= 0 {
		filter.K = 10
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	candidates := make([]ScoredChunk, 0)
	for _, chunk := range s.chunks {
		if chunk.TenantID != filter.TenantID {
			continue
		}
		if filter.Repo != "" && chunk.Repo != filter.Repo {
			continue
		}
		if filter.PathPrefix != "" && !strings.HasPrefix(chunk.Path, filter.PathPrefix) {
			continue
		}
		if !filter.Since.IsZero() && chunk.CreatedAt.Before(filter.Since) {
			continue
		}
		if !filter.Until.IsZero() && chunk.CreatedAt.After(filter.Until) {
			continue
		}
		candidates = append(candidates, ScoredChunk{
			Chunk: chunk,
			Score: cosineSimilarity(vector, chunk.Embedding),
		})
	}

	sort.SliceStable(candidates, func(i, j int) bool {
		if candidates[i].Score == candidates[j].Score {
			return candidates[i].Chunk.CreatedAt.After(candidates[j].Chunk.CreatedAt)
		}
		return candidates[i].Score > candidates[j].Score
	})

	if len(candidates) > filter.K {
		candidates = candidates[:filter.K]
	}
	return candidates, nil
}

func (s *MemoryStore) DeleteByPaths(_ context.Context, tenantID, repo string, paths []string) error {
	if len(paths) == 0 {
		return nil
	}
	wanted := make(map[string]struct{}, len(paths))
	for _, path := range paths {
		wanted[path] = struct{}{}
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	for key, chunk := range s.chunks {
		if chunk.TenantID != tenantID || chunk.Repo != repo {
			continue
		}
		if _, ok := wanted[chunk.Path]; ok {
			delete(s.chunks, key)
		}
	}
	return nil
}

func (s *MemoryStore) ExistingFileHashes(_ context.Context, tenantID, repo string) (map[string]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	hashes := make(map[string]string)
	for _, chunk := range s.chunks {
		if chunk.TenantID != tenantID || chunk.Repo != repo || chunk.Kind != domain.ArtifactFile {
			continue
		}
		hashes[chunk.Path] = chunk.SourceRef
	}
	return hashes, nil
}

func (s *MemoryStore) ExistingContentHashes(_ context.Context, tenantID, repo string) (map[string]struct{}, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	hashes := make(map[string]struct{})
	for key, chunk := range s.chunks {
		if chunk.TenantID != tenantID || chunk.Repo != repo {
			continue
		}
		hashes[key.Path+"|"+key.ContentHash] = struct{}{}
	}
	return hashes, nil
}

func (s *MemoryStore) Checkpoint(_ context.Context, tenantID, repo string) (domain.IngestCheckpoint, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	checkpoint, ok := s.checkpoints[tenantID+"|"+repo]
	if !ok {
		return domain.IngestCheckpoint{TenantID: tenantID, Repo: repo}, nil
	}
	return checkpoint, nil
}

func (s *MemoryStore) AdvanceCheckpoint(_ context.Context, checkpoint domain.IngestCheckpoint) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	key := checkpoint.TenantID + "|" + checkpoint.Repo
	current, exists := s.checkpoints[key]
	if exists && checkpoint.SyncedAt.Before(current.SyncedAt) {
		return fmt.Errorf("%w: checkpoint for %s would move backwards (%s < %s)",
			domain.ErrConsistencyViolation, checkpoint.Repo,
			checkpoint.SyncedAt.Format("2006-01-02T15:04:05Z"),
			current.SyncedAt.Format("2006-01-02T15:04:05Z"))
	}
	s.checkpoints[key] = checkpoint
	return nil
}

// ChunkCount reports the number of stored chunks. Test helper.
func (s *MemoryStore) ChunkCount() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.chunks)
}

func cosineSimilarity(a, b []float32) float64 {
	if len(a) == 0 || len(a) != len(b) {
		return 0
	}
	var dot, normA, normB float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
		normA += float64(a[i]) * float64(a[i])
		normB += float64(b[i]) * float64(b[i])
	}
	if normA == 0 || normB == 0 {
		return 0
	}
	return dot / (math.Sqrt(normA) * math.Sqrt(normB))
}
