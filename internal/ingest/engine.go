// Package ingest keeps the vector store consistent with an external
// code repository. Syncs are incremental: only artifacts changed after
// the last checkpoint are fetched, and chunk writes are idempotent, so
// a crashed run can safely be repeated.
package ingest

import (
	"context"
	"fmt"
	"log"
	"sort"
	"sync"
	"time"

	"github.com/caio/repoinsight-back/internal/domain"
	"github.com/caio/repoinsight-back/internal/githost"
	"github.com/caio/repoinsight-back/internal/policy"
	"github.com/caio/repoinsight-back/internal/store"
	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"
)

// CodeHost is the slice of the code hosting client the engine needs.
type CodeHost interface {
	GetRepoMetadata(ctx context.Context, repo string) (githost.RepoMetadata, error)
	ListChangedArtifacts(ctx context.Context, repo, branch string, since time.Time) ([]githost.Artifact, error)
	GetFileTree(ctx context.Context, repo, branch string) (map[string]string, error)
	GetFileContent(ctx context.Context, repo, path, ref string) (string, error)
	RemainingBudget() int
}

// Embedder is the slice of the embedding provider the engine needs.
type Embedder interface {
	EmbedBatch(ctx context.Context, texts []string) ([][]float32, error)
}

type EngineConfig struct {
	ChunkConfig ChunkConfig
	MaxWorkers  int
	LockTTL     time.Duration
	// EmbedBatchSize bounds how many chunks go into one embedding call.
	EmbedBatchSize int
}

type Engine struct {
	host     CodeHost
	store    store.VectorStore
	embedder Embedder
	locker   Locker
	config   EngineConfig
	logger   *log.Logger
}

// SyncResult summarizes one ingestion run.
type SyncResult struct {
	Repo              string
	Branch            string
	FilesUpdated      int
	FilesDeleted      int
	FilesUnchanged    int
	MetadataArtifacts int
	ChunksWritten     int
	EmbeddingsSkipped int
}

func NewEngine(
	host CodeHost,
	vectorStore store.VectorStore,
	embedder Embedder,
	locker Locker,
	config EngineConfig,
	logger *log.Logger,
) *Engine {
	if config.ChunkConfig.Size <= 0 {
		config.ChunkConfig = DefaultChunkConfig()
	}
	if config.MaxWorkers <= 0 {
		config.MaxWorkers = 10
	}
	if config.LockTTL <= 0 {
		config.LockTTL = 30 * time.Minute
	}
	if config.EmbedBatchSize <= 0 {
		config.EmbedBatchSize = 50
	}
	if locker == nil {
		locker = NewMemoryLocker()
	}
	return &Engine{
		host:     host,
		store:    vectorStore,
		embedder: embedder,
		locker:   locker,
		config:   config,
		logger:   logger,
	}
}

// Sync brings the index for (tenant, repo) up to date. Exactly one sync
// per key runs at a time; the checkpoint only advances after every
// chunk of the range is durably persisted.
func (e *Engine) Sync(ctx context.Context, tenantID, repoRef string, fullResync bool) (SyncResult, error) {
	repo, branch, err := githost.ParseRepoURL(repoRef)
	if err != nil {
		return SyncResult{}, err
	}

	release, err := e.locker.Acquire(ctx, tenantID+"|"+repo, e.config.LockTTL)
	if err != nil {
		return SyncResult{}, err
	}
	defer release()

	meta, err := e.host.GetRepoMetadata(ctx, repo)
	if err != nil {
		return SyncResult{}, fmt.Errorf("repo metadata: %w", err)
	}
	if branch == "" {
		branch = meta.DefaultBranch
	}

	checkpoint, err := e.store.Checkpoint(ctx, tenantID, repo)
	if err != nil {
		return SyncResult{}, fmt.Errorf("load checkpoint: %w", err)
	}
	since := checkpoint.SyncedAt
	if fullResync || checkpoint.Zero() {
		since = time.Time{}
		e.logf("full sync for %s (tenant=%s)", repo, tenantID)
	} else {
		e.logf("delta sync for %s since %s (tenant=%s)", repo, since.Format(time.RFC3339), tenantID)
	}

	// The sync range closes at the moment listing starts. Anything
	// pushed while this run is in flight belongs to the next delta.
	syncStart := time.Now().UTC()

	result := SyncResult{Repo: repo, Branch: branch}

	artifacts, err := e.host.ListChangedArtifacts(ctx, repo, branch, since)
	if err != nil {
		return result, fmt.Errorf("list changed artifacts: %w", err)
	}
	result.MetadataArtifacts = len(artifacts)

	var pending []domain.DocumentChunk
	for _, artifact := range artifacts {
		pending = append(pending, e.chunkArtifact(tenantID, repo, artifact, syncStart)...)
	}

	filesUpdated, filesDeleted, filesUnchanged, fileChunks, err := e.syncFiles(ctx, tenantID, repo, branch, syncStart)
	if err != nil {
		return result, err
	}
	result.FilesUpdated = filesUpdated
	result.FilesDeleted = filesDeleted
	result.FilesUnchanged = filesUnchanged
	pending = append(pending, fileChunks...)

	// The skip-filter snapshot is taken after syncFiles so it reflects
	// the supersede deletes above. A changed file whose early chunks
	// kept the same content must still be rewritten.
	existingHashes, err := e.store.ExistingContentHashes(ctx, tenantID, repo)
	if err != nil {
		return result, fmt.Errorf("load content hashes: %w", err)
	}

	written, skipped, err := e.persistChunks(ctx, pending, existingHashes)
	if err != nil {
		return result, err
	}
	result.ChunksWritten = written
	result.EmbeddingsSkipped = skipped

	// Write-then-advance: the checkpoint moves only after every chunk
	// above is durable. A crash before this line re-processes the
	// range, which the content-hash key makes a no-op. A run that saw
	// an empty range leaves the checkpoint untouched.
	rangeEmpty := result.MetadataArtifacts == 0 &&
		result.FilesUpdated == 0 && result.FilesDeleted == 0
	if !rangeEmpty || checkpoint.Zero() || fullResync {
		newCheckpoint := domain.IngestCheckpoint{
			TenantID: tenantID,
			Repo:     repo,
			Ref:      branch,
			SyncedAt: syncStart,
		}
		if err := e.store.AdvanceCheckpoint(ctx, newCheckpoint); err != nil {
			return result, err
		}
	}

	e.logf("sync done repo=%s updated=%d deleted=%d unchanged=%d chunks=%d skipped_embeddings=%d",
		repo, result.FilesUpdated, result.FilesDeleted, result.FilesUnchanged,
		result.ChunksWritten, result.EmbeddingsSkipped)
	return result, nil
}

func (e *Engine) syncFiles(
	ctx context.Context,
	tenantID, repo, branch string,
	syncStart time.Time,
) (updated, deleted, unchanged int, chunks []domain.DocumentChunk, err error) {
	hostFiles, err := e.host.GetFileTree(ctx, repo, branch)
	if err != nil {
		return 0, 0, 0, nil, fmt.Errorf("file tree: %w", err)
	}
	storedFiles, err := e.store.ExistingFileHashes(ctx, tenantID, repo)
	if err != nil {
		return 0, 0, 0, nil, fmt.Errorf("stored file hashes: %w", err)
	}

	var toFetch, toDelete []string
	for path, sha := range hostFiles {
		storedSHA, known := storedFiles[path]
		switch {
		case !known:
			toFetch = append(toFetch, path)
		case storedSHA != sha:
			toFetch = append(toFetch, path)
		default:
			unchanged++
		}
	}
	for path := range storedFiles {
		if _, stillExists := hostFiles[path]; !stillExists {
			toDelete = append(toDelete, path)
		}
	}
	sort.Strings(toFetch)

	if err := e.store.DeleteByPaths(ctx, tenantID, repo, toDelete); err != nil {
		return 0, 0, 0, nil, fmt.Errorf("delete obsolete paths: %w", err)
	}
	deleted = len(toDelete)

	if len(toFetch) == 0 {
		return 0, deleted, unchanged, nil, nil
	}

	workers := e.workersForBudget()
	e.logf("fetching %d files from %s with %d workers (budget=%d)",
		len(toFetch), repo, workers, e.host.RemainingBudget())

	var mu sync.Mutex
	group, groupCtx := errgroup.WithContext(ctx)
	group.SetLimit(workers)

	for _, path := range toFetch {
		path := path
		group.Go(func() error {
			content, err := e.host.GetFileContent(groupCtx, repo, path, branch)
			if err != nil {
				return fmt.Errorf("fetch %s: %w", path, err)
			}
			content = policy.RedactEmails(policy.RedactSecrets(content))

			fileSHA := hostFiles[path]
			var fileChunks []domain.DocumentChunk
			for _, piece := range SplitText(content, e.config.ChunkConfig) {
				fileChunks = append(fileChunks, domain.DocumentChunk{
					ID:          uuid.NewString(),
					TenantID:    tenantID,
					Repo:        repo,
					Path:        path,
					Kind:        domain.ArtifactFile,
					Content:     piece,
					ContentHash: ContentHash(piece),
					SourceRef:   fileSHA,
					CreatedAt:   syncStart,
				})
			}

			mu.Lock()
			defer mu.Unlock()
			// A changed file supersedes its previous chunks.
			if _, existed := storedFiles[path]; existed {
				if err := e.store.DeleteByPaths(groupCtx, tenantID, repo, []string{path}); err != nil {
					return fmt.Errorf("supersede %s: %w", path, err)
				}
			}
			chunks = append(chunks, fileChunks...)
			updated++
			return nil
		})
	}
	if err := group.Wait(); err != nil {
		return 0, deleted, unchanged, nil, err
	}
	return updated, deleted, unchanged, chunks, nil
}

// persistChunks embeds and upserts pending chunks. Chunks whose
// (path, content-hash) key is already stored are skipped entirely: no
// embedding call, no write.
func (e *Engine) persistChunks(
	ctx context.Context,
	pending []domain.DocumentChunk,
	existing map[string]struct{},
) (written, skippedEmbeddings int, err error) {
	fresh := make([]domain.DocumentChunk, 0, len(pending))
	for _, chunk := range pending {
		if _, known := existing[chunk.Path+"|"+chunk.ContentHash]; known {
			skippedEmbeddings++
			continue
		}
		fresh = append(fresh, chunk)
	}

	for start := 0; start < len(fresh); start += e.config.EmbedBatchSize {
		if err := ctx.Err(); err != nil {
			return written, skippedEmbeddings, err
		}
		end := start + e.config.EmbedBatchSize
		if end > len(fresh) {
			end = len(fresh)
		}
		batch := fresh[start:end]

		texts := make([]string, len(batch))
		for i, chunk := range batch {
			texts[i] = chunk.Content
		}
		vectors, err := e.embedder.EmbedBatch(ctx, texts)
		if err != nil {
			return written, skippedEmbeddings, fmt.Errorf("embed batch: %w", err)
		}

		for i := range batch {
			batch[i].Embedding = vectors[i]
			inserted, err := e.store.UpsertChunk(ctx, batch[i])
			if err != nil {
				return written, skippedEmbeddings, fmt.Errorf("upsert chunk %s: %w", batch[i].Path, err)
			}
			if inserted {
				written++
			}
		}
	}
	return written, skippedEmbeddings, nil
}

func (e *Engine) chunkArtifact(
	tenantID, repo string,
	artifact githost.Artifact,
	syncStart time.Time,
) []domain.DocumentChunk {
	content := policy.RedactEmails(policy.RedactSecrets(artifact.Content))

	var chunks []domain.DocumentChunk
	for _, piece := range SplitText(content, e.config.ChunkConfig) {
		chunks = append(chunks, domain.DocumentChunk{
			ID:          uuid.NewString(),
			TenantID:    tenantID,
			Repo:        repo,
			Path:        artifact.Path,
			Kind:        artifact.Kind,
			Content:     piece,
			ContentHash: ContentHash(piece),
			SourceRef:   artifact.Ref,
			CreatedAt:   syncStart,
		})
	}
	return chunks
}

// workersForBudget scales download parallelism to the remaining API
// credit, falling back to sequential fetching when the budget is tight.
func (e *Engine) workersForBudget() int {
	budget := e.host.RemainingBudget()
	var workers int
	switch {
	case budget > 4000:
		workers = 10
	case budget > 2000:
		workers = 5
	case budget > 500:
		workers = 2
	default:
		workers = 1
	}
	if workers > e.config.MaxWorkers {
		workers = e.config.MaxWorkers
	}
	return workers
}

func (e *Engine) logf(format string, args ...any) {
	if e.logger != nil {
		e.logger.Printf(format, args...)
	}
}
