// Package rag answers natural-language questions about a repository by
// grounding the model on retrieved index chunks. Retrieval ranks by
// vector similarity, then packs the best chunks into a token budget
// before any model sees them.
package rag

import (
	"context"
	"fmt"
	"log"
	"sort"
	"strings"
	"time"

	"github.com/caio/repoinsight-back/internal/ai"
	"github.com/caio/repoinsight-back/internal/cache"
	"github.com/caio/repoinsight-back/internal/store"
)

// QueryEmbedder is the slice of the embedding provider retrieval needs.
type QueryEmbedder interface {
	Embed(ctx context.Context, text string) ([]float32, error)
}

type EngineConfig struct {
	SearchK             int
	ContextBudgetTokens int
}

type Engine struct {
	embedder  QueryEmbedder
	store     store.VectorStore
	generator ai.TextGenerator
	models    *ai.ModelRouter
	answers   *cache.AnswerCache
	counter   *TokenCounter
	config    EngineConfig
	logger    *log.Logger
}

type RetrieveInput struct {
	TenantID   string
	Repo       string
	Query      string
	PathPrefix string
	Since      time.Time
	Until      time.Time
	K          int
	// BudgetTokens overrides the engine default when positive.
	BudgetTokens int
}

type RetrieveResult struct {
	Chunks      []store.ScoredChunk
	ContextText string
	TokenCount  int
	// Empty reports that nothing relevant was indexed for the query.
	// Callers must not fabricate grounded answers when it is set.
	Empty bool
}

type AnswerInput struct {
	TenantID string
	Repo     string
	Question string
}

type AnswerResult struct {
	Answer  string
	ModelID string
	Sources []string
	Cached  bool
}

func NewEngine(
	embedder QueryEmbedder,
	vectorStore store.VectorStore,
	generator ai.TextGenerator,
	models *ai.ModelRouter,
	answers *cache.AnswerCache,
	counter *TokenCounter,
	config EngineConfig,
	logger *log.Logger,
) *Engine {
	if config.SearchK <= 0 {
		config.SearchK = 12
	}
	if config.ContextBudgetTokens <= 0 {
		config.ContextBudgetTokens = 4000
	}
	return &Engine{
		embedder:  embedder,
		store:     vectorStore,
		generator: generator,
		models:    models,
		answers:   answers,
		counter:   counter,
		config:    config,
		logger:    logger,
	}
}

// Retrieve embeds the query, searches the index and packs the ranked
// chunks into the token budget, highest similarity first.
func (e *Engine) Retrieve(ctx context.Context, input RetrieveInput) (RetrieveResult, error) {
	query := strings.TrimSpace(input.Query)
	if query == "" {
		return RetrieveResult{}, fmt.Errorf("retrieval query is empty")
	}

	vector, err := e.embedder.Embed(ctx, query)
	if err != nil {
		return RetrieveResult{}, fmt.Errorf("embed query: %w", err)
	}

	k := input.K
	if k <= 0 {
		k = e.config.SearchK
	}
	candidates, err := e.store.Search(ctx, vector, store.SearchFilter{
		TenantID:   input.TenantID,
		Repo:       input.Repo,
		PathPrefix: input.PathPrefix,
		Since:      input.Since,
		Until:      input.Until,
		K:          k,
	})
	if err != nil {
		return RetrieveResult{}, fmt.Errorf("vector search: %w", err)
	}
	candidates = dedupeCandidates(candidates)
	if len(candidates) == 0 {
		return RetrieveResult{Empty: true}, nil
	}

	sort.SliceStable(candidates, func(i, j int) bool {
		if candidates[i].Score == candidates[j].Score {
			return candidates[i].Chunk.CreatedAt.After(candidates[j].Chunk.CreatedAt)
		}
		return candidates[i].Score > candidates[j].Score
	})

	budget := input.BudgetTokens
	if budget <= 0 {
		budget = e.config.ContextBudgetTokens
	}

	selected := make([]store.ScoredChunk, 0, len(candidates))
	totalTokens := 0
	for _, candidate := range candidates {
		tokens := e.counter.Count(candidate.Chunk.Content)
		if tokens <= 0 {
			continue
		}
		if totalTokens+tokens > budget {
			continue
		}
		selected = append(selected, candidate)
		totalTokens += tokens
	}
	if len(selected) == 0 {
		return RetrieveResult{Empty: true}, nil
	}

	return RetrieveResult{
		Chunks:      selected,
		ContextText: formatContext(selected),
		TokenCount:  totalTokens,
	}, nil
}

// Answer runs retrieval-augmented generation for one question. Repeated
// questions within the cache TTL are served from the answer cache.
func (e *Engine) Answer(ctx context.Context, input AnswerInput) (AnswerResult, error) {
	profile := e.models.Select(ai.TaskAnswer)

	scope := cacheScope(input.TenantID, input.Repo)
	var signature string
	if e.answers != nil {
		signature = e.answers.BuildSignature(scope, input.Question, profile.PrimaryModel)
		if entry, hit := e.answers.Get(signature); hit {
			return AnswerResult{
				Answer:  entry.Answer,
				ModelID: entry.ModelID,
				Sources: entry.Sources,
				Cached:  true,
			}, nil
		}
	}

	retrieved, err := e.Retrieve(ctx, RetrieveInput{
		TenantID: input.TenantID,
		Repo:     input.Repo,
		Query:    input.Question,
	})
	if err != nil {
		return AnswerResult{}, err
	}

	result, err := e.generateAnswer(ctx, profile, input.Question, retrieved)
	if err != nil {
		return AnswerResult{}, err
	}

	answer := AnswerResult{
		Answer:  strings.TrimSpace(result.Text),
		ModelID: result.ModelID,
		Sources: sourcePaths(retrieved.Chunks),
	}
	if e.answers != nil && !retrieved.Empty {
		e.answers.Set(signature, cache.Entry{
			Answer:  answer.Answer,
			ModelID: answer.ModelID,
			Sources: answer.Sources,
		})
	}
	return answer, nil
}

// Stream answers one question, delivering the response as an ordered
// sequence of fragments that ends with exactly one Last marker. The
// returned channel is closed after the final fragment; cancelling ctx
// stops delivery.
func (e *Engine) Stream(ctx context.Context, input AnswerInput) (<-chan ai.Fragment, error) {
	retrieved, err := e.Retrieve(ctx, RetrieveInput{
		TenantID: input.TenantID,
		Repo:     input.Repo,
		Query:    input.Question,
	})
	if err != nil {
		return nil, err
	}

	profile := e.models.Select(ai.TaskAnswer)
	request := e.buildRequest(profile, profile.PrimaryModel, input.Question, retrieved)
	fragments, err := e.generator.GenerateStream(ctx, request)
	if err != nil && profile.FallbackModel != "" && profile.FallbackModel != profile.PrimaryModel {
		e.logf("stream on %s failed (%v), falling back to %s", profile.PrimaryModel, err, profile.FallbackModel)
		request.Model = profile.FallbackModel
		fragments, err = e.generator.GenerateStream(ctx, request)
	}
	if err != nil {
		return nil, err
	}
	return fragments, nil
}

// InvalidateRepo drops cached answers for (tenant, repo). Ingestion
// calls it after a sync writes new chunks.
func (e *Engine) InvalidateRepo(tenantID, repo string) {
	if e.answers == nil {
		return
	}
	removed := e.answers.Invalidate(cacheScope(tenantID, repo))
	if removed > 0 {
		e.logf("invalidated %d cached answers for %s", removed, repo)
	}
}

func (e *Engine) generateAnswer(
	ctx context.Context,
	profile ai.ModelProfile,
	question string,
	retrieved RetrieveResult,
) (ai.GenerateResult, error) {
	request := e.buildRequest(profile, profile.PrimaryModel, question, retrieved)
	result, err := e.generator.Generate(ctx, request)
	if err == nil {
		return result, nil
	}
	if profile.FallbackModel == "" || profile.FallbackModel == profile.PrimaryModel {
		return ai.GenerateResult{}, err
	}
	e.logf("generation on %s failed (%v), falling back to %s", profile.PrimaryModel, err, profile.FallbackModel)
	request.Model = profile.FallbackModel
	return e.generator.Generate(ctx, request)
}

func (e *Engine) buildRequest(
	profile ai.ModelProfile,
	model, question string,
	retrieved RetrieveResult,
) ai.GenerateRequest {
	instructions := answerInstructions
	input := question
	if retrieved.Empty {
		instructions = noContextInstructions
	} else {
		input = fmt.Sprintf("%s\n\n%s", retrieved.ContextText, question)
	}
	return ai.GenerateRequest{
		Model:           model,
		Instructions:    instructions,
		Input:           input,
		Temperature:     profile.Temperature,
		MaxOutputTokens: profile.MaxOutputTokens,
	}
}

const answerInstructions = "You are a software engineering assistant. Answer the question " +
	"using only the repository excerpts provided before it. Cite the file paths you relied on. " +
	"If the excerpts do not contain the answer, say so instead of guessing."

const noContextInstructions = "You are a software engineering assistant. No indexed content " +
	"matched this question. Tell the user the repository index has nothing relevant and suggest " +
	"ingesting or re-syncing the repository. Do not invent details about the codebase."

func formatContext(chunks []store.ScoredChunk) string {
	var builder strings.Builder
	builder.WriteString("Repository excerpts, most relevant first:\n")
	for index, scored := range chunks {
		chunk := scored.Chunk
		header := chunk.Path
		if chunk.SourceRef != "" {
			header += " @ " + chunk.SourceRef
		}
		builder.WriteString(fmt.Sprintf("\n[%d] %s (%s)\n%s\n", index+1, header, chunk.Kind, chunk.Content))
	}
	return strings.TrimSpace(builder.String())
}

func sourcePaths(chunks []store.ScoredChunk) []string {
	seen := make(map[string]struct{}, len(chunks))
	paths := make([]string, 0, len(chunks))
	for _, scored := range chunks {
		if _, dup := seen[scored.Chunk.Path]; dup {
			continue
		}
		seen[scored.Chunk.Path] = struct{}{}
		paths = append(paths, scored.Chunk.Path)
	}
	return paths
}

func dedupeCandidates(candidates []store.ScoredChunk) []store.ScoredChunk {
	if len(candidates) <= 1 {
		return candidates
	}

	seen := make(map[string]int, len(candidates))
	result := make([]store.ScoredChunk, 0, len(candidates))
	for _, candidate := range candidates {
		key := strings.ToLower(strings.Join(strings.Fields(candidate.Chunk.Content), " "))
		if index, exists := seen[key]; exists {
			if candidate.Score > result[index].Score {
				result[index] = candidate
			}
			continue
		}
		seen[key] = len(result)
		result = append(result, candidate)
	}
	return result
}

func cacheScope(tenantID, repo string) string {
	return tenantID + "|" + repo
}

func (e *Engine) logf(format string, args ...any) {
	if e.logger != nil {
		e.logger.Printf(format, args...)
	}
}
