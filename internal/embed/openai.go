package embed

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"sort"
	"strings"
	"time"

	"github.com/caio/repoinsight-back/internal/domain"
)

type OpenAIConfig struct {
	APIKey     string
	BaseURL    string
	Model      string
	Dimension  int
	MaxRetries int
	RetryDelay time.Duration
	HTTPClient *http.Client
}

// OpenAIEmbedder calls the OpenAI embeddings endpoint with bounded
// retries. Transient failures surface as ErrUpstreamUnavailable so the
// job machinery can retry the whole unit of work.
type OpenAIEmbedder struct {
	apiKey     string
	baseURL    string
	model      string
	dimension  int
	maxRetries int
	retryDelay time.Duration
	httpClient *http.Client
}

func NewOpenAIEmbedder(config OpenAIConfig) *OpenAIEmbedder {
	if strings.TrimSpace(config.BaseURL) == "" {
		config.BaseURL = "https://api.openai.com/v1"
	}
	if strings.TrimSpace(config.Model) == "" {
		config.Model = "text-embedding-3-small"
	}
	if config.Dimension <= 0 {
		switch config.Model {
		case "text-embedding-3-large":
			config.Dimension = 3072
		default:
			config.Dimension = 1536
		}
	}
	if config.MaxRetries <= 0 {
		config.MaxRetries = 5
	}
	if config.RetryDelay <= 0 {
		config.RetryDelay = 2 * time.Second
	}
	if config.HTTPClient == nil {
		config.HTTPClient = &http.Client{Timeout: 30 * time.Second}
	}

	return &OpenAIEmbedder{
		apiKey:     strings.TrimSpace(config.APIKey),
		baseURL:    strings.TrimSuffix(config.BaseURL, "/"),
		model:      config.Model,
		dimension:  config.Dimension,
		maxRetries: config.MaxRetries,
		retryDelay: config.RetryDelay,
		httpClient: config.HTTPClient,
	}
}

func (e *OpenAIEmbedder) Dimension() int {
	return e.dimension
}

func (e *OpenAIEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	if strings.TrimSpace(text) == "" {
		return make([]float32, e.dimension), nil
	}
	vectors, err := e.EmbedBatch(ctx, []string{text})
	if err != nil {
		return nil, err
	}
	return vectors[0], nil
}

func (e *OpenAIEmbedder) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return nil, nil
	}

	scrubbed := make([]string, len(texts))
	for i, text := range texts {
		scrubbed[i] = scrub(text)
	}

	payload, err := json.Marshal(map[string]any{
		"model": e.model,
		"input": scrubbed,
	})
	if err != nil {
		return nil, fmt.Errorf("marshal embeddings payload: %w", err)
	}

	var lastErr error
	for attempt := 0; attempt < e.maxRetries; attempt++ {
		vectors, callErr := e.call(ctx, payload, len(texts))
		if callErr == nil {
			return vectors, nil
		}
		lastErr = callErr

		if attempt == e.maxRetries-1 {
			break
		}
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(e.retryDelay):
		}
	}

	return nil, fmt.Errorf("%w: embeddings failed after %d attempts: %v",
		domain.ErrUpstreamUnavailable, e.maxRetries, lastErr)
}

func (e *OpenAIEmbedder) call(ctx context.Context, payload []byte, expected int) ([][]float32, error) {
	request, err := http.NewRequestWithContext(
		ctx,
		http.MethodPost,
		e.baseURL+"/embeddings",
		bytes.NewReader(payload),
	)
	if err != nil {
		return nil, fmt.Errorf("create embeddings request: %w", err)
	}
	request.Header.Set("Authorization", "Bearer "+e.apiKey)
	request.Header.Set("Content-Type", "application/json")

	response, err := e.httpClient.Do(request)
	if err != nil {
		return nil, fmt.Errorf("embeddings transport error: %w", err)
	}
	defer response.Body.Close()

	body, err := io.ReadAll(response.Body)
	if err != nil {
		return nil, fmt.Errorf("read embeddings body: %w", err)
	}
	if response.StatusCode < 200 || response.StatusCode > 299 {
		message := strings.TrimSpace(string(body))
		if len(message) > 500 {
			message = message[:500]
		}
		return nil, fmt.Errorf("embeddings status %d: %s", response.StatusCode, message)
	}

	var raw struct {
		Data []struct {
			Index     int       `json:"index"`
			Embedding []float32 `json:"embedding"`
		} `json:"data"`
	}
	if err := json.Unmarshal(body, &raw); err != nil {
		return nil, fmt.Errorf("decode embeddings response: %w", err)
	}
	if len(raw.Data) != expected {
		return nil, fmt.Errorf("embeddings response size %d, want %d", len(raw.Data), expected)
	}

	// The API does not guarantee result order.
	sort.Slice(raw.Data, func(i, j int) bool { return raw.Data[i].Index < raw.Data[j].Index })

	vectors := make([][]float32, len(raw.Data))
	for i, item := range raw.Data {
		if len(item.Embedding) == 0 {
			return nil, errors.New("embeddings response with empty vector")
		}
		vectors[i] = item.Embedding
	}
	return vectors, nil
}

func scrub(text string) string {
	text = strings.ReplaceAll(text, "\n", " ")
	return strings.ReplaceAll(text, "\x00", " ")
}
