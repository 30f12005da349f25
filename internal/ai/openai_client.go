package ai

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

var ErrOpenAIUnavailable = errors.New("openai client unavailable")

type OpenAIClientConfig struct {
	APIKey       string
	BaseURL      string
	Timeout      time.Duration
	MaxRetries   int
	HTTPClient   *http.Client
	Organization string
}

// OpenAIClient talks to an OpenAI-compatible chat completions API. It
// covers the three oracle operations the orchestrator needs: plain
// completions, SSE streaming, and forced tool calls for intent
// classification.
type OpenAIClient struct {
	apiKey       string
	baseURL      string
	timeout      time.Duration
	maxRetries   int
	httpClient   *http.Client
	organization string
}

func NewOpenAIClient(config OpenAIClientConfig) *OpenAIClient {
	if strings.TrimSpace(config.BaseURL) == "" {
		config.BaseURL = "https://api.openai.com/v1"
	}
	if config.Timeout <= 0 {
		config.Timeout = 30 * time.Second
	}
	if config.MaxRetries <= 0 {
		config.MaxRetries = 2
	}
	if config.HTTPClient == nil {
		config.HTTPClient = &http.Client{}
	}

	return &OpenAIClient{
		apiKey:       strings.TrimSpace(config.APIKey),
		baseURL:      strings.TrimSuffix(config.BaseURL, "/"),
		timeout:      config.Timeout,
		maxRetries:   config.MaxRetries,
		httpClient:   config.HTTPClient,
		organization: strings.TrimSpace(config.Organization),
	}
}

func (c *OpenAIClient) Available() bool {
	return c.apiKey != ""
}

func (c *OpenAIClient) Generate(ctx context.Context, request GenerateRequest) (GenerateResult, error) {
	if !c.Available() {
		return GenerateResult{}, ErrOpenAIUnavailable
	}
	if strings.TrimSpace(request.Model) == "" {
		return GenerateResult{}, errors.New("model is required")
	}
	if strings.TrimSpace(request.Input) == "" {
		return GenerateResult{}, errors.New("input is required")
	}

	payload, err := json.Marshal(chatPayload(request, false))
	if err != nil {
		return GenerateResult{}, fmt.Errorf("marshal openai payload: %w", err)
	}

	var lastErr error
	for attempt := 0; attempt <= c.maxRetries; attempt++ {
		result, callErr := c.callCompletions(ctx, payload, request.Model)
		if callErr == nil {
			return result, nil
		}
		lastErr = callErr

		if !isRetryableError(callErr) || attempt == c.maxRetries {
			break
		}

		backoff := time.Duration(350*(attempt+1)) * time.Millisecond
		select {
		case <-ctx.Done():
			return GenerateResult{}, ctx.Err()
		case <-time.After(backoff):
		}
	}

	if lastErr == nil {
		lastErr = errors.New("unknown openai error")
	}
	return GenerateResult{}, lastErr
}

// GenerateStream opens an SSE completion stream. Fragments are sent on
// the returned channel in generation order; the channel always ends
// with a single Last fragment and is then closed. Cancelling ctx stops
// the stream without draining the remaining fragments.
func (c *OpenAIClient) GenerateStream(ctx context.Context, request GenerateRequest) (<-chan Fragment, error) {
	if !c.Available() {
		return nil, ErrOpenAIUnavailable
	}
	if strings.TrimSpace(request.Model) == "" {
		return nil, errors.New("model is required")
	}

	payload, err := json.Marshal(chatPayload(request, true))
	if err != nil {
		return nil, fmt.Errorf("marshal openai payload: %w", err)
	}

	httpRequest, err := c.newRequest(ctx, payload)
	if err != nil {
		return nil, err
	}
	httpRequest.Header.Set("Accept", "text/event-stream")

	httpResponse, err := c.httpClient.Do(httpRequest)
	if err != nil {
		return nil, fmt.Errorf("openai transport error: %w", err)
	}
	if httpResponse.StatusCode < 200 || httpResponse.StatusCode > 299 {
		defer httpResponse.Body.Close()
		body, _ := io.ReadAll(io.LimitReader(httpResponse.Body, 700))
		return nil, &openaiHTTPError{
			StatusCode: httpResponse.StatusCode,
			Message:    strings.TrimSpace(string(body)),
		}
	}

	fragments := make(chan Fragment, 8)
	go c.pumpStream(ctx, httpResponse.Body, fragments)
	return fragments, nil
}

func (c *OpenAIClient) pumpStream(ctx context.Context, body io.ReadCloser, fragments chan<- Fragment) {
	defer close(fragments)
	defer body.Close()

	emit := func(fragment Fragment) bool {
		select {
		case <-ctx.Done():
			return false
		case fragments <- fragment:
			return true
		}
	}

	scanner := bufio.NewScanner(body)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for scanner.Scan() {
		if ctx.Err() != nil {
			return
		}
		line := strings.TrimSpace(scanner.Text())
		if !strings.HasPrefix(line, "data:") {
			continue
		}
		data := strings.TrimSpace(strings.TrimPrefix(line, "data:"))
		if data == "[DONE]" {
			emit(Fragment{Last: true})
			return
		}

		var event streamEvent
		if err := json.Unmarshal([]byte(data), &event); err != nil {
			continue
		}
		for _, choice := range event.Choices {
			if choice.Delta.Content == "" {
				continue
			}
			if !emit(Fragment{Text: choice.Delta.Content}) {
				return
			}
		}
	}

	if err := scanner.Err(); err != nil && ctx.Err() == nil {
		emit(Fragment{Err: fmt.Errorf("openai stream interrupted: %w", err), Last: true})
		return
	}
	if ctx.Err() == nil {
		emit(Fragment{Last: true})
	}
}

// CallTool issues a chat completion constrained to the given tools and
// returns the function call the model produced. A response without a
// tool call, or with arguments that are not valid JSON, is reported as
// an unparseable classification rather than an HTTP failure.
func (c *OpenAIClient) CallTool(ctx context.Context, request ToolCallRequest) (ToolCallResult, error) {
	if !c.Available() {
		return ToolCallResult{}, ErrOpenAIUnavailable
	}
	if len(request.Tools) == 0 {
		return ToolCallResult{}, errors.New("at least one tool is required")
	}

	tools := make([]map[string]any, 0, len(request.Tools))
	for _, tool := range request.Tools {
		tools = append(tools, map[string]any{
			"type": "function",
			"function": map[string]any{
				"name":        tool.Name,
				"description": tool.Description,
				"parameters":  json.RawMessage(tool.Parameters),
			},
		})
	}

	body := map[string]any{
		"model": request.Model,
		"messages": []map[string]string{
			{"role": "system", "content": request.Instructions},
			{"role": "user", "content": request.Input},
		},
		"temperature": 0,
		"tools":       tools,
	}
	if request.ForceTool != "" {
		body["tool_choice"] = map[string]any{
			"type":     "function",
			"function": map[string]string{"name": request.ForceTool},
		}
	} else {
		body["tool_choice"] = "required"
	}

	payload, err := json.Marshal(body)
	if err != nil {
		return ToolCallResult{}, fmt.Errorf("marshal tool payload: %w", err)
	}

	var lastErr error
	for attempt := 0; attempt <= c.maxRetries; attempt++ {
		result, callErr := c.callToolOnce(ctx, payload)
		if callErr == nil {
			return result, nil
		}
		lastErr = callErr

		if !isRetryableError(callErr) || attempt == c.maxRetries {
			break
		}

		backoff := time.Duration(350*(attempt+1)) * time.Millisecond
		select {
		case <-ctx.Done():
			return ToolCallResult{}, ctx.Err()
		case <-time.After(backoff):
		}
	}
	return ToolCallResult{}, lastErr
}

func (c *OpenAIClient) callToolOnce(ctx context.Context, payload []byte) (ToolCallResult, error) {
	raw, err := c.doJSON(ctx, payload)
	if err != nil {
		return ToolCallResult{}, err
	}

	for _, choice := range raw.Choices {
		for _, call := range choice.Message.ToolCalls {
			if strings.TrimSpace(call.Function.Name) == "" {
				continue
			}
			if !json.Valid([]byte(call.Function.Arguments)) {
				return ToolCallResult{}, fmt.Errorf("tool call %s: arguments are not valid JSON", call.Function.Name)
			}
			return ToolCallResult{
				Name:      call.Function.Name,
				Arguments: json.RawMessage(call.Function.Arguments),
				ModelID:   raw.Model,
			}, nil
		}
	}
	return ToolCallResult{}, errors.New("openai response without tool call")
}

func (c *OpenAIClient) callCompletions(
	ctx context.Context,
	payload []byte,
	requestedModel string,
) (GenerateResult, error) {
	raw, err := c.doJSON(ctx, payload)
	if err != nil {
		return GenerateResult{}, err
	}

	text := ""
	for _, choice := range raw.Choices {
		if strings.TrimSpace(choice.Message.Content) != "" {
			text = strings.TrimSpace(choice.Message.Content)
			break
		}
	}
	if text == "" {
		return GenerateResult{}, errors.New("openai response without text output")
	}

	return GenerateResult{
		Text:    text,
		ModelID: firstNonEmpty(raw.Model, requestedModel),
		Usage: TokenUsage{
			InputTokens:  raw.Usage.PromptTokens,
			OutputTokens: raw.Usage.CompletionTokens,
			TotalTokens:  raw.Usage.TotalTokens,
		},
	}, nil
}

func (c *OpenAIClient) doJSON(ctx context.Context, payload []byte) (chatResponse, error) {
	timeoutCtx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	httpRequest, err := c.newRequest(timeoutCtx, payload)
	if err != nil {
		return chatResponse{}, err
	}
	httpRequest.Header.Set("Accept", "application/json")

	httpResponse, err := c.httpClient.Do(httpRequest)
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) || errors.Is(timeoutCtx.Err(), context.DeadlineExceeded) {
			return chatResponse{}, fmt.Errorf("openai timeout: %w", err)
		}
		return chatResponse{}, fmt.Errorf("openai transport error: %w", err)
	}
	defer httpResponse.Body.Close()

	body, err := io.ReadAll(httpResponse.Body)
	if err != nil {
		return chatResponse{}, fmt.Errorf("read openai body: %w", err)
	}

	if httpResponse.StatusCode < 200 || httpResponse.StatusCode > 299 {
		message := strings.TrimSpace(string(body))
		if len(message) > 700 {
			message = message[:700]
		}
		return chatResponse{}, &openaiHTTPError{
			StatusCode: httpResponse.StatusCode,
			Message:    message,
		}
	}

	var raw chatResponse
	if err := json.Unmarshal(body, &raw); err != nil {
		return chatResponse{}, fmt.Errorf("decode openai response: %w", err)
	}
	return raw, nil
}

func (c *OpenAIClient) newRequest(ctx context.Context, payload []byte) (*http.Request, error) {
	httpRequest, err := http.NewRequestWithContext(
		ctx,
		http.MethodPost,
		c.baseURL+"/chat/completions",
		bytes.NewReader(payload),
	)
	if err != nil {
		return nil, fmt.Errorf("create openai request: %w", err)
	}
	httpRequest.Header.Set("Authorization", "Bearer "+c.apiKey)
	httpRequest.Header.Set("Content-Type", "application/json")
	if c.organization != "" {
		httpRequest.Header.Set("OpenAI-Organization", c.organization)
	}
	return httpRequest, nil
}

func chatPayload(request GenerateRequest, stream bool) map[string]any {
	messages := make([]map[string]string, 0, 2)
	if strings.TrimSpace(request.Instructions) != "" {
		messages = append(messages, map[string]string{"role": "system", "content": request.Instructions})
	}
	messages = append(messages, map[string]string{"role": "user", "content": request.Input})

	payload := map[string]any{
		"model":       request.Model,
		"messages":    messages,
		"temperature": request.Temperature,
	}
	if request.MaxOutputTokens > 0 {
		payload["max_tokens"] = request.MaxOutputTokens
	}
	if stream {
		payload["stream"] = true
	}
	return payload
}

func firstNonEmpty(values ...string) string {
	for _, value := range values {
		trimmed := strings.TrimSpace(value)
		if trimmed != "" {
			return trimmed
		}
	}
	return ""
}

type chatResponse struct {
	Model   string `json:"model"`
	Choices []struct {
		Message struct {
			Content   string `json:"content"`
			ToolCalls []struct {
				Function struct {
					Name      string `json:"name"`
					Arguments string `json:"arguments"`
				} `json:"function"`
			} `json:"tool_calls"`
		} `json:"message"`
	} `json:"choices"`
	Usage struct {
		PromptTokens     int `json:"prompt_tokens"`
		CompletionTokens int `json:"completion_tokens"`
		TotalTokens      int `json:"total_tokens"`
	} `json:"usage"`
}

type streamEvent struct {
	Choices []struct {
		Delta struct {
			Content string `json:"content"`
		} `json:"delta"`
	} `json:"choices"`
}

type openaiHTTPError struct {
	StatusCode int
	Message    string
}

func (e *openaiHTTPError) Error() string {
	return fmt.Sprintf("openai status %d: %s", e.StatusCode, e.Message)
}

func isRetryableError(err error) bool {
	if err == nil {
		return false
	}
	var httpErr *openaiHTTPError
	if errors.As(err, &httpErr) {
		return httpErr.StatusCode == http.StatusTooManyRequests || httpErr.StatusCode >= 500
	}
	message := err.Error()
	return strings.Contains(message, "timeout") || strings.Contains(message, "transport error")
}
