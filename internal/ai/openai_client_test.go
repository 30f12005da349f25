package ai

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"
)

func TestOpenAIClientGenerateSuccess(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/chat/completions" {
			w.WriteHeader(http.StatusNotFound)
			_, _ = w.Write([]byte(`{"error":"not_found"}`))
			return
		}
		if got := r.Header.Get("Authorization"); got != "Bearer test-key" {
			w.WriteHeader(http.StatusUnauthorized)
			_, _ = w.Write([]byte(`{"error":"unauthorized"}`))
			return
		}
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{
			"model":"gpt-4o-mini",
			"choices":[{"message":{"role":"assistant","content":"answer text"}}],
			"usage":{"prompt_tokens":120,"completion_tokens":25,"total_tokens":145}
		}`))
	}))
	defer server.Close()

	client := NewOpenAIClient(OpenAIClientConfig{
		APIKey:     "test-key",
		BaseURL:    server.URL,
		Timeout:    2 * time.Second,
		MaxRetries: 1,
	})

	result, err := client.Generate(context.Background(), GenerateRequest{
		Model: "gpt-4o-mini",
		Input: "test prompt",
	})
	if err != nil {
		t.Fatalf("expected success, got err=%v", err)
	}
	if result.Text != "answer text" {
		t.Fatalf("unexpected text %q", result.Text)
	}
	if result.Usage.TotalTokens != 145 {
		t.Fatalf("expected total tokens 145, got %d", result.Usage.TotalTokens)
	}
}

func TestOpenAIClientRetriesOnRateLimit(t *testing.T) {
	var calls int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		current := atomic.AddInt32(&calls, 1)
		if current == 1 {
			w.WriteHeader(http.StatusTooManyRequests)
			_, _ = w.Write([]byte(`{"error":"rate_limited"}`))
			return
		}
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{
			"model":"gpt-4o-mini",
			"choices":[{"message":{"role":"assistant","content":"ok"}}]
		}`))
	}))
	defer server.Close()

	client := NewOpenAIClient(OpenAIClientConfig{
		APIKey:     "test-key",
		BaseURL:    server.URL,
		Timeout:    2 * time.Second,
		MaxRetries: 2,
	})

	result, err := client.Generate(context.Background(), GenerateRequest{
		Model: "gpt-4o-mini",
		Input: "retry me",
	})
	if err != nil {
		t.Fatalf("expected retry to succeed, got err=%v", err)
	}
	if result.Text != "ok" {
		t.Fatalf("unexpected text %q", result.Text)
	}
	if atomic.LoadInt32(&calls) != 2 {
		t.Fatalf("expected exactly 2 calls, got %d", calls)
	}
}

func TestOpenAIClientCallToolReturnsArguments(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{
			"model":"gpt-4o-mini",
			"choices":[{"message":{"tool_calls":[
				{"function":{"name":"call_ingest_tool","arguments":"{\"repo\":\"acme/widgets\"}"}}
			]}}]
		}`))
	}))
	defer server.Close()

	client := NewOpenAIClient(OpenAIClientConfig{
		APIKey:  "test-key",
		BaseURL: server.URL,
	})

	result, err := client.CallTool(context.Background(), ToolCallRequest{
		Model: "gpt-4o-mini",
		Input: "please index acme/widgets",
		Tools: []ToolDefinition{{
			Name:       "call_ingest_tool",
			Parameters: []byte(`{"type":"object","properties":{"repo":{"type":"string"}}}`),
		}},
	})
	if err != nil {
		t.Fatalf("expected tool call, got err=%v", err)
	}
	if result.Name != "call_ingest_tool" {
		t.Fatalf("unexpected tool name %q", result.Name)
	}
	if string(result.Arguments) != `{"repo":"acme/widgets"}` {
		t.Fatalf("unexpected arguments %s", result.Arguments)
	}
}

func TestOpenAIClientGenerateStreamDeliversOrderedFragments(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "text/event-stream")
		_, _ = w.Write([]byte("data: {\"choices\":[{\"delta\":{\"content\":\"hello\"}}]}\n\n"))
		_, _ = w.Write([]byte("data: {\"choices\":[{\"delta\":{\"content\":\" world\"}}]}\n\n"))
		_, _ = w.Write([]byte("data: [DONE]\n\n"))
	}))
	defer server.Close()

	client := NewOpenAIClient(OpenAIClientConfig{
		APIKey:  "test-key",
		BaseURL: server.URL,
	})

	fragments, err := client.GenerateStream(context.Background(), GenerateRequest{
		Model: "gpt-4o-mini",
		Input: "stream me",
	})
	if err != nil {
		t.Fatalf("expected stream, got err=%v", err)
	}

	var text string
	var sawLast bool
	for fragment := range fragments {
		if fragment.Err != nil {
			t.Fatalf("unexpected stream error: %v", fragment.Err)
		}
		if fragment.Last {
			sawLast = true
			continue
		}
		if sawLast {
			t.Fatalf("fragment delivered after end-of-stream marker")
		}
		text += fragment.Text
	}
	if text != "hello world" {
		t.Fatalf("unexpected streamed text %q", text)
	}
	if !sawLast {
		t.Fatalf("stream ended without end-of-stream marker")
	}
}
