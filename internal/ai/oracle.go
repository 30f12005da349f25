package ai

import (
	"context"
	"encoding/json"
)

type TokenUsage struct {
	InputTokens  int
	OutputTokens int
	TotalTokens  int
}

type GenerateRequest struct {
	Model           string
	Instructions    string
	Input           string
	Temperature     float64
	MaxOutputTokens int
}

type GenerateResult struct {
	Text    string
	ModelID string
	Usage   TokenUsage
}

// Fragment is one element of a streamed generation. A stream delivers
// text fragments in generation order and terminates with exactly one
// fragment where Last is true; Err is set on that fragment when the
// stream ended abnormally.
type Fragment struct {
	Text string
	Err  error
	Last bool
}

// ToolDefinition describes one callable function exposed to the model.
type ToolDefinition struct {
	Name        string
	Description string
	Parameters  json.RawMessage
}

type ToolCallRequest struct {
	Model        string
	Instructions string
	Input        string
	Tools        []ToolDefinition
	// ForceTool, when set, constrains the model to calling that tool.
	ForceTool string
}

// ToolCallResult is the function call the model chose, with its raw
// JSON arguments left for the caller to decode and validate.
type ToolCallResult struct {
	Name      string
	Arguments json.RawMessage
	ModelID   string
}

// TextGenerator produces completions and ordered fragment streams.
type TextGenerator interface {
	Generate(ctx context.Context, request GenerateRequest) (GenerateResult, error)
	GenerateStream(ctx context.Context, request GenerateRequest) (<-chan Fragment, error)
	Available() bool
}

// ToolCaller performs a function-calling style classification call.
type ToolCaller interface {
	CallTool(ctx context.Context, request ToolCallRequest) (ToolCallResult, error)
}
