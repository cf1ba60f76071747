// Package llm talks to an OpenAI-compatible chat completions endpoint. The
// rest of the repo treats the model as an opaque request/response function;
// nothing outside this package depends on the wire shape.
package llm

import "context"

// Model identifies a model endpoint.
type Model struct {
	ID       string `json:"id" yaml:"id"`
	Provider string `json:"provider" yaml:"provider"`
	BaseURL  string `json:"baseUrl" yaml:"baseUrl"`
	// ContextWindow is the model's context budget in tokens.
	ContextWindow int `json:"contextWindow" yaml:"contextWindow"`
}

// Message is one role-tagged message in a request.
type Message struct {
	Role       string     `json:"role"` // "system", "user", "assistant", "tool"
	Content    string     `json:"content"`
	ToolCalls  []ToolCall `json:"tool_calls,omitempty"`
	ToolCallID string     `json:"tool_call_id,omitempty"`
}

// ToolCall is a tool invocation requested by the model.
type ToolCall struct {
	ID       string       `json:"id"`
	Type     string       `json:"type"` // "function"
	Function FunctionCall `json:"function"`
}

// FunctionCall names a function and carries its serialized arguments.
type FunctionCall struct {
	Name      string `json:"name"`
	Arguments string `json:"arguments"` // JSON string
}

// ToolSpec describes a tool the model may call (or, with tool choice
// "none", may only read about).
type ToolSpec struct {
	Type     string       `json:"type"` // "function"
	Function ToolFunction `json:"function"`
}

// ToolFunction is a tool's schema for the model.
type ToolFunction struct {
	Name        string         `json:"name"`
	Description string         `json:"description"`
	Parameters  map[string]any `json:"parameters"`
}

// Usage is token accounting reported by the endpoint.
type Usage struct {
	InputTokens  int `json:"prompt_tokens"`
	OutputTokens int `json:"completion_tokens"`
	TotalTokens  int `json:"total_tokens"`
}

// Options tunes a single request.
type Options struct {
	Temperature *float64
	MaxTokens   int
	Tools       []ToolSpec
	// ToolChoice forces tool behavior; "none" exposes schemas for
	// descriptive purposes only.
	ToolChoice string
}

// Status classifies a completed request.
type Status string

const (
	StatusSuccess   Status = "success"
	StatusFailed    Status = "failed"
	StatusFiltered  Status = "filtered"
	StatusLength    Status = "length"
	StatusCancelled Status = "cancelled"
)

// Response is the outcome of one model request.
type Response struct {
	Status       Status
	Text         string
	ToolCalls    []ToolCall
	Usage        Usage
	RequestID    string
	ErrorDetails string
}

// Client issues model requests.
type Client interface {
	Complete(ctx context.Context, messages []Message, opts Options) (*Response, error)
}

// Temperature is a convenience for literal Options temperatures.
func Temperature(t float64) *float64 {
	return &t
}
