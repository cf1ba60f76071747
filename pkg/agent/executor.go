package agent

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/mkosler/aide/pkg/conversation"
)

const (
	defaultMaxConcurrent = 4
	defaultToolTimeout   = 60 * time.Second
)

// Executor runs a round's tool calls with bounded concurrency. Tool
// failures become error-text results rather than aborting the round; the
// model sees the error and decides what to do next.
type Executor struct {
	tools         []Tool
	maxConcurrent int
	toolTimeout   time.Duration
}

// NewExecutor creates an executor over the given tools. Zero values fall
// back to defaults.
func NewExecutor(tools []Tool, maxConcurrent int, toolTimeout time.Duration) *Executor {
	if maxConcurrent <= 0 {
		maxConcurrent = defaultMaxConcurrent
	}
	if toolTimeout <= 0 {
		toolTimeout = defaultToolTimeout
	}
	return &Executor{tools: tools, maxConcurrent: maxConcurrent, toolTimeout: toolTimeout}
}

// ExecuteAll runs every call and returns result payloads keyed by tool-call
// id. Results are complete: every call gets an entry, error or not.
func (e *Executor) ExecuteAll(ctx context.Context, calls []conversation.ToolCall) map[string]string {
	results := make([]string, len(calls))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(e.maxConcurrent)
	for i, call := range calls {
		i, call := i, call
		g.Go(func() error {
			results[i] = e.executeOne(gctx, call)
			return nil
		})
	}
	_ = g.Wait()

	out := make(map[string]string, len(calls))
	for i, call := range calls {
		out[call.ID] = results[i]
	}
	return out
}

func (e *Executor) executeOne(ctx context.Context, call conversation.ToolCall) string {
	tool := toolByName(e.tools, call.Name)
	if tool == nil {
		return fmt.Sprintf("Error: tool %q not found", call.Name)
	}

	args := make(map[string]any)
	if call.Arguments != "" {
		if err := json.Unmarshal([]byte(call.Arguments), &args); err != nil {
			return fmt.Sprintf("Error: invalid arguments for %s: %v", call.Name, err)
		}
	}

	callCtx, cancel := context.WithTimeout(ctx, e.toolTimeout)
	defer cancel()

	payload, err := tool.Execute(callCtx, args)
	if err != nil {
		return "Error: " + err.Error()
	}
	return payload
}

// ValidArguments reports whether a call's serialized arguments parse. Used
// by the loop to count tool-input retries on a round.
func ValidArguments(call conversation.ToolCall) bool {
	if call.Arguments == "" {
		return true
	}
	var probe map[string]any
	return json.Unmarshal([]byte(call.Arguments), &probe) == nil
}
