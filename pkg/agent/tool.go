package agent

import (
	"context"

	"github.com/mkosler/aide/pkg/llm"
)

// Tool is a capability the model can invoke during a round.
type Tool interface {
	Name() string
	Description() string
	// Parameters returns the JSON-schema parameter object for the tool.
	Parameters() map[string]any
	Execute(ctx context.Context, args map[string]any) (string, error)
}

// ToolSpecs converts tools to the model-facing schema list.
func ToolSpecs(tools []Tool) []llm.ToolSpec {
	specs := make([]llm.ToolSpec, 0, len(tools))
	for _, t := range tools {
		specs = append(specs, llm.ToolSpec{
			Type: "function",
			Function: llm.ToolFunction{
				Name:        t.Name(),
				Description: t.Description(),
				Parameters:  t.Parameters(),
			},
		})
	}
	return specs
}

func toolByName(tools []Tool, name string) Tool {
	for _, t := range tools {
		if t.Name() == name {
			return t
		}
	}
	return nil
}
