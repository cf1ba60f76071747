// Package tools provides the built-in tools the loop can execute.
package tools

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
)

const maxReadSize = 100 * 1024

// ReadTool reads file contents.
type ReadTool struct {
	cwd string
}

// NewReadTool creates a new read tool rooted at cwd.
func NewReadTool(cwd string) *ReadTool {
	return &ReadTool{cwd: cwd}
}

func (t *ReadTool) Name() string {
	return "read"
}

func (t *ReadTool) Description() string {
	return "Read the contents of a text file."
}

func (t *ReadTool) Parameters() map[string]any {
	return map[string]any{
		"type": "object",
		"properties": map[string]any{
			"path": map[string]any{
				"type":        "string",
				"description": "Path to the file to read (relative or absolute)",
			},
		},
		"required": []string{"path"},
	}
}

func (t *ReadTool) Execute(ctx context.Context, args map[string]any) (string, error) {
	path, ok := args["path"].(string)
	if !ok || path == "" {
		return "", fmt.Errorf("invalid path argument")
	}
	if !filepath.IsAbs(path) {
		path = filepath.Join(t.cwd, path)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return "", fmt.Errorf("failed to read file %s: %w", path, err)
	}

	content := string(data)
	if len(content) > maxReadSize {
		content = content[:maxReadSize] + fmt.Sprintf("\n... (truncated, %d bytes total)", len(data))
	}
	return content, nil
}
