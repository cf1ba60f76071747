package tools

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// ListTool lists directory entries.
type ListTool struct {
	cwd string
}

// NewListTool creates a new directory listing tool rooted at cwd.
func NewListTool(cwd string) *ListTool {
	return &ListTool{cwd: cwd}
}

func (t *ListTool) Name() string {
	return "list"
}

func (t *ListTool) Description() string {
	return "List the entries of a directory."
}

func (t *ListTool) Parameters() map[string]any {
	return map[string]any{
		"type": "object",
		"properties": map[string]any{
			"path": map[string]any{
				"type":        "string",
				"description": "Directory to list; defaults to the working directory",
			},
		},
	}
}

func (t *ListTool) Execute(ctx context.Context, args map[string]any) (string, error) {
	path, _ := args["path"].(string)
	if path == "" {
		path = "."
	}
	if !filepath.IsAbs(path) {
		path = filepath.Join(t.cwd, path)
	}

	entries, err := os.ReadDir(path)
	if err != nil {
		return "", fmt.Errorf("failed to list %s: %w", path, err)
	}

	var sb strings.Builder
	for _, e := range entries {
		if e.IsDir() {
			sb.WriteString(e.Name() + "/\n")
		} else {
			sb.WriteString(e.Name() + "\n")
		}
	}
	if sb.Len() == 0 {
		return "(empty directory)", nil
	}
	return sb.String(), nil
}
