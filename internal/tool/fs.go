package tool

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// resolvePath resolves a file path relative to the workspace. When
// restrict is set, paths escaping the workspace are rejected.
func resolvePath(workspace, path string, restrict bool) (string, error) {
	path = strings.TrimSpace(path)
	if path == "" {
		return "", fmt.Errorf("missing argument: path")
	}
	if !filepath.IsAbs(path) && workspace != "" {
		path = filepath.Join(workspace, path)
	}
	resolved, err := filepath.Abs(filepath.Clean(path))
	if err != nil {
		return "", fmt.Errorf("resolve path: %w", err)
	}
	if restrict && workspace != "" {
		wsAbs, err := filepath.Abs(workspace)
		if err != nil {
			return "", fmt.Errorf("resolve workspace: %w", err)
		}
		if resolved != wsAbs && !strings.HasPrefix(resolved, wsAbs+string(filepath.Separator)) {
			return "", fmt.Errorf("path %q is outside workspace", resolved)
		}
	}
	return resolved, nil
}

// FSConfig configures the filesystem tool family.
type FSConfig struct {
	Workspace           string
	RestrictToWorkspace bool
}

// --- ReadFileTool ---

type ReadFileTool struct{ cfg FSConfig }

func NewReadFileTool(cfg FSConfig) *ReadFileTool { return &ReadFileTool{cfg: cfg} }

func (t *ReadFileTool) Name() string { return "read_file" }
func (t *ReadFileTool) Description() string {
	return "Read the contents of a file. Provide the file path relative to workspace or absolute."
}
func (t *ReadFileTool) Parameters() map[string]any {
	return ToolParameters(
		map[string]Param{
			"path": {Type: "string", Description: "File path to read"},
		},
		[]string{"path"},
	)
}

func (t *ReadFileTool) Execute(ctx context.Context, args map[string]any) (string, error) {
	resolved, err := resolvePath(t.cfg.Workspace, ArgsString(args, "path"), t.cfg.RestrictToWorkspace)
	if err != nil {
		return "", err
	}
	data, err := os.ReadFile(resolved)
	if err != nil {
		return "", fmt.Errorf("read file: %w", err)
	}
	return string(data), nil
}

// --- WriteFileTool ---

type WriteFileTool struct{ cfg FSConfig }

func NewWriteFileTool(cfg FSConfig) *WriteFileTool { return &WriteFileTool{cfg: cfg} }

func (t *WriteFileTool) Name() string { return "write_file" }
func (t *WriteFileTool) Description() string {
	return "Write content to a file. Creates the file if it does not exist; overwrites if it exists."
}
func (t *WriteFileTool) Parameters() map[string]any {
	return ToolParameters(
		map[string]Param{
			"path":    {Type: "string", Description: "File path to write"},
			"content": {Type: "string", Description: "Content to write to the file"},
		},
		[]string{"path", "content"},
	)
}

func (t *WriteFileTool) Execute(ctx context.Context, args map[string]any) (string, error) {
	content := ArgsString(args, "content")
	resolved, err := resolvePath(t.cfg.Workspace, ArgsString(args, "path"), t.cfg.RestrictToWorkspace)
	if err != nil {
		return "", err
	}
	if err := os.MkdirAll(filepath.Dir(resolved), 0o755); err != nil {
		return "", fmt.Errorf("create directory: %w", err)
	}
	if err := os.WriteFile(resolved, []byte(content), 0o644); err != nil {
		return "", fmt.Errorf("write file: %w", err)
	}
	return fmt.Sprintf("Wrote %d bytes to %s", len(content), resolved), nil
}

// --- EditFileTool ---

// EditFileTool replaces an exact text fragment within a file.
type EditFileTool struct{ cfg FSConfig }

func NewEditFileTool(cfg FSConfig) *EditFileTool { return &EditFileTool{cfg: cfg} }

func (t *EditFileTool) Name() string { return "edit_file" }
func (t *EditFileTool) Description() string {
	return "Edit a file by replacing an exact text fragment. The old text must appear exactly once."
}
func (t *EditFileTool) Parameters() map[string]any {
	return ToolParameters(
		map[string]Param{
			"path":     {Type: "string", Description: "File path to edit"},
			"old_text": {Type: "string", Description: "Exact text to replace"},
			"new_text": {Type: "string", Description: "Replacement text"},
		},
		[]string{"path", "old_text", "new_text"},
	)
}

func (t *EditFileTool) Execute(ctx context.Context, args map[string]any) (string, error) {
	resolved, err := resolvePath(t.cfg.Workspace, ArgsString(args, "path"), t.cfg.RestrictToWorkspace)
	if err != nil {
		return "", err
	}
	oldText := ArgsString(args, "old_text")
	newText := ArgsString(args, "new_text")
	if oldText == "" {
		return "", fmt.Errorf("missing argument: old_text")
	}

	data, err := os.ReadFile(resolved)
	if err != nil {
		return "", fmt.Errorf("read file: %w", err)
	}
	content := string(data)
	switch strings.Count(content, oldText) {
	case 0:
		return "", fmt.Errorf("old_text not found in %s", resolved)
	case 1:
	default:
		return "", fmt.Errorf("old_text appears multiple times in %s; provide more context", resolved)
	}

	content = strings.Replace(content, oldText, newText, 1)
	if err := os.WriteFile(resolved, []byte(content), 0o644); err != nil {
		return "", fmt.Errorf("write file: %w", err)
	}
	return fmt.Sprintf("Edited %s", resolved), nil
}

// --- ListDirTool ---

type ListDirTool struct{ cfg FSConfig }

func NewListDirTool(cfg FSConfig) *ListDirTool { return &ListDirTool{cfg: cfg} }

func (t *ListDirTool) Name() string { return "list_dir" }
func (t *ListDirTool) Description() string {
	return "List files and directories at a given path. Directories are marked with a trailing slash."
}
func (t *ListDirTool) Parameters() map[string]any {
	return ToolParameters(
		map[string]Param{
			"path": {Type: "string", Description: "Directory path to list"},
		},
		[]string{"path"},
	)
}

func (t *ListDirTool) Execute(ctx context.Context, args map[string]any) (string, error) {
	resolved, err := resolvePath(t.cfg.Workspace, ArgsString(args, "path"), t.cfg.RestrictToWorkspace)
	if err != nil {
		return "", err
	}
	entries, err := os.ReadDir(resolved)
	if err != nil {
		return "", fmt.Errorf("list dir: %w", err)
	}
	if len(entries) == 0 {
		return "(empty directory)", nil
	}
	var b strings.Builder
	for _, entry := range entries {
		b.WriteString(entry.Name())
		if entry.IsDir() {
			b.WriteByte('/')
		}
		b.WriteByte('\n')
	}
	return strings.TrimRight(b.String(), "\n"), nil
}
