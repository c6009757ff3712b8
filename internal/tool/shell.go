package tool

import (
	"context"
	"fmt"
	"os/exec"
	"path/filepath"
	"strings"
	"time"
)

const (
	defaultShellTimeout   = 30
	defaultMaxOutputBytes = 65536
)

// destructivePatterns is the exec policy denylist. A command matching any
// of these is refused with a policy error before it ever reaches a shell.
var destructivePatterns = []string{
	"rm -rf /",
	"rm -fr /",
	"mkfs",
	"dd if=",
	":(){",
	"> /dev/sd",
	"shutdown",
	"reboot",
	"halt -f",
	"chmod -R 777 /",
}

// checkPolicy rejects destructive commands. The returned error text is
// what the model sees in the ToolResult.
func checkPolicy(command string) error {
	normalized := strings.ToLower(strings.Join(strings.Fields(command), " "))
	for _, pattern := range destructivePatterns {
		if strings.Contains(normalized, pattern) {
			return fmt.Errorf("blocked by policy: %q", command)
		}
	}
	return nil
}

// ExecTool runs a shell command in the workspace.
type ExecTool struct {
	workingDir     string
	timeoutSeconds int
	maxOutputBytes int
}

type ExecConfig struct {
	WorkingDir     string
	TimeoutSeconds int
	MaxOutputBytes int
}

func NewExecTool(cfg ExecConfig) *ExecTool {
	if cfg.TimeoutSeconds <= 0 {
		cfg.TimeoutSeconds = defaultShellTimeout
	}
	if cfg.MaxOutputBytes <= 0 {
		cfg.MaxOutputBytes = defaultMaxOutputBytes
	}
	return &ExecTool{
		workingDir:     cfg.WorkingDir,
		timeoutSeconds: cfg.TimeoutSeconds,
		maxOutputBytes: cfg.MaxOutputBytes,
	}
}

func (t *ExecTool) Name() string { return "exec" }

func (t *ExecTool) Description() string {
	return "Execute a shell command. Use for running terminal commands, scripts, or any CLI tool. Returns stdout and stderr."
}

func (t *ExecTool) Parameters() map[string]any {
	return ToolParameters(
		map[string]Param{
			"command": {Type: "string", Description: "The shell command to execute (e.g. 'ls -la', 'git status')"},
		},
		[]string{"command"},
	)
}

func (t *ExecTool) Execute(ctx context.Context, args map[string]any) (string, error) {
	command := strings.TrimSpace(ArgsString(args, "command"))
	if command == "" {
		return "", fmt.Errorf("missing argument: command")
	}
	if err := checkPolicy(command); err != nil {
		return "", err
	}

	dir := t.workingDir
	if dir == "" {
		dir = "."
	}
	absDir, err := filepath.Abs(dir)
	if err != nil {
		absDir = dir
	}

	timeout := time.Duration(t.timeoutSeconds) * time.Second
	cmdCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	// sh -c for reliable handling of pipes, redirects and quotes.
	cmd := exec.CommandContext(cmdCtx, "sh", "-c", command)
	cmd.Dir = absDir

	output, err := cmd.CombinedOutput()
	if err != nil {
		if cmdCtx.Err() != nil {
			return "", fmt.Errorf("command timed out or cancelled")
		}
		return string(output), fmt.Errorf("exit: %w", err)
	}

	result := string(output)
	if len(result) > t.maxOutputBytes {
		result = result[:t.maxOutputBytes] + "\n... (output truncated)"
	}
	if strings.TrimSpace(result) == "" {
		return "(no output)", nil
	}
	return result, nil
}
