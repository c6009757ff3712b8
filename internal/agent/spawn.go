package agent

import (
	"context"
	"fmt"
	"strings"
	"time"

	"minibot/internal/tool"
)

const defaultSpawnDeadline = 5 * time.Minute

// SpawnTool delegates a self-contained task to a sub-agent and blocks
// until it finishes. The sub-agent works in its own conversation and
// returns only its final text.
type SpawnTool struct {
	spawner  *Spawner
	deadline time.Duration
}

func NewSpawnTool(spawner *Spawner, deadline time.Duration) *SpawnTool {
	if deadline <= 0 {
		deadline = defaultSpawnDeadline
	}
	return &SpawnTool{spawner: spawner, deadline: deadline}
}

func (t *SpawnTool) Name() string { return "spawn" }
func (t *SpawnTool) Description() string {
	return "Delegate a self-contained task to a background sub-agent and wait for its result. The sub-agent has its own tools but cannot message the user or spawn further agents."
}
func (t *SpawnTool) Parameters() map[string]any {
	return tool.ToolParameters(
		map[string]tool.Param{
			"task": {Type: "string", Description: "Complete description of the task, including everything the sub-agent needs to know"},
		},
		[]string{"task"},
	)
}

func (t *SpawnTool) Execute(ctx context.Context, args map[string]any) (string, error) {
	task := strings.TrimSpace(tool.ArgsString(args, "task"))
	if task == "" {
		return "", fmt.Errorf("missing argument: task")
	}
	origin, ok := tool.OriginFrom(ctx)
	if !ok {
		return "", fmt.Errorf("no conversation origin on this turn")
	}

	h, err := t.spawner.Spawn(task, origin)
	if err != nil {
		return "", err
	}
	return t.spawner.AwaitResult(ctx, h, t.deadline)
}
