package cron

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"minibot/internal/domain"
	"minibot/internal/tool"
)

// Tool lets the model schedule, list and cancel reminders for the
// conversation it is serving. The target channel and chat come from the
// turn origin, so a job always reports back to whoever created it.
type Tool struct {
	store domain.Store
}

func NewTool(store domain.Store) *Tool {
	return &Tool{store: store}
}

func (t *Tool) Name() string { return "cron" }

func (t *Tool) Description() string {
	return "Schedule reminders. action=add schedules a message (delay_seconds from now, optional interval_seconds to repeat), action=list shows jobs, action=remove cancels one by id."
}

func (t *Tool) Parameters() map[string]any {
	return tool.ToolParameters(
		map[string]tool.Param{
			"action":           {Type: "string", Description: "One of: add, list, remove"},
			"message":          {Type: "string", Description: "The reminder text (for add)"},
			"delay_seconds":    {Type: "integer", Description: "Seconds from now until the first run (for add)"},
			"interval_seconds": {Type: "integer", Description: "Repeat interval in seconds, omit for one-shot (for add)"},
			"id":               {Type: "string", Description: "Job id (for remove)"},
		},
		[]string{"action"},
	)
}

func (t *Tool) Execute(ctx context.Context, args map[string]any) (string, error) {
	switch tool.ArgsString(args, "action") {
	case "add":
		return t.add(ctx, args)
	case "list":
		return t.list(ctx)
	case "remove":
		return t.remove(ctx, args)
	default:
		return "", fmt.Errorf("unknown action: %q (want add, list or remove)", tool.ArgsString(args, "action"))
	}
}

func (t *Tool) add(ctx context.Context, args map[string]any) (string, error) {
	message := strings.TrimSpace(tool.ArgsString(args, "message"))
	if message == "" {
		return "", fmt.Errorf("missing argument: message")
	}
	delay := tool.ArgsInt(args, "delay_seconds", 0)
	if delay < 0 {
		return "", fmt.Errorf("delay_seconds must not be negative")
	}
	origin, ok := tool.OriginFrom(ctx)
	if !ok {
		return "", fmt.Errorf("no conversation origin on this turn")
	}

	job := domain.CronJob{
		ID:              uuid.NewString()[:8],
		Message:         message,
		Channel:         origin.Channel,
		ChatID:          origin.ChatID,
		IntervalSeconds: int64(tool.ArgsInt(args, "interval_seconds", 0)),
		NextRun:         time.Now().Add(time.Duration(delay) * time.Second),
		CreatedAt:       time.Now(),
	}
	if err := t.store.SaveCronJob(ctx, job); err != nil {
		return "", fmt.Errorf("save cron job: %w", err)
	}

	if job.IntervalSeconds > 0 {
		return fmt.Sprintf("Scheduled job %s: first run in %ds, repeating every %ds.", job.ID, delay, job.IntervalSeconds), nil
	}
	return fmt.Sprintf("Scheduled job %s: runs once in %ds.", job.ID, delay), nil
}

func (t *Tool) list(ctx context.Context) (string, error) {
	jobs, err := t.store.ListCronJobs(ctx)
	if err != nil {
		return "", fmt.Errorf("list cron jobs: %w", err)
	}
	if len(jobs) == 0 {
		return "No scheduled jobs.", nil
	}

	var b strings.Builder
	for _, job := range jobs {
		repeat := "once"
		if job.IntervalSeconds > 0 {
			repeat = fmt.Sprintf("every %ds", job.IntervalSeconds)
		}
		fmt.Fprintf(&b, "- %s: %q at %s (%s)\n", job.ID, job.Message, job.NextRun.Format(time.RFC3339), repeat)
	}
	return strings.TrimRight(b.String(), "\n"), nil
}

func (t *Tool) remove(ctx context.Context, args map[string]any) (string, error) {
	id := strings.TrimSpace(tool.ArgsString(args, "id"))
	if id == "" {
		return "", fmt.Errorf("missing argument: id")
	}
	if err := t.store.DeleteCronJob(ctx, id); err != nil {
		return "", fmt.Errorf("remove cron job: %w", err)
	}
	return fmt.Sprintf("Removed job %s.", id), nil
}
