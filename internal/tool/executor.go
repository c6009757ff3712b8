package tool

import (
	"context"
	"fmt"
	"time"

	"minibot/internal/domain"
)

const defaultCallTimeout = 60 * time.Second

// ExecuteBatch runs every call in the batch concurrently, each under its
// own timeout, and returns exactly one ToolResult per ToolCall in call
// order. A failing call never aborts its siblings: unknown tools, schema
// violations, handler errors, panics and timeouts all become error
// results. When the batch context's deadline elapses first, still-pending
// calls are cancelled and reported as timeouts.
func (r *Registry) ExecuteBatch(ctx context.Context, calls []domain.ToolCall, perCallTimeout time.Duration) []domain.ToolResult {
	if perCallTimeout <= 0 {
		perCallTimeout = defaultCallTimeout
	}

	type indexed struct {
		i      int
		result domain.ToolResult
	}
	resultCh := make(chan indexed, len(calls))

	for i, call := range calls {
		go func(i int, call domain.ToolCall) {
			resultCh <- indexed{i: i, result: r.executeOne(ctx, call, perCallTimeout)}
		}(i, call)
	}

	results := make([]domain.ToolResult, len(calls))
	pending := make(map[int]domain.ToolCall, len(calls))
	for i, call := range calls {
		pending[i] = call
	}

	for len(pending) > 0 {
		select {
		case res := <-resultCh:
			results[res.i] = res.result
			delete(pending, res.i)
		case <-ctx.Done():
			// Batch deadline: report every unfinished call as a timeout.
			// The handlers' contexts descend from ctx, so they are
			// already cancelled.
			for i, call := range pending {
				results[i] = domain.ToolResult{
					CallID:  call.ID,
					Content: fmt.Sprintf("tool %s: batch deadline exceeded", call.Name),
					IsError: true,
				}
			}
			return results
		}
	}
	return results
}

func (r *Registry) executeOne(ctx context.Context, call domain.ToolCall, timeout time.Duration) (result domain.ToolResult) {
	result.CallID = call.ID

	defer func() {
		if rec := recover(); rec != nil {
			r.logger.Error("tool handler panicked", "tool", call.Name, "panic", rec)
			result.Content = fmt.Sprintf("tool %s: internal error", call.Name)
			result.IsError = true
		}
	}()

	t := r.Get(call.Name)
	if t == nil {
		result.Content = fmt.Sprintf("unknown tool: %s (available: %v)", call.Name, r.Names())
		result.IsError = true
		return result
	}

	if err := validateArgs(t.Parameters(), call.Arguments); err != nil {
		result.Content = fmt.Sprintf("invalid arguments for %s: %s", call.Name, err)
		result.IsError = true
		return result
	}

	callCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	started := time.Now()
	content, err := t.Execute(callCtx, call.Arguments)
	if err != nil {
		if callCtx.Err() != nil {
			result.Content = fmt.Sprintf("tool %s timed out after %s", call.Name, timeout)
		} else {
			result.Content = fmt.Sprintf("tool %s failed: %s", call.Name, err)
		}
		result.IsError = true
		return result
	}

	r.logger.Debug("tool completed",
		"tool", call.Name,
		"duration", time.Since(started),
		"result_len", len(content),
	)
	result.Content = content
	return result
}
