package executor

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/vincentgrobler/crewform-sub000/internal/llmcall"
	"github.com/vincentgrobler/crewform-sub000/internal/provider"
	"github.com/vincentgrobler/crewform-sub000/pkg/models"
)

// partialWriteInterval throttles intermediate result writes while streaming.
const partialWriteInterval = 500 * time.Millisecond

// ExecuteTask runs a single non-team task. Agents with tools enabled go
// through the tool loop on an OpenAI-compatible call shape; everything else
// streams directly from the provider adapter with throttled partial writes.
func (e *Executor) ExecuteTask(ctx context.Context, task *models.Task, runnerID string) error {
	if task.AgentID == nil || *task.AgentID == "" {
		return e.failTask(ctx, task, runnerID, "task has no agent assigned")
	}
	agentID := *task.AgentID

	if err := e.Store.MarkTaskRunning(ctx, task.ID, runnerID); err != nil {
		return fmt.Errorf("mark task running %s: %w", task.ID, err)
	}

	agent, err := e.Store.GetAgent(ctx, agentID)
	if err != nil {
		return e.failTask(ctx, task, runnerID, fmt.Sprintf("resolve agent %s: %v", agentID, err))
	}

	userPrompt := task.Title
	if task.Description != "" {
		userPrompt += "\n\n" + task.Description
	}

	var result *llmcall.Result
	if len(agent.Tools) > 0 && e.Service != nil {
		result, err = e.runWithTools(ctx, task, agent, userPrompt)
	} else {
		result, err = e.runStreaming(ctx, task, runnerID, agentID, userPrompt)
	}
	if err != nil {
		return e.failTask(ctx, task, runnerID, llmcall.FriendlyError(err).Error())
	}

	if err := e.Store.CompleteTask(ctx, task.ID, runnerID, result.Text); err != nil {
		return fmt.Errorf("complete task %s: %w", task.ID, err)
	}
	e.publish(map[string]any{"type": "task_update", "task_id": task.ID, "status": models.StatusCompleted})
	e.Notify.Dispatch("task.completed", map[string]any{
		"task_id":      task.ID,
		"workspace_id": task.WorkspaceID,
		"tokens_total": result.Usage.TotalTokens,
	})
	return nil
}

// runWithTools resolves the agent's adapter and drives the tool loop when the
// provider exposes native tool calls; providers without them fall back to the
// plain streaming path with the tools dropped.
func (e *Executor) runWithTools(ctx context.Context, task *models.Task, agent *models.Agent, userPrompt string) (*llmcall.Result, error) {
	res, err := e.Service.Resolve(ctx, task.WorkspaceID, agent.ID)
	if err != nil {
		return nil, err
	}
	oa, ok := res.Adapter.(*provider.OpenAIAdapter)
	if !ok || !oa.SupportsToolCalls() {
		return e.runStreaming(ctx, task, deref(task.RunnerID), agent.ID, userPrompt)
	}
	defs := e.Tools.Definitions(ctx, agent.Tools)
	out, err := e.Tools.RunToolLoop(ctx, oa, res.APIKey, agent.Model, agent.SystemPrompt, userPrompt, agent.Temperature, defs)
	if err != nil {
		return nil, err
	}
	e.Service.Usage.Record(ctx, task.WorkspaceID, agent.ID, res.Provider, agent.Model, out.Usage)
	return &llmcall.Result{Text: out.Text, Usage: out.Usage, Provider: res.Provider, Model: agent.Model}, nil
}

// runStreaming performs one streamed LLM call, flushing accumulated partial
// text to the task row at most once per partialWriteInterval.
func (e *Executor) runStreaming(ctx context.Context, task *models.Task, runnerID, agentID, userPrompt string) (*llmcall.Result, error) {
	var (
		mu        sync.Mutex
		buf       strings.Builder
		lastFlush time.Time
	)
	onChunk := func(chunk string) {
		mu.Lock()
		buf.WriteString(chunk)
		flush := time.Since(lastFlush) >= partialWriteInterval
		if flush {
			lastFlush = time.Now()
		}
		partial := buf.String()
		mu.Unlock()
		if flush {
			if err := e.Store.UpdateTaskPartial(ctx, task.ID, runnerID, partial); err != nil {
				e.Log.Warn("partial write failed", "task_id", task.ID, "error", err)
			}
		}
	}
	return e.Caller.Execute(ctx, task.WorkspaceID, agentID, "", userPrompt, onChunk)
}

func (e *Executor) failTask(ctx context.Context, task *models.Task, runnerID, errMsg string) error {
	if err := e.Store.FailTask(ctx, task.ID, runnerID, errMsg); err != nil {
		e.Log.Error("fail task write failed", "task_id", task.ID, "error", err)
	}
	e.publish(map[string]any{"type": "task_update", "task_id": task.ID, "status": models.StatusFailed, "error": errMsg})
	e.Notify.Dispatch("task.failed", map[string]any{
		"task_id":      task.ID,
		"workspace_id": task.WorkspaceID,
		"error":        errMsg,
	})
	return fmt.Errorf("task %s failed: %s", task.ID, errMsg)
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}
