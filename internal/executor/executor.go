// Package executor runs claimed work: single-agent tasks and the three team
// topologies (pipeline, orchestrator, collaboration). All executors share the
// LLM call service and write progress incrementally so the run is observable
// while it is live.
package executor

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/google/uuid"

	"github.com/vincentgrobler/crewform-sub000/internal/llmcall"
	"github.com/vincentgrobler/crewform-sub000/internal/notify"
	"github.com/vincentgrobler/crewform-sub000/internal/store"
	"github.com/vincentgrobler/crewform-sub000/internal/tools"
	"github.com/vincentgrobler/crewform-sub000/pkg/models"
)

// Publisher receives live execution events for fan-out to stream
// subscribers. The HTTP layer's SSE hub implements it.
type Publisher interface {
	PublishJSON(v any)
}

// Executor carries the shared dependencies of every execution strategy.
// Caller is the LLM entry point; tests substitute a fake. Service is the
// concrete call service, needed only by the tool-loop path to resolve the
// adapter and credential directly; it may be nil when no agent uses tools.
type Executor struct {
	Store   store.Store
	Caller  llmcall.Caller
	Service *llmcall.Service
	Tools   *tools.Executor
	Notify  *notify.Outbox
	Events  Publisher // nil disables live events
	Log     *slog.Logger
	// Parser overrides the orchestrator's brain-output parser; nil selects
	// the free-text JSON parser.
	Parser BrainParser
}

func (e *Executor) publish(v any) {
	if e.Events != nil {
		e.Events.PublishJSON(v)
	}
}

// ExecuteTeamRun routes a claimed run to the executor matching its team mode.
func (e *Executor) ExecuteTeamRun(ctx context.Context, run *models.TeamRun, runnerID string) error {
	team, err := e.Store.GetTeam(ctx, run.TeamID)
	if err != nil {
		msg := fmt.Sprintf("load team %s: %v", run.TeamID, err)
		e.failRun(ctx, run, runnerID, msg)
		return fmt.Errorf("load team %s: %w", run.TeamID, err)
	}
	switch team.Mode {
	case models.ModePipeline:
		return e.ExecutePipeline(ctx, run, team, runnerID)
	case models.ModeOrchestrator:
		return e.ExecuteOrchestrator(ctx, run, team, runnerID)
	case models.ModeCollaboration:
		return e.ExecuteCollaboration(ctx, run, team, runnerID)
	}
	msg := fmt.Sprintf("unknown team mode %q", team.Mode)
	e.failRun(ctx, run, runnerID, msg)
	return fmt.Errorf("team %s: unknown mode %q", team.ID, team.Mode)
}

// cancelled reports whether the run has been cancelled by an external actor.
// Executors call this before each step, turn, or loop iteration.
func (e *Executor) cancelled(ctx context.Context, runID string) bool {
	status, err := e.Store.TeamRunStatus(ctx, runID)
	if err != nil {
		return false
	}
	return status == models.StatusCancelled
}

// recordMessage appends one activity-log entry, logging but not propagating
// failures: a lost log line must not fail the run.
func (e *Executor) recordMessage(ctx context.Context, runID string, senderID *string, msgType, content string, stepIdx *int, tokens int) {
	_, err := e.Store.AppendTeamMessage(ctx, models.TeamMessage{
		ID:          uuid.NewString(),
		RunID:       runID,
		SenderID:    senderID,
		MessageType: msgType,
		Content:     content,
		StepIdx:     stepIdx,
		TokenCount:  tokens,
	})
	if err != nil {
		e.Log.Warn("append team message failed", "run_id", runID, "type", msgType, "error", err)
		return
	}
	e.publish(map[string]any{
		"type":         "team_message",
		"run_id":       runID,
		"sender_id":    senderID,
		"message_type": msgType,
		"content":      content,
		"step_idx":     stepIdx,
	})
}

// persistProgress adds token/cost deltas (and optionally raises the step
// index) on the run row. Best-effort; progress loss is logged, not fatal.
func (e *Executor) persistProgress(ctx context.Context, runID, runnerID string, stepIdx *int, delegationDepth, tokensDelta int, costDelta float64) {
	if err := e.Store.UpdateRunProgress(ctx, runID, runnerID, stepIdx, delegationDepth, tokensDelta, costDelta); err != nil {
		e.Log.Warn("update run progress failed", "run_id", runID, "error", err)
		return
	}
	e.publish(map[string]any{
		"type":         "run_progress",
		"run_id":       runID,
		"step_idx":     stepIdx,
		"tokens_delta": tokensDelta,
		"cost_delta":   costDelta,
	})
}

func (e *Executor) completeRun(ctx context.Context, run *models.TeamRun, runnerID, output string) error {
	if err := e.Store.CompleteTeamRun(ctx, run.ID, runnerID, output); err != nil {
		return fmt.Errorf("complete run %s: %w", run.ID, err)
	}
	e.publish(map[string]any{"type": "run_update", "run_id": run.ID, "status": models.StatusCompleted})
	e.Notify.Dispatch("team_run.completed", map[string]any{
		"run_id":       run.ID,
		"team_id":      run.TeamID,
		"workspace_id": run.WorkspaceID,
	})
	return nil
}

func (e *Executor) failRun(ctx context.Context, run *models.TeamRun, runnerID, errMsg string) {
	if err := e.Store.FailTeamRun(ctx, run.ID, runnerID, errMsg); err != nil {
		e.Log.Error("fail run write failed", "run_id", run.ID, "error", err)
	}
	e.publish(map[string]any{"type": "run_update", "run_id": run.ID, "status": models.StatusFailed, "error": errMsg})
	e.Notify.Dispatch("team_run.failed", map[string]any{
		"run_id":       run.ID,
		"team_id":      run.TeamID,
		"workspace_id": run.WorkspaceID,
		"error":        errMsg,
	})
}
