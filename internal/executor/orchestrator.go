package executor

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/vincentgrobler/crewform-sub000/internal/llmcall"
	"github.com/vincentgrobler/crewform-sub000/pkg/models"
)

// Brain tool names. The menu is serialized into the brain's system prompt;
// the brain answers with a JSON object naming one of these.
const (
	brainDelegate    = "delegate_to_worker"
	brainRevision    = "request_revision"
	brainAccept      = "accept_result"
	brainFinalAnswer = "final_answer"
)

// BrainCall is one parsed brain decision.
type BrainCall struct {
	Tool   string         `json:"tool"`
	Params map[string]any `json:"params"`
}

// BrainParser extracts a tool call from the brain's raw output. The default
// is free-text JSON extraction; providers with reliable structured output can
// substitute a stricter parser.
type BrainParser interface {
	Parse(text string) (*BrainCall, bool)
}

// TextBrainParser finds the first balanced JSON object in the text that
// carries a "tool" key. No object found means no tool call.
type TextBrainParser struct{}

func (TextBrainParser) Parse(text string) (*BrainCall, bool) {
	for start := 0; start < len(text); start++ {
		if text[start] != '{' {
			continue
		}
		depth := 0
		inStr := false
		esc := false
		for i := start; i < len(text); i++ {
			c := text[i]
			switch {
			case esc:
				esc = false
			case inStr && c == '\\':
				esc = true
			case c == '"':
				inStr = !inStr
			case inStr:
			case c == '{':
				depth++
			case c == '}':
				depth--
				if depth == 0 {
					var call BrainCall
					if err := json.Unmarshal([]byte(text[start:i+1]), &call); err == nil && call.Tool != "" {
						return &call, true
					}
					i = len(text) // malformed or toolless object, try next '{'
				}
			}
		}
	}
	return nil, false
}

// ExecuteOrchestrator runs the brain/worker loop: the brain agent is prompted
// with a fixed tool menu and a transcript of what has happened so far, and
// each parsed decision is applied to the delegation set. The loop is bounded;
// exhausting it finalizes the run with the concatenated completed worker
// outputs as a best-effort answer.
func (e *Executor) ExecuteOrchestrator(ctx context.Context, run *models.TeamRun, team *models.Team, runnerID string) error {
	cfg := team.Config.Orchestrator
	if cfg == nil || cfg.BrainAgentID == "" || len(cfg.WorkerAgentIDs) == 0 {
		msg := "team has no orchestrator configuration"
		e.failRun(ctx, run, runnerID, msg)
		return fmt.Errorf("run %s: %s", run.ID, msg)
	}
	if err := e.Store.MarkTeamRunRunning(ctx, run.ID, runnerID); err != nil {
		return fmt.Errorf("mark run running %s: %w", run.ID, err)
	}

	maxDepth := cfg.MaxDelegationDepth
	if maxDepth <= 0 {
		maxDepth = 3
	}
	parser := e.brainParser()

	delegations := map[string]*models.Delegation{}
	var order []string      // delegation ids in creation order
	var transcript []string // feedback shown to the brain on the next iteration

	for iter := 1; iter <= models.DefaultMaxBrainIterations; iter++ {
		if e.cancelled(ctx, run.ID) {
			e.recordMessage(ctx, run.ID, nil, models.MessageSystem, "run cancelled", nil, 0)
			return nil
		}

		brainOut, err := e.Caller.Execute(ctx, run.WorkspaceID, cfg.BrainAgentID,
			e.brainSystemPrompt(cfg), e.brainUserPrompt(run.InputTask, transcript), nil)
		if err != nil {
			msg := llmcall.FriendlyError(err).Error()
			e.failRun(ctx, run, runnerID, msg)
			return fmt.Errorf("run %s brain call: %s", run.ID, msg)
		}
		e.recordMessage(ctx, run.ID, strp(cfg.BrainAgentID), models.MessageBrain, brainOut.Text, nil, brainOut.Usage.TotalTokens)
		e.persistProgress(ctx, run.ID, runnerID, nil, iter, brainOut.Usage.TotalTokens, brainOut.Usage.CostEstimateUSD)

		call, ok := parser.Parse(brainOut.Text)
		if !ok || call.Tool == brainFinalAnswer {
			answer := brainOut.Text
			if ok {
				if a, _ := call.Params["answer"].(string); a != "" {
					answer = a
				}
			}
			e.recordMessage(ctx, run.ID, nil, models.MessageResult, answer, nil, 0)
			return e.completeRun(ctx, run, runnerID, answer)
		}

		feedback := e.applyBrainCall(ctx, run, runnerID, cfg, call, maxDepth, delegations, &order)
		transcript = append(transcript, "brain: "+summarize(brainOut.Text), "system: "+feedback)
	}

	// Loop exhausted without a final answer. Concatenate completed worker
	// outputs in delegation order.
	var parts []string
	for _, id := range order {
		d := delegations[id]
		if d.Status == models.DelegationCompleted && d.WorkerOutput != nil {
			parts = append(parts, *d.WorkerOutput)
		}
	}
	output := strings.Join(parts, "\n\n")
	if output == "" {
		output = "orchestration ended without a final answer"
	}
	e.recordMessage(ctx, run.ID, nil, models.MessageSystem, "iteration limit reached, finalizing with completed worker outputs", nil, 0)
	return e.completeRun(ctx, run, runnerID, output)
}

// applyBrainCall executes one parsed decision and returns the text result the
// brain sees on its next turn. Errors come back as text, never aborting the loop.
func (e *Executor) applyBrainCall(ctx context.Context, run *models.TeamRun, runnerID string, cfg *models.OrchestratorConfig, call *BrainCall, maxDepth int, delegations map[string]*models.Delegation, order *[]string) string {
	switch call.Tool {
	case brainDelegate:
		workerID, _ := call.Params["worker_agent_id"].(string)
		instruction, _ := call.Params["instruction"].(string)
		if !contains(cfg.WorkerAgentIDs, workerID) {
			return fmt.Sprintf("error: %q is not a worker on this team", workerID)
		}
		return e.delegate(ctx, run, runnerID, workerID, instruction, delegations, order)

	case brainRevision:
		delID, _ := call.Params["delegation_id"].(string)
		feedback, _ := call.Params["feedback"].(string)
		d, ok := delegations[delID]
		if !ok {
			return fmt.Sprintf("error: unknown delegation %q", delID)
		}
		if d.RevisionCount >= maxDepth {
			e.recordMessage(ctx, run.ID, nil, models.MessageSystem,
				fmt.Sprintf("revision refused for delegation %s: limit of %d reached", d.ID, maxDepth), nil, 0)
			return fmt.Sprintf("error: revision limit of %d reached for delegation %s; accept the result or delegate differently", maxDepth, d.ID)
		}
		return e.revise(ctx, run, runnerID, d, feedback)

	case brainAccept:
		delID, _ := call.Params["delegation_id"].(string)
		d, ok := delegations[delID]
		if !ok {
			return fmt.Sprintf("error: unknown delegation %q", delID)
		}
		now := time.Now().UTC()
		d.Status = models.DelegationCompleted
		d.CompletedAt = &now
		if score, ok := call.Params["quality_score"].(float64); ok {
			d.QualityScore = &score
		}
		if err := e.Store.UpdateDelegation(ctx, *d); err != nil {
			e.Log.Warn("update delegation failed", "delegation_id", d.ID, "error", err)
		}
		e.recordMessage(ctx, run.ID, nil, models.MessageAccepted, "accepted delegation "+d.ID, nil, 0)
		return fmt.Sprintf("delegation %s accepted", d.ID)
	}
	return fmt.Sprintf("error: unknown tool %q; available tools are %s, %s, %s, %s",
		call.Tool, brainDelegate, brainRevision, brainAccept, brainFinalAnswer)
}

func (e *Executor) delegate(ctx context.Context, run *models.TeamRun, runnerID, workerID, instruction string, delegations map[string]*models.Delegation, order *[]string) string {
	d := models.Delegation{
		ID:            uuid.NewString(),
		RunID:         run.ID,
		WorkerAgentID: workerID,
		Instruction:   instruction,
		Status:        models.DelegationRunning,
	}
	created, err := e.Store.CreateDelegation(ctx, d)
	if err != nil {
		return fmt.Sprintf("error: could not record delegation: %v", err)
	}
	delegations[created.ID] = &created
	*order = append(*order, created.ID)
	e.recordMessage(ctx, run.ID, strp(workerID), models.MessageDelegation, instruction, nil, 0)

	out, err := e.Caller.Execute(ctx, run.WorkspaceID, workerID, "", instruction, nil)
	if err != nil {
		created.Status = models.DelegationFailed
		_ = e.Store.UpdateDelegation(ctx, created)
		return fmt.Sprintf("error: worker %s failed: %v", workerID, llmcall.FriendlyError(err))
	}
	now := time.Now().UTC()
	created.WorkerOutput = &out.Text
	created.Status = models.DelegationCompleted
	created.CompletedAt = &now
	if err := e.Store.UpdateDelegation(ctx, created); err != nil {
		e.Log.Warn("update delegation failed", "delegation_id", created.ID, "error", err)
	}
	e.recordMessage(ctx, run.ID, strp(workerID), models.MessageWorkerResult, out.Text, nil, out.Usage.TotalTokens)
	e.persistProgress(ctx, run.ID, runnerID, nil, 0, out.Usage.TotalTokens, out.Usage.CostEstimateUSD)
	return fmt.Sprintf("delegation %s completed by worker %s:\n%s", created.ID, workerID, out.Text)
}

func (e *Executor) revise(ctx context.Context, run *models.TeamRun, runnerID string, d *models.Delegation, feedback string) string {
	d.RevisionCount++
	d.Status = models.DelegationRevisionRequested
	if err := e.Store.UpdateDelegation(ctx, *d); err != nil {
		e.Log.Warn("update delegation failed", "delegation_id", d.ID, "error", err)
	}
	e.recordMessage(ctx, run.ID, strp(d.WorkerAgentID), models.MessageRevisionRequest, feedback, nil, 0)

	prompt := fmt.Sprintf("Original instruction:\n%s\n\nYour previous output:\n%s\n\nRevision feedback:\n%s\n\nProduce a revised output.",
		d.Instruction, deref(d.WorkerOutput), feedback)
	out, err := e.Caller.Execute(ctx, run.WorkspaceID, d.WorkerAgentID, "", prompt, nil)
	if err != nil {
		d.Status = models.DelegationFailed
		_ = e.Store.UpdateDelegation(ctx, *d)
		return fmt.Sprintf("error: worker %s revision failed: %v", d.WorkerAgentID, llmcall.FriendlyError(err))
	}
	now := time.Now().UTC()
	d.WorkerOutput = &out.Text
	d.Status = models.DelegationCompleted
	d.CompletedAt = &now
	if err := e.Store.UpdateDelegation(ctx, *d); err != nil {
		e.Log.Warn("update delegation failed", "delegation_id", d.ID, "error", err)
	}
	e.recordMessage(ctx, run.ID, strp(d.WorkerAgentID), models.MessageWorkerResult, out.Text, nil, out.Usage.TotalTokens)
	e.persistProgress(ctx, run.ID, runnerID, nil, 0, out.Usage.TotalTokens, out.Usage.CostEstimateUSD)
	return fmt.Sprintf("delegation %s revised (revision %d):\n%s", d.ID, d.RevisionCount, out.Text)
}

func (e *Executor) brainParser() BrainParser {
	if e.Parser != nil {
		return e.Parser
	}
	return TextBrainParser{}
}

func (e *Executor) brainSystemPrompt(cfg *models.OrchestratorConfig) string {
	var b strings.Builder
	b.WriteString("You are the coordinating brain of a team of worker agents. ")
	b.WriteString("Break the task down, delegate to workers, review their results, and produce a final answer.\n\n")
	fmt.Fprintf(&b, "Workers available: %s\n\n", strings.Join(cfg.WorkerAgentIDs, ", "))
	if cfg.QualityThreshold > 0 {
		fmt.Fprintf(&b, "Accept a result only if you judge its quality at or above %.1f on a 0-1 scale; otherwise request a revision.\n\n", cfg.QualityThreshold)
	}
	b.WriteString("Respond with exactly one JSON object choosing a tool:\n")
	fmt.Fprintf(&b, `  {"tool": %q, "params": {"worker_agent_id": "...", "instruction": "..."}}`+"\n", brainDelegate)
	fmt.Fprintf(&b, `  {"tool": %q, "params": {"delegation_id": "...", "feedback": "..."}}`+"\n", brainRevision)
	fmt.Fprintf(&b, `  {"tool": %q, "params": {"delegation_id": "..."}}`+"\n", brainAccept)
	fmt.Fprintf(&b, `  {"tool": %q, "params": {"answer": "..."}}`+"\n", brainFinalAnswer)
	return b.String()
}

func (e *Executor) brainUserPrompt(inputTask string, transcript []string) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Task: %s\n", inputTask)
	if len(transcript) > 0 {
		b.WriteString("\nWhat has happened so far:\n")
		for _, line := range transcript {
			b.WriteString(line)
			b.WriteString("\n")
		}
	}
	b.WriteString("\nChoose your next tool call.")
	return b.String()
}

func summarize(s string) string {
	const max = 400
	s = strings.TrimSpace(s)
	if len(s) <= max {
		return s
	}
	return s[:max] + "..."
}

func contains(list []string, v string) bool {
	for _, item := range list {
		if item == v {
			return true
		}
	}
	return false
}
