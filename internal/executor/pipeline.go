package executor

import (
	"context"
	"fmt"
	"strings"

	"github.com/vincentgrobler/crewform-sub000/internal/llmcall"
	"github.com/vincentgrobler/crewform-sub000/pkg/models"
)

// ExecutePipeline runs the team's steps strictly in array order. Each step is
// attempted up to max_retries+1 times; once attempts are exhausted the step's
// on_failure policy decides whether the run stops, the step is skipped, or
// the run fails. Token and cost totals are persisted after every step so the
// dashboard sees progress while the run is live.
func (e *Executor) ExecutePipeline(ctx context.Context, run *models.TeamRun, team *models.Team, runnerID string) error {
	cfg := team.Config.Pipeline
	if cfg == nil || len(cfg.Steps) == 0 {
		msg := "team has no pipeline steps configured"
		e.failRun(ctx, run, runnerID, msg)
		return fmt.Errorf("run %s: %s", run.ID, msg)
	}
	if err := e.Store.MarkTeamRunRunning(ctx, run.ID, runnerID); err != nil {
		return fmt.Errorf("mark run running %s: %w", run.ID, err)
	}

	lastOutput := ""   // last successful step output; the run's final output
	var accumulated []string

	for i, step := range cfg.Steps {
		if e.cancelled(ctx, run.ID) {
			e.recordMessage(ctx, run.ID, nil, models.MessageSystem, "run cancelled before step "+step.StepName, intp(i), 0)
			return nil
		}
		idx := i
		e.persistProgress(ctx, run.ID, runnerID, &idx, 0, 0, 0)

		attempts := step.MaxRetries + 1
		if step.OnFailure != models.OnFailureRetry || attempts < 1 {
			attempts = 1
		}

		var stepOut *llmcall.Result
		var stepErr error
		for attempt := 1; attempt <= attempts; attempt++ {
			prompt := e.handoffPrompt(run.InputTask, step, lastOutput, accumulated, cfg.AutoHandoff)
			e.recordMessage(ctx, run.ID, nil, models.MessageDelegation,
				fmt.Sprintf("step %q assigned to agent %s (attempt %d/%d)", step.StepName, step.AgentID, attempt, attempts),
				&idx, 0)

			stepOut, stepErr = e.Caller.Execute(ctx, run.WorkspaceID, step.AgentID, "", prompt, nil)
			if stepErr == nil {
				e.recordMessage(ctx, run.ID, strp(step.AgentID), models.MessageResult, stepOut.Text, &idx, stepOut.Usage.TotalTokens)
				e.persistProgress(ctx, run.ID, runnerID, nil, 0, stepOut.Usage.TotalTokens, stepOut.Usage.CostEstimateUSD)
				break
			}
			stepErr = llmcall.FriendlyError(stepErr)
			e.recordMessage(ctx, run.ID, nil, models.MessageSystem,
				fmt.Sprintf("step %q attempt %d failed: %v", step.StepName, attempt, stepErr), &idx, 0)
		}

		if stepErr != nil {
			switch step.OnFailure {
			case models.OnFailureSkip:
				e.recordMessage(ctx, run.ID, nil, models.MessageSystem,
					fmt.Sprintf("step %q skipped after failure", step.StepName), &idx, 0)
				continue
			default: // stop, and retry once attempts are exhausted
				msg := fmt.Sprintf("step %q failed: %v", step.StepName, stepErr)
				e.failRun(ctx, run, runnerID, msg)
				return fmt.Errorf("run %s: %s", run.ID, msg)
			}
		}

		lastOutput = stepOut.Text
		accumulated = append(accumulated, fmt.Sprintf("[%s]\n%s", step.StepName, stepOut.Text))
		if cfg.AutoHandoff && i < len(cfg.Steps)-1 {
			e.recordMessage(ctx, run.ID, nil, models.MessageHandoff,
				fmt.Sprintf("output of %q handed to step %q", step.StepName, cfg.Steps[i+1].StepName), &idx, 0)
		}
	}

	return e.completeRun(ctx, run, runnerID, lastOutput)
}

// handoffPrompt builds the user prompt for one step from the run input, the
// previous successful output, and (with auto handoff) all prior outputs.
func (e *Executor) handoffPrompt(inputTask string, step models.PipelineStep, prevOutput string, accumulated []string, autoHandoff bool) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Task: %s\n", inputTask)
	if step.Instructions != "" {
		fmt.Fprintf(&b, "\nStep instructions: %s\n", step.Instructions)
	}
	if step.ExpectedOutput != "" {
		fmt.Fprintf(&b, "\nExpected output: %s\n", step.ExpectedOutput)
	}
	if prevOutput != "" {
		fmt.Fprintf(&b, "\nOutput from the previous step:\n%s\n", prevOutput)
	}
	if autoHandoff && len(accumulated) > 1 {
		b.WriteString("\nAll prior step outputs:\n")
		for _, out := range accumulated {
			b.WriteString(out)
			b.WriteString("\n")
		}
	}
	return b.String()
}

func intp(i int) *int       { return &i }
func strp(s string) *string { return &s }
