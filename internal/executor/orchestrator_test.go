package executor

import (
	"context"
	"fmt"
	"strings"
	"testing"

	"github.com/vincentgrobler/crewform-sub000/internal/llmcall"
	"github.com/vincentgrobler/crewform-sub000/pkg/models"
)

func orchestratorConfig(maxDepth int, workers ...string) models.TeamConfig {
	return models.TeamConfig{Orchestrator: &models.OrchestratorConfig{
		BrainAgentID:       "brain",
		WorkerAgentIDs:     workers,
		MaxDelegationDepth: maxDepth,
	}}
}

func TestTextBrainParser(t *testing.T) {
	t.Parallel()
	var p TextBrainParser

	tests := []struct {
		name     string
		text     string
		wantTool string
		wantOK   bool
	}{
		{"bare json", `{"tool":"final_answer","params":{"answer":"42"}}`, "final_answer", true},
		{"json in prose", `I will delegate now. {"tool":"delegate_to_worker","params":{"worker_agent_id":"w1","instruction":"go"}} Done.`, "delegate_to_worker", true},
		{"nested braces in strings", `{"tool":"delegate_to_worker","params":{"instruction":"print {\"a\": 1}"}}`, "delegate_to_worker", true},
		{"no json", "just thinking out loud", "", false},
		{"object without tool key", `{"action":"noop"}`, "", false},
		{"second object has tool", `{"note":"x"} then {"tool":"accept_result","params":{}}`, "accept_result", true},
		{"unbalanced", `{"tool":"final_answer"`, "", false},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			call, ok := p.Parse(tc.text)
			if ok != tc.wantOK {
				t.Fatalf("ok = %v, want %v", ok, tc.wantOK)
			}
			if ok && call.Tool != tc.wantTool {
				t.Errorf("tool = %q, want %q", call.Tool, tc.wantTool)
			}
		})
	}
}

func TestExecuteOrchestrator_delegateThenFinal(t *testing.T) {
	t.Parallel()
	brainTurn := 0
	h := newHarness(t, func(agentID, _, userPrompt string) (*llmcall.Result, error) {
		if agentID == "brain" {
			brainTurn++
			if brainTurn == 1 {
				return textResult(`{"tool":"delegate_to_worker","params":{"worker_agent_id":"w1","instruction":"research topic"}}`, 10), nil
			}
			// Second turn sees the worker result in the transcript.
			if !strings.Contains(userPrompt, "research findings") {
				t.Errorf("brain prompt missing worker output:\n%s", userPrompt)
			}
			return textResult(`{"tool":"final_answer","params":{"answer":"the summary"}}`, 10), nil
		}
		return textResult("research findings", 20), nil
	})
	run, team := h.startRun(t, models.ModeOrchestrator, orchestratorConfig(3, "w1"))

	if err := h.Exec.ExecuteOrchestrator(context.Background(), run, team, testRunner); err != nil {
		t.Fatalf("orchestrator: %v", err)
	}
	got := h.runState(t, run.ID)
	if got.Status != models.StatusCompleted || got.Output == nil || *got.Output != "the summary" {
		t.Errorf("run = %+v", got)
	}

	dels, _ := h.Store.ListDelegations(context.Background(), run.ID)
	if len(dels) != 1 {
		t.Fatalf("delegations = %d, want 1", len(dels))
	}
	if dels[0].Status != models.DelegationCompleted {
		t.Errorf("delegation status = %q", dels[0].Status)
	}
	if dels[0].WorkerOutput == nil || *dels[0].WorkerOutput != "research findings" {
		t.Errorf("worker output = %v", dels[0].WorkerOutput)
	}
}

func TestExecuteOrchestrator_plainTextIsFinalAnswer(t *testing.T) {
	t.Parallel()
	h := newHarness(t, func(agentID, _, _ string) (*llmcall.Result, error) {
		return textResult("here is the answer, no tools needed", 10), nil
	})
	run, team := h.startRun(t, models.ModeOrchestrator, orchestratorConfig(3, "w1"))

	if err := h.Exec.ExecuteOrchestrator(context.Background(), run, team, testRunner); err != nil {
		t.Fatalf("orchestrator: %v", err)
	}
	got := h.runState(t, run.ID)
	if got.Status != models.StatusCompleted {
		t.Fatalf("status = %q", got.Status)
	}
	if got.Output == nil || *got.Output != "here is the answer, no tools needed" {
		t.Errorf("output = %v", got.Output)
	}
	if h.Caller.callCount() != 1 {
		t.Errorf("calls = %d, want 1", h.Caller.callCount())
	}
}

func TestExecuteOrchestrator_revisionCap(t *testing.T) {
	t.Parallel()
	const maxDepth = 2
	var delegationID string
	brainTurn := 0
	sawRefusal := false
	h := newHarness(t, func(agentID, _, userPrompt string) (*llmcall.Result, error) {
		if agentID != "brain" {
			return textResult("draft", 5), nil
		}
		brainTurn++
		switch brainTurn {
		case 1:
			return textResult(`{"tool":"delegate_to_worker","params":{"worker_agent_id":"w1","instruction":"write"}}`, 5), nil
		default:
			if delegationID == "" {
				// Learn the delegation id from the transcript feedback.
				if i := strings.Index(userPrompt, "delegation "); i >= 0 {
					rest := userPrompt[i+len("delegation "):]
					delegationID = strings.Fields(rest)[0]
				}
			}
			if strings.Contains(userPrompt, "revision limit") {
				sawRefusal = true
				return textResult(`{"tool":"final_answer","params":{"answer":"done after refusal"}}`, 5), nil
			}
			return textResult(fmt.Sprintf(`{"tool":"request_revision","params":{"delegation_id":%q,"feedback":"again"}}`, delegationID), 5), nil
		}
	})
	run, team := h.startRun(t, models.ModeOrchestrator, orchestratorConfig(maxDepth, "w1"))

	if err := h.Exec.ExecuteOrchestrator(context.Background(), run, team, testRunner); err != nil {
		t.Fatalf("orchestrator: %v", err)
	}
	if !sawRefusal {
		t.Error("brain never saw the revision-limit refusal")
	}
	dels, _ := h.Store.ListDelegations(context.Background(), run.ID)
	if len(dels) != 1 {
		t.Fatalf("delegations = %d, want 1", len(dels))
	}
	if dels[0].RevisionCount != maxDepth {
		t.Errorf("revision_count = %d, want %d", dels[0].RevisionCount, maxDepth)
	}
	got := h.runState(t, run.ID)
	if got.Status != models.StatusCompleted {
		t.Errorf("status = %q", got.Status)
	}
}

func TestExecuteOrchestrator_unknownWorkerRejected(t *testing.T) {
	t.Parallel()
	brainTurn := 0
	h := newHarness(t, func(agentID, _, userPrompt string) (*llmcall.Result, error) {
		brainTurn++
		if brainTurn == 1 {
			return textResult(`{"tool":"delegate_to_worker","params":{"worker_agent_id":"intruder","instruction":"x"}}`, 5), nil
		}
		if !strings.Contains(userPrompt, `"intruder" is not a worker`) {
			t.Errorf("brain prompt missing rejection:\n%s", userPrompt)
		}
		return textResult(`{"tool":"final_answer","params":{"answer":"ok"}}`, 5), nil
	})
	run, team := h.startRun(t, models.ModeOrchestrator, orchestratorConfig(3, "w1"))

	if err := h.Exec.ExecuteOrchestrator(context.Background(), run, team, testRunner); err != nil {
		t.Fatalf("orchestrator: %v", err)
	}
	if n := h.Caller.callsTo("intruder"); n != 0 {
		t.Errorf("intruder called %d times", n)
	}
}

func TestExecuteOrchestrator_iterationLimitFinalizesWithWorkerOutputs(t *testing.T) {
	t.Parallel()
	h := newHarness(t, func(agentID, _, _ string) (*llmcall.Result, error) {
		if agentID == "brain" {
			// The brain never issues final_answer.
			return textResult(`{"tool":"delegate_to_worker","params":{"worker_agent_id":"w1","instruction":"more"}}`, 5), nil
		}
		return textResult("partial work", 5), nil
	})
	run, team := h.startRun(t, models.ModeOrchestrator, orchestratorConfig(3, "w1"))

	if err := h.Exec.ExecuteOrchestrator(context.Background(), run, team, testRunner); err != nil {
		t.Fatalf("orchestrator: %v", err)
	}
	if n := h.Caller.callsTo("brain"); n != models.DefaultMaxBrainIterations {
		t.Errorf("brain calls = %d, want %d", n, models.DefaultMaxBrainIterations)
	}
	got := h.runState(t, run.ID)
	if got.Status != models.StatusCompleted {
		t.Fatalf("status = %q", got.Status)
	}
	if got.Output == nil || !strings.Contains(*got.Output, "partial work") {
		t.Errorf("output = %v, want completed worker outputs", got.Output)
	}
	if got.DelegationDepth != models.DefaultMaxBrainIterations {
		t.Errorf("delegation_depth = %d, want %d", got.DelegationDepth, models.DefaultMaxBrainIterations)
	}
}

func TestExecuteOrchestrator_iterationLimitOutputsInDelegationOrder(t *testing.T) {
	t.Parallel()
	brainTurn := 0
	h := newHarness(t, func(agentID, _, _ string) (*llmcall.Result, error) {
		switch agentID {
		case "brain":
			brainTurn++
			worker := "w2"
			if brainTurn == 1 {
				worker = "w1"
			}
			return textResult(fmt.Sprintf(`{"tool":"delegate_to_worker","params":{"worker_agent_id":%q,"instruction":"more"}}`, worker), 5), nil
		case "w1":
			return textResult("alpha", 5), nil
		default:
			return textResult("beta", 5), nil
		}
	})
	run, team := h.startRun(t, models.ModeOrchestrator, orchestratorConfig(3, "w1", "w2"))

	if err := h.Exec.ExecuteOrchestrator(context.Background(), run, team, testRunner); err != nil {
		t.Fatalf("orchestrator: %v", err)
	}
	got := h.runState(t, run.ID)
	if got.Status != models.StatusCompleted || got.Output == nil {
		t.Fatalf("run = %+v", got)
	}
	// w1's delegation came first, so its output leads the best-effort answer.
	if !strings.HasPrefix(*got.Output, "alpha") {
		t.Errorf("output = %q, want w1's output first", *got.Output)
	}
	if !strings.Contains(*got.Output, "beta") {
		t.Errorf("output = %q, want w2's output included", *got.Output)
	}
}

func TestExecuteOrchestrator_acceptRecordsQualityScore(t *testing.T) {
	t.Parallel()
	var delegationID string
	brainTurn := 0
	h := newHarness(t, func(agentID, _, userPrompt string) (*llmcall.Result, error) {
		if agentID != "brain" {
			return textResult("worker output", 5), nil
		}
		brainTurn++
		switch brainTurn {
		case 1:
			return textResult(`{"tool":"delegate_to_worker","params":{"worker_agent_id":"w1","instruction":"go"}}`, 5), nil
		case 2:
			if i := strings.Index(userPrompt, "delegation "); i >= 0 {
				rest := userPrompt[i+len("delegation "):]
				delegationID = strings.Fields(rest)[0]
			}
			return textResult(fmt.Sprintf(`{"tool":"accept_result","params":{"delegation_id":%q,"quality_score":0.85}}`, delegationID), 5), nil
		default:
			return textResult(`{"tool":"final_answer","params":{"answer":"shipped"}}`, 5), nil
		}
	})
	run, team := h.startRun(t, models.ModeOrchestrator, orchestratorConfig(3, "w1"))

	if err := h.Exec.ExecuteOrchestrator(context.Background(), run, team, testRunner); err != nil {
		t.Fatalf("orchestrator: %v", err)
	}
	dels, _ := h.Store.ListDelegations(context.Background(), run.ID)
	if len(dels) != 1 {
		t.Fatalf("delegations = %d", len(dels))
	}
	if dels[0].QualityScore == nil || *dels[0].QualityScore != 0.85 {
		t.Errorf("quality_score = %v, want 0.85", dels[0].QualityScore)
	}
}

func TestExecuteOrchestrator_missingConfigFails(t *testing.T) {
	t.Parallel()
	h := newHarness(t, func(agentID, _, _ string) (*llmcall.Result, error) {
		return textResult("x", 1), nil
	})
	run, team := h.startRun(t, models.ModeOrchestrator, models.TeamConfig{})

	if err := h.Exec.ExecuteOrchestrator(context.Background(), run, team, testRunner); err == nil {
		t.Fatal("expected error")
	}
	got := h.runState(t, run.ID)
	if got.Status != models.StatusFailed {
		t.Errorf("status = %q", got.Status)
	}
}

func TestBrainSystemPrompt_qualityThreshold(t *testing.T) {
	t.Parallel()
	e := &Executor{}
	cfg := &models.OrchestratorConfig{BrainAgentID: "b", WorkerAgentIDs: []string{"w1", "w2"}, QualityThreshold: 0.8}
	prompt := e.brainSystemPrompt(cfg)
	if !strings.Contains(prompt, "w1, w2") {
		t.Errorf("prompt missing roster:\n%s", prompt)
	}
	if !strings.Contains(prompt, "0.8") {
		t.Errorf("prompt missing threshold:\n%s", prompt)
	}
}
