package executor

import (
	"context"
	"strings"
	"testing"

	"github.com/vincentgrobler/crewform-sub000/internal/llmcall"
	"github.com/vincentgrobler/crewform-sub000/pkg/models"
)

func collabConfig(cfg models.CollaborationConfig) models.TeamConfig {
	return models.TeamConfig{Collaboration: &cfg}
}

func TestExecuteCollaboration_roundRobinOrder(t *testing.T) {
	t.Parallel()
	h := newHarness(t, func(agentID, _, _ string) (*llmcall.Result, error) {
		return textResult("from "+agentID, 10), nil
	})
	run, team := h.startRun(t, models.ModeCollaboration, collabConfig(models.CollaborationConfig{
		AgentIDs: []string{"a1", "a2", "a3"},
		MaxTurns: 6,
	}))

	if err := h.Exec.ExecuteCollaboration(context.Background(), run, team, testRunner); err != nil {
		t.Fatalf("collaboration: %v", err)
	}

	want := []string{"a1", "a2", "a3", "a1", "a2", "a3"}
	h.Caller.mu.Lock()
	defer h.Caller.mu.Unlock()
	if len(h.Caller.calls) != len(want) {
		t.Fatalf("calls = %d, want %d", len(h.Caller.calls), len(want))
	}
	for i, c := range h.Caller.calls {
		if c.AgentID != want[i] {
			t.Errorf("turn %d speaker = %s, want %s", i, c.AgentID, want[i])
		}
	}
	got := h.runState(t, run.ID)
	if got.Status != models.StatusCompleted {
		t.Errorf("status = %q", got.Status)
	}
}

func TestExecuteCollaboration_outputIsLastMessagePlusTranscript(t *testing.T) {
	t.Parallel()
	h := newHarness(t, func(agentID, _, _ string) (*llmcall.Result, error) {
		return textResult("opinion of "+agentID, 5), nil
	})
	run, team := h.startRun(t, models.ModeCollaboration, collabConfig(models.CollaborationConfig{
		AgentIDs: []string{"a1", "a2"},
		MaxTurns: 3,
	}))

	if err := h.Exec.ExecuteCollaboration(context.Background(), run, team, testRunner); err != nil {
		t.Fatalf("collaboration: %v", err)
	}
	got := h.runState(t, run.ID)
	if got.Output == nil {
		t.Fatal("no output")
	}
	if !strings.HasPrefix(*got.Output, "opinion of a1") {
		t.Errorf("output does not start with the last message:\n%s", *got.Output)
	}
	if !strings.Contains(*got.Output, "--- Full discussion ---") {
		t.Errorf("output missing transcript section:\n%s", *got.Output)
	}
	if strings.Count(*got.Output, "opinion of") != 4 {
		t.Errorf("output = %q", *got.Output)
	}
}

func TestExecuteCollaboration_consensusTerminates(t *testing.T) {
	t.Parallel()
	// Both agents agree from turn 2 onward. With two agents the window is the
	// last two messages and the majority 2 > 1.
	turn := 0
	h := newHarness(t, func(agentID, _, _ string) (*llmcall.Result, error) {
		turn++
		if turn >= 2 {
			return textResult("I think so too. AGREED.", 5), nil
		}
		return textResult("let me propose something", 5), nil
	})
	run, team := h.startRun(t, models.ModeCollaboration, collabConfig(models.CollaborationConfig{
		AgentIDs:             []string{"a1", "a2"},
		MaxTurns:             10,
		TerminationCondition: models.TerminateConsensus,
		ConsensusPhrase:      "agreed",
	}))

	if err := h.Exec.ExecuteCollaboration(context.Background(), run, team, testRunner); err != nil {
		t.Fatalf("collaboration: %v", err)
	}
	if h.Caller.callCount() != 3 {
		t.Errorf("calls = %d, want 3", h.Caller.callCount())
	}
	if got := h.runState(t, run.ID); got.Status != models.StatusCompleted {
		t.Errorf("status = %q", got.Status)
	}
}

func TestExecuteCollaboration_consensusPromptCarriesPhrase(t *testing.T) {
	t.Parallel()
	h := newHarness(t, func(agentID, sysPrompt, _ string) (*llmcall.Result, error) {
		if !strings.Contains(sysPrompt, `"SHIP IT"`) {
			t.Errorf("system prompt missing consensus phrase:\n%s", sysPrompt)
		}
		return textResult("hm", 1), nil
	})
	run, team := h.startRun(t, models.ModeCollaboration, collabConfig(models.CollaborationConfig{
		AgentIDs:             []string{"a1", "a2"},
		MaxTurns:             1,
		TerminationCondition: models.TerminateConsensus,
		ConsensusPhrase:      "SHIP IT",
	}))
	if err := h.Exec.ExecuteCollaboration(context.Background(), run, team, testRunner); err != nil {
		t.Fatalf("collaboration: %v", err)
	}
}

func TestExecuteCollaboration_facilitatorSchedule(t *testing.T) {
	t.Parallel()
	h := newHarness(t, func(agentID, _, userPrompt string) (*llmcall.Result, error) {
		if strings.Contains(userPrompt, "speak next") {
			return textResult("a2", 1), nil
		}
		return textResult("turn content", 5), nil
	})
	run, team := h.startRun(t, models.ModeCollaboration, collabConfig(models.CollaborationConfig{
		AgentIDs:           []string{"fac", "a2", "a3"},
		MaxTurns:           5,
		SpeakerSelection:   models.SpeakerFacilitator,
		FacilitatorAgentID: "fac",
	}))

	if err := h.Exec.ExecuteCollaboration(context.Background(), run, team, testRunner); err != nil {
		t.Fatalf("collaboration: %v", err)
	}

	// Turn 0 and odd turns belong to the facilitator; even turns go to the pick.
	var speakers []string
	h.Caller.mu.Lock()
	for _, c := range h.Caller.calls {
		if strings.Contains(c.UserPrompt, "speak next") {
			continue
		}
		speakers = append(speakers, c.AgentID)
	}
	h.Caller.mu.Unlock()
	want := []string{"fac", "fac", "a2", "fac", "a2"}
	if len(speakers) != len(want) {
		t.Fatalf("speakers = %v, want %v", speakers, want)
	}
	for i := range want {
		if speakers[i] != want[i] {
			t.Errorf("turn %d speaker = %s, want %s", i, speakers[i], want[i])
		}
	}
}

func TestExecuteCollaboration_facilitatorDecisionEndsDiscussion(t *testing.T) {
	t.Parallel()
	facTurns := 0
	h := newHarness(t, func(agentID, _, userPrompt string) (*llmcall.Result, error) {
		if strings.Contains(userPrompt, "speak next") {
			return textResult("a2", 1), nil
		}
		if agentID == "fac" {
			facTurns++
			if facTurns == 2 {
				return textResult("We have converged. DISCUSSION_COMPLETE", 5), nil
			}
		}
		return textResult("still talking", 5), nil
	})
	run, team := h.startRun(t, models.ModeCollaboration, collabConfig(models.CollaborationConfig{
		AgentIDs:             []string{"fac", "a2"},
		MaxTurns:             10,
		SpeakerSelection:     models.SpeakerFacilitator,
		FacilitatorAgentID:   "fac",
		TerminationCondition: models.TerminateFacilitatorDecision,
	}))

	if err := h.Exec.ExecuteCollaboration(context.Background(), run, team, testRunner); err != nil {
		t.Fatalf("collaboration: %v", err)
	}
	// Turn 0 fac, turn 1 fac ends it. No turn 2.
	var discussion int
	h.Caller.mu.Lock()
	for _, c := range h.Caller.calls {
		if !strings.Contains(c.UserPrompt, "speak next") {
			discussion++
		}
	}
	h.Caller.mu.Unlock()
	if discussion != 2 {
		t.Errorf("discussion turns = %d, want 2", discussion)
	}
	got := h.runState(t, run.ID)
	if got.Status != models.StatusCompleted {
		t.Errorf("status = %q", got.Status)
	}
	if got.Output == nil || !strings.HasPrefix(*got.Output, "We have converged.") {
		t.Errorf("output = %v", got.Output)
	}
}

func TestExecuteCollaboration_llmSelectFallsBackOnBadPick(t *testing.T) {
	t.Parallel()
	h := newHarness(t, func(agentID, _, userPrompt string) (*llmcall.Result, error) {
		if strings.Contains(userPrompt, "speak next") {
			return textResult("nobody you know", 1), nil
		}
		return textResult("contribution", 5), nil
	})
	run, team := h.startRun(t, models.ModeCollaboration, collabConfig(models.CollaborationConfig{
		AgentIDs:         []string{"a1", "a2"},
		MaxTurns:         2,
		SpeakerSelection: models.SpeakerLLMSelect,
	}))

	if err := h.Exec.ExecuteCollaboration(context.Background(), run, team, testRunner); err != nil {
		t.Fatalf("collaboration: %v", err)
	}
	var speakers []string
	h.Caller.mu.Lock()
	for _, c := range h.Caller.calls {
		if !strings.Contains(c.UserPrompt, "speak next") {
			speakers = append(speakers, c.AgentID)
		}
	}
	h.Caller.mu.Unlock()
	if len(speakers) != 2 || speakers[0] != "a1" || speakers[1] != "a2" {
		t.Errorf("speakers = %v, want round-robin fallback [a1 a2]", speakers)
	}
}

func TestExecuteCollaboration_tooFewAgentsFails(t *testing.T) {
	t.Parallel()
	h := newHarness(t, func(agentID, _, _ string) (*llmcall.Result, error) {
		return textResult("x", 1), nil
	})
	run, team := h.startRun(t, models.ModeCollaboration, collabConfig(models.CollaborationConfig{
		AgentIDs: []string{"only-one"},
	}))

	if err := h.Exec.ExecuteCollaboration(context.Background(), run, team, testRunner); err == nil {
		t.Fatal("expected error")
	}
	got := h.runState(t, run.ID)
	if got.Status != models.StatusFailed {
		t.Errorf("status = %q", got.Status)
	}
	if h.Caller.callCount() != 0 {
		t.Errorf("calls = %d, want 0", h.Caller.callCount())
	}
}

func TestExecuteCollaboration_cancelledMidDiscussion(t *testing.T) {
	t.Parallel()
	var h *testHarness
	var runID string
	h = newHarness(t, func(agentID, _, _ string) (*llmcall.Result, error) {
		// Cancel from outside during the first turn.
		if h.Caller.callCount() >= 1 {
			_ = h.Store.CancelTeamRun(context.Background(), runID)
		}
		return textResult("talk", 5), nil
	})
	run, team := h.startRun(t, models.ModeCollaboration, collabConfig(models.CollaborationConfig{
		AgentIDs: []string{"a1", "a2"},
		MaxTurns: 8,
	}))
	runID = run.ID

	if err := h.Exec.ExecuteCollaboration(context.Background(), run, team, testRunner); err != nil {
		t.Fatalf("collaboration: %v", err)
	}
	if got := h.runState(t, run.ID); got.Status != models.StatusCancelled {
		t.Errorf("status = %q", got.Status)
	}
	if n := h.Caller.callCount(); n >= 8 {
		t.Errorf("calls = %d, discussion did not stop early", n)
	}
}
