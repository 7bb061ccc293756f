package executor

import (
	"context"
	"fmt"
	"strings"

	"github.com/vincentgrobler/crewform-sub000/internal/llmcall"
	"github.com/vincentgrobler/crewform-sub000/pkg/models"
)

// defaultMaxTurns bounds a collaboration whose config omits max_turns.
const defaultMaxTurns = 10

// facilitatorDoneSentinel is the string a facilitator includes to end the
// discussion under the facilitator_decision termination policy.
const facilitatorDoneSentinel = "DISCUSSION_COMPLETE"

type collabMessage struct {
	AgentID string
	Content string
}

// ExecuteCollaboration runs a turn-based discussion among the team's agents.
// A speaker is selected per turn under the configured policy, the turn is
// appended to the transcript and persisted as a discussion message, and the
// termination policy is evaluated after every turn. The run always ends by
// the final turn regardless of policy.
func (e *Executor) ExecuteCollaboration(ctx context.Context, run *models.TeamRun, team *models.Team, runnerID string) error {
	cfg := team.Config.Collaboration
	if cfg == nil || len(cfg.AgentIDs) < 2 {
		msg := "collaboration requires at least two agents"
		e.failRun(ctx, run, runnerID, msg)
		return fmt.Errorf("run %s: %s", run.ID, msg)
	}
	if err := e.Store.MarkTeamRunRunning(ctx, run.ID, runnerID); err != nil {
		return fmt.Errorf("mark run running %s: %w", run.ID, err)
	}

	maxTurns := cfg.MaxTurns
	if maxTurns <= 0 {
		maxTurns = defaultMaxTurns
	}

	var transcript []collabMessage
	for turn := 0; turn < maxTurns; turn++ {
		if e.cancelled(ctx, run.ID) {
			e.recordMessage(ctx, run.ID, nil, models.MessageSystem, fmt.Sprintf("run cancelled at turn %d", turn), intp(turn), 0)
			return nil
		}

		speaker := e.selectSpeaker(ctx, run, cfg, turn, transcript)
		sysPrompt := e.collabSystemPrompt(cfg, speaker)
		userPrompt := e.collabTurnPrompt(run.InputTask, transcript, turn)

		out, err := e.Caller.Execute(ctx, run.WorkspaceID, speaker, sysPrompt, userPrompt, nil)
		if err != nil {
			msg := llmcall.FriendlyError(err).Error()
			e.failRun(ctx, run, runnerID, msg)
			return fmt.Errorf("run %s turn %d: %s", run.ID, turn, msg)
		}

		transcript = append(transcript, collabMessage{AgentID: speaker, Content: out.Text})
		e.recordMessage(ctx, run.ID, strp(speaker), models.MessageDiscussion, out.Text, intp(turn), out.Usage.TotalTokens)
		idx := turn
		e.persistProgress(ctx, run.ID, runnerID, &idx, 0, out.Usage.TotalTokens, out.Usage.CostEstimateUSD)

		if turn == maxTurns-1 || e.terminated(cfg, transcript) {
			break
		}
	}

	return e.completeRun(ctx, run, runnerID, collabOutput(transcript))
}

// selectSpeaker applies the configured policy; every policy falls back to
// round-robin when a selection cannot be made.
func (e *Executor) selectSpeaker(ctx context.Context, run *models.TeamRun, cfg *models.CollaborationConfig, turn int, transcript []collabMessage) string {
	ids := cfg.AgentIDs
	switch cfg.SpeakerSelection {
	case models.SpeakerLLMSelect:
		if picked := e.askForSpeaker(ctx, run, ids[0], ids, transcript); picked != "" {
			return picked
		}
		return ids[turn%len(ids)]

	case models.SpeakerFacilitator:
		fac := cfg.FacilitatorAgentID
		if fac == "" {
			return ids[turn%len(ids)]
		}
		if turn == 0 || turn%2 == 1 {
			return fac
		}
		others := withoutID(ids, fac)
		if len(others) == 0 {
			return fac
		}
		if picked := e.askForSpeaker(ctx, run, fac, others, transcript); picked != "" {
			return picked
		}
		return others[(turn/2)%len(others)]

	default: // round_robin
		return ids[turn%len(ids)]
	}
}

// askForSpeaker asks the selector agent to name the next speaker from the
// candidate roster, given the tail of the discussion. Returns "" when the
// answer does not resolve to a candidate.
func (e *Executor) askForSpeaker(ctx context.Context, run *models.TeamRun, selectorID string, candidates []string, transcript []collabMessage) string {
	var b strings.Builder
	b.WriteString("Pick which participant should speak next. Respond with exactly one id from this list:\n")
	for _, id := range candidates {
		fmt.Fprintf(&b, "- %s\n", id)
	}
	if n := len(transcript); n > 0 {
		b.WriteString("\nRecent discussion:\n")
		start := n - 5
		if start < 0 {
			start = 0
		}
		for _, m := range transcript[start:] {
			fmt.Fprintf(&b, "%s: %s\n", m.AgentID, summarize(m.Content))
		}
	}
	out, err := e.Caller.Execute(ctx, run.WorkspaceID, selectorID, "", b.String(), nil)
	if err != nil {
		return ""
	}
	answer := strings.TrimSpace(out.Text)
	for _, id := range candidates {
		if strings.Contains(answer, id) {
			return id
		}
	}
	return ""
}

// terminated evaluates the configured termination policy over the transcript.
func (e *Executor) terminated(cfg *models.CollaborationConfig, transcript []collabMessage) bool {
	switch cfg.TerminationCondition {
	case models.TerminateConsensus:
		phrase := strings.ToLower(cfg.ConsensusPhrase)
		if phrase == "" {
			return false
		}
		n := len(cfg.AgentIDs)
		start := len(transcript) - n
		if start < 0 {
			start = 0
		}
		agree := 0
		for _, m := range transcript[start:] {
			if strings.Contains(strings.ToLower(m.Content), phrase) {
				agree++
			}
		}
		return agree > n/2

	case models.TerminateFacilitatorDecision:
		for i := len(transcript) - 1; i >= 0; i-- {
			if transcript[i].AgentID == cfg.FacilitatorAgentID {
				return strings.Contains(transcript[i].Content, facilitatorDoneSentinel)
			}
		}
		return false

	default: // max_turns: never terminates early
		return false
	}
}

func (e *Executor) collabSystemPrompt(cfg *models.CollaborationConfig, speaker string) string {
	var b strings.Builder
	fmt.Fprintf(&b, "You are participant %s in a group discussion with: %s.\n", speaker, strings.Join(withoutID(cfg.AgentIDs, speaker), ", "))
	b.WriteString("Contribute your perspective on the task, building on what others have said.\n")
	if cfg.TerminationCondition == models.TerminateConsensus && cfg.ConsensusPhrase != "" {
		fmt.Fprintf(&b, "If you agree with the group's current conclusion, include the exact phrase %q in your message.\n", cfg.ConsensusPhrase)
	}
	if cfg.TerminationCondition == models.TerminateFacilitatorDecision && speaker == cfg.FacilitatorAgentID {
		fmt.Fprintf(&b, "You are the facilitator. When the discussion has reached a conclusion, include the exact string %q in your message.\n", facilitatorDoneSentinel)
	}
	return b.String()
}

func (e *Executor) collabTurnPrompt(inputTask string, transcript []collabMessage, turn int) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Task: %s\n", inputTask)
	if len(transcript) > 0 {
		b.WriteString("\nDiscussion so far:\n")
		for _, m := range transcript {
			fmt.Fprintf(&b, "%s: %s\n", m.AgentID, m.Content)
		}
	}
	fmt.Fprintf(&b, "\nThis is turn %d. Respond with your contribution.", turn)
	return b.String()
}

// collabOutput is the last message plus the full transcript for context.
func collabOutput(transcript []collabMessage) string {
	if len(transcript) == 0 {
		return ""
	}
	var b strings.Builder
	b.WriteString(transcript[len(transcript)-1].Content)
	b.WriteString("\n\n--- Full discussion ---\n")
	for _, m := range transcript {
		fmt.Fprintf(&b, "%s: %s\n", m.AgentID, m.Content)
	}
	return b.String()
}

func withoutID(ids []string, exclude string) []string {
	out := make([]string, 0, len(ids))
	for _, id := range ids {
		if id != exclude {
			out = append(out, id)
		}
	}
	return out
}
