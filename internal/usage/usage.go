// Package usage writes the per-call usage ledger. Writes are best-effort
// side effects: a ledger failure is logged, never surfaced to the executor.
package usage

import (
	"context"
	"log/slog"

	"github.com/vincentgrobler/crewform-sub000/internal/otel"
	"github.com/vincentgrobler/crewform-sub000/internal/provider"
	"github.com/vincentgrobler/crewform-sub000/internal/store"
	"github.com/vincentgrobler/crewform-sub000/pkg/models"
)

// Writer records usage events to the store.
type Writer struct {
	Store store.Store
}

// Record inserts one ledger row and bumps the LLM call counters. Never
// returns an error.
func (w *Writer) Record(ctx context.Context, workspaceID, agentID, providerName, model string, u provider.Usage) {
	otel.RecordLLMCall(ctx, providerName, model, u.TotalTokens, u.CostEstimateUSD)
	if w == nil || w.Store == nil {
		return
	}
	err := w.Store.InsertUsageEvent(ctx, models.UsageEvent{
		WorkspaceID:      workspaceID,
		AgentID:          agentID,
		Provider:         providerName,
		Model:            model,
		PromptTokens:     u.PromptTokens,
		CompletionTokens: u.CompletionTokens,
		TotalTokens:      u.TotalTokens,
		CostEstimateUSD:  u.CostEstimateUSD,
	})
	if err != nil {
		slog.Warn("usage ledger write failed", "workspace_id", workspaceID, "agent_id", agentID, "err", err)
	}
}
