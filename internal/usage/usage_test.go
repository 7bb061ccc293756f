package usage

import (
	"context"
	"testing"

	"github.com/vincentgrobler/crewform-sub000/internal/provider"
	"github.com/vincentgrobler/crewform-sub000/internal/store"
)

func TestRecord(t *testing.T) {
	t.Parallel()
	st, err := store.Open(t.TempDir())
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() { st.Close() })

	w := &Writer{Store: st}
	w.Record(context.Background(), "ws1", "a1", "openai", "gpt-4o",
		provider.Usage{PromptTokens: 10, CompletionTokens: 5, TotalTokens: 15, CostEstimateUSD: 0.000075})
}

func TestRecord_nilWriterIsSafe(t *testing.T) {
	t.Parallel()
	var w *Writer
	w.Record(context.Background(), "ws1", "a1", "openai", "gpt-4o", provider.Usage{})

	w = &Writer{}
	w.Record(context.Background(), "ws1", "a1", "openai", "gpt-4o", provider.Usage{})
}
