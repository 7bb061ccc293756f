package tools

import (
	"context"
	"strings"

	"github.com/vincentgrobler/crewform-sub000/internal/provider"
	"github.com/vincentgrobler/crewform-sub000/pkg/models"
)

// exhaustedText is returned when the loop hits the round cap without the
// model ever producing a plain answer.
const exhaustedText = "maximum tool rounds reached without a final answer"

// Chatter is the chat-completions call shape the loop drives.
// *provider.OpenAIAdapter satisfies it; tests substitute a fake.
type Chatter interface {
	Chat(ctx context.Context, apiKey, model string, messages []provider.ChatMessage, tools []map[string]any, temperature float64) (*provider.ChatResponse, error)
}

// LoopResult is the outcome of a completed tool loop.
type LoopResult struct {
	Text   string
	Usage  provider.Usage
	Rounds int
}

// RunToolLoop drives the model-tool round trip: call the model with tool
// definitions, execute any requested tools sequentially, feed the results
// back, and repeat until the model answers in plain text or the round cap
// is hit. Usage accumulates across every call.
func (e *Executor) RunToolLoop(ctx context.Context, c Chatter, apiKey, model, systemPrompt, userPrompt string, temperature float64, defs []Definition) (*LoopResult, error) {
	messages := []provider.ChatMessage{}
	if systemPrompt != "" {
		messages = append(messages, provider.ChatMessage{Role: "system", Content: systemPrompt})
	}
	messages = append(messages, provider.ChatMessage{Role: "user", Content: userPrompt})
	toolDefs := OpenAIToolDefs(defs)

	var usage provider.Usage
	lastContent := ""
	for round := 1; round <= models.DefaultMaxToolRounds; round++ {
		resp, err := c.Chat(ctx, apiKey, model, messages, toolDefs, temperature)
		if err != nil {
			return nil, err
		}
		usage.Add(resp.Usage)
		if len(resp.ToolCalls) == 0 {
			return &LoopResult{Text: resp.Content, Usage: usage, Rounds: round}, nil
		}
		if strings.TrimSpace(resp.Content) != "" {
			lastContent = resp.Content
		}
		messages = append(messages, provider.ChatMessage{
			Role:      "assistant",
			Content:   resp.Content,
			ToolCalls: resp.ToolCalls,
		})
		for _, tc := range resp.ToolCalls {
			result := e.ExecuteToolCall(ctx, defs, tc.Function.Name, tc.Function.Arguments)
			messages = append(messages, provider.ChatMessage{
				Role:       "tool",
				ToolCallID: tc.ID,
				Name:       tc.Function.Name,
				Content:    result,
			})
		}
	}
	text := lastContent
	if text == "" {
		text = exhaustedText
	}
	return &LoopResult{Text: text, Usage: usage, Rounds: models.DefaultMaxToolRounds}, nil
}
