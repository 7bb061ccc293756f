// Package provider gives a uniform interface to per-vendor chat-completion
// APIs: streaming text plus token usage. Most vendors expose an
// OpenAI-compatible endpoint, so they are represented as rows in a small data
// table consumed by one generic adapter; Anthropic has its own wire format.
package provider

import (
	"context"
	"errors"
	"fmt"
	"strings"
)

// Usage is token accounting for one LLM call.
type Usage struct {
	PromptTokens     int     `json:"prompt_tokens"`
	CompletionTokens int     `json:"completion_tokens"`
	TotalTokens      int     `json:"total_tokens"`
	CostEstimateUSD  float64 `json:"cost_estimate_usd"`
}

// Add accumulates usage across rounds of a tool loop or steps of a run.
func (u *Usage) Add(o Usage) {
	u.PromptTokens += o.PromptTokens
	u.CompletionTokens += o.CompletionTokens
	u.TotalTokens += o.TotalTokens
	u.CostEstimateUSD += o.CostEstimateUSD
}

// Result is the outcome of one complete LLM call.
type Result struct {
	Text  string
	Usage Usage
}

// Adapter executes chat completions against one vendor.
type Adapter interface {
	Name() string
	// Execute performs a single system+user completion, streaming partial text
	// via onChunk when non-nil.
	Execute(ctx context.Context, apiKey, model, systemPrompt, userPrompt string, temperature float64, onChunk func(string)) (Result, error)
	// SupportsToolCalls reports whether the vendor accepts native structured
	// tool definitions on its chat endpoint.
	SupportsToolCalls() bool
}

// ErrUnsupported is returned when no adapter exists for a provider name.
var ErrUnsupported = errors.New("unsupported provider")

// endpoint is one row of the OpenAI-compatible provider table.
type endpoint struct {
	BaseURL string
	// costPer1K is a flat blended USD rate per 1K total tokens, used for the
	// dashboard cost estimate; it is not a billing-grade figure.
	CostPer1K float64
	Tools     bool
}

var openAICompatible = map[string]endpoint{
	"openai":     {BaseURL: "https://api.openai.com/v1", CostPer1K: 0.005, Tools: true},
	"groq":       {BaseURL: "https://api.groq.com/openai/v1", CostPer1K: 0.0008, Tools: true},
	"mistral":    {BaseURL: "https://api.mistral.ai/v1", CostPer1K: 0.002, Tools: true},
	"deepseek":   {BaseURL: "https://api.deepseek.com/v1", CostPer1K: 0.0011, Tools: true},
	"xai":        {BaseURL: "https://api.x.ai/v1", CostPer1K: 0.004, Tools: true},
	"openrouter": {BaseURL: "https://openrouter.ai/api/v1", CostPer1K: 0.003, Tools: true},
}

const anthropicCostPer1K = 0.006

// Registry maps provider names to adapters.
type Registry struct {
	adapters map[string]Adapter
}

// NewRegistry builds the default registry: one generic adapter per
// OpenAI-compatible table row plus the Anthropic adapter.
func NewRegistry() *Registry {
	r := &Registry{adapters: make(map[string]Adapter)}
	for name, ep := range openAICompatible {
		r.adapters[name] = &OpenAIAdapter{Provider: name, BaseURL: ep.BaseURL, CostPer1K: ep.CostPer1K, Tools: ep.Tools}
	}
	r.adapters["anthropic"] = &AnthropicAdapter{CostPer1K: anthropicCostPer1K}
	return r
}

// Register adds or replaces an adapter (used by tests and custom endpoints).
func (r *Registry) Register(a Adapter) {
	r.adapters[a.Name()] = a
}

// Get returns the adapter for name, or ErrUnsupported.
func (r *Registry) Get(name string) (Adapter, error) {
	a, ok := r.adapters[strings.ToLower(name)]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnsupported, name)
	}
	return a, nil
}

// Infer derives the provider from model-name prefixes and keywords, falling
// back to the agent's stored provider. Preferring the model name means a
// stale stored provider field cannot misroute a call for a recognizable model.
func Infer(model, stored string) string {
	m := strings.ToLower(model)
	switch {
	case strings.HasPrefix(m, "claude"):
		return "anthropic"
	case strings.HasPrefix(m, "gpt"), strings.HasPrefix(m, "o1"), strings.HasPrefix(m, "o3"), strings.HasPrefix(m, "o4"):
		return "openai"
	case strings.HasPrefix(m, "grok"):
		return "xai"
	case strings.Contains(m, "deepseek"):
		return "deepseek"
	case strings.Contains(m, "mistral"), strings.Contains(m, "mixtral"):
		return "mistral"
	case strings.Contains(m, "llama"):
		return "groq"
	}
	if stored != "" {
		return strings.ToLower(stored)
	}
	return ""
}

// EstimateCost returns the flat-rate cost estimate for totalTokens on provider.
func EstimateCost(provider string, totalTokens int) float64 {
	rate := anthropicCostPer1K
	if ep, ok := openAICompatible[strings.ToLower(provider)]; ok {
		rate = ep.CostPer1K
	}
	return float64(totalTokens) / 1000 * rate
}
