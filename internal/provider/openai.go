package provider

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
)

// ChatMessage is one turn in an OpenAI-compatible conversation.
type ChatMessage struct {
	Role       string     `json:"role"`
	Content    string     `json:"content"`
	ToolCalls  []ToolCall `json:"tool_calls,omitempty"`
	ToolCallID string     `json:"tool_call_id,omitempty"`
	Name       string     `json:"name,omitempty"`
}

// ToolCall is a model-requested tool invocation.
type ToolCall struct {
	ID       string       `json:"id"`
	Type     string       `json:"type"`
	Function FunctionCall `json:"function"`
}

// FunctionCall carries the tool name and raw JSON arguments.
type FunctionCall struct {
	Name      string `json:"name"`
	Arguments string `json:"arguments"`
}

// ChatResponse is the parsed result of one chat-completions call.
type ChatResponse struct {
	Content   string
	ToolCalls []ToolCall
	Usage     Usage
}

// OpenAIAdapter talks to any OpenAI-compatible chat-completions endpoint.
// One instance per table row; only BaseURL and cost differ between vendors.
type OpenAIAdapter struct {
	Provider  string
	BaseURL   string
	CostPer1K float64
	Tools     bool
	// HTTPClient overrides http.DefaultClient (used by tests).
	HTTPClient *http.Client
}

func (a *OpenAIAdapter) Name() string { return a.Provider }

func (a *OpenAIAdapter) SupportsToolCalls() bool { return a.Tools }

func (a *OpenAIAdapter) client() *http.Client {
	if a.HTTPClient != nil {
		return a.HTTPClient
	}
	return http.DefaultClient
}

type apiUsage struct {
	PromptTokens     int `json:"prompt_tokens"`
	CompletionTokens int `json:"completion_tokens"`
	TotalTokens      int `json:"total_tokens"`
}

func (a *OpenAIAdapter) usage(u apiUsage) Usage {
	total := u.TotalTokens
	if total == 0 {
		total = u.PromptTokens + u.CompletionTokens
	}
	return Usage{
		PromptTokens:     u.PromptTokens,
		CompletionTokens: u.CompletionTokens,
		TotalTokens:      total,
		CostEstimateUSD:  float64(total) / 1000 * a.CostPer1K,
	}
}

func (a *OpenAIAdapter) Execute(ctx context.Context, apiKey, model, systemPrompt, userPrompt string, temperature float64, onChunk func(string)) (Result, error) {
	messages := []ChatMessage{}
	if systemPrompt != "" {
		messages = append(messages, ChatMessage{Role: "system", Content: systemPrompt})
	}
	messages = append(messages, ChatMessage{Role: "user", Content: userPrompt})

	if onChunk != nil {
		return a.stream(ctx, apiKey, model, messages, temperature, onChunk)
	}
	resp, err := a.Chat(ctx, apiKey, model, messages, nil, temperature)
	if err != nil {
		return Result{}, err
	}
	return Result{Text: resp.Content, Usage: resp.Usage}, nil
}

// Chat performs one non-streaming chat-completions call, optionally with
// native tool definitions. This is the call shape the tool loop uses
// uniformly across all OpenAI-compatible vendors.
func (a *OpenAIAdapter) Chat(ctx context.Context, apiKey, model string, messages []ChatMessage, tools []map[string]any, temperature float64) (*ChatResponse, error) {
	reqBody := map[string]any{
		"model":       model,
		"messages":    messages,
		"temperature": temperature,
	}
	if len(tools) > 0 {
		reqBody["tools"] = tools
		reqBody["tool_choice"] = "auto"
	}
	body, err := json.Marshal(reqBody)
	if err != nil {
		return nil, err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, strings.TrimSuffix(a.BaseURL, "/")+"/chat/completions", bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+apiKey)
	resp, err := a.client().Do(req)
	if err != nil {
		return nil, err
	}
	defer func() { _ = resp.Body.Close() }()
	if resp.StatusCode != http.StatusOK {
		return nil, apiError(a.Provider, resp)
	}
	var apiResp struct {
		Choices []struct {
			Message struct {
				Content   string     `json:"content"`
				ToolCalls []ToolCall `json:"tool_calls"`
			} `json:"message"`
		} `json:"choices"`
		Usage apiUsage `json:"usage"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&apiResp); err != nil {
		return nil, err
	}
	if len(apiResp.Choices) == 0 {
		return nil, fmt.Errorf("%s: empty choices", a.Provider)
	}
	return &ChatResponse{
		Content:   apiResp.Choices[0].Message.Content,
		ToolCalls: apiResp.Choices[0].Message.ToolCalls,
		Usage:     a.usage(apiResp.Usage),
	}, nil
}

func (a *OpenAIAdapter) stream(ctx context.Context, apiKey, model string, messages []ChatMessage, temperature float64, onChunk func(string)) (Result, error) {
	reqBody := map[string]any{
		"model":          model,
		"messages":       messages,
		"temperature":    temperature,
		"stream":         true,
		"stream_options": map[string]any{"include_usage": true},
	}
	body, err := json.Marshal(reqBody)
	if err != nil {
		return Result{}, err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, strings.TrimSuffix(a.BaseURL, "/")+"/chat/completions", bytes.NewReader(body))
	if err != nil {
		return Result{}, err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+apiKey)
	resp, err := a.client().Do(req)
	if err != nil {
		return Result{}, err
	}
	defer func() { _ = resp.Body.Close() }()
	if resp.StatusCode != http.StatusOK {
		return Result{}, apiError(a.Provider, resp)
	}

	var text strings.Builder
	var usage Usage
	scanner := bufio.NewScanner(resp.Body)
	scanner.Buffer(make([]byte, 0, 64*1024), 1<<20)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if !strings.HasPrefix(line, "data:") {
			continue
		}
		payload := strings.TrimSpace(strings.TrimPrefix(line, "data:"))
		if payload == "[DONE]" {
			break
		}
		var chunk struct {
			Choices []struct {
				Delta struct {
					Content string `json:"content"`
				} `json:"delta"`
			} `json:"choices"`
			Usage *apiUsage `json:"usage"`
		}
		if err := json.Unmarshal([]byte(payload), &chunk); err != nil {
			continue
		}
		if len(chunk.Choices) > 0 && chunk.Choices[0].Delta.Content != "" {
			text.WriteString(chunk.Choices[0].Delta.Content)
			onChunk(chunk.Choices[0].Delta.Content)
		}
		if chunk.Usage != nil {
			usage = a.usage(*chunk.Usage)
		}
	}
	if err := scanner.Err(); err != nil {
		return Result{}, err
	}
	return Result{Text: text.String(), Usage: usage}, nil
}

func apiError(provider string, resp *http.Response) error {
	b, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
	var apiErr struct {
		Error struct {
			Message string `json:"message"`
		} `json:"error"`
	}
	if json.Unmarshal(b, &apiErr) == nil && apiErr.Error.Message != "" {
		return fmt.Errorf("%s: %s (status %d)", provider, apiErr.Error.Message, resp.StatusCode)
	}
	return fmt.Errorf("%s: status %d", provider, resp.StatusCode)
}
