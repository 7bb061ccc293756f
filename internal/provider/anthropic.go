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

const anthropicVersion = "2023-06-01"

// AnthropicAdapter talks to the Anthropic Messages API, which does not share
// the OpenAI wire format.
type AnthropicAdapter struct {
	CostPer1K  float64
	BaseURL    string // empty means https://api.anthropic.com
	HTTPClient *http.Client
}

func (a *AnthropicAdapter) Name() string { return "anthropic" }

// SupportsToolCalls is false here because the tool loop speaks the
// OpenAI-compatible shape; Anthropic agents with tools fall back to a plain
// streamed call with the tools dropped.
func (a *AnthropicAdapter) SupportsToolCalls() bool { return false }

func (a *AnthropicAdapter) baseURL() string {
	if a.BaseURL != "" {
		return strings.TrimSuffix(a.BaseURL, "/")
	}
	return "https://api.anthropic.com"
}

func (a *AnthropicAdapter) client() *http.Client {
	if a.HTTPClient != nil {
		return a.HTTPClient
	}
	return http.DefaultClient
}

func (a *AnthropicAdapter) Execute(ctx context.Context, apiKey, model, systemPrompt, userPrompt string, temperature float64, onChunk func(string)) (Result, error) {
	reqBody := map[string]any{
		"model":       model,
		"max_tokens":  8192,
		"temperature": temperature,
		"messages": []map[string]any{
			{"role": "user", "content": userPrompt},
		},
	}
	if systemPrompt != "" {
		reqBody["system"] = systemPrompt
	}
	if onChunk != nil {
		reqBody["stream"] = true
	}
	body, err := json.Marshal(reqBody)
	if err != nil {
		return Result{}, err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, a.baseURL()+"/v1/messages", bytes.NewReader(body))
	if err != nil {
		return Result{}, err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("x-api-key", apiKey)
	req.Header.Set("anthropic-version", anthropicVersion)
	resp, err := a.client().Do(req)
	if err != nil {
		return Result{}, err
	}
	defer func() { _ = resp.Body.Close() }()
	if resp.StatusCode != http.StatusOK {
		return Result{}, a.apiError(resp)
	}
	if onChunk != nil {
		return a.readStream(resp.Body, onChunk)
	}
	return a.readOnce(resp.Body)
}

func (a *AnthropicAdapter) usage(in, out int) Usage {
	total := in + out
	return Usage{
		PromptTokens:     in,
		CompletionTokens: out,
		TotalTokens:      total,
		CostEstimateUSD:  float64(total) / 1000 * a.CostPer1K,
	}
}

func (a *AnthropicAdapter) readOnce(body io.Reader) (Result, error) {
	var apiResp struct {
		Content []struct {
			Type string `json:"type"`
			Text string `json:"text"`
		} `json:"content"`
		Usage struct {
			InputTokens  int `json:"input_tokens"`
			OutputTokens int `json:"output_tokens"`
		} `json:"usage"`
	}
	if err := json.NewDecoder(body).Decode(&apiResp); err != nil {
		return Result{}, err
	}
	var text strings.Builder
	for _, c := range apiResp.Content {
		if c.Type == "text" {
			text.WriteString(c.Text)
		}
	}
	return Result{Text: text.String(), Usage: a.usage(apiResp.Usage.InputTokens, apiResp.Usage.OutputTokens)}, nil
}

func (a *AnthropicAdapter) readStream(body io.Reader, onChunk func(string)) (Result, error) {
	var text strings.Builder
	var inTokens, outTokens int
	scanner := bufio.NewScanner(body)
	scanner.Buffer(make([]byte, 0, 64*1024), 1<<20)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if !strings.HasPrefix(line, "data:") {
			continue
		}
		payload := strings.TrimSpace(strings.TrimPrefix(line, "data:"))
		var ev struct {
			Type  string `json:"type"`
			Delta struct {
				Type string `json:"type"`
				Text string `json:"text"`
			} `json:"delta"`
			Message struct {
				Usage struct {
					InputTokens int `json:"input_tokens"`
				} `json:"usage"`
			} `json:"message"`
			Usage struct {
				OutputTokens int `json:"output_tokens"`
			} `json:"usage"`
		}
		if err := json.Unmarshal([]byte(payload), &ev); err != nil {
			continue
		}
		switch ev.Type {
		case "message_start":
			inTokens = ev.Message.Usage.InputTokens
		case "content_block_delta":
			if ev.Delta.Type == "text_delta" && ev.Delta.Text != "" {
				text.WriteString(ev.Delta.Text)
				onChunk(ev.Delta.Text)
			}
		case "message_delta":
			if ev.Usage.OutputTokens > 0 {
				outTokens = ev.Usage.OutputTokens
			}
		}
	}
	if err := scanner.Err(); err != nil {
		return Result{}, err
	}
	return Result{Text: text.String(), Usage: a.usage(inTokens, outTokens)}, nil
}

func (a *AnthropicAdapter) apiError(resp *http.Response) error {
	b, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
	var apiErr struct {
		Error struct {
			Message string `json:"message"`
		} `json:"error"`
	}
	if json.Unmarshal(b, &apiErr) == nil && apiErr.Error.Message != "" {
		return fmt.Errorf("anthropic: %s (status %d)", apiErr.Error.Message, resp.StatusCode)
	}
	return fmt.Errorf("anthropic: status %d", resp.StatusCode)
}
