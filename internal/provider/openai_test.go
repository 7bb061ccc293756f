package provider

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
)

func newChatServer(t *testing.T, handler http.HandlerFunc) (*httptest.Server, *OpenAIAdapter) {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	a := &OpenAIAdapter{Provider: "openai", BaseURL: srv.URL, CostPer1K: 0.005, Tools: true, HTTPClient: srv.Client()}
	return srv, a
}

func TestChat_requestAndResponse(t *testing.T) {
	t.Parallel()
	var gotPath, gotAuth string
	var gotBody map[string]any
	_, a := newChatServer(t, func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		gotAuth = r.Header.Get("Authorization")
		_ = json.NewDecoder(r.Body).Decode(&gotBody)
		fmt.Fprint(w, `{
			"choices": [{"message": {"content": "hi there"}}],
			"usage": {"prompt_tokens": 9, "completion_tokens": 3, "total_tokens": 12}
		}`)
	})

	resp, err := a.Chat(context.Background(), "sk-test", "gpt-4o",
		[]ChatMessage{{Role: "user", Content: "hello"}}, nil, 0.7)
	if err != nil {
		t.Fatalf("chat: %v", err)
	}
	if gotPath != "/chat/completions" {
		t.Errorf("path = %q", gotPath)
	}
	if gotAuth != "Bearer sk-test" {
		t.Errorf("auth = %q", gotAuth)
	}
	if gotBody["model"] != "gpt-4o" || gotBody["temperature"] != 0.7 {
		t.Errorf("request body = %v", gotBody)
	}
	if _, ok := gotBody["tools"]; ok {
		t.Error("tools field should be omitted without definitions")
	}
	if resp.Content != "hi there" {
		t.Errorf("content = %q", resp.Content)
	}
	if resp.Usage.TotalTokens != 12 || resp.Usage.CostEstimateUSD != 12.0/1000*0.005 {
		t.Errorf("usage = %+v", resp.Usage)
	}
}

func TestChat_toolCallsParsed(t *testing.T) {
	t.Parallel()
	var gotBody map[string]any
	_, a := newChatServer(t, func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewDecoder(r.Body).Decode(&gotBody)
		fmt.Fprint(w, `{
			"choices": [{"message": {"content": "", "tool_calls": [
				{"id": "call_1", "type": "function", "function": {"name": "web_search", "arguments": "{\"query\":\"go\"}"}}
			]}}],
			"usage": {"total_tokens": 20}
		}`)
	})

	tools := []map[string]any{{"type": "function"}}
	resp, err := a.Chat(context.Background(), "k", "gpt-4o", []ChatMessage{{Role: "user", Content: "x"}}, tools, 0)
	if err != nil {
		t.Fatalf("chat: %v", err)
	}
	if gotBody["tool_choice"] != "auto" {
		t.Errorf("tool_choice = %v", gotBody["tool_choice"])
	}
	if len(resp.ToolCalls) != 1 {
		t.Fatalf("tool calls = %d", len(resp.ToolCalls))
	}
	tc := resp.ToolCalls[0]
	if tc.ID != "call_1" || tc.Function.Name != "web_search" || tc.Function.Arguments != `{"query":"go"}` {
		t.Errorf("tool call = %+v", tc)
	}
}

func TestChat_apiErrorMessage(t *testing.T) {
	t.Parallel()
	_, a := newChatServer(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
		fmt.Fprint(w, `{"error": {"message": "model does not exist"}}`)
	})

	_, err := a.Chat(context.Background(), "k", "nope", []ChatMessage{{Role: "user", Content: "x"}}, nil, 0)
	if err == nil {
		t.Fatal("expected error")
	}
	want := "openai: model does not exist (status 404)"
	if err.Error() != want {
		t.Errorf("err = %q, want %q", err.Error(), want)
	}
}

func TestChat_emptyChoices(t *testing.T) {
	t.Parallel()
	_, a := newChatServer(t, func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `{"choices": [], "usage": {"total_tokens": 1}}`)
	})
	_, err := a.Chat(context.Background(), "k", "m", []ChatMessage{{Role: "user", Content: "x"}}, nil, 0)
	if err == nil || !strings.Contains(err.Error(), "empty choices") {
		t.Fatalf("err = %v", err)
	}
}

func TestExecute_streaming(t *testing.T) {
	t.Parallel()
	_, a := newChatServer(t, func(w http.ResponseWriter, r *http.Request) {
		var body map[string]any
		_ = json.NewDecoder(r.Body).Decode(&body)
		if body["stream"] != true {
			t.Errorf("stream = %v", body["stream"])
		}
		w.Header().Set("Content-Type", "text/event-stream")
		fmt.Fprint(w, `data: {"choices":[{"delta":{"content":"Hel"}}]}`+"\n\n")
		fmt.Fprint(w, `data: {"choices":[{"delta":{"content":"lo"}}]}`+"\n\n")
		fmt.Fprint(w, `data: {"choices":[],"usage":{"prompt_tokens":4,"completion_tokens":2,"total_tokens":6}}`+"\n\n")
		fmt.Fprint(w, "data: [DONE]\n\n")
	})

	var chunks []string
	res, err := a.Execute(context.Background(), "k", "gpt-4o", "sys", "user", 0, func(c string) {
		chunks = append(chunks, c)
	})
	if err != nil {
		t.Fatalf("execute: %v", err)
	}
	if res.Text != "Hello" {
		t.Errorf("text = %q", res.Text)
	}
	if len(chunks) != 2 || chunks[0] != "Hel" || chunks[1] != "lo" {
		t.Errorf("chunks = %v", chunks)
	}
	if res.Usage.TotalTokens != 6 {
		t.Errorf("usage = %+v", res.Usage)
	}
}

func TestExecute_nonStreaming(t *testing.T) {
	t.Parallel()
	var gotMessages []map[string]any
	_, a := newChatServer(t, func(w http.ResponseWriter, r *http.Request) {
		var body struct {
			Messages []map[string]any `json:"messages"`
		}
		_ = json.NewDecoder(r.Body).Decode(&body)
		gotMessages = body.Messages
		fmt.Fprint(w, `{"choices": [{"message": {"content": "pong"}}], "usage": {"total_tokens": 2}}`)
	})

	res, err := a.Execute(context.Background(), "k", "gpt-4o", "be terse", "ping", 0, nil)
	if err != nil {
		t.Fatalf("execute: %v", err)
	}
	if res.Text != "pong" {
		t.Errorf("text = %q", res.Text)
	}
	if len(gotMessages) != 2 || gotMessages[0]["role"] != "system" || gotMessages[1]["content"] != "ping" {
		t.Errorf("messages = %v", gotMessages)
	}
}

func TestUsage_totalFallback(t *testing.T) {
	t.Parallel()
	a := &OpenAIAdapter{Provider: "openai", CostPer1K: 0.005}
	u := a.usage(apiUsage{PromptTokens: 7, CompletionTokens: 3})
	if u.TotalTokens != 10 {
		t.Errorf("total = %d, want prompt+completion fallback", u.TotalTokens)
	}
}
