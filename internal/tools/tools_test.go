package tools

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/vincentgrobler/crewform-sub000/internal/store"
	"github.com/vincentgrobler/crewform-sub000/pkg/models"
)

func newTestExecutor(t *testing.T) (*Executor, store.Store) {
	t.Helper()
	st, err := store.Open(t.TempDir())
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() { st.Close() })
	return NewExecutor(st, "", ""), st
}

func TestDefinitions_builtinsAndCustom(t *testing.T) {
	t.Parallel()
	e, st := newTestExecutor(t)
	ctx := context.Background()

	ct := models.CustomTool{
		ID:          "weather",
		WorkspaceID: "ws1",
		Name:        "weather",
		Description: "Look up the weather",
		ParamSchema: `{"type":"object","properties":{"city":{"type":"string"}},"required":["city"]}`,
		WebhookURL:  "http://example.invalid/hook",
	}
	if err := st.PutCustomTool(ctx, ct); err != nil {
		t.Fatalf("put custom tool: %v", err)
	}

	defs := e.Definitions(ctx, []string{"web_search", "custom:weather", "no_such_tool", "custom:missing"})
	if len(defs) != 2 {
		t.Fatalf("defs = %d, want 2", len(defs))
	}
	if defs[0].Name != "web_search" || defs[0].Custom != nil {
		t.Errorf("defs[0] = %+v", defs[0])
	}
	if defs[1].Name != "weather" || defs[1].Custom == nil {
		t.Fatalf("defs[1] = %+v", defs[1])
	}
	req, _ := defs[1].Parameters["required"].([]any)
	if len(req) != 1 || req[0] != "city" {
		t.Errorf("custom schema not parsed: %v", defs[1].Parameters)
	}
}

func TestDefinitions_badSchemaFallsBackToEmptyObject(t *testing.T) {
	t.Parallel()
	e, st := newTestExecutor(t)
	ctx := context.Background()
	if err := st.PutCustomTool(ctx, models.CustomTool{
		ID: "broken", WorkspaceID: "ws1", Name: "broken",
		ParamSchema: "{not json", WebhookURL: "http://example.invalid",
	}); err != nil {
		t.Fatalf("put: %v", err)
	}
	defs := e.Definitions(ctx, []string{"custom:broken"})
	if len(defs) != 1 {
		t.Fatalf("defs = %d", len(defs))
	}
	if defs[0].Parameters["type"] != "object" {
		t.Errorf("parameters = %v", defs[0].Parameters)
	}
}

func TestOpenAIToolDefs_shape(t *testing.T) {
	t.Parallel()
	defs := []Definition{{Name: "web_search", Description: "d", Parameters: map[string]any{"type": "object"}}}
	out := OpenAIToolDefs(defs)
	if len(out) != 1 || out[0]["type"] != "function" {
		t.Fatalf("out = %v", out)
	}
	fn, _ := out[0]["function"].(map[string]any)
	if fn["name"] != "web_search" {
		t.Errorf("function = %v", fn)
	}
}

func TestExecuteToolCall_unknownAndBadArgs(t *testing.T) {
	t.Parallel()
	e, _ := newTestExecutor(t)
	ctx := context.Background()
	defs := e.Definitions(ctx, []string{"web_search"})

	if got := e.ExecuteToolCall(ctx, defs, "nope", "{}"); !strings.Contains(got, `unknown tool "nope"`) {
		t.Errorf("got %q", got)
	}
	if got := e.ExecuteToolCall(ctx, defs, "web_search", "{bad"); !strings.Contains(got, "invalid arguments") {
		t.Errorf("got %q", got)
	}
}

func TestExecuteToolCall_webhook(t *testing.T) {
	t.Parallel()
	var gotBody map[string]any
	var gotAuth string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotAuth = r.Header.Get("Authorization")
		_ = json.NewDecoder(r.Body).Decode(&gotBody)
		w.Write([]byte(`{"temp": 21}`))
	}))
	defer srv.Close()

	e, st := newTestExecutor(t)
	ctx := context.Background()
	if err := st.PutCustomTool(ctx, models.CustomTool{
		ID: "weather", WorkspaceID: "ws1", Name: "weather",
		WebhookURL: srv.URL,
		Headers:    map[string]string{"Authorization": "Bearer tok"},
	}); err != nil {
		t.Fatalf("put: %v", err)
	}
	defs := e.Definitions(ctx, []string{"custom:weather"})

	out := e.ExecuteToolCall(ctx, defs, "weather", `{"city":"Oslo"}`)
	if out != `{"temp": 21}` {
		t.Errorf("out = %q", out)
	}
	if gotBody["city"] != "Oslo" {
		t.Errorf("webhook body = %v", gotBody)
	}
	if gotAuth != "Bearer tok" {
		t.Errorf("auth header = %q", gotAuth)
	}
}

func TestExecuteToolCall_webhookErrorStatus(t *testing.T) {
	t.Parallel()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer srv.Close()

	e, st := newTestExecutor(t)
	ctx := context.Background()
	if err := st.PutCustomTool(ctx, models.CustomTool{
		ID: "flaky", WorkspaceID: "ws1", Name: "flaky", WebhookURL: srv.URL,
	}); err != nil {
		t.Fatalf("put: %v", err)
	}
	defs := e.Definitions(ctx, []string{"custom:flaky"})

	out := e.ExecuteToolCall(ctx, defs, "flaky", "{}")
	if !strings.Contains(out, "returned status 502") {
		t.Errorf("out = %q", out)
	}
}

func TestHTTPRequest(t *testing.T) {
	t.Parallel()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method == http.MethodPost {
			b := make([]byte, r.ContentLength)
			r.Body.Read(b)
			w.Write([]byte("posted: " + string(b)))
			return
		}
		w.Write([]byte("hello"))
	}))
	defer srv.Close()

	e, _ := newTestExecutor(t)
	ctx := context.Background()
	defs := e.Definitions(ctx, []string{"http_request"})

	out := e.ExecuteToolCall(ctx, defs, "http_request", `{"url":"`+srv.URL+`"}`)
	if !strings.Contains(out, "status 200") || !strings.Contains(out, "hello") {
		t.Errorf("GET out = %q", out)
	}

	out = e.ExecuteToolCall(ctx, defs, "http_request", `{"url":"`+srv.URL+`","method":"POST","body":"ping"}`)
	if !strings.Contains(out, "posted: ping") {
		t.Errorf("POST out = %q", out)
	}

	out = e.ExecuteToolCall(ctx, defs, "http_request", `{"url":"`+srv.URL+`","method":"DELETE"}`)
	if !strings.Contains(out, `method "DELETE" not allowed`) {
		t.Errorf("DELETE out = %q", out)
	}

	out = e.ExecuteToolCall(ctx, defs, "http_request", `{"url":"ftp://x"}`)
	if !strings.Contains(out, "must be http or https") {
		t.Errorf("scheme out = %q", out)
	}
}

func TestReadFile(t *testing.T) {
	t.Parallel()
	dir := t.TempDir()
	if err := os.WriteFile(filepath.Join(dir, "notes.txt"), []byte("file body"), 0o644); err != nil {
		t.Fatal(err)
	}
	st, err := store.Open(t.TempDir())
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() { st.Close() })
	e := NewExecutor(st, dir, "")
	ctx := context.Background()
	defs := e.Definitions(ctx, []string{"read_file"})

	if out := e.ExecuteToolCall(ctx, defs, "read_file", `{"path":"notes.txt"}`); out != "file body" {
		t.Errorf("out = %q", out)
	}
	if out := e.ExecuteToolCall(ctx, defs, "read_file", `{"path":"missing.txt"}`); !strings.Contains(out, "not found") {
		t.Errorf("out = %q", out)
	}
	// Traversal is neutralized by cleaning against a forced root.
	if out := e.ExecuteToolCall(ctx, defs, "read_file", `{"path":"../../etc/passwd"}`); strings.Contains(out, "root:") {
		t.Errorf("escaped the file store: %q", out)
	}
}

func TestReadFile_unconfigured(t *testing.T) {
	t.Parallel()
	e, _ := newTestExecutor(t)
	ctx := context.Background()
	defs := e.Definitions(ctx, []string{"read_file"})
	if out := e.ExecuteToolCall(ctx, defs, "read_file", `{"path":"x"}`); !strings.Contains(out, "not configured") {
		t.Errorf("out = %q", out)
	}
}

func TestCodeInterpreter(t *testing.T) {
	t.Parallel()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var in map[string]string
		_ = json.NewDecoder(r.Body).Decode(&in)
		if in["code"] == "boom" {
			json.NewEncoder(w).Encode(map[string]string{"error": "stack trace"})
			return
		}
		json.NewEncoder(w).Encode(map[string]string{"output": "42\n"})
	}))
	defer srv.Close()

	st, err := store.Open(t.TempDir())
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() { st.Close() })
	e := NewExecutor(st, "", srv.URL)
	ctx := context.Background()
	defs := e.Definitions(ctx, []string{"code_interpreter"})

	if out := e.ExecuteToolCall(ctx, defs, "code_interpreter", `{"language":"python","code":"print(42)"}`); out != "42\n" {
		t.Errorf("out = %q", out)
	}
	if out := e.ExecuteToolCall(ctx, defs, "code_interpreter", `{"code":"boom"}`); !strings.Contains(out, "execution error: stack trace") {
		t.Errorf("out = %q", out)
	}

	noSandbox, _ := newTestExecutor(t)
	if out := noSandbox.ExecuteToolCall(ctx, defs, "code_interpreter", `{"code":"x"}`); !strings.Contains(out, "sandbox is not configured") {
		t.Errorf("out = %q", out)
	}
}

func TestTruncate(t *testing.T) {
	t.Parallel()
	long := strings.Repeat("a", maxToolResponseBytes+100)
	got := truncate(long)
	if len(got) != maxToolResponseBytes+len("\n...[truncated]") {
		t.Errorf("len = %d", len(got))
	}
	if !strings.HasSuffix(got, "...[truncated]") {
		t.Errorf("missing marker: %q", got[len(got)-30:])
	}
	if short := truncate("ok"); short != "ok" {
		t.Errorf("short = %q", short)
	}
}
