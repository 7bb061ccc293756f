// Package tools maintains the registry of built-in and custom (webhook)
// tools, executes tool calls on behalf of the model, and runs the generic
// LLM-tool round-trip loop.
//
// Tool failures are returned to the model as plain-text error strings, never
// as Go errors: a single failing tool must not abort the surrounding loop.
package tools

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"

	"github.com/vincentgrobler/crewform-sub000/internal/store"
	"github.com/vincentgrobler/crewform-sub000/pkg/models"
)

// maxToolResponseBytes caps what a tool may feed back into the conversation.
const maxToolResponseBytes = 8000

// CustomPrefix marks agent tool-list entries that reference a user-defined
// webhook tool by id.
const CustomPrefix = "custom:"

// Definition is one tool offered to the model.
type Definition struct {
	Name        string
	Description string
	Parameters  map[string]any
	Custom      *models.CustomTool // nil for built-ins
}

// Executor dispatches tool calls.
type Executor struct {
	Store      store.Store
	FilesDir   string // root for read_file; empty disables it
	SandboxURL string // code_interpreter sandbox service; empty disables it
	httpc      *resty.Client
	webhook    *resty.Client
}

// NewExecutor builds an Executor with the standard outbound timeouts
// (15s for generic HTTP, 10s for tool webhooks).
func NewExecutor(st store.Store, filesDir, sandboxURL string) *Executor {
	return &Executor{
		Store:      st,
		FilesDir:   filesDir,
		SandboxURL: sandboxURL,
		httpc:      resty.New().SetTimeout(15 * time.Second),
		webhook:    resty.New().SetTimeout(10 * time.Second),
	}
}

var builtins = []Definition{
	{
		Name:        "web_search",
		Description: "Search the web and return a short answer with sources",
		Parameters: map[string]any{
			"type": "object",
			"properties": map[string]any{
				"query": map[string]any{"type": "string", "description": "Search query"},
			},
			"required": []string{"query"},
		},
	},
	{
		Name:        "http_request",
		Description: "Perform an HTTP request and return the response body",
		Parameters: map[string]any{
			"type": "object",
			"properties": map[string]any{
				"url":    map[string]any{"type": "string"},
				"method": map[string]any{"type": "string", "description": "GET or POST, default GET"},
				"body":   map[string]any{"type": "string"},
			},
			"required": []string{"url"},
		},
	},
	{
		Name:        "code_interpreter",
		Description: "Run a short code snippet in a sandbox and return its output",
		Parameters: map[string]any{
			"type": "object",
			"properties": map[string]any{
				"language": map[string]any{"type": "string"},
				"code":     map[string]any{"type": "string"},
			},
			"required": []string{"code"},
		},
	},
	{
		Name:        "read_file",
		Description: "Read a file from the workspace file store",
		Parameters: map[string]any{
			"type": "object",
			"properties": map[string]any{
				"path": map[string]any{"type": "string", "description": "Relative path"},
			},
			"required": []string{"path"},
		},
	},
	{
		Name:        "grammar_check",
		Description: "Check text for grammar and spelling issues",
		Parameters: map[string]any{
			"type": "object",
			"properties": map[string]any{
				"text": map[string]any{"type": "string"},
			},
			"required": []string{"text"},
		},
	},
}

// Definitions resolves an agent's tool list (built-in names plus
// "custom:<id>" references) into definitions. Unknown names are skipped.
func (e *Executor) Definitions(ctx context.Context, toolNames []string) []Definition {
	var out []Definition
	for _, name := range toolNames {
		if strings.HasPrefix(name, CustomPrefix) {
			id := strings.TrimPrefix(name, CustomPrefix)
			ct, err := e.Store.GetCustomTool(ctx, id)
			if err != nil {
				continue
			}
			params := map[string]any{"type": "object", "properties": map[string]any{}}
			if ct.ParamSchema != "" {
				var schema map[string]any
				if json.Unmarshal([]byte(ct.ParamSchema), &schema) == nil && len(schema) > 0 {
					params = schema
				}
			}
			out = append(out, Definition{Name: ct.Name, Description: ct.Description, Parameters: params, Custom: ct})
			continue
		}
		for _, b := range builtins {
			if b.Name == name {
				out = append(out, b)
				break
			}
		}
	}
	return out
}

// OpenAIToolDefs converts definitions to the chat-completions tools payload.
func OpenAIToolDefs(defs []Definition) []map[string]any {
	out := make([]map[string]any, 0, len(defs))
	for _, d := range defs {
		out = append(out, map[string]any{
			"type": "function",
			"function": map[string]any{
				"name":        d.Name,
				"description": d.Description,
				"parameters":  d.Parameters,
			},
		})
	}
	return out
}

// ExecuteToolCall dispatches one tool call by name and returns the result as
// text. Errors come back as text too, so the model can adapt.
func (e *Executor) ExecuteToolCall(ctx context.Context, defs []Definition, name, argsJSON string) string {
	var def *Definition
	for i := range defs {
		if defs[i].Name == name {
			def = &defs[i]
			break
		}
	}
	if def == nil {
		return fmt.Sprintf("tool error: unknown tool %q", name)
	}
	var args map[string]any
	if err := json.Unmarshal([]byte(argsJSON), &args); err != nil {
		return fmt.Sprintf("tool error: invalid arguments for %s: %v", name, err)
	}
	if def.Custom != nil {
		return e.callWebhook(ctx, def.Custom, args)
	}
	switch name {
	case "web_search":
		return e.webSearch(ctx, str(args, "query"))
	case "http_request":
		return e.httpRequest(ctx, str(args, "url"), str(args, "method"), str(args, "body"))
	case "code_interpreter":
		return e.codeInterpreter(ctx, str(args, "language"), str(args, "code"))
	case "read_file":
		return e.readFile(str(args, "path"))
	case "grammar_check":
		return e.grammarCheck(ctx, str(args, "text"))
	}
	return fmt.Sprintf("tool error: unknown tool %q", name)
}

func str(m map[string]any, k string) string {
	v, _ := m[k].(string)
	return v
}

func truncate(s string) string {
	if len(s) <= maxToolResponseBytes {
		return s
	}
	return s[:maxToolResponseBytes] + "\n...[truncated]"
}

// callWebhook POSTs the parsed arguments as JSON to the custom tool's webhook
// and returns the (truncated) response body.
func (e *Executor) callWebhook(ctx context.Context, ct *models.CustomTool, args map[string]any) string {
	req := e.webhook.R().SetContext(ctx).SetHeader("Content-Type", "application/json").SetBody(args)
	for k, v := range ct.Headers {
		req.SetHeader(k, v)
	}
	resp, err := req.Post(ct.WebhookURL)
	if err != nil {
		return fmt.Sprintf("tool error: webhook %s failed: %v", ct.Name, err)
	}
	if resp.StatusCode() < 200 || resp.StatusCode() >= 300 {
		return fmt.Sprintf("tool error: webhook %s returned status %d", ct.Name, resp.StatusCode())
	}
	return truncate(string(resp.Body()))
}

func (e *Executor) webSearch(ctx context.Context, query string) string {
	if query == "" {
		return "tool error: web_search requires a query"
	}
	var out struct {
		AbstractText string `json:"AbstractText"`
		AbstractURL  string `json:"AbstractURL"`
		RelatedTopics []struct {
			Text     string `json:"Text"`
			FirstURL string `json:"FirstURL"`
		} `json:"RelatedTopics"`
	}
	resp, err := e.httpc.R().SetContext(ctx).
		SetQueryParams(map[string]string{"q": query, "format": "json", "no_html": "1"}).
		SetResult(&out).
		Get("https://api.duckduckgo.com/")
	if err != nil {
		return fmt.Sprintf("tool error: web_search failed: %v", err)
	}
	if resp.StatusCode() != 200 {
		return fmt.Sprintf("tool error: web_search returned status %d", resp.StatusCode())
	}
	var b strings.Builder
	if out.AbstractText != "" {
		fmt.Fprintf(&b, "%s (%s)\n", out.AbstractText, out.AbstractURL)
	}
	for i, t := range out.RelatedTopics {
		if i >= 5 || t.Text == "" {
			break
		}
		fmt.Fprintf(&b, "- %s (%s)\n", t.Text, t.FirstURL)
	}
	if b.Len() == 0 {
		return "no results found"
	}
	return truncate(b.String())
}

func (e *Executor) httpRequest(ctx context.Context, url, method, body string) string {
	if url == "" {
		return "tool error: http_request requires a url"
	}
	if !strings.HasPrefix(url, "http://") && !strings.HasPrefix(url, "https://") {
		return "tool error: http_request url must be http or https"
	}
	req := e.httpc.R().SetContext(ctx)
	var (
		resp *resty.Response
		err  error
	)
	switch strings.ToUpper(method) {
	case "", "GET":
		resp, err = req.Get(url)
	case "POST":
		resp, err = req.SetHeader("Content-Type", "application/json").SetBody(body).Post(url)
	default:
		return fmt.Sprintf("tool error: http_request method %q not allowed", method)
	}
	if err != nil {
		return fmt.Sprintf("tool error: http_request failed: %v", err)
	}
	return truncate(fmt.Sprintf("status %d\n%s", resp.StatusCode(), string(resp.Body())))
}

func (e *Executor) codeInterpreter(ctx context.Context, language, code string) string {
	if e.SandboxURL == "" {
		return "tool error: code_interpreter sandbox is not configured"
	}
	var out struct {
		Output string `json:"output"`
		Error  string `json:"error"`
	}
	resp, err := e.httpc.R().SetContext(ctx).
		SetBody(map[string]string{"language": language, "code": code}).
		SetResult(&out).
		Post(e.SandboxURL)
	if err != nil {
		return fmt.Sprintf("tool error: code_interpreter failed: %v", err)
	}
	if resp.StatusCode() != 200 {
		return fmt.Sprintf("tool error: code_interpreter returned status %d", resp.StatusCode())
	}
	if out.Error != "" {
		return "execution error: " + truncate(out.Error)
	}
	return truncate(out.Output)
}

func (e *Executor) readFile(path string) string {
	if e.FilesDir == "" {
		return "tool error: file store is not configured"
	}
	if path == "" {
		return "tool error: read_file requires a path"
	}
	clean := filepath.Clean("/" + path) // force-rooted, then re-join
	full := filepath.Join(e.FilesDir, clean)
	rel, err := filepath.Rel(e.FilesDir, full)
	if err != nil || strings.HasPrefix(rel, "..") {
		return "tool error: path escapes the file store"
	}
	b, err := os.ReadFile(full)
	if errors.Is(err, os.ErrNotExist) {
		return fmt.Sprintf("tool error: file %q not found", path)
	}
	if err != nil {
		return fmt.Sprintf("tool error: read_file failed: %v", err)
	}
	return truncate(string(b))
}

func (e *Executor) grammarCheck(ctx context.Context, text string) string {
	if text == "" {
		return "tool error: grammar_check requires text"
	}
	var out struct {
		Matches []struct {
			Message string `json:"message"`
			Offset  int    `json:"offset"`
			Length  int    `json:"length"`
		} `json:"matches"`
	}
	resp, err := e.httpc.R().SetContext(ctx).
		SetFormData(map[string]string{"text": text, "language": "en-US"}).
		SetResult(&out).
		Post("https://api.languagetool.org/v2/check")
	if err != nil {
		return fmt.Sprintf("tool error: grammar_check failed: %v", err)
	}
	if resp.StatusCode() != 200 {
		return fmt.Sprintf("tool error: grammar_check returned status %d", resp.StatusCode())
	}
	if len(out.Matches) == 0 {
		return "no issues found"
	}
	var b strings.Builder
	for i, m := range out.Matches {
		if i >= 20 {
			break
		}
		fmt.Fprintf(&b, "- at %d+%d: %s\n", m.Offset, m.Length, m.Message)
	}
	return truncate(b.String())
}
