package llmcall

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/vincentgrobler/crewform-sub000/internal/credentials"
	"github.com/vincentgrobler/crewform-sub000/internal/provider"
	"github.com/vincentgrobler/crewform-sub000/internal/store"
	"github.com/vincentgrobler/crewform-sub000/internal/usage"
	"github.com/vincentgrobler/crewform-sub000/pkg/models"
)

// stubAdapter records the call it received and returns a canned result.
type stubAdapter struct {
	name      string
	lastKey   string
	lastModel string
	lastSys   string
	result    provider.Result
	err       error
}

func (a *stubAdapter) Name() string            { return a.name }
func (a *stubAdapter) SupportsToolCalls() bool { return false }

func (a *stubAdapter) Execute(ctx context.Context, apiKey, model, systemPrompt, userPrompt string, temperature float64, onChunk func(string)) (provider.Result, error) {
	a.lastKey = apiKey
	a.lastModel = model
	a.lastSys = systemPrompt
	if a.err != nil {
		return provider.Result{}, a.err
	}
	if onChunk != nil {
		onChunk(a.result.Text)
	}
	return a.result, nil
}

func newService(t *testing.T) (*Service, store.Store, *stubAdapter) {
	t.Helper()
	st, err := store.Open(t.TempDir())
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() { st.Close() })

	creds, err := credentials.NewResolver(st, "test-master")
	if err != nil {
		t.Fatal(err)
	}
	stub := &stubAdapter{name: "openai", result: provider.Result{Text: "reply", Usage: provider.Usage{TotalTokens: 7}}}
	reg := provider.NewRegistry()
	reg.Register(stub)

	return &Service{
		Store:       st,
		Providers:   reg,
		Credentials: creds,
		Usage:       &usage.Writer{Store: st},
	}, st, stub
}

func seedAgent(t *testing.T, st store.Store, model, providerName string) models.Agent {
	t.Helper()
	agent, err := st.CreateAgent(context.Background(), models.Agent{
		WorkspaceID:  "ws1",
		Name:         "writer",
		Provider:     providerName,
		Model:        model,
		SystemPrompt: "stored system prompt",
		Temperature:  0.4,
	})
	if err != nil {
		t.Fatalf("create agent: %v", err)
	}
	return agent
}

func TestResolve(t *testing.T) {
	t.Parallel()
	svc, st, _ := newService(t)
	ctx := context.Background()
	agent := seedAgent(t, st, "gpt-4o-mini", "openai")
	if err := svc.Credentials.Put(ctx, "ws1", "openai", "sk-live"); err != nil {
		t.Fatal(err)
	}

	res, err := svc.Resolve(ctx, "ws1", agent.ID)
	if err != nil {
		t.Fatalf("resolve: %v", err)
	}
	if res.Provider != "openai" || res.APIKey != "sk-live" {
		t.Errorf("res = %+v", res)
	}
	if res.Adapter.Name() != "openai" {
		t.Errorf("adapter = %q", res.Adapter.Name())
	}
}

func TestResolve_modelNameWinsOverStoredProvider(t *testing.T) {
	t.Parallel()
	svc, st, _ := newService(t)
	ctx := context.Background()
	// Stored provider says groq, but the model id is an OpenAI one.
	agent := seedAgent(t, st, "gpt-4o", "groq")
	if err := svc.Credentials.Put(ctx, "ws1", "openai", "sk-live"); err != nil {
		t.Fatal(err)
	}

	res, err := svc.Resolve(ctx, "ws1", agent.ID)
	if err != nil {
		t.Fatalf("resolve: %v", err)
	}
	if res.Provider != "openai" {
		t.Errorf("provider = %q", res.Provider)
	}
}

func TestResolve_noProvider(t *testing.T) {
	t.Parallel()
	svc, st, _ := newService(t)
	agent := seedAgent(t, st, "mystery-model", "")

	_, err := svc.Resolve(context.Background(), "ws1", agent.ID)
	if !errors.Is(err, ErrNoProvider) {
		t.Fatalf("err = %v, want ErrNoProvider", err)
	}
}

func TestResolve_missingCredential(t *testing.T) {
	t.Parallel()
	svc, st, _ := newService(t)
	agent := seedAgent(t, st, "gpt-4o", "openai")

	_, err := svc.Resolve(context.Background(), "ws1", agent.ID)
	if !errors.Is(err, credentials.ErrNoCredential) {
		t.Fatalf("err = %v, want ErrNoCredential", err)
	}
}

func TestResolve_noCredentialResolver(t *testing.T) {
	t.Parallel()
	svc, st, _ := newService(t)
	agent := seedAgent(t, st, "gpt-4o", "openai")

	// A daemon started without a master key wires Credentials as nil. The
	// resolve must surface a configuration error, not panic.
	svc.Credentials = nil
	_, err := svc.Resolve(context.Background(), "ws1", agent.ID)
	if !errors.Is(err, ErrNoMasterKey) {
		t.Fatalf("err = %v, want ErrNoMasterKey", err)
	}
	if !strings.Contains(err.Error(), "openai") {
		t.Errorf("err = %v, want provider name in message", err)
	}
}

func TestResolve_unknownAgent(t *testing.T) {
	t.Parallel()
	svc, _, _ := newService(t)
	_, err := svc.Resolve(context.Background(), "ws1", "ghost")
	if !errors.Is(err, store.ErrNotFound) {
		t.Fatalf("err = %v", err)
	}
}

func TestExecute_usesAgentSystemPromptByDefault(t *testing.T) {
	t.Parallel()
	svc, st, stub := newService(t)
	ctx := context.Background()
	agent := seedAgent(t, st, "gpt-4o", "openai")
	if err := svc.Credentials.Put(ctx, "ws1", "openai", "sk-live"); err != nil {
		t.Fatal(err)
	}

	out, err := svc.Execute(ctx, "ws1", agent.ID, "", "hello", nil)
	if err != nil {
		t.Fatalf("execute: %v", err)
	}
	if out.Text != "reply" || out.Provider != "openai" || out.Model != "gpt-4o" {
		t.Errorf("out = %+v", out)
	}
	if stub.lastSys != "stored system prompt" {
		t.Errorf("system prompt = %q", stub.lastSys)
	}
	if stub.lastKey != "sk-live" {
		t.Errorf("api key = %q", stub.lastKey)
	}

	// An explicit system prompt overrides the agent's stored one.
	if _, err := svc.Execute(ctx, "ws1", agent.ID, "override", "hello", nil); err != nil {
		t.Fatalf("execute: %v", err)
	}
	if stub.lastSys != "override" {
		t.Errorf("system prompt = %q", stub.lastSys)
	}
}

func TestExecute_streamsChunks(t *testing.T) {
	t.Parallel()
	svc, st, _ := newService(t)
	ctx := context.Background()
	agent := seedAgent(t, st, "gpt-4o", "openai")
	if err := svc.Credentials.Put(ctx, "ws1", "openai", "sk-live"); err != nil {
		t.Fatal(err)
	}

	var chunks []string
	if _, err := svc.Execute(ctx, "ws1", agent.ID, "", "hello", func(c string) {
		chunks = append(chunks, c)
	}); err != nil {
		t.Fatalf("execute: %v", err)
	}
	if len(chunks) != 1 || chunks[0] != "reply" {
		t.Errorf("chunks = %v", chunks)
	}
}

func TestFriendlyError(t *testing.T) {
	t.Parallel()
	if FriendlyError(nil) != nil {
		t.Error("nil should pass through")
	}

	base := errors.New("openai: The model `gpt-5-turbo` does not exist (status 404)")
	got := FriendlyError(base)
	if !strings.Contains(got.Error(), "check the agent's model id") {
		t.Errorf("got %v", got)
	}
	if !errors.Is(got, base) {
		t.Error("original error should remain unwrappable")
	}

	plain := errors.New("connection refused")
	if FriendlyError(plain) != plain {
		t.Error("unrelated errors must pass through verbatim")
	}
}
