// Package llmcall resolves an agent's model, provider, and credentials, and
// performs one complete LLM invocation on its behalf.
package llmcall

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/vincentgrobler/crewform-sub000/internal/credentials"
	"github.com/vincentgrobler/crewform-sub000/internal/provider"
	"github.com/vincentgrobler/crewform-sub000/internal/store"
	"github.com/vincentgrobler/crewform-sub000/internal/usage"
	"github.com/vincentgrobler/crewform-sub000/pkg/models"
)

// ErrNoProvider means neither the model name nor the agent's stored provider
// field yields a routable provider. Configuration error; not retried.
var ErrNoProvider = errors.New("cannot determine provider")

// ErrNoMasterKey means the daemon was started without CREWFORM_MASTER_KEY, so
// stored credentials cannot be decrypted. Configuration error; not retried.
var ErrNoMasterKey = errors.New("no master key configured (set CREWFORM_MASTER_KEY)")

// Result is the outcome of one complete (possibly streamed) LLM invocation.
type Result struct {
	Text     string
	Usage    provider.Usage
	Provider string
	Model    string
}

// Resolved is an agent with its routing decided and credential decrypted.
type Resolved struct {
	Agent    models.Agent
	Provider string
	Adapter  provider.Adapter
	APIKey   string
}

// Caller is the executor-facing interface; Service implements it, tests fake it.
type Caller interface {
	Execute(ctx context.Context, workspaceID, agentID, systemPrompt, userPrompt string, onChunk func(string)) (*Result, error)
}

// Service wires the store, provider registry, credential resolver, and
// usage ledger together.
type Service struct {
	Store       store.Store
	Providers   *provider.Registry
	Credentials *credentials.Resolver
	Usage       *usage.Writer
}

// Resolve loads the agent, infers its provider (model-name keywords win over
// the stored provider field), and decrypts its workspace credential.
func (s *Service) Resolve(ctx context.Context, workspaceID, agentID string) (*Resolved, error) {
	agent, err := s.Store.GetAgent(ctx, agentID)
	if err != nil {
		return nil, fmt.Errorf("resolve agent %s: %w", agentID, err)
	}
	name := provider.Infer(agent.Model, agent.Provider)
	if name == "" {
		return nil, fmt.Errorf("%w for model %q", ErrNoProvider, agent.Model)
	}
	adapter, err := s.Providers.Get(name)
	if err != nil {
		return nil, err
	}
	if s.Credentials == nil {
		return nil, fmt.Errorf("%w; cannot resolve credential for provider %q", ErrNoMasterKey, name)
	}
	apiKey, err := s.Credentials.APIKey(ctx, workspaceID, name)
	if err != nil {
		return nil, err
	}
	return &Resolved{Agent: *agent, Provider: name, Adapter: adapter, APIKey: apiKey}, nil
}

// Execute performs one complete LLM invocation for the agent, streaming
// partial text via onChunk when non-nil, and records usage to the ledger.
func (s *Service) Execute(ctx context.Context, workspaceID, agentID, systemPrompt, userPrompt string, onChunk func(string)) (*Result, error) {
	res, err := s.Resolve(ctx, workspaceID, agentID)
	if err != nil {
		return nil, err
	}
	if systemPrompt == "" {
		systemPrompt = res.Agent.SystemPrompt
	}
	out, err := res.Adapter.Execute(ctx, res.APIKey, res.Agent.Model, systemPrompt, userPrompt, res.Agent.Temperature, onChunk)
	if err != nil {
		return nil, err
	}
	s.Usage.Record(ctx, workspaceID, agentID, res.Provider, res.Agent.Model, out.Usage)
	return &Result{Text: out.Text, Usage: out.Usage, Provider: res.Provider, Model: res.Agent.Model}, nil
}

// FriendlyError substitutes a clearer message for common "invalid model"
// shaped provider errors; all other errors pass through verbatim.
func FriendlyError(err error) error {
	if err == nil {
		return nil
	}
	msg := strings.ToLower(err.Error())
	if strings.Contains(msg, "model_not_found") ||
		(strings.Contains(msg, "model") && (strings.Contains(msg, "not found") || strings.Contains(msg, "does not exist"))) {
		return fmt.Errorf("the configured model was not found; check the agent's model id and provider access: %w", err)
	}
	return err
}
