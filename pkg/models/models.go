// Package models provides shared types for the crewform HTTP API, store, and
// executors. These types mirror the API JSON and are stable for use by
// pkg/client and other consumers.
package models

import "time"

// Task is a single unit of agent work owned by a workspace.
type Task struct {
	ID          string            `json:"id"`
	WorkspaceID string            `json:"workspace_id"`
	Title       string            `json:"title"`
	Description string            `json:"description,omitempty"`
	Status      string            `json:"status"`
	Priority    int               `json:"priority,omitempty"`
	AgentID     *string           `json:"agent_id,omitempty"`
	RunnerID    *string           `json:"runner_id,omitempty"`
	Result      *string           `json:"result,omitempty"`
	Error       *string           `json:"error,omitempty"`
	Metadata    map[string]string `json:"metadata,omitempty"`
	CreatedAt   time.Time         `json:"created_at,omitempty"`
	UpdatedAt   time.Time         `json:"updated_at,omitempty"`
}

// Agent is an LLM configuration: provider, model, prompt, tools.
// Agents are read-only to executors while a run is in flight.
type Agent struct {
	ID           string    `json:"id"`
	WorkspaceID  string    `json:"workspace_id"`
	Name         string    `json:"name"`
	Provider     string    `json:"provider"`
	Model        string    `json:"model"`
	SystemPrompt string    `json:"system_prompt,omitempty"`
	Tools        []string  `json:"tools,omitempty"`
	Temperature  float64   `json:"temperature,omitempty"`
	CreatedAt    time.Time `json:"created_at,omitempty"`
}

// Team is a named composition of agents plus a mode and mode-specific config.
type Team struct {
	ID          string     `json:"id"`
	WorkspaceID string     `json:"workspace_id"`
	Name        string     `json:"name"`
	Mode        string     `json:"mode"` // pipeline, orchestrator, collaboration
	Config      TeamConfig `json:"config"`
	CreatedAt   time.Time  `json:"created_at,omitempty"`
}

// TeamConfig carries exactly one mode-specific config; the others are nil.
type TeamConfig struct {
	Pipeline      *PipelineConfig      `json:"pipeline,omitempty"`
	Orchestrator  *OrchestratorConfig  `json:"orchestrator,omitempty"`
	Collaboration *CollaborationConfig `json:"collaboration,omitempty"`
}

// PipelineStep is one step of a sequential pipeline.
type PipelineStep struct {
	AgentID        string `json:"agent_id"`
	StepName       string `json:"step_name"`
	Instructions   string `json:"instructions,omitempty"`
	ExpectedOutput string `json:"expected_output,omitempty"`
	OnFailure      string `json:"on_failure,omitempty"` // retry, stop, skip
	MaxRetries     int    `json:"max_retries,omitempty"`
}

// PipelineConfig defines a sequential step chain. Steps execute in array order.
type PipelineConfig struct {
	Steps       []PipelineStep `json:"steps"`
	AutoHandoff bool           `json:"auto_handoff,omitempty"`
}

// OrchestratorConfig defines a brain agent delegating to worker agents.
type OrchestratorConfig struct {
	BrainAgentID       string   `json:"brain_agent_id"`
	WorkerAgentIDs     []string `json:"worker_agent_ids"`
	QualityThreshold   float64  `json:"quality_threshold,omitempty"`
	MaxDelegationDepth int      `json:"max_delegation_depth,omitempty"`
}

// CollaborationConfig defines N agents taking turns in a shared thread.
// AgentIDs must have length >= 2.
type CollaborationConfig struct {
	AgentIDs             []string `json:"agent_ids"`
	SpeakerSelection     string   `json:"speaker_selection,omitempty"` // round_robin, llm_select, facilitator
	FacilitatorAgentID   string   `json:"facilitator_agent_id,omitempty"`
	MaxTurns             int      `json:"max_turns,omitempty"`
	TerminationCondition string   `json:"termination_condition,omitempty"` // max_turns, consensus, facilitator_decision
	ConsensusPhrase      string   `json:"consensus_phrase,omitempty"`
}

// TeamRun is a single execution of a Team. Progress fields (CurrentStepIdx,
// TokensTotal, CostEstimateUSD) are updated incrementally while the run is
// live and are monotonically non-decreasing within a run.
type TeamRun struct {
	ID              string     `json:"id"`
	TeamID          string     `json:"team_id"`
	WorkspaceID     string     `json:"workspace_id"`
	Status          string     `json:"status"`
	InputTask       string     `json:"input_task"`
	Output          *string    `json:"output,omitempty"`
	CurrentStepIdx  *int       `json:"current_step_idx,omitempty"`
	DelegationDepth int        `json:"delegation_depth,omitempty"`
	TokensTotal     int        `json:"tokens_total,omitempty"`
	CostEstimateUSD float64    `json:"cost_estimate_usd,omitempty"`
	RunnerID        *string    `json:"runner_id,omitempty"`
	Error           *string    `json:"error,omitempty"`
	CreatedAt       time.Time  `json:"created_at,omitempty"`
	UpdatedAt       time.Time  `json:"updated_at,omitempty"`
	CompletedAt     *time.Time `json:"completed_at,omitempty"`
}

// TeamMessage is an append-only activity-log entry tied to a run. It is never
// mutated after insert; it is the audit trail and the live activity feed.
type TeamMessage struct {
	ID          string    `json:"id"`
	RunID       string    `json:"run_id"`
	SenderID    *string   `json:"sender_id,omitempty"` // nil = system
	MessageType string    `json:"message_type"`
	Content     string    `json:"content"`
	StepIdx     *int      `json:"step_idx,omitempty"`
	TokenCount  int       `json:"token_count,omitempty"`
	CreatedAt   time.Time `json:"created_at,omitempty"`
}

// Delegation is one brain-to-worker assignment in an orchestrator run.
// RevisionCount is the authoritative guard against unbounded rework.
type Delegation struct {
	ID            string     `json:"id"`
	RunID         string     `json:"run_id"`
	WorkerAgentID string     `json:"worker_agent_id"`
	Instruction   string     `json:"instruction"`
	WorkerOutput  *string    `json:"worker_output,omitempty"`
	Status        string     `json:"status"`
	RevisionCount int        `json:"revision_count,omitempty"`
	QualityScore  *float64   `json:"quality_score,omitempty"`
	CreatedAt     time.Time  `json:"created_at,omitempty"`
	CompletedAt   *time.Time `json:"completed_at,omitempty"`
}

// Runner is a live worker process in the fleet.
type Runner struct {
	ID             string    `json:"id"`
	InstanceName   string    `json:"instance_name"`
	Status         string    `json:"status"`
	MaxConcurrency int       `json:"max_concurrency"`
	CurrentLoad    int       `json:"current_load"`
	LastHeartbeat  time.Time `json:"last_heartbeat"`
	CreatedAt      time.Time `json:"created_at,omitempty"`
}

// UsageEvent is one row of the usage ledger, written after each LLM call.
type UsageEvent struct {
	ID               string    `json:"id"`
	WorkspaceID      string    `json:"workspace_id"`
	AgentID          string    `json:"agent_id,omitempty"`
	Provider         string    `json:"provider"`
	Model            string    `json:"model"`
	PromptTokens     int       `json:"prompt_tokens"`
	CompletionTokens int       `json:"completion_tokens"`
	TotalTokens      int       `json:"total_tokens"`
	CostEstimateUSD  float64   `json:"cost_estimate_usd"`
	CreatedAt        time.Time `json:"created_at,omitempty"`
}

// Credential is an encrypted provider API key scoped to a workspace.
// KeyCiphertext is AES-GCM sealed; decryption happens in internal/credentials.
type Credential struct {
	ID            string    `json:"id"`
	WorkspaceID   string    `json:"workspace_id"`
	Provider      string    `json:"provider"`
	KeyCiphertext []byte    `json:"-"`
	CreatedAt     time.Time `json:"created_at,omitempty"`
}

// CustomTool is a user-defined webhook tool referenced from an agent's tool
// list as "custom:<id>".
type CustomTool struct {
	ID          string            `json:"id"`
	WorkspaceID string            `json:"workspace_id"`
	Name        string            `json:"name"`
	Description string            `json:"description,omitempty"`
	ParamSchema string            `json:"param_schema,omitempty"` // JSON-schema text
	WebhookURL  string            `json:"webhook_url"`
	Headers     map[string]string `json:"headers,omitempty"`
}
