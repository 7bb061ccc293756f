package models

// Task and team-run statuses used throughout the codebase.
const (
	StatusPending    = "pending"
	StatusDispatched = "dispatched"
	StatusRunning    = "running"
	StatusPaused     = "paused" // team runs only
	StatusCompleted  = "completed"
	StatusFailed     = "failed"
	StatusCancelled  = "cancelled"
)

// IsTerminal reports whether a task/run status is terminal. Terminal-state
// writes are idempotent: a completed unit must not be overwritten by a stale
// worker.
func IsTerminal(status string) bool {
	switch status {
	case StatusCompleted, StatusFailed, StatusCancelled:
		return true
	}
	return false
}

// Team modes.
const (
	ModePipeline      = "pipeline"
	ModeOrchestrator  = "orchestrator"
	ModeCollaboration = "collaboration"
)

// Pipeline on_failure policies.
const (
	OnFailureRetry = "retry"
	OnFailureStop  = "stop"
	OnFailureSkip  = "skip"
)

// Collaboration speaker-selection policies.
const (
	SpeakerRoundRobin  = "round_robin"
	SpeakerLLMSelect   = "llm_select"
	SpeakerFacilitator = "facilitator"
)

// Collaboration termination conditions.
const (
	TerminateMaxTurns            = "max_turns"
	TerminateConsensus           = "consensus"
	TerminateFacilitatorDecision = "facilitator_decision"
)

// TeamMessage types. Messages are append-only; these tags drive the activity
// feed rendering and the audit trail.
const (
	MessageDelegation      = "delegation"
	MessageResult          = "result"
	MessageSystem          = "system"
	MessageHandoff         = "handoff"
	MessageBrain           = "brain"
	MessageWorkerResult    = "worker_result"
	MessageRevisionRequest = "revision_request"
	MessageAccepted        = "accepted"
	MessageDiscussion      = "discussion"
)

// Delegation statuses.
const (
	DelegationRunning           = "running"
	DelegationCompleted         = "completed"
	DelegationRevisionRequested = "revision_requested"
	DelegationFailed            = "failed"
)

// Runner statuses.
const (
	RunnerActive = "active"
	RunnerDead   = "dead"
)

// Default limits and intervals.
const (
	DefaultMaxRequestBodyBytes = 1 << 20 // 1 MiB
	DefaultSSEChannelBuffer    = 256
	DefaultMaxConcurrency      = 4
	DefaultPollInterval        = 5  // seconds
	DefaultHeartbeatInterval   = 10 // seconds
	DefaultRecoveryInterval    = 30 // seconds
	DefaultDeadThreshold       = 60 // seconds without heartbeat
	DefaultMaxToolRounds       = 10
	DefaultMaxBrainIterations  = 20
	DefaultMaxMessageLength    = 16000
)
