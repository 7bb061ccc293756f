package store

import (
	"context"
	"errors"
	"time"

	"github.com/vincentgrobler/crewform-sub000/pkg/models"
)

// ErrNotFound is returned when a row does not exist.
var ErrNotFound = errors.New("not found")

// Store is the persistence interface for tasks, teams, runs, messages,
// delegations, runners, credentials, custom tools, and the usage ledger.
// Implementations: the SQLite store in this package and *postgres.Store.
//
// Claim operations are atomic: the claim and the runner ownership stamp happen
// in one server-side step, and a runner at capacity (current_load >=
// max_concurrency) claims nothing. Terminal-state writes are idempotent and
// ownership-checked so a stale worker cannot overwrite a finished unit.
type Store interface {
	// Tasks
	CreateTask(ctx context.Context, t models.Task) (models.Task, error)
	GetTask(ctx context.Context, id string) (*models.Task, error)
	ListTasks(ctx context.Context, workspaceID string, limit int) ([]models.Task, error)
	ClaimNextTask(ctx context.Context, runnerID string) (*models.Task, error)
	MarkTaskRunning(ctx context.Context, id, runnerID string) error
	UpdateTaskPartial(ctx context.Context, id, runnerID, partial string) error
	CompleteTask(ctx context.Context, id, runnerID, result string) error
	FailTask(ctx context.Context, id, runnerID, errMsg string) error
	CancelTask(ctx context.Context, id string) error

	// Team runs
	CreateTeamRun(ctx context.Context, r models.TeamRun) (models.TeamRun, error)
	GetTeamRun(ctx context.Context, id string) (*models.TeamRun, error)
	ClaimNextTeamRun(ctx context.Context, runnerID string) (*models.TeamRun, error)
	MarkTeamRunRunning(ctx context.Context, id, runnerID string) error
	// UpdateRunProgress adds token/cost deltas and raises current_step_idx and
	// delegation_depth; progress fields never decrease within a run. Only the
	// owning runner's writes apply, so a stale worker whose run was requeued
	// cannot touch the new claimant's totals.
	UpdateRunProgress(ctx context.Context, id, runnerID string, stepIdx *int, delegationDepth int, tokensDelta int, costDelta float64) error
	CompleteTeamRun(ctx context.Context, id, runnerID, output string) error
	FailTeamRun(ctx context.Context, id, runnerID, errMsg string) error
	CancelTeamRun(ctx context.Context, id string) error
	// TeamRunStatus is the cheap status read executors poll for cooperative
	// cancellation between steps.
	TeamRunStatus(ctx context.Context, id string) (string, error)

	// Teams
	CreateTeam(ctx context.Context, t models.Team) (models.Team, error)
	GetTeam(ctx context.Context, id string) (*models.Team, error)
	ListTeams(ctx context.Context, workspaceID string) ([]models.Team, error)

	// Agents
	CreateAgent(ctx context.Context, a models.Agent) (models.Agent, error)
	GetAgent(ctx context.Context, id string) (*models.Agent, error)
	ListAgents(ctx context.Context, workspaceID string) ([]models.Agent, error)

	// Team messages (append-only)
	AppendTeamMessage(ctx context.Context, m models.TeamMessage) (models.TeamMessage, error)
	ListTeamMessages(ctx context.Context, runID string, limit int) ([]models.TeamMessage, error)

	// Delegations
	CreateDelegation(ctx context.Context, d models.Delegation) (models.Delegation, error)
	GetDelegation(ctx context.Context, id string) (*models.Delegation, error)
	ListDelegations(ctx context.Context, runID string) ([]models.Delegation, error)
	UpdateDelegation(ctx context.Context, d models.Delegation) error

	// Runner fleet
	RegisterRunner(ctx context.Context, r models.Runner) error
	HeartbeatRunner(ctx context.Context, id string, at time.Time) error
	DeregisterRunner(ctx context.Context, id string) error
	ListRunners(ctx context.Context) ([]models.Runner, error)
	ReleaseRunnerLoad(ctx context.Context, id string) error
	// MarkStaleRunnersDead marks runners whose heartbeat is older than cutoff
	// as dead and returns how many were transitioned.
	MarkStaleRunnersDead(ctx context.Context, cutoff time.Time) (int, error)
	// ReleaseOrphanedWork requeues tasks and team runs claimed by dead runners
	// back to pending. Idempotent; every runner sweeps independently.
	ReleaseOrphanedWork(ctx context.Context) (tasks, runs int, err error)

	// Credentials
	PutCredential(ctx context.Context, c models.Credential) error
	GetCredential(ctx context.Context, workspaceID, provider string) (*models.Credential, error)

	// Custom tools
	PutCustomTool(ctx context.Context, t models.CustomTool) error
	GetCustomTool(ctx context.Context, id string) (*models.CustomTool, error)

	// Usage ledger
	InsertUsageEvent(ctx context.Context, e models.UsageEvent) error

	Close() error
}
