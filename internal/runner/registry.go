// Package runner implements fleet membership and the per-runner scheduling
// loop. Every runner registers itself, heartbeats, polls the shared queue for
// claimable work, and independently sweeps for dead peers so that a crashed
// runner's claimed work is requeued rather than orphaned.
package runner

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/google/uuid"

	"github.com/vincentgrobler/crewform-sub000/internal/store"
	"github.com/vincentgrobler/crewform-sub000/pkg/models"
)

// Registry maintains this process's Runner row: registration at startup,
// periodic heartbeats, deregistration on graceful shutdown, and the recovery
// sweep that reclaims work from dead runners.
type Registry struct {
	Store store.Store
	Log   *slog.Logger

	// Intervals default to the package constants when zero; tests shorten them.
	HeartbeatInterval time.Duration
	RecoveryInterval  time.Duration
	DeadThreshold     time.Duration

	ID             string
	InstanceName   string
	MaxConcurrency int
}

// NewRegistry builds a registry for this process with a fresh runner id.
func NewRegistry(st store.Store, log *slog.Logger, instanceName string, maxConcurrency int) *Registry {
	if instanceName == "" {
		host, _ := os.Hostname()
		instanceName = host
	}
	if maxConcurrency <= 0 {
		maxConcurrency = models.DefaultMaxConcurrency
	}
	return &Registry{
		Store:             st,
		Log:               log,
		HeartbeatInterval: models.DefaultHeartbeatInterval * time.Second,
		RecoveryInterval:  models.DefaultRecoveryInterval * time.Second,
		DeadThreshold:     models.DefaultDeadThreshold * time.Second,
		ID:                uuid.NewString(),
		InstanceName:      instanceName,
		MaxConcurrency:    maxConcurrency,
	}
}

// Register inserts this runner's row as active with zero load.
func (r *Registry) Register(ctx context.Context) error {
	err := r.Store.RegisterRunner(ctx, models.Runner{
		ID:             r.ID,
		InstanceName:   r.InstanceName,
		Status:         models.RunnerActive,
		MaxConcurrency: r.MaxConcurrency,
		CurrentLoad:    0,
		LastHeartbeat:  time.Now().UTC(),
	})
	if err != nil {
		return fmt.Errorf("register runner %s: %w", r.ID, err)
	}
	r.Log.Info("runner registered", "runner_id", r.ID, "instance", r.InstanceName, "max_concurrency", r.MaxConcurrency)
	return nil
}

// Deregister deletes this runner's row. Called on SIGINT/SIGTERM.
func (r *Registry) Deregister(ctx context.Context) {
	if err := r.Store.DeregisterRunner(ctx, r.ID); err != nil {
		r.Log.Warn("deregister runner failed", "runner_id", r.ID, "error", err)
		return
	}
	r.Log.Info("runner deregistered", "runner_id", r.ID)
}

// RunHeartbeat updates last_heartbeat on the configured interval until the
// context is cancelled.
func (r *Registry) RunHeartbeat(ctx context.Context) {
	ticker := time.NewTicker(r.HeartbeatInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := r.Store.HeartbeatRunner(ctx, r.ID, time.Now().UTC()); err != nil {
				r.Log.Warn("heartbeat failed", "runner_id", r.ID, "error", err)
			}
		}
	}
}

// RunRecovery sweeps on the configured interval: stale runners are marked
// dead and their claimed tasks/runs are requeued to pending. Both operations
// are idempotent; every runner sweeps independently.
func (r *Registry) RunRecovery(ctx context.Context) {
	ticker := time.NewTicker(r.RecoveryInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			r.SweepOnce(ctx)
		}
	}
}

// SweepOnce performs one recovery pass.
func (r *Registry) SweepOnce(ctx context.Context) {
	cutoff := time.Now().UTC().Add(-r.DeadThreshold)
	dead, err := r.Store.MarkStaleRunnersDead(ctx, cutoff)
	if err != nil {
		r.Log.Warn("stale runner sweep failed", "error", err)
		return
	}
	tasks, runs, err := r.Store.ReleaseOrphanedWork(ctx)
	if err != nil {
		r.Log.Warn("orphaned work release failed", "error", err)
		return
	}
	if dead > 0 || tasks > 0 || runs > 0 {
		r.Log.Info("recovery sweep", "runners_marked_dead", dead, "tasks_requeued", tasks, "runs_requeued", runs)
	}
}
