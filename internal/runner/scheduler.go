package runner

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/vincentgrobler/crewform-sub000/internal/executor"
	"github.com/vincentgrobler/crewform-sub000/internal/otel"
	"github.com/vincentgrobler/crewform-sub000/internal/store"
	"github.com/vincentgrobler/crewform-sub000/pkg/models"
)

// Scheduler is the per-runner polling loop. Each cycle it tries to claim one
// pending task and, separately, one pending team run; tasks are favored when
// both queues have work. Claimed work is dispatched asynchronously so polling
// never blocks on a running unit, and a successful claim triggers an
// immediate re-poll to drain backlog fast.
type Scheduler struct {
	Store    store.Store
	Registry *Registry
	Exec     *executor.Executor
	Log      *slog.Logger

	PollInterval time.Duration

	wg sync.WaitGroup
}

// NewScheduler builds a scheduler with the default poll interval.
func NewScheduler(st store.Store, reg *Registry, exec *executor.Executor, log *slog.Logger) *Scheduler {
	return &Scheduler{
		Store:        st,
		Registry:     reg,
		Exec:         exec,
		Log:          log,
		PollInterval: models.DefaultPollInterval * time.Second,
	}
}

// Run polls until the context is cancelled, then waits for in-flight work.
func (s *Scheduler) Run(ctx context.Context) {
	ticker := time.NewTicker(s.PollInterval)
	defer ticker.Stop()
	for {
		claimed := s.pollOnce(ctx)
		if claimed {
			// Re-poll immediately while the queue has work.
			continue
		}
		select {
		case <-ctx.Done():
			s.wg.Wait()
			return
		case <-ticker.C:
		}
	}
}

// pollOnce attempts one task claim and one team-run claim, dispatching each
// success asynchronously. Reports whether anything was claimed.
func (s *Scheduler) pollOnce(ctx context.Context) bool {
	if ctx.Err() != nil {
		return false
	}
	claimed := false

	task, err := s.Store.ClaimNextTask(ctx, s.Registry.ID)
	if err != nil {
		s.Log.Error("claim task failed", "runner_id", s.Registry.ID, "error", err)
	} else if task != nil {
		claimed = true
		otel.RecordClaim(ctx, "task")
		otel.RecordTaskOp(ctx, "claim", task.WorkspaceID, task.Status)
		s.dispatch(ctx, "task", task.ID, func(ctx context.Context) error {
			return s.Exec.ExecuteTask(ctx, task, s.Registry.ID)
		})
	}

	run, err := s.Store.ClaimNextTeamRun(ctx, s.Registry.ID)
	if err != nil {
		s.Log.Error("claim team run failed", "runner_id", s.Registry.ID, "error", err)
	} else if run != nil {
		claimed = true
		otel.RecordClaim(ctx, "team_run")
		s.dispatch(ctx, "team_run", run.ID, func(ctx context.Context) error {
			start := time.Now()
			err := s.Exec.ExecuteTeamRun(ctx, run, s.Registry.ID)
			mode := ""
			if team, terr := s.Store.GetTeam(ctx, run.TeamID); terr == nil {
				mode = team.Mode
			}
			if status, serr := s.Store.TeamRunStatus(ctx, run.ID); serr == nil {
				otel.RecordRunDuration(ctx, mode, status, time.Since(start))
			}
			return err
		})
	}

	return claimed
}

// dispatch runs one claimed unit in its own goroutine, releasing the claim's
// load slot when it finishes and capturing panics so a bad unit cannot take
// the runner down.
func (s *Scheduler) dispatch(ctx context.Context, kind, id string, fn func(context.Context) error) {
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		defer func() {
			if err := s.Store.ReleaseRunnerLoad(context.WithoutCancel(ctx), s.Registry.ID); err != nil {
				s.Log.Warn("release runner load failed", "runner_id", s.Registry.ID, "error", err)
			}
		}()
		defer func() {
			if r := recover(); r != nil {
				s.Log.Error("executor panic", "kind", kind, "id", id, "panic", r)
				// Without a terminal status the unit would sit in
				// running on a live runner, where the recovery sweep
				// never touches it.
				msg := fmt.Sprintf("executor panic: %v", r)
				bg := context.WithoutCancel(ctx)
				var ferr error
				switch kind {
				case "task":
					ferr = s.Store.FailTask(bg, id, s.Registry.ID, msg)
				case "team_run":
					ferr = s.Store.FailTeamRun(bg, id, s.Registry.ID, msg)
				}
				if ferr != nil {
					s.Log.Error("fail after panic failed", "kind", kind, "id", id, "error", ferr)
				}
			}
		}()
		if err := fn(ctx); err != nil {
			s.Log.Error("execution failed", "kind", kind, "id", id, "error", err)
		}
	}()
}
