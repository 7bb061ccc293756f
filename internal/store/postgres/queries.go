package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/vincentgrobler/crewform-sub000/internal/store"
	"github.com/vincentgrobler/crewform-sub000/pkg/models"
)

func nowUnix() int64 { return time.Now().UTC().Unix() }

func unixTime(v int64) time.Time { return time.Unix(v, 0).UTC() }

func timeFromPtr(v *int64) *time.Time {
	if v == nil {
		return nil
	}
	t := unixTime(*v)
	return &t
}

func marshalJSON(v any) string {
	b, err := json.Marshal(v)
	if err != nil {
		return "{}"
	}
	return string(b)
}

const taskCols = `id, workspace_id, title, description, status, priority, agent_id, runner_id, result, error, metadata, created_at, updated_at`

const runCols = `id, team_id, workspace_id, status, input_task, output, current_step_idx, delegation_depth, tokens_total, cost_estimate_usd, runner_id, error, created_at, updated_at, completed_at`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanTask(r rowScanner) (models.Task, error) {
	var t models.Task
	var meta string
	var created, updated int64
	err := r.Scan(&t.ID, &t.WorkspaceID, &t.Title, &t.Description, &t.Status, &t.Priority,
		&t.AgentID, &t.RunnerID, &t.Result, &t.Error, &meta, &created, &updated)
	if err != nil {
		return t, err
	}
	if meta != "" {
		_ = json.Unmarshal([]byte(meta), &t.Metadata)
	}
	t.CreatedAt = unixTime(created)
	t.UpdatedAt = unixTime(updated)
	return t, nil
}

func scanRun(r rowScanner) (models.TeamRun, error) {
	var run models.TeamRun
	var created, updated int64
	var completed *int64
	err := r.Scan(&run.ID, &run.TeamID, &run.WorkspaceID, &run.Status, &run.InputTask,
		&run.Output, &run.CurrentStepIdx, &run.DelegationDepth, &run.TokensTotal, &run.CostEstimateUSD,
		&run.RunnerID, &run.Error, &created, &updated, &completed)
	if err != nil {
		return run, err
	}
	run.CreatedAt = unixTime(created)
	run.UpdatedAt = unixTime(updated)
	run.CompletedAt = timeFromPtr(completed)
	return run, nil
}

func (s *Store) CreateTask(ctx context.Context, t models.Task) (models.Task, error) {
	if t.ID == "" {
		t.ID = uuid.NewString()
	}
	if t.Status == "" {
		t.Status = models.StatusPending
	}
	now := nowUnix()
	t.CreatedAt = unixTime(now)
	t.UpdatedAt = t.CreatedAt
	_, err := s.Pool.Exec(ctx, `INSERT INTO tasks(`+taskCols+`) VALUES($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13)`,
		t.ID, t.WorkspaceID, t.Title, t.Description, t.Status, t.Priority,
		t.AgentID, t.RunnerID, t.Result, t.Error, marshalJSON(t.Metadata), now, now)
	return t, err
}

func (s *Store) GetTask(ctx context.Context, id string) (*models.Task, error) {
	row := s.Pool.QueryRow(ctx, `SELECT `+taskCols+` FROM tasks WHERE id=$1`, id)
	t, err := scanTask(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, store.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &t, nil
}

func (s *Store) ListTasks(ctx context.Context, workspaceID string, limit int) ([]models.Task, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := s.Pool.Query(ctx, `SELECT `+taskCols+` FROM tasks WHERE workspace_id=$1 ORDER BY created_at DESC LIMIT $2`, workspaceID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []models.Task
	for rows.Next() {
		t, err := scanTask(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, t)
	}
	return out, rows.Err()
}

// loadGate bumps the runner's current_load inside the claim transaction. A
// runner at max_concurrency (or dead, or unregistered) claims nothing.
const loadGate = `UPDATE runners SET current_load=current_load+1 WHERE id=$1 AND status='active' AND current_load < max_concurrency`

func (s *Store) ClaimNextTask(ctx context.Context, runnerID string) (*models.Task, error) {
	tx, err := s.Pool.Begin(ctx)
	if err != nil {
		return nil, err
	}
	defer func() { _ = tx.Rollback(ctx) }()

	ct, err := tx.Exec(ctx, loadGate, runnerID)
	if err != nil {
		return nil, err
	}
	if ct.RowsAffected() == 0 {
		return nil, nil
	}
	var id string
	err = tx.QueryRow(ctx, `SELECT id FROM tasks WHERE status='pending' ORDER BY priority DESC, created_at ASC LIMIT 1 FOR UPDATE SKIP LOCKED`).Scan(&id)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil // rollback undoes the load bump
	}
	if err != nil {
		return nil, err
	}
	row := tx.QueryRow(ctx, `UPDATE tasks SET status='dispatched', runner_id=$1, updated_at=$2 WHERE id=$3 RETURNING `+taskCols, runnerID, nowUnix(), id)
	t, err := scanTask(row)
	if err != nil {
		return nil, err
	}
	if err := tx.Commit(ctx); err != nil {
		return nil, err
	}
	return &t, nil
}

func (s *Store) MarkTaskRunning(ctx context.Context, id, runnerID string) error {
	_, err := s.Pool.Exec(ctx, `UPDATE tasks SET status='running', updated_at=$1 WHERE id=$2 AND runner_id=$3 AND status='dispatched'`, nowUnix(), id, runnerID)
	return err
}

func (s *Store) UpdateTaskPartial(ctx context.Context, id, runnerID, partial string) error {
	_, err := s.Pool.Exec(ctx, `UPDATE tasks SET result=$1, updated_at=$2 WHERE id=$3 AND runner_id=$4 AND status='running'`, partial, nowUnix(), id, runnerID)
	return err
}

func (s *Store) CompleteTask(ctx context.Context, id, runnerID, result string) error {
	_, err := s.Pool.Exec(ctx, `UPDATE tasks SET status='completed', result=$1, error=NULL, updated_at=$2
		WHERE id=$3 AND runner_id=$4 AND status NOT IN ('completed','failed','cancelled')`, result, nowUnix(), id, runnerID)
	return err
}

func (s *Store) FailTask(ctx context.Context, id, runnerID, errMsg string) error {
	_, err := s.Pool.Exec(ctx, `UPDATE tasks SET status='failed', error=$1, updated_at=$2
		WHERE id=$3 AND runner_id=$4 AND status NOT IN ('completed','failed','cancelled')`, errMsg, nowUnix(), id, runnerID)
	return err
}

func (s *Store) CancelTask(ctx context.Context, id string) error {
	_, err := s.Pool.Exec(ctx, `UPDATE tasks SET status='cancelled', updated_at=$1
		WHERE id=$2 AND status NOT IN ('completed','failed','cancelled')`, nowUnix(), id)
	return err
}

func (s *Store) CreateTeamRun(ctx context.Context, r models.TeamRun) (models.TeamRun, error) {
	if r.ID == "" {
		r.ID = uuid.NewString()
	}
	if r.Status == "" {
		r.Status = models.StatusPending
	}
	now := nowUnix()
	r.CreatedAt = unixTime(now)
	r.UpdatedAt = r.CreatedAt
	_, err := s.Pool.Exec(ctx, `INSERT INTO team_runs(`+runCols+`) VALUES($1,$2,$3,$4,$5,$6,NULL,$7,$8,$9,$10,$11,$12,$13,NULL)`,
		r.ID, r.TeamID, r.WorkspaceID, r.Status, r.InputTask, r.Output,
		r.DelegationDepth, r.TokensTotal, r.CostEstimateUSD, r.RunnerID, r.Error, now, now)
	return r, err
}

func (s *Store) GetTeamRun(ctx context.Context, id string) (*models.TeamRun, error) {
	row := s.Pool.QueryRow(ctx, `SELECT `+runCols+` FROM team_runs WHERE id=$1`, id)
	r, err := scanRun(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, store.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &r, nil
}

func (s *Store) ClaimNextTeamRun(ctx context.Context, runnerID string) (*models.TeamRun, error) {
	tx, err := s.Pool.Begin(ctx)
	if err != nil {
		return nil, err
	}
	defer func() { _ = tx.Rollback(ctx) }()

	ct, err := tx.Exec(ctx, loadGate, runnerID)
	if err != nil {
		return nil, err
	}
	if ct.RowsAffected() == 0 {
		return nil, nil
	}
	var id string
	err = tx.QueryRow(ctx, `SELECT id FROM team_runs WHERE status='pending' ORDER BY created_at ASC LIMIT 1 FOR UPDATE SKIP LOCKED`).Scan(&id)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	row := tx.QueryRow(ctx, `UPDATE team_runs SET status='dispatched', runner_id=$1, updated_at=$2 WHERE id=$3 RETURNING `+runCols, runnerID, nowUnix(), id)
	r, err := scanRun(row)
	if err != nil {
		return nil, err
	}
	if err := tx.Commit(ctx); err != nil {
		return nil, err
	}
	return &r, nil
}

func (s *Store) MarkTeamRunRunning(ctx context.Context, id, runnerID string) error {
	_, err := s.Pool.Exec(ctx, `UPDATE team_runs SET status='running', updated_at=$1 WHERE id=$2 AND runner_id=$3 AND status='dispatched'`, nowUnix(), id, runnerID)
	return err
}

func (s *Store) UpdateRunProgress(ctx context.Context, id, runnerID string, stepIdx *int, delegationDepth int, tokensDelta int, costDelta float64) error {
	_, err := s.Pool.Exec(ctx, `UPDATE team_runs SET
		current_step_idx = CASE WHEN $1::int IS NULL THEN current_step_idx ELSE GREATEST(COALESCE(current_step_idx, -1), $1::int) END,
		delegation_depth = GREATEST(delegation_depth, $2),
		tokens_total = tokens_total + $3,
		cost_estimate_usd = cost_estimate_usd + $4,
		updated_at = $5
		WHERE id=$6 AND runner_id=$7 AND status NOT IN ('completed','failed','cancelled')`,
		stepIdx, delegationDepth, tokensDelta, costDelta, nowUnix(), id, runnerID)
	return err
}

func (s *Store) CompleteTeamRun(ctx context.Context, id, runnerID, output string) error {
	now := nowUnix()
	_, err := s.Pool.Exec(ctx, `UPDATE team_runs SET status='completed', output=$1, error=NULL, updated_at=$2, completed_at=$3
		WHERE id=$4 AND runner_id=$5 AND status NOT IN ('completed','failed','cancelled')`, output, now, now, id, runnerID)
	return err
}

func (s *Store) FailTeamRun(ctx context.Context, id, runnerID, errMsg string) error {
	now := nowUnix()
	_, err := s.Pool.Exec(ctx, `UPDATE team_runs SET status='failed', error=$1, updated_at=$2, completed_at=$3
		WHERE id=$4 AND runner_id=$5 AND status NOT IN ('completed','failed','cancelled')`, errMsg, now, now, id, runnerID)
	return err
}

func (s *Store) CancelTeamRun(ctx context.Context, id string) error {
	_, err := s.Pool.Exec(ctx, `UPDATE team_runs SET status='cancelled', updated_at=$1
		WHERE id=$2 AND status NOT IN ('completed','failed','cancelled')`, nowUnix(), id)
	return err
}

func (s *Store) TeamRunStatus(ctx context.Context, id string) (string, error) {
	var status string
	err := s.Pool.QueryRow(ctx, `SELECT status FROM team_runs WHERE id=$1`, id).Scan(&status)
	if errors.Is(err, pgx.ErrNoRows) {
		return "", store.ErrNotFound
	}
	return status, err
}

func (s *Store) CreateTeam(ctx context.Context, t models.Team) (models.Team, error) {
	if t.ID == "" {
		t.ID = uuid.NewString()
	}
	now := nowUnix()
	t.CreatedAt = unixTime(now)
	_, err := s.Pool.Exec(ctx, `INSERT INTO teams(id, workspace_id, name, mode, config, created_at) VALUES($1,$2,$3,$4,$5,$6)`,
		t.ID, t.WorkspaceID, t.Name, t.Mode, marshalJSON(t.Config), now)
	return t, err
}

func scanTeam(r rowScanner) (models.Team, error) {
	var t models.Team
	var cfg string
	var created int64
	if err := r.Scan(&t.ID, &t.WorkspaceID, &t.Name, &t.Mode, &cfg, &created); err != nil {
		return t, err
	}
	_ = json.Unmarshal([]byte(cfg), &t.Config)
	t.CreatedAt = unixTime(created)
	return t, nil
}

func (s *Store) GetTeam(ctx context.Context, id string) (*models.Team, error) {
	row := s.Pool.QueryRow(ctx, `SELECT id, workspace_id, name, mode, config, created_at FROM teams WHERE id=$1`, id)
	t, err := scanTeam(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, store.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &t, nil
}

func (s *Store) ListTeams(ctx context.Context, workspaceID string) ([]models.Team, error) {
	rows, err := s.Pool.Query(ctx, `SELECT id, workspace_id, name, mode, config, created_at FROM teams WHERE workspace_id=$1 ORDER BY created_at DESC`, workspaceID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []models.Team
	for rows.Next() {
		t, err := scanTeam(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, t)
	}
	return out, rows.Err()
}

func (s *Store) CreateAgent(ctx context.Context, a models.Agent) (models.Agent, error) {
	if a.ID == "" {
		a.ID = uuid.NewString()
	}
	now := nowUnix()
	a.CreatedAt = unixTime(now)
	_, err := s.Pool.Exec(ctx, `INSERT INTO agents(id, workspace_id, name, provider, model, system_prompt, tools, temperature, created_at) VALUES($1,$2,$3,$4,$5,$6,$7,$8,$9)`,
		a.ID, a.WorkspaceID, a.Name, a.Provider, a.Model, a.SystemPrompt, marshalJSON(a.Tools), a.Temperature, now)
	return a, err
}

func scanAgent(r rowScanner) (models.Agent, error) {
	var a models.Agent
	var tools string
	var created int64
	if err := r.Scan(&a.ID, &a.WorkspaceID, &a.Name, &a.Provider, &a.Model, &a.SystemPrompt, &tools, &a.Temperature, &created); err != nil {
		return a, err
	}
	_ = json.Unmarshal([]byte(tools), &a.Tools)
	a.CreatedAt = unixTime(created)
	return a, nil
}

func (s *Store) GetAgent(ctx context.Context, id string) (*models.Agent, error) {
	row := s.Pool.QueryRow(ctx, `SELECT id, workspace_id, name, provider, model, system_prompt, tools, temperature, created_at FROM agents WHERE id=$1`, id)
	a, err := scanAgent(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, store.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &a, nil
}

func (s *Store) ListAgents(ctx context.Context, workspaceID string) ([]models.Agent, error) {
	rows, err := s.Pool.Query(ctx, `SELECT id, workspace_id, name, provider, model, system_prompt, tools, temperature, created_at FROM agents WHERE workspace_id=$1 ORDER BY created_at`, workspaceID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []models.Agent
	for rows.Next() {
		a, err := scanAgent(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, a)
	}
	return out, rows.Err()
}

func (s *Store) AppendTeamMessage(ctx context.Context, m models.TeamMessage) (models.TeamMessage, error) {
	if m.ID == "" {
		m.ID = uuid.NewString()
	}
	m.Content = store.TruncateContent(m.Content)
	now := nowUnix()
	m.CreatedAt = unixTime(now)
	_, err := s.Pool.Exec(ctx, `INSERT INTO team_messages(id, run_id, sender_id, message_type, content, step_idx, token_count, created_at)
		VALUES($1,$2,$3,$4,$5,$6,$7,$8)`,
		m.ID, m.RunID, m.SenderID, m.MessageType, m.Content, m.StepIdx, m.TokenCount, now)
	return m, err
}

func (s *Store) ListTeamMessages(ctx context.Context, runID string, limit int) ([]models.TeamMessage, error) {
	if limit <= 0 {
		limit = 500
	}
	rows, err := s.Pool.Query(ctx, `SELECT id, run_id, sender_id, message_type, content, step_idx, token_count, created_at
		FROM team_messages WHERE run_id=$1 ORDER BY seq ASC LIMIT $2`, runID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []models.TeamMessage
	for rows.Next() {
		var m models.TeamMessage
		var created int64
		if err := rows.Scan(&m.ID, &m.RunID, &m.SenderID, &m.MessageType, &m.Content, &m.StepIdx, &m.TokenCount, &created); err != nil {
			return nil, err
		}
		m.CreatedAt = unixTime(created)
		out = append(out, m)
	}
	return out, rows.Err()
}

func (s *Store) CreateDelegation(ctx context.Context, d models.Delegation) (models.Delegation, error) {
	if d.ID == "" {
		d.ID = uuid.NewString()
	}
	if d.Status == "" {
		d.Status = models.DelegationRunning
	}
	now := nowUnix()
	d.CreatedAt = unixTime(now)
	_, err := s.Pool.Exec(ctx, `INSERT INTO delegations(id, run_id, worker_agent_id, instruction, worker_output, status, revision_count, quality_score, created_at, completed_at)
		VALUES($1,$2,$3,$4,$5,$6,$7,$8,$9,NULL)`,
		d.ID, d.RunID, d.WorkerAgentID, d.Instruction, d.WorkerOutput, d.Status, d.RevisionCount, d.QualityScore, now)
	return d, err
}

func scanDelegation(r rowScanner) (models.Delegation, error) {
	var d models.Delegation
	var created int64
	var completed *int64
	if err := r.Scan(&d.ID, &d.RunID, &d.WorkerAgentID, &d.Instruction, &d.WorkerOutput, &d.Status, &d.RevisionCount, &d.QualityScore, &created, &completed); err != nil {
		return d, err
	}
	d.CreatedAt = unixTime(created)
	d.CompletedAt = timeFromPtr(completed)
	return d, nil
}

func (s *Store) GetDelegation(ctx context.Context, id string) (*models.Delegation, error) {
	row := s.Pool.QueryRow(ctx, `SELECT id, run_id, worker_agent_id, instruction, worker_output, status, revision_count, quality_score, created_at, completed_at FROM delegations WHERE id=$1`, id)
	d, err := scanDelegation(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, store.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &d, nil
}

func (s *Store) ListDelegations(ctx context.Context, runID string) ([]models.Delegation, error) {
	rows, err := s.Pool.Query(ctx, `SELECT id, run_id, worker_agent_id, instruction, worker_output, status, revision_count, quality_score, created_at, completed_at
		FROM delegations WHERE run_id=$1 ORDER BY created_at ASC, id ASC`, runID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []models.Delegation
	for rows.Next() {
		d, err := scanDelegation(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, d)
	}
	return out, rows.Err()
}

func (s *Store) UpdateDelegation(ctx context.Context, d models.Delegation) error {
	var completed *int64
	if d.CompletedAt != nil {
		v := d.CompletedAt.UTC().Unix()
		completed = &v
	}
	_, err := s.Pool.Exec(ctx, `UPDATE delegations SET instruction=$1, worker_output=$2, status=$3, revision_count=$4, quality_score=$5, completed_at=$6 WHERE id=$7`,
		d.Instruction, d.WorkerOutput, d.Status, d.RevisionCount, d.QualityScore, completed, d.ID)
	return err
}

func (s *Store) RegisterRunner(ctx context.Context, r models.Runner) error {
	if r.MaxConcurrency <= 0 {
		r.MaxConcurrency = models.DefaultMaxConcurrency
	}
	now := nowUnix()
	_, err := s.Pool.Exec(ctx, `INSERT INTO runners(id, instance_name, status, max_concurrency, current_load, last_heartbeat, created_at)
		VALUES($1,$2,$3,$4,0,$5,$6)
		ON CONFLICT(id) DO UPDATE SET instance_name=EXCLUDED.instance_name, status=EXCLUDED.status,
		max_concurrency=EXCLUDED.max_concurrency, current_load=0, last_heartbeat=EXCLUDED.last_heartbeat`,
		r.ID, r.InstanceName, models.RunnerActive, r.MaxConcurrency, now, now)
	return err
}

func (s *Store) HeartbeatRunner(ctx context.Context, id string, at time.Time) error {
	_, err := s.Pool.Exec(ctx, `UPDATE runners SET last_heartbeat=$1, status='active' WHERE id=$2`, at.UTC().Unix(), id)
	return err
}

func (s *Store) DeregisterRunner(ctx context.Context, id string) error {
	_, err := s.Pool.Exec(ctx, `DELETE FROM runners WHERE id=$1`, id)
	return err
}

func (s *Store) ListRunners(ctx context.Context) ([]models.Runner, error) {
	rows, err := s.Pool.Query(ctx, `SELECT id, instance_name, status, max_concurrency, current_load, last_heartbeat, created_at FROM runners ORDER BY created_at`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []models.Runner
	for rows.Next() {
		var r models.Runner
		var hb, created int64
		if err := rows.Scan(&r.ID, &r.InstanceName, &r.Status, &r.MaxConcurrency, &r.CurrentLoad, &hb, &created); err != nil {
			return nil, err
		}
		r.LastHeartbeat = unixTime(hb)
		r.CreatedAt = unixTime(created)
		out = append(out, r)
	}
	return out, rows.Err()
}

func (s *Store) ReleaseRunnerLoad(ctx context.Context, id string) error {
	_, err := s.Pool.Exec(ctx, `UPDATE runners SET current_load=GREATEST(current_load-1, 0) WHERE id=$1`, id)
	return err
}

func (s *Store) MarkStaleRunnersDead(ctx context.Context, cutoff time.Time) (int, error) {
	ct, err := s.Pool.Exec(ctx, `UPDATE runners SET status='dead' WHERE status='active' AND last_heartbeat < $1`, cutoff.UTC().Unix())
	if err != nil {
		return 0, err
	}
	return int(ct.RowsAffected()), nil
}

func (s *Store) ReleaseOrphanedWork(ctx context.Context) (int, int, error) {
	now := nowUnix()
	ctT, err := s.Pool.Exec(ctx, `UPDATE tasks SET status='pending', runner_id=NULL, updated_at=$1
		WHERE status IN ('dispatched','running') AND runner_id IS NOT NULL
		AND (runner_id IN (SELECT id FROM runners WHERE status='dead') OR runner_id NOT IN (SELECT id FROM runners))`, now)
	if err != nil {
		return 0, 0, err
	}
	ctR, err := s.Pool.Exec(ctx, `UPDATE team_runs SET status='pending', runner_id=NULL, updated_at=$1
		WHERE status IN ('dispatched','running') AND runner_id IS NOT NULL
		AND (runner_id IN (SELECT id FROM runners WHERE status='dead') OR runner_id NOT IN (SELECT id FROM runners))`, now)
	if err != nil {
		return 0, 0, err
	}
	return int(ctT.RowsAffected()), int(ctR.RowsAffected()), nil
}

func (s *Store) PutCredential(ctx context.Context, c models.Credential) error {
	if c.ID == "" {
		c.ID = uuid.NewString()
	}
	_, err := s.Pool.Exec(ctx, `INSERT INTO credentials(id, workspace_id, provider, key_ciphertext, created_at) VALUES($1,$2,$3,$4,$5)
		ON CONFLICT(workspace_id, provider) DO UPDATE SET key_ciphertext=EXCLUDED.key_ciphertext`,
		c.ID, c.WorkspaceID, c.Provider, c.KeyCiphertext, nowUnix())
	return err
}

func (s *Store) GetCredential(ctx context.Context, workspaceID, provider string) (*models.Credential, error) {
	var c models.Credential
	var created int64
	err := s.Pool.QueryRow(ctx, `SELECT id, workspace_id, provider, key_ciphertext, created_at FROM credentials WHERE workspace_id=$1 AND provider=$2`,
		workspaceID, provider).Scan(&c.ID, &c.WorkspaceID, &c.Provider, &c.KeyCiphertext, &created)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, store.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	c.CreatedAt = unixTime(created)
	return &c, nil
}

func (s *Store) PutCustomTool(ctx context.Context, t models.CustomTool) error {
	if t.ID == "" {
		t.ID = uuid.NewString()
	}
	_, err := s.Pool.Exec(ctx, `INSERT INTO custom_tools(id, workspace_id, name, description, param_schema, webhook_url, headers) VALUES($1,$2,$3,$4,$5,$6,$7)
		ON CONFLICT(id) DO UPDATE SET name=EXCLUDED.name, description=EXCLUDED.description, param_schema=EXCLUDED.param_schema,
		webhook_url=EXCLUDED.webhook_url, headers=EXCLUDED.headers`,
		t.ID, t.WorkspaceID, t.Name, t.Description, t.ParamSchema, t.WebhookURL, marshalJSON(t.Headers))
	return err
}

func (s *Store) GetCustomTool(ctx context.Context, id string) (*models.CustomTool, error) {
	var t models.CustomTool
	var headers string
	err := s.Pool.QueryRow(ctx, `SELECT id, workspace_id, name, description, param_schema, webhook_url, headers FROM custom_tools WHERE id=$1`, id).
		Scan(&t.ID, &t.WorkspaceID, &t.Name, &t.Description, &t.ParamSchema, &t.WebhookURL, &headers)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, store.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	_ = json.Unmarshal([]byte(headers), &t.Headers)
	return &t, nil
}

func (s *Store) InsertUsageEvent(ctx context.Context, e models.UsageEvent) error {
	if e.ID == "" {
		e.ID = uuid.NewString()
	}
	_, err := s.Pool.Exec(ctx, `INSERT INTO usage_events(id, workspace_id, agent_id, provider, model, prompt_tokens, completion_tokens, total_tokens, cost_estimate_usd, created_at)
		VALUES($1,$2,$3,$4,$5,$6,$7,$8,$9,$10)`,
		e.ID, e.WorkspaceID, e.AgentID, e.Provider, e.Model, e.PromptTokens, e.CompletionTokens, e.TotalTokens, e.CostEstimateUSD, nowUnix())
	return err
}
