package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"time"

	"github.com/google/uuid"

	"github.com/vincentgrobler/crewform-sub000/pkg/models"
)

type rowScanner interface {
	Scan(dest ...any) error
}

func scanTask(r rowScanner) (models.Task, error) {
	var t models.Task
	var agentID, runnerID, result, errMsg sql.NullString
	var meta string
	var created, updated int64
	err := r.Scan(&t.ID, &t.WorkspaceID, &t.Title, &t.Description, &t.Status, &t.Priority,
		&agentID, &runnerID, &result, &errMsg, &meta, &created, &updated)
	if err != nil {
		return t, err
	}
	t.AgentID = strPtr(agentID)
	t.RunnerID = strPtr(runnerID)
	t.Result = strPtr(result)
	t.Error = strPtr(errMsg)
	if meta != "" {
		_ = json.Unmarshal([]byte(meta), &t.Metadata)
	}
	t.CreatedAt = unixTime(created)
	t.UpdatedAt = unixTime(updated)
	return t, nil
}

func scanRun(r rowScanner) (models.TeamRun, error) {
	var run models.TeamRun
	var output, runnerID, errMsg sql.NullString
	var stepIdx, completed sql.NullInt64
	var created, updated int64
	err := r.Scan(&run.ID, &run.TeamID, &run.WorkspaceID, &run.Status, &run.InputTask,
		&output, &stepIdx, &run.DelegationDepth, &run.TokensTotal, &run.CostEstimateUSD,
		&runnerID, &errMsg, &created, &updated, &completed)
	if err != nil {
		return run, err
	}
	run.Output = strPtr(output)
	run.CurrentStepIdx = intPtr(stepIdx)
	run.RunnerID = strPtr(runnerID)
	run.Error = strPtr(errMsg)
	run.CreatedAt = unixTime(created)
	run.UpdatedAt = unixTime(updated)
	run.CompletedAt = timePtr(completed)
	return run, nil
}

func (s *sqliteStore) CreateTask(ctx context.Context, t models.Task) (models.Task, error) {
	if t.ID == "" {
		t.ID = uuid.NewString()
	}
	if t.Status == "" {
		t.Status = models.StatusPending
	}
	now := nowUnix()
	t.CreatedAt = unixTime(now)
	t.UpdatedAt = t.CreatedAt
	_, err := s.DB.ExecContext(ctx, `INSERT INTO tasks(`+taskCols+`) VALUES(?,?,?,?,?,?,?,?,?,?,?,?,?)`,
		t.ID, t.WorkspaceID, t.Title, t.Description, t.Status, t.Priority,
		nullStr(t.AgentID), nullStr(t.RunnerID), nullStr(t.Result), nullStr(t.Error),
		marshalJSON(t.Metadata), now, now)
	return t, err
}

func (s *sqliteStore) GetTask(ctx context.Context, id string) (*models.Task, error) {
	row := s.DB.QueryRowContext(ctx, `SELECT `+taskCols+` FROM tasks WHERE id=?`, id)
	t, err := scanTask(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &t, nil
}

func (s *sqliteStore) ListTasks(ctx context.Context, workspaceID string, limit int) ([]models.Task, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := s.DB.QueryContext(ctx, `SELECT `+taskCols+` FROM tasks WHERE workspace_id=? ORDER BY created_at DESC LIMIT ?`, workspaceID, limit)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()
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

// ClaimNextTask atomically claims the oldest highest-priority pending task for
// the runner. The runner's load gate and the claim happen in one transaction:
// if the runner is at capacity, or no task is pending, nothing is claimed.
func (s *sqliteStore) ClaimNextTask(ctx context.Context, runnerID string) (*models.Task, error) {
	tx, err := s.DB.BeginTx(ctx, nil)
	if err != nil {
		return nil, err
	}
	defer func() { _ = tx.Rollback() }()

	res, err := tx.StmtContext(ctx, s.stmtBumpLoad).ExecContext(ctx, runnerID)
	if err != nil {
		return nil, err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return nil, nil // at capacity, dead, or unregistered
	}
	row := tx.StmtContext(ctx, s.stmtNextTask).QueryRowContext(ctx, runnerID, nowUnix())
	t, err := scanTask(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil // rollback undoes the load bump
	}
	if err != nil {
		return nil, err
	}
	if err := tx.Commit(); err != nil {
		return nil, err
	}
	return &t, nil
}

func (s *sqliteStore) MarkTaskRunning(ctx context.Context, id, runnerID string) error {
	_, err := s.DB.ExecContext(ctx, `UPDATE tasks SET status='running', updated_at=? WHERE id=? AND runner_id=? AND status='dispatched'`, nowUnix(), id, runnerID)
	return err
}

func (s *sqliteStore) UpdateTaskPartial(ctx context.Context, id, runnerID, partial string) error {
	_, err := s.DB.ExecContext(ctx, `UPDATE tasks SET result=?, updated_at=? WHERE id=? AND runner_id=? AND status='running'`, partial, nowUnix(), id, runnerID)
	return err
}

func (s *sqliteStore) CompleteTask(ctx context.Context, id, runnerID, result string) error {
	_, err := s.DB.ExecContext(ctx, `UPDATE tasks SET status='completed', result=?, error=NULL, updated_at=?
		WHERE id=? AND runner_id=? AND status NOT IN ('completed','failed','cancelled')`, result, nowUnix(), id, runnerID)
	return err
}

func (s *sqliteStore) FailTask(ctx context.Context, id, runnerID, errMsg string) error {
	_, err := s.DB.ExecContext(ctx, `UPDATE tasks SET status='failed', error=?, updated_at=?
		WHERE id=? AND runner_id=? AND status NOT IN ('completed','failed','cancelled')`, errMsg, nowUnix(), id, runnerID)
	return err
}

func (s *sqliteStore) CancelTask(ctx context.Context, id string) error {
	_, err := s.DB.ExecContext(ctx, `UPDATE tasks SET status='cancelled', updated_at=?
		WHERE id=? AND status NOT IN ('completed','failed','cancelled')`, nowUnix(), id)
	return err
}

func (s *sqliteStore) CreateTeamRun(ctx context.Context, r models.TeamRun) (models.TeamRun, error) {
	if r.ID == "" {
		r.ID = uuid.NewString()
	}
	if r.Status == "" {
		r.Status = models.StatusPending
	}
	now := nowUnix()
	r.CreatedAt = unixTime(now)
	r.UpdatedAt = r.CreatedAt
	_, err := s.DB.ExecContext(ctx, `INSERT INTO team_runs(`+runCols+`) VALUES(?,?,?,?,?,?,?,?,?,?,?,?,?,?,?)`,
		r.ID, r.TeamID, r.WorkspaceID, r.Status, r.InputTask, nullStr(r.Output), nil,
		r.DelegationDepth, r.TokensTotal, r.CostEstimateUSD, nullStr(r.RunnerID), nullStr(r.Error),
		now, now, nil)
	return r, err
}

func (s *sqliteStore) GetTeamRun(ctx context.Context, id string) (*models.TeamRun, error) {
	row := s.DB.QueryRowContext(ctx, `SELECT `+runCols+` FROM team_runs WHERE id=?`, id)
	r, err := scanRun(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &r, nil
}

func (s *sqliteStore) ClaimNextTeamRun(ctx context.Context, runnerID string) (*models.TeamRun, error) {
	tx, err := s.DB.BeginTx(ctx, nil)
	if err != nil {
		return nil, err
	}
	defer func() { _ = tx.Rollback() }()

	res, err := tx.StmtContext(ctx, s.stmtBumpLoad).ExecContext(ctx, runnerID)
	if err != nil {
		return nil, err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return nil, nil
	}
	row := tx.StmtContext(ctx, s.stmtNextRun).QueryRowContext(ctx, runnerID, nowUnix())
	r, err := scanRun(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	if err := tx.Commit(); err != nil {
		return nil, err
	}
	return &r, nil
}

func (s *sqliteStore) MarkTeamRunRunning(ctx context.Context, id, runnerID string) error {
	_, err := s.DB.ExecContext(ctx, `UPDATE team_runs SET status='running', updated_at=? WHERE id=? AND runner_id=? AND status='dispatched'`, nowUnix(), id, runnerID)
	return err
}

func (s *sqliteStore) UpdateRunProgress(ctx context.Context, id, runnerID string, stepIdx *int, delegationDepth int, tokensDelta int, costDelta float64) error {
	var idx any
	if stepIdx != nil {
		idx = *stepIdx
	}
	_, err := s.stmtRunProgress.ExecContext(ctx, idx, idx, delegationDepth, tokensDelta, costDelta, nowUnix(), id, runnerID)
	return err
}

func (s *sqliteStore) CompleteTeamRun(ctx context.Context, id, runnerID, output string) error {
	now := nowUnix()
	_, err := s.DB.ExecContext(ctx, `UPDATE team_runs SET status='completed', output=?, error=NULL, updated_at=?, completed_at=?
		WHERE id=? AND runner_id=? AND status NOT IN ('completed','failed','cancelled')`, output, now, now, id, runnerID)
	return err
}

func (s *sqliteStore) FailTeamRun(ctx context.Context, id, runnerID, errMsg string) error {
	now := nowUnix()
	_, err := s.DB.ExecContext(ctx, `UPDATE team_runs SET status='failed', error=?, updated_at=?, completed_at=?
		WHERE id=? AND runner_id=? AND status NOT IN ('completed','failed','cancelled')`, errMsg, now, now, id, runnerID)
	return err
}

func (s *sqliteStore) CancelTeamRun(ctx context.Context, id string) error {
	_, err := s.DB.ExecContext(ctx, `UPDATE team_runs SET status='cancelled', updated_at=?
		WHERE id=? AND status NOT IN ('completed','failed','cancelled')`, nowUnix(), id)
	return err
}

func (s *sqliteStore) TeamRunStatus(ctx context.Context, id string) (string, error) {
	var status string
	err := s.stmtRunStatus.QueryRowContext(ctx, id).Scan(&status)
	if errors.Is(err, sql.ErrNoRows) {
		return "", ErrNotFound
	}
	return status, err
}

func (s *sqliteStore) CreateTeam(ctx context.Context, t models.Team) (models.Team, error) {
	if t.ID == "" {
		t.ID = uuid.NewString()
	}
	now := nowUnix()
	t.CreatedAt = unixTime(now)
	_, err := s.DB.ExecContext(ctx, `INSERT INTO teams(id, workspace_id, name, mode, config, created_at) VALUES(?,?,?,?,?,?)`,
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

func (s *sqliteStore) GetTeam(ctx context.Context, id string) (*models.Team, error) {
	row := s.DB.QueryRowContext(ctx, `SELECT id, workspace_id, name, mode, config, created_at FROM teams WHERE id=?`, id)
	t, err := scanTeam(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &t, nil
}

func (s *sqliteStore) ListTeams(ctx context.Context, workspaceID string) ([]models.Team, error) {
	rows, err := s.DB.QueryContext(ctx, `SELECT id, workspace_id, name, mode, config, created_at FROM teams WHERE workspace_id=? ORDER BY created_at DESC`, workspaceID)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()
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

func (s *sqliteStore) CreateAgent(ctx context.Context, a models.Agent) (models.Agent, error) {
	if a.ID == "" {
		a.ID = uuid.NewString()
	}
	now := nowUnix()
	a.CreatedAt = unixTime(now)
	_, err := s.DB.ExecContext(ctx, `INSERT INTO agents(id, workspace_id, name, provider, model, system_prompt, tools, temperature, created_at) VALUES(?,?,?,?,?,?,?,?,?)`,
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

func (s *sqliteStore) GetAgent(ctx context.Context, id string) (*models.Agent, error) {
	row := s.DB.QueryRowContext(ctx, `SELECT id, workspace_id, name, provider, model, system_prompt, tools, temperature, created_at FROM agents WHERE id=?`, id)
	a, err := scanAgent(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &a, nil
}

func (s *sqliteStore) ListAgents(ctx context.Context, workspaceID string) ([]models.Agent, error) {
	rows, err := s.DB.QueryContext(ctx, `SELECT id, workspace_id, name, provider, model, system_prompt, tools, temperature, created_at FROM agents WHERE workspace_id=? ORDER BY created_at`, workspaceID)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()
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

func (s *sqliteStore) AppendTeamMessage(ctx context.Context, m models.TeamMessage) (models.TeamMessage, error) {
	if m.ID == "" {
		m.ID = uuid.NewString()
	}
	m.Content = TruncateContent(m.Content)
	now := nowUnix()
	m.CreatedAt = unixTime(now)
	var stepIdx any
	if m.StepIdx != nil {
		stepIdx = *m.StepIdx
	}
	_, err := s.stmtAppendMsg.ExecContext(ctx, m.ID, m.RunID, nullStr(m.SenderID), m.MessageType, m.Content, stepIdx, m.TokenCount, now)
	return m, err
}

func (s *sqliteStore) ListTeamMessages(ctx context.Context, runID string, limit int) ([]models.TeamMessage, error) {
	if limit <= 0 {
		limit = 500
	}
	rows, err := s.DB.QueryContext(ctx, `SELECT id, run_id, sender_id, message_type, content, step_idx, token_count, created_at
		FROM team_messages WHERE run_id=? ORDER BY seq ASC LIMIT ?`, runID, limit)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()
	var out []models.TeamMessage
	for rows.Next() {
		var m models.TeamMessage
		var sender sql.NullString
		var stepIdx sql.NullInt64
		var created int64
		if err := rows.Scan(&m.ID, &m.RunID, &sender, &m.MessageType, &m.Content, &stepIdx, &m.TokenCount, &created); err != nil {
			return nil, err
		}
		m.SenderID = strPtr(sender)
		m.StepIdx = intPtr(stepIdx)
		m.CreatedAt = unixTime(created)
		out = append(out, m)
	}
	return out, rows.Err()
}

func (s *sqliteStore) CreateDelegation(ctx context.Context, d models.Delegation) (models.Delegation, error) {
	if d.ID == "" {
		d.ID = uuid.NewString()
	}
	if d.Status == "" {
		d.Status = models.DelegationRunning
	}
	now := nowUnix()
	d.CreatedAt = unixTime(now)
	var score any
	if d.QualityScore != nil {
		score = *d.QualityScore
	}
	_, err := s.DB.ExecContext(ctx, `INSERT INTO delegations(id, run_id, worker_agent_id, instruction, worker_output, status, revision_count, quality_score, created_at, completed_at)
		VALUES(?,?,?,?,?,?,?,?,?,NULL)`,
		d.ID, d.RunID, d.WorkerAgentID, d.Instruction, nullStr(d.WorkerOutput), d.Status, d.RevisionCount, score, now)
	return d, err
}

func scanDelegation(r rowScanner) (models.Delegation, error) {
	var d models.Delegation
	var output sql.NullString
	var score sql.NullFloat64
	var created int64
	var completed sql.NullInt64
	if err := r.Scan(&d.ID, &d.RunID, &d.WorkerAgentID, &d.Instruction, &output, &d.Status, &d.RevisionCount, &score, &created, &completed); err != nil {
		return d, err
	}
	d.WorkerOutput = strPtr(output)
	d.QualityScore = floatPtr(score)
	d.CreatedAt = unixTime(created)
	d.CompletedAt = timePtr(completed)
	return d, nil
}

func (s *sqliteStore) GetDelegation(ctx context.Context, id string) (*models.Delegation, error) {
	row := s.DB.QueryRowContext(ctx, `SELECT id, run_id, worker_agent_id, instruction, worker_output, status, revision_count, quality_score, created_at, completed_at FROM delegations WHERE id=?`, id)
	d, err := scanDelegation(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &d, nil
}

func (s *sqliteStore) ListDelegations(ctx context.Context, runID string) ([]models.Delegation, error) {
	rows, err := s.DB.QueryContext(ctx, `SELECT id, run_id, worker_agent_id, instruction, worker_output, status, revision_count, quality_score, created_at, completed_at
		FROM delegations WHERE run_id=? ORDER BY created_at ASC, id ASC`, runID)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()
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

func (s *sqliteStore) UpdateDelegation(ctx context.Context, d models.Delegation) error {
	var score any
	if d.QualityScore != nil {
		score = *d.QualityScore
	}
	var completed any
	if d.CompletedAt != nil {
		completed = d.CompletedAt.UTC().Unix()
	}
	_, err := s.DB.ExecContext(ctx, `UPDATE delegations SET instruction=?, worker_output=?, status=?, revision_count=?, quality_score=?, completed_at=? WHERE id=?`,
		d.Instruction, nullStr(d.WorkerOutput), d.Status, d.RevisionCount, score, completed, d.ID)
	return err
}

func (s *sqliteStore) RegisterRunner(ctx context.Context, r models.Runner) error {
	if r.MaxConcurrency <= 0 {
		r.MaxConcurrency = models.DefaultMaxConcurrency
	}
	now := nowUnix()
	_, err := s.DB.ExecContext(ctx, `INSERT INTO runners(id, instance_name, status, max_concurrency, current_load, last_heartbeat, created_at)
		VALUES(?,?,?,?,0,?,?)
		ON CONFLICT(id) DO UPDATE SET instance_name=excluded.instance_name, status=excluded.status,
		max_concurrency=excluded.max_concurrency, current_load=0, last_heartbeat=excluded.last_heartbeat`,
		r.ID, r.InstanceName, models.RunnerActive, r.MaxConcurrency, now, now)
	return err
}

func (s *sqliteStore) HeartbeatRunner(ctx context.Context, id string, at time.Time) error {
	_, err := s.DB.ExecContext(ctx, `UPDATE runners SET last_heartbeat=?, status='active' WHERE id=?`, at.UTC().Unix(), id)
	return err
}

func (s *sqliteStore) DeregisterRunner(ctx context.Context, id string) error {
	_, err := s.DB.ExecContext(ctx, `DELETE FROM runners WHERE id=?`, id)
	return err
}

func (s *sqliteStore) ListRunners(ctx context.Context) ([]models.Runner, error) {
	rows, err := s.DB.QueryContext(ctx, `SELECT id, instance_name, status, max_concurrency, current_load, last_heartbeat, created_at FROM runners ORDER BY created_at`)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()
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

func (s *sqliteStore) ReleaseRunnerLoad(ctx context.Context, id string) error {
	_, err := s.stmtReleaseLoad.ExecContext(ctx, id)
	return err
}

func (s *sqliteStore) MarkStaleRunnersDead(ctx context.Context, cutoff time.Time) (int, error) {
	res, err := s.DB.ExecContext(ctx, `UPDATE runners SET status='dead' WHERE status='active' AND last_heartbeat < ?`, cutoff.UTC().Unix())
	if err != nil {
		return 0, err
	}
	n, _ := res.RowsAffected()
	return int(n), nil
}

func (s *sqliteStore) ReleaseOrphanedWork(ctx context.Context) (int, int, error) {
	now := nowUnix()
	// Work claimed by a dead runner, or by a runner whose row no longer exists,
	// goes back to pending so another runner can claim it (at-least-once).
	resT, err := s.DB.ExecContext(ctx, `UPDATE tasks SET status='pending', runner_id=NULL, updated_at=?
		WHERE status IN ('dispatched','running') AND runner_id IS NOT NULL
		AND (runner_id IN (SELECT id FROM runners WHERE status='dead') OR runner_id NOT IN (SELECT id FROM runners))`, now)
	if err != nil {
		return 0, 0, err
	}
	resR, err := s.DB.ExecContext(ctx, `UPDATE team_runs SET status='pending', runner_id=NULL, updated_at=?
		WHERE status IN ('dispatched','running') AND runner_id IS NOT NULL
		AND (runner_id IN (SELECT id FROM runners WHERE status='dead') OR runner_id NOT IN (SELECT id FROM runners))`, now)
	if err != nil {
		return 0, 0, err
	}
	nt, _ := resT.RowsAffected()
	nr, _ := resR.RowsAffected()
	return int(nt), int(nr), nil
}

func (s *sqliteStore) PutCredential(ctx context.Context, c models.Credential) error {
	if c.ID == "" {
		c.ID = uuid.NewString()
	}
	_, err := s.DB.ExecContext(ctx, `INSERT INTO credentials(id, workspace_id, provider, key_ciphertext, created_at) VALUES(?,?,?,?,?)
		ON CONFLICT(workspace_id, provider) DO UPDATE SET key_ciphertext=excluded.key_ciphertext`,
		c.ID, c.WorkspaceID, c.Provider, c.KeyCiphertext, nowUnix())
	return err
}

func (s *sqliteStore) GetCredential(ctx context.Context, workspaceID, provider string) (*models.Credential, error) {
	var c models.Credential
	var created int64
	err := s.DB.QueryRowContext(ctx, `SELECT id, workspace_id, provider, key_ciphertext, created_at FROM credentials WHERE workspace_id=? AND provider=?`,
		workspaceID, provider).Scan(&c.ID, &c.WorkspaceID, &c.Provider, &c.KeyCiphertext, &created)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	c.CreatedAt = unixTime(created)
	return &c, nil
}

func (s *sqliteStore) PutCustomTool(ctx context.Context, t models.CustomTool) error {
	if t.ID == "" {
		t.ID = uuid.NewString()
	}
	_, err := s.DB.ExecContext(ctx, `INSERT INTO custom_tools(id, workspace_id, name, description, param_schema, webhook_url, headers) VALUES(?,?,?,?,?,?,?)
		ON CONFLICT(id) DO UPDATE SET name=excluded.name, description=excluded.description, param_schema=excluded.param_schema,
		webhook_url=excluded.webhook_url, headers=excluded.headers`,
		t.ID, t.WorkspaceID, t.Name, t.Description, t.ParamSchema, t.WebhookURL, marshalJSON(t.Headers))
	return err
}

func (s *sqliteStore) GetCustomTool(ctx context.Context, id string) (*models.CustomTool, error) {
	var t models.CustomTool
	var headers string
	err := s.DB.QueryRowContext(ctx, `SELECT id, workspace_id, name, description, param_schema, webhook_url, headers FROM custom_tools WHERE id=?`, id).
		Scan(&t.ID, &t.WorkspaceID, &t.Name, &t.Description, &t.ParamSchema, &t.WebhookURL, &headers)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	_ = json.Unmarshal([]byte(headers), &t.Headers)
	return &t, nil
}

func (s *sqliteStore) InsertUsageEvent(ctx context.Context, e models.UsageEvent) error {
	if e.ID == "" {
		e.ID = uuid.NewString()
	}
	_, err := s.DB.ExecContext(ctx, `INSERT INTO usage_events(id, workspace_id, agent_id, provider, model, prompt_tokens, completion_tokens, total_tokens, cost_estimate_usd, created_at)
		VALUES(?,?,?,?,?,?,?,?,?,?)`,
		e.ID, e.WorkspaceID, e.AgentID, e.Provider, e.Model, e.PromptTokens, e.CompletionTokens, e.TotalTokens, e.CostEstimateUSD, nowUnix())
	return err
}
