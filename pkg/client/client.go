// Package client provides a Go SDK for the Crewform HTTP API.
package client

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"

	"github.com/vincentgrobler/crewform-sub000/pkg/models"
)

// Client calls the Crewform HTTP API. It is safe for concurrent use.
type Client struct {
	BaseURL    string       // e.g. "http://localhost:7333"
	APIKey     string       // optional; sent as X-API-Key when set
	HTTPClient *http.Client // optional; nil uses http.DefaultClient
}

// New returns a client for the given base URL (e.g. "http://localhost:7333").
func New(baseURL, apiKey string) *Client {
	return &Client{BaseURL: baseURL, APIKey: apiKey}
}

func (c *Client) client() *http.Client {
	if c.HTTPClient != nil {
		return c.HTTPClient
	}
	return http.DefaultClient
}

func (c *Client) do(ctx context.Context, method, path string, body any) (*http.Response, error) {
	var bodyReader io.Reader
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			return nil, err
		}
		bodyReader = bytes.NewReader(b)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.BaseURL+path, bodyReader)
	if err != nil {
		return nil, err
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.APIKey != "" {
		req.Header.Set("X-API-Key", c.APIKey)
	}
	return c.client().Do(req)
}

func (c *Client) doJSON(ctx context.Context, method, path string, body any, out any) error {
	resp, err := c.do(ctx, method, path, body)
	if err != nil {
		return err
	}
	defer func() { _ = resp.Body.Close() }()
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		var errBody struct {
			Error string `json:"error"`
		}
		_ = json.NewDecoder(resp.Body).Decode(&errBody)
		if errBody.Error != "" {
			return fmt.Errorf("api %s %s: %s", method, path, errBody.Error)
		}
		return fmt.Errorf("api %s %s: status %d", method, path, resp.StatusCode)
	}
	if out != nil {
		return json.NewDecoder(resp.Body).Decode(out)
	}
	_, _ = io.Copy(io.Discard, resp.Body)
	return nil
}

// Health returns the /health response (ok: true).
func (c *Client) Health(ctx context.Context) (ok bool, err error) {
	var out struct {
		OK bool `json:"ok"`
	}
	err = c.doJSON(ctx, http.MethodGet, "/health", nil, &out)
	return out.OK, err
}

// CreateTaskRequest is the body for CreateTask.
type CreateTaskRequest struct {
	WorkspaceID string            `json:"workspace_id"`
	Title       string            `json:"title"`
	Description string            `json:"description,omitempty"`
	Priority    int               `json:"priority,omitempty"`
	AgentID     *string           `json:"agent_id,omitempty"`
	Metadata    map[string]string `json:"metadata,omitempty"`
}

// CreateTask queues a task and returns it.
func (c *Client) CreateTask(ctx context.Context, req CreateTaskRequest) (*models.Task, error) {
	var out models.Task
	err := c.doJSON(ctx, http.MethodPost, "/tasks", req, &out)
	return &out, err
}

// GetTask returns one task by ID.
func (c *Client) GetTask(ctx context.Context, id string) (*models.Task, error) {
	var out models.Task
	err := c.doJSON(ctx, http.MethodGet, "/tasks/"+url.PathEscape(id), nil, &out)
	return &out, err
}

// ListTasks returns tasks in a workspace, newest first.
func (c *Client) ListTasks(ctx context.Context, workspaceID string, limit int) ([]models.Task, error) {
	var out []models.Task
	path := "/tasks?workspace=" + url.QueryEscape(workspaceID)
	if limit > 0 {
		path += "&limit=" + strconv.Itoa(limit)
	}
	err := c.doJSON(ctx, http.MethodGet, path, nil, &out)
	return out, err
}

// CancelTask cancels a task; a no-op if the task is already terminal.
func (c *Client) CancelTask(ctx context.Context, id string) error {
	return c.doJSON(ctx, http.MethodPost, "/tasks/"+url.PathEscape(id)+"/cancel", nil, nil)
}

// CreateAgent creates an agent and returns it.
func (c *Client) CreateAgent(ctx context.Context, a models.Agent) (*models.Agent, error) {
	var out models.Agent
	err := c.doJSON(ctx, http.MethodPost, "/agents", a, &out)
	return &out, err
}

// ListAgents returns agents in a workspace.
func (c *Client) ListAgents(ctx context.Context, workspaceID string) ([]models.Agent, error) {
	var out []models.Agent
	err := c.doJSON(ctx, http.MethodGet, "/agents?workspace="+url.QueryEscape(workspaceID), nil, &out)
	return out, err
}

// CreateTeam creates a team and returns it.
func (c *Client) CreateTeam(ctx context.Context, t models.Team) (*models.Team, error) {
	var out models.Team
	err := c.doJSON(ctx, http.MethodPost, "/teams", t, &out)
	return &out, err
}

// GetTeam returns one team by ID.
func (c *Client) GetTeam(ctx context.Context, id string) (*models.Team, error) {
	var out models.Team
	err := c.doJSON(ctx, http.MethodGet, "/teams/"+url.PathEscape(id), nil, &out)
	return &out, err
}

// ListTeams returns teams in a workspace.
func (c *Client) ListTeams(ctx context.Context, workspaceID string) ([]models.Team, error) {
	var out []models.Team
	err := c.doJSON(ctx, http.MethodGet, "/teams?workspace="+url.QueryEscape(workspaceID), nil, &out)
	return out, err
}

// RunTeam queues a run of the team with the given input task.
func (c *Client) RunTeam(ctx context.Context, teamID, inputTask string) (*models.TeamRun, error) {
	var out models.TeamRun
	body := map[string]string{"input_task": inputTask}
	err := c.doJSON(ctx, http.MethodPost, "/teams/"+url.PathEscape(teamID)+"/runs", body, &out)
	return &out, err
}

// GetRun returns one team run by ID.
func (c *Client) GetRun(ctx context.Context, id string) (*models.TeamRun, error) {
	var out models.TeamRun
	err := c.doJSON(ctx, http.MethodGet, "/runs/"+url.PathEscape(id), nil, &out)
	return &out, err
}

// ListRunMessages returns the activity log of a run in insertion order.
func (c *Client) ListRunMessages(ctx context.Context, runID string, limit int) ([]models.TeamMessage, error) {
	var out []models.TeamMessage
	path := "/runs/" + url.PathEscape(runID) + "/messages"
	if limit > 0 {
		path += "?limit=" + strconv.Itoa(limit)
	}
	err := c.doJSON(ctx, http.MethodGet, path, nil, &out)
	return out, err
}

// ListRunDelegations returns the delegations of an orchestrator run.
func (c *Client) ListRunDelegations(ctx context.Context, runID string) ([]models.Delegation, error) {
	var out []models.Delegation
	err := c.doJSON(ctx, http.MethodGet, "/runs/"+url.PathEscape(runID)+"/delegations", nil, &out)
	return out, err
}

// CancelRun requests cancellation; the executing runner stops at the next
// step boundary.
func (c *Client) CancelRun(ctx context.Context, id string) error {
	return c.doJSON(ctx, http.MethodPost, "/runs/"+url.PathEscape(id)+"/cancel", nil, nil)
}

// ListRunners returns the registered runner fleet.
func (c *Client) ListRunners(ctx context.Context) ([]models.Runner, error) {
	var out []models.Runner
	err := c.doJSON(ctx, http.MethodGet, "/runners", nil, &out)
	return out, err
}

// PutCredential stores an encrypted provider API key for a workspace.
func (c *Client) PutCredential(ctx context.Context, workspaceID, provider, apiKey string) error {
	body := map[string]string{"workspace_id": workspaceID, "provider": provider, "api_key": apiKey}
	return c.doJSON(ctx, http.MethodPost, "/credentials", body, nil)
}

// PutCustomTool registers a custom webhook tool.
func (c *Client) PutCustomTool(ctx context.Context, t models.CustomTool) (*models.CustomTool, error) {
	var out models.CustomTool
	err := c.doJSON(ctx, http.MethodPost, "/tools/custom", t, &out)
	return &out, err
}
