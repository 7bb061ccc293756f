// Package httpapi serves the REST API and the SSE stream the dashboard uses
// to observe live runs.
package httpapi

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"github.com/vincentgrobler/crewform-sub000/internal/credentials"
	"github.com/vincentgrobler/crewform-sub000/internal/otel"
	"github.com/vincentgrobler/crewform-sub000/internal/store"
	"github.com/vincentgrobler/crewform-sub000/internal/store/postgres"
	"github.com/vincentgrobler/crewform-sub000/pkg/models"
)

// limitBody wraps r.Body with http.MaxBytesReader so handlers cannot read more than maxBytes.
func limitBody(w http.ResponseWriter, r *http.Request, maxBytes int64) {
	r.Body = http.MaxBytesReader(w, r.Body, maxBytes)
}

// bodyLimitMiddleware limits request body size for POST, PUT, PATCH to prevent OOM.
func bodyLimitMiddleware(maxBytes int64, next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method == http.MethodPost || r.Method == http.MethodPut || r.Method == http.MethodPatch {
			limitBody(w, r, maxBytes)
		}
		next.ServeHTTP(w, r)
	})
}

// corsMiddleware sets CORS headers for dev mode (dashboard dev server on a different origin).
func corsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, PUT, PATCH, DELETE, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type, X-API-Key")
		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusNoContent)
			return
		}
		next.ServeHTTP(w, r)
	})
}

// ServerOptions configures the HTTP server (home dir, listen addr, API key, DB, metrics).
type ServerOptions struct {
	Home           string
	Addr           string
	Dev            bool
	APIKey         string       // if set, require X-API-Key header or query api_key
	DBDriver       string       // "sqlite" (default) or "postgres"
	DBURL          string       // for postgres: connection string (or set DATABASE_URL env)
	MasterKey      string       // credential encryption key; empty disables /credentials
	MetricsHandler http.Handler // if set, used for /metrics (e.g. OTel Prometheus handler)
	UseOtelHTTP    bool         // if true, wrap handler with otelhttp for request metrics
}

// App holds the HTTP server, SSE hub, store, and credential resolver.
type App struct {
	Server      *http.Server
	Hub         *SSEHub
	Store       store.Store
	Credentials *credentials.Resolver // nil when no master key is configured
	Home        string
}

// NewApp creates the HTTP app (server, hub, store) and registers all routes.
func NewApp(opts ServerOptions) (*App, error) {
	hub := NewSSEHub()
	mux := http.NewServeMux()

	var st store.Store
	var err error
	if opts.DBDriver == "postgres" {
		st, err = postgres.Open(opts.DBURL)
	} else {
		st, err = store.Open(opts.Home)
	}
	if err != nil {
		return nil, err
	}

	var creds *credentials.Resolver
	if opts.MasterKey != "" {
		creds, err = credentials.NewResolver(st, opts.MasterKey)
		if err != nil {
			return nil, err
		}
	}

	app := &App{Hub: hub, Store: st, Credentials: creds, Home: opts.Home}

	mux.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, map[string]any{"ok": true})
	})

	if opts.MetricsHandler != nil {
		mux.Handle("/metrics", opts.MetricsHandler)
	}

	mux.HandleFunc("/stream", hub.Handler())

	mux.HandleFunc("/tasks", app.handleTasks)
	mux.HandleFunc("/tasks/", app.handleTaskByID)
	mux.HandleFunc("/agents", app.handleAgents)
	mux.HandleFunc("/teams", app.handleTeams)
	mux.HandleFunc("/teams/", app.handleTeamByID)
	mux.HandleFunc("/runs", app.handleRuns)
	mux.HandleFunc("/runs/", app.handleRunByID)
	mux.HandleFunc("/runners", app.handleRunners)
	mux.HandleFunc("/credentials", app.handleCredentials)
	mux.HandleFunc("/tools/custom", app.handleCustomTools)

	var handler http.Handler = mux
	handler = bodyLimitMiddleware(models.DefaultMaxRequestBodyBytes, handler)
	if opts.Dev {
		handler = corsMiddleware(handler)
	}
	if opts.APIKey != "" {
		handler = apiKeyMiddleware(opts.APIKey, handler)
	}
	handler = requestLogMiddleware(handler)
	if opts.UseOtelHTTP {
		handler = otelhttp.NewHandler(handler, "crewform")
	}
	srv := &http.Server{
		Addr:              opts.Addr,
		Handler:           handler,
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       15 * time.Second,
		WriteTimeout:      60 * time.Second,
		IdleTimeout:       60 * time.Second,
	}
	srv.RegisterOnShutdown(func() {
		_ = st.Close()
	})
	app.Server = srv
	return app, nil
}

// --- Tasks ---

func (a *App) handleTasks(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		tasks, err := a.Store.ListTasks(r.Context(), r.URL.Query().Get("workspace"), queryLimit(r, 200))
		if err != nil {
			writeJSONError(w, http.StatusInternalServerError, err.Error())
			return
		}
		writeJSON(w, tasks)
	case http.MethodPost:
		var body struct {
			WorkspaceID string            `json:"workspace_id"`
			Title       string            `json:"title"`
			Description string            `json:"description"`
			Priority    int               `json:"priority"`
			AgentID     *string           `json:"agent_id"`
			Metadata    map[string]string `json:"metadata"`
		}
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
			writeJSONError(w, http.StatusBadRequest, "invalid json")
			return
		}
		if body.WorkspaceID == "" || body.Title == "" {
			writeJSONError(w, http.StatusBadRequest, "workspace_id and title required")
			return
		}
		task, err := a.Store.CreateTask(r.Context(), models.Task{
			WorkspaceID: body.WorkspaceID,
			Title:       body.Title,
			Description: body.Description,
			Priority:    body.Priority,
			AgentID:     body.AgentID,
			Metadata:    body.Metadata,
		})
		if err != nil {
			writeJSONError(w, http.StatusBadRequest, err.Error())
			return
		}
		otel.RecordTaskOp(r.Context(), "create", task.WorkspaceID, task.Status)
		a.Hub.PublishJSON(map[string]any{"type": "task_update", "task_id": task.ID, "status": task.Status})
		writeJSON(w, task)
	default:
		writeJSONError(w, http.StatusMethodNotAllowed, "method not allowed")
	}
}

func (a *App) handleTaskByID(w http.ResponseWriter, r *http.Request) {
	id, action := splitIDAction(r.URL.Path, "/tasks/")
	if id == "" {
		writeJSONError(w, http.StatusNotFound, "not found")
		return
	}
	switch {
	case action == "" && r.Method == http.MethodGet:
		task, err := a.Store.GetTask(r.Context(), id)
		if err != nil {
			writeStoreError(w, err)
			return
		}
		writeJSON(w, task)
	case action == "cancel" && r.Method == http.MethodPost:
		if err := a.Store.CancelTask(r.Context(), id); err != nil {
			writeStoreError(w, err)
			return
		}
		otel.RecordTaskOp(r.Context(), "cancel", "", models.StatusCancelled)
		a.Hub.PublishJSON(map[string]any{"type": "task_update", "task_id": id, "status": models.StatusCancelled})
		writeJSON(w, map[string]any{"ok": true})
	default:
		writeJSONError(w, http.StatusMethodNotAllowed, "method not allowed")
	}
}

// --- Agents ---

func (a *App) handleAgents(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		agents, err := a.Store.ListAgents(r.Context(), r.URL.Query().Get("workspace"))
		if err != nil {
			writeJSONError(w, http.StatusInternalServerError, err.Error())
			return
		}
		writeJSON(w, agents)
	case http.MethodPost:
		var body models.Agent
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
			writeJSONError(w, http.StatusBadRequest, "invalid json")
			return
		}
		if body.WorkspaceID == "" || body.Name == "" || body.Model == "" {
			writeJSONError(w, http.StatusBadRequest, "workspace_id, name, and model required")
			return
		}
		agent, err := a.Store.CreateAgent(r.Context(), body)
		if err != nil {
			writeJSONError(w, http.StatusBadRequest, err.Error())
			return
		}
		writeJSON(w, agent)
	default:
		writeJSONError(w, http.StatusMethodNotAllowed, "method not allowed")
	}
}

// --- Teams ---

func (a *App) handleTeams(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		teams, err := a.Store.ListTeams(r.Context(), r.URL.Query().Get("workspace"))
		if err != nil {
			writeJSONError(w, http.StatusInternalServerError, err.Error())
			return
		}
		writeJSON(w, teams)
	case http.MethodPost:
		var body models.Team
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
			writeJSONError(w, http.StatusBadRequest, "invalid json")
			return
		}
		if body.WorkspaceID == "" || body.Name == "" {
			writeJSONError(w, http.StatusBadRequest, "workspace_id and name required")
			return
		}
		if err := validateTeam(&body); err != nil {
			writeJSONError(w, http.StatusBadRequest, err.Error())
			return
		}
		team, err := a.Store.CreateTeam(r.Context(), body)
		if err != nil {
			writeJSONError(w, http.StatusBadRequest, err.Error())
			return
		}
		writeJSON(w, team)
	default:
		writeJSONError(w, http.StatusMethodNotAllowed, "method not allowed")
	}
}

func (a *App) handleTeamByID(w http.ResponseWriter, r *http.Request) {
	id, action := splitIDAction(r.URL.Path, "/teams/")
	if id == "" {
		writeJSONError(w, http.StatusNotFound, "not found")
		return
	}
	switch {
	case action == "" && r.Method == http.MethodGet:
		team, err := a.Store.GetTeam(r.Context(), id)
		if err != nil {
			writeStoreError(w, err)
			return
		}
		writeJSON(w, team)
	case action == "runs" && r.Method == http.MethodPost:
		var body struct {
			InputTask string `json:"input_task"`
		}
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
			writeJSONError(w, http.StatusBadRequest, "invalid json")
			return
		}
		if body.InputTask == "" {
			writeJSONError(w, http.StatusBadRequest, "input_task required")
			return
		}
		team, err := a.Store.GetTeam(r.Context(), id)
		if err != nil {
			writeStoreError(w, err)
			return
		}
		run, err := a.Store.CreateTeamRun(r.Context(), models.TeamRun{
			TeamID:      team.ID,
			WorkspaceID: team.WorkspaceID,
			InputTask:   body.InputTask,
		})
		if err != nil {
			writeJSONError(w, http.StatusBadRequest, err.Error())
			return
		}
		otel.RecordRunOp(r.Context(), "create", team.Mode, run.Status)
		a.Hub.PublishJSON(map[string]any{"type": "run_update", "run_id": run.ID, "status": run.Status})
		writeJSON(w, run)
	default:
		writeJSONError(w, http.StatusMethodNotAllowed, "method not allowed")
	}
}

// validateTeam rejects mode/config mismatches at creation time so the
// executors never see a malformed team.
func validateTeam(t *models.Team) error {
	switch t.Mode {
	case models.ModePipeline:
		if t.Config.Pipeline == nil || len(t.Config.Pipeline.Steps) == 0 {
			return errors.New("pipeline mode requires config.pipeline with steps")
		}
	case models.ModeOrchestrator:
		cfg := t.Config.Orchestrator
		if cfg == nil || cfg.BrainAgentID == "" || len(cfg.WorkerAgentIDs) == 0 {
			return errors.New("orchestrator mode requires config.orchestrator with brain_agent_id and worker_agent_ids")
		}
	case models.ModeCollaboration:
		cfg := t.Config.Collaboration
		if cfg == nil || len(cfg.AgentIDs) < 2 {
			return errors.New("collaboration mode requires config.collaboration with at least two agent_ids")
		}
		if cfg.SpeakerSelection == models.SpeakerFacilitator && cfg.FacilitatorAgentID == "" {
			return errors.New("facilitator speaker selection requires facilitator_agent_id")
		}
	default:
		return errors.New("mode must be pipeline, orchestrator, or collaboration")
	}
	return nil
}

// --- Runs ---

func (a *App) handleRuns(w http.ResponseWriter, r *http.Request) {
	writeJSONError(w, http.StatusMethodNotAllowed, "create runs via POST /teams/{id}/runs")
}

func (a *App) handleRunByID(w http.ResponseWriter, r *http.Request) {
	id, action := splitIDAction(r.URL.Path, "/runs/")
	if id == "" {
		writeJSONError(w, http.StatusNotFound, "not found")
		return
	}
	switch {
	case action == "" && r.Method == http.MethodGet:
		run, err := a.Store.GetTeamRun(r.Context(), id)
		if err != nil {
			writeStoreError(w, err)
			return
		}
		writeJSON(w, run)
	case action == "messages" && r.Method == http.MethodGet:
		msgs, err := a.Store.ListTeamMessages(r.Context(), id, queryLimit(r, 500))
		if err != nil {
			writeStoreError(w, err)
			return
		}
		writeJSON(w, msgs)
	case action == "delegations" && r.Method == http.MethodGet:
		dels, err := a.Store.ListDelegations(r.Context(), id)
		if err != nil {
			writeStoreError(w, err)
			return
		}
		writeJSON(w, dels)
	case action == "cancel" && r.Method == http.MethodPost:
		if err := a.Store.CancelTeamRun(r.Context(), id); err != nil {
			writeStoreError(w, err)
			return
		}
		a.Hub.PublishJSON(map[string]any{"type": "run_update", "run_id": id, "status": models.StatusCancelled})
		writeJSON(w, map[string]any{"ok": true})
	default:
		writeJSONError(w, http.StatusMethodNotAllowed, "method not allowed")
	}
}

// --- Runners ---

func (a *App) handleRunners(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeJSONError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	runners, err := a.Store.ListRunners(r.Context())
	if err != nil {
		writeJSONError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, runners)
}

// --- Credentials ---

func (a *App) handleCredentials(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeJSONError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	if a.Credentials == nil {
		writeJSONError(w, http.StatusServiceUnavailable, "credential encryption is not configured (set CREWFORM_MASTER_KEY)")
		return
	}
	var body struct {
		WorkspaceID string `json:"workspace_id"`
		Provider    string `json:"provider"`
		APIKey      string `json:"api_key"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeJSONError(w, http.StatusBadRequest, "invalid json")
		return
	}
	if body.WorkspaceID == "" || body.Provider == "" || body.APIKey == "" {
		writeJSONError(w, http.StatusBadRequest, "workspace_id, provider, and api_key required")
		return
	}
	if err := a.Credentials.Put(r.Context(), body.WorkspaceID, body.Provider, body.APIKey); err != nil {
		writeJSONError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, map[string]any{"ok": true})
}

// --- Custom tools ---

func (a *App) handleCustomTools(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeJSONError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	var body models.CustomTool
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeJSONError(w, http.StatusBadRequest, "invalid json")
		return
	}
	if body.WorkspaceID == "" || body.Name == "" || body.WebhookURL == "" {
		writeJSONError(w, http.StatusBadRequest, "workspace_id, name, and webhook_url required")
		return
	}
	if body.ID == "" {
		body.ID = strings.ToLower(strings.ReplaceAll(body.Name, " ", "-"))
	}
	if err := a.Store.PutCustomTool(r.Context(), body); err != nil {
		writeJSONError(w, http.StatusBadRequest, err.Error())
		return
	}
	writeJSON(w, body)
}

// --- helpers ---

// splitIDAction parses "<prefix>{id}" and "<prefix>{id}/{action}" paths.
func splitIDAction(path, prefix string) (id, action string) {
	rest := strings.TrimPrefix(path, prefix)
	parts := strings.SplitN(strings.Trim(rest, "/"), "/", 2)
	id = parts[0]
	if len(parts) == 2 {
		action = parts[1]
	}
	return id, action
}

func queryLimit(r *http.Request, max int) int {
	limit := 0
	if l := r.URL.Query().Get("limit"); l != "" {
		if n, err := strconv.Atoi(l); err == nil && n > 0 {
			limit = n
		}
	}
	if limit <= 0 || limit > max {
		limit = max
	}
	return limit
}

func writeStoreError(w http.ResponseWriter, err error) {
	if errors.Is(err, store.ErrNotFound) {
		writeJSONError(w, http.StatusNotFound, "not found")
		return
	}
	writeJSONError(w, http.StatusInternalServerError, err.Error())
}

type responseRecorder struct {
	http.ResponseWriter
	status int
}

func (r *responseRecorder) WriteHeader(code int) {
	r.status = code
	r.ResponseWriter.WriteHeader(code)
}

func (r *responseRecorder) Flush() {
	if f, ok := r.ResponseWriter.(http.Flusher); ok {
		f.Flush()
	}
}

func apiKeyMiddleware(apiKey string, next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		path := r.URL.Path
		if path == "/health" || path == "/metrics" {
			next.ServeHTTP(w, r)
			return
		}
		key := r.Header.Get("X-API-Key")
		if key == "" {
			key = r.URL.Query().Get("api_key")
		}
		if key != apiKey {
			writeJSONError(w, http.StatusUnauthorized, "invalid or missing API key")
			return
		}
		next.ServeHTTP(w, r)
	})
}

func requestLogMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
		start := time.Now()
		rec := &responseRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(rec, req)
		slog.Info("request",
			"method", req.Method,
			"path", req.URL.Path,
			"status", rec.status,
			"duration_ms", time.Since(start).Milliseconds())
	})
}

func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	enc := json.NewEncoder(w)
	enc.SetEscapeHTML(false)
	_ = enc.Encode(v)
}

// writeJSONError sends a JSON body {"error": "message"} with the given status code.
func writeJSONError(w http.ResponseWriter, code int, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(map[string]any{"error": message})
}
