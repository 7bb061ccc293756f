package client

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/vincentgrobler/crewform-sub000/pkg/models"
)

func TestCreateTask_sendsBodyAndAPIKey(t *testing.T) {
	t.Parallel()
	var gotKey, gotPath string
	var gotBody map[string]any
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotKey = r.Header.Get("X-API-Key")
		gotPath = r.URL.Path
		_ = json.NewDecoder(r.Body).Decode(&gotBody)
		_ = json.NewEncoder(w).Encode(models.Task{ID: "t1", Title: "demo", Status: "pending"})
	}))
	defer srv.Close()

	c := New(srv.URL, "secret")
	task, err := c.CreateTask(context.Background(), CreateTaskRequest{WorkspaceID: "ws1", Title: "demo"})
	if err != nil {
		t.Fatalf("CreateTask: %v", err)
	}
	if task.ID != "t1" {
		t.Errorf("task ID = %q, want t1", task.ID)
	}
	if gotKey != "secret" {
		t.Errorf("X-API-Key = %q, want secret", gotKey)
	}
	if gotPath != "/tasks" {
		t.Errorf("path = %q, want /tasks", gotPath)
	}
	if gotBody["workspace_id"] != "ws1" {
		t.Errorf("body workspace_id = %v", gotBody["workspace_id"])
	}
}

func TestDoJSON_apiErrorMessage(t *testing.T) {
	t.Parallel()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
		_ = json.NewEncoder(w).Encode(map[string]string{"error": "workspace_id and title required"})
	}))
	defer srv.Close()

	c := New(srv.URL, "")
	_, err := c.CreateTask(context.Background(), CreateTaskRequest{})
	if err == nil {
		t.Fatal("expected error")
	}
	want := "api POST /tasks: workspace_id and title required"
	if err.Error() != want {
		t.Errorf("error = %q, want %q", err.Error(), want)
	}
}

func TestRunTeam_pathAndBody(t *testing.T) {
	t.Parallel()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/teams/team-9/runs" {
			t.Errorf("path = %q", r.URL.Path)
		}
		var body map[string]string
		_ = json.NewDecoder(r.Body).Decode(&body)
		if body["input_task"] != "write a poem" {
			t.Errorf("input_task = %q", body["input_task"])
		}
		_ = json.NewEncoder(w).Encode(models.TeamRun{ID: "run-1", TeamID: "team-9", Status: "pending"})
	}))
	defer srv.Close()

	c := New(srv.URL, "")
	run, err := c.RunTeam(context.Background(), "team-9", "write a poem")
	if err != nil {
		t.Fatalf("RunTeam: %v", err)
	}
	if run.ID != "run-1" || run.Status != "pending" {
		t.Errorf("run = %+v", run)
	}
}

func TestCancelRun_noBody(t *testing.T) {
	t.Parallel()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			t.Errorf("method = %q", r.Method)
		}
		_ = json.NewEncoder(w).Encode(map[string]bool{"ok": true})
	}))
	defer srv.Close()

	c := New(srv.URL, "")
	if err := c.CancelRun(context.Background(), "run-1"); err != nil {
		t.Fatalf("CancelRun: %v", err)
	}
}
