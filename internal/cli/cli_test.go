package cli

import (
	"bytes"
	"context"
	"testing"
)

func execute(t *testing.T, args ...string) (string, error) {
	t.Helper()
	root := NewRootCmd("test")
	var out bytes.Buffer
	root.SetOut(&out)
	root.SetErr(&out)
	root.SetArgs(args)
	err := root.ExecuteContext(context.Background())
	return out.String(), err
}

func TestRootCmd_hasSubcommands(t *testing.T) {
	t.Parallel()
	root := NewRootCmd("test")
	want := []string{"start", "stop", "status", "task", "agent", "team", "run", "runner", "credential", "tool", "doctor"}
	for _, name := range want {
		found := false
		for _, c := range root.Commands() {
			if c.Name() == name {
				found = true
				break
			}
		}
		if !found {
			t.Errorf("missing subcommand %q", name)
		}
	}
}

func TestTaskAdd_requiresFlags(t *testing.T) {
	home := t.TempDir()
	_, err := execute(t, "--home", home, "task", "add")
	if err == nil {
		t.Fatal("expected error without --workspace and --title")
	}
}

func TestTaskAddAndList(t *testing.T) {
	home := t.TempDir()
	out, err := execute(t, "--home", home, "task", "add", "--workspace", "ws1", "--title", "summarize report")
	if err != nil {
		t.Fatalf("task add: %v", err)
	}
	if !bytes.Contains([]byte(out), []byte("Queued task")) {
		t.Errorf("unexpected output: %q", out)
	}

	out, err = execute(t, "--home", home, "task", "list", "--workspace", "ws1")
	if err != nil {
		t.Fatalf("task list: %v", err)
	}
	if !bytes.Contains([]byte(out), []byte("summarize report")) {
		t.Errorf("task list missing task: %q", out)
	}
}

func TestTeamAdd_rejectsUnknownMode(t *testing.T) {
	home := t.TempDir()
	_, err := execute(t, "--home", home, "team", "add",
		"--workspace", "ws1", "--name", "t", "--mode", "swarm", "--config", "{}")
	if err == nil {
		t.Fatal("expected error for unknown mode")
	}
}

func TestTeamAddAndRun(t *testing.T) {
	home := t.TempDir()
	cfg := `{"steps":[{"agent_id":"a1","step_name":"draft"}]}`
	out, err := execute(t, "--home", home, "team", "add",
		"--workspace", "ws1", "--name", "writers", "--mode", "pipeline", "--config", cfg)
	if err != nil {
		t.Fatalf("team add: %v", err)
	}
	if !bytes.Contains([]byte(out), []byte("Created team")) {
		t.Errorf("unexpected output: %q", out)
	}

	out, err = execute(t, "--home", home, "team", "list", "--workspace", "ws1")
	if err != nil {
		t.Fatalf("team list: %v", err)
	}
	if !bytes.Contains([]byte(out), []byte("writers (pipeline)")) {
		t.Errorf("team list missing team: %q", out)
	}
}

func TestRunnerList_empty(t *testing.T) {
	home := t.TempDir()
	out, err := execute(t, "--home", home, "runner", "list")
	if err != nil {
		t.Fatalf("runner list: %v", err)
	}
	if !bytes.Contains([]byte(out), []byte("No runners.")) {
		t.Errorf("unexpected output: %q", out)
	}
}

func TestStatus_notRunning(t *testing.T) {
	home := t.TempDir()
	out, err := execute(t, "--home", home, "status")
	if err != nil {
		t.Fatalf("status: %v", err)
	}
	if !bytes.Contains([]byte(out), []byte("not running")) {
		t.Errorf("unexpected output: %q", out)
	}
}
