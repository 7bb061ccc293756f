package config

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/vincentgrobler/crewform-sub000/pkg/models"
)

func TestLoad_defaultsWithoutFile(t *testing.T) {
	cfg, err := Load(t.TempDir())
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Addr != "127.0.0.1:7333" {
		t.Errorf("addr = %q", cfg.Addr)
	}
	if cfg.DBDriver != "sqlite" {
		t.Errorf("db driver = %q", cfg.DBDriver)
	}
	if cfg.MaxConcurrency != models.DefaultMaxConcurrency {
		t.Errorf("max concurrency = %d", cfg.MaxConcurrency)
	}
	if cfg.PollIntervalS != models.DefaultPollInterval {
		t.Errorf("poll interval = %d", cfg.PollIntervalS)
	}
}

func TestLoad_fileValues(t *testing.T) {
	home := t.TempDir()
	content := `
instance_name: worker-eu-1
addr: "0.0.0.0:9000"
db_driver: postgres
db_url: postgres://localhost/crewform
max_concurrency: 8
poll_interval_seconds: 2
webhook_url: https://hooks.example.com/crewform
`
	if err := os.WriteFile(filepath.Join(home, "config.yaml"), []byte(content), 0o600); err != nil {
		t.Fatal(err)
	}
	cfg, err := Load(home)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.InstanceName != "worker-eu-1" || cfg.Addr != "0.0.0.0:9000" {
		t.Errorf("cfg = %+v", cfg)
	}
	if cfg.DBDriver != "postgres" || cfg.DBURL != "postgres://localhost/crewform" {
		t.Errorf("db cfg = %+v", cfg)
	}
	if cfg.MaxConcurrency != 8 || cfg.PollIntervalS != 2 {
		t.Errorf("tuning cfg = %+v", cfg)
	}
	if cfg.FilesDir != filepath.Join(home, "files") {
		t.Errorf("files dir = %q", cfg.FilesDir)
	}
}

func TestLoad_envOverrides(t *testing.T) {
	t.Setenv("CREWFORM_API_KEY", "env-key")
	t.Setenv("CREWFORM_MASTER_KEY", "env-master")
	t.Setenv("DATABASE_URL", "postgres://env/db")

	home := t.TempDir()
	if err := os.WriteFile(filepath.Join(home, "config.yaml"), []byte("api_key: file-key\n"), 0o600); err != nil {
		t.Fatal(err)
	}
	cfg, err := Load(home)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.APIKey != "env-key" {
		t.Errorf("api key = %q, env must win over file", cfg.APIKey)
	}
	if cfg.MasterKey != "env-master" {
		t.Errorf("master key = %q", cfg.MasterKey)
	}
	if cfg.DBURL != "postgres://env/db" {
		t.Errorf("db url = %q", cfg.DBURL)
	}
}

func TestLoad_fileDBURLWinsOverEnv(t *testing.T) {
	t.Setenv("DATABASE_URL", "postgres://env/db")
	home := t.TempDir()
	if err := os.WriteFile(filepath.Join(home, "config.yaml"), []byte("db_url: postgres://file/db\n"), 0o600); err != nil {
		t.Fatal(err)
	}
	cfg, err := Load(home)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.DBURL != "postgres://file/db" {
		t.Errorf("db url = %q", cfg.DBURL)
	}
}

func TestLoad_masterKeyNeverFromFile(t *testing.T) {
	t.Setenv("CREWFORM_MASTER_KEY", "")
	home := t.TempDir()
	if err := os.WriteFile(filepath.Join(home, "config.yaml"), []byte("masterkey: sneaky\nmaster_key: sneaky\n"), 0o600); err != nil {
		t.Fatal(err)
	}
	cfg, err := Load(home)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.MasterKey != "" {
		t.Errorf("master key = %q, must only come from the environment", cfg.MasterKey)
	}
}

func TestLoad_badYAML(t *testing.T) {
	home := t.TempDir()
	if err := os.WriteFile(filepath.Join(home, "config.yaml"), []byte("addr: [unclosed"), 0o600); err != nil {
		t.Fatal(err)
	}
	if _, err := Load(home); err == nil {
		t.Fatal("expected parse error")
	}
}

func TestResolveHome(t *testing.T) {
	if got, err := ResolveHome("/tmp/custom"); err != nil || got != "/tmp/custom" {
		t.Errorf("override: %q, %v", got, err)
	}

	t.Setenv("CREWFORM_HOME", "/tmp/from-env")
	if got, err := ResolveHome(""); err != nil || got != "/tmp/from-env" {
		t.Errorf("env: %q, %v", got, err)
	}

	t.Setenv("CREWFORM_HOME", "")
	got, err := ResolveHome("")
	if err != nil {
		t.Fatalf("default: %v", err)
	}
	if filepath.Base(got) != ".crewform" {
		t.Errorf("default home = %q", got)
	}
}

func TestHomeContext(t *testing.T) {
	t.Parallel()
	ctx := WithHome(context.Background(), "/tmp/h")
	if got, ok := HomeFrom(ctx); !ok || got != "/tmp/h" {
		t.Errorf("got %q, %v", got, ok)
	}
	if got := MustHomeFrom(ctx); got != "/tmp/h" {
		t.Errorf("got %q", got)
	}
	if _, ok := HomeFrom(context.Background()); ok {
		t.Error("empty context should not carry a home")
	}
	defer func() {
		if recover() == nil {
			t.Error("MustHomeFrom should panic without a home")
		}
	}()
	MustHomeFrom(context.Background())
}
