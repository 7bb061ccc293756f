package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"

	"github.com/vincentgrobler/crewform-sub000/pkg/models"
)

// Config is the runner configuration, loaded from <home>/config.yaml when it
// exists. Zero values fall back to the package defaults; environment
// variables override file values for the fields noted below.
type Config struct {
	InstanceName   string `yaml:"instance_name"`
	Addr           string `yaml:"addr"`
	APIKey         string `yaml:"api_key"` // also CREWFORM_API_KEY
	DBDriver       string `yaml:"db_driver"`
	DBURL          string `yaml:"db_url"` // also DATABASE_URL
	MaxConcurrency int    `yaml:"max_concurrency"`
	PollIntervalS  int    `yaml:"poll_interval_seconds"`
	WebhookURL     string `yaml:"webhook_url"`
	SandboxURL     string `yaml:"sandbox_url"`
	FilesDir       string `yaml:"files_dir"`
	MasterKey      string `yaml:"-"` // CREWFORM_MASTER_KEY only; never read from file
}

// Load reads <home>/config.yaml, applies defaults, and layers env overrides.
// A missing file is not an error.
func Load(home string) (*Config, error) {
	cfg := &Config{}
	path := filepath.Join(home, "config.yaml")
	b, err := os.ReadFile(path)
	switch {
	case errors.Is(err, os.ErrNotExist):
	case err != nil:
		return nil, fmt.Errorf("read config %s: %w", path, err)
	default:
		if err := yaml.Unmarshal(b, cfg); err != nil {
			return nil, fmt.Errorf("parse config %s: %w", path, err)
		}
	}

	if v := os.Getenv("CREWFORM_API_KEY"); v != "" {
		cfg.APIKey = v
	}
	if v := os.Getenv("DATABASE_URL"); v != "" && cfg.DBURL == "" {
		cfg.DBURL = v
	}
	cfg.MasterKey = os.Getenv("CREWFORM_MASTER_KEY")

	if cfg.Addr == "" {
		cfg.Addr = "127.0.0.1:7333"
	}
	if cfg.DBDriver == "" {
		cfg.DBDriver = "sqlite"
	}
	if cfg.MaxConcurrency <= 0 {
		cfg.MaxConcurrency = models.DefaultMaxConcurrency
	}
	if cfg.PollIntervalS <= 0 {
		cfg.PollIntervalS = models.DefaultPollInterval
	}
	if cfg.FilesDir == "" {
		cfg.FilesDir = filepath.Join(home, "files")
	}
	return cfg, nil
}
