package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/harrison/kaizen/internal/memory"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatalf("failed to write test config: %v", err)
	}
	return path
}

// TestDefaultConfig verifies default configuration values
func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()

	if cfg.LogLevel != "info" {
		t.Errorf("LogLevel = %q, want %q", cfg.LogLevel, "info")
	}
	if cfg.LogDir != "logs" {
		t.Errorf("LogDir = %q, want %q", cfg.LogDir, "logs")
	}
	if cfg.Memory.Backend != memory.BackendSQLite {
		t.Errorf("Memory.Backend = %q, want sqlite", cfg.Memory.Backend)
	}
	if cfg.Learning.HistoryLimit != 500 || !cfg.Learning.WarmStart {
		t.Errorf("Learning = %+v, want history 500 with warm start", cfg.Learning)
	}
	if !cfg.Recovery.Enabled || cfg.Recovery.MinStrategyTimeout != 0 {
		t.Errorf("Recovery = %+v, want enabled without a timeout floor", cfg.Recovery)
	}
	if cfg.Planner.RiskTolerance != 0.5 {
		t.Errorf("Planner.RiskTolerance = %v, want 0.5", cfg.Planner.RiskTolerance)
	}
	if len(cfg.Executors) != 1 || cfg.Executors[0].ID != "shell" {
		t.Errorf("Executors = %+v, want the shell executor", cfg.Executors)
	}
	if err := cfg.Validate(); err != nil {
		t.Errorf("default config should validate: %v", err)
	}
}

// TestLoadConfigValidFile tests loading a config file that sets every section
func TestLoadConfigValidFile(t *testing.T) {
	path := writeConfig(t, `log_level: debug
log_dir: /tmp/kaizen-logs
memory:
  backend: semantic
  path: /tmp/kaizen-memory
  compress: true
learning:
  history_limit: 50
  warm_start: false
recovery:
  enabled: false
  primary_limit: 2
  min_strategy_timeout: 30s
planner:
  candidate_limit: 2
  risk_tolerance: 0.2
  time_budget: 2h
pdca:
  max_follow_ups: 3
executors:
  - id: fast
    command: ./fast.sh
    args: ["--task", "{{task}}"]
    env: ["MODE=fast"]
    success_rate: 0.9
    rate_per_minute: 30
    timeout: 5m
  - id: careful
    kind: process
    command: ./careful.sh
`)

	cfg, err := LoadConfig(path)
	if err != nil {
		t.Fatalf("LoadConfig() error = %v", err)
	}

	if cfg.LogLevel != "debug" || cfg.LogDir != "/tmp/kaizen-logs" {
		t.Errorf("log settings = %q %q", cfg.LogLevel, cfg.LogDir)
	}
	want := memory.Config{Backend: memory.BackendSemantic, Path: "/tmp/kaizen-memory", Compress: true}
	if cfg.Memory != want {
		t.Errorf("Memory = %+v, want %+v", cfg.Memory, want)
	}
	if cfg.Learning.HistoryLimit != 50 || cfg.Learning.WarmStart {
		t.Errorf("Learning = %+v", cfg.Learning)
	}
	if cfg.Recovery.Enabled || cfg.Recovery.PrimaryLimit != 2 || cfg.Recovery.MinStrategyTimeout != 30*time.Second {
		t.Errorf("Recovery = %+v", cfg.Recovery)
	}
	if cfg.Planner.CandidateLimit != 2 || cfg.Planner.RiskTolerance != 0.2 || cfg.Planner.TimeBudget != 2*time.Hour {
		t.Errorf("Planner = %+v", cfg.Planner)
	}
	if cfg.PDCA.MaxFollowUps != 3 {
		t.Errorf("PDCA.MaxFollowUps = %d, want 3", cfg.PDCA.MaxFollowUps)
	}

	if len(cfg.Executors) != 2 {
		t.Fatalf("len(Executors) = %d, want 2", len(cfg.Executors))
	}
	fast := cfg.Executors[0]
	if fast.Kind != ExecutorKindProcess || fast.SuccessRate != 0.9 || fast.RatePerMinute != 30 || fast.Timeout != 5*time.Minute {
		t.Errorf("fast executor = %+v", fast)
	}
	if len(fast.Args) != 2 || fast.Args[1] != "{{task}}" || fast.Env[0] != "MODE=fast" {
		t.Errorf("fast executor args/env = %v %v", fast.Args, fast.Env)
	}
	if cfg.Executors[1].SuccessRate != 0.5 {
		t.Errorf("careful executor success rate = %v, want default 0.5", cfg.Executors[1].SuccessRate)
	}
	if err := cfg.Validate(); err != nil {
		t.Errorf("Validate() error = %v", err)
	}
}

// TestLoadConfigPartialValues tests that keys absent from a section keep their defaults
func TestLoadConfigPartialValues(t *testing.T) {
	path := writeConfig(t, `log_level: warn
recovery:
  primary_limit: 1
`)

	cfg, err := LoadConfig(path)
	if err != nil {
		t.Fatalf("LoadConfig() error = %v", err)
	}

	if cfg.LogLevel != "warn" {
		t.Errorf("LogLevel = %q, want warn", cfg.LogLevel)
	}
	if cfg.Recovery.PrimaryLimit != 1 {
		t.Errorf("Recovery.PrimaryLimit = %d, want 1", cfg.Recovery.PrimaryLimit)
	}
	if !cfg.Recovery.Enabled {
		t.Error("Recovery.Enabled should keep its default")
	}
	if cfg.Recovery.MinStrategyTimeout != 0 {
		t.Errorf("Recovery.MinStrategyTimeout = %v, want default 0", cfg.Recovery.MinStrategyTimeout)
	}
	if cfg.LogDir != "logs" || len(cfg.Executors) != 1 {
		t.Errorf("unset values should keep defaults, got %q and %d executors", cfg.LogDir, len(cfg.Executors))
	}
}

func TestLoadConfigEmptyExecutorList(t *testing.T) {
	cfg, err := LoadConfig(writeConfig(t, "executors: []\n"))
	if err != nil {
		t.Fatalf("LoadConfig() error = %v", err)
	}
	if len(cfg.Executors) != 0 {
		t.Errorf("an explicit empty list replaces the defaults, got %+v", cfg.Executors)
	}
}

// TestLoadConfigFileNotExists tests fallback to defaults when file doesn't exist
func TestLoadConfigFileNotExists(t *testing.T) {
	cfg, err := LoadConfig("/nonexistent/path/config.yaml")
	if err != nil {
		t.Fatalf("LoadConfig() should not error on missing file, got: %v", err)
	}
	if cfg.LogLevel != "info" {
		t.Errorf("LogLevel = %q, want %q (default)", cfg.LogLevel, "info")
	}
}

func TestLoadConfigErrors(t *testing.T) {
	tests := []struct {
		name    string
		content string
		wantErr string
	}{
		{"invalid yaml", "log_level: [this is not valid\n", "failed to parse config file"},
		{"bad strategy timeout", "recovery:\n  min_strategy_timeout: soon\n", "recovery.min_strategy_timeout"},
		{"bad time budget", "planner:\n  time_budget: 5 hours\n", "planner.time_budget"},
		{"bad executor timeout", "executors:\n  - id: a\n    command: a\n    timeout: x\n", "executors[0].timeout"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := LoadConfig(writeConfig(t, tt.content))
			if err == nil {
				t.Fatal("expected error, got nil")
			}
			if !strings.Contains(err.Error(), tt.wantErr) {
				t.Errorf("error %q should mention %q", err, tt.wantErr)
			}
		})
	}
}

// TestEmptyConfigFile tests that an empty file yields defaults
func TestEmptyConfigFile(t *testing.T) {
	cfg, err := LoadConfig(writeConfig(t, "# only a comment\n"))
	if err != nil {
		t.Fatalf("LoadConfig() error = %v", err)
	}
	if cfg.Learning.HistoryLimit != 500 {
		t.Errorf("Learning.HistoryLimit = %d, want default 500", cfg.Learning.HistoryLimit)
	}
}

// TestLoadConfigFromDir tests loading config from .kaizen/config.yaml
func TestLoadConfigFromDir(t *testing.T) {
	dir := t.TempDir()
	if err := os.MkdirAll(filepath.Join(dir, DirName), 0755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(dir, DirName, "config.yaml"), []byte("log_level: error\n"), 0644); err != nil {
		t.Fatal(err)
	}

	cfg, err := LoadConfigFromDir(dir)
	if err != nil {
		t.Fatalf("LoadConfigFromDir() error = %v", err)
	}
	if cfg.LogLevel != "error" {
		t.Errorf("LogLevel = %q, want error", cfg.LogLevel)
	}

	cfg, err = LoadConfigFromDir(t.TempDir())
	if err != nil {
		t.Fatalf("LoadConfigFromDir() should not error on missing config, got: %v", err)
	}
	if cfg.LogLevel != "info" {
		t.Errorf("LogLevel = %q, want default info", cfg.LogLevel)
	}
}

// TestMergeWithFlags tests CLI flag precedence over config values
func TestMergeWithFlags(t *testing.T) {
	cfg := DefaultConfig()

	level, dir, backend, limit := "debug", "/custom/logs", memory.BackendFile, 10
	cfg.MergeWithFlags(&level, &dir, &backend, &limit)

	if cfg.LogLevel != "debug" || cfg.LogDir != "/custom/logs" || cfg.Memory.Backend != memory.BackendFile || cfg.Learning.HistoryLimit != 10 {
		t.Errorf("flags not applied: %+v", cfg)
	}

	cfg.MergeWithFlags(nil, nil, nil, nil)
	if cfg.LogLevel != "debug" || cfg.Learning.HistoryLimit != 10 {
		t.Error("nil flags must not change the config")
	}
}

func TestConfigValidation(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(c *Config)
		wantErr string
	}{
		{"valid", func(c *Config) {}, ""},
		{"uppercase level", func(c *Config) { c.LogLevel = "INFO" }, "log_level"},
		{"unknown backend", func(c *Config) { c.Memory.Backend = "redis" }, "memory.backend"},
		{"negative history", func(c *Config) { c.Learning.HistoryLimit = -1 }, "learning.history_limit"},
		{"negative primary limit", func(c *Config) { c.Recovery.PrimaryLimit = -1 }, "recovery.primary_limit"},
		{"negative strategy timeout", func(c *Config) { c.Recovery.MinStrategyTimeout = -time.Second }, "recovery.min_strategy_timeout"},
		{"negative candidates", func(c *Config) { c.Planner.CandidateLimit = -2 }, "planner.candidate_limit"},
		{"risk above one", func(c *Config) { c.Planner.RiskTolerance = 1.5 }, "planner.risk_tolerance"},
		{"negative budget", func(c *Config) { c.Planner.TimeBudget = -time.Hour }, "planner.time_budget"},
		{"negative follow-ups", func(c *Config) { c.PDCA.MaxFollowUps = -1 }, "pdca.max_follow_ups"},
		{"empty executor id", func(c *Config) { c.Executors[0].ID = "" }, "id cannot be empty"},
		{"duplicate executor", func(c *Config) { c.Executors = append(c.Executors, c.Executors[0]) }, "duplicate id"},
		{"unknown kind", func(c *Config) { c.Executors[0].Kind = "http" }, "unknown kind"},
		{"missing command", func(c *Config) { c.Executors[0].Command = "" }, "command cannot be empty"},
		{"rate above one", func(c *Config) { c.Executors[0].SuccessRate = 1.2 }, "success_rate"},
		{"negative rate limit", func(c *Config) { c.Executors[0].RatePerMinute = -1 }, "rate_per_minute"},
		{"negative timeout", func(c *Config) { c.Executors[0].Timeout = -time.Second }, "timeout must be"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultConfig()
			tt.mutate(cfg)
			err := cfg.Validate()
			if tt.wantErr == "" {
				if err != nil {
					t.Errorf("Validate() unexpected error: %v", err)
				}
				return
			}
			if err == nil || !strings.Contains(err.Error(), tt.wantErr) {
				t.Errorf("Validate() error = %v, want mention of %q", err, tt.wantErr)
			}
		})
	}
}
