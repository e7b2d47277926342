package config

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/harrison/kaizen/internal/memory"
)

// ExecutorKindProcess runs an external command per task.
const ExecutorKindProcess = "process"

// LearningConfig represents learning system configuration
type LearningConfig struct {
	// HistoryLimit is how many execution records the orchestrator keeps for
	// executor selection, warm-started from memory.
	HistoryLimit int `yaml:"history_limit"`

	// WarmStart loads previous executions from the memory store before a run
	WarmStart bool `yaml:"warm_start"`
}

// RecoveryConfig represents recovery engine configuration
type RecoveryConfig struct {
	// Enabled turns failure recovery on; disabled tasks fail on the first error
	Enabled bool `yaml:"enabled"`

	// PrimaryLimit is how many strategies the primary tier holds
	PrimaryLimit int `yaml:"primary_limit"`

	// MinStrategyTimeout is an opt-in floor under every strategy's estimated
	// time. Zero keeps the strategies' own timeouts.
	MinStrategyTimeout time.Duration `yaml:"min_strategy_timeout"`
}

// PlannerConfig represents planning configuration
type PlannerConfig struct {
	// CandidateLimit is how many ranked strategies produce candidate plans
	CandidateLimit int `yaml:"candidate_limit"`

	// RiskTolerance between 0 (avoid risk) and 1 (accept risk)
	RiskTolerance float64 `yaml:"risk_tolerance"`

	// TimeBudget caps plan duration (0 = no budget)
	TimeBudget time.Duration `yaml:"time_budget"`
}

// PDCAConfig represents improvement cycle configuration
type PDCAConfig struct {
	// MaxFollowUps is how many follow-up cycles a run executes after the first
	MaxFollowUps int `yaml:"max_follow_ups"`
}

// ExecutorConfig describes one executor in the pool
type ExecutorConfig struct {
	ID            string        `yaml:"id"`
	Kind          string        `yaml:"kind"`
	Command       string        `yaml:"command"`
	Args          []string      `yaml:"args"`
	Env           []string      `yaml:"env"`
	Dir           string        `yaml:"dir"`
	SuccessRate   float64       `yaml:"success_rate"`
	RatePerMinute int           `yaml:"rate_per_minute"`
	Timeout       time.Duration `yaml:"timeout"`
}

// Config represents kaizen configuration options
type Config struct {
	// LogLevel sets the logging verbosity (trace, debug, info, warn, error)
	LogLevel string `yaml:"log_level"`

	// LogDir is the directory where events.jsonl is written, relative to the
	// kaizen home unless absolute
	LogDir string `yaml:"log_dir"`

	Memory    memory.Config    `yaml:"memory"`
	Learning  LearningConfig   `yaml:"learning"`
	Recovery  RecoveryConfig   `yaml:"recovery"`
	Planner   PlannerConfig    `yaml:"planner"`
	PDCA      PDCAConfig       `yaml:"pdca"`
	Executors []ExecutorConfig `yaml:"executors"`
}

// DefaultConfig returns a Config with sensible default values
func DefaultConfig() *Config {
	return &Config{
		LogLevel: "info",
		LogDir:   "logs",
		Memory: memory.Config{
			Backend: memory.BackendSQLite,
		},
		Learning: LearningConfig{
			HistoryLimit: 500,
			WarmStart:    true,
		},
		Recovery: RecoveryConfig{
			Enabled:      true,
			PrimaryLimit: 5,
		},
		Planner: PlannerConfig{
			CandidateLimit: 3,
			RiskTolerance:  0.5,
		},
		PDCA: PDCAConfig{
			MaxFollowUps: 0,
		},
		Executors: []ExecutorConfig{
			{
				ID:          "shell",
				Kind:        ExecutorKindProcess,
				Command:     "sh",
				Args:        []string{"-c", "{{task}}"},
				SuccessRate: 0.5,
			},
		},
	}
}

// yamlExecutor mirrors ExecutorConfig with durations as strings.
type yamlExecutor struct {
	ID            string   `yaml:"id"`
	Kind          string   `yaml:"kind"`
	Command       string   `yaml:"command"`
	Args          []string `yaml:"args"`
	Env           []string `yaml:"env"`
	Dir           string   `yaml:"dir"`
	SuccessRate   float64  `yaml:"success_rate"`
	RatePerMinute int      `yaml:"rate_per_minute"`
	Timeout       string   `yaml:"timeout"`
}

// yamlConfig mirrors Config with durations as strings so "1m30s" parses.
type yamlConfig struct {
	LogLevel string         `yaml:"log_level"`
	LogDir   string         `yaml:"log_dir"`
	Memory   memory.Config  `yaml:"memory"`
	Learning LearningConfig `yaml:"learning"`
	Recovery struct {
		Enabled            bool   `yaml:"enabled"`
		PrimaryLimit       int    `yaml:"primary_limit"`
		MinStrategyTimeout string `yaml:"min_strategy_timeout"`
	} `yaml:"recovery"`
	Planner struct {
		CandidateLimit int     `yaml:"candidate_limit"`
		RiskTolerance  float64 `yaml:"risk_tolerance"`
		TimeBudget     string  `yaml:"time_budget"`
	} `yaml:"planner"`
	PDCA      PDCAConfig     `yaml:"pdca"`
	Executors []yamlExecutor `yaml:"executors"`
}

// LoadConfig loads configuration from the specified file path.
// If the file doesn't exist, returns default configuration without error.
// Keys present in the file override the defaults; absent keys keep them.
// An executors list replaces the default pool entirely.
func LoadConfig(path string) (*Config, error) {
	cfg := DefaultConfig()

	if _, err := os.Stat(path); os.IsNotExist(err) {
		return cfg, nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	var yc yamlConfig
	if err := yaml.Unmarshal(data, &yc); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}
	var raw map[string]interface{}
	if err := yaml.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}

	if yc.LogLevel != "" {
		cfg.LogLevel = yc.LogLevel
	}
	if yc.LogDir != "" {
		cfg.LogDir = yc.LogDir
	}

	if has(raw, "memory", "backend") {
		cfg.Memory.Backend = yc.Memory.Backend
	}
	if has(raw, "memory", "path") {
		cfg.Memory.Path = yc.Memory.Path
	}
	if has(raw, "memory", "compress") {
		cfg.Memory.Compress = yc.Memory.Compress
	}

	if has(raw, "learning", "history_limit") {
		cfg.Learning.HistoryLimit = yc.Learning.HistoryLimit
	}
	if has(raw, "learning", "warm_start") {
		cfg.Learning.WarmStart = yc.Learning.WarmStart
	}

	if has(raw, "recovery", "enabled") {
		cfg.Recovery.Enabled = yc.Recovery.Enabled
	}
	if has(raw, "recovery", "primary_limit") {
		cfg.Recovery.PrimaryLimit = yc.Recovery.PrimaryLimit
	}
	if has(raw, "recovery", "min_strategy_timeout") {
		d, err := parseDuration("recovery.min_strategy_timeout", yc.Recovery.MinStrategyTimeout)
		if err != nil {
			return nil, err
		}
		cfg.Recovery.MinStrategyTimeout = d
	}

	if has(raw, "planner", "candidate_limit") {
		cfg.Planner.CandidateLimit = yc.Planner.CandidateLimit
	}
	if has(raw, "planner", "risk_tolerance") {
		cfg.Planner.RiskTolerance = yc.Planner.RiskTolerance
	}
	if has(raw, "planner", "time_budget") {
		d, err := parseDuration("planner.time_budget", yc.Planner.TimeBudget)
		if err != nil {
			return nil, err
		}
		cfg.Planner.TimeBudget = d
	}

	if has(raw, "pdca", "max_follow_ups") {
		cfg.PDCA.MaxFollowUps = yc.PDCA.MaxFollowUps
	}

	if _, ok := raw["executors"]; ok {
		cfg.Executors = make([]ExecutorConfig, 0, len(yc.Executors))
		for i, e := range yc.Executors {
			timeout, err := parseDuration(fmt.Sprintf("executors[%d].timeout", i), e.Timeout)
			if err != nil {
				return nil, err
			}
			kind := e.Kind
			if kind == "" {
				kind = ExecutorKindProcess
			}
			rate := e.SuccessRate
			if rate == 0 {
				rate = 0.5
			}
			cfg.Executors = append(cfg.Executors, ExecutorConfig{
				ID:            e.ID,
				Kind:          kind,
				Command:       e.Command,
				Args:          e.Args,
				Env:           e.Env,
				Dir:           e.Dir,
				SuccessRate:   rate,
				RatePerMinute: e.RatePerMinute,
				Timeout:       timeout,
			})
		}
	}

	return cfg, nil
}

// has reports whether key is set inside section in the raw document.
func has(raw map[string]interface{}, section, key string) bool {
	m, ok := raw[section].(map[string]interface{})
	if !ok {
		return false
	}
	_, ok = m[key]
	return ok
}

// parseDuration accepts Go duration strings; empty means zero.
func parseDuration(field, s string) (time.Duration, error) {
	if s == "" {
		return 0, nil
	}
	d, err := time.ParseDuration(s)
	if err != nil {
		return 0, fmt.Errorf("invalid %s format %q: %w", field, s, err)
	}
	return d, nil
}

// LoadConfigFromDir loads configuration from .kaizen/config.yaml in the specified directory
// If the directory or file doesn't exist, returns default configuration without error
func LoadConfigFromDir(dir string) (*Config, error) {
	return LoadConfig(filepath.Join(dir, DirName, ConfigFile))
}

// MergeWithFlags merges CLI flags into the configuration
// Non-nil flag values override configuration values
func (c *Config) MergeWithFlags(logLevel, logDir, memoryBackend *string, historyLimit *int) {
	if logLevel != nil {
		c.LogLevel = *logLevel
	}
	if logDir != nil {
		c.LogDir = *logDir
	}
	if memoryBackend != nil {
		c.Memory.Backend = *memoryBackend
	}
	if historyLimit != nil {
		c.Learning.HistoryLimit = *historyLimit
	}
}

// Validate validates the configuration values
// Returns an error if any values are invalid
func (c *Config) Validate() error {
	validLevels := map[string]bool{
		"trace": true,
		"debug": true,
		"info":  true,
		"warn":  true,
		"error": true,
	}
	if !validLevels[c.LogLevel] {
		return fmt.Errorf("invalid log_level %q, must be one of: trace, debug, info, warn, error", c.LogLevel)
	}

	switch c.Memory.Backend {
	case "", memory.BackendSQLite, memory.BackendFile, memory.BackendSemantic:
	default:
		return fmt.Errorf("invalid memory.backend %q, must be one of: sqlite, file, semantic", c.Memory.Backend)
	}

	if c.Learning.HistoryLimit < 0 {
		return fmt.Errorf("learning.history_limit must be >= 0, got %d", c.Learning.HistoryLimit)
	}
	if c.Recovery.PrimaryLimit < 0 {
		return fmt.Errorf("recovery.primary_limit must be >= 0, got %d", c.Recovery.PrimaryLimit)
	}
	if c.Recovery.MinStrategyTimeout < 0 {
		return fmt.Errorf("recovery.min_strategy_timeout must be >= 0, got %v", c.Recovery.MinStrategyTimeout)
	}
	if c.Planner.CandidateLimit < 0 {
		return fmt.Errorf("planner.candidate_limit must be >= 0, got %d", c.Planner.CandidateLimit)
	}
	if c.Planner.RiskTolerance < 0 || c.Planner.RiskTolerance > 1 {
		return fmt.Errorf("planner.risk_tolerance must be between 0 and 1, got %v", c.Planner.RiskTolerance)
	}
	if c.Planner.TimeBudget < 0 {
		return fmt.Errorf("planner.time_budget must be >= 0, got %v", c.Planner.TimeBudget)
	}
	if c.PDCA.MaxFollowUps < 0 {
		return fmt.Errorf("pdca.max_follow_ups must be >= 0, got %d", c.PDCA.MaxFollowUps)
	}

	seen := make(map[string]bool, len(c.Executors))
	for i, e := range c.Executors {
		if e.ID == "" {
			return fmt.Errorf("executors[%d].id cannot be empty", i)
		}
		if seen[e.ID] {
			return fmt.Errorf("executors[%d]: duplicate id %q", i, e.ID)
		}
		seen[e.ID] = true
		if e.Kind != ExecutorKindProcess {
			return fmt.Errorf("executor %s: unknown kind %q", e.ID, e.Kind)
		}
		if e.Command == "" {
			return fmt.Errorf("executor %s: command cannot be empty", e.ID)
		}
		if e.SuccessRate < 0 || e.SuccessRate > 1 {
			return fmt.Errorf("executor %s: success_rate must be between 0 and 1, got %v", e.ID, e.SuccessRate)
		}
		if e.RatePerMinute < 0 {
			return fmt.Errorf("executor %s: rate_per_minute must be >= 0, got %d", e.ID, e.RatePerMinute)
		}
		if e.Timeout < 0 {
			return fmt.Errorf("executor %s: timeout must be >= 0, got %v", e.ID, e.Timeout)
		}
	}

	return nil
}
