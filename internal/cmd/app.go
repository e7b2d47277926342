package cmd

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"

	"github.com/harrison/kaizen/internal/config"
	"github.com/harrison/kaizen/internal/executor"
	"github.com/harrison/kaizen/internal/learning"
	"github.com/harrison/kaizen/internal/logger"
	"github.com/harrison/kaizen/internal/memory"
	"github.com/harrison/kaizen/internal/models"
	"github.com/harrison/kaizen/internal/orchestrator"
	"github.com/harrison/kaizen/internal/pdca"
	"github.com/harrison/kaizen/internal/planner"
	"github.com/harrison/kaizen/internal/recovery"
	"github.com/harrison/kaizen/internal/strategy"
)

// MetricsFile is written to the log directory when a run finishes.
const MetricsFile = "metrics.prom"

// app is everything one command invocation runs against.
type app struct {
	cfg      *config.Config
	home     string
	logDir   string
	store    memory.Store
	pool     *executor.Pool
	registry *strategy.Registry
	learner  *learning.Engine
	orch     *orchestrator.Orchestrator
	log      logger.Logger
	events   *logger.EventLogger
	gatherer prometheus.Gatherer
}

// loadConfig resolves the kaizen home, loads the config file and applies the
// persistent flags that were set.
func loadConfig(cmd *cobra.Command) (*config.Config, string, error) {
	wd, err := os.Getwd()
	if err != nil {
		return nil, "", fmt.Errorf("get working directory: %w", err)
	}
	home, err := config.GetKaizenHome(wd)
	if err != nil {
		return nil, "", err
	}

	configPath, _ := cmd.Flags().GetString("config")
	if configPath == "" {
		configPath = filepath.Join(home, config.ConfigFile)
	}
	cfg, err := config.LoadConfig(configPath)
	if err != nil {
		return nil, "", fmt.Errorf("failed to load config from %s: %w", configPath, err)
	}

	var logLevelPtr, logDirPtr, backendPtr *string
	var historyLimitPtr *int
	if cmd.Flags().Changed("log-level") {
		v, _ := cmd.Flags().GetString("log-level")
		logLevelPtr = &v
	}
	if cmd.Flags().Changed("log-dir") {
		v, _ := cmd.Flags().GetString("log-dir")
		logDirPtr = &v
	}
	if cmd.Flags().Changed("memory-backend") {
		v, _ := cmd.Flags().GetString("memory-backend")
		backendPtr = &v
	}
	if cmd.Flags().Changed("history-limit") {
		v, _ := cmd.Flags().GetInt("history-limit")
		historyLimitPtr = &v
	}
	cfg.MergeWithFlags(logLevelPtr, logDirPtr, backendPtr, historyLimitPtr)

	if err := cfg.Validate(); err != nil {
		return nil, "", fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, home, nil
}

// newApp wires the memory store, executor pool, learning and recovery engines,
// loggers and orchestrator from the configuration.
func newApp(cmd *cobra.Command) (*app, error) {
	cfg, home, err := loadConfig(cmd)
	if err != nil {
		return nil, err
	}

	a := &app{
		cfg:      cfg,
		home:     home,
		logDir:   config.ResolvePath(home, cfg.LogDir),
		registry: strategy.DefaultRegistry(),
		learner:  learning.NewEngine(),
	}

	if err := a.openStore(); err != nil {
		return nil, err
	}

	a.events, err = logger.NewEventLogger(a.logDir, cfg.LogLevel)
	if err != nil {
		a.store.Close()
		return nil, err
	}
	a.log = logger.Multi{logger.NewConsoleLogger(cmd.OutOrStdout(), cfg.LogLevel), a.events}

	a.pool, err = buildPool(cfg.Executors)
	if err != nil {
		a.Close()
		return nil, err
	}

	var recoverer orchestrator.Recoverer
	if cfg.Recovery.Enabled {
		recoverer = recovery.NewEngine(a.registry, a.learner,
			recovery.WithLogger(a.log),
			recovery.WithPrimaryLimit(cfg.Recovery.PrimaryLimit),
			recovery.WithMinStrategyTimeout(cfg.Recovery.MinStrategyTimeout),
		)
	}

	reg := prometheus.NewRegistry()
	a.gatherer = reg
	a.orch = orchestrator.New(a.pool, a.learner, recoverer, a.store,
		orchestrator.WithLogger(a.log),
		orchestrator.WithMetrics(orchestrator.NewMetrics(reg)),
		orchestrator.WithHistoryLimit(cfg.Learning.HistoryLimit),
	)
	return a, nil
}

// openStore opens the configured memory backend. Relative paths resolve
// against the kaizen home.
func (a *app) openStore() error {
	memCfg := a.cfg.Memory
	if memCfg.Path != "" {
		memCfg.Path = config.ResolvePath(a.home, memCfg.Path)
	}
	store, err := memory.Open(memCfg, a.home)
	if err != nil {
		return fmt.Errorf("open memory store: %w", err)
	}
	a.store = store
	return nil
}

// buildPool registers one rate-limited process executor per configured entry.
func buildPool(executors []config.ExecutorConfig) (*executor.Pool, error) {
	pool := executor.NewPool()
	for _, ec := range executors {
		proc := executor.NewProcessExecutor(ec.ID, ec.Command, ec.Args...)
		proc.Env = ec.Env
		proc.Dir = ec.Dir
		proc.Timeout = ec.Timeout

		capability := models.ExecutorCapability{
			ID:          ec.ID,
			Kind:        ec.Kind,
			Available:   true,
			SuccessRate: ec.SuccessRate,
		}
		if err := pool.Register(capability, executor.NewRateLimited(proc, ec.RatePerMinute)); err != nil {
			return nil, fmt.Errorf("register executor %s: %w", ec.ID, err)
		}
	}
	return pool, nil
}

// warmStart replays earlier executions into the learning history.
func (a *app) warmStart(ctx context.Context) {
	if !a.cfg.Learning.WarmStart {
		return
	}
	n, err := a.orch.LoadHistory(ctx)
	if err != nil {
		a.log.Warnf("Could not load execution history: %v", err)
		return
	}
	if n > 0 {
		a.log.Debugf("Loaded %d execution records from memory", n)
	}
}

func (a *app) newController() *pdca.Controller {
	p := planner.New(a.registry, planner.WithCandidateLimit(a.cfg.Planner.CandidateLimit))
	return pdca.NewController(p, a.orch,
		pdca.WithLogger(a.log),
		pdca.WithStore(a.store),
		pdca.WithPlanContext(planner.PlanContext{
			RiskTolerance: a.cfg.Planner.RiskTolerance,
			TimeBudget:    a.cfg.Planner.TimeBudget,
		}),
	)
}

// Close writes the metrics snapshot and releases the store and event log.
func (a *app) Close() error {
	var errs []error
	if a.gatherer != nil {
		if err := prometheus.WriteToTextfile(filepath.Join(a.logDir, MetricsFile), a.gatherer); err != nil {
			errs = append(errs, fmt.Errorf("write metrics: %w", err))
		}
	}
	if a.events != nil {
		if err := a.events.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	if a.store != nil {
		if err := a.store.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
