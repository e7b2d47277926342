// Package recovery runs tiered recovery sessions for failed task executions.
//
// A session classifies the failure, diagnoses it, then escalates through the
// primary, fallback and emergency tiers of the strategy registry until one
// strategy reports success.
package recovery

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/harrison/kaizen/internal/models"
	"github.com/harrison/kaizen/internal/strategy"
)

// DefaultPrimaryLimit is how many ranked strategies form the primary tier.
const DefaultPrimaryLimit = 5

const (
	applicabilityWeight = 0.6
	historyWeight       = 0.4
)

// Learner is the strategy history the engine ranks with and reports into.
type Learner interface {
	RecordStrategyOutcome(strategy string, kind models.ErrorKind, success bool)
	StrategySuccessRate(strategy string, kind models.ErrorKind) float64
}

// Logger receives recovery progress events.
type Logger interface {
	LogRecoveryStart(ec *models.ErrorContext, diagnosis Diagnosis)
	LogRecoveryAttempt(ec *models.ErrorContext, attempt models.RecoveryAttempt)
	LogRecoveryResult(ec *models.ErrorContext, outcome *models.RecoveryOutcome)
}

// Ranked is a primary-tier strategy with its ranking score.
type Ranked struct {
	Strategy strategy.RecoveryStrategy
	Score    float64
}

// Engine runs recovery sessions. Sessions may run concurrently; the engine's own
// state is limited to the applied preventive measures.
type Engine struct {
	registry     *strategy.Registry
	learner      Learner
	diagnoser    Diagnoser
	logger       Logger
	primaryLimit int
	minTimeout   time.Duration
	now          func() time.Time

	mu       sync.Mutex
	measures []string
}

// Option configures an Engine.
type Option func(*Engine)

// WithLogger sets the recovery event logger.
func WithLogger(l Logger) Option {
	return func(e *Engine) { e.logger = l }
}

// WithDiagnoser replaces the heuristic diagnoser.
func WithDiagnoser(d Diagnoser) Option {
	return func(e *Engine) {
		if d != nil {
			e.diagnoser = d
		}
	}
}

// WithPrimaryLimit overrides how many strategies the primary tier holds.
func WithPrimaryLimit(n int) Option {
	return func(e *Engine) {
		if n > 0 {
			e.primaryLimit = n
		}
	}
}

// WithMinStrategyTimeout sets a floor under every strategy's estimated time.
func WithMinStrategyTimeout(d time.Duration) Option {
	return func(e *Engine) { e.minTimeout = d }
}

// WithClock replaces time.Now.
func WithClock(now func() time.Time) Option {
	return func(e *Engine) { e.now = now }
}

// NewEngine creates a recovery engine. learner may be nil, in which case every
// strategy has the neutral historical rate of 0.5.
func NewEngine(registry *strategy.Registry, learner Learner, opts ...Option) *Engine {
	if registry == nil {
		registry = strategy.DefaultRegistry()
	}
	e := &Engine{
		registry:     registry,
		learner:      learner,
		diagnoser:    HeuristicDiagnoser{},
		primaryLimit: DefaultPrimaryLimit,
		now:          time.Now,
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Rank scores every primary strategy that can recover ec by
// 0.6·applicability + 0.4·historical success rate and returns the best ones.
func (e *Engine) Rank(ec *models.ErrorContext) []Ranked {
	var ranked []Ranked
	for _, s := range e.registry.Recovery(models.TierPrimary) {
		if !s.CanRecover(ec) {
			continue
		}
		history := 0.5
		if e.learner != nil {
			history = e.learner.StrategySuccessRate(s.Name(), ec.Kind)
		}
		ranked = append(ranked, Ranked{
			Strategy: s,
			Score:    applicabilityWeight*s.Applicability(ec) + historyWeight*history,
		})
	}
	sort.SliceStable(ranked, func(i, j int) bool {
		return ranked[i].Score > ranked[j].Score
	})
	if len(ranked) > e.primaryLimit {
		ranked = ranked[:e.primaryLimit]
	}
	return ranked
}

// Recover runs one recovery session. Every attempt is appended to
// ec.AttemptHistory. The first successful strategy ends the session. A failed
// strategy implementing strategy.Repeatable is run again while it can still
// recover. When every tier fails, the last outcome is returned together with a
// RecoveryExhaustedError.
func (e *Engine) Recover(ctx context.Context, ec *models.ErrorContext, runner strategy.Runner) (*models.RecoveryOutcome, error) {
	start := e.now()
	if ec.Kind == "" {
		ec.Kind = Classify(ec.Message)
	}
	if ec.Criticality == "" {
		ec.Criticality = models.CriticalityForPriority(ec.Task.Priority)
	}

	diagnosis := e.diagnoser.Diagnose(ctx, ec)
	if e.logger != nil {
		e.logger.LogRecoveryStart(ec, diagnosis)
	}

	var primary []strategy.RecoveryStrategy
	for _, r := range e.Rank(ec) {
		primary = append(primary, r.Strategy)
	}
	tiers := [][]strategy.RecoveryStrategy{
		primary,
		e.registry.Recovery(models.TierFallback),
		e.registry.Recovery(models.TierEmergency),
	}

	var last *models.RecoveryOutcome
	for _, tier := range tiers {
		for _, s := range tier {
			for s.CanRecover(ec) {
				outcome, err := e.attempt(ctx, s, ec, runner)
				if outcome != nil {
					last = outcome
				}
				if err != nil {
					return e.finish(ec, last, start, diagnosis), err
				}
				if outcome.Success {
					outcome.Elapsed = e.now().Sub(start)
					outcome.RootCause = diagnosis.RootCause
					e.applyPreventiveMeasures(outcome.PreventiveMeasures)
					if e.logger != nil {
						e.logger.LogRecoveryResult(ec, outcome)
					}
					return outcome, nil
				}
				if !repeatable(s) {
					break
				}
			}
		}
	}

	return e.finish(ec, last, start, diagnosis), &models.RecoveryExhaustedError{
		TaskID:     ec.Task.ID,
		Message:    ec.Message,
		Strategies: ec.StrategiesTried(),
	}
}

func repeatable(s strategy.RecoveryStrategy) bool {
	r, ok := s.(strategy.Repeatable)
	return ok && r.Repeatable()
}

func (e *Engine) finish(ec *models.ErrorContext, last *models.RecoveryOutcome, start time.Time, d Diagnosis) *models.RecoveryOutcome {
	if last == nil {
		last = &models.RecoveryOutcome{Message: models.ErrNoRecoveryStrategy.Error()}
	}
	last.Success = false
	last.Delivered = false
	last.Confidence = 0
	last.Elapsed = e.now().Sub(start)
	last.RootCause = d.RootCause
	if e.logger != nil {
		e.logger.LogRecoveryResult(ec, last)
	}
	return last
}

type attemptResult struct {
	outcome *models.RecoveryOutcome
	err     error
}

// attempt runs one strategy raced against its timeout. A strategy that does not
// answer in time counts as failed; its goroutine is abandoned with a cancelled
// context. Only a cancelled parent context is returned as an error.
func (e *Engine) attempt(ctx context.Context, s strategy.RecoveryStrategy, ec *models.ErrorContext, runner strategy.Runner) (*models.RecoveryOutcome, error) {
	timeout := s.EstimatedTime(ec)
	if timeout < e.minTimeout {
		timeout = e.minTimeout
	}

	sctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	// the strategy must not see later mutations of the live context
	snapshot := *ec
	snapshot.AttemptHistory = append([]models.RecoveryAttempt(nil), ec.AttemptHistory...)

	done := make(chan attemptResult, 1)
	go func() {
		out, err := s.Execute(sctx, &snapshot, runner)
		done <- attemptResult{outcome: out, err: err}
	}()

	var outcome *models.RecoveryOutcome
	select {
	case r := <-done:
		outcome = r.outcome
		if r.err != nil || outcome == nil {
			msg := "strategy returned no outcome"
			if r.err != nil {
				msg = r.err.Error()
			}
			outcome = &models.RecoveryOutcome{Strategy: s.Name(), Tier: s.Tier(), Message: msg}
		}
	case <-sctx.Done():
		outcome = &models.RecoveryOutcome{
			Strategy: s.Name(),
			Tier:     s.Tier(),
			Message:  fmt.Sprintf("timed out after %s", timeout),
		}
	}

	if outcome.Strategy == "" {
		outcome.Strategy = s.Name()
	}
	outcome.Tier = s.Tier()

	attempt := models.RecoveryAttempt{
		Strategy:  s.Name(),
		Tier:      s.Tier(),
		Success:   outcome.Success,
		Outcome:   outcomeSummary(outcome),
		Timeout:   timeout,
		Timestamp: e.now(),
	}
	ec.AttemptHistory = append(ec.AttemptHistory, attempt)
	if e.learner != nil {
		e.learner.RecordStrategyOutcome(s.Name(), ec.Kind, outcome.Success)
	}
	if e.logger != nil {
		e.logger.LogRecoveryAttempt(ec, attempt)
	}

	if err := ctx.Err(); err != nil && !outcome.Success {
		return outcome, fmt.Errorf("recovery interrupted: %w", err)
	}
	return outcome, nil
}

func outcomeSummary(o *models.RecoveryOutcome) string {
	switch {
	case o.Success && o.Delivered:
		return "recovered"
	case o.Success:
		return "stabilized"
	case o.Message != "":
		return o.Message
	default:
		return "failed"
	}
}

func (e *Engine) applyPreventiveMeasures(measures []string) {
	if len(measures) == 0 {
		return
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	e.measures = append(e.measures, measures...)
}

// PreventiveMeasures returns every preventive measure applied so far.
func (e *Engine) PreventiveMeasures() []string {
	e.mu.Lock()
	defer e.mu.Unlock()
	return append([]string(nil), e.measures...)
}
