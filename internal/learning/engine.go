// Package learning keeps the statistical bookkeeping behind executor selection,
// success-rate adaptation and recovery-strategy ranking.
package learning

import (
	"math"
	"sync"
	"time"

	"github.com/harrison/kaizen/internal/models"
)

// Success-rate adjustment constants.
const (
	successStep          = 0.05
	failureStep          = -0.08
	complexityThreshold  = 0.7
	complexityMultiplier = 1.5
	slowMultiplier       = 0.8
	fastMultiplier       = 1.2
	maxRateSwing         = 0.3
)

// AdjustContext describes the circumstances of one task outcome.
type AdjustContext struct {
	Complexity       float64
	Confidence       float64 // Caller-supplied multiplier; zero means 1
	Duration         time.Duration
	ExpectedDuration time.Duration // Zero disables the duration multiplier
}

type strategyKey struct {
	strategy string
	kind     models.ErrorKind
}

type tally struct {
	successes int
	attempts  int
}

// Engine is safe for concurrent use.
type Engine struct {
	mu         sync.RWMutex
	strategies map[strategyKey]*tally
}

// Option configures an Engine.
type Option func(*Engine)

// NewEngine creates an Engine with an empty strategy history.
func NewEngine(opts ...Option) *Engine {
	e := &Engine{strategies: make(map[strategyKey]*tally)}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// AdjustSuccessRate moves a success rate after one outcome. The result never leaves
// [models.MinSuccessRate, models.MaxSuccessRate] and never moves more than 0.3.
func (e *Engine) AdjustSuccessRate(current float64, success bool, ac AdjustContext) float64 {
	current = models.ClampSuccessRate(current)

	delta := failureStep
	if success {
		delta = successStep
	}
	if ac.Complexity > complexityThreshold {
		delta *= complexityMultiplier
	}
	if ac.Confidence > 0 {
		delta *= ac.Confidence
	}
	if ac.ExpectedDuration > 0 {
		if ac.Duration > ac.ExpectedDuration {
			delta *= slowMultiplier
		} else {
			delta *= fastMultiplier
		}
	}

	lo := math.Max(models.MinSuccessRate, current-maxRateSwing)
	hi := math.Min(models.MaxSuccessRate, current+maxRateSwing)
	return math.Max(lo, math.Min(hi, current+delta))
}

// RecordStrategyOutcome adds one recovery attempt to the (strategy, error kind) table.
func (e *Engine) RecordStrategyOutcome(strategy string, kind models.ErrorKind, success bool) {
	e.mu.Lock()
	defer e.mu.Unlock()

	key := strategyKey{strategy: strategy, kind: kind}
	t, ok := e.strategies[key]
	if !ok {
		t = &tally{}
		e.strategies[key] = t
	}
	t.attempts++
	if success {
		t.successes++
	}
}

// StrategySuccessRate returns the Laplace-smoothed success rate of a strategy for an
// error kind: 0.5 with no history, approaching the observed rate as attempts grow.
func (e *Engine) StrategySuccessRate(strategy string, kind models.ErrorKind) float64 {
	e.mu.RLock()
	defer e.mu.RUnlock()

	t, ok := e.strategies[strategyKey{strategy: strategy, kind: kind}]
	if !ok {
		return 0.5
	}
	return float64(t.successes+1) / float64(t.attempts+2)
}

// StrategyAttempts returns how many attempts were recorded for a strategy and kind.
func (e *Engine) StrategyAttempts(strategy string, kind models.ErrorKind) int {
	e.mu.RLock()
	defer e.mu.RUnlock()

	if t, ok := e.strategies[strategyKey{strategy: strategy, kind: kind}]; ok {
		return t.attempts
	}
	return 0
}

func round3(v float64) float64 {
	return math.Round(v*1000) / 1000
}
