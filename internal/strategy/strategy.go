// Package strategy holds the registry of planning and recovery strategies.
//
// Strategies are values implementing small interfaces rather than names switched
// on at the call site. A Registry is built once and handed to the planner and the
// recovery engine through their constructors.
package strategy

import (
	"context"
	"sort"
	"time"

	"github.com/harrison/kaizen/internal/analysis"
	"github.com/harrison/kaizen/internal/models"
)

// PlanInput is what planning strategies score their applicability against.
type PlanInput struct {
	Description   string
	StepCount     int
	Assessment    analysis.Assessment
	RiskTolerance float64
}

// PlanningStrategy arranges decomposed steps into a candidate plan.
type PlanningStrategy interface {
	Name() string
	Applicability(in PlanInput) float64
	// Arrange returns a new step list; the input must not be modified.
	Arrange(steps []models.PlanStep) []models.PlanStep
}

// RerunRequest asks the runner to execute (a variant of) the failed work again.
type RerunRequest struct {
	Description     string
	ExcludeExecutor string            // Pick any executor but this one when set
	Hints           map[string]string // Adjustments such as reduced resources
}

// Runner re-executes work on behalf of a recovery strategy. The orchestrator binds
// one to each failing task; a nil Runner means nothing can be re-executed.
type Runner interface {
	Rerun(ctx context.Context, req RerunRequest) (string, error)
}

// RecoveryStrategy is one recovery procedure.
type RecoveryStrategy interface {
	Name() string
	Tier() models.Tier
	Applicability(ec *models.ErrorContext) float64
	CanRecover(ec *models.ErrorContext) bool
	EstimatedTime(ec *models.ErrorContext) time.Duration
	Execute(ctx context.Context, ec *models.ErrorContext, runner Runner) (*models.RecoveryOutcome, error)
}

// Repeatable is implemented by recovery strategies the engine offers again after
// a failed attempt, for as long as CanRecover holds.
type Repeatable interface {
	Repeatable() bool
}

// Registry is the fixed strategy library.
type Registry struct {
	planning []PlanningStrategy
	recovery []RecoveryStrategy
}

// NewRegistry creates a registry holding the given strategies.
func NewRegistry(planning []PlanningStrategy, recovery []RecoveryStrategy) *Registry {
	return &Registry{
		planning: append([]PlanningStrategy(nil), planning...),
		recovery: append([]RecoveryStrategy(nil), recovery...),
	}
}

// DefaultRegistry returns the built-in strategy library.
func DefaultRegistry() *Registry {
	return NewRegistry(
		[]PlanningStrategy{
			Sequential{},
			Parallel{},
			Incremental{},
			Adaptive{},
		},
		[]RecoveryStrategy{
			&IntelligentRetry{},
			&ResourceReconfiguration{},
			&AlternativeImplementation{},
			&IsolateAndBypass{},
			&TaskRecomposition{},
			&GracefulDegradation{},
			&IntelligentRollback{},
			&ControlledReset{},
		},
	)
}

// Planning returns the registered planning strategies.
func (r *Registry) Planning() []PlanningStrategy {
	return append([]PlanningStrategy(nil), r.planning...)
}

// Recovery returns registered recovery strategies, optionally filtered by tier.
func (r *Registry) Recovery(tier models.Tier) []RecoveryStrategy {
	var out []RecoveryStrategy
	for _, s := range r.recovery {
		if tier == "" || s.Tier() == tier {
			out = append(out, s)
		}
	}
	return out
}

// RecoveryByName looks up a recovery strategy.
func (r *Registry) RecoveryByName(name string) (RecoveryStrategy, bool) {
	for _, s := range r.recovery {
		if s.Name() == name {
			return s, true
		}
	}
	return nil, false
}

// ScoredPlanning is a planning strategy with its applicability for one input.
type ScoredPlanning struct {
	Strategy PlanningStrategy
	Score    float64
}

// RankPlanning scores every planning strategy and returns the best `limit` with a
// positive score, highest first. Ties keep registration order.
func (r *Registry) RankPlanning(in PlanInput, limit int) []ScoredPlanning {
	var scored []ScoredPlanning
	for _, s := range r.planning {
		score := s.Applicability(in)
		if score <= 0 {
			continue
		}
		scored = append(scored, ScoredPlanning{Strategy: s, Score: score})
	}
	sort.SliceStable(scored, func(i, j int) bool {
		return scored[i].Score > scored[j].Score
	})
	if limit > 0 && len(scored) > limit {
		scored = scored[:limit]
	}
	return scored
}
