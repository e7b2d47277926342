// Package planner turns a free-text description into a validated, risk-scored plan.
package planner

import (
	"fmt"
	"math"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/harrison/kaizen/internal/analysis"
	"github.com/harrison/kaizen/internal/models"
	"github.com/harrison/kaizen/internal/strategy"
)

const (
	// DefaultCandidateLimit is how many planning strategies generate candidates.
	DefaultCandidateLimit = 3

	// HybridStrategy names the synthesized hybrid candidate.
	HybridStrategy = "hybrid"

	// ContingencyStrategy names the rollback mirror of the primary plan.
	ContingencyStrategy = "rollback"

	contingencyDurationFactor = 0.3
	baseStepDuration          = 5 * time.Minute
	complexStepDuration       = 55 * time.Minute
	defaultHorizon            = 8 * time.Hour
)

// PlanContext carries caller preferences that influence strategy choice.
type PlanContext struct {
	RiskTolerance float64       // 0 = avoid risk, 1 = accept risk
	TimeBudget    time.Duration // Zero means no budget
}

// RiskAssessment is the five-axis risk score of one plan, each axis in [0,1].
type RiskAssessment struct {
	Technical  float64 `json:"technical"`
	Temporal   float64 `json:"temporal"`
	Resource   float64 `json:"resource"`
	Dependency float64 `json:"dependency"`
	Cascade    float64 `json:"cascade"`
	Overall    float64 `json:"overall"`
}

// Result is everything CreatePlan produces.
type Result struct {
	Primary       *models.Plan   `json:"primary"`
	Alternates    []*models.Plan `json:"alternates"`
	Contingencies []*models.Plan `json:"contingencies"`
	Risk          RiskAssessment `json:"risk_assessment"`
	Confidence    float64        `json:"confidence"`
}

// Planner builds plans from the planning strategies in a registry.
type Planner struct {
	registry *strategy.Registry
	limit    int
	newID    func() string
	now      func() time.Time
}

// Option configures a Planner.
type Option func(*Planner)

// WithCandidateLimit sets how many ranked strategies produce candidates.
func WithCandidateLimit(n int) Option {
	return func(p *Planner) {
		if n > 0 {
			p.limit = n
		}
	}
}

// WithIDGenerator replaces the UUID plan ID generator.
func WithIDGenerator(fn func() string) Option {
	return func(p *Planner) { p.newID = fn }
}

// WithClock replaces time.Now.
func WithClock(now func() time.Time) Option {
	return func(p *Planner) { p.now = now }
}

// New creates a Planner over the given registry.
func New(registry *strategy.Registry, opts ...Option) *Planner {
	if registry == nil {
		registry = strategy.DefaultRegistry()
	}
	p := &Planner{
		registry: registry,
		limit:    DefaultCandidateLimit,
		newID:    uuid.NewString,
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// CreatePlan decomposes a description, generates one candidate per applicable
// strategy, scores them and picks the primary. Every returned plan satisfies
// models.Plan.Validate; a cycle in any candidate aborts with PlanInvalidError.
func (p *Planner) CreatePlan(description string, pc PlanContext) (*Result, error) {
	description = strings.TrimSpace(description)
	if description == "" {
		return nil, models.ErrEmptyDescription
	}

	assessment := analysis.Analyze(description)
	base := Decompose(description)
	if len(base) == 0 {
		base = []models.PlanStep{wholeStep(description, assessment)}
	}
	in := strategy.PlanInput{
		Description:   description,
		StepCount:     len(base),
		Assessment:    assessment,
		RiskTolerance: pc.RiskTolerance,
	}

	var candidates []*models.Plan
	for _, ranked := range p.registry.RankPlanning(in, p.limit) {
		plan := p.newPlan(ranked.Strategy.Name(), description, ranked.Strategy.Arrange(base))
		if err := p.optimize(plan); err != nil {
			return nil, fmt.Errorf("strategy %s: %w", ranked.Strategy.Name(), err)
		}
		candidates = append(candidates, plan)
	}

	if len(candidates) == 0 {
		plan := p.newPlan(strategy.Sequential{}.Name(), description, []models.PlanStep{wholeStep(description, assessment)})
		if err := p.optimize(plan); err != nil {
			return nil, err
		}
		candidates = append(candidates, plan)
	}

	if len(candidates) >= 2 {
		hybrid := candidates[0].Clone()
		hybrid.ID = p.newID()
		hybrid.Strategy = HybridStrategy
		candidates = append(candidates, hybrid)
	}

	risks := make([]RiskAssessment, len(candidates))
	best := 0
	for i, plan := range candidates {
		risks[i] = assessRisk(plan, assessment, pc)
		plan.RiskScore = risks[i].Overall
		plan.Score = selectionScore(plan, risks[i].Overall, pc.RiskTolerance)
		if plan.Score > candidates[best].Score {
			best = i
		}
	}

	primary := candidates[best]
	alternates := make([]*models.Plan, 0, len(candidates)-1)
	for i, plan := range candidates {
		if i != best {
			alternates = append(alternates, plan)
		}
	}

	contingency := p.contingency(primary)
	if err := contingency.Validate(); err != nil {
		return nil, err
	}

	return &Result{
		Primary:       primary,
		Alternates:    alternates,
		Contingencies: []*models.Plan{contingency},
		Risk:          risks[best],
		Confidence:    round3(0.5*primary.Score + 0.5*(1-risks[best].Overall)),
	}, nil
}

// Decompose splits a description into one atomic step per sentence.
func Decompose(description string) []models.PlanStep {
	sentences := strategy.SplitSentences(description)
	steps := make([]models.PlanStep, 0, len(sentences))
	for i, sentence := range sentences {
		a := analysis.Analyze(sentence)
		steps = append(steps, models.PlanStep{
			ID:                fmt.Sprintf("step-%d", i+1),
			Description:       sentence,
			Kind:              models.StepAtomic,
			Complexity:        a.Complexity,
			EstimatedDuration: estimateDuration(a.Complexity),
			RiskLevel:         a.RiskLevel,
			SuccessCriteria:   []string{"completed: " + sentence},
			RollbackSteps:     []string{"undo: " + sentence},
		})
	}
	return steps
}

func wholeStep(description string, a analysis.Assessment) models.PlanStep {
	return models.PlanStep{
		ID:                "step-1",
		Description:       description,
		Kind:              models.StepAtomic,
		Complexity:        a.Complexity,
		EstimatedDuration: estimateDuration(a.Complexity),
		RiskLevel:         a.RiskLevel,
		SuccessCriteria:   []string{"completed: " + description},
	}
}

func estimateDuration(complexity float64) time.Duration {
	return baseStepDuration + time.Duration(math.Round(complexity*float64(complexStepDuration)/float64(time.Minute)))*time.Minute
}

func (p *Planner) newPlan(strategyName, description string, steps []models.PlanStep) *models.Plan {
	return &models.Plan{
		ID:          p.newID(),
		Strategy:    strategyName,
		Description: description,
		Steps:       steps,
		CreatedAt:   p.now(),
	}
}

// optimize orders steps by dependency then runs the refinement passes.
func (p *Planner) optimize(plan *models.Plan) error {
	sorted, err := topologicalSort(plan.ID, plan.Steps)
	if err != nil {
		return err
	}
	plan.Steps = sorted
	plan.Steps = balanceLoad(plan.Steps)
	plan.Steps = optimizeTimeline(plan.Steps)
	plan.Steps = reduceRisk(plan.Steps)
	return plan.Validate()
}

// Refinement passes; currently identity transforms.
func balanceLoad(steps []models.PlanStep) []models.PlanStep      { return steps }
func optimizeTimeline(steps []models.PlanStep) []models.PlanStep { return steps }
func reduceRisk(steps []models.PlanStep) []models.PlanStep       { return steps }

// contingency mirrors the primary plan as a rollback chain in reverse order.
func (p *Planner) contingency(primary *models.Plan) *models.Plan {
	steps := make([]models.PlanStep, 0, len(primary.Steps))
	prev := ""
	for i := len(primary.Steps) - 1; i >= 0; i-- {
		src := primary.Steps[i]
		step := models.PlanStep{
			ID:                "rollback-" + src.ID,
			Description:       "Roll back: " + src.Description,
			Kind:              models.StepSequential,
			Complexity:        src.Complexity,
			EstimatedDuration: time.Duration(math.Round(float64(src.EstimatedDuration) * contingencyDurationFactor)),
			RiskLevel:         src.RiskLevel,
			SuccessCriteria:   append([]string(nil), src.RollbackSteps...),
		}
		if prev != "" {
			step.Dependencies = []string{prev}
		}
		steps = append(steps, step)
		prev = step.ID
	}
	plan := p.newPlan(ContingencyStrategy, "Contingency for: "+primary.Description, steps)
	return plan
}

func selectionScore(plan *models.Plan, risk, tolerance float64) float64 {
	return round3(0.4*efficiency(plan) + 0.3*(1-math.Abs(risk-tolerance)) + 0.3*(1-risk))
}

// efficiency is the share of steps that may run in parallel.
func efficiency(plan *models.Plan) float64 {
	if len(plan.Steps) == 0 {
		return 0
	}
	parallel := 0
	for _, s := range plan.Steps {
		if s.Kind == models.StepParallel {
			parallel++
		}
	}
	return float64(parallel) / float64(len(plan.Steps))
}

func round3(v float64) float64 {
	return math.Round(v*1000) / 1000
}
