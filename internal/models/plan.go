package models

import (
	"fmt"
	"time"
)

// StepKind describes how a plan step relates to its neighbours.
type StepKind string

const (
	StepAtomic      StepKind = "atomic"
	StepSequential  StepKind = "sequential"
	StepParallel    StepKind = "parallel"
	StepConditional StepKind = "conditional"
)

// PlanStep is one node of a plan's dependency DAG
type PlanStep struct {
	ID                 string            `json:"id"`
	Description        string            `json:"description"`
	Kind               StepKind          `json:"kind"`
	Complexity         float64           `json:"complexity"`
	EstimatedDuration  time.Duration     `json:"estimated_duration"`
	RiskLevel          float64           `json:"risk_level"`
	Dependencies       []string          `json:"dependencies"`
	SuccessCriteria    []string          `json:"success_criteria,omitempty"`
	RollbackSteps      []string          `json:"rollback_steps,omitempty"`
	AdaptiveParameters map[string]string `json:"adaptive_parameters,omitempty"`
	Batch              int               `json:"batch"` // Parallel batch index (0 when not batched)
}

// Clone returns a deep copy of the step.
func (s PlanStep) Clone() PlanStep {
	c := s
	c.Dependencies = append([]string(nil), s.Dependencies...)
	c.SuccessCriteria = append([]string(nil), s.SuccessCriteria...)
	c.RollbackSteps = append([]string(nil), s.RollbackSteps...)
	if s.AdaptiveParameters != nil {
		c.AdaptiveParameters = make(map[string]string, len(s.AdaptiveParameters))
		for k, v := range s.AdaptiveParameters {
			c.AdaptiveParameters[k] = v
		}
	}
	return c
}

// Plan is an ordered set of steps produced by one planning strategy
type Plan struct {
	ID          string     `json:"id"`
	Strategy    string     `json:"strategy"`
	Description string     `json:"description"`
	Steps       []PlanStep `json:"steps"`
	RiskScore   float64    `json:"risk_score"`
	Score       float64    `json:"score"`
	CreatedAt   time.Time  `json:"created_at"`
}

// Clone returns a deep copy of the plan.
func (p *Plan) Clone() *Plan {
	if p == nil {
		return nil
	}
	c := *p
	c.Steps = make([]PlanStep, len(p.Steps))
	for i, s := range p.Steps {
		c.Steps[i] = s.Clone()
	}
	return &c
}

// TotalDuration sums the estimated duration of every step.
func (p *Plan) TotalDuration() time.Duration {
	var total time.Duration
	for _, s := range p.Steps {
		total += s.EstimatedDuration
	}
	return total
}

// CriticalPath returns the longest dependency-weighted duration through the plan.
// Steps must already be in dependency order.
func (p *Plan) CriticalPath() time.Duration {
	finish := make(map[string]time.Duration, len(p.Steps))
	var longest time.Duration
	for _, s := range p.Steps {
		var start time.Duration
		for _, dep := range s.Dependencies {
			if f := finish[dep]; f > start {
				start = f
			}
		}
		finish[s.ID] = start + s.EstimatedDuration
		if finish[s.ID] > longest {
			longest = finish[s.ID]
		}
	}
	return longest
}

// Validate enforces the step DAG invariant: unique IDs, no self references and every
// dependency declared before the step that uses it. Because dependencies may only point
// backwards, a plan that passes is acyclic.
func (p *Plan) Validate() error {
	seen := make(map[string]bool, len(p.Steps))
	for _, step := range p.Steps {
		if step.ID == "" {
			return NewPlanInvalidError(p.ID, "step has empty id")
		}
		if seen[step.ID] {
			return NewPlanInvalidError(p.ID, fmt.Sprintf("duplicate step id %s", step.ID))
		}
		for _, dep := range step.Dependencies {
			if dep == step.ID {
				return NewPlanInvalidError(p.ID, fmt.Sprintf("step %s depends on itself", step.ID))
			}
			if !seen[dep] {
				return NewPlanInvalidError(p.ID, fmt.Sprintf("step %s depends on %s which is not declared earlier", step.ID, dep))
			}
		}
		seen[step.ID] = true
	}
	return nil
}

// HasCyclicDependencies detects circular dependencies among plan steps
// using DFS with color marking (white=unvisited, gray=visiting, black=visited).
// Unlike Validate it does not care about declaration order.
func HasCyclicDependencies(steps []PlanStep) bool {
	graph := make(map[string][]string)
	known := make(map[string]bool)

	for _, step := range steps {
		known[step.ID] = true
		graph[step.ID] = []string{}
	}

	// If step A depends on B, then B -> A
	for _, step := range steps {
		for _, dep := range step.Dependencies {
			if dep == step.ID {
				return true
			}
			if known[dep] {
				graph[dep] = append(graph[dep], step.ID)
			}
		}
	}

	const (
		white = 0
		gray  = 1
		black = 2
	)

	colors := make(map[string]int, len(known))

	var dfs func(string) bool
	dfs = func(node string) bool {
		colors[node] = gray
		for _, neighbor := range graph[node] {
			if colors[neighbor] == gray {
				return true
			}
			if colors[neighbor] == white && dfs(neighbor) {
				return true
			}
		}
		colors[node] = black
		return false
	}

	for _, step := range steps {
		if colors[step.ID] == white && dfs(step.ID) {
			return true
		}
	}

	return false
}
