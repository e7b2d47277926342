package planner

import (
	"fmt"

	"github.com/harrison/kaizen/internal/models"
)

// stepGraph is the dependency graph of one candidate plan.
type stepGraph struct {
	order    []string
	steps    map[string]models.PlanStep
	edges    map[string][]string // prerequisite -> dependents
	inDegree map[string]int
}

func buildStepGraph(planID string, steps []models.PlanStep) (*stepGraph, error) {
	g := &stepGraph{
		order:    make([]string, 0, len(steps)),
		steps:    make(map[string]models.PlanStep, len(steps)),
		edges:    make(map[string][]string),
		inDegree: make(map[string]int, len(steps)),
	}
	for _, s := range steps {
		if s.ID == "" {
			return nil, models.NewPlanInvalidError(planID, "step has empty id")
		}
		if _, dup := g.steps[s.ID]; dup {
			return nil, models.NewPlanInvalidError(planID, fmt.Sprintf("duplicate step id %s", s.ID))
		}
		g.order = append(g.order, s.ID)
		g.steps[s.ID] = s
		g.inDegree[s.ID] = 0
	}
	for _, s := range steps {
		for _, dep := range s.Dependencies {
			if _, ok := g.steps[dep]; !ok {
				return nil, models.NewPlanInvalidError(planID, fmt.Sprintf("step %s depends on unknown step %s", s.ID, dep))
			}
			g.edges[dep] = append(g.edges[dep], s.ID)
			g.inDegree[s.ID]++
		}
	}
	return g, nil
}

// topologicalSort orders steps so every dependency precedes its dependents using
// Kahn's algorithm. Among ready steps the original declaration order is kept, so an
// already ordered plan comes back unchanged. A cycle is reported as PlanInvalidError.
func topologicalSort(planID string, steps []models.PlanStep) ([]models.PlanStep, error) {
	g, err := buildStepGraph(planID, steps)
	if err != nil {
		return nil, err
	}

	position := make(map[string]int, len(g.order))
	for i, id := range g.order {
		position[id] = i
	}

	inDegree := make(map[string]int, len(g.inDegree))
	for id, d := range g.inDegree {
		inDegree[id] = d
	}

	var ready []string
	for _, id := range g.order {
		if inDegree[id] == 0 {
			ready = append(ready, id)
		}
	}

	sorted := make([]models.PlanStep, 0, len(steps))
	for len(ready) > 0 {
		// pick the earliest-declared ready step
		best := 0
		for i := 1; i < len(ready); i++ {
			if position[ready[i]] < position[ready[best]] {
				best = i
			}
		}
		id := ready[best]
		ready = append(ready[:best], ready[best+1:]...)
		sorted = append(sorted, g.steps[id])

		for _, dependent := range g.edges[id] {
			inDegree[dependent]--
			if inDegree[dependent] == 0 {
				ready = append(ready, dependent)
			}
		}
	}

	if len(sorted) != len(steps) {
		return nil, models.NewPlanInvalidError(planID, "dependency cycle detected")
	}
	return sorted, nil
}

// longestChain counts the steps on the longest dependency chain. Steps must be sorted.
func longestChain(steps []models.PlanStep) int {
	depth := make(map[string]int, len(steps))
	longest := 0
	for _, s := range steps {
		d := 1
		for _, dep := range s.Dependencies {
			if depth[dep]+1 > d {
				d = depth[dep] + 1
			}
		}
		depth[s.ID] = d
		if d > longest {
			longest = d
		}
	}
	return longest
}
