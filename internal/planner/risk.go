package planner

import (
	"math"

	"github.com/harrison/kaizen/internal/analysis"
	"github.com/harrison/kaizen/internal/models"
)

// assessRisk scores a plan along five axes. Technical, temporal and resource risk
// are weighted 0.3/0.3/0.4; cascade amplifies that base and dependency density adds on top.
func assessRisk(plan *models.Plan, a analysis.Assessment, pc PlanContext) RiskAssessment {
	n := len(plan.Steps)
	if n == 0 {
		return RiskAssessment{}
	}

	var stepRisk float64
	edges := 0
	batches := make(map[int]int)
	for _, s := range plan.Steps {
		stepRisk += s.RiskLevel
		edges += len(s.Dependencies)
		if s.Kind == models.StepParallel {
			batches[s.Batch]++
		}
	}
	widest := 0
	for _, w := range batches {
		if w > widest {
			widest = w
		}
	}

	r := RiskAssessment{
		Technical: clamp01(0.5*(stepRisk/float64(n)) + 0.5*a.RiskLevel),
		Resource:  clamp01(a.ResourceNeed * (1 + 0.1*float64(widest))),
		Cascade:   float64(longestChain(plan.Steps)) / float64(n),
	}
	if pc.TimeBudget > 0 {
		r.Temporal = clamp01(float64(plan.TotalDuration()) / float64(pc.TimeBudget))
	} else {
		r.Temporal = clamp01(float64(plan.CriticalPath()) / float64(defaultHorizon))
	}
	if n > 1 {
		r.Dependency = clamp01(float64(edges) / float64(n*(n-1)/2))
	}

	base := 0.3*r.Technical + 0.3*r.Temporal + 0.4*r.Resource
	r.Overall = clamp01(base*(1+0.2*r.Cascade) + 0.1*r.Dependency)

	r.Technical = round3(r.Technical)
	r.Temporal = round3(r.Temporal)
	r.Resource = round3(r.Resource)
	r.Dependency = round3(r.Dependency)
	r.Cascade = round3(r.Cascade)
	r.Overall = round3(r.Overall)
	return r
}

func clamp01(v float64) float64 {
	return math.Max(0, math.Min(1, v))
}
