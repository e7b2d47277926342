package strategy

import (
	"fmt"

	"github.com/harrison/kaizen/internal/models"
)

// maxBatchSize bounds how many steps a parallel batch may hold.
const maxBatchSize = 3

// validateDurationFactor scales an implement step's duration into its validate step.
const validateDurationFactor = 0.3

// Sequential chains every step to the one before it.
type Sequential struct{}

func (Sequential) Name() string { return "sequential" }

func (Sequential) Applicability(in PlanInput) float64 {
	score := 0.5
	if in.Assessment.RiskLevel > 0.6 {
		score += 0.3
	}
	if in.StepCount <= 2 {
		score += 0.2
	}
	return clamp01(score)
}

func (Sequential) Arrange(steps []models.PlanStep) []models.PlanStep {
	out := cloneSteps(steps)
	for i := range out {
		out[i].Dependencies = nil
		out[i].Kind = models.StepSequential
		if i > 0 {
			out[i].Dependencies = []string{out[i-1].ID}
		}
	}
	return out
}

// Parallel groups steps into batches of at most three. Steps in one batch share no
// edges; every step depends on all steps of the previous batch.
type Parallel struct{}

func (Parallel) Name() string { return "parallel" }

func (Parallel) Applicability(in PlanInput) float64 {
	if in.StepCount < 2 {
		return 0
	}
	score := 0.3
	if in.StepCount >= 3 && in.Assessment.RiskLevel < 0.5 {
		score += 0.4
	}
	if in.Assessment.Complexity > 0.5 {
		score += 0.2
	}
	return clamp01(score)
}

func (Parallel) Arrange(steps []models.PlanStep) []models.PlanStep {
	out := cloneSteps(steps)
	var previous []string
	for start := 0; start < len(out); start += maxBatchSize {
		end := start + maxBatchSize
		if end > len(out) {
			end = len(out)
		}
		batch := start / maxBatchSize
		current := make([]string, 0, end-start)
		for i := start; i < end; i++ {
			out[i].Kind = models.StepParallel
			out[i].Batch = batch
			out[i].Dependencies = append([]string(nil), previous...)
			current = append(current, out[i].ID)
		}
		previous = current
	}
	return out
}

// Incremental interleaves an implement step and a validate step for each unit of work.
type Incremental struct{}

func (Incremental) Name() string { return "incremental" }

func (Incremental) Applicability(in PlanInput) float64 {
	score := 0.3 + 0.4*in.Assessment.Complexity
	if in.Assessment.RiskLevel > 0.4 {
		score += 0.2
	}
	return clamp01(score)
}

func (Incremental) Arrange(steps []models.PlanStep) []models.PlanStep {
	out := make([]models.PlanStep, 0, len(steps)*2)
	prev := ""
	for _, s := range steps {
		impl := s.Clone()
		impl.ID = s.ID + "-implement"
		impl.Description = "Implement: " + s.Description
		impl.Kind = models.StepSequential
		impl.Dependencies = nil
		if prev != "" {
			impl.Dependencies = []string{prev}
		}

		check := models.PlanStep{
			ID:                s.ID + "-validate",
			Description:       "Validate: " + s.Description,
			Kind:              models.StepAtomic,
			Complexity:        s.Complexity * validateDurationFactor,
			EstimatedDuration: scaleDuration(s.EstimatedDuration, validateDurationFactor),
			RiskLevel:         s.RiskLevel,
			Dependencies:      []string{impl.ID},
			SuccessCriteria:   []string{fmt.Sprintf("%s verified", impl.ID)},
			RollbackSteps:     []string{fmt.Sprintf("revert %s", impl.ID)},
		}
		out = append(out, impl, check)
		prev = check.ID
	}
	return out
}

// Adaptive chains steps and tags each with fallback triggers and checkpoints.
type Adaptive struct{}

func (Adaptive) Name() string { return "adaptive" }

func (Adaptive) Applicability(in PlanInput) float64 {
	score := 0.2 + 0.5*in.Assessment.RiskLevel
	if in.RiskTolerance < 0.4 {
		score += 0.2
	}
	return clamp01(score)
}

func (Adaptive) Arrange(steps []models.PlanStep) []models.PlanStep {
	out := Sequential{}.Arrange(steps)
	for i := range out {
		out[i].Kind = models.StepConditional
		retries := "2"
		if out[i].RiskLevel > 0.5 {
			retries = "3"
		}
		out[i].AdaptiveParameters = map[string]string{
			"fallback_trigger": "failure_or_timeout",
			"checkpoint":       fmt.Sprintf("after-%s", out[i].ID),
			"max_retries":      retries,
		}
	}
	return out
}

func cloneSteps(steps []models.PlanStep) []models.PlanStep {
	out := make([]models.PlanStep, len(steps))
	for i, s := range steps {
		out[i] = s.Clone()
	}
	return out
}
