package learning

import (
	"fmt"
	"sort"

	"github.com/harrison/kaizen/internal/analysis"
	"github.com/harrison/kaizen/internal/models"
)

// DefaultExecutorID is returned by SelectExecutor when there are no candidates.
const DefaultExecutorID = "default"

const (
	implementerBonus  = 0.15
	analystBonus      = 0.10
	highRiskThreshold = 0.7
	predictComplexity = 0.8
	similarityCutoff  = 0.8
	maxPrediction     = 0.95
	complexityPenalty = 0.85
	riskPenalty       = 0.9
	similarityBonus   = 1.1
)

// Selection is the outcome of SelectExecutor.
type Selection struct {
	ExecutorID string   `json:"executor_id"`
	Confidence float64  `json:"confidence"`
	Reasoning  []string `json:"reasoning"`
}

// Prediction is the outcome of Predict.
type Prediction struct {
	Probability     float64  `json:"probability"`
	RiskFactors     []string `json:"risk_factors,omitempty"`
	Recommendations []string `json:"recommendations,omitempty"`
}

// SelectExecutor scores each available candidate and returns the best one.
// Candidates are visited in ID order and ties keep the first, so the same inputs
// always give the same answer.
func (e *Engine) SelectExecutor(task models.Task, candidates []models.ExecutorCapability, history []models.ExecutionRecord) Selection {
	available := make([]models.ExecutorCapability, 0, len(candidates))
	for _, c := range candidates {
		if c.Available {
			available = append(available, c)
		}
	}
	if len(available) == 0 {
		return Selection{ExecutorID: DefaultExecutorID, Reasoning: []string{"no candidates; using default"}}
	}
	sort.Slice(available, func(i, j int) bool { return available[i].ID < available[j].ID })

	a := analysis.Analyze(task.Description)
	var pattern *models.LearningPattern
	for _, p := range e.DetectPatterns(history) {
		if p.TaskType == task.Type {
			p := p
			pattern = &p
			break
		}
	}

	bestIdx := -1
	var bestScore float64
	var bestReasons []string
	for i, c := range available {
		score := c.SuccessRate
		reasons := []string{fmt.Sprintf("%s base success rate %.2f", c.ID, c.SuccessRate)}
		if pattern != nil {
			if w, ok := pattern.SuccessFactors[c.ID]; ok {
				bonus := w * pattern.Confidence
				score += bonus
				reasons = append(reasons, fmt.Sprintf("pattern bonus %.2f for %s tasks", bonus, task.Type))
			}
		}
		if a.Complexity > complexityThreshold && c.Kind == models.KindImplementer {
			score += implementerBonus
			reasons = append(reasons, "implementer suits high complexity")
		}
		if a.RiskLevel > highRiskThreshold && c.Kind == models.KindAnalyst {
			score += analystBonus
			reasons = append(reasons, "analyst suits high risk")
		}
		if bestIdx < 0 || score > bestScore {
			bestIdx, bestScore, bestReasons = i, score, reasons
		}
	}

	confidence := bestScore
	if confidence > 1 {
		confidence = 1
	}
	return Selection{
		ExecutorID: available[bestIdx].ID,
		Confidence: round3(confidence),
		Reasoning:  bestReasons,
	}
}

// Predict estimates the probability that an executor completes a task.
func (e *Engine) Predict(task models.Task, executor models.ExecutorCapability, history []models.ExecutionRecord) Prediction {
	a := analysis.Analyze(task.Description)
	p := Prediction{Probability: executor.SuccessRate}

	if a.Complexity > predictComplexity {
		p.Probability *= complexityPenalty
		p.RiskFactors = append(p.RiskFactors, "high complexity")
		p.Recommendations = append(p.Recommendations, "split the task into smaller steps")
	}
	if a.RiskLevel > highRiskThreshold {
		p.Probability *= riskPenalty
		p.RiskFactors = append(p.RiskFactors, "high risk operation")
		p.Recommendations = append(p.Recommendations, "prepare a rollback before running")
	}

	for _, rec := range history {
		if rec.Success && analysis.JaccardSimilarity(task.Description, rec.Description) > similarityCutoff {
			p.Probability *= similarityBonus
			p.Recommendations = append(p.Recommendations, fmt.Sprintf("similar task %s succeeded before", rec.TaskID))
			break
		}
	}

	if p.Probability > maxPrediction {
		p.Probability = maxPrediction
	}
	if p.Probability < 0.5 {
		p.Recommendations = append(p.Recommendations, "consider an alternative executor")
	}
	p.Probability = round3(p.Probability)
	return p
}
