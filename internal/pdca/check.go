package pdca

import (
	"fmt"
	"math"
	"strings"

	"github.com/harrison/kaizen/internal/models"
)

const (
	achievedRatio        = 0.9
	deviationTolerance   = 10.0
	highDeviation        = 30.0
	criticalPenalty      = 20.0
	highPenalty          = 10.0
	improvementThreshold = 0.7
	followUpScore        = 80.0
)

// Evaluate compares the realized metrics of exec with their targets and scores
// the cycle. The realized value of a metric is its last sample, or a fresh
// sample from sampler when Do recorded none.
func Evaluate(metrics []Metric, exec *Execution, sampler Sampler) CheckResult {
	var check CheckResult

	for _, m := range metrics {
		actual, ok := lastSample(exec, m.Name)
		if !ok {
			actual = sampler.Sample(m, exec)
		}
		achieved := actual >= achievedRatio*m.Target
		check.Metrics = append(check.Metrics, MetricResult{
			Name:     m.Name,
			Target:   m.Target,
			Actual:   actual,
			Achieved: achieved,
		})

		percent := deviationPercent(m.Target, actual)
		if percent > deviationTolerance {
			severity := SeverityMedium
			if percent > highDeviation {
				severity = SeverityHigh
			}
			if m.Critical {
				severity = SeverityCritical
			}
			check.Deviations = append(check.Deviations, Deviation{
				Metric:      m.Name,
				Target:      m.Target,
				Actual:      actual,
				Percent:     percent,
				Severity:    severity,
				Description: fmt.Sprintf("%s at %.1f%s, %.1f%% below target %.1f", m.Name, actual, unitSuffix(m.Unit), percent, m.Target),
			})
			check.Learnings = append(check.Learnings, Learning{
				Kind:        LearningImprovement,
				Description: fmt.Sprintf("raise %s from %.1f to %.1f", m.Name, actual, m.Target),
				Confidence:  round2(math.Min(0.95, 0.5+percent/100)),
			})
		} else if achieved {
			check.Learnings = append(check.Learnings, Learning{
				Kind:        LearningSuccess,
				Description: fmt.Sprintf("practices behind %s met the target", m.Name),
				Confidence:  0.8,
			})
		}
	}

	check.Risks = identifyRisks(exec)

	check.Efficiency = efficiency(exec)
	if exec.Planned > 0 {
		check.Effectiveness = round1(100 * float64(exec.Completed()) / float64(exec.Planned))
	}
	check.Quality = math.Max(0, 100-criticalPenalty*float64(check.CountSeverity(SeverityCritical))-highPenalty*float64(check.CountSeverity(SeverityHigh)))
	check.OverallScore = round1((check.Efficiency + check.Effectiveness + check.Quality) / 3)

	// a success only generalizes when the whole plan went through cleanly
	clean := exec.Planned > 0 && exec.FirstPass() == exec.Planned
	for i := range check.Learnings {
		if check.Learnings[i].Kind == LearningSuccess {
			check.Learnings[i].General = clean
		}
	}
	return check
}

// NeedsFollowUp reports whether a check result calls for a child cycle.
func NeedsFollowUp(check CheckResult) bool {
	return check.OverallScore < followUpScore || check.CountSeverity(SeverityCritical) > 0
}

// PlanActions derives the Act-phase actions from a check result. IDs are left
// for the caller to assign.
func PlanActions(check CheckResult) []Action {
	var actions []Action
	for _, d := range check.Deviations {
		if d.Severity == SeverityHigh || d.Severity == SeverityCritical {
			actions = append(actions, Action{Kind: ActionCorrective, Description: "correct " + d.Description})
		}
	}
	for _, r := range check.Risks {
		actions = append(actions, Action{Kind: ActionPreventive, Description: "prevent " + r})
	}
	for _, l := range check.Learnings {
		switch {
		case l.Kind == LearningImprovement && l.Confidence > improvementThreshold:
			actions = append(actions, Action{Kind: ActionImprovement, Description: l.Description})
		case l.Kind == LearningSuccess && l.General:
			actions = append(actions, Action{Kind: ActionStandardization, Description: "standardize " + l.Description})
		}
	}
	for i := range actions {
		actions[i].Status = "pending"
	}
	return actions
}

// FollowUpObjectives carries the objectives forward and adds one for every
// pending corrective or improvement action.
func FollowUpObjectives(objectives []string, actions []Action) []string {
	out := append([]string(nil), objectives...)
	for _, a := range actions {
		if a.Status != "pending" {
			continue
		}
		if a.Kind == ActionCorrective || a.Kind == ActionImprovement {
			out = append(out, a.Description)
		}
	}
	return out
}

func lastSample(exec *Execution, metric string) (float64, bool) {
	for i := len(exec.Samples) - 1; i >= 0; i-- {
		if exec.Samples[i].Metric == metric {
			return exec.Samples[i].Value, true
		}
	}
	return 0, false
}

// deviationPercent is the shortfall against target as a percentage, capped at 100.
func deviationPercent(target, actual float64) float64 {
	if target <= 0 || actual >= target {
		return 0
	}
	return round1(math.Min(100, (target-actual)/target*100))
}

func identifyRisks(exec *Execution) []string {
	var risks []string
	for _, s := range exec.Steps {
		switch {
		case s.Status != models.TaskCompleted:
			msg := s.Error
			if msg == "" {
				msg = string(s.Status)
			}
			risks = append(risks, fmt.Sprintf("step %s failure: %s", s.StepID, firstLine(msg)))
		case len(s.Attempts) > 0:
			risks = append(risks, fmt.Sprintf("step %s needed recovery (attempted: %s)", s.StepID, strings.Join(s.Attempts, ", ")))
		}
	}
	return risks
}

// efficiency is estimated over actual time as a percentage, capped at 100.
func efficiency(exec *Execution) float64 {
	if exec.ActualDuration <= 0 {
		if exec.Planned == 0 {
			return 0
		}
		return 100
	}
	return round1(math.Min(100, float64(exec.EstimatedDuration)/float64(exec.ActualDuration)*100))
}

func unitSuffix(unit string) string {
	if unit == "percent" {
		return "%"
	}
	return ""
}

func firstLine(s string) string {
	if i := strings.IndexByte(s, '\n'); i >= 0 {
		return s[:i]
	}
	return s
}

func round1(v float64) float64 { return math.Round(v*10) / 10 }
func round2(v float64) float64 { return math.Round(v*100) / 100 }
