// Package pdca drives Plan, Do, Check and Act cycles over the planner and the
// task orchestrator.
package pdca

import (
	"errors"
	"strings"
	"time"

	"github.com/harrison/kaizen/internal/models"
)

// Status is the phase a cycle is in. Phases advance strictly in declaration order.
type Status string

const (
	StatusPlanning  Status = "planning"
	StatusExecuting Status = "executing"
	StatusChecking  Status = "checking"
	StatusActing    Status = "acting"
	StatusCompleted Status = "completed"
)

var (
	ErrCycleNotFound  = errors.New("cycle not found")
	ErrCycleRunning   = errors.New("cycle is already running")
	ErrCycleCompleted = errors.New("cycle already completed")
	ErrEmptyTitle     = errors.New("cycle title is required")
)

// MetricCompletion is the metric every cycle tracks.
const MetricCompletion = "completion_rate"

// Metric is a target derived from the cycle objectives.
type Metric struct {
	Name     string  `json:"name"`
	Target   float64 `json:"target"`
	Unit     string  `json:"unit"`
	Critical bool    `json:"critical"` // Deviations escalate to critical severity
}

// Sample is one point of a metric time series collected during Do.
type Sample struct {
	Metric string    `json:"metric"`
	Value  float64   `json:"value"`
	StepID string    `json:"step_id"`
	At     time.Time `json:"at"`
}

// StepResult is the outcome of one plan step run as an orchestrator task.
type StepResult struct {
	StepID   string            `json:"step_id"`
	TaskID   string            `json:"task_id"`
	Status   models.TaskStatus `json:"status"`
	Error    string            `json:"error,omitempty"`
	Attempts []string          `json:"attempts,omitempty"`
	Duration time.Duration     `json:"duration"`
}

// Execution is the record of the Do phase.
type Execution struct {
	Planned           int           `json:"planned"`
	Steps             []StepResult  `json:"steps"`
	Samples           []Sample      `json:"samples"`
	EstimatedDuration time.Duration `json:"estimated_duration"`
	ActualDuration    time.Duration `json:"actual_duration"`
	StartedAt         time.Time     `json:"started_at"`
	FinishedAt        time.Time     `json:"finished_at"`
}

// Completed counts steps whose task completed.
func (e *Execution) Completed() int {
	n := 0
	for _, s := range e.Steps {
		if s.Status == models.TaskCompleted {
			n++
		}
	}
	return n
}

// FirstPass counts steps that completed without any recovery attempt.
func (e *Execution) FirstPass() int {
	n := 0
	for _, s := range e.Steps {
		if s.Status == models.TaskCompleted && len(s.Attempts) == 0 {
			n++
		}
	}
	return n
}

// Severity grades a metric deviation.
type Severity string

const (
	SeverityMedium   Severity = "medium"
	SeverityHigh     Severity = "high"
	SeverityCritical Severity = "critical"
)

// MetricResult compares one realized metric with its target.
type MetricResult struct {
	Name     string  `json:"name"`
	Target   float64 `json:"target"`
	Actual   float64 `json:"actual"`
	Achieved bool    `json:"achieved"`
}

// Deviation is a target missed by more than the tolerance.
type Deviation struct {
	Metric      string   `json:"metric"`
	Target      float64  `json:"target"`
	Actual      float64  `json:"actual"`
	Percent     float64  `json:"percent"`
	Severity    Severity `json:"severity"`
	Description string   `json:"description"`
}

// LearningKind separates improvement opportunities from practices that worked.
type LearningKind string

const (
	LearningImprovement LearningKind = "improvement"
	LearningSuccess     LearningKind = "success"
)

// Learning is an observation made during Check.
type Learning struct {
	Kind        LearningKind `json:"kind"`
	Description string       `json:"description"`
	Confidence  float64      `json:"confidence"`
	General     bool         `json:"general"` // Applicable beyond this cycle
}

// CheckResult is the record of the Check phase.
type CheckResult struct {
	Metrics       []MetricResult `json:"metrics"`
	Deviations    []Deviation    `json:"deviations"`
	Risks         []string       `json:"risks,omitempty"`
	Learnings     []Learning     `json:"learnings,omitempty"`
	OverallScore  float64        `json:"overall_score"`
	Efficiency    float64        `json:"efficiency"`
	Effectiveness float64        `json:"effectiveness"`
	Quality       float64        `json:"quality"`
}

// CountSeverity returns how many deviations have severity s.
func (c *CheckResult) CountSeverity(s Severity) int {
	n := 0
	for _, d := range c.Deviations {
		if d.Severity == s {
			n++
		}
	}
	return n
}

// ActionKind is the category of an Act-phase action.
type ActionKind string

const (
	ActionCorrective      ActionKind = "corrective"
	ActionPreventive      ActionKind = "preventive"
	ActionImprovement     ActionKind = "improvement"
	ActionStandardization ActionKind = "standardization"
)

// Action is a follow-up emitted by the Act phase.
type Action struct {
	ID          string     `json:"id"`
	Kind        ActionKind `json:"kind"`
	Description string     `json:"description"`
	Status      string     `json:"status"`
}

// Cycle is one Plan, Do, Check and Act pass.
type Cycle struct {
	ID          string       `json:"id"`
	Title       string       `json:"title"`
	Objectives  []string     `json:"objectives"`
	Metrics     []Metric     `json:"metrics"`
	Plan        *models.Plan `json:"plan,omitempty"`
	Execution   *Execution   `json:"execution,omitempty"`
	Check       *CheckResult `json:"check,omitempty"`
	Actions     []Action     `json:"actions,omitempty"`
	Status      Status       `json:"status"`
	ParentID    string       `json:"parent_id,omitempty"`
	NextCycleID string       `json:"next_cycle_id,omitempty"`
	CreatedAt   time.Time    `json:"created_at"`
	UpdatedAt   time.Time    `json:"updated_at"`
}

// Clone returns a deep copy of the cycle.
func (c *Cycle) Clone() *Cycle {
	out := *c
	out.Objectives = append([]string(nil), c.Objectives...)
	out.Metrics = append([]Metric(nil), c.Metrics...)
	out.Plan = c.Plan.Clone()
	if c.Execution != nil {
		e := *c.Execution
		e.Steps = make([]StepResult, len(c.Execution.Steps))
		for i, s := range c.Execution.Steps {
			s.Attempts = append([]string(nil), s.Attempts...)
			e.Steps[i] = s
		}
		e.Samples = append([]Sample(nil), c.Execution.Samples...)
		out.Execution = &e
	}
	if c.Check != nil {
		ch := *c.Check
		ch.Metrics = append([]MetricResult(nil), c.Check.Metrics...)
		ch.Deviations = append([]Deviation(nil), c.Check.Deviations...)
		ch.Risks = append([]string(nil), c.Check.Risks...)
		ch.Learnings = append([]Learning(nil), c.Check.Learnings...)
		out.Check = &ch
	}
	out.Actions = append([]Action(nil), c.Actions...)
	return &out
}

// metricRules maps objective markers, matched as lowercase substrings, to the
// metric they imply.
var metricRules = []struct {
	markers []string
	metric  Metric
}{
	{[]string{"organiz", "structure", "layout"}, Metric{Name: "organization_score", Target: 85, Unit: "score"}},
	{[]string{"quality", "bug", "defect"}, Metric{Name: "quality_score", Target: 90, Unit: "score", Critical: true}},
	{[]string{"perform", "speed", "fast", "latency"}, Metric{Name: "performance_score", Target: 80, Unit: "score"}},
	{[]string{"test", "coverage"}, Metric{Name: "test_coverage", Target: 80, Unit: "percent"}},
	{[]string{"secur", "vulnerab"}, Metric{Name: "security_score", Target: 95, Unit: "score", Critical: true}},
	{[]string{"document", "docs"}, Metric{Name: "documentation_score", Target: 75, Unit: "score"}},
}

// DeriveMetrics returns the completion metric followed by every metric whose
// keywords appear in the objectives, in table order.
func DeriveMetrics(objectives []string) []Metric {
	metrics := []Metric{{Name: MetricCompletion, Target: 100, Unit: "percent", Critical: true}}
	text := strings.ToLower(strings.Join(objectives, " "))
	for _, rule := range metricRules {
		for _, m := range rule.markers {
			if strings.Contains(text, m) {
				metrics = append(metrics, rule.metric)
				break
			}
		}
	}
	return metrics
}

// Sampler turns an execution snapshot into a metric value.
type Sampler interface {
	Sample(metric Metric, exec *Execution) float64
}

// ExecutionSampler measures completion as the share of planned steps completed,
// and every other metric as the share completed without recovery.
type ExecutionSampler struct{}

// Sample implements Sampler.
func (ExecutionSampler) Sample(metric Metric, exec *Execution) float64 {
	if exec.Planned == 0 {
		return 0
	}
	if metric.Name == MetricCompletion {
		return round1(100 * float64(exec.Completed()) / float64(exec.Planned))
	}
	return round1(100 * float64(exec.FirstPass()) / float64(exec.Planned))
}
