package models

import "time"

// ErrorKind is the coarse classification of an execution failure.
type ErrorKind string

const (
	ErrorKindTimeout    ErrorKind = "timeout_error"
	ErrorKindMemory     ErrorKind = "memory_error"
	ErrorKindNetwork    ErrorKind = "network_error"
	ErrorKindPermission ErrorKind = "permission_error"
	ErrorKindGeneric    ErrorKind = "generic_error"
)

// Criticality ranks how bad a failure is for the surrounding work.
type Criticality string

const (
	CriticalityLow      Criticality = "low"
	CriticalityMedium   Criticality = "medium"
	CriticalityHigh     Criticality = "high"
	CriticalityCritical Criticality = "critical"
)

// CriticalityForPriority maps a task priority onto failure criticality.
func CriticalityForPriority(p Priority) Criticality {
	switch p {
	case PriorityCritical:
		return CriticalityCritical
	case PriorityHigh:
		return CriticalityHigh
	case PriorityLow:
		return CriticalityLow
	default:
		return CriticalityMedium
	}
}

// Tier is a recovery escalation level.
type Tier string

const (
	TierPrimary   Tier = "primary"
	TierFallback  Tier = "fallback"
	TierEmergency Tier = "emergency"
)

// RecoveryAttempt is one strategy invocation recorded during a recovery session
type RecoveryAttempt struct {
	Strategy string `json:"strategy"`
	Tier     Tier   `json:"tier"`
	Success  bool   `json:"success"`
	Outcome  string `json:"outcome"`
	// Timeout is the time the attempt was allowed to run.
	Timeout   time.Duration `json:"timeout"`
	Timestamp time.Time     `json:"timestamp"`
}

// ErrorContext captures everything known about a failure at the moment it happened.
// It lives for one recovery session.
type ErrorContext struct {
	Kind           ErrorKind          `json:"kind"`
	Message        string             `json:"message"`
	Task           Task               `json:"task"`
	ExecutorID     string             `json:"executor_id,omitempty"`
	Environment    map[string]string  `json:"environment,omitempty"`
	Resources      map[string]float64 `json:"resources,omitempty"`
	AttemptHistory []RecoveryAttempt  `json:"attempt_history"`
	Criticality    Criticality        `json:"criticality"`
	OccurredAt     time.Time          `json:"occurred_at"`
}

// AttemptsOf counts how many times a strategy has already been attempted.
func (ec *ErrorContext) AttemptsOf(strategy string) int {
	n := 0
	for _, a := range ec.AttemptHistory {
		if a.Strategy == strategy {
			n++
		}
	}
	return n
}

// StrategiesTried returns the attempted strategy names in order.
func (ec *ErrorContext) StrategiesTried() []string {
	names := make([]string, 0, len(ec.AttemptHistory))
	for _, a := range ec.AttemptHistory {
		names = append(names, a.Strategy)
	}
	return names
}

// RecoveryOutcome is what a recovery strategy (and a whole session) reports
type RecoveryOutcome struct {
	Success bool `json:"success"`
	// Delivered is true when the strategy produced the task's result rather than
	// only returning the system to a consistent state.
	Delivered          bool          `json:"delivered"`
	Strategy           string        `json:"strategy"`
	Tier               Tier          `json:"tier"`
	Elapsed            time.Duration `json:"elapsed"`
	Confidence         float64       `json:"confidence"`
	PreventiveMeasures []string      `json:"preventive_measures,omitempty"`
	FollowUps          []string      `json:"follow_ups,omitempty"`
	RootCause          string        `json:"root_cause,omitempty"`
	Output             string        `json:"output,omitempty"`
	Message            string        `json:"message,omitempty"`
}

// LearningPattern is a derived task-type/executor correlation
type LearningPattern struct {
	TaskType       string             `json:"task_type"`
	Keywords       []string           `json:"keywords"`
	SuccessFactors map[string]float64 `json:"success_factors"`
	FailureFactors map[string]float64 `json:"failure_factors"`
	Confidence     float64            `json:"confidence"`
	SampleSize     int                `json:"sample_size"`
}
