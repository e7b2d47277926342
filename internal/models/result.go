package models

import "time"

// Executor kinds with dedicated selection bonuses.
const (
	KindImplementer = "implementer"
	KindAnalyst     = "analyst"
	KindGeneral     = "general"
)

// Success-rate bounds for ExecutorCapability.SuccessRate.
const (
	MinSuccessRate = 0.05
	MaxSuccessRate = 0.98
)

// ExecutorCapability tracks what the core knows about one executor
type ExecutorCapability struct {
	ID          string    `json:"id"`
	Kind        string    `json:"kind"`
	Available   bool      `json:"available"`
	SuccessRate float64   `json:"success_rate"`
	LastUsed    time.Time `json:"last_used,omitempty"`
	Runs        int       `json:"runs"`
}

// ClampSuccessRate bounds a rate to [MinSuccessRate, MaxSuccessRate].
func ClampSuccessRate(rate float64) float64 {
	if rate < MinSuccessRate {
		return MinSuccessRate
	}
	if rate > MaxSuccessRate {
		return MaxSuccessRate
	}
	return rate
}

// ExecutionRecord is one terminal task outcome as kept in history
type ExecutionRecord struct {
	TaskID      string        `json:"task_id"`
	TaskType    string        `json:"task_type"`
	Description string        `json:"description"`
	ExecutorID  string        `json:"executor_id"`
	Success     bool          `json:"success"`
	Duration    time.Duration `json:"duration"`
	ErrorKind   ErrorKind     `json:"error_kind,omitempty"`
	Strategy    string        `json:"strategy,omitempty"` // Recovery strategy that resolved the task, if any
	Timestamp   time.Time     `json:"timestamp"`
}

// ExecutorStats is the per-executor section of Statistics
type ExecutorStats struct {
	ID          string  `json:"id"`
	Kind        string  `json:"kind"`
	Available   bool    `json:"available"`
	SuccessRate float64 `json:"success_rate"`
	Runs        int     `json:"runs"`
}

// Statistics summarizes orchestrator state
type Statistics struct {
	QueueSize            int             `json:"queue_size"`
	TotalTasks           int             `json:"total_tasks"`
	Completed            int             `json:"completed"`
	Failed               int             `json:"failed"`
	SuccessRate          float64         `json:"success_rate"`
	FailureRate          float64         `json:"failure_rate"`
	AverageExecutionTime time.Duration   `json:"average_execution_time"`
	Executors            []ExecutorStats `json:"executors"`
}
