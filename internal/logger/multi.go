package logger

import (
	"time"

	"github.com/harrison/kaizen/internal/learning"
	"github.com/harrison/kaizen/internal/models"
	"github.com/harrison/kaizen/internal/orchestrator"
	"github.com/harrison/kaizen/internal/pdca"
	"github.com/harrison/kaizen/internal/recovery"
)

// Logger is every event interface a kaizen run reports into, plus free-form
// messages.
type Logger interface {
	orchestrator.Logger
	recovery.Logger
	pdca.Logger
	Debugf(format string, args ...interface{})
	Infof(format string, args ...interface{})
	Errorf(format string, args ...interface{})
}

var (
	_ Logger = (*ConsoleLogger)(nil)
	_ Logger = (*EventLogger)(nil)
	_ Logger = Multi(nil)
	_ Logger = NoOp{}
)

// Multi forwards every event to each of its loggers in order.
type Multi []Logger

func (m Multi) Debugf(format string, args ...interface{}) {
	for _, l := range m {
		l.Debugf(format, args...)
	}
}

func (m Multi) Infof(format string, args ...interface{}) {
	for _, l := range m {
		l.Infof(format, args...)
	}
}

func (m Multi) Warnf(format string, args ...interface{}) {
	for _, l := range m {
		l.Warnf(format, args...)
	}
}

func (m Multi) Errorf(format string, args ...interface{}) {
	for _, l := range m {
		l.Errorf(format, args...)
	}
}

func (m Multi) LogTaskQueued(task models.Task) {
	for _, l := range m {
		l.LogTaskQueued(task)
	}
}

func (m Multi) LogTaskPaused(task models.Task, waitingOn []string) {
	for _, l := range m {
		l.LogTaskPaused(task, waitingOn)
	}
}

func (m Multi) LogTaskStart(task models.Task, executorID string, prediction learning.Prediction) {
	for _, l := range m {
		l.LogTaskStart(task, executorID, prediction)
	}
}

func (m Multi) LogTaskComplete(task models.Task, duration time.Duration) {
	for _, l := range m {
		l.LogTaskComplete(task, duration)
	}
}

func (m Multi) LogTaskFailed(task models.Task, err error) {
	for _, l := range m {
		l.LogTaskFailed(task, err)
	}
}

func (m Multi) LogQueueDrained(stats models.Statistics) {
	for _, l := range m {
		l.LogQueueDrained(stats)
	}
}

func (m Multi) LogRecoveryStart(ec *models.ErrorContext, diagnosis recovery.Diagnosis) {
	for _, l := range m {
		l.LogRecoveryStart(ec, diagnosis)
	}
}

func (m Multi) LogRecoveryAttempt(ec *models.ErrorContext, attempt models.RecoveryAttempt) {
	for _, l := range m {
		l.LogRecoveryAttempt(ec, attempt)
	}
}

func (m Multi) LogRecoveryResult(ec *models.ErrorContext, outcome *models.RecoveryOutcome) {
	for _, l := range m {
		l.LogRecoveryResult(ec, outcome)
	}
}

func (m Multi) LogCyclePhase(cycle *pdca.Cycle) {
	for _, l := range m {
		l.LogCyclePhase(cycle)
	}
}

func (m Multi) LogCheckResult(cycle *pdca.Cycle) {
	for _, l := range m {
		l.LogCheckResult(cycle)
	}
}

func (m Multi) LogCycleComplete(cycle *pdca.Cycle) {
	for _, l := range m {
		l.LogCycleComplete(cycle)
	}
}

// NoOp is a Logger that discards everything.
// Useful for testing or when logging is disabled.
type NoOp struct{}

func (NoOp) Debugf(string, ...interface{})                                   {}
func (NoOp) Infof(string, ...interface{})                                    {}
func (NoOp) Warnf(string, ...interface{})                                    {}
func (NoOp) Errorf(string, ...interface{})                                   {}
func (NoOp) LogTaskQueued(models.Task)                                       {}
func (NoOp) LogTaskPaused(models.Task, []string)                             {}
func (NoOp) LogTaskStart(models.Task, string, learning.Prediction)           {}
func (NoOp) LogTaskComplete(models.Task, time.Duration)                      {}
func (NoOp) LogTaskFailed(models.Task, error)                                {}
func (NoOp) LogQueueDrained(models.Statistics)                               {}
func (NoOp) LogRecoveryStart(*models.ErrorContext, recovery.Diagnosis)       {}
func (NoOp) LogRecoveryAttempt(*models.ErrorContext, models.RecoveryAttempt) {}
func (NoOp) LogRecoveryResult(*models.ErrorContext, *models.RecoveryOutcome) {}
func (NoOp) LogCyclePhase(*pdca.Cycle)                                       {}
func (NoOp) LogCheckResult(*pdca.Cycle)                                      {}
func (NoOp) LogCycleComplete(*pdca.Cycle)                                    {}
