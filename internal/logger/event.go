package logger

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/harrison/kaizen/internal/learning"
	"github.com/harrison/kaizen/internal/models"
	"github.com/harrison/kaizen/internal/pdca"
	"github.com/harrison/kaizen/internal/recovery"
)

// EventsFile is the name of the JSON lines file inside the log directory.
const EventsFile = "events.jsonl"

// traceLevel sits below zap's Debug level.
const traceLevel = zapcore.Level(-2)

// EventLogger writes every queue, recovery and cycle event as one JSON object
// per line. The "msg" key names the event.
type EventLogger struct {
	zap  *zap.Logger
	file *os.File
}

// NewEventLogger appends events to <logDir>/events.jsonl, creating the
// directory when needed.
func NewEventLogger(logDir, logLevel string) (*EventLogger, error) {
	if err := os.MkdirAll(logDir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create log directory: %w", err)
	}
	path := filepath.Join(logDir, EventsFile)
	file, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
	if err != nil {
		return nil, fmt.Errorf("failed to open event log: %w", err)
	}
	l := NewEventLoggerWithWriter(zapcore.Lock(file), logLevel)
	l.file = file
	return l, nil
}

// NewEventLoggerWithWriter writes events to w. This is useful for testing.
func NewEventLoggerWithWriter(w zapcore.WriteSyncer, logLevel string) *EventLogger {
	encoderCfg := zap.NewProductionEncoderConfig()
	encoderCfg.TimeKey = "ts"
	encoderCfg.EncodeTime = zapcore.ISO8601TimeEncoder
	encoderCfg.EncodeDuration = zapcore.StringDurationEncoder
	encoderCfg.EncodeLevel = func(l zapcore.Level, enc zapcore.PrimitiveArrayEncoder) {
		if l == traceLevel {
			enc.AppendString("trace")
			return
		}
		zapcore.LowercaseLevelEncoder(l, enc)
	}

	core := zapcore.NewCore(zapcore.NewJSONEncoder(encoderCfg), w, zapLevel(logLevel))
	return &EventLogger{zap: zap.New(core)}
}

// zapLevel maps the console level names onto zap levels.
func zapLevel(level string) zapcore.Level {
	switch normalizeLogLevel(level) {
	case "trace":
		return traceLevel
	case "debug":
		return zapcore.DebugLevel
	case "warn":
		return zapcore.WarnLevel
	case "error":
		return zapcore.ErrorLevel
	default:
		return zapcore.InfoLevel
	}
}

// Close flushes and closes the event log file.
func (el *EventLogger) Close() error {
	_ = el.zap.Sync()
	if el.file == nil {
		return nil
	}
	err := el.file.Close()
	el.file = nil
	if err != nil {
		return fmt.Errorf("failed to close event log: %w", err)
	}
	return nil
}

func (el *EventLogger) Debugf(format string, args ...interface{}) {
	el.zap.Debug("message", zap.String("text", fmt.Sprintf(format, args...)))
}

func (el *EventLogger) Infof(format string, args ...interface{}) {
	el.zap.Info("message", zap.String("text", fmt.Sprintf(format, args...)))
}

func (el *EventLogger) Warnf(format string, args ...interface{}) {
	el.zap.Warn("message", zap.String("text", fmt.Sprintf(format, args...)))
}

func (el *EventLogger) Errorf(format string, args ...interface{}) {
	el.zap.Error("message", zap.String("text", fmt.Sprintf(format, args...)))
}

func taskFields(task models.Task) []zap.Field {
	return []zap.Field{
		zap.String("task_id", task.ID),
		zap.String("task_type", task.Type),
		zap.String("priority", string(task.Priority)),
	}
}

func (el *EventLogger) LogTaskQueued(task models.Task) {
	el.zap.Debug("task_queued", append(taskFields(task),
		zap.Strings("dependencies", task.Dependencies),
		zap.String("description", task.Description))...)
}

func (el *EventLogger) LogTaskPaused(task models.Task, waitingOn []string) {
	el.zap.Info("task_paused", append(taskFields(task), zap.Strings("waiting_on", waitingOn))...)
}

func (el *EventLogger) LogTaskStart(task models.Task, executorID string, prediction learning.Prediction) {
	el.zap.Info("task_started", append(taskFields(task),
		zap.String("executor_id", executorID),
		zap.Float64("predicted_success", prediction.Probability),
		zap.Strings("risk_factors", prediction.RiskFactors))...)
}

func (el *EventLogger) LogTaskComplete(task models.Task, duration time.Duration) {
	el.zap.Info("task_completed", append(taskFields(task),
		zap.String("executor_id", task.AssignedExecutor),
		zap.Duration("duration", duration),
		zap.Strings("attempts", task.Attempts))...)
}

func (el *EventLogger) LogTaskFailed(task models.Task, err error) {
	el.zap.Error("task_failed", append(taskFields(task),
		zap.String("executor_id", task.AssignedExecutor),
		zap.Strings("attempts", task.Attempts),
		zap.Error(err))...)
}

func (el *EventLogger) LogQueueDrained(stats models.Statistics) {
	el.zap.Info("queue_drained",
		zap.Int("total_tasks", stats.TotalTasks),
		zap.Int("completed", stats.Completed),
		zap.Int("failed", stats.Failed),
		zap.Int("queue_size", stats.QueueSize),
		zap.Float64("success_rate", stats.SuccessRate),
		zap.Duration("average_execution_time", stats.AverageExecutionTime))
}

func (el *EventLogger) LogRecoveryStart(ec *models.ErrorContext, diagnosis recovery.Diagnosis) {
	el.zap.Warn("recovery_started",
		zap.String("task_id", ec.Task.ID),
		zap.String("error_kind", string(ec.Kind)),
		zap.String("criticality", string(ec.Criticality)),
		zap.String("message", ec.Message),
		zap.String("root_cause", diagnosis.RootCause),
		zap.String("impact", diagnosis.Impact))
}

func (el *EventLogger) LogRecoveryAttempt(ec *models.ErrorContext, attempt models.RecoveryAttempt) {
	el.zap.Info("recovery_attempt",
		zap.String("task_id", ec.Task.ID),
		zap.String("strategy", attempt.Strategy),
		zap.String("tier", string(attempt.Tier)),
		zap.Bool("success", attempt.Success),
		zap.String("outcome", attempt.Outcome))
}

func (el *EventLogger) LogRecoveryResult(ec *models.ErrorContext, outcome *models.RecoveryOutcome) {
	if outcome == nil {
		return
	}
	el.zap.Info("recovery_finished",
		zap.String("task_id", ec.Task.ID),
		zap.Bool("success", outcome.Success),
		zap.Bool("delivered", outcome.Delivered),
		zap.String("strategy", outcome.Strategy),
		zap.Duration("elapsed", outcome.Elapsed),
		zap.Float64("confidence", outcome.Confidence),
		zap.Int("attempts", len(ec.AttemptHistory)))
}

func (el *EventLogger) LogCyclePhase(cycle *pdca.Cycle) {
	el.zap.Info("cycle_phase",
		zap.String("cycle_id", cycle.ID),
		zap.String("title", cycle.Title),
		zap.String("status", string(cycle.Status)),
		zap.String("parent_id", cycle.ParentID))
}

func (el *EventLogger) LogCheckResult(cycle *pdca.Cycle) {
	if cycle.Check == nil {
		return
	}
	el.zap.Info("cycle_checked",
		zap.String("cycle_id", cycle.ID),
		zap.Float64("overall_score", cycle.Check.OverallScore),
		zap.Float64("efficiency", cycle.Check.Efficiency),
		zap.Float64("effectiveness", cycle.Check.Effectiveness),
		zap.Float64("quality", cycle.Check.Quality),
		zap.Int("deviations", len(cycle.Check.Deviations)),
		zap.Int("critical_deviations", cycle.Check.CountSeverity(pdca.SeverityCritical)))
}

func (el *EventLogger) LogCycleComplete(cycle *pdca.Cycle) {
	el.zap.Info("cycle_completed",
		zap.String("cycle_id", cycle.ID),
		zap.Int("actions", len(cycle.Actions)),
		zap.String("next_cycle_id", cycle.NextCycleID))
}
