// Package logger provides logging implementations for kaizen runs.
//
// ConsoleLogger prints human-readable progress for the task queue, recovery
// sessions and PDCA cycles. EventLogger writes the same events as JSON lines
// for later analysis. Implementations are thread-safe.
package logger

import (
	"fmt"
	"io"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/fatih/color"
	"github.com/mattn/go-isatty"

	"github.com/harrison/kaizen/internal/learning"
	"github.com/harrison/kaizen/internal/models"
)

// Log level constants for filtering
const (
	levelTrace int = 0
	levelDebug int = 1
	levelInfo  int = 2
	levelWarn  int = 3
	levelError int = 4
)

// ConsoleLogger logs queue progress to a writer with timestamps and thread safety.
// All output is prefixed with [HH:MM:SS] timestamps for tracking execution flow.
// It supports log level filtering to control message verbosity.
// Color output is automatically enabled for terminal output (os.Stdout/os.Stderr).
type ConsoleLogger struct {
	writer      io.Writer
	logLevel    string
	mutex       sync.Mutex
	colorOutput bool

	// queue progress since the logger was created
	queued   int
	finished int
	busy     time.Duration
}

// NewConsoleLogger creates a ConsoleLogger that writes to the provided io.Writer.
// If writer is nil, messages are silently discarded.
// Valid levels: trace, debug, info, warn, error (case-insensitive).
// If logLevel is empty or invalid, defaults to "info".
func NewConsoleLogger(writer io.Writer, logLevel string) *ConsoleLogger {
	return &ConsoleLogger{
		writer:      writer,
		logLevel:    normalizeLogLevel(logLevel),
		colorOutput: isTerminal(writer),
	}
}

// isTerminal reports whether w is os.Stdout or os.Stderr attached to a TTY
// and colors have not been disabled through NO_COLOR.
func isTerminal(w io.Writer) bool {
	f, ok := w.(*os.File)
	if !ok || (f != os.Stdout && f != os.Stderr) {
		return false
	}
	if color.NoColor {
		return false
	}
	return isatty.IsTerminal(f.Fd()) || isatty.IsCygwinTerminal(f.Fd())
}

// normalizeLogLevel converts a log level string to lowercase and validates it.
// Returns "info" as default for empty or invalid levels.
func normalizeLogLevel(level string) string {
	normalized := strings.ToLower(strings.TrimSpace(level))
	switch normalized {
	case "trace", "debug", "info", "warn", "error":
		return normalized
	case "warning":
		return "warn"
	}
	return "info"
}

// logLevelToInt converts a log level string to its numeric value.
func logLevelToInt(level string) int {
	switch level {
	case "trace":
		return levelTrace
	case "debug":
		return levelDebug
	case "info":
		return levelInfo
	case "warn":
		return levelWarn
	case "error":
		return levelError
	default:
		return levelInfo
	}
}

// shouldLog checks if a message at the given level should be logged.
func (cl *ConsoleLogger) shouldLog(messageLevel string) bool {
	return logLevelToInt(messageLevel) >= logLevelToInt(cl.logLevel)
}

// Tracef logs a trace-level message (most verbose).
func (cl *ConsoleLogger) Tracef(format string, args ...interface{}) {
	cl.logWithLevel("TRACE", fmt.Sprintf(format, args...))
}

// Debugf logs a debug-level message.
func (cl *ConsoleLogger) Debugf(format string, args ...interface{}) {
	cl.logWithLevel("DEBUG", fmt.Sprintf(format, args...))
}

// Infof logs an info-level message.
func (cl *ConsoleLogger) Infof(format string, args ...interface{}) {
	cl.logWithLevel("INFO", fmt.Sprintf(format, args...))
}

// Warnf logs a warning-level message.
func (cl *ConsoleLogger) Warnf(format string, args ...interface{}) {
	cl.logWithLevel("WARN", fmt.Sprintf(format, args...))
}

// Errorf logs an error-level message.
func (cl *ConsoleLogger) Errorf(format string, args ...interface{}) {
	cl.logWithLevel("ERROR", fmt.Sprintf(format, args...))
}

// logWithLevel writes "[HH:MM:SS] [LEVEL] <message>" if filtering allows it.
func (cl *ConsoleLogger) logWithLevel(level string, message string) {
	if cl.writer == nil || !cl.shouldLog(strings.ToLower(level)) {
		return
	}

	cl.mutex.Lock()
	defer cl.mutex.Unlock()
	cl.writeLine(level, message)
}

// writeLine formats and writes one line. Callers hold the mutex.
func (cl *ConsoleLogger) writeLine(level, message string) {
	ts := timestamp()
	var formatted string
	if cl.colorOutput {
		formatted = cl.formatWithColor(ts, level, message)
	} else {
		formatted = fmt.Sprintf("[%s] [%s] %s\n", ts, level, message)
	}
	cl.writer.Write([]byte(formatted))
}

// formatWithColor formats a log message with ANSI color codes.
func (cl *ConsoleLogger) formatWithColor(ts, level, message string) string {
	var coloredLevel string

	switch strings.ToUpper(level) {
	case "TRACE":
		coloredLevel = color.New(color.FgHiBlack).Sprint(level)
	case "DEBUG":
		coloredLevel = color.New(color.FgCyan).Sprint(level)
	case "INFO":
		coloredLevel = color.New(color.FgBlue).Sprint(level)
	case "WARN":
		coloredLevel = color.New(color.FgYellow).Sprint(level)
	case "ERROR":
		coloredLevel = color.New(color.FgRed).Sprint(level)
	default:
		coloredLevel = level
	}

	return fmt.Sprintf("[%s] [%s] %s\n", ts, coloredLevel, message)
}

// LogTaskQueued logs a newly queued task at DEBUG level and counts it towards
// the progress bar.
func (cl *ConsoleLogger) LogTaskQueued(task models.Task) {
	cl.mutex.Lock()
	cl.queued++
	cl.mutex.Unlock()

	cl.Debugf("Queued task %s (%s, %s): %s", shortID(task.ID), task.Type, task.Priority, firstLine(task.Description))
}

// LogTaskPaused logs a task held back by unfinished dependencies.
func (cl *ConsoleLogger) LogTaskPaused(task models.Task, waitingOn []string) {
	ids := make([]string, len(waitingOn))
	for i, id := range waitingOn {
		ids[i] = shortID(id)
	}
	cl.Infof("Task %s paused, waiting on %s", shortID(task.ID), strings.Join(ids, ", "))
}

// LogTaskStart logs the executor chosen for a task with its predicted chance of
// success. Risk factors and recommendations follow at DEBUG level.
func (cl *ConsoleLogger) LogTaskStart(task models.Task, executorID string, prediction learning.Prediction) {
	cl.Infof("Starting task %s on %s (predicted success %.0f%%): %s",
		shortID(task.ID), executorID, prediction.Probability*100, firstLine(task.Description))
	for _, r := range prediction.RiskFactors {
		cl.Debugf("  risk: %s", r)
	}
	for _, r := range prediction.Recommendations {
		cl.Debugf("  recommendation: %s", r)
	}
}

// LogTaskComplete logs a completed task and the queue progress.
func (cl *ConsoleLogger) LogTaskComplete(task models.Task, duration time.Duration) {
	if cl.writer == nil || !cl.shouldLog("info") {
		cl.countFinished(duration)
		return
	}

	cl.mutex.Lock()
	defer cl.mutex.Unlock()

	msg := fmt.Sprintf("Task %s completed on %s (%s)", shortID(task.ID), task.AssignedExecutor, formatDuration(duration))
	if n := len(task.Attempts); n > 0 {
		msg += fmt.Sprintf(" after recovery: %s", strings.Join(task.Attempts, " -> "))
	}
	if cl.colorOutput {
		msg = color.New(color.FgGreen).Sprint(msg)
	}
	cl.writeLine("INFO", msg)

	cl.finished++
	cl.busy += duration
	cl.writeProgress()
}

// LogTaskFailed logs a failed task at ERROR level and the queue progress.
func (cl *ConsoleLogger) LogTaskFailed(task models.Task, err error) {
	if cl.writer == nil || !cl.shouldLog("error") {
		cl.countFinished(task.Duration())
		return
	}

	cl.mutex.Lock()
	defer cl.mutex.Unlock()

	reason := task.Error
	if err != nil {
		reason = err.Error()
	}
	cl.writeLine("ERROR", fmt.Sprintf("Task %s failed: %s", shortID(task.ID), reason))

	cl.finished++
	cl.busy += task.Duration()
	if cl.shouldLog("info") {
		cl.writeProgress()
	}
}

func (cl *ConsoleLogger) countFinished(d time.Duration) {
	cl.mutex.Lock()
	cl.finished++
	cl.busy += d
	cl.mutex.Unlock()
}

// writeProgress writes "[HH:MM:SS] Progress: [=====     ] 5/10 (50%) - Avg: 3s/task".
// Callers hold the mutex.
func (cl *ConsoleLogger) writeProgress() {
	pb := NewProgressBar(cl.queued, 10, cl.colorOutput)
	pb.Update(cl.finished)

	var avg string
	if cl.finished > 0 {
		avg = fmt.Sprintf(" - Avg: %s/task", formatDuration(cl.busy/time.Duration(cl.finished)))
	}
	fmt.Fprintf(cl.writer, "[%s] Progress: %s%s\n", timestamp(), pb.Render(), avg)
}

// LogQueueDrained logs the queue summary at INFO level.
// Format: "[HH:MM:SS] === Queue Summary ===" followed by one line per figure and
// one line per executor.
func (cl *ConsoleLogger) LogQueueDrained(stats models.Statistics) {
	if cl.writer == nil || !cl.shouldLog("info") {
		return
	}

	cl.mutex.Lock()
	defer cl.mutex.Unlock()

	ts := timestamp()
	scheme := newColorScheme(cl.colorOutput)

	var b strings.Builder
	fmt.Fprintf(&b, "[%s] %s\n", ts, scheme.header.Sprint("=== Queue Summary ==="))
	for _, line := range formatStatistics(stats, scheme) {
		fmt.Fprintf(&b, "[%s] %s\n", ts, line)
	}
	cl.writer.Write([]byte(b.String()))
}

// timestamp returns the current time formatted as "15:04:05" (HH:MM:SS).
func timestamp() string {
	return time.Now().Format("15:04:05")
}

// formatDuration converts a time.Duration to a human-readable string.
// Examples: "5s", "1m30s", "2h15m". Durations under a second keep milliseconds.
func formatDuration(d time.Duration) string {
	switch {
	case d >= time.Hour:
		hours := d / time.Hour
		remainder := d % time.Hour
		if remainder == 0 {
			return fmt.Sprintf("%dh", hours)
		}
		minutes := remainder / time.Minute
		remainder = remainder % time.Minute
		if remainder == 0 {
			return fmt.Sprintf("%dh%dm", hours, minutes)
		}
		seconds := remainder / time.Second
		return fmt.Sprintf("%dh%dm%ds", hours, minutes, seconds)
	case d >= time.Minute:
		minutes := d / time.Minute
		remainder := d % time.Minute
		if remainder == 0 {
			return fmt.Sprintf("%dm", minutes)
		}
		seconds := remainder / time.Second
		return fmt.Sprintf("%dm%ds", minutes, seconds)
	case d > 0 && d < time.Second:
		return fmt.Sprintf("%dms", d.Milliseconds())
	default:
		return fmt.Sprintf("%ds", int64(d.Seconds()))
	}
}

// shortID keeps the first block of a UUID.
func shortID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}

func firstLine(s string) string {
	if i := strings.IndexByte(s, '\n'); i >= 0 {
		return s[:i]
	}
	return s
}
