package logger

import (
	"fmt"
	"strings"

	"github.com/harrison/kaizen/internal/models"
	"github.com/harrison/kaizen/internal/pdca"
	"github.com/harrison/kaizen/internal/recovery"
)

// LogRecoveryStart logs the failure being recovered and its diagnosis.
func (cl *ConsoleLogger) LogRecoveryStart(ec *models.ErrorContext, diagnosis recovery.Diagnosis) {
	cl.Warnf("Recovering task %s from %s: %s", shortID(ec.Task.ID), ec.Kind, firstLine(ec.Message))
	cl.Debugf("  diagnosis: %s (impact %s, resources %s)", diagnosis.RootCause, diagnosis.Impact, diagnosis.ResourcePressure)
}

// LogRecoveryAttempt logs one strategy invocation.
func (cl *ConsoleLogger) LogRecoveryAttempt(ec *models.ErrorContext, attempt models.RecoveryAttempt) {
	if attempt.Success {
		cl.Infof("  %s (%s) succeeded: %s", attempt.Strategy, attempt.Tier, attempt.Outcome)
		return
	}
	cl.Warnf("  %s (%s) failed: %s", attempt.Strategy, attempt.Tier, attempt.Outcome)
}

// LogRecoveryResult logs how the recovery session ended.
func (cl *ConsoleLogger) LogRecoveryResult(ec *models.ErrorContext, outcome *models.RecoveryOutcome) {
	if outcome == nil {
		return
	}
	if outcome.Success {
		cl.Infof("Recovered task %s with %s in %s (confidence %.2f)",
			shortID(ec.Task.ID), outcome.Strategy, formatDuration(outcome.Elapsed), outcome.Confidence)
	} else {
		cl.Errorf("Recovery exhausted for task %s after %d attempts", shortID(ec.Task.ID), len(ec.AttemptHistory))
	}
	for _, m := range outcome.PreventiveMeasures {
		cl.Debugf("  prevent: %s", m)
	}
}

// LogCyclePhase logs a cycle entering a new phase.
func (cl *ConsoleLogger) LogCyclePhase(cycle *pdca.Cycle) {
	switch cycle.Status {
	case pdca.StatusPlanning:
		cl.Infof("Cycle %s %q created", shortID(cycle.ID), cycle.Title)
	case pdca.StatusExecuting:
		steps := 0
		if cycle.Plan != nil {
			steps = len(cycle.Plan.Steps)
		}
		cl.Infof("Cycle %s: executing %d planned steps", shortID(cycle.ID), steps)
	default:
		cl.Debugf("Cycle %s: %s", shortID(cycle.ID), cycle.Status)
	}
}

// LogCheckResult logs the metrics and scores of a checked cycle.
func (cl *ConsoleLogger) LogCheckResult(cycle *pdca.Cycle) {
	if cycle.Check == nil || cl.writer == nil || !cl.shouldLog("info") {
		return
	}

	cl.mutex.Lock()
	defer cl.mutex.Unlock()

	scheme := newColorScheme(cl.colorOutput)
	cl.writeLine("INFO", fmt.Sprintf("Cycle %s check:", shortID(cycle.ID)))
	for _, line := range formatCheck(cycle.Check, scheme) {
		cl.writeLine("INFO", line)
	}
}

// LogCycleComplete logs the actions of a completed cycle and its follow-up.
func (cl *ConsoleLogger) LogCycleComplete(cycle *pdca.Cycle) {
	counts := make(map[pdca.ActionKind]int)
	for _, a := range cycle.Actions {
		counts[a.Kind]++
	}
	var parts []string
	for _, kind := range []pdca.ActionKind{pdca.ActionCorrective, pdca.ActionPreventive, pdca.ActionImprovement, pdca.ActionStandardization} {
		if n := counts[kind]; n > 0 {
			parts = append(parts, fmt.Sprintf("%d %s", n, kind))
		}
	}
	summary := "no actions"
	if len(parts) > 0 {
		summary = strings.Join(parts, ", ")
	}

	cl.Infof("Cycle %s %q completed: %s", shortID(cycle.ID), cycle.Title, summary)
	if cycle.NextCycleID != "" {
		cl.Warnf("Cycle %s needs a follow-up: cycle %s", shortID(cycle.ID), shortID(cycle.NextCycleID))
	}
}
