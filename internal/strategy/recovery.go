package strategy

import (
	"context"
	"errors"
	"fmt"
	"math"
	"strings"
	"time"

	"github.com/harrison/kaizen/internal/models"
)

// Recovery strategy names.
const (
	NameIntelligentRetry          = "intelligent_retry"
	NameResourceReconfiguration   = "resource_reconfiguration"
	NameAlternativeImplementation = "alternative_implementation"
	NameIsolateAndBypass          = "isolate_and_bypass"
	NameTaskRecomposition         = "task_recomposition"
	NameGracefulDegradation       = "graceful_degradation"
	NameIntelligentRollback       = "intelligent_rollback"
	NameControlledReset           = "controlled_reset"
)

// MaxRetries caps how many times intelligent retry runs within one session.
// Attempt n (from 0) runs with a timeout of min(30s, 1s·2^n).
const MaxRetries = 3

const maxRetryBackoff = 30 * time.Second

// ErrNoRunner is returned by strategies that need to re-execute work without a Runner.
var ErrNoRunner = errors.New("no runner bound to recovery session")

// IntelligentRetry re-runs the original work with exponential backoff as its timeout.
type IntelligentRetry struct{}

func (*IntelligentRetry) Name() string      { return NameIntelligentRetry }
func (*IntelligentRetry) Tier() models.Tier { return models.TierPrimary }

func (*IntelligentRetry) Applicability(ec *models.ErrorContext) float64 {
	switch ec.Kind {
	case models.ErrorKindTimeout:
		return 0.9
	case models.ErrorKindNetwork:
		return 0.85
	case models.ErrorKindMemory:
		return 0.3
	case models.ErrorKindPermission:
		return 0.1
	default:
		return 0.5
	}
}

func (s *IntelligentRetry) CanRecover(ec *models.ErrorContext) bool {
	return ec.Kind != models.ErrorKindPermission && ec.AttemptsOf(s.Name()) < MaxRetries
}

// Repeatable makes the engine retry until MaxRetries attempts were made.
func (*IntelligentRetry) Repeatable() bool { return true }

// EstimatedTime grows as min(30s, 1s·2^attempt).
func (s *IntelligentRetry) EstimatedTime(ec *models.ErrorContext) time.Duration {
	attempt := ec.AttemptsOf(s.Name())
	if attempt >= 5 {
		return maxRetryBackoff
	}
	backoff := time.Second * time.Duration(math.Pow(2, float64(attempt)))
	if backoff > maxRetryBackoff {
		return maxRetryBackoff
	}
	return backoff
}

func (s *IntelligentRetry) Execute(ctx context.Context, ec *models.ErrorContext, runner Runner) (*models.RecoveryOutcome, error) {
	out, err := rerun(ctx, runner, RerunRequest{Description: ec.Task.Description})
	if err != nil {
		return failed(s, fmt.Sprintf("retry failed: %v", err)), nil
	}
	o := delivered(s, out, 0.8)
	o.PreventiveMeasures = []string{fmt.Sprintf("raise timeout budget for %s tasks", taskType(ec))}
	return o, nil
}

// ResourceReconfiguration re-runs the work with a reduced-resource hint.
type ResourceReconfiguration struct{}

func (*ResourceReconfiguration) Name() string      { return NameResourceReconfiguration }
func (*ResourceReconfiguration) Tier() models.Tier { return models.TierPrimary }

func (*ResourceReconfiguration) Applicability(ec *models.ErrorContext) float64 {
	switch ec.Kind {
	case models.ErrorKindMemory:
		return 0.9
	case models.ErrorKindTimeout:
		return 0.6
	case models.ErrorKindNetwork:
		return 0.2
	default:
		return 0.3
	}
}

func (*ResourceReconfiguration) CanRecover(ec *models.ErrorContext) bool {
	return ec.Kind == models.ErrorKindMemory || ec.Kind == models.ErrorKindTimeout
}

func (*ResourceReconfiguration) EstimatedTime(*models.ErrorContext) time.Duration {
	return 10 * time.Second
}

func (s *ResourceReconfiguration) Execute(ctx context.Context, ec *models.ErrorContext, runner Runner) (*models.RecoveryOutcome, error) {
	out, err := rerun(ctx, runner, RerunRequest{
		Description: ec.Task.Description,
		Hints:       map[string]string{"resources": "reduced", "batch_size": "half"},
	})
	if err != nil {
		return failed(s, fmt.Sprintf("reconfigured run failed: %v", err)), nil
	}
	o := delivered(s, out, 0.75)
	o.PreventiveMeasures = []string{"lower default resource allocation"}
	return o, nil
}

// AlternativeImplementation hands the work to a different executor.
type AlternativeImplementation struct{}

func (*AlternativeImplementation) Name() string      { return NameAlternativeImplementation }
func (*AlternativeImplementation) Tier() models.Tier { return models.TierPrimary }

func (*AlternativeImplementation) Applicability(ec *models.ErrorContext) float64 {
	switch ec.Kind {
	case models.ErrorKindGeneric:
		return 0.7
	case models.ErrorKindPermission:
		return 0.4
	case models.ErrorKindNetwork:
		return 0.5
	default:
		return 0.4
	}
}

func (s *AlternativeImplementation) CanRecover(ec *models.ErrorContext) bool {
	return ec.AttemptsOf(s.Name()) == 0
}

func (*AlternativeImplementation) EstimatedTime(*models.ErrorContext) time.Duration {
	return 20 * time.Second
}

func (s *AlternativeImplementation) Execute(ctx context.Context, ec *models.ErrorContext, runner Runner) (*models.RecoveryOutcome, error) {
	out, err := rerun(ctx, runner, RerunRequest{
		Description:     ec.Task.Description,
		ExcludeExecutor: ec.ExecutorID,
	})
	if err != nil {
		return failed(s, fmt.Sprintf("alternative executor failed: %v", err)), nil
	}
	o := delivered(s, out, 0.7)
	if ec.ExecutorID != "" {
		o.FollowUps = []string{fmt.Sprintf("review suitability of %s for %s tasks", ec.ExecutorID, taskType(ec))}
	}
	return o, nil
}

// IsolateAndBypass fences off the failing component so the rest of the work can proceed.
// It restores consistency but does not produce the task's result.
type IsolateAndBypass struct{}

func (*IsolateAndBypass) Name() string      { return NameIsolateAndBypass }
func (*IsolateAndBypass) Tier() models.Tier { return models.TierPrimary }

func (*IsolateAndBypass) Applicability(ec *models.ErrorContext) float64 {
	switch ec.Kind {
	case models.ErrorKindTimeout:
		return 0.25
	case models.ErrorKindNetwork:
		return 0.5
	case models.ErrorKindPermission:
		return 0.35
	case models.ErrorKindMemory:
		return 0.3
	default:
		return 0.4
	}
}

func (s *IsolateAndBypass) CanRecover(ec *models.ErrorContext) bool {
	return ec.AttemptsOf(s.Name()) == 0
}

func (*IsolateAndBypass) EstimatedTime(*models.ErrorContext) time.Duration {
	return 5 * time.Second
}

func (s *IsolateAndBypass) Execute(ctx context.Context, ec *models.ErrorContext, _ Runner) (*models.RecoveryOutcome, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if ec.Criticality == models.CriticalityCritical {
		return failed(s, "critical work cannot be bypassed"), nil
	}
	o := &models.RecoveryOutcome{
		Success:    true,
		Strategy:   s.Name(),
		Tier:       s.Tier(),
		Confidence: 0.6,
		Message:    "failing component isolated; task bypassed",
		FollowUps:  []string{fmt.Sprintf("re-run task %s once the isolated component is repaired", ec.Task.ID)},
	}
	return o, nil
}

// TaskRecomposition splits the work into smaller pieces and runs them in order.
type TaskRecomposition struct{}

func (*TaskRecomposition) Name() string      { return NameTaskRecomposition }
func (*TaskRecomposition) Tier() models.Tier { return models.TierPrimary }

func (*TaskRecomposition) Applicability(ec *models.ErrorContext) float64 {
	switch ec.Kind {
	case models.ErrorKindMemory, models.ErrorKindTimeout:
		return 0.5
	case models.ErrorKindGeneric:
		return 0.45
	default:
		return 0.2
	}
}

func (s *TaskRecomposition) CanRecover(ec *models.ErrorContext) bool {
	if ec.AttemptsOf(s.Name()) > 0 {
		return false
	}
	return len(SplitSentences(ec.Task.Description)) > 1 || len(strings.Fields(ec.Task.Description)) > 8
}

func (*TaskRecomposition) EstimatedTime(*models.ErrorContext) time.Duration {
	return 30 * time.Second
}

func (s *TaskRecomposition) Execute(ctx context.Context, ec *models.ErrorContext, runner Runner) (*models.RecoveryOutcome, error) {
	parts := SplitSentences(ec.Task.Description)
	if len(parts) < 2 {
		parts = halves(ec.Task.Description)
	}
	outputs := make([]string, 0, len(parts))
	for i, part := range parts {
		out, err := rerun(ctx, runner, RerunRequest{Description: part})
		if err != nil {
			return failed(s, fmt.Sprintf("subtask %d/%d failed: %v", i+1, len(parts), err)), nil
		}
		outputs = append(outputs, out)
	}
	o := delivered(s, strings.Join(outputs, "\n"), 0.65)
	o.PreventiveMeasures = []string{fmt.Sprintf("decompose %s tasks before execution", taskType(ec))}
	return o, nil
}

// GracefulDegradation accepts a reduced result for non-critical work.
type GracefulDegradation struct{}

func (*GracefulDegradation) Name() string      { return NameGracefulDegradation }
func (*GracefulDegradation) Tier() models.Tier { return models.TierFallback }

func (*GracefulDegradation) Applicability(*models.ErrorContext) float64 { return 0.5 }

func (*GracefulDegradation) CanRecover(ec *models.ErrorContext) bool {
	return ec.Task.Priority != models.PriorityCritical
}

func (*GracefulDegradation) EstimatedTime(*models.ErrorContext) time.Duration {
	return 5 * time.Second
}

func (s *GracefulDegradation) Execute(ctx context.Context, ec *models.ErrorContext, _ Runner) (*models.RecoveryOutcome, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if !s.CanRecover(ec) {
		return failed(s, "critical tasks cannot run degraded"), nil
	}
	o := delivered(s, fmt.Sprintf("degraded: %s", ec.Task.Description), 0.5)
	o.Message = "task completed in degraded mode"
	o.FollowUps = []string{fmt.Sprintf("restore full functionality for task %s", ec.Task.ID)}
	return o, nil
}

// IntelligentRollback reverts partial effects so the system is consistent again.
type IntelligentRollback struct{}

func (*IntelligentRollback) Name() string      { return NameIntelligentRollback }
func (*IntelligentRollback) Tier() models.Tier { return models.TierFallback }

func (*IntelligentRollback) Applicability(*models.ErrorContext) float64 { return 0.6 }

func (*IntelligentRollback) CanRecover(*models.ErrorContext) bool { return true }

func (*IntelligentRollback) EstimatedTime(*models.ErrorContext) time.Duration {
	return 10 * time.Second
}

func (s *IntelligentRollback) Execute(ctx context.Context, ec *models.ErrorContext, _ Runner) (*models.RecoveryOutcome, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return &models.RecoveryOutcome{
		Success:    true,
		Strategy:   s.Name(),
		Tier:       s.Tier(),
		Confidence: 0.65,
		Message:    fmt.Sprintf("rolled back partial effects of task %s", ec.Task.ID),
		FollowUps:  []string{"investigate root cause before re-submitting"},
	}, nil
}

// ControlledReset snapshots essential state and resets. It always succeeds with
// the lowest confidence of any strategy.
type ControlledReset struct{}

func (*ControlledReset) Name() string      { return NameControlledReset }
func (*ControlledReset) Tier() models.Tier { return models.TierEmergency }

func (*ControlledReset) Applicability(*models.ErrorContext) float64 { return 0.3 }

func (*ControlledReset) CanRecover(*models.ErrorContext) bool { return true }

func (*ControlledReset) EstimatedTime(*models.ErrorContext) time.Duration {
	return 15 * time.Second
}

func (s *ControlledReset) Execute(ctx context.Context, ec *models.ErrorContext, _ Runner) (*models.RecoveryOutcome, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	essential := []string{"task_id=" + ec.Task.ID, "status=" + string(ec.Task.Status)}
	return &models.RecoveryOutcome{
		Success:    true,
		Strategy:   s.Name(),
		Tier:       s.Tier(),
		Confidence: 0.6,
		Message:    fmt.Sprintf("controlled reset; preserved %s", strings.Join(essential, ", ")),
		FollowUps:  []string{"manual review required after emergency reset"},
	}, nil
}

// SplitSentences breaks text on sentence terminators and newlines, dropping empty parts.
func SplitSentences(text string) []string {
	parts := strings.FieldsFunc(text, func(r rune) bool {
		switch r {
		case '.', '!', '?', ';', '\n':
			return true
		}
		return false
	})
	out := parts[:0]
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}

func halves(text string) []string {
	words := strings.Fields(text)
	if len(words) < 2 {
		return []string{text}
	}
	mid := len(words) / 2
	return []string{strings.Join(words[:mid], " "), strings.Join(words[mid:], " ")}
}

func rerun(ctx context.Context, runner Runner, req RerunRequest) (string, error) {
	if runner == nil {
		return "", ErrNoRunner
	}
	return runner.Rerun(ctx, req)
}

func delivered(s RecoveryStrategy, output string, confidence float64) *models.RecoveryOutcome {
	return &models.RecoveryOutcome{
		Success:    true,
		Delivered:  true,
		Strategy:   s.Name(),
		Tier:       s.Tier(),
		Confidence: confidence,
		Output:     output,
	}
}

func failed(s RecoveryStrategy, msg string) *models.RecoveryOutcome {
	return &models.RecoveryOutcome{
		Strategy: s.Name(),
		Tier:     s.Tier(),
		Message:  msg,
	}
}

func taskType(ec *models.ErrorContext) string {
	if ec.Task.Type == "" {
		return "untyped"
	}
	return ec.Task.Type
}

func clamp01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}

func scaleDuration(d time.Duration, factor float64) time.Duration {
	return time.Duration(math.Round(float64(d) * factor))
}
