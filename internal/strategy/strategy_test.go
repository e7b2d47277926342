package strategy

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/harrison/kaizen/internal/analysis"
	"github.com/harrison/kaizen/internal/models"
)

type mockRunner struct {
	RerunFunc func(ctx context.Context, req RerunRequest) (string, error)
	calls     []RerunRequest
}

func (m *mockRunner) Rerun(ctx context.Context, req RerunRequest) (string, error) {
	m.calls = append(m.calls, req)
	if m.RerunFunc != nil {
		return m.RerunFunc(ctx, req)
	}
	return "ok", nil
}

func baseSteps(n int) []models.PlanStep {
	steps := make([]models.PlanStep, n)
	for i := range steps {
		steps[i] = models.PlanStep{
			ID:                fmt.Sprintf("step-%d", i+1),
			Description:       fmt.Sprintf("do thing %d", i+1),
			Kind:              models.StepAtomic,
			EstimatedDuration: 10 * time.Minute,
		}
	}
	return steps
}

func TestSequentialArrange(t *testing.T) {
	steps := Sequential{}.Arrange(baseSteps(3))
	require.Len(t, steps, 3)
	assert.Empty(t, steps[0].Dependencies)
	assert.Equal(t, []string{"step-1"}, steps[1].Dependencies)
	assert.Equal(t, []string{"step-2"}, steps[2].Dependencies)
	plan := &models.Plan{ID: "p", Steps: steps}
	assert.NoError(t, plan.Validate())
}

func TestParallelArrange(t *testing.T) {
	steps := Parallel{}.Arrange(baseSteps(7))
	require.Len(t, steps, 7)

	batchOf := make(map[string]int)
	for _, s := range steps {
		batchOf[s.ID] = s.Batch
		assert.Equal(t, models.StepParallel, s.Kind)
	}
	counts := make(map[int]int)
	for _, s := range steps {
		counts[s.Batch]++
		for _, dep := range s.Dependencies {
			assert.Equal(t, s.Batch-1, batchOf[dep], "%s must depend only on the previous batch", s.ID)
		}
	}
	for batch, n := range counts {
		assert.LessOrEqual(t, n, maxBatchSize, "batch %d", batch)
	}
	assert.Equal(t, []string{"step-1", "step-2", "step-3"}, steps[3].Dependencies)
	assert.NoError(t, (&models.Plan{ID: "p", Steps: steps}).Validate())
}

func TestIncrementalArrange(t *testing.T) {
	steps := Incremental{}.Arrange(baseSteps(2))
	require.Len(t, steps, 4)
	assert.Equal(t, "step-1-implement", steps[0].ID)
	assert.Equal(t, "step-1-validate", steps[1].ID)
	assert.Equal(t, []string{"step-1-implement"}, steps[1].Dependencies)
	assert.Equal(t, []string{"step-1-validate"}, steps[2].Dependencies)
	assert.Equal(t, 3*time.Minute, steps[1].EstimatedDuration)
	assert.NoError(t, (&models.Plan{ID: "p", Steps: steps}).Validate())
}

func TestAdaptiveArrange(t *testing.T) {
	steps := Adaptive{}.Arrange(baseSteps(2))
	for _, s := range steps {
		assert.Equal(t, models.StepConditional, s.Kind)
		assert.Contains(t, s.AdaptiveParameters, "fallback_trigger")
		assert.Contains(t, s.AdaptiveParameters, "checkpoint")
	}
}

func TestArrangeDoesNotMutateInput(t *testing.T) {
	in := baseSteps(4)
	for _, s := range DefaultRegistry().Planning() {
		s.Arrange(in)
	}
	for _, step := range in {
		assert.Empty(t, step.Dependencies)
		assert.Equal(t, models.StepAtomic, step.Kind)
	}
}

func TestPlanningApplicability(t *testing.T) {
	tests := []struct {
		name     string
		strategy PlanningStrategy
		in       PlanInput
		want     float64
	}{
		{"sequential short risky", Sequential{}, PlanInput{StepCount: 2, Assessment: analysis.Assessment{RiskLevel: 0.8}}, 1.0},
		{"sequential long safe", Sequential{}, PlanInput{StepCount: 5}, 0.5},
		{"parallel single step", Parallel{}, PlanInput{StepCount: 1}, 0},
		{"parallel many safe", Parallel{}, PlanInput{StepCount: 4, Assessment: analysis.Assessment{RiskLevel: 0.2}}, 0.7},
		{"incremental complex", Incremental{}, PlanInput{Assessment: analysis.Assessment{Complexity: 1, RiskLevel: 0.5}}, 0.9},
		{"adaptive risky low tolerance", Adaptive{}, PlanInput{Assessment: analysis.Assessment{RiskLevel: 1}, RiskTolerance: 0.2}, 0.9},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.InDelta(t, tt.want, tt.strategy.Applicability(tt.in), 1e-9)
		})
	}
}

func TestRankPlanning(t *testing.T) {
	r := DefaultRegistry()
	ranked := r.RankPlanning(PlanInput{StepCount: 1}, 3)
	require.NotEmpty(t, ranked)
	assert.LessOrEqual(t, len(ranked), 3)
	for i := 1; i < len(ranked); i++ {
		assert.GreaterOrEqual(t, ranked[i-1].Score, ranked[i].Score)
	}
	for _, s := range ranked {
		assert.NotEqual(t, "parallel", s.Strategy.Name())
	}
}

func TestRegistryTiers(t *testing.T) {
	r := DefaultRegistry()
	assert.Len(t, r.Recovery(models.TierPrimary), 5)

	var fallback []string
	for _, s := range r.Recovery(models.TierFallback) {
		fallback = append(fallback, s.Name())
	}
	assert.Equal(t, []string{NameGracefulDegradation, NameIntelligentRollback}, fallback)

	emergency := r.Recovery(models.TierEmergency)
	require.Len(t, emergency, 1)
	assert.Equal(t, NameControlledReset, emergency[0].Name())

	_, ok := r.RecoveryByName("nope")
	assert.False(t, ok)
}

func TestTimeoutApplicability(t *testing.T) {
	ec := &models.ErrorContext{Kind: models.ErrorKindTimeout}
	assert.Equal(t, 0.9, (&IntelligentRetry{}).Applicability(ec))
	assert.Equal(t, 0.25, (&IsolateAndBypass{}).Applicability(ec))
}

func TestRetryBackoff(t *testing.T) {
	s := &IntelligentRetry{}
	ec := &models.ErrorContext{Kind: models.ErrorKindTimeout}
	assert.Equal(t, time.Second, s.EstimatedTime(ec))

	for i := 0; i < 3; i++ {
		ec.AttemptHistory = append(ec.AttemptHistory, models.RecoveryAttempt{Strategy: NameIntelligentRetry})
	}
	assert.Equal(t, 8*time.Second, s.EstimatedTime(ec))
	assert.False(t, s.CanRecover(ec))

	for i := 0; i < 5; i++ {
		ec.AttemptHistory = append(ec.AttemptHistory, models.RecoveryAttempt{Strategy: NameIntelligentRetry})
	}
	assert.Equal(t, 30*time.Second, s.EstimatedTime(ec))
}

func TestRetryRefusesPermissionErrors(t *testing.T) {
	assert.False(t, (&IntelligentRetry{}).CanRecover(&models.ErrorContext{Kind: models.ErrorKindPermission}))
}

func TestAlternativeExcludesFailingExecutor(t *testing.T) {
	runner := &mockRunner{}
	ec := &models.ErrorContext{Kind: models.ErrorKindGeneric, ExecutorID: "exec-a", Task: models.Task{Description: "x"}}
	out, err := (&AlternativeImplementation{}).Execute(context.Background(), ec, runner)
	require.NoError(t, err)
	assert.True(t, out.Success)
	assert.True(t, out.Delivered)
	require.Len(t, runner.calls, 1)
	assert.Equal(t, "exec-a", runner.calls[0].ExcludeExecutor)
}

func TestRerunStrategiesFailWithoutRunner(t *testing.T) {
	ec := &models.ErrorContext{Kind: models.ErrorKindTimeout, Task: models.Task{Description: "x"}}
	out, err := (&IntelligentRetry{}).Execute(context.Background(), ec, nil)
	require.NoError(t, err)
	assert.False(t, out.Success)
	assert.Contains(t, out.Message, ErrNoRunner.Error())
}

func TestRecompositionRunsEachPart(t *testing.T) {
	runner := &mockRunner{
		RerunFunc: func(_ context.Context, req RerunRequest) (string, error) {
			return "done " + req.Description, nil
		},
	}
	ec := &models.ErrorContext{Task: models.Task{Description: "Create schema. Load data; verify counts"}}
	s := &TaskRecomposition{}
	require.True(t, s.CanRecover(ec))

	out, err := s.Execute(context.Background(), ec, runner)
	require.NoError(t, err)
	assert.True(t, out.Delivered)
	assert.Len(t, runner.calls, 3)
	assert.Equal(t, "done Create schema\ndone Load data\ndone verify counts", out.Output)
}

func TestRecompositionStopsOnFailure(t *testing.T) {
	runner := &mockRunner{
		RerunFunc: func(context.Context, RerunRequest) (string, error) { return "", errors.New("boom") },
	}
	ec := &models.ErrorContext{Task: models.Task{Description: "one. two. three"}}
	out, err := (&TaskRecomposition{}).Execute(context.Background(), ec, runner)
	require.NoError(t, err)
	assert.False(t, out.Success)
	assert.Len(t, runner.calls, 1)
}

func TestFallbackAndEmergencyOutcomes(t *testing.T) {
	ctx := context.Background()
	critical := &models.ErrorContext{Task: models.Task{ID: "t1", Priority: models.PriorityCritical}, Criticality: models.CriticalityCritical}

	assert.False(t, (&GracefulDegradation{}).CanRecover(critical))
	bypass, err := (&IsolateAndBypass{}).Execute(ctx, critical, nil)
	require.NoError(t, err)
	assert.False(t, bypass.Success)

	rollback, err := (&IntelligentRollback{}).Execute(ctx, critical, nil)
	require.NoError(t, err)
	assert.True(t, rollback.Success)
	assert.False(t, rollback.Delivered)

	reset, err := (&ControlledReset{}).Execute(ctx, critical, nil)
	require.NoError(t, err)
	assert.True(t, reset.Success)
	assert.InDelta(t, 0.6, reset.Confidence, 1e-9)
	assert.Contains(t, reset.Message, "task_id=t1")
}

func TestSplitSentences(t *testing.T) {
	assert.Equal(t, []string{"a b", "c", "d"}, SplitSentences("a b. c!\n d?"))
	assert.Empty(t, SplitSentences("  ..  "))
}
