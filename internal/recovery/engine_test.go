package recovery

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/harrison/kaizen/internal/learning"
	"github.com/harrison/kaizen/internal/models"
	"github.com/harrison/kaizen/internal/strategy"
)

type fakeStrategy struct {
	name    string
	tier    models.Tier
	app     float64
	succeed bool
	block   bool
	measure string

	mu    sync.Mutex
	calls int
}

func (f *fakeStrategy) Name() string                                     { return f.name }
func (f *fakeStrategy) Tier() models.Tier                                { return f.tier }
func (f *fakeStrategy) Applicability(*models.ErrorContext) float64       { return f.app }
func (f *fakeStrategy) CanRecover(*models.ErrorContext) bool             { return true }
func (f *fakeStrategy) EstimatedTime(*models.ErrorContext) time.Duration { return 20 * time.Millisecond }

func (f *fakeStrategy) Execute(ctx context.Context, _ *models.ErrorContext, _ strategy.Runner) (*models.RecoveryOutcome, error) {
	f.mu.Lock()
	f.calls++
	f.mu.Unlock()
	if f.block {
		<-ctx.Done()
		return nil, ctx.Err()
	}
	out := &models.RecoveryOutcome{Success: f.succeed, Delivered: f.succeed, Strategy: f.name, Confidence: 0.7}
	if f.measure != "" {
		out.PreventiveMeasures = []string{f.measure}
	}
	return out, nil
}

func (f *fakeStrategy) callCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

type recordingLogger struct {
	mu       sync.Mutex
	attempts []models.RecoveryAttempt
	results  int
}

func (l *recordingLogger) LogRecoveryStart(*models.ErrorContext, Diagnosis) {}
func (l *recordingLogger) LogRecoveryAttempt(_ *models.ErrorContext, a models.RecoveryAttempt) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.attempts = append(l.attempts, a)
}
func (l *recordingLogger) LogRecoveryResult(*models.ErrorContext, *models.RecoveryOutcome) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.results++
}

func errorContext(kind models.ErrorKind, priority models.Priority) *models.ErrorContext {
	return &models.ErrorContext{
		Kind:        kind,
		Message:     "boom",
		Task:        models.Task{ID: "t1", Description: "sync files", Priority: priority},
		Criticality: models.CriticalityForPriority(priority),
	}
}

func TestClassify(t *testing.T) {
	tests := []struct {
		msg  string
		want models.ErrorKind
	}{
		{"request timed out", models.ErrorKindTimeout},
		{"context deadline exceeded", models.ErrorKindTimeout},
		{"fatal: out of memory", models.ErrorKindMemory},
		{"dial tcp: connection refused", models.ErrorKindNetwork},
		{"open /etc/shadow: permission denied", models.ErrorKindPermission},
		{"exit status 1", models.ErrorKindGeneric},
		{"", models.ErrorKindGeneric},
	}
	for _, tt := range tests {
		t.Run(tt.msg, func(t *testing.T) {
			assert.Equal(t, tt.want, Classify(tt.msg))
		})
	}
	assert.Equal(t, models.ErrorKindTimeout, ClassifyError(fmt.Errorf("run: %w", context.DeadlineExceeded)))
}

func TestNewErrorContext(t *testing.T) {
	now := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)
	task := models.Task{ID: "t9", Priority: models.PriorityHigh, Dependencies: []string{"t1"}}
	ec := NewErrorContext(task, "exec-a", errors.New("network unreachable"), now)

	assert.Equal(t, models.ErrorKindNetwork, ec.Kind)
	assert.Equal(t, models.CriticalityHigh, ec.Criticality)
	assert.Equal(t, "exec-a", ec.Environment["executor"])
	assert.Contains(t, ec.Resources, "goroutines")
	assert.Equal(t, now, ec.OccurredAt)

	// the snapshot is independent of the task
	task.Dependencies[0] = "changed"
	assert.Equal(t, []string{"t1"}, ec.Task.Dependencies)
}

func TestRankTimeoutPrefersRetry(t *testing.T) {
	e := NewEngine(nil, nil)
	ranked := e.Rank(errorContext(models.ErrorKindTimeout, models.PriorityMedium))

	position := make(map[string]int)
	for i, r := range ranked {
		position[r.Strategy.Name()] = i
	}
	require.Contains(t, position, strategy.NameIntelligentRetry)
	require.Contains(t, position, strategy.NameIsolateAndBypass)
	assert.Less(t, position[strategy.NameIntelligentRetry], position[strategy.NameIsolateAndBypass])
	assert.Equal(t, strategy.NameIntelligentRetry, ranked[0].Strategy.Name())
	assert.InDelta(t, 0.74, ranked[0].Score, 1e-9)
	assert.LessOrEqual(t, len(ranked), DefaultPrimaryLimit)
}

func TestRankUsesHistory(t *testing.T) {
	l := learning.NewEngine()
	for i := 0; i < 20; i++ {
		l.RecordStrategyOutcome(strategy.NameIntelligentRetry, models.ErrorKindTimeout, false)
		l.RecordStrategyOutcome(strategy.NameResourceReconfiguration, models.ErrorKindTimeout, true)
	}
	ranked := NewEngine(nil, l).Rank(errorContext(models.ErrorKindTimeout, models.PriorityMedium))
	assert.Equal(t, strategy.NameResourceReconfiguration, ranked[0].Strategy.Name())
}

func TestRecoverStopsAtFirstSuccess(t *testing.T) {
	first := &fakeStrategy{name: "first", tier: models.TierPrimary, app: 0.9, succeed: false}
	second := &fakeStrategy{name: "second", tier: models.TierPrimary, app: 0.8, succeed: true, measure: "add caching"}
	third := &fakeStrategy{name: "third", tier: models.TierPrimary, app: 0.1, succeed: true}
	fallback := &fakeStrategy{name: "fallback", tier: models.TierFallback, succeed: true}
	reg := strategy.NewRegistry(nil, []strategy.RecoveryStrategy{first, second, third, fallback})

	l := learning.NewEngine()
	log := &recordingLogger{}
	e := NewEngine(reg, l, WithLogger(log))
	ec := errorContext(models.ErrorKindGeneric, models.PriorityMedium)

	out, err := e.Recover(context.Background(), ec, nil)
	require.NoError(t, err)
	assert.True(t, out.Success)
	assert.Equal(t, "second", out.Strategy)
	assert.Equal(t, models.TierPrimary, out.Tier)
	assert.NotEmpty(t, out.RootCause)

	assert.Equal(t, 0, third.callCount())
	assert.Equal(t, 0, fallback.callCount())
	assert.Equal(t, []string{"first", "second"}, ec.StrategiesTried())
	assert.Len(t, log.attempts, 2)
	assert.Equal(t, 1, log.results)
	assert.Equal(t, []string{"add caching"}, e.PreventiveMeasures())
	assert.Equal(t, 1, l.StrategyAttempts("first", models.ErrorKindGeneric))
	assert.Equal(t, 1, l.StrategyAttempts("second", models.ErrorKindGeneric))
}

func TestRecoverTimesOutSlowStrategy(t *testing.T) {
	slow := &fakeStrategy{name: "slow", tier: models.TierPrimary, app: 0.9, block: true}
	quick := &fakeStrategy{name: "quick", tier: models.TierPrimary, app: 0.5, succeed: true}
	e := NewEngine(strategy.NewRegistry(nil, []strategy.RecoveryStrategy{slow, quick}), nil)
	ec := errorContext(models.ErrorKindGeneric, models.PriorityMedium)

	out, err := e.Recover(context.Background(), ec, nil)
	require.NoError(t, err)
	assert.Equal(t, "quick", out.Strategy)
	require.Len(t, ec.AttemptHistory, 2)
	assert.False(t, ec.AttemptHistory[0].Success)
	assert.Contains(t, ec.AttemptHistory[0].Outcome, "timed out")
}

func TestRecoverEscalatesThroughTiers(t *testing.T) {
	primary := &fakeStrategy{name: "p", tier: models.TierPrimary, app: 0.9}
	fallback := &fakeStrategy{name: "f", tier: models.TierFallback}
	emergency := &fakeStrategy{name: "e", tier: models.TierEmergency, succeed: true}
	e := NewEngine(strategy.NewRegistry(nil, []strategy.RecoveryStrategy{primary, fallback, emergency}), nil)
	ec := errorContext(models.ErrorKindGeneric, models.PriorityMedium)

	out, err := e.Recover(context.Background(), ec, nil)
	require.NoError(t, err)
	assert.Equal(t, models.TierEmergency, out.Tier)
	assert.Equal(t, []string{"p", "f", "e"}, ec.StrategiesTried())
}

func TestRecoverExhausted(t *testing.T) {
	a := &fakeStrategy{name: "a", tier: models.TierPrimary, app: 0.9}
	b := &fakeStrategy{name: "b", tier: models.TierEmergency}
	e := NewEngine(strategy.NewRegistry(nil, []strategy.RecoveryStrategy{a, b}), nil)
	ec := errorContext(models.ErrorKindGeneric, models.PriorityMedium)

	out, err := e.Recover(context.Background(), ec, nil)
	require.Error(t, err)
	assert.True(t, models.IsRecoveryExhausted(err))
	assert.Contains(t, err.Error(), "boom")
	assert.Contains(t, err.Error(), "attempted: a, b")
	require.NotNil(t, out)
	assert.False(t, out.Success)
	assert.Zero(t, out.Confidence)
}

func TestRecoverEmptyRegistry(t *testing.T) {
	e := NewEngine(strategy.NewRegistry(nil, nil), nil)
	out, err := e.Recover(context.Background(), errorContext(models.ErrorKindGeneric, models.PriorityLow), nil)
	assert.True(t, models.IsRecoveryExhausted(err))
	assert.Equal(t, models.ErrNoRecoveryStrategy.Error(), out.Message)
}

func TestRecoverCancelledContext(t *testing.T) {
	slow := &fakeStrategy{name: "slow", tier: models.TierPrimary, app: 0.9, block: true}
	e := NewEngine(strategy.NewRegistry(nil, []strategy.RecoveryStrategy{slow}), nil, WithMinStrategyTimeout(time.Minute))
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := e.Recover(ctx, errorContext(models.ErrorKindGeneric, models.PriorityMedium), nil)
	require.Error(t, err)
	assert.ErrorIs(t, err, context.Canceled)
	assert.False(t, models.IsRecoveryExhausted(err))
}

func TestRecoverDefaultRegistryWithoutRunner(t *testing.T) {
	e := NewEngine(nil, nil)

	ec := errorContext(models.ErrorKindTimeout, models.PriorityMedium)
	out, err := e.Recover(context.Background(), ec, nil)
	require.NoError(t, err)
	assert.Equal(t, strategy.NameIsolateAndBypass, out.Strategy)
	assert.False(t, out.Delivered)

	critical := errorContext(models.ErrorKindTimeout, models.PriorityCritical)
	out, err = e.Recover(context.Background(), critical, nil)
	require.NoError(t, err)
	assert.Equal(t, strategy.NameIntelligentRollback, out.Strategy)
	assert.Equal(t, models.TierFallback, out.Tier)
	assert.NotContains(t, critical.StrategiesTried(), strategy.NameGracefulDegradation)
}

// A fallback strategy never runs once any primary strategy succeeded.
func TestNoFallbackAfterPrimarySuccess(t *testing.T) {
	rng := rand.New(rand.NewSource(11))
	for i := 0; i < 100; i++ {
		var strategies []strategy.RecoveryStrategy
		anySuccess := false
		for p := 0; p < 1+rng.Intn(6); p++ {
			ok := rng.Intn(3) == 0
			anySuccess = anySuccess || ok
			strategies = append(strategies, &fakeStrategy{name: fmt.Sprintf("p%d", p), tier: models.TierPrimary, app: rng.Float64(), succeed: ok})
		}
		fb := &fakeStrategy{name: "fb", tier: models.TierFallback, succeed: true}
		strategies = append(strategies, fb)

		e := NewEngine(strategy.NewRegistry(nil, strategies), nil, WithPrimaryLimit(10))
		ec := errorContext(models.ErrorKindGeneric, models.PriorityMedium)
		out, err := e.Recover(context.Background(), ec, nil)
		require.NoError(t, err)

		if anySuccess {
			assert.Equal(t, 0, fb.callCount())
			assert.Equal(t, models.TierPrimary, out.Tier)
			successes := 0
			for _, a := range ec.AttemptHistory {
				if a.Success {
					successes++
				}
			}
			assert.Equal(t, 1, successes)
		} else {
			assert.Equal(t, 1, fb.callCount())
		}
	}
}

type runnerFunc func(ctx context.Context, req strategy.RerunRequest) (string, error)

func (f runnerFunc) Rerun(ctx context.Context, req strategy.RerunRequest) (string, error) {
	return f(ctx, req)
}

func TestRecoverRetriesWithGrowingTimeout(t *testing.T) {
	reg := strategy.NewRegistry(nil, []strategy.RecoveryStrategy{&strategy.IntelligentRetry{}})
	e := NewEngine(reg, nil)
	ec := errorContext(models.ErrorKindTimeout, models.PriorityMedium)

	var mu sync.Mutex
	reruns := 0
	runner := runnerFunc(func(context.Context, strategy.RerunRequest) (string, error) {
		mu.Lock()
		defer mu.Unlock()
		reruns++
		return "", errors.New("request timed out")
	})

	_, err := e.Recover(context.Background(), ec, runner)
	require.Error(t, err)
	assert.True(t, models.IsRecoveryExhausted(err))
	assert.Equal(t, strategy.MaxRetries, reruns)

	var timeouts []time.Duration
	for _, a := range ec.AttemptHistory {
		assert.Equal(t, strategy.NameIntelligentRetry, a.Strategy)
		timeouts = append(timeouts, a.Timeout)
	}
	assert.Equal(t, []time.Duration{time.Second, 2 * time.Second, 4 * time.Second}, timeouts)
}

func TestRecoverRetrySucceedsOnSecondAttempt(t *testing.T) {
	reg := strategy.NewRegistry(nil, []strategy.RecoveryStrategy{&strategy.IntelligentRetry{}})
	e := NewEngine(reg, nil)
	ec := errorContext(models.ErrorKindNetwork, models.PriorityMedium)

	calls := 0
	runner := runnerFunc(func(context.Context, strategy.RerunRequest) (string, error) {
		calls++
		if calls == 1 {
			return "", errors.New("connection reset")
		}
		return "synced", nil
	})

	out, err := e.Recover(context.Background(), ec, runner)
	require.NoError(t, err)
	assert.Equal(t, "synced", out.Output)
	require.Len(t, ec.AttemptHistory, 2)
	assert.False(t, ec.AttemptHistory[0].Success)
	assert.True(t, ec.AttemptHistory[1].Success)
	assert.Equal(t, 2*time.Second, ec.AttemptHistory[1].Timeout)
}
