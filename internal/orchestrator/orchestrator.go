// Package orchestrator runs the task queue.
//
// Tasks are taken strictly by priority and then in arrival order. A task whose
// dependencies are still open is paused and moved to the tail of the queue; a task
// whose dependency failed fails too. Each ready task is assigned an executor by the
// learning engine, and a failed execution is handed to the recovery engine before
// the task reaches its terminal status.
package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/harrison/kaizen/internal/analysis"
	"github.com/harrison/kaizen/internal/executor"
	"github.com/harrison/kaizen/internal/learning"
	"github.com/harrison/kaizen/internal/memory"
	"github.com/harrison/kaizen/internal/models"
	"github.com/harrison/kaizen/internal/recovery"
	"github.com/harrison/kaizen/internal/strategy"
)

// DefaultHistoryLimit bounds the in-process execution history.
const DefaultHistoryLimit = 500

// MetadataDependencies is the metadata key AddTask reads dependency IDs from.
const MetadataDependencies = "dependencies"

// MetadataExpectedDuration is an optional metadata key holding a duration string
// (or time.Duration) used to judge whether a run was slow.
const MetadataExpectedDuration = "expected_duration"

// Learner selects executors and adapts their success rates.
type Learner interface {
	SelectExecutor(task models.Task, candidates []models.ExecutorCapability, history []models.ExecutionRecord) learning.Selection
	Predict(task models.Task, executor models.ExecutorCapability, history []models.ExecutionRecord) learning.Prediction
	AdjustSuccessRate(current float64, success bool, ac learning.AdjustContext) float64
}

// Recoverer runs a recovery session for a failed execution.
type Recoverer interface {
	Recover(ctx context.Context, ec *models.ErrorContext, runner strategy.Runner) (*models.RecoveryOutcome, error)
}

// Logger receives queue progress events.
type Logger interface {
	LogTaskQueued(task models.Task)
	LogTaskPaused(task models.Task, waitingOn []string)
	LogTaskStart(task models.Task, executorID string, prediction learning.Prediction)
	LogTaskComplete(task models.Task, duration time.Duration)
	LogTaskFailed(task models.Task, err error)
	LogQueueDrained(stats models.Statistics)
	Warnf(format string, args ...interface{})
}

type queueEntry struct {
	id  string
	seq uint64
}

// Orchestrator owns the task queue. ProcessQueue is the single driver; the other
// methods may be called concurrently with it.
type Orchestrator struct {
	pool         *executor.Pool
	learner      Learner
	recoverer    Recoverer
	store        memory.Store
	logger       Logger
	metrics      *Metrics
	now          func() time.Time
	historyLimit int

	run sync.Mutex // held for the whole of ProcessQueue

	mu            sync.Mutex
	tasks         map[string]*models.Task
	order         []string
	queue         []queueEntry
	seq           uint64
	history       []models.ExecutionRecord
	totalDuration time.Duration
	timed         int
}

// Option configures an Orchestrator.
type Option func(*Orchestrator)

// WithLogger sets the queue event logger.
func WithLogger(l Logger) Option {
	return func(o *Orchestrator) { o.logger = l }
}

// WithMetrics sets the Prometheus collectors to update.
func WithMetrics(m *Metrics) Option {
	return func(o *Orchestrator) { o.metrics = m }
}

// WithClock replaces time.Now.
func WithClock(now func() time.Time) Option {
	return func(o *Orchestrator) { o.now = now }
}

// WithHistoryLimit bounds the in-process history and the warm-start load.
func WithHistoryLimit(n int) Option {
	return func(o *Orchestrator) {
		if n > 0 {
			o.historyLimit = n
		}
	}
}

// New creates an orchestrator over the executors in pool.
// learner defaults to a fresh learning engine. recoverer and store may be nil:
// without a recoverer an execution error fails the task directly, and without a
// store nothing is persisted.
func New(pool *executor.Pool, learner Learner, recoverer Recoverer, store memory.Store, opts ...Option) *Orchestrator {
	if pool == nil {
		pool = executor.NewPool()
	}
	if learner == nil {
		learner = learning.NewEngine()
	}
	o := &Orchestrator{
		pool:         pool,
		learner:      learner,
		recoverer:    recoverer,
		store:        store,
		now:          time.Now,
		historyLimit: DefaultHistoryLimit,
		tasks:        make(map[string]*models.Task),
	}
	for _, opt := range opts {
		opt(o)
	}
	return o
}

// LoadHistory seeds the in-process history from task_execution records in the
// memory store and returns how many were loaded.
func (o *Orchestrator) LoadHistory(ctx context.Context) (int, error) {
	if o.store == nil {
		return 0, nil
	}
	execs, err := memory.LoadExecutions(ctx, o.store, o.historyLimit)
	if err != nil {
		return 0, err
	}
	o.mu.Lock()
	defer o.mu.Unlock()
	for _, te := range execs {
		o.appendHistoryLocked(te.Execution)
	}
	return len(execs), nil
}

// AddTask queues a new task and returns its ID. Dependencies are taken from
// metadata["dependencies"] and must name tasks that were added earlier.
func (o *Orchestrator) AddTask(ctx context.Context, taskType, description string, priority models.Priority, metadata map[string]interface{}) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	if strings.TrimSpace(description) == "" {
		return "", models.ErrEmptyDescription
	}
	if priority == "" {
		priority = models.PriorityMedium
	}
	if !priority.IsValid() {
		return "", fmt.Errorf("invalid priority %q, must be one of: critical, high, medium, low", priority)
	}
	deps, err := dependenciesFrom(metadata)
	if err != nil {
		return "", err
	}

	o.mu.Lock()
	defer o.mu.Unlock()

	for _, dep := range deps {
		if _, ok := o.tasks[dep]; !ok {
			return "", fmt.Errorf("task dependency %s: %w", dep, models.ErrUnknownDependency)
		}
	}

	now := o.now()
	task := &models.Task{
		ID:           uuid.NewString(),
		Type:         taskType,
		Description:  description,
		Priority:     priority,
		Status:       models.TaskPending,
		Dependencies: deps,
		CreatedAt:    now,
		UpdatedAt:    now,
	}
	if len(metadata) > 0 {
		task.Metadata = make(map[string]interface{}, len(metadata))
		for k, v := range metadata {
			task.Metadata[k] = v
		}
	}

	o.tasks[task.ID] = task
	o.order = append(o.order, task.ID)
	o.enqueueLocked(task.ID)

	if o.metrics != nil {
		o.metrics.TasksQueued.Inc()
	}
	if o.logger != nil {
		o.logger.LogTaskQueued(task.Clone())
	}
	return task.ID, nil
}

func dependenciesFrom(metadata map[string]interface{}) ([]string, error) {
	raw, ok := metadata[MetadataDependencies]
	if !ok || raw == nil {
		return nil, nil
	}
	switch v := raw.(type) {
	case []string:
		return append([]string(nil), v...), nil
	case string:
		return []string{v}, nil
	case []interface{}:
		deps := make([]string, 0, len(v))
		for _, item := range v {
			s, ok := item.(string)
			if !ok {
				return nil, fmt.Errorf("dependency %v is not a task id", item)
			}
			deps = append(deps, s)
		}
		return deps, nil
	default:
		return nil, fmt.Errorf("dependencies must be a list of task ids, got %T", raw)
	}
}

// ProcessQueue runs queued tasks one at a time until the queue is empty.
// It returns models.ErrQueueStalled if no remaining task can make progress, and
// the context error if ctx is cancelled.
func (o *Orchestrator) ProcessQueue(ctx context.Context) error {
	o.run.Lock()
	defer o.run.Unlock()

	for {
		if err := ctx.Err(); err != nil {
			return err
		}

		pick := o.next()
		for _, p := range pick.paused {
			if o.logger != nil {
				o.logger.LogTaskPaused(p.task, p.waitingOn)
			}
		}
		for _, f := range pick.blocked {
			o.finish(ctx, f.task, result{err: f.err})
		}
		if pick.empty {
			break
		}
		if pick.ready == nil {
			if len(pick.blocked) > 0 {
				continue
			}
			return models.ErrQueueStalled
		}

		if err := o.execute(ctx, *pick.ready); err != nil {
			return err
		}
	}

	if o.logger != nil {
		o.logger.LogQueueDrained(o.GetStatistics())
	}
	return nil
}

type pausedTask struct {
	task      models.Task
	waitingOn []string
}

type blockedTask struct {
	task models.Task
	err  error
}

type selection struct {
	ready   *models.Task
	paused  []pausedTask
	blocked []blockedTask
	empty   bool
}

// next removes the highest-priority ready task from the queue. Tasks ranked
// ahead of it whose dependencies are still open are paused and moved to the
// tail; tasks whose dependency failed are removed and reported as blocked.
func (o *Orchestrator) next() selection {
	o.mu.Lock()
	defer o.mu.Unlock()

	var sel selection
	if len(o.queue) == 0 {
		sel.empty = true
		return sel
	}

	ranked := append([]queueEntry(nil), o.queue...)
	sort.SliceStable(ranked, func(i, j int) bool {
		ri := o.tasks[ranked[i].id].Priority.Rank()
		rj := o.tasks[ranked[j].id].Priority.Rank()
		if ri != rj {
			return ri > rj
		}
		return ranked[i].seq < ranked[j].seq
	})

	var waiting []string
	for _, e := range ranked {
		task := o.tasks[e.id]
		open, failedDep := o.dependencyStateLocked(task)
		switch {
		case failedDep != "":
			o.removeLocked(e.id)
			sel.blocked = append(sel.blocked, blockedTask{
				task: task.Clone(),
				err:  fmt.Errorf("task %s: %w: %s", task.ID, models.ErrDependencyFailed, failedDep),
			})
		case len(open) > 0:
			waiting = append(waiting, e.id)
			if task.Status != models.TaskPaused {
				task.Status = models.TaskPaused
				task.UpdatedAt = o.now()
				sel.paused = append(sel.paused, pausedTask{task: task.Clone(), waitingOn: open})
			}
		default:
			o.removeLocked(e.id)
			ready := task.Clone()
			sel.ready = &ready
		}
		if sel.ready != nil {
			break
		}
	}

	if sel.ready != nil {
		for _, id := range waiting {
			o.removeLocked(id)
			o.enqueueLocked(id)
		}
	}
	o.setQueueDepthLocked()
	return sel
}

// dependencyStateLocked returns the dependencies that are not finished yet and
// the first dependency that failed, if any.
func (o *Orchestrator) dependencyStateLocked(task *models.Task) (open []string, failed string) {
	for _, dep := range task.Dependencies {
		d, ok := o.tasks[dep]
		if !ok {
			return nil, dep
		}
		switch d.Status {
		case models.TaskCompleted:
		case models.TaskFailed:
			return nil, dep
		default:
			open = append(open, dep)
		}
	}
	return open, ""
}

func (o *Orchestrator) enqueueLocked(id string) {
	o.seq++
	o.queue = append(o.queue, queueEntry{id: id, seq: o.seq})
	o.setQueueDepthLocked()
}

func (o *Orchestrator) removeLocked(id string) {
	for i, e := range o.queue {
		if e.id == id {
			o.queue = append(o.queue[:i], o.queue[i+1:]...)
			return
		}
	}
}

func (o *Orchestrator) setQueueDepthLocked() {
	if o.metrics != nil {
		o.metrics.QueueDepth.Set(float64(len(o.queue)))
	}
}

// result is how a task run ended.
type result struct {
	success    bool
	output     string
	err        error
	executorID string // executor that produced the final result
	strategy   string
	kind       models.ErrorKind
	attempts   []string
}

// execute runs one ready task to a terminal status. Only a cancelled context
// is returned as an error; task failures are recorded on the task.
func (o *Orchestrator) execute(ctx context.Context, task models.Task) error {
	start := o.now()
	task.Status = models.TaskRunning
	task.StartedAt = &start
	task.UpdatedAt = start

	candidates := o.pool.Available()
	if len(candidates) == 0 {
		o.finish(ctx, task, result{err: &models.NoExecutorAvailableError{TaskID: task.ID}})
		return nil
	}

	history := o.History()
	sel := o.learner.SelectExecutor(task, candidates, history)
	exec, ok := o.pool.Get(sel.ExecutorID)
	capability, _ := o.pool.Capability(sel.ExecutorID)
	if !ok {
		o.finish(ctx, task, result{err: &models.NoExecutorAvailableError{TaskID: task.ID}})
		return nil
	}

	task.AssignedExecutor = sel.ExecutorID
	o.save(task)
	if o.logger != nil {
		o.logger.LogTaskStart(task.Clone(), sel.ExecutorID, o.learner.Predict(task, capability, history))
	}

	res, err := exec.Execute(ctx, task.Description)
	if err == nil {
		o.finish(ctx, task, result{success: true, output: res.Output, executorID: sel.ExecutorID})
		return nil
	}

	execErr := asExecutionError(task.ID, sel.ExecutorID, err, o.now())
	if o.recoverer == nil {
		o.finish(ctx, task, result{err: execErr, kind: recovery.ClassifyError(execErr)})
		return ctx.Err()
	}

	ec := recovery.NewErrorContext(task, sel.ExecutorID, execErr, o.now())
	runner := &taskRunner{o: o, task: task.Clone(), executorID: sel.ExecutorID}
	outcome, rerr := o.recoverer.Recover(ctx, ec, runner)

	r := result{kind: ec.Kind, attempts: ec.StrategiesTried()}
	var interrupted error
	switch {
	case rerr == nil && outcome != nil && outcome.Success && outcome.Delivered:
		r.success = true
		r.output = outcome.Output
		r.strategy = outcome.Strategy
		r.executorID = runner.deliveredBy()
	case rerr == nil && outcome != nil && outcome.Success:
		r.strategy = outcome.Strategy
		r.err = fmt.Errorf("%s: stabilized by %s without a result (attempted: %s)",
			execErr.Error(), outcome.Strategy, strings.Join(r.attempts, ", "))
	case models.IsRecoveryExhausted(rerr):
		var exhausted *models.RecoveryExhaustedError
		errors.As(rerr, &exhausted)
		exhausted.Err = execErr
		r.err = exhausted
	default:
		interrupted = rerr
		if interrupted == nil {
			interrupted = ctx.Err()
		}
		r.err = fmt.Errorf("%s: %w", execErr.Error(), interrupted)
	}

	o.recordRecovery(ctx, task, ec, outcome)
	o.finish(ctx, task, r)
	return interrupted
}

func asExecutionError(taskID, executorID string, err error, now time.Time) *models.ExecutionError {
	var ee *models.ExecutionError
	if errors.As(err, &ee) {
		if ee.TaskID == "" {
			ee.TaskID = taskID
		}
		if ee.ExecutorID == "" {
			ee.ExecutorID = executorID
		}
		return ee
	}
	ee = models.NewExecutionError(taskID, executorID, err)
	ee.Timestamp = now
	return ee
}

// recoverySession is the payload of a recovery_session record.
type recoverySession struct {
	Context *models.ErrorContext    `json:"context"`
	Outcome *models.RecoveryOutcome `json:"outcome,omitempty"`
}

func (o *Orchestrator) recordRecovery(ctx context.Context, task models.Task, ec *models.ErrorContext, outcome *models.RecoveryOutcome) {
	status, strategyName := "failed", "none"
	if outcome != nil {
		if outcome.Strategy != "" {
			strategyName = outcome.Strategy
		}
		if outcome.Success {
			status = "recovered"
		}
	}
	if o.metrics != nil {
		o.metrics.Recoveries.WithLabelValues(strategyName, status).Inc()
	}
	if o.store == nil {
		return
	}

	content := fmt.Sprintf("%s %s %s %s", task.Description, ec.Kind, strategyName, status)
	rec, err := memory.NewRecord(memory.TypeRecoverySession, string(ec.Kind), content,
		recoverySession{Context: ec, Outcome: outcome}, o.now())
	if err == nil {
		err = o.store.Append(context.WithoutCancel(ctx), rec)
	}
	if err != nil && o.logger != nil {
		o.logger.Warnf("Failed to record recovery session for task %s: %v", task.ID, err)
	}
}

// finish moves a task to its terminal status and records the outcome everywhere
// it is tracked: executor success rates, history, memory and metrics.
func (o *Orchestrator) finish(ctx context.Context, task models.Task, r result) {
	now := o.now()
	task.UpdatedAt = now
	task.CompletedAt = &now
	task.Attempts = r.attempts
	if r.success {
		task.Status = models.TaskCompleted
		task.Result = r.output
		task.Error = ""
	} else {
		task.Status = models.TaskFailed
		if r.err != nil {
			task.Error = r.err.Error()
		}
	}
	duration := task.Duration()

	o.adjustExecutors(&task, r, duration, now)

	exec := models.ExecutionRecord{
		TaskID:      task.ID,
		TaskType:    task.Type,
		Description: task.Description,
		ExecutorID:  task.AssignedExecutor,
		Success:     r.success,
		Duration:    duration,
		ErrorKind:   r.kind,
		Strategy:    r.strategy,
		Timestamp:   now,
	}

	o.mu.Lock()
	stored := task.Clone()
	o.tasks[task.ID] = &stored
	o.appendHistoryLocked(exec)
	if task.StartedAt != nil {
		o.totalDuration += duration
		o.timed++
	}
	o.mu.Unlock()

	if o.metrics != nil {
		o.metrics.TasksFinished.WithLabelValues(string(task.Status)).Inc()
		if task.StartedAt != nil {
			o.metrics.TaskDuration.Observe(duration.Seconds())
		}
	}

	if o.store != nil {
		rec, err := memory.NewTaskRecord(task, exec, now)
		if err == nil {
			err = o.store.Append(context.WithoutCancel(ctx), rec)
		}
		if err != nil && o.logger != nil {
			o.logger.Warnf("Failed to record task %s: %v", task.ID, err)
		}
	}

	if o.logger != nil {
		if r.success {
			o.logger.LogTaskComplete(task.Clone(), duration)
		} else {
			o.logger.LogTaskFailed(task.Clone(), r.err)
		}
	}
}

// adjustExecutors applies the outcome to the success rate of the assigned
// executor. The assigned executor is only credited when it produced the result
// itself. A result fabricated by recovery without any rerun charges it with a
// failure. When recovery delivered the result on another executor, that one is
// credited and the task is reassigned to it.
func (o *Orchestrator) adjustExecutors(task *models.Task, r result, duration time.Duration, now time.Time) {
	assigned := task.AssignedExecutor
	if assigned == "" {
		return
	}
	ac := learning.AdjustContext{
		Complexity:       analysis.Analyze(task.Description).Complexity,
		Duration:         duration,
		ExpectedDuration: expectedDuration(task.Metadata),
	}

	delivered := r.success && r.executorID == assigned
	o.updateExecutor(assigned, delivered, ac, now)
	if r.success && r.executorID != "" && r.executorID != assigned {
		o.updateExecutor(r.executorID, true, ac, now)
		task.AssignedExecutor = r.executorID
	}
}

func (o *Orchestrator) updateExecutor(id string, success bool, ac learning.AdjustContext, now time.Time) {
	updated, err := o.pool.Update(id, func(c *models.ExecutorCapability) {
		c.SuccessRate = o.learner.AdjustSuccessRate(c.SuccessRate, success, ac)
		c.Runs++
		c.LastUsed = now
	})
	if err != nil {
		if o.logger != nil {
			o.logger.Warnf("Failed to update executor %s: %v", id, err)
		}
		return
	}
	if o.metrics != nil {
		o.metrics.ExecutorSuccessRate.WithLabelValues(id).Set(updated.SuccessRate)
	}
}

func expectedDuration(metadata map[string]interface{}) time.Duration {
	switch v := metadata[MetadataExpectedDuration].(type) {
	case time.Duration:
		return v
	case string:
		d, err := time.ParseDuration(v)
		if err != nil {
			return 0
		}
		return d
	default:
		return 0
	}
}

func (o *Orchestrator) appendHistoryLocked(rec models.ExecutionRecord) {
	o.history = append(o.history, rec)
	if over := len(o.history) - o.historyLimit; over > 0 {
		o.history = append([]models.ExecutionRecord(nil), o.history[over:]...)
	}
}

func (o *Orchestrator) save(task models.Task) {
	o.mu.Lock()
	defer o.mu.Unlock()
	stored := task.Clone()
	o.tasks[task.ID] = &stored
}

// Task returns a copy of the task with the given ID.
func (o *Orchestrator) Task(id string) (models.Task, bool) {
	o.mu.Lock()
	defer o.mu.Unlock()
	t, ok := o.tasks[id]
	if !ok {
		return models.Task{}, false
	}
	return t.Clone(), true
}

// Tasks returns copies of every task in the order they were added.
func (o *Orchestrator) Tasks() []models.Task {
	o.mu.Lock()
	defer o.mu.Unlock()
	out := make([]models.Task, 0, len(o.order))
	for _, id := range o.order {
		out = append(out, o.tasks[id].Clone())
	}
	return out
}

// History returns a copy of the in-process execution history, oldest first.
func (o *Orchestrator) History() []models.ExecutionRecord {
	o.mu.Lock()
	defer o.mu.Unlock()
	return append([]models.ExecutionRecord(nil), o.history...)
}

// GetStatistics summarizes the queue and the executor pool.
func (o *Orchestrator) GetStatistics() models.Statistics {
	o.mu.Lock()
	stats := models.Statistics{
		QueueSize:  len(o.queue),
		TotalTasks: len(o.tasks),
	}
	for _, t := range o.tasks {
		switch t.Status {
		case models.TaskCompleted:
			stats.Completed++
		case models.TaskFailed:
			stats.Failed++
		}
	}
	if o.timed > 0 {
		stats.AverageExecutionTime = o.totalDuration / time.Duration(o.timed)
	}
	o.mu.Unlock()

	if finished := stats.Completed + stats.Failed; finished > 0 {
		stats.SuccessRate = float64(stats.Completed) / float64(finished)
		stats.FailureRate = float64(stats.Failed) / float64(finished)
	}
	for _, c := range o.pool.Capabilities() {
		stats.Executors = append(stats.Executors, models.ExecutorStats{
			ID:          c.ID,
			Kind:        c.Kind,
			Available:   c.Available,
			SuccessRate: c.SuccessRate,
			Runs:        c.Runs,
		})
	}
	return stats
}
