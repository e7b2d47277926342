package pdca

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/harrison/kaizen/internal/memory"
	"github.com/harrison/kaizen/internal/models"
	"github.com/harrison/kaizen/internal/orchestrator"
	"github.com/harrison/kaizen/internal/planner"
)

// TaskType is the task type of every step a cycle queues.
const TaskType = "pdca"

// Planner produces the plan for a cycle.
type Planner interface {
	CreatePlan(description string, pc planner.PlanContext) (*planner.Result, error)
}

// Runner queues and runs plan steps. *orchestrator.Orchestrator satisfies it.
type Runner interface {
	AddTask(ctx context.Context, taskType, description string, priority models.Priority, metadata map[string]interface{}) (string, error)
	ProcessQueue(ctx context.Context) error
	Task(id string) (models.Task, bool)
}

// Logger receives cycle progress events. Cycles passed in are copies.
type Logger interface {
	LogCyclePhase(cycle *Cycle)
	LogCheckResult(cycle *Cycle)
	LogCycleComplete(cycle *Cycle)
	Warnf(format string, args ...interface{})
}

// Controller owns the cycles it started. RunCycle is non-reentrant per cycle;
// different cycles may run concurrently as far as the Runner allows.
type Controller struct {
	planner     Planner
	runner      Runner
	logger      Logger
	store       memory.Store
	sampler     Sampler
	planContext planner.PlanContext
	now         func() time.Time

	mu      sync.Mutex
	cycles  map[string]*Cycle
	running map[string]bool
}

// Option configures a Controller.
type Option func(*Controller)

// WithLogger sets the cycle event logger.
func WithLogger(l Logger) Option {
	return func(c *Controller) { c.logger = l }
}

// WithStore persists completed cycles as pdca_cycle records.
func WithStore(s memory.Store) Option {
	return func(c *Controller) { c.store = s }
}

// WithSampler replaces the execution-based metric sampler.
func WithSampler(s Sampler) Option {
	return func(c *Controller) {
		if s != nil {
			c.sampler = s
		}
	}
}

// WithPlanContext sets the risk tolerance and time budget used for planning.
func WithPlanContext(pc planner.PlanContext) Option {
	return func(c *Controller) { c.planContext = pc }
}

// WithClock replaces time.Now.
func WithClock(now func() time.Time) Option {
	return func(c *Controller) { c.now = now }
}

// NewController creates a controller. A nil planner uses the default strategy registry.
func NewController(p Planner, runner Runner, opts ...Option) *Controller {
	if p == nil {
		p = planner.New(nil)
	}
	c := &Controller{
		planner:     p,
		runner:      runner,
		sampler:     ExecutionSampler{},
		planContext: planner.PlanContext{RiskTolerance: 0.5},
		now:         time.Now,
		cycles:      make(map[string]*Cycle),
		running:     make(map[string]bool),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// StartCycle registers a new cycle in the planning phase and returns its ID.
// With autoExecute the cycle is run before StartCycle returns.
func (c *Controller) StartCycle(ctx context.Context, title string, objectives []string, autoExecute bool) (string, error) {
	id, err := c.newCycle(title, objectives, "")
	if err != nil {
		return "", err
	}
	if autoExecute {
		return id, c.RunCycle(ctx, id)
	}
	return id, nil
}

func (c *Controller) newCycle(title string, objectives []string, parentID string) (string, error) {
	title = strings.TrimSpace(title)
	if title == "" {
		return "", ErrEmptyTitle
	}
	now := c.now()
	cycle := &Cycle{
		ID:         uuid.NewString(),
		Title:      title,
		Objectives: append([]string(nil), objectives...),
		Status:     StatusPlanning,
		ParentID:   parentID,
		CreatedAt:  now,
		UpdatedAt:  now,
	}

	c.mu.Lock()
	c.cycles[cycle.ID] = cycle
	c.mu.Unlock()

	if c.logger != nil {
		c.logger.LogCyclePhase(cycle.Clone())
	}
	return cycle.ID, nil
}

// GetCycle returns a copy of the cycle with the given ID.
func (c *Controller) GetCycle(id string) (*Cycle, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	cycle, ok := c.cycles[id]
	if !ok {
		return nil, false
	}
	return cycle.Clone(), true
}

// RunCycle takes a cycle through Plan, Do, Check and Act. A cycle whose run was
// interrupted starts again from Plan; a completed cycle cannot be run again.
func (c *Controller) RunCycle(ctx context.Context, id string) error {
	c.mu.Lock()
	cycle, ok := c.cycles[id]
	switch {
	case !ok:
		c.mu.Unlock()
		return fmt.Errorf("cycle %s: %w", id, ErrCycleNotFound)
	case c.running[id]:
		c.mu.Unlock()
		return fmt.Errorf("cycle %s: %w", id, ErrCycleRunning)
	case cycle.Status == StatusCompleted:
		c.mu.Unlock()
		return fmt.Errorf("cycle %s: %w", id, ErrCycleCompleted)
	}
	c.running[id] = true
	title, objectives := cycle.Title, append([]string(nil), cycle.Objectives...)
	c.mu.Unlock()

	defer func() {
		c.mu.Lock()
		delete(c.running, id)
		c.mu.Unlock()
	}()

	// Plan
	metrics := DeriveMetrics(objectives)
	result, err := c.planner.CreatePlan(planDescription(title, objectives), c.planContext)
	if err != nil {
		return fmt.Errorf("plan cycle %s: %w", id, err)
	}
	c.advance(id, StatusExecuting, func(cy *Cycle) {
		cy.Metrics = metrics
		cy.Plan = result.Primary.Clone()
		cy.Execution, cy.Check, cy.Actions = nil, nil, nil
	})

	// Do
	exec, err := c.do(ctx, id, result.Primary, metrics)
	c.update(id, func(cy *Cycle) { cy.Execution = exec })
	if err != nil {
		return fmt.Errorf("execute cycle %s: %w", id, err)
	}
	c.advance(id, StatusChecking, nil)

	// Check
	check := Evaluate(metrics, exec, c.sampler)
	checked := c.advance(id, StatusActing, func(cy *Cycle) { cy.Check = &check })
	if c.logger != nil {
		c.logger.LogCheckResult(checked)
	}

	// Act
	_, err = c.act(ctx, id, check)
	return err
}

// planDescription joins the objectives into sentences for the planner. A cycle
// without objectives is planned from its title.
func planDescription(title string, objectives []string) string {
	var parts []string
	for _, o := range objectives {
		o = strings.TrimRight(strings.TrimSpace(o), ".")
		if o != "" {
			parts = append(parts, o)
		}
	}
	if len(parts) == 0 {
		return title
	}
	return strings.Join(parts, ". ") + "."
}

// do runs every plan step as an orchestrator task in plan order, sampling the
// metrics after each step. Plan order is a topological order, so every step's
// dependencies have already been queued when it is added.
func (c *Controller) do(ctx context.Context, cycleID string, plan *models.Plan, metrics []Metric) (*Execution, error) {
	exec := &Execution{
		Planned:           len(plan.Steps),
		EstimatedDuration: plan.TotalDuration(),
		StartedAt:         c.now(),
	}
	defer func() {
		exec.FinishedAt = c.now()
		exec.ActualDuration = exec.FinishedAt.Sub(exec.StartedAt)
	}()

	taskIDs := make(map[string]string, len(plan.Steps))
	for _, step := range plan.Steps {
		deps := make([]string, 0, len(step.Dependencies))
		for _, dep := range step.Dependencies {
			deps = append(deps, taskIDs[dep])
		}
		metadata := map[string]interface{}{
			orchestrator.MetadataDependencies:     deps,
			orchestrator.MetadataExpectedDuration: step.EstimatedDuration.String(),
			"cycle_id":                            cycleID,
			"step_id":                             step.ID,
		}

		taskID, err := c.runner.AddTask(ctx, TaskType, step.Description, priorityFor(step), metadata)
		if err != nil {
			return exec, fmt.Errorf("queue step %s: %w", step.ID, err)
		}
		taskIDs[step.ID] = taskID
		if err := c.runner.ProcessQueue(ctx); err != nil {
			return exec, fmt.Errorf("run step %s: %w", step.ID, err)
		}

		result := StepResult{StepID: step.ID, TaskID: taskID}
		if task, ok := c.runner.Task(taskID); ok {
			result.Status = task.Status
			result.Error = task.Error
			result.Attempts = task.Attempts
			result.Duration = task.Duration()
		}
		exec.Steps = append(exec.Steps, result)

		at := c.now()
		for _, m := range metrics {
			exec.Samples = append(exec.Samples, Sample{
				Metric: m.Name,
				Value:  c.sampler.Sample(m, exec),
				StepID: step.ID,
				At:     at,
			})
		}
	}
	return exec, nil
}

func priorityFor(step models.PlanStep) models.Priority {
	if step.RiskLevel > 0.7 {
		return models.PriorityHigh
	}
	return models.PriorityMedium
}

// act records the actions for check, spawns a follow-up cycle when the check
// calls for one, and completes the cycle.
func (c *Controller) act(ctx context.Context, id string, check CheckResult) (*Cycle, error) {
	actions := PlanActions(check)
	for i := range actions {
		actions[i].ID = uuid.NewString()
	}

	c.mu.Lock()
	cycle, ok := c.cycles[id]
	if !ok {
		c.mu.Unlock()
		return nil, fmt.Errorf("cycle %s: %w", id, ErrCycleNotFound)
	}
	title, objectives := cycle.Title, append([]string(nil), cycle.Objectives...)
	c.mu.Unlock()

	var nextID string
	if NeedsFollowUp(check) {
		var err error
		nextID, err = c.newCycle(title+" (follow-up)", FollowUpObjectives(objectives, actions), id)
		if err != nil {
			return nil, fmt.Errorf("spawn follow-up for cycle %s: %w", id, err)
		}
	}

	done := c.advance(id, StatusCompleted, func(cy *Cycle) {
		cy.Actions = actions
		cy.NextCycleID = nextID
		if cy.Check == nil {
			cy.Check = &check
		}
	})
	c.persist(ctx, done)
	if c.logger != nil {
		c.logger.LogCycleComplete(done)
	}
	return done, nil
}

func (c *Controller) persist(ctx context.Context, cycle *Cycle) {
	if c.store == nil {
		return
	}
	score := 0.0
	if cycle.Check != nil {
		score = cycle.Check.OverallScore
	}
	content := fmt.Sprintf("%s %s %s score=%.1f", cycle.Title, strings.Join(cycle.Objectives, " "), cycle.Status, score)
	rec, err := memory.NewRecord(memory.TypePDCACycle, TaskType, content, cycle, c.now())
	if err == nil {
		err = c.store.Append(context.WithoutCancel(ctx), rec)
	}
	if err != nil && c.logger != nil {
		c.logger.Warnf("Failed to record cycle %s: %v", cycle.ID, err)
	}
}

// update applies fn to the live cycle under the lock.
func (c *Controller) update(id string, fn func(cy *Cycle)) *Cycle {
	c.mu.Lock()
	defer c.mu.Unlock()
	cycle := c.cycles[id]
	fn(cycle)
	cycle.UpdatedAt = c.now()
	return cycle.Clone()
}

// advance moves the cycle to status, applying fn first when given, and logs the
// phase change. It returns a copy of the updated cycle.
func (c *Controller) advance(id string, status Status, fn func(cy *Cycle)) *Cycle {
	updated := c.update(id, func(cy *Cycle) {
		if fn != nil {
			fn(cy)
		}
		cy.Status = status
	})
	if c.logger != nil {
		c.logger.LogCyclePhase(updated)
	}
	return updated
}
