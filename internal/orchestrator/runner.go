package orchestrator

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"

	"github.com/harrison/kaizen/internal/models"
	"github.com/harrison/kaizen/internal/strategy"
)

// taskRunner lets recovery strategies re-execute work for one failed task.
type taskRunner struct {
	o          *Orchestrator
	task       models.Task
	executorID string

	mu           sync.Mutex
	lastExecutor string
}

var _ strategy.Runner = (*taskRunner)(nil)

// Rerun executes req on the task's executor, or on the best other available
// executor when req.ExcludeExecutor is set.
func (r *taskRunner) Rerun(ctx context.Context, req strategy.RerunRequest) (string, error) {
	id := r.executorID
	if req.ExcludeExecutor != "" {
		var candidates []models.ExecutorCapability
		for _, c := range r.o.pool.Available() {
			if c.ID != req.ExcludeExecutor {
				candidates = append(candidates, c)
			}
		}
		if len(candidates) == 0 {
			return "", &models.NoExecutorAvailableError{TaskID: r.task.ID}
		}
		id = r.o.learner.SelectExecutor(r.task, candidates, r.o.History()).ExecutorID
	}

	exec, ok := r.o.pool.Get(id)
	if !ok {
		return "", fmt.Errorf("executor %s: %w", id, models.ErrExecutorNotFound)
	}

	description := req.Description
	if description == "" {
		description = r.task.Description
	}
	res, err := exec.Execute(ctx, withHints(description, req.Hints))
	if err != nil {
		return "", err
	}

	r.mu.Lock()
	r.lastExecutor = id
	r.mu.Unlock()
	return res.Output, nil
}

// deliveredBy returns the executor of the last successful rerun, or "" when
// no rerun returned output.
func (r *taskRunner) deliveredBy() string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.lastExecutor
}

// withHints appends hints to a description as a sorted key=value list.
func withHints(description string, hints map[string]string) string {
	if len(hints) == 0 {
		return description
	}
	keys := make([]string, 0, len(hints))
	for k := range hints {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	pairs := make([]string, 0, len(keys))
	for _, k := range keys {
		pairs = append(pairs, k+"="+hints[k])
	}
	return fmt.Sprintf("%s\n\n[hints: %s]", description, strings.Join(pairs, ", "))
}
