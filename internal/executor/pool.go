package executor

import (
	"fmt"
	"sort"
	"sync"

	"github.com/harrison/kaizen/internal/models"
)

type poolEntry struct {
	capability models.ExecutorCapability
	executor   Executor
}

// Pool is the capability registry. It is passed explicitly to whoever needs it,
// and every capability mutation goes through Update.
type Pool struct {
	mu      sync.RWMutex
	entries map[string]*poolEntry
}

// NewPool creates an empty pool.
func NewPool() *Pool {
	return &Pool{entries: make(map[string]*poolEntry)}
}

// Register adds an executor. Its success rate is clamped into the allowed window.
func (p *Pool) Register(capability models.ExecutorCapability, exec Executor) error {
	if capability.ID == "" {
		return fmt.Errorf("executor id is required")
	}
	if exec == nil {
		return fmt.Errorf("executor %s: implementation is nil", capability.ID)
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	if _, exists := p.entries[capability.ID]; exists {
		return fmt.Errorf("executor %s: already registered", capability.ID)
	}
	capability.SuccessRate = models.ClampSuccessRate(capability.SuccessRate)
	p.entries[capability.ID] = &poolEntry{capability: capability, executor: exec}
	return nil
}

// Get returns the executor registered under id.
func (p *Pool) Get(id string) (Executor, bool) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	e, ok := p.entries[id]
	if !ok {
		return nil, false
	}
	return e.executor, true
}

// Capability returns a copy of one capability record.
func (p *Pool) Capability(id string) (models.ExecutorCapability, bool) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	e, ok := p.entries[id]
	if !ok {
		return models.ExecutorCapability{}, false
	}
	return e.capability, true
}

// Capabilities returns every capability sorted by ID.
func (p *Pool) Capabilities() []models.ExecutorCapability {
	return p.list(false)
}

// Available returns the available capabilities sorted by ID.
func (p *Pool) Available() []models.ExecutorCapability {
	return p.list(true)
}

func (p *Pool) list(availableOnly bool) []models.ExecutorCapability {
	p.mu.RLock()
	defer p.mu.RUnlock()
	out := make([]models.ExecutorCapability, 0, len(p.entries))
	for _, e := range p.entries {
		if availableOnly && !e.capability.Available {
			continue
		}
		out = append(out, e.capability)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// Update applies fn to a capability under the pool lock, so a read-modify-write
// of the success rate cannot lose a concurrent update. The rate is clamped
// afterwards and the ID cannot change.
func (p *Pool) Update(id string, fn func(c *models.ExecutorCapability)) (models.ExecutorCapability, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	e, ok := p.entries[id]
	if !ok {
		return models.ExecutorCapability{}, fmt.Errorf("%w: %s", models.ErrExecutorNotFound, id)
	}
	c := e.capability
	fn(&c)
	c.ID = id
	c.SuccessRate = models.ClampSuccessRate(c.SuccessRate)
	e.capability = c
	return c, nil
}

// SetAvailable marks an executor available or not.
func (p *Pool) SetAvailable(id string, available bool) error {
	_, err := p.Update(id, func(c *models.ExecutorCapability) { c.Available = available })
	return err
}

// Len returns the number of registered executors.
func (p *Pool) Len() int {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return len(p.entries)
}
