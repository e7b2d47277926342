// Package memory persists the orchestration audit trail.
//
// Every backend implements Store: append-only records tagged with a type, a
// category and a timestamp, searchable by free text.
package memory

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/harrison/kaizen/internal/models"
)

// Record types written by the core.
const (
	TypeTaskExecution   = "task_execution"
	TypeRecoverySession = "recovery_session"
	TypePDCACycle       = "pdca_cycle"
)

// ErrClosed is returned by operations on a closed store.
var ErrClosed = errors.New("memory store closed")

// Record is one free-form JSON entry in the store.
type Record struct {
	ID        string          `json:"id"`
	Type      string          `json:"type"`
	Category  string          `json:"category"`
	Timestamp time.Time       `json:"timestamp"`
	Content   string          `json:"content"` // Searchable text
	Data      json.RawMessage `json:"data,omitempty"`
}

// Store is the persistent memory boundary.
type Store interface {
	Append(ctx context.Context, rec Record) error
	// Search returns records matching query, newest (or most similar) first.
	// An empty query matches everything; limit <= 0 means no limit.
	Search(ctx context.Context, query string, limit int) ([]Record, error)
	Close() error
}

// NewRecord builds a record with a fresh ID, encoding payload as its data.
func NewRecord(recordType, category, content string, payload interface{}, now time.Time) (Record, error) {
	rec := Record{
		ID:        uuid.NewString(),
		Type:      recordType,
		Category:  category,
		Timestamp: now.UTC(),
		Content:   content,
	}
	if payload != nil {
		data, err := json.Marshal(payload)
		if err != nil {
			return Record{}, fmt.Errorf("encode %s record: %w", recordType, err)
		}
		rec.Data = data
	}
	return rec, nil
}

// Decode unmarshals the record's data into v.
func (r Record) Decode(v interface{}) error {
	if len(r.Data) == 0 {
		return fmt.Errorf("record %s has no data", r.ID)
	}
	if err := json.Unmarshal(r.Data, v); err != nil {
		return fmt.Errorf("decode record %s: %w", r.ID, err)
	}
	return nil
}

// TaskExecution is the payload of a task_execution record.
type TaskExecution struct {
	Task      models.Task            `json:"task"`
	Execution models.ExecutionRecord `json:"execution"`
}

// NewTaskRecord wraps a terminal task and its execution record.
func NewTaskRecord(task models.Task, exec models.ExecutionRecord, now time.Time) (Record, error) {
	category := task.Type
	if category == "" {
		category = "task"
	}
	content := fmt.Sprintf("%s %s %s", task.Description, task.Status, exec.ExecutorID)
	return NewRecord(TypeTaskExecution, category, content, TaskExecution{Task: task, Execution: exec}, now)
}

// LoadExecutions returns the newest task executions in chronological order.
func LoadExecutions(ctx context.Context, store Store, limit int) ([]TaskExecution, error) {
	recs, err := store.Search(ctx, TypeTaskExecution, limit)
	if err != nil {
		return nil, fmt.Errorf("load executions: %w", err)
	}
	var out []TaskExecution
	for i := len(recs) - 1; i >= 0; i-- {
		if recs[i].Type != TypeTaskExecution {
			continue
		}
		var te TaskExecution
		if err := recs[i].Decode(&te); err != nil {
			return nil, err
		}
		out = append(out, te)
	}
	return out, nil
}

// matches is the free-text predicate shared by backends that scan records.
func matches(r Record, query string) bool {
	if query == "" || r.Type == query {
		return true
	}
	q := strings.ToLower(query)
	return strings.Contains(strings.ToLower(r.Category), q) || strings.Contains(strings.ToLower(r.Content), q)
}
