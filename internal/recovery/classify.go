package recovery

import (
	"context"
	"errors"
	"os"
	"runtime"
	"strings"
	"time"

	"github.com/harrison/kaizen/internal/models"
)

var kindMarkers = []struct {
	kind    models.ErrorKind
	markers []string
}{
	{models.ErrorKindTimeout, []string{"timeout", "timed out", "deadline exceeded"}},
	{models.ErrorKindMemory, []string{"out of memory", "memory", "oom", "heap"}},
	{models.ErrorKindNetwork, []string{"network", "connection", "econnrefused", "econnreset", "dns", "unreachable", "socket"}},
	{models.ErrorKindPermission, []string{"permission", "denied", "forbidden", "unauthorized", "eacces", "eperm"}},
}

// Classify maps an error message onto an error kind by substring match.
// The first matching kind in timeout, memory, network, permission order wins.
func Classify(message string) models.ErrorKind {
	lower := strings.ToLower(message)
	for _, km := range kindMarkers {
		for _, m := range km.markers {
			if strings.Contains(lower, m) {
				return km.kind
			}
		}
	}
	return models.ErrorKindGeneric
}

// ClassifyError classifies err, treating context deadlines as timeouts.
func ClassifyError(err error) models.ErrorKind {
	if err == nil {
		return models.ErrorKindGeneric
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return models.ErrorKindTimeout
	}
	if errors.Is(err, os.ErrPermission) {
		return models.ErrorKindPermission
	}
	return Classify(err.Error())
}

// NewErrorContext snapshots a failure for one recovery session.
func NewErrorContext(task models.Task, executorID string, err error, now time.Time) *models.ErrorContext {
	var mem runtime.MemStats
	runtime.ReadMemStats(&mem)

	msg := ""
	if err != nil {
		msg = err.Error()
	}
	return &models.ErrorContext{
		Kind:       ClassifyError(err),
		Message:    msg,
		Task:       task.Clone(),
		ExecutorID: executorID,
		Environment: map[string]string{
			"os":       runtime.GOOS,
			"arch":     runtime.GOARCH,
			"executor": executorID,
		},
		Resources: map[string]float64{
			"heap_alloc_mb": float64(mem.HeapAlloc) / (1 << 20),
			"goroutines":    float64(runtime.NumGoroutine()),
		},
		Criticality: models.CriticalityForPriority(task.Priority),
		OccurredAt:  now,
	}
}
