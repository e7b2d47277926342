package recovery

import (
	"context"
	"fmt"

	"github.com/harrison/kaizen/internal/models"
)

// Diagnosis is the structured output of a Diagnoser.
type Diagnosis struct {
	RootCause        string   `json:"root_cause"`
	Impact           string   `json:"impact"`
	ResourcePressure string   `json:"resource_pressure"`
	Dependencies     []string `json:"dependencies,omitempty"`
	Environment      string   `json:"environment"`
}

// Diagnoser inspects a failure before strategies run. Replace HeuristicDiagnoser
// with real introspection where it is available.
type Diagnoser interface {
	Diagnose(ctx context.Context, ec *models.ErrorContext) Diagnosis
}

// HeuristicDiagnoser derives a diagnosis from the error kind and snapshot alone.
type HeuristicDiagnoser struct{}

var rootCauses = map[models.ErrorKind]string{
	models.ErrorKindTimeout:    "operation exceeded its time budget",
	models.ErrorKindMemory:     "insufficient memory for the workload",
	models.ErrorKindNetwork:    "remote dependency unreachable",
	models.ErrorKindPermission: "missing access rights",
	models.ErrorKindGeneric:    "executor reported a failure",
}

func (HeuristicDiagnoser) Diagnose(_ context.Context, ec *models.ErrorContext) Diagnosis {
	d := Diagnosis{
		RootCause:        rootCauses[ec.Kind],
		Impact:           fmt.Sprintf("%s impact on task %s", ec.Criticality, ec.Task.ID),
		ResourcePressure: "normal",
		Dependencies:     append([]string(nil), ec.Task.Dependencies...),
		Environment:      fmt.Sprintf("%s/%s", ec.Environment["os"], ec.Environment["arch"]),
	}
	if d.RootCause == "" {
		d.RootCause = rootCauses[models.ErrorKindGeneric]
	}
	if ec.Kind == models.ErrorKindMemory || ec.Resources["heap_alloc_mb"] > 1024 {
		d.ResourcePressure = "high"
	}
	return d
}
