package orchestrator

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds the Prometheus collectors updated by the orchestrator.
//
// All metrics are namespaced "kaizen_orchestrator_":
//   - tasks_queued_total - tasks accepted by AddTask
//   - tasks_finished_total{status} - terminal tasks by status (completed, failed)
//   - task_duration_seconds - wall time of executed tasks
//   - recoveries_total{strategy,result} - recovery sessions by final strategy
//   - queue_depth - tasks waiting in the queue
//   - executor_success_rate{executor} - current success rate per executor
type Metrics struct {
	TasksQueued         prometheus.Counter
	TasksFinished       *prometheus.CounterVec
	TaskDuration        prometheus.Histogram
	Recoveries          *prometheus.CounterVec
	QueueDepth          prometheus.Gauge
	ExecutorSuccessRate *prometheus.GaugeVec
}

// NewMetrics registers the orchestrator collectors with reg. Passing a fresh
// prometheus.NewRegistry() keeps tests independent of the global registry.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)
	return &Metrics{
		TasksQueued: factory.NewCounter(prometheus.CounterOpts{
			Namespace: "kaizen",
			Subsystem: "orchestrator",
			Name:      "tasks_queued_total",
			Help:      "Total number of tasks added to the queue",
		}),
		TasksFinished: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "kaizen",
				Subsystem: "orchestrator",
				Name:      "tasks_finished_total",
				Help:      "Total number of tasks that reached a terminal status",
			},
			[]string{"status"},
		),
		TaskDuration: factory.NewHistogram(prometheus.HistogramOpts{
			Namespace: "kaizen",
			Subsystem: "orchestrator",
			Name:      "task_duration_seconds",
			Help:      "Duration of executed tasks in seconds",
			Buckets:   prometheus.DefBuckets,
		}),
		Recoveries: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "kaizen",
				Subsystem: "orchestrator",
				Name:      "recoveries_total",
				Help:      "Total number of recovery sessions by final strategy and result",
			},
			[]string{"strategy", "result"},
		),
		QueueDepth: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: "kaizen",
			Subsystem: "orchestrator",
			Name:      "queue_depth",
			Help:      "Number of tasks waiting in the queue",
		}),
		ExecutorSuccessRate: factory.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: "kaizen",
				Subsystem: "orchestrator",
				Name:      "executor_success_rate",
				Help:      "Current learned success rate per executor",
			},
			[]string{"executor"},
		),
	}
}
