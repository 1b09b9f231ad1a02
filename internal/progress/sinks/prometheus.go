package sinks

import (
	"context"
	"fmt"
	"sync"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/JakeFAU/research-admin/internal/task"
)

// PrometheusSink exports task progress via Prometheus. It owns collectors for
// tasks started/finished/running and processed/failed item counters.
type PrometheusSink struct {
	tasksStarted   *prometheus.CounterVec
	tasksFinished  *prometheus.CounterVec
	tasksRunning   prometheus.Gauge
	itemsProcessed *prometheus.CounterVec
	itemsFailed    *prometheus.CounterVec

	tracker *taskTracker
}

// NewPrometheusSink registers the collectors against the provided registry.
func NewPrometheusSink(reg prometheus.Registerer) (*PrometheusSink, error) {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	s := &PrometheusSink{
		tasksStarted: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "tasks_started_total",
			Help: "Tasks observed for the first time, partitioned by type.",
		}, []string{"type"}),
		tasksFinished: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "tasks_finished_total",
			Help: "Tasks that reached a terminal status, partitioned by type and status.",
		}, []string{"type", "status"}),
		tasksRunning: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "tasks_running",
			Help: "Current number of non-terminal tasks.",
		}),
		itemsProcessed: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "task_items_processed_total",
			Help: "Items processed across all tasks.",
		}, []string{"type"}),
		itemsFailed: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "task_items_failed_total",
			Help: "Items that failed across all tasks.",
		}, []string{"type"}),
		tracker: newTaskTracker(),
	}
	for _, collector := range []prometheus.Collector{
		s.tasksStarted,
		s.tasksFinished,
		s.tasksRunning,
		s.itemsProcessed,
		s.itemsFailed,
	} {
		if err := reg.Register(collector); err != nil {
			return nil, fmt.Errorf("register progress collector: %w", err)
		}
	}
	return s, nil
}

// Consume updates the Prometheus collectors using the provided batch. It is
// safe for concurrent use by multiple goroutines.
func (s *PrometheusSink) Consume(_ context.Context, batch []task.ProgressEvent) error {
	for _, evt := range batch {
		s.consumeEvent(evt)
	}
	return nil
}

func (s *PrometheusSink) consumeEvent(evt task.ProgressEvent) {
	taskType := evt.TaskType
	if taskType == "" {
		taskType = "unknown"
	}
	delta, first, finished := s.tracker.observe(evt)
	if first {
		s.tasksStarted.WithLabelValues(taskType).Inc()
		s.tasksRunning.Inc()
	}
	if delta.processed > 0 {
		s.itemsProcessed.WithLabelValues(taskType).Add(float64(delta.processed))
	}
	if delta.failed > 0 {
		s.itemsFailed.WithLabelValues(taskType).Add(float64(delta.failed))
	}
	if finished {
		s.tasksFinished.WithLabelValues(taskType, string(evt.Status)).Inc()
		s.tasksRunning.Dec()
	}
}

// Close implements the Sink interface; it performs no action.
func (s *PrometheusSink) Close(context.Context) error {
	return nil
}

type counters struct {
	processed int
	failed    int
}

type taskTracker struct {
	mu       sync.Mutex
	running  map[string]counters
	finished map[string]struct{}
}

func newTaskTracker() *taskTracker {
	return &taskTracker{
		running:  make(map[string]counters),
		finished: make(map[string]struct{}),
	}
}

// observe returns the counter growth since the previous snapshot of the same
// task, whether the task is new, and whether this snapshot finished it.
// Snapshots for already finished tasks are ignored.
func (t *taskTracker) observe(evt task.ProgressEvent) (counters, bool, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if _, done := t.finished[evt.TaskID]; done {
		return counters{}, false, false
	}
	prev, seen := t.running[evt.TaskID]
	delta := counters{
		processed: max(evt.ProcessedItems-prev.processed, 0),
		failed:    max(evt.FailedItems-prev.failed, 0),
	}
	if evt.Status.IsTerminal() {
		delete(t.running, evt.TaskID)
		t.finished[evt.TaskID] = struct{}{}
		return delta, !seen, true
	}
	t.running[evt.TaskID] = counters{
		processed: max(evt.ProcessedItems, prev.processed),
		failed:    max(evt.FailedItems, prev.failed),
	}
	return delta, !seen, false
}
