package mockbackend

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/JakeFAU/research-admin/internal/metrics"
	"github.com/JakeFAU/research-admin/internal/progress"
	"github.com/JakeFAU/research-admin/internal/queue/memory"
	storemem "github.com/JakeFAU/research-admin/internal/storage/memory"
	"github.com/JakeFAU/research-admin/internal/task"
)

// RunnerConfig controls how simulated tasks execute.
//   - Workers: number of tasks processed concurrently (default 2).
//   - QueueDepth: bounded queue capacity (default 16).
//   - ItemDelay: time spent on each item.
//   - FailingItems: item ids that always fail.
type RunnerConfig struct {
	Workers      int
	QueueDepth   int
	ItemDelay    time.Duration
	FailingItems []string
}

type job struct {
	taskID string
}

// Runner fans queued tasks out to a fixed pool of workers. Each worker walks
// the task's items, updates the store, and emits a snapshot per step.
type Runner struct {
	cfg     RunnerConfig
	queue   *memory.Queue[job]
	store   *storemem.TaskStore
	emitter progress.Emitter
	failing map[string]struct{}
	logger  *zap.Logger
}

// NewRunner wires the task store and the progress emitter.
func NewRunner(cfg RunnerConfig, store *storemem.TaskStore, emitter progress.Emitter, logger *zap.Logger) *Runner {
	if cfg.Workers <= 0 {
		cfg.Workers = 2
	}
	if cfg.QueueDepth <= 0 {
		cfg.QueueDepth = 16
	}
	if cfg.ItemDelay < 0 {
		cfg.ItemDelay = 0
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	failing := make(map[string]struct{}, len(cfg.FailingItems))
	for _, id := range cfg.FailingItems {
		failing[id] = struct{}{}
	}
	return &Runner{
		cfg:     cfg,
		queue:   memory.NewQueue[job](cfg.QueueDepth),
		store:   store,
		emitter: emitter,
		failing: failing,
		logger:  logger,
	}
}

// Enqueue schedules a stored task for execution.
func (r *Runner) Enqueue(ctx context.Context, taskID string) error {
	if err := r.queue.Enqueue(ctx, job{taskID: taskID}); err != nil {
		return fmt.Errorf("queue enqueue: %w", err)
	}
	return nil
}

// Run starts all workers and blocks until the context finishes.
func (r *Runner) Run(ctx context.Context) {
	var wg sync.WaitGroup
	for i := range r.cfg.Workers {
		wg.Add(1)
		go func(id int) {
			defer wg.Done()
			r.work(ctx, id)
		}(i)
	}
	<-ctx.Done()
	r.queue.Close()
	wg.Wait()
}

func (r *Runner) work(ctx context.Context, workerID int) {
	for {
		item, err := r.queue.Dequeue(ctx)
		if err != nil {
			if ctx.Err() != nil || errors.Is(err, memory.ErrClosed) {
				return
			}
			r.logger.Error("queue dequeue failed", zap.Error(err))
			continue
		}
		r.logger.Debug("dequeued task", zap.String("task_id", item.taskID), zap.Int("worker", workerID))
		r.process(ctx, item.taskID)
	}
}

func (r *Runner) process(ctx context.Context, taskID string) {
	rec, err := r.store.GetTask(ctx, taskID)
	if err != nil {
		r.logger.Error("load task failed", zap.String("task_id", taskID), zap.Error(err))
		return
	}
	snap := rec.Snapshot.Clone()
	if rec.CancelRequested {
		r.finish(ctx, snap, task.StatusCancelled, "cancelled before start")
		return
	}
	snap.Status = task.StatusRunning
	snap.Message = "reindex started"
	if !r.publish(ctx, snap) {
		return
	}

	for _, itemID := range rec.Items {
		if r.store.CancelRequested(ctx, taskID) {
			r.finish(ctx, snap, task.StatusCancelled, "cancelled by request")
			return
		}
		snap.CurrentItem = itemID
		snap.Message = ""
		if err := sleepCtx(ctx, r.cfg.ItemDelay); err != nil {
			r.finish(context.WithoutCancel(ctx), snap, task.StatusFailed, "backend shutting down")
			return
		}
		snap.ProcessedItems++
		if _, fail := r.failing[itemID]; fail {
			snap.FailedItems++
			snap.Errors = append(snap.Errors, task.ItemError{ItemID: itemID, Error: "embedding service timeout"})
		}
		if !r.publish(ctx, snap) {
			return
		}
	}

	status := task.StatusCompleted
	msg := fmt.Sprintf("reindexed %d items", snap.ProcessedItems-snap.FailedItems)
	if snap.FailedItems > 0 && snap.FailedItems == snap.ProcessedItems {
		status = task.StatusFailed
		msg = "every item failed"
	}
	r.finish(ctx, snap, status, msg)
}

func (r *Runner) finish(ctx context.Context, snap task.ProgressEvent, status task.Status, msg string) {
	snap.Status = status
	snap.CurrentItem = ""
	snap.Message = msg
	if r.publish(ctx, snap) {
		metrics.ObserveMockTask(string(status))
		r.logger.Info("task finished",
			zap.String("task_id", snap.TaskID),
			zap.String("status", string(status)),
			zap.Int("processed", snap.ProcessedItems),
			zap.Int("failed", snap.FailedItems),
		)
	}
}

// publish stores the snapshot and emits it. It reports false when the task
// can no longer be updated.
func (r *Runner) publish(ctx context.Context, snap task.ProgressEvent) bool {
	if err := r.store.UpdateSnapshot(ctx, snap); err != nil {
		r.logger.Warn("update task snapshot failed", zap.String("task_id", snap.TaskID), zap.Error(err))
		return false
	}
	r.emitter.Emit(snap)
	return true
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
