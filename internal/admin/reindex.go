// Package admin drives the admin panel's reindex flow: launch a task, follow
// its progress stream, request cancellation, and keep a renderable view.
package admin

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/JakeFAU/research-admin/internal/subscription"
	"github.com/JakeFAU/research-admin/internal/task"
)

const pollTimeout = 5 * time.Second

var (
	// ErrAlreadyRunning is returned by Start while a previous run is live.
	ErrAlreadyRunning = errors.New("a reindex task is already being followed")
	// ErrNotStarted is returned by Cancel before any task was launched.
	ErrNotStarted = errors.New("no reindex task has been started")
	// ErrClosed is returned once the controller was closed.
	ErrClosed = errors.New("reindex controller closed")
)

// TaskAPI is the task control surface the controller needs.
type TaskAPI interface {
	LaunchReindex(ctx context.Context, req task.LaunchRequest) (task.LaunchResponse, error)
	CancelTask(ctx context.Context, taskID string) error
	TaskStatus(ctx context.Context, taskID string) (task.ProgressEvent, error)
}

// Options tunes the controller.
//   - PollOnError: after a transport failure, fetch the task status once so
//     the view shows the latest server-side state.
//   - Logger: optional structured logger.
type Options struct {
	PollOnError bool
	Logger      *zap.Logger
}

// ReindexController owns at most one progress subscription at a time.
type ReindexController struct {
	api         TaskAPI
	subscriber  *subscription.Subscriber
	pollOnError bool
	logger      *zap.Logger

	mu      sync.Mutex
	view    ProgressView
	sub     *subscription.Subscription
	active  bool
	closed  bool
	updates chan ProgressView
}

// NewReindexController wires the task API and the stream subscriber.
func NewReindexController(api TaskAPI, subscriber *subscription.Subscriber, opts Options) *ReindexController {
	logger := opts.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return &ReindexController{
		api:         api,
		subscriber:  subscriber,
		pollOnError: opts.PollOnError,
		logger:      logger,
		updates:     make(chan ProgressView, 1),
	}
}

// Start launches a reindex task and begins following its progress.
func (c *ReindexController) Start(ctx context.Context, req task.LaunchRequest) (task.LaunchResponse, error) {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return task.LaunchResponse{}, ErrClosed
	}
	if c.active {
		c.mu.Unlock()
		return task.LaunchResponse{}, ErrAlreadyRunning
	}
	c.active = true
	previous := c.sub
	c.sub = nil
	c.mu.Unlock()

	if previous != nil {
		previous.Dispose()
	}

	resp, err := c.api.LaunchReindex(ctx, req)
	if err != nil {
		c.setInactive()
		return task.LaunchResponse{}, fmt.Errorf("start reindex: %w", err)
	}
	c.logger.Info("reindex task launched",
		zap.String("task_id", resp.TaskID),
		zap.Int("total_estimate", resp.TotalItemEstimate),
	)

	c.mu.Lock()
	c.view = ProgressView{
		TaskID:        resp.TaskID,
		TaskType:      task.TypeReindex,
		Status:        task.StatusPending,
		TotalEstimate: resp.TotalItemEstimate,
	}
	c.publishLocked()
	c.mu.Unlock()

	sub, err := c.subscriber.OpenURL(resp.TaskID, resp.ProgressURL, c.onProgress, c.onStreamError)
	if err != nil {
		c.setInactive()
		return resp, fmt.Errorf("open progress stream: %w", err)
	}

	c.mu.Lock()
	closed := c.closed
	c.sub = sub
	c.mu.Unlock()
	if closed {
		sub.Dispose()
		return resp, ErrClosed
	}
	go c.watch(sub)
	return resp, nil
}

// Cancel asks the backend to stop the current task. Progress keeps flowing
// until the stream reports the cancelled status.
func (c *ReindexController) Cancel(ctx context.Context) error {
	c.mu.Lock()
	taskID := c.view.TaskID
	c.mu.Unlock()
	if taskID == "" {
		return ErrNotStarted
	}
	if err := c.api.CancelTask(ctx, taskID); err != nil {
		return fmt.Errorf("cancel reindex: %w", err)
	}
	c.logger.Info("reindex cancellation requested", zap.String("task_id", taskID))

	c.mu.Lock()
	if c.view.TaskID == taskID {
		c.view.CancelRequested = true
		c.publishLocked()
	}
	c.mu.Unlock()
	return nil
}

// Snapshot returns a copy of the current view.
func (c *ReindexController) Snapshot() ProgressView {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.view.clone()
}

// Updates delivers view changes. Only the latest pending view is kept, so a
// slow reader skips intermediate states but never misses the final one.
func (c *ReindexController) Updates() <-chan ProgressView {
	return c.updates
}

// Close disposes the live subscription. It is idempotent.
func (c *ReindexController) Close() {
	c.mu.Lock()
	c.closed = true
	sub := c.sub
	c.mu.Unlock()
	if sub != nil {
		sub.Dispose()
	}
}

func (c *ReindexController) onProgress(evt task.ProgressEvent) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if evt.TaskID != "" && evt.TaskID != c.view.TaskID {
		c.logger.Debug("ignoring snapshot for another task", zap.String("task_id", evt.TaskID))
		return
	}
	c.view = c.view.withEvent(evt)
	if c.view.Done {
		c.active = false
	}
	c.publishLocked()
}

func (c *ReindexController) onStreamError(err error) {
	c.mu.Lock()
	taskID := c.view.TaskID
	c.mu.Unlock()

	var latest *task.ProgressEvent
	if c.pollOnError && taskID != "" {
		ctx, cancel := context.WithTimeout(context.Background(), pollTimeout)
		evt, perr := c.api.TaskStatus(ctx, taskID)
		cancel()
		if perr != nil {
			c.logger.Warn("status poll after stream failure failed", zap.String("task_id", taskID), zap.Error(perr))
		} else {
			latest = &evt
		}
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.view.TaskID != taskID {
		return
	}
	next := c.view
	if latest != nil {
		next = next.withEvent(*latest)
	}
	if !next.Done {
		next.Err = err
	}
	c.view = next
	c.publishLocked()
}

// watch releases the run once the subscription is closed, whatever the reason.
func (c *ReindexController) watch(sub *subscription.Subscription) {
	<-sub.Done()
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.sub != sub {
		return
	}
	c.active = false
	if sub.State() == subscription.StateClosedByTerminalEvent && !c.view.Done {
		c.view.Done = true
		c.publishLocked()
	}
}

func (c *ReindexController) setInactive() {
	c.mu.Lock()
	c.active = false
	c.mu.Unlock()
}

func (c *ReindexController) publishLocked() {
	v := c.view.clone()
	select {
	case c.updates <- v:
		return
	default:
	}
	select {
	case <-c.updates:
	default:
	}
	select {
	case c.updates <- v:
	default:
	}
}
