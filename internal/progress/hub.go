package progress

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/JakeFAU/research-admin/internal/task"
)

// Config controls buffering and batching for the Hub.
//   - BufferSize: snapshots held before new tasks' updates are dropped (default 4096).
//   - MaxBatchEvents: largest batch handed to a sink (default 256).
//   - MaxBatchWait: longest a snapshot waits before a flush (default 50ms).
//   - SinkTimeout: per-sink timeout while flushing (default 10s).
//   - BaseContext: parent context passed to sink calls (defaults to context.Background()).
//   - Logger: optional structured logger used for warnings.
type Config struct {
	BufferSize     int
	MaxBatchEvents int
	MaxBatchWait   time.Duration
	SinkTimeout    time.Duration
	BaseContext    context.Context
	Logger         *zap.Logger
}

const (
	defaultBufferSize     = 4096
	defaultMaxBatchEvents = 256
	defaultMaxBatchWait   = 50 * time.Millisecond
	defaultSinkTimeout    = 10 * time.Second
	dropLogInterval       = 5 * time.Second
)

// Hub queues task snapshots and fans them out to registered sinks from one
// background goroutine. Emit never blocks.
//
// Snapshots are cumulative, so when the queue is full a task's newest
// snapshot overwrites its last queued one instead of being discarded. A
// snapshot for a task with nothing queued is dropped, unless it is terminal:
// terminal snapshots are always queued, even past BufferSize, so sinks
// always learn that a task ended. Per task, sinks see snapshots in emission
// order.
type Hub struct {
	cfg    Config
	sinks  []Sink
	logger *zap.Logger

	mu      sync.Mutex
	queue   []task.ProgressEvent
	lastIdx map[string]int
	closed  bool

	wake   chan struct{}
	stopCh chan struct{}
	doneCh chan struct{}

	dropLimiter rateLimiter
	dropped     atomic.Int64
	coalesced   atomic.Int64
	sinceLog    atomic.Int64

	closeOnce sync.Once
	closeCtx  context.Context
}

// NewHub initializes a Hub and starts the background batching goroutine using
// the supplied sinks. The returned Hub is immediately ready to accept events.
func NewHub(cfg Config, sinks ...Sink) *Hub {
	if cfg.BufferSize <= 0 {
		cfg.BufferSize = defaultBufferSize
	}
	if cfg.MaxBatchEvents <= 0 {
		cfg.MaxBatchEvents = defaultMaxBatchEvents
	}
	if cfg.MaxBatchWait <= 0 {
		cfg.MaxBatchWait = defaultMaxBatchWait
	}
	if cfg.SinkTimeout <= 0 {
		cfg.SinkTimeout = defaultSinkTimeout
	}
	if cfg.BaseContext == nil {
		cfg.BaseContext = context.Background()
	}
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	h := &Hub{
		cfg:         cfg,
		sinks:       append([]Sink(nil), sinks...),
		logger:      logger,
		lastIdx:     make(map[string]int),
		wake:        make(chan struct{}, 1),
		stopCh:      make(chan struct{}),
		doneCh:      make(chan struct{}),
		dropLimiter: rateLimiter{interval: dropLogInterval},
	}
	go h.run()
	return h
}

// Emit queues a copy of evt for the sinks. Invalid snapshots and snapshots
// emitted after Close are ignored.
func (h *Hub) Emit(evt task.ProgressEvent) {
	if h == nil {
		return
	}
	if err := evt.Validate(); err != nil {
		h.logger.Debug("discarding invalid progress snapshot", zap.String("task_id", evt.TaskID), zap.Error(err))
		return
	}
	evt = evt.Clone()

	h.mu.Lock()
	if h.closed {
		h.mu.Unlock()
		return
	}
	queued := h.offerLocked(evt)
	h.mu.Unlock()

	if !queued {
		h.noteDrop(evt.TaskID)
		return
	}
	select {
	case h.wake <- struct{}{}:
	default:
	}
}

// offerLocked places evt in the queue and reports whether it was kept.
func (h *Hub) offerLocked(evt task.ProgressEvent) bool {
	idx, pending := h.lastIdx[evt.TaskID]
	if pending && h.queue[idx].Status.IsTerminal() {
		// The task already ended; nothing after its terminal snapshot counts.
		return true
	}
	if len(h.queue) < h.cfg.BufferSize || (!pending && evt.Status.IsTerminal()) {
		h.lastIdx[evt.TaskID] = len(h.queue)
		h.queue = append(h.queue, evt)
		return true
	}
	if pending {
		h.queue[idx] = evt
		h.coalesced.Add(1)
		return true
	}
	return false
}

func (h *Hub) noteDrop(taskID string) {
	h.dropped.Add(1)
	h.sinceLog.Add(1)
	if h.dropLimiter.Allow(time.Now()) {
		h.logger.Warn("progress snapshots dropped due to backpressure",
			zap.Int64("dropped", h.sinceLog.Swap(0)),
			zap.String("task_id", taskID),
		)
	}
}

// Dropped reports how many snapshots were discarded because the queue was full.
func (h *Hub) Dropped() int64 {
	if h == nil {
		return 0
	}
	return h.dropped.Load()
}

// Coalesced reports how many queued snapshots were overwritten by a newer
// snapshot of the same task while the queue was full.
func (h *Hub) Coalesced() int64 {
	if h == nil {
		return 0
	}
	return h.coalesced.Load()
}

// Close flushes queued snapshots, closes the sinks, and blocks until the
// background goroutine exits. It is safe to call multiple times.
func (h *Hub) Close(ctx context.Context) error {
	if h == nil {
		return nil
	}
	if ctx == nil {
		ctx = context.Background()
	}
	h.closeOnce.Do(func() {
		h.mu.Lock()
		h.closed = true
		h.closeCtx = ctx
		h.mu.Unlock()
		close(h.stopCh)
	})
	select {
	case <-h.doneCh:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("progress hub close wait: %w", ctx.Err())
	}
}

func (h *Hub) run() {
	defer close(h.doneCh)
	timer := time.NewTimer(h.cfg.MaxBatchWait)
	timer.Stop()
	timerActive := false
	for {
		select {
		case <-h.wake:
			if h.pending() >= h.cfg.MaxBatchEvents {
				h.stopTimer(timer, &timerActive)
				h.flush(h.take())
			} else if !timerActive {
				timer.Reset(h.cfg.MaxBatchWait)
				timerActive = true
			}
		case <-timer.C:
			timerActive = false
			h.flush(h.take())
		case <-h.stopCh:
			h.stopTimer(timer, &timerActive)
			h.flush(h.take())
			h.closeSinks()
			return
		}
	}
}

func (h *Hub) pending() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.queue)
}

// take empties the queue and returns what it held.
func (h *Hub) take() []task.ProgressEvent {
	h.mu.Lock()
	defer h.mu.Unlock()
	out := h.queue
	h.queue = nil
	clear(h.lastIdx)
	return out
}

func (h *Hub) stopTimer(timer *time.Timer, timerActive *bool) {
	if !*timerActive {
		return
	}
	if !timer.Stop() {
		select {
		case <-timer.C:
		default:
		}
	}
	*timerActive = false
}

// flush hands snapshots to every sink in batches of at most MaxBatchEvents.
func (h *Hub) flush(snapshots []task.ProgressEvent) {
	for start := 0; start < len(snapshots); start += h.cfg.MaxBatchEvents {
		end := min(start+h.cfg.MaxBatchEvents, len(snapshots))
		h.deliver(snapshots[start:end])
	}
}

func (h *Hub) deliver(batch []task.ProgressEvent) {
	for _, sink := range h.sinks {
		if sink == nil {
			continue
		}
		ctx, cancel := context.WithTimeout(h.cfg.BaseContext, h.cfg.SinkTimeout)
		if err := sink.Consume(ctx, append([]task.ProgressEvent(nil), batch...)); err != nil {
			h.logger.Warn("progress sink consume failed", zap.Int("batch", len(batch)), zap.Error(err))
		}
		cancel()
	}
}

func (h *Hub) closeSinks() {
	h.mu.Lock()
	ctx := h.closeCtx
	h.mu.Unlock()
	if ctx == nil {
		ctx = context.Background()
	}
	for _, sink := range h.sinks {
		if sink == nil {
			continue
		}
		if err := sink.Close(ctx); err != nil {
			h.logger.Warn("progress sink close failed", zap.Error(err))
		}
	}
}

type rateLimiter struct {
	interval time.Duration
	last     atomic.Int64
}

func (r *rateLimiter) Allow(now time.Time) bool {
	if r == nil || r.interval <= 0 {
		return true
	}
	nano := now.UnixNano()
	last := r.last.Load()
	if nano-last < r.interval.Nanoseconds() {
		return false
	}
	return r.last.CompareAndSwap(last, nano)
}
