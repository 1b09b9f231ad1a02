package mockbackend

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/JakeFAU/research-admin/internal/task"
)

const listenerBuffer = 64

// Broker is a progress sink that fans snapshots out to per-task stream
// listeners. It remembers the latest snapshot of each task so late listeners
// start from current state.
type Broker struct {
	mu        sync.Mutex
	latest    map[string]task.ProgressEvent
	listeners map[string]map[*listener]struct{}
	closed    bool
}

type listener struct {
	ch chan task.ProgressEvent
}

// NewBroker constructs an empty Broker.
func NewBroker() *Broker {
	return &Broker{
		latest:    make(map[string]task.ProgressEvent),
		listeners: make(map[string]map[*listener]struct{}),
	}
}

// Consume records each snapshot and forwards it to the task's listeners.
func (b *Broker) Consume(_ context.Context, batch []task.ProgressEvent) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	for _, evt := range batch {
		b.latest[evt.TaskID] = evt.Clone()
		for l := range b.listeners[evt.TaskID] {
			l.offer(evt.Clone())
		}
	}
	return nil
}

// Close disconnects every listener.
func (b *Broker) Close(context.Context) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return nil
	}
	b.closed = true
	for taskID, set := range b.listeners {
		for l := range set {
			close(l.ch)
		}
		delete(b.listeners, taskID)
	}
	return nil
}

// Subscribe registers a listener for taskID. The returned channel first
// yields the latest known snapshot, if any, and is closed by cancel or when
// the broker shuts down.
func (b *Broker) Subscribe(taskID string) (<-chan task.ProgressEvent, func()) {
	l := &listener{ch: make(chan task.ProgressEvent, listenerBuffer)}
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		close(l.ch)
		return l.ch, func() {}
	}
	if evt, ok := b.latest[taskID]; ok {
		l.ch <- evt.Clone()
	}
	set, ok := b.listeners[taskID]
	if !ok {
		set = make(map[*listener]struct{})
		b.listeners[taskID] = set
	}
	set[l] = struct{}{}

	var once sync.Once
	cancel := func() {
		once.Do(func() {
			b.mu.Lock()
			defer b.mu.Unlock()
			set, ok := b.listeners[taskID]
			if !ok {
				return
			}
			if _, ok := set[l]; !ok {
				return
			}
			delete(set, l)
			if len(set) == 0 {
				delete(b.listeners, taskID)
			}
			close(l.ch)
		})
	}
	return l.ch, cancel
}

// Latest returns the most recent snapshot seen for taskID.
func (b *Broker) Latest(taskID string) (task.ProgressEvent, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	evt, ok := b.latest[taskID]
	return evt.Clone(), ok
}

// offer never blocks the broker: when a slow listener's buffer is full the
// oldest pending snapshot is discarded. Snapshots are cumulative, so the
// listener still converges on current state.
func (l *listener) offer(evt task.ProgressEvent) {
	select {
	case l.ch <- evt:
		return
	default:
	}
	select {
	case <-l.ch:
	default:
	}
	select {
	case l.ch <- evt:
	default:
	}
}

// streamProgress serves GET /api/admin/tasks/{taskId}/progress as an SSE
// stream: a "progress" event per snapshot, a final "complete" event, and
// comment heartbeats in between.
func (s *Server) streamProgress(w http.ResponseWriter, r *http.Request) {
	taskID := chi.URLParam(r, "taskId")
	rec, err := s.tasks.GetTask(r.Context(), taskID)
	if err != nil {
		writeError(w, http.StatusNotFound, "task not found")
		return
	}
	flusher, ok := w.(http.Flusher)
	if !ok {
		writeError(w, http.StatusInternalServerError, "streaming unsupported")
		return
	}

	events, cancel := s.broker.Subscribe(taskID)
	defer cancel()

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no")
	w.WriteHeader(http.StatusOK)
	flusher.Flush()

	logger := s.logger.With(zap.String("task_id", taskID), zap.String("request_id", requestID(r.Context())))
	logger.Debug("progress stream opened")

	sent := -1
	if _, seen := s.broker.Latest(taskID); !seen {
		// Nothing reached the broker yet; start from the stored snapshot.
		done, err := writeSnapshot(w, rec.Snapshot)
		if err != nil || done {
			return
		}
		flusher.Flush()
		sent = rec.Snapshot.ProcessedItems
	}

	heartbeat := time.NewTicker(s.cfg.Heartbeat)
	defer heartbeat.Stop()
	for {
		select {
		case <-r.Context().Done():
			logger.Debug("progress stream closed by client")
			return
		case evt, ok := <-events:
			if !ok {
				return
			}
			if !evt.Status.IsTerminal() && evt.ProcessedItems < sent {
				continue
			}
			sent = evt.ProcessedItems
			done, err := writeSnapshot(w, evt)
			if err != nil {
				logger.Warn("progress stream write failed", zap.Error(err))
				return
			}
			flusher.Flush()
			if done {
				logger.Debug("progress stream completed", zap.String("status", string(evt.Status)))
				return
			}
		case <-heartbeat.C:
			if _, err := fmt.Fprint(w, ": keep-alive\n\n"); err != nil {
				return
			}
			flusher.Flush()
		}
	}
}

// writeSnapshot frames evt as an SSE event and reports whether it ended the stream.
func writeSnapshot(w http.ResponseWriter, evt task.ProgressEvent) (bool, error) {
	if evt.Errors == nil {
		evt.Errors = []task.ItemError{}
	}
	payload, err := json.Marshal(evt)
	if err != nil {
		return false, fmt.Errorf("encode snapshot: %w", err)
	}
	name := task.EventProgress
	terminal := evt.Status.IsTerminal()
	if terminal {
		name = task.EventComplete
	}
	if _, err := fmt.Fprintf(w, "event: %s\ndata: %s\n\n", name, payload); err != nil {
		return false, fmt.Errorf("write snapshot: %w", err)
	}
	return terminal, nil
}
