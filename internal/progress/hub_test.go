package progress

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/research-admin/internal/task"
)

// TestHubBatchBySize verifies the hub flushes immediately once the batch size limit is reached.
func TestHubBatchBySize(t *testing.T) {
	t.Parallel()

	sink := newStubSink()
	hub := NewHub(Config{
		BufferSize:     8,
		MaxBatchEvents: 2,
		MaxBatchWait:   time.Minute,
	}, sink)
	defer func() {
		require.NoError(t, hub.Close(context.Background()))
	}()

	hub.Emit(sampleEvent("t1", 1))
	hub.Emit(sampleEvent("t1", 2))
	require.Eventually(t, func() bool {
		return len(sink.Batches()) == 1 && len(sink.Batches()[0]) == 2
	}, time.Second, 10*time.Millisecond)
}

// TestHubBatchByTimer verifies the timer-based flush kicks in when the batch is small.
func TestHubBatchByTimer(t *testing.T) {
	t.Parallel()

	sink := newStubSink()
	hub := NewHub(Config{
		BufferSize:     4,
		MaxBatchEvents: 10,
		MaxBatchWait:   25 * time.Millisecond,
	}, sink)
	defer func() {
		require.NoError(t, hub.Close(context.Background()))
	}()

	hub.Emit(sampleEvent("t1", 1))
	require.Eventually(t, func() bool {
		return len(sink.Batches()) == 1
	}, time.Second, 5*time.Millisecond)
}

func TestHubPreservesEmissionOrder(t *testing.T) {
	t.Parallel()

	sink := newStubSink()
	hub := NewHub(Config{BufferSize: 64, MaxBatchEvents: 3, MaxBatchWait: 5 * time.Millisecond}, sink)
	for i := 1; i <= 20; i++ {
		hub.Emit(sampleEvent("t1", i))
	}
	require.NoError(t, hub.Close(context.Background()))

	var processed []int
	for _, batch := range sink.Batches() {
		for _, evt := range batch {
			processed = append(processed, evt.ProcessedItems)
		}
	}
	require.Len(t, processed, 20)
	for i, n := range processed {
		require.Equal(t, i+1, n)
	}
}

func TestHubDiscardsInvalidSnapshots(t *testing.T) {
	t.Parallel()

	sink := newStubSink()
	hub := NewHub(Config{MaxBatchEvents: 1}, sink)
	hub.Emit(task.ProgressEvent{Status: task.StatusRunning})
	hub.Emit(task.ProgressEvent{TaskID: "t1", Status: "paused"})
	require.NoError(t, hub.Close(context.Background()))
	require.Empty(t, sink.Batches())
}

func TestHubCopiesErrorsOnEmit(t *testing.T) {
	t.Parallel()

	sink := newStubSink()
	hub := NewHub(Config{MaxBatchEvents: 100, MaxBatchWait: time.Minute}, sink)
	evt := sampleEvent("t1", 1)
	evt.Errors = []task.ItemError{{ItemID: "a1", Error: "boom"}}
	hub.Emit(evt)
	evt.Errors[0].ItemID = "mutated"
	require.NoError(t, hub.Close(context.Background()))

	batches := sink.Batches()
	require.Len(t, batches, 1)
	require.Equal(t, "a1", batches[0][0].Errors[0].ItemID)
}

// TestHubBackpressureKeepsTerminalSnapshots fills the queue while the sink is
// stuck and checks what survives once it drains.
func TestHubBackpressureKeepsTerminalSnapshots(t *testing.T) {
	t.Parallel()

	sink := newBlockingSink()
	hub := NewHub(Config{BufferSize: 2, MaxBatchEvents: 1, MaxBatchWait: time.Millisecond}, sink)

	hub.Emit(sampleEvent("t0", 1))
	<-sink.entered // run goroutine is now stuck delivering t0

	start := time.Now()
	hub.Emit(sampleEvent("t1", 1))
	hub.Emit(sampleEvent("t2", 1))
	hub.Emit(sampleEvent("t3", 1)) // queue full, no t3 entry: dropped
	hub.Emit(sampleEvent("t1", 2)) // overwrites queued t1
	done := sampleEvent("t3", 5)
	done.Status = task.StatusCompleted
	hub.Emit(done) // terminal: queued past the bound
	failed := sampleEvent("t2", 3)
	failed.Status = task.StatusFailed
	hub.Emit(failed) // terminal overwrites queued t2
	hub.Emit(sampleEvent("t2", 4)) // after t2's terminal: ignored
	require.Less(t, time.Since(start), 50*time.Millisecond, "Emit must not block")

	require.EqualValues(t, 1, hub.Dropped())
	require.EqualValues(t, 2, hub.Coalesced())

	close(sink.release)
	require.NoError(t, hub.Close(context.Background()))

	var got []task.ProgressEvent
	for _, batch := range sink.Batches() {
		got = append(got, batch...)
	}
	require.Len(t, got, 4)
	require.Equal(t, "t0", got[0].TaskID)
	require.Equal(t, "t1", got[1].TaskID)
	require.Equal(t, 2, got[1].ProcessedItems)
	require.Equal(t, "t2", got[2].TaskID)
	require.Equal(t, task.StatusFailed, got[2].Status)
	require.Equal(t, "t3", got[3].TaskID)
	require.Equal(t, task.StatusCompleted, got[3].Status)
}

func TestHubTerminalSnapshotSurvivesFullQueue(t *testing.T) {
	t.Parallel()

	sink := newBlockingSink()
	hub := NewHub(Config{BufferSize: 1, MaxBatchEvents: 1, MaxBatchWait: time.Millisecond}, sink)

	hub.Emit(sampleEvent("busy", 1))
	<-sink.entered
	hub.Emit(sampleEvent("other", 1))
	for i := range 10 {
		hub.Emit(sampleEvent(fmt.Sprintf("noise-%d", i), 1))
	}
	done := sampleEvent("task-42", 10)
	done.Status = task.StatusCompleted
	hub.Emit(done)

	close(sink.release)
	require.NoError(t, hub.Close(context.Background()))

	var last task.ProgressEvent
	for _, batch := range sink.Batches() {
		for _, evt := range batch {
			if evt.TaskID == "task-42" {
				last = evt
			}
		}
	}
	require.Equal(t, task.StatusCompleted, last.Status)
	require.EqualValues(t, 10, hub.Dropped())
}

// TestHubFlushOnClose ensures Close drains any buffered snapshots before returning.
func TestHubFlushOnClose(t *testing.T) {
	t.Parallel()

	sink := newStubSink()
	hub := NewHub(Config{
		BufferSize:     4,
		MaxBatchEvents: 100,
		MaxBatchWait:   time.Minute,
	}, sink)

	hub.Emit(sampleEvent("t1", 1))

	require.NoError(t, hub.Close(context.Background()))
	require.NoError(t, hub.Close(context.Background()))
	require.Len(t, sink.Batches(), 1)
	require.Len(t, sink.Batches()[0], 1)

	hub.Emit(sampleEvent("t1", 2))
	require.Len(t, sink.Batches(), 1)
}

type stubSink struct {
	mu      sync.Mutex
	batches [][]task.ProgressEvent
}

func newStubSink() *stubSink {
	return &stubSink{batches: [][]task.ProgressEvent{}}
}

func (s *stubSink) Consume(_ context.Context, batch []task.ProgressEvent) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	copyBatch := append([]task.ProgressEvent(nil), batch...)
	s.batches = append(s.batches, copyBatch)
	return nil
}

func (s *stubSink) Close(context.Context) error {
	return nil
}

func (s *stubSink) Batches() [][]task.ProgressEvent {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([][]task.ProgressEvent, len(s.batches))
	for i, b := range s.batches {
		out[i] = append([]task.ProgressEvent(nil), b...)
	}
	return out
}

// blockingSink records batches but holds the first Consume call until
// release is closed.
type blockingSink struct {
	stubSink
	entered chan struct{}
	release chan struct{}
	once    sync.Once
}

func newBlockingSink() *blockingSink {
	return &blockingSink{entered: make(chan struct{}), release: make(chan struct{})}
}

func (s *blockingSink) Consume(ctx context.Context, batch []task.ProgressEvent) error {
	s.once.Do(func() { close(s.entered) })
	<-s.release
	return s.stubSink.Consume(ctx, batch)
}

func sampleEvent(taskID string, processed int) task.ProgressEvent {
	return task.ProgressEvent{
		TaskID:         taskID,
		TaskType:       task.TypeReindex,
		Status:         task.StatusRunning,
		TotalItems:     100,
		ProcessedItems: processed,
	}
}
