package mockbackend

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/research-admin/internal/storage/memory"
	"github.com/JakeFAU/research-admin/internal/task"
)

type recordingEmitter struct {
	mu     sync.Mutex
	events []task.ProgressEvent
}

func (e *recordingEmitter) Emit(evt task.ProgressEvent) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.events = append(e.events, evt.Clone())
}

func (e *recordingEmitter) all() []task.ProgressEvent {
	e.mu.Lock()
	defer e.mu.Unlock()
	return append([]task.ProgressEvent(nil), e.events...)
}

func TestRunnerEmitsEveryStep(t *testing.T) {
	t.Parallel()

	store := memory.NewTaskStore(nil)
	ctx := context.Background()
	require.NoError(t, store.CreateTask(ctx, memory.TaskRecord{
		Snapshot: task.ProgressEvent{TaskID: "t1", TaskType: task.TypeReindex, Status: task.StatusPending, TotalItems: 3},
		Items:    []string{"a", "b", "c"},
	}))
	emitter := &recordingEmitter{}
	r := NewRunner(RunnerConfig{Workers: 1, FailingItems: []string{"b"}}, store, emitter, nil)

	r.process(ctx, "t1")

	events := emitter.all()
	require.Len(t, events, 5)
	require.Equal(t, task.StatusRunning, events[0].Status)
	require.Equal(t, "a", events[1].CurrentItem)
	require.Equal(t, 2, events[2].ProcessedItems)
	require.Equal(t, []task.ItemError{{ItemID: "b", Error: "embedding service timeout"}}, events[2].Errors)
	final := events[4]
	require.Equal(t, task.StatusCompleted, final.Status)
	require.Empty(t, final.CurrentItem)
	require.Equal(t, 3, final.ProcessedItems)
	require.Equal(t, 1, final.FailedItems)
	require.Equal(t, "reindexed 2 items", final.Message)
}

func TestRunnerHonoursCancelBeforeStart(t *testing.T) {
	t.Parallel()

	store := memory.NewTaskStore(nil)
	ctx := context.Background()
	require.NoError(t, store.CreateTask(ctx, memory.TaskRecord{
		Snapshot: task.ProgressEvent{TaskID: "t1", Status: task.StatusPending, TotalItems: 1},
		Items:    []string{"a"},
	}))
	require.NoError(t, store.RequestCancel(ctx, "t1"))
	emitter := &recordingEmitter{}
	NewRunner(RunnerConfig{}, store, emitter, nil).process(ctx, "t1")

	events := emitter.all()
	require.Len(t, events, 1)
	require.Equal(t, task.StatusCancelled, events[0].Status)
	require.Zero(t, events[0].ProcessedItems)
}

func TestRunnerShutdownFailsInFlightTask(t *testing.T) {
	t.Parallel()

	store := memory.NewTaskStore(nil)
	require.NoError(t, store.CreateTask(context.Background(), memory.TaskRecord{
		Snapshot: task.ProgressEvent{TaskID: "t1", Status: task.StatusPending, TotalItems: 2},
		Items:    []string{"a", "b"},
	}))
	emitter := &recordingEmitter{}
	r := NewRunner(RunnerConfig{Workers: 1, ItemDelay: time.Hour}, store, emitter, nil)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		r.Run(ctx)
	}()
	require.NoError(t, r.Enqueue(ctx, "t1"))
	require.Eventually(t, func() bool { return len(emitter.all()) == 1 }, time.Second, 5*time.Millisecond)
	cancel()
	<-done

	events := emitter.all()
	require.Equal(t, task.StatusFailed, events[len(events)-1].Status)
	rec, err := store.GetTask(context.Background(), "t1")
	require.NoError(t, err)
	require.Equal(t, task.StatusFailed, rec.Snapshot.Status)
}
