package memory

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

type job struct{ taskID string }

func TestQueueEnqueueDequeue(t *testing.T) {
	t.Parallel()

	q := NewQueue[job](1)
	result := make(chan job, 1)
	errCh := make(chan error, 1)

	go func() {
		item, err := q.Dequeue(context.Background())
		if err != nil {
			errCh <- err
			return
		}
		result <- item
	}()

	require.NoError(t, q.Enqueue(context.Background(), job{taskID: "task-1"}))
	select {
	case err := <-errCh:
		t.Fatalf("Dequeue() error = %v", err)
	case got := <-result:
		require.Equal(t, "task-1", got.taskID)
	case <-time.After(time.Second):
		t.Fatal("dequeue did not return item")
	}
}

func TestQueueCancelationErrors(t *testing.T) {
	t.Parallel()

	qDequeue := NewQueue[job](1)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := qDequeue.Dequeue(ctx)
	require.EqualError(t, err, "dequeue canceled: context canceled")

	qEnqueue := NewQueue[job](1)
	require.NoError(t, qEnqueue.Enqueue(context.Background(), job{taskID: "primed"}))
	require.Equal(t, 1, qEnqueue.Len())
	ctx, cancel = context.WithCancel(context.Background())
	cancel()
	require.EqualError(t, qEnqueue.Enqueue(ctx, job{}), "enqueue canceled: context canceled")
}

func TestQueueCloseDrainsThenReportsClosed(t *testing.T) {
	t.Parallel()

	q := NewQueue[job](2)
	require.NoError(t, q.Enqueue(context.Background(), job{taskID: "queued"}))
	q.Close()
	q.Close()

	require.ErrorIs(t, q.Enqueue(context.Background(), job{}), ErrClosed)
	got, err := q.Dequeue(context.Background())
	require.NoError(t, err)
	require.Equal(t, "queued", got.taskID)
	_, err = q.Dequeue(context.Background())
	require.ErrorIs(t, err, ErrClosed)
}
