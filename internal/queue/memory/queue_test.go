package memory

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/JakeFAU/metabocrawl/internal/crawler"
)

func TestQueueEnqueueDequeue(t *testing.T) {
	t.Parallel()

	q := NewQueue(1)
	result := make(chan crawler.Task, 1)
	errCh := make(chan error, 1)

	go func() {
		task, err := q.Dequeue(context.Background())
		if err != nil {
			errCh <- err
			return
		}
		result <- task
	}()

	if err := q.Enqueue(context.Background(), crawler.Task{Seq: 0, ID: "HMDB0000001"}); err != nil {
		t.Fatalf("Enqueue() error = %v", err)
	}
	select {
	case err := <-errCh:
		t.Fatalf("Dequeue() error = %v", err)
	case got := <-result:
		if got.ID != "HMDB0000001" {
			t.Fatalf("expected HMDB0000001, got %+v", got)
		}
	case <-time.After(time.Second):
		t.Fatal("dequeue did not return task")
	}
}

func TestQueueCancelationErrors(t *testing.T) {
	t.Parallel()

	qDequeue := NewQueue(1)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if _, err := qDequeue.Dequeue(ctx); err == nil ||
		err.Error() != "dequeue canceled: context canceled" {
		t.Fatalf("expected dequeue cancel error, got %v", err)
	}

	qEnqueue := NewQueue(1)
	if err := qEnqueue.Enqueue(context.Background(), crawler.Task{ID: "primed"}); err != nil {
		t.Fatalf("failed to prime enqueue queue: %v", err)
	}
	ctx, cancel = context.WithCancel(context.Background())
	cancel()
	if err := qEnqueue.Enqueue(ctx, crawler.Task{}); err == nil ||
		err.Error() != "enqueue canceled: context canceled" {
		t.Fatalf("expected enqueue cancel error, got %v", err)
	}
}

func TestQueueCloseDrainsBeforeClosedError(t *testing.T) {
	t.Parallel()

	q := NewQueue(2)
	for _, id := range []string{"A1", "A2"} {
		if err := q.Enqueue(context.Background(), crawler.Task{ID: id}); err != nil {
			t.Fatal(err)
		}
	}
	q.Close()
	// Closing twice should be safe.
	q.Close()

	for _, want := range []string{"A1", "A2"} {
		got, err := q.Dequeue(context.Background())
		if err != nil || got.ID != want {
			t.Fatalf("expected %s, got %+v (%v)", want, got, err)
		}
	}
	if _, err := q.Dequeue(context.Background()); !errors.Is(err, ErrClosed) {
		t.Fatalf("expected ErrClosed, got %v", err)
	}
}
