package crawler

import (
	"context"
)

// Fetcher fetches a page and returns the body plus metadata.
type Fetcher interface {
	Fetch(ctx context.Context, request FetchRequest) (FetchResponse, error)
}

// Classifier maps fetched content to a Flag. Implementations must be pure and
// total: nil or empty content is a valid input.
type Classifier interface {
	Classify(content []byte) Flag
}

// Queue provides enqueue/dequeue semantics for crawl tasks.
type Queue interface {
	Enqueue(ctx context.Context, task Task) error
	Dequeue(ctx context.Context) (Task, error)
}

// Sink durably records completed tasks. Only one goroutine calls Append.
type Sink interface {
	Append(ctx context.Context, record Record) error
}

// Observer is notified after every recorded task.
type Observer interface {
	TaskCompleted(done, total int)
}

// Limiter paces outbound requests.
type Limiter interface {
	Wait(ctx context.Context, url string) error
}

// NopObserver discards progress notifications.
type NopObserver struct{}

// TaskCompleted implements Observer.
func (NopObserver) TaskCompleted(int, int) {}
