// Package worker implements the per-identifier fetch and classify pipeline.
package worker

import (
	"context"
	"errors"
	"time"

	"go.uber.org/zap"

	"github.com/JakeFAU/metabocrawl/internal/crawler"
	"github.com/JakeFAU/metabocrawl/internal/metrics"
)

// Worker consumes queued tasks and emits one Record per finished task.
type Worker struct {
	id         int
	fetcher    crawler.Fetcher
	classifier crawler.Classifier
	target     crawler.URLTemplate
	logger     *zap.Logger
}

// New constructs a Worker.
func New(
	id int,
	fetcher crawler.Fetcher,
	classifier crawler.Classifier,
	target crawler.URLTemplate,
	logger *zap.Logger,
) *Worker {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Worker{
		id:         id,
		fetcher:    fetcher,
		classifier: classifier,
		target:     target,
		logger:     logger.With(zap.Int("worker", id)),
	}
}

// Run blocks, consuming tasks until the queue is drained or the context
// finishes. Abandoned tasks are never sent, so a resumed run retries them.
func (w *Worker) Run(ctx context.Context, queue crawler.Queue, results chan<- crawler.Record) {
	for {
		task, err := queue.Dequeue(ctx)
		if err != nil {
			if ctx.Err() == nil {
				w.logger.Debug("worker stopping", zap.Error(err))
			}
			return
		}
		if ctx.Err() != nil {
			return
		}

		record := w.Process(ctx, task)
		if record.State == crawler.TaskAbandoned {
			w.logger.Debug("task abandoned", zap.Int("seq", task.Seq), zap.String("id", task.ID))
			if ctx.Err() != nil {
				return
			}
			continue
		}
		select {
		case results <- record:
		case <-ctx.Done():
			return
		}
	}
}

// Process moves one task from InFlight to a terminal state. Fetch failures
// become negative records in the Failed state; cancellation yields Abandoned.
func (w *Worker) Process(ctx context.Context, task crawler.Task) crawler.Record {
	metrics.IncActiveWorkers()
	defer metrics.DecActiveWorkers()

	start := time.Now()
	record := crawler.Record{ID: task.ID, Flag: crawler.FlagNegative, State: crawler.TaskInFlight}

	resp, err := w.fetcher.Fetch(ctx, crawler.FetchRequest{
		ID:  task.ID,
		URL: w.target.Expand(task.ID),
	})
	record.Attempts = resp.Attempts
	record.Duration = time.Since(start)

	switch {
	case err == nil:
		record.Flag = w.classifier.Classify(resp.Body)
		record.State = crawler.TaskSucceeded
	case ctx.Err() != nil || (errors.Is(err, context.Canceled) && !errors.Is(err, crawler.ErrFetchFailure)):
		record.State = crawler.TaskAbandoned
		record.Err = err.Error()
	default:
		record.State = crawler.TaskFailed
		record.Err = err.Error()
		w.logger.Warn("identifier unresolved",
			zap.Int("seq", task.Seq),
			zap.String("id", task.ID),
			zap.Int("attempts", resp.Attempts),
			zap.Error(err),
		)
	}
	return record
}
