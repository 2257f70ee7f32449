// Package dispatcher manages worker fan-out over the task queue and owns the
// single writer that persists their results.
package dispatcher

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/JakeFAU/metabocrawl/internal/crawler"
	"github.com/JakeFAU/metabocrawl/internal/metrics"
	"github.com/JakeFAU/metabocrawl/internal/queue/memory"
	"github.com/JakeFAU/metabocrawl/internal/worker"
)

// Options sizes the worker pool.
type Options struct {
	Workers    int
	QueueDepth int
}

// Summary describes one Run.
type Summary struct {
	Total      int
	Completed  int
	Positive   int
	Negative   int
	Unresolved int
	Abandoned  int
	Elapsed    time.Duration
}

func (s *Summary) add(rec crawler.Record) {
	s.Completed++
	if rec.Flag == crawler.FlagPositive {
		s.Positive++
	} else {
		s.Negative++
	}
	if rec.Unresolved() {
		s.Unresolved++
	}
}

// Fields renders the summary for structured logs.
func (s Summary) Fields() []zap.Field {
	return []zap.Field{
		zap.Int("total", s.Total),
		zap.Int("completed", s.Completed),
		zap.Int("positive", s.Positive),
		zap.Int("negative", s.Negative),
		zap.Int("unresolved", s.Unresolved),
		zap.Int("abandoned", s.Abandoned),
		zap.Duration("elapsed", s.Elapsed),
	}
}

// Dispatcher fans identifiers out to a pool of workers and funnels their
// records into one Sink.
type Dispatcher struct {
	opts       Options
	fetcher    crawler.Fetcher
	classifier crawler.Classifier
	target     crawler.URLTemplate
	sink       crawler.Sink
	observer   crawler.Observer
	logger     *zap.Logger
}

// New creates a Dispatcher. A nil observer is replaced by crawler.NopObserver.
func New(
	opts Options,
	fetcher crawler.Fetcher,
	classifier crawler.Classifier,
	target crawler.URLTemplate,
	sink crawler.Sink,
	observer crawler.Observer,
	logger *zap.Logger,
) *Dispatcher {
	if opts.Workers < 1 {
		opts.Workers = 1
	}
	if opts.QueueDepth < 0 {
		opts.QueueDepth = 0
	}
	if observer == nil {
		observer = crawler.NopObserver{}
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Dispatcher{
		opts:       opts,
		fetcher:    fetcher,
		classifier: classifier,
		target:     target,
		sink:       sink,
		observer:   observer,
		logger:     logger,
	}
}

// Run crawls ids and blocks until every task is recorded, the context ends,
// or the sink fails. The calling goroutine is the only one that touches the
// sink and the observer.
//
// When ctx ends no further tasks are admitted, in-flight tasks are abandoned
// without being recorded, and records already received are still written.
// Run then returns an error wrapping crawler.ErrInterrupted.
func (d *Dispatcher) Run(ctx context.Context, ids []string) (Summary, error) {
	start := time.Now()
	summary := Summary{Total: len(ids)}
	if len(ids) == 0 {
		return summary, nil
	}

	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	workers := min(d.opts.Workers, len(ids))
	queue := memory.NewQueue(d.opts.QueueDepth)
	results := make(chan crawler.Record, workers)

	g, gctx := errgroup.WithContext(runCtx)
	g.Go(func() error {
		defer queue.Close()
		for i, id := range ids {
			if err := queue.Enqueue(gctx, crawler.Task{Seq: i, ID: id}); err != nil {
				return nil //nolint:nilerr // cancellation stops admission, Run reports it
			}
		}
		return nil
	})
	for i := range workers {
		w := worker.New(i+1, d.fetcher, d.classifier, d.target, d.logger)
		g.Go(func() error {
			w.Run(gctx, queue, results)
			return nil
		})
	}
	go func() {
		_ = g.Wait()
		close(results)
	}()

	d.logger.Info("crawl started", zap.Int("identifiers", len(ids)), zap.Int("workers", workers))

	var sinkErr error
	for rec := range results {
		if sinkErr != nil {
			continue
		}
		if err := d.sink.Append(ctx, rec); err != nil {
			sinkErr = fmt.Errorf("record %s: %w", rec.ID, err)
			d.logger.Error("report write failed; stopping workers", zap.Error(err))
			cancel()
			continue
		}
		summary.add(rec)
		metrics.ObserveRecord(rec.Flag.String(), string(rec.State))
		d.observer.TaskCompleted(summary.Completed, summary.Total)
	}

	summary.Abandoned = summary.Total - summary.Completed
	summary.Elapsed = time.Since(start)

	switch {
	case sinkErr != nil:
		return summary, sinkErr
	case summary.Abandoned > 0 && ctx.Err() != nil:
		d.logger.Warn("crawl interrupted", summary.Fields()...)
		return summary, fmt.Errorf("%w: %d of %d identifiers recorded: %w",
			crawler.ErrInterrupted, summary.Completed, summary.Total, context.Cause(ctx))
	case summary.Abandoned > 0:
		d.logger.Warn("crawl finished with abandoned identifiers", summary.Fields()...)
		return summary, nil
	default:
		d.logger.Info("crawl finished", summary.Fields()...)
		return summary, nil
	}
}
