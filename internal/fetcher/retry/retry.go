// Package retry wraps a crawler.Fetcher with bounded attempts and exponential backoff.
package retry

import (
	"context"
	"errors"
	"fmt"
	"math"
	"time"

	goretry "github.com/sethvargo/go-retry"
	"go.uber.org/zap"

	"github.com/JakeFAU/metabocrawl/internal/crawler"
	"github.com/JakeFAU/metabocrawl/internal/metrics"
)

// Policy describes the attempt budget and the backoff curve. After the n-th
// failed attempt the fetcher sleeps Base^n × Unit, optionally capped at MaxDelay.
type Policy struct {
	MaxAttempts int
	Timeout     time.Duration
	Base        float64
	Unit        time.Duration
	MaxDelay    time.Duration
}

// DefaultPolicy is five attempts of 30s each with 1.5s, 2.25s, 3.375s, 5.06s pauses.
func DefaultPolicy() Policy {
	return Policy{
		MaxAttempts: 5,
		Timeout:     30 * time.Second,
		Base:        1.5,
		Unit:        time.Second,
	}
}

// Delay returns the pause that follows failed attempt n (1-based).
func (p Policy) Delay(attempt int) time.Duration {
	d := time.Duration(math.Pow(p.Base, float64(attempt)) * float64(p.Unit))
	if p.MaxDelay > 0 && d > p.MaxDelay {
		return p.MaxDelay
	}
	return d
}

// WorstCase bounds the wall time one identifier can spend in Fetch.
func (p Policy) WorstCase() time.Duration {
	total := time.Duration(p.MaxAttempts) * p.Timeout
	for n := 1; n < p.MaxAttempts; n++ {
		total += p.Delay(n)
	}
	return total
}

func (p Policy) backoff() goretry.Backoff {
	attempt := 0
	b := goretry.BackoffFunc(func() (time.Duration, bool) {
		attempt++
		return p.Delay(attempt), false
	})
	return goretry.WithMaxRetries(uint64(max(p.MaxAttempts-1, 0)), b)
}

// Fetcher retries the wrapped fetcher. Cancellation of the caller's context
// is returned immediately and never consumes an attempt.
type Fetcher struct {
	next    crawler.Fetcher
	limiter crawler.Limiter
	policy  Policy
	logger  *zap.Logger
}

// New wraps next. A nil limiter disables pacing.
func New(next crawler.Fetcher, limiter crawler.Limiter, policy Policy, logger *zap.Logger) *Fetcher {
	if logger == nil {
		logger = zap.NewNop()
	}
	if policy.MaxAttempts < 1 {
		policy.MaxAttempts = 1
	}
	return &Fetcher{
		next:    next,
		limiter: limiter,
		policy:  policy,
		logger:  logger,
	}
}

// Fetch runs up to MaxAttempts attempts. A failure after the last attempt
// wraps crawler.ErrFetchFailure.
func (f *Fetcher) Fetch(ctx context.Context, request crawler.FetchRequest) (crawler.FetchResponse, error) {
	var (
		resp     crawler.FetchResponse
		attempts int
	)
	err := goretry.Do(ctx, f.policy.backoff(), func(ctx context.Context) error {
		if f.limiter != nil {
			if err := f.limiter.Wait(ctx, request.URL); err != nil {
				return err
			}
		}
		attempts++
		r, err := f.attempt(ctx, request)
		if err == nil {
			resp = r
			return nil
		}
		if ctx.Err() != nil || errors.Is(err, context.Canceled) {
			return err
		}
		f.logger.Debug("fetch attempt failed",
			zap.String("id", request.ID),
			zap.Int("attempt", attempts),
			zap.Error(err),
		)
		return goretry.RetryableError(err)
	})

	switch {
	case err == nil:
		resp.Attempts = attempts
		return resp, nil
	case ctx.Err() != nil:
		return crawler.FetchResponse{Attempts: attempts}, fmt.Errorf("fetch %s: %w", request.ID, ctx.Err())
	case errors.Is(err, context.Canceled):
		return crawler.FetchResponse{Attempts: attempts}, fmt.Errorf("fetch %s: %w", request.ID, err)
	default:
		return crawler.FetchResponse{Attempts: attempts},
			fmt.Errorf("%w: %s after %d attempts: %w", crawler.ErrFetchFailure, request.ID, attempts, err)
	}
}

func (f *Fetcher) attempt(ctx context.Context, request crawler.FetchRequest) (crawler.FetchResponse, error) {
	attemptCtx := ctx
	if f.policy.Timeout > 0 {
		var cancel context.CancelFunc
		attemptCtx, cancel = context.WithTimeout(ctx, f.policy.Timeout)
		defer cancel()
	}

	start := time.Now()
	resp, err := f.next.Fetch(attemptCtx, request)
	elapsed := time.Since(start)
	switch {
	case err == nil:
		metrics.ObserveFetchAttempt(request.URL, metrics.AttemptSuccess, elapsed, len(resp.Body))
	case ctx.Err() != nil:
		metrics.ObserveFetchAttempt(request.URL, metrics.AttemptCanceled, elapsed, 0)
	default:
		metrics.ObserveFetchAttempt(request.URL, metrics.AttemptError, elapsed, 0)
	}
	return resp, err
}
