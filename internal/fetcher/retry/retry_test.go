package retry

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/metabocrawl/internal/crawler"
)

type countingFetcher struct {
	mu       sync.Mutex
	attempts int
	fails    int
	err      error
}

func (f *countingFetcher) Fetch(_ context.Context, req crawler.FetchRequest) (crawler.FetchResponse, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.attempts++
	if f.attempts <= f.fails {
		if f.err != nil {
			return crawler.FetchResponse{}, f.err
		}
		return crawler.FetchResponse{}, errors.New("transient error")
	}
	return crawler.FetchResponse{StatusCode: 200, Body: []byte("success"), URL: req.URL}, nil
}

func (f *countingFetcher) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.attempts
}

func fastPolicy() Policy {
	return Policy{MaxAttempts: 5, Timeout: time.Second, Base: 1.5, Unit: time.Millisecond}
}

func TestPolicyDelaySequence(t *testing.T) {
	t.Parallel()

	p := DefaultPolicy()
	assert.Equal(t, 1500*time.Millisecond, p.Delay(1))
	assert.Equal(t, 2250*time.Millisecond, p.Delay(2))
	assert.Equal(t, 3375*time.Millisecond, p.Delay(3))
	assert.InDelta(t, float64(5062500*time.Microsecond), float64(p.Delay(4)), float64(time.Microsecond))

	p.MaxDelay = 2 * time.Second
	assert.Equal(t, 2*time.Second, p.Delay(3))
}

func TestPolicyWorstCase(t *testing.T) {
	t.Parallel()

	p := Policy{MaxAttempts: 3, Timeout: time.Second, Base: 2, Unit: time.Second}
	// 3 timeouts plus 2s and 4s pauses.
	assert.Equal(t, 9*time.Second, p.WorstCase())
}

func TestFetchRetriesThenSucceeds(t *testing.T) {
	t.Parallel()

	next := &countingFetcher{fails: 2}
	f := New(next, nil, fastPolicy(), nil)

	resp, err := f.Fetch(context.Background(), crawler.FetchRequest{ID: "A1", URL: "https://hmdb.ca/metabolites/A1"})
	require.NoError(t, err)
	assert.Equal(t, 3, next.count())
	assert.Equal(t, 3, resp.Attempts)
	assert.Equal(t, "success", string(resp.Body))
}

func TestFetchExhaustsAttempts(t *testing.T) {
	t.Parallel()

	next := &countingFetcher{fails: 100}
	p := fastPolicy()
	f := New(next, nil, p, nil)

	start := time.Now()
	resp, err := f.Fetch(context.Background(), crawler.FetchRequest{ID: "A3", URL: "https://hmdb.ca/metabolites/A3"})
	elapsed := time.Since(start)

	require.Error(t, err)
	assert.True(t, errors.Is(err, crawler.ErrFetchFailure))
	assert.Equal(t, 5, next.count())
	assert.Equal(t, 5, resp.Attempts)
	assert.LessOrEqual(t, elapsed, p.WorstCase()+500*time.Millisecond)
}

func TestFetchPerAttemptTimeout(t *testing.T) {
	t.Parallel()

	var calls atomic.Int32
	slow := fetcherFunc(func(ctx context.Context, _ crawler.FetchRequest) (crawler.FetchResponse, error) {
		calls.Add(1)
		<-ctx.Done()
		return crawler.FetchResponse{}, ctx.Err()
	})
	p := Policy{MaxAttempts: 2, Timeout: 20 * time.Millisecond, Base: 1, Unit: time.Millisecond}
	f := New(slow, nil, p, nil)

	_, err := f.Fetch(context.Background(), crawler.FetchRequest{ID: "SLOW"})
	require.Error(t, err)
	assert.True(t, errors.Is(err, crawler.ErrFetchFailure))
	assert.EqualValues(t, 2, calls.Load())
}

func TestFetchCancellationDoesNotRetry(t *testing.T) {
	t.Parallel()

	next := &countingFetcher{fails: 100, err: context.Canceled}
	f := New(next, nil, fastPolicy(), nil)

	_, err := f.Fetch(context.Background(), crawler.FetchRequest{ID: "C1"})
	require.Error(t, err)
	assert.True(t, errors.Is(err, context.Canceled))
	assert.False(t, errors.Is(err, crawler.ErrFetchFailure))
	assert.Equal(t, 1, next.count())
}

func TestFetchCanceledDuringBackoff(t *testing.T) {
	t.Parallel()

	next := &countingFetcher{fails: 100}
	p := Policy{MaxAttempts: 5, Timeout: time.Second, Base: 10, Unit: time.Second}
	f := New(next, nil, p, nil)

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(30 * time.Millisecond)
		cancel()
	}()

	start := time.Now()
	_, err := f.Fetch(ctx, crawler.FetchRequest{ID: "C2"})
	require.Error(t, err)
	assert.True(t, errors.Is(err, context.Canceled))
	assert.Less(t, time.Since(start), 2*time.Second)
	assert.Equal(t, 1, next.count())
}

func TestFetchWaitsOnLimiter(t *testing.T) {
	t.Parallel()

	lim := &countingLimiter{}
	next := &countingFetcher{fails: 1}
	f := New(next, lim, fastPolicy(), nil)

	_, err := f.Fetch(context.Background(), crawler.FetchRequest{ID: "L1", URL: "https://hmdb.ca/x"})
	require.NoError(t, err)
	assert.EqualValues(t, 2, lim.calls.Load())
}

type fetcherFunc func(context.Context, crawler.FetchRequest) (crawler.FetchResponse, error)

func (fn fetcherFunc) Fetch(ctx context.Context, req crawler.FetchRequest) (crawler.FetchResponse, error) {
	return fn(ctx, req)
}

type countingLimiter struct {
	calls atomic.Int32
}

func (l *countingLimiter) Wait(ctx context.Context, _ string) error {
	l.calls.Add(1)
	return ctx.Err()
}
