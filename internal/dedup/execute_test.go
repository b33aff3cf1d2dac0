package dedup

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"runtime"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Date(2025, time.March, 14, 12, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

type countingProducer struct {
	calls atomic.Int32
	value string
	err   error
	// Closed to let blocked invocations finish. nil means don't block
	release chan struct{}
}

func (p *countingProducer) produce(ctx context.Context) (string, error) {
	call := p.calls.Add(1)
	if p.release != nil {
		<-p.release
	}
	if p.err != nil {
		return "", p.err
	}
	if p.value != "" {
		return p.value, nil
	}
	return fmt.Sprintf("value%d", call), nil
}

// joinRecorder notifies on a channel every time a caller joins an in-flight call
func joinRecorder(d *Deduplicator) <-chan string {
	joined := make(chan string, 100)
	d.observe = func(key string, o outcome) {
		if o == outcomeJoin {
			joined <- key
		}
	}
	return joined
}

func waitForPending(t *testing.T, d *Deduplicator, count int) {
	t.Helper()
	require.Eventually(t, func() bool {
		return d.PendingCount() == count
	}, time.Second, time.Millisecond)
}

type result struct {
	value string
	err   error
}

func executeAsync(ctx context.Context, d *Deduplicator, key string, producer func(context.Context) (string, error)) <-chan result {
	results := make(chan result, 1)
	go func() {
		value, err := Execute(ctx, d, key, producer)
		results <- result{value: value, err: err}
	}()
	return results
}

func TestExecuteCoalesces(t *testing.T) {
	t.Parallel()

	for _, cfg := range []Config{ClientConfig(), ServerConfig()} {
		t.Run(cfg.Name, func(t *testing.T) {
			t.Parallel()

			ctx := t.Context()
			d := New(cfg, newFakeClock().Now)
			joined := joinRecorder(d)
			producer := &countingProducer{release: make(chan struct{})}

			first := executeAsync(ctx, d, "k", producer.produce)
			waitForPending(t, d, 1)

			second := executeAsync(ctx, d, "k", producer.produce)
			require.Equal(t, "k", <-joined)

			close(producer.release)

			r1, r2 := <-first, <-second
			require.NoError(t, r1.err)
			require.NoError(t, r2.err)
			require.Equal(t, "value1", r1.value)
			require.Equal(t, r1.value, r2.value)
			require.EqualValues(t, 1, producer.calls.Load())
			require.Equal(t, 0, d.PendingCount())
		})
	}
}

func TestExecuteCache(t *testing.T) {
	t.Parallel()

	t.Run("hit skips producer", func(t *testing.T) {
		t.Parallel()

		ctx := t.Context()
		clock := newFakeClock()
		d := New(ClientConfig(), clock.Now)
		producer := &countingProducer{}

		value, err := Execute(ctx, d, "k", producer.produce)
		require.NoError(t, err)
		require.Equal(t, "value1", value)

		clock.Advance(29 * time.Second)

		value, err = Execute(ctx, d, "k", producer.produce)
		require.NoError(t, err)
		require.Equal(t, "value1", value)
		require.EqualValues(t, 1, producer.calls.Load())
	})

	t.Run("expired entry invokes producer again", func(t *testing.T) {
		t.Parallel()

		ctx := t.Context()
		clock := newFakeClock()
		d := New(ClientConfig(), clock.Now)
		producer := &countingProducer{}

		_, err := Execute(ctx, d, "k", producer.produce)
		require.NoError(t, err)

		clock.Advance(31 * time.Second)

		value, err := Execute(ctx, d, "k", producer.produce)
		require.NoError(t, err)
		require.Equal(t, "value2", value)
		require.EqualValues(t, 2, producer.calls.Load())
	})

	t.Run("per call ttl", func(t *testing.T) {
		t.Parallel()

		ctx := t.Context()
		clock := newFakeClock()
		d := New(ClientConfig(), clock.Now)
		producer := &countingProducer{}

		_, err := Execute(ctx, d, "k", producer.produce, WithCacheTTL(time.Second))
		require.NoError(t, err)

		clock.Advance(2 * time.Second)

		// Fresh according to the default TTL
		value, err := Execute(ctx, d, "k", producer.produce)
		require.NoError(t, err)
		require.Equal(t, "value1", value)

		// Stale according to a shorter TTL
		value, err = Execute(ctx, d, "k", producer.produce, WithCacheTTL(time.Second))
		require.NoError(t, err)
		require.Equal(t, "value2", value)
	})

	t.Run("cache disabled for call", func(t *testing.T) {
		t.Parallel()

		ctx := t.Context()
		d := New(ClientConfig(), newFakeClock().Now)
		producer := &countingProducer{}

		for range 3 {
			_, err := Execute(ctx, d, "k", producer.produce, WithCache(false))
			require.NoError(t, err)
		}
		require.EqualValues(t, 3, producer.calls.Load())
		require.Equal(t, 0, d.Stats().Cached)
	})

	t.Run("server config never caches", func(t *testing.T) {
		t.Parallel()

		ctx := t.Context()
		d := New(ServerConfig(), newFakeClock().Now)
		producer := &countingProducer{}

		_, err := Execute(ctx, d, "k", producer.produce, WithCache(true))
		require.NoError(t, err)
		_, err = Execute(ctx, d, "k", producer.produce)
		require.NoError(t, err)

		require.EqualValues(t, 2, producer.calls.Load())
		require.Equal(t, Stats{Pending: 0, Cached: 0}, d.Stats())
	})
}

func TestExecuteFailure(t *testing.T) {
	t.Parallel()

	t.Run("error is shared and not cached", func(t *testing.T) {
		t.Parallel()

		ctx := t.Context()
		d := New(ClientConfig(), newFakeClock().Now)
		joined := joinRecorder(d)
		producerErr := errors.New("upstream unavailable")
		producer := &countingProducer{err: producerErr, release: make(chan struct{})}

		first := executeAsync(ctx, d, "k", producer.produce)
		waitForPending(t, d, 1)
		second := executeAsync(ctx, d, "k", producer.produce)
		<-joined
		close(producer.release)

		r1, r2 := <-first, <-second
		require.Same(t, producerErr, r1.err)
		require.Same(t, producerErr, r2.err)
		require.EqualValues(t, 1, producer.calls.Load())

		// Next call starts fresh instead of replaying the failure
		ok := &countingProducer{value: "recovered"}
		value, err := Execute(ctx, d, "k", ok.produce)
		require.NoError(t, err)
		require.Equal(t, "recovered", value)
		require.EqualValues(t, 1, ok.calls.Load())
	})

	t.Run("panic becomes an error", func(t *testing.T) {
		t.Parallel()

		ctx := t.Context()
		d := New(ClientConfig(), newFakeClock().Now)

		_, err := Execute(ctx, d, "k", func(ctx context.Context) (string, error) {
			panic("boom")
		})
		require.ErrorIs(t, err, ErrProducerPanic)
		require.Equal(t, 0, d.PendingCount())
		require.Equal(t, 0, d.Stats().Cached)
	})

	t.Run("goexit is not cached as a success", func(t *testing.T) {
		t.Parallel()

		ctx := t.Context()
		d := New(ClientConfig(), newFakeClock().Now)

		value, err := Execute(ctx, d, "k", func(ctx context.Context) (string, error) {
			runtime.Goexit()
			return "unreachable", nil
		})
		require.ErrorIs(t, err, ErrProducerPanic)
		require.Empty(t, value)
		require.Equal(t, 0, d.PendingCount())
		require.Equal(t, 0, d.Stats().Cached)

		next := &countingProducer{value: "fresh"}
		value, err = Execute(ctx, d, "k", next.produce)
		require.NoError(t, err)
		require.Equal(t, "fresh", value)
		require.EqualValues(t, 1, next.calls.Load())
	})
}

func TestExecuteAbandon(t *testing.T) {
	t.Parallel()

	d := New(ClientConfig(), newFakeClock().Now)
	joined := joinRecorder(d)
	producer := &countingProducer{release: make(chan struct{})}

	abandonCtx, cancel := context.WithCancel(t.Context())
	abandoned := executeAsync(abandonCtx, d, "k", producer.produce)
	waitForPending(t, d, 1)

	waiting := executeAsync(t.Context(), d, "k", producer.produce)
	<-joined

	cancel()
	r := <-abandoned
	require.ErrorIs(t, r.err, context.Canceled)

	// The shared invocation keeps going for the remaining waiter
	close(producer.release)
	r = <-waiting
	require.NoError(t, r.err)
	require.Equal(t, "value1", r.value)
	require.EqualValues(t, 1, producer.calls.Load())
}

func TestExecuteProducerContextNotCancelled(t *testing.T) {
	t.Parallel()

	d := New(ServerConfig(), newFakeClock().Now)
	ctx, cancel := context.WithCancel(t.Context())

	started := make(chan struct{})
	release := make(chan struct{})
	producerErr := make(chan error, 1)
	results := make(chan error, 1)
	go func() {
		_, err := Execute(ctx, d, "k", func(ctx context.Context) (string, error) {
			close(started)
			<-release
			producerErr <- ctx.Err()
			return "done", nil
		})
		results <- err
	}()

	<-started
	cancel()
	require.ErrorIs(t, <-results, context.Canceled)

	close(release)
	require.NoError(t, <-producerErr)
	waitForPending(t, d, 0)
}

func TestExecuteKeysDoNotInterfere(t *testing.T) {
	t.Parallel()

	ctx := t.Context()
	d := New(ServerConfig(), newFakeClock().Now)
	joined := joinRecorder(d)
	producer := &countingProducer{release: make(chan struct{})}

	a := executeAsync(ctx, d, "a", producer.produce)
	b := executeAsync(ctx, d, "b", producer.produce)
	waitForPending(t, d, 2)

	close(producer.release)
	ra, rb := <-a, <-b
	require.NoError(t, ra.err)
	require.NoError(t, rb.err)
	require.NotEqual(t, ra.value, rb.value)
	require.EqualValues(t, 2, producer.calls.Load())
	require.Empty(t, joined)
}

func TestExecuteUnexpectedType(t *testing.T) {
	t.Parallel()

	ctx := t.Context()
	d := New(ClientConfig(), newFakeClock().Now)

	_, err := Execute(ctx, d, "k", func(ctx context.Context) (int, error) {
		return 1, nil
	})
	require.NoError(t, err)

	_, err = Execute(ctx, d, "k", func(ctx context.Context) (string, error) {
		t.Fatal("Unreachable code executed")
		return "", nil
	})
	require.ErrorIs(t, err, ErrUnexpectedType)
}

func TestExecuteNilValue(t *testing.T) {
	t.Parallel()

	ctx := t.Context()
	d := New(ClientConfig(), newFakeClock().Now)

	for range 2 {
		value, err := Execute(ctx, d, "k", func(ctx context.Context) (error, error) {
			return nil, nil
		})
		require.NoError(t, err)
		require.Nil(t, value)
	}
}

func TestInvalidate(t *testing.T) {
	t.Parallel()

	ctx := t.Context()
	d := New(ClientConfig(), newFakeClock().Now)
	producer := &countingProducer{}

	_, err := Execute(ctx, d, "a", producer.produce)
	require.NoError(t, err)
	_, err = Execute(ctx, d, "b", producer.produce)
	require.NoError(t, err)
	require.EqualValues(t, 2, producer.calls.Load())

	d.Invalidate("a")
	d.Invalidate("a")
	d.Invalidate("missing")

	value, err := Execute(ctx, d, "a", producer.produce)
	require.NoError(t, err)
	require.Equal(t, "value3", value)

	value, err = Execute(ctx, d, "b", producer.produce)
	require.NoError(t, err)
	require.Equal(t, "value2", value)
	require.EqualValues(t, 3, producer.calls.Load())
}

func TestInvalidateDoesNotAffectInFlight(t *testing.T) {
	t.Parallel()

	ctx := t.Context()
	d := New(ClientConfig(), newFakeClock().Now)
	producer := &countingProducer{release: make(chan struct{})}

	first := executeAsync(ctx, d, "k", producer.produce)
	waitForPending(t, d, 1)

	d.Invalidate("k")
	require.Equal(t, 1, d.PendingCount())

	close(producer.release)
	require.NoError(t, (<-first).err)
	require.Equal(t, Stats{Pending: 0, Cached: 1}, d.Stats())
}

func TestInvalidatePattern(t *testing.T) {
	t.Parallel()

	ctx := t.Context()
	d := New(ClientConfig(), newFakeClock().Now)
	producer := &countingProducer{}

	for _, key := range []string{"user:1", "user:2", "post:1"} {
		_, err := Execute(ctx, d, key, producer.produce)
		require.NoError(t, err)
	}

	removed := d.InvalidatePattern(regexp.MustCompile("^user:"))
	require.Equal(t, 2, removed)
	require.Equal(t, 1, d.Stats().Cached)

	// Idempotent
	require.Equal(t, 0, d.InvalidatePattern(regexp.MustCompile("^user:")))

	value, err := Execute(ctx, d, "post:1", producer.produce)
	require.NoError(t, err)
	require.Equal(t, "value3", value)
	require.EqualValues(t, 3, producer.calls.Load())

	_, err = Execute(ctx, d, "user:1", producer.produce)
	require.NoError(t, err)
	require.EqualValues(t, 4, producer.calls.Load())
}

func TestClear(t *testing.T) {
	t.Parallel()

	ctx := t.Context()
	d := New(ClientConfig(), newFakeClock().Now)

	cached := &countingProducer{}
	_, err := Execute(ctx, d, "cached", cached.produce)
	require.NoError(t, err)

	old := &countingProducer{value: "old", release: make(chan struct{})}
	oldResult := executeAsync(ctx, d, "k", old.produce)
	waitForPending(t, d, 1)

	d.Clear()
	assert.Equal(t, Stats{Pending: 0, Cached: 0}, d.Stats())

	// A new call no longer joins the orphaned invocation
	fresh := &countingProducer{value: "fresh", release: make(chan struct{})}
	freshResult := executeAsync(ctx, d, "k", fresh.produce)
	waitForPending(t, d, 1)

	close(old.release)
	r := <-oldResult
	require.NoError(t, r.err)
	require.Equal(t, "old", r.value)

	// The orphaned call must not remove the new entry nor populate the cache
	require.Equal(t, Stats{Pending: 1, Cached: 0}, d.Stats())

	close(fresh.release)
	r = <-freshResult
	require.NoError(t, r.err)
	require.Equal(t, "fresh", r.value)

	value, err := Execute(ctx, d, "k", fresh.produce)
	require.NoError(t, err)
	require.Equal(t, "fresh", value)
	require.EqualValues(t, 1, fresh.calls.Load())
}

func TestExpiredPendingIsNotJoined(t *testing.T) {
	t.Parallel()

	ctx := t.Context()
	clock := newFakeClock()
	d := New(ServerConfig(), clock.Now)
	joined := joinRecorder(d)
	producer := &countingProducer{release: make(chan struct{})}

	first := executeAsync(ctx, d, "k", producer.produce)
	waitForPending(t, d, 1)

	clock.Advance(6 * time.Second)

	second := executeAsync(ctx, d, "k", producer.produce)
	require.Eventually(t, func() bool {
		return producer.calls.Load() == 2
	}, time.Second, time.Millisecond)
	require.Empty(t, joined)
	require.Equal(t, 1, d.PendingCount())

	close(producer.release)
	require.NoError(t, (<-first).err)
	require.NoError(t, (<-second).err)
	require.Equal(t, 0, d.PendingCount())
}

func TestExecuteRealClock(t *testing.T) {
	t.Run("requests are de-duplicated in highly concurrent environment", func(t *testing.T) {
		d := New(ClientConfig(), time.Now)

		for testIndex := 0; testIndex < 100; testIndex++ {
			t.Run(fmt.Sprintf("attempt #%d", testIndex), func(t *testing.T) {
				t.Parallel()

				var calls atomic.Int32
				monoStableCallback := func(ctx context.Context) (string, error) {
					calls.Add(1)
					return "data1", nil
				}

				wg := sync.WaitGroup{}
				for callIndex := 0; callIndex < 10; callIndex++ {
					wg.Add(1)
					go func() {
						defer wg.Done()
						data, err := Execute(t.Context(), d, fmt.Sprintf("key%d", testIndex), monoStableCallback)
						assert.NoError(t, err)
						assert.Equal(t, "data1", data)
					}()
				}
				wg.Wait()

				require.EqualValues(t, 1, calls.Load(), "Callback should only be called once")
			})
		}
	})
}
