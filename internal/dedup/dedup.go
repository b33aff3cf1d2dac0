// Package dedup shares one execution of an operation between all concurrent
// callers asking for the same key, and optionally caches successful results.
//
// Keys are opaque strings compared for exact equality. Deriving keys such that
// logically identical calls produce identical keys is the caller's job.
package dedup

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"regexp"
	"sync"
	"time"

	"github.com/changzhi777/A-TeamUI-1-sub003/internal/logging"
	"github.com/jellydator/ttlcache/v3"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"
)

var ErrUnexpectedType = errors.New("unexpected value type for key")
var ErrProducerPanic = errors.New("producer panicked")

type pendingCall struct {
	done      chan struct{}
	value     any
	err       error
	startedAt time.Time
	// generation of the Deduplicator when the call started. Bumped by Clear
	generation uint64
}

type cacheEntry struct {
	value    any
	cachedAt time.Time
	ttl      time.Duration
}

type Stats struct {
	Pending int `json:"pending"`
	Cached  int `json:"cached"`
}

type Deduplicator struct {
	cfg     Config
	nowFunc func() time.Time

	mu         sync.Mutex
	pending    map[string]*pendingCall
	cache      *ttlcache.Cache[string, cacheEntry]
	generation uint64

	tracer       trace.Tracer
	metricsAttrs metric.MeasurementOption

	// Called after every lookup with the resulting outcome
	observe func(key string, o outcome)

	sweeper sweeper
}

func New(cfg Config, nowFunc func() time.Time) *Deduplicator {
	cfg = cfg.withDefaults()

	d := &Deduplicator{
		cfg:          cfg,
		nowFunc:      nowFunc,
		pending:      make(map[string]*pendingCall),
		tracer:       otel.Tracer(instrumentationName),
		metricsAttrs: metric.WithAttributes(attribute.String("dedup", cfg.Name)),
	}

	if cfg.CacheEnabled {
		options := []ttlcache.Option[string, cacheEntry]{
			// Expiry is driven by our own clock in Sweep and on lookup
			ttlcache.WithDisableTouchOnHit[string, cacheEntry](),
		}
		if cfg.MaxCachedEntries > 0 {
			options = append(options, ttlcache.WithCapacity[string, cacheEntry](cfg.MaxCachedEntries))
		}
		d.cache = ttlcache.New[string, cacheEntry](options...)
	}

	return d
}

func (d *Deduplicator) Config() Config {
	return d.cfg
}

func (d *Deduplicator) settingsFor(opts []ExecuteOption) executeSettings {
	settings := executeSettings{
		cache:    true,
		cacheTTL: d.cfg.DefaultCacheTTL,
	}
	for _, opt := range opts {
		opt(&settings)
	}
	if d.cache == nil {
		settings.cache = false
	}
	return settings
}

// acquire looks up key and either returns a fresh cached value, joins an
// in-flight call, or registers and starts a new call.
// The lookup and the registration happen under one lock so at most one call
// per key is ever registered.
func (d *Deduplicator) acquire(
	ctx context.Context,
	key string,
	settings executeSettings,
	produce func(context.Context) (any, error),
) (any, *pendingCall, outcome) {
	now := d.nowFunc()

	d.mu.Lock()

	if settings.cache {
		if item := d.cache.Get(key); item != nil {
			entry := item.Value()
			if now.Sub(entry.cachedAt) <= settings.cacheTTL {
				d.mu.Unlock()
				return entry.value, nil, outcomeHit
			}
		}
	}

	if call, ok := d.pending[key]; ok && now.Sub(call.startedAt) <= d.cfg.PendingTTL {
		d.mu.Unlock()
		return nil, call, outcomeJoin
	}

	call := &pendingCall{
		done:       make(chan struct{}),
		startedAt:  now,
		generation: d.generation,
	}
	d.pending[key] = call
	d.mu.Unlock()

	go d.run(ctx, key, call, settings, produce)

	return nil, call, outcomeMiss
}

func (d *Deduplicator) run(
	ctx context.Context,
	key string,
	call *pendingCall,
	settings executeSettings,
	produce func(context.Context) (any, error),
) {
	// The shared call must not be cancelled when the caller that happened to
	// start it goes away
	ctx = context.WithoutCancel(ctx)
	start := time.Now()

	returned := false
	defer func() {
		if r := recover(); r != nil {
			call.value = nil
			if panicErr, ok := r.(error); ok {
				call.err = fmt.Errorf("%w: %w", ErrProducerPanic, panicErr)
			} else {
				call.err = fmt.Errorf("%w: %v", ErrProducerPanic, r)
			}
			logging.FromContext(ctx).ErrorContext(ctx, "Producer panicked", "key", key, "panic", fmt.Sprint(r))
		}
		if !returned && call.err == nil {
			// runtime.Goexit unwinds without a panic value
			call.value = nil
			call.err = fmt.Errorf("%w: producer exited without returning", ErrProducerPanic)
			logging.FromContext(ctx).ErrorContext(ctx, "Producer exited without returning", "key", key)
		}

		metrics.producerDuration.Record(ctx, time.Since(start).Seconds(), d.metricsAttrs)
		if call.err != nil {
			metrics.producerErrors.Add(ctx, 1, d.metricsAttrs)
		}

		// Settle before releasing waiters so a caller that immediately calls
		// again sees the cached value
		d.settle(key, call, settings)
		close(call.done)
	}()

	call.value, call.err = produce(ctx)
	returned = true
}

func (d *Deduplicator) settle(key string, call *pendingCall, settings executeSettings) {
	d.mu.Lock()
	defer d.mu.Unlock()

	current, ok := d.pending[key]
	if ok && current != call {
		// Superseded by a newer call for the same key, which owns the entry
		return
	}

	// Calls orphaned by Clear do not write to the cache, nor do calls that
	// started before the currently cached value was produced
	if call.err == nil && settings.cache && call.generation == d.generation && !d.cachedSince(key, call.startedAt) {
		d.cache.Set(key, cacheEntry{
			value:    call.value,
			cachedAt: d.nowFunc(),
			ttl:      settings.cacheTTL,
		}, ttlcache.NoTTL)
	}

	if ok {
		delete(d.pending, key)
	}
}

func (d *Deduplicator) cachedSince(key string, t time.Time) bool {
	item := d.cache.Get(key)
	return item != nil && item.Value().cachedAt.After(t)
}

func (d *Deduplicator) record(ctx context.Context, key string, o outcome) {
	metrics.executeCount.Add(ctx, 1, d.metricsAttrs, metric.WithAttributes(attribute.String("outcome", string(o))))

	logging.FromContext(ctx).DebugContext(
		ctx,
		"Deduplicated execute",
		slog.String("dedup", d.cfg.Name),
		slog.String("key", key),
		slog.String("outcome", string(o)),
	)

	if d.observe != nil {
		d.observe(key, o)
	}
}

// Invalidate drops the cached result for key. In-flight calls are not affected
func (d *Deduplicator) Invalidate(key string) {
	if d.cache == nil {
		return
	}

	d.mu.Lock()
	defer d.mu.Unlock()

	d.cache.Delete(key)
}

// InvalidatePattern drops every cached result whose key matches pattern.
// Returns the number of entries removed
func (d *Deduplicator) InvalidatePattern(pattern *regexp.Regexp) int {
	if d.cache == nil {
		return 0
	}

	d.mu.Lock()
	defer d.mu.Unlock()

	removed := 0
	for _, key := range d.cache.Keys() {
		if pattern.MatchString(key) {
			d.cache.Delete(key)
			removed++
		}
	}
	return removed
}

// Clear forgets all in-flight calls and cached results.
//
// In-flight producers are not cancelled and their waiters still receive the
// result, but the next Execute for the same key starts a new producer even
// if the old one is still running. Results of calls started before Clear are
// never written to the cache.
func (d *Deduplicator) Clear() {
	d.mu.Lock()
	defer d.mu.Unlock()

	d.pending = make(map[string]*pendingCall)
	d.generation++
	if d.cache != nil {
		d.cache.DeleteAll()
	}
}

func (d *Deduplicator) PendingCount() int {
	d.mu.Lock()
	defer d.mu.Unlock()

	return len(d.pending)
}

func (d *Deduplicator) Stats() Stats {
	d.mu.Lock()
	defer d.mu.Unlock()

	cached := 0
	if d.cache != nil {
		cached = d.cache.Len()
	}

	return Stats{
		Pending: len(d.pending),
		Cached:  cached,
	}
}
