package dedup

import (
	"context"
	"sync"
	"time"

	"github.com/changzhi777/A-TeamUI-1-sub003/internal/logging"
)

type sweeper struct {
	mu      sync.Mutex
	running bool
	// ctx of the current loop. The loop exits on its own once ctx is done
	ctx     context.Context
	stop    chan struct{}
	stopped chan struct{}
}

// Sweep removes in-flight entries older than the pending TTL and cached
// results older than their TTL.
//
// Removing an in-flight entry only drops the bookkeeping. The producer is not
// cancelled and its waiters still get the result, but new callers will start
// a fresh producer.
func (d *Deduplicator) Sweep() (pendingRemoved int, cacheRemoved int) {
	now := d.nowFunc()

	d.mu.Lock()
	defer d.mu.Unlock()

	for key, call := range d.pending {
		if now.Sub(call.startedAt) > d.cfg.PendingTTL {
			delete(d.pending, key)
			pendingRemoved++
		}
	}

	if d.cache != nil {
		for key, item := range d.cache.Items() {
			entry := item.Value()
			if now.Sub(entry.cachedAt) > entry.ttl {
				d.cache.Delete(key)
				cacheRemoved++
			}
		}
	}

	return pendingRemoved, cacheRemoved
}

// Start runs Sweep every SweepInterval until Stop is called or ctx is done.
// Calling Start on a running Deduplicator does nothing
func (d *Deduplicator) Start(ctx context.Context) {
	d.sweeper.mu.Lock()
	defer d.sweeper.mu.Unlock()

	if d.sweeper.running {
		if d.sweeper.ctx.Err() == nil {
			return
		}
		// The previous loop is exiting, or has exited, because its context was done
		<-d.sweeper.stopped
	}
	d.sweeper.running = true
	d.sweeper.ctx = ctx
	d.sweeper.stop = make(chan struct{})
	d.sweeper.stopped = make(chan struct{})

	go d.sweepLoop(ctx, d.sweeper.stop, d.sweeper.stopped)
}

func (d *Deduplicator) sweepLoop(ctx context.Context, stop <-chan struct{}, stopped chan<- struct{}) {
	defer close(stopped)

	logger := logging.FromContext(ctx).With("dedup", d.cfg.Name)

	ticker := time.NewTicker(d.cfg.SweepInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			pendingRemoved, cacheRemoved := d.Sweep()
			if pendingRemoved > 0 {
				logger.WarnContext(ctx, "Swept stale in-flight entries", "count", pendingRemoved)
			}
			if cacheRemoved > 0 {
				logger.DebugContext(ctx, "Swept expired cache entries", "count", cacheRemoved)
			}
		case <-stop:
			return
		case <-ctx.Done():
			return
		}
	}
}

// Stop stops the background sweep and waits for it to exit. Safe to call
// multiple times, and without a prior Start
func (d *Deduplicator) Stop() {
	d.sweeper.mu.Lock()
	defer d.sweeper.mu.Unlock()

	if !d.sweeper.running {
		return
	}
	close(d.sweeper.stop)
	<-d.sweeper.stopped
	d.sweeper.running = false
}
