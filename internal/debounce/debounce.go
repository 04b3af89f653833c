// Package debounce coalesces bursts of local session edits into one remote write.
//
// Every key owns at most one pending timer. A new Push for the same key merges
// into the pending patch and restarts the window; the write fires once the key
// has been quiet for the whole window. Release must be called before a key's
// entity is torn down (session or folder delete) so no write fires
// afterwards; a key whose entity lives on is flushed instead.
package debounce

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"weave/internal/chat"
	"weave/internal/metrics"
)

const defaultWriteTimeout = 30 * time.Second

// WriteFunc persists the merged patch for key.
type WriteFunc func(ctx context.Context, key string, p chat.Patch) error

type Options struct {
	Window       time.Duration
	WriteTimeout time.Duration
	Logger       *zap.Logger
	Metrics      *metrics.Metrics
}

type entry struct {
	patch chat.Patch
	timer *time.Timer
	gen   uint64
}

// Debouncer is safe for concurrent use.
type Debouncer struct {
	opts  Options
	write WriteFunc
	log   *zap.Logger

	mu      sync.Mutex
	pending map[string]*entry
	gen     uint64
	closed  bool
	wg      sync.WaitGroup
}

func New(write WriteFunc, opts Options) *Debouncer {
	if opts.Window <= 0 {
		opts.Window = 1500 * time.Millisecond
	}
	if opts.WriteTimeout <= 0 {
		opts.WriteTimeout = defaultWriteTimeout
	}
	log := opts.Logger
	if log == nil {
		log = zap.NewNop()
	}
	return &Debouncer{
		opts:    opts,
		write:   write,
		log:     log.Named("debounce"),
		pending: make(map[string]*entry),
	}
}

// Push merges p into the pending value for key and restarts its window.
func (d *Debouncer) Push(key string, p chat.Patch) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.closed {
		return
	}
	e, ok := d.pending[key]
	if !ok {
		e = &entry{}
		d.pending[key] = e
	} else if e.timer != nil {
		e.timer.Stop()
	}
	e.patch = e.patch.Merge(p)
	d.gen++
	e.gen = d.gen
	gen := e.gen
	e.timer = time.AfterFunc(d.opts.Window, func() { d.fire(key, gen) })
}

func (d *Debouncer) fire(key string, gen uint64) {
	d.mu.Lock()
	e, ok := d.pending[key]
	// 已释放或已被更新的推送取代 / released or superseded by a later push
	if !ok || e.gen != gen {
		d.mu.Unlock()
		return
	}
	delete(d.pending, key)
	d.wg.Add(1)
	d.mu.Unlock()

	defer d.wg.Done()
	ctx, cancel := context.WithTimeout(context.Background(), d.opts.WriteTimeout)
	defer cancel()
	d.do(ctx, key, e.patch)
}

func (d *Debouncer) do(ctx context.Context, key string, p chat.Patch) error {
	if d.opts.Metrics != nil {
		d.opts.Metrics.DebounceWrites.Inc()
	}
	err := d.write(ctx, key, p)
	if err != nil {
		if d.opts.Metrics != nil {
			d.opts.Metrics.DebounceFailures.Inc()
		}
		d.log.Warn("persist write failed", zap.String("key", key), zap.Error(err))
		return err
	}
	d.log.Debug("persisted", zap.String("key", key))
	return nil
}

// Release cancels the pending write for key. It reports whether one was pending.
func (d *Debouncer) Release(key string) bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	e, ok := d.pending[key]
	if !ok {
		return false
	}
	e.timer.Stop()
	delete(d.pending, key)
	if d.opts.Metrics != nil {
		d.opts.Metrics.DebounceCancelled.Inc()
	}
	return true
}

// Flush writes the pending value for key immediately. The error is returned
// to the caller in addition to being logged.
func (d *Debouncer) Flush(ctx context.Context, key string) error {
	d.mu.Lock()
	e, ok := d.pending[key]
	if !ok {
		d.mu.Unlock()
		return nil
	}
	e.timer.Stop()
	delete(d.pending, key)
	d.mu.Unlock()
	return d.do(ctx, key, e.patch)
}

// FlushAll writes every pending value now, used on shutdown.
func (d *Debouncer) FlushAll(ctx context.Context) {
	for _, key := range d.Keys() {
		_ = d.Flush(ctx, key)
	}
}

// Pending returns the merged, not yet written patch for key.
func (d *Debouncer) Pending(key string) (chat.Patch, bool) {
	d.mu.Lock()
	defer d.mu.Unlock()
	e, ok := d.pending[key]
	if !ok {
		return chat.Patch{}, false
	}
	return e.patch, true
}

// Keys lists keys with a pending write.
func (d *Debouncer) Keys() []string {
	d.mu.Lock()
	defer d.mu.Unlock()
	keys := make([]string, 0, len(d.pending))
	for k := range d.pending {
		keys = append(keys, k)
	}
	return keys
}

// Close releases every pending timer and waits for in-flight writes.
func (d *Debouncer) Close() {
	d.mu.Lock()
	d.closed = true
	for key, e := range d.pending {
		e.timer.Stop()
		delete(d.pending, key)
	}
	d.mu.Unlock()
	d.wg.Wait()
}
