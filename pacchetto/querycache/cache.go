// Package querycache caches resource reads by key, shares one in-flight fetch
// between concurrent readers and refetches after invalidation.
package querycache

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

var meter = otel.Meter("campusdarpio/querycache")

var ErrClosed = errors.New("querycache: cache is closed")

const (
	DefaultStaleTime        = 5 * time.Minute
	defaultSubscriberBuffer = 8
)

type Options struct {
	// StaleTime is how long a stored value is served without refetching.
	StaleTime time.Duration
	Now       func() time.Time
	// SubscriberBuffer sizes each subscription channel. When full the oldest
	// update is dropped.
	SubscriberBuffer int
}

// Update is delivered to subscribers whenever a key is written or invalidated.
type Update struct {
	Key         Key
	Value       any
	UpdatedAt   time.Time
	Invalidated bool

	seq uint64
}

type entry struct {
	value     any
	hasValue  bool
	updatedAt time.Time
	stale     bool
	// seq orders the writes of the whole cache
	seq uint64
	// invalidations counts Invalidate calls that touched the entry. A fetch
	// that saw a different count when it started stores its value as stale.
	invalidations uint64
}

type call struct {
	done    chan struct{}
	val     any
	err     error
	waiters int
	inv     uint64
	// seq is the cache write sequence when the fetch started
	seq    uint64
	cancel context.CancelFunc
}

type watcher struct {
	fetch func(context.Context) (any, error)
}

type instruments struct {
	hits    metric.Int64Counter
	misses  metric.Int64Counter
	fetches metric.Int64Counter
}

// Cache is created at startup and closed on shutdown.
type Cache struct {
	staleTime time.Duration
	now       func() time.Time
	bufSize   int

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	mu       sync.Mutex
	closed   bool
	seq      uint64
	entries  map[Key]*entry
	calls    map[Key]*call
	subs     map[Key]map[*Subscription]struct{}
	watchers map[Key]map[*watcher]struct{}

	metrics instruments
}

func New(opts Options) *Cache {
	if opts.StaleTime <= 0 {
		opts.StaleTime = DefaultStaleTime
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	if opts.SubscriberBuffer <= 0 {
		opts.SubscriberBuffer = defaultSubscriberBuffer
	}

	ctx, cancel := context.WithCancel(context.Background())
	c := &Cache{
		staleTime: opts.StaleTime,
		now:       opts.Now,
		bufSize:   opts.SubscriberBuffer,
		ctx:       ctx,
		cancel:    cancel,
		entries:   make(map[Key]*entry),
		calls:     make(map[Key]*call),
		subs:      make(map[Key]map[*Subscription]struct{}),
		watchers:  make(map[Key]map[*watcher]struct{}),
	}
	c.metrics = newInstruments()
	return c
}

func newInstruments() instruments {
	var in instruments
	var err error
	in.hits, err = meter.Int64Counter("campusdarpio.cache.hits",
		metric.WithDescription("Reads served from a fresh cache entry"))
	if err != nil {
		slog.Error("failed to create cache hit counter", slog.Any("err", err))
	}
	in.misses, err = meter.Int64Counter("campusdarpio.cache.misses",
		metric.WithDescription("Reads that had to wait for a fetch"))
	if err != nil {
		slog.Error("failed to create cache miss counter", slog.Any("err", err))
	}
	in.fetches, err = meter.Int64Counter("campusdarpio.cache.fetches",
		metric.WithDescription("Fetches actually issued to the resource services"))
	if err != nil {
		slog.Error("failed to create cache fetch counter", slog.Any("err", err))
	}
	return in
}

func (c *Cache) count(ctx context.Context, counter metric.Int64Counter, key Key) {
	if counter == nil {
		return
	}
	counter.Add(ctx, 1, metric.WithAttributes(attribute.String("resource", key.Resource)))
}

// Close cancels in-flight fetches, ends every subscription and waits for
// background refetches to return.
func (c *Cache) Close() {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	c.closed = true
	for key, set := range c.subs {
		for sub := range set {
			close(sub.ch)
		}
		delete(c.subs, key)
	}
	clear(c.watchers)
	c.mu.Unlock()

	c.cancel()
	c.wg.Wait()
}

// Query returns the cached value of key while it is fresh and otherwise waits
// for fetch, sharing a single in-flight call with every concurrent reader.
// Failed fetches are not cached.
func Query[T any](ctx context.Context, c *Cache, key Key, fetch func(context.Context) (T, error)) (T, error) {
	var zero T

	if v, ok := c.fresh(key); ok {
		if t, ok := v.(T); ok {
			c.count(ctx, c.metrics.hits, key)
			return t, nil
		}
	}
	c.count(ctx, c.metrics.misses, key)

	v, err := c.load(ctx, key, erase(fetch))
	if err != nil {
		return zero, err
	}
	t, ok := v.(T)
	if !ok {
		return zero, fmt.Errorf("querycache: %s holds %T, not %T", key, v, zero)
	}
	return t, nil
}

// Get returns whatever is stored under key, fresh or not.
func Get[T any](c *Cache, key Key) (T, bool) {
	var zero T
	c.mu.Lock()
	defer c.mu.Unlock()
	e, ok := c.entries[key]
	if !ok || !e.hasValue {
		return zero, false
	}
	t, ok := e.value.(T)
	return t, ok
}

// snapshot returns the stored value of key with its write sequence.
func (c *Cache) snapshot(key Key) (any, uint64, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	e, ok := c.entries[key]
	if !ok || !e.hasValue {
		return nil, 0, false
	}
	return e.value, e.seq, true
}

func erase[T any](fetch func(context.Context) (T, error)) func(context.Context) (any, error) {
	return func(ctx context.Context) (any, error) {
		return fetch(ctx)
	}
}

func (c *Cache) fresh(key Key) (any, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	e, ok := c.entries[key]
	if !ok || !e.hasValue || e.stale {
		return nil, false
	}
	if c.now().Sub(e.updatedAt) >= c.staleTime {
		return nil, false
	}
	return e.value, true
}

// IsFetching reports whether a fetch for key is in flight.
func (c *Cache) IsFetching(key Key) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	_, ok := c.calls[key]
	return ok
}

func (c *Cache) entryLocked(key Key) *entry {
	e, ok := c.entries[key]
	if !ok {
		e = &entry{}
		c.entries[key] = e
	}
	return e
}

// load joins or starts the fetch for key. The fetch runs detached from the
// caller and is cancelled once every waiter has given up or the cache closes.
func (c *Cache) load(ctx context.Context, key Key, fetch func(context.Context) (any, error)) (any, error) {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil, ErrClosed
	}
	cl, ok := c.calls[key]
	if !ok {
		fctx, cancel := context.WithCancel(context.WithoutCancel(ctx))
		stop := context.AfterFunc(c.ctx, cancel)
		cl = &call{
			done: make(chan struct{}),
			inv:  c.entryLocked(key).invalidations,
			seq:  c.seq,
			cancel: func() {
				stop()
				cancel()
			},
		}
		c.calls[key] = cl
		c.wg.Add(1)
		go c.run(fctx, key, cl, fetch)
	}
	cl.waiters++
	c.mu.Unlock()

	select {
	case <-cl.done:
		return cl.val, cl.err
	case <-ctx.Done():
		c.mu.Lock()
		cl.waiters--
		abandoned := cl.waiters == 0
		if abandoned && c.calls[key] == cl {
			delete(c.calls, key)
		}
		c.mu.Unlock()
		if abandoned {
			cl.cancel()
		}
		return nil, ctx.Err()
	}
}

func (c *Cache) run(ctx context.Context, key Key, cl *call, fetch func(context.Context) (any, error)) {
	defer c.wg.Done()
	defer cl.cancel()

	c.count(ctx, c.metrics.fetches, key)
	v, err := fetch(ctx)

	c.mu.Lock()
	defer c.mu.Unlock()

	cl.val, cl.err = v, err
	if c.calls[key] == cl {
		delete(c.calls, key)
	}
	close(cl.done)

	if err != nil {
		slog.DebugContext(ctx, "cache fetch failed", slog.String("key", key.String()), slog.Any("err", err))
		return
	}
	if c.closed {
		return
	}

	e := c.entryLocked(key)
	overtaken := e.invalidations != cl.inv
	if overtaken && e.hasValue && e.seq > cl.seq {
		// a fetch issued after the invalidation already stored its value
		return
	}
	e.value = v
	e.hasValue = true
	e.updatedAt = c.now()
	e.stale = overtaken
	c.seq++
	e.seq = c.seq
	c.publishLocked(Update{Key: key, Value: v, UpdatedAt: e.updatedAt, seq: e.seq})
}

// Set stores v under key as a fresh value, as if it had just been fetched.
func (c *Cache) Set(key Key, v any) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return
	}
	e := c.entryLocked(key)
	e.value = v
	e.hasValue = true
	e.updatedAt = c.now()
	e.stale = false
	c.seq++
	e.seq = c.seq
	c.publishLocked(Update{Key: key, Value: v, UpdatedAt: e.updatedAt, seq: e.seq})
}

// Invalidate marks every entry covered by keys as stale so the next Query
// fetches again. Keys with active watchers are refetched once each.
func (c *Cache) Invalidate(keys ...Key) {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}

	touched := map[Key]struct{}{}
	for _, k := range keys {
		touched[k] = struct{}{}
		for ek := range c.entries {
			if k.Covers(ek) {
				touched[ek] = struct{}{}
			}
		}
		for wk := range c.watchers {
			if k.Covers(wk) {
				touched[wk] = struct{}{}
			}
		}
	}

	var refetch []refetchJob
	for key := range touched {
		e := c.entryLocked(key)
		e.invalidations++
		e.stale = true
		// a newer read must not join a fetch that started before this point
		delete(c.calls, key)
		c.publishLocked(Update{Key: key, Invalidated: true})

		for w := range c.watchers[key] {
			refetch = append(refetch, refetchJob{key: key, fetch: w.fetch})
			break
		}
	}
	for _, job := range refetch {
		c.wg.Add(1)
		go func() {
			defer c.wg.Done()
			_, err := c.load(c.ctx, job.key, job.fetch)
			if err != nil && !errors.Is(err, context.Canceled) && !errors.Is(err, ErrClosed) {
				slog.WarnContext(c.ctx, "background refetch failed", slog.String("key", job.key.String()), slog.Any("err", err))
			}
		}()
	}
	c.mu.Unlock()
}

type refetchJob struct {
	key   Key
	fetch func(context.Context) (any, error)
}
