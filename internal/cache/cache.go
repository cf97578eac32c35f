package cache

import (
	"container/list"
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/go-logr/logr"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/singleflight"

	"github.com/colthorp/localekit-go/internal/core"
	"github.com/colthorp/localekit-go/internal/locale"
	"github.com/colthorp/localekit-go/internal/storage"
)

const instrumentationName = "github.com/colthorp/localekit-go/internal/cache"

// Options configures a Cache.
type Options struct {
	MaxSize int
	TTL     time.Duration
	// Locales is the supported set; coverage is measured against it.
	Locales *locale.Set
	// Likely lists locales warmed up after the default.
	Likely []locale.Locale
	// Store enables snapshot persistence when non-nil.
	Store storage.KeyValueStore
	// LoadTimeout bounds one bundle load. Zero means 10s.
	LoadTimeout time.Duration
	// PreloadConcurrency bounds PreloadAllMessages. Zero means 4.
	PreloadConcurrency int
	Now                func() time.Time

	Logger         logr.Logger
	MeterProvider  metric.MeterProvider
	TracerProvider trace.TracerProvider
}

// Cache is the translation bundle cache.
type Cache struct {
	loader      BundleLoader
	set         *locale.Set
	likely      []locale.Locale
	maxSize     int
	ttl         time.Duration
	loadTimeout time.Duration
	concurrency int
	store       storage.KeyValueStore
	now         func() time.Time
	log         logr.Logger

	mu    sync.Mutex
	ll    *list.List
	items map[locale.Locale]*list.Element
	stats counters
	// generation is bumped by Clear; loads started earlier are not cached.
	generation uint64

	loads     singleflight.Group
	persistMu sync.Mutex

	tracer trace.Tracer
	inst   instruments
}

type counters struct {
	hits, misses, evictions, expirations int64
	loads, errors                        int64
	loadTime                             time.Duration
	usage                                map[locale.Locale]int64
}

// New creates a cache backed by loader. With a store configured the cache
// is hydrated from its last snapshot before New returns.
func New(ctx context.Context, loader BundleLoader, opts Options) *Cache {
	if opts.MaxSize <= 0 {
		opts.MaxSize = core.DefaultCacheSize
	}
	if opts.TTL <= 0 {
		opts.TTL = core.DefaultCacheTTL
	}
	if opts.Locales == nil {
		opts.Locales = locale.MustSet(string(locale.English))
	}
	if opts.LoadTimeout <= 0 {
		opts.LoadTimeout = 10 * time.Second
	}
	if opts.PreloadConcurrency <= 0 {
		opts.PreloadConcurrency = 4
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	mp := opts.MeterProvider
	if mp == nil {
		mp = otel.GetMeterProvider()
	}
	tp := opts.TracerProvider
	if tp == nil {
		tp = otel.GetTracerProvider()
	}

	c := &Cache{
		loader:      loader,
		set:         opts.Locales,
		likely:      opts.Likely,
		maxSize:     opts.MaxSize,
		ttl:         opts.TTL,
		loadTimeout: opts.LoadTimeout,
		concurrency: opts.PreloadConcurrency,
		store:       opts.Store,
		now:         opts.Now,
		log:         opts.Logger.WithName("cache"),
		ll:          list.New(),
		items:       make(map[locale.Locale]*list.Element),
		stats:       counters{usage: make(map[locale.Locale]int64)},
		tracer:      tp.Tracer(instrumentationName),
		inst:        newInstruments(mp.Meter(instrumentationName), opts.Logger),
	}
	if c.store != nil {
		c.hydrate(ctx)
	}
	return c
}

// GetMessages returns the bundle for l, loading it on a miss.
func (c *Cache) GetMessages(ctx context.Context, l locale.Locale) (Bundle, error) {
	if !c.set.Contains(l) {
		return nil, fmt.Errorf("%w: %q", ErrUnknownLocale, l)
	}

	c.mu.Lock()
	c.stats.usage[l]++
	b, ok, expired := c.getLocked(l)
	if ok {
		c.stats.hits++
		c.mu.Unlock()
		c.inst.hits.Add(ctx, 1, metric.WithAttributes(attribute.String("locale", string(l))))
		return b, nil
	}
	c.stats.misses++
	c.mu.Unlock()
	if expired {
		c.persist()
	}
	c.inst.misses.Add(ctx, 1, metric.WithAttributes(attribute.String("locale", string(l))))

	return c.load(ctx, l)
}

// getLocked returns a live entry and marks it most recently used. An
// expired entry is dropped and reported so the caller can persist once the
// lock is released.
func (c *Cache) getLocked(l locale.Locale) (b Bundle, ok, expired bool) {
	el, found := c.items[l]
	if !found {
		return nil, false, false
	}
	e := el.Value.(*entry)
	now := c.now()
	if now.Sub(e.insertedAt) > c.ttl {
		c.removeLocked(el)
		c.stats.expirations++
		return nil, false, true
	}
	e.lastAccessed = now
	c.ll.MoveToFront(el)
	return e.value.clone(), true, false
}

// load fetches l through the loader, sharing the call with concurrent
// callers, and inserts the result.
func (c *Cache) load(ctx context.Context, l locale.Locale) (Bundle, error) {
	v, err, _ := c.loads.Do(string(l), func() (interface{}, error) {
		c.mu.Lock()
		gen := c.generation
		c.mu.Unlock()

		lctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), c.loadTimeout)
		defer cancel()
		lctx, span := c.tracer.Start(lctx, "cache.load", trace.WithAttributes(attribute.String("locale", string(l))))
		defer span.End()

		start := time.Now()
		b, err := c.loader.Load(lctx, l)
		elapsed := time.Since(start)

		c.mu.Lock()
		c.stats.loads++
		c.stats.loadTime += elapsed
		if err != nil {
			c.stats.errors++
		}
		c.mu.Unlock()

		attrs := metric.WithAttributes(attribute.String("locale", string(l)))
		c.inst.loadDuration.Record(lctx, float64(elapsed.Microseconds())/1000, attrs)
		if err != nil {
			c.inst.loadErrors.Add(lctx, 1, attrs)
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
			c.log.Error(err, "loading messages failed", "locale", l)
			return nil, err
		}
		c.log.V(1).Info("messages loaded", "locale", l, "bytes", b.Size(), "elapsed", elapsed)
		c.insert(l, b, gen)
		return b, nil
	})
	if err != nil {
		return nil, err
	}
	return v.(Bundle).clone(), nil
}

// insert stores b as the most recently used entry, evicting past capacity,
// then writes the snapshot through. A bundle loaded before the last Clear
// is dropped.
func (c *Cache) insert(l locale.Locale, b Bundle, gen uint64) {
	now := c.now()
	c.mu.Lock()
	if gen != c.generation {
		c.mu.Unlock()
		c.log.V(1).Info("discarding load started before clear", "locale", l)
		return
	}
	if el, ok := c.items[l]; ok {
		e := el.Value.(*entry)
		e.value, e.insertedAt, e.lastAccessed = b.clone(), now, now
		c.ll.MoveToFront(el)
	} else {
		c.items[l] = c.ll.PushFront(&entry{key: l, value: b.clone(), insertedAt: now, lastAccessed: now})
	}
	evicted := c.evictLocked()
	c.mu.Unlock()

	if evicted > 0 {
		c.inst.evictions.Add(context.Background(), int64(evicted))
	}
	c.persist()
}

func (c *Cache) evictLocked() int {
	n := 0
	for c.ll.Len() > c.maxSize {
		oldest := c.ll.Back()
		c.log.V(1).Info("evicting least recently used", "locale", oldest.Value.(*entry).key)
		c.removeLocked(oldest)
		c.stats.evictions++
		n++
	}
	return n
}

func (c *Cache) removeLocked(el *list.Element) {
	c.ll.Remove(el)
	delete(c.items, el.Value.(*entry).key)
}

// Contains reports whether l is cached and unexpired without touching its
// recency.
func (c *Cache) Contains(l locale.Locale) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	el, ok := c.items[l]
	if !ok {
		return false
	}
	return c.now().Sub(el.Value.(*entry).insertedAt) <= c.ttl
}

// PreloadMessages loads l if it is not cached. Failures are logged.
func (c *Cache) PreloadMessages(ctx context.Context, l locale.Locale) {
	if !c.set.Contains(l) {
		c.log.Info("skipping preload of unsupported locale", "locale", l)
		return
	}
	c.mu.Lock()
	_, cached, expired := c.getLocked(l)
	c.mu.Unlock()
	if cached {
		return
	}
	if expired {
		c.persist()
	}
	if _, err := c.load(ctx, l); err != nil {
		c.log.V(1).Info("preload failed", "locale", l, "error", err.Error())
	}
}

// PreloadAllMessages loads every supported locale with bounded
// concurrency. Failures are logged.
func (c *Cache) PreloadAllMessages(ctx context.Context) {
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(c.concurrency)
	for _, l := range c.set.Locales() {
		g.Go(func() error {
			c.PreloadMessages(gctx, l)
			return nil
		})
	}
	_ = g.Wait()
}

// WarmupCache preloads the default and likely locales in the background
// and returns at once. The returned channel is closed when warmup ends.
func (c *Cache) WarmupCache(ctx context.Context) <-chan struct{} {
	done := make(chan struct{})
	targets := []locale.Locale{c.set.Default()}
	for _, l := range c.likely {
		if l != c.set.Default() && c.set.Contains(l) {
			targets = append(targets, l)
		}
	}
	bg := context.WithoutCancel(ctx)
	go func() {
		defer close(done)
		for _, l := range targets {
			c.PreloadMessages(bg, l)
		}
		c.log.V(1).Info("warmup finished", "locales", targets)
	}()
	return done
}

// Clear drops every entry and the persisted snapshot. Loads still in
// flight complete for their callers but are not cached.
func (c *Cache) Clear(ctx context.Context) {
	c.persistMu.Lock()
	defer c.persistMu.Unlock()

	c.mu.Lock()
	c.generation++
	c.ll.Init()
	c.items = make(map[locale.Locale]*list.Element)
	c.mu.Unlock()
	for _, l := range c.set.Locales() {
		c.loads.Forget(string(l))
	}
	if c.store != nil {
		if err := c.store.RemoveItem(ctx, storage.KeyCache); err != nil {
			c.log.V(1).Info("removing cache snapshot failed", "error", err.Error())
		}
	}
}

// GetCacheStats reports size, capacity and keys (most recently used first).
func (c *Cache) GetCacheStats() Stats {
	c.mu.Lock()
	defer c.mu.Unlock()
	keys := make([]locale.Locale, 0, c.ll.Len())
	for el := c.ll.Front(); el != nil; el = el.Next() {
		keys = append(keys, el.Value.(*entry).key)
	}
	return Stats{
		Size:        c.ll.Len(),
		MaxSize:     c.maxSize,
		TTL:         c.ttl,
		Keys:        keys,
		Hits:        c.stats.hits,
		Misses:      c.stats.misses,
		Evictions:   c.stats.evictions,
		Expirations: c.stats.expirations,
		Persistent:  c.store != nil,
	}
}

// GetMetrics summarizes hit rate, usage, coverage, load time and errors.
func (c *Cache) GetMetrics() Metrics {
	c.mu.Lock()
	defer c.mu.Unlock()
	m := Metrics{
		LocaleUsage: make(map[locale.Locale]int64, len(c.stats.usage)),
		LoadTime:    c.stats.loadTime,
		LoadCount:   c.stats.loads,
		ErrorCount:  c.stats.errors,
	}
	for l, n := range c.stats.usage {
		m.LocaleUsage[l] = n
	}
	if requests := c.stats.hits + c.stats.misses; requests > 0 {
		m.CacheHitRate = float64(c.stats.hits) / float64(requests)
		m.ErrorRate = float64(c.stats.errors) / float64(requests)
	}
	if c.stats.loads > 0 {
		m.AverageLoadTime = c.stats.loadTime / time.Duration(c.stats.loads)
	}
	if total := c.set.Len(); total > 0 {
		m.TranslationCoverage = float64(len(c.items)) / float64(total)
	}
	return m
}

// ResetMetrics zeroes every counter. Cached entries are kept.
func (c *Cache) ResetMetrics() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.stats = counters{usage: make(map[locale.Locale]int64)}
}
