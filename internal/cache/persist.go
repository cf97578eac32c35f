package cache

import (
	"context"
	"time"

	"github.com/go-logr/logr"
	"go.opentelemetry.io/otel/metric"

	"github.com/colthorp/localekit-go/internal/storage"
)

// hydrate restores the snapshot, skipping stale or unsupported entries.
func (c *Cache) hydrate(ctx context.Context) {
	var snap snapshot
	_, found, err := storage.Load(ctx, c.store, storage.KeyCache, &snap)
	if err != nil {
		c.log.Info("ignoring unreadable cache snapshot", "error", err.Error())
		return
	}
	if !found {
		return
	}

	now := c.now()
	c.mu.Lock()
	defer c.mu.Unlock()
	// Entries are most recent first; push to the back to keep that order.
	restored := 0
	for _, se := range snap.Entries {
		inserted := time.UnixMilli(se.InsertedAt)
		if now.Sub(inserted) > c.ttl || !c.set.Contains(se.Locale) || !validBundle(se.Messages) {
			continue
		}
		if _, dup := c.items[se.Locale]; dup {
			continue
		}
		if c.ll.Len() >= c.maxSize {
			break
		}
		c.items[se.Locale] = c.ll.PushBack(&entry{
			key:          se.Locale,
			value:        se.Messages,
			insertedAt:   inserted,
			lastAccessed: time.UnixMilli(se.LastAccessed),
		})
		restored++
	}
	c.log.V(1).Info("cache hydrated", "restored", restored, "discarded", len(snap.Entries)-restored)
}

// persist writes the current contents through to the store. Failures are
// logged and dropped.
func (c *Cache) persist() {
	if c.store == nil {
		return
	}
	c.persistMu.Lock()
	defer c.persistMu.Unlock()

	c.mu.Lock()
	snap := snapshot{Entries: make([]snapshotEntry, 0, c.ll.Len())}
	for el := c.ll.Front(); el != nil; el = el.Next() {
		e := el.Value.(*entry)
		snap.Entries = append(snap.Entries, snapshotEntry{
			Locale:       e.key,
			Messages:     e.value,
			InsertedAt:   e.insertedAt.UnixMilli(),
			LastAccessed: e.lastAccessed.UnixMilli(),
		})
	}
	now := c.now()
	c.mu.Unlock()
	snap.SavedAt = now.UnixMilli()

	if err := storage.Save(context.Background(), c.store, storage.KeyCache, snap, now); err != nil {
		c.log.Info("persisting cache snapshot failed", "error", err.Error())
	}
}

type instruments struct {
	hits         metric.Int64Counter
	misses       metric.Int64Counter
	evictions    metric.Int64Counter
	loadErrors   metric.Int64Counter
	loadDuration metric.Float64Histogram
}

func newInstruments(m metric.Meter, log logr.Logger) instruments {
	var inst instruments
	var err error
	report := func(name string) {
		if err != nil {
			log.Info("creating instrument failed", "name", name, "error", err.Error())
		}
	}
	inst.hits, err = m.Int64Counter("localekit.cache.hits", metric.WithDescription("Bundle lookups served from cache"))
	report("hits")
	inst.misses, err = m.Int64Counter("localekit.cache.misses", metric.WithDescription("Bundle lookups that required a load"))
	report("misses")
	inst.evictions, err = m.Int64Counter("localekit.cache.evictions", metric.WithDescription("Entries evicted at capacity"))
	report("evictions")
	inst.loadErrors, err = m.Int64Counter("localekit.cache.load_errors", metric.WithDescription("Failed bundle loads"))
	report("load_errors")
	inst.loadDuration, err = m.Float64Histogram("localekit.cache.load_duration", metric.WithUnit("ms"), metric.WithDescription("Bundle load latency"))
	report("load_duration")
	return inst
}

func validBundle(b Bundle) bool {
	_, err := ParseBundle(b)
	return err == nil
}
