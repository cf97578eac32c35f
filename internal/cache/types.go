// Package cache keeps translation message bundles in memory, keyed by
// locale.
//
// # Overview
//
// The cache holds at most MaxSize bundles. Every successful lookup moves
// the entry to the most-recently-used position; inserting past capacity
// evicts the least recently used entry. Entries also expire TTL after they
// were loaded, whatever their recency.
//
// Concurrent misses for the same locale share one load through the
// BundleLoader.
//
// # Persistence
//
// When enabled, the cache hydrates from a snapshot stored under
// storage.KeyCache on construction and writes the snapshot back after every
// insert, eviction, expiry or clear. Snapshot entries older than TTL are
// dropped on hydrate. Snapshot failures are logged and otherwise ignored;
// the in-memory cache stays authoritative.
//
// # Snapshot Structure
//
//	{
//	  "saved_at": 1721037600000,
//	  "entries": [
//	    {"locale": "zh", "messages": {...}, "inserted_at": ..., "last_accessed": ...}
//	  ]
//	}
//
// Entries are ordered most recently used first.
//
// # Metrics
//
// Every GetMessages call records a hit or miss and per-locale usage. Loads
// record their duration, failed loads increment the error count. Counters
// are only reset by ResetMetrics.
package cache

import (
	"errors"
	"sort"
	"time"

	"github.com/colthorp/localekit-go/internal/locale"
)

// ErrUnknownLocale is returned for locales outside the supported set.
var ErrUnknownLocale = errors.New("unknown locale")

// entry is one cached bundle.
type entry struct {
	key          locale.Locale
	value        Bundle
	lastAccessed time.Time
	insertedAt   time.Time
}

// Stats describes the cache contents.
type Stats struct {
	Size        int             `json:"size"`
	MaxSize     int             `json:"max_size"`
	TTL         time.Duration   `json:"ttl"`
	Keys        []locale.Locale `json:"keys"`
	Hits        int64           `json:"hits"`
	Misses      int64           `json:"misses"`
	Evictions   int64           `json:"evictions"`
	Expirations int64           `json:"expirations"`
	Persistent  bool            `json:"persistent"`
}

// Metrics is the usage summary of the cache.
type Metrics struct {
	CacheHitRate        float64                 `json:"cache_hit_rate"`
	LocaleUsage         map[locale.Locale]int64 `json:"locale_usage"`
	TranslationCoverage float64                 `json:"translation_coverage"`
	LoadTime            time.Duration           `json:"load_time"`
	AverageLoadTime     time.Duration           `json:"average_load_time"`
	LoadCount           int64                   `json:"load_count"`
	ErrorCount          int64                   `json:"error_count"`
	ErrorRate           float64                 `json:"error_rate"`
}

// MostUsed returns the requested locales by descending usage.
func (m Metrics) MostUsed() []locale.Locale {
	out := make([]locale.Locale, 0, len(m.LocaleUsage))
	for l := range m.LocaleUsage {
		out = append(out, l)
	}
	sort.Slice(out, func(i, j int) bool {
		if m.LocaleUsage[out[i]] != m.LocaleUsage[out[j]] {
			return m.LocaleUsage[out[i]] > m.LocaleUsage[out[j]]
		}
		return out[i] < out[j]
	})
	return out
}

type snapshot struct {
	SavedAt int64           `json:"saved_at"`
	Entries []snapshotEntry `json:"entries"`
}

type snapshotEntry struct {
	Locale       locale.Locale `json:"locale"`
	Messages     Bundle        `json:"messages"`
	InsertedAt   int64         `json:"inserted_at"`
	LastAccessed int64         `json:"last_accessed"`
}
