// Package prefs keeps the user's locale preference, manual override and a
// bounded detection history, plus maintenance and analytics over that
// history.
//
// The store owns its persisted records. State is loaded lazily from the
// backend on first use and mirrored in memory; every mutation is written
// through. When the backend is absent, state simply stops persisting. When
// a write does not fit, history is halved once and the write retried.
package prefs

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/go-logr/logr"

	"github.com/colthorp/localekit-go/internal/core"
	"github.com/colthorp/localekit-go/internal/locale"
	"github.com/colthorp/localekit-go/internal/storage"
)

// Preference is the single current locale choice.
type Preference struct {
	Locale     locale.Locale     `json:"locale"`
	Source     locale.Source     `json:"source"`
	Timestamp  int64             `json:"timestamp"`
	Confidence float64           `json:"confidence"`
	Metadata   map[string]string `json:"metadata,omitempty"`
}

// Override is a manual locale choice that beats every detection signal.
type Override struct {
	Locale locale.Locale `json:"locale"`
	SetAt  int64         `json:"set_at"`
}

// Options configures a Store.
type Options struct {
	// HistoryLimit bounds the number of detection records kept.
	HistoryLimit int
	// DuplicateWindow is the span within which two records with the same
	// locale and source count as duplicates.
	DuplicateWindow time.Duration
	Now             func() time.Time
	Logger          logr.Logger
}

// Store is the preference and history owner.
type Store struct {
	kv        storage.KeyValueStore
	set       *locale.Set
	limit     int
	dupWindow time.Duration
	now       func() time.Time
	log       logr.Logger

	mu             sync.Mutex
	pref           *Preference
	prefLoaded     bool
	override       *Override
	overrideLoaded bool
	history        History
	historyLoaded  bool
}

// New creates a store over kv.
func New(kv storage.KeyValueStore, set *locale.Set, opts Options) *Store {
	if opts.HistoryLimit <= 0 {
		opts.HistoryLimit = core.DefaultHistoryLimit
	}
	if opts.DuplicateWindow <= 0 {
		opts.DuplicateWindow = core.DuplicateWindow
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	return &Store{
		kv:        kv,
		set:       set,
		limit:     opts.HistoryLimit,
		dupWindow: opts.DuplicateWindow,
		now:       opts.Now,
		log:       opts.Logger.WithName("prefs"),
	}
}

// HistoryLimit returns the configured maximum history length.
func (s *Store) HistoryLimit() int { return s.limit }

// load reads key into v. Unavailable or corrupted values read as absent.
func (s *Store) load(ctx context.Context, op, key string, v any) (bool, error) {
	_, found, err := storage.Load(ctx, s.kv, key, v)
	if err != nil {
		if softFailure(err) {
			s.log.V(1).Info("stored value not usable, treating as absent", "key", key, "error", err.Error())
			return false, nil
		}
		return false, storeError(op, err)
	}
	return found, nil
}

// persist writes v under key. An absent backend is not an error.
func (s *Store) persist(ctx context.Context, op, key string, v any) error {
	err := storage.Save(ctx, s.kv, key, v, s.now())
	if err == nil {
		return nil
	}
	if errors.Is(err, storage.ErrUnavailable) {
		s.log.V(1).Info("storage unavailable, state kept in memory only", "key", key)
		return nil
	}
	return storeError(op, err)
}

func (s *Store) remove(ctx context.Context, op, key string) error {
	err := s.kv.RemoveItem(ctx, key)
	if err == nil || errors.Is(err, storage.ErrUnavailable) {
		return nil
	}
	return storeError(op, err)
}

func (s *Store) ensurePreference(ctx context.Context) error {
	if s.prefLoaded {
		return nil
	}
	var p Preference
	found, err := s.load(ctx, "get preference", storage.KeyPreference, &p)
	if err != nil {
		return err
	}
	s.prefLoaded = true
	if !found {
		return nil
	}
	if v := ValidatePreference(s.set, p); !v.Valid {
		s.log.Info("discarding invalid stored preference", "errors", v.Errors)
		return s.remove(ctx, "get preference", storage.KeyPreference)
	}
	s.pref = &p
	return nil
}

func (s *Store) ensureOverride(ctx context.Context) error {
	if s.overrideLoaded {
		return nil
	}
	var o Override
	found, err := s.load(ctx, "get override", storage.KeyOverride, &o)
	if err != nil {
		return err
	}
	s.overrideLoaded = true
	if !found {
		return nil
	}
	if !s.set.Contains(o.Locale) {
		s.log.Info("discarding override for unsupported locale", "locale", o.Locale)
		return s.remove(ctx, "get override", storage.KeyOverride)
	}
	s.override = &o
	return nil
}

// SaveUserPreference replaces the current preference. A zero Timestamp is
// set to now. Warnings in the returned Validation do not block the save.
func (s *Store) SaveUserPreference(ctx context.Context, p Preference) (Validation, error) {
	if p.Timestamp == 0 {
		p.Timestamp = s.now().UnixMilli()
	}
	v := ValidatePreference(s.set, p)
	if !v.Valid {
		return v, v.Err()
	}
	if len(v.Warnings) > 0 {
		s.log.V(1).Info("saving preference with warnings", "warnings", v.Warnings)
	}
	p.Metadata = cloneMeta(p.Metadata)

	s.mu.Lock()
	defer s.mu.Unlock()
	s.pref = &p
	s.prefLoaded = true
	return v, s.persist(ctx, "save preference", storage.KeyPreference, p)
}

// GetUserPreference returns the current preference, if any.
func (s *Store) GetUserPreference(ctx context.Context) (Preference, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.ensurePreference(ctx); err != nil {
		return Preference{}, false, err
	}
	if s.pref == nil {
		return Preference{}, false, nil
	}
	p := *s.pref
	p.Metadata = cloneMeta(p.Metadata)
	return p, true, nil
}

// SetUserOverride stores a manual locale choice.
func (s *Store) SetUserOverride(ctx context.Context, l locale.Locale) error {
	if !s.set.Contains(l) {
		return &ValidationError{Errors: []string{"locale " + string(l) + " is not supported"}}
	}
	o := Override{Locale: l, SetAt: s.now().UnixMilli()}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.override = &o
	s.overrideLoaded = true
	return s.persist(ctx, "set override", storage.KeyOverride, o)
}

// GetUserOverride returns the manual locale choice, if any.
func (s *Store) GetUserOverride(ctx context.Context) (locale.Locale, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.ensureOverride(ctx); err != nil {
		return "", false, err
	}
	if s.override == nil {
		return "", false, nil
	}
	return s.override.Locale, true, nil
}

// ClearUserOverride removes the manual locale choice.
func (s *Store) ClearUserOverride(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.override = nil
	s.overrideLoaded = true
	return s.remove(ctx, "clear override", storage.KeyOverride)
}

func cloneMeta(m map[string]string) map[string]string {
	if m == nil {
		return nil
	}
	out := make(map[string]string, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}
