// Package engine wires storage, the preference store, the detector and the
// translation cache into one unit and runs the per-request resolve flow.
package engine

import (
	"context"
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/go-logr/logr"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"

	"github.com/colthorp/localekit-go/internal/cache"
	"github.com/colthorp/localekit-go/internal/core"
	"github.com/colthorp/localekit-go/internal/detect"
	"github.com/colthorp/localekit-go/internal/geo"
	"github.com/colthorp/localekit-go/internal/locale"
	"github.com/colthorp/localekit-go/internal/prefs"
	"github.com/colthorp/localekit-go/internal/storage"
	"github.com/colthorp/localekit-go/internal/storage/sqlite"
)

// OperationResolve tags history records written by Resolve.
const OperationResolve = "resolve"

// Options replaces pieces the engine would otherwise build from Config.
type Options struct {
	Store     storage.KeyValueStore
	Loader    cache.BundleLoader
	Countries detect.CountryLookup
	Reverse   detect.ReverseGeocoder
	Now       func() time.Time

	Logger         logr.Logger
	TracerProvider trace.TracerProvider
	MeterProvider  metric.MeterProvider
}

// Engine owns one instance of every service.
type Engine struct {
	cfg      *core.Config
	set      *locale.Set
	kv       storage.KeyValueStore
	ownsKV   bool
	prefs    *prefs.Store
	cache    *cache.Cache
	detector *detect.Detector
	now      func() time.Time
	log      logr.Logger
}

// New builds an engine from cfg.
func New(ctx context.Context, cfg *core.Config, opts Options) (*Engine, error) {
	set, err := locale.NewSet(cfg.DefaultLocale, cfg.SupportedLocales...)
	if err != nil {
		return nil, err
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	log := opts.Logger

	kv, ownsKV := opts.Store, false
	if kv == nil {
		if kv, err = OpenStore(ctx, cfg); err != nil {
			return nil, err
		}
		ownsKV = true
	}

	loader := opts.Loader
	if loader == nil {
		loader = NewLoader(cfg)
	}

	countries, reverse := opts.Countries, opts.Reverse
	if cfg.GeoEnabled && (countries == nil || reverse == nil) {
		client := geo.New(geo.Options{
			IPURL:      cfg.GeoIPURL,
			ReverseURL: cfg.ReverseGeocodeURL,
			Timeout:    cfg.NetworkTimeout,
			Logger:     log,
		})
		if countries == nil {
			countries = client
		}
		if reverse == nil {
			reverse = client
		}
	}

	store := prefs.New(kv, set, prefs.Options{
		HistoryLimit: cfg.HistoryLimit,
		Now:          opts.Now,
		Logger:       log,
	})

	var snapshots storage.KeyValueStore
	if cfg.CachePersist {
		snapshots = kv
	}
	c := cache.New(ctx, loader, cache.Options{
		MaxSize:        cfg.CacheSize,
		TTL:            cfg.CacheTTL,
		Locales:        set,
		Store:          snapshots,
		Now:            opts.Now,
		Logger:         log,
		MeterProvider:  opts.MeterProvider,
		TracerProvider: opts.TracerProvider,
	})

	d := detect.New(set, store, LocalEnvironment(), detect.Options{
		Countries:          countries,
		Reverse:            reverse,
		NetworkTimeout:     cfg.NetworkTimeout,
		GeolocationTimeout: cfg.GeolocationTimeout,
		DetectionTimeout:   cfg.DetectionTimeout,
		Logger:             log,
		TracerProvider:     opts.TracerProvider,
	})

	return &Engine{
		cfg:      cfg,
		set:      set,
		kv:       kv,
		ownsKV:   ownsKV,
		prefs:    store,
		cache:    c,
		detector: d,
		now:      opts.Now,
		log:      log.WithName("engine"),
	}, nil
}

// OpenStore opens the storage backend named by cfg.
func OpenStore(ctx context.Context, cfg *core.Config) (storage.KeyValueStore, error) {
	switch cfg.StorageBackend {
	case core.StorageMemory:
		return storage.NewMemoryStore(), nil
	case core.StorageFile:
		return storage.NewFilesystemStore(cfg.StoragePath), nil
	case core.StorageSQLite:
		return sqlite.Open(ctx, cfg.StoragePath)
	}
	return nil, fmt.Errorf("unknown storage backend %q", cfg.StorageBackend)
}

// NewLoader picks the bundle source: a remote base URL, a directory, or the
// bundles compiled into the binary.
func NewLoader(cfg *core.Config) cache.BundleLoader {
	switch {
	case cfg.MessagesURL != "":
		return cache.NewHTTPLoader(cfg.MessagesURL, cfg.NetworkTimeout)
	case cfg.MessagesDir != "":
		return cache.NewDirLoader(cfg.MessagesDir)
	}
	return cache.EmbeddedLoader()
}

// LocalEnvironment reads signals from the process environment.
func LocalEnvironment() detect.Environment {
	return detect.Environment{
		Languages: detect.EnvLanguages{Getenv: os.Getenv},
		Timezone:  detect.LocalTimezone{Getenv: os.Getenv},
	}
}

func (e *Engine) Config() *core.Config { return e.cfg }

// Locales returns the supported locale set.
func (e *Engine) Locales() *locale.Set { return e.set }

func (e *Engine) Prefs() *prefs.Store { return e.prefs }

func (e *Engine) Cache() *cache.Cache { return e.cache }

func (e *Engine) Storage() storage.KeyValueStore { return e.kv }

// Detector returns a detector reading signals from env.
func (e *Engine) Detector(env detect.Environment) *detect.Detector {
	return e.detector.WithEnvironment(env)
}

// Close releases the storage backend if the engine opened it.
func (e *Engine) Close() error {
	if !e.ownsKV {
		return nil
	}
	return e.kv.Close()
}

// Resolution is the outcome of one Resolve call.
type Resolution struct {
	Detection detect.Result `json:"detection"`
	// Locale is the locale whose messages were served. It differs from
	// Detection.Locale only when Fallback is set.
	Locale   locale.Locale `json:"locale"`
	Messages cache.Bundle  `json:"messages"`
	Fallback bool          `json:"fallback"`
	Record   prefs.Record  `json:"record"`
}

// Resolve detects the locale for env, loads its messages (falling back to
// the default locale when they cannot be loaded), saves the outcome as the
// current preference and appends a history record.
func (e *Engine) Resolve(ctx context.Context, env detect.Environment) (Resolution, error) {
	return e.resolve(ctx, e.Detector(env), true)
}

// ResolveVisitor is Resolve for one of many visitors sharing the engine.
// The stored preference and override are neither read nor written; the
// visitor's own choice arrives through env.Requested. The outcome is still
// appended to the history.
func (e *Engine) ResolveVisitor(ctx context.Context, env detect.Environment) (Resolution, error) {
	return e.resolve(ctx, e.Detector(env).WithoutPreferences(), false)
}

func (e *Engine) resolve(ctx context.Context, d *detect.Detector, save bool) (Resolution, error) {
	start := time.Now()
	res, err := d.DetectSmartLocale(ctx)
	if err != nil {
		return Resolution{}, fmt.Errorf("detect locale: %w", err)
	}

	out := Resolution{Detection: res, Locale: res.Locale}
	msgs, loadErr := e.cache.GetMessages(ctx, res.Locale)
	if loadErr != nil && res.Locale != e.set.Default() {
		e.log.Info("serving default messages", "locale", res.Locale, "error", loadErr.Error())
		out.Locale, out.Fallback = e.set.Default(), true
		msgs, loadErr = e.cache.GetMessages(ctx, out.Locale)
	}
	out.Messages = msgs

	if save && persistable(res.Source) && loadErr == nil {
		_, err := e.prefs.SaveUserPreference(ctx, prefs.Preference{
			Locale:     res.Locale,
			Source:     res.Source,
			Confidence: res.Confidence,
			Timestamp:  e.now().UnixMilli(),
		})
		if err != nil && !isContextErr(err) {
			e.log.Error(err, "saving preference failed")
		}
	}

	meta := &prefs.RecordMeta{
		Operation: OperationResolve,
		Duration:  time.Since(start),
		Failed:    loadErr != nil,
		Attributes: map[string]string{
			"strategy": string(res.Details.Strategy),
		},
	}
	if out.Fallback {
		meta.Attributes["served"] = string(out.Locale)
	}
	rec, err := e.prefs.AddDetectionRecord(ctx, res.Locale, res.Source, res.Confidence, meta)
	if err != nil {
		e.log.Error(err, "recording detection failed")
	}
	out.Record = rec

	if loadErr != nil {
		return out, fmt.Errorf("load messages: %w", loadErr)
	}
	return out, nil
}

// persistable reports whether a detection from src should replace the
// stored preference. Overrides and stored reads are already persisted and
// the default carries no information.
func persistable(src locale.Source) bool {
	switch src {
	case locale.SourceUser, locale.SourceStored, locale.SourceDefault, locale.SourceFallback:
		return false
	}
	return true
}

func isContextErr(err error) bool {
	return errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded)
}
