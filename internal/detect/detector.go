// Package detect decides which locale a visitor should see by weighing
// independent signals: a manual override, the stored preference,
// geolocation, browser languages and the timezone.
//
// Signal collectors never fail the detection; a missing, denied or slow
// signal is recorded as unavailable. Errors reading the preference store are
// returned to the caller.
package detect

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/go-logr/logr"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/colthorp/localekit-go/internal/core"
	"github.com/colthorp/localekit-go/internal/locale"
)

const tracerName = "github.com/colthorp/localekit-go/internal/detect"

// Detection strategies reported in Details.
const (
	StrategyOverride  = "override"
	StrategyFusion    = "fusion"
	StrategyWaterfall = "waterfall"
	StrategyDefault   = "default"
)

// SignalOutcome is what one collector contributed.
type SignalOutcome struct {
	Source    locale.Source `json:"source"`
	Locale    locale.Locale `json:"locale,omitempty"`
	Weight    float64       `json:"weight"`
	Available bool          `json:"available"`
	// Evidence is the raw value the locale was derived from, such as a
	// language tag, zone name or country code.
	Evidence string `json:"evidence,omitempty"`
	Error    string `json:"error,omitempty"`
}

// Details is the evidence behind a Result.
type Details struct {
	Strategy   string          `json:"strategy"`
	Signals    []SignalOutcome `json:"signals,omitempty"`
	Agreeing   int             `json:"agreeing"`
	Dissenting int             `json:"dissenting"`
}

// Result is one detection outcome.
type Result struct {
	Locale     locale.Locale `json:"locale"`
	Source     locale.Source `json:"source"`
	Confidence float64       `json:"confidence"`
	Details    Details       `json:"details"`
}

// Environment holds the per-visitor signal sources. Nil sources are
// treated as unavailable.
type Environment struct {
	Languages   LanguageSource
	Timezone    TimezoneSource
	Geolocation GeolocationProvider
	// ClientIP is passed to the country lookup; empty means the caller's
	// own address.
	ClientIP string
	// SkipIPLookup disables the IP fallback, for example for private
	// addresses.
	SkipIPLookup bool
	// Requested is an explicit per-request choice such as a query
	// parameter. When it names a supported locale it wins like an
	// override, but only a stored override outranks it.
	Requested string
}

// Options configures a Detector.
type Options struct {
	Policy    Policy
	Countries CountryLookup
	Reverse   ReverseGeocoder

	NetworkTimeout     time.Duration
	GeolocationTimeout time.Duration
	DetectionTimeout   time.Duration

	Logger         logr.Logger
	TracerProvider trace.TracerProvider
}

// Detector runs locale detection. It holds no state between calls.
type Detector struct {
	set       *locale.Set
	prefs     PreferenceSource
	env       Environment
	policy    Policy
	countries CountryLookup
	reverse   ReverseGeocoder

	networkTimeout   time.Duration
	geoTimeout       time.Duration
	detectionTimeout time.Duration

	log    logr.Logger
	tracer trace.Tracer
}

// New creates a detector. prefs may be nil when nothing is stored.
func New(set *locale.Set, prefs PreferenceSource, env Environment, opts Options) *Detector {
	if opts.Policy == (Policy{}) {
		opts.Policy = DefaultPolicy()
	}
	if opts.NetworkTimeout <= 0 || opts.NetworkTimeout > core.NetworkTimeout {
		opts.NetworkTimeout = core.NetworkTimeout
	}
	if opts.GeolocationTimeout <= 0 || opts.GeolocationTimeout > core.GeolocationTimeout {
		opts.GeolocationTimeout = core.GeolocationTimeout
	}
	if opts.DetectionTimeout <= 0 || opts.DetectionTimeout > core.DetectionTimeout {
		opts.DetectionTimeout = core.DetectionTimeout
	}
	tp := opts.TracerProvider
	if tp == nil {
		tp = otel.GetTracerProvider()
	}
	return &Detector{
		set:              set,
		prefs:            prefs,
		env:              env,
		policy:           opts.Policy,
		countries:        opts.Countries,
		reverse:          opts.Reverse,
		networkTimeout:   opts.NetworkTimeout,
		geoTimeout:       opts.GeolocationTimeout,
		detectionTimeout: opts.DetectionTimeout,
		log:              opts.Logger.WithName("detect"),
		tracer:           tp.Tracer(tracerName),
	}
}

// WithEnvironment returns a detector sharing d's configuration but reading
// signals from env.
func (d *Detector) WithEnvironment(env Environment) *Detector {
	c := *d
	c.env = env
	return &c
}

// WithoutPreferences returns a detector that ignores the preference store,
// for callers serving many visitors from one process.
func (d *Detector) WithoutPreferences() *Detector {
	c := *d
	c.prefs = nil
	return &c
}

// Policy returns the fusion constants in use.
func (d *Detector) Policy() Policy { return d.policy }

// DetectFromBrowser returns the first supported locale among the declared
// languages, or the default.
func (d *Detector) DetectFromBrowser(ctx context.Context) locale.Locale {
	return d.orDefault(d.browserSignal(ctx))
}

// DetectFromTimeZone maps the active timezone to a locale, or the default.
func (d *Detector) DetectFromTimeZone(ctx context.Context) locale.Locale {
	return d.orDefault(d.timezoneSignal(ctx))
}

// DetectFromGeolocation maps the visitor's country to a locale, or the
// default. It returns within the geolocation and network budgets.
func (d *Detector) DetectFromGeolocation(ctx context.Context) locale.Locale {
	ctx, cancel := context.WithTimeout(ctx, d.detectionTimeout)
	defer cancel()
	return d.orDefault(d.geoSignal(ctx))
}

func (d *Detector) orDefault(s SignalOutcome) locale.Locale {
	if s.Available {
		return s.Locale
	}
	return d.set.Default()
}

// DetectSmartLocale fuses all signals. A stored override wins outright and
// is read before any other signal. Geolocation runs concurrently with the
// browser and timezone collectors.
func (d *Detector) DetectSmartLocale(ctx context.Context) (Result, error) {
	ctx, cancel := context.WithTimeout(ctx, d.detectionTimeout)
	defer cancel()
	ctx, span := d.tracer.Start(ctx, "detect.smart")
	defer span.End()
	start := time.Now()

	if l, ok, err := d.override(ctx); err != nil {
		return Result{}, d.fail(span, err)
	} else if ok {
		return d.finish(span, start, d.overrideResult(l)), nil
	}
	if l, ok := d.set.Parse(d.env.Requested); ok {
		res := d.overrideResult(l)
		res.Details.Signals[0].Evidence = "request"
		return d.finish(span, start, res), nil
	}

	geoCh := make(chan SignalOutcome, 1)
	go func() { geoCh <- d.geoSignal(ctx) }()

	browser := d.browserSignal(ctx)
	tz := d.timezoneSignal(ctx)
	stored, _, err := d.storedSignal(ctx)
	if err != nil {
		return Result{}, d.fail(span, err)
	}
	geo := <-geoCh

	res := d.policy.Fuse(d.set.Default(), []SignalOutcome{stored, geo, browser, tz})
	return d.finish(span, start, res), nil
}

// DetectBestLocale is the waterfall variant: stored preference, then
// override, then geolocation, then browser, then the default. The first
// available signal wins unweighted.
func (d *Detector) DetectBestLocale(ctx context.Context) (Result, error) {
	ctx, cancel := context.WithTimeout(ctx, d.detectionTimeout)
	defer cancel()
	ctx, span := d.tracer.Start(ctx, "detect.best")
	defer span.End()
	start := time.Now()

	details := Details{Strategy: StrategyWaterfall}
	pick := func(s SignalOutcome, conf float64) Result {
		details.Signals = append(details.Signals, s)
		details.Agreeing = 1
		return Result{Locale: s.Locale, Source: s.Source, Confidence: conf, Details: details}
	}

	stored, storedConf, err := d.storedSignal(ctx)
	if err != nil {
		return Result{}, d.fail(span, err)
	}
	if stored.Available {
		return d.finish(span, start, pick(stored, storedConf)), nil
	}
	details.Signals = append(details.Signals, stored)

	if l, ok, err := d.override(ctx); err != nil {
		return Result{}, d.fail(span, err)
	} else if ok {
		res := d.overrideResult(l)
		res.Details.Strategy = StrategyWaterfall
		return d.finish(span, start, res), nil
	}

	for _, collect := range []func(context.Context) SignalOutcome{d.geoSignal, d.browserSignal} {
		s := collect(ctx)
		if s.Available {
			return d.finish(span, start, pick(s, s.Weight)), nil
		}
		details.Signals = append(details.Signals, s)
	}

	details.Strategy = StrategyDefault
	res := Result{Locale: d.set.Default(), Source: locale.SourceDefault, Confidence: d.policy.Default, Details: details}
	return d.finish(span, start, res), nil
}

func (d *Detector) overrideResult(l locale.Locale) Result {
	s := SignalOutcome{Source: locale.SourceUser, Locale: l, Weight: d.policy.User, Available: true, Evidence: "override"}
	return Result{
		Locale:     l,
		Source:     locale.SourceUser,
		Confidence: d.policy.User,
		Details:    Details{Strategy: StrategyOverride, Signals: []SignalOutcome{s}, Agreeing: 1},
	}
}

func (d *Detector) override(ctx context.Context) (locale.Locale, bool, error) {
	if d.prefs == nil {
		return "", false, nil
	}
	l, ok, err := d.prefs.GetUserOverride(ctx)
	if err != nil {
		return "", false, fmt.Errorf("read override: %w", err)
	}
	if ok && !d.set.Contains(l) {
		return "", false, nil
	}
	return l, ok, nil
}

// storedSignal also returns the confidence the preference was saved with.
func (d *Detector) storedSignal(ctx context.Context) (SignalOutcome, float64, error) {
	out := SignalOutcome{Source: locale.SourceStored, Weight: d.policy.Stored}
	if d.prefs == nil {
		out.Error = "no preference store"
		return out, 0, nil
	}
	p, found, err := d.prefs.GetUserPreference(ctx)
	if err != nil {
		return out, 0, fmt.Errorf("read preference: %w", err)
	}
	switch {
	case !found:
		out.Error = "no stored preference"
	case p.Source.IsFallback():
		out.Error = "stored preference came from the default"
	case p.Confidence < d.policy.StoredMinConfidence:
		out.Error = fmt.Sprintf("stored confidence %.2f too low", p.Confidence)
	case !d.set.Contains(p.Locale):
		out.Error = fmt.Sprintf("stored locale %q not supported", p.Locale)
	default:
		out.Locale = p.Locale
		out.Available = true
		out.Evidence = string(p.Source)
	}
	return out, p.Confidence, nil
}

func (d *Detector) browserSignal(ctx context.Context) SignalOutcome {
	out := SignalOutcome{Source: locale.SourceBrowser, Weight: d.policy.Browser}
	if d.env.Languages == nil {
		out.Error = "no language source"
		return out
	}
	tags, err := safely(func() ([]string, error) { return d.env.Languages.Languages(ctx) })
	if err != nil {
		out.Error = err.Error()
		return out
	}
	for _, tag := range tags {
		if l, ok := d.set.LookupLanguageTag(tag); ok {
			out.Locale, out.Available, out.Evidence = l, true, tag
			return out
		}
	}
	out.Error = fmt.Sprintf("no supported language in %s", strings.Join(tags, ","))
	return out
}

func (d *Detector) timezoneSignal(ctx context.Context) SignalOutcome {
	out := SignalOutcome{Source: locale.SourceTimezone, Weight: d.policy.Timezone}
	if d.env.Timezone == nil {
		out.Error = "no timezone source"
		return out
	}
	zone, err := safely(func() (string, error) { return d.env.Timezone.Timezone(ctx) })
	if err != nil {
		out.Error = err.Error()
		return out
	}
	out.Evidence = zone
	if l, ok := d.set.LookupTimezone(zone); ok {
		out.Locale, out.Available = l, true
		return out
	}
	out.Error = fmt.Sprintf("timezone %q not mapped", zone)
	return out
}

func (d *Detector) geoSignal(ctx context.Context) SignalOutcome {
	out := SignalOutcome{Source: locale.SourceGeo, Weight: d.policy.Geo}
	country, err := d.geolocate(ctx)
	if err != nil {
		out.Error = err.Error()
		d.log.V(1).Info("geolocation unavailable", "error", out.Error)
		return out
	}
	out.Evidence = country
	if l, ok := d.set.LookupCountry(country); ok {
		out.Locale, out.Available = l, true
		return out
	}
	out.Error = fmt.Sprintf("country %q not mapped", country)
	return out
}

// geolocate asks the device first and falls back to an IP lookup. Each
// step runs under its own budget.
func (d *Detector) geolocate(ctx context.Context) (string, error) {
	var errs []error
	if d.env.Geolocation != nil {
		country, err := within(ctx, d.geoTimeout, func(ctx context.Context) (string, error) {
			pos, err := d.env.Geolocation.CurrentPosition(ctx)
			if err != nil {
				return "", err
			}
			if pos.CountryCode != "" {
				return pos.CountryCode, nil
			}
			if d.reverse == nil {
				return "", errors.New("no reverse geocoder for coordinates")
			}
			rctx, cancel := context.WithTimeout(ctx, d.networkTimeout)
			defer cancel()
			return d.reverse.CountryAt(rctx, pos.Latitude, pos.Longitude)
		})
		if err == nil {
			return country, nil
		}
		errs = append(errs, fmt.Errorf("device: %w", err))
	}
	if d.countries != nil && !d.env.SkipIPLookup {
		country, err := within(ctx, d.networkTimeout, func(ctx context.Context) (string, error) {
			return d.countries.LookupCountry(ctx, d.env.ClientIP)
		})
		if err == nil {
			return country, nil
		}
		errs = append(errs, fmt.Errorf("ip: %w", err))
	}
	if len(errs) == 0 {
		return "", ErrUnavailable
	}
	return "", errors.Join(errs...)
}

func (d *Detector) finish(span trace.Span, start time.Time, res Result) Result {
	span.SetAttributes(
		attribute.String("localekit.locale", string(res.Locale)),
		attribute.String("localekit.source", string(res.Source)),
		attribute.Float64("localekit.confidence", res.Confidence),
		attribute.String("localekit.strategy", res.Details.Strategy),
	)
	d.log.V(1).Info("detection finished",
		"locale", res.Locale, "source", res.Source, "confidence", res.Confidence,
		"strategy", res.Details.Strategy, "elapsed", time.Since(start))
	return res
}

func (d *Detector) fail(span trace.Span, err error) error {
	span.RecordError(err)
	span.SetStatus(codes.Error, err.Error())
	return err
}

// within runs fn under timeout and returns no later than the deadline,
// even if fn ignores its context. A panic in fn becomes an error.
func within[T any](ctx context.Context, timeout time.Duration, fn func(context.Context) (T, error)) (T, error) {
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	type result struct {
		v   T
		err error
	}
	ch := make(chan result, 1)
	go func() {
		defer func() {
			if r := recover(); r != nil {
				ch <- result{err: fmt.Errorf("panic: %v", r)}
			}
		}()
		v, err := fn(ctx)
		ch <- result{v: v, err: err}
	}()

	select {
	case r := <-ch:
		return r.v, r.err
	case <-ctx.Done():
		var zero T
		return zero, ctx.Err()
	}
}

// safely converts a panic in a synchronous source into an error.
func safely[T any](fn func() (T, error)) (v T, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("panic: %v", r)
		}
	}()
	return fn()
}
