package detect

import (
	"context"
	"errors"
	"os"
	"strings"
	"time"

	"golang.org/x/text/language"

	"github.com/colthorp/localekit-go/internal/locale"
	"github.com/colthorp/localekit-go/internal/prefs"
)

// ErrUnavailable is returned by a source that has nothing to offer.
var ErrUnavailable = errors.New("signal unavailable")

// LanguageSource yields user-declared language tags, most preferred first.
type LanguageSource interface {
	Languages(ctx context.Context) ([]string, error)
}

// TimezoneSource yields the active IANA timezone name.
type TimezoneSource interface {
	Timezone(ctx context.Context) (string, error)
}

// Position is a device location. Providers that already know the country
// set CountryCode and may leave the coordinates zero.
type Position struct {
	Latitude    float64 `json:"latitude"`
	Longitude   float64 `json:"longitude"`
	CountryCode string  `json:"country_code,omitempty"`
}

// GeolocationProvider yields the device position. Denial and absence are
// reported as errors.
type GeolocationProvider interface {
	CurrentPosition(ctx context.Context) (Position, error)
}

// CountryLookup maps an IP address to a country code. An empty ip means
// the caller's own address.
type CountryLookup interface {
	LookupCountry(ctx context.Context, ip string) (string, error)
}

// ReverseGeocoder maps coordinates to a country code.
type ReverseGeocoder interface {
	CountryAt(ctx context.Context, lat, lon float64) (string, error)
}

// PreferenceSource is the read side of the preference store.
type PreferenceSource interface {
	GetUserOverride(ctx context.Context) (locale.Locale, bool, error)
	GetUserPreference(ctx context.Context) (prefs.Preference, bool, error)
}

// StaticLanguages is a fixed tag list.
type StaticLanguages []string

func (s StaticLanguages) Languages(context.Context) ([]string, error) {
	if len(s) == 0 {
		return nil, ErrUnavailable
	}
	return append([]string(nil), s...), nil
}

// AcceptLanguage parses an HTTP Accept-Language header value. Tags come
// back ordered by quality.
type AcceptLanguage string

func (a AcceptLanguage) Languages(context.Context) ([]string, error) {
	if strings.TrimSpace(string(a)) == "" {
		return nil, ErrUnavailable
	}
	tags, _, err := language.ParseAcceptLanguage(string(a))
	if err != nil {
		return nil, err
	}
	if len(tags) == 0 {
		return nil, ErrUnavailable
	}
	out := make([]string, 0, len(tags))
	for _, t := range tags {
		out = append(out, t.String())
	}
	return out, nil
}

// EnvLanguages reads POSIX locale variables: the LANGUAGE priority list,
// then LC_ALL, LC_MESSAGES and LANG.
type EnvLanguages struct {
	// Getenv defaults to os.Getenv.
	Getenv func(string) string
}

func (e EnvLanguages) Languages(context.Context) ([]string, error) {
	getenv := e.Getenv
	if getenv == nil {
		getenv = os.Getenv
	}
	var out []string
	add := func(v string) {
		v = strings.TrimSpace(v)
		base := v
		if idx := strings.IndexAny(base, ".@"); idx >= 0 {
			base = base[:idx]
		}
		if base == "" || base == "C" || base == "POSIX" {
			return
		}
		out = append(out, v)
	}
	for _, v := range strings.Split(getenv("LANGUAGE"), ":") {
		add(v)
	}
	for _, key := range []string{"LC_ALL", "LC_MESSAGES", "LANG"} {
		add(getenv(key))
	}
	if len(out) == 0 {
		return nil, ErrUnavailable
	}
	return out, nil
}

// StaticTimezone is a fixed zone name.
type StaticTimezone string

func (s StaticTimezone) Timezone(context.Context) (string, error) {
	if strings.TrimSpace(string(s)) == "" {
		return "", ErrUnavailable
	}
	return string(s), nil
}

// LocalTimezone reports the process timezone from TZ or the system
// default.
type LocalTimezone struct {
	// Getenv defaults to os.Getenv.
	Getenv func(string) string
}

func (l LocalTimezone) Timezone(context.Context) (string, error) {
	getenv := l.Getenv
	if getenv == nil {
		getenv = os.Getenv
	}
	if tz := strings.TrimPrefix(strings.TrimSpace(getenv("TZ")), ":"); tz != "" {
		return tz, nil
	}
	if name := time.Local.String(); name != "" && name != "Local" {
		return name, nil
	}
	return "", ErrUnavailable
}

// StaticPosition always answers with the same position or error.
type StaticPosition struct {
	Position Position
	Err      error
}

func (s StaticPosition) CurrentPosition(context.Context) (Position, error) {
	return s.Position, s.Err
}
