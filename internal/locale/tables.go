package locale

import "strings"

// browserCodes maps lower-cased language tags to locales. Lookups try the
// exact tag first and then its two-letter prefix.
var browserCodes = map[string]Locale{
	"en":      English,
	"en-us":   English,
	"en-gb":   English,
	"en-au":   English,
	"en-ca":   English,
	"en-nz":   English,
	"en-ie":   English,
	"en-in":   English,
	"zh":      Chinese,
	"zh-cn":   Chinese,
	"zh-sg":   Chinese,
	"zh-tw":   Chinese,
	"zh-hk":   Chinese,
	"zh-mo":   Chinese,
	"zh-hans": Chinese,
	"zh-hant": Chinese,
	"ja":      Japanese,
	"ja-jp":   Japanese,
}

var timezones = map[string]Locale{
	"Asia/Shanghai":       Chinese,
	"Asia/Chongqing":      Chinese,
	"Asia/Harbin":         Chinese,
	"Asia/Urumqi":         Chinese,
	"Asia/Hong_Kong":      Chinese,
	"Asia/Macau":          Chinese,
	"Asia/Taipei":         Chinese,
	"Asia/Singapore":      Chinese,
	"Asia/Tokyo":          Japanese,
	"America/New_York":    English,
	"America/Chicago":     English,
	"America/Denver":      English,
	"America/Los_Angeles": English,
	"America/Phoenix":     English,
	"America/Anchorage":   English,
	"America/Toronto":     English,
	"America/Vancouver":   English,
	"Pacific/Honolulu":    English,
	"Europe/London":       English,
	"Europe/Dublin":       English,
	"Australia/Sydney":    English,
	"Australia/Melbourne": English,
	"Pacific/Auckland":    English,
}

var countries = map[string]Locale{
	"CN": Chinese,
	"TW": Chinese,
	"HK": Chinese,
	"MO": Chinese,
	"SG": Chinese,
	"JP": Japanese,
	"US": English,
	"GB": English,
	"AU": English,
	"CA": English,
	"NZ": English,
	"IE": English,
}

// normalizeTag lower-cases a language tag, converts '_' to '-' and strips
// POSIX encoding/modifier suffixes ("zh_CN.UTF-8" -> "zh-cn").
func normalizeTag(tag string) string {
	tag = strings.TrimSpace(tag)
	if idx := strings.Index(tag, "."); idx > 0 {
		tag = tag[:idx]
	}
	if idx := strings.Index(tag, "@"); idx > 0 {
		tag = tag[:idx]
	}
	if idx := strings.Index(tag, ";"); idx > 0 {
		tag = tag[:idx]
	}
	return strings.ToLower(strings.ReplaceAll(tag, "_", "-"))
}

// LookupLanguageTag maps one language tag to a supported locale, trying the
// exact code and then the two-letter prefix.
func (s *Set) LookupLanguageTag(tag string) (Locale, bool) {
	code := normalizeTag(tag)
	if code == "" {
		return "", false
	}
	if l, ok := browserCodes[code]; ok && s.Contains(l) {
		return l, true
	}
	if len(code) >= 2 {
		if l, ok := browserCodes[code[:2]]; ok && s.Contains(l) {
			return l, true
		}
	}
	return "", false
}

// LookupTimezone maps an IANA zone name to a supported locale.
func (s *Set) LookupTimezone(zone string) (Locale, bool) {
	l, ok := timezones[strings.TrimSpace(zone)]
	if !ok || !s.Contains(l) {
		return "", false
	}
	return l, true
}

// LookupCountry maps an ISO 3166-1 alpha-2 country code to a supported locale.
func (s *Set) LookupCountry(code string) (Locale, bool) {
	l, ok := countries[strings.ToUpper(strings.TrimSpace(code))]
	if !ok || !s.Contains(l) {
		return "", false
	}
	return l, true
}

// TimezoneTable returns a copy of the zone -> locale table.
func TimezoneTable() map[string]Locale {
	return copyTable(timezones)
}

// LanguageTable returns a copy of the language code -> locale table.
func LanguageTable() map[string]Locale {
	return copyTable(browserCodes)
}

// CountryTable returns a copy of the country -> locale table.
func CountryTable() map[string]Locale {
	return copyTable(countries)
}

func copyTable(src map[string]Locale) map[string]Locale {
	out := make(map[string]Locale, len(src))
	for k, v := range src {
		out[k] = v
	}
	return out
}
