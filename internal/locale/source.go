package locale

import "fmt"

// Source identifies which evidence produced a detection.
type Source string

const (
	SourceUser     Source = "user"
	SourceStored   Source = "stored"
	SourceGeo      Source = "geo"
	SourceBrowser  Source = "browser"
	SourceTimezone Source = "timezone"
	SourceCombined Source = "combined"
	SourceDefault  Source = "default"
	// SourceFallback is the legacy name for SourceDefault found in older
	// persisted preferences.
	SourceFallback Source = "fallback"
)

// Sources returns every recognized source.
func Sources() []Source {
	return []Source{
		SourceUser, SourceStored, SourceGeo, SourceBrowser,
		SourceTimezone, SourceCombined, SourceDefault, SourceFallback,
	}
}

// IsValid reports whether s is a recognized source.
func (s Source) IsValid() bool {
	switch s {
	case SourceUser, SourceStored, SourceGeo, SourceBrowser,
		SourceTimezone, SourceCombined, SourceDefault, SourceFallback:
		return true
	}
	return false
}

// IsFallback reports whether s denotes "no evidence, default used".
func (s Source) IsFallback() bool {
	return s == SourceDefault || s == SourceFallback
}

func (s Source) String() string { return string(s) }

// ParseSource returns the Source for name.
func ParseSource(name string) (Source, error) {
	s := Source(name)
	if !s.IsValid() {
		return "", fmt.Errorf("unknown detection source %q", name)
	}
	return s, nil
}
