// Package locale defines the closed set of supported locales, the detection
// source enumeration and the fixed lookup tables used by signal collectors.
package locale

import (
	"fmt"
	"strings"

	"golang.org/x/text/language"
)

// Locale is a member of the supported locale set.
type Locale string

// Built-in locales.
const (
	English  Locale = "en"
	Chinese  Locale = "zh"
	Japanese Locale = "ja"
)

// Known returns every locale the engine has messages and lookup tables for.
func Known() []Locale {
	return []Locale{English, Chinese, Japanese}
}

// IsKnown reports whether l is a built-in locale.
func (l Locale) IsKnown() bool {
	switch l {
	case English, Chinese, Japanese:
		return true
	}
	return false
}

// Tag returns the BCP-47 tag for l.
func (l Locale) Tag() language.Tag {
	tag, err := language.Parse(string(l))
	if err != nil {
		return language.Und
	}
	return tag
}

func (l Locale) String() string { return string(l) }

// Set is the configured subset of known locales plus the default that
// unknown or invalid codes normalize to.
type Set struct {
	locales  []Locale
	index    map[Locale]struct{}
	fallback Locale
	matcher  language.Matcher
	order    []Locale
}

// NewSet builds a Set from locale codes. The default must be one of codes.
func NewSet(defaultCode string, codes ...string) (*Set, error) {
	if len(codes) == 0 {
		codes = []string{string(English), string(Chinese), string(Japanese)}
	}
	s := &Set{index: make(map[Locale]struct{}, len(codes))}
	for _, code := range codes {
		l := Locale(strings.ToLower(strings.TrimSpace(code)))
		if !l.IsKnown() {
			return nil, fmt.Errorf("unsupported locale %q", code)
		}
		if _, dup := s.index[l]; dup {
			continue
		}
		s.index[l] = struct{}{}
		s.locales = append(s.locales, l)
	}
	def := Locale(strings.ToLower(strings.TrimSpace(defaultCode)))
	if _, ok := s.index[def]; !ok {
		return nil, fmt.Errorf("default locale %q is not in the supported set", defaultCode)
	}
	s.fallback = def

	// The matcher prefers the default when nothing matches, so it goes first.
	s.order = append(s.order, def)
	for _, l := range s.locales {
		if l != def {
			s.order = append(s.order, l)
		}
	}
	tags := make([]language.Tag, len(s.order))
	for i, l := range s.order {
		tags[i] = l.Tag()
	}
	s.matcher = language.NewMatcher(tags)
	return s, nil
}

// MustSet is NewSet that panics on error. Intended for tests and static setup.
func MustSet(defaultCode string, codes ...string) *Set {
	s, err := NewSet(defaultCode, codes...)
	if err != nil {
		panic(err)
	}
	return s
}

// Default returns the locale unknown input normalizes to.
func (s *Set) Default() Locale { return s.fallback }

// Locales returns the supported locales in configuration order.
func (s *Set) Locales() []Locale {
	out := make([]Locale, len(s.locales))
	copy(out, s.locales)
	return out
}

// Len returns the number of supported locales.
func (s *Set) Len() int { return len(s.locales) }

// Contains reports whether l is supported.
func (s *Set) Contains(l Locale) bool {
	_, ok := s.index[l]
	return ok
}

// Parse returns the supported locale for code, or false.
func (s *Set) Parse(code string) (Locale, bool) {
	l := Locale(strings.ToLower(strings.TrimSpace(code)))
	if s.Contains(l) {
		return l, true
	}
	return "", false
}

// Normalize returns the supported locale for code, or the default.
func (s *Set) Normalize(code string) Locale {
	if l, ok := s.Parse(code); ok {
		return l
	}
	return s.fallback
}

// Match resolves a list of language tags (for example from an
// Accept-Language header) against the set using CLDR matching rules.
// The bool is false when no tag reached a usable confidence.
func (s *Set) Match(tags ...language.Tag) (Locale, bool) {
	if len(tags) == 0 {
		return s.fallback, false
	}
	_, idx, conf := s.matcher.Match(tags...)
	if conf == language.No {
		return s.fallback, false
	}
	return s.order[idx], true
}
