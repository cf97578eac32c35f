package locale

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/text/language"
)

func TestNewSet(t *testing.T) {
	s, err := NewSet("en", "en", "zh")
	require.NoError(t, err)
	assert.Equal(t, English, s.Default())
	assert.Equal(t, []Locale{English, Chinese}, s.Locales())
	assert.True(t, s.Contains(Chinese))
	assert.False(t, s.Contains(Japanese))

	_, err = NewSet("fr", "en")
	assert.Error(t, err)

	_, err = NewSet("en", "en", "xx")
	assert.Error(t, err)

	_, err = NewSet("ja", "en", "zh")
	assert.Error(t, err, "default outside the set must be rejected")
}

func TestNormalize(t *testing.T) {
	s := MustSet("en")
	tests := []struct {
		in   string
		want Locale
	}{
		{"zh", Chinese},
		{" JA ", Japanese},
		{"fr", English},
		{"", English},
		{"zh-CN", English},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			assert.Equal(t, tt.want, s.Normalize(tt.in))
		})
	}
}

func TestLookupLanguageTag(t *testing.T) {
	s := MustSet("en")

	for code, want := range LanguageTable() {
		got, ok := s.LookupLanguageTag(code)
		require.True(t, ok, code)
		assert.Equal(t, want, got, code)
	}

	tests := []struct {
		tag    string
		want   Locale
		wantOK bool
	}{
		{"zh-CN", Chinese, true},
		{"zh_CN.UTF-8", Chinese, true},
		{"en-ZA", English, true},
		{"ja-JP;q=0.8", Japanese, true},
		{"fr-FR", "", false},
		{"de", "", false},
		{"", "", false},
	}
	for _, tt := range tests {
		t.Run(tt.tag, func(t *testing.T) {
			got, ok := s.LookupLanguageTag(tt.tag)
			assert.Equal(t, tt.wantOK, ok)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestLookupRespectsConfiguredSubset(t *testing.T) {
	s := MustSet("en", "en", "zh")

	_, ok := s.LookupLanguageTag("ja-JP")
	assert.False(t, ok)
	_, ok = s.LookupTimezone("Asia/Tokyo")
	assert.False(t, ok)
	_, ok = s.LookupCountry("JP")
	assert.False(t, ok)
}

func TestLookupTimezone(t *testing.T) {
	s := MustSet("en")
	for zone, want := range TimezoneTable() {
		got, ok := s.LookupTimezone(zone)
		require.True(t, ok, zone)
		assert.Equal(t, want, got, zone)
	}
	_, ok := s.LookupTimezone("Europe/Paris")
	assert.False(t, ok)
	_, ok = s.LookupTimezone("")
	assert.False(t, ok)
}

func TestLookupCountry(t *testing.T) {
	s := MustSet("en")
	got, ok := s.LookupCountry("cn")
	require.True(t, ok)
	assert.Equal(t, Chinese, got)

	_, ok = s.LookupCountry("FR")
	assert.False(t, ok)
}

func TestMatch(t *testing.T) {
	s := MustSet("en")

	tags, _, err := language.ParseAcceptLanguage("ja-JP,ja;q=0.9,en;q=0.5")
	require.NoError(t, err)
	got, ok := s.Match(tags...)
	assert.True(t, ok)
	assert.Equal(t, Japanese, got)

	got, ok = s.Match(language.MustParse("fr-FR"))
	assert.False(t, ok)
	assert.Equal(t, English, got)

	got, ok = s.Match()
	assert.False(t, ok)
	assert.Equal(t, English, got)
}

func TestSources(t *testing.T) {
	for _, src := range Sources() {
		assert.True(t, src.IsValid(), src)
	}
	_, err := ParseSource("magic")
	assert.Error(t, err)
	assert.True(t, SourceFallback.IsFallback())
	assert.False(t, SourceBrowser.IsFallback())
}
