package httpapi

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/go-logr/logr"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/colthorp/localekit-go/internal/core"
	"github.com/colthorp/localekit-go/internal/engine"
	"github.com/colthorp/localekit-go/internal/geo"
	"github.com/colthorp/localekit-go/internal/locale"
	"github.com/colthorp/localekit-go/internal/storage"
)

func newServer(t *testing.T, countries *geo.InMemoryLookup) (*Server, *engine.Engine) {
	t.Helper()
	cfg := &core.Config{
		DefaultLocale:    "en",
		SupportedLocales: []string{"en", "zh", "ja"},
		CacheSize:        3,
		CacheTTL:         time.Minute,
		StorageBackend:   core.StorageMemory,
		HistoryLimit:     20,
	}
	if countries == nil {
		countries = geo.NewInMemoryLookup()
	}
	e, err := engine.New(context.Background(), cfg, engine.Options{
		Store:     storage.NewMemoryStore(),
		Countries: countries,
		Reverse:   countries,
		Logger:    logr.Discard(),
	})
	require.NoError(t, err)
	t.Cleanup(func() { e.Close() })
	return New(e, Options{Logger: logr.Discard()}), e
}

func do(t *testing.T, s *Server, req *http.Request) *httptest.ResponseRecorder {
	t.Helper()
	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, req)
	return rec
}

func decode(t *testing.T, rec *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var out map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &out))
	return out
}

func TestGetLocaleFromHeaders(t *testing.T) {
	s, _ := newServer(t, nil)

	req := httptest.NewRequest(http.MethodGet, "/api/locale", nil)
	req.RemoteAddr = "10.0.0.7:51234"
	req.Header.Set("Accept-Language", "zh-CN,zh;q=0.9,en;q=0.8")
	req.Header.Set(TimezoneHeader, "Asia/Shanghai")
	rec := do(t, s, req)

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "zh", rec.Header().Get("Content-Language"))
	assert.NotEmpty(t, rec.Header().Get("X-Request-ID"))
	body := decode(t, rec)
	assert.Equal(t, "zh", body["locale"])
	assert.Equal(t, "combined", body["source"])
	assert.Nil(t, body["messages"])
}

func TestGetLocaleSkipsPrivateAddresses(t *testing.T) {
	countries := geo.NewInMemoryLookup().SeedIP("203.0.113.9", "JP")
	s, _ := newServer(t, countries)

	req := httptest.NewRequest(http.MethodGet, "/api/locale", nil)
	req.RemoteAddr = "192.168.1.20:40000"
	do(t, s, req)
	assert.Zero(t, countries.RequestsMade())

	req = httptest.NewRequest(http.MethodGet, "/api/locale?messages=1", nil)
	req.RemoteAddr = "203.0.113.9:40000"
	rec := do(t, s, req)
	require.Equal(t, http.StatusOK, rec.Code)
	body := decode(t, rec)
	assert.Equal(t, "ja", body["locale"])
	assert.Equal(t, "geo", body["source"])
	assert.NotNil(t, body["messages"])
	assert.Equal(t, 1, countries.RequestsMade())
}

func TestGetLocaleQueryAndCookie(t *testing.T) {
	s, _ := newServer(t, nil)

	req := httptest.NewRequest(http.MethodGet, "/api/locale?lang=ja", nil)
	req.Header.Set("Accept-Language", "zh-CN")
	body := decode(t, do(t, s, req))
	assert.Equal(t, "ja", body["locale"])
	assert.Equal(t, "user", body["source"])

	req = httptest.NewRequest(http.MethodGet, "/api/locale", nil)
	req.AddCookie(&http.Cookie{Name: CookieName, Value: "zh"})
	body = decode(t, do(t, s, req))
	assert.Equal(t, "zh", body["locale"])
}

func TestGetMessages(t *testing.T) {
	s, e := newServer(t, nil)

	rec := do(t, s, httptest.NewRequest(http.MethodGet, "/api/messages/ja-JP", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "ja", rec.Header().Get("Content-Language"))
	assert.Contains(t, rec.Body.String(), "ホーム")
	assert.True(t, e.Cache().Contains(locale.Japanese))

	rec = do(t, s, httptest.NewRequest(http.MethodGet, "/api/messages/zh?key=nav.home", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "首页", decode(t, rec)["message"])

	rec = do(t, s, httptest.NewRequest(http.MethodGet, "/api/messages/en?key=nav.nope", nil))
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec = do(t, s, httptest.NewRequest(http.MethodGet, "/api/messages/klingon", nil))
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestOverrideEndpoints(t *testing.T) {
	s, e := newServer(t, nil)
	ctx := context.Background()

	req := httptest.NewRequest(http.MethodPut, "/api/locale/override", strings.NewReader(`{"locale":"ja"}`))
	rec := do(t, s, req)
	require.Equal(t, http.StatusOK, rec.Code)
	cookies := rec.Result().Cookies()
	require.Len(t, cookies, 1)
	assert.Equal(t, "ja", cookies[0].Value)
	assert.Positive(t, cookies[0].MaxAge)

	// The choice belongs to the visitor holding the cookie.
	_, ok, err := e.Prefs().GetUserOverride(ctx)
	require.NoError(t, err)
	assert.False(t, ok)

	req = httptest.NewRequest(http.MethodGet, "/api/locale", nil)
	req.Header.Set("Accept-Language", "zh-CN")
	req.AddCookie(cookies[0])
	body := decode(t, do(t, s, req))
	assert.Equal(t, "ja", body["locale"])
	assert.Equal(t, "user", body["source"])

	req = httptest.NewRequest(http.MethodPut, "/api/locale/override", strings.NewReader(`{"locale":"fr"}`))
	assert.Equal(t, http.StatusBadRequest, do(t, s, req).Code)

	req = httptest.NewRequest(http.MethodPut, "/api/locale/override", strings.NewReader(`not json`))
	assert.Equal(t, http.StatusBadRequest, do(t, s, req).Code)

	rec = do(t, s, httptest.NewRequest(http.MethodDelete, "/api/locale/override", nil))
	assert.Equal(t, http.StatusNoContent, rec.Code)
	require.Len(t, rec.Result().Cookies(), 1)
	assert.Negative(t, rec.Result().Cookies()[0].MaxAge)
}

func TestVisitorsDoNotShareState(t *testing.T) {
	s, e := newServer(t, nil)
	ctx := context.Background()

	first := httptest.NewRequest(http.MethodGet, "/api/locale", nil)
	first.Header.Set("Accept-Language", "zh-CN")
	first.Header.Set(TimezoneHeader, "Asia/Shanghai")
	assert.Equal(t, "zh", decode(t, do(t, s, first))["locale"])

	second := httptest.NewRequest(http.MethodGet, "/api/locale", nil)
	second.Header.Set("Accept-Language", "en-US")
	body := decode(t, do(t, s, second))
	assert.Equal(t, "en", body["locale"])
	assert.Equal(t, "browser", body["source"])

	put := httptest.NewRequest(http.MethodPut, "/api/locale/override", strings.NewReader(`{"locale":"ja"}`))
	require.Equal(t, http.StatusOK, do(t, s, put).Code)

	third := httptest.NewRequest(http.MethodGet, "/api/locale", nil)
	third.Header.Set("Accept-Language", "en-US")
	third.Header.Set(TimezoneHeader, "America/New_York")
	body = decode(t, do(t, s, third))
	assert.Equal(t, "en", body["locale"])
	assert.NotEqual(t, "user", body["source"])

	_, found, err := e.Prefs().GetUserPreference(ctx)
	require.NoError(t, err)
	assert.False(t, found)
	_, found, err = e.Prefs().GetUserOverride(ctx)
	require.NoError(t, err)
	assert.False(t, found)
}

func TestStatsEndpoints(t *testing.T) {
	s, _ := newServer(t, nil)

	req := httptest.NewRequest(http.MethodGet, "/api/locale", nil)
	req.Header.Set("Accept-Language", "ja")
	do(t, s, req)
	do(t, s, req)

	rec := do(t, s, httptest.NewRequest(http.MethodGet, "/api/cache/stats", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	stats := decode(t, rec)["stats"].(map[string]any)
	assert.Equal(t, float64(1), stats["size"])

	rec = do(t, s, httptest.NewRequest(http.MethodGet, "/api/history/stats", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, float64(2), decode(t, rec)["total_detections"])
}

func TestMethodRouting(t *testing.T) {
	s, _ := newServer(t, nil)
	rec := do(t, s, httptest.NewRequest(http.MethodPost, "/api/locale", nil))
	assert.Equal(t, http.StatusMethodNotAllowed, rec.Code)
}

func TestRecoverPanic(t *testing.T) {
	h := Chain(http.HandlerFunc(func(http.ResponseWriter, *http.Request) { panic("boom") }), RecoverPanic(logr.Discard()))
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))
	assert.Equal(t, http.StatusInternalServerError, rec.Code)
}
