package geo

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/go-logr/logr"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestClient(srv *httptest.Server) *Client {
	return New(Options{
		IPURL:             srv.URL + "/{ip}/json/",
		ReverseURL:        srv.URL + "/reverse",
		Timeout:           time.Second,
		RequestsPerSecond: 100,
		Logger:            logr.Discard(),
	})
}

func TestLookupCountry(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/1.2.3.4/json/":
			w.Write([]byte(`{"ip":"1.2.3.4","country_code":"cn"}`))
		case "/json/":
			w.Write([]byte(`{"country_code":"JP"}`))
		default:
			http.NotFound(w, r)
		}
	}))
	defer srv.Close()
	c := newTestClient(srv)

	country, err := c.LookupCountry(context.Background(), "1.2.3.4")
	require.NoError(t, err)
	assert.Equal(t, "CN", country)

	country, err = c.LookupCountry(context.Background(), "")
	require.NoError(t, err)
	assert.Equal(t, "JP", country)
}

func TestLookupCountryIgnoresContentType(t *testing.T) {
	tests := []struct {
		name        string
		contentType string
		body        string
		want        string
		wantErr     bool
	}{
		{"json", "application/json", `{"country_code":"JP"}`, "JP", false},
		{"text", "text/plain", `{"country_code":"cn"}`, "CN", false},
		{"octet stream", "application/octet-stream", `{"country":"us"}`, "US", false},
		{"html error page", "text/html", `<html>busy</html>`, "", true},
		{"no country", "application/json", `{"ip":"8.8.8.8"}`, "", true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				w.Header().Set("Content-Type", tt.contentType)
				w.Write([]byte(tt.body))
			}))
			defer srv.Close()

			country, err := newTestClient(srv).LookupCountry(context.Background(), "8.8.8.8")
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, country)
		})
	}
}

func TestLookupCountryServiceError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"error":true,"reason":"Reserved IP Address"}`))
	}))
	defer srv.Close()

	_, err := newTestClient(srv).LookupCountry(context.Background(), "10.0.0.1")
	var apiErr *APIError
	require.True(t, errors.As(err, &apiErr))
	assert.Equal(t, "Reserved IP Address", apiErr.Message)
}

func TestLookupCountryRetriesServerErrors(t *testing.T) {
	var calls int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if atomic.AddInt32(&calls, 1) == 1 {
			w.WriteHeader(http.StatusBadGateway)
			return
		}
		w.Write([]byte(`{"country_code":"US"}`))
	}))
	defer srv.Close()

	country, err := newTestClient(srv).LookupCountry(context.Background(), "8.8.8.8")
	require.NoError(t, err)
	assert.Equal(t, "US", country)
	assert.Equal(t, int32(2), atomic.LoadInt32(&calls))
}

func TestLookupCountryNotFound(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	defer srv.Close()

	_, err := newTestClient(srv).LookupCountry(context.Background(), "8.8.8.8")
	var apiErr *APIError
	require.True(t, errors.As(err, &apiErr))
	assert.Equal(t, http.StatusNotFound, apiErr.StatusCode)
}

func TestCountryAt(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/reverse", r.URL.Path)
		assert.Equal(t, "35.6762", r.URL.Query().Get("latitude"))
		assert.Equal(t, "139.6503", r.URL.Query().Get("longitude"))
		w.Write([]byte(`{"countryCode":"JP","countryName":"Japan"}`))
	}))
	defer srv.Close()

	country, err := newTestClient(srv).CountryAt(context.Background(), 35.6762, 139.6503)
	require.NoError(t, err)
	assert.Equal(t, "JP", country)
}

func TestCountryAtMislabeledResponse(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/plain")
		w.Write([]byte(`{"countryCode":"cn"}`))
	}))
	defer srv.Close()

	country, err := newTestClient(srv).CountryAt(context.Background(), 31.2304, 121.4737)
	require.NoError(t, err)
	assert.Equal(t, "CN", country)
}

func TestUnconfiguredClient(t *testing.T) {
	c := New(Options{Logger: logr.Discard()})
	_, err := c.LookupCountry(context.Background(), "1.1.1.1")
	assert.Error(t, err)
	_, err = c.CountryAt(context.Background(), 0, 0)
	assert.Error(t, err)
}

func TestInMemoryLookup(t *testing.T) {
	m := NewInMemoryLookup().SeedIP("1.2.3.4", "CN").SeedPosition(35.0, 139.0, "JP")

	country, err := m.LookupCountry(context.Background(), "1.2.3.4")
	require.NoError(t, err)
	assert.Equal(t, "CN", country)

	country, err = m.CountryAt(context.Background(), 35.0, 139.0)
	require.NoError(t, err)
	assert.Equal(t, "JP", country)

	_, err = m.LookupCountry(context.Background(), "9.9.9.9")
	assert.Error(t, err)
	assert.Equal(t, 3, m.RequestsMade())

	m.Delay = time.Second
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()
	_, err = m.LookupCountry(ctx, "1.2.3.4")
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}
