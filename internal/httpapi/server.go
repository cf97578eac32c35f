// Package httpapi serves locale negotiation and translation bundles over
// HTTP.
//
// Every request is resolved from its own signals: the lang query
// parameter, the localekit_lang cookie, Accept-Language, an X-Timezone
// header and the client address. Private and loopback addresses skip the
// IP country lookup.
package httpapi

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"net/netip"
	"strings"
	"time"

	"github.com/go-logr/logr"

	"github.com/colthorp/localekit-go/internal/detect"
	"github.com/colthorp/localekit-go/internal/engine"
)

const (
	// CookieName carries an explicit locale choice between requests.
	CookieName = "localekit_lang"
	// TimezoneHeader carries the client's IANA zone.
	TimezoneHeader = "X-Timezone"

	shutdownTimeout = 10 * time.Second
)

// Options configures a Server.
type Options struct {
	Addr string
	// TrustProxy takes the client address from X-Forwarded-For.
	TrustProxy bool
	Logger     logr.Logger
}

// Server exposes an Engine over HTTP.
type Server struct {
	engine     *engine.Engine
	trustProxy bool
	log        logr.Logger
	handler    http.Handler
	httpServer *http.Server
}

// New builds the server and its routes.
func New(e *engine.Engine, opts Options) *Server {
	s := &Server{
		engine:     e,
		trustProxy: opts.TrustProxy,
		log:        opts.Logger.WithName("http"),
	}

	mux := http.NewServeMux()
	mux.HandleFunc("GET /api/locale", s.handleLocale)
	mux.HandleFunc("GET /api/messages/{locale}", s.handleMessages)
	mux.HandleFunc("PUT /api/locale/override", s.handleSetOverride)
	mux.HandleFunc("DELETE /api/locale/override", s.handleClearOverride)
	mux.HandleFunc("GET /api/cache/stats", s.handleCacheStats)
	mux.HandleFunc("GET /api/history/stats", s.handleHistoryStats)
	mux.HandleFunc("GET /up", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
	})

	s.handler = Chain(mux, RequestID(), AccessLog(s.log), RecoverPanic(s.log))
	s.httpServer = &http.Server{
		Addr:              opts.Addr,
		Handler:           s.handler,
		ReadHeaderTimeout: 5 * time.Second,
	}
	return s
}

// Handler returns the routed handler with middleware applied.
func (s *Server) Handler() http.Handler { return s.handler }

// ListenAndServe runs until ctx ends, then drains in-flight requests.
func (s *Server) ListenAndServe(ctx context.Context) error {
	serveErr := make(chan error, 1)
	s.log.Info("listening", "addr", s.httpServer.Addr)
	go func() {
		serveErr <- s.httpServer.ListenAndServe()
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := s.httpServer.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("shutdown http server: %w", err)
		}
		return nil
	case err := <-serveErr:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return fmt.Errorf("serve http: %w", err)
	}
}

// environment collects the detection signals carried by r.
func (s *Server) environment(r *http.Request) detect.Environment {
	env := detect.Environment{
		Languages: detect.AcceptLanguage(r.Header.Get("Accept-Language")),
	}
	if tz := strings.TrimSpace(r.Header.Get(TimezoneHeader)); tz != "" {
		env.Timezone = detect.StaticTimezone(tz)
	}
	if lang := r.URL.Query().Get("lang"); lang != "" {
		env.Requested = lang
	} else if c, err := r.Cookie(CookieName); err == nil {
		env.Requested = c.Value
	}

	addr, ok := s.clientAddr(r)
	switch {
	case !ok:
		env.SkipIPLookup = true
	case addr.IsPrivate() || addr.IsLoopback() || addr.IsLinkLocalUnicast() || addr.IsUnspecified():
		env.SkipIPLookup = true
	default:
		env.ClientIP = addr.String()
	}
	return env
}

func (s *Server) clientAddr(r *http.Request) (netip.Addr, bool) {
	if s.trustProxy {
		if fwd := r.Header.Get("X-Forwarded-For"); fwd != "" {
			first, _, _ := strings.Cut(fwd, ",")
			if addr, err := netip.ParseAddr(strings.TrimSpace(first)); err == nil {
				return addr.Unmap(), true
			}
		}
	}
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		host = r.RemoteAddr
	}
	addr, err := netip.ParseAddr(host)
	if err != nil {
		return netip.Addr{}, false
	}
	return addr.Unmap(), true
}
