package httpapi

import (
	"encoding/json"
	"errors"
	"net/http"

	"golang.org/x/text/language"

	"github.com/colthorp/localekit-go/internal/cache"
	"github.com/colthorp/localekit-go/internal/detect"
	"github.com/colthorp/localekit-go/internal/locale"
	"github.com/colthorp/localekit-go/internal/prefs"
)

type localeResponse struct {
	Locale     locale.Locale  `json:"locale"`
	Detected   locale.Locale  `json:"detected"`
	Source     locale.Source  `json:"source"`
	Confidence float64        `json:"confidence"`
	Fallback   bool           `json:"fallback"`
	Details    detect.Details `json:"details"`
	Messages   cache.Bundle   `json:"messages,omitempty"`
}

// handleLocale resolves the request's locale from its own signals only.
// ?messages=1 includes the served bundle.
func (s *Server) handleLocale(w http.ResponseWriter, r *http.Request) {
	res, err := s.engine.ResolveVisitor(r.Context(), s.environment(r))
	if err != nil && res.Locale == "" {
		s.fail(w, err)
		return
	}
	if err != nil {
		s.log.Info("resolve degraded", "error", err.Error())
	}
	out := localeResponse{
		Locale:     res.Locale,
		Detected:   res.Detection.Locale,
		Source:     res.Detection.Source,
		Confidence: res.Detection.Confidence,
		Fallback:   res.Fallback,
		Details:    res.Detection.Details,
	}
	if r.URL.Query().Get("messages") == "1" {
		out.Messages = res.Messages
	}
	w.Header().Set("Content-Language", string(res.Locale))
	writeJSON(w, http.StatusOK, out)
}

// handleMessages serves one bundle, or one message with ?key=.
func (s *Server) handleMessages(w http.ResponseWriter, r *http.Request) {
	l, ok := s.parseLocale(r.PathValue("locale"))
	if !ok {
		writeError(w, http.StatusNotFound, "unsupported locale")
		return
	}
	b, err := s.engine.Cache().GetMessages(r.Context(), l)
	if err != nil {
		s.fail(w, err)
		return
	}
	w.Header().Set("Content-Language", string(l))
	if key := r.URL.Query().Get("key"); key != "" {
		msg, found := b.Lookup(key)
		if !found {
			writeError(w, http.StatusNotFound, "unknown message key")
			return
		}
		writeJSON(w, http.StatusOK, map[string]string{"locale": string(l), "key": key, "message": msg})
		return
	}
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(b)
}

// parseLocale accepts exact codes and BCP 47 tags such as "ja-JP".
func (s *Server) parseLocale(raw string) (locale.Locale, bool) {
	set := s.engine.Locales()
	if l, ok := set.Parse(raw); ok {
		return l, true
	}
	tag, err := language.Parse(raw)
	if err != nil {
		return "", false
	}
	return set.Match(tag)
}

// The override lives in the visitor's cookie, never in the shared store.
const overrideMaxAge = 365 * 24 * 60 * 60

type overrideRequest struct {
	Locale string `json:"locale"`
}

func (s *Server) handleSetOverride(w http.ResponseWriter, r *http.Request) {
	var req overrideRequest
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, 1<<10)).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "body must be {\"locale\": \"...\"}")
		return
	}
	l, ok := s.parseLocale(req.Locale)
	if !ok {
		writeError(w, http.StatusBadRequest, "unsupported locale")
		return
	}
	http.SetCookie(w, &http.Cookie{
		Name:     CookieName,
		Value:    string(l),
		Path:     "/",
		MaxAge:   overrideMaxAge,
		HttpOnly: true,
		SameSite: http.SameSiteLaxMode,
	})
	writeJSON(w, http.StatusOK, map[string]string{"locale": string(l)})
}

func (s *Server) handleClearOverride(w http.ResponseWriter, _ *http.Request) {
	http.SetCookie(w, &http.Cookie{Name: CookieName, Value: "", Path: "/", MaxAge: -1})
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleCacheStats(w http.ResponseWriter, _ *http.Request) {
	c := s.engine.Cache()
	writeJSON(w, http.StatusOK, map[string]any{
		"stats":   c.GetCacheStats(),
		"metrics": c.GetMetrics(),
	})
}

func (s *Server) handleHistoryStats(w http.ResponseWriter, r *http.Request) {
	stats, err := s.engine.Prefs().GetDetectionStats(r.Context())
	if err != nil {
		s.fail(w, err)
		return
	}
	writeJSON(w, http.StatusOK, stats)
}

func (s *Server) fail(w http.ResponseWriter, err error) {
	var verr *prefs.ValidationError
	switch {
	case errors.As(err, &verr):
		writeError(w, http.StatusBadRequest, err.Error())
	case errors.Is(err, cache.ErrUnknownLocale):
		writeError(w, http.StatusNotFound, err.Error())
	default:
		s.log.Error(err, "request failed")
		writeError(w, http.StatusInternalServerError, "internal error")
	}
}
