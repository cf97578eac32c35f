package prefs

import (
	"context"
	"strings"
	"time"

	"github.com/colthorp/localekit-go/internal/locale"
)

// Query filters detection records. Zero-valued fields match everything.
type Query struct {
	Locale        locale.Locale
	Source        locale.Source
	MinConfidence *float64
	MaxConfidence *float64
	Since         time.Time
	Until         time.Time
	Operation     string
	Success       *bool
	// Limit keeps only the most recent matches.
	Limit int
}

// Matches reports whether r satisfies every condition of q.
func (q Query) Matches(r Record) bool {
	if q.Locale != "" && r.Locale != q.Locale {
		return false
	}
	if q.Source != "" && r.Source != q.Source {
		return false
	}
	if q.MinConfidence != nil && r.Confidence < *q.MinConfidence {
		return false
	}
	if q.MaxConfidence != nil && r.Confidence > *q.MaxConfidence {
		return false
	}
	if !q.Since.IsZero() && r.Timestamp < q.Since.UnixMilli() {
		return false
	}
	if !q.Until.IsZero() && r.Timestamp >= q.Until.UnixMilli() {
		return false
	}
	if q.Operation != "" && !strings.EqualFold(r.Operation, q.Operation) {
		return false
	}
	if q.Success != nil && r.Success != *q.Success {
		return false
	}
	return true
}

// QueryDetections returns matching records in chronological order.
func (s *Store) QueryDetections(ctx context.Context, q Query) ([]Record, error) {
	h, err := s.GetDetectionHistory(ctx)
	if err != nil {
		return nil, err
	}
	out := make([]Record, 0)
	for _, r := range h.Detections {
		if q.Matches(r) {
			out = append(out, r)
		}
	}
	if q.Limit > 0 && len(out) > q.Limit {
		out = out[len(out)-q.Limit:]
	}
	return out, nil
}

// SearchDetections returns records whose id, locale, source, operation or
// metadata contains term, case-insensitively.
func (s *Store) SearchDetections(ctx context.Context, term string) ([]Record, error) {
	h, err := s.GetDetectionHistory(ctx)
	if err != nil {
		return nil, err
	}
	term = strings.ToLower(strings.TrimSpace(term))
	out := make([]Record, 0)
	if term == "" {
		return out, nil
	}
	for _, r := range h.Detections {
		if recordContains(r, term) {
			out = append(out, r)
		}
	}
	return out, nil
}

func recordContains(r Record, term string) bool {
	fields := []string{r.ID, string(r.Locale), string(r.Source), r.Operation}
	for k, v := range r.Metadata {
		fields = append(fields, k, v)
	}
	for _, f := range fields {
		if strings.Contains(strings.ToLower(f), term) {
			return true
		}
	}
	return false
}
