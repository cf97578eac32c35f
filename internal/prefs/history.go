package prefs

import (
	"context"
	"errors"
	"sort"
	"time"

	"github.com/google/uuid"

	"github.com/colthorp/localekit-go/internal/locale"
	"github.com/colthorp/localekit-go/internal/storage"
)

// Record is one detection outcome.
type Record struct {
	ID         string            `json:"id"`
	Locale     locale.Locale     `json:"locale"`
	Source     locale.Source     `json:"source"`
	Confidence float64           `json:"confidence"`
	Timestamp  int64             `json:"timestamp"`
	Operation  string            `json:"operation,omitempty"`
	DurationMs int64             `json:"duration_ms"`
	Success    bool              `json:"success"`
	Metadata   map[string]string `json:"metadata,omitempty"`
}

// Time returns the record timestamp as a time.Time.
func (r Record) Time() time.Time { return time.UnixMilli(r.Timestamp) }

// History is the bounded chronological detection log.
// len(Detections) == TotalDetections after every mutation.
type History struct {
	Detections      []Record `json:"detections"`
	LastUpdated     int64    `json:"last_updated"`
	TotalDetections int      `json:"total_detections"`
}

func (h History) clone() History {
	out := History{
		Detections:      make([]Record, len(h.Detections)),
		LastUpdated:     h.LastUpdated,
		TotalDetections: h.TotalDetections,
	}
	for i, r := range h.Detections {
		r.Metadata = cloneMeta(r.Metadata)
		out.Detections[i] = r
	}
	return out
}

// RecordMeta carries optional context for AddDetectionRecord.
type RecordMeta struct {
	Operation  string
	Duration   time.Duration
	Failed     bool
	Attributes map[string]string
}

// DefaultOperation names records added without an explicit operation.
const DefaultOperation = "detect"

// AddDetectionRecord appends a record. Invalid input is rejected with a
// *ValidationError and nothing is stored.
func (s *Store) AddDetectionRecord(ctx context.Context, l locale.Locale, src locale.Source, confidence float64, meta *RecordMeta) (Record, error) {
	if meta == nil {
		meta = &RecordMeta{}
	}
	r := Record{
		ID:         uuid.NewString(),
		Locale:     l,
		Source:     src,
		Confidence: confidence,
		Timestamp:  s.now().UnixMilli(),
		Operation:  meta.Operation,
		DurationMs: meta.Duration.Milliseconds(),
		Success:    !meta.Failed,
		Metadata:   cloneMeta(meta.Attributes),
	}
	if r.Operation == "" {
		r.Operation = DefaultOperation
	}
	if v := ValidateRecord(s.set, r); !v.Valid {
		return Record{}, v.Err()
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.ensureHistory(ctx); err != nil {
		return Record{}, err
	}

	if n := len(s.history.Detections); n > 0 {
		if last := s.history.Detections[n-1].Timestamp; r.Timestamp < last {
			r.Timestamp = last
		}
	}
	s.history.Detections = append(s.history.Detections, r)
	s.trimLocked(s.limit)
	s.history.LastUpdated = r.Timestamp

	out := r
	out.Metadata = cloneMeta(r.Metadata)
	return out, s.saveHistoryLocked(ctx, "add detection record")
}

// GetDetectionHistory returns a copy of the full history.
func (s *Store) GetDetectionHistory(ctx context.Context) (History, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.ensureHistory(ctx); err != nil {
		return History{}, err
	}
	return s.history.clone(), nil
}

// GetRecentDetections returns up to limit records, newest first.
func (s *Store) GetRecentDetections(ctx context.Context, limit int) ([]Record, error) {
	h, err := s.GetDetectionHistory(ctx)
	if err != nil {
		return nil, err
	}
	n := len(h.Detections)
	if limit <= 0 || limit > n {
		limit = n
	}
	out := make([]Record, 0, limit)
	for i := n - 1; i >= n-limit; i-- {
		out = append(out, h.Detections[i])
	}
	return out, nil
}

// ClearHistory removes every detection record.
func (s *Store) ClearHistory(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.history = History{Detections: []Record{}, LastUpdated: s.now().UnixMilli()}
	s.historyLoaded = true
	return s.remove(ctx, "clear history", storage.KeyHistory)
}

func (s *Store) ensureHistory(ctx context.Context) error {
	if s.historyLoaded {
		return nil
	}
	var h History
	found, err := s.load(ctx, "get history", storage.KeyHistory, &h)
	if err != nil {
		return err
	}
	if !found {
		h = History{}
	}
	s.history = s.repair(h)
	s.historyLoaded = true
	return nil
}

// repair drops invalid records and restores the ordering and count
// invariants on history read from storage or an import.
func (s *Store) repair(h History) History {
	kept := make([]Record, 0, len(h.Detections))
	for _, r := range h.Detections {
		if v := ValidateRecord(s.set, r); !v.Valid {
			s.log.V(1).Info("dropping invalid history record", "id", r.ID, "errors", v.Errors)
			continue
		}
		kept = append(kept, r)
	}
	sort.SliceStable(kept, func(i, j int) bool { return kept[i].Timestamp < kept[j].Timestamp })
	h.Detections = kept
	if len(h.Detections) > s.limit {
		h.Detections = append([]Record(nil), h.Detections[len(h.Detections)-s.limit:]...)
	}
	h.TotalDetections = len(h.Detections)
	return h
}

// trimLocked keeps only the newest max records and returns how many were
// dropped.
func (s *Store) trimLocked(max int) int {
	n := len(s.history.Detections)
	if max < 0 {
		max = 0
	}
	removed := 0
	if n > max {
		removed = n - max
		s.history.Detections = append([]Record(nil), s.history.Detections[removed:]...)
	}
	s.history.TotalDetections = len(s.history.Detections)
	return removed
}

// saveHistoryLocked writes history through. If the backend is full the
// oldest half of the history is dropped and the write retried once.
func (s *Store) saveHistoryLocked(ctx context.Context, op string) error {
	err := storage.Save(ctx, s.kv, storage.KeyHistory, s.history, s.now())
	if errors.Is(err, storage.ErrQuotaExceeded) {
		keep := len(s.history.Detections) / 2
		dropped := s.trimLocked(keep)
		s.log.Info("storage quota exceeded, trimmed detection history", "dropped", dropped, "kept", keep)
		err = storage.Save(ctx, s.kv, storage.KeyHistory, s.history, s.now())
	}
	if err == nil {
		return nil
	}
	if errors.Is(err, storage.ErrUnavailable) {
		s.log.V(1).Info("storage unavailable, history kept in memory only")
		return nil
	}
	return storeError(op, err)
}
