package prefs

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/colthorp/localekit-go/internal/storage"
)

// CleanupExpiredDetections removes records older than maxAge and returns
// how many were removed.
func (s *Store) CleanupExpiredDetections(ctx context.Context, maxAge time.Duration) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.ensureHistory(ctx); err != nil {
		return 0, err
	}
	cutoff := s.now().Add(-maxAge).UnixMilli()
	kept := make([]Record, 0, len(s.history.Detections))
	for _, r := range s.history.Detections {
		if r.Timestamp >= cutoff {
			kept = append(kept, r)
		}
	}
	return s.replaceLocked(ctx, "cleanup expired detections", kept)
}

// CleanupDuplicateDetections removes records repeating the locale and
// source of an earlier kept record within the duplicate window.
func (s *Store) CleanupDuplicateDetections(ctx context.Context) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.ensureHistory(ctx); err != nil {
		return 0, err
	}
	return s.replaceLocked(ctx, "cleanup duplicate detections", dedupe(s.history.Detections, s.dupWindow))
}

func dedupe(records []Record, window time.Duration) []Record {
	lastKept := make(map[string]int64)
	kept := make([]Record, 0, len(records))
	for _, r := range records {
		key := string(r.Locale) + "|" + string(r.Source)
		if last, ok := lastKept[key]; ok && r.Timestamp-last < window.Milliseconds() {
			continue
		}
		lastKept[key] = r.Timestamp
		kept = append(kept, r)
	}
	return kept
}

// LimitHistorySize keeps only the newest max records.
func (s *Store) LimitHistorySize(ctx context.Context, max int) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.ensureHistory(ctx); err != nil {
		return 0, err
	}
	removed := s.trimLocked(max)
	if removed == 0 {
		return 0, nil
	}
	s.history.LastUpdated = s.now().UnixMilli()
	return removed, s.saveHistoryLocked(ctx, "limit history size")
}

func (s *Store) replaceLocked(ctx context.Context, op string, kept []Record) (int, error) {
	removed := len(s.history.Detections) - len(kept)
	if removed == 0 {
		return 0, nil
	}
	s.history.Detections = kept
	s.history.TotalDetections = len(kept)
	s.history.LastUpdated = s.now().UnixMilli()
	return removed, s.saveHistoryLocked(ctx, op)
}

// ExportVersion is the current history export format.
const ExportVersion = 1

// Export is the serialized form produced by ExportHistory.
type Export struct {
	Version    int     `json:"version"`
	ExportedAt int64   `json:"exported_at"`
	History    History `json:"history"`
}

// ExportHistory serializes the full history as JSON.
func (s *Store) ExportHistory(ctx context.Context) ([]byte, error) {
	h, err := s.GetDetectionHistory(ctx)
	if err != nil {
		return nil, err
	}
	return json.MarshalIndent(Export{
		Version:    ExportVersion,
		ExportedAt: s.now().UnixMilli(),
		History:    h,
	}, "", "  ")
}

// ImportHistory loads an export. With merge, records are added to the
// current history (skipping known IDs); otherwise the history is replaced.
// Any invalid record rejects the whole import.
func (s *Store) ImportHistory(ctx context.Context, data []byte, merge bool) (int, error) {
	var exp Export
	if err := json.Unmarshal(data, &exp); err != nil {
		return 0, &ValidationError{Errors: []string{fmt.Sprintf("malformed export: %v", err)}}
	}
	if exp.Version != ExportVersion {
		return 0, &ValidationError{Errors: []string{fmt.Sprintf("unsupported export version %d", exp.Version)}}
	}
	var problems []string
	for i, r := range exp.History.Detections {
		if v := ValidateRecord(s.set, r); !v.Valid {
			for _, e := range v.Errors {
				problems = append(problems, fmt.Sprintf("record %d: %s", i, e))
			}
		}
	}
	if len(problems) > 0 {
		return 0, &ValidationError{Errors: problems}
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.ensureHistory(ctx); err != nil {
		return 0, err
	}

	incoming := exp.History
	imported := len(incoming.Detections)
	if merge {
		seen := make(map[string]struct{}, len(s.history.Detections))
		combined := append([]Record(nil), s.history.Detections...)
		for _, r := range s.history.Detections {
			seen[r.ID] = struct{}{}
		}
		imported = 0
		for _, r := range incoming.Detections {
			if _, dup := seen[r.ID]; dup {
				continue
			}
			combined = append(combined, r)
			imported++
		}
		incoming = History{Detections: combined, LastUpdated: s.now().UnixMilli()}
	}
	if incoming.LastUpdated == 0 {
		incoming.LastUpdated = s.now().UnixMilli()
	}
	s.history = s.repair(incoming.clone())
	return imported, s.saveHistoryLocked(ctx, "import history")
}

// Backup is a snapshot of everything the store owns.
type Backup struct {
	ID         string      `json:"id"`
	CreatedAt  int64       `json:"created_at"`
	Preference *Preference `json:"preference,omitempty"`
	Override   *Override   `json:"override,omitempty"`
	History    History     `json:"history"`
}

// CreateBackup snapshots preference, override and history under the
// backup key, replacing any previous backup.
func (s *Store) CreateBackup(ctx context.Context) (Backup, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.ensureAllLocked(ctx); err != nil {
		return Backup{}, err
	}
	b := Backup{
		ID:        uuid.NewString(),
		CreatedAt: s.now().UnixMilli(),
		History:   s.history.clone(),
	}
	if s.pref != nil {
		p := *s.pref
		p.Metadata = cloneMeta(p.Metadata)
		b.Preference = &p
	}
	if s.override != nil {
		o := *s.override
		b.Override = &o
	}
	if err := storage.Save(ctx, s.kv, storage.KeyBackup, b, s.now()); err != nil {
		return Backup{}, storeError("create backup", err)
	}
	s.log.V(1).Info("backup created", "id", b.ID, "records", b.History.TotalDetections)
	return b, nil
}

// RestoreFromBackup replaces all state with the last backup.
func (s *Store) RestoreFromBackup(ctx context.Context) (Backup, error) {
	var b Backup
	_, found, err := storage.Load(ctx, s.kv, storage.KeyBackup, &b)
	if err != nil {
		return Backup{}, storeError("restore backup", err)
	}
	if !found {
		return Backup{}, ErrNoBackup
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if b.Preference != nil && !ValidatePreference(s.set, *b.Preference).Valid {
		b.Preference = nil
	}
	if b.Override != nil && !s.set.Contains(b.Override.Locale) {
		b.Override = nil
	}
	s.pref, s.prefLoaded = b.Preference, true
	s.override, s.overrideLoaded = b.Override, true
	s.history, s.historyLoaded = s.repair(b.History.clone()), true

	if s.pref != nil {
		if err := s.persist(ctx, "restore preference", storage.KeyPreference, *s.pref); err != nil {
			return Backup{}, err
		}
	} else if err := s.remove(ctx, "restore preference", storage.KeyPreference); err != nil {
		return Backup{}, err
	}
	if s.override != nil {
		if err := s.persist(ctx, "restore override", storage.KeyOverride, *s.override); err != nil {
			return Backup{}, err
		}
	} else if err := s.remove(ctx, "restore override", storage.KeyOverride); err != nil {
		return Backup{}, err
	}
	return b, s.saveHistoryLocked(ctx, "restore history")
}

func (s *Store) ensureAllLocked(ctx context.Context) error {
	if err := s.ensurePreference(ctx); err != nil {
		return err
	}
	if err := s.ensureOverride(ctx); err != nil {
		return err
	}
	return s.ensureHistory(ctx)
}

// Maintenance thresholds.
const (
	StaleAfter         = 30 * 24 * time.Hour
	SizeWarningRatio   = 0.8
	DuplicateWarnRatio = 0.2
)

// MaintenanceOptions selects the steps PerformMaintenance runs.
type MaintenanceOptions struct {
	MaxAge           time.Duration `json:"max_age,omitempty"`
	RemoveDuplicates bool          `json:"remove_duplicates,omitempty"`
	MaxSize          int           `json:"max_size,omitempty"`
	Backup           bool          `json:"backup,omitempty"`
}

// Recommendation is the computed maintenance advice for the current
// history.
type Recommendation struct {
	NeedsMaintenance bool               `json:"needs_maintenance"`
	Reasons          []string           `json:"reasons,omitempty"`
	Options          MaintenanceOptions `json:"options"`
	OldestAge        time.Duration      `json:"oldest_age"`
	SizeRatio        float64            `json:"size_ratio"`
	DuplicateRatio   float64            `json:"duplicate_ratio"`
}

// RecommendMaintenance inspects history staleness, size and duplication.
func (s *Store) RecommendMaintenance(ctx context.Context) (Recommendation, error) {
	h, err := s.GetDetectionHistory(ctx)
	if err != nil {
		return Recommendation{}, err
	}
	return s.recommend(h), nil
}

func (s *Store) recommend(h History) Recommendation {
	var rec Recommendation
	n := len(h.Detections)
	if n == 0 {
		return rec
	}
	rec.OldestAge = s.now().Sub(h.Detections[0].Time())
	rec.SizeRatio = float64(n) / float64(s.limit)
	rec.DuplicateRatio = float64(n-len(dedupe(h.Detections, s.dupWindow))) / float64(n)

	if rec.OldestAge > StaleAfter {
		rec.Reasons = append(rec.Reasons, fmt.Sprintf("oldest record is %d days old", int(rec.OldestAge.Hours()/24)))
		rec.Options.MaxAge = StaleAfter
	}
	if rec.SizeRatio > SizeWarningRatio {
		rec.Reasons = append(rec.Reasons, fmt.Sprintf("history is %.0f%% of its limit", rec.SizeRatio*100))
		rec.Options.MaxSize = s.limit / 2
	}
	if rec.DuplicateRatio > DuplicateWarnRatio {
		rec.Reasons = append(rec.Reasons, fmt.Sprintf("%.0f%% of records are duplicates", rec.DuplicateRatio*100))
		rec.Options.RemoveDuplicates = true
	}
	rec.NeedsMaintenance = len(rec.Reasons) > 0
	rec.Options.Backup = rec.NeedsMaintenance
	return rec
}

// MaintenanceReport summarizes a PerformMaintenance run.
type MaintenanceReport struct {
	Before            int            `json:"before"`
	After             int            `json:"after"`
	ExpiredRemoved    int            `json:"expired_removed"`
	DuplicatesRemoved int            `json:"duplicates_removed"`
	TrimmedRemoved    int            `json:"trimmed_removed"`
	BackupID          string         `json:"backup_id,omitempty"`
	Recommendation    Recommendation `json:"recommendation"`
	Duration          time.Duration  `json:"duration"`
}

// PerformMaintenance runs the selected cleanup steps. With nil opts the
// recommended steps run. A backup, when requested, is taken first.
func (s *Store) PerformMaintenance(ctx context.Context, opts *MaintenanceOptions) (MaintenanceReport, error) {
	start := time.Now()
	rec, err := s.RecommendMaintenance(ctx)
	if err != nil {
		return MaintenanceReport{}, err
	}
	if opts == nil {
		opts = &rec.Options
	}
	h, err := s.GetDetectionHistory(ctx)
	if err != nil {
		return MaintenanceReport{}, err
	}
	report := MaintenanceReport{Before: len(h.Detections), Recommendation: rec}

	if opts.Backup {
		b, err := s.CreateBackup(ctx)
		if err != nil {
			return report, err
		}
		report.BackupID = b.ID
	}
	if opts.MaxAge > 0 {
		if report.ExpiredRemoved, err = s.CleanupExpiredDetections(ctx, opts.MaxAge); err != nil {
			return report, err
		}
	}
	if opts.RemoveDuplicates {
		if report.DuplicatesRemoved, err = s.CleanupDuplicateDetections(ctx); err != nil {
			return report, err
		}
	}
	if opts.MaxSize > 0 {
		if report.TrimmedRemoved, err = s.LimitHistorySize(ctx, opts.MaxSize); err != nil {
			return report, err
		}
	}

	h, err = s.GetDetectionHistory(ctx)
	if err != nil {
		return report, err
	}
	report.After = len(h.Detections)
	report.Duration = time.Since(start)
	s.log.V(1).Info("maintenance finished", "before", report.Before, "after", report.After)
	return report, nil
}
