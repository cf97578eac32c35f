package prefs

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/colthorp/localekit-go/internal/locale"
	"github.com/colthorp/localekit-go/internal/storage"
)

func TestCleanupExpiredDetections(t *testing.T) {
	ctx := context.Background()
	s, clock := newTestStore(t, storage.NewMemoryStore(), 10)

	_, err := s.AddDetectionRecord(ctx, locale.English, locale.SourceBrowser, 0.7, nil)
	require.NoError(t, err)
	clock.Advance(40 * 24 * time.Hour)
	_, err = s.AddDetectionRecord(ctx, locale.Chinese, locale.SourceBrowser, 0.7, nil)
	require.NoError(t, err)

	removed, err := s.CleanupExpiredDetections(ctx, 30*24*time.Hour)
	require.NoError(t, err)
	assert.Equal(t, 1, removed)

	h, err := s.GetDetectionHistory(ctx)
	require.NoError(t, err)
	assertHistoryInvariant(t, h)
	require.Len(t, h.Detections, 1)
	assert.Equal(t, locale.Chinese, h.Detections[0].Locale)
}

func TestCleanupDuplicateDetections(t *testing.T) {
	ctx := context.Background()
	s, clock := newTestStore(t, storage.NewMemoryStore(), 10)

	steps := []struct {
		locale locale.Locale
		source locale.Source
		after  time.Duration
	}{
		{locale.English, locale.SourceBrowser, 0},
		{locale.English, locale.SourceBrowser, time.Minute},      // duplicate
		{locale.English, locale.SourceGeo, time.Minute},          // different source
		{locale.English, locale.SourceBrowser, 10 * time.Minute}, // outside window
		{locale.Chinese, locale.SourceBrowser, time.Second},
	}
	for _, st := range steps {
		clock.Advance(st.after)
		_, err := s.AddDetectionRecord(ctx, st.locale, st.source, 0.7, nil)
		require.NoError(t, err)
	}

	removed, err := s.CleanupDuplicateDetections(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, removed)

	removed, err = s.CleanupDuplicateDetections(ctx)
	require.NoError(t, err)
	assert.Equal(t, 0, removed)
}

func TestLimitHistorySize(t *testing.T) {
	ctx := context.Background()
	s, _ := newTestStore(t, storage.NewMemoryStore(), 10)
	for i := 0; i < 6; i++ {
		_, err := s.AddDetectionRecord(ctx, locale.English, locale.SourceBrowser, 0.7, nil)
		require.NoError(t, err)
	}

	removed, err := s.LimitHistorySize(ctx, 4)
	require.NoError(t, err)
	assert.Equal(t, 2, removed)

	h, err := s.GetDetectionHistory(ctx)
	require.NoError(t, err)
	assertHistoryInvariant(t, h)
	assert.Len(t, h.Detections, 4)
}

func TestBackupAndRestore(t *testing.T) {
	ctx := context.Background()
	kv := storage.NewMemoryStore()
	s, _ := newTestStore(t, kv, 10)

	_, err := s.RestoreFromBackup(ctx)
	assert.True(t, errors.Is(err, ErrNoBackup))

	_, err = s.SaveUserPreference(ctx, Preference{Locale: locale.Chinese, Source: locale.SourceCombined, Confidence: 0.85})
	require.NoError(t, err)
	require.NoError(t, s.SetUserOverride(ctx, locale.Japanese))
	_, err = s.AddDetectionRecord(ctx, locale.Chinese, locale.SourceCombined, 0.85, nil)
	require.NoError(t, err)

	b, err := s.CreateBackup(ctx)
	require.NoError(t, err)
	assert.NotEmpty(t, b.ID)

	require.NoError(t, s.ClearUserOverride(ctx))
	require.NoError(t, s.ClearHistory(ctx))
	_, err = s.SaveUserPreference(ctx, Preference{Locale: locale.English, Source: locale.SourceBrowser, Confidence: 0.7})
	require.NoError(t, err)

	restored, err := s.RestoreFromBackup(ctx)
	require.NoError(t, err)
	assert.Equal(t, b.ID, restored.ID)

	// A fresh store sees the restored state in the backend.
	s2, _ := newTestStore(t, kv, 10)
	p, found, err := s2.GetUserPreference(ctx)
	require.NoError(t, err)
	require.True(t, found)
	assert.Equal(t, locale.Chinese, p.Locale)
	l, ok, err := s2.GetUserOverride(ctx)
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, locale.Japanese, l)
	h, err := s2.GetDetectionHistory(ctx)
	require.NoError(t, err)
	assert.Len(t, h.Detections, 1)
}

func TestRecommendMaintenance(t *testing.T) {
	ctx := context.Background()
	s, clock := newTestStore(t, storage.NewMemoryStore(), 10)

	rec, err := s.RecommendMaintenance(ctx)
	require.NoError(t, err)
	assert.False(t, rec.NeedsMaintenance)

	for i := 0; i < 9; i++ {
		_, err := s.AddDetectionRecord(ctx, locale.English, locale.SourceBrowser, 0.7, nil)
		require.NoError(t, err)
		clock.Advance(time.Minute)
	}
	rec, err = s.RecommendMaintenance(ctx)
	require.NoError(t, err)
	assert.True(t, rec.NeedsMaintenance)
	assert.Len(t, rec.Reasons, 2)
	assert.InDelta(t, 0.9, rec.SizeRatio, 1e-9)
	assert.True(t, rec.Options.RemoveDuplicates)
	assert.Equal(t, 5, rec.Options.MaxSize)
	assert.Zero(t, rec.Options.MaxAge)

	clock.Advance(31 * 24 * time.Hour)
	rec, err = s.RecommendMaintenance(ctx)
	require.NoError(t, err)
	assert.Len(t, rec.Reasons, 3)
	assert.Equal(t, StaleAfter, rec.Options.MaxAge)
}

func TestPerformMaintenanceUsesRecommendation(t *testing.T) {
	ctx := context.Background()
	s, clock := newTestStore(t, storage.NewMemoryStore(), 10)
	for i := 0; i < 9; i++ {
		_, err := s.AddDetectionRecord(ctx, locale.English, locale.SourceBrowser, 0.7, nil)
		require.NoError(t, err)
		clock.Advance(time.Minute)
	}

	report, err := s.PerformMaintenance(ctx, nil)
	require.NoError(t, err)
	assert.Equal(t, 9, report.Before)
	assert.Equal(t, 7, report.DuplicatesRemoved)
	assert.Equal(t, 2, report.After)
	assert.NotEmpty(t, report.BackupID)

	// The backup holds the pre-maintenance history.
	b, err := s.RestoreFromBackup(ctx)
	require.NoError(t, err)
	assert.Len(t, b.History.Detections, 9)
}

func TestPerformMaintenanceExplicitOptions(t *testing.T) {
	ctx := context.Background()
	s, _ := newTestStore(t, storage.NewMemoryStore(), 10)
	for _, l := range []locale.Locale{locale.English, locale.Chinese, locale.Japanese} {
		_, err := s.AddDetectionRecord(ctx, l, locale.SourceBrowser, 0.7, nil)
		require.NoError(t, err)
	}

	report, err := s.PerformMaintenance(ctx, &MaintenanceOptions{MaxSize: 1})
	require.NoError(t, err)
	assert.Equal(t, 2, report.TrimmedRemoved)
	assert.Equal(t, 1, report.After)
	assert.Empty(t, report.BackupID)
}
