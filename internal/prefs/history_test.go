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

func assertHistoryInvariant(t *testing.T, h History) {
	t.Helper()
	assert.Equal(t, len(h.Detections), h.TotalDetections)
	for i := 1; i < len(h.Detections); i++ {
		assert.LessOrEqual(t, h.Detections[i-1].Timestamp, h.Detections[i].Timestamp,
			"timestamps must be non-decreasing at %d", i)
	}
}

func TestAddDetectionRecordInvariant(t *testing.T) {
	ctx := context.Background()
	s, clock := newTestStore(t, storage.NewMemoryStore(), 3)

	var ids []string
	for i := 0; i < 5; i++ {
		r, err := s.AddDetectionRecord(ctx, locale.English, locale.SourceBrowser, 0.7, nil)
		require.NoError(t, err)
		ids = append(ids, r.ID)
		clock.Advance(time.Second)

		h, err := s.GetDetectionHistory(ctx)
		require.NoError(t, err)
		assertHistoryInvariant(t, h)
	}

	h, err := s.GetDetectionHistory(ctx)
	require.NoError(t, err)
	require.Len(t, h.Detections, 3)
	assert.Equal(t, ids[2:], []string{h.Detections[0].ID, h.Detections[1].ID, h.Detections[2].ID})
	assert.Equal(t, h.Detections[2].Timestamp, h.LastUpdated)
}

func TestAddDetectionRecordClampsBackwardsClock(t *testing.T) {
	ctx := context.Background()
	s, clock := newTestStore(t, storage.NewMemoryStore(), 10)

	first, err := s.AddDetectionRecord(ctx, locale.English, locale.SourceBrowser, 0.7, nil)
	require.NoError(t, err)
	clock.Advance(-time.Hour)
	second, err := s.AddDetectionRecord(ctx, locale.Chinese, locale.SourceGeo, 0.8, nil)
	require.NoError(t, err)

	assert.Equal(t, first.Timestamp, second.Timestamp)
}

func TestAddDetectionRecordDefaults(t *testing.T) {
	ctx := context.Background()
	s, _ := newTestStore(t, storage.NewMemoryStore(), 10)

	r, err := s.AddDetectionRecord(ctx, locale.Japanese, locale.SourceTimezone, 0.6, nil)
	require.NoError(t, err)
	assert.Equal(t, DefaultOperation, r.Operation)
	assert.True(t, r.Success)
	assert.NotEmpty(t, r.ID)

	r, err = s.AddDetectionRecord(ctx, locale.Japanese, locale.SourceTimezone, 0.6, &RecordMeta{
		Operation: "resolve", Duration: 1500 * time.Millisecond, Failed: true,
		Attributes: map[string]string{"ip": "1.2.3.4"},
	})
	require.NoError(t, err)
	assert.Equal(t, "resolve", r.Operation)
	assert.Equal(t, int64(1500), r.DurationMs)
	assert.False(t, r.Success)
	assert.Equal(t, "1.2.3.4", r.Metadata["ip"])
}

func TestAddDetectionRecordRejectsInvalid(t *testing.T) {
	ctx := context.Background()
	kv := storage.NewMemoryStore()
	s, _ := newTestStore(t, kv, 10)

	tests := []struct {
		name       string
		locale     locale.Locale
		source     locale.Source
		confidence float64
	}{
		{"unsupported locale", "fr", locale.SourceBrowser, 0.5},
		{"unknown source", locale.English, "cookie", 0.5},
		{"confidence above one", locale.English, locale.SourceBrowser, 1.2},
		{"negative confidence", locale.English, locale.SourceBrowser, -0.1},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := s.AddDetectionRecord(ctx, tt.locale, tt.source, tt.confidence, nil)
			var verr *ValidationError
			require.True(t, errors.As(err, &verr), "expected ValidationError, got %v", err)
		})
	}

	h, err := s.GetDetectionHistory(ctx)
	require.NoError(t, err)
	assert.Empty(t, h.Detections)
	_, stored := kv.Raw(storage.KeyHistory)
	assert.False(t, stored)
}

// recordCapKV rejects history writes holding more than max records, like a
// backend running out of space.
type recordCapKV struct {
	*storage.MemoryStore
	max int
}

func (k *recordCapKV) SetItem(ctx context.Context, key string, value []byte) error {
	if key == storage.KeyHistory {
		var h History
		if _, err := storage.Decode(value, &h); err == nil && len(h.Detections) > k.max {
			return storage.ErrQuotaExceeded
		}
	}
	return k.MemoryStore.SetItem(ctx, key, value)
}

func TestQuotaRecoveryHalvesHistory(t *testing.T) {
	ctx := context.Background()
	kv := &recordCapKV{MemoryStore: storage.NewMemoryStore(), max: 4}
	s, clock := newTestStore(t, kv, 100)

	var last Record
	for i := 0; i < 5; i++ {
		r, err := s.AddDetectionRecord(ctx, locale.English, locale.SourceBrowser, 0.7, nil)
		require.NoError(t, err)
		last = r
		clock.Advance(time.Second)
	}

	h, err := s.GetDetectionHistory(ctx)
	require.NoError(t, err)
	assertHistoryInvariant(t, h)
	require.Len(t, h.Detections, 2)
	assert.Equal(t, last.ID, h.Detections[1].ID)

	// The persisted copy matches the trimmed history.
	var persisted History
	_, found, err := storage.Load(ctx, kv, storage.KeyHistory, &persisted)
	require.NoError(t, err)
	require.True(t, found)
	assert.Equal(t, 2, persisted.TotalDetections)
}

func TestExportImportRoundTrip(t *testing.T) {
	ctx := context.Background()
	src, clock := newTestStore(t, storage.NewMemoryStore(), 10)
	for i, l := range []locale.Locale{locale.English, locale.Chinese, locale.Japanese} {
		_, err := src.AddDetectionRecord(ctx, l, locale.SourceCombined, 0.85, &RecordMeta{
			Operation:  "resolve",
			Duration:   time.Duration(i+1) * 10 * time.Millisecond,
			Attributes: map[string]string{"n": string(rune('a' + i))},
		})
		require.NoError(t, err)
		clock.Advance(time.Minute)
	}
	want, err := src.GetDetectionHistory(ctx)
	require.NoError(t, err)

	data, err := src.ExportHistory(ctx)
	require.NoError(t, err)

	dst, _ := newTestStore(t, storage.NewMemoryStore(), 10)
	n, err := dst.ImportHistory(ctx, data, false)
	require.NoError(t, err)
	assert.Equal(t, 3, n)

	got, err := dst.GetDetectionHistory(ctx)
	require.NoError(t, err)
	assert.Equal(t, want, got)
}

func TestImportHistoryMergeSkipsKnownIDs(t *testing.T) {
	ctx := context.Background()
	s, _ := newTestStore(t, storage.NewMemoryStore(), 10)
	_, err := s.AddDetectionRecord(ctx, locale.English, locale.SourceBrowser, 0.7, nil)
	require.NoError(t, err)

	data, err := s.ExportHistory(ctx)
	require.NoError(t, err)
	n, err := s.ImportHistory(ctx, data, true)
	require.NoError(t, err)
	assert.Equal(t, 0, n)

	h, err := s.GetDetectionHistory(ctx)
	require.NoError(t, err)
	assert.Len(t, h.Detections, 1)
}

func TestImportHistoryRejectsInvalid(t *testing.T) {
	ctx := context.Background()
	s, _ := newTestStore(t, storage.NewMemoryStore(), 10)

	tests := []struct {
		name string
		data string
	}{
		{"malformed", `{"version":`},
		{"wrong version", `{"version":7,"history":{"detections":[]}}`},
		{"bad record", `{"version":1,"history":{"detections":[{"id":"x","locale":"fr","source":"browser","confidence":0.5,"timestamp":1}]}}`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := s.ImportHistory(ctx, []byte(tt.data), false)
			var verr *ValidationError
			assert.True(t, errors.As(err, &verr), "expected ValidationError, got %v", err)
		})
	}
}

func TestQueryAndSearch(t *testing.T) {
	ctx := context.Background()
	s, clock := newTestStore(t, storage.NewMemoryStore(), 20)
	start := clock.Now()

	add := func(l locale.Locale, src locale.Source, conf float64, meta *RecordMeta) {
		_, err := s.AddDetectionRecord(ctx, l, src, conf, meta)
		require.NoError(t, err)
		clock.Advance(time.Hour)
	}
	add(locale.English, locale.SourceBrowser, 0.7, nil)
	add(locale.Chinese, locale.SourceCombined, 0.85, &RecordMeta{Attributes: map[string]string{"city": "Shanghai"}})
	add(locale.Chinese, locale.SourceGeo, 0.8, &RecordMeta{Operation: "resolve", Failed: true})
	add(locale.English, locale.SourceDefault, 0.3, nil)

	minConf := 0.75
	success := true
	tests := []struct {
		name string
		q    Query
		want int
	}{
		{"all", Query{}, 4},
		{"by locale", Query{Locale: locale.Chinese}, 2},
		{"by source", Query{Source: locale.SourceDefault}, 1},
		{"by confidence", Query{MinConfidence: &minConf}, 2},
		{"by time range", Query{Since: start.Add(time.Hour), Until: start.Add(3 * time.Hour)}, 2},
		{"by operation", Query{Operation: "RESOLVE"}, 1},
		{"successful only", Query{Success: &success}, 3},
		{"limit keeps newest", Query{Limit: 1}, 1},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := s.QueryDetections(ctx, tt.q)
			require.NoError(t, err)
			assert.Len(t, got, tt.want)
		})
	}

	newest, err := s.QueryDetections(ctx, Query{Limit: 1})
	require.NoError(t, err)
	assert.Equal(t, locale.SourceDefault, newest[0].Source)

	found, err := s.SearchDetections(ctx, "shang")
	require.NoError(t, err)
	require.Len(t, found, 1)
	assert.Equal(t, locale.Chinese, found[0].Locale)

	found, err = s.SearchDetections(ctx, "zh")
	require.NoError(t, err)
	assert.Len(t, found, 2)

	found, err = s.SearchDetections(ctx, "  ")
	require.NoError(t, err)
	assert.Empty(t, found)

	recent, err := s.GetRecentDetections(ctx, 2)
	require.NoError(t, err)
	require.Len(t, recent, 2)
	assert.Equal(t, locale.SourceDefault, recent[0].Source)
	assert.Equal(t, locale.SourceGeo, recent[1].Source)
}
