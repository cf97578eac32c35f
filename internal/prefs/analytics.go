package prefs

import (
	"context"
	"fmt"
	"math"
	"sort"
	"time"

	"github.com/colthorp/localekit-go/internal/core"
	"github.com/colthorp/localekit-go/internal/locale"
)

// Stats summarizes the detection history.
type Stats struct {
	TotalDetections   int                   `json:"total_detections"`
	UniqueLocales     int                   `json:"unique_locales"`
	LocaleCounts      map[locale.Locale]int `json:"locale_counts"`
	SourceCounts      map[locale.Source]int `json:"source_counts"`
	AverageConfidence float64               `json:"average_confidence"`
	SuccessRate       float64               `json:"success_rate"`
	AverageDurationMs float64               `json:"average_duration_ms"`
	MostCommonLocale  locale.Locale         `json:"most_common_locale,omitempty"`
	MostCommonSource  locale.Source         `json:"most_common_source,omitempty"`
	FirstDetection    int64                 `json:"first_detection,omitempty"`
	LastDetection     int64                 `json:"last_detection,omitempty"`
}

// GetDetectionStats computes aggregate statistics over the history.
func (s *Store) GetDetectionStats(ctx context.Context) (Stats, error) {
	h, err := s.GetDetectionHistory(ctx)
	if err != nil {
		return Stats{}, err
	}
	return computeStats(h.Detections), nil
}

func computeStats(records []Record) Stats {
	st := Stats{
		TotalDetections: len(records),
		LocaleCounts:    make(map[locale.Locale]int),
		SourceCounts:    make(map[locale.Source]int),
	}
	if len(records) == 0 {
		return st
	}
	var confSum, durSum float64
	succeeded := 0
	for _, r := range records {
		st.LocaleCounts[r.Locale]++
		st.SourceCounts[r.Source]++
		confSum += r.Confidence
		durSum += float64(r.DurationMs)
		if r.Success {
			succeeded++
		}
	}
	n := float64(len(records))
	st.UniqueLocales = len(st.LocaleCounts)
	st.AverageConfidence = confSum / n
	st.AverageDurationMs = durSum / n
	st.SuccessRate = float64(succeeded) / n
	st.MostCommonLocale = locale.Locale(topKey(st.LocaleCounts))
	st.MostCommonSource = locale.Source(topKey(st.SourceCounts))
	st.FirstDetection = records[0].Timestamp
	st.LastDetection = records[len(records)-1].Timestamp
	return st
}

// topKey returns the key with the highest count, breaking ties by name.
func topKey[K ~string](counts map[K]int) string {
	var best K
	bestN := -1
	for k, n := range counts {
		if n > bestN || (n == bestN && k < best) {
			best, bestN = k, n
		}
	}
	return string(best)
}

// GroupStats describes the records sharing one locale or source.
type GroupStats struct {
	Key               string  `json:"key"`
	Count             int     `json:"count"`
	Percentage        float64 `json:"percentage"`
	AverageConfidence float64 `json:"average_confidence"`
	LastSeen          int64   `json:"last_seen"`
}

// GetLocaleGroupStats groups history by locale, most frequent first.
func (s *Store) GetLocaleGroupStats(ctx context.Context) ([]GroupStats, error) {
	h, err := s.GetDetectionHistory(ctx)
	if err != nil {
		return nil, err
	}
	return groupBy(h.Detections, func(r Record) string { return string(r.Locale) }), nil
}

// GetSourceGroupStats groups history by detection source, most frequent
// first.
func (s *Store) GetSourceGroupStats(ctx context.Context) ([]GroupStats, error) {
	h, err := s.GetDetectionHistory(ctx)
	if err != nil {
		return nil, err
	}
	return groupBy(h.Detections, func(r Record) string { return string(r.Source) }), nil
}

func groupBy(records []Record, key func(Record) string) []GroupStats {
	groups := make(map[string]*GroupStats)
	for _, r := range records {
		k := key(r)
		g, ok := groups[k]
		if !ok {
			g = &GroupStats{Key: k}
			groups[k] = g
		}
		g.Count++
		g.AverageConfidence += r.Confidence
		if r.Timestamp > g.LastSeen {
			g.LastSeen = r.Timestamp
		}
	}
	out := make([]GroupStats, 0, len(groups))
	for _, g := range groups {
		g.AverageConfidence /= float64(g.Count)
		g.Percentage = float64(g.Count) / float64(len(records)) * 100
		out = append(out, *g)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Count != out[j].Count {
			return out[i].Count > out[j].Count
		}
		return out[i].Key < out[j].Key
	})
	return out
}

// DayBucket is one day of detection activity.
type DayBucket struct {
	Date              string  `json:"date"`
	Count             float64 `json:"count"`
	AverageConfidence float64 `json:"average_confidence"`
}

// Trend directions.
const (
	TrendIncreasing = "increasing"
	TrendDecreasing = "decreasing"
	TrendStable     = "stable"
)

// ProjectionDays is how far GetDetectionTrends projects forward.
const ProjectionDays = 7

// Trends holds daily counts for a window with a linear projection.
type Trends struct {
	Days       []DayBucket `json:"days"`
	Slope      float64     `json:"slope"`
	Intercept  float64     `json:"intercept"`
	Direction  string      `json:"direction"`
	Projection []DayBucket `json:"projection"`
}

// GetDetectionTrends buckets the last days days (UTC, ending today) and
// fits a least-squares line through the daily counts.
func (s *Store) GetDetectionTrends(ctx context.Context, days int) (Trends, error) {
	if days <= 0 {
		return Trends{}, &ValidationError{Errors: []string{fmt.Sprintf("days must be positive, got %d", days)}}
	}
	h, err := s.GetDetectionHistory(ctx)
	if err != nil {
		return Trends{}, err
	}

	today := s.now().UTC().Truncate(24 * time.Hour)
	first := today.AddDate(0, 0, -(days - 1))
	buckets := make([]DayBucket, days)
	confSums := make([]float64, days)
	for i := range buckets {
		buckets[i].Date = core.FormatDate(first.AddDate(0, 0, i))
	}
	for _, r := range h.Detections {
		day := r.Time().UTC().Truncate(24 * time.Hour)
		idx := int(day.Sub(first).Hours() / 24)
		if idx < 0 || idx >= days {
			continue
		}
		buckets[idx].Count++
		confSums[idx] += r.Confidence
	}
	for i := range buckets {
		if buckets[i].Count > 0 {
			buckets[i].AverageConfidence = confSums[i] / buckets[i].Count
		}
	}

	t := Trends{Days: buckets}
	t.Slope, t.Intercept = linearFit(buckets)
	switch {
	case t.Slope > 0.1:
		t.Direction = TrendIncreasing
	case t.Slope < -0.1:
		t.Direction = TrendDecreasing
	default:
		t.Direction = TrendStable
	}
	for i := 0; i < ProjectionDays; i++ {
		x := float64(days + i)
		t.Projection = append(t.Projection, DayBucket{
			Date:  core.FormatDate(today.AddDate(0, 0, i+1)),
			Count: math.Max(0, math.Round((t.Intercept+t.Slope*x)*100)/100),
		})
	}
	return t, nil
}

func linearFit(buckets []DayBucket) (slope, intercept float64) {
	n := float64(len(buckets))
	if n < 2 {
		if n == 1 {
			return 0, buckets[0].Count
		}
		return 0, 0
	}
	var sumX, sumY, sumXY, sumXX float64
	for i, b := range buckets {
		x := float64(i)
		sumX += x
		sumY += b.Count
		sumXY += x * b.Count
		sumXX += x * x
	}
	denom := n*sumXX - sumX*sumX
	if denom == 0 {
		return 0, sumY / n
	}
	slope = (n*sumXY - sumX*sumY) / denom
	intercept = (sumY - slope*sumX) / n
	return slope, intercept
}

// Insight severities.
const (
	SeverityInfo    = "info"
	SeverityWarning = "warning"
)

// Insight is one rule-based observation about the history.
type Insight struct {
	Category string `json:"category"`
	Severity string `json:"severity"`
	Message  string `json:"message"`
}

// GenerateHistoryInsights derives observations about success rate,
// response time, peak usage hour and operation mix.
func (s *Store) GenerateHistoryInsights(ctx context.Context) ([]Insight, error) {
	h, err := s.GetDetectionHistory(ctx)
	if err != nil {
		return nil, err
	}
	records := h.Detections
	if len(records) == 0 {
		return []Insight{{Category: "volume", Severity: SeverityInfo, Message: "No detections recorded yet."}}, nil
	}
	st := computeStats(records)
	var out []Insight

	switch {
	case st.SuccessRate < 0.8:
		out = append(out, Insight{"reliability", SeverityWarning,
			fmt.Sprintf("Only %.0f%% of detections succeeded.", st.SuccessRate*100)})
	default:
		out = append(out, Insight{"reliability", SeverityInfo,
			fmt.Sprintf("%.0f%% of detections succeeded.", st.SuccessRate*100)})
	}

	if st.AverageDurationMs > 1000 {
		out = append(out, Insight{"performance", SeverityWarning,
			fmt.Sprintf("Average detection time is slow at %.0fms.", st.AverageDurationMs)})
	} else {
		out = append(out, Insight{"performance", SeverityInfo,
			fmt.Sprintf("Average detection time is %.0fms.", st.AverageDurationMs)})
	}

	var hours [24]int
	for _, r := range records {
		hours[r.Time().UTC().Hour()]++
	}
	peak := 0
	for hr, n := range hours {
		if n > hours[peak] {
			peak = hr
		}
	}
	out = append(out, Insight{"usage", SeverityInfo,
		fmt.Sprintf("Peak usage is around %02d:00 UTC (%d detections).", peak, hours[peak])})

	ops := make(map[string]int)
	for _, r := range records {
		ops[r.Operation]++
	}
	topOp := topKey(ops)
	share := float64(ops[topOp]) / float64(len(records))
	if share > 0.7 && len(ops) > 1 {
		out = append(out, Insight{"operations", SeverityInfo,
			fmt.Sprintf("%q dominates with %.0f%% of detections.", topOp, share*100)})
	} else {
		out = append(out, Insight{"operations", SeverityInfo,
			fmt.Sprintf("%d operation types recorded; most common is %q.", len(ops), topOp)})
	}

	fallbacks := st.SourceCounts[locale.SourceDefault] + st.SourceCounts[locale.SourceFallback]
	if ratio := float64(fallbacks) / float64(len(records)); ratio > 0.3 {
		out = append(out, Insight{"accuracy", SeverityWarning,
			fmt.Sprintf("%.0f%% of detections fell back to the default locale.", ratio*100)})
	}
	if st.AverageConfidence < 0.5 {
		out = append(out, Insight{"accuracy", SeverityWarning,
			fmt.Sprintf("Average confidence is low at %.2f.", st.AverageConfidence)})
	}
	return out, nil
}
