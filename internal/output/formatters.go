// Package output renders engine results for the command line, either as
// JSON or as aligned human-readable text.
package output

import (
	"encoding/json"
	"fmt"
	"io"
	"math"
	"os"
	"sort"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/dustin/go-humanize"
	"golang.org/x/term"

	"github.com/colthorp/localekit-go/internal/cache"
	"github.com/colthorp/localekit-go/internal/detect"
	"github.com/colthorp/localekit-go/internal/prefs"
)

// Format selects the rendering.
type Format string

const (
	FormatAuto Format = "auto"
	FormatJSON Format = "json"
	FormatText Format = "text"
)

// Resolve turns auto into text on a terminal and JSON otherwise.
func (f Format) Resolve(out *os.File) Format {
	if f != FormatAuto && f != "" {
		return f
	}
	if term.IsTerminal(int(out.Fd())) {
		return FormatText
	}
	return FormatJSON
}

// Width returns the terminal width of out, or 100 when it is not a
// terminal.
func Width(out *os.File) int {
	if w, _, err := term.GetSize(int(out.Fd())); err == nil && w > 0 {
		return w
	}
	return 100
}

// PrintJSON prints a single item as formatted JSON.
func PrintJSON(w io.Writer, item any) {
	data, err := json.MarshalIndent(item, "", "  ")
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error encoding JSON: %v\n", err)
		return
	}
	fmt.Fprintln(w, string(data))
}

func table(w io.Writer) *tabwriter.Writer {
	return tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
}

func percent(f float64) string {
	// FtoaWithDigits truncates, so round to one decimal first.
	return humanize.FtoaWithDigits(math.Round(f*1000)/10, 1) + "%"
}

func when(ms int64, now time.Time) string {
	if ms == 0 {
		return "-"
	}
	t := time.UnixMilli(ms)
	return humanize.RelTime(t, now, "ago", "from now")
}

// PrintDetection prints a detection result and its evidence.
func PrintDetection(w io.Writer, res detect.Result) {
	fmt.Fprintf(w, "Locale:     %s\n", res.Locale)
	fmt.Fprintf(w, "Source:     %s\n", res.Source)
	fmt.Fprintf(w, "Confidence: %.3f\n", res.Confidence)
	fmt.Fprintf(w, "Strategy:   %s (%d agreeing, %d dissenting)\n", res.Details.Strategy, res.Details.Agreeing, res.Details.Dissenting)
	if len(res.Details.Signals) == 0 {
		return
	}
	fmt.Fprintln(w)
	tw := table(w)
	fmt.Fprintln(tw, "SIGNAL\tLOCALE\tWEIGHT\tEVIDENCE")
	for _, s := range res.Details.Signals {
		loc := string(s.Locale)
		if !s.Available {
			loc = "-"
		}
		evidence := s.Evidence
		if s.Error != "" {
			evidence = s.Error
		}
		fmt.Fprintf(tw, "%s\t%s\t%.2f\t%s\n", s.Source, loc, s.Weight, evidence)
	}
	tw.Flush()
}

// PrintRecords prints history records as a table, truncating metadata to
// width.
func PrintRecords(w io.Writer, records []prefs.Record, now time.Time, width int) {
	if len(records) == 0 {
		fmt.Fprintln(w, "No detections recorded.")
		return
	}
	tw := table(w)
	fmt.Fprintln(tw, "WHEN\tLOCALE\tSOURCE\tCONF\tOP\tOK\tDETAILS")
	for _, r := range records {
		ok := "yes"
		if !r.Success {
			ok = "no"
		}
		fmt.Fprintf(tw, "%s\t%s\t%s\t%.2f\t%s\t%s\t%s\n",
			when(r.Timestamp, now), r.Locale, r.Source, r.Confidence, r.Operation, ok,
			truncate(metaString(r.Metadata), width/3))
	}
	tw.Flush()
}

func metaString(meta map[string]string) string {
	if len(meta) == 0 {
		return ""
	}
	keys := make([]string, 0, len(meta))
	for k := range meta {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	parts := make([]string, len(keys))
	for i, k := range keys {
		parts[i] = k + "=" + meta[k]
	}
	return strings.Join(parts, " ")
}

func truncate(s string, n int) string {
	if n < 4 || len([]rune(s)) <= n {
		return s
	}
	r := []rune(s)
	return string(r[:n-1]) + "…"
}

// PrintStats prints aggregate history statistics.
func PrintStats(w io.Writer, s prefs.Stats, now time.Time) {
	tw := table(w)
	fmt.Fprintf(tw, "Detections:\t%s\n", humanize.Comma(int64(s.TotalDetections)))
	fmt.Fprintf(tw, "Unique locales:\t%d\n", s.UniqueLocales)
	fmt.Fprintf(tw, "Most common:\t%s via %s\n", orDash(string(s.MostCommonLocale)), orDash(string(s.MostCommonSource)))
	fmt.Fprintf(tw, "Avg confidence:\t%.3f\n", s.AverageConfidence)
	fmt.Fprintf(tw, "Success rate:\t%s\n", percent(s.SuccessRate))
	fmt.Fprintf(tw, "Avg duration:\t%.1f ms\n", s.AverageDurationMs)
	fmt.Fprintf(tw, "First:\t%s\n", when(s.FirstDetection, now))
	fmt.Fprintf(tw, "Last:\t%s\n", when(s.LastDetection, now))
	tw.Flush()
}

// PrintGroups prints per-locale or per-source group statistics.
func PrintGroups(w io.Writer, title string, groups []prefs.GroupStats, now time.Time) {
	tw := table(w)
	fmt.Fprintf(tw, "%s\tCOUNT\tSHARE\tAVG CONF\tLAST SEEN\n", strings.ToUpper(title))
	for _, g := range groups {
		fmt.Fprintf(tw, "%s\t%s\t%s\t%.3f\t%s\n", g.Key, humanize.Comma(int64(g.Count)), percent(g.Percentage/100), g.AverageConfidence, when(g.LastSeen, now))
	}
	tw.Flush()
}

// PrintTrends prints daily counts, the fitted direction and the projection.
func PrintTrends(w io.Writer, t prefs.Trends) {
	fmt.Fprintf(w, "Direction: %s (slope %+.2f/day)\n\n", t.Direction, t.Slope)
	tw := table(w)
	fmt.Fprintln(tw, "DATE\tCOUNT\tAVG CONF\t")
	for _, d := range t.Days {
		fmt.Fprintf(tw, "%s\t%.0f\t%.3f\t\n", d.Date, d.Count, d.AverageConfidence)
	}
	for _, d := range t.Projection {
		fmt.Fprintf(tw, "%s\t%.1f\t-\tprojected\n", d.Date, d.Count)
	}
	tw.Flush()
}

// PrintInsights prints one line per insight.
func PrintInsights(w io.Writer, insights []prefs.Insight) {
	if len(insights) == 0 {
		fmt.Fprintln(w, "No insights.")
		return
	}
	for _, in := range insights {
		fmt.Fprintf(w, "[%s] %s: %s\n", in.Severity, in.Category, in.Message)
	}
}

// PrintMaintenance prints a maintenance report.
func PrintMaintenance(w io.Writer, r prefs.MaintenanceReport) {
	fmt.Fprintf(w, "Records: %d -> %d\n", r.Before, r.After)
	fmt.Fprintf(w, "  expired removed:    %d\n", r.ExpiredRemoved)
	fmt.Fprintf(w, "  duplicates removed: %d\n", r.DuplicatesRemoved)
	fmt.Fprintf(w, "  trimmed:            %d\n", r.TrimmedRemoved)
	if r.BackupID != "" {
		fmt.Fprintf(w, "Backup: %s\n", r.BackupID)
	}
	for _, reason := range r.Recommendation.Reasons {
		fmt.Fprintf(w, "Reason: %s\n", reason)
	}
	fmt.Fprintf(w, "Took %s\n", r.Duration.Round(time.Microsecond))
}

// PrintCacheStats prints cache contents and usage metrics.
func PrintCacheStats(w io.Writer, s cache.Stats, m cache.Metrics) {
	tw := table(w)
	keys := make([]string, len(s.Keys))
	for i, k := range s.Keys {
		keys[i] = string(k)
	}
	fmt.Fprintf(tw, "Entries:\t%d / %d\t%s\n", s.Size, s.MaxSize, strings.Join(keys, ", "))
	fmt.Fprintf(tw, "TTL:\t%s\t\n", s.TTL)
	fmt.Fprintf(tw, "Persistent:\t%t\t\n", s.Persistent)
	fmt.Fprintf(tw, "Hit rate:\t%s\t(%d hits, %d misses)\n", percent(m.CacheHitRate), s.Hits, s.Misses)
	fmt.Fprintf(tw, "Evictions:\t%d\t\n", s.Evictions)
	fmt.Fprintf(tw, "Expirations:\t%d\t\n", s.Expirations)
	fmt.Fprintf(tw, "Coverage:\t%s\t\n", percent(m.TranslationCoverage))
	fmt.Fprintf(tw, "Loads:\t%d\t(avg %s, %d errors)\n", m.LoadCount, m.AverageLoadTime.Round(time.Microsecond), m.ErrorCount)
	tw.Flush()
	if len(m.LocaleUsage) == 0 {
		return
	}
	fmt.Fprintln(w)
	tw = table(w)
	fmt.Fprintln(tw, "LOCALE\tREQUESTS")
	for _, l := range m.MostUsed() {
		fmt.Fprintf(tw, "%s\t%s\n", l, humanize.Comma(m.LocaleUsage[l]))
	}
	tw.Flush()
}

// PrintBundleSummary prints the size and key count of a message bundle.
func PrintBundleSummary(w io.Writer, name string, b cache.Bundle) {
	fmt.Fprintf(w, "%s: %d messages, %s\n", name, b.KeyCount(), humanize.Bytes(uint64(b.Size())))
}

func orDash(s string) string {
	if s == "" {
		return "-"
	}
	return s
}
