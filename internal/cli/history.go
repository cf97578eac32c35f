package cli

import (
	"fmt"
	"io"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/colthorp/localekit-go/internal/core"
	"github.com/colthorp/localekit-go/internal/locale"
	"github.com/colthorp/localekit-go/internal/output"
	"github.com/colthorp/localekit-go/internal/prefs"
)

func addHistoryCommands(root *cobra.Command, a *app) {
	historyCmd := &cobra.Command{
		Use:   "history",
		Short: "Inspect and maintain the detection history",
	}

	printRecords := func(cmd *cobra.Command, records []prefs.Record) {
		a.emit(cmd, records, func(w io.Writer) {
			output.PrintRecords(w, records, a.now(), a.width(cmd))
		})
	}

	var listLimit int
	listCmd := &cobra.Command{
		Use:   "list",
		Short: "List recent detections, newest first",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			e, err := a.engine(cmd.Context())
			if err != nil {
				return err
			}
			records, err := e.Prefs().GetRecentDetections(cmd.Context(), listLimit)
			if err != nil {
				return err
			}
			printRecords(cmd, records)
			return nil
		},
	}
	listCmd.Flags().IntVarP(&listLimit, "limit", "n", 20, "Number of records")

	var q struct {
		locale, source, operation string
		since, until, period, tz  string
		minConf, maxConf          float64
		succeeded, failed         bool
		limit                     int
	}
	queryCmd := &cobra.Command{
		Use:   "query",
		Short: "Filter detections",
		Long: `Filter detections by locale, source, confidence, time and outcome.

--since and --until accept YYYY-MM-DD, M/D, relative forms such as d-7 or
h-12, and most other date formats. --period selects a named range (today,
yesterday, this-week, last-week, this-month, last-month) instead. Dates are
read in --tz.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			query := prefs.Query{
				Locale:    locale.Locale(q.locale),
				Source:    locale.Source(q.source),
				Operation: q.operation,
				Limit:     q.limit,
			}
			loc, ok := core.GetTZ(q.tz)
			if !ok {
				return fmt.Errorf("unknown timezone %q", q.tz)
			}
			now := a.now().In(loc)
			var err error
			if q.period != "" {
				if q.since != "" || q.until != "" {
					return fmt.Errorf("--period cannot be combined with --since or --until")
				}
				start, end, err := core.GetTimeRange(q.period, now)
				if err != nil {
					return err
				}
				query.Since, query.Until = start, end
			}
			if q.since != "" {
				if query.Since, err = core.ParseDateSpec(q.since, now); err != nil {
					return err
				}
			}
			if q.until != "" {
				if query.Until, err = core.ParseDateSpec(q.until, now); err != nil {
					return err
				}
			}
			if cmd.Flags().Changed("min-confidence") {
				query.MinConfidence = &q.minConf
			}
			if cmd.Flags().Changed("max-confidence") {
				query.MaxConfidence = &q.maxConf
			}
			switch {
			case q.succeeded && q.failed:
				return fmt.Errorf("--succeeded and --failed are mutually exclusive")
			case q.succeeded:
				ok := true
				query.Success = &ok
			case q.failed:
				ok := false
				query.Success = &ok
			}

			e, err := a.engine(cmd.Context())
			if err != nil {
				return err
			}
			records, err := e.Prefs().QueryDetections(cmd.Context(), query)
			if err != nil {
				return err
			}
			printRecords(cmd, records)
			return nil
		},
	}
	qf := queryCmd.Flags()
	qf.StringVar(&q.locale, "locale", "", "Only this locale")
	qf.StringVar(&q.source, "source", "", "Only this source")
	qf.StringVar(&q.operation, "operation", "", "Only this operation")
	qf.StringVar(&q.since, "since", "", "Earliest timestamp")
	qf.StringVar(&q.until, "until", "", "Latest timestamp")
	qf.StringVar(&q.period, "period", "", "Named range such as today or last-week")
	qf.StringVar(&q.tz, "tz", core.DefaultTZ, "Timezone for dates and periods")
	qf.Float64Var(&q.minConf, "min-confidence", 0, "Minimum confidence")
	qf.Float64Var(&q.maxConf, "max-confidence", 1, "Maximum confidence")
	qf.BoolVar(&q.succeeded, "succeeded", false, "Only successful detections")
	qf.BoolVar(&q.failed, "failed", false, "Only failed detections")
	qf.IntVarP(&q.limit, "limit", "n", 0, "Keep only the most recent N matches")

	searchCmd := &cobra.Command{
		Use:   "search <term>",
		Short: "Search detections by locale, source, operation or metadata",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			e, err := a.engine(cmd.Context())
			if err != nil {
				return err
			}
			records, err := e.Prefs().SearchDetections(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			printRecords(cmd, records)
			return nil
		},
	}

	statsCmd := &cobra.Command{
		Use:   "stats",
		Short: "Aggregate statistics",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			e, err := a.engine(cmd.Context())
			if err != nil {
				return err
			}
			stats, err := e.Prefs().GetDetectionStats(cmd.Context())
			if err != nil {
				return err
			}
			a.emit(cmd, stats, func(w io.Writer) { output.PrintStats(w, stats, a.now()) })
			return nil
		},
	}

	var by string
	groupsCmd := &cobra.Command{
		Use:   "groups",
		Short: "Statistics grouped by locale or source",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			e, err := a.engine(cmd.Context())
			if err != nil {
				return err
			}
			var groups []prefs.GroupStats
			switch by {
			case "locale":
				groups, err = e.Prefs().GetLocaleGroupStats(cmd.Context())
			case "source":
				groups, err = e.Prefs().GetSourceGroupStats(cmd.Context())
			default:
				return fmt.Errorf("unknown grouping %q (expected locale or source)", by)
			}
			if err != nil {
				return err
			}
			a.emit(cmd, groups, func(w io.Writer) { output.PrintGroups(w, by, groups, a.now()) })
			return nil
		},
	}
	groupsCmd.Flags().StringVar(&by, "by", "locale", "Group by locale or source")

	var days int
	trendsCmd := &cobra.Command{
		Use:   "trends",
		Short: "Daily detection counts with a linear projection",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			e, err := a.engine(cmd.Context())
			if err != nil {
				return err
			}
			trends, err := e.Prefs().GetDetectionTrends(cmd.Context(), days)
			if err != nil {
				return err
			}
			a.emit(cmd, trends, func(w io.Writer) { output.PrintTrends(w, trends) })
			return nil
		},
	}
	trendsCmd.Flags().IntVar(&days, "days", 7, "Days of history to analyse")

	insightsCmd := &cobra.Command{
		Use:   "insights",
		Short: "Observations about detection quality and history health",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			e, err := a.engine(cmd.Context())
			if err != nil {
				return err
			}
			insights, err := e.Prefs().GenerateHistoryInsights(cmd.Context())
			if err != nil {
				return err
			}
			a.emit(cmd, insights, func(w io.Writer) { output.PrintInsights(w, insights) })
			return nil
		},
	}

	var exportFile string
	exportCmd := &cobra.Command{
		Use:   "export",
		Short: "Write the history as JSON",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			e, err := a.engine(cmd.Context())
			if err != nil {
				return err
			}
			data, err := e.Prefs().ExportHistory(cmd.Context())
			if err != nil {
				return err
			}
			if exportFile == "" || exportFile == "-" {
				_, err = fmt.Fprintln(cmd.OutOrStdout(), string(data))
				return err
			}
			if err := os.WriteFile(exportFile, data, 0o644); err != nil {
				return err
			}
			a.progress(fmt.Sprintf("Exported history to %s", exportFile))
			return nil
		},
	}
	exportCmd.Flags().StringVarP(&exportFile, "file", "f", "", "Output file (default stdout)")

	var merge bool
	importCmd := &cobra.Command{
		Use:   "import <file>",
		Short: "Load a history export",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			data, err := os.ReadFile(args[0])
			if err != nil {
				return err
			}
			e, err := a.engine(cmd.Context())
			if err != nil {
				return err
			}
			n, err := e.Prefs().ImportHistory(cmd.Context(), data, merge)
			if err != nil {
				return err
			}
			a.emit(cmd, map[string]int{"imported": n}, func(w io.Writer) {
				fmt.Fprintf(w, "Imported %d records\n", n)
			})
			return nil
		},
	}
	importCmd.Flags().BoolVar(&merge, "merge", false, "Merge with the existing history instead of replacing it")

	backupCmd := &cobra.Command{
		Use:   "backup",
		Short: "Snapshot preference, override and history",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			e, err := a.engine(cmd.Context())
			if err != nil {
				return err
			}
			b, err := e.Prefs().CreateBackup(cmd.Context())
			if err != nil {
				return err
			}
			a.emit(cmd, map[string]any{"id": b.ID, "created_at": b.CreatedAt, "records": len(b.History.Detections)}, func(w io.Writer) {
				fmt.Fprintf(w, "Backup %s (%d records)\n", b.ID, len(b.History.Detections))
			})
			return nil
		},
	}

	restoreCmd := &cobra.Command{
		Use:   "restore",
		Short: "Restore the last backup",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			e, err := a.engine(cmd.Context())
			if err != nil {
				return err
			}
			b, err := e.Prefs().RestoreFromBackup(cmd.Context())
			if err != nil {
				return err
			}
			a.emit(cmd, map[string]any{"id": b.ID, "records": len(b.History.Detections)}, func(w io.Writer) {
				fmt.Fprintf(w, "Restored backup %s (%d records)\n", b.ID, len(b.History.Detections))
			})
			return nil
		},
	}

	var m prefs.MaintenanceOptions
	maintainCmd := &cobra.Command{
		Use:   "maintain",
		Short: "Clean up the history (default: the recommended steps)",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			e, err := a.engine(cmd.Context())
			if err != nil {
				return err
			}
			var opts *prefs.MaintenanceOptions
			f := cmd.Flags()
			if f.Changed("max-age") || f.Changed("dedupe") || f.Changed("max-size") || f.Changed("backup") {
				opts = &m
			}
			report, err := e.Prefs().PerformMaintenance(cmd.Context(), opts)
			if err != nil {
				return err
			}
			a.emit(cmd, report, func(w io.Writer) { output.PrintMaintenance(w, report) })
			return nil
		},
	}
	maintainCmd.Flags().DurationVar(&m.MaxAge, "max-age", 0, "Remove records older than this")
	maintainCmd.Flags().BoolVar(&m.RemoveDuplicates, "dedupe", false, "Remove near-duplicate records")
	maintainCmd.Flags().IntVar(&m.MaxSize, "max-size", 0, "Keep at most this many records")
	maintainCmd.Flags().BoolVar(&m.Backup, "backup", false, "Back up before changing anything")

	var maxAge time.Duration
	var dedupe bool
	cleanupCmd := &cobra.Command{
		Use:   "cleanup",
		Short: "Remove expired and optionally duplicate records",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			e, err := a.engine(cmd.Context())
			if err != nil {
				return err
			}
			expired, err := e.Prefs().CleanupExpiredDetections(cmd.Context(), maxAge)
			if err != nil {
				return err
			}
			dupes := 0
			if dedupe {
				if dupes, err = e.Prefs().CleanupDuplicateDetections(cmd.Context()); err != nil {
					return err
				}
			}
			a.emit(cmd, map[string]int{"expired": expired, "duplicates": dupes}, func(w io.Writer) {
				fmt.Fprintf(w, "Removed %d expired and %d duplicate records\n", expired, dupes)
			})
			return nil
		},
	}
	cleanupCmd.Flags().DurationVar(&maxAge, "max-age", prefs.StaleAfter, "Age after which records expire")
	cleanupCmd.Flags().BoolVar(&dedupe, "dedupe", false, "Also remove near-duplicates")

	clearCmd := &cobra.Command{
		Use:   "clear",
		Short: "Delete the whole history",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			e, err := a.engine(cmd.Context())
			if err != nil {
				return err
			}
			if err := e.Prefs().ClearHistory(cmd.Context()); err != nil {
				return err
			}
			a.progress("History cleared.")
			return nil
		},
	}

	historyCmd.AddCommand(listCmd, queryCmd, searchCmd, statsCmd, groupsCmd, trendsCmd, insightsCmd,
		exportCmd, importCmd, backupCmd, restoreCmd, maintainCmd, cleanupCmd, clearCmd)
	root.AddCommand(historyCmd)
}
