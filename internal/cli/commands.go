package cli

import (
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/colthorp/localekit-go/internal/cache"
	"github.com/colthorp/localekit-go/internal/detect"
	"github.com/colthorp/localekit-go/internal/httpapi"
	"github.com/colthorp/localekit-go/internal/locale"
	"github.com/colthorp/localekit-go/internal/output"
	"github.com/colthorp/localekit-go/internal/prefs"
)

// signalFlags are the detection inputs shared by detect and resolve.
type signalFlags struct {
	languages []string
	timezone  string
	ip        string
	lat, lon  float64
	country   string
	requested string
}

func (f *signalFlags) register(cmd *cobra.Command) {
	cmd.Flags().StringSliceVar(&f.languages, "languages", nil, "Language tags in preference order (default: LANGUAGE/LC_ALL/LANG)")
	cmd.Flags().StringVar(&f.timezone, "timezone", "", "IANA timezone (default: TZ or the system zone)")
	cmd.Flags().StringVar(&f.ip, "ip", "", "Client IP for the country lookup (default: this machine)")
	cmd.Flags().Float64Var(&f.lat, "lat", 0, "Device latitude")
	cmd.Flags().Float64Var(&f.lon, "lon", 0, "Device longitude")
	cmd.Flags().StringVar(&f.country, "country", "", "Device country code, skipping reverse geocoding")
	cmd.Flags().StringVar(&f.requested, "lang", "", "Explicit locale choice for this run")
}

func (f *signalFlags) environment(cmd *cobra.Command) detect.Environment {
	env := detect.Environment{
		Languages: detect.EnvLanguages{},
		Timezone:  detect.LocalTimezone{},
		ClientIP:  f.ip,
		Requested: f.requested,
	}
	if len(f.languages) > 0 {
		env.Languages = detect.StaticLanguages(f.languages)
	}
	if f.timezone != "" {
		env.Timezone = detect.StaticTimezone(f.timezone)
	}
	if f.country != "" || cmd.Flags().Changed("lat") || cmd.Flags().Changed("lon") {
		env.Geolocation = detect.StaticPosition{Position: detect.Position{
			Latitude:    f.lat,
			Longitude:   f.lon,
			CountryCode: f.country,
		}}
	}
	return env
}

func addDetectCommands(root *cobra.Command, a *app) {
	var sig signalFlags
	var strategy string
	var record bool

	detectCmd := &cobra.Command{
		Use:   "detect",
		Short: "Detect the locale from the local environment",
		Long: `Runs locale detection against the local environment and any signal flags.

The smart strategy fuses every available signal; the best strategy takes the
first available one in the order stored, override, geolocation, browser.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx := cmd.Context()
			e, err := a.engine(ctx)
			if err != nil {
				return err
			}
			d := e.Detector(sig.environment(cmd))

			start := time.Now()
			var res detect.Result
			switch strategy {
			case "smart":
				res, err = d.DetectSmartLocale(ctx)
			case "best":
				res, err = d.DetectBestLocale(ctx)
			default:
				return fmt.Errorf("unknown strategy %q (expected smart or best)", strategy)
			}
			if err != nil {
				return err
			}
			if record {
				_, err := e.Prefs().AddDetectionRecord(ctx, res.Locale, res.Source, res.Confidence, &prefs.RecordMeta{
					Duration:   time.Since(start),
					Attributes: map[string]string{"strategy": res.Details.Strategy},
				})
				if err != nil {
					a.log.Error(err, "recording detection failed")
				}
			}
			a.emit(cmd, res, func(w io.Writer) { output.PrintDetection(w, res) })
			return nil
		},
	}
	sig.register(detectCmd)
	detectCmd.Flags().StringVar(&strategy, "strategy", "smart", "Detection strategy: smart or best")
	detectCmd.Flags().BoolVar(&record, "record", true, "Append the result to the detection history")
	root.AddCommand(detectCmd)

	var resolveSig signalFlags
	resolveCmd := &cobra.Command{
		Use:   "resolve",
		Short: "Detect the locale, load its messages and record the outcome",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			e, err := a.engine(cmd.Context())
			if err != nil {
				return err
			}
			res, err := e.Resolve(cmd.Context(), resolveSig.environment(cmd))
			if err != nil && res.Locale == "" {
				return err
			}
			a.emit(cmd, res, func(w io.Writer) {
				output.PrintDetection(w, res.Detection)
				fmt.Fprintln(w)
				name := string(res.Locale)
				if res.Fallback {
					name += " (fallback)"
				}
				output.PrintBundleSummary(w, name, res.Messages)
			})
			return err
		},
	}
	resolveSig.register(resolveCmd)
	root.AddCommand(resolveCmd)
}

func addMessagesCommands(root *cobra.Command, a *app) {
	messagesCmd := &cobra.Command{
		Use:   "messages",
		Short: "Inspect and warm the translation cache",
	}

	getCmd := &cobra.Command{
		Use:   "get <locale> [key]",
		Short: "Print a locale's bundle, or a single message",
		Args:  cobra.RangeArgs(1, 2),
		RunE: func(cmd *cobra.Command, args []string) error {
			e, err := a.engine(cmd.Context())
			if err != nil {
				return err
			}
			l, ok := e.Locales().Parse(args[0])
			if !ok {
				return fmt.Errorf("%w: %q", cache.ErrUnknownLocale, args[0])
			}
			b, err := e.Cache().GetMessages(cmd.Context(), l)
			if err != nil {
				return err
			}
			if len(args) == 2 {
				msg, found := b.Lookup(args[1])
				if !found {
					return fmt.Errorf("no message %q in %s", args[1], l)
				}
				fmt.Fprintln(cmd.OutOrStdout(), msg)
				return nil
			}
			a.emit(cmd, b, nil)
			return nil
		},
	}

	var all bool
	preloadCmd := &cobra.Command{
		Use:   "preload [locale...]",
		Short: "Load bundles into the cache (default: warm up the default and likely locales)",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			e, err := a.engine(ctx)
			if err != nil {
				return err
			}
			c := e.Cache()
			switch {
			case all:
				a.progress("Preloading every supported locale…")
				c.PreloadAllMessages(ctx)
			case len(args) > 0:
				for _, arg := range args {
					l, ok := e.Locales().Parse(arg)
					if !ok {
						return fmt.Errorf("%w: %q", cache.ErrUnknownLocale, arg)
					}
					c.PreloadMessages(ctx, l)
				}
			default:
				a.progress("Warming up the cache…")
				select {
				case <-c.WarmupCache(ctx):
				case <-ctx.Done():
					return ctx.Err()
				}
			}
			stats, metrics := c.GetCacheStats(), c.GetMetrics()
			a.emit(cmd, map[string]any{"stats": stats, "metrics": metrics}, func(w io.Writer) {
				output.PrintCacheStats(w, stats, metrics)
			})
			return nil
		},
	}
	preloadCmd.Flags().BoolVar(&all, "all", false, "Preload every supported locale")

	statsCmd := &cobra.Command{
		Use:   "stats",
		Short: "Show cache contents and metrics",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			e, err := a.engine(cmd.Context())
			if err != nil {
				return err
			}
			stats, metrics := e.Cache().GetCacheStats(), e.Cache().GetMetrics()
			a.emit(cmd, map[string]any{"stats": stats, "metrics": metrics}, func(w io.Writer) {
				output.PrintCacheStats(w, stats, metrics)
			})
			return nil
		},
	}

	clearCmd := &cobra.Command{
		Use:   "clear",
		Short: "Empty the cache and its persisted snapshot",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			e, err := a.engine(cmd.Context())
			if err != nil {
				return err
			}
			e.Cache().Clear(cmd.Context())
			a.progress("Cache cleared.")
			return nil
		},
	}

	messagesCmd.AddCommand(getCmd, preloadCmd, statsCmd, clearCmd)
	root.AddCommand(messagesCmd)
}

func addOverrideCommands(root *cobra.Command, a *app) {
	overrideCmd := &cobra.Command{
		Use:   "override",
		Short: "Manage the manual locale override",
	}

	setCmd := &cobra.Command{
		Use:   "set <locale>",
		Short: "Pin the locale regardless of detected signals",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			e, err := a.engine(cmd.Context())
			if err != nil {
				return err
			}
			l := locale.Locale(strings.ToLower(strings.TrimSpace(args[0])))
			if err := e.Prefs().SetUserOverride(cmd.Context(), l); err != nil {
				return err
			}
			a.emit(cmd, map[string]any{"locale": l}, func(w io.Writer) {
				fmt.Fprintf(w, "Override set to %s\n", l)
			})
			return nil
		},
	}

	showCmd := &cobra.Command{
		Use:   "show",
		Short: "Show the override and the stored preference",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx := cmd.Context()
			e, err := a.engine(ctx)
			if err != nil {
				return err
			}
			l, hasOverride, err := e.Prefs().GetUserOverride(ctx)
			if err != nil {
				return err
			}
			pref, hasPref, err := e.Prefs().GetUserPreference(ctx)
			if err != nil {
				return err
			}
			out := map[string]any{}
			if hasOverride {
				out["override"] = l
			}
			if hasPref {
				out["preference"] = pref
			}
			a.emit(cmd, out, func(w io.Writer) {
				if hasOverride {
					fmt.Fprintf(w, "Override:   %s\n", l)
				} else {
					fmt.Fprintln(w, "Override:   none")
				}
				if hasPref {
					fmt.Fprintf(w, "Preference: %s (%s, confidence %.3f)\n", pref.Locale, pref.Source, pref.Confidence)
				} else {
					fmt.Fprintln(w, "Preference: none")
				}
			})
			return nil
		},
	}

	clearCmd := &cobra.Command{
		Use:   "clear",
		Short: "Remove the override",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			e, err := a.engine(cmd.Context())
			if err != nil {
				return err
			}
			if err := e.Prefs().ClearUserOverride(cmd.Context()); err != nil {
				return err
			}
			a.progress("Override cleared.")
			return nil
		},
	}

	overrideCmd.AddCommand(setCmd, showCmd, clearCmd)
	root.AddCommand(overrideCmd)
}

func addServeCommand(root *cobra.Command, a *app) {
	var addr string
	var trustProxy, warmup bool
	serveCmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve locale negotiation and bundles over HTTP",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx := cmd.Context()
			e, err := a.engine(ctx)
			if err != nil {
				return err
			}
			if warmup {
				e.Cache().WarmupCache(ctx)
			}
			srv := httpapi.New(e, httpapi.Options{Addr: addr, TrustProxy: trustProxy, Logger: a.log})
			return srv.ListenAndServe(ctx)
		},
	}
	serveCmd.Flags().StringVar(&addr, "addr", "127.0.0.1:8080", "Listen address")
	serveCmd.Flags().BoolVar(&trustProxy, "trust-proxy", false, "Take the client address from X-Forwarded-For")
	serveCmd.Flags().BoolVar(&warmup, "warmup", true, "Warm up the cache in the background on start")
	root.AddCommand(serveCmd)
}
