// Package cli implements the localekit command-line interface.
package cli

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-logr/logr"
	"github.com/spf13/cobra"

	"github.com/colthorp/localekit-go/internal/core"
	"github.com/colthorp/localekit-go/internal/engine"
	"github.com/colthorp/localekit-go/internal/output"
	"github.com/colthorp/localekit-go/internal/telemetry"
)

// app carries per-invocation state shared by every subcommand.
type app struct {
	// Global flags
	verbose       bool
	quiet         bool
	format        string
	storage       string
	storagePath   string
	defaultLocale string
	locales       []string
	cacheSize     int
	cacheTTL      time.Duration
	noGeo         bool
	messagesDir   string
	messagesURL   string
	otelEndpoint  string

	cfg      *core.Config
	log      logr.Logger
	eng      *engine.Engine
	shutdown telemetry.Shutdown
	now      func() time.Time

	// engineOpts and newLogger let tests inject backends.
	engineOpts engine.Options
	newLogger  func(verbose bool) logr.Logger
}

// Execute runs the root command until it finishes or the process is
// interrupted.
func Execute() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	if err := newRootCmd(&app{}).ExecuteContext(ctx); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func newRootCmd(a *app) *cobra.Command {
	if a.now == nil {
		a.now = time.Now
	}
	if a.newLogger == nil {
		a.newLogger = core.NewLogger
	}
	rootCmd := &cobra.Command{
		Use:               "localekit",
		Short:             "localekit – locale detection and translation cache",
		Long:              `Detects the locale a visitor should see from weighted signals and serves cached translation bundles.`,
		Version:           core.Version,
		SilenceUsage:      true,
		PersistentPreRunE: a.setup,
		PersistentPostRunE: func(cmd *cobra.Command, _ []string) error {
			return a.teardown(cmd.Context())
		},
	}

	pf := rootCmd.PersistentFlags()
	pf.BoolVarP(&a.verbose, "verbose", "v", false, "Verbose debug output to stderr")
	pf.BoolVar(&a.quiet, "quiet", false, "Suppress progress messages")
	pf.StringVarP(&a.format, "format", "o", string(output.FormatAuto), "Output format: auto, json or text")
	pf.StringVar(&a.storage, "storage", "", "Storage backend: memory, file or sqlite")
	pf.StringVar(&a.storagePath, "storage-path", "", "Storage location (directory for file, database for sqlite)")
	pf.StringVar(&a.defaultLocale, "default-locale", "", "Default locale")
	pf.StringSliceVar(&a.locales, "locales", nil, "Supported locales")
	pf.IntVar(&a.cacheSize, "cache-size", 0, "Translation cache capacity")
	pf.DurationVar(&a.cacheTTL, "cache-ttl", 0, "Translation cache entry lifetime")
	pf.BoolVar(&a.noGeo, "no-geo", false, "Disable network geolocation")
	pf.StringVar(&a.messagesDir, "messages-dir", "", "Load bundles from <dir>/<locale>.json")
	pf.StringVar(&a.messagesURL, "messages-url", "", "Load bundles from <url>/<locale>.json")
	pf.StringVar(&a.otelEndpoint, "otel-endpoint", "", "OTLP/HTTP endpoint for traces")

	addDetectCommands(rootCmd, a)
	addMessagesCommands(rootCmd, a)
	addOverrideCommands(rootCmd, a)
	addHistoryCommands(rootCmd, a)
	addServeCommand(rootCmd, a)
	addMCPCommand(rootCmd, a)
	return rootCmd
}

// setup layers flags over LOCALEKIT_* environment configuration.
func (a *app) setup(cmd *cobra.Command, _ []string) error {
	cfg, err := core.LoadConfig()
	if err != nil {
		return err
	}
	flags := cmd.Flags()
	if flags.Changed("verbose") {
		cfg.Verbose = a.verbose
	}
	if flags.Changed("storage") {
		cfg.StorageBackend = a.storage
		if !flags.Changed("storage-path") {
			cfg.StoragePath = ""
		}
	}
	if flags.Changed("storage-path") {
		cfg.StoragePath = a.storagePath
	}
	if flags.Changed("default-locale") {
		cfg.DefaultLocale = a.defaultLocale
	}
	if flags.Changed("locales") {
		cfg.SupportedLocales = a.locales
	}
	if flags.Changed("cache-size") {
		cfg.CacheSize = a.cacheSize
	}
	if flags.Changed("cache-ttl") {
		cfg.CacheTTL = a.cacheTTL
	}
	if flags.Changed("no-geo") {
		cfg.GeoEnabled = !a.noGeo
	}
	if flags.Changed("messages-dir") {
		cfg.MessagesDir = a.messagesDir
	}
	if flags.Changed("messages-url") {
		cfg.MessagesURL = a.messagesURL
	}
	if flags.Changed("otel-endpoint") {
		cfg.OTELEndpoint = a.otelEndpoint
	}
	if err := cfg.Finalize(); err != nil {
		return err
	}
	a.cfg = cfg
	a.log = a.newLogger(cfg.Verbose)

	shutdown, err := telemetry.Setup(cmd.Context(), "localekit", cfg.OTELEndpoint)
	if err != nil {
		a.log.Error(err, "tracing disabled")
	}
	a.shutdown = shutdown
	return nil
}

func (a *app) teardown(ctx context.Context) error {
	var err error
	if a.eng != nil {
		err = a.eng.Close()
		a.eng = nil
	}
	if a.shutdown != nil {
		if serr := a.shutdown(context.WithoutCancel(ctx)); serr != nil {
			a.log.V(1).Info("flushing traces failed", "error", serr.Error())
		}
	}
	return err
}

// engine builds the engine on first use.
func (a *app) engine(ctx context.Context) (*engine.Engine, error) {
	if a.eng != nil {
		return a.eng, nil
	}
	opts := a.engineOpts
	opts.Logger = a.log
	if opts.Now == nil {
		opts.Now = a.now
	}
	e, err := engine.New(ctx, a.cfg, opts)
	if err != nil {
		return nil, err
	}
	a.eng = e
	return e, nil
}

func (a *app) progress(msg string) {
	core.ProgressPrint(msg, a.quiet)
}

// emit writes v as JSON or through text, depending on --format.
func (a *app) emit(cmd *cobra.Command, v any, text func(io.Writer)) {
	w := cmd.OutOrStdout()
	format := output.Format(a.format)
	if f, ok := w.(*os.File); ok {
		format = format.Resolve(f)
	} else if format == output.FormatAuto {
		format = output.FormatJSON
	}
	if format == output.FormatJSON || text == nil {
		output.PrintJSON(w, v)
		return
	}
	text(w)
}

func (a *app) width(cmd *cobra.Command) int {
	if f, ok := cmd.OutOrStdout().(*os.File); ok {
		return output.Width(f)
	}
	return 100
}
