package cli

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/modelcontextprotocol/go-sdk/mcp"
	"github.com/spf13/cobra"

	"github.com/colthorp/localekit-go/internal/cache"
	"github.com/colthorp/localekit-go/internal/core"
	"github.com/colthorp/localekit-go/internal/detect"
	"github.com/colthorp/localekit-go/internal/engine"
	"github.com/colthorp/localekit-go/internal/prefs"
)

// DetectLocaleInput are the parameters for the detect_locale tool.
type DetectLocaleInput struct {
	Languages []string `json:"languages,omitempty" jsonschema:"language tags in preference order"`
	Timezone  string   `json:"timezone,omitempty" jsonschema:"IANA timezone name"`
	IP        string   `json:"ip,omitempty" jsonschema:"client IP for the country lookup"`
	Country   string   `json:"country,omitempty" jsonschema:"device country code"`
	Strategy  string   `json:"strategy,omitempty" jsonschema:"smart (default) or best"`
}

// GetMessagesInput are the parameters for the get_messages tool.
type GetMessagesInput struct {
	Locale string `json:"locale" jsonschema:"locale code or language tag"`
	Key    string `json:"key,omitempty" jsonschema:"dotted message key such as nav.home"`
}

// GetMessagesResult is the get_messages output.
type GetMessagesResult struct {
	Locale   string         `json:"locale"`
	KeyCount int            `json:"key_count"`
	Message  string         `json:"message,omitempty"`
	Messages map[string]any `json:"messages,omitempty"`
}

// CacheStatsResult is the cache_stats output.
type CacheStatsResult struct {
	Stats   cache.Stats   `json:"stats"`
	Metrics cache.Metrics `json:"metrics"`
}

// InsightsResult is the history_insights output.
type InsightsResult struct {
	Insights []prefs.Insight `json:"insights"`
}

type noInput struct{}

func addMCPCommand(root *cobra.Command, a *app) {
	root.AddCommand(&cobra.Command{
		Use:   "mcp",
		Short: "Start an MCP server on stdio exposing detection and cache diagnostics",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			e, err := a.engine(cmd.Context())
			if err != nil {
				return err
			}
			return newMCPServer(e).Run(cmd.Context(), &mcp.StdioTransport{})
		},
	})
}

func newMCPServer(e *engine.Engine) *mcp.Server {
	server := mcp.NewServer(&mcp.Implementation{Name: "localekit", Version: core.Version}, nil)

	mcp.AddTool(server, &mcp.Tool{
		Name:        "detect_locale",
		Description: "Detect the locale for the given signals and explain the decision",
	}, detectLocaleHandler(e))
	mcp.AddTool(server, &mcp.Tool{
		Name:        "get_messages",
		Description: "Return a locale's translation bundle, or one message by key",
	}, getMessagesHandler(e))
	mcp.AddTool(server, &mcp.Tool{
		Name:        "cache_stats",
		Description: "Report translation cache contents and metrics",
	}, func(context.Context, *mcp.CallToolRequest, noInput) (*mcp.CallToolResult, CacheStatsResult, error) {
		return nil, CacheStatsResult{Stats: e.Cache().GetCacheStats(), Metrics: e.Cache().GetMetrics()}, nil
	})
	mcp.AddTool(server, &mcp.Tool{
		Name:        "history_stats",
		Description: "Aggregate statistics over the detection history",
	}, func(ctx context.Context, _ *mcp.CallToolRequest, _ noInput) (*mcp.CallToolResult, prefs.Stats, error) {
		stats, err := e.Prefs().GetDetectionStats(ctx)
		return nil, stats, err
	})
	mcp.AddTool(server, &mcp.Tool{
		Name:        "history_insights",
		Description: "Observations about detection quality and history health",
	}, func(ctx context.Context, _ *mcp.CallToolRequest, _ noInput) (*mcp.CallToolResult, InsightsResult, error) {
		insights, err := e.Prefs().GenerateHistoryInsights(ctx)
		return nil, InsightsResult{Insights: insights}, err
	})
	return server
}

func detectLocaleHandler(e *engine.Engine) mcp.ToolHandlerFor[DetectLocaleInput, detect.Result] {
	return func(ctx context.Context, _ *mcp.CallToolRequest, in DetectLocaleInput) (*mcp.CallToolResult, detect.Result, error) {
		env := detect.Environment{
			Languages:    detect.StaticLanguages(in.Languages),
			ClientIP:     in.IP,
			SkipIPLookup: in.IP == "",
		}
		if in.Timezone != "" {
			env.Timezone = detect.StaticTimezone(in.Timezone)
		}
		if in.Country != "" {
			env.Geolocation = detect.StaticPosition{Position: detect.Position{CountryCode: in.Country}}
		}
		d := e.Detector(env)
		switch in.Strategy {
		case "", "smart":
			res, err := d.DetectSmartLocale(ctx)
			return nil, res, err
		case "best":
			res, err := d.DetectBestLocale(ctx)
			return nil, res, err
		}
		return nil, detect.Result{}, fmt.Errorf("unknown strategy %q", in.Strategy)
	}
}

func getMessagesHandler(e *engine.Engine) mcp.ToolHandlerFor[GetMessagesInput, GetMessagesResult] {
	return func(ctx context.Context, _ *mcp.CallToolRequest, in GetMessagesInput) (*mcp.CallToolResult, GetMessagesResult, error) {
		l, ok := e.Locales().Parse(in.Locale)
		if !ok {
			return nil, GetMessagesResult{}, fmt.Errorf("%w: %q", cache.ErrUnknownLocale, in.Locale)
		}
		b, err := e.Cache().GetMessages(ctx, l)
		if err != nil {
			return nil, GetMessagesResult{}, err
		}
		out := GetMessagesResult{Locale: string(l), KeyCount: b.KeyCount()}
		if in.Key == "" {
			if err := json.Unmarshal(b, &out.Messages); err != nil {
				return nil, GetMessagesResult{}, err
			}
			return nil, out, nil
		}
		msg, found := b.Lookup(in.Key)
		if !found {
			return nil, GetMessagesResult{}, fmt.Errorf("no message %q in %s", in.Key, l)
		}
		out.Message = msg
		return nil, out, nil
	}
}
