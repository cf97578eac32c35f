package cli

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/go-logr/logr"
	"github.com/modelcontextprotocol/go-sdk/mcp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/colthorp/localekit-go/internal/core"
	"github.com/colthorp/localekit-go/internal/detect"
	"github.com/colthorp/localekit-go/internal/engine"
	"github.com/colthorp/localekit-go/internal/geo"
	"github.com/colthorp/localekit-go/internal/locale"
	"github.com/colthorp/localekit-go/internal/prefs"
	"github.com/colthorp/localekit-go/internal/storage"
)

type harness struct {
	t     *testing.T
	store *storage.MemoryStore
	geo   *geo.InMemoryLookup
}

func newHarness(t *testing.T) *harness {
	t.Setenv("HOME", t.TempDir())
	t.Setenv("LOCALEKIT_STORAGE", "memory")
	return &harness{t: t, store: storage.NewMemoryStore(), geo: geo.NewInMemoryLookup()}
}

func (h *harness) run(args ...string) (string, error) {
	h.t.Helper()
	a := &app{
		engineOpts: engine.Options{Store: h.store, Countries: h.geo, Reverse: h.geo},
		newLogger:  func(bool) logr.Logger { return logr.Discard() },
	}
	var out bytes.Buffer
	cmd := newRootCmd(a)
	cmd.SetOut(&out)
	cmd.SetErr(io.Discard)
	cmd.SetArgs(append([]string{"--quiet"}, args...))
	err := cmd.ExecuteContext(context.Background())
	return out.String(), err
}

func (h *harness) mustRun(args ...string) string {
	h.t.Helper()
	out, err := h.run(args...)
	require.NoError(h.t, err, "localekit %s", strings.Join(args, " "))
	return out
}

func TestDetectCommand(t *testing.T) {
	h := newHarness(t)

	out := h.mustRun("detect", "-o", "json", "--languages", "ja-JP,en", "--timezone", "Asia/Tokyo")
	var res detect.Result
	require.NoError(t, json.Unmarshal([]byte(out), &res))
	assert.Equal(t, locale.Japanese, res.Locale)
	assert.Equal(t, locale.SourceCombined, res.Source)

	out = h.mustRun("history", "list", "-o", "json")
	var records []prefs.Record
	require.NoError(t, json.Unmarshal([]byte(out), &records))
	require.Len(t, records, 1)
	assert.Equal(t, prefs.DefaultOperation, records[0].Operation)

	out = h.mustRun("detect", "-o", "text", "--record=false", "--strategy", "best", "--languages", "zh-TW")
	assert.Contains(t, out, "Locale:     zh")
	assert.Contains(t, out, "waterfall")

	_, err := h.run("detect", "--strategy", "psychic")
	assert.Error(t, err)
}

func TestDetectCommandDeviceCountry(t *testing.T) {
	h := newHarness(t)
	out := h.mustRun("detect", "-o", "json", "--languages", "fr", "--timezone", "Europe/Paris", "--country", "CN")
	var res detect.Result
	require.NoError(t, json.Unmarshal([]byte(out), &res))
	assert.Equal(t, locale.Chinese, res.Locale)
	assert.Equal(t, locale.SourceGeo, res.Source)
}

func TestOverrideCommands(t *testing.T) {
	h := newHarness(t)

	h.mustRun("override", "set", "ZH")
	out := h.mustRun("override", "show", "-o", "json")
	assert.Contains(t, out, `"override": "zh"`)

	out = h.mustRun("detect", "-o", "json", "--languages", "ja")
	assert.Contains(t, out, `"source": "user"`)

	_, err := h.run("override", "set", "fr")
	var verr *prefs.ValidationError
	assert.ErrorAs(t, err, &verr)

	h.mustRun("override", "clear")
	out = h.mustRun("override", "show", "-o", "text")
	assert.Contains(t, out, "Override:   none")
}

func TestResolveCommand(t *testing.T) {
	h := newHarness(t)
	out := h.mustRun("resolve", "-o", "text", "--languages", "zh-CN", "--timezone", "Asia/Shanghai")
	assert.Contains(t, out, "zh: 14 messages")

	out = h.mustRun("override", "show", "-o", "json")
	assert.Contains(t, out, `"preference"`)
}

func TestMessagesCommands(t *testing.T) {
	h := newHarness(t)

	out := h.mustRun("messages", "get", "ja", "nav.home")
	assert.Equal(t, "ホーム\n", out)

	_, err := h.run("messages", "get", "fr")
	assert.Error(t, err)
	_, err = h.run("messages", "get", "en", "nav.missing")
	assert.Error(t, err)

	out = h.mustRun("messages", "preload", "--all", "-o", "json")
	var stats struct {
		Stats struct {
			Size int `json:"size"`
		} `json:"stats"`
	}
	require.NoError(t, json.Unmarshal([]byte(out), &stats))
	assert.Equal(t, 3, stats.Stats.Size)

	// The snapshot survives into the next invocation.
	out = h.mustRun("messages", "stats", "-o", "json")
	require.NoError(t, json.Unmarshal([]byte(out), &stats))
	assert.Equal(t, 3, stats.Stats.Size)

	h.mustRun("messages", "clear")
	out = h.mustRun("messages", "stats", "-o", "json")
	require.NoError(t, json.Unmarshal([]byte(out), &stats))
	assert.Zero(t, stats.Stats.Size)
}

func TestHistoryCommands(t *testing.T) {
	h := newHarness(t)
	for _, tags := range []string{"ja", "ja", "zh-CN"} {
		h.mustRun("detect", "--languages", tags, "-o", "json")
	}

	out := h.mustRun("history", "query", "-o", "json", "--locale", "ja", "--since", "d-1")
	var records []prefs.Record
	require.NoError(t, json.Unmarshal([]byte(out), &records))
	assert.Len(t, records, 2)

	out = h.mustRun("history", "query", "-o", "json", "--period", "today", "--tz", "Asia/Tokyo")
	require.NoError(t, json.Unmarshal([]byte(out), &records))
	assert.Len(t, records, 3)

	_, err := h.run("history", "query", "--period", "today", "--since", "d-1")
	assert.Error(t, err)
	_, err = h.run("history", "query", "--tz", "Mars/Olympus")
	assert.Error(t, err)

	out = h.mustRun("history", "search", "zh", "-o", "json")
	require.NoError(t, json.Unmarshal([]byte(out), &records))
	assert.Len(t, records, 1)

	out = h.mustRun("history", "stats", "-o", "json")
	assert.Contains(t, out, `"total_detections": 3`)

	out = h.mustRun("history", "groups", "--by", "source", "-o", "text")
	assert.Contains(t, out, "SOURCE")

	h.mustRun("history", "trends", "-o", "json")
	h.mustRun("history", "insights", "-o", "json")

	_, err = h.run("history", "query", "--succeeded", "--failed")
	assert.Error(t, err)

	exported := filepath.Join(t.TempDir(), "history.json")
	h.mustRun("history", "export", "--file", exported)
	h.mustRun("history", "backup", "-o", "json")
	h.mustRun("history", "clear")

	out = h.mustRun("history", "list", "-o", "json")
	assert.Equal(t, "[]", strings.TrimSpace(out))

	out = h.mustRun("history", "import", exported, "-o", "json")
	assert.Contains(t, out, `"imported": 3`)

	h.mustRun("history", "clear")
	out = h.mustRun("history", "restore", "-o", "json")
	assert.Contains(t, out, `"records": 3`)

	out = h.mustRun("history", "maintain", "--dedupe", "-o", "json")
	var report prefs.MaintenanceReport
	require.NoError(t, json.Unmarshal([]byte(out), &report))
	assert.Equal(t, 3, report.Before)

	out = h.mustRun("history", "cleanup", "--max-age", "1h", "-o", "json")
	assert.Contains(t, out, `"expired": 0`)
}

func TestFlagsOverrideEnvironment(t *testing.T) {
	h := newHarness(t)
	t.Setenv("LOCALEKIT_DEFAULT_LOCALE", "zh")

	out := h.mustRun("detect", "-o", "json", "--record=false", "--languages", "fr", "--timezone", "UTC")
	assert.Contains(t, out, `"locale": "zh"`)

	out = h.mustRun("--default-locale", "ja", "detect", "-o", "json", "--record=false", "--languages", "fr", "--timezone", "UTC")
	assert.Contains(t, out, `"locale": "ja"`)

	_, err := h.run("--locales", "en,zh", "--default-locale", "ja", "detect")
	assert.Error(t, err)
}

func TestMCPTools(t *testing.T) {
	t.Setenv("HOME", t.TempDir())
	cfg, err := core.LoadConfig()
	require.NoError(t, err)
	e, err := engine.New(context.Background(), cfg, engine.Options{
		Store:     storage.NewMemoryStore(),
		Countries: geo.NewInMemoryLookup(),
		Reverse:   geo.NewInMemoryLookup(),
		Logger:    logr.Discard(),
	})
	require.NoError(t, err)
	defer e.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	serverTransport, clientTransport := mcp.NewInMemoryTransports()
	serverSession, err := newMCPServer(e).Connect(ctx, serverTransport, nil)
	require.NoError(t, err)
	defer serverSession.Close()

	client := mcp.NewClient(&mcp.Implementation{Name: "test-client", Version: "v0.0.1"}, nil)
	session, err := client.Connect(ctx, clientTransport, nil)
	require.NoError(t, err)
	defer session.Close()

	tools, err := session.ListTools(ctx, nil)
	require.NoError(t, err)
	names := make([]string, 0, len(tools.Tools))
	for _, tool := range tools.Tools {
		names = append(names, tool.Name)
	}
	assert.ElementsMatch(t, []string{"detect_locale", "get_messages", "cache_stats", "history_stats", "history_insights"}, names)

	res, err := session.CallTool(ctx, &mcp.CallToolParams{
		Name:      "detect_locale",
		Arguments: map[string]any{"languages": []string{"ja-JP"}, "timezone": "Asia/Tokyo"},
	})
	require.NoError(t, err)
	require.False(t, res.IsError)
	var detected detect.Result
	decodeStructured(t, res, &detected)
	assert.Equal(t, locale.Japanese, detected.Locale)

	res, err = session.CallTool(ctx, &mcp.CallToolParams{
		Name:      "get_messages",
		Arguments: map[string]any{"locale": "zh", "key": "nav.home"},
	})
	require.NoError(t, err)
	require.False(t, res.IsError)
	var msgs GetMessagesResult
	decodeStructured(t, res, &msgs)
	assert.Equal(t, "首页", msgs.Message)

	res, err = session.CallTool(ctx, &mcp.CallToolParams{
		Name:      "get_messages",
		Arguments: map[string]any{"locale": "klingon"},
	})
	require.NoError(t, err)
	assert.True(t, res.IsError)
}

func decodeStructured(t *testing.T, res *mcp.CallToolResult, v any) {
	t.Helper()
	data, err := json.Marshal(res.StructuredContent)
	require.NoError(t, err)
	require.NoError(t, json.Unmarshal(data, v))
}
