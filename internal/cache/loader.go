package cache

import (
	"context"
	"embed"
	"fmt"
	"io/fs"
	"os"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"

	"github.com/colthorp/localekit-go/internal/locale"
)

// BundleLoader fetches the full message bundle for a locale.
type BundleLoader interface {
	Load(ctx context.Context, l locale.Locale) (Bundle, error)
}

// LoaderFunc adapts a function to BundleLoader.
type LoaderFunc func(ctx context.Context, l locale.Locale) (Bundle, error)

func (f LoaderFunc) Load(ctx context.Context, l locale.Locale) (Bundle, error) { return f(ctx, l) }

//go:embed messages/*.json
var embedded embed.FS

// FSLoader reads <locale>.json files from a file system.
type FSLoader struct {
	fsys fs.FS
}

// NewFSLoader reads bundles from fsys.
func NewFSLoader(fsys fs.FS) *FSLoader {
	return &FSLoader{fsys: fsys}
}

// NewDirLoader reads bundles from a directory on disk.
func NewDirLoader(dir string) *FSLoader {
	return NewFSLoader(os.DirFS(dir))
}

// EmbeddedLoader reads the bundles compiled into the binary.
func EmbeddedLoader() *FSLoader {
	sub, err := fs.Sub(embedded, "messages")
	if err != nil {
		panic(err)
	}
	return NewFSLoader(sub)
}

// Load reads and validates <l>.json.
func (f *FSLoader) Load(ctx context.Context, l locale.Locale) (Bundle, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	data, err := fs.ReadFile(f.fsys, string(l)+".json")
	if err != nil {
		return nil, fmt.Errorf("read %s messages: %w", l, err)
	}
	b, err := ParseBundle(data)
	if err != nil {
		return nil, fmt.Errorf("parse %s messages: %w", l, err)
	}
	return b, nil
}

// HTTPLoader fetches <baseURL>/<locale>.json.
type HTTPLoader struct {
	baseURL string
	http    *resty.Client
}

// NewHTTPLoader creates a loader for baseURL. Server errors are retried.
func NewHTTPLoader(baseURL string, timeout time.Duration) *HTTPLoader {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	h := resty.New().
		SetTimeout(timeout).
		SetHeader("Accept", "application/json").
		SetRetryCount(2).
		SetRetryWaitTime(200 * time.Millisecond).
		AddRetryCondition(func(r *resty.Response, err error) bool {
			return err == nil && r.StatusCode() >= 500
		})
	return &HTTPLoader{baseURL: strings.TrimRight(baseURL, "/"), http: h}
}

// Load downloads and validates the bundle for l.
func (h *HTTPLoader) Load(ctx context.Context, l locale.Locale) (Bundle, error) {
	resp, err := h.http.R().SetContext(ctx).Get(h.baseURL + "/" + string(l) + ".json")
	if err != nil {
		return nil, fmt.Errorf("fetch %s messages: %w", l, err)
	}
	if resp.IsError() {
		return nil, fmt.Errorf("fetch %s messages: %s", l, resp.Status())
	}
	b, err := ParseBundle(resp.Body())
	if err != nil {
		return nil, fmt.Errorf("parse %s messages: %w", l, err)
	}
	return b, nil
}
