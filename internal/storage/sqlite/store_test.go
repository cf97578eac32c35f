package sqlite

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/colthorp/localekit-go/internal/storage"
)

func TestStoreRoundTrip(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "nested", "localekit.db")

	store, err := Open(ctx, path)
	if err != nil {
		t.Fatalf("Open failed: %v", err)
	}
	defer store.Close()

	if _, found, err := store.GetItem(ctx, "missing"); err != nil || found {
		t.Fatalf("GetItem(missing) = found %v, err %v", found, err)
	}

	if err := store.SetItem(ctx, storage.KeyOverride, []byte(`"zh"`)); err != nil {
		t.Fatalf("SetItem failed: %v", err)
	}
	if err := store.SetItem(ctx, storage.KeyOverride, []byte(`"ja"`)); err != nil {
		t.Fatalf("SetItem (upsert) failed: %v", err)
	}
	value, found, err := store.GetItem(ctx, storage.KeyOverride)
	if err != nil || !found {
		t.Fatalf("GetItem = found %v, err %v", found, err)
	}
	if string(value) != `"ja"` {
		t.Errorf("GetItem = %s, want \"ja\"", value)
	}

	if err := store.RemoveItem(ctx, storage.KeyOverride); err != nil {
		t.Fatalf("RemoveItem failed: %v", err)
	}
	if _, found, _ := store.GetItem(ctx, storage.KeyOverride); found {
		t.Error("expected key to be removed")
	}
}

func TestStoreReopenKeepsData(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "localekit.db")

	store, err := Open(ctx, path)
	if err != nil {
		t.Fatalf("Open failed: %v", err)
	}
	if err := storage.Save(ctx, store, storage.KeyPreference, map[string]string{"locale": "zh"}, time.Now()); err != nil {
		t.Fatalf("Save failed: %v", err)
	}
	store.Close()

	// Migrations must be idempotent across reopen.
	store, err = Open(ctx, path)
	if err != nil {
		t.Fatalf("reopen failed: %v", err)
	}
	defer store.Close()

	var got map[string]string
	_, found, err := storage.Load(ctx, store, storage.KeyPreference, &got)
	if err != nil || !found {
		t.Fatalf("Load = found %v, err %v", found, err)
	}
	if got["locale"] != "zh" {
		t.Errorf("Load = %v, want locale zh", got)
	}
}

func TestStoreClosed(t *testing.T) {
	ctx := context.Background()
	store, err := Open(ctx, ":memory:")
	if err != nil {
		t.Fatalf("Open failed: %v", err)
	}
	store.Close()

	err = store.SetItem(ctx, "k", []byte("v"))
	if !errors.Is(err, storage.ErrClosed) {
		t.Errorf("SetItem after Close = %v, want ErrClosed", err)
	}
}

func TestOpenRequiresPath(t *testing.T) {
	if _, err := Open(context.Background(), "  "); err == nil {
		t.Fatal("expected error for empty path")
	}
}

func TestExtractUpMigration(t *testing.T) {
	content := "-- +migrate Up\nCREATE TABLE t (id INTEGER);\n-- +migrate Down\nDROP TABLE t;\n"
	got := extractUpMigration(content)
	if got != "\nCREATE TABLE t (id INTEGER);\n" {
		t.Errorf("extractUpMigration = %q", got)
	}
	if extractUpMigration("SELECT 1;") != "SELECT 1;" {
		t.Error("content without markers must be returned unchanged")
	}
}
