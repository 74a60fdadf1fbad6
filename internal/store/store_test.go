package store

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
)

func openTestDB(t *testing.T) *DB {
	t.Helper()
	db, err := Open(filepath.Join(t.TempDir(), "test.db"))
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	return db
}

func TestRegistry_UpsertAndGet(t *testing.T) {
	db := openTestDB(t)
	ctx := context.Background()

	enabled := false
	rec := PluginRecord{
		PluginID:   "blog",
		Namespace:  "blog",
		Type:       "custom",
		Enabled:    &enabled,
		CorePlugin: true,
		Version:    "1.2.0",
	}
	if err := db.UpsertPlugin(ctx, rec); err != nil {
		t.Fatalf("UpsertPlugin: %v", err)
	}

	got, err := db.GetPlugin(ctx, "blog")
	if err != nil {
		t.Fatalf("GetPlugin: %v", err)
	}
	if got.Enabled == nil || *got.Enabled {
		t.Error("expected explicit disabled flag to round-trip")
	}
	if !got.CorePlugin || got.Version != "1.2.0" {
		t.Errorf("unexpected record: %+v", got)
	}
}

func TestRegistry_TriStateEnabled(t *testing.T) {
	db := openTestDB(t)
	ctx := context.Background()

	// No Enabled set: the column stays NULL and reads back as nil.
	if err := db.UpsertPlugin(ctx, PluginRecord{PluginID: "wiki"}); err != nil {
		t.Fatalf("UpsertPlugin: %v", err)
	}
	got, err := db.GetPlugin(ctx, "wiki")
	if err != nil {
		t.Fatalf("GetPlugin: %v", err)
	}
	if got.Enabled != nil {
		t.Errorf("expected nil Enabled for unspecified, got %v", *got.Enabled)
	}
	if got.Namespace != "wiki" {
		t.Errorf("expected namespace to default to plugin id, got %q", got.Namespace)
	}
}

func TestRegistry_SetEnabledCreatesRow(t *testing.T) {
	db := openTestDB(t)
	ctx := context.Background()

	if err := db.SetPluginEnabled(ctx, "fresh", false); err != nil {
		t.Fatalf("SetPluginEnabled: %v", err)
	}
	got, err := db.GetPlugin(ctx, "fresh")
	if err != nil {
		t.Fatalf("GetPlugin: %v", err)
	}
	if got.Enabled == nil || *got.Enabled {
		t.Error("expected disabled row to be created")
	}
}

func TestRegistry_GetMissing(t *testing.T) {
	db := openTestDB(t)
	_, err := db.GetPlugin(context.Background(), "nope")
	if !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestRegistry_List(t *testing.T) {
	db := openTestDB(t)
	ctx := context.Background()

	for _, id := range []string{"zeta", "alpha", "mid"} {
		if err := db.UpsertPlugin(ctx, PluginRecord{PluginID: id}); err != nil {
			t.Fatalf("UpsertPlugin %s: %v", id, err)
		}
	}

	records, err := db.ListPlugins(ctx)
	if err != nil {
		t.Fatalf("ListPlugins: %v", err)
	}
	if len(records) != 3 {
		t.Fatalf("expected 3 records, got %d", len(records))
	}
	if records[0].PluginID != "alpha" || records[2].PluginID != "zeta" {
		t.Errorf("expected ordering by plugin id, got %v", records)
	}
}

func TestEntities_RoundTrip(t *testing.T) {
	db := openTestDB(t)
	ctx := context.Background()
	client := db.Entities()

	doc := map[string]any{"title": "hello", "views": float64(3)}
	if err := client.Put(ctx, "posts", "p1", doc); err != nil {
		t.Fatalf("Put: %v", err)
	}

	got, err := client.Get(ctx, "posts", "p1")
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if got["title"] != "hello" || got["views"] != float64(3) {
		t.Errorf("unexpected doc: %v", got)
	}

	// Overwrite via Put upsert.
	doc["views"] = float64(4)
	if err := client.Put(ctx, "posts", "p1", doc); err != nil {
		t.Fatalf("Put update: %v", err)
	}
	got, err = client.Get(ctx, "posts", "p1")
	if err != nil {
		t.Fatalf("Get after update: %v", err)
	}
	if got["views"] != float64(4) {
		t.Errorf("expected updated doc, got %v", got)
	}

	if err := client.Delete(ctx, "posts", "p1"); err != nil {
		t.Fatalf("Delete: %v", err)
	}
	if _, err := client.Get(ctx, "posts", "p1"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound after delete, got %v", err)
	}
}

func TestEntities_ListScopedByEntity(t *testing.T) {
	db := openTestDB(t)
	ctx := context.Background()
	client := db.Entities()

	for i, entity := range []string{"posts", "posts", "comments"} {
		id := string(rune('a' + i))
		if err := client.Put(ctx, entity, id, map[string]any{"id": id}); err != nil {
			t.Fatalf("Put: %v", err)
		}
	}

	docs, err := client.List(ctx, "posts", 0)
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if len(docs) != 2 {
		t.Errorf("expected 2 posts, got %d", len(docs))
	}
}
