package plugins

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/pavilion-host/pavilion/internal/caperr"
	"github.com/pavilion-host/pavilion/internal/config"
	"github.com/pavilion-host/pavilion/internal/events"
	"github.com/pavilion-host/pavilion/internal/store"
)

// memClient records operations for guard tests.
type memClient struct {
	calls []string
	docs  map[string]map[string]any
}

func newMemClient() *memClient {
	return &memClient{docs: map[string]map[string]any{}}
}

func (m *memClient) key(entity, id string) string { return entity + "/" + id }

func (m *memClient) Get(_ context.Context, entity, id string) (map[string]any, error) {
	m.calls = append(m.calls, "get "+entity)
	doc, ok := m.docs[m.key(entity, id)]
	if !ok {
		return nil, fmt.Errorf("entity %s/%s: %w", entity, id, store.ErrNotFound)
	}
	return doc, nil
}

func (m *memClient) List(_ context.Context, entity string, _ int) ([]map[string]any, error) {
	m.calls = append(m.calls, "list "+entity)
	return nil, nil
}

func (m *memClient) Put(_ context.Context, entity, id string, doc map[string]any) error {
	m.calls = append(m.calls, "put "+entity)
	m.docs[m.key(entity, id)] = doc
	return nil
}

func (m *memClient) Delete(_ context.Context, entity, id string) error {
	m.calls = append(m.calls, "delete "+entity)
	delete(m.docs, m.key(entity, id))
	return nil
}

func testDescriptor(id string, core bool) *Descriptor {
	return &Descriptor{
		ID: id,
		Manifest: &PluginManifest{
			Name: id, Version: "1.0.0", Entry: "main.wasm",
			CorePlugin: core,
		},
	}
}

func TestScopedClientAllowlistedCoreGetsRaw(t *testing.T) {
	raw := newMemClient()
	cfg := &config.Config{}
	cfg.Plugins.CoreDataAllowlist = []string{" auth-core "}

	client := ScopedClient(testDescriptor("auth-core", true), cfg, raw, nil)
	if client != store.Client(raw) {
		t.Fatal("allowlisted core plugin must receive the raw client")
	}
}

func TestScopedClientCoreWithoutAllowlistIsGuarded(t *testing.T) {
	raw := newMemClient()
	cfg := &config.Config{}

	client := ScopedClient(testDescriptor("auth-core", true), cfg, raw, nil)
	if _, err := client.Get(context.Background(), "users", "u1"); err == nil {
		t.Fatal("core plugin off the allowlist must be guarded")
	}
}

func TestScopedClientAllowlistWithoutCoreFlagIsGuarded(t *testing.T) {
	raw := newMemClient()
	cfg := &config.Config{}
	cfg.Plugins.CoreDataAllowlist = []string{"community"}

	client := ScopedClient(testDescriptor("community", false), cfg, raw, nil)
	if _, err := client.Get(context.Background(), "users", "u1"); err == nil {
		t.Fatal("allowlisted but non-core plugin must be guarded")
	}
}

func TestGuardBlocksEverySensitiveOperation(t *testing.T) {
	raw := newMemClient()
	cfg := &config.Config{}
	client := ScopedClient(testDescriptor("community", false), cfg, raw, nil)
	ctx := context.Background()

	for _, entity := range SensitiveModels() {
		if _, err := client.Get(ctx, entity, "x"); err == nil {
			t.Errorf("get %s not blocked", entity)
		}
		if _, err := client.List(ctx, entity, 10); err == nil {
			t.Errorf("list %s not blocked", entity)
		}
		if err := client.Put(ctx, entity, "x", map[string]any{}); err == nil {
			t.Errorf("put %s not blocked", entity)
		}
		if err := client.Delete(ctx, entity, "x"); err == nil {
			t.Errorf("delete %s not blocked", entity)
		}
	}
	if len(raw.calls) != 0 {
		t.Errorf("blocked operations must never reach the raw client, saw %v", raw.calls)
	}
}

func TestGuardAllowsNonSensitiveEntities(t *testing.T) {
	raw := newMemClient()
	cfg := &config.Config{}
	client := ScopedClient(testDescriptor("community", false), cfg, raw, nil)
	ctx := context.Background()

	if err := client.Put(ctx, "posts", "p1", map[string]any{"title": "hi"}); err != nil {
		t.Fatalf("put posts: %v", err)
	}
	doc, err := client.Get(ctx, "posts", "p1")
	if err != nil {
		t.Fatalf("get posts: %v", err)
	}
	if doc["title"] != "hi" {
		t.Errorf("doc = %v", doc)
	}
}

func TestGuardErrorCarriesMetadataAndEmitsEvent(t *testing.T) {
	raw := newMemClient()
	cfg := &config.Config{}
	bus := events.NewBus(16)
	defer bus.Close()
	ch, unsub := bus.SubscribeChan(4, events.EventGuardBlocked)
	defer unsub()

	client := ScopedClient(testDescriptor("community", false), cfg, raw, bus)
	_, err := client.Get(context.Background(), "credentials", "c1")

	ce, ok := caperr.As(err)
	if !ok {
		t.Fatalf("expected capability error, got %v", err)
	}
	if ce.Code != "sensitive_model_access" {
		t.Errorf("code = %q", ce.Code)
	}
	if ce.Meta["namespace"] != "community" || ce.Meta["model"] != "credentials" {
		t.Errorf("meta = %v", ce.Meta)
	}

	select {
	case ev := <-ch:
		if ev.Namespace != "community" || ev.Payload["model"] != "credentials" {
			t.Errorf("event = %+v", ev)
		}
	case <-time.After(time.Second):
		t.Error("guard.blocked event not published")
	}
}
