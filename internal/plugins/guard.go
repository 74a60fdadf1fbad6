package plugins

import (
	"context"
	"strings"

	"github.com/pavilion-host/pavilion/internal/caperr"
	"github.com/pavilion-host/pavilion/internal/config"
	"github.com/pavilion-host/pavilion/internal/events"
	"github.com/pavilion-host/pavilion/internal/store"
)

// sensitiveModels are the entities non-allowlisted, non-core plugins must
// never reach through the database capability. The set is host-owned and
// fixed at compile time.
var sensitiveModels = map[string]struct{}{
	"users":         {},
	"credentials":   {},
	"sessions":      {},
	"audit_logs":    {},
	"tenants":       {},
	"invite_tokens": {},
	"reset_tokens":  {},
}

// IsSensitiveModel reports whether entity belongs to the protected set.
func IsSensitiveModel(entity string) bool {
	_, ok := sensitiveModels[entity]
	return ok
}

// SensitiveModels returns the protected entity names (for listings/tests).
func SensitiveModels() []string {
	names := make([]string, 0, len(sensitiveModels))
	for name := range sensitiveModels {
		names = append(names, name)
	}
	return names
}

// ScopedClient returns the datastore client a plugin may use. Core-flagged
// plugins whose namespace or id appears on the configured allowlist receive
// raw unchanged; every other plugin receives a guard that re-checks the
// target entity on every operation, since one handle services many calls
// over the plugin's lifetime.
func ScopedClient(desc *Descriptor, cfg *config.Config, raw store.Client, bus *events.Bus) store.Client {
	if desc.Manifest.CorePlugin && isAllowlisted(desc, cfg.Plugins.CoreDataAllowlist) {
		return raw
	}
	return &guardedClient{
		namespace: desc.Namespace(),
		inner:     raw,
		bus:       bus,
	}
}

func isAllowlisted(desc *Descriptor, allowlist []string) bool {
	for _, entry := range allowlist {
		entry = strings.TrimSpace(entry)
		if entry == "" {
			continue
		}
		if entry == desc.Namespace() || entry == desc.ID {
			return true
		}
	}
	return false
}

// guardedClient intercepts every datastore operation and rejects access to
// sensitive entities with a capability error carrying the plugin namespace
// and entity name.
type guardedClient struct {
	namespace string
	inner     store.Client
	bus       *events.Bus
}

func (g *guardedClient) check(entity string) error {
	if !IsSensitiveModel(entity) {
		return nil
	}
	if g.bus != nil {
		g.bus.Publish(events.NewPluginEvent(events.EventGuardBlocked, events.SourcePlugin,
			g.namespace, map[string]any{"model": entity}))
	}
	return caperr.Forbidden("sensitive_model_access",
		"plugin may not access this entity", map[string]string{
			"namespace": g.namespace,
			"model":     entity,
		})
}

func (g *guardedClient) Get(ctx context.Context, entity, id string) (map[string]any, error) {
	if err := g.check(entity); err != nil {
		return nil, err
	}
	return g.inner.Get(ctx, entity, id)
}

func (g *guardedClient) List(ctx context.Context, entity string, limit int) ([]map[string]any, error) {
	if err := g.check(entity); err != nil {
		return nil, err
	}
	return g.inner.List(ctx, entity, limit)
}

func (g *guardedClient) Put(ctx context.Context, entity, id string, doc map[string]any) error {
	if err := g.check(entity); err != nil {
		return err
	}
	return g.inner.Put(ctx, entity, id, doc)
}

func (g *guardedClient) Delete(ctx context.Context, entity, id string) error {
	if err := g.check(entity); err != nil {
		return err
	}
	return g.inner.Delete(ctx, entity, id)
}

var _ store.Client = (*guardedClient)(nil)
