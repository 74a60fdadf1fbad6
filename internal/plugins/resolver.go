package plugins

import (
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"sync"

	"github.com/pavilion-host/pavilion/internal/caperr"
	"github.com/pavilion-host/pavilion/internal/config"
	"github.com/pavilion-host/pavilion/internal/events"
)

// GrantResult is the outcome of resolving a plugin's capability requests.
// Context maps each granted capability's Provides name to its resolved value
// and is what the runtime exposes to the plugin. Granted lists the capability
// keys in resolution order.
type GrantResult struct {
	Context map[string]any
	Granted []string
}

// Resolver turns manifest capability requests into resolved capability
// contexts. One resolver serves the whole host; it remembers which production
// overrides it has already warned about so each plugin and capability pair is
// audited exactly once per process.
type Resolver struct {
	cfg  *config.Config
	deps ResolveDeps
	log  *slog.Logger

	mu     sync.Mutex
	warned map[string]bool
}

// NewResolver creates a resolver bound to the host configuration and
// service dependencies.
func NewResolver(cfg *config.Config, deps ResolveDeps, log *slog.Logger) *Resolver {
	if log == nil {
		log = slog.Default()
	}
	return &Resolver{cfg: cfg, deps: deps, log: log, warned: make(map[string]bool)}
}

// Resolve grants desc its requested capabilities. The call is all-or-nothing:
// every requested key is validated before any resolver runs, and a failure at
// either stage returns a nil result with no partial context. Duplicate
// Provides names keep the first resolved value.
func (r *Resolver) Resolve(desc *Descriptor) (*GrantResult, error) {
	keys := desc.Manifest.RequestedCapabilities()

	if r.cfg.Plugins.GrantAllCapabilities {
		if r.cfg.IsProduction() {
			r.log.Warn("grant_all_capabilities is set but ignored in production",
				"plugin", desc.Namespace())
		} else {
			keys = allCapabilityKeys()
			r.log.Warn("granting ALL capabilities, development mode only",
				"plugin", desc.Namespace(), "capabilities", strings.Join(keys, ","))
		}
	}

	// Phase one: validate every key before touching anything.
	caps := make([]Capability, 0, len(keys))
	for _, key := range keys {
		c, ok := LookupCapability(key)
		if !ok {
			return nil, fmt.Errorf("plugin %s requests unknown capability %q", desc.Namespace(), key)
		}
		if c.DisabledInProd && r.cfg.IsProduction() {
			if !r.overridden(c) {
				r.deny(desc, c.Key, "disabled in production")
				return nil, caperr.New(http.StatusForbidden, "capability_disabled_in_production",
					fmt.Sprintf("capability %q is disabled in production", c.Key),
					map[string]string{"namespace": desc.Namespace(), "capability": c.Key})
			}
			r.warnOverrideOnce(desc, c)
		}
		caps = append(caps, c)
	}

	// Phase two: resolve. The context map is fresh, so an error here still
	// leaves nothing behind for the caller.
	result := &GrantResult{Context: make(map[string]any, len(caps))}
	for _, c := range caps {
		value, err := c.Resolve(ResolveContext{Plugin: desc, Config: r.cfg, Deps: r.deps})
		if err != nil {
			return nil, fmt.Errorf("resolve capability %s for plugin %s: %w", c.Key, desc.Namespace(), err)
		}
		if _, taken := result.Context[c.Provides]; taken {
			r.log.Debug("capability provides name already bound, keeping first",
				"plugin", desc.Namespace(), "capability", c.Key, "provides", c.Provides)
			continue
		}
		result.Context[c.Provides] = value
		result.Granted = append(result.Granted, c.Key)
		if r.deps.Bus != nil {
			r.deps.Bus.Publish(events.NewPluginEvent(events.EventCapabilityGranted, events.SourceHost,
				desc.Namespace(), map[string]any{"capability": c.Key, "risk": string(c.Risk)}))
		}
	}
	return result, nil
}

func (r *Resolver) overridden(c Capability) bool {
	if c.EnabledFlag == "" {
		return false
	}
	return r.cfg.Plugins.CapabilityOverrides[c.EnabledFlag]
}

// warnOverrideOnce logs the production override audit line the first time a
// given plugin is granted a given capability through its override flag. Each
// plugin gets its own audit line so the log names everyone using the override.
func (r *Resolver) warnOverrideOnce(desc *Descriptor, c Capability) {
	r.mu.Lock()
	defer r.mu.Unlock()
	key := desc.Namespace() + "/" + c.Key
	if r.warned[key] {
		return
	}
	r.warned[key] = true
	r.log.Warn("production-disabled capability enabled by override flag",
		"plugin", desc.Namespace(), "capability", c.Key, "flag", c.EnabledFlag, "risk", string(c.Risk))
}

func (r *Resolver) deny(desc *Descriptor, key, reason string) {
	if r.deps.Bus == nil {
		return
	}
	r.deps.Bus.Publish(events.NewPluginEvent(events.EventCapabilityDenied, events.SourceHost,
		desc.Namespace(), map[string]any{"capability": key, "reason": reason}))
}

func allCapabilityKeys() []string {
	keys := make([]string, 0, len(capabilityRegistry))
	for _, c := range capabilityRegistry {
		keys = append(keys, c.Key)
	}
	return keys
}
