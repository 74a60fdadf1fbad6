package plugins

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"path/filepath"
	"sync"

	"github.com/go-chi/chi/v5"

	"github.com/pavilion-host/pavilion/internal/caperr"
	"github.com/pavilion-host/pavilion/internal/config"
	"github.com/pavilion-host/pavilion/internal/events"
	"github.com/pavilion-host/pavilion/internal/store"
)

// LoadedPlugin is one plugin known to the host after Init: its manifest
// descriptor, the merged registry record, and, when the plugin is enabled and
// its entry module loaded, a live runtime.
type LoadedPlugin struct {
	Descriptor *Descriptor
	Record     store.PluginRecord
	Runtime    *Runtime // nil when disabled or when loading failed
	LoadError  string   // set when the entry module could not be loaded
}

// ExtensionHost discovers plugins, reconciles them with the persisted
// registry, resolves their capabilities, and mounts their routes.
type ExtensionHost struct {
	cfg      *config.Config
	db       *store.DB
	bus      *events.Bus
	resolver *Resolver
	state    *RuntimeState
	log      *slog.Logger

	mu     sync.RWMutex
	byID   map[string]*LoadedPlugin
	order  []string
}

// NewExtensionHost creates a host. deps supplies the services capability
// resolvers hand out; the datastore client defaults to db's entity client
// when unset.
func NewExtensionHost(cfg *config.Config, db *store.DB, bus *events.Bus, deps ResolveDeps, log *slog.Logger) *ExtensionHost {
	if log == nil {
		log = slog.Default()
	}
	if deps.Store == nil && db != nil {
		deps.Store = db.Entities()
	}
	if deps.Bus == nil {
		deps.Bus = bus
	}
	return &ExtensionHost{
		cfg:      cfg,
		db:       db,
		bus:      bus,
		resolver: NewResolver(cfg, deps, log),
		state:    NewRuntimeState(),
		log:      log,
		byID:     make(map[string]*LoadedPlugin),
	}
}

// State returns the host's runtime enable/disable state.
func (h *ExtensionHost) State() *RuntimeState { return h.state }

// Init discovers manifests, merges them with persisted registry rows, seeds
// the runtime state, and loads every enabled plugin's entry module. A failure
// in any single plugin is logged and skips only that plugin.
func (h *ExtensionHost) Init(ctx context.Context) error {
	descs, err := Discover(h.cfg.Plugins.Dir)
	if err != nil {
		return fmt.Errorf("discover plugins: %w", err)
	}

	h.mu.Lock()
	defer h.mu.Unlock()
	h.byID = make(map[string]*LoadedPlugin, len(descs))
	h.order = h.order[:0]

	var entries []StateEntry
	for _, desc := range descs {
		rec, err := h.mergeRecord(ctx, desc)
		if err != nil {
			h.log.Error("registry merge failed, skipping plugin",
				"plugin", desc.ID, "error", err)
			continue
		}

		lp := &LoadedPlugin{Descriptor: desc, Record: rec}
		h.byID[desc.ID] = lp
		h.order = append(h.order, desc.ID)
		entries = append(entries, StateEntry{
			Namespace: rec.Namespace,
			ID:        rec.PluginID,
			Enabled:   EnableFromBool(rec.Enabled),
		})

		if !EnableFromBool(rec.Enabled).Effective() {
			h.log.Info("plugin disabled, not loading", "plugin", desc.ID)
			continue
		}
		if rec.DevOnly && h.cfg.IsProduction() {
			h.log.Info("dev-only plugin skipped in production", "plugin", desc.ID)
			continue
		}

		h.loadOne(ctx, lp)
	}

	h.state.Seed(entries)
	return nil
}

// loadOne resolves capabilities and instantiates the entry module. Callers
// hold h.mu.
func (h *ExtensionHost) loadOne(ctx context.Context, lp *LoadedPlugin) {
	desc := lp.Descriptor
	plog := h.log.With("plugin", desc.Namespace())

	grant, err := h.resolver.Resolve(desc)
	if err != nil {
		lp.LoadError = err.Error()
		plog.Error("capability resolution failed", "error", err)
		h.bus.Publish(events.NewPluginEvent(events.EventPluginLoadFailed, events.SourceHost,
			desc.Namespace(), map[string]any{"plugin": desc.ID, "error": err.Error()}))
		return
	}

	rt, err := LoadRuntime(ctx, desc, grant, h.bus, plog)
	if err != nil {
		lp.LoadError = err.Error()
		plog.Error("entry module load failed", "error", err)
		h.bus.Publish(events.NewPluginEvent(events.EventPluginLoadFailed, events.SourceHost,
			desc.Namespace(), map[string]any{"plugin": desc.ID, "error": err.Error()}))
		return
	}

	lp.Runtime = rt
	plog.Info("plugin loaded",
		"version", desc.Manifest.Version, "kind", rt.Kind().String(),
		"capabilities", len(grant.Granted))
	h.bus.Publish(events.NewPluginEvent(events.EventPluginLoaded, events.SourceHost,
		desc.Namespace(), map[string]any{"plugin": desc.ID, "version": desc.Manifest.Version}))
}

// mergeRecord combines a manifest with its persisted registry row. A row that
// exists wins for enabled, version, corePlugin and devOnly; manifests of
// plugins never seen before are inserted as new rows.
func (h *ExtensionHost) mergeRecord(ctx context.Context, desc *Descriptor) (store.PluginRecord, error) {
	m := desc.Manifest
	rec := store.PluginRecord{
		PluginID:           desc.ID,
		Namespace:          desc.Namespace(),
		Type:               m.Type,
		Enabled:            m.Enabled,
		UserDefaultEnabled: m.Enabled == nil || *m.Enabled,
		CorePlugin:         m.CorePlugin,
		DevOnly:            m.DevOnly,
		Version:            m.Version,
	}

	existing, err := h.db.GetPlugin(ctx, desc.ID)
	switch {
	case err == nil:
		rec.Enabled = existing.Enabled
		rec.Version = existing.Version
		rec.CorePlugin = existing.CorePlugin
		rec.DevOnly = existing.DevOnly
		return rec, nil
	case errors.Is(err, store.ErrNotFound):
		if err := h.db.UpsertPlugin(ctx, rec); err != nil {
			return rec, err
		}
		h.bus.Publish(events.NewPluginEvent(events.EventPluginRegistered, events.SourceRegistry,
			rec.Namespace, map[string]any{"plugin": rec.PluginID, "version": rec.Version}))
		return rec, nil
	default:
		return rec, err
	}
}

// Reconcile reseeds the runtime state from the persisted registry. Scheduled
// periodically so out-of-band registry edits converge without a restart.
func (h *ExtensionHost) Reconcile(ctx context.Context) error {
	rows, err := h.db.ListPlugins(ctx)
	if err != nil {
		return fmt.Errorf("reconcile: %w", err)
	}
	entries := make([]StateEntry, 0, len(rows))
	for _, row := range rows {
		entries = append(entries, StateEntry{
			Namespace: row.Namespace,
			ID:        row.PluginID,
			Enabled:   EnableFromBool(row.Enabled),
		})
	}
	h.state.Seed(entries)
	h.log.Debug("runtime state reconciled", "plugins", len(entries))
	return nil
}

// SetEnabled persists a plugin's enabled flag and hot-patches the runtime
// state. Loading or unloading the entry module happens on the next Init.
func (h *ExtensionHost) SetEnabled(ctx context.Context, pluginID string, enabled bool) error {
	if err := h.db.SetPluginEnabled(ctx, pluginID, enabled); err != nil {
		return err
	}
	namespace := pluginID
	h.mu.RLock()
	if lp, ok := h.byID[pluginID]; ok {
		namespace = lp.Record.Namespace
	}
	h.mu.RUnlock()

	h.state.Update(StateEntry{Namespace: namespace, ID: pluginID, Enabled: EnableFromBool(&enabled)})

	eventType := events.EventPluginEnabled
	if !enabled {
		eventType = events.EventPluginDisabled
	}
	h.bus.Publish(events.NewPluginEvent(eventType, events.SourceRegistry,
		namespace, map[string]any{"plugin": pluginID}))
	return nil
}

// Loaded returns every known plugin in discovery order.
func (h *ExtensionHost) Loaded() []*LoadedPlugin {
	h.mu.RLock()
	defer h.mu.RUnlock()
	out := make([]*LoadedPlugin, 0, len(h.order))
	for _, id := range h.order {
		out = append(out, h.byID[id])
	}
	return out
}

// Mount attaches plugin routes to r: API routes under /api/plugins/<ns> and
// a web surface under /<ns>. Spa plugins serve static assets there; custom
// plugins dispatch to their wasm exports, nested under /{resourceID} when the
// manifest declares a "project" mount.
func (h *ExtensionHost) Mount(r chi.Router) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	for _, id := range h.order {
		lp := h.byID[id]
		if lp.Runtime == nil {
			continue
		}
		ns := lp.Record.Namespace
		h.mountAPI(r, ns, lp.Runtime)
		if lp.Descriptor.Manifest.Type == "spa" {
			h.mountWeb(r, ns, lp.Descriptor)
		} else {
			h.mountCustom(r, ns, lp.Descriptor, lp.Runtime)
		}
	}
}

func (h *ExtensionHost) mountAPI(r chi.Router, ns string, rt *Runtime) {
	base := "/api/plugins/" + ns
	r.Route(base, func(sub chi.Router) {
		sub.Use(h.requireEnabled(ns))
		h.mountRoutes(sub, rt)
	})
}

// mountCustom gives a custom plugin its web surface at /<ns>. A plugin whose
// manifest declares a "project" mount is per-resource: its routes live under
// /<ns>/{resourceID} and the handler receives the resource id.
func (h *ExtensionHost) mountCustom(r chi.Router, ns string, desc *Descriptor, rt *Runtime) {
	r.Route("/"+ns, func(sub chi.Router) {
		sub.Use(h.requireEnabled(ns))
		if _, perResource := desc.Manifest.Mounts["project"]; perResource {
			sub.Route("/{resourceID}", func(res chi.Router) {
				h.mountRoutes(res, rt)
			})
			return
		}
		h.mountRoutes(sub, rt)
	})
}

// mountRoutes attaches a runtime's handlers to sub: a router module's static
// route table, or a catch-all dispatching to the generic handler export.
func (h *ExtensionHost) mountRoutes(sub chi.Router, rt *Runtime) {
	switch rt.Kind() {
	case ExportRouter:
		for _, route := range rt.Routes() {
			method := route.Method
			if method == "" {
				method = http.MethodGet
			}
			sub.Method(method, route.Path, h.wasmHandler(rt, route.Handler))
		}
	default:
		sub.Handle("/", h.wasmHandler(rt, "handle"))
		sub.Handle("/*", h.wasmHandler(rt, "handle"))
	}
}

func (h *ExtensionHost) mountWeb(r chi.Router, ns string, desc *Descriptor) {
	webRoot := filepath.Join(desc.Dir, "public")
	if _, err := os.Stat(webRoot); err != nil {
		h.log.Warn("spa plugin has no public directory", "plugin", ns)
		return
	}
	prefix := "/" + ns
	fileServer := http.StripPrefix(prefix, http.FileServer(http.Dir(webRoot)))
	handler := func(w http.ResponseWriter, req *http.Request) {
		if !h.state.IsEnabled(ns) {
			http.NotFound(w, req)
			return
		}
		fileServer.ServeHTTP(w, req)
	}
	r.Get(prefix, handler)
	r.Get(prefix+"/*", handler)
}

// requireEnabled rejects requests to a namespace whose runtime state says
// disabled. The state is advisory for in-process callers; here at the HTTP
// boundary it is enforced.
func (h *ExtensionHost) requireEnabled(ns string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
			if !h.state.IsEnabled(ns) {
				caperr.WriteHTTP(w, caperr.New(http.StatusNotFound, "plugin_disabled",
					"plugin is disabled", map[string]string{"namespace": ns}))
				return
			}
			next.ServeHTTP(w, req)
		})
	}
}

// wasmRequest is the JSON document a handler export receives.
type wasmRequest struct {
	Method     string            `json:"method"`
	Path       string            `json:"path"`
	Query      map[string]string `json:"query"`
	ResourceID string            `json:"resourceId,omitempty"`
	Body       string            `json:"body,omitempty"`
}

// wasmResponse is the JSON document a handler export returns.
type wasmResponse struct {
	Status      int    `json:"status"`
	ContentType string `json:"contentType,omitempty"`
	Body        string `json:"body"`
}

const maxRequestBody = 1 << 20 // 1 MiB per plugin API request

func (h *ExtensionHost) wasmHandler(rt *Runtime, export string) http.HandlerFunc {
	return func(w http.ResponseWriter, req *http.Request) {
		body, err := io.ReadAll(io.LimitReader(req.Body, maxRequestBody))
		if err != nil {
			caperr.WriteHTTP(w, fmt.Errorf("read body: %w", err))
			return
		}
		query := make(map[string]string)
		for key, values := range req.URL.Query() {
			if len(values) > 0 {
				query[key] = values[0]
			}
		}
		input, err := json.Marshal(wasmRequest{
			Method:     req.Method,
			Path:       req.URL.Path,
			Query:      query,
			ResourceID: chi.URLParam(req, "resourceID"),
			Body:       string(body),
		})
		if err != nil {
			caperr.WriteHTTP(w, err)
			return
		}

		out, err := rt.Call(req.Context(), export, input)
		if err != nil {
			caperr.WriteHTTP(w, err)
			return
		}

		var resp wasmResponse
		if err := json.Unmarshal(out, &resp); err != nil {
			// Not the response envelope; pass raw output through as JSON.
			w.Header().Set("Content-Type", "application/json")
			w.Write(out)
			return
		}
		if resp.Status == 0 {
			resp.Status = http.StatusOK
		}
		if resp.ContentType == "" {
			resp.ContentType = "application/json"
		}
		w.Header().Set("Content-Type", resp.ContentType)
		w.WriteHeader(resp.Status)
		io.WriteString(w, resp.Body)
	}
}

// Shutdown disposes every loaded runtime, logging failures and continuing.
func (h *ExtensionHost) Shutdown(ctx context.Context) {
	h.mu.Lock()
	defer h.mu.Unlock()
	for _, id := range h.order {
		lp := h.byID[id]
		if lp.Runtime == nil {
			continue
		}
		if err := lp.Runtime.Dispose(ctx); err != nil {
			h.log.Warn("plugin dispose failed", "plugin", id, "error", err)
		}
		lp.Runtime = nil
	}
	h.log.Info("extension host stopped", "plugins", len(h.order))
}
