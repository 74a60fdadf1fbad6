package plugins

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"path/filepath"
	"sync"

	extism "github.com/extism/go-sdk"

	"github.com/pavilion-host/pavilion/internal/events"
)

// ExportKind classifies what a plugin's entry module exposes.
type ExportKind int

const (
	// ExportUnrecognized means the module exposes neither known shape. It
	// stays loaded for event delivery but contributes no routes.
	ExportUnrecognized ExportKind = iota
	// ExportRouter means the module exposes a "routes" export returning a
	// static route table.
	ExportRouter
	// ExportFactory means the module exposes a "register" export, invoked
	// exactly once at load with the capability context document.
	ExportFactory
)

func (k ExportKind) String() string {
	switch k {
	case ExportRouter:
		return "router"
	case ExportFactory:
		return "factory"
	default:
		return "unrecognized"
	}
}

// Route is one entry of a router plugin's route table.
type Route struct {
	Method  string `json:"method"`
	Path    string `json:"path"`
	Handler string `json:"handler"` // export name invoked for this route
}

// registerDocument is what a factory plugin's "register" export receives. It
// names the granted capabilities; the handles themselves stay host-side and
// are reached through host functions.
type registerDocument struct {
	Plugin       string            `json:"plugin"`
	Capabilities []string          `json:"capabilities"`
	Config       map[string]string `json:"config"`
}

// Runtime is one loaded plugin entry module.
type Runtime struct {
	desc  *Descriptor
	grant *GrantResult
	kind  ExportKind
	log   *slog.Logger

	mu     sync.Mutex // extism plugin calls are not concurrency-safe
	plugin *extism.Plugin

	routes      []Route
	unsubscribe func()
}

// LoadRuntime instantiates desc's entry module with its granted capability
// set, classifies the exports, runs a factory's register export once, and
// subscribes the module to its declared bus events.
func LoadRuntime(ctx context.Context, desc *Descriptor, grant *GrantResult, bus *events.Bus, log *slog.Logger) (*Runtime, error) {
	entry := desc.Manifest.EntryPath()
	if entry == "" {
		return nil, fmt.Errorf("plugin %s declares no entry module", desc.Namespace())
	}
	wasmPath := filepath.Join(desc.Dir, filepath.FromSlash(entry))

	em := extism.Manifest{
		Wasm:   []extism.Wasm{extism.WasmFile{Path: wasmPath}},
		Config: desc.Manifest.Config,
	}
	plugin, err := extism.NewPlugin(ctx, em, extism.PluginConfig{EnableWasi: true},
		newHostFunctions(desc, grant, bus, log))
	if err != nil {
		return nil, fmt.Errorf("instantiate %s: %w", desc.Namespace(), err)
	}

	rt := &Runtime{desc: desc, grant: grant, log: log, plugin: plugin}

	switch {
	case plugin.FunctionExists("routes"):
		rt.kind = ExportRouter
		if err := rt.loadRoutes(ctx); err != nil {
			plugin.Close(ctx)
			return nil, err
		}
	case plugin.FunctionExists("register"):
		rt.kind = ExportFactory
		if err := rt.register(ctx); err != nil {
			plugin.Close(ctx)
			return nil, err
		}
	default:
		rt.kind = ExportUnrecognized
		log.Warn("entry module exposes neither routes nor register",
			"plugin", desc.Namespace())
	}

	if plugin.FunctionExists("on_event") && len(desc.Manifest.Events.Subscribe) > 0 {
		types := make([]events.EventType, 0, len(desc.Manifest.Events.Subscribe))
		for _, t := range desc.Manifest.Events.Subscribe {
			types = append(types, events.EventType(t))
		}
		rt.unsubscribe = bus.Subscribe(rt.forwardEvent, types...)
	}

	return rt, nil
}

func (r *Runtime) loadRoutes(ctx context.Context) error {
	out, err := r.call(ctx, "routes", nil)
	if err != nil {
		return fmt.Errorf("read route table of %s: %w", r.desc.Namespace(), err)
	}
	var routes []Route
	if err := json.Unmarshal(out, &routes); err != nil {
		return fmt.Errorf("parse route table of %s: %w", r.desc.Namespace(), err)
	}
	for i, route := range routes {
		if route.Handler == "" {
			return fmt.Errorf("route %d of %s is missing its handler", i, r.desc.Namespace())
		}
		normalized, ok := NormalizeMountPath(route.Path)
		if !ok {
			return fmt.Errorf("route %d of %s has unusable path %q", i, r.desc.Namespace(), route.Path)
		}
		routes[i].Path = normalized
	}
	r.routes = routes
	return nil
}

// register invokes the factory export with the capability context document.
// Called once at load; never again for the runtime's lifetime.
func (r *Runtime) register(ctx context.Context) error {
	doc, err := json.Marshal(registerDocument{
		Plugin:       r.desc.Namespace(),
		Capabilities: r.grant.Granted,
		Config:       r.desc.Manifest.Config,
	})
	if err != nil {
		return err
	}
	if _, err := r.call(ctx, "register", doc); err != nil {
		return fmt.Errorf("register export of %s: %w", r.desc.Namespace(), err)
	}
	return nil
}

func (r *Runtime) forwardEvent(event events.Event) {
	data, err := json.Marshal(event)
	if err != nil {
		return
	}
	if _, err := r.call(context.Background(), "on_event", data); err != nil {
		r.log.Warn("event delivery to plugin failed",
			"plugin", r.desc.Namespace(), "event", string(event.Type), "error", err)
	}
}

func (r *Runtime) call(ctx context.Context, export string, input []byte) ([]byte, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	exit, out, err := r.plugin.CallWithContext(ctx, export, input)
	if err != nil {
		return nil, err
	}
	if exit != 0 {
		return nil, fmt.Errorf("export %s exited with code %d", export, exit)
	}
	return out, nil
}

// Call invokes a named export. Used by the gateway to dispatch API requests
// to router handlers and to the generic "handle" export of factory plugins.
func (r *Runtime) Call(ctx context.Context, export string, input []byte) ([]byte, error) {
	if !r.plugin.FunctionExists(export) {
		return nil, fmt.Errorf("plugin %s has no export %q", r.desc.Namespace(), export)
	}
	return r.call(ctx, export, input)
}

// Kind returns the export classification.
func (r *Runtime) Kind() ExportKind { return r.kind }

// Routes returns the static route table of a router plugin (nil otherwise).
func (r *Runtime) Routes() []Route { return r.routes }

// Descriptor returns the plugin this runtime was loaded from.
func (r *Runtime) Descriptor() *Descriptor { return r.desc }

// Granted returns the capability keys granted at load.
func (r *Runtime) Granted() []string { return r.grant.Granted }

// Dispose unsubscribes from the bus and releases the wasm instance.
func (r *Runtime) Dispose(ctx context.Context) error {
	if r.unsubscribe != nil {
		r.unsubscribe()
		r.unsubscribe = nil
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.plugin.Close(ctx)
}
