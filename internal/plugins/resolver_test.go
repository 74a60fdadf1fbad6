package plugins

import (
	"context"
	"log/slog"
	"path/filepath"
	"strings"
	"sync"
	"testing"

	"github.com/pavilion-host/pavilion/internal/caperr"
	"github.com/pavilion-host/pavilion/internal/config"
	"github.com/pavilion-host/pavilion/internal/gitops"
	"github.com/pavilion-host/pavilion/internal/mailer"
	"github.com/pavilion-host/pavilion/internal/secrets"
)

// captureHandler records log output for assertions.
type captureHandler struct {
	mu      sync.Mutex
	records []slog.Record
}

func (h *captureHandler) Enabled(context.Context, slog.Level) bool { return true }

func (h *captureHandler) Handle(_ context.Context, r slog.Record) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.records = append(h.records, r)
	return nil
}

func (h *captureHandler) WithAttrs([]slog.Attr) slog.Handler { return h }
func (h *captureHandler) WithGroup(string) slog.Handler      { return h }

func (h *captureHandler) countWarns(substr string) int {
	h.mu.Lock()
	defer h.mu.Unlock()
	n := 0
	for _, r := range h.records {
		if r.Level == slog.LevelWarn && strings.Contains(r.Message, substr) {
			n++
		}
	}
	return n
}

// countWarnsWithAttr counts warn records matching substr that also carry the
// given attribute key/value pair.
func (h *captureHandler) countWarnsWithAttr(substr, key, value string) int {
	h.mu.Lock()
	defer h.mu.Unlock()
	n := 0
	for _, r := range h.records {
		if r.Level != slog.LevelWarn || !strings.Contains(r.Message, substr) {
			continue
		}
		r.Attrs(func(a slog.Attr) bool {
			if a.Key == key && a.Value.String() == value {
				n++
				return false
			}
			return true
		})
	}
	return n
}

func testDeps(t *testing.T) ResolveDeps {
	t.Helper()
	bag, err := secrets.LoadBag(filepath.Join(t.TempDir(), "secrets.jsonc"), nil)
	if err != nil {
		t.Fatal(err)
	}
	return ResolveDeps{
		Store:           newMemClient(),
		Secrets:         bag,
		Mailer:          mailer.NewClient("localhost", 2525, "host@example.test", "", ""),
		Git:             gitops.NewClient(t.TempDir(), 0),
		DataDir:         t.TempDir(),
		RefreshEnvCache: func() {},
	}
}

func devConfig() *config.Config {
	cfg := &config.Config{}
	cfg.Runtime.Environment = config.EnvDevelopment
	return cfg
}

func prodConfig() *config.Config {
	cfg := &config.Config{}
	cfg.Runtime.Environment = config.EnvProduction
	return cfg
}

func requestCaps(id string, keys ...string) *Descriptor {
	d := testDescriptor(id, false)
	d.Manifest.Capabilities = keys
	return d
}

func TestResolveBindsProvidesNames(t *testing.T) {
	r := NewResolver(devConfig(), testDeps(t), slog.Default())

	result, err := r.Resolve(requestCaps("notes", "database", "idgen", "filesystem", "secrets"))
	if err != nil {
		t.Fatalf("resolve: %v", err)
	}
	for _, provides := range []string{"db", "idgen", "fs", "secrets"} {
		if _, ok := result.Context[provides]; !ok {
			t.Errorf("context missing %q: %v", provides, result.Granted)
		}
	}
	if len(result.Granted) != 4 {
		t.Errorf("granted = %v", result.Granted)
	}
	if len(result.Context) != 4 {
		t.Errorf("context has extra keys: %v", result.Context)
	}
	gen, ok := result.Context["idgen"].(IDGenerator)
	if !ok {
		t.Fatal("idgen value has wrong type")
	}
	if a, b := gen(), gen(); a == b || a == "" {
		t.Errorf("generator must return fresh ids, got %q and %q", a, b)
	}
}

func TestResolveUnknownKeyFailsWhole(t *testing.T) {
	r := NewResolver(devConfig(), testDeps(t), slog.Default())

	result, err := r.Resolve(requestCaps("notes", "database", "teleport", "idgen"))
	if err == nil {
		t.Fatal("unknown capability must fail the whole call")
	}
	if result != nil {
		t.Fatalf("failed resolution must not return a partial context, got %+v", result)
	}
	if !strings.Contains(err.Error(), "notes") || !strings.Contains(err.Error(), "teleport") {
		t.Errorf("error should name plugin and key: %v", err)
	}
}

func TestResolveProdDisabledWithoutOverride(t *testing.T) {
	r := NewResolver(prodConfig(), testDeps(t), slog.Default())

	_, err := r.Resolve(requestCaps("notes", "fileUpload"))
	ce, ok := caperr.As(err)
	if !ok {
		t.Fatalf("expected capability error, got %v", err)
	}
	if ce.Code != "capability_disabled_in_production" {
		t.Errorf("code = %q", ce.Code)
	}
	if ce.Meta["capability"] != "fileUpload" {
		t.Errorf("meta = %v", ce.Meta)
	}
}

func TestResolveProdOverrideWarnsOncePerPlugin(t *testing.T) {
	capture := &captureHandler{}
	cfg := prodConfig()
	cfg.Plugins.CapabilityOverrides = map[string]bool{"fileUpload": true}
	r := NewResolver(cfg, testDeps(t), slog.New(capture))

	for _, id := range []string{"first", "second", "third"} {
		result, err := r.Resolve(requestCaps(id, "fileUpload"))
		if err != nil {
			t.Fatalf("resolve %s: %v", id, err)
		}
		if _, ok := result.Context["uploads"]; !ok {
			t.Fatalf("uploads handle missing for %s", id)
		}
	}

	// Every plugin using the override gets its own audit line, and that line
	// names the plugin.
	if n := capture.countWarns("override"); n != 3 {
		t.Errorf("override warning logged %d times, want one per plugin", n)
	}
	for _, id := range []string{"first", "second", "third"} {
		if n := capture.countWarnsWithAttr("override", "plugin", id); n != 1 {
			t.Errorf("override warning for plugin %s logged %d times, want exactly 1", id, n)
		}
	}
	if n := capture.countWarnsWithAttr("override", "capability", "fileUpload"); n != 3 {
		t.Errorf("override warnings naming the capability = %d, want 3", n)
	}

	// A repeat resolution of the same plugin does not audit again.
	if _, err := r.Resolve(requestCaps("first", "fileUpload")); err != nil {
		t.Fatalf("repeat resolve: %v", err)
	}
	if n := capture.countWarnsWithAttr("override", "plugin", "first"); n != 1 {
		t.Errorf("repeat resolution re-audited plugin first (%d warnings)", n)
	}
}

func TestResolveGrantAllInDevelopment(t *testing.T) {
	capture := &captureHandler{}
	cfg := devConfig()
	cfg.Plugins.GrantAllCapabilities = true
	r := NewResolver(cfg, testDeps(t), slog.New(capture))

	result, err := r.Resolve(requestCaps("sandbox"))
	if err != nil {
		t.Fatalf("resolve: %v", err)
	}
	if len(result.Granted) != len(Capabilities()) {
		t.Errorf("granted %d of %d capabilities", len(result.Granted), len(Capabilities()))
	}
	if capture.countWarns("ALL capabilities") != 1 {
		t.Error("grant-all must be logged loudly")
	}
}

func TestResolveGrantAllIgnoredInProduction(t *testing.T) {
	cfg := prodConfig()
	cfg.Plugins.GrantAllCapabilities = true
	r := NewResolver(cfg, testDeps(t), slog.Default())

	result, err := r.Resolve(requestCaps("sandbox", "idgen"))
	if err != nil {
		t.Fatalf("resolve: %v", err)
	}
	if len(result.Granted) != 1 || result.Granted[0] != "idgen" {
		t.Errorf("production must only grant the requested set, got %v", result.Granted)
	}
}

func TestResolveMissingDependencyFailsWhole(t *testing.T) {
	deps := testDeps(t)
	deps.Git = nil
	r := NewResolver(devConfig(), deps, slog.Default())

	result, err := r.Resolve(requestCaps("notes", "idgen", "git"))
	if err == nil {
		t.Fatal("missing dependency must fail resolution")
	}
	if result != nil {
		t.Fatal("failed resolution must not return a partial context")
	}
}
