package plugins

import (
	"fmt"
	"path/filepath"
	"strings"

	"github.com/google/uuid"

	"github.com/pavilion-host/pavilion/internal/config"
	"github.com/pavilion-host/pavilion/internal/events"
	"github.com/pavilion-host/pavilion/internal/gitops"
	"github.com/pavilion-host/pavilion/internal/mailer"
	"github.com/pavilion-host/pavilion/internal/secrets"
	"github.com/pavilion-host/pavilion/internal/store"
)

// RiskTier classifies how much damage a capability can do if misused.
type RiskTier string

const (
	RiskLow      RiskTier = "low"
	RiskMedium   RiskTier = "medium"
	RiskHigh     RiskTier = "high"
	RiskCritical RiskTier = "critical"
)

// ResolveDeps carries the host services capability resolvers draw from.
// Nil entries are allowed; a resolver that needs a missing dependency fails
// with a configuration error instead of handing out a broken handle.
type ResolveDeps struct {
	Store   store.Client
	Secrets *secrets.Bag
	Mailer  *mailer.Client
	Git     *gitops.Client
	Bus     *events.Bus

	// DataDir is the root under which per-plugin filesystem and upload
	// directories are created (<DataDir>/<namespace>, <DataDir>/<namespace>/uploads).
	DataDir string

	// RefreshEnvCache re-reads the host's environment snapshot. Injected so
	// the capability stays testable.
	RefreshEnvCache func()
}

// ResolveContext is the input to a single capability resolution.
type ResolveContext struct {
	Plugin *Descriptor
	Config *config.Config
	Deps   ResolveDeps
}

// Capability is one entry of the host's static capability registry. Key is
// what manifests request; Provides is the name the resolved value is bound to
// in the plugin's capability context.
type Capability struct {
	Key            string
	Provides       string
	Risk           RiskTier
	DisabledInProd bool
	EnabledFlag    string // production override flag name; empty means no override exists
	Resolve        func(rc ResolveContext) (any, error)
}

// capabilityRegistry is the full set of capabilities the host can grant.
// Order is the resolution order; it is fixed at compile time and plugins can
// only request entries from it.
var capabilityRegistry = []Capability{
	{
		Key:      "database",
		Provides: "db",
		Risk:     RiskCritical,
		Resolve: func(rc ResolveContext) (any, error) {
			if rc.Deps.Store == nil {
				return nil, fmt.Errorf("datastore is not configured")
			}
			return ScopedClient(rc.Plugin, rc.Config, rc.Deps.Store, rc.Deps.Bus), nil
		},
	},
	{
		Key:      "git",
		Provides: "git",
		Risk:     RiskHigh,
		Resolve: func(rc ResolveContext) (any, error) {
			if rc.Deps.Git == nil {
				return nil, fmt.Errorf("git work dir is not configured")
			}
			return rc.Deps.Git.Scoped(rc.Plugin.Namespace()), nil
		},
	},
	{
		Key:      "filesystem",
		Provides: "fs",
		Risk:     RiskHigh,
		Resolve: func(rc ResolveContext) (any, error) {
			if rc.Deps.DataDir == "" {
				return nil, fmt.Errorf("data dir is not configured")
			}
			root := filepath.Join(rc.Deps.DataDir, rc.Plugin.Namespace())
			return NewFSAccess(root, fsPatterns(rc.Plugin.Manifest)), nil
		},
	},
	{
		Key:      "mailer",
		Provides: "mailer",
		Risk:     RiskMedium,
		Resolve: func(rc ResolveContext) (any, error) {
			// Resolution only hands out the client; nothing is sent here.
			if rc.Deps.Mailer == nil {
				return nil, fmt.Errorf("mailer is not configured")
			}
			return rc.Deps.Mailer, nil
		},
	},
	{
		Key:      "secrets",
		Provides: "secrets",
		Risk:     RiskCritical,
		Resolve: func(rc ResolveContext) (any, error) {
			if rc.Deps.Secrets == nil {
				return nil, fmt.Errorf("secret bag is not configured")
			}
			return rc.Deps.Secrets.Scoped(rc.Plugin.Namespace()), nil
		},
	},
	{
		Key:      "idgen",
		Provides: "idgen",
		Risk:     RiskLow,
		Resolve: func(rc ResolveContext) (any, error) {
			return IDGenerator(uuid.NewString), nil
		},
	},
	{
		Key:      "envCache",
		Provides: "refreshEnvCache",
		Risk:     RiskLow,
		Resolve: func(rc ResolveContext) (any, error) {
			if rc.Deps.RefreshEnvCache == nil {
				return nil, fmt.Errorf("env cache refresh is not wired")
			}
			return rc.Deps.RefreshEnvCache, nil
		},
	},
	{
		Key:            "fileUpload",
		Provides:       "uploads",
		Risk:           RiskHigh,
		DisabledInProd: true,
		EnabledFlag:    "fileUpload",
		Resolve: func(rc ResolveContext) (any, error) {
			if rc.Deps.DataDir == "" {
				return nil, fmt.Errorf("data dir is not configured")
			}
			dir := filepath.Join(rc.Deps.DataDir, rc.Plugin.Namespace(), "uploads")
			return NewUploads(dir), nil
		},
	},
}

// IDGenerator produces opaque unique identifiers.
type IDGenerator func() string

// LookupCapability returns the registry entry for key.
func LookupCapability(key string) (Capability, bool) {
	for _, c := range capabilityRegistry {
		if c.Key == key {
			return c, true
		}
	}
	return Capability{}, false
}

// Capabilities returns the registry in resolution order.
func Capabilities() []Capability {
	out := make([]Capability, len(capabilityRegistry))
	copy(out, capabilityRegistry)
	return out
}

// fsPatterns reads the optional glob rule set for the filesystem capability
// from the manifest config ("fsPatterns", comma-separated doublestar globs).
func fsPatterns(m *PluginManifest) []string {
	raw, ok := m.Config["fsPatterns"]
	if !ok {
		return nil
	}
	var patterns []string
	for _, p := range strings.Split(raw, ",") {
		if p = strings.TrimSpace(p); p != "" {
			patterns = append(patterns, p)
		}
	}
	return patterns
}
