// Package plugins provides the Pavilion extension host: manifest discovery
// and validation, capability grant resolution, per-plugin data-access
// guarding, and runtime enable/disable state.
package plugins

import (
	"log/slog"
	"sort"
	"strings"
)

// PluginManifest describes a plugin's metadata, requested capabilities, and
// mount points. It is declared by plugin authors, read once per process start
// (or explicit reload), and immutable after validation.
type PluginManifest struct {
	Name        string `json:"name"`
	Version     string `json:"version"`
	Description string `json:"description"`

	// Entry points. At least one of Entry or EntryPoints is required.
	Entry       string   `json:"entry"`       // path to the plugin's wasm module, relative to its directory
	EntryPoints []string `json:"entryPoints"` // alternative multi-entry form; the first is loaded

	Capabilities []string          `json:"capabilities"` // requested capability keys
	Events       EventsSpec        `json:"events"`
	Config       map[string]string `json:"config"`
	Mounts       map[string]string `json:"mounts"` // logical key → URL path; a "project" key makes the web surface per-resource

	Type       string `json:"type"` // "spa" or "custom" (default "custom")
	Enabled    *bool  `json:"enabled"`
	DevOnly    bool   `json:"devOnly"`
	CorePlugin bool   `json:"corePlugin"`

	Sovereign SovereignSpec `json:"sovereign"`
}

// EventsSpec declares the bus events a plugin subscribes to.
type EventsSpec struct {
	Subscribe []string `json:"subscribe"`
}

// SovereignSpec holds the platform-level capability map: an alternative,
// boolean-valued way of requesting capabilities.
type SovereignSpec struct {
	PlatformCapabilities map[string]bool `json:"platformCapabilities"`
}

// EnableState returns the manifest's declared tri-state enablement.
func (m *PluginManifest) EnableState() EnableState {
	return EnableFromBool(m.Enabled)
}

// EntryPath returns the declared entry module path: Entry when set, otherwise
// the first of EntryPoints. Empty means no entry was declared.
func (m *PluginManifest) EntryPath() string {
	if m.Entry != "" {
		return m.Entry
	}
	if len(m.EntryPoints) > 0 {
		return m.EntryPoints[0]
	}
	return ""
}

// RequestedCapabilities returns the ordered, deduplicated union of the
// capabilities list and the sovereign platform capability map (true entries,
// sorted for determinism).
func (m *PluginManifest) RequestedCapabilities() []string {
	seen := make(map[string]bool)
	var keys []string
	for _, key := range m.Capabilities {
		if key != "" && !seen[key] {
			seen[key] = true
			keys = append(keys, key)
		}
	}

	var platform []string
	for key, requested := range m.Sovereign.PlatformCapabilities {
		if requested && key != "" && !seen[key] {
			seen[key] = true
			platform = append(platform, key)
		}
	}
	sort.Strings(platform)
	return append(keys, platform...)
}

// Clone creates a deep copy of the manifest.
func (m *PluginManifest) Clone() *PluginManifest {
	clone := *m

	if m.Enabled != nil {
		v := *m.Enabled
		clone.Enabled = &v
	}
	if m.Capabilities != nil {
		clone.Capabilities = make([]string, len(m.Capabilities))
		copy(clone.Capabilities, m.Capabilities)
	}
	if m.EntryPoints != nil {
		clone.EntryPoints = make([]string, len(m.EntryPoints))
		copy(clone.EntryPoints, m.EntryPoints)
	}
	if m.Events.Subscribe != nil {
		clone.Events.Subscribe = make([]string, len(m.Events.Subscribe))
		copy(clone.Events.Subscribe, m.Events.Subscribe)
	}
	if m.Config != nil {
		clone.Config = make(map[string]string, len(m.Config))
		for k, v := range m.Config {
			clone.Config[k] = v
		}
	}
	if m.Mounts != nil {
		clone.Mounts = make(map[string]string, len(m.Mounts))
		for k, v := range m.Mounts {
			clone.Mounts[k] = v
		}
	}
	if m.Sovereign.PlatformCapabilities != nil {
		clone.Sovereign.PlatformCapabilities = make(map[string]bool, len(m.Sovereign.PlatformCapabilities))
		for k, v := range m.Sovereign.PlatformCapabilities {
			clone.Sovereign.PlatformCapabilities[k] = v
		}
	}
	return &clone
}

// Issue describes a single manifest validation failure.
type Issue struct {
	Path    string `json:"path"`
	Keyword string `json:"keyword"`
	Message string `json:"message"`
}

// ValidationResult is the outcome of validating a raw manifest.
type ValidationResult struct {
	OK       bool
	Manifest *PluginManifest // normalized copy; nil on failure
	Issues   []Issue
}

// ManifestMeta carries context about where a manifest came from.
type ManifestMeta struct {
	Directory string // plugin directory name, for log attribution
}

// ValidateManifest validates required fields, fills defaults for optional
// collections, and normalizes mount paths. It operates on a deep copy and
// never mutates raw. Malformed-but-well-typed input produces issues, not
// errors; there is nothing here that panics on bad plugin data.
func ValidateManifest(raw *PluginManifest, meta ManifestMeta) ValidationResult {
	var issues []Issue
	if raw == nil {
		return ValidationResult{Issues: []Issue{{Path: "", Keyword: "required", Message: "manifest is empty"}}}
	}

	m := raw.Clone()

	if strings.TrimSpace(m.Name) == "" {
		issues = append(issues, Issue{Path: "name", Keyword: "required", Message: "name must be a non-empty string"})
	}
	if strings.TrimSpace(m.Version) == "" {
		issues = append(issues, Issue{Path: "version", Keyword: "required", Message: "version must be a non-empty string"})
	}
	if m.EntryPath() == "" {
		issues = append(issues, Issue{Path: "entry", Keyword: "required", Message: "an entry or entryPoints descriptor is required"})
	}
	if m.Type != "" && m.Type != "spa" && m.Type != "custom" {
		issues = append(issues, Issue{Path: "type", Keyword: "enum", Message: "type must be \"spa\" or \"custom\""})
	}

	if len(issues) > 0 {
		return ValidationResult{Issues: issues}
	}

	// Defaults for optional collections: never nil after validation.
	if m.Capabilities == nil {
		m.Capabilities = []string{}
	}
	if m.Events.Subscribe == nil {
		m.Events.Subscribe = []string{}
	}
	if m.Config == nil {
		m.Config = map[string]string{}
	}
	if m.Type == "" {
		m.Type = "custom"
	}

	// Mount normalization: invalid entries are dropped with a warning, never
	// silently replaced with a default.
	mounts := make(map[string]string, len(m.Mounts))
	for key, path := range m.Mounts {
		normalized, ok := NormalizeMountPath(path)
		if !ok {
			slog.Warn("dropping invalid mount path",
				"plugin", m.Name, "directory", meta.Directory, "mount", key, "path", path)
			continue
		}
		mounts[key] = normalized
	}
	m.Mounts = mounts

	return ValidationResult{OK: true, Manifest: m}
}

// NormalizeMountPath normalizes a mount path: ensures a leading "/", strips a
// trailing "/" except for the bare root, and rejects empty or query-bearing
// values. Returns the normalized path and whether it was usable.
func NormalizeMountPath(path string) (string, bool) {
	path = strings.TrimSpace(path)
	if path == "" || strings.ContainsAny(path, "?#") || strings.Contains(path, "//") {
		return "", false
	}
	if !strings.HasPrefix(path, "/") {
		path = "/" + path
	}
	for len(path) > 1 && strings.HasSuffix(path, "/") {
		path = path[:len(path)-1]
	}
	return path, true
}
