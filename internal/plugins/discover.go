package plugins

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"

	"github.com/marcozac/go-jsonc"
)

// ManifestFileName is the manifest file expected in each plugin directory.
const ManifestFileName = "plugin.jsonc"

// Descriptor is the host-internal, normalized view of a discovered plugin.
// It is created by Discover and never mutated afterwards within a boot cycle.
type Descriptor struct {
	Manifest      *PluginManifest
	ID            string // manifest name, or directory name fallback
	DirectoryName string
	Dir           string // absolute plugin directory
	ManifestPath  string
}

// Namespace returns the plugin's URL namespace. It equals the ID unless a
// persisted registry row overrides it at merge time.
func (d *Descriptor) Namespace() string {
	return d.ID
}

// EntryFile returns the absolute path of the plugin's entry module.
func (d *Descriptor) EntryFile() string {
	entry := d.Manifest.EntryPath()
	if entry == "" {
		return ""
	}
	if filepath.IsAbs(entry) {
		return entry
	}
	return filepath.Join(d.Dir, entry)
}

// Discover walks pluginsDir, reads each subdirectory's manifest, validates
// it, and returns descriptors sorted lexically by id. A broken plugin never
// aborts discovery of its siblings: missing manifests are skipped quietly,
// malformed or invalid ones are skipped with an error log.
func Discover(pluginsDir string) ([]*Descriptor, error) {
	entries, err := os.ReadDir(pluginsDir)
	if err != nil {
		if os.IsNotExist(err) {
			slog.Debug("plugins directory not found, skipping", "dir", pluginsDir)
			return nil, nil
		}
		return nil, fmt.Errorf("read plugins dir: %w", err)
	}

	var descriptors []*Descriptor
	for _, entry := range entries {
		if !entry.IsDir() {
			continue
		}

		dir := filepath.Join(pluginsDir, entry.Name())
		manifestPath := filepath.Join(dir, ManifestFileName)

		data, err := os.ReadFile(manifestPath)
		if err != nil {
			if os.IsNotExist(err) {
				slog.Debug("no manifest, skipping directory", "dir", entry.Name())
			} else {
				slog.Warn("failed to read manifest", "dir", entry.Name(), "error", err)
			}
			continue
		}

		var raw PluginManifest
		if err := jsonc.Unmarshal(data, &raw); err != nil {
			slog.Error("malformed manifest, skipping plugin", "dir", entry.Name(), "error", err)
			continue
		}

		// A manifest that declares itself disabled stops discovery of this
		// directory early; siblings are unaffected.
		if raw.EnableState() == EnableOff {
			slog.Debug("plugin disabled by its manifest, skipping", "dir", entry.Name())
			continue
		}

		result := ValidateManifest(&raw, ManifestMeta{Directory: entry.Name()})
		if !result.OK {
			slog.Error("manifest failed validation, skipping plugin",
				"dir", entry.Name(), "issues", formatIssues(result.Issues))
			continue
		}

		id := result.Manifest.Name
		if id == "" {
			id = entry.Name()
		}

		absDir, err := filepath.Abs(dir)
		if err != nil {
			absDir = dir
		}

		descriptors = append(descriptors, &Descriptor{
			Manifest:      result.Manifest,
			ID:            id,
			DirectoryName: entry.Name(),
			Dir:           absDir,
			ManifestPath:  manifestPath,
		})
	}

	sort.Slice(descriptors, func(i, j int) bool {
		return descriptors[i].ID < descriptors[j].ID
	})
	return descriptors, nil
}

func formatIssues(issues []Issue) string {
	out := ""
	for i, issue := range issues {
		if i > 0 {
			out += "; "
		}
		out += fmt.Sprintf("%s: %s", issue.Path, issue.Message)
	}
	return out
}
