package config

import (
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strings"

	"github.com/marcozac/go-jsonc"
)

var envTemplateRe = regexp.MustCompile(`\$\{\{\s*\.Env\.(\w+)\s*\}\}`)

// Load reads a JSONC config file, strips comments, expands ${{ .Env.VAR }}
// templates, unmarshals it into Config, and applies defaults.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}

	// Expand environment variable templates (before stripping, since templates are in strings)
	expanded := expandEnvTemplates(string(data))

	var cfg Config
	if err := jsonc.Unmarshal([]byte(expanded), &cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}

	applyDefaults(&cfg)
	return &cfg, nil
}

// Default returns a Config with every default applied and no file read.
func Default() *Config {
	cfg := &Config{}
	applyDefaults(cfg)
	return cfg
}

// expandEnvTemplates replaces ${{ .Env.VAR }} with the env var value.
func expandEnvTemplates(s string) string {
	return envTemplateRe.ReplaceAllStringFunc(s, func(match string) string {
		parts := envTemplateRe.FindStringSubmatch(match)
		if len(parts) < 2 {
			return match
		}
		return os.Getenv(parts[1])
	})
}

// applyDefaults fills in zero-value fields with sensible defaults.
func applyDefaults(cfg *Config) {
	if cfg.Runtime.Environment == "" {
		if v := os.Getenv("PAVILION_ENV"); v != "" {
			cfg.Runtime.Environment = v
		} else {
			cfg.Runtime.Environment = EnvDevelopment
		}
	}
	if cfg.Gateway.Host == "" {
		cfg.Gateway.Host = "127.0.0.1"
	}
	if cfg.Gateway.Port == 0 {
		cfg.Gateway.Port = 8980
	}
	if cfg.Events.BufferSize == 0 {
		cfg.Events.BufferSize = 1024
	}
	if cfg.Plugins.Dir == "" {
		cfg.Plugins.Dir = filepath.Join(PavilionPath(), "plugins")
	}
	if cfg.Plugins.CapabilityOverrides == nil {
		cfg.Plugins.CapabilityOverrides = map[string]bool{}
	}
	// PAVILION_GRANT_ALL_CAPABILITIES is the env-var form of the dev override.
	if v := os.Getenv("PAVILION_GRANT_ALL_CAPABILITIES"); v == "1" || v == "true" {
		cfg.Plugins.GrantAllCapabilities = true
	}
	// PAVILION_CORE_DATA_ALLOWLIST extends the config allowlist (comma-separated).
	if v := os.Getenv("PAVILION_CORE_DATA_ALLOWLIST"); v != "" {
		for _, ns := range strings.Split(v, ",") {
			if ns = strings.TrimSpace(ns); ns != "" {
				cfg.Plugins.CoreDataAllowlist = append(cfg.Plugins.CoreDataAllowlist, ns)
			}
		}
	}
	if cfg.RBAC.RolesFile == "" {
		cfg.RBAC.RolesFile = filepath.Join(PavilionPath(), "roles.yaml")
	}
	if cfg.Storage.DBPath == "" {
		cfg.Storage.DBPath = filepath.Join(PavilionPath(), "pavilion.db")
	}
	if cfg.Git.WorkDir == "" {
		cfg.Git.WorkDir = filepath.Join(PavilionPath(), "workspaces")
	}
	if cfg.Secrets.KeyPath == "" {
		cfg.Secrets.KeyPath = filepath.Join(PavilionPath(), ".age-key")
	}
	if cfg.Secrets.File == "" {
		cfg.Secrets.File = filepath.Join(PavilionPath(), "secrets.jsonc")
	}
}
