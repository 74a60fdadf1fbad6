package config

import (
	"os"
	"path/filepath"
	"testing"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.jsonc")
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}
	return path
}

func TestLoad_JSONCWithComments(t *testing.T) {
	path := writeConfig(t, `{
		// gateway settings
		"gateway": { "host": "0.0.0.0", "port": 9000 },
		"runtime": { "environment": "production" }
	}`)

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Gateway.Host != "0.0.0.0" || cfg.Gateway.Port != 9000 {
		t.Errorf("unexpected gateway config: %+v", cfg.Gateway)
	}
	if !cfg.IsProduction() {
		t.Error("expected production environment")
	}
}

func TestLoad_EnvTemplateExpansion(t *testing.T) {
	t.Setenv("PAVILION_TEST_TOKEN", "s3cret")

	path := writeConfig(t, `{
		"gateway": { "auth_token": "${{ .Env.PAVILION_TEST_TOKEN }}" }
	}`)

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Gateway.AuthToken != "s3cret" {
		t.Errorf("expected expanded token, got %q", cfg.Gateway.AuthToken)
	}
}

func TestLoad_Defaults(t *testing.T) {
	t.Setenv("PAVILION_PATH", t.TempDir())
	t.Setenv("PAVILION_ENV", "")

	path := writeConfig(t, `{}`)
	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}

	if cfg.Gateway.Host != "127.0.0.1" {
		t.Errorf("expected default host, got %q", cfg.Gateway.Host)
	}
	if cfg.Gateway.Port != 8980 {
		t.Errorf("expected default port, got %d", cfg.Gateway.Port)
	}
	if cfg.Runtime.Environment != EnvDevelopment {
		t.Errorf("expected development default, got %q", cfg.Runtime.Environment)
	}
	if cfg.Plugins.Dir == "" || cfg.Storage.DBPath == "" {
		t.Error("expected path defaults to be filled")
	}
	if cfg.Plugins.CapabilityOverrides == nil {
		t.Error("expected non-nil capability overrides map")
	}
}

func TestLoad_CoreAllowlistFromEnv(t *testing.T) {
	t.Setenv("PAVILION_CORE_DATA_ALLOWLIST", "blog, admin ,")

	path := writeConfig(t, `{"plugins": {"core_data_allowlist": ["billing"]}}`)
	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}

	want := []string{"billing", "blog", "admin"}
	if len(cfg.Plugins.CoreDataAllowlist) != len(want) {
		t.Fatalf("expected %v, got %v", want, cfg.Plugins.CoreDataAllowlist)
	}
	for i, ns := range want {
		if cfg.Plugins.CoreDataAllowlist[i] != ns {
			t.Errorf("allowlist[%d]: expected %q, got %q", i, ns, cfg.Plugins.CoreDataAllowlist[i])
		}
	}
}

func TestLoad_MissingFile(t *testing.T) {
	if _, err := Load(filepath.Join(t.TempDir(), "nope.jsonc")); err == nil {
		t.Fatal("expected error for missing config file")
	}
}

func TestGrantAllFromEnv(t *testing.T) {
	t.Setenv("PAVILION_GRANT_ALL_CAPABILITIES", "true")

	path := writeConfig(t, `{}`)
	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if !cfg.Plugins.GrantAllCapabilities {
		t.Error("expected grant-all to be enabled from env")
	}
}
