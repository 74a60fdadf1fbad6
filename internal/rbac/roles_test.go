package rbac

import (
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"
)

func writeRoles(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "roles.yaml")
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("write roles: %v", err)
	}
	return path
}

func TestLoadRoles(t *testing.T) {
	path := writeRoles(t, `
roles:
  editor:
    capabilities:
      docs:edit: allow
      docs:delete: deny
  auditor:
    capabilities:
      audit:read: anonymized
`)

	roles, err := LoadRoles(path)
	if err != nil {
		t.Fatalf("LoadRoles: %v", err)
	}
	if len(roles) != 2 {
		t.Fatalf("expected 2 roles, got %d", len(roles))
	}
	if roles["editor"].Capabilities["docs:edit"] != ValueAllow {
		t.Errorf("unexpected editor caps: %v", roles["editor"].Capabilities)
	}
	if roles["auditor"].Name != "auditor" {
		t.Errorf("expected role name to be filled, got %q", roles["auditor"].Name)
	}
}

func TestLoadRoles_UnknownValue(t *testing.T) {
	path := writeRoles(t, `
roles:
  broken:
    capabilities:
      docs:edit: maybe
`)
	if _, err := LoadRoles(path); err == nil {
		t.Fatal("expected error for unknown capability value")
	}
}

func TestLoadRoles_MissingFile(t *testing.T) {
	roles, err := LoadRoles(filepath.Join(t.TempDir(), "nope.yaml"))
	if err != nil {
		t.Fatalf("expected empty set for missing file, got error: %v", err)
	}
	if len(roles) != 0 {
		t.Errorf("expected no roles, got %d", len(roles))
	}
}

func TestResolver_AndRequireCapability(t *testing.T) {
	defined := map[string]Role{
		"editor": {Name: "editor", Capabilities: map[string]Value{"docs:edit": ValueAllow}},
	}

	handler := Resolver(defined)(RequireCapability("docs:edit")(
		http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusNoContent)
		})))

	// With the editor role the request passes.
	req := httptest.NewRequest(http.MethodGet, "/docs", nil)
	req.Header.Set("X-Pavilion-Roles", "editor, ghost")
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	if rec.Code != http.StatusNoContent {
		t.Errorf("expected 204 with editor role, got %d", rec.Code)
	}

	// Without roles the capability is denied.
	req = httptest.NewRequest(http.MethodGet, "/docs", nil)
	rec = httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	if rec.Code != http.StatusForbidden {
		t.Errorf("expected 403 without roles, got %d", rec.Code)
	}
}
