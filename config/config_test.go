package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestLoad_Defaults(t *testing.T) {
	path := writeConfig(t, "store:\n  driver: memory\n")
	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Server.Port != 8080 {
		t.Errorf("port = %d, want 8080", cfg.Server.Port)
	}
	if cfg.Policy.RuleDoc != "/auth.html" {
		t.Errorf("rule_doc = %q, want /auth.html", cfg.Policy.RuleDoc)
	}
	if cfg.Policy.RefreshInterval != 2*time.Second {
		t.Errorf("refresh_interval = %v, want 2s", cfg.Policy.RefreshInterval)
	}
	if cfg.Compose.MaxIncludeDepth != 8 {
		t.Errorf("max_include_depth = %d, want 8", cfg.Compose.MaxIncludeDepth)
	}
}

func TestLoad_FullFile(t *testing.T) {
	path := writeConfig(t, `
server:
  host: 127.0.0.1
  port: 9000
store:
  driver: fs
  root: /srv/docs
  watch: true
policy:
  rule_doc: /policy/rules.html
  admins: [root]
  admin_group: staff
actors:
  - name: alice
    password_hash: "$2a$10$abcdefghijklmnopqrstuv"
    admin: false
logging:
  level: debug
  format: console
metrics:
  enabled: true
`)
	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Store.Driver != "fs" || cfg.Store.Root != "/srv/docs" || !cfg.Store.Watch {
		t.Errorf("store = %+v", cfg.Store)
	}
	if cfg.Policy.RuleDoc != "/policy/rules.html" || cfg.Policy.AdminGroup != "staff" {
		t.Errorf("policy = %+v", cfg.Policy)
	}
	if len(cfg.Actors) != 1 || cfg.Actors[0].Name != "alice" {
		t.Errorf("actors = %+v", cfg.Actors)
	}
}

func TestLoad_InvalidDriver(t *testing.T) {
	path := writeConfig(t, "store:\n  driver: postgres\n")
	if _, err := Load(path); err == nil {
		t.Fatal("expected validation error for unknown driver")
	}
}

func TestLoad_RelativeRuleDocRejected(t *testing.T) {
	path := writeConfig(t, "policy:\n  rule_doc: auth.html\n")
	if _, err := Load(path); err == nil {
		t.Fatal("expected validation error for relative rule_doc")
	}
}

func TestEnvOverrides(t *testing.T) {
	t.Setenv("PAGELOVE_SERVER_PORT", "9999")
	t.Setenv("PAGELOVE_ADMINS", "root, ops")

	path := writeConfig(t, "server:\n  port: 9000\n")
	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Server.Port != 9999 {
		t.Errorf("port = %d, want env override 9999", cfg.Server.Port)
	}
	if len(cfg.Policy.Admins) != 2 || cfg.Policy.Admins[1] != "ops" {
		t.Errorf("admins = %v", cfg.Policy.Admins)
	}
}

func TestLoadWithFallback_Env(t *testing.T) {
	t.Setenv("PAGELOVE_STORE_DRIVER", "memory")
	cfg, err := LoadWithFallback(filepath.Join(t.TempDir(), "nope.yaml"))
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Store.Driver != "memory" {
		t.Errorf("driver = %q", cfg.Store.Driver)
	}
}

func TestLoadWithFallback_NothingConfigured(t *testing.T) {
	if _, err := LoadWithFallback(filepath.Join(t.TempDir(), "nope.yaml")); err == nil {
		t.Fatal("expected error with no file and no env")
	}
}
