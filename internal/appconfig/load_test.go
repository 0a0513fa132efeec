package appconfig

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestLoadMissingFileUsesDefaults(t *testing.T) {
	path := filepath.Join(t.TempDir(), "absent.yaml")
	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	def, err := DefaultConfig()
	if err != nil {
		t.Fatalf("default: %v", err)
	}
	if cfg.HTTP.Addr != def.HTTP.Addr || cfg.Store.Driver != def.Store.Driver {
		t.Fatalf("expected defaults, got %+v", cfg)
	}
}

func TestLoadEnvOverride(t *testing.T) {
	t.Setenv("TABROTOR_HTTP_ADDR", "127.0.0.1:1234")
	cfg, err := Load(filepath.Join(t.TempDir(), "absent.yaml"))
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.HTTP.Addr != "127.0.0.1:1234" {
		t.Fatalf("expected env override, got %q", cfg.HTTP.Addr)
	}
}

func TestLoadRejectsUnsupportedConfigVersion(t *testing.T) {
	path := writeConfig(t, `
config_version: 3
store:
  driver: file
`)
	if _, err := Load(path); err == nil || !strings.Contains(err.Error(), "unsupported config_version") {
		t.Fatalf("expected config_version error, got %v", err)
	}
}

func TestLoadRequiresConfigVersion(t *testing.T) {
	path := writeConfig(t, `
store:
  driver: file
`)
	if _, err := Load(path); err == nil || !strings.Contains(err.Error(), "config_version is required") {
		t.Fatalf("expected config_version error, got %v", err)
	}
}

func TestLoadRejectsUnsupportedDriver(t *testing.T) {
	path := writeConfig(t, `
config_version: 1
store:
  driver: redis
`)
	if _, err := Load(path); err == nil || !strings.Contains(err.Error(), "unsupported store.driver") {
		t.Fatalf("expected driver error, got %v", err)
	}
}

func TestLoadRejectsInvertedDefaultBounds(t *testing.T) {
	path := writeConfig(t, `
config_version: 1
rotation:
  default_min_time: 90
  default_max_time: 60
`)
	if _, err := Load(path); err == nil || !strings.Contains(err.Error(), "rotation.default_min_time") {
		t.Fatalf("expected bounds error, got %v", err)
	}
}

func TestLoadRejectsBasePathURL(t *testing.T) {
	path := writeConfig(t, `
config_version: 1
http:
  base_path: https://example.com/rotor
`)
	if _, err := Load(path); err == nil || !strings.Contains(err.Error(), "http.base_path") {
		t.Fatalf("expected base_path error, got %v", err)
	}
}

func TestLoadOverridesAndExpandsEnv(t *testing.T) {
	t.Setenv("ROTOR_HOME", "/srv/rotor")
	path := writeConfig(t, `
config_version: 1
state_dir: $ROTOR_HOME/state
store:
  driver: sqlite
  path: $ROTOR_HOME/rotor.db
browser:
  remote_url: ws://127.0.0.1:9222/devtools/browser/abc
  headless: true
  flags:
    no-sandbox: true
rotation:
  max_urls: 5
  default_min_time: 10
  default_max_time: 20
sweep:
  interval_minutes: 15
http:
  addr: 127.0.0.1:9000
  base_path: /rotor
logging:
  disable_audit_trails: true
`)
	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.StateDir != "/srv/rotor/state" || cfg.Store.Path != "/srv/rotor/rotor.db" {
		t.Fatalf("expected env expansion, got %q and %q", cfg.StateDir, cfg.Store.Path)
	}
	if cfg.Store.Driver != "sqlite" || !cfg.Browser.Headless || cfg.Browser.RemoteURL == "" {
		t.Fatalf("unexpected store or browser config: %+v %+v", cfg.Store, cfg.Browser)
	}
	if v, ok := cfg.Browser.Flags["no-sandbox"].(bool); !ok || !v {
		t.Fatalf("expected browser flag, got %#v", cfg.Browser.Flags)
	}
	svc := cfg.ServiceConfig()
	if svc.MaxURLs != 5 || svc.DefaultMinTime != 10 || svc.DefaultMaxTime != 20 {
		t.Fatalf("unexpected rotation config: %+v", svc)
	}
	if svc.SweepInterval.Minutes() != 15 {
		t.Fatalf("unexpected sweep interval: %v", svc.SweepInterval)
	}
	if cfg.Rotation.MaxSavedURLs != 100 {
		t.Fatalf("expected unset keys to keep defaults, got %d", cfg.Rotation.MaxSavedURLs)
	}
	if cfg.HTTP.Addr != "127.0.0.1:9000" || cfg.HTTP.BasePath != "/rotor" || !cfg.Logging.DisableAuditTrails {
		t.Fatalf("unexpected http/logging config: %+v %+v", cfg.HTTP, cfg.Logging)
	}
}

func TestWrittenDefaultLoads(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	if _, err := WriteDefault(path, false); err != nil {
		t.Fatalf("write default: %v", err)
	}
	if _, err := Load(path); err != nil {
		t.Fatalf("load written default: %v", err)
	}
}

func TestExpandEnv(t *testing.T) {
	t.Setenv("FOO", "bar")
	value := expandEnv("$FOO/$UID/$GID/$MISSING")
	if !strings.HasPrefix(value, "bar/") {
		t.Fatalf("expected env expansion, got %q", value)
	}
	if strings.Contains(value, "$UID") || strings.Contains(value, "$GID") {
		t.Fatalf("expected UID/GID expansion, got %q", value)
	}
	if !strings.HasSuffix(value, "/$MISSING") {
		t.Fatalf("expected missing vars to remain, got %q", value)
	}
}

func TestWriteDefaultRespectsOverwrite(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	written, err := WriteDefault(path, false)
	if err != nil {
		t.Fatalf("write default: %v", err)
	}
	if written != path {
		t.Fatalf("expected path %q, got %q", path, written)
	}
	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("expected config to exist: %v", err)
	}
	if !strings.HasPrefix(string(data), "# tabrotor configuration.") {
		t.Fatalf("expected header comment, got %q", string(data[:40]))
	}
	if _, err := WriteDefault(path, false); err == nil {
		t.Fatalf("expected error when config exists")
	}
	if _, err := WriteDefault(path, true); err != nil {
		t.Fatalf("expected overwrite to succeed: %v", err)
	}
}

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	if err := os.WriteFile(path, []byte(strings.TrimSpace(content)+"\n"), 0o600); err != nil {
		t.Fatalf("write config: %v", err)
	}
	return path
}
