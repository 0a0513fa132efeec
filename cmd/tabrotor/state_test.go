package main

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"pkt.systems/tabrotor/internal/appconfig"
	"pkt.systems/tabrotor/schema"
)

// closedAddr returns a loopback address nothing listens on.
func closedAddr(t *testing.T) string {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	addr := ln.Addr().String()
	_ = ln.Close()
	return addr
}

func writeTestConfig(t *testing.T) (string, appconfig.Config) {
	t.Helper()
	return writeTestConfigWithAddr(t, closedAddr(t))
}

func writeTestConfigWithAddr(t *testing.T, addr string) (string, appconfig.Config) {
	t.Helper()
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	content := "config_version: 1\nstate_dir: " + filepath.Join(dir, "state") + "\nstore:\n  driver: file\nhttp:\n  addr: " + addr + "\n"
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatalf("write config: %v", err)
	}
	cfg, err := appconfig.Load(path)
	if err != nil {
		t.Fatalf("load config: %v", err)
	}
	return path, cfg
}

func seedState(t *testing.T, cfg appconfig.Config, tabID schema.TabID, state schema.RotationState) {
	t.Helper()
	store, err := openStore(cfg, nil)
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	defer func() { _ = store.Close() }()
	data, err := json.Marshal(state)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	if err := store.Set(context.Background(), schema.RotationKey(tabID), data); err != nil {
		t.Fatalf("seed: %v", err)
	}
}

func run(t *testing.T, args ...string) (string, error) {
	t.Helper()
	root := newRootCmd()
	var out bytes.Buffer
	root.SetOut(&out)
	root.SetErr(&out)
	root.SetArgs(args)
	err := root.ExecuteContext(context.Background())
	return out.String(), err
}

func TestStateListShowClear(t *testing.T) {
	path, cfg := writeTestConfig(t)
	next := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)
	seedState(t, cfg, 42, schema.RotationState{
		IsRotating:       true,
		URLs:             []string{"https://a.test", "https://b.test"},
		MinTime:          60,
		MaxTime:          90,
		RotationCount:    3,
		NextRotationTime: &next,
	})

	out, err := run(t, "state", "list", "-c", path)
	if err != nil {
		t.Fatalf("state list: %v", err)
	}
	if !strings.Contains(out, "42") || !strings.Contains(out, "2026-01-02T03:04:05Z") {
		t.Fatalf("unexpected list output:\n%s", out)
	}

	out, err = run(t, "state", "show", "42", "-c", path)
	if err != nil {
		t.Fatalf("state show: %v", err)
	}
	var shown schema.RotationState
	if err := json.Unmarshal([]byte(out), &shown); err != nil {
		t.Fatalf("decode show output: %v\n%s", err, out)
	}
	if !shown.IsRotating || shown.RotationCount != 3 || len(shown.URLs) != 2 {
		t.Fatalf("unexpected state: %+v", shown)
	}

	if _, err := run(t, "state", "clear", "42", "-c", path); err != nil {
		t.Fatalf("state clear: %v", err)
	}
	out, err = run(t, "state", "list", "-c", path)
	if err != nil {
		t.Fatalf("state list after clear: %v", err)
	}
	if !strings.Contains(out, "no rotation state") {
		t.Fatalf("expected empty list, got:\n%s", out)
	}
}

func TestStateClearRecordsSessionOffline(t *testing.T) {
	path, cfg := writeTestConfig(t)
	start := time.Now().Add(-time.Hour)
	seedState(t, cfg, 9, schema.RotationState{IsRotating: true, URLs: []string{"https://a.test"}, MinTime: 5, MaxTime: 10, RotationCount: 4, StartTime: &start})

	if _, err := run(t, "state", "clear", "9", "--offline", "-c", path); err != nil {
		t.Fatalf("state clear: %v", err)
	}
	store, err := openStore(cfg, nil)
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	defer func() { _ = store.Close() }()
	if _, ok, err := store.Get(context.Background(), schema.RotationKey(9)); err != nil || ok {
		t.Fatalf("expected state removed, got ok=%v err=%v", ok, err)
	}
	data, ok, err := store.Get(context.Background(), schema.KeySessionStats)
	if err != nil || !ok {
		t.Fatalf("expected session log, got ok=%v err=%v", ok, err)
	}
	var sessions []schema.SessionRecord
	if err := json.Unmarshal(data, &sessions); err != nil {
		t.Fatalf("decode sessions: %v", err)
	}
	if len(sessions) != 1 || sessions[0].TabID != 9 || sessions[0].RotationCount != 4 {
		t.Fatalf("unexpected sessions: %+v", sessions)
	}
}

func TestStateClearAsksRunningServer(t *testing.T) {
	var got map[string]any
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/command" || r.Method != http.MethodPost {
			http.NotFound(w, r)
			return
		}
		body, _ := io.ReadAll(r.Body)
		_ = json.Unmarshal(body, &got)
		_, _ = w.Write([]byte(`{"success":true}`))
	}))
	defer server.Close()

	path, cfg := writeTestConfigWithAddr(t, server.Listener.Addr().String())
	seedState(t, cfg, 5, schema.RotationState{IsRotating: true, URLs: []string{"https://a.test"}, MinTime: 5, MaxTime: 10})
	if _, err := run(t, "state", "clear", "5", "-c", path); err != nil {
		t.Fatalf("state clear: %v", err)
	}
	if got["type"] != "forget" || got["tabId"] != float64(5) {
		t.Fatalf("unexpected command sent: %v", got)
	}
	out, err := run(t, "state", "list", "-c", path)
	if err != nil {
		t.Fatalf("state list: %v", err)
	}
	if !strings.Contains(out, "5") {
		t.Fatalf("expected the server to own the removal, got:\n%s", out)
	}
}

func TestStateClearReportsServerRejection(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusBadRequest)
		_, _ = w.Write([]byte(`{"error":"invalid request: tabId is required"}`))
	}))
	defer server.Close()

	path, _ := writeTestConfigWithAddr(t, server.Listener.Addr().String())
	_, err := run(t, "state", "clear", "5", "-c", path)
	if err == nil || !strings.Contains(err.Error(), "tabId is required") {
		t.Fatalf("expected server error, got %v", err)
	}
}

func TestStateShowUnknownTab(t *testing.T) {
	path, _ := writeTestConfig(t)
	if _, err := run(t, "state", "show", "7", "-c", path); err == nil {
		t.Fatalf("expected error for unknown tab")
	}
	if _, err := run(t, "state", "show", "-1", "-c", path); err == nil {
		t.Fatalf("expected error for negative tab id")
	}
}

func TestConfigInitWritesLoadableConfig(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	if _, err := run(t, "config", "init", "-c", path); err != nil {
		t.Fatalf("config init: %v", err)
	}
	if _, err := run(t, "config", "init", "-c", path); err == nil {
		t.Fatalf("expected second init without --force to fail")
	}
	out, err := run(t, "config", "show", "-c", path)
	if err != nil {
		t.Fatalf("config show: %v", err)
	}
	if !strings.Contains(out, "config_version: 1") {
		t.Fatalf("unexpected config output:\n%s", out)
	}
}

func TestServerConfigMapping(t *testing.T) {
	_, cfg := writeTestConfig(t)
	cfg.Alarm.ResolutionMillis = 250
	cfg.Sweep.Disabled = true
	cfg.HTTP.BasePath = "/rotor"
	got := serverConfig(cfg)
	if got.AlarmResolution != 250*time.Millisecond || !got.DisableSweep || got.HTTP.BasePath != "/rotor" {
		t.Fatalf("unexpected server config: %+v", got)
	}
	if got.Service.MaxURLs != cfg.Rotation.MaxURLs {
		t.Fatalf("expected rotation limits to carry over, got %+v", got.Service)
	}
}
