package cli

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func TestParseNow(t *testing.T) {
	got, err := ParseNow("2026-03-10T12:00:00Z")
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if !got.Equal(time.Date(2026, 3, 10, 12, 0, 0, 0, time.UTC)) {
		t.Fatalf("now = %s", got)
	}
	if _, err := ParseNow("next tuesday"); err == nil {
		t.Fatal("expected error")
	}
	before := time.Now().Add(-time.Second)
	if got, err := ParseNow(""); err != nil || got.Before(before) {
		t.Fatalf("empty now = %s, %v", got, err)
	}
}

func TestOpenUsesDBFlag(t *testing.T) {
	dir := t.TempDir()
	cfgPath := filepath.Join(dir, "triggers.yaml")
	if err := os.WriteFile(cfgPath, []byte("log_level: warn\nscheduler:\n  counties: [lee]\n"), 0o644); err != nil {
		t.Fatal(err)
	}
	rt, err := Open(context.Background(), Flags{ConfigPath: cfgPath, DB: filepath.Join(dir, "triggers.db")})
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	defer rt.Close()
	if rt.Config.LogLevel != "warn" || len(rt.Config.Scheduler.Counties) != 1 {
		t.Fatalf("config = %+v", rt.Config)
	}
	if _, err := os.Stat(filepath.Join(dir, "triggers.db")); err != nil {
		t.Fatalf("db not created: %v", err)
	}
	if !rt.Registry.Has("fake") {
		t.Fatalf("registry keys = %v", rt.Registry.Keys())
	}
}

func TestReloadKeepsFlagOverrides(t *testing.T) {
	dir := t.TempDir()
	cfgPath := filepath.Join(dir, "triggers.yaml")
	if err := os.WriteFile(cfgPath, []byte("log_level: warn\nscheduler:\n  counties: [lee]\n"), 0o644); err != nil {
		t.Fatal(err)
	}
	dbPath := filepath.Join(dir, "triggers.db")
	rt, err := Open(context.Background(), Flags{ConfigPath: cfgPath, DB: dbPath, LogLevel: "debug"})
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	defer rt.Close()

	if err := os.WriteFile(cfgPath, []byte("log_level: error\nscheduler:\n  counties: [lee, collier]\n"), 0o644); err != nil {
		t.Fatal(err)
	}
	later := time.Now().Add(time.Minute)
	if err := os.Chtimes(cfgPath, later, later); err != nil {
		t.Fatal(err)
	}
	cfg, changed, err := rt.Reload()
	if err != nil || !changed {
		t.Fatalf("reload: changed=%v err=%v", changed, err)
	}
	if len(cfg.Scheduler.Counties) != 2 {
		t.Fatalf("file change not applied: %v", cfg.Scheduler.Counties)
	}
	if cfg.Storage.DSN != dbPath || cfg.LogLevel != "debug" {
		t.Fatalf("flag overrides lost: dsn=%q level=%q", cfg.Storage.DSN, cfg.LogLevel)
	}
	if rt.Config != cfg {
		t.Fatalf("runtime config not swapped")
	}
}

func TestPrintJSON(t *testing.T) {
	var buf bytes.Buffer
	if err := PrintJSON(&buf, map[string]int{"alerts": 2}); err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(buf.String(), `"alerts": 2`) {
		t.Fatalf("output = %q", buf.String())
	}
}
