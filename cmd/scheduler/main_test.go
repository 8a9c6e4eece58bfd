package main

import (
	"bytes"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"parceltriggers/internal/scheduler"
)

func runScheduler(t *testing.T, args ...string) (scheduler.OnceResult, int) {
	t.Helper()
	var out bytes.Buffer
	exitCode = 0
	rootCmd.SetOut(&out)
	rootCmd.SetArgs(args)
	if err := rootCmd.Execute(); err != nil {
		t.Fatalf("scheduler: %v", err)
	}
	var res scheduler.OnceResult
	if err := json.Unmarshal(out.Bytes(), &res); err != nil {
		t.Fatalf("decode: %v\n%s", err, out.String())
	}
	return res, exitCode
}

func TestRunExitCodes(t *testing.T) {
	dir := t.TempDir()
	cfg := filepath.Join(dir, "triggers.yaml")
	if err := os.WriteFile(cfg, []byte("scheduler:\n  counties: [lee]\n"), 0o644); err != nil {
		t.Fatal(err)
	}
	db := filepath.Join(dir, "triggers.db")

	res, code := runScheduler(t, "--config", cfg, "--db", db, "run",
		"--now", "2026-03-10T12:00:00Z", "--connectors", "fake", "--no-saved-searches")
	if code != 0 || !res.OK || !res.Released || res.Tick == nil || len(res.Tick.Runs) != 1 {
		t.Fatalf("run = %d %+v", code, res)
	}
	if res.Tick.Runs[0].Connector != "fake" || !res.Tick.Runs[0].OK {
		t.Fatalf("connector run = %+v", res.Tick.Runs[0])
	}

	res, code = runScheduler(t, "--config", cfg, "--db", db, "run", "--connectors", "nope")
	if code != 2 || res.OK || res.Error == "" {
		t.Fatalf("unknown connector run = %d %+v", code, res)
	}
}
