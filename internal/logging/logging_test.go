package logging

import (
	"bytes"
	"encoding/json"
	"log/slog"
	"testing"
)

func TestParseLevel(t *testing.T) {
	cases := map[string]slog.Level{
		"debug":   slog.LevelDebug,
		" WARN ":  slog.LevelWarn,
		"warning": slog.LevelWarn,
		"error":   slog.LevelError,
		"":        slog.LevelInfo,
		"verbose": slog.LevelInfo,
	}
	for in, want := range cases {
		if got := ParseLevel(in); got != want {
			t.Fatalf("ParseLevel(%q) = %s, want %s", in, got, want)
		}
	}
}

func TestWithTagsComponent(t *testing.T) {
	var buf bytes.Buffer
	With(NewLoggerTo(&buf, "info"), "engine").Info("connector run", "county", "lee")
	var line map[string]any
	if err := json.Unmarshal(buf.Bytes(), &line); err != nil {
		t.Fatalf("decode %q: %v", buf.String(), err)
	}
	if line["component"] != "engine" || line["county"] != "lee" {
		t.Fatalf("log line = %v", line)
	}
	if With(nil, "engine") != nil {
		t.Fatalf("nil logger should stay nil")
	}
	NewLoggerTo(&buf, "warn").Info("dropped")
	if bytes.Count(buf.Bytes(), []byte("\n")) != 1 {
		t.Fatalf("info logged at warn level: %q", buf.String())
	}
}
