package api

import (
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"parceltriggers/internal/metrics"
	"parceltriggers/internal/scheduler"
)

type stubSource struct {
	history *scheduler.History
}

func (s stubSource) History() *scheduler.History { return s.history }
func (s stubSource) PID() int                    { return 4242 }
func (s stubSource) LockName() string            { return "triggers_scheduler" }

func newTestServer(t *testing.T) (*httptest.Server, *scheduler.History) {
	t.Helper()
	reg := prometheus.NewRegistry()
	pipeline := metrics.NewMetrics(reg)
	pipeline.ObserveTick(true, time.Second)
	history := scheduler.NewHistory(10)
	srv := httptest.NewServer(NewServer(stubSource{history: history}, reg, nil, "test").Handler())
	t.Cleanup(srv.Close)
	return srv, history
}

func getJSON(t *testing.T, url string, out any) int {
	t.Helper()
	resp, err := http.Get(url)
	if err != nil {
		t.Fatalf("get %s: %v", url, err)
	}
	defer resp.Body.Close()
	if out != nil && resp.StatusCode == http.StatusOK {
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			t.Fatalf("decode %s: %v", url, err)
		}
	}
	return resp.StatusCode
}

func TestHealth(t *testing.T) {
	srv, _ := newTestServer(t)
	var body map[string]string
	if code := getJSON(t, srv.URL+"/health", &body); code != http.StatusOK || body["status"] != "ok" {
		t.Fatalf("health = %d %v", code, body)
	}
	resp, err := http.Post(srv.URL+"/health", "application/json", nil)
	if err != nil {
		t.Fatalf("post: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusMethodNotAllowed {
		t.Fatalf("post health = %d", resp.StatusCode)
	}
}

func TestStatusReportsLastTick(t *testing.T) {
	srv, history := newTestServer(t)
	var empty statusResponse
	if code := getJSON(t, srv.URL+"/status", &empty); code != http.StatusOK || empty.LastTick != nil || empty.PID != 4242 {
		t.Fatalf("status before ticks = %d %+v", code, empty)
	}

	history.Add(scheduler.TickResult{TickID: "t1", OK: true})
	history.Add(scheduler.TickResult{TickID: "t2", OK: false, Error: "lock held"})
	var status statusResponse
	getJSON(t, srv.URL+"/status", &status)
	if status.Status != "degraded" || status.LastTick == nil || status.LastTick.TickID != "t2" {
		t.Fatalf("status = %+v", status)
	}
}

func TestTicks(t *testing.T) {
	srv, history := newTestServer(t)
	base := time.Date(2026, 5, 1, 0, 0, 0, 0, time.UTC)
	for i, id := range []string{"a", "b", "c"} {
		history.Add(scheduler.TickResult{TickID: id, StartedAt: base.Add(time.Duration(i) * time.Hour)})
	}

	var body struct {
		Ticks []scheduler.TickResult `json:"ticks"`
		Count int                    `json:"count"`
	}
	getJSON(t, srv.URL+"/ticks?limit=2", &body)
	if body.Count != 2 || body.Ticks[0].TickID != "b" {
		t.Fatalf("ticks = %+v", body)
	}
	getJSON(t, srv.URL+"/ticks?since=2026-05-01T02:00:00Z", &body)
	if body.Count != 1 || body.Ticks[0].TickID != "c" {
		t.Fatalf("ticks since = %+v", body)
	}
	if code := getJSON(t, srv.URL+"/ticks?since=yesterday", nil); code != http.StatusBadRequest {
		t.Fatalf("bad since = %d", code)
	}
}

func TestMetricsExposition(t *testing.T) {
	srv, _ := newTestServer(t)
	resp, err := http.Get(srv.URL + "/metrics")
	if err != nil {
		t.Fatalf("get metrics: %v", err)
	}
	defer resp.Body.Close()
	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	if !strings.Contains(string(raw), "tick_duration_seconds") {
		t.Fatalf("metrics output missing tick histogram:\n%s", raw)
	}
}
