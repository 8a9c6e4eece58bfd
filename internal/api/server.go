package api

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"parceltriggers/internal/scheduler"
)

// TickSource is the scheduler state the ops endpoints report.
type TickSource interface {
	History() *scheduler.History
	PID() int
	LockName() string
}

type Server struct {
	source   TickSource
	gatherer prometheus.Gatherer
	logger   *slog.Logger
	version  string
	started  time.Time
}

type statusResponse struct {
	Status    string                `json:"status"`
	Time      string                `json:"time"`
	Version   string                `json:"version"`
	PID       int                   `json:"pid"`
	LockName  string                `json:"lock_name"`
	UptimeSec int64                 `json:"uptime_seconds"`
	LastTick  *scheduler.TickResult `json:"last_tick,omitempty"`
}

func NewServer(source TickSource, gatherer prometheus.Gatherer, logger *slog.Logger, version string) *Server {
	if gatherer == nil {
		gatherer = prometheus.DefaultGatherer
	}
	return &Server{source: source, gatherer: gatherer, logger: logger, version: version, started: time.Now()}
}

func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/health", s.handleHealth)
	mux.HandleFunc("/status", s.handleStatus)
	mux.HandleFunc("/ticks", s.handleTicks)
	mux.Handle("/metrics", promhttp.HandlerFor(s.gatherer, promhttp.HandlerOpts{}))
	return mux
}

// Start serves the ops endpoints on addr until ctx ends. An empty addr
// disables the server.
func Start(ctx context.Context, addr string, srv *Server) *http.Server {
	if addr == "" {
		if srv.logger != nil {
			srv.logger.Info("ops server disabled")
		}
		return nil
	}
	if srv.logger != nil {
		srv.logger.Info("ops server enabled", "addr", addr)
	}
	httpServer := &http.Server{Addr: addr, Handler: srv.Handler(), ReadHeaderTimeout: 5 * time.Second}
	go func() {
		<-ctx.Done()
		ctxShutdown, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = httpServer.Shutdown(ctxShutdown)
	}()
	go func() {
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			if srv.logger != nil {
				srv.logger.Error("ops server error", "error", err)
			}
		}
	}()
	return httpServer
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"status": "ok"})
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	resp := statusResponse{
		Status:    "ok",
		Time:      time.Now().UTC().Format(time.RFC3339Nano),
		Version:   s.version,
		PID:       s.source.PID(),
		LockName:  s.source.LockName(),
		UptimeSec: int64(time.Since(s.started).Seconds()),
	}
	if last, ok := s.source.History().Last(); ok {
		resp.LastTick = &last
		if !last.OK {
			resp.Status = "degraded"
		}
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleTicks(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	limit := 0
	if v := r.URL.Query().Get("limit"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			limit = n
		}
	}
	var list []scheduler.TickResult
	if sinceStr := r.URL.Query().Get("since"); sinceStr != "" {
		ts, err := time.Parse(time.RFC3339, sinceStr)
		if err != nil {
			w.WriteHeader(http.StatusBadRequest)
			return
		}
		list = s.source.History().Since(ts)
	} else {
		list = s.source.History().List(limit)
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"ticks": list,
		"count": len(list),
	})
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}
