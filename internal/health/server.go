// Package health exposes the daemon's HTTP surface: health and readiness
// probes, Prometheus metrics, the admin API, and optional debug
// endpoints.
package health

import (
	"context"
	"encoding/json"
	"fmt"
	"net"
	"net/http"
	"net/http/pprof"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/captionhq/storage-quota/internal/monitor"
	"github.com/captionhq/storage-quota/internal/observability"
	"github.com/captionhq/storage-quota/internal/store"
	"github.com/captionhq/storage-quota/pkg/model"
)

// GateControl is the admin-facing slice of the quota gate.
type GateControl interface {
	Block(ctx context.Context, reason string) error
	Unblock(ctx context.Context) error
	IsBlocked(ctx context.Context) bool
	BlockReason(ctx context.Context) string
	HealthCheck(ctx context.Context) model.HealthStatus
	Statistics(ctx context.Context) (model.EnforcementStatistics, error)
	ResetStatistics(ctx context.Context) error
}

// MonitorControl is the admin-facing slice of the threshold monitor.
type MonitorControl interface {
	MonitoringStatus() monitor.Status
	HealthCheck(ctx context.Context) model.HealthStatus
	AcknowledgeNotification(ctx context.Context, id, by string) error
}

// UsageControl is the admin-facing slice of the usage cache.
type UsageControl interface {
	Metrics(ctx context.Context) (model.UsageSnapshot, error)
	Invalidate()
}

// Server exposes health, readiness, metrics, admin, and debug endpoints.
type Server struct {
	httpServer *http.Server
	metrics    *observability.Metrics
	gate       GateControl
	monitor    MonitorControl
	usage      UsageControl
	store      store.Store
	listener   net.Listener
}

// NewServer creates the HTTP server on the given port. Pass port=0 to
// let the OS pick a free port (useful for tests). When enableDebug is
// true, pprof and debug endpoints are registered.
func NewServer(port int, metrics *observability.Metrics, gate GateControl, mon MonitorControl, usage UsageControl, st store.Store, enableDebug bool) *Server {
	s := &Server{
		metrics: metrics,
		gate:    gate,
		monitor: mon,
		usage:   usage,
		store:   st,
	}

	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", s.handleHealthz)
	mux.HandleFunc("/readyz", s.handleReadyz)
	mux.Handle("/metrics", promhttp.HandlerFor(metrics.Registry, promhttp.HandlerOpts{}))

	// Admin API.
	mux.HandleFunc("/api/status", s.handleStatus)
	mux.HandleFunc("/api/notifications", s.handleListNotifications)
	mux.HandleFunc("/api/notifications/acknowledge", s.handleAcknowledge)
	mux.HandleFunc("/api/block", s.handleBlock)
	mux.HandleFunc("/api/unblock", s.handleUnblock)
	mux.HandleFunc("/api/cache/invalidate", s.handleInvalidateCache)
	mux.HandleFunc("/api/statistics", s.handleStatistics)
	mux.HandleFunc("/api/statistics/reset", s.handleResetStatistics)

	if enableDebug {
		// pprof handlers, only when QUOTAD_DEBUG_ENDPOINTS=true.
		mux.HandleFunc("/debug/pprof/", pprof.Index)
		mux.HandleFunc("/debug/pprof/cmdline", pprof.Cmdline)
		mux.HandleFunc("/debug/pprof/profile", pprof.Profile)
		mux.HandleFunc("/debug/pprof/symbol", pprof.Symbol)
		mux.HandleFunc("/debug/pprof/trace", pprof.Trace)

		mux.HandleFunc("/debug/usage", s.handleDebugUsage)
		mux.HandleFunc("/debug/blocking", s.handleDebugBlocking)
		mux.HandleFunc("/debug/events", s.handleDebugEvents)
	}

	s.httpServer = &http.Server{
		Addr:           fmt.Sprintf(":%d", port),
		Handler:        mux,
		ReadTimeout:    10 * time.Second,
		WriteTimeout:   30 * time.Second,
		IdleTimeout:    60 * time.Second,
		MaxHeaderBytes: 1 << 20,
	}

	return s
}

// Start begins listening and serving HTTP in a background goroutine.
func (s *Server) Start() error {
	ln, err := net.Listen("tcp", s.httpServer.Addr)
	if err != nil {
		return fmt.Errorf("health server listen: %w", err)
	}
	s.listener = ln
	// Update Addr to the actual address (important when port=0).
	s.httpServer.Addr = ln.Addr().String()

	go func() {
		if err := s.httpServer.Serve(ln); err != nil && err != http.ErrServerClosed {
			_ = err // server exited with unexpected error; ignore during shutdown
		}
	}()
	return nil
}

// Addr returns the bound address once Start has succeeded.
func (s *Server) Addr() string {
	return s.httpServer.Addr
}

// Stop gracefully shuts down the HTTP server.
func (s *Server) Stop(ctx context.Context) error {
	return s.httpServer.Shutdown(ctx)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func requireMethod(w http.ResponseWriter, r *http.Request, method string) bool {
	if r.Method != method {
		writeJSON(w, http.StatusMethodNotAllowed, map[string]string{"error": "method not allowed"})
		return false
	}
	return true
}

// handleHealthz merges the gate's and monitor's component verdicts into
// one report; 503 when any component is unhealthy.
func (s *Server) handleHealthz(w http.ResponseWriter, r *http.Request) {
	components := make(map[string]model.ComponentHealth)
	for name, c := range s.gate.HealthCheck(r.Context()).Components {
		components[name] = c
	}
	for name, c := range s.monitor.HealthCheck(r.Context()).Components {
		if existing, ok := components[name]; !ok || existing.Healthy {
			components[name] = c
		}
	}

	hs := model.NewHealthStatus(components)
	status := http.StatusOK
	if !hs.Healthy {
		status = http.StatusServiceUnavailable
	}
	writeJSON(w, status, hs)
}

// handleReadyz reports readiness: the shared store must be reachable for
// the daemon to give authoritative answers.
func (s *Server) handleReadyz(w http.ResponseWriter, r *http.Request) {
	if err := s.store.Ping(r.Context()); err != nil {
		writeJSON(w, http.StatusServiceUnavailable, map[string]any{"ready": false, "error": err.Error()})
		return
	}
	writeJSON(w, http.StatusOK, map[string]bool{"ready": true})
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	if !requireMethod(w, r, http.MethodGet) {
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"monitor":      s.monitor.MonitoringStatus(),
		"blocked":      s.gate.IsBlocked(r.Context()),
		"block_reason": s.gate.BlockReason(r.Context()),
	})
}

func (s *Server) handleListNotifications(w http.ResponseWriter, r *http.Request) {
	if !requireMethod(w, r, http.MethodGet) {
		return
	}
	notifications, err := s.store.ListNotifications(r.Context())
	if err != nil {
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": err.Error()})
		return
	}
	if notifications == nil {
		notifications = []*model.WarningNotification{}
	}
	writeJSON(w, http.StatusOK, notifications)
}

func (s *Server) handleAcknowledge(w http.ResponseWriter, r *http.Request) {
	if !requireMethod(w, r, http.MethodPost) {
		return
	}
	var req struct {
		ID string `json:"id"`
		By string `json:"by"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.ID == "" {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "id is required"})
		return
	}
	if err := s.monitor.AcknowledgeNotification(r.Context(), req.ID, req.By); err != nil {
		writeJSON(w, http.StatusNotFound, map[string]string{"error": err.Error()})
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "acknowledged"})
}

func (s *Server) handleBlock(w http.ResponseWriter, r *http.Request) {
	if !requireMethod(w, r, http.MethodPost) {
		return
	}
	var req struct {
		Reason string `json:"reason"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.Reason == "" {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "reason is required"})
		return
	}
	if err := s.gate.Block(r.Context(), req.Reason); err != nil {
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": err.Error()})
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "blocked"})
}

func (s *Server) handleUnblock(w http.ResponseWriter, r *http.Request) {
	if !requireMethod(w, r, http.MethodPost) {
		return
	}
	if err := s.gate.Unblock(r.Context()); err != nil {
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": err.Error()})
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "unblocked"})
}

func (s *Server) handleInvalidateCache(w http.ResponseWriter, r *http.Request) {
	if !requireMethod(w, r, http.MethodPost) {
		return
	}
	s.usage.Invalidate()
	writeJSON(w, http.StatusOK, map[string]string{"status": "invalidated"})
}

func (s *Server) handleStatistics(w http.ResponseWriter, r *http.Request) {
	if !requireMethod(w, r, http.MethodGet) {
		return
	}
	stats, err := s.gate.Statistics(r.Context())
	if err != nil {
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": err.Error()})
		return
	}
	writeJSON(w, http.StatusOK, stats)
}

func (s *Server) handleResetStatistics(w http.ResponseWriter, r *http.Request) {
	if !requireMethod(w, r, http.MethodPost) {
		return
	}
	if err := s.gate.ResetStatistics(r.Context()); err != nil {
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": err.Error()})
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "reset"})
}

func (s *Server) handleDebugUsage(w http.ResponseWriter, r *http.Request) {
	snap, err := s.usage.Metrics(r.Context())
	if err != nil {
		// The snapshot is still usable; surface the degradation alongside.
		writeJSON(w, http.StatusOK, map[string]any{"snapshot": snap, "degraded": err.Error()})
		return
	}
	writeJSON(w, http.StatusOK, snap)
}

func (s *Server) handleDebugBlocking(w http.ResponseWriter, r *http.Request) {
	state, err := s.store.GetBlockingState(r.Context())
	if err != nil {
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": err.Error()})
		return
	}
	if state == nil {
		w.WriteHeader(http.StatusNoContent)
		return
	}
	writeJSON(w, http.StatusOK, state)
}

func (s *Server) handleDebugEvents(w http.ResponseWriter, r *http.Request) {
	events, err := s.store.ListEvents(r.Context())
	if err != nil {
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": err.Error()})
		return
	}
	if events == nil {
		events = []model.WarningEvent{}
	}
	writeJSON(w, http.StatusOK, events)
}
