package httpserver

import (
	"net/http"
	"time"

	"github.com/tokligence/chatrelay/internal/health"
	"github.com/tokligence/chatrelay/internal/httpserver/protocol"
	"github.com/tokligence/chatrelay/internal/metrics"
	"github.com/tokligence/chatrelay/internal/version"
)

type healthEndpoint struct {
	server *Server
}

func newHealthEndpoint(server *Server) protocol.Endpoint {
	return &healthEndpoint{server: server}
}

func (e *healthEndpoint) Name() string { return "health" }

func (e *healthEndpoint) Routes() []protocol.EndpointRoute {
	return []protocol.EndpointRoute{
		{Method: http.MethodGet, Path: "/health", Handler: http.HandlerFunc(e.server.HandleHealth), Public: true},
		{Method: http.MethodGet, Path: "/health/ready", Handler: http.HandlerFunc(e.server.HandleReady), Public: true},
	}
}

// HandleHealth reports liveness and build information.
func (s *Server) HandleHealth(w http.ResponseWriter, r *http.Request) {
	payload := map[string]any{
		"status":  "ok",
		"time":    time.Now().UTC().Format(time.RFC3339),
		"uptime":  time.Since(s.startedAt).Round(time.Second).String(),
		"version": version.Version,
	}
	if len(s.adapters) > 0 {
		payload["adapters"] = s.adapters
	}
	s.respondJSON(w, http.StatusOK, payload)
}

// HandleReady probes the stores and upstream. It answers 503 when a store is down.
func (s *Server) HandleReady(w http.ResponseWriter, r *http.Request) {
	if s.checker == nil {
		s.respondJSON(w, http.StatusOK, health.Report{Status: health.StatusHealthy, Timestamp: time.Now().UTC()})
		return
	}
	report := s.checker.Check(r.Context())
	status := http.StatusOK
	if report.Status == health.StatusUnhealthy {
		status = http.StatusServiceUnavailable
	}
	s.respondJSON(w, status, report)
}

type metricsEndpoint struct{}

func newMetricsEndpoint() protocol.Endpoint { return metricsEndpoint{} }

func (metricsEndpoint) Name() string { return "metrics" }

func (metricsEndpoint) Routes() []protocol.EndpointRoute {
	return []protocol.EndpointRoute{
		{Method: http.MethodGet, Path: "/metrics", Handler: metrics.Handler(), Public: true},
	}
}
