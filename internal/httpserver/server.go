// Package httpserver mounts the relay's GraphQL, upload and operational endpoints.
package httpserver

import (
	"context"
	"encoding/json"
	"errors"
	"log"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/tokligence/chatrelay/internal/auth"
	"github.com/tokligence/chatrelay/internal/health"
	"github.com/tokligence/chatrelay/internal/httpserver/protocol"
	"github.com/tokligence/chatrelay/internal/metrics"
	"github.com/tokligence/chatrelay/internal/ratelimit"
	"github.com/tokligence/chatrelay/internal/upload"
)

var defaultEndpointKeys = []string{"graphql", "uploads", "health", "metrics"}

// Provisioner turns a verified identity into the viewer placed in the request context.
type Provisioner interface {
	Provision(ctx context.Context, id auth.Identity) (auth.Viewer, error)
}

// Server exposes the relay's HTTP surface.
type Server struct {
	graphql     http.Handler
	uploads     *upload.Service
	verifier    auth.Verifier
	provisioner Provisioner

	authRequired bool
	limiter      *ratelimit.Limiter
	uploadDir    string
	adapters     []string
	checker      *health.Checker
	endpointKeys []string
	startedAt    time.Time

	logger   *log.Logger
	logLevel string
}

// New creates a Server. verifier and provisioner may be nil, in which case every
// request is anonymous.
func New(graphqlHandler http.Handler, uploads *upload.Service, verifier auth.Verifier, provisioner Provisioner) *Server {
	return &Server{
		graphql:      graphqlHandler,
		uploads:      uploads,
		verifier:     verifier,
		provisioner:  provisioner,
		endpointKeys: defaultEndpointKeys,
		startedAt:    time.Now(),
		logger:       log.New(log.Writer(), "[chatd/http] ", log.LstdFlags|log.Lmicroseconds),
	}
}

// SetLogger configures server-level logger and verbosity ("debug", "info", ...).
func (s *Server) SetLogger(level string, logger *log.Logger) {
	s.logLevel = strings.ToLower(strings.TrimSpace(level))
	if logger != nil {
		s.logger = logger
	}
}

// SetAuthRequired rejects requests without valid credentials.
func (s *Server) SetAuthRequired(required bool) {
	s.authRequired = required
	if required {
		s.debugf("anonymous access disabled")
	}
}

// SetRateLimiter installs the per-caller limiter on authenticated routes.
func (s *Server) SetRateLimiter(l *ratelimit.Limiter) { s.limiter = l }

// SetPlaygroundEnabled toggles the GraphQL playground at /playground.
func (s *Server) SetPlaygroundEnabled(enabled bool) {
	if enabled {
		s.endpointKeys = normalizeEndpointKeys(append(append([]string{}, s.endpointKeys...), "playground"), defaultEndpointKeys)
		return
	}
	s.endpointKeys = removeKey(s.endpointKeys, "playground")
}

// SetUploadDir serves locally stored uploads under /uploads/.
func (s *Server) SetUploadDir(dir string) {
	s.uploadDir = strings.TrimSpace(dir)
	if s.uploadDir != "" {
		s.endpointKeys = normalizeEndpointKeys(append(append([]string{}, s.endpointKeys...), "files"), defaultEndpointKeys)
	}
}

// SetHealthChecker enables store and upstream probes on /health/ready.
func (s *Server) SetHealthChecker(c *health.Checker) { s.checker = c }

// SetAdapters records the provider names reported by /health.
func (s *Server) SetAdapters(names []string) { s.adapters = names }

func (s *Server) isDebug() bool { return s.logLevel == "debug" }
func (s *Server) debugf(format string, args ...any) {
	if s.logger != nil && s.isDebug() {
		s.logger.Printf("DEBUG "+format, args...)
	}
}

// Router returns a configured chi router for embedding in HTTP servers.
func (s *Server) Router() http.Handler {
	r := s.newBaseRouter()
	var endpoints []protocol.Endpoint
	for _, key := range s.endpointKeys {
		if ep := s.endpointByKey(key); ep != nil {
			endpoints = append(endpoints, ep)
		}
	}

	for _, ep := range endpoints {
		s.debugf("registering endpoint %s", ep.Name())
		for _, route := range ep.Routes() {
			if route.Public {
				mount(r, route)
			}
		}
	}
	r.Group(func(private chi.Router) {
		private.Use(s.authMiddleware)
		if s.limiter.Enabled() {
			private.Use(ratelimit.NewMiddleware(s.limiter, s.logger).Wrap)
		}
		for _, ep := range endpoints {
			for _, route := range ep.Routes() {
				if !route.Public {
					mount(private, route)
				}
			}
		}
	})
	return r
}

func mount(r chi.Router, route protocol.EndpointRoute) {
	if route.Method == "*" {
		r.Handle(route.Path, route.Handler)
		return
	}
	r.Method(route.Method, route.Path, route.Handler)
}

func (s *Server) newBaseRouter() *chi.Mux {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.RequestLogger(&middleware.DefaultLogFormatter{Logger: s.logger, NoColor: true}))
	r.Use(middleware.Recoverer)
	r.Use(observe)
	return r
}

func (s *Server) endpointByKey(key string) protocol.Endpoint {
	switch key {
	case "graphql":
		if s.graphql == nil {
			return nil
		}
		return newGraphQLEndpoint(s)
	case "playground":
		return newPlaygroundEndpoint()
	case "uploads":
		if s.uploads == nil {
			return nil
		}
		return newUploadsEndpoint(s)
	case "files":
		return newFilesEndpoint(s.uploadDir)
	case "health", "status":
		return newHealthEndpoint(s)
	case "metrics":
		return newMetricsEndpoint()
	default:
		return nil
	}
}

func normalizeEndpointKeys(list []string, defaults []string) []string {
	if len(list) == 0 {
		return append([]string(nil), defaults...)
	}
	seen := make(map[string]struct{}, len(list))
	out := make([]string, 0, len(list))
	for _, key := range list {
		key = strings.ToLower(strings.TrimSpace(key))
		if key == "" {
			continue
		}
		if _, ok := seen[key]; ok {
			continue
		}
		seen[key] = struct{}{}
		out = append(out, key)
	}
	return out
}

func removeKey(list []string, key string) []string {
	out := list[:0:0]
	for _, k := range list {
		if k != key {
			out = append(out, k)
		}
	}
	return out
}

// observe records request latency per matched route.
func observe(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)
		route := ""
		if rc := chi.RouteContext(r.Context()); rc != nil {
			route = rc.RoutePattern()
		}
		status := ww.Status()
		if status == 0 {
			status = http.StatusOK
		}
		metrics.ObserveHTTP(route, r.Method, status, time.Since(start))
	})
}

// authMiddleware verifies the bearer token, provisions the identity and stores the
// viewer in the request context.
func (s *Server) authMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		token := bearerToken(r.Header.Get("Authorization"))
		if token == "" || s.verifier == nil {
			if s.authRequired {
				s.respondError(w, http.StatusUnauthorized, auth.ErrUnauthenticated)
				return
			}
			next.ServeHTTP(w, r.WithContext(auth.WithViewer(r.Context(), auth.Viewer{})))
			return
		}
		id, err := s.verifier.Verify(r.Context(), token)
		if err != nil {
			s.debugf("token rejected: %v", err)
			s.respondError(w, http.StatusUnauthorized, auth.ErrUnauthenticated)
			return
		}
		viewer := auth.Viewer{Identity: id}
		if s.provisioner != nil {
			viewer, err = s.provisioner.Provision(r.Context(), id)
			if err != nil {
				s.logger.Printf("provision %s: %v", id.UserID, err)
				s.respondError(w, http.StatusInternalServerError, errors.New("could not provision user"))
				return
			}
		}
		next.ServeHTTP(w, r.WithContext(auth.WithViewer(r.Context(), viewer)))
	})
}

func bearerToken(header string) string {
	header = strings.TrimSpace(header)
	if header == "" {
		return ""
	}
	if !strings.HasPrefix(strings.ToLower(header), "bearer ") {
		return ""
	}
	return strings.TrimSpace(header[7:])
}

func (s *Server) respondJSON(w http.ResponseWriter, status int, payload any) {
	if payload == nil {
		w.WriteHeader(status)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func (s *Server) respondError(w http.ResponseWriter, status int, err error) {
	if err == nil {
		err = errors.New("unknown error")
	}
	s.respondJSON(w, status, map[string]any{"error": err.Error()})
}
