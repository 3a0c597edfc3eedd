// Package api serves the chorus admin HTTP API: persona and alias
// management, channel activation, session control, and blackout
// inspection.
package api

import (
	"context"
	"encoding/json"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/jordanhubbard/chorus/internal/auth"
	"github.com/jordanhubbard/chorus/internal/metrics"
	"github.com/jordanhubbard/chorus/internal/persona"
	"github.com/jordanhubbard/chorus/internal/router"
	"github.com/jordanhubbard/chorus/pkg/config"
)

// PersonaStore is the persistence surface the handlers use. A nil
// store keeps persona and alias mutations in memory only.
type PersonaStore interface {
	persona.Directory
	UpsertPersona(ctx context.Context, p *persona.Persona) error
	DeletePersona(ctx context.Context, fullName string) (bool, error)
	SaveAlias(ctx context.Context, alias, personaName string) error
	DeleteAlias(ctx context.Context, alias string) (bool, error)
	Ping(ctx context.Context) error
}

// BusInfo exposes bus health to the readiness endpoint.
type BusInfo interface {
	Health() error
	Stats() map[string]interface{}
}

// Server is the admin HTTP API server.
type Server struct {
	router  *router.Router
	aliases *persona.AliasIndex
	store   PersonaStore
	auth    *auth.Manager
	bus     BusInfo
	cfg     *config.Config
	metrics *metrics.Metrics
}

// NewServer creates an admin API server. store and bus may be nil.
func NewServer(r *router.Router, aliases *persona.AliasIndex, store PersonaStore, am *auth.Manager, bus BusInfo, cfg *config.Config, m *metrics.Metrics) *Server {
	return &Server{
		router:  r,
		aliases: aliases,
		store:   store,
		auth:    am,
		bus:     bus,
		cfg:     cfg,
		metrics: m,
	}
}

// SetupRoutes configures HTTP routes.
func (s *Server) SetupRoutes() http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("/api/v1/health", s.handleHealth)
	mux.HandleFunc("/api/v1/ready", s.handleReady)
	mux.HandleFunc("/api/v1/auth/login", s.handleLogin)

	mux.HandleFunc("/api/v1/personas", s.handlePersonas)
	mux.HandleFunc("/api/v1/personas/", s.handlePersona)

	mux.HandleFunc("/api/v1/aliases", s.handleAliases)
	mux.HandleFunc("/api/v1/aliases/", s.handleAlias)

	mux.HandleFunc("/api/v1/channels/", s.handleChannel)
	mux.HandleFunc("/api/v1/sessions/", s.handleSession)

	mux.HandleFunc("/api/v1/blackouts", s.handleBlackouts)
	mux.HandleFunc("/api/v1/bus/stats", s.handleBusStats)

	handler := s.metricsMiddleware(mux)
	handler = s.authMiddleware(handler)
	return handler
}

// metricsMiddleware records request counts and latency per route.
func (s *Server) metricsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if s.metrics == nil {
			next.ServeHTTP(w, r)
			return
		}
		start := time.Now()
		sw := &statusWriter{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(sw, r)
		s.metrics.RecordHTTPRequest(r.Method, r.URL.Path, strconv.Itoa(sw.status), time.Since(start).Seconds())
	})
}

type statusWriter struct {
	http.ResponseWriter
	status int
}

func (w *statusWriter) WriteHeader(status int) {
	w.status = status
	w.ResponseWriter.WriteHeader(status)
}

type claimsKey struct{}

// claimsFrom returns the authenticated claims, or nil when auth is
// disabled.
func claimsFrom(ctx context.Context) *auth.Claims {
	c, _ := ctx.Value(claimsKey{}).(*auth.Claims)
	return c
}

// authMiddleware validates the Bearer token and checks permissions.
// Health, readiness, and login stay open.
func (s *Server) authMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/api/v1/health" ||
			r.URL.Path == "/api/v1/ready" ||
			r.URL.Path == "/api/v1/auth/login" {
			next.ServeHTTP(w, r)
			return
		}

		if !s.cfg.Security.EnableAuth {
			next.ServeHTTP(w, r)
			return
		}

		header := r.Header.Get("Authorization")
		token := strings.TrimPrefix(header, "Bearer ")
		if token == "" || token == header {
			s.respondError(w, http.StatusUnauthorized, "missing bearer token")
			return
		}

		claims, err := s.auth.ValidateToken(token)
		if err != nil {
			s.respondError(w, http.StatusUnauthorized, "invalid token")
			return
		}

		if !s.auth.HasPermission(claims, permissionFor(r)) {
			s.respondError(w, http.StatusForbidden, "insufficient permissions")
			return
		}

		ctx := context.WithValue(r.Context(), claimsKey{}, claims)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// permissionFor maps a request to a "resource:action" permission.
func permissionFor(r *http.Request) string {
	parts := strings.Split(strings.TrimPrefix(r.URL.Path, "/api/v1/"), "/")
	resource := "system"
	if len(parts) > 0 && parts[0] != "" {
		resource = parts[0]
	}
	action := "write"
	if r.Method == http.MethodGet || r.Method == http.MethodHead {
		action = "read"
	}
	return resource + ":" + action
}

// Helper functions

func (s *Server) respondJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

func (s *Server) respondError(w http.ResponseWriter, status int, message string) {
	s.respondJSON(w, status, map[string]string{"error": message})
}

func (s *Server) parseJSON(r *http.Request, v interface{}) error {
	return json.NewDecoder(r.Body).Decode(v)
}

// extractID extracts the first path segment after prefix.
func (s *Server) extractID(path, prefix string) string {
	id := strings.TrimPrefix(path, prefix)
	id = strings.TrimPrefix(id, "/")
	id = strings.TrimSuffix(id, "/")
	parts := strings.Split(id, "/")
	if len(parts) > 0 {
		return parts[0]
	}
	return id
}
