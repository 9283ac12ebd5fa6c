// Package server provides the read-only HTTP surface of a memento process:
// health, Prometheus metrics, and JSON views of workspace stats, search and
// graph exploration.
package server

import (
	"context"
	"encoding/json"
	"errors"
	"net"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"go.uber.org/zap"

	"github.com/scrypster/memento-graph/internal/engine"
	"github.com/scrypster/memento-graph/internal/storage"
	"github.com/scrypster/memento-graph/internal/workspace"
)

// Server serves the HTTP routes over a workspace registry.
type Server struct {
	registry *workspace.Registry
	metrics  http.Handler
	logger   *zap.Logger
	version  string
}

// Option configures a Server.
type Option func(*Server)

// WithLogger sets the structured logger.
func WithLogger(l *zap.Logger) Option {
	return func(s *Server) {
		if l != nil {
			s.logger = l
		}
	}
}

// WithMetrics mounts h at /metrics.
func WithMetrics(h http.Handler) Option {
	return func(s *Server) { s.metrics = h }
}

// WithVersion sets the version reported by /health.
func WithVersion(v string) Option {
	return func(s *Server) {
		if v != "" {
			s.version = v
		}
	}
}

// New creates a server for registry.
func New(registry *workspace.Registry, opts ...Option) *Server {
	s := &Server{registry: registry, logger: zap.NewNop(), version: "dev"}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// securityHeadersMiddleware adds security headers to all HTTP responses.
func securityHeadersMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("X-Content-Type-Options", "nosniff")
		w.Header().Set("X-Frame-Options", "DENY")
		w.Header().Set("Referrer-Policy", "strict-origin-when-cross-origin")
		next.ServeHTTP(w, r)
	})
}

// requestLogger logs each request at debug level.
func requestLogger(logger *zap.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			ww := chimiddleware.NewWrapResponseWriter(w, r.ProtoMajor)
			next.ServeHTTP(ww, r)
			logger.Debug("http request",
				zap.String("method", r.Method),
				zap.String("path", r.URL.Path),
				zap.Int("status", ww.Status()),
				zap.Duration("duration", time.Since(start)),
				zap.String("request_id", chimiddleware.GetReqID(r.Context())))
		})
	}
}

// Handler builds the router.
func (s *Server) Handler() http.Handler {
	r := chi.NewRouter()
	r.Use(chimiddleware.RequestID)
	r.Use(chimiddleware.Recoverer)
	r.Use(requestLogger(s.logger))
	r.Use(securityHeadersMiddleware)

	r.Get("/health", s.health)
	if s.metrics != nil {
		r.Method(http.MethodGet, "/metrics", s.metrics)
	}

	r.Route("/api/workspaces", func(r chi.Router) {
		r.Get("/", s.listWorkspaces)
		r.Route("/{name}", func(r chi.Router) {
			r.Get("/stats", s.stats)
			r.Get("/search", s.search)
			r.Get("/explore", s.explore)
		})
	})
	return r
}

// Start listens on addr and serves until ctx is done. It returns the actual
// address being listened on (useful for tests with port 0).
func (s *Server) Start(ctx context.Context, addr string) (string, error) {
	srv := &http.Server{
		Handler:      s.Handler(),
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	listener, err := net.Listen("tcp", addr)
	if err != nil {
		return "", err
	}
	actualAddr := listener.Addr().String()

	go func() {
		if err := srv.Serve(listener); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.logger.Error("http server error", zap.Error(err))
		}
	}()

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			s.logger.Warn("http server shutdown error", zap.Error(err))
		}
	}()

	s.logger.Info("http server listening", zap.String("addr", actualAddr))
	return actualAddr, nil
}

func (s *Server) health(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "healthy", "version": s.version})
}

type workspaceInfo struct {
	Name        string `json:"name"`
	Description string `json:"description,omitempty"`
	Enabled     bool   `json:"enabled"`
	Default     bool   `json:"default"`
}

func (s *Server) listWorkspaces(w http.ResponseWriter, r *http.Request) {
	def := s.registry.Default()
	list := s.registry.List()
	out := make([]workspaceInfo, 0, len(list))
	for _, ws := range list {
		out = append(out, workspaceInfo{
			Name:        ws.Name,
			Description: ws.Description,
			Enabled:     ws.Enabled,
			Default:     ws.Name == def,
		})
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"workspaces": out})
}

func (s *Server) resolve(w http.ResponseWriter, r *http.Request) (*engine.Engine, bool) {
	eng, err := s.registry.Engine(r.Context(), chi.URLParam(r, "name"))
	if err != nil {
		s.writeError(w, err)
		return nil, false
	}
	return eng, true
}

func (s *Server) stats(w http.ResponseWriter, r *http.Request) {
	eng, ok := s.resolve(w, r)
	if !ok {
		return
	}
	st, err := eng.Stats(r.Context())
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, st)
}

func (s *Server) search(w http.ResponseWriter, r *http.Request) {
	eng, ok := s.resolve(w, r)
	if !ok {
		return
	}
	q := r.URL.Query()
	req := engine.SearchRequest{Query: q.Get("q")}
	if v := q.Get("max"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			s.writeError(w, storage.ErrInvalidInput)
			return
		}
		req.MaxResults = n
	}
	if v := q.Get("expand"); v != "" {
		expand, err := strconv.ParseBool(v)
		if err != nil {
			s.writeError(w, storage.ErrInvalidInput)
			return
		}
		req.ExpandGraph = &expand
	}
	req.Filters.Type = q.Get("type")
	req.Filters.Case = q.Get("case")
	req.Filters.People = q["person"]
	req.Filters.Tags = q["tag"]

	resp := eng.SearchAdvanced(r.Context(), req)
	status := http.StatusOK
	if resp.Error != "" {
		status = http.StatusBadRequest
	}
	writeJSON(w, status, resp)
}

func (s *Server) explore(w http.ResponseWriter, r *http.Request) {
	eng, ok := s.resolve(w, r)
	if !ok {
		return
	}
	q := r.URL.Query()
	req := engine.ExploreRequest{Entity: q.Get("entity"), RelationshipTypes: q["rel"]}
	if v := q.Get("depth"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			s.writeError(w, storage.ErrInvalidInput)
			return
		}
		req.Depth = n
	}
	resp, err := eng.Explore(r.Context(), req)
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) writeError(w http.ResponseWriter, err error) {
	status := http.StatusInternalServerError
	switch {
	case errors.Is(err, workspace.ErrNotFound):
		status = http.StatusNotFound
	case errors.Is(err, workspace.ErrDisabled):
		status = http.StatusConflict
	case errors.Is(err, storage.ErrInvalidInput):
		status = http.StatusBadRequest
	}
	if status == http.StatusInternalServerError {
		s.logger.Error("request failed", zap.Error(err))
	}
	writeJSON(w, status, map[string]string{"error": err.Error()})
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
