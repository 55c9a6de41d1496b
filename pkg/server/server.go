// Package server exposes the lab lifecycle, provider management, catalog
// and scanner over a JSON REST API.
package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/iammrherb/labdabbler/pkg/catalog"
	"github.com/iammrherb/labdabbler/pkg/config"
	laberrors "github.com/iammrherb/labdabbler/pkg/errors"
	"github.com/iammrherb/labdabbler/pkg/launcher"
	"github.com/iammrherb/labdabbler/pkg/logging"
	"github.com/iammrherb/labdabbler/pkg/middleware"
	"github.com/iammrherb/labdabbler/pkg/monitoring"
	"github.com/iammrherb/labdabbler/pkg/provider"
	"github.com/iammrherb/labdabbler/pkg/state"
	"github.com/iammrherb/labdabbler/pkg/topology"
	"github.com/iammrherb/labdabbler/pkg/types"
)

// Server is the HTTP API server.
type Server struct {
	cfg      *config.Config
	launcher *launcher.Service
	factory  *provider.Factory
	store    state.Store
	catalog  *catalog.Service
	scanner  TopologyScanner
	metrics  *monitoring.Metrics
	logger   *logging.Logger
	srv      *http.Server
}

// TopologyScanner is the scanner surface the API uses.
type TopologyScanner interface {
	ScanLocal(ctx context.Context) ([]*types.TopologyFile, error)
	SearchGitHub(ctx context.Context, query string, limit int) ([]*types.TopologyFile, error)
}

// Options bundles the dependencies the server is wired with.
type Options struct {
	Config   *config.Config
	Launcher *launcher.Service
	Factory  *provider.Factory
	Store    state.Store
	Catalog  *catalog.Service
	Scanner  TopologyScanner
	Metrics  *monitoring.Metrics
}

// New wires the API server. Catalog, scanner and metrics are optional;
// their routes return 404 or degrade when absent.
func New(opts Options) *Server {
	s := &Server{
		cfg:      opts.Config,
		launcher: opts.Launcher,
		factory:  opts.Factory,
		store:    opts.Store,
		catalog:  opts.Catalog,
		scanner:  opts.Scanner,
		metrics:  opts.Metrics,
		logger:   logging.WithComponent("server"),
	}

	s.srv = &http.Server{
		Addr:         fmt.Sprintf("%s:%d", opts.Config.Server.Host, opts.Config.Server.Port),
		Handler:      s.buildHandler(),
		ReadTimeout:  opts.Config.Server.ReadTimeout,
		WriteTimeout: opts.Config.Server.WriteTimeout,
		IdleTimeout:  opts.Config.Server.IdleTimeout,
	}
	return s
}

// buildHandler assembles the route table and the middleware chain. The
// health probes stay outside the auth and rate limit wrappers.
func (s *Server) buildHandler() http.Handler {
	api := http.NewServeMux()

	api.HandleFunc("POST /api/v1/labs", s.handleLaunch)
	api.HandleFunc("GET /api/v1/labs", s.handleListLabs)
	api.HandleFunc("GET /api/v1/labs/{id}", s.handleLabStatus)
	api.HandleFunc("DELETE /api/v1/labs/{id}", s.handleStopLab)
	api.HandleFunc("GET /api/v1/labs/{id}/events", s.handleLabEvents)

	api.HandleFunc("GET /api/v1/providers", s.handleListProviders)
	api.HandleFunc("POST /api/v1/providers", s.handleAddProvider)
	api.HandleFunc("DELETE /api/v1/providers/{name}", s.handleRemoveProvider)
	api.HandleFunc("PUT /api/v1/providers/{name}/default", s.handleSetDefaultProvider)
	api.HandleFunc("GET /api/v1/providers/health", s.handleProvidersHealth)

	if s.catalog != nil {
		api.HandleFunc("GET /api/v1/catalog/images", s.handleCatalogImages)
	}
	if s.scanner != nil {
		api.HandleFunc("GET /api/v1/topologies", s.handleScanTopologies)
		api.HandleFunc("GET /api/v1/topologies/search", s.handleSearchTopologies)
	}
	api.HandleFunc("POST /api/v1/topologies/template", s.handleGenerateTemplate)

	var apiHandler http.Handler = api
	apiHandler = middleware.NewAuthenticator(&s.cfg.Security.Authentication).Middleware(apiHandler)
	apiHandler = middleware.NewRateLimiter(&s.cfg.Security.RateLimit).Middleware(apiHandler)

	mux := http.NewServeMux()
	mux.HandleFunc("GET /healthz", s.handleHealthz)
	mux.HandleFunc("GET /readyz", s.handleReadyz)
	mux.Handle("/api/", apiHandler)

	var handler http.Handler = mux
	if s.cfg.Server.CORSEnabled {
		handler = s.corsMiddleware(handler)
	}
	handler = s.requestLogger(handler)
	return handler
}

// Start serves until the listener fails or Shutdown is called.
func (s *Server) Start() error {
	s.logger.Info("api server listening on %s", s.srv.Addr)
	if err := s.srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return fmt.Errorf("api server failed: %w", err)
	}
	return nil
}

// Shutdown drains in-flight requests.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.srv.Shutdown(ctx)
}

// Handler exposes the assembled handler, used by tests.
func (s *Server) Handler() http.Handler {
	return s.srv.Handler
}

func (s *Server) writeJSON(w http.ResponseWriter, status int, resp *types.Response) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(resp); err != nil {
		s.logger.WithError(err).Error("failed to encode response")
	}
}

func (s *Server) writeData(w http.ResponseWriter, status int, data interface{}) {
	s.writeJSON(w, status, &types.Response{Success: true, Data: data})
}

// writeError maps domain errors onto HTTP status codes.
func (s *Server) writeError(w http.ResponseWriter, err error) {
	status := http.StatusInternalServerError
	switch {
	case errors.Is(err, laberrors.ErrLabNotFound),
		errors.Is(err, laberrors.ErrProviderNotFound),
		errors.Is(err, laberrors.ErrLabFileNotFound):
		status = http.StatusNotFound
	case errors.Is(err, laberrors.ErrDuplicateProvider):
		status = http.StatusConflict
	case errors.Is(err, laberrors.ErrRemoveDefault),
		errors.Is(err, laberrors.ErrOriginalFileMissing),
		errors.Is(err, laberrors.ErrNoDefaultProvider):
		status = http.StatusConflict
	case errors.Is(err, laberrors.ErrToolUnavailable):
		status = http.StatusServiceUnavailable
	}

	var toolErr *laberrors.ToolError
	if errors.As(err, &toolErr) {
		status = http.StatusBadGateway
	}
	var transportErr *laberrors.TransportError
	if errors.As(err, &transportErr) {
		status = http.StatusBadGateway
	}

	s.writeJSON(w, status, &types.Response{Success: false, Error: err.Error()})
}

func (s *Server) handleHealthz(w http.ResponseWriter, r *http.Request) {
	s.writeData(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handleReadyz(w http.ResponseWriter, r *http.Request) {
	if err := s.store.HealthCheck(r.Context()); err != nil {
		s.writeJSON(w, http.StatusServiceUnavailable, &types.Response{Success: false, Error: err.Error()})
		return
	}
	s.writeData(w, http.StatusOK, map[string]string{"status": "ready"})
}

type launchRequest struct {
	Source   string `json:"source"`
	Provider string `json:"provider,omitempty"`
}

func (s *Server) handleLaunch(w http.ResponseWriter, r *http.Request) {
	var req launchRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.writeJSON(w, http.StatusBadRequest, &types.Response{Success: false, Error: "invalid request body"})
		return
	}
	if req.Source == "" {
		s.writeJSON(w, http.StatusBadRequest, &types.Response{Success: false, Error: "source is required"})
		return
	}

	result, err := s.launcher.Launch(r.Context(), req.Source, req.Provider)
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeData(w, http.StatusCreated, result)
}

func (s *Server) handleListLabs(w http.ResponseWriter, r *http.Request) {
	infos, err := s.launcher.ListActive(r.Context())
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeData(w, http.StatusOK, infos)
}

func (s *Server) handleLabStatus(w http.ResponseWriter, r *http.Request) {
	info := s.launcher.Status(r.Context(), r.PathValue("id"))
	if !info.Found {
		s.writeJSON(w, http.StatusNotFound, &types.Response{Success: false, Error: "lab not found", Data: info})
		return
	}
	s.writeData(w, http.StatusOK, info)
}

func (s *Server) handleStopLab(w http.ResponseWriter, r *http.Request) {
	result, err := s.launcher.Stop(r.Context(), r.PathValue("id"))
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeData(w, http.StatusOK, result)
}

func (s *Server) handleLabEvents(w http.ResponseWriter, r *http.Request) {
	events, err := s.launcher.Events(r.Context(), r.PathValue("id"), 50)
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeData(w, http.StatusOK, events)
}

func (s *Server) handleListProviders(w http.ResponseWriter, r *http.Request) {
	s.writeData(w, http.StatusOK, s.factory.ListProviders())
}

func (s *Server) handleAddProvider(w http.ResponseWriter, r *http.Request) {
	var cfg types.ProviderConfig
	if err := json.NewDecoder(r.Body).Decode(&cfg); err != nil {
		s.writeJSON(w, http.StatusBadRequest, &types.Response{Success: false, Error: "invalid request body"})
		return
	}

	if err := s.factory.AddProvider(&cfg); err != nil {
		if errors.Is(err, laberrors.ErrDuplicateProvider) {
			s.writeError(w, err)
		} else {
			s.writeJSON(w, http.StatusBadRequest, &types.Response{Success: false, Error: err.Error()})
		}
		return
	}
	s.writeJSON(w, http.StatusCreated, &types.Response{Success: true, Message: "provider added"})
}

func (s *Server) handleRemoveProvider(w http.ResponseWriter, r *http.Request) {
	if err := s.factory.RemoveProvider(r.PathValue("name")); err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, &types.Response{Success: true, Message: "provider removed"})
}

func (s *Server) handleSetDefaultProvider(w http.ResponseWriter, r *http.Request) {
	if err := s.factory.SetDefaultProvider(r.PathValue("name")); err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, &types.Response{Success: true, Message: "default provider set"})
}

func (s *Server) handleProvidersHealth(w http.ResponseWriter, r *http.Request) {
	results := s.factory.CheckAllProvidersHealth(r.Context())
	if s.metrics != nil {
		for name, health := range results {
			val := 0.0
			if health.Healthy {
				val = 1.0
			}
			s.metrics.ProviderHealthy.WithLabelValues(name).Set(val)
		}
	}
	s.writeData(w, http.StatusOK, results)
}

func (s *Server) handleCatalogImages(w http.ResponseWriter, r *http.Request) {
	query := r.URL.Query().Get("q")
	images, err := s.catalog.Search(r.Context(), query)
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeData(w, http.StatusOK, images)
}

func (s *Server) handleScanTopologies(w http.ResponseWriter, r *http.Request) {
	files, err := s.scanner.ScanLocal(r.Context())
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeData(w, http.StatusOK, files)
}

func (s *Server) handleSearchTopologies(w http.ResponseWriter, r *http.Request) {
	query := r.URL.Query().Get("q")
	if query == "" {
		s.writeJSON(w, http.StatusBadRequest, &types.Response{Success: false, Error: "q is required"})
		return
	}

	files, err := s.scanner.SearchGitHub(r.Context(), query, 30)
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeData(w, http.StatusOK, files)
}

type templateRequest struct {
	Name      string `json:"name"`
	Kind      string `json:"kind"`
	NodeCount int    `json:"node_count,omitempty"`
}

func (s *Server) handleGenerateTemplate(w http.ResponseWriter, r *http.Request) {
	var req templateRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.writeJSON(w, http.StatusBadRequest, &types.Response{Success: false, Error: "invalid request body"})
		return
	}

	def, err := topology.GenerateTemplate(req.Name, req.Kind, req.NodeCount)
	if err != nil {
		s.writeJSON(w, http.StatusBadRequest, &types.Response{Success: false, Error: err.Error()})
		return
	}
	s.writeData(w, http.StatusOK, def)
}

// statusRecorder captures the response status for logging and metrics.
type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(status int) {
	r.status = status
	r.ResponseWriter.WriteHeader(status)
}

func (s *Server) requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}

		next.ServeHTTP(rec, r)

		elapsed := time.Since(start)
		s.logger.WithFields(map[string]interface{}{
			"method":   r.Method,
			"path":     r.URL.Path,
			"status":   rec.status,
			"duration": elapsed.String(),
		}).Info("request handled")

		if s.metrics != nil {
			s.metrics.HTTPRequests.WithLabelValues(r.Method, r.URL.Path, fmt.Sprint(rec.status)).Inc()
			s.metrics.HTTPDuration.WithLabelValues(r.Method, r.URL.Path).Observe(elapsed.Seconds())
		}
	})
}

func (s *Server) corsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		origin := "*"
		if len(s.cfg.Server.CORSAllowedOrigins) > 0 {
			origin = s.cfg.Server.CORSAllowedOrigins[0]
		}
		w.Header().Set("Access-Control-Allow-Origin", origin)
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, PUT, DELETE, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Authorization, Content-Type")

		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusNoContent)
			return
		}
		next.ServeHTTP(w, r)
	})
}
