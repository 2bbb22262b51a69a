// Package api provides the HTTP API server implementation.
package api

import (
	"context"
	"fmt"
	"net/http"

	"github.com/funnel-metrics/internal/config"
	"github.com/funnel-metrics/internal/logging"
	"github.com/funnel-metrics/internal/monitoring"
	"github.com/funnel-metrics/internal/types"
	"github.com/gorilla/mux"
)

// DashboardAPI defines the platform operations served over HTTP
type DashboardAPI interface {
	ListStatuses(ctx context.Context) (types.AllPlatformStatuses, error)
	Connect(ctx context.Context, platform types.Platform, cred types.Credential) (types.AllPlatformStatuses, error)
	Sync(ctx context.Context, platform types.Platform) (types.AllPlatformStatuses, error)
	SyncAll(ctx context.Context) (types.AllPlatformStatuses, error)
	Disconnect(ctx context.Context, platform types.Platform) (types.AllPlatformStatuses, error)
	GetPromptContext(ctx context.Context) (string, error)
}

// Server represents the HTTP API server.
type Server struct {
	router     *mux.Router
	handler    http.Handler
	httpServer *http.Server
	dashboard  DashboardAPI
	monitor    monitoring.Provider
	config     *config.ServerConfig
}

// NewServer creates a new API server instance. A nil monitor records nothing
// and serves no metrics endpoint.
func NewServer(cfg *config.ServerConfig, dashboard DashboardAPI, monitor monitoring.Provider) *Server {
	if monitor == nil {
		monitor = monitoring.NewProvider(false)
	}
	s := &Server{
		router:    mux.NewRouter(),
		dashboard: dashboard,
		monitor:   monitor,
		config:    cfg,
	}

	s.setupRouter()

	return s
}

// setupRouter configures the router with middleware and routes
func (s *Server) setupRouter() {
	// Order matters: the request id must exist before anything logs
	s.router.Use(RequestIDMiddleware)
	s.router.Use(LoggingMiddleware(s.monitor))
	s.router.Use(RecoveryMiddleware)
	s.router.Use(CompressionMiddleware)

	s.setupRoutes()

	// CORS wraps the router so preflight requests are answered before route
	// matching, which has no OPTIONS routes.
	s.handler = CORSMiddleware(s.config.AllowedOrigins)(s.router)

	s.httpServer = &http.Server{
		Addr:         fmt.Sprintf("%s:%s", s.config.Host, s.config.Port),
		Handler:      s.handler,
		ReadTimeout:  s.config.ReadTimeout,
		WriteTimeout: s.config.WriteTimeout,
	}
}

// setupRoutes configures all API routes.
func (s *Server) setupRoutes() {
	s.router.HandleFunc("/health", s.handleHealth).Methods(http.MethodGet)
	s.router.Handle("/metrics", s.monitor.Handler()).Methods(http.MethodGet)

	api := s.router.PathPrefix("/api").Subrouter()

	// Connect and sync call the vendors, so they sit behind the client limiter.
	// "/platforms/sync" must be registered before the "{platform}" routes.
	limit := RateLimitMiddleware(NewRateLimiter(s.config.RateLimitRPS, s.config.RateLimitBurst))
	api.Handle("/platforms/sync", limit(http.HandlerFunc(s.handleSyncAll))).Methods(http.MethodPost)
	api.Handle("/platforms/{platform}/connect", limit(http.HandlerFunc(s.handleConnect))).Methods(http.MethodPost)
	api.Handle("/platforms/{platform}/sync", limit(http.HandlerFunc(s.handleSync))).Methods(http.MethodPost)

	api.HandleFunc("/platforms", s.handleListPlatforms).Methods(http.MethodGet)
	api.HandleFunc("/platforms/{platform}", s.handleDisconnect).Methods(http.MethodDelete)
	api.HandleFunc("/prompt-context", s.handlePromptContext).Methods(http.MethodGet)
}

// handleHealth handles health check requests.
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, http.StatusOK, map[string]string{
		"status":  "healthy",
		"service": "funnel-metrics",
	})
}

// Handler exposes the full handler chain, mainly for tests
func (s *Server) Handler() http.Handler {
	return s.handler
}

// Start starts the HTTP server.
func (s *Server) Start() error {
	logging.WithFields(map[string]interface{}{"addr": s.httpServer.Addr}).Info("Starting API server")
	return s.httpServer.ListenAndServe()
}

// Shutdown gracefully shuts down the server.
func (s *Server) Shutdown(ctx context.Context) error {
	logging.GetGlobalLogger().Info("Shutting down API server")
	return s.httpServer.Shutdown(ctx)
}
