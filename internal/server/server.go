// Package server provides the HTTP API of the planner.
package server

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"net"
	"net/http"
	"os"
	"sync/atomic"
	"time"

	"github.com/rs/cors"
	"go.uber.org/zap"

	"github.com/limiquantix/planner/internal/config"
	"github.com/limiquantix/planner/internal/domain"
	"github.com/limiquantix/planner/internal/drs"
	"github.com/limiquantix/planner/internal/metrics"
	"github.com/limiquantix/planner/internal/reconfig"
	"github.com/limiquantix/planner/internal/repository/etcd"
	"github.com/limiquantix/planner/internal/repository/memory"
	"github.com/limiquantix/planner/internal/repository/postgres"
	"github.com/limiquantix/planner/internal/repository/redis"
	"github.com/limiquantix/planner/internal/scheduler"
	"github.com/limiquantix/planner/internal/server/middleware"
	"github.com/limiquantix/planner/internal/solver"
)

// NodeRepository is the node storage used by the API.
type NodeRepository interface {
	scheduler.NodeRepository
	Create(ctx context.Context, n *domain.Node) (*domain.Node, error)
}

// VMRepository is the VM storage used by the API.
type VMRepository interface {
	scheduler.VMRepository
	Create(ctx context.Context, vm *domain.VirtualMachine) (*domain.VirtualMachine, error)
	Get(ctx context.Context, id string) (*domain.VirtualMachine, error)
}

// Server represents the main HTTP server.
type Server struct {
	config     *config.Config
	logger     *zap.Logger
	httpServer *http.Server
	mux        *http.ServeMux

	// Infrastructure
	db    *postgres.DB
	cache *redis.Cache
	etcd  *etcd.Client

	nodeRepo NodeRepository
	vmRepo   VMRepository
	planRepo drs.PlanRepository

	scheduler *scheduler.Scheduler
	engine    *drs.Engine
	auth      *middleware.Auth
	hub       *hub

	leadership *leadership
}

// ServerOption configures the server.
type ServerOption func(*Server)

// WithPostgreSQL enables PostgreSQL as the data store.
func WithPostgreSQL(db *postgres.DB) ServerOption {
	return func(s *Server) {
		s.db = db
	}
}

// WithRedis enables Redis caching and cross-instance plan events.
func WithRedis(cache *redis.Cache) ServerOption {
	return func(s *Server) {
		s.cache = cache
	}
}

// WithEtcd enables etcd leader election.
func WithEtcd(client *etcd.Client) ServerOption {
	return func(s *Server) {
		s.etcd = client
	}
}

// New creates a new server instance.
func New(cfg *config.Config, logger *zap.Logger, opts ...ServerOption) (*Server, error) {
	mux := http.NewServeMux()

	s := &Server{
		config: cfg,
		logger: logger,
		mux:    mux,
		hub:    newHub(logger),
	}

	// Apply options
	for _, opt := range opts {
		opt(s)
	}
	s.leadership = &leadership{elected: s.etcd != nil}

	s.initRepositories()
	if err := s.initServices(); err != nil {
		return nil, err
	}
	s.registerRoutes()

	handler := s.setupMiddleware(mux)
	s.httpServer = &http.Server{
		Addr:         cfg.Server.Address(),
		Handler:      handler,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
	}

	return s, nil
}

// initRepositories initializes data repositories.
func (s *Server) initRepositories() {
	if s.db != nil {
		s.logger.Info("Initializing PostgreSQL repositories")
		s.nodeRepo = postgres.NewNodeRepository(s.db, s.logger)
		s.vmRepo = postgres.NewVMRepository(s.db, s.logger)
		s.planRepo = postgres.NewPlanRepository(s.db, s.logger)
	} else {
		// Development mode
		s.logger.Info("Initializing in-memory repositories")
		s.nodeRepo = memory.NewNodeRepository()
		s.vmRepo = memory.NewVMRepository()
		s.planRepo = memory.NewPlanRepository()
	}

	s.logger.Info("Repositories initialized",
		zap.Bool("postgres", s.db != nil),
		zap.Bool("redis", s.cache != nil),
		zap.Bool("etcd", s.etcd != nil),
	)
}

// initServices builds the solver, the scheduler and the DRS engine.
func (s *Server) initServices() error {
	durations, err := reconfig.DurationsFromMap(s.config.Durations)
	if err != nil {
		return fmt.Errorf("invalid action durations: %w", err)
	}

	slv := solver.New(s.config.Solver, s.logger)
	s.scheduler = scheduler.New(s.nodeRepo, s.vmRepo, slv, s.config.Scheduler, s.logger)
	s.scheduler.SetDurations(durations)

	s.engine = drs.NewEngine(
		s.config.DRS,
		s.scheduler,
		slv,
		s.planRepo,
		&notifier{cache: s.cache, hub: s.hub},
		s.leadership,
		s.logger,
	)

	var jwtManager *middleware.JWTManager
	if s.config.Auth.Enabled {
		jwtManager = middleware.NewJWTManager(s.config.Auth)
	}
	s.auth = middleware.NewAuth(jwtManager, s.logger)

	s.logger.Info("Services initialized",
		zap.String("drs_automation", s.config.DRS.AutomationLevel),
		zap.Duration("drs_interval", s.config.DRS.Interval),
		zap.Duration("solver_time_limit", s.config.Solver.TimeLimit),
		zap.Bool("auth", jwtManager != nil),
	)
	return nil
}

// registerRoutes registers all HTTP routes.
func (s *Server) registerRoutes() {
	// Health endpoints
	s.mux.HandleFunc("/health", s.healthHandler)
	s.mux.HandleFunc("/healthz", s.healthHandler) // Kubernetes-style endpoint
	s.mux.HandleFunc("/ready", s.readyHandler)
	s.mux.HandleFunc("/live", s.liveHandler)

	if s.config.Metrics.Enabled {
		s.mux.Handle(s.config.Metrics.Path, metrics.Handler())
	}

	s.mux.HandleFunc("GET /api/v1/info", s.infoHandler)

	view := func(pattern string, h http.HandlerFunc) {
		s.mux.Handle(pattern, s.auth.Require(middleware.RoleViewer, h))
	}
	operate := func(pattern string, h http.HandlerFunc) {
		s.mux.Handle(pattern, s.auth.Require(middleware.RoleOperator, h))
	}

	// Inventory
	view("GET /api/v1/nodes", s.listNodes)
	operate("POST /api/v1/nodes", s.createNode)
	view("GET /api/v1/vms", s.listVMs)
	operate("POST /api/v1/vms", s.createVM)
	view("GET /api/v1/loads", s.listLoads)

	// Planning
	operate("POST /api/v1/schedule", s.schedule)
	operate("POST /api/v1/analyze", s.analyze)

	// Plans
	view("GET /api/v1/plans", s.listPlans)
	view("GET /api/v1/plans/events", s.planEvents)
	view("GET /api/v1/plans/{id}", s.getPlan)
	operate("POST /api/v1/plans/{id}/approve", s.approvePlan)
	operate("POST /api/v1/plans/{id}/apply", s.applyPlan)
	operate("POST /api/v1/plans/{id}/reject", s.rejectPlan)

	s.logger.Info("All routes registered", zap.Bool("metrics", s.config.Metrics.Enabled))
}

// setupMiddleware configures middleware chain.
func (s *Server) setupMiddleware(handler http.Handler) http.Handler {
	// CORS middleware
	corsHandler := cors.New(cors.Options{
		AllowedOrigins:   s.config.CORS.AllowedOrigins,
		AllowedMethods:   s.config.CORS.AllowedMethods,
		AllowedHeaders:   s.config.CORS.AllowedHeaders,
		AllowCredentials: s.config.CORS.AllowCredentials,
		MaxAge:           86400, // 24 hours
	})

	handler = corsHandler.Handler(handler)
	handler = s.loggingMiddleware(handler)
	handler = s.recoveryMiddleware(handler)

	return handler
}

// loggingMiddleware logs HTTP requests.
func (s *Server) loggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()

		// Wrap response writer to capture status code
		wrapped := &responseWriter{ResponseWriter: w, statusCode: http.StatusOK}

		next.ServeHTTP(wrapped, r)

		// Skip logging for health checks
		if r.URL.Path == "/health" || r.URL.Path == "/ready" || r.URL.Path == "/live" {
			return
		}

		s.logger.Info("HTTP request",
			zap.String("method", r.Method),
			zap.String("path", r.URL.Path),
			zap.Int("status", wrapped.statusCode),
			zap.Duration("duration", time.Since(start)),
			zap.String("remote_addr", r.RemoteAddr),
			zap.String("user_agent", r.UserAgent()),
		)
	})
}

// recoveryMiddleware recovers from panics.
func (s *Server) recoveryMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		defer func() {
			if err := recover(); err != nil {
				s.logger.Error("Panic recovered",
					zap.Any("error", err),
					zap.String("path", r.URL.Path),
				)
				http.Error(w, "Internal Server Error", http.StatusInternalServerError)
			}
		}()
		next.ServeHTTP(w, r)
	})
}

// responseWriter wraps http.ResponseWriter to capture status code.
type responseWriter struct {
	http.ResponseWriter
	statusCode int
}

func (rw *responseWriter) WriteHeader(code int) {
	rw.statusCode = code
	rw.ResponseWriter.WriteHeader(code)
}

func (rw *responseWriter) Unwrap() http.ResponseWriter {
	return rw.ResponseWriter
}

// Hijack lets the websocket upgrader take over the connection.
func (rw *responseWriter) Hijack() (net.Conn, *bufio.ReadWriter, error) {
	hijacker, ok := rw.ResponseWriter.(http.Hijacker)
	if !ok {
		return nil, nil, fmt.Errorf("response writer does not support hijacking")
	}
	rw.statusCode = http.StatusSwitchingProtocols
	return hijacker.Hijack()
}

// healthHandler returns health status.
func (s *Server) healthHandler(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, http.StatusOK, map[string]string{"status": "healthy", "service": "planner"})
}

// readyHandler returns readiness status.
func (s *Server) readyHandler(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	ready := true
	details := map[string]string{}

	check := func(name string, health func(context.Context) error) {
		if err := health(ctx); err != nil {
			ready = false
			details[name] = "unhealthy"
		} else {
			details[name] = "healthy"
		}
	}
	if s.db != nil {
		check("postgres", s.db.Health)
	}
	if s.cache != nil {
		check("redis", s.cache.Health)
	}
	if s.etcd != nil {
		check("etcd", s.etcd.Health)
	}

	status := http.StatusOK
	if !ready {
		status = http.StatusServiceUnavailable
	}
	s.writeJSON(w, status, map[string]interface{}{"ready": ready, "components": details})
}

// liveHandler returns liveness status.
func (s *Server) liveHandler(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, http.StatusOK, map[string]bool{"alive": true})
}

// infoHandler returns API information.
func (s *Server) infoHandler(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, http.StatusOK, map[string]interface{}{
		"name":        "planner",
		"api_version": "v1",
		"description": "Reconfiguration planner for virtualized clusters",
		"leader":      s.leadership.IsLeader(),
		"drs": map[string]interface{}{
			"enabled":       s.config.DRS.Enabled,
			"running":       s.engine.IsRunning(),
			"automation":    s.config.DRS.AutomationLevel,
			"last_analysis": s.engine.GetLastAnalysisTime(),
		},
		"infrastructure": map[string]bool{
			"postgres": s.db != nil,
			"redis":    s.cache != nil,
			"etcd":     s.etcd != nil,
		},
	})
}

// Handler returns the HTTP handler with its middleware chain.
func (s *Server) Handler() http.Handler {
	return s.httpServer.Handler
}

// Engine returns the DRS engine.
func (s *Server) Engine() *drs.Engine {
	return s.engine
}

// Run starts the HTTP server and the DRS loop, and blocks until shutdown.
func (s *Server) Run(ctx context.Context) error {
	s.logger.Info("Starting server",
		zap.String("address", s.config.Server.Address()),
	)

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	// Start leader election if etcd is available
	if s.etcd != nil {
		hostname, _ := os.Hostname()
		candidate := fmt.Sprintf("%s/%d", hostname, os.Getpid())
		s.leadership.set(s.etcd.Campaign(ctx, candidate, func(isLeader bool) {
			metrics.Leader.Set(boolGauge(isLeader))
			if isLeader {
				s.logger.Info("This instance is now the leader")
			} else {
				s.logger.Info("This instance is now a follower")
			}
		}))
	}

	if s.cache != nil {
		go s.forwardEvents(ctx)
	}
	go s.engine.Start(ctx)

	// Start server in goroutine
	errCh := make(chan error, 1)
	go func() {
		if err := s.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()

	// Wait for shutdown signal or error
	select {
	case <-ctx.Done():
		s.logger.Info("Shutdown signal received")
	case err := <-errCh:
		return fmt.Errorf("server error: %w", err)
	}

	// Graceful shutdown
	return s.Shutdown()
}

// Shutdown gracefully shuts down the server.
func (s *Server) Shutdown() error {
	shutdownCtx, cancel := context.WithTimeout(context.Background(), s.config.Server.ShutdownTimeout)
	defer cancel()

	s.logger.Info("Shutting down server...")

	// Resign from leadership
	if leader := s.leadership.leader.Load(); leader != nil {
		if err := leader.Resign(shutdownCtx); err != nil {
			s.logger.Warn("Failed to resign leadership", zap.Error(err))
		}
	}

	if err := s.httpServer.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("HTTP shutdown error: %w", err)
	}
	s.hub.close()

	// Close infrastructure connections
	if s.etcd != nil {
		if err := s.etcd.Close(); err != nil {
			s.logger.Warn("Failed to close etcd", zap.Error(err))
		}
	}
	if s.cache != nil {
		if err := s.cache.Close(); err != nil {
			s.logger.Warn("Failed to close Redis", zap.Error(err))
		}
	}
	if s.db != nil {
		s.db.Close()
	}

	s.logger.Info("Server stopped gracefully")
	return nil
}

// Address returns the server address.
func (s *Server) Address() string {
	return s.config.Server.Address()
}

// leadership reports whether this instance may run the DRS loop. Without etcd every
// instance leads.
type leadership struct {
	elected bool
	leader  atomic.Pointer[etcd.Leader]
}

func (l *leadership) set(leader *etcd.Leader) {
	l.leader.Store(leader)
}

// IsLeader implements drs.LeaderChecker.
func (l *leadership) IsLeader() bool {
	if !l.elected {
		return true
	}
	leader := l.leader.Load()
	return leader != nil && leader.IsLeader()
}

func boolGauge(b bool) float64 {
	if b {
		return 1
	}
	return 0
}

// writeJSON writes a JSON response.
func (s *Server) writeJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		s.logger.Error("Failed to write JSON response", zap.Error(err))
	}
}
