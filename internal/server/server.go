// Package server exposes a ledger node over HTTP and WebSocket and runs its
// background loops: the block clock, the settlement keeper and the realtime hub.
package server

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"os"
	"os/signal"
	"strconv"
	"sync/atomic"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	_ "github.com/lib/pq"

	"github.com/mbd888/computeledger/internal/app"
	"github.com/mbd888/computeledger/internal/auth"
	"github.com/mbd888/computeledger/internal/chain"
	"github.com/mbd888/computeledger/internal/config"
	"github.com/mbd888/computeledger/internal/currency"
	"github.com/mbd888/computeledger/internal/events"
	"github.com/mbd888/computeledger/internal/health"
	"github.com/mbd888/computeledger/internal/logging"
	"github.com/mbd888/computeledger/internal/metrics"
	"github.com/mbd888/computeledger/internal/providers"
	"github.com/mbd888/computeledger/internal/ratelimit"
	"github.com/mbd888/computeledger/internal/realtime"
	"github.com/mbd888/computeledger/internal/retry"
	"github.com/mbd888/computeledger/internal/rewards"
	"github.com/mbd888/computeledger/internal/security"
	"github.com/mbd888/computeledger/internal/state"
	"github.com/mbd888/computeledger/internal/tasks"
	"github.com/mbd888/computeledger/internal/validation"
	"github.com/mbd888/computeledger/migrations"
)

// Version is reported by /health and the info endpoints.
var Version = "dev"

const (
	defaultDrainDelay = 5 * time.Second
	dbStatsInterval   = 15 * time.Second
	maxEventPage      = 1000
	maxAdvanceBlocks  = 10_000
)

// -----------------------------------------------------------------------------
// Server
// -----------------------------------------------------------------------------

// Server wraps the HTTP server and the node's background loops
type Server struct {
	cfg          *config.Config
	node         *app.Node
	backend      state.Backend
	hub          *realtime.Hub
	clock        *chain.Clock
	keeper       *rewards.Keeper
	rateLimiter  *ratelimit.Limiter
	health       *health.Registry
	db           *sql.DB // nil if using in-memory
	router       *gin.Engine
	httpSrv      *http.Server
	logger       *slog.Logger
	drainDelay   time.Duration
	cancelRunCtx context.CancelFunc // cancels background goroutines started in Run

	// Health state
	ready   atomic.Bool
	healthy atomic.Bool
}

// Option configures the server
type Option func(*Server)

// WithLogger sets a custom logger
func WithLogger(logger *slog.Logger) Option {
	return func(s *Server) {
		s.logger = logger
	}
}

// WithBackend supplies the state backend instead of opening one from
// DatabaseURL (for testing).
func WithBackend(b state.Backend) Option {
	return func(s *Server) {
		s.backend = b
	}
}

// WithDrainDelay sets how long Shutdown waits for load balancers to stop
// sending traffic before closing listeners.
func WithDrainDelay(d time.Duration) Option {
	return func(s *Server) {
		s.drainDelay = d
	}
}

// New creates a new server instance
func New(cfg *config.Config, opts ...Option) (*Server, error) {
	s := &Server{
		cfg:        cfg,
		drainDelay: defaultDrainDelay,
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.logger == nil {
		s.logger = logging.New(cfg.LogLevel, cfg.LogFormat)
	}

	ctx := context.Background()

	// Storage: Postgres if DATABASE_URL set, otherwise in-memory
	if s.backend == nil {
		if cfg.DatabaseURL != "" {
			db, err := openDatabase(ctx, cfg.DatabaseURL)
			if err != nil {
				return nil, err
			}
			s.db = db
			s.backend = state.NewPostgresBackend(db)
			s.logger.Info("using PostgreSQL state backend", "url", maskDSN(cfg.DatabaseURL))
		} else {
			s.backend = state.NewMemoryBackend()
			s.logger.Warn("using in-memory state backend, ledger state is lost on restart")
		}
	}

	authority, err := auth.NewAuthority(cfg.AuthoritySecret)
	if err != nil {
		s.closeDB()
		return nil, err
	}

	s.hub = realtime.NewHub(logging.Component(s.logger, "realtime"))
	s.node, err = app.New(s.backend, authority, app.ParamsFromConfig(cfg),
		chain.WithLogger(logging.Component(s.logger, "chain")),
		chain.WithSinks(events.NewLogSink(logging.Component(s.logger, "events")), s.hub),
	)
	if err != nil {
		s.closeDB()
		return nil, err
	}
	if err := s.node.SyncGauges(ctx); err != nil {
		s.logger.Warn("failed to sync gauges from state", "error", err)
	}

	s.clock = chain.NewClock(s.node.Executor(), cfg.BlockInterval, logging.Component(s.logger, "clock"))
	if cfg.SettlementSchedule != "" {
		s.keeper = rewards.NewKeeper(cfg.SettlementSchedule, s.node.Sweeper(cfg.KeeperAccount), logging.Component(s.logger, "keeper"))
	}

	s.health = health.NewRegistry()
	s.health.Register(health.Ping("state", func(ctx context.Context) error {
		_, err := s.node.Height(ctx)
		return err
	}))
	if s.db != nil {
		s.health.Register(health.Ping("database", s.db.PingContext))
	}

	if cfg.IsProduction() {
		gin.SetMode(gin.ReleaseMode)
	}
	s.router = gin.New()
	s.setupMiddleware()
	s.setupRoutes()

	s.healthy.Store(true)
	return s, nil
}

func openDatabase(ctx context.Context, dsn string) (*sql.DB, error) {
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	db.SetMaxOpenConns(25)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(5 * time.Minute)

	err = retry.Do(ctx, retry.Connect, func(ctx context.Context) error {
		pingCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
		defer cancel()
		return db.PingContext(pingCtx)
	})
	if err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	if err := migrations.Up(ctx, db); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to apply migrations: %w", err)
	}
	return db, nil
}

// maskDSN hides password in connection string for logging
func maskDSN(dsn string) string {
	u, err := url.Parse(dsn)
	if err != nil {
		return "***"
	}
	if u.User != nil {
		u.User = url.UserPassword(u.User.Username(), "***")
	}
	return u.String()
}

// -----------------------------------------------------------------------------
// Middleware
// -----------------------------------------------------------------------------

func (s *Server) setupMiddleware() {
	// Recovery with logging
	s.router.Use(gin.CustomRecovery(func(c *gin.Context, recovered interface{}) {
		logging.L(c.Request.Context()).Error("panic recovered",
			"error", recovered,
			"path", c.Request.URL.Path,
		)
		c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{
			"error":   "internal_error",
			"message": "An unexpected error occurred",
		})
	}))

	s.router.Use(security.HeadersMiddleware())
	s.router.Use(security.CORSMiddleware(s.cfg.CORSOrigins))
	s.router.Use(validation.RequestSizeMiddleware(s.cfg.MaxRequestBytes))
	s.router.Use(metrics.Middleware())
	s.router.Use(logging.RequestContext(s.logger))
	s.router.Use(logging.AccessLog())

	// Keyed on the resolved caller, so it is installed on /v1 after auth.
	s.rateLimiter = ratelimit.New(ratelimit.ForRPM(s.cfg.RateLimitRPM))
}

// -----------------------------------------------------------------------------
// Routes
// -----------------------------------------------------------------------------

// ledgerRoutes is implemented by every ledger module's HTTP handler.
type ledgerRoutes interface {
	RegisterRoutes(r *gin.RouterGroup)
	RegisterProtectedRoutes(r *gin.RouterGroup)
	RegisterAuthorityRoutes(r *gin.RouterGroup)
}

func (s *Server) setupRoutes() {
	s.router.GET("/", s.infoHandler)
	s.router.GET("/health", s.healthHandler)
	s.router.GET("/health/live", s.livenessHandler)
	s.router.GET("/health/ready", s.readinessHandler)
	s.router.GET("/metrics", metrics.Handler())
	s.router.GET("/ws", gin.WrapF(s.hub.HandleWebSocket))

	v1 := s.router.Group("/v1")
	v1.Use(auth.Middleware(s.node.Authority()))
	v1.Use(s.rateLimiter.Middleware())
	v1.Use(validation.AddressParamMiddleware())

	protected := v1.Group("")
	protected.Use(auth.RequireSigned())

	admin := v1.Group("/admin")
	admin.Use(auth.RequireAuthority())

	handlers := []ledgerRoutes{
		currency.NewHandler(s.node),
		providers.NewHandler(s.node),
		tasks.NewHandler(s.node),
		rewards.NewHandler(s.node),
	}
	for _, h := range handlers {
		h.RegisterRoutes(v1)
		h.RegisterProtectedRoutes(protected)
		h.RegisterAuthorityRoutes(admin)
	}

	v1.GET("/params", s.paramsHandler)
	v1.GET("/events", s.eventsHandler)
	v1.GET("/realtime/stats", s.realtimeStatsHandler)

	admin.GET("/invariants", s.invariantsHandler)
	admin.POST("/blocks/advance", s.advanceHandler)
}

// HealthResponse is the body of GET /health.
type HealthResponse struct {
	Status    string          `json:"status"`
	Version   string          `json:"version"`
	Height    uint64          `json:"height"`
	Checks    []health.Status `json:"checks"`
	Timestamp string          `json:"timestamp"`
}

func (s *Server) healthHandler(c *gin.Context) {
	healthy, checks := s.health.CheckAll(c.Request.Context())

	status := "healthy"
	httpStatus := http.StatusOK
	if !healthy {
		status = "degraded"
		httpStatus = http.StatusServiceUnavailable
	}

	var height uint64
	if healthy {
		height, _ = s.node.Height(c.Request.Context())
	}

	c.JSON(httpStatus, HealthResponse{
		Status:    status,
		Version:   Version,
		Height:    height,
		Checks:    checks,
		Timestamp: time.Now().UTC().Format(time.RFC3339),
	})
}

func (s *Server) livenessHandler(c *gin.Context) {
	if !s.healthy.Load() {
		c.JSON(http.StatusServiceUnavailable, gin.H{"status": "unhealthy"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "alive"})
}

func (s *Server) readinessHandler(c *gin.Context) {
	if !s.ready.Load() {
		c.JSON(http.StatusServiceUnavailable, gin.H{"status": "not_ready"})
		return
	}
	s.health.Handler()(c)
}

func (s *Server) infoHandler(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"name":        "computeledger",
		"description": "Task, stake and reward ledger for a decentralized compute marketplace",
		"version":     Version,
		"env":         s.cfg.Env,
	})
}

// paramsHandler handles GET /v1/params
func (s *Server) paramsHandler(c *gin.Context) {
	height, err := s.node.Height(c.Request.Context())
	if err != nil {
		validation.WriteError(c, err)
		return
	}

	p := s.node.Params()
	c.JSON(http.StatusOK, gin.H{
		"height":        height,
		"blockInterval": s.cfg.BlockInterval.String(),
		"treasury":      s.node.Treasury(),
		"escrow":        s.node.Escrow(),
		"providers": gin.H{
			"minimumStake":       p.Providers.MinimumStake,
			"minimumActiveStake": p.Providers.MinimumActiveStake,
			"maxProviders":       p.Providers.MaxProviders,
			"slashBps":           p.Providers.SlashBPS,
			"unstakingPeriod":    p.Providers.UnstakingPeriod,
		},
		"tasks": gin.H{
			"minimumBounty":         p.Tasks.MinimumBounty,
			"maxProvidersPerTask":   p.Tasks.MaxProvidersPerTask,
			"requireActiveProvider": p.RequireActiveProvider,
		},
		"rewards": gin.H{
			"maxProvidersPerBatch":    p.Rewards.MaxProvidersPerBatch,
			"minimumReward":           p.Rewards.MinimumReward,
			"settlementPeriod":        p.Rewards.SettlementPeriod,
			"platformFeeBps":          p.Rewards.PlatformFeeBPS,
			"maxBatchesPerSettlement": p.Rewards.MaxBatchesPerSettlement,
		},
	})
}

// eventsHandler handles GET /v1/events?after=<seq>&limit=<n>. Clients that
// fall behind the WebSocket feed page through committed events here.
func (s *Server) eventsHandler(c *gin.Context) {
	var after uint64
	if raw := c.Query("after"); raw != "" {
		v, err := strconv.ParseUint(raw, 10, 64)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{
				"error":   "invalid_cursor",
				"message": "after must be a non-negative event sequence number",
			})
			return
		}
		after = v
	}

	evs, err := s.node.Executor().EventsSince(c.Request.Context(), after, validation.Limit(c, 100, maxEventPage))
	if err != nil {
		validation.WriteError(c, err)
		return
	}

	next := after
	if len(evs) > 0 {
		next = evs[len(evs)-1].Seq
	}
	c.JSON(http.StatusOK, gin.H{"events": evs, "count": len(evs), "next": next})
}

func (s *Server) realtimeStatsHandler(c *gin.Context) {
	c.JSON(http.StatusOK, s.hub.Stats())
}

// invariantsHandler handles GET /v1/admin/invariants
func (s *Server) invariantsHandler(c *gin.Context) {
	err := s.node.CheckInvariants(c.Request.Context())
	switch {
	case errors.Is(err, app.ErrInvariant):
		logging.L(c.Request.Context()).Error("ledger invariant violated", "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{
			"error":   "invariant_violation",
			"message": err.Error(),
		})
	case err != nil:
		validation.WriteError(c, err)
	default:
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	}
}

// AdvanceRequest is the request body for POST /v1/admin/blocks/advance.
type AdvanceRequest struct {
	Blocks uint64 `json:"blocks"`
}

// advanceHandler handles POST /v1/admin/blocks/advance. It lets operators
// and test harnesses move time forward without waiting for the clock.
func (s *Server) advanceHandler(c *gin.Context) {
	var req AdvanceRequest
	if !validation.BindJSON(c, &req) {
		return
	}
	if req.Blocks == 0 || req.Blocks > maxAdvanceBlocks {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "invalid_blocks",
			"message": fmt.Sprintf("blocks must be between 1 and %d", maxAdvanceBlocks),
		})
		return
	}

	height, err := s.node.Advance(c.Request.Context(), req.Blocks)
	if err != nil {
		validation.WriteError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"height": height})
}

// -----------------------------------------------------------------------------
// Lifecycle
// -----------------------------------------------------------------------------

// Run starts the HTTP server with graceful shutdown
func (s *Server) Run(ctx context.Context) error {
	runCtx, cancel := context.WithCancel(ctx)
	s.cancelRunCtx = cancel

	s.httpSrv = &http.Server{
		Addr:              ":" + s.cfg.Port,
		Handler:           s.router,
		ReadTimeout:       10 * time.Second,
		ReadHeaderTimeout: 5 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	errChan := make(chan error, 1)
	go func() {
		s.logger.Info("starting server",
			"port", s.cfg.Port,
			"treasury", s.node.Treasury().Hex(),
			"escrow", s.node.Escrow().Hex(),
		)
		if err := s.httpSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errChan <- err
		}
	}()

	go s.hub.Run(runCtx)
	go s.clock.Start(runCtx)
	s.logger.Info("block clock started", "interval", s.cfg.BlockInterval.String())

	if s.keeper != nil {
		if err := s.keeper.Start(runCtx); err != nil {
			s.logger.Error("failed to start settlement keeper", "error", err)
		}
	}

	if s.db != nil {
		go metrics.StartDBStatsCollector(runCtx, s.db, dbStatsInterval)
	}

	// Mark as ready after brief delay for startup
	go func() {
		time.Sleep(100 * time.Millisecond)
		s.ready.Store(true)
		s.logger.Info("server ready")
	}()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(sigChan)

	select {
	case err := <-errChan:
		_ = s.Shutdown()
		return fmt.Errorf("server error: %w", err)
	case sig := <-sigChan:
		s.logger.Info("shutdown signal received", "signal", sig.String())
	case <-ctx.Done():
		s.logger.Info("context cancelled")
	}

	return s.Shutdown()
}

// Shutdown gracefully stops the server
func (s *Server) Shutdown() error {
	s.ready.Store(false)
	s.logger.Info("starting graceful shutdown")

	// Give load balancers time to stop sending traffic
	if s.drainDelay > 0 {
		time.Sleep(s.drainDelay)
	}

	var shutdownErr error
	if s.httpSrv != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		if err := s.httpSrv.Shutdown(ctx); err != nil {
			s.logger.Error("shutdown error", "error", err)
			shutdownErr = err
		}
	}

	// Stop block production before the sweep so no block lands mid-shutdown.
	s.clock.Stop()
	if s.keeper != nil {
		s.keeper.Stop()
		s.logger.Info("settlement keeper stopped")
	}

	// Cancel the context for the hub and collectors
	if s.cancelRunCtx != nil {
		s.cancelRunCtx()
	}

	s.rateLimiter.Stop()
	s.closeDB()

	s.logger.Info("server stopped")
	return shutdownErr
}

func (s *Server) closeDB() {
	if s.db == nil {
		return
	}
	if err := s.db.Close(); err != nil {
		s.logger.Error("database close error", "error", err)
	} else {
		s.logger.Info("database connection closed")
	}
}

// Router returns the gin router for testing
func (s *Server) Router() *gin.Engine {
	return s.router
}

// Node returns the ledger node served by s.
func (s *Server) Node() *app.Node {
	return s.node
}
