package server

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/aman-churiwal/admission-gateway/internal/circuitbreaker"
	"github.com/aman-churiwal/admission-gateway/internal/config"
	"github.com/aman-churiwal/admission-gateway/internal/counter"
	"github.com/aman-churiwal/admission-gateway/internal/handler"
	"github.com/aman-churiwal/admission-gateway/internal/housekeeping"
	"github.com/aman-churiwal/admission-gateway/internal/metrics"
	"github.com/aman-churiwal/admission-gateway/internal/middleware"
	"github.com/aman-churiwal/admission-gateway/internal/proxy"
	"github.com/aman-churiwal/admission-gateway/internal/quota"
	"github.com/aman-churiwal/admission-gateway/internal/ratelimit"
	"github.com/aman-churiwal/admission-gateway/internal/repository"
	"github.com/aman-churiwal/admission-gateway/internal/response"
	"github.com/aman-churiwal/admission-gateway/internal/service"
	"github.com/aman-churiwal/admission-gateway/internal/storage"
	"github.com/aman-churiwal/admission-gateway/internal/tier"
	"github.com/gin-gonic/gin"
	"github.com/hashicorp/go-hclog"
	"github.com/prometheus/client_golang/prometheus"
)

type Deps struct {
	Config *config.Config
	Redis  *storage.RedisClient // Required by the redis backends
	DB     *storage.Database    // Nil disables accounts, API keys and analytics
	Logger hclog.Logger
	Now    func() time.Time // Default: time.Now
}

type Server struct {
	router     *gin.Engine
	config     *config.Config
	logger     hclog.Logger
	now        func() time.Time
	redis      *storage.RedisClient
	db         *storage.Database
	metrics    *metrics.Metrics
	recorder   *service.EventRecorder
	scheduler  *housekeeping.Scheduler
	httpServer *http.Server
	startedAt  time.Time

	registry  *tier.Registry
	counters  *counter.GuardedStore
	quotas    *quota.GuardedStore
	enforcer  *quota.Enforcer
	admission middleware.Admission
	upstream  *proxy.Upstream

	users     *repository.UserRepository
	usage     *repository.DailyUsageRepository
	auth      *service.AuthService
	keys      *service.APIKeyService
	analytics *service.AnalyticsService
}

func New(deps Deps) (*Server, error) {
	cfg := deps.Config
	if cfg.Server.Environment == "production" {
		gin.SetMode(gin.ReleaseMode)
	}
	if deps.Logger == nil {
		deps.Logger = hclog.NewNullLogger()
	}
	if deps.Now == nil {
		deps.Now = time.Now
	}

	s := &Server{
		router:    gin.New(),
		config:    cfg,
		logger:    deps.Logger,
		now:       deps.Now,
		redis:     deps.Redis,
		db:        deps.DB,
		metrics:   metrics.New(prometheus.NewRegistry()),
		scheduler: housekeeping.NewScheduler(deps.Logger),
		startedAt: deps.Now(),
	}

	if err := s.initializeAdmission(); err != nil {
		return nil, err
	}
	if err := s.initializeUpstream(); err != nil {
		return nil, err
	}
	if err := s.initializeHousekeeping(); err != nil {
		return nil, err
	}

	s.setupMiddleware()
	s.setupRoutes()

	return s, nil
}

func (s *Server) breakerConfig(name string) circuitbreaker.Config {
	return circuitbreaker.Config{
		Name:        name,
		MaxFailures: s.config.Admission.BreakerMaxFailures,
		Timeout:     time.Duration(s.config.Admission.BreakerTimeoutSeconds) * time.Second,
		Now:         s.now,
	}
}

func (s *Server) initializeAdmission() error {
	cfg := s.config
	storeTimeout := time.Duration(cfg.Admission.StoreTimeoutMs) * time.Millisecond

	registry, err := cfg.Registry()
	if err != nil {
		return fmt.Errorf("invalid tier configuration: %w", err)
	}
	s.registry = registry

	counters, err := counter.New(cfg.Admission.CounterBackend, s.redis, s.now)
	if err != nil {
		return err
	}
	s.counters = counter.NewGuardedStore(counters, circuitbreaker.New(s.breakerConfig("counter")))

	limiter := ratelimit.NewFixedWindow(s.counters, ratelimit.Options{
		Now:          s.now,
		StoreTimeout: storeTimeout,
		Logger:       s.logger,
		Metrics:      s.metrics,
	})

	if s.db != nil {
		s.users = repository.NewUserRepository(s.db)
		s.usage = repository.NewDailyUsageRepository(s.db, s.now)
	}

	quotas, err := s.quotaStore()
	if err != nil {
		return err
	}
	s.quotas = quota.NewGuardedStore(quotas, circuitbreaker.New(s.breakerConfig("quota")))

	var plans quota.PlanSource
	if s.users != nil {
		plans = s.users
	}
	s.enforcer = quota.NewEnforcer(s.quotas, plans, quota.Options{
		Registry:     registry,
		Now:          s.now,
		StoreTimeout: 2 * storeTimeout,
		Logger:       s.logger,
		Metrics:      s.metrics,
	})

	s.admission = middleware.Admission{
		Limiter:   limiter,
		Registry:  registry,
		Formatter: response.NewFormatter(s.now, time.Duration(cfg.Admission.QuotaUnavailableRetrySeconds)*time.Second),
		Now:       s.now,
	}

	if s.db == nil {
		s.logger.Warn("no database configured, accounts, API keys and analytics are disabled")
		return nil
	}

	events := repository.NewAdmissionEventRepository(s.db)
	apiKeys := repository.NewAPIKeyRepository(s.db)
	h := cfg.Housekeeping
	s.recorder = service.NewEventRecorder(events, service.RecorderConfig{
		BufferSize:    h.RecorderBufferSize,
		BatchSize:     h.RecorderBatchSize,
		FlushInterval: time.Duration(h.RecorderFlushSeconds) * time.Second,
	}, s.logger)
	s.admission.Recorder = s.recorder

	s.auth = service.NewAuthService(s.users, cfg.Auth.JWTSecret, cfg.Auth.ExpiryHours, cfg.Auth.AdminEmails)
	s.keys = service.NewAPIKeyService(apiKeys, s.redis, registry, s.logger)
	s.analytics = service.NewAnalyticsService(events, apiKeys)

	return nil
}

func (s *Server) quotaStore() (quota.Store, error) {
	switch backend := s.config.Admission.QuotaBackend; backend {
	case config.BackendMemory, "":
		return quota.NewMemoryStore(), nil
	case config.BackendRedis:
		if s.redis == nil {
			return nil, errors.New("quota backend redis needs a redis client")
		}
		return quota.NewRedisStore(s.redis), nil
	case config.BackendPostgres:
		if s.usage == nil {
			return nil, errors.New("quota backend postgres needs a database")
		}
		return s.usage, nil
	default:
		return nil, fmt.Errorf("unknown quota backend: %s", backend)
	}
}

func (s *Server) initializeUpstream() error {
	tools := s.config.Tools
	if tools.Upstream == "" {
		s.logger.Info("no tools upstream configured, metered tool routes are disabled")
		return nil
	}

	upstream, err := proxy.New(proxy.Config{
		Target:         tools.Upstream,
		StripPrefix:    "/api/tools",
		Timeout:        time.Duration(tools.TimeoutSeconds) * time.Second,
		CircuitBreaker: s.breakerConfig("tools"),
		Logger:         s.logger,
	})
	if err != nil {
		return err
	}

	s.upstream = upstream
	s.logger.Info("initialized tools upstream", "target", upstream.Target())
	return nil
}

func (s *Server) initializeHousekeeping() error {
	h := s.config.Housekeeping

	if store, ok := s.counters.Unwrap().(housekeeping.CounterSweeper); ok {
		if err := s.scheduler.Register(h.SweepSchedule, "sweep_counters", housekeeping.SweepCounters(store, s.now)); err != nil {
			return err
		}
	}

	// Redis quota keys expire on their own
	if pruner, ok := s.quotas.Unwrap().(housekeeping.UsagePruner); ok {
		if err := s.scheduler.Register(h.PruneSchedule, "prune_usage", housekeeping.PruneUsage(pruner, h.UsageRetentionDays, s.now)); err != nil {
			return err
		}
	}

	if s.analytics != nil {
		err := s.scheduler.Register(h.PruneSchedule, "prune_events", func(ctx context.Context) (int64, error) {
			return s.analytics.CleanupOldEvents(ctx, h.EventRetentionDays)
		})
		if err != nil {
			return err
		}
	}

	return s.scheduler.Register("@every 15s", "breaker_gauges", func(context.Context) (int64, error) {
		for _, cb := range s.Breakers() {
			s.metrics.SetBreakerOpen(cb.Name(), cb.State() != circuitbreaker.StateClosed)
		}
		return 0, nil
	})
}

// Returns every circuit breaker guarding a dependency
func (s *Server) Breakers() []*circuitbreaker.CircuitBreaker {
	breakers := []*circuitbreaker.CircuitBreaker{s.counters.Breaker(), s.quotas.Breaker()}
	if s.upstream != nil {
		breakers = append(breakers, s.upstream.Breaker())
	}
	return breakers
}

func (s *Server) setupMiddleware() {
	s.router.Use(middleware.Recovery(s.logger))
	s.router.Use(middleware.RequestID())
	s.router.Use(middleware.Logger(s.logger))
}

func (s *Server) setupRoutes() {
	s.router.GET("/health", s.healthCheck)
	s.router.GET("/metrics", gin.WrapH(s.metrics.Handler()))

	if s.auth != nil {
		authHandler := handler.NewAuthHandler(s.auth)
		auth := s.router.Group("/auth", middleware.RateLimitTier(s.admission, tier.Strict))
		{
			auth.POST("/register", authHandler.Register)
			auth.POST("/login", authHandler.Login)
		}
	}

	api := s.router.Group("/api")
	if s.auth != nil {
		api.Use(middleware.Authenticate(s.auth))
	}
	if s.keys != nil {
		api.Use(middleware.APIKeyValidator(s.keys))
	}
	api.Use(middleware.RateLimit(s.admission))
	{
		usageHandler := handler.NewUsageHandler(s.enforcer, s.admission)
		api.GET("/usage", middleware.RequireAuth(), usageHandler.Status)
		api.POST("/usage/increment", middleware.RequireAuth(), usageHandler.Increment)

		if s.upstream != nil {
			api.Any("/tools/*path", middleware.QuotaGate(s.enforcer, s.admission, s.logger), s.upstream.Handle)
		}
	}

	if s.auth != nil {
		s.setupAdminRoutes()
	}
}

func (s *Server) setupAdminRoutes() {
	adminCfg := handler.AdminConfig{
		Registry: s.registry,
		Counters: s.counters,
		Enforcer: s.enforcer,
		Plans:    s.users,
		Breakers: s.Breakers(),
		Logger:   s.logger,
		Now:      s.now,
	}
	if s.usage != nil && s.config.Admission.QuotaBackend == config.BackendPostgres {
		adminCfg.History = s.usage
	}

	adminHandler := handler.NewAdminHandler(adminCfg)
	apiKeyHandler := handler.NewAPIKeyHandler(s.keys)
	analyticsHandler := handler.NewAnalyticsHandler(s.analytics)

	admin := s.router.Group("/admin",
		middleware.Authenticate(s.auth),
		middleware.RequireAdmin(),
		middleware.RateLimit(s.admission),
	)
	{
		admin.GET("/status", s.adminStatus)
		admin.GET("/tiers", adminHandler.Tiers)
		admin.GET("/usage/:userID", adminHandler.Usage)
		admin.PUT("/users/:id/plan", adminHandler.ChangePlan)

		admin.GET("/breakers", adminHandler.CircuitBreakerStatus)
		admin.POST("/breakers/:name/reset", adminHandler.ResetCircuitBreaker)
		admin.DELETE("/counters", adminHandler.ClearCounters)

		admin.GET("/analytics", analyticsHandler.GetSummary)
		admin.GET("/analytics/events", analyticsHandler.GetEvents)

		admin.POST("/keys", apiKeyHandler.Create)
		admin.GET("/keys", apiKeyHandler.List)
		admin.GET("/keys/:id", apiKeyHandler.Get)
		admin.DELETE("/keys/:id", apiKeyHandler.Revoke)
	}
}

func (s *Server) healthCheck(c *gin.Context) {
	ctx := c.Request.Context()
	checks := gin.H{}
	healthy := true

	if s.redis != nil {
		ok := s.redis.Ping(ctx) == nil
		if !ok {
			s.logger.Warn("redis health check failed")
		}
		checks["redis"] = ok
		healthy = healthy && ok
	}

	if s.db != nil {
		ok := s.db.Ping(ctx) == nil
		if !ok {
			s.logger.Warn("database health check failed")
		}
		checks["database"] = ok
		healthy = healthy && ok
	}

	status := "healthy"
	statusCode := http.StatusOK
	if !healthy {
		status = "degraded"
		statusCode = http.StatusServiceUnavailable
	}

	c.JSON(statusCode, gin.H{
		"status":    status,
		"service":   "admission-gateway",
		"timestamp": s.now().Unix(),
		"checks":    checks,
	})
}

func (s *Server) adminStatus(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"gateway":         "running",
		"counter_backend": s.config.Admission.CounterBackend,
		"quota_backend":   s.config.Admission.QuotaBackend,
		"tools_upstream":  s.upstream != nil,
		"uptime":          s.now().Sub(s.startedAt).Seconds(),
		"timestamp":       s.now().Unix(),
	})
}

// Starts the background workers and serves HTTP until Shutdown
func (s *Server) Run(addr string) error {
	if s.recorder != nil {
		s.recorder.Start()
	}
	s.scheduler.Start()

	s.httpServer = &http.Server{
		Addr:         addr,
		Handler:      s.router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 60 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	s.logger.Info("starting admission gateway", "addr", addr, "environment", s.config.Server.Environment)

	if err := s.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// Stops accepting requests, then stops the scheduler and flushes queued events
func (s *Server) Shutdown(ctx context.Context) error {
	s.logger.Info("shutting down server")

	var errs []error
	if s.httpServer != nil {
		errs = append(errs, s.httpServer.Shutdown(ctx))
	}
	errs = append(errs, s.scheduler.Stop(ctx))
	if s.recorder != nil {
		errs = append(errs, s.recorder.Stop(ctx))
	}

	return errors.Join(errs...)
}

func (s *Server) GetRouter() *gin.Engine {
	return s.router
}
