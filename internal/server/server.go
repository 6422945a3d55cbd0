package server

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/aman-churiwal/intelligent-api-gateway/internal/auth"
	"github.com/aman-churiwal/intelligent-api-gateway/internal/config"
	"github.com/aman-churiwal/intelligent-api-gateway/internal/gateway"
	"github.com/aman-churiwal/intelligent-api-gateway/internal/handler"
	"github.com/aman-churiwal/intelligent-api-gateway/internal/metrics"
	"github.com/aman-churiwal/intelligent-api-gateway/internal/middleware"
	"github.com/aman-churiwal/intelligent-api-gateway/internal/models"
	"github.com/aman-churiwal/intelligent-api-gateway/internal/proxy"
	"github.com/aman-churiwal/intelligent-api-gateway/internal/ratelimit"
	"github.com/aman-churiwal/intelligent-api-gateway/internal/router"
	"github.com/aman-churiwal/intelligent-api-gateway/internal/service"
	"github.com/aman-churiwal/intelligent-api-gateway/internal/storage"
	"github.com/gin-gonic/gin"
)

// Dependencies are the collaborators built by main. Redis and Users are
// optional.
type Dependencies struct {
	Config     *config.Config
	ConfigPath string // enables reload from disk when set
	Redis      *storage.RedisClient
	Users      service.UserStore
	Metrics    *metrics.Metrics
	Logger     *slog.Logger
}

type Server struct {
	router     *gin.Engine
	config     *config.Config
	configPath string
	resolver   *router.Resolver
	limiter    ratelimit.Limiter
	forwarder  *proxy.Forwarder
	dispatcher *gateway.Dispatcher
	validator  *auth.Validator
	metrics    *metrics.Metrics
	logger     *slog.Logger
	httpServer *http.Server

	mu sync.Mutex // serializes reloads
}

func New(deps Dependencies) (*Server, error) {
	cfg := deps.Config
	if cfg == nil {
		return nil, errors.New("server: config is required")
	}
	logger := deps.Logger
	if logger == nil {
		logger = slog.Default()
	}
	m := deps.Metrics
	if m == nil {
		m = metrics.New()
	}

	if cfg.IsProduction() {
		gin.SetMode(gin.ReleaseMode)
	}

	table, err := cfg.RouteTable()
	if err != nil {
		return nil, fmt.Errorf("failed to build route table: %w", err)
	}

	validator, err := auth.NewValidatorFromConfig(cfg.Auth)
	if err != nil {
		return nil, fmt.Errorf("failed to build token validator: %w", err)
	}

	limiter, err := ratelimit.NewLimiter(cfg.RateLimit, deps.Redis, logger)
	if err != nil {
		return nil, fmt.Errorf("failed to build rate limiter: %w", err)
	}

	resolver := router.NewResolver(table)
	forwarder := proxy.New(cfg.Forwarding, proxy.WithMetrics(m), proxy.WithLogger(logger))
	forwarder.Sync(table)

	s := &Server{
		config:     cfg,
		configPath: deps.ConfigPath,
		resolver:   resolver,
		limiter:    limiter,
		forwarder:  forwarder,
		validator:  validator,
		metrics:    m,
		logger:     logger.With("component", "server"),
	}
	s.dispatcher = gateway.New(resolver, validator, limiter, forwarder,
		gateway.WithMetrics(m),
		gateway.WithLogger(logger),
	)

	var authService *service.AuthService
	if deps.Users != nil {
		issuer, err := auth.NewIssuer(cfg.Auth)
		if err != nil {
			return nil, fmt.Errorf("failed to build token issuer: %w", err)
		}
		authService = service.NewAuthService(deps.Users, issuer, logger)
		if b := cfg.Bootstrap; b.Username != "" {
			ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
			_, err := authService.EnsureUser(ctx, b.Username, b.Password, b.Email, b.Role)
			cancel()
			if err != nil {
				return nil, err
			}
		}
	}

	var reload func() error
	if s.configPath != "" {
		reload = s.ReloadFromFile
	}
	system := handler.NewSystemHandler(resolver, forwarder, reload)
	if deps.Redis != nil {
		system.AddCheck("redis", deps.Redis)
	}
	if deps.Users != nil {
		system.AddCheck("database", deps.Users)
	}

	engine, err := s.buildRouter(system, handler.NewAuthHandler(authService, m, logger))
	if err != nil {
		return nil, err
	}
	s.router = engine

	s.httpServer = &http.Server{
		Addr:         ":" + cfg.Server.Port,
		Handler:      s.router,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}

	return s, nil
}

func (s *Server) buildRouter(system *handler.SystemHandler, authHandler *handler.AuthHandler) (*gin.Engine, error) {
	engine := gin.New()
	// Every path outside the gateway endpoints belongs to the route table,
	// which does its own normalization.
	engine.RedirectTrailingSlash = false
	engine.RedirectFixedPath = false

	// nil trusts no proxy, so ClientIP is the socket peer.
	if err := engine.SetTrustedProxies(s.config.Server.TrustedProxies); err != nil {
		return nil, fmt.Errorf("invalid trusted_proxies: %w", err)
	}

	engine.Use(middleware.Recovery(s.logger))
	engine.Use(middleware.RequestID())
	engine.Use(middleware.Logger(s.logger))

	requireAuth := middleware.RequireAuth(s.validator)

	gw := engine.Group(s.config.Server.AdminPrefix)
	{
		gw.GET("/health", system.Health)
		gw.GET("/metrics", gin.WrapH(s.metrics.Handler()))
		gw.POST("/token", authHandler.Token)
		gw.GET("/me", requireAuth, authHandler.Me)

		admin := gw.Group("/admin", requireAuth, middleware.RequireRole(models.RoleAdmin))
		admin.GET("/status", system.Status)
		admin.GET("/circuits", system.CircuitBreakerStatus)
		admin.POST("/circuits/reset", system.ResetCircuitBreaker)
		admin.POST("/reload", system.Reload)
	}

	engine.NoRoute(s.dispatcher.Handle)

	return engine, nil
}

// Reload swaps in the routes and tiers of cfg. Requests already in flight
// finish on the table they resolved against. Listener, auth and limiter
// backend settings only change on restart.
func (s *Server) Reload(cfg *config.Config) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	table, err := cfg.RouteTable()
	if err != nil {
		s.metrics.ConfigReloads.WithLabelValues("failure").Inc()
		return fmt.Errorf("failed to build route table: %w", err)
	}

	s.resolver.Swap(table)
	s.forwarder.Sync(table)
	s.metrics.ConfigReloads.WithLabelValues("success").Inc()

	if cfg.Server.AdminPrefix != s.config.Server.AdminPrefix || cfg.Server.Port != s.config.Server.Port {
		s.logger.Warn("Server settings changed; restart to apply them")
	}
	if cfg.RateLimit.Backend != s.config.RateLimit.Backend {
		s.logger.Warn("Rate limit backend changed; restart to apply it",
			"active", s.config.RateLimit.Backend,
			"configured", cfg.RateLimit.Backend,
		)
	}
	s.config = cfg

	s.logger.Info("Routes reloaded", "routes", table.Len())
	return nil
}

// ReloadFromFile loads the configuration file again and applies it.
func (s *Server) ReloadFromFile() error {
	if s.configPath == "" {
		return errors.New("no configuration file")
	}
	cfg, err := config.Load(s.configPath)
	if err != nil {
		s.metrics.ConfigReloads.WithLabelValues("failure").Inc()
		return err
	}
	return s.Reload(cfg)
}

// WatcherConfig returns hooks for a config.Watcher that apply changes the
// same way SIGHUP does.
func (s *Server) WatcherConfig() *config.WatcherConfig {
	return &config.WatcherConfig{
		OnChange: s.Reload,
		OnError:  s.watchFailed,
	}
}

func (s *Server) watchFailed(err error) {
	// Reload counts its own failures.
	if errors.Is(err, config.ErrLoadFailed) {
		s.metrics.ConfigReloads.WithLabelValues("failure").Inc()
	}
}

// Run starts the background workers and serves until Shutdown. The workers
// stop when ctx is cancelled.
func (s *Server) Run(ctx context.Context) error {
	cfg := s.currentConfig()
	if ml, ok := s.limiter.(*ratelimit.MemoryLimiter); ok {
		go ml.Run(ctx, cfg.RateLimit.SweepInterval)
	}
	go s.forwarder.Run(ctx)

	s.logger.Info("Starting API Gateway",
		"addr", s.httpServer.Addr,
		"environment", cfg.Server.Environment,
		"routes", s.resolver.Snapshot().Len(),
		"admin_prefix", cfg.Server.AdminPrefix,
	)

	if err := s.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

func (s *Server) Shutdown(ctx context.Context) error {
	s.logger.Info("Shutting down server...")
	return s.httpServer.Shutdown(ctx)
}

func (s *Server) currentConfig() *config.Config {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.config
}
