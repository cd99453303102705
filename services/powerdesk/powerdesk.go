// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// Package powerdesk assembles the PowerDesk server: persistence, response
// cache, external chat client, streaming relay, HTTP routes and background
// jobs.
//
// # Usage
//
//	cfg, err := powerdesk.LoadConfig()
//	if err != nil {
//	    log.Fatal(err)
//	}
//	svc, err := powerdesk.New(ctx, cfg, nil)
//	if err != nil {
//	    log.Fatal(err)
//	}
//	if err := svc.Run(ctx); err != nil {
//	    log.Fatal(err)
//	}
//
// Enterprise builds pass their own extensions.ServiceOptions to New to
// replace authentication, authorization, audit or message filtering.
package powerdesk

import (
	"context"
	"crypto/rand"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"go.opentelemetry.io/contrib/instrumentation/github.com/gin-gonic/gin/otelgin"
	"golang.org/x/sync/errgroup"
	"gorm.io/gorm"

	"github.com/AleutianAI/PowerDesk/pkg/extensions"
	"github.com/AleutianAI/PowerDesk/services/llm"
	"github.com/AleutianAI/PowerDesk/services/powerdesk/auth"
	"github.com/AleutianAI/PowerDesk/services/powerdesk/cache"
	"github.com/AleutianAI/PowerDesk/services/powerdesk/handlers"
	"github.com/AleutianAI/PowerDesk/services/powerdesk/middleware"
	"github.com/AleutianAI/PowerDesk/services/powerdesk/observability"
	"github.com/AleutianAI/PowerDesk/services/powerdesk/relay"
	"github.com/AleutianAI/PowerDesk/services/powerdesk/repository"
	"github.com/AleutianAI/PowerDesk/services/powerdesk/retention"
	"github.com/AleutianAI/PowerDesk/services/powerdesk/routes"
	"github.com/AleutianAI/PowerDesk/services/powerdesk/services"
)

// ServiceName is reported to tracing and logs.
const ServiceName = "powerdesk"

const (
	shutdownTimeout  = 15 * time.Second
	auditCapacity    = 1000
	readHeaderTimeout = 10 * time.Second
)

// =============================================================================
// Service
// =============================================================================

// Service is a configured PowerDesk server.
//
// # Lifecycle
//
// New acquires every resource (database, cache, tracer). Run serves HTTP
// until its context is cancelled, then shuts down gracefully and releases
// the resources. Close releases them without serving, for callers that
// only needed the Router.
type Service struct {
	config   Config
	opts     extensions.ServiceOptions
	db       *gorm.DB
	cache    cache.ResponseCache
	relay    *relay.Relay
	router   *gin.Engine
	registry *prometheus.Registry
	metrics  *observability.Metrics
	retainer *retention.Scheduler

	tracerCleanup func(context.Context)
	closeOnce     sync.Once
}

// New builds a Service from cfg.
//
// # Description
//
// Steps, in order:
//  1. Tracing (no-op without OTEL_ENDPOINT).
//  2. Prometheus registry and metrics, when enabled.
//  3. Database: open, migrate, seed reference data.
//  4. Response cache: Redis or Badger.
//  5. Chat client, token service, domain services, handlers, routes.
//  6. History retention scheduler (started by Run).
//
// # Inputs
//
//   - ctx: Bounds startup I/O (tracer exporter, Redis ping, seeding).
//   - cfg: Zero fields take defaults.
//   - opts: Optional extension hooks. Nil fields fall back to JWT
//     authentication, role authorization and the slog audit logger.
//
// # Outputs
//
//   - *Service: Ready to Run.
//   - error: Any resource failed to initialize. Resources acquired so far
//     are released.
func New(ctx context.Context, cfg Config, opts *extensions.ServiceOptions) (*Service, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	s := &Service{config: applyConfigDefaults(cfg)}

	cleanup, err := observability.InitTracer(ctx, s.config.OTelEndpoint, ServiceName)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize tracer: %w", err)
	}
	s.tracerCleanup = cleanup

	if s.config.EnableMetrics {
		s.registry = prometheus.NewRegistry()
		s.registry.MustRegister(
			collectors.NewGoCollector(),
			collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		)
		s.registry.MustRegister(s.config.Collectors...)
		s.metrics = observability.NewMetrics(s.registry)
	}

	if err := s.initDatabase(ctx); err != nil {
		s.Close()
		return nil, err
	}
	if err := s.initCache(ctx); err != nil {
		s.Close()
		return nil, err
	}

	client, err := s.newChatClient()
	if err != nil {
		s.Close()
		return nil, fmt.Errorf("failed to initialize chat client: %w", err)
	}

	tokens, err := s.newTokenService()
	if err != nil {
		s.Close()
		return nil, fmt.Errorf("failed to initialize token service: %w", err)
	}
	s.opts = resolveOptions(opts, tokens)

	s.retainer, err = retention.New(repository.NewChatRecordRepository(s.db), retention.Config{
		Retention: s.config.HistoryRetention,
		Schedule:  s.config.RetentionSchedule,
	})
	if err != nil {
		s.Close()
		return nil, err
	}

	s.initRouter(client, tokens)
	return s, nil
}

// resolveOptions overlays caller hooks on the built-in ones.
func resolveOptions(opts *extensions.ServiceOptions, tokens *auth.TokenService) extensions.ServiceOptions {
	out := extensions.ServiceOptions{
		AuthProvider:  tokens,
		AuthzProvider: auth.RoleAuthorizer{},
		AuditLogger:   extensions.NewSlogAuditLogger(nil, auditCapacity),
	}
	if opts != nil {
		if opts.AuthProvider != nil {
			out.AuthProvider = opts.AuthProvider
		}
		if opts.AuthzProvider != nil {
			out.AuthzProvider = opts.AuthzProvider
		}
		if opts.AuditLogger != nil {
			out.AuditLogger = opts.AuditLogger
		}
		out.MessageFilter = opts.MessageFilter
	}
	return out.WithDefaults()
}

// Router exposes the configured gin engine, mainly for tests.
func (s *Service) Router() *gin.Engine {
	return s.router
}

// Run serves HTTP and the retention job until ctx is cancelled.
//
// # Description
//
// On cancellation the server stops accepting connections and waits up to
// 15s for in-flight requests; open SSE streams are cut at that point.
// Run then waits for relay workers and releases every resource.
//
// # Outputs
//
//   - error: The listener failed, or shutdown did not complete cleanly.
//     nil after a normal shutdown.
func (s *Service) Run(ctx context.Context) error {
	defer s.Close()

	server := &http.Server{
		Addr:              ":" + strconv.Itoa(s.config.Port),
		Handler:           s.router,
		ReadHeaderTimeout: readHeaderTimeout,
	}

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		slog.Info("Starting PowerDesk server", "port", s.config.Port)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("http server: %w", err)
		}
		return nil
	})

	g.Go(func() error {
		if err := s.retainer.Start(gctx); err != nil {
			return fmt.Errorf("start retention scheduler: %w", err)
		}
		<-gctx.Done()
		s.retainer.Stop()
		return nil
	})

	g.Go(func() error {
		<-gctx.Done()
		slog.Info("Shutting down PowerDesk server")
		shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), shutdownTimeout)
		defer cancel()
		if err := server.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("http shutdown: %w", err)
		}
		return nil
	})

	err := g.Wait()
	s.relay.Wait()
	return err
}

// Close releases the cache, database and tracer. Run calls it on return;
// later calls are no-ops.
func (s *Service) Close() {
	s.closeOnce.Do(s.close)
}

func (s *Service) close() {
	if s.cache != nil {
		if err := s.cache.Close(); err != nil {
			slog.Warn("Response cache close error", "error", err)
		}
	}
	if s.db != nil {
		if err := repository.Close(s.db); err != nil {
			slog.Warn("Database close error", "error", err)
		}
	}
	if s.tracerCleanup != nil {
		s.tracerCleanup(context.Background())
	}
}

// =============================================================================
// Initialization
// =============================================================================

func (s *Service) initDatabase(ctx context.Context) error {
	db, err := OpenDatabase(ctx, s.config)
	if err != nil {
		return err
	}
	s.db = db
	return nil
}

// OpenDatabase opens the configured database, migrates the schema and seeds
// reference data. Shared by the server and the migrate/seed commands.
func OpenDatabase(ctx context.Context, cfg Config) (*gorm.DB, error) {
	cfg = applyConfigDefaults(cfg)
	db, err := repository.Open(repository.DBConfig{Driver: cfg.DBDriver, DSN: cfg.DBDSN})
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	if err := repository.Migrate(db); err != nil {
		_ = repository.Close(db)
		return nil, fmt.Errorf("failed to migrate database: %w", err)
	}
	if err := repository.Seed(ctx, db); err != nil {
		_ = repository.Close(db)
		return nil, fmt.Errorf("failed to seed database: %w", err)
	}
	return db, nil
}

func (s *Service) initCache(ctx context.Context) error {
	var (
		c   cache.ResponseCache
		err error
	)
	switch s.config.CacheBackend {
	case CacheBackendBadger:
		c, err = cache.NewBadgerCache(cache.BadgerConfig{
			Path:     s.config.BadgerPath,
			InMemory: s.config.BadgerPath == "",
			Logger:   slog.Default(),
		})
		if err == nil {
			slog.Info("Using Badger response cache", "path", s.config.BadgerPath)
		}
	default:
		c, err = cache.NewRedisCache(ctx, cache.RedisConfig{
			Addr:     s.config.RedisAddr,
			Password: s.config.RedisPassword,
			DB:       s.config.RedisDB,
		})
	}
	if err != nil {
		return fmt.Errorf("failed to initialize response cache: %w", err)
	}
	if s.metrics != nil {
		c = cache.NewInstrumented(c, s.metrics)
	}
	s.cache = c
	return nil
}

func (s *Service) newChatClient() (*llm.DeepSeekClient, error) {
	useMock := s.config.DeepSeekUseMock
	if !useMock && s.config.DeepSeekAPIKey == "" {
		slog.Warn("DEEPSEEK_API_KEY not set, answering from the built-in mock table")
		useMock = true
	}
	return llm.NewDeepSeekClient(llm.DeepSeekConfig{
		BaseURL:        s.config.DeepSeekBaseURL,
		APIKey:         s.config.DeepSeekAPIKey,
		Model:          s.config.DeepSeekModel,
		UseMock:        useMock,
		MockChunkDelay: s.config.MockChunkDelay,
	})
}

func (s *Service) newTokenService() (*auth.TokenService, error) {
	secret := []byte(s.config.JWTSecret)
	if len(secret) == 0 {
		slog.Warn("JWT_SECRET not set, using a random key; tokens will not survive a restart")
		secret = make([]byte, 32)
		if _, err := rand.Read(secret); err != nil {
			return nil, fmt.Errorf("generate JWT secret: %w", err)
		}
	}
	return auth.NewTokenService(auth.TokenConfig{
		Secret:     secret,
		AccessTTL:  s.config.JWTTTL,
		RefreshTTL: s.config.JWTRefreshTTL,
	})
}

func (s *Service) initRouter(client llm.ChatClient, tokens *auth.TokenService) {
	gin.SetMode(s.config.GinMode)

	users := repository.NewUserRepository(s.db)
	kb := repository.NewKnowledgeRepository(s.db)
	types := repository.NewServiceTypeRepository(s.db)

	orch := services.NewChatOrchestrator(services.ChatDeps{
		Cache:        s.cache,
		Client:       client,
		Knowledge:    kb,
		ServiceTypes: types,
		History:      repository.NewChatRecordRepository(s.db),
		Users:        users,
		Filter:       s.opts.MessageFilter,
		Metrics:      s.metrics,
	}, services.ChatConfig{
		ExternalFallback: s.config.ExternalFallback,
		CacheTTL:         s.config.CacheTTL,
	})

	s.relay = relay.New(s.cache, client, relay.Config{
		Timeout:     s.config.StreamTimeout,
		ReplayDelay: s.config.ReplayChunkDelay,
		CacheTTL:    s.config.CacheTTL,
	}, s.metrics)

	var limiter *middleware.ClientRateLimiter
	if s.config.ChatRateLimit > 0 {
		limiter = middleware.NewClientRateLimiter(middleware.RateLimitConfig{
			PerSecond: s.config.ChatRateLimit,
			Burst:     s.config.ChatRateBurst,
		})
	}

	s.router = gin.New()
	s.router.Use(gin.Logger(), gin.Recovery())
	s.router.Use(otelgin.Middleware(ServiceName))

	routes.SetupRoutes(s.router, routes.Handlers{
		Chat:     handlers.NewChatHandler(orch, s.relay, s.opts, s.metrics),
		Auth:     handlers.NewAuthHandler(services.NewAuthService(users, tokens, s.opts.AuditLogger), tokens),
		Catalog:  handlers.NewCatalogHandler(kb, types),
		Monitor:  handlers.NewMonitorHandler(services.NewMonitorService(repository.NewElectricityRepository(s.db)), s.opts.AuditLogger),
		Users:    handlers.NewUserHandler(services.NewUserService(users, s.opts.AuditLogger), s.opts.AuthzProvider),
		Requests: handlers.NewRequestHandler(services.NewRequestService(repository.NewServiceRequestRepository(s.db), types)),
	}, s.routeOptions(limiter))
}

func (s *Service) routeOptions(limiter *middleware.ClientRateLimiter) routes.Options {
	opts := routes.Options{
		Extensions:     s.opts,
		ChatLimiter:    limiter,
		DisableMetrics: s.registry == nil,
	}
	if s.registry != nil {
		opts.Gatherer = s.registry
	}
	return opts
}
