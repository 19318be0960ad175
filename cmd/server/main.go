package main

import (
	"context"
	"flag"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gorilla/mux"
	"github.com/redis/go-redis/v9"
	"go.opentelemetry.io/contrib/instrumentation/github.com/gorilla/mux/otelmux"
	"go.uber.org/zap"

	"github.com/atelierhub/identity-core/internal/config"
	"github.com/atelierhub/identity-core/internal/database"
	"github.com/atelierhub/identity-core/internal/events"
	"github.com/atelierhub/identity-core/internal/handlers"
	"github.com/atelierhub/identity-core/internal/identity"
	"github.com/atelierhub/identity-core/internal/logger"
	"github.com/atelierhub/identity-core/internal/middleware"
	"github.com/atelierhub/identity-core/internal/session"
	"github.com/atelierhub/identity-core/internal/telemetry"
	"github.com/atelierhub/identity-core/internal/token"
)

const serviceName = "identity-core"

func main() {
	debugFlag := flag.Bool("debug", false, "Enable debug logging")
	flag.Parse()

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}
	debugMode := cfg.ServerDebugMode || *debugFlag

	zapLogger, err := logger.NewProductionLogger(debugMode)
	if err != nil {
		log.Fatalf("Failed to initialize logger: %v", err)
	}
	defer func() {
		_ = zapLogger.Sync()
	}()

	zapLogger.Info("starting_server",
		zap.Bool("debug_mode", debugMode),
		zap.String("server_port", cfg.ServerPort),
		zap.Bool("cache_disabled", cfg.CacheDisabled),
		zap.Bool("otel_enabled", cfg.OTELEnabled),
	)

	// OpenTelemetry (optional)
	otelActive := false
	if cfg.OTELEnabled {
		if cfg.OTELEndpoint == "" {
			zapLogger.Warn("otel_enabled_but_endpoint_not_configured")
		} else {
			tp, err := telemetry.InitTracer(context.Background(), serviceName, cfg.OTELEndpoint)
			if err != nil {
				zapLogger.Warn("failed_to_initialize_otel_tracer", zap.Error(err))
			} else {
				otelActive = true
				zapLogger.Info("otel_tracer_initialized", zap.String("endpoint", cfg.OTELEndpoint))
				defer func() {
					shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
					defer cancel()
					if err := telemetry.Shutdown(shutdownCtx, tp); err != nil {
						zapLogger.Error("failed_to_shutdown_otel_tracer", zap.Error(err))
					}
				}()
			}
		}
	}

	// Database
	db, err := database.New(cfg.DatabaseURL)
	if err != nil {
		zapLogger.Fatal("failed_to_connect_to_database", zap.Error(err))
	}
	defer func() {
		if err := db.Close(); err != nil {
			zapLogger.Warn("failed_to_close_database_connection", zap.Error(err))
		}
	}()
	zapLogger.Info("connected_to_database")

	// Redis: sessions and rate limiting
	redisOpts, err := redis.ParseURL(cfg.RedisURL)
	if err != nil {
		zapLogger.Fatal("invalid_redis_url", zap.Error(err))
	}
	redisClient := redis.NewClient(redisOpts)
	defer func() {
		if err := redisClient.Close(); err != nil {
			zapLogger.Warn("failed_to_close_redis_connection", zap.Error(err))
		}
	}()
	zapLogger.Info("connected_to_redis")

	// RabbitMQ (optional): identity events and cross-process cache
	// invalidation. Startup ordering of the broker is out of our hands, so
	// retry with backoff before giving up and running local-only.
	var publisher events.Publisher = events.NopPublisher{}
	var rabbit *events.RabbitMQPublisher
	if cfg.RabbitMQURL != "" {
		rabbit = connectRabbitMQ(cfg.RabbitMQURL, zapLogger)
		if rabbit != nil {
			publisher = rabbit
			defer func() {
				if err := rabbit.Close(); err != nil {
					zapLogger.Warn("failed_to_close_rabbitmq_connection", zap.Error(err))
				}
			}()
		}
	}

	// Repositories behind the schema guard
	guard := database.NewSchemaGuard(db, zapLogger)
	userRepo := database.NewUserRepository(db, guard)
	identityRepo := database.NewIdentityRepository(db, guard)
	legacySessions := database.NewLegacySessionRepository(db)

	// Identity core
	var cache *identity.CredentialCache
	if !cfg.CacheDisabled {
		cache = identity.NewCredentialCache(cfg.CacheTTL)
		defer cache.Close()
	}
	resolver := identity.NewResolver(userRepo, identityRepo, cache, cfg.DefaultCountryCode, zapLogger)
	consolidation := identity.NewConsolidationService(userRepo, identityRepo, resolver, cache, publisher, cfg.DefaultCountryCode, zapLogger)

	// Cross-process invalidation consumer
	runCtx, runCancel := context.WithCancel(context.Background())
	defer runCancel()
	if rabbit != nil && cache != nil {
		deliveries, err := rabbit.ConsumeInvalidations(runCtx)
		if err != nil {
			zapLogger.Warn("failed_to_start_invalidation_consumer", zap.Error(err))
		} else {
			go events.RunInvalidationLoop(runCtx, deliveries, cache, zapLogger)
			zapLogger.Info("started_invalidation_consumer")
		}
	}

	// Sessions and token verification
	sessionStore := session.NewRedisStore(redisClient)
	jwksManager := token.NewJWKSManager()
	verifier := token.NewVerifier(jwksManager, cfg.JWKSUrl, cfg.JWTIssuer)

	// Handlers
	secureCookies := cfg.EnableHSTS
	authHandler := handlers.NewAuthHandler(consolidation, sessionStore, cfg.SessionCookieName, secureCookies, zapLogger)
	meHandler := handlers.NewMeHandler(consolidation, zapLogger)
	adminHandler := handlers.NewAdminHandler(resolver, consolidation, zapLogger)
	healthChecker := handlers.NewHealthChecker(db, redisClient)

	authMW := middleware.NewAuthMiddleware(verifier, sessionStore, legacySessions, resolver, cfg.SessionCookieName, zapLogger)

	rateLimitMW, err := middleware.RateLimit(redisClient, cfg.RateLimit)
	if err != nil {
		zapLogger.Fatal("failed_to_create_rate_limiter", zap.Error(err))
	}

	// Router. gorilla/mux runs middleware in registration order, outermost
	// first.
	r := mux.NewRouter()
	if otelActive {
		r.Use(otelmux.Middleware(serviceName))
	}
	r.Use(middleware.SecurityHeaders(cfg.EnableHSTS))
	r.Use(middleware.CORS(cfg.AllowedOrigins))
	r.Use(middleware.MaxRequestSize(middleware.DefaultMaxRequestSize))
	r.Use(middleware.ContentType)
	r.Use(middleware.Timeout(middleware.DefaultRequestTimeout))
	r.Use(middleware.Recover(zapLogger))
	r.Use(middleware.Logging(zapLogger))

	// Public routes
	r.HandleFunc("/healthz", healthChecker.HealthCheck).Methods("GET")

	apiRouter := r.PathPrefix("/api/v1").Subrouter()

	// Login and logout: unauthenticated, rate limited
	authRouter := apiRouter.PathPrefix("/auth").Subrouter()
	authRouter.Use(rateLimitMW)
	authHandler.RegisterRoutes(authRouter)

	// Current user: authenticated
	meRouter := apiRouter.PathPrefix("/me").Subrouter()
	meRouter.Use(authMW.Populate)
	meRouter.Use(middleware.RequireAuth)
	meRouter.Use(rateLimitMW)
	meHandler.RegisterRoutes(meRouter)

	// Operator lookups: admin only
	adminRouter := apiRouter.PathPrefix("/admin").Subrouter()
	adminRouter.Use(authMW.Populate)
	adminRouter.Use(middleware.RequireAdmin)
	adminHandler.RegisterRoutes(adminRouter)

	// Preflight catch-all; CORS middleware has already set the headers
	r.Methods("OPTIONS").HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	})

	srv := &http.Server{
		Addr:           ":" + cfg.ServerPort,
		Handler:        r,
		ReadTimeout:    15 * time.Second,
		WriteTimeout:   15 * time.Second,
		IdleTimeout:    60 * time.Second,
		MaxHeaderBytes: 1 << 20,
	}

	go func() {
		zapLogger.Info("server_starting", zap.String("port", cfg.ServerPort))
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			zapLogger.Fatal("server_failed_to_start", zap.Error(err))
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	zapLogger.Info("server_shutting_down")
	runCancel()

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := srv.Shutdown(ctx); err != nil {
		zapLogger.Fatal("server_forced_to_shutdown", zap.Error(err))
	}

	zapLogger.Info("server_exited")
}

// connectRabbitMQ dials the broker with exponential backoff. Returns nil
// when every attempt fails; the caller then runs without event publishing.
func connectRabbitMQ(url string, zapLogger *zap.Logger) *events.RabbitMQPublisher {
	const maxRetries = 10
	const initialDelay = 2 * time.Second

	for attempt := 0; attempt < maxRetries; attempt++ {
		publisher, err := events.NewRabbitMQPublisher(url)
		if err == nil {
			zapLogger.Info("connected_to_rabbitmq")
			return publisher
		}

		delay := initialDelay * time.Duration(1<<uint(attempt))
		if delay > 30*time.Second {
			delay = 30 * time.Second
		}
		zapLogger.Warn("failed_to_connect_to_rabbitmq_retrying",
			zap.Int("attempt", attempt+1),
			zap.Int("max_retries", maxRetries),
			zap.Error(err),
			zap.Duration("retry_delay", delay),
		)
		time.Sleep(delay)
	}

	zapLogger.Error("rabbitmq_unavailable_running_without_events")
	return nil
}
