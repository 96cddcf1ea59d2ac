package main

import (
	"context"
	"database/sql"
	"errors"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	h "github.com/gorilla/handlers"
	"github.com/pressly/goose/v3"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"github.com/jobtrace/jobtrace-api/internal/analytics"
	"github.com/jobtrace/jobtrace-api/internal/cache"
	"github.com/jobtrace/jobtrace-api/internal/config"
	"github.com/jobtrace/jobtrace-api/internal/handlers"
	"github.com/jobtrace/jobtrace-api/internal/lifecycle"
	"github.com/jobtrace/jobtrace-api/internal/middleware"
	"github.com/jobtrace/jobtrace-api/internal/migration"
	"github.com/jobtrace/jobtrace-api/internal/notification"
	"github.com/jobtrace/jobtrace-api/internal/query"
	"github.com/jobtrace/jobtrace-api/internal/repository"
	"github.com/jobtrace/jobtrace-api/internal/retention"
	"github.com/jobtrace/jobtrace-api/internal/retry"
	"github.com/jobtrace/jobtrace-api/internal/routes"
	"github.com/jobtrace/jobtrace-api/internal/temporal"

	_ "github.com/lib/pq" // PostgreSQL driver
	tc "go.temporal.io/sdk/client"
)

type application struct {
	config         *config.Config
	db             *sql.DB
	temporalClient tc.Client
	logger         zerolog.Logger
}

func main() {
	// Set up structured, level-based logging.
	consoleWriter := zerolog.ConsoleWriter{Out: os.Stdout, TimeFormat: time.Kitchen}
	logger := zerolog.New(consoleWriter).With().Timestamp().Logger()

	zerolog.SetGlobalLevel(zerolog.InfoLevel)
	log.SetFlags(0)
	log.SetOutput(logger)

	goose.SetLogger(migration.NewGooseAdapter(logger))

	// Load configuration.
	cfg := config.Load()

	// Initialize database connection.
	db, err := sql.Open("postgres", cfg.DatabaseURL)
	if err != nil {
		logger.Fatal().Err(err).Msg("Failed to connect to the database")
	}
	defer db.Close()
	if err := db.Ping(); err != nil {
		logger.Fatal().Err(err).Msg("Failed to ping database")
	}

	// Run database migrations.
	migration.RunMigrations(cfg.DatabaseURL, logger)

	// Initialize the Temporal client used to trigger retries on the external
	// scheduler. The core stays up without it; retry endpoints report the
	// dependency as unavailable instead.
	var temporalClient tc.Client
	temporalClient, err = tc.Dial(tc.Options{
		HostPort:  cfg.Temporal.HostPort,
		Namespace: cfg.Temporal.Namespace,
		Logger:    temporal.NewAdapter(logger),
	})
	if err != nil {
		logger.Warn().Err(err).Msg("Temporal unavailable; retry triggering disabled")
		temporalClient = nil
	} else {
		defer temporalClient.Close()
	}

	app := &application{
		config:         cfg,
		db:             db,
		temporalClient: temporalClient,
		logger:         logger,
	}

	// Initialize the HTTP router and middleware.
	router := app.initRouter(logger)
	loggedRouter := middleware.LoggingMiddleware(app.logger)(router)
	corsHandler := h.CORS(
		h.AllowedOrigins(cfg.AllowedOrigins),
		h.AllowedMethods([]string{"GET", "POST", "PUT", "PATCH", "DELETE", "OPTIONS"}),
		h.AllowedHeaders([]string{"Content-Type", "Authorization"}),
		h.AllowCredentials(),
	)(loggedRouter)

	// Start the HTTP server and handle graceful shutdown.
	app.startServer(corsHandler, logger)

	logger.Info().Msg("Application terminated.")
}

// initRouter sets up all HTTP handlers and returns the router.
func (app *application) initRouter(logger zerolog.Logger) http.Handler {
	repo := repository.NewExecutionRepository(app.db)
	policy := lifecycle.NewConfigPolicy(app.config)
	notifier := notification.NewLogNotifier(logger)
	readCache := app.newCache(logger)

	lifecycleService := lifecycle.NewService(repo, policy, notifier, logger)
	queryService := query.NewService(repo, readCache, policy, app.config.Query, logger)
	analyticsService := analytics.NewService(repo, readCache, app.config.Analytics, logger)
	retentionService := retention.NewService(repo, app.config.Retention, logger)

	var starter retry.WorkflowStarter
	if app.temporalClient != nil {
		starter = app.temporalClient
	}
	orchestrator := retry.NewOrchestrator(repo, starter, notifier, logger)

	executionHandler := handlers.NewExecutionHandler(lifecycleService, queryService, logger)
	analyticsHandler := handlers.NewAnalyticsHandler(analyticsService, logger)
	retentionHandler := handlers.NewRetentionHandler(retentionService, orchestrator, logger)
	healthHandler := handlers.NewHealthHandler(app.db)

	return routes.NewRouter(executionHandler, analyticsHandler, retentionHandler, healthHandler, []byte(app.config.JWTSecret))
}

// newCache connects the Redis read cache, falling back to a no-op cache when
// Redis is not configured or unreachable.
func (app *application) newCache(logger zerolog.Logger) cache.Cache {
	if app.config.Redis.Addr == "" {
		return cache.NoopCache{}
	}
	client := redis.NewClient(&redis.Options{
		Addr:     app.config.Redis.Addr,
		Password: app.config.Redis.Password,
		DB:       app.config.Redis.DB,
	})
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		logger.Warn().Err(err).Msg("Redis unavailable; query caching disabled")
		return cache.NoopCache{}
	}
	return cache.NewRedisCache(client, app.config.Query.CacheTTL, logger)
}

// startServer launches the HTTP server and handles graceful shutdown.
func (app *application) startServer(handler http.Handler, logger zerolog.Logger) {
	server := &http.Server{
		Addr:    ":" + app.config.ServerPort,
		Handler: handler,
	}

	// Channel to listen for server errors
	serverErrCh := make(chan error, 1)
	go func() {
		logger.Info().Msgf("Server listening on %s", server.Addr)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serverErrCh <- err
		}
	}()

	// Wait for an interrupt signal or a server error.
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, os.Interrupt, syscall.SIGTERM)

	select {
	case sig := <-quit:
		logger.Info().Msgf("Received signal: %s. Shutting down...", sig)
	case err := <-serverErrCh:
		logger.Error().Err(err).Msg("Server error occurred")
	}

	// Gracefully shut down the HTTP server.
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Shutdown(ctx); err != nil {
		logger.Error().Err(err).Msg("HTTP server shutdown error")
	} else {
		logger.Info().Msg("HTTP server shutdown complete.")
	}
}
