package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/vasiliy-maslov/school-user-service/internal/config"
	"github.com/vasiliy-maslov/school-user-service/internal/db"
	userHandler "github.com/vasiliy-maslov/school-user-service/internal/handler/http"
	"github.com/vasiliy-maslov/school-user-service/internal/metrics"
	"github.com/vasiliy-maslov/school-user-service/internal/password"
	"github.com/vasiliy-maslov/school-user-service/internal/user"
)

func main() {
	log.Logger = log.With().Str("service", "user-service").Logger()

	if err := run(); err != nil {
		log.Fatal().Err(err).Msg("User service stopped")
	}
	log.Info().Msg("Server stopped")
}

func run() error {
	cfg, err := config.NewConfig()
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	setupLogger(cfg.Log)
	log.Info().Str("name", cfg.App.Name).Str("version", cfg.App.Version).Msg("User service starting...")

	startCtx, startCancel := context.WithTimeout(context.Background(), 30*time.Second)
	dbConn, err := db.New(startCtx, cfg.Postgres)
	startCancel()
	if err != nil {
		return fmt.Errorf("failed to connect to database: %w", err)
	}
	defer dbConn.Close()

	if cfg.Postgres.AutoMigrate {
		if err := db.Migrate(dbConn.Pool); err != nil {
			return fmt.Errorf("failed to apply migrations: %w", err)
		}
	}

	registry := prometheus.NewRegistry()
	registry.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	m := metrics.New(registry)

	hasher := password.NewBcryptHasher(cfg.Password.BcryptCost, cfg.Password.HashWorkers, m)
	log.Info().Int("bcrypt_cost", hasher.Cost()).Int("hash_workers", cfg.Password.HashWorkers).Msg("Password hasher ready")
	userService := user.NewService(user.NewRepository(dbConn.Pool), hasher)
	handler := userHandler.NewUserHandler(userService)

	router := chi.NewRouter()
	router.Use(middleware.RequestID)
	router.Use(middleware.RealIP)
	router.Use(userHandler.AccessLog(log.Logger))
	// Recoverer стоит внутри метрик: восстановленная паника учитывается как 500.
	router.Use(m.Middleware)
	router.Use(middleware.Recoverer)

	router.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
		defer cancel()
		if err := dbConn.Ping(ctx); err != nil {
			log.Warn().Err(err).Msg("Health check: database unreachable")
			w.WriteHeader(http.StatusServiceUnavailable)
			_, _ = w.Write([]byte("DB UNAVAILABLE"))
			return
		}
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("OK"))
	})
	router.Handle("/metrics", m.Handler())
	router.Route(cfg.App.APIPrefix, handler.RegisterRoutes)

	srv := &http.Server{
		Addr:         ":" + cfg.App.Port,
		Handler:      router,
		ReadTimeout:  cfg.App.ReadTimeout,
		WriteTimeout: cfg.App.WriteTimeout,
		IdleTimeout:  cfg.App.IdleTimeout,
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	log.Info().Str("api_prefix", cfg.App.APIPrefix).Msg("Routes registered")
	return serve(ctx, srv, cfg.App.ShutdownTimeout)
}

// serve обслуживает запросы, пока не отменён ctx или не упал listener, затем плавно останавливает сервер.
func serve(ctx context.Context, srv *http.Server, shutdownTimeout time.Duration) error {
	serverErr := make(chan error, 1)
	go func() {
		log.Info().Str("addr", srv.Addr).Msg("Starting HTTP server")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serverErr <- err
		}
	}()

	select {
	case err := <-serverErr:
		return fmt.Errorf("server failed: %w", err)
	case <-ctx.Done():
	}
	log.Info().Msg("Shutting down...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutdown failed: %w", err)
	}
	return nil
}

func setupLogger(cfg config.LogConfig) {
	level, err := zerolog.ParseLevel(cfg.Level)
	if err != nil || level == zerolog.NoLevel {
		log.Warn().Str("level", cfg.Level).Msg("Unknown log level, falling back to info")
		level = zerolog.InfoLevel
	}
	zerolog.SetGlobalLevel(level)
	zerolog.TimeFieldFormat = time.RFC3339

	if cfg.Pretty {
		log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.RFC3339})
	}
	// Логгер из контекста запроса по умолчанию пишет туда же, куда глобальный.
	zerolog.DefaultContextLogger = &log.Logger
}
