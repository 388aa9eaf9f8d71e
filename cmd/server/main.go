package main

import (
	"context"
	"database/sql"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"scroll-press/internal/clock"
	"scroll-press/internal/config"
	"scroll-press/internal/domain"
	"scroll-press/internal/handler"
	"scroll-press/internal/messaging"
	"scroll-press/internal/observability"
	"scroll-press/internal/ratelimit"
	"scroll-press/internal/repository/memory"
	"scroll-press/internal/repository/postgres"
	redisrepo "scroll-press/internal/repository/redis"
	"scroll-press/internal/server"
	"scroll-press/internal/service"
)

func main() {
	cfg := config.Load()
	observability.InitLogger(cfg.LogLevel, cfg.LogFormat)

	slog.Info("starting scroll press",
		slog.String("environment", cfg.Environment),
		slog.String("store_backend", cfg.StoreBackend))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	var checks []handler.ReadinessCheck
	var closers []func() error

	stores := server.Stores{
		Users:     memory.NewUserRepository(),
		Documents: memory.NewDocumentRepository(),
	}

	if cfg.DatabaseURL != "" {
		db := mustConnectPostgres(ctx, cfg.DatabaseURL)
		closers = append(closers, db.Close)
		checks = append(checks, handler.DatabaseCheck(db))

		users, err := postgres.NewUserRepository(db)
		if err != nil {
			fatal("failed to prepare user repository", err)
		}
		closers = append(closers, users.Close)

		documents, err := postgres.NewDocumentRepository(db)
		if err != nil {
			fatal("failed to prepare document repository", err)
		}
		stores.Users, stores.Documents = users, documents
		slog.Info("connected to postgresql")
	} else {
		slog.Warn("DATABASE_URL not set, accounts and documents are kept in memory")
	}

	switch cfg.StoreBackend {
	case config.BackendRedis:
		client, err := redisrepo.NewClient(ctx, cfg.RedisAddr, cfg.RedisPassword)
		if err != nil {
			fatal("failed to connect to redis", err)
		}
		closers = append(closers, client.Close)
		checks = append(checks, handler.RedisCheck(client))

		stores.Sessions = redisrepo.NewSessionRepository(client, cfg.RedisPrefix)
		stores.Tokens = redisrepo.NewTokenRepository(client, cfg.RedisPrefix)
		stores.CSRF = redisrepo.NewCSRFRepository(client, cfg.RedisPrefix)
		stores.RateLimit = ratelimit.NewRedisStore(client, cfg.RedisPrefix)
		slog.Info("guard state stored in redis", slog.String("addr", cfg.RedisAddr))
	default:
		csrf := memory.NewCSRFRepository()
		closers = append(closers, csrf.Close)

		stores.Sessions = memory.NewSessionRepository()
		stores.Tokens = memory.NewTokenRepository()
		stores.CSRF = csrf
		stores.RateLimit = ratelimit.NewMemoryStore(cfg.RateLimitMaxKeys)
	}

	logMailer := messaging.NewLogMailer(cfg.IsDevelopment())
	var mailer domain.Mailer = logMailer

	if cfg.RabbitMQURL != "" {
		rmqCtx, rmqCancel := context.WithTimeout(ctx, 60*time.Second)
		rmq, err := messaging.NewRabbitMQWithRetry(rmqCtx, cfg.RabbitMQURL)
		rmqCancel()
		if err != nil {
			fatal("failed to connect to rabbitmq", err)
		}
		closers = append(closers, rmq.Close)
		checks = append(checks, handler.RabbitMQCheck(rmq))
		mailer = rmq

		// Without a delivery service attached, drain the queue into the log
		// so development links stay reachable.
		if cfg.IsDevelopment() {
			if err := messaging.NewEmailConsumer(rmq, logMailer.Handle).Start(ctx); err != nil {
				fatal("failed to start email consumer", err)
			}
		}
	}

	app := server.New(cfg, stores, mailer, clock.Real{}, checks...)
	defer app.Close()

	go service.RunCleanup(ctx, cfg.CleanupInterval, app.Sweepers())
	slog.Info("cleanup task started", slog.Duration("interval", cfg.CleanupInterval))

	srv := &http.Server{
		Addr:              ":" + cfg.Port,
		Handler:           app.Router,
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       60 * time.Second,
		WriteTimeout:      60 * time.Second,
		IdleTimeout:       120 * time.Second,
	}

	go func() {
		slog.Info("server listening", slog.String("port", cfg.Port))
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			fatal("server error", err)
		}
	}()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	<-sigChan

	slog.Info("shutting down server")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		slog.Error("server shutdown error", slog.String("error", err.Error()))
	}

	cancel()
	for i := len(closers) - 1; i >= 0; i-- {
		if err := closers[i](); err != nil {
			slog.Warn("close failed", slog.String("error", err.Error()))
		}
	}

	slog.Info("server stopped gracefully")
}

func mustConnectPostgres(ctx context.Context, dbURL string) *sql.DB {
	db, err := config.NewPostgresConnection(ctx, dbURL)
	if err != nil {
		fatal("failed to connect to database", err)
	}

	schemaCtx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()
	if err := postgres.EnsureSchema(schemaCtx, db); err != nil {
		fatal("failed to apply schema", err)
	}
	return db
}

func fatal(msg string, err error) {
	slog.Error(msg, slog.String("error", err.Error()))
	os.Exit(1)
}
