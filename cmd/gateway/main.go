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

	"github.com/joho/godotenv"
	"go.uber.org/zap"

	"github.com/lalithlochan/pulse/internal/api"
	"github.com/lalithlochan/pulse/internal/app"
	"github.com/lalithlochan/pulse/internal/config"
	"github.com/lalithlochan/pulse/internal/db"
	"github.com/lalithlochan/pulse/internal/invoke"
	"github.com/lalithlochan/pulse/internal/notify"
	"github.com/lalithlochan/pulse/internal/observ"
	"github.com/lalithlochan/pulse/internal/redis"
	"github.com/lalithlochan/pulse/internal/worker"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	envErr := godotenv.Load()

	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return err
	}

	logger, err := observ.NewLogger(cfg.Env, cfg.LogLevel, "gateway")
	if err != nil {
		return fmt.Errorf("failed to create logger: %w", err)
	}
	defer func() { _ = logger.Sync() }()

	if envErr != nil && !errors.Is(envErr, os.ErrNotExist) {
		logger.Warn("could not read .env file", zap.Error(envErr))
	}

	logger.Info("starting pulse gateway",
		zap.String("env", cfg.Env),
		zap.Int("port", cfg.Port),
		zap.String("invoke_transport", cfg.InvokeTransport),
	)

	ctx := context.Background()

	database, err := db.New(ctx, cfg.Database(), logger)
	if err != nil {
		return fmt.Errorf("failed to connect to database: %w", err)
	}
	defer database.Close()

	// Redis backs idempotency and webhook rate limiting. Both are optional.
	var idempotency api.IdempotencyStore
	var limiter api.Limiter
	redisClient, err := redis.New(ctx, redis.Config{
		Addr:     cfg.RedisAddr(),
		Password: cfg.RedisPassword,
		DB:       cfg.RedisDB,
	}, logger)
	if err != nil {
		logger.Warn("redis unavailable, idempotency and rate limiting disabled",
			zap.Error(err),
			zap.String("addr", cfg.RedisAddr()),
		)
	} else {
		defer redisClient.Close()
		idempotency = redis.NewIdempotency(redisClient, cfg.IdempotencyTTL, logger)
		limiter = redis.NewRateLimiter(redisClient, redis.RateLimitConfig{
			Limit:  cfg.WebhookRateLimit,
			Window: time.Minute,
		}, logger)
	}

	alerter := app.NewAlerter(ctx, cfg, logger)
	pusher, breaker := app.NewPusher(cfg, logger)
	service := notify.NewService(app.NotifyAcquire(database, logger), pusher, alerter, logger)

	var circuits []api.CircuitReporter
	if breaker != nil {
		circuits = append(circuits, breaker)
	}

	invoker, err := app.NewInvoker(ctx, cfg, logger)
	if err != nil {
		return fmt.Errorf("failed to create invoker: %w", err)
	}
	defer invoker.Close()

	bgCtx, bgCancel := context.WithCancel(context.Background())
	defer bgCancel()

	if cfg.ConsumerEnabled {
		receiver, err := app.NewNotificationConsumer(ctx, cfg, logger)
		if err != nil {
			return fmt.Errorf("failed to create consumer: %w", err)
		}
		consumer := worker.NewConsumer(receiver, worker.ConsumerConfig{RetryDelay: cfg.ConsumerRetryDelay}, logger)
		consumer.Handle(invoke.TargetNotification, worker.NotificationHandler(service, logger))
		go consumer.Start(bgCtx)
	}

	if cfg.OrderSyncInterval > 0 {
		syncer, err := app.NewSyncer(cfg, app.SyncAcquire(database, logger), invoker, alerter, logger)
		if err != nil {
			return fmt.Errorf("failed to create order syncer: %w", err)
		}
		job := func(ctx context.Context) error {
			_, err := syncer.Run(ctx)
			return err
		}
		go worker.NewPeriodic(job, worker.PeriodicConfig{
			Name:       "order-sync",
			Interval:   cfg.OrderSyncInterval,
			RunOnStart: true,
		}, logger).Start(bgCtx)
	}

	handler := api.NewHandler(logger, service, idempotency)
	health := func(r *http.Request) error {
		return database.Health(r.Context())
	}
	router := api.NewRouter(handler, limiter, health, logger, circuits...)

	srv := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Port),
		Handler:      router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 45 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	serverErrors := make(chan error, 1)
	go func() {
		logger.Info("server listening", zap.String("addr", srv.Addr))
		serverErrors <- srv.ListenAndServe()
	}()

	shutdown := make(chan os.Signal, 1)
	signal.Notify(shutdown, os.Interrupt, syscall.SIGTERM)

	select {
	case err := <-serverErrors:
		return fmt.Errorf("server error: %w", err)
	case sig := <-shutdown:
		logger.Info("shutdown signal received", zap.String("signal", sig.String()))
		bgCancel()

		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()

		if err := srv.Shutdown(ctx); err != nil {
			srv.Close()
			return fmt.Errorf("graceful shutdown failed: %w", err)
		}

		logger.Info("server stopped gracefully")
	}

	return nil
}
