/**
 * @description
 * This is the main entry point for the transfer-service. It is responsible for
 * initializing all components of the service, including configuration, database connection,
 * cache, message broker, mail transport, repositories, the core application service,
 * the notification workers and the HTTP server. It wires everything together and starts the service.
 *
 * @dependencies
 * - context, errors, fmt, log/slog, net/http, os, os/signal, syscall, time: Standard Go libraries.
 * - github.com/joho/godotenv: Optional .env loading for local runs.
 * - github.com/redis/go-redis/v9: Transfer cache and rate limiting.
 * - internal/api, internal/app, internal/config, internal/logging, internal/mail, internal/store: Internal packages for the service.
 * - pkg/rabbitmq: Client for RabbitMQ.
 */

package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/redis/go-redis/v9"

	"github.com/transfa/transfer-service/internal/api"
	"github.com/transfa/transfer-service/internal/app"
	"github.com/transfa/transfer-service/internal/config"
	"github.com/transfa/transfer-service/internal/logging"
	"github.com/transfa/transfer-service/internal/mail"
	"github.com/transfa/transfer-service/internal/store"
	rmrabbit "github.com/transfa/transfer-service/pkg/rabbitmq"
)

func main() {
	// Load .env into the process environment for local runs; missing file is fine.
	_ = godotenv.Load()

	// Load application configuration from environment variables.
	cfg, err := config.LoadConfig(".")
	if err != nil {
		slog.Error("config load failed", "component", "bootstrap", "error", err)
		os.Exit(1)
	}

	logger := logging.New(cfg.LogLevel, cfg.LogFormat)
	slog.SetDefault(logger)
	bootLog := logger.With("component", "bootstrap")
	bootLog.Info("starting transfer-service", "port", cfg.ServerPort)

	// Initialize the data access layer (repository).
	var repository store.Repository
	if cfg.DatabaseURL == "" {
		bootLog.Warn("DATABASE_URL not set; using in-memory store")
		repository = store.NewMemoryRepository(cfg.LockTimeout())
	} else {
		connectCtx, cancelConnect := context.WithTimeout(context.Background(), 30*time.Second)
		dbpool, err := store.Connect(connectCtx, cfg.DatabaseURL, int32(cfg.DBMaxConns))
		if err != nil {
			cancelConnect()
			bootLog.Error("database connection failed", "error", err)
			os.Exit(1)
		}
		if err := store.Migrate(connectCtx, dbpool); err != nil {
			cancelConnect()
			dbpool.Close()
			bootLog.Error("database migration failed", "error", err)
			os.Exit(1)
		}
		cancelConnect()
		defer dbpool.Close()
		bootLog.Info("database connected")
		repository = store.NewPostgresRepository(dbpool, cfg.LockTimeout())
	}

	// Redis is optional: it backs the transfer cache and the per-origin rate limit.
	var redisClient *redis.Client
	if cfg.RedisURL == "" {
		bootLog.Info("REDIS_URL not set; transfer cache and rate limiting disabled")
	} else {
		redisOptions, parseErr := redis.ParseURL(cfg.RedisURL)
		if parseErr != nil {
			bootLog.Warn("redis url parse failed; transfer cache and rate limiting disabled", "error", parseErr)
		} else {
			redisClient = redis.NewClient(redisOptions)
			pingCtx, cancelPing := context.WithTimeout(context.Background(), 5*time.Second)
			pingErr := redisClient.Ping(pingCtx).Err()
			cancelPing()
			if pingErr != nil {
				bootLog.Warn("redis ping failed; transfer cache and rate limiting disabled", "error", pingErr)
				redisClient.Close()
				redisClient = nil
			} else {
				defer redisClient.Close()
				bootLog.Info("redis connected")
			}
		}
	}

	// Initialize the RabbitMQ producer to publish events.
	var publisher rmrabbit.Publisher = &rmrabbit.EventProducerFallback{Logger: logger}
	if cfg.RabbitMQURL == "" {
		bootLog.Warn("RABBITMQ_URL not set; events will not be published")
	} else if producer, err := rmrabbit.NewEventProducer(cfg.RabbitMQURL, logger); err != nil {
		bootLog.Warn("rabbitmq producer unavailable; using fallback", "error", err)
	} else {
		publisher = producer
		bootLog.Info("rabbitmq producer connected")
	}
	defer publisher.Close()

	// Mail pipeline.
	var transport mail.Transport = mail.DisabledTransport{}
	if cfg.SMTPHost == "" {
		bootLog.Warn("SMTP_HOST not set; transfer emails will stay unsent")
	} else {
		smtpTransport, err := mail.NewSMTPTransport(mail.SMTPConfig{
			Host:     cfg.SMTPHost,
			Port:     cfg.SMTPPort,
			Username: cfg.SMTPUsername,
			Password: cfg.SMTPPassword,
			TLS:      cfg.SMTPTLS,
			Timeout:  30 * time.Second,
		})
		if err != nil {
			bootLog.Error("smtp transport init failed", "error", err)
			os.Exit(1)
		}
		transport = smtpTransport
	}

	renderer, err := mail.NewRenderer(mail.Globals{
		CompanyName:  cfg.MailCompanyName,
		SupportEmail: cfg.MailSupportEmail,
	})
	if err != nil {
		bootLog.Error("email templates failed to load", "error", err)
		os.Exit(1)
	}
	sender := mail.NewSender(transport, renderer, mail.SenderConfig{
		From:              cfg.MailFrom,
		FromName:          cfg.MailFromName,
		OverrideRecipient: cfg.MailOverrideRecipient,
		MaxAttempts:       cfg.MailMaxAttempts,
		BaseDelay:         cfg.MailBaseDelay(),
		MaxDelay:          cfg.MailMaxDelay(),
	}, logger)

	// Post-commit notification workers.
	dispatcher := app.NewNotificationDispatcher(repository, sender, publisher, app.DispatcherConfig{
		Workers:    cfg.NotificationWorkers,
		QueueSize:  cfg.NotificationQueueSize,
		JobTimeout: cfg.NotificationTimeout(),
		Exchange:   cfg.EventsExchange,
	}, logger)
	dispatcher.Start()

	// Initialize the core application service with its dependencies.
	transferService := app.NewService(repository, dispatcher, logger)
	if redisClient != nil {
		transferService.SetTransferReader(
			store.NewCachedTransferReader(repository, redisClient, cfg.RedisKeyPrefix, cfg.TransferCacheTTL(), logger),
		)
		if cfg.TransferRateLimitPerMinute > 0 {
			transferService.SetRateLimiter(
				app.NewRedisTransferLimiter(redisClient, cfg.RedisKeyPrefix, cfg.TransferRateLimitPerMinute),
			)
		}
	}

	sweeper := app.NewNotificationSweeper(repository, sender, cfg.NotificationSweepBatch,
		cfg.NotificationSweepMinAge(), cfg.NotificationTimeout(), logger)
	scheduler := app.NewScheduler(sweeper, cfg.NotificationSweepSchedule, logger)
	if err := scheduler.Start(); err != nil {
		bootLog.Error("scheduler start failed", "error", err)
		os.Exit(1)
	}

	// Initialize the API handlers and router.
	transferHandlers := api.NewTransferHandlers(transferService, logger)
	router := api.TransferRoutes(transferHandlers, api.RouterConfig{
		JWTSecret:      cfg.JWTSecret,
		AllowedOrigins: cfg.AllowedOrigins(),
	})
	if cfg.JWTSecret == "" {
		bootLog.Warn("JWT_SECRET not set; API is unauthenticated")
	}

	serverAddr := fmt.Sprintf(":%s", cfg.ServerPort)
	server := &http.Server{
		Addr:              serverAddr,
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		logger.Info("server listening", "component", "http", "addr", serverAddr)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("server stopped unexpectedly", "component", "http", "error", err)
			os.Exit(1)
		}
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)
	<-stop
	logger.Info("shutdown started", "component", "http")

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := server.Shutdown(ctx); err != nil {
		logger.Error("http shutdown failed", "component", "http", "error", err)
	}

	// Wait for a running sweep, then let queued notifications drain.
	select {
	case <-scheduler.Stop().Done():
	case <-ctx.Done():
	}
	if err := dispatcher.Shutdown(ctx); err != nil {
		logger.Warn("notification dispatcher did not drain before deadline", "error", err)
	}

	logger.Info("shutdown complete", "component", "http")
}
