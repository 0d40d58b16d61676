package main

import (
	"context"
	"errors"
	"log"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/go-redis/redis/v8"
	"github.com/spf13/viper"
	httpSwagger "github.com/swaggo/http-swagger"
	"go.uber.org/zap"

	"github.com/ruralpay/coinledger/docs"
	"github.com/ruralpay/coinledger/internal/audit"
	"github.com/ruralpay/coinledger/internal/config"
	"github.com/ruralpay/coinledger/internal/database"
	"github.com/ruralpay/coinledger/internal/events"
	"github.com/ruralpay/coinledger/internal/handlers"
	"github.com/ruralpay/coinledger/internal/idgen"
	"github.com/ruralpay/coinledger/internal/lock"
	"github.com/ruralpay/coinledger/internal/logger"
	mW "github.com/ruralpay/coinledger/internal/middleware"
	"github.com/ruralpay/coinledger/internal/services"
	"github.com/ruralpay/coinledger/internal/store/postgres"
)

const startupTimeout = 15 * time.Second

// @title Coin Ledger API
// @version 1.0
// @description Idempotent virtual-currency ledger: accounts, deposits, withdrawals and flow history
// @BasePath /api/v1
// @schemes http https
// @securityDefinitions.apikey BearerAuth
// @in header
// @name Authorization
func main() {
	// Initialize config
	viper.SetConfigFile(".env")
	viper.AutomaticEnv()
	database.BindEnv()
	config.BindEnv()
	readErr := viper.ReadInConfig()

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("Invalid configuration: %v", err)
	}

	zl, err := logger.New(cfg.LogLevel, cfg.LogDevelopment, cfg.ServiceName)
	if err != nil {
		log.Fatalf("Failed to build logger: %v", err)
	}
	defer zl.Sync()
	if readErr != nil {
		zl.Info("config file not found, using environment and defaults", zap.Error(readErr))
	}

	if err := run(cfg, zl); err != nil {
		zl.Fatal("ledger stopped", zap.Error(err))
	}
}

func run(cfg *config.LedgerConfig, zl *zap.Logger) error {
	startCtx, cancelStart := context.WithTimeout(context.Background(), startupTimeout)
	defer cancelStart()

	// Postgres, Redis and the worker slot are all required; never start degraded.
	db, err := database.InitDB(startCtx, zl)
	if err != nil {
		return err
	}
	defer db.Close()
	if err := postgres.Migrate(startCtx, db); err != nil {
		return err
	}

	redisClient, err := database.InitRedis(startCtx, zl)
	if err != nil {
		return err
	}
	defer redisClient.Close()

	slot, err := idgen.AllocateSlot(startCtx, idgen.NewRedisSlotCounter(redisClient), cfg.ServiceName, cfg.SlotCapacity)
	if err != nil {
		return err
	}
	ids, err := idgen.NewGenerator(slot)
	if err != nil {
		return err
	}
	zl.Info("worker slot allocated", zap.Int64("slot", slot))

	publisher, closePublishers := buildPublisher(cfg, redisClient, zl)
	defer closePublishers()

	auditLogger := audit.NewAuditLogger(zl)
	mutex := lock.NewRedisMutex(redisClient, lock.Options{
		WaitTimeout:   cfg.LockWaitTimeout,
		RetryInterval: cfg.LockRetryInterval,
	}, zl)
	ledgerStore := postgres.New(db, zl)
	ledgerService := services.NewLedgerService(ledgerStore, mutex, ids, publisher, auditLogger, zl, services.OptionsFromConfig(cfg))

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	consumerDone := make(chan error, 1)
	consuming := false
	if cfg.KafkaEnabled() {
		reader := handlers.NewKafkaReader(cfg.KafkaBrokers, cfg.KafkaInboundTopic, cfg.KafkaGroupID)
		defer reader.Close()
		dlq := events.NewKafkaWriter(cfg.KafkaBrokers, cfg.KafkaDLQTopic)
		defer dlq.Close()

		consumer := handlers.NewEventConsumer(reader, dlq, ledgerService, handlers.ConsumerOptions{
			InviteReward: cfg.InviteReward,
		}, zl)
		go func() { consumerDone <- consumer.Run(ctx) }()
		consuming = true
		zl.Info("business event consumer started", zap.String("topic", cfg.KafkaInboundTopic))
	}

	health := handlers.NewHealthHandler(map[string]handlers.Check{
		"postgres": ledgerStore.Ping,
		"redis":    func(ctx context.Context) error { return redisClient.Ping(ctx).Err() },
	})
	server := &http.Server{
		Addr:         ":" + cfg.HTTPPort,
		Handler:      newRouter(cfg, ledgerService, health, zl),
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	serverErr := make(chan error, 1)
	go func() {
		zl.Info("server starting", zap.String("addr", server.Addr))
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serverErr <- err
		}
	}()

	var runErr error
	select {
	case <-ctx.Done():
		zl.Info("shutdown signal received")
	case err := <-serverErr:
		runErr = err
	case err := <-consumerDone:
		consuming = false
		if err != nil {
			runErr = err
		}
	}
	stop()
	if consuming {
		// let the in-flight message finish before its dependencies close
		<-consumerDone
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		zl.Error("server forced to shutdown", zap.Error(err))
	}

	zl.Info("server stopped")
	return runErr
}

func newRouter(cfg *config.LedgerConfig, ledger handlers.Ledger, health *handlers.HealthHandler, zl *zap.Logger) http.Handler {
	r := chi.NewRouter()

	// Middleware
	r.Use(mW.RequestID)
	r.Use(mW.SecurityHeaders)
	r.Use(mW.RequestLogger(zl))
	r.Use(middleware.Recoverer)
	r.Use(middleware.RealIP)
	r.Use(middleware.Timeout(60 * time.Second))

	// CORS
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   []string{"https://*", "http://*"},
		AllowedMethods:   []string{"GET", "POST", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type", mW.RequestIDHeader},
		ExposedHeaders:   []string{mW.RequestIDHeader, "Retry-After"},
		AllowCredentials: true,
		MaxAge:           86400,
	}))

	r.Get("/health", health.Live)
	r.Get("/ready", health.Ready)

	// Swagger documentation
	docs.SwaggerInfo.Title = cfg.ServiceName + " API"
	r.Get("/swagger/*", httpSwagger.Handler(
		httpSwagger.URL("/swagger/doc.json"),
	))

	ledgerHandler := handlers.NewLedgerHandler(ledger, zl)
	r.Route("/api/v1", func(r chi.Router) {
		r.Use(mW.NewAuthenticator(cfg.JWTSecret).Authenticate)
		ledgerHandler.Routes(r)
	})

	return r
}

// buildPublisher fans out to every configured sink.
func buildPublisher(cfg *config.LedgerConfig, redisClient *redis.Client, zl *zap.Logger) (events.Publisher, func()) {
	var sinks events.MultiPublisher
	var closers []func() error

	if cfg.EventsRedisList != "" {
		sinks = append(sinks, events.NewRedisPublisher(redisClient, cfg.EventsRedisList))
	}
	if cfg.KafkaEnabled() {
		kp := events.NewKafkaPublisher(events.NewKafkaWriter(cfg.KafkaBrokers, cfg.KafkaEventsTopic))
		sinks = append(sinks, kp)
		closers = append(closers, kp.Close)
	}

	closeAll := func() {
		for _, c := range closers {
			if err := c(); err != nil {
				zl.Warn("event publisher close failed", zap.Error(err))
			}
		}
	}

	if len(sinks) == 0 {
		zl.Info("no event sinks configured")
		return events.NopPublisher{}, closeAll
	}
	return sinks, closeAll
}
