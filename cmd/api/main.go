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

	"go.uber.org/zap"

	"sweetshop-rest-api/internal/cache"
	"sweetshop-rest-api/internal/config"
	"sweetshop-rest-api/internal/events"
	"sweetshop-rest-api/internal/handler"
	"sweetshop-rest-api/internal/logger"
	"sweetshop-rest-api/internal/middleware"
	"sweetshop-rest-api/internal/repository"
	"sweetshop-rest-api/internal/router"
	"sweetshop-rest-api/internal/service"
	"sweetshop-rest-api/internal/telemetry"
)

func main() {
	cfg := config.MustLoad()

	log := logger.Must(cfg.App.Name, cfg.App.Version, cfg.App.Debug)
	defer log.Sync()

	log.Info("starting", zap.String("env", cfg.App.Environment), zap.String("version", cfg.App.Version))

	shutdownTelemetry, err := telemetry.Setup(context.Background(), telemetry.Config{
		Enabled:        cfg.Telemetry.Enabled,
		Endpoint:       cfg.Telemetry.Endpoint,
		Insecure:       cfg.Telemetry.Insecure,
		ServiceName:    cfg.Telemetry.ServiceName,
		ServiceVersion: cfg.App.Version,
	})
	if err != nil {
		log.Fatal("failed to initialize telemetry", zap.Error(err))
	}

	store, err := openStore(cfg, log)
	if err != nil {
		log.Fatal("failed to initialize store", zap.String("type", cfg.Store.Type), zap.Error(err))
	}
	defer store.Close()
	log.Info("store initialized", zap.String("type", store.Name()))

	kv, err := openCache(cfg)
	if err != nil {
		log.Fatal("failed to initialize cache", zap.String("type", cfg.Cache.Type), zap.Error(err))
	}
	defer kv.Close()
	log.Info("cache initialized", zap.String("type", cfg.Cache.Type))

	var publisher events.Publisher = events.NopPublisher{}
	if cfg.Events.KafkaEnabled() {
		kp, err := events.NewKafkaPublisher(events.KafkaConfig{
			Brokers:     cfg.Events.Brokers,
			Topic:       cfg.Events.Topic,
			ServiceName: cfg.Telemetry.ServiceName,
		}, log)
		if err != nil {
			log.Fatal("failed to initialize kafka publisher", zap.Error(err))
		}
		publisher = kp
		log.Info("kafka publisher initialized", zap.Strings("brokers", cfg.Events.Brokers), zap.String("topic", cfg.Events.Topic))
	}
	defer publisher.Close()

	// Services
	tokenService := service.NewTokenService(kv, cfg.Cache.SessionTTL, log)
	authService := service.NewAuthService(store, tokenService, log)
	units := service.UnitConfig{
		TxTimeout:     cfg.Purchase.TxTimeout,
		MaxRetries:    cfg.Purchase.MaxRetries,
		RetryInterval: cfg.Purchase.RetryInterval,
	}
	catalogService := service.NewCatalogService(store, units, log)
	voucherService := service.NewVoucherService(store, log)
	ledgerService := service.NewLedgerService(store)
	coordinator := service.NewPurchaseCoordinator(store, kv, publisher, service.CoordinatorConfig{
		TxTimeout:      units.TxTimeout,
		MaxRetries:     units.MaxRetries,
		RetryInterval:  units.RetryInterval,
		IdempotencyTTL: cfg.Cache.IdemTTL,
	}, log)

	if cfg.Admin.Email != "" {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		admin, err := authService.EnsureAdmin(ctx, service.RegisterInput{
			Name:     cfg.Admin.Name,
			Email:    cfg.Admin.Email,
			Password: cfg.Admin.Password,
		})
		cancel()
		if err != nil {
			log.Fatal("failed to bootstrap admin account", zap.Error(err))
		}
		log.Info("admin account ready", zap.Int64("user_id", admin.ID), zap.String("email", admin.Email))
	}

	sweeper := service.NewVoucherSweeper(voucherService, service.SweeperConfig{
		Interval: cfg.Maintenance.VoucherSweepInterval,
	}, log)
	sweeper.Start()

	r := router.New(router.Config{
		Handler:          handler.New(cfg.App.Name, cfg.App.Version, store),
		InventoryHandler: handler.NewInventoryHandler(catalogService, coordinator),
		LedgerHandler:    handler.NewLedgerHandler(ledgerService, voucherService),
		AdminHandler:     handler.NewAdminHandler(store, cfg.Cache.Type),
		AuthHandler:      handler.NewAuthHandler(authService),
		AuthMiddleware:   middleware.NewAuthMiddleware(authService),
		AllowedOrigins:   cfg.Server.AllowedOrigins,
		ServiceName:      cfg.Telemetry.ServiceName,
		Logger:           log,
	})

	srv := &http.Server{
		Addr:         cfg.Server.Address(),
		Handler:      r,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
	}

	go func() {
		log.Info("server listening", zap.String("addr", cfg.Server.Address()))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatal("server error", zap.Error(err))
		}
	}()

	// Graceful shutdown
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	log.Info("shutting down server")

	ctx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()

	if err := srv.Shutdown(ctx); err != nil {
		log.Error("server shutdown error", zap.Error(err))
	}
	sweeper.Stop()
	if err := shutdownTelemetry(ctx); err != nil {
		log.Warn("telemetry shutdown error", zap.Error(err))
	}

	log.Info("server stopped")
}

func openStore(cfg *config.Config, log *zap.Logger) (repository.Store, error) {
	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()

	switch cfg.Store.Type {
	case "memory":
		return repository.NewMemoryStore(), nil
	case "postgres":
		return repository.NewPostgresStore(ctx, cfg.Store.PostgresDSN(), log)
	case "mysql":
		return repository.NewMySQLStore(cfg.Store.MySQLDSN(), log)
	case "mongodb":
		return repository.NewMongoDBStore(ctx, cfg.Store.MongoURI, cfg.Store.MongoDatabase, log)
	case "sqlite":
		return repository.NewSQLiteStore(cfg.Store.SQLitePath, log)
	default:
		return nil, fmt.Errorf("unknown store type %q", cfg.Store.Type)
	}
}

func openCache(cfg *config.Config) (cache.Cache, error) {
	switch cfg.Cache.Type {
	case "redis":
		return cache.NewRedisCache(cache.RedisConfig{
			Addr:     cfg.Cache.RedisAddress(),
			Password: cfg.Cache.RedisPassword,
			DB:       cfg.Cache.RedisDB,
		})
	case "memory", "":
		return cache.NewMemoryCache(), nil
	default:
		return nil, fmt.Errorf("unknown cache type %q", cfg.Cache.Type)
	}
}
