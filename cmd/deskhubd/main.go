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

	"github.com/SherClockHolmes/webpush-go"
	"go.uber.org/zap"

	"deskhub-backend/config"
	"deskhub-backend/internal/api"
	"deskhub-backend/internal/db"
	"deskhub-backend/internal/gateway"
	"deskhub-backend/internal/motor"
	"deskhub-backend/internal/notification"
	"deskhub-backend/internal/occupancy"
	"deskhub-backend/internal/reclaimer"
	"deskhub-backend/internal/store"
)

func main() {
	logger, err := zap.NewProduction()
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to initialize logger: %v\n", err)
		os.Exit(1)
	}
	defer logger.Sync()
	zap.ReplaceGlobals(logger)
	log := logger.Sugar()

	// Load configuration
	configPath := os.Getenv("CONFIG_PATH")
	if configPath == "" {
		configPath = "./config/config.yaml" // Default path for local development
	}

	cfg, err := config.Load(configPath)
	if err != nil {
		log.Fatalw("failed to load configuration", "path", configPath, "error", err)
	}
	log.Infow("configuration loaded", "path", configPath)

	if cfg.Push.PublicKey == "" || cfg.Push.PrivateKey == "" {
		log.Fatal("VAPID keys must be configured. Please generate them and add them to your config file.")
	}

	webpushOptions := webpush.Options{
		VAPIDPublicKey:  cfg.Push.PublicKey,
		VAPIDPrivateKey: cfg.Push.PrivateKey,
		Subscriber:      cfg.Push.Subject,
		TTL:             cfg.Push.TTL,
	}

	// Initialize database
	gormDB, err := db.Init(&cfg.Database)
	if err != nil {
		log.Fatalw("failed to initialize database", "error", err)
	}
	log.Info("database initialized")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	appStore := store.NewGormStore(gormDB)

	// Device gateway. The broker may be down at startup; auto-reconnect
	// handles that, so a failed initial connect is not fatal.
	devices := gateway.New(&cfg.MQTT, appStore)
	if err := devices.Connect(); err != nil {
		log.Warnw("MQTT broker unreachable at startup, will keep retrying", "error", err)
	}
	defer devices.Disconnect()

	motorClient := motor.NewClient(&cfg.Motor)

	coord := occupancy.New(appStore, devices, motorClient, cfg.Occupancy)
	devices.SetConfirmer(coord)

	// Notification worker pool
	pool := notification.NewWorkerPool(cfg.WorkerPool.Size, appStore, &webpushOptions)
	pool.Start(ctx)

	// Background reclaimer sweep
	if cfg.Reclaimer.Enabled {
		sweeper := reclaimer.NewService(cfg, appStore, coord, pool)
		go sweeper.Run(ctx)
	} else {
		log.Warn("reclaimer disabled, reservations will not be settled automatically")
	}

	router := api.NewRouter(appStore, coord, &cfg.Server, logger)
	server := &http.Server{
		Addr:    fmt.Sprintf(":%d", cfg.Server.Port),
		Handler: router,
	}

	go func() {
		log.Infow("HTTP server starting", "port", cfg.Server.Port)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatalw("HTTP server ListenAndServe", "error", err)
		}
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)

	<-stop
	log.Info("shutdown signal received, stopping services")
	cancel()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shutdownCancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Fatalw("HTTP server shutdown", "error", err)
	}

	log.Info("server gracefully stopped")
}
