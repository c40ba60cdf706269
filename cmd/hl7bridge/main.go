package main

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"

	"github.com/savegress/hl7bridge/internal/api"
	"github.com/savegress/hl7bridge/internal/config"
	"github.com/savegress/hl7bridge/internal/hl7v2"
	"github.com/savegress/hl7bridge/internal/session"
)

func main() {
	cfg := loadConfig()

	logger, err := newLogger(&cfg.Logging)
	if err != nil {
		log.Fatalf("Failed to initialize logger: %v", err)
	}
	defer logger.Sync()

	logger.Info("starting hl7bridge",
		zap.Int("port", cfg.Server.Port),
		zap.String("mllp_host", cfg.MLLP.Host),
		zap.Int("mllp_port", cfg.MLLP.Port))

	mllpClient := hl7v2.NewClient(cfg.MLLP.Host, cfg.MLLP.Port, cfg.MLLP.Timeout, logger)
	manager := session.NewManager(cfg, mllpClient, logger)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Session expiry sweeper
	manager.Start(ctx)

	server := api.NewServer(cfg, manager, mllpClient, logger)

	httpServer := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Server.Port),
		Handler:      server.Router(),
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 0, // progress streams stay open past any fixed deadline
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		logger.Info("hl7bridge API listening", zap.Int("port", cfg.Server.Port))
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatal("HTTP server error", zap.Error(err))
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info("shutting down hl7bridge")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()

	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		logger.Warn("HTTP server shutdown error", zap.Error(err))
	}

	logger.Info("hl7bridge stopped")
}

func newLogger(cfg *config.LoggingConfig) (*zap.Logger, error) {
	if cfg.Format == "console" {
		return zap.NewDevelopment()
	}

	zc := zap.NewProductionConfig()
	if level, err := zap.ParseAtomicLevel(cfg.Level); err == nil {
		zc.Level = level
	}
	return zc.Build()
}

func loadConfig() *config.Config {
	configPath := os.Getenv("HL7BRIDGE_CONFIG")
	if configPath != "" {
		cfg, err := config.Load(configPath)
		if err != nil {
			log.Printf("Failed to load config from %s: %v, using defaults", configPath, err)
			return config.LoadFromEnv()
		}
		return cfg
	}
	return config.LoadFromEnv()
}
