package main

import (
	"context"
	"flag"
	"log"
	"os"
	"os/signal"
	"syscall"

	"go.uber.org/zap"

	"benchlink/internal/config"
	"benchlink/internal/system"
)

func main() {
	configPath := flag.String("config", "configs/bench.yaml", "path to the bench configuration")
	flag.Parse()

	// Logger initialisieren
	logger, err := zap.NewProduction()
	if err != nil {
		log.Fatalf("Failed to create logger: %v", err)
	}
	defer logger.Sync()

	// Config laden, beim allerersten Start eine Vorlage hinlegen
	if _, err := os.Stat(*configPath); os.IsNotExist(err) {
		if err := config.WriteDefault(*configPath); err != nil {
			logger.Fatal("Failed to write default config", zap.Error(err))
		}
		logger.Info("No config found, wrote default", zap.String("path", *configPath))
	}

	cfg, err := config.Load(*configPath)
	if err != nil {
		logger.Fatal("Failed to load config", zap.Error(err))
	}

	logger.Info("Config loaded successfully", zap.String("bench", cfg.Bench.Name))

	// Lifecycle Manager
	lifecycle, err := system.NewLifecycleManager(cfg, logger)
	if err != nil {
		logger.Fatal("Failed to build bench", zap.Error(err))
	}

	// System starten
	if err := lifecycle.Start(); err != nil {
		logger.Fatal("Failed to start system", zap.Error(err))
	}

	logger.Info("benchlink started successfully")

	// Graceful Shutdown auf Signal oder per API-Aufruf
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	select {
	case <-sigChan:
		logger.Info("Shutdown signal received")

		ctx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
		defer cancel()

		if err := lifecycle.Shutdown(ctx); err != nil {
			logger.Error("Shutdown failed", zap.Error(err))
			os.Exit(1)
		}
	case <-lifecycle.Done():
		logger.Info("Shutdown requested via API")
	}

	logger.Info("benchlink stopped successfully")
}
