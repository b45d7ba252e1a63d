// Command logunitd wires up a single log unit: it loads configuration,
// constructs a logunit.Unit, starts its GC loop, and blocks until
// asked to shut down. It deliberately does not open any network
// listener — wire framing, dispatch, and connection multiplexing (the
// router) are a separate collaborator this module only exposes an
// interface toward.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"

	"github.com/chn0318/logunit/config"
	"github.com/chn0318/logunit/logunit"
)

func main() {
	logger, err := zap.NewProduction()
	if err != nil {
		panic(fmt.Sprintf("failed to initialize logger: %v", err))
	}
	defer logger.Sync()

	logger.Info("starting log unit")

	v := config.New()
	v.SetConfigName("logunit")
	v.AddConfigPath(".")
	if err := v.ReadInConfig(); err != nil {
		logger.Info("no config file found, using defaults and environment", zap.Error(err))
	}

	cfg, err := config.Load(v)
	if err != nil {
		logger.Fatal("failed to load configuration", zap.Error(err))
	}
	logger.Info("configuration loaded",
		zap.Bool("memory", cfg.Memory),
		zap.String("log_path", cfg.LogPath),
		zap.Int64("max_cache_bytes", cfg.MaxCacheBytes),
		zap.Duration("gc_interval", cfg.GCInterval))

	unit, err := logunit.New(cfg, logger)
	if err != nil {
		logger.Fatal("failed to construct log unit", zap.Error(err))
	}

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	sig := <-sigChan
	logger.Info("received signal, shutting down", zap.String("signal", sig.String()))

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := unit.Shutdown(shutdownCtx); err != nil {
		logger.Error("error during shutdown", zap.Error(err))
		os.Exit(1)
	}
	logger.Info("log unit stopped")
}
