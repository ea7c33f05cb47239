package main

import (
	"context"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/appforge/content-engine/pkg/contentengine/api"
	"github.com/appforge/content-engine/pkg/contentengine/config"
)

func main() {
	logger := slog.New(slog.NewJSONHandler(os.Stdout, nil))
	slog.SetDefault(logger)

	serverConfig, err := config.Load(config.WithEnv())
	if err != nil {
		logger.Error("failed to load configuration", "error", err)
		os.Exit(1)
	}

	ctx := context.Background()
	svc, err := serverConfig.BuildService(ctx)
	if err != nil {
		logger.Error("failed to build service", "error", err)
		os.Exit(1)
	}

	tokenAuth := api.NewTokenAuth(serverConfig.JWTSecret)
	httpServer := &http.Server{
		Addr:    ":" + serverConfig.Port,
		Handler: api.NewRouter(svc, tokenAuth, logger),
	}

	go func() {
		logger.Info("content engine starting",
			"port", serverConfig.Port,
			"environment", serverConfig.Environment,
			"store", serverConfig.StoreType,
			"blob_store", serverConfig.BlobType,
			"audit_store", serverConfig.AuditStoreType)

		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("server error", "error", err)
			os.Exit(1)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	logger.Info("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		logger.Error("forced shutdown", "error", err)
		os.Exit(1)
	}
	logger.Info("server exited")
}
