package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"ppmt-amp-api/internal/app"
	"ppmt-amp-api/internal/awsclient"
	"ppmt-amp-api/internal/config"
	"ppmt-amp-api/internal/handler"
	"ppmt-amp-api/internal/logging"
	"ppmt-amp-api/internal/router"

	"go.uber.org/zap"
)

func main() {
	cfg := config.MustLoad()

	logger, err := logging.New(logging.Options{
		Service:     cfg.App.Name,
		Version:     cfg.App.Version,
		Environment: cfg.App.Environment,
		Level:       cfg.App.LogLevel,
	})
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to create logger: %v\n", err)
		os.Exit(1)
	}
	defer logger.Sync()

	logger.Info("starting ppmt-amp-api", zap.String("environment", cfg.App.Environment))

	ctx := context.Background()
	clients, err := awsclient.New(ctx, cfg.AWS)
	if err != nil {
		logger.Fatal("failed to initialize AWS clients", zap.Error(err))
	}

	application, err := app.Build(ctx, cfg, app.Deps{DynamoDB: clients.DynamoDB, KMS: clients.KMS}, logger)
	if err != nil {
		logger.Fatal("failed to initialize application", zap.Error(err))
	}
	application.Start()

	r := router.New(router.Config{
		Handler:        handler.New(cfg.App.Name, cfg.App.Version, application.Checks, logger),
		CatalogHandler: handler.NewCatalogHandler(application.Gateway),
		Logger:         logger,
	})

	srv := &http.Server{
		Addr:         cfg.Server.Address(),
		Handler:      r,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
	}

	go func() {
		logger.Info("server listening", zap.String("addr", cfg.Server.Address()))
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatal("server error", zap.Error(err))
		}
	}()

	// Graceful shutdown
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	logger.Info("shutting down server")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("server shutdown error", zap.Error(err))
	}

	application.Close()
	logger.Info("server stopped")
}
