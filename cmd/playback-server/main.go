package main

import (
	"context"
	"errors"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"ivs-moderation/internal/config"
	"ivs-moderation/internal/logging"
	"ivs-moderation/internal/playback"
	"ivs-moderation/internal/server"
	"ivs-moderation/internal/state"
	"ivs-moderation/internal/templates"

	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"go.uber.org/zap"
)

type logPlayer struct {
	logger *zap.Logger
}

func (p logPlayer) SetSource(url string) {
	p.logger.Info("Player source set", zap.String("url", url))
}

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}
	logger, err := logging.New(cfg.Logging.Level, cfg.Logging.Format)
	if err != nil {
		log.Fatalf("Failed to create logger: %v", err)
	}
	defer logger.Sync()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	var source server.PlaybackSource
	if cfg.Server.PlaybackURL != "" {
		source = server.StaticSource(cfg.Server.PlaybackURL)
	} else {
		awsCfg, err := awsconfig.LoadDefaultConfig(ctx, awsconfig.WithRegion(cfg.AWS.Region))
		if err != nil {
			logger.Fatal("Failed to load AWS config", zap.Error(err))
		}
		source = server.DeploymentSource{
			Store:     state.NewDynamoDBStore(awsCfg, cfg.AWS.DynamoDBTable),
			StackName: cfg.Stack.Name,
		}
	}

	overlay := playback.NewController(logPlayer{logger: logger}, nil, "", logger)
	handler, err := server.NewHandler(source, templates.SiteData{Title: cfg.Stack.Site.Title}, overlay, logger)
	if err != nil {
		logger.Fatal("Failed to create handler", zap.Error(err))
	}
	httpServer := server.NewHTTPServer(cfg.Server.Addr, server.NewRouter(handler, logger))

	logger.Info("Starting playback server",
		zap.String("addr", cfg.Server.Addr),
		zap.String("stack", cfg.Stack.Name))

	go func() {
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("HTTP server error", zap.Error(err))
			cancel()
		}
	}()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	select {
	case sig := <-sigChan:
		logger.Info("Received shutdown signal", zap.String("signal", sig.String()))
	case <-ctx.Done():
		logger.Info("Context cancelled")
	}

	logger.Info("Shutting down gracefully...")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		logger.Error("Error stopping HTTP server", zap.Error(err))
	}

	logger.Info("Shutdown complete")
}
