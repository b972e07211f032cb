package main

import (
	"context"
	"errors"
	"log"
	"os"
	"os/signal"
	"syscall"

	"ivs-moderation/internal/config"
	"ivs-moderation/internal/events"
	"ivs-moderation/internal/logging"
	"ivs-moderation/internal/moderation"

	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/sqs"
	"go.uber.org/zap"
)

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

	if cfg.AWS.SQSQueueURL == "" {
		logger.Fatal("THUMBNAIL_EVENTS_QUEUE_URL is not set")
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, awsconfig.WithRegion(cfg.AWS.Region))
	if err != nil {
		logger.Fatal("Failed to load AWS config", zap.Error(err))
	}

	handler, err := moderation.NewHandlerFromConfig(cfg.Handler, awsCfg, logger)
	if err != nil {
		logger.Fatal("Failed to create thumbnail handler", zap.Error(err))
	}

	eventConsumer := events.NewSQSConsumer(sqs.NewFromConfig(awsCfg), cfg.AWS.SQSQueueURL, handler, logger)

	logger.Info("Starting moderation worker",
		zap.String("queue_url", cfg.AWS.SQSQueueURL),
		zap.String("analyzer", cfg.Handler.Analyzer))

	go func() {
		if err := eventConsumer.Start(ctx); err != nil && !errors.Is(err, context.Canceled) {
			logger.Error("Event consumer error", zap.Error(err))
		}
		cancel()
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
	cancel()
	logger.Info("Shutdown complete")
}
