package main

import (
	"context"
	"log"

	"ivs-moderation/internal/config"
	"ivs-moderation/internal/logging"
	"ivs-moderation/internal/moderation"

	"github.com/aws/aws-lambda-go/lambda"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
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

	awsCfg, err := awsconfig.LoadDefaultConfig(context.Background())
	if err != nil {
		logger.Fatal("Failed to load AWS config", zap.Error(err))
	}

	handler, err := moderation.NewHandlerFromConfig(cfg.Handler, awsCfg, logger)
	if err != nil {
		logger.Fatal("Failed to create thumbnail handler", zap.Error(err))
	}

	logger.Info("Starting thumbnail handler",
		zap.String("analyzer", cfg.Handler.Analyzer),
		zap.String("channel_arn", cfg.Handler.ChannelArn))

	lambda.Start(handler.HandleEvent)
}
