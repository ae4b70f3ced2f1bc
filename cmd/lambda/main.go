package main

import (
	"context"
	"fmt"
	"os"

	"ppmt-amp-api/internal/app"
	"ppmt-amp-api/internal/awsclient"
	"ppmt-amp-api/internal/config"
	"ppmt-amp-api/internal/handler"
	"ppmt-amp-api/internal/logging"

	"github.com/aws/aws-lambda-go/lambda"
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

	if !awsclient.IsLambdaEnvironment() {
		logger.Warn("AWS_LAMBDA_FUNCTION_NAME not set, use cmd/api for local serving")
	}

	// Clients and the secret are resolved once per container.
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

	lambda.Start(handler.NewLambdaHandler(application.Gateway, logger).HandleRequest)
}
