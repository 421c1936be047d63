package main

import (
	"context"
	"log"

	"github.com/aws/aws-lambda-go/lambda"
	"github.com/awslabs/aws-lambda-go-api-proxy/httpadapter"

	"github.com/berniyo/uber-monzo-lambda/internal/app"
	"github.com/berniyo/uber-monzo-lambda/internal/config"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}
	if err := cfg.ValidateLambda(); err != nil {
		log.Fatalf("invalid lambda config: %v", err)
	}

	logger := app.NewLogger(cfg)

	router, closeStore, err := app.Build(context.Background(), cfg, logger)
	if err != nil {
		log.Fatalf("failed to build webhook: %v", err)
	}
	defer closeStore()

	lambda.Start(httpadapter.NewFunctionURL(router).ProxyWithContext)
}
