// Package app wires configuration into a ready-to-serve HTTP handler.
package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"

	"github.com/berniyo/uber-monzo-lambda/internal/config"
	"github.com/berniyo/uber-monzo-lambda/internal/credentials"
	"github.com/berniyo/uber-monzo-lambda/internal/handler"
	"github.com/berniyo/uber-monzo-lambda/internal/monzo"
	"github.com/berniyo/uber-monzo-lambda/internal/token"
)

// NewLogger returns the JSON logger used by both entry points.
func NewLogger(cfg *config.Config) *slog.Logger {
	return slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: cfg.SlogLevel(),
	}))
}

// Build assembles the router. The returned close func releases the
// credential store's resources.
func Build(ctx context.Context, cfg *config.Config, logger *slog.Logger) (http.Handler, func(), error) {
	store, closeStore, err := openStore(ctx, cfg, logger)
	if err != nil {
		return nil, nil, err
	}

	client := monzo.NewClient(cfg.MonzoAPIURL, &http.Client{Timeout: cfg.HTTPTimeout})
	tokens := token.NewManager(store, client, token.WithLogger(logger))

	processor := handler.NewProcessor(client, tokens,
		handler.WithLocation(cfg.Location()),
		handler.WithLogger(logger),
	)

	webhook, err := handler.NewWebhook(processor, cfg.BasicAuthDigest, handler.DirDumper{Dir: cfg.DumpDir}, logger)
	if err != nil {
		closeStore()
		return nil, nil, err
	}

	return handler.NewRouter(webhook, logger), closeStore, nil
}

func openStore(ctx context.Context, cfg *config.Config, logger *slog.Logger) (credentials.Store, func(), error) {
	switch cfg.CredentialsStore {
	case config.StorePostgres:
		pool, err := credentials.Connect(ctx, cfg.DatabaseURL)
		if err != nil {
			return nil, nil, err
		}

		store := credentials.NewPostgresStore(pool, cfg.CredentialsID)
		if err := store.EnsureSchema(ctx); err != nil {
			pool.Close()
			return nil, nil, err
		}

		if err := seedFromFile(ctx, store, cfg.CredentialsFile, logger); err != nil {
			pool.Close()
			return nil, nil, err
		}

		return store, pool.Close, nil
	default:
		return credentials.NewFileStore(cfg.CredentialsFile), func() {}, nil
	}
}

// seedFromFile copies the JSON credential file into Postgres the first time
// the table is used. A missing file is not an error.
func seedFromFile(ctx context.Context, store *credentials.PostgresStore, path string, logger *slog.Logger) error {
	if path == "" {
		return nil
	}

	cred, err := credentials.NewFileStore(path).Load(ctx)
	if errors.Is(err, credentials.ErrNotFound) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("seed credentials: %w", err)
	}

	imported, err := store.Import(ctx, cred)
	if err != nil {
		return err
	}
	if imported {
		logger.Info("imported credentials into postgres", "file", path)
	}

	return nil
}
