package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/google/uuid"
	"github.com/joho/godotenv"

	"github.com/estatelink/estatelink-backend/internal/assets"
	"github.com/estatelink/estatelink-backend/internal/assets/consumer"
	"github.com/estatelink/estatelink-backend/pkg/config"
	"github.com/estatelink/estatelink-backend/pkg/db"
	"github.com/estatelink/estatelink-backend/pkg/logger"
	"github.com/estatelink/estatelink-backend/pkg/pubsub"
	"github.com/estatelink/estatelink-backend/pkg/storage/gcs"
)

func main() {
	ctx := context.Background()
	logg := logger.New(logger.Options{ServiceName: "storage-events-worker"})

	_ = godotenv.Load()

	cfg, err := config.Load()
	requireResource(ctx, logg, "config", err)

	cfg.Service.Kind = "storage-events-worker"

	logg = logger.New(logger.Options{
		ServiceName: "storage-events-worker",
		Level:       logger.ParseLevel(cfg.App.LogLevel),
		WarnStack:   cfg.App.LogWarnStack,
	})

	dbClient, err := db.New(context.Background(), cfg.DB, logg)
	requireResource(ctx, logg, "database", err)
	defer dbClient.Close()

	gcsClient, err := gcs.NewClient(context.Background(), cfg.GCS, cfg.GCP, logg)
	requireResource(ctx, logg, "object storage", err)
	defer gcsClient.Close()

	pubsubClient, err := pubsub.NewClient(context.Background(), cfg.GCP, cfg.PubSub, logg)
	requireResource(ctx, logg, "pubsub", err)
	defer pubsubClient.Close()

	assetRepo := assets.NewRepository(dbClient.DB())
	catalogue, err := assets.NewService(dbClient, assetRepo, gcsClient, existingListings{}, logg, cfg.Media.MaxUploadBytes())
	requireResource(ctx, logg, "asset catalogue", err)

	eventsConsumer, err := consumer.NewConsumer(
		assetRepo,
		catalogue,
		pubsubClient.StorageEventsSubscription(),
		logg,
		cfg.Storage.Scope,
	)
	requireResource(ctx, logg, "storage events consumer", err)

	runCtx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	runCtx = logg.WithFields(runCtx, map[string]any{
		"serviceKind": cfg.Service.Kind,
		"env":         cfg.App.Env,
	})
	logg.Info(runCtx, "storage events worker ready")

	if err := eventsConsumer.Run(runCtx); err != nil && !errors.Is(err, context.Canceled) {
		logg.Error(runCtx, "storage events worker stopped", err)
		os.Exit(1)
	}
}

// existingListings satisfies the catalogue's listing lookup. The worker never
// ingests uploads, so the answer is only used by code paths it does not hit.
type existingListings struct{}

func (existingListings) Exists(context.Context, uuid.UUID) (bool, error) {
	return true, nil
}

func requireResource(ctx context.Context, logg *logger.Logger, resource string, err error) {
	if err == nil {
		return
	}
	logg.Error(ctx, fmt.Sprintf("resource not working: %s", resource), err)
	os.Exit(1)
}
