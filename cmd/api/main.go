package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/estatelink/estatelink-backend/api/routes"
	"github.com/estatelink/estatelink-backend/internal/assets"
	"github.com/estatelink/estatelink-backend/internal/enhance"
	"github.com/estatelink/estatelink-backend/internal/listings"
	"github.com/estatelink/estatelink-backend/internal/pipeline"
	"github.com/estatelink/estatelink-backend/internal/transcode"
	"github.com/estatelink/estatelink-backend/pkg/auth/session"
	"github.com/estatelink/estatelink-backend/pkg/config"
	"github.com/estatelink/estatelink-backend/pkg/db"
	"github.com/estatelink/estatelink-backend/pkg/logger"
	"github.com/estatelink/estatelink-backend/pkg/metrics"
	"github.com/estatelink/estatelink-backend/pkg/migrate"
	"github.com/estatelink/estatelink-backend/pkg/redis"
	"github.com/estatelink/estatelink-backend/pkg/storage/gcs"
)

func main() {
	logg := logger.New(logger.Options{ServiceName: "api"})

	if err := godotenv.Load(); err != nil {
		logg.Warn(context.Background(), ".env file not found, relying on environment")
	}

	cfg, err := config.Load()
	if err != nil {
		logg.Error(context.Background(), "failed to load config", err)
		os.Exit(1)
	}

	logg = logger.New(logger.Options{
		ServiceName: "api",
		Level:       logger.ParseLevel(cfg.App.LogLevel),
		WarnStack:   cfg.App.LogWarnStack,
	})

	dbClient, err := db.New(context.Background(), cfg.DB, logg)
	if err != nil {
		logg.Error(context.Background(), "failed to bootstrap database", err)
		os.Exit(1)
	}
	defer func() {
		if err := dbClient.Close(); err != nil {
			logg.Error(context.Background(), "error closing database", err)
		}
	}()

	if err := migrate.MaybeRunDev(context.Background(), cfg, logg, dbClient); err != nil {
		logg.Error(context.Background(), "failed to run dev migrations", err)
		os.Exit(1)
	}

	redisClient, err := redis.New(context.Background(), cfg.Redis, logg)
	if err != nil {
		logg.Error(context.Background(), "failed to bootstrap redis", err)
		os.Exit(1)
	}
	defer func() {
		if err := redisClient.Close(); err != nil {
			logg.Error(context.Background(), "error closing redis", err)
		}
	}()

	gcsClient, err := gcs.NewClient(context.Background(), cfg.GCS, cfg.GCP, logg)
	if err != nil {
		logg.Error(context.Background(), "failed to bootstrap object storage", err)
		os.Exit(1)
	}
	defer gcsClient.Close()

	sessionGuard, err := session.NewGuard(redisClient, cfg.JWT)
	if err != nil {
		logg.Error(context.Background(), "failed to create session guard", err)
		os.Exit(1)
	}

	listingRepo := listings.NewRepository(dbClient.DB())
	assetRepo := assets.NewRepository(dbClient.DB())

	var listingService listings.Service
	assetService, err := assets.NewService(dbClient, assetRepo, gcsClient, listingLookup{&listingService}, logg, cfg.Media.MaxUploadBytes())
	if err != nil {
		logg.Error(context.Background(), "failed to create asset catalogue", err)
		os.Exit(1)
	}
	listingService, err = listings.NewService(dbClient, listingRepo, assetService, logg)
	if err != nil {
		logg.Error(context.Background(), "failed to create listing service", err)
		os.Exit(1)
	}

	transcoder, err := transcode.NewTranscoder(cfg.Media, logg)
	if err != nil {
		logg.Error(context.Background(), "failed to create transcoder", err)
		os.Exit(1)
	}

	var enhancer *enhance.Client
	if cfg.Enhancer.BaseURL != "" {
		enhancer, err = enhance.NewClient(cfg.Enhancer.BaseURL, cfg.Enhancer.APIKey, cfg.Enhancer.Timeout)
		if err != nil {
			logg.Error(context.Background(), "failed to create enhancer client", err)
			os.Exit(1)
		}
	}

	orchestrator, err := pipeline.NewOrchestrator(
		transcoder,
		gcsClient,
		assetService,
		enhancer,
		metrics.NewPipelineMetrics(prometheus.DefaultRegisterer),
		logg,
		cfg.Media,
	)
	if err != nil {
		logg.Error(context.Background(), "failed to create media pipeline", err)
		os.Exit(1)
	}

	port := os.Getenv("PORT")
	if port == "" {
		port = cfg.App.Port
	}
	addr := ":" + port
	ctx := logg.WithFields(context.Background(), map[string]any{
		"env":  cfg.App.Env,
		"addr": addr,
	})
	logg.Info(ctx, "starting api server")

	server := &http.Server{
		Addr:              addr,
		Handler:           routes.NewRouter(cfg, logg, redisClient, sessionGuard, listingService, orchestrator),
		ReadHeaderTimeout: 10 * time.Second,
	}

	runCtx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	errCh := make(chan error, 1)
	go func() {
		errCh <- server.ListenAndServe()
	}()

	select {
	case <-runCtx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
		defer cancel()
		if err := server.Shutdown(shutdownCtx); err != nil {
			logg.Error(ctx, "graceful shutdown failed", err)
		}
	case err := <-errCh:
		if err != nil && err != http.ErrServerClosed {
			logg.Error(ctx, "api server stopped unexpectedly", err)
			os.Exit(1)
		}
	}
}

// listingLookup breaks the construction cycle between the asset catalogue and
// the listing service; the pointer is filled in before any request is served.
type listingLookup struct {
	svc *listings.Service
}

func (l listingLookup) Exists(ctx context.Context, id uuid.UUID) (bool, error) {
	if l.svc == nil || *l.svc == nil {
		return false, nil
	}
	return (*l.svc).Exists(ctx, id)
}
