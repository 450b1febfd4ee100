package routes

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/estatelink/estatelink-backend/api/controllers"
	"github.com/estatelink/estatelink-backend/api/middleware"
	listingsvc "github.com/estatelink/estatelink-backend/internal/listings"
	"github.com/estatelink/estatelink-backend/internal/pipeline"
	"github.com/estatelink/estatelink-backend/pkg/auth/session"
	"github.com/estatelink/estatelink-backend/pkg/config"
	"github.com/estatelink/estatelink-backend/pkg/logger"
	"github.com/estatelink/estatelink-backend/pkg/redis"
)

// NewRouter assembles the HTTP surface. The redis client may be nil in test
// harnesses; idempotency and rate limiting then pass requests through.
func NewRouter(
	cfg *config.Config,
	logg *logger.Logger,
	redisClient *redis.Client,
	sessions session.AccessSessionChecker,
	listingService listingsvc.Service,
	orchestrator *pipeline.Orchestrator,
) http.Handler {
	r := chi.NewRouter()
	r.Use(
		middleware.Recoverer(logg),
		middleware.RequestID(logg),
		middleware.Logging(logg),
		middleware.CORS(),
	)

	scope := cfg.Storage.Scope
	mutationPolicy := middleware.RateLimitPolicy{
		Name:   "mutations",
		Window: cfg.RateLimit.Window,
		Limit:  cfg.RateLimit.MutationLimit,
	}

	r.Route("/health", func(r chi.Router) {
		r.Get("/live", controllers.HealthLive(cfg))
		r.Get("/ready", controllers.HealthReady(cfg, cachePinger(redisClient), logg))
	})

	r.Get("/api/public/ping", controllers.PublicPing())

	r.Route("/api/v1", func(r chi.Router) {
		r.Use(middleware.Auth(cfg.JWT, sessions, logg))
		r.Use(middleware.Idempotency(idempotencyStore(redisClient), logg))
		r.Use(middleware.RateLimit(mutationPolicy, rateLimiter(redisClient), logg))

		r.Get("/ping", controllers.PrivatePing())

		r.Route("/listings", func(r chi.Router) {
			r.Get("/", controllers.ListListings(listingService, logg))
			r.Get("/{listingId}", controllers.GetListing(listingService, logg))

			r.Group(func(r chi.Router) {
				r.Use(middleware.RequireMediaMutation(logg))
				r.Post("/", controllers.CreateListing(listingService, logg))
				r.Patch("/{listingId}", controllers.UpdateListing(listingService, logg))
				r.Delete("/{listingId}", controllers.DeleteListing(listingService, scope, logg))

				r.Post("/{listingId}/assets", controllers.UploadMedia(orchestrator, scope, cfg.Media.MaxUploadBytes(), logg))
				r.Post("/{listingId}/assets/reorder", controllers.ReorderAssets(orchestrator, logg))
				r.Post("/{listingId}/assets/{assetId}/main", controllers.SetMainAsset(orchestrator, logg))
			})

			r.Get("/{listingId}/assets", controllers.ListGallery(orchestrator, logg))
		})

		r.Route("/assets", func(r chi.Router) {
			r.Get("/{assetId}", controllers.GetAsset(orchestrator, logg))
			r.Get("/{assetId}/metadata", controllers.GetVideoMetadata(orchestrator, scope, logg))

			r.Group(func(r chi.Router) {
				r.Use(middleware.RequireMediaMutation(logg))
				r.Post("/{assetId}/compress", controllers.CompressVideo(orchestrator, scope, logg))
				r.Post("/{assetId}/edit", controllers.EditImage(orchestrator, scope, logg))
				r.Post("/{assetId}/enhance", controllers.EnhanceImage(orchestrator, scope, logg))
				r.Post("/{assetId}/revert", controllers.RevertAsset(orchestrator, logg))
				r.Delete("/{assetId}", controllers.DeleteAsset(orchestrator, scope, logg))
			})
		})
	})

	return r
}

// A typed nil *redis.Client inside a non-nil interface would bypass the
// middleware pass-through checks, so the conversions stay explicit.
func idempotencyStore(client *redis.Client) redis.IdempotencyStore {
	if client == nil {
		return nil
	}
	return client
}

func rateLimiter(client *redis.Client) middleware.RateLimiterStore {
	if client == nil {
		return nil
	}
	return client
}

func cachePinger(client *redis.Client) redis.Pinger {
	if client == nil {
		return nil
	}
	return client
}
