package listings

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"unicode"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/estatelink/estatelink-backend/pkg/db"
	"github.com/estatelink/estatelink-backend/pkg/db/models"
	"github.com/estatelink/estatelink-backend/pkg/enums"
	pkgerrors "github.com/estatelink/estatelink-backend/pkg/errors"
	"github.com/estatelink/estatelink-backend/pkg/logger"
	"github.com/estatelink/estatelink-backend/pkg/pagination"
)

type assetCatalogue interface {
	ListByListing(ctx context.Context, listingID uuid.UUID) ([]models.Asset, error)
	Delete(ctx context.Context, scope string, assetID uuid.UUID) error
}

// CreateInput holds the validated payload to create a listing.
type CreateInput struct {
	Title      string
	Address    string
	City       string
	PriceCents int64
}

// UpdateInput holds optional mutation values for a listing.
type UpdateInput struct {
	Title      *string
	Address    *string
	City       *string
	PriceCents *int64
	Status     *enums.ListingStatus
}

// ListResult is one page of listings plus the cursor for the next page.
type ListResult struct {
	Listings   []models.Listing
	NextCursor string
}

// Service exposes listing management operations.
type Service interface {
	Create(ctx context.Context, input CreateInput) (*models.Listing, error)
	Get(ctx context.Context, id uuid.UUID) (*models.Listing, []models.Asset, error)
	List(ctx context.Context, params pagination.Params) (*ListResult, error)
	Update(ctx context.Context, id uuid.UUID, input UpdateInput) (*models.Listing, error)
	Delete(ctx context.Context, scope string, id uuid.UUID) error
	Exists(ctx context.Context, id uuid.UUID) (bool, error)
}

type service struct {
	dbClient *db.Client
	repo     *Repository
	assets   assetCatalogue
	logg     *logger.Logger
}

// NewService constructs the listing service.
func NewService(dbClient *db.Client, repo *Repository, assets assetCatalogue, logg *logger.Logger) (Service, error) {
	if dbClient == nil {
		return nil, fmt.Errorf("db client required")
	}
	if repo == nil {
		return nil, fmt.Errorf("listing repository required")
	}
	if assets == nil {
		return nil, fmt.Errorf("asset catalogue required")
	}
	if logg == nil {
		return nil, fmt.Errorf("logger required")
	}
	return &service{dbClient: dbClient, repo: repo, assets: assets, logg: logg}, nil
}

func (s *service) Create(ctx context.Context, input CreateInput) (*models.Listing, error) {
	title := strings.TrimSpace(input.Title)
	if title == "" {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "title is required")
	}
	if input.PriceCents < 0 {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "price cannot be negative")
	}

	listing := &models.Listing{
		ID:         uuid.New(),
		Title:      title,
		Slug:       slugify(title),
		Address:    strings.TrimSpace(input.Address),
		City:       strings.TrimSpace(input.City),
		PriceCents: input.PriceCents,
		Status:     enums.ListingStatusDraft,
	}

	created, err := s.repo.Create(ctx, listing)
	if db.IsUniqueViolation(err, "slug") {
		// Same title exists; retry once with a discriminator.
		listing.Slug = listing.Slug + "-" + strings.Split(uuid.NewString(), "-")[0]
		created, err = s.repo.Create(ctx, listing)
	}
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "creating listing")
	}
	return created, nil
}

func (s *service) Get(ctx context.Context, id uuid.UUID) (*models.Listing, []models.Asset, error) {
	listing, err := s.repo.FindByID(ctx, id)
	if err != nil {
		return nil, nil, mapLookupErr(err)
	}
	gallery, err := s.assets.ListByListing(ctx, id)
	if err != nil {
		return nil, nil, err
	}
	return listing, gallery, nil
}

func (s *service) Exists(ctx context.Context, id uuid.UUID) (bool, error) {
	return s.repo.Exists(ctx, id)
}

func (s *service) List(ctx context.Context, params pagination.Params) (*ListResult, error) {
	cursor, err := pagination.ParseCursor(params.Cursor)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeValidation, err, "invalid cursor")
	}
	limit := pagination.NormalizeLimit(params.Limit)

	rows, err := s.repo.List(ctx, cursor, pagination.LimitWithBuffer(params.Limit))
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "listing listings")
	}

	result := &ListResult{Listings: rows}
	if len(rows) > limit {
		result.Listings = rows[:limit]
		last := result.Listings[limit-1]
		result.NextCursor = pagination.EncodeCursor(pagination.Cursor{
			CreatedAt: last.CreatedAt,
			ID:        last.ID,
		})
	}
	return result, nil
}

func (s *service) Update(ctx context.Context, id uuid.UUID, input UpdateInput) (*models.Listing, error) {
	listing, err := s.repo.FindByID(ctx, id)
	if err != nil {
		return nil, mapLookupErr(err)
	}

	if input.Title != nil {
		title := strings.TrimSpace(*input.Title)
		if title == "" {
			return nil, pkgerrors.New(pkgerrors.CodeValidation, "title cannot be empty")
		}
		listing.Title = title
	}
	if input.Address != nil {
		listing.Address = strings.TrimSpace(*input.Address)
	}
	if input.City != nil {
		listing.City = strings.TrimSpace(*input.City)
	}
	if input.PriceCents != nil {
		if *input.PriceCents < 0 {
			return nil, pkgerrors.New(pkgerrors.CodeValidation, "price cannot be negative")
		}
		listing.PriceCents = *input.PriceCents
	}
	if input.Status != nil {
		if !input.Status.IsValid() {
			return nil, pkgerrors.New(pkgerrors.CodeValidation, fmt.Sprintf("invalid status %q", *input.Status))
		}
		listing.Status = *input.Status
	}

	updated, err := s.repo.Update(ctx, listing)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "updating listing")
	}
	return updated, nil
}

// Delete removes a listing and every asset it owns. Asset removal runs first
// so object cleanup failures keep the listing around for a retry.
func (s *service) Delete(ctx context.Context, scope string, id uuid.UUID) error {
	if _, err := s.repo.FindByID(ctx, id); err != nil {
		return mapLookupErr(err)
	}

	gallery, err := s.assets.ListByListing(ctx, id)
	if err != nil {
		return err
	}
	for _, asset := range gallery {
		if err := s.assets.Delete(ctx, scope, asset.ID); err != nil {
			return err
		}
	}

	if err := s.repo.Delete(ctx, id); err != nil {
		return pkgerrors.Wrap(pkgerrors.CodeInternal, err, "removing listing")
	}
	s.logg.Info(s.logg.WithListingID(ctx, id.String()), "listing deleted")
	return nil
}

func slugify(title string) string {
	var b strings.Builder
	b.Grow(len(title))
	lastDash := true
	for _, r := range strings.ToLower(title) {
		switch {
		case unicode.IsLetter(r) || unicode.IsDigit(r):
			b.WriteRune(r)
			lastDash = false
		case !lastDash:
			b.WriteRune('-')
			lastDash = true
		}
	}
	return strings.Trim(b.String(), "-")
}

func mapLookupErr(err error) error {
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return pkgerrors.New(pkgerrors.CodeNotFound, "listing not found")
	}
	return pkgerrors.Wrap(pkgerrors.CodeInternal, err, "loading listing")
}
