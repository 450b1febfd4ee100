package controllers

import (
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/estatelink/estatelink-backend/api/responses"
	"github.com/estatelink/estatelink-backend/api/validators"
	listingsvc "github.com/estatelink/estatelink-backend/internal/listings"
	"github.com/estatelink/estatelink-backend/pkg/db/models"
	"github.com/estatelink/estatelink-backend/pkg/enums"
	pkgerrors "github.com/estatelink/estatelink-backend/pkg/errors"
	"github.com/estatelink/estatelink-backend/pkg/logger"
	"github.com/estatelink/estatelink-backend/pkg/pagination"
)

type createListingRequest struct {
	Title      string `json:"title" validate:"required,max=200"`
	Address    string `json:"address" validate:"max=300"`
	City       string `json:"city" validate:"max=120"`
	PriceCents int64  `json:"price_cents" validate:"min=0"`
}

type updateListingRequest struct {
	Title      *string `json:"title,omitempty" validate:"omitempty,max=200"`
	Address    *string `json:"address,omitempty" validate:"omitempty,max=300"`
	City       *string `json:"city,omitempty" validate:"omitempty,max=120"`
	PriceCents *int64  `json:"price_cents,omitempty" validate:"omitempty,min=0"`
	Status     *string `json:"status,omitempty"`
}

type listingWithGallery struct {
	Listing *models.Listing `json:"listing"`
	Assets  []models.Asset  `json:"assets"`
}

type listingPage struct {
	Listings   []models.Listing `json:"listings"`
	NextCursor string           `json:"next_cursor,omitempty"`
}

// CreateListing handles new listing creation.
func CreateListing(svc listingsvc.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if svc == nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeInternal, "listing service unavailable"))
			return
		}

		var payload createListingRequest
		if err := validators.DecodeJSONBody(r, &payload); err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		listing, err := svc.Create(r.Context(), listingsvc.CreateInput{
			Title:      validators.SanitizeString(payload.Title, 200),
			Address:    validators.SanitizeString(payload.Address, 300),
			City:       validators.SanitizeString(payload.City, 120),
			PriceCents: payload.PriceCents,
		})
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		responses.WriteSuccessStatus(w, http.StatusCreated, listing)
	}
}

// GetListing returns one listing with its gallery.
func GetListing(svc listingsvc.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if svc == nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeInternal, "listing service unavailable"))
			return
		}

		id, err := listingIDParam(r)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		listing, gallery, err := svc.Get(r.Context(), id)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		responses.WriteSuccess(w, listingWithGallery{Listing: listing, Assets: gallery})
	}
}

// ListListings returns a cursor page of listings.
func ListListings(svc listingsvc.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if svc == nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeInternal, "listing service unavailable"))
			return
		}

		limit, err := validators.ParseQueryInt(r, "limit", pagination.DefaultLimit, 1, pagination.MaxLimit)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		result, err := svc.List(r.Context(), pagination.Params{
			Limit:  limit,
			Cursor: strings.TrimSpace(r.URL.Query().Get("cursor")),
		})
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		responses.WriteSuccess(w, listingPage{Listings: result.Listings, NextCursor: result.NextCursor})
	}
}

// UpdateListing applies a partial update to a listing.
func UpdateListing(svc listingsvc.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if svc == nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeInternal, "listing service unavailable"))
			return
		}

		id, err := listingIDParam(r)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		var payload updateListingRequest
		if err := validators.DecodeJSONBody(r, &payload); err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		input := listingsvc.UpdateInput{
			Title:      sanitized(payload.Title, 200),
			Address:    sanitized(payload.Address, 300),
			City:       sanitized(payload.City, 120),
			PriceCents: payload.PriceCents,
		}
		if payload.Status != nil {
			status, parseErr := enums.ParseListingStatus(strings.TrimSpace(*payload.Status))
			if parseErr != nil {
				responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeValidation, "invalid status"))
				return
			}
			input.Status = &status
		}

		listing, err := svc.Update(r.Context(), id, input)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		responses.WriteSuccess(w, listing)
	}
}

// DeleteListing removes a listing, its assets and their stored variants.
func DeleteListing(svc listingsvc.Service, scope string, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if svc == nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeInternal, "listing service unavailable"))
			return
		}

		id, err := listingIDParam(r)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		if err := svc.Delete(r.Context(), scope, id); err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		responses.WriteSuccess(w, map[string]string{"status": "deleted"})
	}
}

func sanitized(value *string, maxLen int) *string {
	if value == nil {
		return nil
	}
	clean := validators.SanitizeString(*value, maxLen)
	return &clean
}

func listingIDParam(r *http.Request) (uuid.UUID, error) {
	raw := strings.TrimSpace(chi.URLParam(r, "listingId"))
	id, err := uuid.Parse(raw)
	if err != nil {
		return uuid.Nil, pkgerrors.Wrap(pkgerrors.CodeValidation, err, "invalid listing id")
	}
	return id, nil
}
