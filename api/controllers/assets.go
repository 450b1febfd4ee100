package controllers

import (
	"io"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/estatelink/estatelink-backend/api/responses"
	"github.com/estatelink/estatelink-backend/api/validators"
	assetsvc "github.com/estatelink/estatelink-backend/internal/assets"
	"github.com/estatelink/estatelink-backend/internal/pipeline"
	"github.com/estatelink/estatelink-backend/pkg/enums"
	pkgerrors "github.com/estatelink/estatelink-backend/pkg/errors"
	"github.com/estatelink/estatelink-backend/pkg/logger"
)

// multipartMemoryBytes bounds the in-memory part of a multipart parse; larger
// files spill to temp files which Go removes after the request.
const multipartMemoryBytes = 32 << 20

type compressRequest struct {
	Tier          string `json:"tier,omitempty"`
	WithThumbnail bool   `json:"with_thumbnail,omitempty"`
}

type editRequest struct {
	Kind   string               `json:"kind" validate:"required"`
	Crop   *pipeline.CropSpec   `json:"crop,omitempty"`
	Resize *pipeline.ResizeSpec `json:"resize,omitempty"`
	Rotate *pipeline.RotateSpec `json:"rotate,omitempty"`
	Adjust *pipeline.AdjustSpec `json:"adjust,omitempty"`
}

type enhanceRequest struct {
	Operations []string `json:"operations" validate:"required,min=1,dive,required"`
	StyleRef   string   `json:"style_ref,omitempty"`
}

type reorderRequest struct {
	AssetIDs []string `json:"asset_ids" validate:"required,min=1,dive,required,uuid"`
}

// UploadMedia ingests a multipart file into a listing's gallery.
func UploadMedia(orc *pipeline.Orchestrator, scope string, maxUploadBytes int64, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if orc == nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeInternal, "media pipeline unavailable"))
			return
		}

		listingID, err := listingIDParam(r)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		r.Body = http.MaxBytesReader(w, r.Body, maxUploadBytes)
		if err := r.ParseMultipartForm(multipartMemoryBytes); err != nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.Wrap(pkgerrors.CodeValidation, err, "parsing multipart form"))
			return
		}
		defer func() {
			if r.MultipartForm != nil {
				_ = r.MultipartForm.RemoveAll()
			}
		}()

		file, header, err := r.FormFile("file")
		if err != nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeValidation, "file part is required"))
			return
		}
		defer file.Close()

		data, err := io.ReadAll(file)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.Wrap(pkgerrors.CodeValidation, err, "reading upload"))
			return
		}

		isMain := strings.EqualFold(r.FormValue("is_main"), "true")

		desc, err := orc.UploadMedia(r.Context(), scope, listingID, assetsvc.UploadInput{
			Filename: header.Filename,
			Data:     data,
			IsMain:   isMain,
		})
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		responses.WriteSuccessStatus(w, http.StatusCreated, desc)
	}
}

// ListGallery returns a listing's assets in gallery order.
func ListGallery(orc *pipeline.Orchestrator, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if orc == nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeInternal, "media pipeline unavailable"))
			return
		}

		listingID, err := listingIDParam(r)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		gallery, err := orc.ListGallery(r.Context(), listingID)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		responses.WriteSuccess(w, gallery)
	}
}

// GetAsset returns one asset descriptor.
func GetAsset(orc *pipeline.Orchestrator, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if orc == nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeInternal, "media pipeline unavailable"))
			return
		}

		assetID, err := assetIDParam(r)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		desc, err := orc.GetAsset(r.Context(), assetID)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		responses.WriteSuccess(w, desc)
	}
}

// CompressVideo re-encodes a video asset at the requested or recommended tier.
func CompressVideo(orc *pipeline.Orchestrator, scope string, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if orc == nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeInternal, "media pipeline unavailable"))
			return
		}

		assetID, err := assetIDParam(r)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		var payload compressRequest
		if err := validators.DecodeJSONBody(r, &payload); err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		var tier enums.QualityTier
		if trimmed := strings.TrimSpace(payload.Tier); trimmed != "" {
			parsed, parseErr := enums.ParseQualityTier(trimmed)
			if parseErr != nil {
				responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeValidation, "invalid tier"))
				return
			}
			tier = parsed
		}

		result, err := orc.CompressVideo(r.Context(), scope, assetID, tier, payload.WithThumbnail)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		responses.WriteSuccess(w, result)
	}
}

// GetVideoMetadata probes a video asset's streams.
func GetVideoMetadata(orc *pipeline.Orchestrator, scope string, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if orc == nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeInternal, "media pipeline unavailable"))
			return
		}

		assetID, err := assetIDParam(r)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		meta, err := orc.GetVideoMetadata(r.Context(), scope, assetID)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		responses.WriteSuccess(w, meta)
	}
}

// EditImage applies one edit operation to an image asset.
func EditImage(orc *pipeline.Orchestrator, scope string, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if orc == nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeInternal, "media pipeline unavailable"))
			return
		}

		assetID, err := assetIDParam(r)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		var payload editRequest
		if err := validators.DecodeJSONBody(r, &payload); err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		kind, err := enums.ParseEditOp(strings.TrimSpace(payload.Kind))
		if err != nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeValidation, "invalid edit kind"))
			return
		}

		desc, err := orc.EditImage(r.Context(), scope, assetID, pipeline.EditOperation{
			Kind:   kind,
			Crop:   payload.Crop,
			Resize: payload.Resize,
			Rotate: payload.Rotate,
			Adjust: payload.Adjust,
		})
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		responses.WriteSuccess(w, desc)
	}
}

// EnhanceImage runs the external enhancement service over an image asset.
func EnhanceImage(orc *pipeline.Orchestrator, scope string, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if orc == nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeInternal, "media pipeline unavailable"))
			return
		}

		assetID, err := assetIDParam(r)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		var payload enhanceRequest
		if err := validators.DecodeJSONBody(r, &payload); err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		desc, err := orc.EnhanceImage(r.Context(), scope, assetID, payload.Operations, payload.StyleRef)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		responses.WriteSuccess(w, desc)
	}
}

// RevertAsset repoints an asset's serving URL back to the pristine upload.
func RevertAsset(orc *pipeline.Orchestrator, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if orc == nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeInternal, "media pipeline unavailable"))
			return
		}

		assetID, err := assetIDParam(r)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		desc, err := orc.RevertToOriginal(r.Context(), assetID)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		responses.WriteSuccess(w, desc)
	}
}

// SetMainAsset flags one asset as the listing's cover.
func SetMainAsset(orc *pipeline.Orchestrator, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if orc == nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeInternal, "media pipeline unavailable"))
			return
		}

		listingID, err := listingIDParam(r)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		assetID, err := assetIDParam(r)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		if err := orc.SetMainAsset(r.Context(), listingID, assetID); err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		responses.WriteSuccess(w, map[string]string{"status": "main-updated"})
	}
}

// ReorderAssets rewrites a listing's gallery ordering in one transaction.
func ReorderAssets(orc *pipeline.Orchestrator, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if orc == nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeInternal, "media pipeline unavailable"))
			return
		}

		listingID, err := listingIDParam(r)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		var payload reorderRequest
		if err := validators.DecodeJSONBody(r, &payload); err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		ordered := make([]uuid.UUID, 0, len(payload.AssetIDs))
		for _, raw := range payload.AssetIDs {
			id, parseErr := uuid.Parse(raw)
			if parseErr != nil {
				responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeValidation, "invalid asset id in ordering"))
				return
			}
			ordered = append(ordered, id)
		}

		if err := orc.ReorderAssets(r.Context(), listingID, ordered); err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		responses.WriteSuccess(w, map[string]string{"status": "reordered"})
	}
}

// DeleteAsset removes an asset row and every stored variant.
func DeleteAsset(orc *pipeline.Orchestrator, scope string, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if orc == nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeInternal, "media pipeline unavailable"))
			return
		}

		assetID, err := assetIDParam(r)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		if err := orc.DeleteAsset(r.Context(), scope, assetID); err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		responses.WriteSuccess(w, map[string]string{"status": "deleted"})
	}
}

func assetIDParam(r *http.Request) (uuid.UUID, error) {
	raw := strings.TrimSpace(chi.URLParam(r, "assetId"))
	id, err := uuid.Parse(raw)
	if err != nil {
		return uuid.Nil, pkgerrors.Wrap(pkgerrors.CodeValidation, err, "invalid asset id")
	}
	return id, nil
}
