// Package pipeline composes the transcoder, object store, path resolution and
// the asset catalogue into the media operations the API exposes.
package pipeline

import (
	"context"
	"fmt"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/estatelink/estatelink-backend/internal/assets"
	"github.com/estatelink/estatelink-backend/internal/enhance"
	"github.com/estatelink/estatelink-backend/internal/transcode"
	"github.com/estatelink/estatelink-backend/pkg/config"
	"github.com/estatelink/estatelink-backend/pkg/db/models"
	"github.com/estatelink/estatelink-backend/pkg/enums"
	pkgerrors "github.com/estatelink/estatelink-backend/pkg/errors"
	"github.com/estatelink/estatelink-backend/pkg/logger"
	"github.com/estatelink/estatelink-backend/pkg/metrics"
	"github.com/estatelink/estatelink-backend/pkg/storagekey"
)

type transcoder interface {
	Probe(ctx context.Context, buf []byte) (*transcode.Metadata, error)
	ExtractThumbnail(ctx context.Context, buf []byte, at time.Duration, width, height, quality int) ([]byte, error)
	Compress(ctx context.Context, buf []byte, tier enums.QualityTier) ([]byte, error)
}

type objectStore interface {
	Put(ctx context.Context, key string, data []byte, contentType string) (string, error)
	Get(ctx context.Context, key string) ([]byte, error)
	KeyForURL(rawURL string) (string, bool)
}

type catalogue interface {
	Upload(ctx context.Context, scope string, listingID uuid.UUID, input assets.UploadInput) (*models.Asset, error)
	Get(ctx context.Context, assetID uuid.UUID) (*models.Asset, error)
	ListByListing(ctx context.Context, listingID uuid.UUID) ([]models.Asset, error)
	ApplyEdit(ctx context.Context, assetID uuid.UUID, newURL string, expectedVersion int) (*models.Asset, error)
	Revert(ctx context.Context, assetID uuid.UUID) (*models.Asset, error)
	SetMain(ctx context.Context, listingID, assetID uuid.UUID) error
	Reorder(ctx context.Context, listingID uuid.UUID, orderedIDs []uuid.UUID) error
	Delete(ctx context.Context, scope string, assetID uuid.UUID) error
}

type enhancer interface {
	Enhance(ctx context.Context, req enhance.Request) (*enhance.Result, error)
}

// AssetDescriptor is the pipeline's view of a catalogue row.
type AssetDescriptor struct {
	ID               uuid.UUID       `json:"id"`
	ListingID        uuid.UUID       `json:"listingId"`
	OriginalFilename string          `json:"originalFilename"`
	CurrentURL       string          `json:"currentUrl"`
	OriginalURL      *string         `json:"originalUrl,omitempty"`
	Role             enums.AssetRole `json:"role"`
	MimeType         string          `json:"mimeType"`
	SizeBytes        int64           `json:"sizeBytes"`
	IsMain           bool            `json:"isMain"`
	SortOrder        int             `json:"sortOrder"`
}

// CompressResult reports one compression run. ThumbnailErr carries a message
// instead of failing the run when only the thumbnail could not be made.
type CompressResult struct {
	Tier          enums.QualityTier `json:"tier"`
	CompressedURL string            `json:"compressedUrl"`
	ThumbnailURL  string            `json:"thumbnailUrl,omitempty"`
	ThumbnailErr  string            `json:"thumbnailError,omitempty"`
	Ratio         float64           `json:"ratio"`
}

// Orchestrator runs the media derivation flows.
type Orchestrator struct {
	transcoder transcoder
	store      objectStore
	catalogue  catalogue
	enhancer   enhancer
	metrics    *metrics.PipelineMetrics
	logg       *logger.Logger
	media      config.MediaConfig
}

// NewOrchestrator wires the pipeline. The enhancer may be nil when no
// enhancement service is configured.
func NewOrchestrator(
	tc transcoder,
	store objectStore,
	cat catalogue,
	enh enhancer,
	pm *metrics.PipelineMetrics,
	logg *logger.Logger,
	media config.MediaConfig,
) (*Orchestrator, error) {
	if tc == nil {
		return nil, fmt.Errorf("transcoder required")
	}
	if store == nil {
		return nil, fmt.Errorf("object store required")
	}
	if cat == nil {
		return nil, fmt.Errorf("asset catalogue required")
	}
	if logg == nil {
		return nil, fmt.Errorf("logger required")
	}
	return &Orchestrator{
		transcoder: tc,
		store:      store,
		catalogue:  cat,
		enhancer:   enh,
		metrics:    pm,
		logg:       logg,
		media:      media,
	}, nil
}

// UploadMedia ingests one file into a listing's gallery.
func (o *Orchestrator) UploadMedia(ctx context.Context, scope string, listingID uuid.UUID, input assets.UploadInput) (*AssetDescriptor, error) {
	var desc *AssetDescriptor
	err := o.instrument(ctx, "upload_media", int64(len(input.Data)), func(ctx context.Context) error {
		asset, err := o.catalogue.Upload(ctx, scope, listingID, input)
		if err != nil {
			return err
		}
		desc = describe(asset)
		return nil
	})
	return desc, err
}

// CompressVideo re-encodes a video asset. An empty tier picks one from the
// source size. The thumbnail is best-effort when requested.
func (o *Orchestrator) CompressVideo(ctx context.Context, scope string, assetID uuid.UUID, tier enums.QualityTier, withThumbnail bool) (*CompressResult, error) {
	var result *CompressResult
	err := o.instrument(ctx, "compress_video", 0, func(ctx context.Context) error {
		asset, source, err := o.loadSource(ctx, scope, assetID, enums.AssetRoleVideo)
		if err != nil {
			return err
		}
		o.metrics.AddBytesProcessed("compress_video", int64(len(source)))

		if tier == "" {
			tier = transcode.RecommendTier(int64(len(source)))
		} else if !tier.IsValid() {
			return pkgerrors.New(pkgerrors.CodeValidation, fmt.Sprintf("invalid quality tier %q", tier))
		}

		compressed, err := o.transcoder.Compress(ctx, source, tier)
		if err != nil {
			return err
		}

		base := trimExt(asset.StoredFilename)
		key, err := storagekey.Resolve(scope, asset.ListingID, enums.CompressedVariant(tier), base+".mp4")
		if err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeValidation, err, "resolving compressed key")
		}
		url, err := o.store.Put(ctx, key, compressed, "video/mp4")
		if err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeStorage, err, "storing compressed video")
		}

		result = &CompressResult{
			Tier:          tier,
			CompressedURL: url,
			Ratio:         float64(len(compressed)) / float64(len(source)),
		}
		o.metrics.ObserveCompressionRatio(result.Ratio)

		if withThumbnail {
			thumbURL, thumbErr := o.writeThumbnail(ctx, scope, asset, source)
			if thumbErr != nil {
				result.ThumbnailErr = thumbErr.Error()
				o.logg.Warn(o.logg.WithAssetID(ctx, assetID.String()), "thumbnail generation failed: "+thumbErr.Error())
			} else {
				result.ThumbnailURL = thumbURL
			}
		}
		return nil
	})
	return result, err
}

// GetVideoMetadata probes a stored video asset.
func (o *Orchestrator) GetVideoMetadata(ctx context.Context, scope string, assetID uuid.UUID) (*transcode.Metadata, error) {
	var meta *transcode.Metadata
	err := o.instrument(ctx, "get_video_metadata", 0, func(ctx context.Context) error {
		_, source, err := o.loadSource(ctx, scope, assetID, enums.AssetRoleVideo)
		if err != nil {
			return err
		}
		meta, err = o.transcoder.Probe(ctx, source)
		return err
	})
	return meta, err
}

// RevertToOriginal points the asset back at its pristine upload.
func (o *Orchestrator) RevertToOriginal(ctx context.Context, assetID uuid.UUID) (*AssetDescriptor, error) {
	var desc *AssetDescriptor
	err := o.instrument(ctx, "revert_to_original", 0, func(ctx context.Context) error {
		asset, err := o.catalogue.Revert(ctx, assetID)
		if err != nil {
			return err
		}
		desc = describe(asset)
		return nil
	})
	return desc, err
}

// SetMainAsset promotes one asset to the listing's main slot.
func (o *Orchestrator) SetMainAsset(ctx context.Context, listingID, assetID uuid.UUID) error {
	return o.instrument(ctx, "set_main_asset", 0, func(ctx context.Context) error {
		return o.catalogue.SetMain(ctx, listingID, assetID)
	})
}

// ReorderAssets rewrites a listing's gallery order.
func (o *Orchestrator) ReorderAssets(ctx context.Context, listingID uuid.UUID, orderedIDs []uuid.UUID) error {
	return o.instrument(ctx, "reorder_assets", 0, func(ctx context.Context) error {
		return o.catalogue.Reorder(ctx, listingID, orderedIDs)
	})
}

// DeleteAsset removes an asset and its stored variants.
func (o *Orchestrator) DeleteAsset(ctx context.Context, scope string, assetID uuid.UUID) error {
	return o.instrument(ctx, "delete_asset", 0, func(ctx context.Context) error {
		return o.catalogue.Delete(ctx, scope, assetID)
	})
}

// ListGallery returns a listing's assets in display order.
func (o *Orchestrator) ListGallery(ctx context.Context, listingID uuid.UUID) ([]AssetDescriptor, error) {
	rows, err := o.catalogue.ListByListing(ctx, listingID)
	if err != nil {
		return nil, err
	}
	out := make([]AssetDescriptor, 0, len(rows))
	for i := range rows {
		out = append(out, *describe(&rows[i]))
	}
	return out, nil
}

// GetAsset loads one asset descriptor.
func (o *Orchestrator) GetAsset(ctx context.Context, assetID uuid.UUID) (*AssetDescriptor, error) {
	asset, err := o.catalogue.Get(ctx, assetID)
	if err != nil {
		return nil, err
	}
	return describe(asset), nil
}

func (o *Orchestrator) writeThumbnail(ctx context.Context, scope string, asset *models.Asset, source []byte) (string, error) {
	thumb, err := o.transcoder.ExtractThumbnail(
		ctx,
		source,
		time.Duration(o.media.ThumbnailAtSec)*time.Second,
		o.media.ThumbnailWidth,
		o.media.ThumbnailHeight,
		o.media.ThumbnailQuality,
	)
	if err != nil {
		return "", err
	}
	key, err := storagekey.Resolve(scope, asset.ListingID, enums.VariantThumbnail, trimExt(asset.StoredFilename)+".jpg")
	if err != nil {
		return "", err
	}
	url, err := o.store.Put(ctx, key, thumb, "image/jpeg")
	if err != nil {
		return "", pkgerrors.Wrap(pkgerrors.CodeStorage, err, "storing thumbnail")
	}
	return url, nil
}

// loadSource fetches the asset row and the bytes of its pristine upload.
func (o *Orchestrator) loadSource(ctx context.Context, scope string, assetID uuid.UUID, wantRole enums.AssetRole) (*models.Asset, []byte, error) {
	asset, err := o.catalogue.Get(ctx, assetID)
	if err != nil {
		return nil, nil, err
	}
	if asset.Role != wantRole {
		return nil, nil, pkgerrors.New(pkgerrors.CodeValidation,
			fmt.Sprintf("asset is %s, expected %s", asset.Role, wantRole))
	}

	key, err := storagekey.Resolve(scope, asset.ListingID, enums.VariantOriginal, asset.StoredFilename)
	if err != nil {
		return nil, nil, pkgerrors.Wrap(pkgerrors.CodeValidation, err, "resolving original key")
	}
	source, err := o.store.Get(ctx, key)
	if err != nil {
		return nil, nil, pkgerrors.Wrap(pkgerrors.CodeStorage, err, "fetching source object")
	}
	return asset, source, nil
}

// loadCurrent fetches the asset row and the bytes currently being served.
func (o *Orchestrator) loadCurrent(ctx context.Context, assetID uuid.UUID, wantRole enums.AssetRole) (*models.Asset, []byte, error) {
	asset, err := o.catalogue.Get(ctx, assetID)
	if err != nil {
		return nil, nil, err
	}
	if asset.Role != wantRole {
		return nil, nil, pkgerrors.New(pkgerrors.CodeValidation,
			fmt.Sprintf("asset is %s, expected %s", asset.Role, wantRole))
	}
	key, ok := o.store.KeyForURL(asset.CurrentURL)
	if !ok {
		return nil, nil, pkgerrors.New(pkgerrors.CodeInternal, "serving url does not map to a stored object")
	}
	current, err := o.store.Get(ctx, key)
	if err != nil {
		return nil, nil, pkgerrors.Wrap(pkgerrors.CodeStorage, err, "fetching current object")
	}
	return asset, current, nil
}

func (o *Orchestrator) instrument(ctx context.Context, operation string, payloadBytes int64, fn func(context.Context) error) error {
	start := time.Now()
	err := fn(ctx)
	o.metrics.ObserveDuration(operation, time.Since(start))
	if err != nil {
		o.metrics.IncFailure(operation)
		return err
	}
	o.metrics.IncSuccess(operation)
	o.metrics.AddBytesProcessed(operation, payloadBytes)
	return nil
}

func describe(asset *models.Asset) *AssetDescriptor {
	return &AssetDescriptor{
		ID:               asset.ID,
		ListingID:        asset.ListingID,
		OriginalFilename: asset.OriginalFilename,
		CurrentURL:       asset.CurrentURL,
		OriginalURL:      asset.OriginalURL,
		Role:             asset.Role,
		MimeType:         asset.MimeType,
		SizeBytes:        asset.SizeBytes,
		IsMain:           asset.IsMain,
		SortOrder:        asset.SortOrder,
	}
}

func trimExt(name string) string {
	return strings.TrimSuffix(name, filepath.Ext(name))
}
