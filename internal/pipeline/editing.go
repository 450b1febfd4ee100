package pipeline

import (
	"bytes"
	"context"
	"fmt"
	"image"
	"strings"

	"github.com/disintegration/imaging"
	"github.com/google/uuid"

	"github.com/estatelink/estatelink-backend/internal/enhance"
	"github.com/estatelink/estatelink-backend/pkg/db/models"
	"github.com/estatelink/estatelink-backend/pkg/enums"
	pkgerrors "github.com/estatelink/estatelink-backend/pkg/errors"
	"github.com/estatelink/estatelink-backend/pkg/storagekey"
)

// CropSpec cuts a rectangle out of the source image.
type CropSpec struct {
	X      int `json:"x" validate:"min=0"`
	Y      int `json:"y" validate:"min=0"`
	Width  int `json:"width" validate:"required,min=1"`
	Height int `json:"height" validate:"required,min=1"`
}

// ResizeSpec scales the image. A zero width or height preserves aspect ratio.
type ResizeSpec struct {
	Width  int `json:"width" validate:"min=0"`
	Height int `json:"height" validate:"min=0"`
}

// RotateSpec turns the image clockwise by a quarter-turn multiple.
type RotateSpec struct {
	Degrees int `json:"degrees" validate:"required,oneof=90 180 270"`
}

// AdjustSpec tweaks tone; each value is a percentage offset in [-100, 100].
type AdjustSpec struct {
	Brightness float64 `json:"brightness" validate:"min=-100,max=100"`
	Contrast   float64 `json:"contrast" validate:"min=-100,max=100"`
	Saturation float64 `json:"saturation" validate:"min=-100,max=100"`
}

// EditOperation is a tagged union; only the field matching Kind is read.
type EditOperation struct {
	Kind   enums.EditOp `json:"kind"`
	Crop   *CropSpec    `json:"crop,omitempty"`
	Resize *ResizeSpec  `json:"resize,omitempty"`
	Rotate *RotateSpec  `json:"rotate,omitempty"`
	Adjust *AdjustSpec  `json:"adjust,omitempty"`
}

// EditImage applies one edit to an image asset, stores the result as a new
// edited variant and repoints the serving URL. The pristine upload is never
// touched.
func (o *Orchestrator) EditImage(ctx context.Context, scope string, assetID uuid.UUID, op EditOperation) (*AssetDescriptor, error) {
	var desc *AssetDescriptor
	err := o.instrument(ctx, "edit_image", 0, func(ctx context.Context) error {
		asset, current, err := o.loadCurrent(ctx, assetID, enums.AssetRoleImage)
		if err != nil {
			return err
		}
		o.metrics.AddBytesProcessed("edit_image", int64(len(current)))

		img, err := imaging.Decode(bytes.NewReader(current))
		if err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeProcessing, err, "decoding image")
		}

		edited, err := applyEdit(img, op)
		if err != nil {
			return err
		}

		encoded, contentType, err := o.encodeImage(edited, asset.MimeType)
		if err != nil {
			return err
		}

		url, err := o.putVariant(ctx, scope, asset, enums.VariantEdited, encoded, contentType)
		if err != nil {
			return err
		}

		updated, err := o.catalogue.ApplyEdit(ctx, assetID, url, asset.LockVersion)
		if err != nil {
			return err
		}
		desc = describe(updated)
		return nil
	})
	return desc, err
}

// EnhanceImage sends an image asset through the external enhancement service
// and records the result as a new ai-enhanced variant.
func (o *Orchestrator) EnhanceImage(ctx context.Context, scope string, assetID uuid.UUID, operations []string, styleRef string) (*AssetDescriptor, error) {
	if o.enhancer == nil {
		return nil, pkgerrors.New(pkgerrors.CodeDependency, "enhancement service is not configured")
	}

	var desc *AssetDescriptor
	err := o.instrument(ctx, "enhance_image", 0, func(ctx context.Context) error {
		asset, current, err := o.loadCurrent(ctx, assetID, enums.AssetRoleImage)
		if err != nil {
			return err
		}
		o.metrics.AddBytesProcessed("enhance_image", int64(len(current)))

		result, err := o.enhancer.Enhance(ctx, enhance.Request{
			Image:       current,
			ContentType: asset.MimeType,
			Operations:  operations,
			StyleRef:    styleRef,
		})
		if err != nil {
			return err
		}

		url, err := o.putVariant(ctx, scope, asset, enums.VariantAIEnhanced, result.Image, result.ContentType)
		if err != nil {
			return err
		}

		updated, err := o.catalogue.ApplyEdit(ctx, assetID, url, asset.LockVersion)
		if err != nil {
			return err
		}
		desc = describe(updated)
		return nil
	})
	return desc, err
}

// putVariant writes derived bytes under the given variant with a fresh
// version token in the filename so stale CDN caches never serve old edits.
func (o *Orchestrator) putVariant(ctx context.Context, scope string, asset *models.Asset, variant enums.VariantKind, data []byte, contentType string) (string, error) {
	filename := storagekey.GenerateVersionID() + "-" + asset.StoredFilename
	key, err := storagekey.Resolve(scope, asset.ListingID, variant, filename)
	if err != nil {
		return "", pkgerrors.Wrap(pkgerrors.CodeValidation, err, "resolving variant key")
	}
	url, err := o.store.Put(ctx, key, data, contentType)
	if err != nil {
		return "", pkgerrors.Wrap(pkgerrors.CodeStorage, err, "storing variant")
	}
	return url, nil
}

func (o *Orchestrator) encodeImage(img image.Image, mimeType string) ([]byte, string, error) {
	var buf bytes.Buffer
	if strings.EqualFold(mimeType, "image/png") {
		if err := imaging.Encode(&buf, img, imaging.PNG); err != nil {
			return nil, "", pkgerrors.Wrap(pkgerrors.CodeProcessing, err, "encoding png")
		}
		return buf.Bytes(), "image/png", nil
	}
	quality := o.media.ImageQuality
	if quality <= 0 || quality > 100 {
		quality = 85
	}
	if err := imaging.Encode(&buf, img, imaging.JPEG, imaging.JPEGQuality(quality)); err != nil {
		return nil, "", pkgerrors.Wrap(pkgerrors.CodeProcessing, err, "encoding jpeg")
	}
	return buf.Bytes(), "image/jpeg", nil
}

func applyEdit(img image.Image, op EditOperation) (image.Image, error) {
	switch op.Kind {
	case enums.EditOpCrop:
		if op.Crop == nil {
			return nil, pkgerrors.New(pkgerrors.CodeValidation, "crop parameters required")
		}
		return cropImage(img, *op.Crop)
	case enums.EditOpResize:
		if op.Resize == nil {
			return nil, pkgerrors.New(pkgerrors.CodeValidation, "resize parameters required")
		}
		if op.Resize.Width <= 0 && op.Resize.Height <= 0 {
			return nil, pkgerrors.New(pkgerrors.CodeValidation, "resize needs a width or a height")
		}
		return imaging.Resize(img, op.Resize.Width, op.Resize.Height, imaging.Lanczos), nil
	case enums.EditOpRotate:
		if op.Rotate == nil {
			return nil, pkgerrors.New(pkgerrors.CodeValidation, "rotate parameters required")
		}
		return rotateImage(img, op.Rotate.Degrees)
	case enums.EditOpAdjust:
		if op.Adjust == nil {
			return nil, pkgerrors.New(pkgerrors.CodeValidation, "adjust parameters required")
		}
		return adjustImage(img, *op.Adjust), nil
	default:
		return nil, pkgerrors.New(pkgerrors.CodeValidation, fmt.Sprintf("unsupported edit operation %q", op.Kind))
	}
}

func cropImage(img image.Image, spec CropSpec) (image.Image, error) {
	bounds := img.Bounds()
	rect := image.Rect(spec.X, spec.Y, spec.X+spec.Width, spec.Y+spec.Height)
	if !rect.In(bounds) {
		return nil, pkgerrors.New(pkgerrors.CodeValidation,
			fmt.Sprintf("crop %v exceeds image bounds %v", rect, bounds))
	}
	return imaging.Crop(img, rect), nil
}

func rotateImage(img image.Image, degrees int) (image.Image, error) {
	switch degrees {
	case 90:
		return imaging.Rotate270(img), nil
	case 180:
		return imaging.Rotate180(img), nil
	case 270:
		return imaging.Rotate90(img), nil
	default:
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "rotation must be 90, 180 or 270 degrees")
	}
}

func adjustImage(img image.Image, spec AdjustSpec) image.Image {
	out := img
	if spec.Brightness != 0 {
		out = imaging.AdjustBrightness(out, clampPercent(spec.Brightness))
	}
	if spec.Contrast != 0 {
		out = imaging.AdjustContrast(out, clampPercent(spec.Contrast))
	}
	if spec.Saturation != 0 {
		out = imaging.AdjustSaturation(out, clampPercent(spec.Saturation))
	}
	return out
}

func clampPercent(v float64) float64 {
	if v < -100 {
		return -100
	}
	if v > 100 {
		return 100
	}
	return v
}
