package assets

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"strings"

	"github.com/gabriel-vasile/mimetype"
	"github.com/google/uuid"
	"go.uber.org/multierr"
	"gorm.io/gorm"

	"github.com/estatelink/estatelink-backend/pkg/db"
	"github.com/estatelink/estatelink-backend/pkg/db/models"
	"github.com/estatelink/estatelink-backend/pkg/enums"
	pkgerrors "github.com/estatelink/estatelink-backend/pkg/errors"
	"github.com/estatelink/estatelink-backend/pkg/logger"
	"github.com/estatelink/estatelink-backend/pkg/storage/gcs"
	"github.com/estatelink/estatelink-backend/pkg/storagekey"
)

type objectStore interface {
	Put(ctx context.Context, key string, data []byte, contentType string) (string, error)
	Delete(ctx context.Context, key string) error
	List(ctx context.Context, prefix string) ([]string, error)
	KeyForURL(rawURL string) (string, bool)
}

type listingReader interface {
	Exists(ctx context.Context, id uuid.UUID) (bool, error)
}

// UploadInput carries one incoming file.
type UploadInput struct {
	Filename string
	Data     []byte
	IsMain   bool
}

// Service exposes the asset catalogue operations.
type Service interface {
	Upload(ctx context.Context, scope string, listingID uuid.UUID, input UploadInput) (*models.Asset, error)
	Get(ctx context.Context, assetID uuid.UUID) (*models.Asset, error)
	ListByListing(ctx context.Context, listingID uuid.UUID) ([]models.Asset, error)
	ApplyEdit(ctx context.Context, assetID uuid.UUID, newURL string, expectedVersion int) (*models.Asset, error)
	Revert(ctx context.Context, assetID uuid.UUID) (*models.Asset, error)
	SetMain(ctx context.Context, listingID, assetID uuid.UUID) error
	Reorder(ctx context.Context, listingID uuid.UUID, orderedIDs []uuid.UUID) error
	Delete(ctx context.Context, scope string, assetID uuid.UUID) error
}

type service struct {
	dbClient       *db.Client
	repo           *Repository
	store          objectStore
	listings       listingReader
	logg           *logger.Logger
	maxUploadBytes int64
}

// NewService constructs the catalogue service.
func NewService(dbClient *db.Client, repo *Repository, store objectStore, listings listingReader, logg *logger.Logger, maxUploadBytes int64) (Service, error) {
	if dbClient == nil {
		return nil, fmt.Errorf("db client required")
	}
	if repo == nil {
		return nil, fmt.Errorf("asset repository required")
	}
	if store == nil {
		return nil, fmt.Errorf("object store required")
	}
	if listings == nil {
		return nil, fmt.Errorf("listing reader required")
	}
	if logg == nil {
		return nil, fmt.Errorf("logger required")
	}
	if maxUploadBytes <= 0 {
		return nil, fmt.Errorf("max upload size required")
	}
	return &service{
		dbClient:       dbClient,
		repo:           repo,
		store:          store,
		listings:       listings,
		logg:           logg,
		maxUploadBytes: maxUploadBytes,
	}, nil
}

func (s *service) Upload(ctx context.Context, scope string, listingID uuid.UUID, input UploadInput) (*models.Asset, error) {
	if len(input.Data) == 0 {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "file is empty")
	}
	if int64(len(input.Data)) > s.maxUploadBytes {
		return nil, pkgerrors.New(pkgerrors.CodeValidation,
			fmt.Sprintf("file exceeds the %d byte upload limit", s.maxUploadBytes))
	}

	exists, err := s.listings.Exists(ctx, listingID)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "checking listing")
	}
	if !exists {
		return nil, pkgerrors.New(pkgerrors.CodeNotFound, "listing not found")
	}

	sanitized := storagekey.SanitizeFilename(input.Filename)
	if sanitized == "" {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "filename is not usable")
	}

	detected := mimetype.Detect(input.Data)
	role, err := resolveRole(sanitized, detected)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeValidation, err, "unsupported media type")
	}

	storedFilename := storedName(sanitized)
	key, err := storagekey.Resolve(scope, listingID, enums.VariantOriginal, storedFilename)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeValidation, err, "resolving storage key")
	}

	url, err := s.store.Put(ctx, key, input.Data, detected.String())
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeStorage, err, "uploading object")
	}

	asset := &models.Asset{
		ID:               uuid.New(),
		ListingID:        listingID,
		StoredFilename:   storedFilename,
		OriginalFilename: input.Filename,
		CurrentURL:       url,
		Role:             role,
		MimeType:         detected.String(),
		SizeBytes:        int64(len(input.Data)),
		IsMain:           input.IsMain,
	}

	err = s.dbClient.WithTx(ctx, func(tx *gorm.DB) error {
		txRepo := s.repo.WithTx(tx)
		count, err := txRepo.CountByListing(ctx, listingID)
		if err != nil {
			return err
		}
		asset.SortOrder = int(count)
		if input.IsMain {
			if err := txRepo.ClearMain(ctx, listingID); err != nil {
				return err
			}
		}
		_, err = txRepo.Create(ctx, asset)
		return err
	})
	if err != nil {
		// The row never landed; remove the orphaned object.
		if delErr := s.store.Delete(context.WithoutCancel(ctx), key); delErr != nil && !errors.Is(delErr, gcs.ErrObjectNotFound) {
			s.logg.Warn(s.logg.WithAssetID(ctx, asset.ID.String()), "orphaned upload cleanup failed")
		}
		return nil, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "recording asset")
	}

	return asset, nil
}

func (s *service) Get(ctx context.Context, assetID uuid.UUID) (*models.Asset, error) {
	asset, err := s.repo.FindByID(ctx, assetID)
	if err != nil {
		return nil, mapLookupErr(err)
	}
	return asset, nil
}

func (s *service) ListByListing(ctx context.Context, listingID uuid.UUID) ([]models.Asset, error) {
	rows, err := s.repo.ListByListing(ctx, listingID)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "listing assets")
	}
	return rows, nil
}

// ApplyEdit repoints the serving URL at a freshly written variant. The first
// edit snapshots CurrentURL into OriginalURL before moving the pointer;
// later edits leave OriginalURL alone. expectedVersion is the lock version
// the caller observed when it read the bytes it edited; if the row has moved
// on since then the edit is rejected rather than overwriting the newer one.
func (s *service) ApplyEdit(ctx context.Context, assetID uuid.UUID, newURL string, expectedVersion int) (*models.Asset, error) {
	if newURL == "" {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "edited variant url required")
	}
	asset, err := s.repo.FindByID(ctx, assetID)
	if err != nil {
		return nil, mapLookupErr(err)
	}
	if asset.LockVersion != expectedVersion {
		return nil, pkgerrors.New(pkgerrors.CodeConcurrentModification, "asset changed, retry the operation")
	}

	if asset.OriginalURL == nil {
		preserved := asset.CurrentURL
		asset.OriginalURL = &preserved
	}
	asset.CurrentURL = newURL

	if err := s.repo.UpdateCurrent(ctx, asset); err != nil {
		return nil, mapUpdateErr(err)
	}
	return asset, nil
}

// Revert points the asset back at its pristine upload. Reverting an already
// reverted asset is a no-op, and OriginalURL survives so a later edit can be
// reverted again.
func (s *service) Revert(ctx context.Context, assetID uuid.UUID) (*models.Asset, error) {
	asset, err := s.repo.FindByID(ctx, assetID)
	if err != nil {
		return nil, mapLookupErr(err)
	}
	if asset.OriginalURL == nil {
		return nil, pkgerrors.New(pkgerrors.CodeNotRevertible, "asset has never been edited")
	}
	if asset.CurrentURL == *asset.OriginalURL {
		return asset, nil
	}

	asset.CurrentURL = *asset.OriginalURL
	if err := s.repo.UpdateCurrent(ctx, asset); err != nil {
		return nil, mapUpdateErr(err)
	}
	return asset, nil
}

// SetMain promotes one asset in a single transaction, clearing the previous
// main first so the uniqueness invariant holds at every commit point.
func (s *service) SetMain(ctx context.Context, listingID, assetID uuid.UUID) error {
	return s.dbClient.WithTx(ctx, func(tx *gorm.DB) error {
		txRepo := s.repo.WithTx(tx)
		asset, err := txRepo.FindByID(ctx, assetID)
		if err != nil {
			return mapLookupErr(err)
		}
		if asset.ListingID != listingID {
			return pkgerrors.New(pkgerrors.CodeValidation, "asset does not belong to this listing")
		}
		if err := txRepo.ClearMain(ctx, listingID); err != nil {
			return err
		}
		if err := txRepo.MarkMain(ctx, assetID, asset.LockVersion); err != nil {
			return mapUpdateErr(err)
		}
		return nil
	})
}

// Reorder rewrites the whole gallery order or none of it. The id list must be
// exactly the listing's asset set.
func (s *service) Reorder(ctx context.Context, listingID uuid.UUID, orderedIDs []uuid.UUID) error {
	existing, err := s.repo.ListIDs(ctx, listingID)
	if err != nil {
		return pkgerrors.Wrap(pkgerrors.CodeInternal, err, "loading asset ids")
	}
	if err := validateReorderSet(existing, orderedIDs); err != nil {
		return err
	}

	return s.dbClient.WithTx(ctx, func(tx *gorm.DB) error {
		txRepo := s.repo.WithTx(tx)
		for position, id := range orderedIDs {
			if err := txRepo.UpdateSortOrder(ctx, id, listingID, position); err != nil {
				return pkgerrors.Wrap(pkgerrors.CodeConflict, err, "asset set changed during reorder")
			}
		}
		return nil
	})
}

// Delete removes the catalogue row after a best-effort sweep of the asset's
// stored variants. Missing objects are fine; if the store was unreachable for
// every key the row is kept so a retry can finish the cleanup.
func (s *service) Delete(ctx context.Context, scope string, assetID uuid.UUID) error {
	asset, err := s.repo.FindByID(ctx, assetID)
	if err != nil {
		return mapLookupErr(err)
	}

	keys := variantObjectKeys(scope, asset, s.store.KeyForURL)
	seen := make(map[string]struct{}, len(keys))
	for _, key := range keys {
		seen[key] = struct{}{}
	}
	superseded, listErr := s.supersededVariantKeys(ctx, scope, asset)
	if listErr != nil {
		s.logg.Warn(s.logg.WithAssetID(ctx, assetID.String()), "superseded variant listing failed: "+listErr.Error())
	}
	for _, key := range superseded {
		if _, dup := seen[key]; !dup {
			seen[key] = struct{}{}
			keys = append(keys, key)
		}
	}

	var sweepErr error
	connectivityFailures := 0
	for _, key := range keys {
		err := s.store.Delete(ctx, key)
		switch {
		case err == nil:
		case errors.Is(err, gcs.ErrObjectNotFound):
		default:
			connectivityFailures++
			sweepErr = multierr.Append(sweepErr, err)
		}
	}
	if len(keys) > 0 && connectivityFailures == len(keys) {
		return pkgerrors.Wrap(pkgerrors.CodeStorage, sweepErr, "object store unreachable, asset kept")
	}
	if sweepErr != nil {
		s.logg.Warn(s.logg.WithAssetID(ctx, assetID.String()), "partial variant cleanup: "+sweepErr.Error())
	}

	if err := s.repo.Delete(ctx, assetID); err != nil {
		return pkgerrors.Wrap(pkgerrors.CodeInternal, err, "removing asset row")
	}
	return nil
}

// supersededVariantKeys lists version-tokened edit objects left behind by
// earlier edits. Variant filenames are always <token>-<storedFilename>, so
// the suffix match never catches another asset's objects.
func (s *service) supersededVariantKeys(ctx context.Context, scope string, asset *models.Asset) ([]string, error) {
	var keys []string
	var listErr error
	for _, variant := range []enums.VariantKind{enums.VariantEdited, enums.VariantAIEnhanced} {
		prefix, err := storagekey.VariantPrefix(scope, asset.ListingID, variant)
		if err != nil {
			listErr = multierr.Append(listErr, err)
			continue
		}
		found, err := s.store.List(ctx, prefix)
		if err != nil {
			listErr = multierr.Append(listErr, err)
			continue
		}
		for _, key := range found {
			if strings.HasSuffix(key, "-"+asset.StoredFilename) {
				keys = append(keys, key)
			}
		}
	}
	return keys, listErr
}

// variantObjectKeys enumerates every key the asset may occupy: the original,
// the derived variants with deterministic names, and whatever the serving
// pointers currently reference.
func variantObjectKeys(scope string, asset *models.Asset, keyForURL func(string) (string, bool)) []string {
	seen := map[string]struct{}{}
	var keys []string
	add := func(key string, err error) {
		if err != nil || key == "" {
			return
		}
		if _, dup := seen[key]; dup {
			return
		}
		seen[key] = struct{}{}
		keys = append(keys, key)
	}

	resolve := func(variant enums.VariantKind, filename string) {
		key, err := storagekey.Resolve(scope, asset.ListingID, variant, filename)
		add(key, err)
	}

	base := strings.TrimSuffix(asset.StoredFilename, filepath.Ext(asset.StoredFilename))
	resolve(enums.VariantOriginal, asset.StoredFilename)
	resolve(enums.VariantThumbnail, base+".jpg")
	for _, tier := range []enums.QualityTier{enums.QualityTierLow, enums.QualityTierMedium, enums.QualityTierHigh} {
		resolve(enums.CompressedVariant(tier), base+".mp4")
	}
	if key, ok := keyForURL(asset.CurrentURL); ok {
		add(key, nil)
	}
	if asset.OriginalURL != nil {
		if key, ok := keyForURL(*asset.OriginalURL); ok {
			add(key, nil)
		}
	}
	return keys
}

func validateReorderSet(existing, ordered []uuid.UUID) error {
	if len(ordered) != len(existing) {
		return pkgerrors.New(pkgerrors.CodeValidation,
			fmt.Sprintf("order must list all %d assets exactly once", len(existing)))
	}
	want := make(map[uuid.UUID]struct{}, len(existing))
	for _, id := range existing {
		want[id] = struct{}{}
	}
	for _, id := range ordered {
		if _, ok := want[id]; !ok {
			return pkgerrors.New(pkgerrors.CodeValidation,
				fmt.Sprintf("asset %s is not part of this listing or listed twice", id))
		}
		delete(want, id)
	}
	return nil
}

func resolveRole(filename string, detected *mimetype.MIME) (enums.AssetRole, error) {
	if role, err := enums.AssetRoleForFilename(filename); err == nil {
		return role, nil
	}
	mime := detected.String()
	switch {
	case strings.HasPrefix(mime, "image/"):
		return enums.AssetRoleImage, nil
	case strings.HasPrefix(mime, "video/"):
		return enums.AssetRoleVideo, nil
	case mime == "application/pdf":
		return enums.AssetRoleDocument, nil
	default:
		return "", fmt.Errorf("cannot classify %q (%s)", filename, mime)
	}
}

// storedName prefixes a short unique token so repeated uploads of the same
// filename never collide inside one listing.
func storedName(sanitized string) string {
	return strings.Split(uuid.NewString(), "-")[0] + "-" + sanitized
}

func mapLookupErr(err error) error {
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return pkgerrors.New(pkgerrors.CodeNotFound, "asset not found")
	}
	return pkgerrors.Wrap(pkgerrors.CodeInternal, err, "loading asset")
}

func mapUpdateErr(err error) error {
	if errors.Is(err, ErrStale) {
		return pkgerrors.Wrap(pkgerrors.CodeConcurrentModification, err, "asset changed, retry the operation")
	}
	return pkgerrors.Wrap(pkgerrors.CodeInternal, err, "updating asset")
}
