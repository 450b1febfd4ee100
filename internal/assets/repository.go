package assets

import (
	"context"
	"errors"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/estatelink/estatelink-backend/pkg/db/models"
)

// ErrStale reports that an optimistic update matched no row because the
// asset's lock version moved underneath it.
var ErrStale = errors.New("asset was modified concurrently")

// Repository wires together asset persistence helpers.
type Repository struct {
	db *gorm.DB
}

// NewRepository builds a repository tied to the provided GORM DB.
func NewRepository(db *gorm.DB) *Repository {
	return &Repository{db: db}
}

// WithTx returns a repository bound to the provided transaction.
func (r *Repository) WithTx(tx *gorm.DB) *Repository {
	return &Repository{db: tx}
}

// Create inserts a new asset row.
func (r *Repository) Create(ctx context.Context, asset *models.Asset) (*models.Asset, error) {
	if err := r.db.WithContext(ctx).Create(asset).Error; err != nil {
		return nil, err
	}
	return asset, nil
}

// FindByID loads a single asset row.
func (r *Repository) FindByID(ctx context.Context, id uuid.UUID) (*models.Asset, error) {
	var asset models.Asset
	if err := r.db.WithContext(ctx).First(&asset, "id = ?", id).Error; err != nil {
		return nil, err
	}
	return &asset, nil
}

// FindByStoredFilename resolves the asset a storage key belongs to.
func (r *Repository) FindByStoredFilename(ctx context.Context, listingID uuid.UUID, storedFilename string) (*models.Asset, error) {
	var asset models.Asset
	if err := r.db.WithContext(ctx).
		First(&asset, "listing_id = ? AND stored_filename = ?", listingID, storedFilename).Error; err != nil {
		return nil, err
	}
	return &asset, nil
}

// ListByListing returns a listing's assets with the main asset first, then
// gallery order, then upload time.
func (r *Repository) ListByListing(ctx context.Context, listingID uuid.UUID) ([]models.Asset, error) {
	var rows []models.Asset
	if err := r.db.WithContext(ctx).
		Where("listing_id = ?", listingID).
		Order("is_main DESC, sort_order ASC, created_at ASC").
		Find(&rows).Error; err != nil {
		return nil, err
	}
	return rows, nil
}

// ListIDs returns the ids of all assets owned by the listing.
func (r *Repository) ListIDs(ctx context.Context, listingID uuid.UUID) ([]uuid.UUID, error) {
	var ids []uuid.UUID
	if err := r.db.WithContext(ctx).
		Model(&models.Asset{}).
		Where("listing_id = ?", listingID).
		Pluck("id", &ids).Error; err != nil {
		return nil, err
	}
	return ids, nil
}

// CountByListing returns how many assets the listing owns.
func (r *Repository) CountByListing(ctx context.Context, listingID uuid.UUID) (int64, error) {
	var count int64
	if err := r.db.WithContext(ctx).
		Model(&models.Asset{}).
		Where("listing_id = ?", listingID).
		Count(&count).Error; err != nil {
		return 0, err
	}
	return count, nil
}

// UpdateCurrent replaces the serving pointer guarded by the lock version read
// with the row. OriginalURL is written as passed; callers decide whether it
// stays untouched or gets its set-once value. Returns ErrStale when the row
// moved.
func (r *Repository) UpdateCurrent(ctx context.Context, asset *models.Asset) error {
	res := r.db.WithContext(ctx).
		Model(&models.Asset{}).
		Where("id = ? AND lock_version = ?", asset.ID, asset.LockVersion).
		Updates(map[string]any{
			"current_url":  asset.CurrentURL,
			"original_url": asset.OriginalURL,
			"lock_version": asset.LockVersion + 1,
		})
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return ErrStale
	}
	asset.LockVersion++
	return nil
}

// ClearMain unsets the main flag on every asset of the listing.
func (r *Repository) ClearMain(ctx context.Context, listingID uuid.UUID) error {
	return r.db.WithContext(ctx).
		Model(&models.Asset{}).
		Where("listing_id = ? AND is_main = ?", listingID, true).
		Update("is_main", false).Error
}

// MarkMain flags one asset as main, guarded by its lock version.
func (r *Repository) MarkMain(ctx context.Context, id uuid.UUID, lockVersion int) error {
	res := r.db.WithContext(ctx).
		Model(&models.Asset{}).
		Where("id = ? AND lock_version = ?", id, lockVersion).
		Updates(map[string]any{
			"is_main":      true,
			"lock_version": lockVersion + 1,
		})
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return ErrStale
	}
	return nil
}

// UpdateSortOrder writes one asset's gallery position.
func (r *Repository) UpdateSortOrder(ctx context.Context, id, listingID uuid.UUID, order int) error {
	res := r.db.WithContext(ctx).
		Model(&models.Asset{}).
		Where("id = ? AND listing_id = ?", id, listingID).
		Update("sort_order", order)
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return gorm.ErrRecordNotFound
	}
	return nil
}

// Delete removes the asset row.
func (r *Repository) Delete(ctx context.Context, id uuid.UUID) error {
	return r.db.WithContext(ctx).Delete(&models.Asset{}, "id = ?", id).Error
}
