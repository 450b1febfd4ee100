package models

import (
	"time"

	"github.com/google/uuid"

	"github.com/estatelink/estatelink-backend/pkg/enums"
)

// Asset is one uploaded media item owned by a listing.
//
// CurrentURL always points at the bytes being served. OriginalURL is set the
// first time an edit replaces CurrentURL and is never overwritten afterwards,
// so it always resolves to the unmodified upload. LockVersion backs the
// optimistic checks on edit/revert/main-flag updates.
type Asset struct {
	ID               uuid.UUID       `gorm:"column:id;type:uuid;default:gen_random_uuid();primaryKey"`
	ListingID        uuid.UUID       `gorm:"column:listing_id;type:uuid;not null;index"`
	StoredFilename   string          `gorm:"column:stored_filename;not null"`
	OriginalFilename string          `gorm:"column:original_filename;not null"`
	CurrentURL       string          `gorm:"column:current_url;not null"`
	OriginalURL      *string         `gorm:"column:original_url"`
	Role             enums.AssetRole `gorm:"column:role;not null"`
	MimeType         string          `gorm:"column:mime_type;not null"`
	SizeBytes        int64           `gorm:"column:size_bytes;not null"`
	IsMain           bool            `gorm:"column:is_main;not null;default:false"`
	SortOrder        int             `gorm:"column:sort_order;not null;default:0"`
	LockVersion      int             `gorm:"column:lock_version;not null;default:0"`
	CreatedAt        time.Time       `gorm:"column:created_at;autoCreateTime"`
}
