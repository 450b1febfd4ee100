package models

import (
	"time"

	"github.com/google/uuid"

	"github.com/estatelink/estatelink-backend/pkg/enums"
)

// Listing is a property record; it exclusively owns its assets.
type Listing struct {
	ID         uuid.UUID           `gorm:"column:id;type:uuid;default:gen_random_uuid();primaryKey"`
	Title      string              `gorm:"column:title;not null"`
	Slug       string              `gorm:"column:slug;not null;unique"`
	Address    string              `gorm:"column:address"`
	City       string              `gorm:"column:city"`
	PriceCents int64               `gorm:"column:price_cents;not null;default:0"`
	Status     enums.ListingStatus `gorm:"column:status;not null;default:draft"`
	CreatedAt  time.Time           `gorm:"column:created_at;autoCreateTime"`
	UpdatedAt  time.Time           `gorm:"column:updated_at;autoUpdateTime"`

	Assets []Asset `gorm:"foreignKey:ListingID;constraint:OnDelete:CASCADE"`
}
