package catalog

import (
	"time"

	"gorm.io/datatypes"
)

const (
	BrandTypeFixed = "fixed"
	BrandTypeRange = "range"
)

type Brand struct {
	Code                string                     `gorm:"column:brand_code;primaryKey;size:64"`
	Name                string                     `gorm:"column:name;not null"`
	BrandType           string                     `gorm:"column:brand_type;not null"`
	VendorDiscountBps   int64                      `gorm:"column:vendor_discount_bps;not null;default:0"`
	CustomerDiscountBps *int64                     `gorm:"column:customer_discount_bps"`
	Enabled             bool                       `gorm:"column:enabled;not null"`
	Denominations       datatypes.JSONSlice[int64] `gorm:"column:denominations"`
	MinAmount           int64                      `gorm:"column:min_amount;not null;default:0"`
	MaxAmount           int64                      `gorm:"column:max_amount;not null;default:0"`
	Description         string                     `gorm:"column:description"`
	ImageURL            string                     `gorm:"column:image_url"`
	Terms               string                     `gorm:"column:terms"`
	Metadata            datatypes.JSON             `gorm:"column:metadata"`
	SyncedAt            time.Time                  `gorm:"column:synced_at"`
	CreatedAt           time.Time                  `gorm:"column:created_at"`
	UpdatedAt           time.Time                  `gorm:"column:updated_at"`
}

func (Brand) TableName() string {
	return "giftcard_brands"
}

// EffectiveDiscountBps is the operator override when set, otherwise the
// vendor default.
func (b *Brand) EffectiveDiscountBps() int64 {
	if b.CustomerDiscountBps != nil {
		return *b.CustomerDiscountBps
	}
	return b.VendorDiscountBps
}

type Store struct {
	BrandCode string    `gorm:"column:brand_code;primaryKey;size:64"`
	StoreCode string    `gorm:"column:store_code;primaryKey;size:64"`
	Name      string    `gorm:"column:name"`
	City      string    `gorm:"column:city"`
	Address   string    `gorm:"column:address"`
	SyncedAt  time.Time `gorm:"column:synced_at"`
}

func (Store) TableName() string {
	return "giftcard_stores"
}
