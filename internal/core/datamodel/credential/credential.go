package credential

import (
	"time"

	"gorm.io/datatypes"
)

type VendorCredential struct {
	ID            int64          `gorm:"primaryKey"`
	DistributorID string         `gorm:"column:distributor_id;not null;uniqueIndex"`
	TokenSealed   string         `gorm:"column:token_sealed;not null"`
	TokenPlain    *string        `gorm:"column:token_plain"`
	ExpiresAt     time.Time      `gorm:"column:expires_at;not null"`
	IssueMeta     datatypes.JSON `gorm:"column:issue_meta"`
	CreatedAt     time.Time      `gorm:"column:created_at"`
	UpdatedAt     time.Time      `gorm:"column:updated_at"`
}

func (VendorCredential) TableName() string {
	return "vendor_credentials"
}
