package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/frahmantamala/giftcard-fulfillment/internal/credential"
	credentialDatamodel "github.com/frahmantamala/giftcard-fulfillment/internal/core/datamodel/credential"
)

type CredentialRepository struct {
	db  *gorm.DB
	now func() time.Time
}

var _ credential.RepositoryAPI = (*CredentialRepository)(nil)

func NewCredentialRepository(db *gorm.DB) *CredentialRepository {
	return &CredentialRepository{db: db, now: time.Now}
}

func (r *CredentialRepository) Load(ctx context.Context, distributorID string) (*credentialDatamodel.VendorCredential, error) {
	var c credentialDatamodel.VendorCredential
	err := r.db.WithContext(ctx).Where("distributor_id = ?", distributorID).First(&c).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("load vendor credential: %w", err)
	}
	return &c, nil
}

// Save keeps exactly one row per distributor.
func (r *CredentialRepository) Save(ctx context.Context, c *credentialDatamodel.VendorCredential) error {
	now := r.now().UTC()
	if c.CreatedAt.IsZero() {
		c.CreatedAt = now
	}
	c.UpdatedAt = now
	err := r.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "distributor_id"}},
		DoUpdates: clause.AssignmentColumns([]string{"token_sealed", "token_plain", "expires_at", "issue_meta", "updated_at"}),
	}).Create(c).Error
	if err != nil {
		return fmt.Errorf("save vendor credential: %w", err)
	}
	return nil
}
