package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/frahmantamala/giftcard-fulfillment/internal"
	"github.com/frahmantamala/giftcard-fulfillment/internal/catalog"
	catalogDatamodel "github.com/frahmantamala/giftcard-fulfillment/internal/core/datamodel/catalog"
)

// vendorColumns are the brand columns a sync may overwrite.
var vendorColumns = []string{
	"name", "brand_type", "vendor_discount_bps", "enabled", "denominations",
	"min_amount", "max_amount", "description", "image_url", "terms",
	"metadata", "synced_at", "updated_at",
}

type BrandRepository struct {
	db  *gorm.DB
	now func() time.Time
}

var _ catalog.RepositoryAPI = (*BrandRepository)(nil)

func NewBrandRepository(db *gorm.DB) *BrandRepository {
	return &BrandRepository{db: db, now: time.Now}
}

func (r *BrandRepository) UpsertBrands(ctx context.Context, brands []catalogDatamodel.Brand) error {
	if len(brands) == 0 {
		return nil
	}
	now := r.now().UTC()
	for i := range brands {
		brands[i].CustomerDiscountBps = nil
		brands[i].CreatedAt = now
		brands[i].UpdatedAt = now
	}
	err := r.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "brand_code"}},
		DoUpdates: clause.AssignmentColumns(vendorColumns),
	}).CreateInBatches(brands, 200).Error
	if err != nil {
		return fmt.Errorf("upsert brands: %w", err)
	}
	return nil
}

func (r *BrandRepository) UpsertStores(ctx context.Context, stores []catalogDatamodel.Store) error {
	if len(stores) == 0 {
		return nil
	}
	err := r.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "brand_code"}, {Name: "store_code"}},
		DoUpdates: clause.AssignmentColumns([]string{"name", "city", "address", "synced_at"}),
	}).CreateInBatches(stores, 500).Error
	if err != nil {
		return fmt.Errorf("upsert stores: %w", err)
	}
	return nil
}

func (r *BrandRepository) ListBrands(ctx context.Context, enabledOnly bool) ([]catalogDatamodel.Brand, error) {
	var brands []catalogDatamodel.Brand
	q := r.db.WithContext(ctx).Order("name ASC")
	if enabledOnly {
		q = q.Where("enabled = ?", true)
	}
	if err := q.Find(&brands).Error; err != nil {
		return nil, fmt.Errorf("list brands: %w", err)
	}
	return brands, nil
}

func (r *BrandRepository) GetBrand(ctx context.Context, code string) (*catalogDatamodel.Brand, error) {
	var b catalogDatamodel.Brand
	err := r.db.WithContext(ctx).Where("brand_code = ?", code).First(&b).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, internal.ErrBrandNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get brand: %w", err)
	}
	return &b, nil
}

func (r *BrandRepository) SetCustomerDiscount(ctx context.Context, code string, bps *int64) error {
	var value any = gorm.Expr("NULL")
	if bps != nil {
		value = *bps
	}
	res := r.db.WithContext(ctx).Model(&catalogDatamodel.Brand{}).
		Where("brand_code = ?", code).
		Updates(map[string]any{"customer_discount_bps": value, "updated_at": r.now().UTC()})
	if res.Error != nil {
		return fmt.Errorf("set customer discount: %w", res.Error)
	}
	if res.RowsAffected == 0 {
		return internal.ErrBrandNotFound
	}
	return nil
}

func (r *BrandRepository) ListStores(ctx context.Context, brandCode string) ([]catalogDatamodel.Store, error) {
	var stores []catalogDatamodel.Store
	if err := r.db.WithContext(ctx).Where("brand_code = ?", brandCode).Order("name ASC").Find(&stores).Error; err != nil {
		return nil, fmt.Errorf("list stores: %w", err)
	}
	return stores, nil
}
