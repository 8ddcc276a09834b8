// Package catalog mirrors the vendor's brand and store lists locally and
// holds the operator's per-brand customer discount.
package catalog

import (
	"context"

	catalogDatamodel "github.com/frahmantamala/giftcard-fulfillment/internal/core/datamodel/catalog"
	vendor "github.com/frahmantamala/giftcard-fulfillment/internal/vendorapi"
)

type RepositoryAPI interface {
	// UpsertBrands writes vendor fields only; customer_discount_bps is
	// owned by the operator and survives every sync.
	UpsertBrands(ctx context.Context, brands []catalogDatamodel.Brand) error
	UpsertStores(ctx context.Context, stores []catalogDatamodel.Store) error
	ListBrands(ctx context.Context, enabledOnly bool) ([]catalogDatamodel.Brand, error)
	GetBrand(ctx context.Context, code string) (*catalogDatamodel.Brand, error)
	SetCustomerDiscount(ctx context.Context, code string, bps *int64) error
	ListStores(ctx context.Context, brandCode string) ([]catalogDatamodel.Store, error)
}

type VendorAPI interface {
	GetBrands(ctx context.Context, token string) (*vendor.Response, error)
	GetStores(ctx context.Context, token, brandCode string) (*vendor.Response, error)
}

type CredentialProvider interface {
	Get(ctx context.Context, force bool) (string, error)
}

type StoreView struct {
	StoreCode string `json:"store_code"`
	Name      string `json:"name"`
	City      string `json:"city,omitempty"`
	Address   string `json:"address,omitempty"`
}

type SyncResult struct {
	Brands int `json:"brands"`
	Stores int `json:"stores"`
}

// BrandView is the public shape of a brand with its effective discount.
type BrandView struct {
	Code          string  `json:"brand_code"`
	Name          string  `json:"name"`
	BrandType     string  `json:"brand_type"`
	DiscountBps   int64   `json:"discount_bps"`
	Denominations []int64 `json:"denominations,omitempty"`
	MinAmount     int64   `json:"min_amount,omitempty"`
	MaxAmount     int64   `json:"max_amount,omitempty"`
	Description   string  `json:"description,omitempty"`
	ImageURL      string  `json:"image_url,omitempty"`
	Terms         string  `json:"terms,omitempty"`
	Enabled       bool    `json:"enabled"`
}

func NewBrandView(b catalogDatamodel.Brand) BrandView {
	return BrandView{
		Code:          b.Code,
		Name:          b.Name,
		BrandType:     b.BrandType,
		DiscountBps:   b.EffectiveDiscountBps(),
		Denominations: []int64(b.Denominations),
		MinAmount:     b.MinAmount,
		MaxAmount:     b.MaxAmount,
		Description:   b.Description,
		ImageURL:      b.ImageURL,
		Terms:         b.Terms,
		Enabled:       b.Enabled,
	}
}
