// Package analytics reports read-only sales figures for operators.
package analytics

import (
	"context"
	"time"
)

type Totals struct {
	Orders      int64 `db:"orders" json:"orders"`
	Successful  int64 `db:"successful" json:"successful"`
	Failed      int64 `db:"failed" json:"failed"`
	Test        int64 `db:"test" json:"test"`
	Pending     int64 `db:"pending" json:"pending"`
	NeedsReview int64 `db:"needs_review" json:"needs_review"`
	GMV         int64 `db:"gmv" json:"gmv"`
	Discount    int64 `db:"discount" json:"discount"`
	VendorCost  int64 `db:"vendor_cost" json:"vendor_cost"`
}

type BrandTotals struct {
	BrandCode  string `db:"brand_code" json:"brand_code"`
	BrandName  string `db:"brand_name" json:"brand_name"`
	Orders     int64  `db:"orders" json:"orders"`
	GMV        int64  `db:"gmv" json:"gmv"`
	Discount   int64  `db:"discount" json:"discount"`
	VendorCost int64  `db:"vendor_cost" json:"vendor_cost"`
	Margin     int64  `db:"-" json:"margin"`
}

// Summary covers orders created in [From, To). Money figures count
// fulfilled live orders only.
type Summary struct {
	From    time.Time     `json:"from"`
	To      time.Time     `json:"to"`
	Totals
	Margin  int64         `json:"margin"`
	ByBrand []BrandTotals `json:"by_brand"`
}

type RepositoryAPI interface {
	Totals(ctx context.Context, from, to time.Time) (Totals, error)
	ByBrand(ctx context.Context, from, to time.Time) ([]BrandTotals, error)
}
