package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"

	"github.com/frahmantamala/giftcard-fulfillment/internal/analytics"
)

const totalsQuery = `
SELECT
	COUNT(*) AS orders,
	CAST(COALESCE(SUM(CASE WHEN status = 'SUCCESS' THEN 1 ELSE 0 END), 0) AS BIGINT) AS successful,
	CAST(COALESCE(SUM(CASE WHEN status = 'VD_FAILED' THEN 1 ELSE 0 END), 0) AS BIGINT) AS failed,
	CAST(COALESCE(SUM(CASE WHEN status = 'SUCCESS_TEST' THEN 1 ELSE 0 END), 0) AS BIGINT) AS test,
	CAST(COALESCE(SUM(CASE WHEN status = 'PENDING_PAYMENT' THEN 1 ELSE 0 END), 0) AS BIGINT) AS pending,
	CAST(COALESCE(SUM(CASE WHEN needs_review THEN 1 ELSE 0 END), 0) AS BIGINT) AS needs_review,
	CAST(COALESCE(SUM(CASE WHEN status = 'SUCCESS' THEN payable_amount ELSE 0 END), 0) AS BIGINT) AS gmv,
	CAST(COALESCE(SUM(CASE WHEN status = 'SUCCESS' THEN discount_amount ELSE 0 END), 0) AS BIGINT) AS discount,
	CAST(COALESCE(SUM(CASE WHEN status = 'SUCCESS' THEN vendor_cost_amount ELSE 0 END), 0) AS BIGINT) AS vendor_cost
FROM giftcard_orders
WHERE created_at >= ? AND created_at < ?`

const byBrandQuery = `
SELECT
	brand_code,
	MAX(brand_name) AS brand_name,
	COUNT(*) AS orders,
	CAST(COALESCE(SUM(payable_amount), 0) AS BIGINT) AS gmv,
	CAST(COALESCE(SUM(discount_amount), 0) AS BIGINT) AS discount,
	CAST(COALESCE(SUM(vendor_cost_amount), 0) AS BIGINT) AS vendor_cost
FROM giftcard_orders
WHERE status = 'SUCCESS' AND created_at >= ? AND created_at < ?
GROUP BY brand_code
ORDER BY gmv DESC, brand_code ASC`

type AnalyticsRepository struct {
	db *sqlx.DB
}

var _ analytics.RepositoryAPI = (*AnalyticsRepository)(nil)

func NewAnalyticsRepository(db *sqlx.DB) *AnalyticsRepository {
	return &AnalyticsRepository{db: db}
}

func (r *AnalyticsRepository) Totals(ctx context.Context, from, to time.Time) (analytics.Totals, error) {
	var t analytics.Totals
	if err := r.db.GetContext(ctx, &t, r.db.Rebind(totalsQuery), from.UTC(), to.UTC()); err != nil {
		return analytics.Totals{}, fmt.Errorf("totals query: %w", err)
	}
	return t, nil
}

func (r *AnalyticsRepository) ByBrand(ctx context.Context, from, to time.Time) ([]analytics.BrandTotals, error) {
	var rows []analytics.BrandTotals
	if err := r.db.SelectContext(ctx, &rows, r.db.Rebind(byBrandQuery), from.UTC(), to.UTC()); err != nil {
		return nil, fmt.Errorf("by brand query: %w", err)
	}
	return rows, nil
}
