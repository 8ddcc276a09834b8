package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"gorm.io/gorm"

	usageDatamodel "github.com/frahmantamala/giftcard-fulfillment/internal/core/datamodel/usage"
	"github.com/frahmantamala/giftcard-fulfillment/internal/quota"
)

// The WHERE clause of the conflict branch is what makes the cap atomic:
// concurrent reservations for the same bucket serialise on the row and the
// loser sees zero affected rows.
const reserveUpsert = `
INSERT INTO monthly_brand_usages
	(user_key, policy_key, month_key, spend_amount, discount_amount, order_count, created_at, updated_at)
VALUES (?, ?, ?, ?, ?, 1, ?, ?)
ON CONFLICT (user_key, policy_key, month_key) DO UPDATE SET
	spend_amount = monthly_brand_usages.spend_amount + excluded.spend_amount,
	discount_amount = monthly_brand_usages.discount_amount + excluded.discount_amount,
	order_count = monthly_brand_usages.order_count + 1,
	updated_at = excluded.updated_at
WHERE (CAST(? AS BIGINT) = 0 OR monthly_brand_usages.spend_amount + excluded.spend_amount <= ?)
	AND (CAST(? AS BIGINT) = 0 OR monthly_brand_usages.discount_amount + excluded.discount_amount <= ?)`

const releaseUsage = `
UPDATE monthly_brand_usages SET
	spend_amount = CASE WHEN spend_amount >= ? THEN spend_amount - ? ELSE 0 END,
	discount_amount = CASE WHEN discount_amount >= ? THEN discount_amount - ? ELSE 0 END,
	order_count = CASE WHEN order_count > 0 THEN order_count - 1 ELSE 0 END,
	updated_at = ?
WHERE user_key = ? AND policy_key = ? AND month_key = ?`

type UsageRepository struct {
	db  *gorm.DB
	now func() time.Time
}

func NewUsageRepository(db *gorm.DB) *UsageRepository {
	return &UsageRepository{db: db, now: time.Now}
}

type attribution struct {
	UserHash           string
	PolicyKey          string
	MonthKey           string
	SpendAttributed    int64
	DiscountAttributed int64
}

func (r *UsageRepository) Reserve(ctx context.Context, res quota.Reservation) (bool, error) {
	counted := true
	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		now := r.now().UTC()

		flip := tx.Exec(
			`UPDATE giftcard_orders SET usage_counted = ?, spend_attributed = ?, discount_attributed = ?, updated_at = ? WHERE id = ? AND usage_counted = ?`,
			true, res.Spend, res.Discount, now, res.OrderID, false,
		)
		if flip.Error != nil {
			return fmt.Errorf("mark order usage counted: %w", flip.Error)
		}
		if flip.RowsAffected == 0 {
			var n int64
			if err := tx.Table("giftcard_orders").Where("id = ?", res.OrderID).Count(&n).Error; err != nil {
				return fmt.Errorf("check order: %w", err)
			}
			if n == 0 {
				return quota.ErrOrderNotFound
			}
			counted = false
			return nil
		}

		up := tx.Exec(reserveUpsert,
			res.UserKey, string(res.PolicyKey), res.MonthKey, res.Spend, res.Discount, now, now,
			res.Policy.MonthlySpendCap, res.Policy.MonthlySpendCap,
			res.Policy.MonthlyDiscountCap, res.Policy.MonthlyDiscountCap,
		)
		if up.Error != nil {
			return fmt.Errorf("upsert usage: %w", up.Error)
		}
		if up.RowsAffected == 0 {
			return quota.ErrQuotaExceeded
		}
		return nil
	})
	if err != nil {
		return false, err
	}
	return counted, nil
}

func (r *UsageRepository) Release(ctx context.Context, orderID string) (bool, error) {
	released := false
	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		now := r.now().UTC()

		flip := tx.Exec(
			`UPDATE giftcard_orders SET usage_counted = ?, updated_at = ? WHERE id = ? AND usage_counted = ?`,
			false, now, orderID, true,
		)
		if flip.Error != nil {
			return fmt.Errorf("mark order usage released: %w", flip.Error)
		}
		if flip.RowsAffected == 0 {
			return nil
		}

		var a attribution
		err := tx.Table("giftcard_orders").
			Select("user_hash, policy_key, month_key, spend_attributed, discount_attributed").
			Where("id = ?", orderID).
			Take(&a).Error
		if err != nil {
			return fmt.Errorf("read order attribution: %w", err)
		}

		dec := tx.Exec(releaseUsage,
			a.SpendAttributed, a.SpendAttributed,
			a.DiscountAttributed, a.DiscountAttributed,
			now, a.UserHash, a.PolicyKey, a.MonthKey,
		)
		if dec.Error != nil {
			return fmt.Errorf("decrement usage: %w", dec.Error)
		}
		released = true
		return nil
	})
	if err != nil {
		return false, err
	}
	return released, nil
}

func (r *UsageRepository) Usage(ctx context.Context, userKey string, policy quota.PolicyKey, month string) (quota.Usage, error) {
	var row usageDatamodel.MonthlyBrandUsage
	err := r.db.WithContext(ctx).
		Where("user_key = ? AND policy_key = ? AND month_key = ?", userKey, string(policy), month).
		Take(&row).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return quota.Usage{}, nil
	}
	if err != nil {
		return quota.Usage{}, fmt.Errorf("read usage: %w", err)
	}
	return quota.Usage{Spend: row.SpendAmount, Discount: row.DiscountAmount, Orders: row.OrderCount}, nil
}
