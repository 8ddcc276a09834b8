package usage

import "time"

// MonthlyBrandUsage is the per user, per policy, per month counter that the
// monthly caps are enforced against.
type MonthlyBrandUsage struct {
	ID             int64     `gorm:"primaryKey"`
	UserKey        string    `gorm:"column:user_key;not null;uniqueIndex:idx_usage_user_policy_month,priority:1"`
	PolicyKey      string    `gorm:"column:policy_key;not null;uniqueIndex:idx_usage_user_policy_month,priority:2"`
	MonthKey       string    `gorm:"column:month_key;not null;uniqueIndex:idx_usage_user_policy_month,priority:3"`
	SpendAmount    int64     `gorm:"column:spend_amount;not null;default:0"`
	DiscountAmount int64     `gorm:"column:discount_amount;not null;default:0"`
	OrderCount     int       `gorm:"column:order_count;not null;default:0"`
	CreatedAt      time.Time `gorm:"column:created_at"`
	UpdatedAt      time.Time `gorm:"column:updated_at"`
}

func (MonthlyBrandUsage) TableName() string {
	return "monthly_brand_usages"
}
