package postgres

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"gorm.io/datatypes"
	"gorm.io/gorm"

	vendorlogDatamodel "github.com/frahmantamala/giftcard-fulfillment/internal/core/datamodel/vendorlog"
	vendor "github.com/frahmantamala/giftcard-fulfillment/internal/vendorapi"
)

// CallLogRepository stores the vendor call audit trail.
type CallLogRepository struct {
	db     *gorm.DB
	logger *slog.Logger
}

func NewCallLogRepository(db *gorm.DB, logger *slog.Logger) *CallLogRepository {
	return &CallLogRepository{db: db, logger: logger}
}

// LogCall never fails the caller; audit write errors are only logged.
func (r *CallLogRepository) LogCall(ctx context.Context, rec vendor.CallRecord) {
	row := &vendorlogDatamodel.VendorCallLog{
		Endpoint:       rec.Endpoint,
		OrderID:        rec.OrderID,
		RequestHeaders: toJSON(rec.RequestHeaders),
		RequestBody:    rec.RequestBody,
		StatusCode:     rec.StatusCode,
		RawResponse:    rec.RawResponse,
		DecryptedText:  rec.DecryptedText,
		DecryptedJSON:  toJSON(rec.DecryptedJSON),
		Outcome:        string(rec.Outcome),
		Error:          rec.Error,
		DurationMs:     rec.Duration.Milliseconds(),
	}
	if err := r.db.WithContext(ctx).Create(row).Error; err != nil {
		r.logger.Error("failed to write vendor call log", "endpoint", rec.Endpoint, "order_id", rec.OrderID, "error", err)
	}
}

func (r *CallLogRepository) ListByOrder(ctx context.Context, orderID string, limit int) ([]*vendorlogDatamodel.VendorCallLog, error) {
	if limit <= 0 || limit > 200 {
		limit = 50
	}
	var logs []*vendorlogDatamodel.VendorCallLog
	err := r.db.WithContext(ctx).
		Where("order_id = ?", orderID).
		Order("created_at DESC, id DESC").
		Limit(limit).
		Find(&logs).Error
	if err != nil {
		return nil, fmt.Errorf("list vendor call logs: %w", err)
	}
	return logs, nil
}

func toJSON(v any) datatypes.JSON {
	if v == nil {
		return nil
	}
	b, err := json.Marshal(v)
	if err != nil {
		return nil
	}
	return datatypes.JSON(b)
}
