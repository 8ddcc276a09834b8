package postgres

import (
	"context"
	"errors"
	"time"

	"gorm.io/datatypes"
	"gorm.io/gorm"

	"github.com/frahmantamala/giftcard-fulfillment/internal"
	orderDatamodel "github.com/frahmantamala/giftcard-fulfillment/internal/core/datamodel/order"
	orderpkg "github.com/frahmantamala/giftcard-fulfillment/internal/order"
)

var fulfilable = []string{string(orderDatamodel.StatusPendingPayment), string(orderDatamodel.StatusVendorFailed)}

type OrderRepository struct {
	db  *gorm.DB
	now func() time.Time
}

func NewOrderRepository(db *gorm.DB) *OrderRepository {
	return &OrderRepository{db: db, now: time.Now}
}

var _ orderpkg.RepositoryAPI = (*OrderRepository)(nil)

func (r *OrderRepository) Create(ctx context.Context, o *orderDatamodel.Order) error {
	return r.db.WithContext(ctx).Create(o).Error
}

func (r *OrderRepository) GetByID(ctx context.Context, id string) (*orderDatamodel.Order, error) {
	var o orderDatamodel.Order
	err := r.db.WithContext(ctx).Where("id = ?", id).First(&o).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, internal.ErrOrderNotFound
	}
	if err != nil {
		return nil, err
	}
	return &o, nil
}

// ListByOwner includes orders placed before the account was linked, which
// carry no user id and are matched on the buyer email.
func (r *OrderRepository) ListByOwner(ctx context.Context, userID int64, email string, limit, offset int) ([]*orderDatamodel.Order, error) {
	var orders []*orderDatamodel.Order
	q := r.db.WithContext(ctx).Where("user_id = ?", userID)
	if email != "" {
		q = q.Or("user_id IS NULL AND LOWER(buyer_email) = LOWER(?)", email)
	}
	err := q.Order("created_at DESC").Limit(limit).Offset(offset).Find(&orders).Error
	return orders, err
}

func (r *OrderRepository) SetGatewayOrder(ctx context.Context, id, gatewayOrderID string) error {
	return r.db.WithContext(ctx).Model(&orderDatamodel.Order{}).
		Where("id = ?", id).
		Updates(map[string]interface{}{
			"gateway_order_id": gatewayOrderID,
			"updated_at":       r.now(),
		}).Error
}

func (r *OrderRepository) SavePayment(ctx context.Context, id, paymentID, signature string, c orderpkg.Contact) error {
	return r.db.WithContext(ctx).Model(&orderDatamodel.Order{}).
		Where("id = ?", id).
		Updates(map[string]interface{}{
			"gateway_payment_id": paymentID,
			"gateway_signature":  signature,
			"buyer_name":         c.Name,
			"buyer_email":        c.Email,
			"buyer_phone":        c.Phone,
			"address_line":       c.AddressLine,
			"city":               c.City,
			"state":              c.State,
			"pincode":            c.Pincode,
			"updated_at":         r.now(),
		}).Error
}

func (r *OrderRepository) AssignVendorIdentifiers(ctx context.Context, id string, ids orderpkg.VendorIdentifiers) (bool, error) {
	res := r.db.WithContext(ctx).Model(&orderDatamodel.Order{}).
		Where("id = ? AND vendor_order_id = ?", id, "").
		Updates(map[string]interface{}{
			"vendor_order_id":   ids.OrderID,
			"vendor_ref_no":     ids.RefNo,
			"vendor_receipt_no": ids.ReceiptNo,
			"updated_at":        r.now(),
		})
	return res.RowsAffected > 0, res.Error
}

func (r *OrderRepository) ClaimProcessing(ctx context.Context, id string, now, until time.Time) (bool, error) {
	res := r.db.WithContext(ctx).Model(&orderDatamodel.Order{}).
		Where("id = ? AND status IN ? AND (processing_until IS NULL OR processing_until < ?)", id, fulfilable, now.UTC()).
		Updates(map[string]interface{}{
			"processing_until": until.UTC(),
			"updated_at":       now,
		})
	return res.RowsAffected > 0, res.Error
}

func (r *OrderRepository) ReleaseProcessing(ctx context.Context, id string) error {
	return r.db.WithContext(ctx).Model(&orderDatamodel.Order{}).
		Where("id = ?", id).
		Updates(map[string]interface{}{
			"processing_until": gorm.Expr("NULL"),
			"updated_at":       r.now(),
		}).Error
}

func (r *OrderRepository) MarkOutcome(ctx context.Context, id string, out orderpkg.Outcome) (bool, error) {
	updates := map[string]interface{}{
		"status":         string(out.Status),
		"failure_reason": out.FailureReason,
		"needs_review":   out.NeedsReview,
		"updated_at":     r.now(),
	}
	if out.VoucherSealed != nil {
		updates["voucher_sealed"] = *out.VoucherSealed
	}
	if out.VoucherPreview != nil {
		updates["voucher_preview"] = datatypes.JSON(out.VoucherPreview)
	}
	if out.VendorResponse != nil {
		updates["vendor_response"] = datatypes.JSON(out.VendorResponse)
	}
	if out.FulfilledAt != nil {
		updates["fulfilled_at"] = *out.FulfilledAt
	}

	res := r.db.WithContext(ctx).Model(&orderDatamodel.Order{}).
		Where("id = ? AND status IN ?", id, fulfilable).
		Updates(updates)
	return res.RowsAffected > 0, res.Error
}

func (r *OrderRepository) SetFailureReason(ctx context.Context, id, reason string) error {
	return r.db.WithContext(ctx).Model(&orderDatamodel.Order{}).
		Where("id = ?", id).
		Updates(map[string]interface{}{
			"failure_reason": reason,
			"updated_at":     r.now(),
		}).Error
}

func (r *OrderRepository) RecordNotification(ctx context.Context, id string, n orderpkg.NotificationResult) error {
	return r.db.WithContext(ctx).Model(&orderDatamodel.Order{}).
		Where("id = ?", id).
		Updates(map[string]interface{}{
			"notification_sent":       n.Sent,
			"notification_to":         n.To,
			"notification_message_id": n.MessageID,
			"notification_error":      n.Error,
			"updated_at":              r.now(),
		}).Error
}
