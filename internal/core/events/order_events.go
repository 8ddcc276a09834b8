package events

import (
	"time"

	"github.com/google/uuid"

	"github.com/frahmantamala/giftcard-fulfillment/internal/vault"
)

const (
	EventTypeOrderFulfilled            = "order.fulfilled"
	EventTypeOrderFailed               = "order.failed"
	EventTypeVendorCredentialRefreshed = "vendor.token.refreshed"
)

// OrderFulfilledEvent carries masked vouchers only.
type OrderFulfilledEvent struct {
	BaseEvent
	OrderID   string             `json:"order_id"`
	Status    string             `json:"status"`
	Email     string             `json:"email"`
	Name      string             `json:"name"`
	BrandName string             `json:"brand_name"`
	Payable   int64              `json:"payable_amount"`
	Vouchers  []vault.MaskedCard `json:"vouchers"`
}

func NewOrderFulfilledEvent(orderID, status, email, name, brandName string, payable int64, vouchers []vault.MaskedCard) *OrderFulfilledEvent {
	return &OrderFulfilledEvent{
		BaseEvent: BaseEvent{
			ID:        uuid.New().String(),
			Type:      EventTypeOrderFulfilled,
			Timestamp: time.Now(),
			Data: map[string]interface{}{
				"order_id":       orderID,
				"status":         status,
				"brand_name":     brandName,
				"payable_amount": payable,
				"voucher_count":  len(vouchers),
			},
		},
		OrderID:   orderID,
		Status:    status,
		Email:     email,
		Name:      name,
		BrandName: brandName,
		Payable:   payable,
		Vouchers:  vouchers,
	}
}

type OrderFailedEvent struct {
	BaseEvent
	OrderID     string `json:"order_id"`
	Reason      string `json:"reason"`
	NeedsReview bool   `json:"needs_review"`
}

func NewOrderFailedEvent(orderID, reason string, needsReview bool) *OrderFailedEvent {
	return &OrderFailedEvent{
		BaseEvent: BaseEvent{
			ID:        uuid.New().String(),
			Type:      EventTypeOrderFailed,
			Timestamp: time.Now(),
			Data: map[string]interface{}{
				"order_id":     orderID,
				"reason":       reason,
				"needs_review": needsReview,
			},
		},
		OrderID:     orderID,
		Reason:      reason,
		NeedsReview: needsReview,
	}
}

type VendorCredentialRefreshedEvent struct {
	BaseEvent
	DistributorID string    `json:"distributor_id"`
	ExpiresAt     time.Time `json:"expires_at"`
}

func NewVendorCredentialRefreshedEvent(distributorID string, expiresAt time.Time) *VendorCredentialRefreshedEvent {
	return &VendorCredentialRefreshedEvent{
		BaseEvent: BaseEvent{
			ID:        uuid.New().String(),
			Type:      EventTypeVendorCredentialRefreshed,
			Timestamp: time.Now(),
			Data: map[string]interface{}{
				"distributor_id": distributorID,
				"expires_at":     expiresAt,
			},
		},
		DistributorID: distributorID,
		ExpiresAt:     expiresAt,
	}
}
