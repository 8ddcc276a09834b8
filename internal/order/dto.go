package order

import (
	"time"

	"github.com/frahmantamala/giftcard-fulfillment/internal"
	"github.com/frahmantamala/giftcard-fulfillment/internal/core/common/validation"
	"github.com/frahmantamala/giftcard-fulfillment/internal/vault"
)

type CreateOrderDTO struct {
	BrandCode    string   `json:"brand_code"`
	Denomination int64    `json:"denomination"`
	Quantity     int      `json:"quantity"`
	Contact      *Contact `json:"contact,omitempty"`
}

func (dto CreateOrderDTO) Validate(maxQuantity int) error {
	v := validation.NewValidator()
	v.Field("brand_code", dto.BrandCode).Required().MaxLength(64)
	v.Field("denomination", dto.Denomination).Required().MinInt(1, internal.ErrCodeInvalidAmount)
	v.Field("quantity", dto.Quantity).MinInt(1, internal.ErrCodeInvalidQuantity).MaxInt(int64(maxQuantity), internal.ErrCodeInvalidQuantity)
	if dto.Contact != nil {
		v.Field("contact.email", dto.Contact.Email).Email(internal.ErrCodeMissingContact)
		v.Field("contact.phone", dto.Contact.Phone).Digits(10, internal.ErrCodeMissingContact)
	}
	if err := v.Validate(); err != nil {
		return err
	}
	return nil
}

type VerifyDTO struct {
	OrderID        string   `json:"-"`
	GatewayOrderID string   `json:"gateway_order_id"`
	PaymentID      string   `json:"payment_id"`
	Signature      string   `json:"signature"`
	Contact        *Contact `json:"contact,omitempty"`
}

func (dto VerifyDTO) Validate() error {
	v := validation.NewValidator()
	v.Field("order_id", dto.OrderID).Required()
	v.Field("payment_id", dto.PaymentID).Required().MaxLength(128)
	v.Field("signature", dto.Signature).Required().MaxLength(256)
	if err := v.Validate(); err != nil {
		return err
	}
	return nil
}

type CreateOrderResponse struct {
	OrderID        string `json:"order_id"`
	GatewayOrderID string `json:"gateway_order_id"`
	GatewayKeyID   string `json:"gateway_key_id"`
	Currency       string `json:"currency"`
	Total          int64  `json:"total_amount"`
	DiscountBps    int64  `json:"discount_bps"`
	Discount       int64  `json:"discount_amount"`
	Payable        int64  `json:"payable_amount"`
	Policy         string `json:"policy"`
	UPIOnly        bool   `json:"upi_only"`
}

// VerifyResult is the body returned by verify. Failures carry the vendor
// summary in Message but never voucher content.
type VerifyResult struct {
	Success     bool               `json:"success"`
	Status      string             `json:"status"`
	Message     string             `json:"message"`
	OrderID     string             `json:"order_id"`
	NeedsReview bool               `json:"needs_review,omitempty"`
	Vouchers    []vault.MaskedCard `json:"vouchers,omitempty"`
}

type OrderSummary struct {
	ID          string             `json:"id"`
	BrandCode   string             `json:"brand_code"`
	BrandName   string             `json:"brand_name"`
	UnitAmount  int64              `json:"unit_amount"`
	Quantity    int                `json:"quantity"`
	Total       int64              `json:"total_amount"`
	Discount    int64              `json:"discount_amount"`
	Payable     int64              `json:"payable_amount"`
	Status      string             `json:"status"`
	NeedsReview bool               `json:"needs_review,omitempty"`
	Vouchers    []vault.MaskedCard `json:"vouchers,omitempty"`
	CreatedAt   time.Time          `json:"created_at"`
}

// OrderDetail adds the opened vouchers for the owner of a fulfilled order.
type OrderDetail struct {
	OrderSummary
	FailureReason string           `json:"failure_reason,omitempty"`
	Cards         []map[string]any `json:"cards,omitempty"`
	FulfilledAt   *time.Time       `json:"fulfilled_at,omitempty"`
}
