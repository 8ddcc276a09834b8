package order

import (
	"strings"
	"time"

	"gorm.io/datatypes"
)

type Status string

const (
	StatusPendingPayment Status = "PENDING_PAYMENT"
	StatusSuccess        Status = "SUCCESS"
	StatusSuccessTest    Status = "SUCCESS_TEST"
	StatusVendorFailed   Status = "VD_FAILED"
)

type Order struct {
	ID     string `gorm:"column:id;primaryKey;size:36"`
	UserID *int64 `gorm:"column:user_id;index"`

	BrandCode          string `gorm:"column:brand_code;not null;index"`
	BrandName          string `gorm:"column:brand_name;not null"`
	UnitAmount         int64  `gorm:"column:unit_amount;not null"`
	Quantity           int    `gorm:"column:quantity;not null"`
	TotalAmount        int64  `gorm:"column:total_amount;not null"`
	DiscountPercentBps int64  `gorm:"column:discount_percent_bps;not null;default:0"`
	DiscountAmount     int64  `gorm:"column:discount_amount;not null;default:0"`
	PayableAmount      int64  `gorm:"column:payable_amount;not null"`
	VendorCostAmount   int64  `gorm:"column:vendor_cost_amount;not null;default:0"`

	BuyerName   string `gorm:"column:buyer_name"`
	BuyerEmail  string `gorm:"column:buyer_email;index"`
	BuyerPhone  string `gorm:"column:buyer_phone"`
	AddressLine string `gorm:"column:address_line"`
	City        string `gorm:"column:city"`
	State       string `gorm:"column:state"`
	Pincode     string `gorm:"column:pincode"`

	GatewayOrderID   *string `gorm:"column:gateway_order_id;uniqueIndex"`
	GatewayPaymentID string  `gorm:"column:gateway_payment_id"`
	GatewaySignature string  `gorm:"column:gateway_signature"`

	VendorOrderID   string `gorm:"column:vendor_order_id;not null;default:''"`
	VendorRefNo     string `gorm:"column:vendor_ref_no;not null;default:''"`
	VendorReceiptNo string `gorm:"column:vendor_receipt_no;not null;default:''"`

	PolicyKey          string `gorm:"column:policy_key;not null"`
	MonthKey           string `gorm:"column:month_key;not null"`
	UserHash           string `gorm:"column:user_hash;not null"`
	EmailHash          string `gorm:"column:email_hash"`
	PhoneHash          string `gorm:"column:phone_hash"`
	SpendAttributed    int64  `gorm:"column:spend_attributed;not null;default:0"`
	DiscountAttributed int64  `gorm:"column:discount_attributed;not null;default:0"`
	UsageCounted       bool   `gorm:"column:usage_counted;not null;default:false"`

	VoucherSealed  *string        `gorm:"column:voucher_sealed"`
	VoucherPreview datatypes.JSON `gorm:"column:voucher_preview"`
	VendorResponse datatypes.JSON `gorm:"column:vendor_response"`
	NeedsReview    bool           `gorm:"column:needs_review;not null;default:false"`

	Status          Status     `gorm:"column:status;not null;index"`
	FailureReason   string     `gorm:"column:failure_reason"`
	ProcessingUntil *time.Time `gorm:"column:processing_until"`
	FulfilledAt     *time.Time `gorm:"column:fulfilled_at"`

	NotificationSent      bool   `gorm:"column:notification_sent;not null;default:false"`
	NotificationTo        string `gorm:"column:notification_to"`
	NotificationMessageID string `gorm:"column:notification_message_id"`
	NotificationError     string `gorm:"column:notification_error"`

	CreatedAt time.Time `gorm:"column:created_at"`
	UpdatedAt time.Time `gorm:"column:updated_at"`
}

func (Order) TableName() string {
	return "giftcard_orders"
}

// IsFulfilled reports whether the order reached a terminal success state.
func (o *Order) IsFulfilled() bool {
	return o.Status == StatusSuccess || o.Status == StatusSuccessTest
}

// CanAttemptFulfilment reports whether a verify call may drive the vendor.
func (o *Order) CanAttemptFulfilment() bool {
	return o.Status == StatusPendingPayment || o.Status == StatusVendorFailed
}

// OwnedBy checks ownership. Orders created before accounts were linked carry
// no user id and are matched on the buyer email instead.
func (o *Order) OwnedBy(userID int64, email string) bool {
	if o.UserID != nil {
		return *o.UserID == userID
	}
	return email != "" && strings.EqualFold(strings.TrimSpace(o.BuyerEmail), strings.TrimSpace(email))
}

func (o *Order) GatewayOrder() string {
	if o.GatewayOrderID == nil {
		return ""
	}
	return *o.GatewayOrderID
}

func (o *Order) HasVendorIdentifiers() bool {
	return o.VendorOrderID != ""
}
