// Package order owns the gift-card order lifecycle: pricing and checkout,
// payment verification and voucher fulfilment.
package order

import (
	"context"
	"encoding/json"
	"time"

	"github.com/frahmantamala/giftcard-fulfillment/internal"
	catalogDatamodel "github.com/frahmantamala/giftcard-fulfillment/internal/core/datamodel/catalog"
	orderDatamodel "github.com/frahmantamala/giftcard-fulfillment/internal/core/datamodel/order"
	gatewayDatamodel "github.com/frahmantamala/giftcard-fulfillment/internal/core/datamodel/paymentgateway"
	"github.com/frahmantamala/giftcard-fulfillment/internal/core/events"
	"github.com/frahmantamala/giftcard-fulfillment/internal/quota"
	vendor "github.com/frahmantamala/giftcard-fulfillment/internal/vendorapi"
)

// Outcome is the terminal state written by a verification attempt.
type Outcome struct {
	Status         orderDatamodel.Status
	FailureReason  string
	NeedsReview    bool
	VoucherSealed  *string
	VoucherPreview json.RawMessage
	VendorResponse json.RawMessage
	FulfilledAt    *time.Time
}

type NotificationResult struct {
	Sent      bool
	To        string
	MessageID string
	Error     string
}

type RepositoryAPI interface {
	Create(ctx context.Context, o *orderDatamodel.Order) error
	GetByID(ctx context.Context, id string) (*orderDatamodel.Order, error)
	ListByOwner(ctx context.Context, userID int64, email string, limit, offset int) ([]*orderDatamodel.Order, error)
	SetGatewayOrder(ctx context.Context, id, gatewayOrderID string) error
	SavePayment(ctx context.Context, id, paymentID, signature string, c Contact) error
	// AssignVendorIdentifiers writes ids only if the order has none yet and
	// reports whether this call wrote them.
	AssignVendorIdentifiers(ctx context.Context, id string, ids VendorIdentifiers) (bool, error)
	// ClaimProcessing takes the verification lease when it is free or expired.
	ClaimProcessing(ctx context.Context, id string, now, until time.Time) (bool, error)
	ReleaseProcessing(ctx context.Context, id string) error
	// MarkOutcome moves a fulfilable order to its terminal state. It reports
	// false when the order had already left PENDING_PAYMENT and VD_FAILED.
	MarkOutcome(ctx context.Context, id string, out Outcome) (bool, error)
	SetFailureReason(ctx context.Context, id, reason string) error
	RecordNotification(ctx context.Context, id string, n NotificationResult) error
}

type ServiceAPI interface {
	CreateOrder(ctx context.Context, user *internal.User, dto CreateOrderDTO) (*CreateOrderResponse, error)
	Verify(ctx context.Context, user *internal.User, dto VerifyDTO) (*VerifyResult, error)
	ListOrders(ctx context.Context, user *internal.User, limit, offset int) ([]OrderSummary, error)
	GetOrder(ctx context.Context, user *internal.User, id string) (*OrderDetail, error)
}

type BrandReader interface {
	GetBrand(ctx context.Context, code string) (*catalogDatamodel.Brand, error)
}

type PaymentGateway interface {
	CreateOrder(ctx context.Context, req gatewayDatamodel.OrderRequest) (*gatewayDatamodel.Order, error)
	VerifySignature(gatewayOrderID, paymentID, signature string) bool
	KeyID() string
}

type QuotaService interface {
	Check(ctx context.Context, r quota.Reservation) error
	Reserve(ctx context.Context, r quota.Reservation) error
	Release(ctx context.Context, orderID string) error
}

type CredentialProvider interface {
	Get(ctx context.Context, force bool) (string, error)
}

type VoucherIssuer interface {
	IssueVoucher(ctx context.Context, token, orderID string, req vendor.IssueRequest) (*vendor.Response, error)
}

type Sealer interface {
	Seal(v any) (string, error)
	Open(s string, out any) bool
}

type EventPublisher interface {
	Publish(ctx context.Context, event events.Event) error
}
