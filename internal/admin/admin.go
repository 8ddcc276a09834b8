// Package admin exposes the operator-only endpoints: forced credential
// refresh, catalog sync, discount overrides, analytics and vendor call logs.
package admin

import (
	"context"
	"time"

	"github.com/frahmantamala/giftcard-fulfillment/internal/analytics"
	"github.com/frahmantamala/giftcard-fulfillment/internal/catalog"
	vendorlogDatamodel "github.com/frahmantamala/giftcard-fulfillment/internal/core/datamodel/vendorlog"
)

type CredentialAPI interface {
	Get(ctx context.Context, force bool) (string, error)
	Remaining(ctx context.Context) (time.Duration, error)
}

type CatalogAPI interface {
	Sync(ctx context.Context) (*catalog.SyncResult, error)
	SetCustomerDiscount(ctx context.Context, code string, bps *int64) (*catalog.BrandView, error)
}

type AnalyticsAPI interface {
	Summary(ctx context.Context, from, to time.Time) (*analytics.Summary, error)
}

type CallLogAPI interface {
	ListByOrder(ctx context.Context, orderID string, limit int) ([]*vendorlogDatamodel.VendorCallLog, error)
}

type TokenRefreshResponse struct {
	Refreshed        bool      `json:"refreshed"`
	ExpiresAt        time.Time `json:"expires_at"`
	RemainingSeconds int64     `json:"remaining_seconds"`
}

type DiscountDTO struct {
	DiscountBps *int64 `json:"discount_bps"`
}

// CallLogView is the triage view of a vendor call. Decrypted payloads are
// left out because they carry voucher codes.
type CallLogView struct {
	ID             int64     `json:"id"`
	Endpoint       string    `json:"endpoint"`
	OrderID        string    `json:"order_id"`
	RequestHeaders any       `json:"request_headers,omitempty"`
	StatusCode     int       `json:"status_code"`
	Outcome        string    `json:"outcome"`
	Error          string    `json:"error,omitempty"`
	DurationMs     int64     `json:"duration_ms"`
	CreatedAt      time.Time `json:"created_at"`
}

func NewCallLogView(l *vendorlogDatamodel.VendorCallLog) CallLogView {
	v := CallLogView{
		ID:         l.ID,
		Endpoint:   l.Endpoint,
		OrderID:    l.OrderID,
		StatusCode: l.StatusCode,
		Outcome:    l.Outcome,
		Error:      l.Error,
		DurationMs: l.DurationMs,
		CreatedAt:  l.CreatedAt,
	}
	if len(l.RequestHeaders) > 0 {
		v.RequestHeaders = l.RequestHeaders
	}
	return v
}
