package order

import (
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/frahmantamala/giftcard-fulfillment/internal/vault"
	vendor "github.com/frahmantamala/giftcard-fulfillment/internal/vendorapi"
)

const mockVoucherLabel = "TEST VOUCHER – NOT REDEEMABLE"

// extractVouchers returns the card objects of an approved issue response.
// The decrypted data is preferred; a plaintext data member is accepted as is.
func extractVouchers(p vendor.Payload) []map[string]any {
	return vault.Cards(p.Value)
}

func mockVouchers(o orderView, now time.Time) []map[string]any {
	cards := make([]map[string]any, 0, o.quantity)
	for i := 0; i < o.quantity; i++ {
		code := strings.ToUpper(strings.ReplaceAll(uuid.NewString(), "-", ""))[:16]
		cards = append(cards, map[string]any{
			"label":      mockVoucherLabel,
			"mock":       true,
			"cardNumber": "TEST" + code,
			"pin":        fmt.Sprintf("%06d", now.Nanosecond()%1_000_000),
			"amount":     FormatMinor(o.unitAmount),
			"expiry":     now.AddDate(0, 0, 30).Format("2006-01-02"),
			"brand":      o.brandName,
		})
	}
	return cards
}

type orderView struct {
	quantity   int
	unitAmount int64
	brandName  string
}
